package util

import (
	"math"
	"testing"
)

func TestNewStats(t *testing.T) {
	s := NewStats([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if s.Mean != 5 || s.StdDeviation != 2 || s.Min != 2 || s.Max != 9 {
		t.Errorf("unexpected stats %+v", s)
	}
	if (NewStats(nil) != Stats{}) {
		t.Errorf("expected zero stats for empty input")
	}
}

func TestDistributionQuality(t *testing.T) {
	even := NewDistributionStats([]int{10, 10, 10, 10})
	if even.DistributionQuality != 1 {
		t.Errorf("expected perfect quality, got %f", even.DistributionQuality)
	}
	skewed := NewDistributionStats([]int{0, 0, 0, 40})
	if skewed.DistributionQuality >= 0.5 {
		t.Errorf("expected poor quality, got %f", skewed.DistributionQuality)
	}
	if empty := NewDistributionStats([]int{0, 0}); empty.DistributionQuality != 1 {
		t.Errorf("expected empty index to count as balanced")
	}
}

func TestSizeHistogram(t *testing.T) {
	h := NewSizeHistogram()
	for i := 0; i < 90; i++ {
		h.Add(10)
	}
	for i := 0; i < 10; i++ {
		h.Add(100_000)
	}

	if h.Count() != 100 {
		t.Errorf("expected 100 samples, got %d", h.Count())
	}
	if h.Percentile(50) != 8 {
		t.Errorf("expected median in first bucket, got %d", h.Percentile(50))
	}
	if p := h.Percentile(99); p < 64<<10 || p > 256<<10 {
		t.Errorf("expected p99 in the 64K-256K bucket, got %d", p)
	}

	h.Remove(100_000)
	if h.Count() != 99 || h.Sum() != 90*10+9*100_000 {
		t.Errorf("remove did not take back the sample: count=%d sum=%d", h.Count(), h.Sum())
	}
	if h.Percentile(101) != 0 {
		t.Errorf("expected 0 for invalid percentile")
	}
}

func TestHashKeySeparatesMapAndKey(t *testing.T) {
	seed := GenerateSeed()
	if HashKey("ab", []byte("c"), seed) == HashKey("a", []byte("bc"), seed) {
		t.Errorf("expected different hashes for different (map, key) splits")
	}
	if HashKey("m", []byte("k"), 1) == HashKey("m", []byte("k"), 2) {
		t.Errorf("expected seed to change the hash")
	}
}

func TestShardForCoversAllShards(t *testing.T) {
	const n = 16
	seen := make(map[int]int)
	seed := GenerateSeed()
	for i := 0; i < 10_000; i++ {
		key := []byte{byte(i), byte(i >> 8)}
		s := ShardFor(HashKey("map", key, seed), n)
		if s < 0 || s >= n {
			t.Fatalf("shard %d out of range", s)
		}
		seen[s]++
	}
	if len(seen) != n {
		t.Errorf("expected all %d shards to be used, got %d", n, len(seen))
	}
	sizes := make([]int, 0, n)
	for _, c := range seen {
		sizes = append(sizes, c)
	}
	if q := NewDistributionStats(sizes).DistributionQuality; math.IsNaN(q) || q < 0.7 {
		t.Errorf("poor shard distribution quality %f", q)
	}
}
