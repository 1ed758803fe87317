package util

import (
	"math"
	"sync/atomic"
)

// ----------------------------------------------------------------------------
// Summary statistics
// ----------------------------------------------------------------------------

type Stats struct {
	StdDeviation float64 `json:"std_deviation"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	MinMaxRatio  float64 `json:"min_max_ratio"`
}

// NewStats computes the population standard deviation, minimum, maximum and
// mean of values
func NewStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	lo, hi, sum := values[0], values[0], 0.0
	for _, v := range values {
		sum += v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}

	ratio := 1.0
	if hi > 0 {
		ratio = lo / hi
	}

	return Stats{
		StdDeviation: math.Sqrt(sq / float64(len(values))),
		Min:          lo,
		Max:          hi,
		Mean:         mean,
		MinMaxRatio:  ratio,
	}
}

type DistributionStats struct {
	Stats
	// DistributionQuality is 1.0 for a perfectly even distribution and
	// approaches 0 the more skewed the shards are
	DistributionQuality float64 `json:"distribution_quality"`
}

// NewDistributionStats rates how evenly entries are spread over shards
func NewDistributionStats(shardSizes []int) DistributionStats {
	values := make([]float64, len(shardSizes))
	for i, s := range shardSizes {
		values[i] = float64(s)
	}
	stats := NewStats(values)

	// an empty index is perfectly balanced
	if stats.Max == 0 {
		return DistributionStats{Stats: stats, DistributionQuality: 1}
	}

	var cv float64
	if stats.Mean > 0 {
		cv = stats.StdDeviation / stats.Mean
	}

	return DistributionStats{
		Stats:               stats,
		DistributionQuality: (1.0-math.Min(1.0, cv))*0.5 + stats.MinMaxRatio*0.5,
	}
}

// ----------------------------------------------------------------------------
// SizeHistogram
// ----------------------------------------------------------------------------

// sizeBoundaries are the upper bounds of the histogram buckets (powers of 4
// from 16 B to 4 GiB); a last bucket holds everything larger
var sizeBoundaries = [...]int64{
	16, 64, 256, 1 << 10, 4 << 10, 16 << 10, 64 << 10, 256 << 10,
	1 << 20, 4 << 20, 16 << 20, 64 << 20, 256 << 20, 1 << 30, 4 << 30,
}

// SizeHistogram tracks the distribution of entry sizes with exponential buckets.
// All methods are lock free and safe for concurrent use.
type SizeHistogram struct {
	buckets [len(sizeBoundaries) + 1]atomic.Int64
	count   atomic.Int64
	sum     atomic.Int64
}

// NewSizeHistogram creates an empty histogram
func NewSizeHistogram() *SizeHistogram {
	return &SizeHistogram{}
}

// Add records a sample
func (h *SizeHistogram) Add(size int) {
	h.adjust(size, 1)
}

// Remove takes back a sample previously recorded with Add
func (h *SizeHistogram) Remove(size int) {
	h.adjust(size, -1)
}

func (h *SizeHistogram) adjust(size int, delta int64) {
	i := len(sizeBoundaries)
	for b, bound := range sizeBoundaries {
		if int64(size) <= bound {
			i = b
			break
		}
	}
	h.buckets[i].Add(delta)
	h.count.Add(delta)
	h.sum.Add(delta * int64(size))
}

// Count returns the number of recorded samples
func (h *SizeHistogram) Count() int64 {
	return h.count.Load()
}

// Sum returns the sum of all recorded samples
func (h *SizeHistogram) Sum() int64 {
	return h.sum.Load()
}

// Average returns the mean sample size
func (h *SizeHistogram) Average() int64 {
	n := h.count.Load()
	if n <= 0 {
		return 0
	}
	return h.sum.Load() / n
}

// Percentile estimates the given percentile (0-100) as the midpoint of the
// bucket it falls into
func (h *SizeHistogram) Percentile(p int) int64 {
	n := h.count.Load()
	if n <= 0 || p < 0 || p > 100 {
		return 0
	}

	target := int64(math.Ceil(float64(n) * float64(p) / 100.0))
	var cum int64
	for i := range h.buckets {
		cum += h.buckets[i].Load()
		if cum < target {
			continue
		}
		switch {
		case i == 0:
			return sizeBoundaries[0] / 2
		case i < len(sizeBoundaries):
			return (sizeBoundaries[i-1] + sizeBoundaries[i]) / 2
		default:
			return sizeBoundaries[len(sizeBoundaries)-1] * 2
		}
	}
	return h.Average()
}
