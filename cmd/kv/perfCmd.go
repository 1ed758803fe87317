package kv

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ValentinKolb/mapdb/cmd/util"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for a mapdb database",
		Long:    "Runs parallel benchmarks of the map operations against the map selected with --map. Written keys are removed again afterwards.",
		Args:    cobra.NoArgs,
		PreRunE: processPerfConfig,
		RunE:    withStore(run),
	}
	perfKeyPrefix        = "__test"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfSkip             = make([]string, 0)
)

func init() {
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. insert,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the insert-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = viper.GetInt("threads")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	if viper.GetBool("set") {
		return fmt.Errorf("perf runs against string maps, not sets")
	}
	return nil
}

// benchmark describes one parallel benchmark. setup runs before the timer
// starts, op is called with an increasing counter per goroutine.
type benchmark struct {
	name  string
	setup bool
	op    func(ctx context.Context, key string) error
}

func run(ctx context.Context, _ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for mapdb")

	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Print(database.Options().String())
	fmt.Printf("\nThreads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("starting tests...")

	largeValue := strings.Repeat("x", perfLargeValueSizeKB*1024)

	benchmarks := []benchmark{
		{name: "insert", op: func(ctx context.Context, key string) error {
			_, _, err := strMap.Insert(ctx, key, "test")
			return err
		}},
		{name: "insert-large", op: func(ctx context.Context, key string) error {
			_, _, err := strMap.Insert(ctx, key, largeValue)
			return err
		}},
		{name: "insert-async", op: func(ctx context.Context, key string) error {
			// fire without waiting, the next call shares the group commit
			f := strMap.InsertAsync(ctx, key, "test")
			select {
			case <-f.Done():
				_, err := f.Wait(ctx)
				return err
			default:
				return nil
			}
		}},
		{name: "get", setup: true, op: func(ctx context.Context, key string) error {
			_, _, err := strMap.Get(ctx, key)
			return err
		}},
		{name: "remove", setup: true, op: func(ctx context.Context, key string) error {
			_, _, err := strMap.Remove(ctx, key)
			return err
		}},
		{name: "contains", setup: true, op: func(ctx context.Context, key string) error {
			_, err := strMap.Contains(ctx, key)
			return err
		}},
		{name: "contains-not", op: func(ctx context.Context, key string) error {
			_, err := strMap.Contains(ctx, key+"-not")
			return err
		}},
		{name: "mixed", setup: true},
	}

	results := make(map[string]testing.BenchmarkResult)
	for _, bm := range benchmarks {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		result := runBenchmark(ctx, bm)
		results[bm.name] = result
		printResult(bm.name, result)
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return fmt.Errorf("failed to export results to CSV: %w", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

func runBenchmark(ctx context.Context, bm benchmark) testing.BenchmarkResult {
	return testing.Benchmark(func(b *testing.B) {
		if shouldSkip(bm.name) {
			return
		}

		getKey, iter := getKeys(bm.name)

		if bm.setup {
			iter(func(k string) {
				if _, _, err := strMap.Insert(ctx, k, "test"); err != nil {
					log.Printf("(%s) - error inserting key: %v\n", bm.name, err)
				}
			})
		}

		b.Cleanup(func() {
			iter(func(k string) {
				if _, _, err := strMap.Remove(ctx, k); err != nil {
					log.Printf("(%s) - error removing key: %v\n", bm.name, err)
				}
			})
		})

		op := bm.op
		if op == nil {
			op = mixedOp()
		}

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				if err := op(ctx, getKey(counter)); err != nil {
					log.Printf("(%s) - error: %v\n", bm.name, err)
				}
				counter++
			}
		})
	})
}

// mixedOp cycles through insert, get, remove and contains
func mixedOp() func(ctx context.Context, key string) error {
	var n atomicCounter
	return func(ctx context.Context, key string) error {
		var err error
		switch n.next() % 4 {
		case 0:
			_, _, err = strMap.Insert(ctx, key, "test")
		case 1:
			_, _, err = strMap.Get(ctx, key)
		case 2:
			_, _, err = strMap.Remove(ctx, key)
		case 3:
			_, err = strMap.Contains(ctx, key)
		}
		return err
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// creates an array of test keys and functions to work with them
func getKeys(prefix string) (func(int) string, func(func(string))) {
	keys := make([]string, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i)
	}

	// Function to get a key by index (with wraparound)
	getKey := func(i int) string {
		return keys[i%perfKeySpread]
	}

	// Function to iterate over all keys and apply a function to each
	iterateKeys := func(fn func(string)) {
		for _, key := range keys {
			fn(key)
		}
	}

	return getKey, iterateKeys
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	opts := database.Options()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Path", "Shards", "MaxBatch", "Compression",
		"Threads", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for test, result := range results {
		var nsPerOp float64
		var opsPerSec float64
		skipped := "true"

		if result.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			database.Path(),
			strconv.Itoa(opts.NumShards),
			strconv.Itoa(opts.MaxBatch),
			opts.SnapshotCompression.String(),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %w", test, err)
		}
	}

	return nil
}

type atomicCounter struct {
	n atomic.Uint64
}

func (c *atomicCounter) next() uint64 {
	return c.n.Add(1) - 1
}
