package persistence

import (
	"github.com/VictoriaMetrics/metrics"
)

// engineMetrics holds the engine's VictoriaMetrics instruments
type engineMetrics struct {
	appends        *metrics.Counter
	appendBytes    *metrics.Counter
	appendFailures *metrics.Counter
	batchSize      *metrics.Histogram
	fsyncDuration  *metrics.Histogram

	compactions        *metrics.Counter
	compactionFailures *metrics.Counter
	compactionDuration *metrics.Histogram
	snapshots          *metrics.Counter

	recoveredEntries *metrics.Counter
	recoveredRecords *metrics.Counter
	discardedBytes   *metrics.Counter
}

// newEngineMetrics registers the engine metrics in set. Gauges read the
// engine state when the set is scraped.
func newEngineMetrics(set *metrics.Set, e *Engine) *engineMetrics {
	set.GetOrCreateGauge("mapdb_log_bytes", func() float64 {
		return float64(e.logBytes.Load())
	})
	set.GetOrCreateGauge("mapdb_snapshot_bytes", func() float64 {
		return float64(e.snapshotBytes.Load())
	})
	set.GetOrCreateGauge("mapdb_last_seq", func() float64 {
		return float64(e.lastSeq.Load())
	})
	set.GetOrCreateGauge("mapdb_write_queue_length", func() float64 {
		return float64(e.queue.Len())
	})

	return &engineMetrics{
		appends:        set.GetOrCreateCounter("mapdb_log_appends_total"),
		appendBytes:    set.GetOrCreateCounter("mapdb_log_bytes_total"),
		appendFailures: set.GetOrCreateCounter("mapdb_log_append_failures_total"),
		batchSize:      set.GetOrCreateHistogram("mapdb_log_batch_records"),
		fsyncDuration:  set.GetOrCreateHistogram("mapdb_fsync_duration_seconds"),

		compactions:        set.GetOrCreateCounter("mapdb_compactions_total"),
		compactionFailures: set.GetOrCreateCounter("mapdb_compaction_failures_total"),
		compactionDuration: set.GetOrCreateHistogram("mapdb_compaction_duration_seconds"),
		snapshots:          set.GetOrCreateCounter("mapdb_snapshots_written_total"),

		recoveredEntries: set.GetOrCreateCounter("mapdb_recovered_snapshot_entries_total"),
		recoveredRecords: set.GetOrCreateCounter("mapdb_recovered_log_records_total"),
		discardedBytes:   set.GetOrCreateCounter("mapdb_discarded_log_bytes_total"),
	}
}
