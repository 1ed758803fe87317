package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/ValentinKolb/mapdb/lib/events"
	"github.com/ValentinKolb/mapdb/lib/persistence"
	"github.com/ValentinKolb/mapdb/lib/vfs"
)

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Options configures a database. Zero values are replaced by the defaults.
type Options struct {
	// Open behavior
	CreateIfMissing bool // Create the directory if it does not exist
	ErrorIfExists   bool // Fail if the directory already holds a database

	// Index
	NumShards   int    // Number of index shards
	HashSeed    uint64 // Seed of the shard hash (0 = random per open)
	Capacity    int    // Expected number of entries, used to presize the index
	MemoryLimit int64  // Upper bound of the in-memory footprint in bytes (0 = unlimited)

	// Log
	MaxBatch      int // Maximum number of requests per group commit
	IOConcurrency int // Maximum number of snapshots written in parallel

	// Compaction
	CompactionLogMultiple   int           // Compact once the log is this many times larger than the snapshots
	CompactionMinLogBytes   int64         // ... but never below this log size
	CompactionInterval      time.Duration // Also compact after this much time (0 = off)
	CompactionMinGap        time.Duration // Minimum time between automatic compactions
	CompactionCheckInterval time.Duration // How often the trigger is checked
	SnapshotCompression     persistence.Compression

	// Collaborators
	EventSink  events.Sink    // Receives structured events (nil = discard)
	Metrics    *metrics.Set   // Metrics are registered here (nil = a private set)
	FileSystem vfs.FileSystem // File system (nil = local disk)
}

// DefaultOptions returns the default options
func DefaultOptions() *Options {
	p := persistence.DefaultOptions("")
	return &Options{
		CreateIfMissing:         true,
		NumShards:               64,
		MaxBatch:                p.MaxBatch,
		IOConcurrency:           p.IOConcurrency,
		CompactionLogMultiple:   p.CompactionLogMultiple,
		CompactionMinLogBytes:   p.CompactionMinLogBytes,
		CompactionInterval:      p.CompactionInterval,
		CompactionMinGap:        p.CompactionMinGap,
		CompactionCheckInterval: p.CompactionCheckInterval,
		SnapshotCompression:     p.Compression,
		EventSink:               events.Nop,
		FileSystem:              vfs.Default,
	}
}

// withDefaults returns a copy with collaborators filled in
func (o Options) withDefaults() Options {
	if o.EventSink == nil {
		o.EventSink = events.Nop
	}
	if o.Metrics == nil {
		o.Metrics = metrics.NewSet()
	}
	if o.FileSystem == nil {
		o.FileSystem = vfs.Default
	}
	return o
}

// engineOptions converts the options for the persistence engine
func (o Options) engineOptions(dir string) persistence.Options {
	return persistence.Options{
		Dir:                     dir,
		FileSystem:              o.FileSystem,
		MaxBatch:                o.MaxBatch,
		IOConcurrency:           o.IOConcurrency,
		Compression:             o.SnapshotCompression,
		CompactionLogMultiple:   o.CompactionLogMultiple,
		CompactionMinLogBytes:   o.CompactionMinLogBytes,
		CompactionInterval:      o.CompactionInterval,
		CompactionMinGap:        o.CompactionMinGap,
		CompactionCheckInterval: o.CompactionCheckInterval,
		Events:                  o.EventSink,
		Metrics:                 o.Metrics,
	}
}

// String returns a formatted string representation of the options
func (o Options) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	optional := func(v int64, unit string) string {
		if v <= 0 {
			return "off"
		}
		return fmt.Sprintf("%d %s", v, unit)
	}

	addSection("Open")
	addField("Create If Missing", fmt.Sprintf("%t", o.CreateIfMissing))
	addField("Error If Exists", fmt.Sprintf("%t", o.ErrorIfExists))

	addSection("Index")
	addField("Shards", fmt.Sprintf("%d", o.NumShards))
	if o.HashSeed == 0 {
		addField("Hash Seed", "random")
	} else {
		addField("Hash Seed", fmt.Sprintf("%#x", o.HashSeed))
	}
	addField("Capacity", optional(int64(o.Capacity), "entries"))
	addField("Memory Limit", optional(o.MemoryLimit, "bytes"))

	addSection("Log")
	addField("Max Batch", fmt.Sprintf("%d requests", o.MaxBatch))
	addField("IO Concurrency", fmt.Sprintf("%d", o.IOConcurrency))

	addSection("Compaction")
	addField("Log Multiple", fmt.Sprintf("%dx", o.CompactionLogMultiple))
	addField("Min Log Size", fmt.Sprintf("%d bytes", o.CompactionMinLogBytes))
	if o.CompactionInterval > 0 {
		addField("Interval", o.CompactionInterval.String())
	} else {
		addField("Interval", "off")
	}
	addField("Min Gap", o.CompactionMinGap.String())
	addField("Check Interval", o.CompactionCheckInterval.String())
	addField("Compression", o.SnapshotCompression.String())

	return sb.String()
}
