package index

import (
	"iter"
	"sync/atomic"

	"github.com/ValentinKolb/mapdb/lib/dberr"
	"github.com/ValentinKolb/mapdb/lib/index/internal"
	"github.com/ValentinKolb/mapdb/lib/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Entry is the stored state of one key (see internal.Entry)
type Entry = internal.Entry

// Record is a live entry yielded by Capture
type Record struct {
	Key   []byte
	Value []byte
	Seq   uint64
}

// Options configures the index during initialization
type Options struct {
	NumShards   int    // Number of shards (0 = default: 64)
	Seed        uint64 // Seed for the shard hash (0 = random)
	Capacity    int    // Expected number of entries, used to presize tables (0 = no presizing)
	MemoryLimit int64  // Upper bound for the approximate memory footprint in bytes (0 = unlimited)
}

const defaultNumShards = 64

// DefaultOptions returns the default index options
func DefaultOptions() *Options {
	return &Options{NumShards: defaultNumShards}
}

// space holds the per map counters
type space struct {
	live       atomic.Int64
	tombstones atomic.Int64
}

// Index is the sharded concurrent index
type Index struct {
	seed   uint64
	shards []*internal.Shard
	spaces *xsync.MapOf[string, *space]
	sizes  *util.SizeHistogram

	memLimit    int64
	memUsed     atomic.Int64
	memReserved atomic.Int64

	closed atomic.Bool
}

// --------------------------------------------------------------------------
// Initialization
// --------------------------------------------------------------------------

// New creates a new index with the specified options (optional)
func New(opts *Options) *Index {
	if opts == nil {
		opts = DefaultOptions()
	}

	numShards := opts.NumShards
	if numShards <= 0 {
		numShards = defaultNumShards
	}

	seed := opts.Seed
	if seed == 0 {
		seed = util.GenerateSeed()
	}

	presize := 0
	if opts.Capacity > 0 {
		presize = opts.Capacity / numShards
	}

	shards := make([]*internal.Shard, numShards)
	for i := range shards {
		shards[i] = internal.NewShard(presize)
	}

	return &Index{
		seed:     seed,
		shards:   shards,
		spaces:   xsync.NewMapOf[string, *space](),
		sizes:    util.NewSizeHistogram(),
		memLimit: opts.MemoryLimit,
	}
}

// Close marks the index as closed. Subsequent mutations fail with a
// dberr.ErrClosed error, reads keep working on the last state.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (ix *Index) Close() {
	ix.closed.Store(true)
}

// IsClosed returns true if the index is closed
func (ix *Index) IsClosed() bool {
	return ix.closed.Load()
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// table returns the table of (mapName, key)
func (ix *Index) table(mapName string, key []byte, create bool) *internal.Table {
	return internal.GetShard(mapName, key, ix.seed, ix.shards).Table(mapName, create)
}

// space returns the counters of mapName, creating them if needed
func (ix *Index) space(mapName string) *space {
	s, _ := ix.spaces.LoadOrCompute(mapName, func() *space { return &space{} })
	return s
}

// account updates the counters after old (if loaded) was replaced by next
func (ix *Index) account(sp *space, key string, old internal.Entry, loaded bool, next internal.Entry, deleted bool) {
	var live, tomb int64
	if loaded {
		if old.Tombstone {
			tomb--
		} else {
			live--
		}
		ix.memUsed.Add(-old.Size(key))
		ix.sizes.Remove(int(old.Size(key)))
	}
	if !deleted {
		if next.Tombstone {
			tomb++
		} else {
			live++
		}
		ix.memUsed.Add(next.Size(key))
		ix.sizes.Add(int(next.Size(key)))
	}
	if live != 0 {
		sp.live.Add(live)
	}
	if tomb != 0 {
		sp.tombstones.Add(tomb)
	}
}

// copyBytes returns a copy of b (nil stays nil)
func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

// Put inserts or replaces the value of key in mapName. The write is ignored if
// the stored entry has a newer sequence number (stale write). It returns the
// value that was live before (if any); for a stale write this is the value
// that superseded it. Retrying a Put with the same sequence number is a no-op.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (ix *Index) Put(mapName string, key, value []byte, seq uint64) ([]byte, bool, error) {
	if ix.closed.Load() {
		return nil, false, dberr.ErrClosed
	}
	return ix.compute(mapName, key, internal.Entry{Value: copyBytes(value), Seq: seq})
}

// Remove deletes key from mapName by writing a tombstone with seq. Removing a
// key that does not exist leaves no tombstone. Returns the removed value.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (ix *Index) Remove(mapName string, key []byte, seq uint64) ([]byte, bool, error) {
	if ix.closed.Load() {
		return nil, false, dberr.ErrClosed
	}
	return ix.compute(mapName, key, internal.Entry{Seq: seq, Tombstone: true})
}

// compute applies next to key using xsync's atomic Compute, ignoring stale writes
func (ix *Index) compute(mapName string, key []byte, next internal.Entry) ([]byte, bool, error) {
	var (
		sk      = string(key)
		table   = ix.table(mapName, key, true)
		sp      = ix.space(mapName)
		prev    []byte
		hadPrev bool
	)

	table.Compute(sk, func(old internal.Entry, loaded bool) (internal.Entry, bool) {
		if loaded && !old.Tombstone {
			prev, hadPrev = old.Value, true
		}

		// stale write, keep the newer entry
		if loaded && old.Seq > next.Seq {
			return old, false
		}

		// removing a key that was never there leaves nothing behind
		if next.Tombstone && !loaded {
			return old, true
		}

		ix.account(sp, sk, old, loaded, next, false)
		return next, false
	})

	return copyBytes(prev), hadPrev, nil
}

// Clear tombstones every live entry of mapName with a sequence number lower
// than seq. Entries written after the clear are kept. Returns the number of
// removed entries.
//
// Thread-safety: This method is thread-safe, but concurrent writers to the same
// map may or may not be cleared depending on their sequence number.
func (ix *Index) Clear(mapName string, seq uint64) (int, error) {
	if ix.closed.Load() {
		return 0, dberr.ErrClosed
	}

	sp := ix.space(mapName)
	removed := 0
	for _, shard := range ix.shards {
		table := shard.Table(mapName, false)
		if table == nil {
			continue
		}
		table.Range(func(k string, _ internal.Entry) bool {
			table.Compute(k, func(old internal.Entry, loaded bool) (internal.Entry, bool) {
				if !loaded || old.Tombstone || old.Seq >= seq {
					return old, !loaded
				}
				next := internal.Entry{Seq: seq, Tombstone: true}
				ix.account(sp, k, old, true, next, false)
				removed++
				return next, false
			})
			return true
		})
	}
	return removed, nil
}

// PurgeTombstones drops all tombstones of mapName with a sequence number up to
// and including upTo. Only call this once a snapshot covering upTo is durable.
// Returns the number of dropped tombstones.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (ix *Index) PurgeTombstones(mapName string, upTo uint64) int {
	sp := ix.space(mapName)
	purged := 0
	for _, shard := range ix.shards {
		table := shard.Table(mapName, false)
		if table == nil {
			continue
		}
		table.Range(func(k string, e internal.Entry) bool {
			if !e.Tombstone || e.Seq > upTo {
				return true
			}
			table.Compute(k, func(old internal.Entry, loaded bool) (internal.Entry, bool) {
				if !loaded {
					return old, true
				}
				if !old.Tombstone || old.Seq > upTo {
					return old, false
				}
				ix.account(sp, k, old, true, old, true)
				purged++
				return old, true
			})
			return true
		})
	}
	return purged
}

// --------------------------------------------------------------------------
// Read Operations
// --------------------------------------------------------------------------

// Get returns a copy of the live value of key in mapName. It never blocks on
// disk.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (ix *Index) Get(mapName string, key []byte) ([]byte, bool) {
	e, ok := ix.Lookup(mapName, key)
	if !ok || e.Tombstone {
		return nil, false
	}
	return copyBytes(e.Value), true
}

// Has returns true if key has a live value in mapName.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (ix *Index) Has(mapName string, key []byte) bool {
	e, ok := ix.Lookup(mapName, key)
	return ok && !e.Tombstone
}

// Lookup returns the raw entry of key, tombstones included. The returned value
// slice must not be modified.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (ix *Index) Lookup(mapName string, key []byte) (Entry, bool) {
	table := ix.table(mapName, key, false)
	if table == nil {
		return Entry{}, false
	}
	return table.Load(string(key))
}

// Len returns the number of live entries in mapName. The count is maintained
// atomically and may lag behind under concurrent mutation.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (ix *Index) Len(mapName string) int {
	sp, ok := ix.spaces.Load(mapName)
	if !ok {
		return 0
	}
	return int(sp.live.Load())
}

// Tombstones returns the number of tombstones held for mapName
func (ix *Index) Tombstones(mapName string) int {
	sp, ok := ix.spaces.Load(mapName)
	if !ok {
		return 0
	}
	return int(sp.tombstones.Load())
}

// Maps returns the names of all maps that ever held an entry
func (ix *Index) Maps() []string {
	var names []string
	ix.spaces.Range(func(name string, _ *space) bool {
		names = append(names, name)
		return true
	})
	return names
}

// Scan returns a lazy sequence of all live (key, value) pairs of mapName. Keys
// and values are copies and safe to keep.
//
// Thread-safety: This method is thread-safe; see the package documentation for
// the consistency guarantees under concurrent mutation.
func (ix *Index) Scan(mapName string) iter.Seq2[[]byte, []byte] {
	return func(yield func([]byte, []byte) bool) {
		for rec := range ix.Capture(mapName) {
			if !yield(rec.Key, copyBytes(rec.Value)) {
				return
			}
		}
	}
}

// Capture returns a lazy sequence of all live entries of mapName including
// their sequence numbers. Values are shared with the index and must not be
// modified.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (ix *Index) Capture(mapName string) iter.Seq[Record] {
	return func(yield func(Record) bool) {
		var batch []Record
		for _, shard := range ix.shards {
			table := shard.Table(mapName, false)
			if table == nil {
				continue
			}

			// copy the shard before yielding so the consumer never runs inside Range
			batch = batch[:0]
			table.Range(func(k string, e internal.Entry) bool {
				if !e.Tombstone {
					batch = append(batch, Record{Key: []byte(k), Value: e.Value, Seq: e.Seq})
				}
				return true
			})

			for _, rec := range batch {
				if !yield(rec) {
					return
				}
			}
		}
	}
}

// --------------------------------------------------------------------------
// Memory Budget
// --------------------------------------------------------------------------

// EntrySize returns the accounted size of an entry with the given key and value
func EntrySize(key, value []byte) int64 {
	return internal.Entry{Value: value}.Size(string(key))
}

// Reserve reserves n bytes of the memory budget for a mutation that is about
// to be logged. It fails with a dberr.ErrOutOfMemory error if the budget would
// be exceeded. Every successful Reserve must be paired with a Release once the
// mutation was applied or abandoned.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (ix *Index) Reserve(n int64) error {
	if ix.memLimit <= 0 {
		return nil
	}
	for {
		reserved := ix.memReserved.Load()
		if used := ix.memUsed.Load(); used+reserved+n > ix.memLimit {
			return dberr.New(dberr.CodeOutOfMemory, "memory limit of %d bytes reached (used %d, reserved %d, requested %d)",
				ix.memLimit, used, reserved, n)
		}
		if ix.memReserved.CompareAndSwap(reserved, reserved+n) {
			return nil
		}
	}
}

// Release returns n previously reserved bytes
func (ix *Index) Release(n int64) {
	if ix.memLimit <= 0 {
		return
	}
	ix.memReserved.Add(-n)
}

// MemoryUsage returns the approximate memory footprint of all entries in bytes
func (ix *Index) MemoryUsage() int64 {
	return ix.memUsed.Load()
}

// --------------------------------------------------------------------------
// Statistics
// --------------------------------------------------------------------------

// Stats describes the state of the index
type Stats struct {
	Shards        int                    `json:"shards"`
	Maps          int                    `json:"maps"`
	LiveEntries   int64                  `json:"live_entries"`
	Tombstones    int64                  `json:"tombstones"`
	MemoryBytes   int64                  `json:"memory_bytes"`
	AvgEntryBytes int64                  `json:"avg_entry_bytes"`
	P99EntryBytes int64                  `json:"p99_entry_bytes"`
	ShardBalance  util.DistributionStats `json:"shard_balance"`
}

// Stats returns statistics about the index. It walks all shards and should not
// be called on a hot path.
func (ix *Index) Stats() Stats {
	st := Stats{
		Shards:        len(ix.shards),
		MemoryBytes:   ix.memUsed.Load(),
		AvgEntryBytes: ix.sizes.Average(),
		P99EntryBytes: ix.sizes.Percentile(99),
	}

	ix.spaces.Range(func(_ string, sp *space) bool {
		st.Maps++
		st.LiveEntries += sp.live.Load()
		st.Tombstones += sp.tombstones.Load()
		return true
	})

	sizes := make([]int, len(ix.shards))
	for i, shard := range ix.shards {
		sizes[i] = shard.Size()
	}
	st.ShardBalance = util.NewDistributionStats(sizes)

	return st
}
