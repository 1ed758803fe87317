package db

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/ValentinKolb/mapdb/lib/dberr"
	"github.com/ValentinKolb/mapdb/lib/events"
	"github.com/ValentinKolb/mapdb/lib/index"
	"github.com/ValentinKolb/mapdb/lib/lockmgr"
	"github.com/ValentinKolb/mapdb/lib/persistence"
)

// --------------------------------------------------------------------------
// Map registry
// --------------------------------------------------------------------------

// mapState is the registry entry of one map
type mapState struct {
	name     string
	keyTag   string
	valueTag string
	lastSeq  atomic.Uint64 // sequence number of the last applied mutation

	// gate is read locked by every writer from submit until apply, the
	// compactor write locks it to read a marker no in-flight write is below
	gate sync.RWMutex
}

func (ms *mapState) advance(seq uint64) {
	for {
		cur := ms.lastSeq.Load()
		if seq <= cur || ms.lastSeq.CompareAndSwap(cur, seq) {
			return
		}
	}
}

// --------------------------------------------------------------------------
// DB
// --------------------------------------------------------------------------

// DB is an open database directory. It owns the index, the persistence engine
// and the directory lock.
//
// Thread-safety: All methods are thread-safe.
type DB struct {
	path    string
	opts    Options
	sink    events.Sink
	ix      *index.Index
	engine  *persistence.Engine
	locks   lockmgr.ILockManager
	ownerID []byte

	maps     *xsync.MapOf[string, *mapState]
	createMu sync.Mutex // serializes map creation
	closed   atomic.Bool

	ops opMetrics
}

// Open opens (and unless disabled creates) the database in the directory path.
// Every failure is reported as a dberr.ErrStorageOpen error.
func Open(path string, opts *Options) (*DB, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	o := opts.withDefaults()
	fs := o.FileSystem

	st, err := fs.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if !o.CreateIfMissing {
			return nil, dberr.New(dberr.CodeStorageOpen, "database %s does not exist", path)
		}
		if err := fs.MkdirAll(path, 0o755); err != nil {
			return nil, dberr.Wrap(dberr.CodeStorageOpen, err, "failed to create %s", path)
		}
	case err != nil:
		return nil, dberr.Wrap(dberr.CodeStorageOpen, err, "failed to stat %s", path)
	case !st.IsDir():
		return nil, dberr.New(dberr.CodeStorageOpen, "%s is not a directory", path)
	}

	locks := lockmgr.NewLockManager()
	ok, ownerID, err := locks.AcquireLock(path)
	if err != nil {
		return nil, dberr.Wrap(dberr.CodeStorageOpen, err, "failed to lock %s", path)
	}
	if !ok {
		return nil, dberr.New(dberr.CodeStorageOpen, "database %s is locked by another handle", path)
	}
	release := func() { _, _ = locks.ReleaseLock(path, ownerID) }

	if o.ErrorIfExists {
		exists, err := persistence.Exists(fs, path)
		if err != nil {
			release()
			return nil, dberr.Wrap(dberr.CodeStorageOpen, err, "failed to inspect %s", path)
		}
		if exists {
			release()
			return nil, dberr.New(dberr.CodeStorageOpen, "database %s already exists", path)
		}
	}

	db := &DB{
		path:    path,
		opts:    o,
		sink:    o.EventSink,
		locks:   locks,
		ownerID: ownerID,
		maps:    xsync.NewMapOf[string, *mapState](),
		ix: index.New(&index.Options{
			NumShards:   o.NumShards,
			Seed:        o.HashSeed,
			Capacity:    o.Capacity,
			MemoryLimit: o.MemoryLimit,
		}),
	}
	db.ops = newOpMetrics(o.Metrics, db)

	engine, err := persistence.Open(o.engineOptions(path), engineView{db}, engineView{db})
	if err != nil {
		release()
		return nil, err
	}
	db.engine = engine
	return db, nil
}

// Path returns the database directory
func (db *DB) Path() string {
	return db.path
}

// Options returns the options the database was opened with
func (db *DB) Options() Options {
	return db.opts
}

// Close stops the compactor, drains all queued writes, closes the log and
// releases the directory lock. Every map handle of the database fails with a
// dberr.ErrClosed error afterwards. Calling Close more than once is a no-op.
func (db *DB) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return nil
	}

	err := db.engine.Close()
	db.ix.Close()

	if _, lerr := db.locks.ReleaseLock(db.path, db.ownerID); lerr != nil {
		err = errors.Join(err, dberr.Wrap(dberr.CodePersistence, lerr, "failed to release lock"))
	}
	return err
}

// IsClosed returns true once Close was called
func (db *DB) IsClosed() bool {
	return db.closed.Load()
}

// Compact snapshots every changed map and removes the log segments that are
// covered by the snapshots
func (db *DB) Compact(ctx context.Context) (persistence.CompactionResult, error) {
	if db.closed.Load() {
		return persistence.CompactionResult{}, dberr.ErrClosed
	}
	return db.engine.Compact(ctx)
}

// WriteMetrics writes all metrics of the database in Prometheus text format
func (db *DB) WriteMetrics(w io.Writer) {
	db.engine.WriteMetrics(w)
}

// --------------------------------------------------------------------------
// Info
// --------------------------------------------------------------------------

// MapInfo describes a registered map
type MapInfo struct {
	Name     string `json:"name"`
	KeyTag   string `json:"key_tag"`
	ValueTag string `json:"value_tag"`
	Len      int    `json:"len"`
	LastSeq  uint64 `json:"last_seq"`
}

// Maps returns all registered maps sorted by name
func (db *DB) Maps() []MapInfo {
	var out []MapInfo
	db.maps.Range(func(name string, ms *mapState) bool {
		out = append(out, MapInfo{
			Name:     name,
			KeyTag:   ms.keyTag,
			ValueTag: ms.valueTag,
			Len:      db.ix.Len(name),
			LastSeq:  ms.lastSeq.Load(),
		})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Info describes the state of the database
type Info struct {
	Path      string                     `json:"path"`
	Maps      []MapInfo                  `json:"maps"`
	Index     index.Stats                `json:"index"`
	Log       persistence.Stats          `json:"log"`
	Snapshots []persistence.SnapshotMeta `json:"snapshots"`
}

// Info returns sizes, shard distribution, sequence numbers and file sizes
func (db *DB) Info() Info {
	snaps := db.engine.Snapshots()
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Map < snaps[j].Map })
	return Info{
		Path:      db.path,
		Maps:      db.Maps(),
		Index:     db.ix.Stats(),
		Log:       db.engine.Stats(),
		Snapshots: snaps,
	}
}

// String returns a formatted summary of the info
func (i Info) String() string {
	s := fmt.Sprintf("%s: %d maps, %d live entries, %d tombstones, %d bytes in memory\n",
		i.Path, len(i.Maps), i.Index.LiveEntries, i.Index.Tombstones, i.Index.MemoryBytes)
	s += fmt.Sprintf("log: seq %d, %d bytes in %d segments, %d snapshots (%d bytes)\n",
		i.Log.LastSeq, i.Log.LogBytes, i.Log.Segments, i.Log.Snapshots, i.Log.SnapshotBytes)
	for _, m := range i.Maps {
		s += fmt.Sprintf("  %-20s %8d entries  %s -> %s\n", m.Name, m.Len, m.KeyTag, m.ValueTag)
	}
	return s
}

// --------------------------------------------------------------------------
// Writes
// --------------------------------------------------------------------------

// submit logs recs for ms. The gate of ms and reserve bytes of the memory
// budget are held until the records were applied or abandoned.
func (db *DB) submit(ctx context.Context, ms *mapState, recs []persistence.Record, reserve int64, apply func([]persistence.Record)) (*persistence.Ticket, error) {
	if db.closed.Load() {
		return nil, dberr.ErrClosed
	}
	if err := db.ix.Reserve(reserve); err != nil {
		return nil, err
	}

	ms.gate.RLock()
	release := func() {
		ms.gate.RUnlock()
		db.ix.Release(reserve)
	}

	t, err := db.engine.Submit(ctx, recs,
		func(recs []persistence.Record) {
			apply(recs)
			release()
		},
		func(error) { release() },
	)
	if err != nil {
		release()
		return nil, err
	}
	return t, nil
}

// applyRecord applies a durable record to the index
func (db *DB) applyRecord(ms *mapState, rec persistence.Record) (prev []byte, existed bool, removed int) {
	switch rec.Op {
	case persistence.OpPut:
		prev, existed, _ = db.ix.Put(ms.name, rec.Key, rec.Value, rec.Seq)
	case persistence.OpRemove:
		prev, existed, _ = db.ix.Remove(ms.name, rec.Key, rec.Seq)
	case persistence.OpClear:
		removed, _ = db.ix.Clear(ms.name, rec.Seq)
	}
	ms.advance(rec.Seq)
	return prev, existed, removed
}

// register returns the map called name, creating it with a durable register
// record if it does not exist yet
func (db *DB) register(name, keyTag, valueTag string) (*mapState, error) {
	check := func(ms *mapState) (*mapState, error) {
		if ms.keyTag != keyTag || ms.valueTag != valueTag {
			return nil, dberr.New(dberr.CodeTypeMismatch, "map %q holds %s -> %s, opened as %s -> %s",
				name, ms.keyTag, ms.valueTag, keyTag, valueTag)
		}
		return ms, nil
	}

	if ms, ok := db.maps.Load(name); ok {
		return check(ms)
	}

	db.createMu.Lock()
	defer db.createMu.Unlock()

	if ms, ok := db.maps.Load(name); ok {
		return check(ms)
	}
	if db.closed.Load() {
		return nil, dberr.ErrClosed
	}

	rec := persistence.Record{Op: persistence.OpRegister, Map: name, Key: []byte(keyTag), Value: []byte(valueTag)}
	var created *mapState
	err := db.engine.Append(context.Background(), []persistence.Record{rec}, func(recs []persistence.Record) {
		created = db.createMap(name, keyTag, valueTag, recs[0].Seq)
	})
	if err != nil {
		return nil, err
	}

	db.sink.Emit(events.Event{Type: events.TypeMapCreated, Path: db.path, Map: name, Seq: created.lastSeq.Load()})
	return created, nil
}

func (db *DB) createMap(name, keyTag, valueTag string, seq uint64) *mapState {
	ms := &mapState{name: name, keyTag: keyTag, valueTag: valueTag}
	ms.lastSeq.Store(seq)
	db.maps.Store(name, ms)
	return ms
}

// --------------------------------------------------------------------------
// Persistence callbacks
// --------------------------------------------------------------------------

// engineView is the recovery target and snapshot source of the engine. It
// keeps these callbacks off the public API of DB.
type engineView struct {
	db *DB
}

func (v engineView) RestoreMap(name, keyTag, valueTag string, seq uint64) error {
	v.db.createMap(name, keyTag, valueTag, seq)
	return nil
}

func (v engineView) RestoreEntry(mapName string, key, value []byte, seq uint64) error {
	_, _, err := v.db.ix.Put(mapName, key, value, seq)
	return err
}

func (v engineView) Replay(rec persistence.Record) error {
	if rec.Op == persistence.OpRegister {
		ms, ok := v.db.maps.Load(rec.Map)
		if !ok {
			v.db.createMap(rec.Map, string(rec.Key), string(rec.Value), rec.Seq)
			return nil
		}
		if ms.keyTag != string(rec.Key) || ms.valueTag != string(rec.Value) {
			return dberr.New(dberr.CodeCorruptData, "map %q registered twice with different types", rec.Map)
		}
		return nil
	}

	ms, ok := v.db.maps.Load(rec.Map)
	if !ok {
		return dberr.New(dberr.CodeCorruptData, "log record %d for unknown map %q", rec.Seq, rec.Map)
	}
	v.db.applyRecord(ms, rec)
	return nil
}

func (v engineView) Maps() []persistence.MapInfo {
	var out []persistence.MapInfo
	v.db.maps.Range(func(name string, ms *mapState) bool {
		out = append(out, persistence.MapInfo{
			Name:     name,
			KeyTag:   ms.keyTag,
			ValueTag: ms.valueTag,
			LastSeq:  ms.lastSeq.Load(),
		})
		return true
	})
	return out
}

func (v engineView) Capture(name string) (uint64, iter.Seq[persistence.SnapshotEntry], error) {
	ms, ok := v.db.maps.Load(name)
	if !ok {
		return 0, nil, fmt.Errorf("map %q does not exist", name)
	}

	// no write of the map is between submit and apply while the gate is held
	ms.gate.Lock()
	marker := v.db.engine.LastSeq()
	ms.gate.Unlock()

	entries := func(yield func(persistence.SnapshotEntry) bool) {
		for rec := range v.db.ix.Capture(name) {
			if !yield(persistence.SnapshotEntry{Key: rec.Key, Value: rec.Value, Seq: rec.Seq}) {
				return
			}
		}
	}
	return marker, entries, nil
}

func (v engineView) Compacted(name string, marker uint64) {
	v.db.ix.PurgeTombstones(name, marker)
}

// --------------------------------------------------------------------------
// Metrics
// --------------------------------------------------------------------------

// opMetrics counts map operations
type opMetrics struct {
	inserts *metrics.Counter
	removes *metrics.Counter
	gets    *metrics.Counter
	clears  *metrics.Counter
}

func newOpMetrics(set *metrics.Set, db *DB) opMetrics {
	set.GetOrCreateGauge("mapdb_maps", func() float64 {
		return float64(db.maps.Size())
	})
	set.GetOrCreateGauge("mapdb_live_entries", func() float64 {
		var n int
		db.maps.Range(func(name string, _ *mapState) bool {
			n += db.ix.Len(name)
			return true
		})
		return float64(n)
	})
	set.GetOrCreateGauge("mapdb_memory_bytes", func() float64 {
		return float64(db.ix.MemoryUsage())
	})

	return opMetrics{
		inserts: set.GetOrCreateCounter(`mapdb_map_operations_total{op="insert"}`),
		removes: set.GetOrCreateCounter(`mapdb_map_operations_total{op="remove"}`),
		gets:    set.GetOrCreateCounter(`mapdb_map_operations_total{op="get"}`),
		clears:  set.GetOrCreateCounter(`mapdb_map_operations_total{op="clear"}`),
	}
}
