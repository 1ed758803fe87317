package persistence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"golang.org/x/time/rate"

	"github.com/ValentinKolb/mapdb/lib/dberr"
	"github.com/ValentinKolb/mapdb/lib/events"
	"github.com/ValentinKolb/mapdb/lib/vfs"
)

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Options configures the persistence engine
type Options struct {
	Dir        string         // Database directory, must exist
	FileSystem vfs.FileSystem // File system (nil = vfs.Default)

	MaxBatch      int // Maximum number of requests per group commit
	IOConcurrency int // Maximum number of snapshots written in parallel

	Compression Compression // Compression of snapshot bodies

	CompactionLogMultiple   int           // Compact once the log is this many times larger than all snapshots
	CompactionMinLogBytes   int64         // ... but never below this log size
	CompactionInterval      time.Duration // Also compact after this much time if anything was written (0 = off)
	CompactionMinGap        time.Duration // Minimum time between automatic compactions
	CompactionCheckInterval time.Duration // How often the background compactor checks the trigger

	Events  events.Sink  // Receives structured events (nil = events.Nop)
	Metrics *metrics.Set // Metrics are registered here (nil = a private set)
}

// DefaultOptions returns the default options for dir
func DefaultOptions(dir string) Options {
	return Options{
		Dir:                     dir,
		FileSystem:              vfs.Default,
		MaxBatch:                256,
		IOConcurrency:           4,
		Compression:             CompressionNone,
		CompactionLogMultiple:   4,
		CompactionMinLogBytes:   4 << 20,
		CompactionMinGap:        time.Second,
		CompactionCheckInterval: time.Second,
	}
}

// withDefaults fills zero fields
func (o Options) withDefaults() Options {
	def := DefaultOptions(o.Dir)
	if o.FileSystem == nil {
		o.FileSystem = def.FileSystem
	}
	if o.MaxBatch <= 0 {
		o.MaxBatch = def.MaxBatch
	}
	if o.IOConcurrency <= 0 {
		o.IOConcurrency = def.IOConcurrency
	}
	if o.CompactionLogMultiple <= 0 {
		o.CompactionLogMultiple = def.CompactionLogMultiple
	}
	if o.CompactionMinLogBytes <= 0 {
		o.CompactionMinLogBytes = def.CompactionMinLogBytes
	}
	if o.CompactionCheckInterval <= 0 {
		o.CompactionCheckInterval = def.CompactionCheckInterval
	}
	if o.Events == nil {
		o.Events = events.Nop
	}
	if o.Metrics == nil {
		o.Metrics = metrics.NewSet()
	}
	return o
}

// --------------------------------------------------------------------------
// Recovery Target
// --------------------------------------------------------------------------

// Target receives the recovered state while the engine opens. Calls happen
// on a single goroutine: first RestoreMap and RestoreEntry for every snapshot,
// then Replay for every logged record newer than the snapshot of its map.
type Target interface {
	// RestoreMap announces a map loaded from a snapshot taken at seq
	RestoreMap(name, keyTag, valueTag string, seq uint64) error
	// RestoreEntry restores one snapshot entry of a map announced before
	RestoreEntry(mapName string, key, value []byte, seq uint64) error
	// Replay applies a logged record
	Replay(rec Record) error
}

// --------------------------------------------------------------------------
// Requests
// --------------------------------------------------------------------------

const (
	statePending int32 = iota
	stateClaimed
	stateCancelled
)

// request is one unit of work for the writer goroutine
type request struct {
	recs  []Record
	apply func([]Record) // runs on the writer once recs are durable
	abort func(error)    // runs once if apply never will

	rotate    bool   // start a new segment instead of appending
	rotatedTo uint64 // id of the active segment after a rotation

	state atomic.Int32
	done  chan struct{}
	err   error
}

// complete finishes the request. Must be called exactly once by whoever owns it.
func (r *request) complete(err error) {
	if err != nil && r.abort != nil {
		r.abort(err)
	}
	r.err = err
	close(r.done)
}

// Ticket tracks a submitted append
type Ticket struct {
	req *request
}

// Done is closed once the append completed (successfully or not)
func (t *Ticket) Done() <-chan struct{} {
	return t.req.done
}

// Err returns the result of a completed append, nil before completion
func (t *Ticket) Err() error {
	select {
	case <-t.req.done:
		return t.req.err
	default:
		return nil
	}
}

// Wait blocks until the records are durable and applied or the append failed.
// If ctx ends before the writer picked the request up, the request is dropped
// and ctx's error returned. Once the writer owns it, Wait reports the real
// outcome regardless of ctx.
func (t *Ticket) Wait(ctx context.Context) error {
	select {
	case <-t.req.done:
		return t.req.err
	case <-ctx.Done():
		if t.req.state.CompareAndSwap(statePending, stateCancelled) {
			t.req.complete(ctx.Err())
			return ctx.Err()
		}
		<-t.req.done
		return t.req.err
	}
}

// --------------------------------------------------------------------------
// Engine
// --------------------------------------------------------------------------

// Engine owns the log and the snapshots of one database directory.
//
// Thread-safety: All exported methods are thread-safe.
type Engine struct {
	opts    Options
	fs      vfs.FileSystem
	dir     string
	sink    events.Sink
	metrics *engineMetrics
	source  Source

	queue      *requestQueue
	queueMu    sync.RWMutex // pushes hold the read side, closing the queue the write side
	writerDone chan struct{}

	// owned by the writer goroutine
	file    vfs.File
	active  *segment
	nextSeq uint64
	buf     []byte

	lastSeq       atomic.Uint64 // highest durable sequence number
	logBytes      atomic.Int64  // size of all segments
	snapshotBytes atomic.Int64  // size of all current snapshots
	recordsSince  atomic.Int64  // records appended since the last successful compaction
	poison        atomic.Pointer[dberr.Error]
	closing       atomic.Bool

	mu        sync.Mutex // guards segments and snapshots
	segments  []*segment // sorted, the last one is active
	snapshots map[string]*SnapshotMeta

	compactMu      sync.Mutex
	lastCompaction atomic.Int64 // unix nanos
	limiter        *rate.Limiter
	kick           chan struct{}
	stopLoop       context.CancelFunc
	loopDone       chan struct{}
}

// Open recovers the state stored in opts.Dir into target and starts the
// writer and the background compactor, which captures maps from source.
func Open(opts Options, target Target, source Source) (*Engine, error) {
	opts = opts.withDefaults()

	limit := rate.Inf
	if opts.CompactionMinGap > 0 {
		limit = rate.Every(opts.CompactionMinGap)
	}

	e := &Engine{
		opts:       opts,
		fs:         opts.FileSystem,
		dir:        opts.Dir,
		sink:       opts.Events,
		source:     source,
		queue:      newRequestQueue(),
		writerDone: make(chan struct{}),
		snapshots:  make(map[string]*SnapshotMeta),
		limiter:    rate.NewLimiter(limit, 1),
		kick:       make(chan struct{}, 1),
		loopDone:   make(chan struct{}),
	}
	e.metrics = newEngineMetrics(opts.Metrics, e)
	e.lastCompaction.Store(time.Now().UnixNano())

	if err := e.recover(target); err != nil {
		if e.file != nil {
			_ = e.file.Close()
		}
		return nil, dberr.Wrap(dberr.CodeStorageOpen, err, "failed to recover %s", opts.Dir)
	}

	go e.run()

	ctx, cancel := context.WithCancel(context.Background())
	e.stopLoop = cancel
	go e.loop(ctx)

	return e, nil
}

func (e *Engine) emit(ev events.Event) {
	ev.Time = time.Now()
	ev.Path = e.dir
	e.sink.Emit(ev)
}

// recover loads snapshots, replays the log and opens the active segment
func (e *Engine) recover(target Target) error {
	start := time.Now()
	e.emit(events.Event{Type: events.TypeRecoveryStarted})

	l, err := listDir(e.fs, e.dir)
	if err != nil {
		return err
	}
	for _, tmp := range l.temps {
		_ = e.fs.Remove(tmp)
	}

	// snapshots first, the newest per map must be intact
	markers := make(map[string]uint64, len(l.snapshots))
	var maxMarker uint64
	var restored int64
	for name, snaps := range l.snapshots {
		newest := snaps[len(snaps)-1]
		path := filepath.Join(e.dir, newest.File)

		meta, err := readSnapshot(e.fs, path,
			func(m SnapshotMeta) error {
				if m.Map != name || m.Marker != newest.Marker {
					return dberr.New(dberr.CodeCorruptData, "snapshot %s: header does not match file name", newest.File)
				}
				return target.RestoreMap(m.Map, m.KeyTag, m.ValueTag, m.Marker)
			},
			func(en SnapshotEntry) error {
				return target.RestoreEntry(name, en.Key, en.Value, en.Seq)
			})
		if err != nil {
			return err
		}

		e.snapshots[name] = &meta
		e.snapshotBytes.Add(meta.Bytes)
		markers[name] = meta.Marker
		maxMarker = max(maxMarker, meta.Marker)
		restored += meta.Count

		for _, old := range snaps[:len(snaps)-1] {
			_ = e.fs.Remove(filepath.Join(e.dir, old.File))
		}
	}
	e.metrics.recoveredEntries.Add(int(restored))

	// then the log, skipping what the snapshots already cover
	var maxSeq uint64
	var replayed int64
	for i, seg := range l.segments {
		last := i == len(l.segments)-1
		res, err := replaySegment(e.fs, seg, last, func(rec Record) error {
			if rec.Seq <= markers[rec.Map] {
				return nil
			}
			return target.Replay(rec)
		})
		if err != nil {
			return err
		}
		if res.discarded > 0 {
			e.metrics.discardedBytes.Add(int(res.discarded))
			e.emit(events.Event{
				Type:  events.TypeCorruptRecordDiscarded,
				File:  filepath.Base(seg.path),
				Seq:   res.maxSeq,
				Bytes: res.discarded,
			})
		}
		replayed += res.records
		maxSeq = max(maxSeq, res.maxSeq)
	}
	e.metrics.recoveredRecords.Add(int(replayed))

	e.nextSeq = max(maxSeq, maxMarker) + 1
	if n := len(l.segments); n > 0 {
		e.nextSeq = max(e.nextSeq, l.segments[n-1].id)
	}

	// reopen the last segment for appending or start the first one
	if n := len(l.segments); n > 0 {
		seg := l.segments[n-1]
		f, err := e.fs.OpenFile(seg.path, os.O_RDWR, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log segment: %w", err)
		}
		if _, err := f.Seek(seg.size, io.SeekStart); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to seek log segment: %w", err)
		}
		e.file, e.active = f, seg
		e.segments = l.segments
	} else {
		f, seg, err := createSegment(e.fs, e.dir, e.nextSeq)
		if err != nil {
			return err
		}
		e.file, e.active = f, seg
		e.segments = []*segment{seg}
	}

	for _, seg := range e.segments {
		e.logBytes.Add(seg.size)
	}
	e.lastSeq.Store(e.nextSeq - 1)
	e.recordsSince.Store(replayed)

	e.emit(events.Event{
		Type:     events.TypeRecoveryFinished,
		Seq:      e.nextSeq - 1,
		Count:    replayed,
		Duration: time.Since(start),
	})
	return nil
}

// --------------------------------------------------------------------------
// Submitting
// --------------------------------------------------------------------------

// Submit queues recs for appending and returns without waiting. Once the
// records are durable, apply runs on the writer goroutine with the assigned
// sequence numbers filled in; appends complete in sequence number order.
// If the append fails or is cancelled, abort runs exactly once instead.
//
// If Submit itself returns an error neither callback runs.
func (e *Engine) Submit(ctx context.Context, recs []Record, apply func([]Record), abort func(error)) (*Ticket, error) {
	if e.closing.Load() {
		return nil, dberr.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.failure(); err != nil {
		return nil, err
	}
	for i := range recs {
		if err := recs[i].validate(); err != nil {
			return nil, err
		}
	}
	return e.submit(&request{recs: recs, apply: apply, abort: abort})
}

// Append is Submit followed by Wait
func (e *Engine) Append(ctx context.Context, recs []Record, apply func([]Record)) error {
	t, err := e.Submit(ctx, recs, apply, nil)
	if err != nil {
		return err
	}
	return t.Wait(ctx)
}

func (e *Engine) submit(req *request) (*Ticket, error) {
	req.done = make(chan struct{})
	e.queueMu.RLock()
	ok := e.queue.Push(req)
	e.queueMu.RUnlock()
	if !ok {
		return nil, dberr.ErrClosed
	}
	return &Ticket{req: req}, nil
}

// rotate seals the active segment and returns the id of the new one. Every
// segment with a lower id is sealed.
func (e *Engine) rotate(ctx context.Context) (uint64, error) {
	req := &request{rotate: true}
	t, err := e.submit(req)
	if err != nil {
		return 0, err
	}
	if err := t.Wait(ctx); err != nil {
		return 0, err
	}
	return req.rotatedTo, nil
}

// failure returns the error that poisoned the engine, if any
func (e *Engine) failure() error {
	if p := e.poison.Load(); p != nil {
		return p
	}
	return nil
}

func (e *Engine) poisonWith(err error) *dberr.Error {
	p := dberr.Wrap(dberr.CodePersistence, err, "log is unusable after a failed write")
	e.poison.CompareAndSwap(nil, p)
	return e.poison.Load()
}

// --------------------------------------------------------------------------
// Writer
// --------------------------------------------------------------------------

// run is the writer goroutine
func (e *Engine) run() {
	defer close(e.writerDone)
	for {
		batch, ok := e.queue.PopBatch(e.opts.MaxBatch)
		if !ok {
			return
		}
		e.process(batch)
	}
}

// process claims the requests of a batch and commits them in queue order
func (e *Engine) process(batch []*request) {
	var group []*request
	for _, req := range batch {
		if !req.state.CompareAndSwap(statePending, stateClaimed) {
			continue // cancelled by its caller
		}
		if req.rotate {
			e.commit(group)
			group = group[:0]
			e.rotateActive(req)
			continue
		}
		group = append(group, req)
	}
	e.commit(group)
}

// commit appends the records of group with a single write and fsync, then
// applies them in order
func (e *Engine) commit(group []*request) {
	if len(group) == 0 {
		return
	}
	if err := e.failure(); err != nil {
		for _, req := range group {
			req.complete(err)
		}
		return
	}

	start := e.active.size
	seq := e.nextSeq
	buf := e.buf[:0]
	var count int
	for _, req := range group {
		for i := range req.recs {
			req.recs[i].Seq = seq
			seq++
			count++
			buf = appendFrame(buf, &req.recs[i])
		}
	}
	// keep the buffer for the next batch unless a huge batch grew it
	if cap(buf) <= 4<<20 {
		e.buf = buf
	} else {
		e.buf = nil
	}

	if _, err := e.file.Write(buf); err != nil {
		failed := dberr.Wrap(dberr.CodePersistence, err, "failed to append to log")
		if terr := e.file.Truncate(start); terr != nil {
			failed = e.poisonWith(errors.Join(err, terr))
		} else if _, serr := e.file.Seek(start, io.SeekStart); serr != nil {
			failed = e.poisonWith(errors.Join(err, serr))
		}
		e.fail(group, failed)
		return
	}

	syncStart := time.Now()
	if err := e.file.Sync(); err != nil {
		// drop the frames so that a later open does not replay a failed write
		_ = e.file.Truncate(start)
		_, _ = e.file.Seek(start, io.SeekStart)
		_ = e.file.Sync()
		e.fail(group, e.poisonWith(fmt.Errorf("failed to sync log: %w", err)))
		return
	}
	e.metrics.fsyncDuration.Update(time.Since(syncStart).Seconds())

	n := int64(len(buf))
	e.nextSeq = seq
	e.active.size += n
	e.lastSeq.Store(seq - 1)
	e.logBytes.Add(n)
	e.recordsSince.Add(int64(count))
	e.metrics.appends.Add(count)
	e.metrics.appendBytes.Add(int(n))
	e.metrics.batchSize.Update(float64(count))

	for _, req := range group {
		if req.apply != nil {
			req.apply(req.recs)
		}
		req.complete(nil)
	}

	if e.shouldCompact() {
		select {
		case e.kick <- struct{}{}:
		default:
		}
	}
}

func (e *Engine) fail(group []*request, err error) {
	e.metrics.appendFailures.Inc()
	e.emit(events.Event{Type: events.TypePersistenceFailed, Seq: e.nextSeq, Count: int64(len(group)), Err: err})
	for _, req := range group {
		req.complete(err)
	}
}

// rotateActive replaces the active segment by a fresh one
func (e *Engine) rotateActive(req *request) {
	if err := e.failure(); err != nil {
		req.complete(err)
		return
	}

	// nothing was written since the segment was created
	if e.active.id == e.nextSeq {
		req.rotatedTo = e.active.id
		req.complete(nil)
		return
	}

	f, seg, err := createSegment(e.fs, e.dir, e.nextSeq)
	if err != nil {
		_ = e.fs.Remove(filepath.Join(e.dir, segmentName(e.nextSeq)))
		req.complete(dberr.Wrap(dberr.CodePersistence, err, "failed to rotate log"))
		return
	}

	_ = e.file.Close() // synced after its last commit
	e.file, e.active = f, seg

	e.mu.Lock()
	e.segments = append(e.segments, seg)
	e.mu.Unlock()
	e.logBytes.Add(seg.size)

	req.rotatedTo = seg.id
	req.complete(nil)
}

// --------------------------------------------------------------------------
// Info & Close
// --------------------------------------------------------------------------

// LastSeq returns the highest durable sequence number
func (e *Engine) LastSeq() uint64 {
	return e.lastSeq.Load()
}

// Stats describes the state of the engine
type Stats struct {
	LastSeq        uint64    `json:"last_seq"`
	LogBytes       int64     `json:"log_bytes"`
	Segments       int       `json:"segments"`
	Snapshots      int       `json:"snapshots"`
	SnapshotBytes  int64     `json:"snapshot_bytes"`
	QueueLength    int       `json:"queue_length"`
	RecordsSince   int64     `json:"records_since_compaction"`
	LastCompaction time.Time `json:"last_compaction"`
	Poisoned       bool      `json:"poisoned"`
}

// Stats returns a snapshot of the engine state
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	segments, snapshots := len(e.segments), len(e.snapshots)
	e.mu.Unlock()

	return Stats{
		LastSeq:        e.lastSeq.Load(),
		LogBytes:       e.logBytes.Load(),
		Segments:       segments,
		Snapshots:      snapshots,
		SnapshotBytes:  e.snapshotBytes.Load(),
		QueueLength:    e.queue.Len(),
		RecordsSince:   e.recordsSince.Load(),
		LastCompaction: time.Unix(0, e.lastCompaction.Load()),
		Poisoned:       e.poison.Load() != nil,
	}
}

// Snapshots returns the metadata of the current snapshot of every map
func (e *Engine) Snapshots() []SnapshotMeta {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]SnapshotMeta, 0, len(e.snapshots))
	for _, m := range e.snapshots {
		out = append(out, *m)
	}
	return out
}

// WriteMetrics writes the engine metrics in Prometheus text format
func (e *Engine) WriteMetrics(w io.Writer) {
	e.opts.Metrics.WritePrometheus(w)
}

// Close stops the compactor, runs a last compaction if one is due, drains the
// queue and closes the log. Calling Close more than once is a no-op.
func (e *Engine) Close() error {
	if !e.closing.CompareAndSwap(false, true) {
		return nil
	}

	e.stopLoop()
	<-e.loopDone

	// a failure is reported as an event, the log still holds everything
	if e.shouldCompact() {
		_, _ = e.compact(context.Background())
	}

	e.queueMu.Lock()
	e.queue.Close()
	e.queueMu.Unlock()
	<-e.writerDone

	if err := e.file.Close(); err != nil {
		return dberr.Wrap(dberr.CodePersistence, err, "failed to close log")
	}
	return nil
}
