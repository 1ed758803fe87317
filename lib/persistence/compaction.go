package persistence

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ValentinKolb/mapdb/lib/dberr"
	"github.com/ValentinKolb/mapdb/lib/events"
)

// --------------------------------------------------------------------------
// Snapshot Source
// --------------------------------------------------------------------------

// MapInfo describes a map known to the source
type MapInfo struct {
	Name     string `json:"name"`
	KeyTag   string `json:"key_tag"`
	ValueTag string `json:"value_tag"`
	LastSeq  uint64 `json:"last_seq"` // sequence number of the last mutation applied to the map
}

// Source provides the in-memory state the compactor snapshots
type Source interface {
	// Maps lists every registered map
	Maps() []MapInfo
	// Capture returns the live entries of a map together with a marker: every
	// mutation of the map with a sequence number up to the marker is reflected
	// in the entries. Entries may also reflect later mutations.
	Capture(name string) (marker uint64, entries iter.Seq[SnapshotEntry], err error)
	// Compacted is called once a snapshot of the map at marker is durable
	Compacted(name string, marker uint64)
}

// CompactionResult summarizes one compaction
type CompactionResult struct {
	Snapshots       int           `json:"snapshots"`
	RemovedSegments int           `json:"removed_segments"`
	RemovedBytes    int64         `json:"removed_bytes"`
	Duration        time.Duration `json:"duration"`
}

// --------------------------------------------------------------------------
// Compaction
// --------------------------------------------------------------------------

// Compact snapshots every map written since its last snapshot and removes the
// log segments and snapshots this made redundant. If anything fails nothing is
// removed and the next compaction retries.
func (e *Engine) Compact(ctx context.Context) (CompactionResult, error) {
	if e.closing.Load() {
		return CompactionResult{}, dberr.ErrClosed
	}
	return e.compact(ctx)
}

func (e *Engine) compact(ctx context.Context) (res CompactionResult, err error) {
	e.compactMu.Lock()
	defer e.compactMu.Unlock()

	start := time.Now()
	records := e.recordsSince.Load()
	e.emit(events.Event{Type: events.TypeCompactionStarted, Bytes: e.logBytes.Load()})

	defer func() {
		res.Duration = time.Since(start)
		e.metrics.compactionDuration.Update(res.Duration.Seconds())
		if err != nil {
			e.metrics.compactionFailures.Inc()
			e.emit(events.Event{Type: events.TypeCompactionFailed, Duration: res.Duration, Err: err})
			return
		}
		e.metrics.compactions.Inc()
		e.emit(events.Event{
			Type:     events.TypeCompactionFinished,
			Count:    int64(res.Snapshots),
			Bytes:    res.RemovedBytes,
			Duration: res.Duration,
		})
	}()

	// everything below the new segment is sealed, the maps only change in the new one
	activeID, err := e.rotate(ctx)
	if err != nil {
		return res, err
	}

	var (
		mu      sync.Mutex
		written []SnapshotMeta
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.IOConcurrency)

	for _, m := range e.source.Maps() {
		if prev := e.snapshot(m.Name); prev != nil && m.LastSeq <= prev.Marker {
			continue
		}

		g.Go(func() error {
			marker, entries, err := e.source.Capture(m.Name)
			if err != nil {
				return fmt.Errorf("failed to capture map %q: %w", m.Name, err)
			}
			meta, err := writeSnapshot(gctx, e.fs, e.dir, SnapshotMeta{
				Map:      m.Name,
				KeyTag:   m.KeyTag,
				ValueTag: m.ValueTag,
				Marker:   marker,
			}, entries, e.opts.Compression)
			if err != nil {
				return fmt.Errorf("failed to snapshot map %q: %w", m.Name, err)
			}

			e.metrics.snapshots.Inc()
			e.emit(events.Event{
				Type:  events.TypeSnapshotWritten,
				Map:   meta.Map,
				File:  meta.File,
				Seq:   meta.Marker,
				Count: meta.Count,
				Bytes: meta.Bytes,
			})

			mu.Lock()
			written = append(written, meta)
			mu.Unlock()
			return nil
		})
	}

	werr := g.Wait()

	// durable snapshots are current even if others failed, recovery picks them up anyway
	superseded := e.install(written)
	res.Snapshots = len(written)

	if werr != nil {
		return res, dberr.Wrap(dberr.CodePersistence, werr, "compaction failed")
	}

	removedSegs, removedBytes, rerr := e.removeSealed(activeID, superseded)
	res.RemovedSegments, res.RemovedBytes = removedSegs, removedBytes

	for _, meta := range written {
		e.source.Compacted(meta.Map, meta.Marker)
	}

	e.recordsSince.Add(-records)
	e.lastCompaction.Store(time.Now().UnixNano())

	if rerr != nil {
		return res, dberr.Wrap(dberr.CodePersistence, rerr, "failed to remove compacted files")
	}
	return res, nil
}

// snapshot returns the current snapshot of mapName or nil
func (e *Engine) snapshot(mapName string) *SnapshotMeta {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshots[mapName]
}

// install makes written the current snapshots and returns the files they replace
func (e *Engine) install(written []SnapshotMeta) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var superseded []string
	for i := range written {
		meta := written[i]
		if old := e.snapshots[meta.Map]; old != nil {
			superseded = append(superseded, old.File)
			e.snapshotBytes.Add(-old.Bytes)
		}
		e.snapshots[meta.Map] = &meta
		e.snapshotBytes.Add(meta.Bytes)
	}
	return superseded
}

// removeSealed deletes the superseded snapshots and every segment below activeID
func (e *Engine) removeSealed(activeID uint64, superseded []string) (int, int64, error) {
	e.mu.Lock()
	var sealed, keep []*segment
	for _, seg := range e.segments {
		if seg.id < activeID {
			sealed = append(sealed, seg)
		} else {
			keep = append(keep, seg)
		}
	}
	e.segments = keep
	e.mu.Unlock()

	var (
		errs    []error
		removed int
		bytes   int64
		failed  []*segment
	)
	for _, seg := range sealed {
		if err := e.fs.Remove(seg.path); err != nil {
			errs = append(errs, err)
			failed = append(failed, seg)
			continue
		}
		removed++
		bytes += seg.size
		e.logBytes.Add(-seg.size)
	}
	for _, name := range superseded {
		if err := e.fs.Remove(filepath.Join(e.dir, name)); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.fs.SyncDir(e.dir); err != nil {
		errs = append(errs, err)
	}

	// segments that could not be removed are retried next time
	if len(failed) > 0 {
		e.mu.Lock()
		e.segments = append(failed, e.segments...)
		e.mu.Unlock()
	}
	return removed, bytes, errors.Join(errs...)
}

// --------------------------------------------------------------------------
// Trigger & background loop
// --------------------------------------------------------------------------

// shouldCompact reports whether the trigger policy asks for a compaction
func (e *Engine) shouldCompact() bool {
	if e.recordsSince.Load() == 0 {
		return false
	}
	threshold := max(e.opts.CompactionMinLogBytes, int64(e.opts.CompactionLogMultiple)*e.snapshotBytes.Load())
	if e.logBytes.Load() >= threshold {
		return true
	}
	if e.opts.CompactionInterval > 0 {
		last := time.Unix(0, e.lastCompaction.Load())
		return time.Since(last) >= e.opts.CompactionInterval
	}
	return false
}

// loop runs automatic compactions until ctx ends
func (e *Engine) loop(ctx context.Context) {
	defer close(e.loopDone)

	ticker := time.NewTicker(e.opts.CompactionCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-e.kick:
		}

		if !e.shouldCompact() || !e.limiter.Allow() {
			continue
		}
		// failures are reported as events and retried on the next trigger
		_, _ = e.compact(ctx)
	}
}
