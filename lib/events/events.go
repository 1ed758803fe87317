// Package events defines the structured events emitted by the mapdb core.
//
// The core never formats or writes log lines. It hands events to a Sink
// injected through the database options; lib/logging provides sinks that turn
// events into dragonboat logger or slog output.
package events

import (
	"fmt"
	"sync"
	"time"
)

// --------------------------------------------------------------------------
// Event Types
// --------------------------------------------------------------------------

type Type int

const (
	TypeRecoveryStarted        Type = iota // Open started replaying snapshots and log
	TypeRecoveryFinished                   // Replay done, Count = replayed records, Seq = last sequence
	TypeCorruptRecordDiscarded             // A torn or corrupt trailing record was truncated, Bytes = discarded bytes
	TypeCompactionStarted                  // Compaction started, Bytes = log size
	TypeCompactionFinished                 // Compaction done, Count = snapshots written, Bytes = removed log bytes
	TypeCompactionFailed                   // Compaction failed and will be retried, Err is set
	TypeSnapshotWritten                    // One map snapshot is durable, Map, Seq = marker, Count = entries
	TypeMapCreated                         // A new map was registered
	TypePersistenceFailed                  // A log append or sync failed, Err is set
)

func (t Type) String() string {
	switch t {
	case TypeRecoveryStarted:
		return "RecoveryStarted"
	case TypeRecoveryFinished:
		return "RecoveryFinished"
	case TypeCorruptRecordDiscarded:
		return "CorruptRecordDiscarded"
	case TypeCompactionStarted:
		return "CompactionStarted"
	case TypeCompactionFinished:
		return "CompactionFinished"
	case TypeCompactionFailed:
		return "CompactionFailed"
	case TypeSnapshotWritten:
		return "SnapshotWritten"
	case TypeMapCreated:
		return "MapCreated"
	case TypePersistenceFailed:
		return "PersistenceFailed"
	default:
		return "Unknown"
	}
}

// Event is a structured notification about the engine state. Fields that are
// meaningless for a type are left zero.
type Event struct {
	Type     Type
	Time     time.Time
	Path     string        // Database directory
	Map      string        // Map name
	File     string        // File involved (segment, snapshot)
	Seq      uint64        // Sequence number
	Count    int64         // Number of records / entries / files
	Bytes    int64         // Number of bytes
	Duration time.Duration // Duration of the operation
	Err      error         // Cause of a failure
}

func (e Event) String() string {
	return fmt.Sprintf("Event{Type: %s, Map: %q, Seq: %d, Count: %d, Bytes: %d, Duration: %s, Err: %v}",
		e.Type, e.Map, e.Seq, e.Count, e.Bytes, e.Duration, e.Err)
}

// --------------------------------------------------------------------------
// Sinks
// --------------------------------------------------------------------------

// Sink receives events. Emit may be called concurrently and must not block for
// long, it runs on the engine's goroutines.
type Sink interface {
	Emit(e Event)
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(e Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Nop discards all events
var Nop Sink = SinkFunc(func(Event) {})

// Multi fans events out to several sinks
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(e Event) {
		for _, s := range sinks {
			s.Emit(e)
		}
	})
}

// Recorder is a Sink that keeps every event, useful in tests
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of all recorded events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of type t
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
