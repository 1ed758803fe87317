package logging

import (
	"context"
	"log/slog"

	"github.com/lni/dragonboat/v4/logger"

	"github.com/ValentinKolb/mapdb/lib/events"
)

// --------------------------------------------------------------------------
// dragonboat logger sink
// --------------------------------------------------------------------------

type loggerSink struct {
	log logger.ILogger
}

// NewLoggerSink returns an events.Sink that writes every event to log
func NewLoggerSink(log logger.ILogger) events.Sink {
	return loggerSink{log: log}
}

func (s loggerSink) Emit(e events.Event) {
	switch e.Type {
	case events.TypeRecoveryStarted:
		s.log.Infof("recovering %s", e.Path)
	case events.TypeRecoveryFinished:
		s.log.Infof("recovered %s: replayed %d records up to seq %d in %s", e.Path, e.Count, e.Seq, e.Duration)
	case events.TypeCorruptRecordDiscarded:
		s.log.Warningf("discarded %d damaged bytes at the end of %s", e.Bytes, e.File)
	case events.TypeCompactionStarted:
		s.log.Debugf("compaction started, log is %d bytes", e.Bytes)
	case events.TypeCompactionFinished:
		s.log.Infof("compaction finished: %d snapshots written, %d log bytes removed in %s", e.Count, e.Bytes, e.Duration)
	case events.TypeCompactionFailed:
		s.log.Errorf("compaction failed after %s: %v", e.Duration, e.Err)
	case events.TypeSnapshotWritten:
		s.log.Debugf("snapshot of map %q at seq %d: %d entries, %d bytes", e.Map, e.Seq, e.Count, e.Bytes)
	case events.TypeMapCreated:
		s.log.Infof("created map %q", e.Map)
	case events.TypePersistenceFailed:
		s.log.Errorf("log append of %d requests failed: %v", e.Count, e.Err)
	default:
		s.log.Infof("%s", e)
	}
}

// --------------------------------------------------------------------------
// slog sink
// --------------------------------------------------------------------------

type slogSink struct {
	log *slog.Logger
}

// NewSlogSink returns an events.Sink that writes every event to log as a
// structured record
func NewSlogSink(log *slog.Logger) events.Sink {
	return slogSink{log: log}
}

func (s slogSink) Emit(e events.Event) {
	level := slog.LevelInfo
	switch e.Type {
	case events.TypeCompactionStarted, events.TypeSnapshotWritten:
		level = slog.LevelDebug
	case events.TypeCorruptRecordDiscarded:
		level = slog.LevelWarn
	case events.TypeCompactionFailed, events.TypePersistenceFailed:
		level = slog.LevelError
	}

	ctx := context.Background()
	if !s.log.Enabled(ctx, level) {
		return
	}

	attrs := make([]slog.Attr, 0, 8)
	if e.Path != "" {
		attrs = append(attrs, slog.String("path", e.Path))
	}
	if e.Map != "" {
		attrs = append(attrs, slog.String("map", e.Map))
	}
	if e.File != "" {
		attrs = append(attrs, slog.String("file", e.File))
	}
	if e.Seq != 0 {
		attrs = append(attrs, slog.Uint64("seq", e.Seq))
	}
	if e.Count != 0 {
		attrs = append(attrs, slog.Int64("count", e.Count))
	}
	if e.Bytes != 0 {
		attrs = append(attrs, slog.Int64("bytes", e.Bytes))
	}
	if e.Duration != 0 {
		attrs = append(attrs, slog.Duration("duration", e.Duration))
	}
	if e.Err != nil {
		attrs = append(attrs, slog.Any("err", e.Err))
	}
	s.log.LogAttrs(ctx, level, e.Type.String(), attrs...)
}
