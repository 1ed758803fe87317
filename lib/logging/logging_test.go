package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ValentinKolb/mapdb/lib/events"
)

func TestParseLogLevel(t *testing.T) {
	tests := map[string]logger.LogLevel{
		"debug":   logger.DEBUG,
		"INFO":    logger.INFO,
		"warn":    logger.WARNING,
		"warning": logger.WARNING,
		"error":   logger.ERROR,
	}
	for in, want := range tests {
		got, err := ParseLogLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLogLevel("verbose")
	assert.Error(t, err)
	_, err = ParseSlogLevel("verbose")
	assert.Error(t, err)
}

func TestLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(nil) })

	l := CreateLogger("persistence")
	l.Infof("hello %d", 42)
	l.Debugf("hidden")

	line := buf.String()
	assert.Contains(t, line, "INFO  | persistence     | hello 42")
	assert.NotContains(t, line, "hidden")

	l.SetLevel(logger.DEBUG)
	l.Debugf("visible")
	assert.Contains(t, buf.String(), "DEBUG | persistence     | visible")
}

func TestLoggerSink(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(nil) })

	sink := NewLoggerSink(CreateLogger("mapdb"))
	sink.Emit(events.Event{Type: events.TypeMapCreated, Map: "users"})
	sink.Emit(events.Event{Type: events.TypeCompactionFailed, Err: errors.New("disk full")})
	sink.Emit(events.Event{Type: events.TypeSnapshotWritten, Map: "users"}) // debug, filtered

	out := buf.String()
	assert.Contains(t, out, `created map "users"`)
	assert.Contains(t, out, "ERROR | mapdb")
	assert.Contains(t, out, "disk full")
	assert.NotContains(t, out, "snapshot of map")
}

func TestSlogSink(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	sink := NewSlogSink(log)
	sink.Emit(events.Event{Type: events.TypeCorruptRecordDiscarded, File: "wal-0000000000000001.log", Bytes: 17})
	sink.Emit(events.Event{Type: events.TypeCompactionStarted, Bytes: 100}) // debug, filtered

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "\n"))
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "msg=CorruptRecordDiscarded")
	assert.Contains(t, out, "bytes=17")
}
