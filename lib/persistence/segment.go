package persistence

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ValentinKolb/mapdb/lib/dberr"
	"github.com/ValentinKolb/mapdb/lib/vfs"
)

// --------------------------------------------------------------------------
// Log segments
// --------------------------------------------------------------------------

const (
	segmentMagic      = "MAPDBWAL"
	segmentVersion    = 1
	segmentHeaderSize = len(segmentMagic) + 1
	segmentPrefix     = "wal-"
	segmentSuffix     = ".log"
)

// segment is one log file. The id is the first sequence number that may be
// written to it, so segment ids grow with the log.
type segment struct {
	id   uint64
	path string
	size int64
}

func segmentName(id uint64) string {
	return fmt.Sprintf("%s%016x%s", segmentPrefix, id, segmentSuffix)
}

func parseSegmentName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, segmentPrefix) || !strings.HasSuffix(name, segmentSuffix) {
		return 0, false
	}
	id, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, segmentPrefix), segmentSuffix), 16, 64)
	return id, err == nil
}

func segmentHeader() []byte {
	return append([]byte(segmentMagic), segmentVersion)
}

// createSegment creates a new, synced segment holding only the header
func createSegment(fs vfs.FileSystem, dir string, id uint64) (vfs.File, *segment, error) {
	path := filepath.Join(dir, segmentName(id))
	f, err := fs.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create log segment: %w", err)
	}
	if _, err := f.Write(segmentHeader()); err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("failed to write log segment header: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("failed to sync log segment: %w", err)
	}
	if err := fs.SyncDir(dir); err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("failed to sync database directory: %w", err)
	}
	return f, &segment{id: id, path: path, size: int64(segmentHeaderSize)}, nil
}

// --------------------------------------------------------------------------
// Directory layout
// --------------------------------------------------------------------------

// layout is what listDir found in a database directory
type layout struct {
	segments  []*segment                 // sorted by id
	snapshots map[string][]*SnapshotMeta // per map, sorted by marker, newest last
	temps     []string                   // leftovers of interrupted snapshot writes
}

// listDir classifies the files in dir. Unknown files are ignored.
func listDir(fs vfs.FileSystem, dir string) (*layout, error) {
	entries, err := fs.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read database directory: %w", err)
	}

	l := &layout{snapshots: make(map[string][]*SnapshotMeta)}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		path := filepath.Join(dir, name)

		if strings.HasSuffix(name, tmpSuffix) {
			l.temps = append(l.temps, path)
			continue
		}
		if id, ok := parseSegmentName(name); ok {
			st, err := fs.Stat(path)
			if err != nil {
				return nil, fmt.Errorf("failed to stat log segment: %w", err)
			}
			l.segments = append(l.segments, &segment{id: id, path: path, size: st.Size()})
			continue
		}
		if mapName, marker, ok := parseSnapshotName(name); ok {
			l.snapshots[mapName] = append(l.snapshots[mapName], &SnapshotMeta{Map: mapName, Marker: marker, File: name})
		}
	}

	sort.Slice(l.segments, func(i, j int) bool { return l.segments[i].id < l.segments[j].id })
	for _, snaps := range l.snapshots {
		sort.Slice(snaps, func(i, j int) bool { return snaps[i].Marker < snaps[j].Marker })
	}
	return l, nil
}

// --------------------------------------------------------------------------
// Replay
// --------------------------------------------------------------------------

// replayResult summarizes the replay of one segment
type replayResult struct {
	records   int64  // records handed to fn
	maxSeq    uint64 // highest sequence number seen
	validSize int64  // bytes up to the end of the last intact record
	discarded int64  // bytes cut off a damaged tail
}

// replaySegment reads every record of seg and calls fn for it. A torn or
// damaged record is a crash artifact when it is in the last segment: the tail
// starting at that record is truncated. Anywhere else it is fatal.
func replaySegment(fs vfs.FileSystem, seg *segment, last bool, fn func(Record) error) (replayResult, error) {
	var res replayResult

	f, err := fs.OpenFile(seg.path, os.O_RDONLY, 0)
	if err != nil {
		return res, fmt.Errorf("failed to open log segment: %w", err)
	}

	br := bufio.NewReaderSize(f, ioBufferSize)
	header := make([]byte, segmentHeaderSize)
	if _, err := io.ReadFull(br, header); err != nil {
		_ = f.Close()
		if !last {
			return res, dberr.New(dberr.CodeCorruptData, "log segment %s: short header", filepath.Base(seg.path))
		}
		// crashed while creating the segment, start it over
		res.discarded = seg.size
		res.validSize = int64(segmentHeaderSize)
		return res, rewriteHeader(fs, seg)
	}
	if string(header[:len(segmentMagic)]) != segmentMagic {
		_ = f.Close()
		return res, dberr.New(dberr.CodeCorruptData, "log segment %s: bad magic", filepath.Base(seg.path))
	}
	if v := header[len(segmentMagic)]; v != segmentVersion {
		_ = f.Close()
		return res, dberr.New(dberr.CodeFormat, "log segment %s: unsupported version %d", filepath.Base(seg.path), v)
	}

	offset := int64(segmentHeaderSize)
	var damage error
	for {
		rec, n, err := readFrame(br, seg.size-offset)
		if err == io.EOF {
			break
		}
		if errors.Is(err, errTornRecord) || errors.Is(err, errChecksum) {
			damage = err
			break
		}
		if err != nil {
			_ = f.Close()
			return res, fmt.Errorf("log segment %s at offset %d: %w", filepath.Base(seg.path), offset, err)
		}

		if rec.Seq > res.maxSeq {
			res.maxSeq = rec.Seq
		}
		if err := fn(rec); err != nil {
			_ = f.Close()
			return res, err
		}
		res.records++
		offset += int64(n)
	}
	_ = f.Close()

	res.validSize = offset
	if damage == nil {
		return res, nil
	}
	if !last {
		return res, dberr.Wrap(dberr.CodeCorruptData, damage, "log segment %s at offset %d", filepath.Base(seg.path), offset)
	}

	res.discarded = seg.size - offset
	if err := fs.Truncate(seg.path, offset); err != nil {
		return res, fmt.Errorf("failed to truncate damaged log tail: %w", err)
	}
	seg.size = offset
	return res, nil
}

// rewriteHeader resets a segment whose header never made it to disk
func rewriteHeader(fs vfs.FileSystem, seg *segment) error {
	f, err := fs.OpenFile(seg.path, os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to reset log segment: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(segmentHeader()); err != nil {
		return fmt.Errorf("failed to reset log segment: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync log segment: %w", err)
	}
	seg.size = int64(segmentHeaderSize)
	return nil
}

// Exists reports whether dir already holds a database (any log segment or
// snapshot)
func Exists(fs vfs.FileSystem, dir string) (bool, error) {
	l, err := listDir(fs, dir)
	if err != nil {
		return false, err
	}
	return len(l.segments) > 0 || len(l.snapshots) > 0, nil
}
