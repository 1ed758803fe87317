package persistence

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/ValentinKolb/mapdb/lib/dberr"
	"github.com/ValentinKolb/mapdb/lib/vfs"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	snapshotMagic   = "MAPDBSNP"
	snapshotVersion = 1
	snapshotPrefix  = "snap-"
	snapshotSuffix  = ".snap"
	tmpSuffix       = ".tmp"
	ioBufferSize    = 1024 * 1024 // 1MB buffer, like the maple engine's Save/Load

	entryMarker = 1 // precedes every entry
	endMarker   = 0 // terminates the entry list
)

// Compression selects how snapshot bodies are compressed
type Compression byte

const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionLZ4
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("compression(%d)", byte(c))
	}
}

// ParseCompression converts a name (none, zstd, lz4) to a Compression
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return 0, fmt.Errorf("invalid compression %q. must be one of none, zstd, lz4", s)
	}
}

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// SnapshotEntry is one live key of a map at capture time
type SnapshotEntry struct {
	Key   []byte
	Value []byte
	Seq   uint64
}

// SnapshotMeta describes a snapshot file
type SnapshotMeta struct {
	Map      string
	KeyTag   string
	ValueTag string
	Marker   uint64 // every mutation of the map with a sequence number <= Marker is reflected
	Count    int64
	Bytes    int64
	File     string // base name inside the database directory
}

// snapshotName returns the file name for a snapshot of mapName at marker. The
// map name is hex encoded so any name maps to a valid file name.
func snapshotName(mapName string, marker uint64) string {
	return fmt.Sprintf("%s%s-%016x%s", snapshotPrefix, hex.EncodeToString([]byte(mapName)), marker, snapshotSuffix)
}

// parseSnapshotName is the inverse of snapshotName
func parseSnapshotName(name string) (mapName string, marker uint64, ok bool) {
	if !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, snapshotSuffix) {
		return "", 0, false
	}
	body := strings.TrimSuffix(strings.TrimPrefix(name, snapshotPrefix), snapshotSuffix)
	i := strings.LastIndexByte(body, '-')
	if i < 0 {
		return "", 0, false
	}
	raw, err := hex.DecodeString(body[:i])
	if err != nil {
		return "", 0, false
	}
	marker, err = strconv.ParseUint(body[i+1:], 16, 64)
	if err != nil {
		return "", 0, false
	}
	return string(raw), marker, true
}

// --------------------------------------------------------------------------
// Writing
// --------------------------------------------------------------------------

// Snapshot file layout:
//
//	magic       8 bytes "MAPDBSNP"
//	version     u8
//	compression u8
//	body (compressed as selected, little endian):
//	  mapLen u16, map
//	  keyTagLen u16, keyTag
//	  valueTagLen u16, valueTag
//	  marker u64
//	  entries: (entryMarker u8, keyLen u32, key, seq u64, valLen u32, value)*
//	  endMarker u8
//	  count u64
//	  crc u32 (CRC-32C of the uncompressed body up to and including count)

// checksumWriter forwards writes and updates a running crc
type checksumWriter struct {
	w   io.Writer
	crc hash.Hash32
	err error
}

func (cw *checksumWriter) write(p []byte) {
	if cw.err != nil {
		return
	}
	if _, err := cw.w.Write(p); err != nil {
		cw.err = err
		return
	}
	cw.crc.Write(p)
}

func (cw *checksumWriter) writeString16(s string) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], uint16(len(s)))
	cw.write(b[:])
	cw.write([]byte(s))
}

// compressWriter wraps w with the selected compression
func compressWriter(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case CompressionNone:
		return nopWriteCloser{w}, nil
	case CompressionZstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	default:
		return nil, dberr.New(dberr.CodeFormat, "unknown snapshot compression %d", c)
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// writeSnapshot writes the entries of meta.Map atomically into dir: the data
// goes to a temporary file which is synced, renamed and made durable with a
// directory sync. The returned meta has Count, Bytes and File filled in.
func writeSnapshot(ctx context.Context, fs vfs.FileSystem, dir string, meta SnapshotMeta, entries iter.Seq[SnapshotEntry], compression Compression) (_ SnapshotMeta, err error) {
	if len(meta.Map) > maxMapNameLen || len(meta.KeyTag) > maxMapNameLen || len(meta.ValueTag) > maxMapNameLen {
		return meta, dberr.New(dberr.CodePersistence, "snapshot header field too long")
	}

	meta.File = snapshotName(meta.Map, meta.Marker)
	final := filepath.Join(dir, meta.File)
	tmp := final + tmpSuffix

	f, err := fs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return meta, fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = fs.Remove(tmp)
		}
	}()

	bw := bufio.NewWriterSize(f, ioBufferSize)

	header := make([]byte, 0, len(snapshotMagic)+2)
	header = append(header, snapshotMagic...)
	header = append(header, snapshotVersion, byte(compression))
	if _, err = bw.Write(header); err != nil {
		return meta, fmt.Errorf("failed to write snapshot header: %w", err)
	}

	zw, err := compressWriter(bw, compression)
	if err != nil {
		return meta, err
	}

	cw := &checksumWriter{w: zw, crc: crc32.New(crcTable)}
	cw.writeString16(meta.Map)
	cw.writeString16(meta.KeyTag)
	cw.writeString16(meta.ValueTag)

	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], meta.Marker)
	cw.write(b[:])

	var count int64
	for e := range entries {
		if count%1024 == 0 {
			if err = ctx.Err(); err != nil {
				return meta, err
			}
		}
		cw.write([]byte{entryMarker})
		binary.LittleEndian.PutUint32(b[:4], uint32(len(e.Key)))
		cw.write(b[:4])
		cw.write(e.Key)
		binary.LittleEndian.PutUint64(b[:], e.Seq)
		cw.write(b[:])
		binary.LittleEndian.PutUint32(b[:4], uint32(len(e.Value)))
		cw.write(b[:4])
		cw.write(e.Value)
		if cw.err != nil {
			break
		}
		count++
	}

	cw.write([]byte{endMarker})
	binary.LittleEndian.PutUint64(b[:], uint64(count))
	cw.write(b[:])
	if cw.err != nil {
		return meta, fmt.Errorf("failed to write snapshot body: %w", cw.err)
	}

	// the checksum itself is not part of the checksummed data
	binary.LittleEndian.PutUint32(b[:4], cw.crc.Sum32())
	if _, err = zw.Write(b[:4]); err != nil {
		return meta, fmt.Errorf("failed to write snapshot checksum: %w", err)
	}

	if err = zw.Close(); err != nil {
		return meta, fmt.Errorf("failed to finish snapshot compression: %w", err)
	}
	if err = bw.Flush(); err != nil {
		return meta, fmt.Errorf("failed to flush snapshot: %w", err)
	}
	if err = f.Sync(); err != nil {
		return meta, fmt.Errorf("failed to sync snapshot: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		return meta, fmt.Errorf("failed to stat snapshot: %w", err)
	}
	if err = f.Close(); err != nil {
		return meta, fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err = fs.Rename(tmp, final); err != nil {
		return meta, fmt.Errorf("failed to rename snapshot: %w", err)
	}
	if err = fs.SyncDir(dir); err != nil {
		return meta, fmt.Errorf("failed to sync database directory: %w", err)
	}

	meta.Count = count
	meta.Bytes = st.Size()
	return meta, nil
}

// --------------------------------------------------------------------------
// Reading
// --------------------------------------------------------------------------

// checksumReader reads fully and updates a running crc
type checksumReader struct {
	r   io.Reader
	crc hash.Hash32
}

func (cr *checksumReader) read(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(cr.r, buf); err != nil {
		return nil, err
	}
	cr.crc.Write(buf)
	return buf, nil
}

func (cr *checksumReader) readUint(size int) (uint64, error) {
	b, err := cr.read(size)
	if err != nil {
		return 0, err
	}
	switch size {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(b)), nil
	default:
		return binary.LittleEndian.Uint64(b), nil
	}
}

func (cr *checksumReader) readString16() (string, error) {
	n, err := cr.readUint(2)
	if err != nil {
		return "", err
	}
	b, err := cr.read(int(n))
	return string(b), err
}

// decompressReader wraps r with the selected decompression
func decompressReader(r io.Reader, c Compression) (io.Reader, func(), error) {
	switch c {
	case CompressionNone:
		return r, func() {}, nil
	case CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr, zr.Close, nil
	case CompressionLZ4:
		return lz4.NewReader(r), func() {}, nil
	default:
		return nil, nil, dberr.New(dberr.CodeFormat, "unknown snapshot compression %d", c)
	}
}

// readSnapshot reads and validates the snapshot at path. onHeader (optional) is
// called once the header is read, fn for every entry. The snapshot is only
// valid if readSnapshot returns nil, callers must be prepared to discard what
// they received on error.
//
// Damaged data fails with a dberr.ErrCorruptData error, an unknown version or
// compression with a dberr.ErrFormat error.
func readSnapshot(fs vfs.FileSystem, path string, onHeader func(SnapshotMeta) error, fn func(SnapshotEntry) error) (SnapshotMeta, error) {
	meta := SnapshotMeta{File: filepath.Base(path)}

	f, err := fs.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return meta, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	if st, err := f.Stat(); err == nil {
		meta.Bytes = st.Size()
	}

	br := bufio.NewReaderSize(f, ioBufferSize)
	header := make([]byte, len(snapshotMagic)+2)
	if _, err := io.ReadFull(br, header); err != nil {
		return meta, dberr.Wrap(dberr.CodeCorruptData, err, "snapshot %s: short header", meta.File)
	}
	if string(header[:len(snapshotMagic)]) != snapshotMagic {
		return meta, dberr.New(dberr.CodeCorruptData, "snapshot %s: bad magic", meta.File)
	}
	if v := header[len(snapshotMagic)]; v != snapshotVersion {
		return meta, dberr.New(dberr.CodeFormat, "snapshot %s: unsupported version %d", meta.File, v)
	}

	zr, release, err := decompressReader(br, Compression(header[len(snapshotMagic)+1]))
	if err != nil {
		return meta, err
	}
	defer release()

	cr := &checksumReader{r: zr, crc: crc32.New(crcTable)}
	corrupt := func(err error, what string) error {
		var de *dberr.Error
		if errors.As(err, &de) {
			return err
		}
		return dberr.Wrap(dberr.CodeCorruptData, err, "snapshot %s: %s", meta.File, what)
	}

	if meta.Map, err = cr.readString16(); err != nil {
		return meta, corrupt(err, "read map name")
	}
	if meta.KeyTag, err = cr.readString16(); err != nil {
		return meta, corrupt(err, "read key tag")
	}
	if meta.ValueTag, err = cr.readString16(); err != nil {
		return meta, corrupt(err, "read value tag")
	}
	if meta.Marker, err = cr.readUint(8); err != nil {
		return meta, corrupt(err, "read marker")
	}
	if onHeader != nil {
		if err := onHeader(meta); err != nil {
			return meta, err
		}
	}

	for {
		marker, err := cr.readUint(1)
		if err != nil {
			return meta, corrupt(err, "read entry marker")
		}
		if marker == endMarker {
			break
		}
		if marker != entryMarker {
			return meta, dberr.New(dberr.CodeCorruptData, "snapshot %s: bad entry marker %d", meta.File, marker)
		}

		keyLen, err := cr.readUint(4)
		if err != nil || keyLen > maxPayloadSize {
			return meta, corrupt(err, "read key length")
		}
		key, err := cr.read(int(keyLen))
		if err != nil {
			return meta, corrupt(err, "read key")
		}
		seq, err := cr.readUint(8)
		if err != nil {
			return meta, corrupt(err, "read sequence")
		}
		valLen, err := cr.readUint(4)
		if err != nil || valLen > maxPayloadSize {
			return meta, corrupt(err, "read value length")
		}
		value, err := cr.read(int(valLen))
		if err != nil {
			return meta, corrupt(err, "read value")
		}

		if err := fn(SnapshotEntry{Key: key, Value: value, Seq: seq}); err != nil {
			return meta, err
		}
		meta.Count++
	}

	count, err := cr.readUint(8)
	if err != nil {
		return meta, corrupt(err, "read count")
	}
	want := cr.crc.Sum32()

	var sum [4]byte
	if _, err := io.ReadFull(zr, sum[:]); err != nil {
		return meta, corrupt(err, "read checksum")
	}
	if binary.LittleEndian.Uint32(sum[:]) != want {
		return meta, dberr.New(dberr.CodeCorruptData, "snapshot %s: checksum mismatch", meta.File)
	}
	if int64(count) != meta.Count {
		return meta, dberr.New(dberr.CodeCorruptData, "snapshot %s: expected %d entries, found %d", meta.File, count, meta.Count)
	}

	return meta, nil
}
