package persistence

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/ValentinKolb/mapdb/lib/dberr"
)

// --------------------------------------------------------------------------
// Log Record
// --------------------------------------------------------------------------

// Op is the operation tag of a log record
type Op byte

const (
	OpRegister Op = iota + 1 // Map creation, Key = key type tag, Value = value type tag
	OpPut                    // Insert or replace Key with Value
	OpRemove                 // Delete Key
	OpClear                  // Delete every key of the map written before this record
)

func (o Op) String() string {
	switch o {
	case OpRegister:
		return "Register"
	case OpPut:
		return "Put"
	case OpRemove:
		return "Remove"
	case OpClear:
		return "Clear"
	default:
		return fmt.Sprintf("Op(%d)", byte(o))
	}
}

// Record is one logged mutation. Seq is assigned by the engine when the record
// is appended.
type Record struct {
	Op    Op
	Seq   uint64
	Map   string
	Key   []byte
	Value []byte
}

// Record frame layout (little endian):
//
//	len     u32  length of the payload
//	crc     u32  CRC-32C of the payload
//	payload:
//	  version u8
//	  op      u8
//	  seq     u64
//	  mapLen  u16, map
//	  keyLen  u32, key
//	  valLen  u32, value
const (
	recordVersion   = 1
	frameHeaderSize = 8
	payloadFixed    = 1 + 1 + 8 + 2 + 4 + 4
	maxMapNameLen   = 1<<16 - 1
	maxPayloadSize  = 1 << 30
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

var (
	// errTornRecord marks a record cut short by a crash
	errTornRecord = errors.New("torn record")
	// errChecksum marks a record whose payload does not match its checksum
	errChecksum = errors.New("record checksum mismatch")
)

// validate checks the record can be framed
func (r *Record) validate() error {
	if len(r.Map) > maxMapNameLen {
		return dberr.New(dberr.CodePersistence, "map name too long (%d bytes)", len(r.Map))
	}
	if r.payloadSize() > maxPayloadSize {
		return dberr.New(dberr.CodePersistence, "record too large (%d bytes)", r.payloadSize())
	}
	return nil
}

func (r *Record) payloadSize() int {
	return payloadFixed + len(r.Map) + len(r.Key) + len(r.Value)
}

// frameSize returns the number of bytes the record occupies in the log
func (r *Record) frameSize() int {
	return frameHeaderSize + r.payloadSize()
}

// appendFrame appends the framed record to buf
func appendFrame(buf []byte, r *Record) []byte {
	start := len(buf)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(r.payloadSize()))
	buf = binary.LittleEndian.AppendUint32(buf, 0) // crc, patched below

	body := len(buf)
	buf = append(buf, recordVersion, byte(r.Op))
	buf = binary.LittleEndian.AppendUint64(buf, r.Seq)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(r.Map)))
	buf = append(buf, r.Map...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(r.Key)))
	buf = append(buf, r.Key...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(r.Value)))
	buf = append(buf, r.Value...)

	binary.LittleEndian.PutUint32(buf[start+4:], crc32Checksum(buf[body:]))
	return buf
}

// readFrame reads one framed record. It returns io.EOF at a clean end of the
// log, errTornRecord if the log ends inside a record and errChecksum for a
// damaged payload. n is the number of bytes the record occupied.
func readFrame(r *bufio.Reader, remaining int64) (rec Record, n int, err error) {
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return rec, 0, io.EOF
		}
		return rec, 0, errTornRecord
	}

	size := int64(binary.LittleEndian.Uint32(hdr[0:4]))
	sum := binary.LittleEndian.Uint32(hdr[4:8])

	// a crash can leave garbage in the length field, never trust it beyond the file end
	if size > remaining-frameHeaderSize {
		return rec, 0, errTornRecord
	}
	if size < payloadFixed || size > maxPayloadSize {
		return rec, 0, errChecksum
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return rec, 0, errTornRecord
	}
	if crc32Checksum(payload) != sum {
		return rec, 0, errChecksum
	}

	rec, err = decodePayload(payload)
	return rec, frameHeaderSize + int(size), err
}

// decodePayload parses a checksummed payload
func decodePayload(p []byte) (Record, error) {
	var rec Record

	if p[0] != recordVersion {
		return rec, dberr.New(dberr.CodeFormat, "unknown log record version %d", p[0])
	}
	rec.Op = Op(p[1])
	if rec.Op < OpRegister || rec.Op > OpClear {
		return rec, dberr.New(dberr.CodeCorruptData, "unknown log record op %d", p[1])
	}
	rec.Seq = binary.LittleEndian.Uint64(p[2:10])
	pos := 10

	next := func(lenSize int) ([]byte, error) {
		if pos+lenSize > len(p) {
			return nil, dberr.New(dberr.CodeCorruptData, "log record truncated at offset %d", pos)
		}
		var l int
		if lenSize == 2 {
			l = int(binary.LittleEndian.Uint16(p[pos:]))
		} else {
			l = int(binary.LittleEndian.Uint32(p[pos:]))
		}
		pos += lenSize
		if l < 0 || pos+l > len(p) {
			return nil, dberr.New(dberr.CodeCorruptData, "log record field overflows payload at offset %d", pos)
		}
		b := p[pos : pos+l]
		pos += l
		return b, nil
	}

	name, err := next(2)
	if err != nil {
		return rec, err
	}
	key, err := next(4)
	if err != nil {
		return rec, err
	}
	value, err := next(4)
	if err != nil {
		return rec, err
	}
	if pos != len(p) {
		return rec, dberr.New(dberr.CodeCorruptData, "log record has %d trailing bytes", len(p)-pos)
	}

	rec.Map = string(name)
	rec.Key = key
	rec.Value = value
	return rec, nil
}

func crc32Checksum(p []byte) uint32 {
	return crc32.Checksum(p, crcTable)
}
