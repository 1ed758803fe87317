package codec

import (
	"encoding/binary"
	"math"
	"reflect"

	"github.com/ValentinKolb/mapdb/lib/dberr"
)

// binaryCodec implements Codec for primitive kinds using a fixed layout:
//
//	string, []byte : raw bytes
//	bool           : 1 byte (0 or 1)
//	int8 .. int64  : 1, 2, 4, 8 bytes big endian (int and uint always 8)
//	float32/64     : IEEE-754 bits, big endian
//	struct{}       : empty
type binaryCodec[T any] struct {
	typ  reflect.Type
	kind reflect.Kind
	size int // fixed body size, -1 for variable length kinds
}

// BinarySupports reports whether Binary can handle T.
func BinarySupports[T any]() bool {
	_, ok := binaryLayout(reflect.TypeFor[T]())
	return ok
}

// Binary returns the binary codec for T. It panics if T is not supported, use
// BinarySupports to check first.
func Binary[T any]() Codec[T] {
	typ := reflect.TypeFor[T]()
	size, ok := binaryLayout(typ)
	if !ok {
		panic("codec: binary codec does not support type " + typ.String())
	}
	return &binaryCodec[T]{typ: typ, kind: typ.Kind(), size: size}
}

// binaryLayout returns the fixed body size of t (-1 for variable length)
func binaryLayout(t reflect.Type) (int, bool) {
	switch t.Kind() {
	case reflect.String:
		return -1, true
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return -1, true
		}
	case reflect.Bool, reflect.Int8, reflect.Uint8:
		return 1, true
	case reflect.Int16, reflect.Uint16:
		return 2, true
	case reflect.Int32, reflect.Uint32, reflect.Float32:
		return 4, true
	case reflect.Int, reflect.Int64, reflect.Uint, reflect.Uint64, reflect.Uintptr, reflect.Float64:
		return 8, true
	case reflect.Struct:
		if t.NumField() == 0 {
			return 0, true
		}
	}
	return 0, false
}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.Codec)
// --------------------------------------------------------------------------

func (c *binaryCodec[T]) Tag() string {
	return tag[T]("binary")
}

func (c *binaryCodec[T]) Encode(v T) ([]byte, error) {
	rv := reflect.ValueOf(&v).Elem()

	switch c.kind {
	case reflect.String:
		s := rv.String()
		return append(newPayload(len(s)), s...), nil
	case reflect.Slice:
		b := rv.Bytes()
		return append(newPayload(len(b)), b...), nil
	case reflect.Struct:
		return newPayload(0), nil
	}

	buf := newPayload(c.size)
	var bits uint64
	switch c.kind {
	case reflect.Bool:
		if rv.Bool() {
			bits = 1
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		bits = uint64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		bits = rv.Uint()
	case reflect.Float32:
		bits = uint64(math.Float32bits(float32(rv.Float())))
	case reflect.Float64:
		bits = math.Float64bits(rv.Float())
	}

	switch c.size {
	case 1:
		buf = append(buf, byte(bits))
	case 2:
		buf = binary.BigEndian.AppendUint16(buf, uint16(bits))
	case 4:
		buf = binary.BigEndian.AppendUint32(buf, uint32(bits))
	case 8:
		buf = binary.BigEndian.AppendUint64(buf, bits)
	}
	return buf, nil
}

func (c *binaryCodec[T]) Decode(b []byte) (T, error) {
	var out T

	body, err := payload(b)
	if err != nil {
		return out, err
	}
	if c.size >= 0 && len(body) != c.size {
		return out, dberr.New(dberr.CodeCorruptData, "binary decode %s: expected %d bytes, got %d", c.typ, c.size, len(body))
	}

	rv := reflect.ValueOf(&out).Elem()
	switch c.kind {
	case reflect.String:
		rv.SetString(string(body))
		return out, nil
	case reflect.Slice:
		cp := make([]byte, len(body))
		copy(cp, body)
		rv.SetBytes(cp)
		return out, nil
	case reflect.Struct:
		return out, nil
	}

	var bits uint64
	switch c.size {
	case 1:
		bits = uint64(body[0])
	case 2:
		bits = uint64(binary.BigEndian.Uint16(body))
	case 4:
		bits = uint64(binary.BigEndian.Uint32(body))
	case 8:
		bits = binary.BigEndian.Uint64(body)
	}

	switch c.kind {
	case reflect.Bool:
		if bits > 1 {
			return out, dberr.New(dberr.CodeCorruptData, "binary decode %s: invalid bool byte %d", c.typ, bits)
		}
		rv.SetBool(bits == 1)
	case reflect.Int8:
		rv.SetInt(int64(int8(bits)))
	case reflect.Int16:
		rv.SetInt(int64(int16(bits)))
	case reflect.Int32:
		rv.SetInt(int64(int32(bits)))
	case reflect.Int, reflect.Int64:
		if rv.OverflowInt(int64(bits)) {
			return out, dberr.New(dberr.CodeCorruptData, "binary decode %s: value overflows", c.typ)
		}
		rv.SetInt(int64(bits))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if rv.OverflowUint(bits) {
			return out, dberr.New(dberr.CodeCorruptData, "binary decode %s: value overflows", c.typ)
		}
		rv.SetUint(bits)
	case reflect.Float32:
		rv.SetFloat(float64(math.Float32frombits(uint32(bits))))
	case reflect.Float64:
		rv.SetFloat(math.Float64frombits(bits))
	}
	return out, nil
}
