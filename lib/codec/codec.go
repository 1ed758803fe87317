package codec

import (
	"fmt"
	"reflect"

	"github.com/ValentinKolb/mapdb/lib/dberr"
)

// FormatV1 is the current payload format version. It is the first byte of
// every encoded payload.
const FormatV1 byte = 1

// Codec encodes and decodes values of type T.
type Codec[T any] interface {
	// Encode returns the canonical, version prefixed encoding of v.
	Encode(v T) ([]byte, error)

	// Decode is the exact inverse of Encode.
	Decode(b []byte) (T, error)

	// Tag identifies the codec and the Go type, e.g. "binary:string".
	Tag() string
}

// For returns the default codec for T: Binary if T is a supported primitive,
// Gob otherwise.
func For[T any]() Codec[T] {
	if BinarySupports[T]() {
		return Binary[T]()
	}
	return Gob[T]()
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// typeName returns a stable name of T used in tags
func typeName[T any]() string {
	return reflect.TypeFor[T]().String()
}

// tag builds a codec tag
func tag[T any](codecName string) string {
	return fmt.Sprintf("%s:%s", codecName, typeName[T]())
}

// newPayload allocates a payload with the version prefix and room for n bytes
func newPayload(n int) []byte {
	buf := make([]byte, 1, 1+n)
	buf[0] = FormatV1
	return buf
}

// payload validates the version prefix and returns the body
func payload(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, dberr.New(dberr.CodeCorruptData, "empty payload")
	}
	if b[0] != FormatV1 {
		return nil, dberr.New(dberr.CodeFormat, "unknown codec format version %d", b[0])
	}
	return b[1:], nil
}

// corrupt wraps a decode failure
func corrupt(codecName string, err error) error {
	return dberr.Wrap(dberr.CodeCorruptData, err, "%s decode", codecName)
}
