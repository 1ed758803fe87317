package codec

import (
	"bytes"
	"encoding/gob"

	"github.com/ValentinKolb/mapdb/lib/dberr"
)

// Gob returns a codec using encoding/gob.
//
// Gob output is deterministic for values without Go maps, which includes all
// comparable types. Do not use Gob for keys of types containing maps.
func Gob[T any]() Codec[T] {
	return gobCodec[T]{}
}

type gobCodec[T any] struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.Codec)
// --------------------------------------------------------------------------

func (gobCodec[T]) Tag() string {
	return tag[T]("gob")
}

func (gobCodec[T]) Encode(v T) ([]byte, error) {
	buf := bytes.NewBuffer(newPayload(64))
	if err := gob.NewEncoder(buf).Encode(&v); err != nil {
		return nil, dberr.Wrap(dberr.CodeUnknown, err, "gob encode %s", typeName[T]())
	}
	return buf.Bytes(), nil
}

func (gobCodec[T]) Decode(b []byte) (T, error) {
	var out T

	body, err := payload(b)
	if err != nil {
		return out, err
	}

	r := bytes.NewReader(body)
	if err := gob.NewDecoder(r).Decode(&out); err != nil {
		return out, corrupt("gob", err)
	}
	if r.Len() != 0 {
		return out, dberr.New(dberr.CodeCorruptData, "gob decode: %d trailing bytes", r.Len())
	}
	return out, nil
}
