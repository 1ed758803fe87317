package codec

import (
	"bytes"
	"encoding/json"

	"github.com/ValentinKolb/mapdb/lib/dberr"
)

// JSON returns a codec using encoding/json.
func JSON[T any]() Codec[T] {
	return jsonCodec[T]{}
}

type jsonCodec[T any] struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.Codec)
// --------------------------------------------------------------------------

func (jsonCodec[T]) Tag() string {
	return tag[T]("json")
}

func (jsonCodec[T]) Encode(v T) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, dberr.Wrap(dberr.CodeUnknown, err, "json encode %s", typeName[T]())
	}
	return append(newPayload(len(data)), data...), nil
}

func (jsonCodec[T]) Decode(b []byte) (T, error) {
	var out T

	body, err := payload(b)
	if err != nil {
		return out, err
	}
	if !json.Valid(body) {
		return out, dberr.New(dberr.CodeCorruptData, "json decode: invalid document")
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&out); err != nil {
		return out, corrupt("json", err)
	}
	return out, nil
}
