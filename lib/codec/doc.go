// Package codec turns typed keys and values into the canonical byte sequences
// stored by mapdb, and back.
//
// A Codec must be deterministic (equal values always encode to equal bytes, so
// encoded keys can be compared byte-wise) and must satisfy the round-trip law
// Decode(Encode(v)) == v. Every payload starts with a one byte format version.
// Decoding a payload with an unknown version fails with a dberr.ErrFormat error,
// decoding empty, truncated or otherwise malformed bytes fails with a
// dberr.ErrCorruptData error. Decoders never panic on bad input.
//
// Key Components:
//
//   - Codec: the interface every implementation satisfies. Tag() returns a stable
//     identifier of the codec and the Go type it handles; the database records it
//     per map to detect a map being reopened with different types.
//
//   - Binary: compact fixed layout for strings, byte slices, booleans, integers,
//     floats and the unit type struct{} (and named types over them). Integers are
//     fixed width big endian.
//
//   - Gob: encoding/gob for arbitrary Go types. Deterministic for comparable
//     types, which covers every type usable as a key.
//
//   - JSON: encoding/json, human readable. Map keys are sorted so the output is
//     deterministic. Round trips only for types that JSON represents exactly.
//
//   - Proto: protobuf messages encoded with deterministic marshalling.
//
//   - For: picks Binary when the type is supported, otherwise Gob.
//
// Thread Safety:
//
//	All codecs are stateless and safe for concurrent use.
package codec
