package codec

import (
	"bytes"
	"errors"
	"math"
	"reflect"
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/ValentinKolb/mapdb/lib/dberr"
)

type userID string

type user struct {
	Name  string
	Age   int
	Email string
	Tags  []string
}

// roundTrip encodes and decodes v and fails the test if the result differs
func roundTrip[T any](t *testing.T, c Codec[T], v T) {
	t.Helper()

	encoded, err := c.Encode(v)
	if err != nil {
		t.Fatalf("%s: encode %v: %v", c.Tag(), v, err)
	}
	if encoded[0] != FormatV1 {
		t.Fatalf("%s: expected version prefix %d, got %d", c.Tag(), FormatV1, encoded[0])
	}

	again, err := c.Encode(v)
	if err != nil || !bytes.Equal(encoded, again) {
		t.Errorf("%s: encoding of %v is not deterministic", c.Tag(), v)
	}

	decoded, err := c.Decode(encoded)
	if err != nil {
		t.Fatalf("%s: decode %v: %v", c.Tag(), v, err)
	}
	if !reflect.DeepEqual(v, decoded) {
		t.Errorf("%s: round trip mismatch: want %#v, got %#v", c.Tag(), v, decoded)
	}
}

func TestBinaryRoundTrip(t *testing.T) {
	for _, v := range []string{"", "a", "hello world", "ünïcödé", string([]byte{0, 1, 2})} {
		roundTrip(t, Binary[string](), v)
	}
	for _, v := range [][]byte{{}, {0}, []byte("bytes")} {
		roundTrip(t, Binary[[]byte](), v)
	}
	for _, v := range []int{0, 1, -1, math.MaxInt, math.MinInt} {
		roundTrip(t, Binary[int](), v)
	}
	for _, v := range []int8{0, -128, 127} {
		roundTrip(t, Binary[int8](), v)
	}
	for _, v := range []int16{0, math.MinInt16, math.MaxInt16} {
		roundTrip(t, Binary[int16](), v)
	}
	for _, v := range []int32{0, math.MinInt32, math.MaxInt32} {
		roundTrip(t, Binary[int32](), v)
	}
	for _, v := range []uint64{0, 1, math.MaxUint64} {
		roundTrip(t, Binary[uint64](), v)
	}
	for _, v := range []uint16{0, math.MaxUint16} {
		roundTrip(t, Binary[uint16](), v)
	}
	for _, v := range []float32{0, -1.5, math.MaxFloat32} {
		roundTrip(t, Binary[float32](), v)
	}
	for _, v := range []float64{0, math.Pi, math.Inf(-1), math.SmallestNonzeroFloat64} {
		roundTrip(t, Binary[float64](), v)
	}
	roundTrip(t, Binary[bool](), true)
	roundTrip(t, Binary[bool](), false)
	roundTrip(t, Binary[struct{}](), struct{}{})
	roundTrip(t, Binary[userID](), userID("u-42"))
}

func TestGobAndJSONRoundTrip(t *testing.T) {
	users := []user{
		{Name: "alice", Age: 30, Email: "alice@example.com", Tags: []string{"admin"}},
		{Name: "bob", Age: 0},
	}
	for _, u := range users {
		roundTrip(t, Gob[user](), u)
		roundTrip(t, JSON[user](), u)
	}
	roundTrip(t, Gob[string](), "gob string")
	roundTrip(t, JSON[map[string]int](), map[string]int{"b": 2, "a": 1, "c": 3})
}

func TestProtoRoundTrip(t *testing.T) {
	c := Proto(func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} })
	for _, s := range []string{"", "proto value"} {
		encoded, err := c.Encode(wrapperspb.String(s))
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		decoded, err := c.Decode(encoded)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !proto.Equal(wrapperspb.String(s), decoded) {
			t.Errorf("expected %q, got %q", s, decoded.GetValue())
		}
	}

	ts := Proto(func() *timestamppb.Timestamp { return &timestamppb.Timestamp{} })
	if ts.Tag() != "proto:google.protobuf.Timestamp" {
		t.Errorf("unexpected tag %s", ts.Tag())
	}
}

func TestFor(t *testing.T) {
	if got := For[string]().Tag(); got != "binary:string" {
		t.Errorf("expected binary codec for string, got %s", got)
	}
	if got := For[user]().Tag(); got != "gob:codec.user" {
		t.Errorf("expected gob codec for struct, got %s", got)
	}
	if BinarySupports[[]string]() {
		t.Errorf("binary codec should not support []string")
	}
}

func TestBinaryPanicsOnUnsupportedType(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("expected panic for unsupported type")
		}
	}()
	Binary[map[string]string]()
}

func TestUnknownVersion(t *testing.T) {
	payload := []byte{FormatV1 + 1, 'x'}

	if _, err := Binary[string]().Decode(payload); !errors.Is(err, dberr.ErrFormat) {
		t.Errorf("binary: expected FormatError, got %v", err)
	}
	if _, err := Gob[user]().Decode(payload); !errors.Is(err, dberr.ErrFormat) {
		t.Errorf("gob: expected FormatError, got %v", err)
	}
	if _, err := JSON[user]().Decode(payload); !errors.Is(err, dberr.ErrFormat) {
		t.Errorf("json: expected FormatError, got %v", err)
	}
}

func TestCorruptPayloads(t *testing.T) {
	cases := map[string]func([]byte) error{
		"binary-string": func(b []byte) error { _, err := Binary[string]().Decode(b); return err },
		"binary-int64":  func(b []byte) error { _, err := Binary[int64]().Decode(b); return err },
		"binary-bool":   func(b []byte) error { _, err := Binary[bool]().Decode(b); return err },
		"gob":           func(b []byte) error { _, err := Gob[user]().Decode(b); return err },
		"json":          func(b []byte) error { _, err := JSON[user]().Decode(b); return err },
		"proto": func(b []byte) error {
			_, err := Proto(func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} }).Decode(b)
			return err
		},
	}

	inputs := map[string][]byte{
		"empty":     {},
		"truncated": {FormatV1, 0x00, 0x01},
		"garbage":   {FormatV1, 0xff, 0xfe, 0xfd, 0xfc, 0xfb, 0xfa, 0xf9, 0xf8, 0xf7},
	}

	for name, decode := range cases {
		for inputName, input := range inputs {
			err := decode(input)
			if name == "binary-string" && inputName != "empty" {
				// every non-empty body is a valid string
				continue
			}
			if err == nil {
				t.Errorf("%s/%s: expected error", name, inputName)
				continue
			}
			if !errors.Is(err, dberr.ErrCorruptData) {
				t.Errorf("%s/%s: expected CorruptDataError, got %v", name, inputName, err)
			}
		}
	}
}

func TestEncodedKeysAreComparable(t *testing.T) {
	c := Binary[uint32]()
	a, _ := c.Encode(1)
	b, _ := c.Encode(256)
	if bytes.Compare(a, b) >= 0 {
		t.Errorf("expected big endian encoding to preserve order")
	}
}
