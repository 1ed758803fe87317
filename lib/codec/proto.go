package codec

import (
	"google.golang.org/protobuf/proto"

	"github.com/ValentinKolb/mapdb/lib/dberr"
)

// Proto returns a codec for protobuf messages. newMsg must return a fresh,
// empty message of type T (for example func() *pb.User { return &pb.User{} }).
func Proto[T proto.Message](newMsg func() T) Codec[T] {
	return protoCodec[T]{newMsg: newMsg}
}

type protoCodec[T proto.Message] struct {
	newMsg func() T
}

var deterministic = proto.MarshalOptions{Deterministic: true}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.Codec)
// --------------------------------------------------------------------------

func (c protoCodec[T]) Tag() string {
	return "proto:" + string(c.newMsg().ProtoReflect().Descriptor().FullName())
}

func (c protoCodec[T]) Encode(v T) ([]byte, error) {
	out, err := deterministic.MarshalAppend(newPayload(proto.Size(v)), v)
	if err != nil {
		return nil, dberr.Wrap(dberr.CodeUnknown, err, "proto encode %T", v)
	}
	return out, nil
}

func (c protoCodec[T]) Decode(b []byte) (T, error) {
	msg := c.newMsg()

	body, err := payload(b)
	if err != nil {
		return msg, err
	}
	if err := proto.Unmarshal(body, msg); err != nil {
		return msg, corrupt("proto", err)
	}
	return msg, nil
}
