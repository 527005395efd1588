package codec

import "google.golang.org/protobuf/proto"

// Protobuf stores proto messages. fresh returns an empty message to decode
// into, e.g. func() *pb.Cart { return new(pb.Cart) }.
type Protobuf[T proto.Message] struct {
	fresh func() T
	opts  proto.MarshalOptions
}

func NewProtobuf[T proto.Message](fresh func() T) Protobuf[T] {
	return Protobuf[T]{fresh: fresh, opts: proto.MarshalOptions{Deterministic: true}}
}

func (c Protobuf[T]) Encode(v T) ([]byte, error) {
	b, err := c.opts.Marshal(v)
	return b, wrap("protobuf", "encode", err)
}

func (c Protobuf[T]) Decode(b []byte) (T, error) {
	m := c.fresh()
	return m, wrap("protobuf", "decode", proto.Unmarshal(b, m))
}
