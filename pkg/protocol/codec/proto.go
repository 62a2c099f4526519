package codec

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

type protoCodec struct {
	mo proto.MarshalOptions
	uo proto.UnmarshalOptions
}

// Proto returns a Protocol Buffers codec with deterministic marshaling.
// Maps are carried as structpb.Struct, which keeps the payload
// self-describing without a fixed schema. Content-Type: application/x-protobuf
func Proto() Codec {
	return protoCodec{
		mo: proto.MarshalOptions{Deterministic: true},
		uo: proto.UnmarshalOptions{},
	}
}

func (p protoCodec) ContentType() string { return "application/x-protobuf" }

func (p protoCodec) Marshal(m map[string]any) ([]byte, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, err
	}
	return p.mo.Marshal(s)
}

func (p protoCodec) Unmarshal(data []byte) (map[string]any, error) {
	var s structpb.Struct
	if err := p.uo.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return s.AsMap(), nil
}
