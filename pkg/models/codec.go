package models

import (
	"fmt"

	"google.golang.org/protobuf/proto"
)

// Codec is a gRPC codec that serializes the hand-encoded protocol messages of this
// package and falls back to the protobuf runtime for generated messages (for
// example emptypb.Empty or the health check messages).
type Codec struct{}

// Name matches the default gRPC content-subtype so sidecars see a plain proto codec.
func (Codec) Name() string { return "proto" }

func (Codec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case Message:
		return m.MarshalWire()
	case proto.Message:
		return proto.MarshalOptions{Deterministic: true}.Marshal(m)
	default:
		return nil, fmt.Errorf("codec: cannot marshal %T", v)
	}
}

func (Codec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case Message:
		return m.UnmarshalWire(data)
	case proto.Message:
		return proto.Unmarshal(data, m)
	default:
		return fmt.Errorf("codec: cannot unmarshal into %T", v)
	}
}
