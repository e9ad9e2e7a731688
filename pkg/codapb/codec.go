package codapb

import (
	"fmt"

	gogoproto "github.com/gogo/protobuf/proto"
	"google.golang.org/grpc/encoding"
)

// gogoCodec implements grpc's encoding.Codec over gogo/protobuf's
// reflection-based Marshal/Unmarshal, registered at startup the same way
// gogoproto-based gRPC servers wire a custom codec. Implemented locally
// since the upstream gogocodec package is internal and non-importable.
type gogoCodec struct{}

func (gogoCodec) Name() string { return "proto" }

func (gogoCodec) Marshal(v interface{}) ([]byte, error) {
	msg, ok := v.(gogoproto.Message)
	if !ok {
		return nil, fmt.Errorf("codapb: %T does not implement gogo proto.Message", v)
	}
	return gogoproto.Marshal(msg)
}

func (gogoCodec) Unmarshal(data []byte, v interface{}) error {
	msg, ok := v.(gogoproto.Message)
	if !ok {
		return fmt.Errorf("codapb: %T does not implement gogo proto.Message", v)
	}
	return gogoproto.Unmarshal(data, msg)
}

// RegisterCodec installs the gogo/protobuf codec as grpc's default "proto"
// codec. Call once at process startup, before dialing or serving.
func RegisterCodec() {
	encoding.RegisterCodec(gogoCodec{})
}
