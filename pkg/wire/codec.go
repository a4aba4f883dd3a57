package wire

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName deliberately reuses grpc-go's built-in "proto" codec name:
// registering under it overrides the default codec every call uses
// when no content-subtype is requested, so grpc.Dial/grpc.NewServer
// work unmodified against plain Go structs without a protoc-generated
// marshaler (see DESIGN.md).
const codecName = "proto"

// jsonCodec implements google.golang.org/grpc/encoding.Codec over
// encoding/json, standing in for the protobuf wire format this package
// would otherwise need protoc to generate.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
