package peerrpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is the grpc wire content-subtype this package registers.
// Peers exchange plain Go structs under this codec instead of generated
// protobuf messages: the envelope carried by the single Invoke RPC is a
// small, schema-light (op, args) pair, and json.Marshal/Unmarshal on
// that envelope is simpler and just as correct as hand-writing .proto
// descriptors for it. See DESIGN.md for the tradeoff.
const codecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec implements grpc/encoding.Codec on top of encoding/json so
// the PeerRPC service can move plain Go values over grpc without a
// protobuf code generation step.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}
