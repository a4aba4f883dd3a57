/*
Package wire implements the §6 worker<->orchestrator wire protocol: a
single bidirectional streaming RPC ("Session") carrying a tagged-union
envelope in each direction (ClientMessage, ServerMessage).

There is no protoc-generated code here. The transport is still genuine
gRPC — HTTP/2 framing, deadlines, bidi streaming — but the message
format is plain Go structs marshaled with encoding/json through a
custom grpc/encoding.Codec registered under the "proto" codec name
(codec.go), and the service descriptor is hand-written (service.go)
instead of generated from a .proto file. pkg/execution.Hub is the
orchestrator-side SessionHandler; pkg/workeragent is the client side.
*/
package wire
