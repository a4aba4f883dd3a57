package wire

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
)

// ServiceName is the full gRPC service name this package registers,
// mirroring the teacher's pkg/api hand-rolled service wiring applied to
// a single bidirectional session stream instead of a generated
// service.
const ServiceName = "hodei.wire.Worker"

// SessionMethod is the full method path of the bidirectional session
// stream, in the form grpc expects for NewStream/RegisterService.
const SessionMethod = "/" + ServiceName + "/Session"

// ServerSideStream is the orchestrator's view of one worker's session:
// send ServerMessage, receive ClientMessage.
type ServerSideStream interface {
	Context() context.Context
	Send(*ServerMessage) error
	Recv() (*ClientMessage, error)
}

// SessionHandler is implemented by the orchestrator side to drive one
// worker's bidirectional session end to end; the handler owns the
// stream for its lifetime (pkg/execution.Hub is the production
// implementation).
type SessionHandler interface {
	Session(stream ServerSideStream) error
}

type serverSideStream struct {
	grpc.ServerStream
}

func (s *serverSideStream) Send(m *ServerMessage) error { return s.ServerStream.SendMsg(m) }

func (s *serverSideStream) Recv() (*ClientMessage, error) {
	m := new(ClientMessage)
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func sessionStreamHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(SessionHandler).Session(&serverSideStream{stream})
}

// ServiceDesc is the hand-rolled gRPC service descriptor for the
// worker<->orchestrator session. The transport stays genuine HTTP/2
// gRPC bidi-streaming; only the message marshaling (see codec.go) and
// the generated boilerplate are hand-written instead of protoc output.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SessionHandler)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Session",
			Handler:       sessionStreamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "pkg/wire/service.go",
}

// RegisterSessionHandler registers h against srv as the Session stream
// handler.
func RegisterSessionHandler(srv *grpc.Server, h SessionHandler) {
	srv.RegisterService(&ServiceDesc, h)
}

// ClientSideStream is the worker agent's view of its own session: send
// ClientMessage, receive ServerMessage.
type ClientSideStream interface {
	Context() context.Context
	Send(*ClientMessage) error
	Recv() (*ServerMessage, error)
	CloseSend() error
}

type clientSideStream struct {
	grpc.ClientStream
}

func (c *clientSideStream) Send(m *ClientMessage) error { return c.ClientStream.SendMsg(m) }

func (c *clientSideStream) Recv() (*ServerMessage, error) {
	m := new(ServerMessage)
	if err := c.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// OpenSession opens the bidirectional session stream against conn.
func OpenSession(ctx context.Context, conn *grpc.ClientConn) (ClientSideStream, error) {
	desc := &grpc.StreamDesc{
		StreamName:    "Session",
		ServerStreams: true,
		ClientStreams: true,
	}
	stream, err := conn.NewStream(ctx, desc, SessionMethod)
	if err != nil {
		return nil, fmt.Errorf("opening wire session: %w", err)
	}
	return &clientSideStream{stream}, nil
}
