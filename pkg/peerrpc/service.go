package peerrpc

import (
	"context"
	"encoding/json"
	"net"

	"github.com/coriolis-mq/coriolis/pkg/log"
	"google.golang.org/grpc"
)

// serviceName is the fully-qualified grpc service name the hand-built
// ServiceDesc below registers under. There is no .proto file behind
// it — see codec.go for why.
const serviceName = "coriolis.peerrpc.PeerRPC"

// Envelope carries one named local operation invocation across the
// wire, matching spec §6's "invoke a named local operation on a remote
// peer" shape: the op name plus an opaque, op-specific argument blob.
type Envelope struct {
	Op   string          `json:"op"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Result carries the outcome of an Envelope invocation. Err is a plain
// string (not a wire error type) holding the message of an op-level
// error returned by the remote OpHandler; Client.Invoke returns it as
// a plain error, distinct from the transport-level ErrPeerUnreachable
// in client.go.
type Result struct {
	Value json.RawMessage `json:"value,omitempty"`
	Err   string          `json:"err,omitempty"`
}

// OpHandler dispatches a named peer operation to whatever local
// component implements it. *flags.Coordinator implements this
// interface for "list", "are_supported_locally", and
// "mark_as_enabled_locally".
type OpHandler interface {
	HandleOp(ctx context.Context, op string, args json.RawMessage) (json.RawMessage, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*OpHandler)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Invoke",
			Handler:    invokeHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pkg/peerrpc/service.go",
}

func invokeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(Envelope)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := srv.(OpHandler)
	if interceptor == nil {
		return callOp(ctx, handler, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + serviceName + "/Invoke",
	}
	wrapped := func(ctx context.Context, req interface{}) (interface{}, error) {
		return callOp(ctx, handler, req.(*Envelope))
	}
	return interceptor(ctx, in, info, wrapped)
}

func callOp(ctx context.Context, handler OpHandler, in *Envelope) (*Result, error) {
	value, err := handler.HandleOp(ctx, in.Op, in.Args)
	if err != nil {
		return &Result{Err: err.Error()}, nil
	}
	return &Result{Value: value}, nil
}

// Server hosts the PeerRPC grpc service for a single node, dispatching
// every inbound Invoke to the OpHandler supplied at construction.
type Server struct {
	grpcServer *grpc.Server
	handler    OpHandler
}

// NewServer builds a PeerRPC server. Transport security is deliberately
// left to the caller via opts (the reference cmd/coriolisd binary
// passes none, so it serves plaintext) — see DESIGN.md for why this package
// does not carry its own certificate authority.
func NewServer(handler OpHandler, opts ...grpc.ServerOption) *Server {
	opts = append(opts, grpc.UnaryInterceptor(LoggingInterceptor()))
	s := grpc.NewServer(opts...)
	s.RegisterService(&serviceDesc, handler)
	return &Server{grpcServer: s, handler: handler}
}

// Serve blocks accepting connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	log.WithComponent("peerrpc").Info().Str("addr", lis.Addr().String()).Msg("peer rpc server listening")
	return s.grpcServer.Serve(lis)
}

// Stop gracefully stops the server.
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}
