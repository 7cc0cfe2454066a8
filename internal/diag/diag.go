// internal/diag/diag.go
// Package diag implements a gRPC diagnostics service for remote bench
// tooling, grounded on the teacher's own use of google.golang.org/grpc in
// cmd/driver/hasher-server/main.go (grpc.NewServer + a registered
// service). Rather than depend on a protoc/buf code-generation step this
// package can't run, the wire messages are google.golang.org/protobuf's
// own well-known types (emptypb.Empty request, structpb.Struct response)
// and the service is registered via a hand-authored grpc.ServiceDesc —
// the same mechanism protoc-gen-go-grpc emits into _grpc.pb.go, written
// by hand instead of generated.
package diag

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Source supplies the fields the diagnostics snapshot reports; the
// supervisor wires this to the live controllers.
type Source interface {
	Snapshot() map[string]interface{}
}

// Server implements the Diagnostics gRPC service.
type Server struct {
	source Source
}

// NewServer constructs a Server backed by source.
func NewServer(source Source) *Server {
	return &Server{source: source}
}

// GetDiagnostics returns the current station snapshot as a structpb
// Struct, the idiomatic protobuf representation of an open-ended map.
func (s *Server) GetDiagnostics(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return structpb.NewStruct(s.source.Snapshot())
}

func getDiagnosticsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).GetDiagnostics(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/dccstation.Diagnostics/GetDiagnostics"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Server).GetDiagnostics(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc is the hand-authored equivalent of a protoc-gen-go-grpc
// _grpc.pb.go's *_ServiceDesc: one unary method, no streaming.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "dccstation.Diagnostics",
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetDiagnostics",
			Handler:    getDiagnosticsHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "diag.proto",
}

// Register installs s onto grpcServer under ServiceDesc.
func Register(grpcServer *grpc.Server, s *Server) {
	grpcServer.RegisterService(&ServiceDesc, s)
}
