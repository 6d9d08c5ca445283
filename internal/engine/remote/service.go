// Package remote exposes a recognition engine that lives behind a gRPC endpoint as an
// ordinary engine library. Payloads are google.protobuf.Struct messages.
package remote

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the gRPC service remote engines implement.
const ServiceName = "vcd.engine.v1.Engine"

// Unary RPC names.
const (
	MethodInitialize   = "Initialize"
	MethodDeinitialize = "Deinitialize"
	MethodGetInfo      = "GetInfo"
	MethodLanguages    = "Languages"
	MethodSetLanguage  = "SetLanguage"
	MethodSetCommands  = "SetCommands"
	MethodStart        = "Start"
	MethodFeed         = "Feed"
	MethodStop         = "Stop"
	MethodCancel       = "Cancel"
	MethodAudioFormat  = "AudioFormat"
)

var methods = []string{
	MethodInitialize,
	MethodDeinitialize,
	MethodGetInfo,
	MethodLanguages,
	MethodSetLanguage,
	MethodSetCommands,
	MethodStart,
	MethodFeed,
	MethodStop,
	MethodCancel,
	MethodAudioFormat,
}

// FullMethod returns the gRPC path of one RPC.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// Handler serves every engine RPC. A non-zero "code" field in the response reports an
// engine-level failure; transport errors are reserved for RPC failures.
type Handler interface {
	Handle(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error)

func (f HandlerFunc) Handle(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	return f(ctx, method, req)
}

// RegisterEngineServer registers h as the engine service on s.
func RegisterEngineServer(s grpc.ServiceRegistrar, h Handler) {
	desc := serviceDesc()
	s.RegisterService(&desc, h)
}

func serviceDesc() grpc.ServiceDesc {
	descs := make([]grpc.MethodDesc, 0, len(methods))
	for _, name := range methods {
		descs = append(descs, grpc.MethodDesc{MethodName: name, Handler: unaryHandler(name)})
	}
	return grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*Handler)(nil),
		Methods:     descs,
		Streams:     []grpc.StreamDesc{},
		Metadata:    "vcd/engine/v1/engine.proto",
	}
}

func unaryHandler(method string) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		h := srv.(Handler)
		if interceptor == nil {
			return h.Handle(ctx, method, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return h.Handle(ctx, method, req.(*structpb.Struct))
		})
	}
}
