package engine

import (
	"context"

	"github.com/tailcallhq/tailcall-go/internal/grpcrt"
	"github.com/tailcallhq/tailcall-go/internal/runtime"
)

// GrpcInvoker bridges the runtime.GrpcInvoker capability to the dynamic
// protobuf dispatch grpcrt.Runtime already implements, so a Grpc-kind IO
// node's call reaches the same registry/transport machinery a
// grpcrt-only deployment would use, at batch size one.
type GrpcInvoker struct {
	rt *grpcrt.Runtime
}

// NewGrpcInvoker builds a GrpcInvoker over the given descriptor registry and
// transport; both are the same implementations a plain grpcrt deployment
// supplies.
func NewGrpcInvoker(registry grpcrt.Registry, transport grpcrt.Transport) *GrpcInvoker {
	rt := grpcrt.NewRuntime(registry, transport).(*grpcrt.Runtime)
	return &GrpcInvoker{rt: rt}
}

var _ runtime.GrpcInvoker = (*GrpcInvoker)(nil)

func (g *GrpcInvoker) Invoke(ctx context.Context, call runtime.GrpcCall) (any, error) {
	return g.rt.InvokeSingle(ctx, call.Service, call.Method, call.Args)
}
