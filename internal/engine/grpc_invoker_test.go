package engine

import (
	"context"
	"testing"

	"github.com/tailcallhq/tailcall-go/internal/grpcrt"
	"github.com/tailcallhq/tailcall-go/internal/runtime"
)

func TestNewGrpcInvoker_SatisfiesRuntimeInterface(t *testing.T) {
	reg := grpcrt.NewMockRegistry()
	inv := NewGrpcInvoker(reg, grpcrt.NewMockTransport())
	var _ runtime.GrpcInvoker = inv
}

func TestGrpcInvoker_UnregisteredFieldReturnsError(t *testing.T) {
	reg := grpcrt.NewMockRegistry()
	inv := NewGrpcInvoker(reg, grpcrt.NewMockTransport())

	_, err := inv.Invoke(context.Background(), runtime.GrpcCall{Service: "Query", Method: "missing"})
	if err == nil {
		t.Fatal("expected an error for a field with no registered resolver/loader")
	}
}
