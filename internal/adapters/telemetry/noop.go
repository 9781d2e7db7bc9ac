// Package telemetry holds telemetry adapters that need no recording backend.
package telemetry

import (
	"context"

	"go.trai.ch/kiln/internal/core/ports"
)

var _ ports.Telemetry = NoOp{}

// NoOp discards every vertex.
type NoOp struct{}

// Record returns ctx and a vertex that ignores every call.
func (NoOp) Record(ctx context.Context, _ string) (context.Context, ports.Vertex) {
	return ctx, noopVertex{}
}

// Close does nothing.
func (NoOp) Close() error { return nil }

type noopVertex struct{}

func (noopVertex) Cached()        {}
func (noopVertex) Complete(error) {}
