// Package progrock records per-target progress with progrock.
package progrock

import (
	"context"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/opencontainers/go-digest"
	"github.com/vito/progrock"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/kiln/internal/ui/output"
)

var _ ports.Telemetry = (*Recorder)(nil)

// Recorder implements ports.Telemetry on a progrock.Recorder.
type Recorder struct {
	w   progrock.Writer
	rec *progrock.Recorder

	mu     sync.Mutex
	closed bool
}

// New creates a Recorder that feeds progress lines to stderr when it is a
// terminal and discards them otherwise.
func New() *Recorder {
	if isatty.IsTerminal(os.Stderr.Fd()) {
		return NewRecorder(NewFeed(output.New(os.Stderr)))
	}
	return NewRecorder(progrock.Discard{})
}

// NewRecorder creates a Recorder with the given writer.
func NewRecorder(w progrock.Writer) *Recorder {
	return &Recorder{
		w:   w,
		rec: progrock.NewRecorder(w),
	}
}

// Record starts a vertex named after a target. Vertex digests are derived
// from the name so the same target maps to the same vertex across calls.
func (r *Recorder) Record(ctx context.Context, name string) (context.Context, ports.Vertex) {
	v := r.rec.Vertex(digest.FromString(name), name)
	return ctx, &Vertex{vertex: v}
}

// Close closes the writer once. Later calls are no-ops.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if c, ok := r.w.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
