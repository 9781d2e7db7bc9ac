package ports

import "context"

//go:generate mockgen -source=telemetry.go -destination=mocks/mock_telemetry.go -package=mocks

// Telemetry records per-target progress.
type Telemetry interface {
	// Record starts a vertex for the named unit of work.
	Record(ctx context.Context, name string) (context.Context, Vertex)
	// Close flushes the recording.
	Close() error
}

// Vertex is one unit of work in a recording.
type Vertex interface {
	// Cached marks the unit as satisfied without doing work.
	Cached()
	// Complete marks the unit finished, failed if err is non-nil.
	Complete(err error)
}
