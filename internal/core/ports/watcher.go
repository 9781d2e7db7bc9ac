package ports

import (
	"context"
	"iter"
)

// WatchOp is the kind of change a WatchEvent reports.
type WatchOp uint8

const (
	// OpCreate means a file or directory appeared.
	OpCreate WatchOp = iota
	// OpWrite means a file's contents changed.
	OpWrite
	// OpRemove means a file or directory disappeared.
	OpRemove
	// OpRename means a file or directory was moved away.
	OpRename
)

// WatchEvent is a single change below the watched root.
type WatchEvent struct {
	Path      string
	Operation WatchOp
}

// Watcher reports file changes below a project root.
//
//go:generate mockgen -source=watcher.go -destination=mocks/mock_watcher.go -package=mocks
type Watcher interface {
	// Start watches root and every directory below it until ctx ends or Stop is called.
	Start(ctx context.Context, root string) error
	// Stop releases the underlying watches. Events then terminates.
	Stop() error
	// Events yields changes as they arrive.
	Events() iter.Seq[WatchEvent]
}
