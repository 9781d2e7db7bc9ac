package ports

import (
	"context"

	"go.trai.ch/kiln/internal/core/domain"
)

// MetadataCache memoises filesystem metadata for the paths a build looks at.
//
//go:generate go run go.uber.org/mock/mockgen -source=metadata_cache.go -destination=mocks/mock_metadata_cache.go -package=mocks
type MetadataCache interface {
	// Get returns the metadata for path, consulting the filesystem only on a miss.
	// A path that cannot be stat'ed is reported as not existing.
	Get(path string) domain.Meta

	// Invalidate drops the entry for path so the next Get re-reads it.
	Invalidate(path string)

	// Prefetch refreshes the entries for paths from the filesystem, concurrently.
	Prefetch(ctx context.Context, paths []string) error

	// Load replaces the cache contents with the store at path.
	// A missing store leaves an empty cache and no error.
	Load(path string) error

	// Save atomically writes the cache contents to path.
	Save(path string) error

	// Len returns the number of cached entries.
	Len() int
}
