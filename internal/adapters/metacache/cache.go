// Package metacache implements the file metadata cache and its on-disk store.
package metacache

import (
	"context"
	"io/fs"
	"os"
	"runtime"
	"sync"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"golang.org/x/sync/errgroup"
)

var _ ports.MetadataCache = (*Cache)(nil)

// Cache implements ports.MetadataCache with an in-memory map guarded by a mutex.
type Cache struct {
	mu      sync.Mutex
	entries map[string]domain.Meta
	// gens counts invalidations per path. A stat result is only stored when
	// the path's generation did not move while the stat ran.
	gens map[string]uint64
	stat func(string) (fs.FileInfo, error)
}

// New creates an empty Cache backed by os.Stat.
func New() *Cache {
	return &Cache{
		entries: make(map[string]domain.Meta),
		gens:    make(map[string]uint64),
		stat:    os.Stat,
	}
}

// Get returns the metadata for path, stat'ing it on a miss.
func (c *Cache) Get(path string) domain.Meta {
	c.mu.Lock()
	m, ok := c.entries[path]
	gen := c.gens[path]
	c.mu.Unlock()
	if ok {
		return m
	}

	m = c.read(path)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[path] != gen {
		return m
	}
	// A concurrent Get may have stored the same path in the meantime; keep the first.
	if existing, ok := c.entries[path]; ok {
		return existing
	}
	c.entries[path] = m
	return m
}

// Invalidate drops the entry for path.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
	c.gens[path]++
}

// Prefetch re-stats every path concurrently and overwrites the cached entries.
func (c *Cache) Prefetch(ctx context.Context, paths []string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for _, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			c.mu.Lock()
			gen := c.gens[path]
			c.mu.Unlock()

			m := c.read(path)

			c.mu.Lock()
			if c.gens[path] == gen {
				c.entries[path] = m
			}
			c.mu.Unlock()
			return nil
		})
	}

	return g.Wait()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) read(path string) domain.Meta {
	info, err := c.stat(path)
	if err != nil {
		// Unreadable paths count as missing so their targets get rebuilt.
		return domain.Meta{}
	}
	return domain.Meta{Exists: true, ModTime: info.ModTime()}
}

func (c *Cache) snapshot() map[string]domain.Meta {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]domain.Meta, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

func (c *Cache) replace(entries map[string]domain.Meta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = entries
}
