package scheduler

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"
)

// Clean removes the outputs of every recipe-built file target below root.
// Sources are never touched. It returns the removed paths relative to the
// project root, sorted.
func (s *Scheduler) Clean(ctx context.Context, g *domain.Graph, root domain.Name, opts Options) ([]string, error) {
	if err := g.CheckCycle(root); err != nil {
		return nil, err
	}
	plan, err := g.Subtree(root)
	if err != nil {
		return nil, err
	}

	var outputs []string
	for _, t := range plan {
		if !t.IsFile || !t.HasRecipe() {
			continue
		}
		path := g.FilePath(t)
		if !insideRoot(g.Root(), path) {
			err := zerr.Wrap(domain.ErrOutputPathOutsideRoot, "refusing to remove")
			return nil, zerr.With(zerr.With(err, "path", path), "target", t.Key.String())
		}
		outputs = append(outputs, path)
	}

	var (
		mu      sync.Mutex
		removed []string
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(max(opts.Jobs, 1))
	for _, path := range outputs {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}

			rel, _ := filepath.Rel(g.Root(), path)
			if opts.DryRun {
				if s.cache.Get(path).Exists {
					s.logger.Info("would remove " + rel)
				}
				return nil
			}

			err := os.Remove(path)
			s.cache.Invalidate(path)
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			if err != nil {
				return zerr.With(zerr.Wrap(domain.ErrFailedToCleanOutput, err.Error()), "path", path)
			}

			if !opts.Quiet {
				s.logger.Info("removed " + rel)
			}
			mu.Lock()
			removed = append(removed, rel)
			mu.Unlock()
			return nil
		})
	}

	err = eg.Wait()
	slices.Sort(removed)
	return removed, err
}

func insideRoot(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
