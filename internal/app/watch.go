package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"go.trai.ch/kiln/internal/adapters/watcher" //nolint:depguard // Debouncing is wired in the app layer
	"go.trai.ch/kiln/internal/core/domain"
)

// Watch builds target, then rebuilds it whenever a file below the project root
// changes. Changes are coalesced over the configured debounce window. A change
// to the build file reloads it. Watch returns nil when ctx ends.
func (a *App) Watch(ctx context.Context, target string, opts RunOptions) error {
	p, err := a.open(target, opts.Settings)
	if err != nil {
		return err
	}
	a.loadCache(p.cacheFile)

	if err := a.rebuild(ctx, p, opts); err != nil {
		return err
	}

	if err := a.watcher.Start(ctx, p.graph.Root()); err != nil {
		return err
	}
	defer func() { _ = a.watcher.Stop() }()

	changes := make(chan []string)
	deb := watcher.NewDebouncer(opts.Settings.WatchDebounce, func(paths []string) {
		select {
		case changes <- paths:
		case <-ctx.Done():
		}
	})
	defer deb.Stop()

	go func() {
		for ev := range a.watcher.Events() {
			deb.Add(ev.Path)
		}
	}()

	// The ignore set is only touched here, it changes when the build file does.
	ignored := newIgnoreSet(p)
	a.logger.Info(fmt.Sprintf("watching %s for changes", p.graph.Root()))
	for {
		select {
		case <-ctx.Done():
			return nil
		case batch := <-changes:
			paths := ignored.filter(batch)
			if len(paths) == 0 {
				continue
			}
			for _, path := range paths {
				a.cache.Invalidate(path)
			}
			if slices.Contains(paths, p.file) {
				p = a.reload(p, target, opts)
				ignored = newIgnoreSet(p)
			}
			a.logger.Info(fmt.Sprintf("%d file(s) changed, rebuilding %s", len(paths), p.root))
			if err := a.rebuild(ctx, p, opts); err != nil {
				return err
			}
		}
	}
}

// rebuild runs a build and tolerates target failures, so the next change can
// fix them. Graph errors and interrupts still end the watch.
func (a *App) rebuild(ctx context.Context, p *project, opts RunOptions) error {
	err := a.build(ctx, p, opts)
	switch {
	case err == nil, errors.Is(err, domain.ErrBuildFailed):
		return nil
	case ctx.Err() != nil:
		return nil
	default:
		return err
	}
}

// reload re-reads the build file, keeping the previous graph when the new
// one does not load.
func (a *App) reload(prev *project, target string, opts RunOptions) *project {
	next, err := a.open(target, opts.Settings)
	if err != nil {
		a.logger.Warn("keeping previous build description")
		a.logger.Error(err)
		return prev
	}
	return next
}

// ignoreSet holds the paths whose changes never trigger a rebuild: kiln's own
// state and the outputs recipes write.
type ignoreSet struct {
	stateDir string
	outputs  map[string]struct{}
}

func newIgnoreSet(p *project) *ignoreSet {
	s := &ignoreSet{
		stateDir: filepath.Join(p.graph.Root(), domain.StateDirName),
		outputs:  make(map[string]struct{}),
	}
	for t := range p.graph.All() {
		if t.IsFile && t.HasRecipe() {
			s.outputs[p.graph.FilePath(t)] = struct{}{}
		}
	}
	return s
}

// filter returns the paths that are not ignored.
func (s *ignoreSet) filter(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, path := range paths {
		if !s.match(path) {
			out = append(out, path)
		}
	}
	return out
}

func (s *ignoreSet) match(path string) bool {
	if path == s.stateDir || strings.HasPrefix(path, s.stateDir+string(filepath.Separator)) {
		return true
	}
	_, ok := s.outputs[path]
	return ok
}
