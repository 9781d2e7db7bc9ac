package domain

import (
	"slices"
	"strings"
	"time"

	"go.trai.ch/zerr"
)

// ModTime returns the timestamp dependents compare against.
// A file target reports its cached mtime. A phony target reports the newest
// mtime among the files it reaches through phony dependencies.
func (g *Graph) ModTime(t *Target, cache MetaReader) time.Time {
	if t.IsFile {
		return cache.Get(g.FilePath(t)).ModTime
	}

	var newest time.Time
	visited := map[Name]struct{}{t.Key: {}}
	stack := slices.Clone(t.Deps)
	for len(stack) > 0 {
		key := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := visited[key]; seen {
			continue
		}
		visited[key] = struct{}{}

		dep, ok := g.targets[key]
		if !ok {
			continue
		}
		if !dep.IsFile {
			stack = append(stack, dep.Deps...)
			continue
		}
		if mt := cache.Get(g.FilePath(dep)).ModTime; mt.After(newest) {
			newest = mt
		}
	}
	return newest
}

// NeedsRebuild decides whether t is stale. It only reads the cache and the
// states of t's dependencies, which must already be evaluated.
//
// Any updated dependency makes t stale. Otherwise a phony target is stale only
// when it was explicitly requested and has a recipe, and a file target is stale
// when its output is missing or older than its newest dependency.
func (g *Graph) NeedsRebuild(t *Target, explicit bool, cache MetaReader) (bool, error) {
	var newest time.Time
	for _, key := range t.Deps {
		dep, err := g.Get(key)
		if err != nil {
			return false, err
		}
		switch dep.State() {
		case StateUpdated, StateStale:
			return true, nil
		}
		if mt := g.ModTime(dep, cache); mt.After(newest) {
			newest = mt
		}
	}

	if !t.IsFile {
		return explicit && t.HasRecipe(), nil
	}

	meta := cache.Get(g.FilePath(t))
	if !meta.Exists {
		return true, nil
	}
	return meta.ModTime.Before(newest), nil
}

// Expand substitutes a template of t.
//
// {tgt} is the output path (the key for phony targets), {src} the first file
// dependency, {deps} every file dependency joined by spaces. Other names resolve
// against the target's options first and the graph's vars second.
func (g *Graph) Expand(t *Target, r Recipe) (string, error) {
	var deps []string
	seen := make(map[string]struct{}, len(t.Deps))
	for _, key := range t.Deps {
		dep, err := g.Get(key)
		if err != nil {
			return "", err
		}
		if !dep.IsFile {
			continue
		}
		if _, dup := seen[dep.Path]; dup {
			continue
		}
		seen[dep.Path] = struct{}{}
		deps = append(deps, dep.Path)
	}

	out, err := r.Expand(func(name string) (string, bool) {
		switch name {
		case PlaceholderTarget:
			if t.IsFile {
				return t.Path, true
			}
			return t.Key.String(), true
		case PlaceholderSource:
			if len(deps) == 0 {
				return "", true
			}
			return deps[0], true
		case PlaceholderDeps:
			return strings.Join(deps, " "), true
		}
		return g.lookupVar(t, name)
	})
	if err != nil {
		return "", zerr.With(err, "target", t.Key.String())
	}
	return out, nil
}

// CheckPlaceholders verifies every placeholder in t's templates has a value.
func (g *Graph) CheckPlaceholders(t *Target) error {
	for _, r := range []Recipe{t.Recipe, t.Message} {
		for _, name := range r.Placeholders() {
			switch name {
			case PlaceholderTarget, PlaceholderSource, PlaceholderDeps:
				continue
			}
			if _, ok := g.lookupVar(t, name); !ok {
				err := zerr.Wrap(ErrMalformedRecipe, "unknown placeholder")
				err = zerr.With(err, "placeholder", name)
				return zerr.With(err, "target", t.Key.String())
			}
		}
	}
	return nil
}

func (g *Graph) lookupVar(t *Target, name string) (string, bool) {
	if v, ok := t.Options[name]; ok {
		return v, true
	}
	v, ok := g.vars[name]
	return v, ok
}
