package fs

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
)

const recursiveWildcard = "**"

var _ ports.SourceResolver = (*Resolver)(nil)

// Resolver implements ports.SourceResolver with filepath.Glob, extended with
// "**" to match any number of directories.
type Resolver struct {
	walker *Walker
}

// NewResolver creates a new Resolver.
func NewResolver(walker *Walker) *Resolver {
	return &Resolver{walker: walker}
}

// ResolveSources expands patterns relative to root. Globs may match nothing,
// but a literal path must exist.
func (r *Resolver) ResolveSources(patterns []string, root string) ([]string, error) {
	seen := make(map[string]struct{})

	for _, pattern := range patterns {
		matches, err := r.resolve(pattern, root)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			rel, err := filepath.Rel(root, m)
			if err != nil {
				return nil, zerr.With(zerr.Wrap(err, "failed to relativize source"), "path", m)
			}
			seen[filepath.ToSlash(rel)] = struct{}{}
		}
	}

	result := make([]string, 0, len(seen))
	for p := range seen {
		result = append(result, p)
	}
	slices.Sort(result)
	return result, nil
}

func (r *Resolver) resolve(pattern, root string) ([]string, error) {
	full := filepath.Join(root, filepath.FromSlash(pattern))

	if !hasMeta(pattern) {
		info, err := os.Stat(full)
		switch {
		case errors.Is(err, os.ErrNotExist):
			return nil, zerr.With(zerr.Wrap(domain.ErrSourceNotFound, "missing source"), "path", pattern)
		case err != nil:
			return nil, zerr.With(zerr.Wrap(err, "failed to stat source"), "path", pattern)
		case info.IsDir():
			return slices.Collect(r.walker.WalkFiles(full)), nil
		}
		return []string{full}, nil
	}

	if base, rest, ok := strings.Cut(filepath.ToSlash(pattern), recursiveWildcard); ok {
		return r.resolveRecursive(root, base, strings.TrimPrefix(rest, "/"), pattern)
	}

	matches, err := filepath.Glob(full)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(domain.ErrInvalidSourcePattern, err.Error()), "pattern", pattern)
	}

	files := matches[:0]
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && !info.IsDir() {
			files = append(files, m)
		}
	}
	return files, nil
}

// resolveRecursive handles "base/**/rest": every file below base whose
// trailing path components match rest.
func (r *Resolver) resolveRecursive(root, base, rest, pattern string) ([]string, error) {
	if rest == "" {
		rest = "*"
	}
	if strings.Contains(rest, recursiveWildcard) {
		return nil, zerr.With(zerr.Wrap(domain.ErrInvalidSourcePattern, "only one ** is supported"), "pattern", pattern)
	}
	if _, err := filepath.Match(rest, ""); err != nil {
		return nil, zerr.With(zerr.Wrap(domain.ErrInvalidSourcePattern, err.Error()), "pattern", pattern)
	}

	dir := filepath.Join(root, filepath.FromSlash(strings.TrimSuffix(base, "/")))
	depth := strings.Count(rest, "/") + 1

	var matches []string
	for path := range r.walker.WalkFiles(dir) {
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			continue
		}
		if ok, _ := filepath.Match(rest, lastComponents(filepath.ToSlash(rel), depth)); ok {
			matches = append(matches, path)
		}
	}
	return matches, nil
}

func lastComponents(path string, n int) string {
	parts := strings.Split(path, "/")
	if len(parts) <= n {
		return path
	}
	return strings.Join(parts[len(parts)-n:], "/")
}

func hasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, `*?[\`)
}
