// Package fs expands source patterns against the project tree.
package fs

import (
	"io/fs"
	"iter"
	"path/filepath"

	"go.trai.ch/kiln/internal/core/domain"
)

// Walker yields the regular files below a directory.
type Walker struct {
	skip map[string]bool
}

// NewWalker creates a Walker that never descends into VCS or state directories.
func NewWalker() *Walker {
	return &Walker{skip: map[string]bool{
		".git":              true,
		".jj":               true,
		domain.StateDirName: true,
	}}
}

// WalkFiles yields file paths below dir. Paths include dir as their prefix,
// and unreadable entries are skipped.
func (w *Walker) WalkFiles(dir string) iter.Seq[string] {
	return func(yield func(string) bool) {
		_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil //nolint:nilerr // unreadable entries are skipped
			}
			if d.IsDir() {
				if path != dir && w.skip[d.Name()] {
					return filepath.SkipDir
				}
				return nil
			}
			if !yield(path) {
				return filepath.SkipAll
			}
			return nil
		})
	}
}
