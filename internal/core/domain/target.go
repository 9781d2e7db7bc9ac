package domain

import (
	"sync/atomic"
	"time"

	"go.trai.ch/zerr"
)

// Target is a single buildable node: a file produced by a recipe, a source file,
// or a phony aggregate.
type Target struct {
	// Key identifies the target within its graph.
	Key Name
	// Deps lists dependency keys in declaration order. They may be forward references.
	Deps []Name
	// Recipe is the command template. Sources and aggregates leave it empty.
	Recipe Recipe
	// Message is printed instead of the command when the recipe runs.
	Message Recipe
	// IsFile marks filesystem-backed targets. Phony targets have no output.
	IsFile bool
	// Path is the output path relative to the project root. Empty for phony targets.
	Path string
	// Options holds per-target placeholder values.
	Options map[string]string
	// Env holds extra environment variables for the recipe process.
	Env map[string]string

	state atomic.Int32
}

// NewFileTarget returns a file-backed target whose output path is its key.
func NewFileTarget(key string, deps ...string) *Target {
	return &Target{
		Key:    NewName(key),
		Deps:   Names(deps...),
		IsFile: true,
		Path:   key,
	}
}

// NewPhonyTarget returns a target with no filesystem output.
func NewPhonyTarget(key string, deps ...string) *Target {
	return &Target{
		Key:  NewName(key),
		Deps: Names(deps...),
	}
}

// State returns the current run state.
func (t *Target) State() State {
	return State(t.state.Load())
}

// Transition moves the target to next if the lifecycle allows it from the current state.
// It is safe to call from concurrent workers; exactly one caller wins a contended transition.
func (t *Target) Transition(next State) error {
	for {
		cur := State(t.state.Load())
		if !cur.CanTransition(next) {
			return zerr.With(
				zerr.With(
					zerr.With(zerr.Wrap(ErrInvalidTransition, "target state rejected"), "target", t.Key.String()),
					"from", cur.String(),
				),
				"to", next.String(),
			)
		}
		if t.state.CompareAndSwap(int32(cur), int32(next)) {
			return nil
		}
	}
}

// Reset returns the target to StateUnknown for a new run.
func (t *Target) Reset() {
	t.state.Store(int32(StateUnknown))
}

// HasRecipe reports whether running the target does any work.
func (t *Target) HasRecipe() bool {
	return !t.Recipe.IsEmpty()
}

// Meta is the cached filesystem view of a path.
type Meta struct {
	Exists  bool
	ModTime time.Time
}

// MetaReader gives read access to cached file metadata.
type MetaReader interface {
	Get(path string) Meta
}
