// Package domain contains the core build model: targets, their dependency graph
// and the staleness rules that decide what has to run.
package domain

import (
	"iter"
	"path/filepath"
	"strings"

	"go.trai.ch/zerr"
)

// Graph holds every target of a build description, keyed by Name.
//
// A Graph is built once by a single goroutine and is read-only afterwards;
// only target run states change during a build.
type Graph struct {
	targets       map[Name]*Target
	order         []Name
	dependents    map[Name][]Name
	root          string
	defaultTarget string
	vars          map[string]string
}

// NewGraph creates a new empty Graph.
func NewGraph() *Graph {
	return &Graph{
		targets: make(map[Name]*Target),
	}
}

// SetRoot sets the project root all target paths are relative to.
func (g *Graph) SetRoot(root string) {
	g.root = root
}

// Root returns the project root.
func (g *Graph) Root() string {
	return g.root
}

// SetDefault sets the target built when none is requested.
func (g *Graph) SetDefault(key string) {
	g.defaultTarget = key
}

// Default returns the target built when none is requested, or "" if unset.
func (g *Graph) Default() string {
	return g.defaultTarget
}

// SetVars sets global placeholder values shared by every recipe.
func (g *Graph) SetVars(vars map[string]string) {
	g.vars = vars
}

// Vars returns the global placeholder values.
func (g *Graph) Vars() map[string]string {
	return g.vars
}

// Add registers t. It returns ErrDuplicateTarget if the key is already taken.
func (g *Graph) Add(t *Target) error {
	if t.Key.String() == "" {
		return zerr.Wrap(ErrInvalidTargetName, "target key must not be empty")
	}
	if _, exists := g.targets[t.Key]; exists {
		return zerr.With(zerr.Wrap(ErrDuplicateTarget, "cannot add target"), "target", t.Key.String())
	}
	g.targets[t.Key] = t
	g.order = append(g.order, t.Key)
	g.dependents = nil
	return nil
}

// Replace registers t, overwriting any target with the same key while keeping its position.
func (g *Graph) Replace(t *Target) {
	if _, exists := g.targets[t.Key]; !exists {
		g.order = append(g.order, t.Key)
	}
	g.targets[t.Key] = t
	g.dependents = nil
}

// Get returns the target registered under key.
func (g *Graph) Get(key Name) (*Target, error) {
	t, ok := g.targets[key]
	if !ok {
		return nil, zerr.With(zerr.Wrap(ErrUnknownTarget, "failed to resolve target"), "target", key.String())
	}
	return t, nil
}

// Lookup is Get for a plain string key.
func (g *Graph) Lookup(key string) (*Target, error) {
	return g.Get(NewName(key))
}

// Has reports whether key is registered.
func (g *Graph) Has(key Name) bool {
	_, ok := g.targets[key]
	return ok
}

// Len returns the number of targets.
func (g *Graph) Len() int {
	return len(g.targets)
}

// Keys returns every key in insertion order.
func (g *Graph) Keys() []Name {
	keys := make([]Name, len(g.order))
	copy(keys, g.order)
	return keys
}

// All yields every target in insertion order.
func (g *Graph) All() iter.Seq[*Target] {
	return func(yield func(*Target) bool) {
		for _, key := range g.order {
			if !yield(g.targets[key]) {
				return
			}
		}
	}
}

// Roots returns the keys no other target depends on, in insertion order.
func (g *Graph) Roots() []Name {
	required := make(map[Name]struct{})
	for _, t := range g.targets {
		for _, dep := range t.Deps {
			required[dep] = struct{}{}
		}
	}
	var roots []Name
	for _, key := range g.order {
		if _, ok := required[key]; !ok {
			roots = append(roots, key)
		}
	}
	return roots
}

// Dependents returns the keys of targets that list key as a dependency.
func (g *Graph) Dependents(key Name) []Name {
	if g.dependents == nil {
		g.dependents = make(map[Name][]Name, len(g.targets))
		for _, k := range g.order {
			seen := make(map[Name]struct{}, len(g.targets[k].Deps))
			for _, dep := range g.targets[k].Deps {
				if _, dup := seen[dep]; dup {
					continue
				}
				seen[dep] = struct{}{}
				g.dependents[dep] = append(g.dependents[dep], k)
			}
		}
	}
	return g.dependents[key]
}

// Reset returns every target to StateUnknown.
func (g *Graph) Reset() {
	for _, t := range g.targets {
		t.Reset()
	}
}

// FilePath returns the filesystem location of a file target's output.
func (g *Graph) FilePath(t *Target) string {
	if t.Path == "" || filepath.IsAbs(t.Path) || g.root == "" {
		return t.Path
	}
	return filepath.Join(g.root, t.Path)
}

// Subtree returns root and everything it transitively depends on, dependencies first.
// Each target appears once, however many paths lead to it.
func (g *Graph) Subtree(root Name) ([]*Target, error) {
	rt, err := g.Get(root)
	if err != nil {
		return nil, err
	}

	type frame struct {
		t    *Target
		next int
	}

	visited := map[Name]struct{}{root: {}}
	stack := []frame{{t: rt}}
	var out []*Target

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next == len(top.t.Deps) {
			out = append(out, top.t)
			stack = stack[:len(stack)-1]
			continue
		}

		dep := top.t.Deps[top.next]
		top.next++
		if _, seen := visited[dep]; seen {
			continue
		}
		visited[dep] = struct{}{}

		dt, ok := g.targets[dep]
		if !ok {
			return nil, unknownDependency(dep, top.t.Key)
		}
		stack = append(stack, frame{t: dt})
	}

	return out, nil
}

type color uint8

const (
	white color = iota
	gray
	black
)

// CheckCycle reports an ErrCyclicDependency if any target reachable from root depends on itself.
// The error's "cycle" metadata holds the members as "a -> b -> a".
func (g *Graph) CheckCycle(root Name) error {
	if _, err := g.Get(root); err != nil {
		return err
	}
	return g.visit(root, make(map[Name]color))
}

// CheckReferences reports the first dependency key that does not resolve to a target.
func (g *Graph) CheckReferences() error {
	for _, key := range g.order {
		for _, dep := range g.targets[key].Deps {
			if _, ok := g.targets[dep]; !ok {
				return unknownDependency(dep, key)
			}
		}
	}
	return nil
}

// Validate checks every reference and every target for cycles.
func (g *Graph) Validate() error {
	if err := g.CheckReferences(); err != nil {
		return err
	}
	colors := make(map[Name]color, len(g.targets))
	for _, key := range g.order {
		if err := g.visit(key, colors); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) visit(start Name, colors map[Name]color) error {
	if colors[start] == black {
		return nil
	}

	type frame struct {
		key  Name
		deps []Name
		next int
	}

	colors[start] = gray
	stack := []frame{{key: start, deps: g.targets[start].Deps}}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next == len(top.deps) {
			colors[top.key] = black
			stack = stack[:len(stack)-1]
			continue
		}

		dep := top.deps[top.next]
		top.next++

		switch colors[dep] {
		case gray:
			members := make([]string, 0, len(stack)+1)
			for i := range stack {
				if stack[i].key == dep || len(members) > 0 {
					members = append(members, stack[i].key.String())
				}
			}
			members = append(members, dep.String())
			return cycleError(members)
		case black:
			continue
		}

		t, ok := g.targets[dep]
		if !ok {
			return unknownDependency(dep, top.key)
		}
		colors[dep] = gray
		stack = append(stack, frame{key: dep, deps: t.Deps})
	}

	return nil
}

func cycleError(members []string) error {
	path := strings.Join(members, " -> ")
	err := zerr.Wrap(ErrCyclicDependency, "dependency cycle "+path)
	err = zerr.With(err, "cycle", path)
	return zerr.With(err, "members", members[:len(members)-1])
}

func unknownDependency(dep, requiredBy Name) error {
	err := zerr.Wrap(ErrUnknownTarget, "failed to resolve dependency")
	err = zerr.With(err, "target", dep.String())
	return zerr.With(err, "required_by", requiredBy.String())
}
