package scheduler_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/engine/scheduler"
)

func TestClean_RemovesOutputsOnly(t *testing.T) {
	p := newProject(t, "a.c", "b.c", "a.o", "app")
	h := newHarness(t, p)
	g := cProjectGraph(t, p)

	removed, err := h.sched.Clean(context.Background(), g, domain.NewName("app"), scheduler.Options{Jobs: 4})
	require.NoError(t, err)

	// b.o was never built, so only the existing outputs are reported.
	assert.Equal(t, []string{"a.o", "app"}, removed)
	assert.False(t, p.exists("a.o"))
	assert.False(t, p.exists("app"))
	assert.True(t, p.exists("a.c"))
	assert.True(t, p.exists("b.c"))
	assert.False(t, h.cache.Get(g.FilePath(mustGet(t, g, "app"))).Exists)
}

func TestClean_DryRun(t *testing.T) {
	p := newProject(t, "a.c", "b.c", "a.o")
	h := newHarness(t, p)

	removed, err := h.sched.Clean(context.Background(), cProjectGraph(t, p), domain.NewName("app"),
		scheduler.Options{Jobs: 1, DryRun: true})
	require.NoError(t, err)
	assert.Empty(t, removed)
	assert.True(t, p.exists("a.o"))
}

func TestClean_RefusesPathsOutsideRoot(t *testing.T) {
	p := newProject(t)
	h := newHarness(t, p)

	escape := fileTarget("escape", "gen")
	escape.Path = "../escape"
	g := newGraph(t, p.root, escape)

	_, err := h.sched.Clean(context.Background(), g, domain.NewName("escape"), scheduler.Options{Jobs: 1})
	require.ErrorIs(t, err, domain.ErrOutputPathOutsideRoot)
}

func TestClean_Cycle(t *testing.T) {
	p := newProject(t)
	h := newHarness(t, p)
	g := newGraph(t, p.root,
		fileTarget("x", "gen", "y"),
		fileTarget("y", "gen", "x"),
	)

	_, err := h.sched.Clean(context.Background(), g, domain.NewName("x"), scheduler.Options{Jobs: 1})
	require.ErrorIs(t, err, domain.ErrCyclicDependency)
}

func mustGet(t *testing.T, g *domain.Graph, key string) *domain.Target {
	t.Helper()
	tgt, err := g.Lookup(key)
	require.NoError(t, err)
	return tgt
}
