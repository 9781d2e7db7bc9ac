package scheduler_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/adapters/metacache"
	"go.trai.ch/kiln/internal/adapters/telemetry"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports/mocks"
	"go.trai.ch/kiln/internal/engine/scheduler"
	"go.uber.org/mock/gomock"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// project is a temporary source tree with a monotonic clock for file mtimes.
type project struct {
	t    *testing.T
	root string
	tick atomic.Int64
}

func newProject(t *testing.T, sources ...string) *project {
	t.Helper()
	p := &project{t: t, root: t.TempDir()}
	for _, src := range sources {
		p.write(src, epoch)
	}
	return p
}

func (p *project) write(rel string, mtime time.Time) {
	p.t.Helper()
	path := filepath.Join(p.root, rel)
	require.NoError(p.t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(p.t, os.WriteFile(path, []byte(rel), 0o600))
	require.NoError(p.t, os.Chtimes(path, mtime, mtime))
}

// now returns a timestamp later than every earlier call.
func (p *project) now() time.Time {
	return epoch.Add(time.Duration(p.tick.Add(1)) * time.Minute)
}

func (p *project) touch(rel string) {
	p.write(rel, p.now())
}

func (p *project) exists(rel string) bool {
	_, err := os.Stat(filepath.Join(p.root, rel))
	return err == nil
}

// builder is an executor stand-in that writes each target's output file.
type builder struct {
	p     *project
	mu    sync.Mutex
	calls []string
	fail  map[string]int
}

func (b *builder) run(_ context.Context, inv domain.Invocation) domain.ExecutionResult {
	b.mu.Lock()
	b.calls = append(b.calls, inv.Target)
	b.mu.Unlock()

	if code, ok := b.fail[inv.Target]; ok {
		return domain.ExecutionResult{
			ExitCode:   code,
			StderrTail: []string{inv.Target + ": error"},
			Err:        domain.ErrCommandFailed,
		}
	}
	b.p.touch(inv.Target)
	return domain.ExecutionResult{OK: true, Duration: time.Millisecond}
}

func (b *builder) took() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.calls
	b.calls = nil
	return out
}

func fileTarget(key, recipe string, deps ...string) *domain.Target {
	t := domain.NewFileTarget(key, deps...)
	if recipe != "" {
		t.Recipe = domain.MustParseRecipe(recipe)
	}
	return t
}

func newGraph(t *testing.T, root string, targets ...*domain.Target) *domain.Graph {
	t.Helper()
	g := domain.NewGraph()
	g.SetRoot(root)
	for _, tgt := range targets {
		require.NoError(t, g.Add(tgt))
	}
	return g
}

type harness struct {
	sched    *scheduler.Scheduler
	executor *mocks.MockExecutor
	logger   *mocks.MockLogger
	cache    *metacache.Cache
	builder  *builder
}

func newHarness(t *testing.T, p *project) *harness {
	t.Helper()
	ctrl := gomock.NewController(t)
	h := &harness{
		executor: mocks.NewMockExecutor(ctrl),
		logger:   mocks.NewMockLogger(ctrl),
		cache:    metacache.New(),
		builder:  &builder{p: p, fail: map[string]int{}},
	}
	h.logger.EXPECT().Info(gomock.Any()).AnyTimes()
	h.logger.EXPECT().Warn(gomock.Any()).AnyTimes()
	h.sched = scheduler.NewScheduler(h.executor, h.cache, telemetry.NoOp{}, h.logger)
	return h
}

func (h *harness) useBuilder() {
	h.executor.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(h.builder.run).AnyTimes()
}

func cProjectGraph(t *testing.T, p *project) *domain.Graph {
	t.Helper()
	return newGraph(t, p.root,
		domain.NewFileTarget("a.c"),
		domain.NewFileTarget("b.c"),
		fileTarget("a.o", "cc -c {src} -o {tgt}", "a.c"),
		fileTarget("b.o", "cc -c {src} -o {tgt}", "b.c"),
		fileTarget("app", "cc -o {tgt} {deps}", "a.o", "b.o"),
	)
}

func states(r *domain.Report) map[string]domain.State {
	out := make(map[string]domain.State, len(r.Outcomes))
	for _, o := range r.Outcomes {
		out[o.Target.String()] = o.State
	}
	return out
}

func TestBuild_EndToEnd(t *testing.T) {
	p := newProject(t, "a.c", "b.c")
	h := newHarness(t, p)
	h.useBuilder()
	g := cProjectGraph(t, p)
	opts := scheduler.Options{Jobs: 4, VerifyCache: true}

	report, err := h.sched.Build(context.Background(), g, domain.NewName("app"), opts)
	require.NoError(t, err)
	require.True(t, report.OK())
	assert.ElementsMatch(t, []string{"a.o", "b.o", "app"}, h.builder.took())
	assert.Len(t, report.Updated(), 3)

	report, err = h.sched.Build(context.Background(), g, domain.NewName("app"), opts)
	require.NoError(t, err)
	assert.Empty(t, h.builder.took(), "a second build with no changes runs nothing")
	assert.Len(t, report.Kept(), 5)

	p.touch("a.c")
	report, err = h.sched.Build(context.Background(), g, domain.NewName("app"), opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.o", "app"}, h.builder.took())
	assert.Equal(t, map[string]domain.State{
		"a.c": domain.StateKeeped,
		"b.c": domain.StateKeeped,
		"a.o": domain.StateUpdated,
		"b.o": domain.StateKeeped,
		"app": domain.StateUpdated,
	}, states(report))
}

func TestBuild_TransitivePropagation(t *testing.T) {
	p := newProject(t, "c.src")
	h := newHarness(t, p)
	h.useBuilder()
	g := newGraph(t, p.root,
		domain.NewFileTarget("c.src"),
		fileTarget("b.out", "gen {src} > {tgt}", "c.src"),
		fileTarget("a.out", "gen {src} > {tgt}", "b.out"),
	)
	root := domain.NewName("a.out")

	_, err := h.sched.Build(context.Background(), g, root, scheduler.Options{Jobs: 1})
	require.NoError(t, err)
	require.Equal(t, []string{"b.out", "a.out"}, h.builder.took())

	p.touch("c.src")
	_, err = h.sched.Build(context.Background(), g, root, scheduler.Options{Jobs: 1, VerifyCache: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"b.out", "a.out"}, h.builder.took())
}

func TestBuild_DiamondRunsSharedDependencyOnce(t *testing.T) {
	p := newProject(t, "base.c")
	h := newHarness(t, p)
	h.useBuilder()
	g := newGraph(t, p.root,
		domain.NewFileTarget("base.c"),
		fileTarget("shared", "gen", "base.c"),
		fileTarget("left", "gen", "shared"),
		fileTarget("right", "gen", "shared"),
		fileTarget("top", "gen", "left", "right", "shared"),
	)

	report, err := h.sched.Build(context.Background(), g, domain.NewName("top"), scheduler.Options{Jobs: 8})
	require.NoError(t, err)
	require.True(t, report.OK())

	calls := h.builder.took()
	assert.ElementsMatch(t, []string{"shared", "left", "right", "top"}, calls)
	assert.Equal(t, "shared", calls[0])
	assert.Equal(t, "top", calls[3])
}

func TestBuild_CycleDetectedBeforeExecution(t *testing.T) {
	p := newProject(t)
	h := newHarness(t, p)
	h.executor.EXPECT().Run(gomock.Any(), gomock.Any()).Times(0)

	g := newGraph(t, p.root,
		fileTarget("a", "gen", "b"),
		fileTarget("b", "gen", "c"),
		fileTarget("c", "gen", "a"),
	)

	report, err := h.sched.Build(context.Background(), g, domain.NewName("a"), scheduler.Options{Jobs: 2})
	require.ErrorIs(t, err, domain.ErrCyclicDependency)
	assert.Nil(t, report)
}

func TestBuild_UnknownRoot(t *testing.T) {
	p := newProject(t)
	h := newHarness(t, p)
	g := newGraph(t, p.root, fileTarget("a", "gen"))

	_, err := h.sched.Build(context.Background(), g, domain.NewName("nope"), scheduler.Options{})
	require.ErrorIs(t, err, domain.ErrUnknownTarget)
}

func TestBuild_FailureIsolation(t *testing.T) {
	p := newProject(t)
	h := newHarness(t, p)
	h.useBuilder()
	h.builder.fail["left"] = 2

	g := newGraph(t, p.root,
		fileTarget("left", "gen"),
		fileTarget("right", "gen"),
		fileTarget("mid", "gen", "left"),
		fileTarget("root", "gen", "mid", "right"),
	)

	report, err := h.sched.Build(context.Background(), g, domain.NewName("root"), scheduler.Options{Jobs: 2})
	require.NoError(t, err)
	assert.False(t, report.OK())
	assert.ElementsMatch(t, []string{"left", "right"}, h.builder.took())
	assert.True(t, p.exists("right"))

	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "left", failed[0].Target.String())
	assert.Equal(t, 2, failed[0].ExitCode)
	assert.Equal(t, []string{"left: error"}, failed[0].StderrTail)
	assert.Equal(t, "gen", failed[0].Command)

	skipped := report.Skipped()
	require.Len(t, skipped, 2)
	for _, o := range skipped {
		assert.Equal(t, "left", o.BlockedBy.String())
		require.ErrorIs(t, o.Err, domain.ErrDependencyFailed)
	}

	right, ok := report.Get(domain.NewName("right"))
	require.True(t, ok)
	assert.Equal(t, domain.StateUpdated, right.State)
}

func TestBuild_MissingSourceHasNoRecipe(t *testing.T) {
	p := newProject(t)
	h := newHarness(t, p)
	h.executor.EXPECT().Run(gomock.Any(), gomock.Any()).Times(0)

	g := newGraph(t, p.root,
		domain.NewFileTarget("missing.c"),
		fileTarget("a.o", "cc -c {src}", "missing.c"),
	)

	report, err := h.sched.Build(context.Background(), g, domain.NewName("a.o"), scheduler.Options{})
	require.NoError(t, err)

	failed := report.Failed()
	require.Len(t, failed, 1)
	require.ErrorIs(t, failed[0].Err, domain.ErrNoRecipe)
	require.Len(t, report.Skipped(), 1)
}

func TestBuild_PhonyTargets(t *testing.T) {
	p := newProject(t, "a.c")
	h := newHarness(t, p)
	h.useBuilder()

	test := domain.NewPhonyTarget("test", "a.o")
	test.Recipe = domain.MustParseRecipe("./run-tests")
	g := newGraph(t, p.root,
		domain.NewFileTarget("a.c"),
		fileTarget("a.o", "cc", "a.c"),
		test,
		domain.NewPhonyTarget("all", "a.o"),
	)

	report, err := h.sched.Build(context.Background(), g, domain.NewName("all"), scheduler.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.o"}, h.builder.took())
	all, _ := report.Get(domain.NewName("all"))
	assert.Equal(t, domain.StateUpdated, all.State, "an updated dependency makes the aggregate updated")

	report, err = h.sched.Build(context.Background(), g, domain.NewName("all"), scheduler.Options{})
	require.NoError(t, err)
	all, _ = report.Get(domain.NewName("all"))
	assert.Equal(t, domain.StateKeeped, all.State)

	_, err = h.sched.Build(context.Background(), g, domain.NewName("test"), scheduler.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"test"}, h.builder.took(), "an explicitly requested phony recipe always runs")
}

func TestBuild_DryRun(t *testing.T) {
	p := newProject(t, "a.c", "b.c")
	h := newHarness(t, p)
	h.executor.EXPECT().Run(gomock.Any(), gomock.Any()).Times(0)
	g := cProjectGraph(t, p)

	report, err := h.sched.Build(context.Background(), g, domain.NewName("app"), scheduler.Options{DryRun: true})
	require.NoError(t, err)
	assert.Len(t, report.Updated(), 3)

	app, _ := report.Get(domain.NewName("app"))
	assert.Equal(t, "cc -o app a.o b.o", app.Command)
	assert.False(t, p.exists("app"))
}

func TestBuild_InvocationCarriesTargetSettings(t *testing.T) {
	p := newProject(t, "a.c")
	h := newHarness(t, p)

	ao := fileTarget("a.o", "{cc} -c {src} -o {tgt}", "a.c")
	ao.Message = domain.MustParseRecipe("CC {tgt}")
	ao.Env = map[string]string{"LANG": "C"}
	g := newGraph(t, p.root, domain.NewFileTarget("a.c"), ao)
	g.SetVars(map[string]string{"cc": "clang"})

	h.executor.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, inv domain.Invocation) domain.ExecutionResult {
			assert.Equal(t, "clang -c a.c -o a.o", inv.Command)
			assert.Equal(t, "CC a.o", inv.Message)
			assert.Equal(t, p.root, inv.Dir)
			assert.Equal(t, map[string]string{"LANG": "C"}, inv.Env)
			assert.True(t, inv.Quiet)
			p.touch("a.o")
			return domain.ExecutionResult{OK: true}
		}).Times(1)

	report, err := h.sched.Build(context.Background(), g, domain.NewName("a.o"), scheduler.Options{Quiet: true})
	require.NoError(t, err)
	assert.True(t, report.OK())
}

func TestBuild_RecordsVertices(t *testing.T) {
	p := newProject(t, "a.c")
	ctrl := gomock.NewController(t)
	h := newHarness(t, p)
	h.useBuilder()

	tel := mocks.NewMockTelemetry(ctrl)
	src := mocks.NewMockVertex(ctrl)
	obj := mocks.NewMockVertex(ctrl)
	tel.EXPECT().Record(gomock.Any(), "a.c").Return(context.Background(), src)
	tel.EXPECT().Record(gomock.Any(), "a.o").Return(context.Background(), obj)
	src.EXPECT().Cached()
	src.EXPECT().Complete(nil)
	obj.EXPECT().Complete(nil)

	sched := scheduler.NewScheduler(h.executor, h.cache, tel, h.logger)
	g := newGraph(t, p.root, domain.NewFileTarget("a.c"), fileTarget("a.o", "cc", "a.c"))

	_, err := sched.Build(context.Background(), g, domain.NewName("a.o"), scheduler.Options{})
	require.NoError(t, err)
}

func TestBuild_PrefetchFailureOnlyWarns(t *testing.T) {
	p := newProject(t, "a.c")
	ctrl := gomock.NewController(t)
	executor := mocks.NewMockExecutor(ctrl)
	logger := mocks.NewMockLogger(ctrl)
	cache := mocks.NewMockMetadataCache(ctrl)
	b := &builder{p: p, fail: map[string]int{}}

	disk := metacache.New()
	cache.EXPECT().Prefetch(gomock.Any(), gomock.Len(2)).Return(domain.ErrCacheIO)
	cache.EXPECT().Get(gomock.Any()).DoAndReturn(disk.Get).AnyTimes()
	cache.EXPECT().Invalidate(gomock.Any()).Do(disk.Invalidate).AnyTimes()
	logger.EXPECT().Info(gomock.Any()).AnyTimes()
	logger.EXPECT().Warn(gomock.Any()).Times(1)
	executor.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(b.run)

	g := newGraph(t, p.root,
		domain.NewFileTarget("a.c"),
		fileTarget("a.o", "cc -c {src} -o {tgt}", "a.c"),
	)
	sched := scheduler.NewScheduler(executor, cache, telemetry.NoOp{}, logger)

	report, err := sched.Build(context.Background(), g, domain.NewName("a.o"), scheduler.Options{Jobs: 1, VerifyCache: true})
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, []string{"a.o"}, b.took())
}
