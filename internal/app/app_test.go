package app_test

import (
	"bytes"
	"context"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/adapters/metacache"
	"go.trai.ch/kiln/internal/adapters/telemetry"
	"go.trai.ch/kiln/internal/app"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/kiln/internal/core/ports/mocks"
	"go.trai.ch/kiln/internal/engine/scheduler"
	"go.uber.org/mock/gomock"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeBuilder writes each target's output with a strictly increasing mtime.
type fakeBuilder struct {
	root  string
	mu    sync.Mutex
	tick  int
	calls []string
	fail  map[string]bool
}

func (b *fakeBuilder) run(_ context.Context, inv domain.Invocation) domain.ExecutionResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, inv.Target)
	if b.fail[inv.Target] {
		return domain.ExecutionResult{ExitCode: 2, StderrTail: []string{"boom"}, Err: domain.ErrCommandFailed}
	}
	b.touchLocked(inv.Target)
	return domain.ExecutionResult{OK: true}
}

func (b *fakeBuilder) touch(rel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.touchLocked(rel)
}

func (b *fakeBuilder) touchLocked(rel string) {
	b.tick++
	path := filepath.Join(b.root, rel)
	mtime := epoch.Add(time.Duration(b.tick) * time.Minute)
	_ = os.WriteFile(path, []byte(rel), 0o600)
	_ = os.Chtimes(path, mtime, mtime)
}

func (b *fakeBuilder) took() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.calls
	b.calls = nil
	return out
}

type fixture struct {
	dir      string
	file     string
	app      *app.App
	loader   *mocks.MockConfigLoader
	executor *mocks.MockExecutor
	watcher  *mocks.MockWatcher
	builder  *fakeBuilder
	stdout   *bytes.Buffer
	stderr   *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)

	dir := t.TempDir()
	f := &fixture{
		dir:      dir,
		file:     filepath.Join(dir, domain.BuildFileName),
		loader:   mocks.NewMockConfigLoader(ctrl),
		executor: mocks.NewMockExecutor(ctrl),
		watcher:  mocks.NewMockWatcher(ctrl),
		builder:  &fakeBuilder{root: dir, fail: map[string]bool{}},
		stdout:   new(bytes.Buffer),
		stderr:   new(bytes.Buffer),
	}

	log := mocks.NewMockLogger(ctrl)
	log.EXPECT().Info(gomock.Any()).AnyTimes()
	log.EXPECT().Warn(gomock.Any()).AnyTimes()
	log.EXPECT().Error(gomock.Any()).AnyTimes()

	cache := metacache.New()
	sched := scheduler.NewScheduler(f.executor, cache, telemetry.NoOp{}, log)
	f.app = app.New(f.loader, sched, cache, f.watcher, telemetry.NoOp{}, log).
		WithOutput(f.stdout, f.stderr).
		WithWorkDir(dir)

	f.loader.EXPECT().Discover(dir).Return(f.file, nil).AnyTimes()
	f.executor.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(f.builder.run).AnyTimes()
	return f
}

// useGraph makes every Load return a fresh copy of the a.o/b.o/app project.
func (f *fixture) useGraph(t *testing.T, extra ...func(*domain.Graph)) {
	t.Helper()
	f.builder.touch("a.c")
	f.builder.touch("b.c")
	f.loader.EXPECT().Load(f.file).DoAndReturn(func(string) (*domain.Graph, error) {
		g := domain.NewGraph()
		g.SetRoot(f.dir)
		for _, tgt := range []*domain.Target{
			domain.NewFileTarget("a.c"),
			domain.NewFileTarget("b.c"),
			withRecipe(domain.NewFileTarget("a.o", "a.c"), "cc -c {src} -o {tgt}"),
			withRecipe(domain.NewFileTarget("b.o", "b.c"), "cc -c {src} -o {tgt}"),
			withRecipe(domain.NewFileTarget("app", "a.o", "b.o"), "cc -o {tgt} {deps}"),
		} {
			require.NoError(t, g.Add(tgt))
		}
		for _, fn := range extra {
			fn(g)
		}
		return g, nil
	}).AnyTimes()
}

func withRecipe(t *domain.Target, recipe string) *domain.Target {
	t.Recipe = domain.MustParseRecipe(recipe)
	return t
}

func settings() app.RunOptions {
	return app.RunOptions{Settings: domain.Settings{Jobs: 2, VerifyCache: true}}
}

func TestApp_Build(t *testing.T) {
	f := newFixture(t)
	f.useGraph(t)

	require.NoError(t, f.app.Build(context.Background(), "", settings()))
	assert.ElementsMatch(t, []string{"a.o", "b.o", "app"}, f.builder.took())
	assert.Contains(t, f.stderr.String(), "✓ built all: 4 updated, 2 up to date")
	assert.FileExists(t, domain.DefaultCacheFile(f.dir))

	f.stderr.Reset()
	require.NoError(t, f.app.Build(context.Background(), "app", settings()))
	assert.Empty(t, f.builder.took())
	assert.Contains(t, f.stderr.String(), "✓ app is up to date")

	f.builder.touch("a.c")
	require.NoError(t, f.app.Build(context.Background(), "app", settings()))
	assert.Equal(t, []string{"a.o", "app"}, f.builder.took())
}

func TestApp_BuildFailure(t *testing.T) {
	f := newFixture(t)
	f.useGraph(t)
	f.builder.fail["a.o"] = true

	err := f.app.Build(context.Background(), "app", settings())
	require.ErrorIs(t, err, domain.ErrBuildFailed)

	out := f.stderr.String()
	assert.Contains(t, out, "✗ a.o (exit 2)")
	assert.Contains(t, out, "    boom")
	assert.Contains(t, out, "    app (blocked by a.o)")
	assert.Contains(t, f.builder.took(), "a.o")
}

func TestApp_BuildCycle(t *testing.T) {
	f := newFixture(t)
	f.useGraph(t, func(g *domain.Graph) {
		g.Replace(withRecipe(domain.NewFileTarget("a.c", "app"), "gen"))
	})

	err := f.app.Build(context.Background(), "app", settings())
	require.ErrorIs(t, err, domain.ErrCyclicDependency)
	assert.Empty(t, f.builder.took())
	assert.Empty(t, f.stderr.String())
}

func TestApp_UnknownTarget(t *testing.T) {
	f := newFixture(t)
	f.useGraph(t)

	err := f.app.Build(context.Background(), "nope", settings())
	require.ErrorIs(t, err, domain.ErrUnknownTarget)
	assert.True(t, domain.IsConfigError(err))
}

func TestApp_BuildFileNotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	loader := mocks.NewMockConfigLoader(ctrl)
	loader.EXPECT().Discover(gomock.Any()).Return("", domain.ErrConfigNotFound)

	a := app.New(loader, nil, metacache.New(), nil, telemetry.NoOp{}, mocks.NewMockLogger(ctrl)).
		WithWorkDir(t.TempDir())

	err := a.Build(context.Background(), "", settings())
	require.ErrorIs(t, err, domain.ErrConfigNotFound)
}

func TestApp_ExplicitFile(t *testing.T) {
	f := newFixture(t)
	custom := filepath.Join(f.dir, "other.yaml")
	f.loader.EXPECT().Load(custom).Return(domain.NewGraph(), nil)

	opts := settings()
	opts.Settings.File = "other.yaml"
	require.NoError(t, f.app.Plan(context.Background(), "", opts))
	assert.Equal(t, "all (phony)\n", f.stdout.String())
}

func TestApp_RootResolution(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		fileDflt   string
		configured string
		want       string
	}{
		{name: "explicit", target: "a.o", fileDflt: "b.o", configured: "app", want: "a.c\na.o\n"},
		{name: "build file default", fileDflt: "b.o", configured: "a.o", want: "b.c\nb.o\n"},
		{name: "configured default", configured: "a.o", want: "a.c\na.o\n"},
		{name: "implicit all", want: "a.c\na.o\nb.c\nb.o\napp\nall (phony)\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.useGraph(t, func(g *domain.Graph) { g.SetDefault(tt.fileDflt) })

			opts := settings()
			opts.Settings.DefaultTarget = tt.configured
			require.NoError(t, f.app.Plan(context.Background(), tt.target, opts))
			assert.Equal(t, tt.want, f.stdout.String())
		})
	}
}

func TestApp_DryRunLeavesNoState(t *testing.T) {
	f := newFixture(t)
	f.useGraph(t)

	opts := settings()
	opts.DryRun = true
	require.NoError(t, f.app.Build(context.Background(), "app", opts))
	assert.Empty(t, f.builder.took())
	assert.NoFileExists(t, domain.DefaultCacheFile(f.dir))
}

func TestApp_Clean(t *testing.T) {
	f := newFixture(t)
	f.useGraph(t)

	require.NoError(t, f.app.Build(context.Background(), "app", settings()))
	f.builder.took()

	require.NoError(t, f.app.Clean(context.Background(), "app", settings()))
	assert.NoFileExists(t, filepath.Join(f.dir, "app"))
	assert.NoFileExists(t, filepath.Join(f.dir, "a.o"))
	assert.FileExists(t, filepath.Join(f.dir, "a.c"))

	require.NoError(t, f.app.Build(context.Background(), "app", settings()))
	assert.ElementsMatch(t, []string{"a.o", "b.o", "app"}, f.builder.took())
}

func TestApp_Check(t *testing.T) {
	f := newFixture(t)
	f.useGraph(t, func(g *domain.Graph) {
		// Unreachable from app, so only a whole-graph check finds it.
		g.Replace(withRecipe(domain.NewFileTarget("x", "y"), "gen"))
		g.Replace(withRecipe(domain.NewFileTarget("y", "x"), "gen"))
	})

	require.NoError(t, f.app.Build(context.Background(), "app", settings()))
	require.ErrorIs(t, f.app.Check(context.Background(), settings()), domain.ErrCyclicDependency)
}

func TestApp_Configure(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, domain.SettingsFileName), []byte("jobs: 3\n"), 0o600))

	s, err := f.app.Configure(nil)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Jobs)
	assert.True(t, s.VerifyCache)
}

func TestApp_Watch(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t)
		f.useGraph(t)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		f.watcher.EXPECT().Start(gomock.Any(), f.dir).DoAndReturn(func(context.Context, string) error {
			f.builder.touch("a.c")
			return nil
		})
		f.watcher.EXPECT().Stop().Return(nil)
		f.watcher.EXPECT().Events().Return(iter.Seq[ports.WatchEvent](func(yield func(ports.WatchEvent) bool) {
			events := []string{
				filepath.Join(f.dir, "a.c"),
				filepath.Join(f.dir, "a.o"),
				filepath.Join(f.dir, domain.StateDirName, domain.MetadataFileName),
			}
			for _, path := range events {
				if !yield(ports.WatchEvent{Path: path, Operation: ports.OpWrite}) {
					return
				}
			}
			<-ctx.Done()
		}))

		opts := settings()
		opts.Settings.WatchDebounce = 100 * time.Millisecond

		done := make(chan error, 1)
		go func() { done <- f.app.Watch(ctx, "app", opts) }()

		time.Sleep(time.Second)
		cancel()
		require.NoError(t, <-done)

		// Initial build, then one rebuild for the source change. Output and
		// state changes are ignored.
		assert.Equal(t, []string{"a.o", "b.o", "app", "a.o", "app"}, sortedRounds(f.builder.took()))
	})
}

func TestApp_WatchReloadThenSourceChange(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t)
		var loads atomic.Int32
		f.useGraph(t, func(*domain.Graph) { loads.Add(1) })

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		f.watcher.EXPECT().Start(gomock.Any(), f.dir).Return(nil)
		f.watcher.EXPECT().Stop().Return(nil)
		f.watcher.EXPECT().Events().Return(iter.Seq[ports.WatchEvent](func(yield func(ports.WatchEvent) bool) {
			steps := []struct {
				path  string
				touch bool
			}{
				{path: domain.BuildFileName},
				{path: "a.c", touch: true},
				{path: domain.BuildFileName},
				{path: "a.o"},
			}
			for _, step := range steps {
				if step.touch {
					f.builder.touch(step.path)
				}
				if !yield(ports.WatchEvent{Path: filepath.Join(f.dir, step.path), Operation: ports.OpWrite}) {
					return
				}
				time.Sleep(100 * time.Millisecond)
			}
			<-ctx.Done()
		}))

		opts := settings()
		opts.Settings.WatchDebounce = 20 * time.Millisecond

		done := make(chan error, 1)
		go func() { done <- f.app.Watch(ctx, "app", opts) }()

		time.Sleep(time.Second)
		cancel()
		require.NoError(t, <-done)

		assert.Equal(t, int32(3), loads.Load(), "initial load plus two reloads")
		assert.Equal(t, []string{"a.o", "b.o", "app", "a.o", "app"}, sortedRounds(f.builder.took()))
	})
}

// sortedRounds orders the first three calls, which run concurrently.
func sortedRounds(calls []string) []string {
	if len(calls) < 3 {
		return calls
	}
	first := map[string]bool{}
	for _, c := range calls[:3] {
		first[c] = true
	}
	if first["a.o"] && first["b.o"] && calls[2] == "app" {
		return append([]string{"a.o", "b.o", "app"}, calls[3:]...)
	}
	return calls
}
