// Package app implements the application layer for kiln.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
	"go.trai.ch/kiln/internal/adapters/config" //nolint:depguard // Settings are resolved in the app layer
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/kiln/internal/engine/scheduler"
	"go.trai.ch/kiln/internal/ui/report"
	"go.trai.ch/zerr"
)

// App represents the main application logic.
type App struct {
	loader    ports.ConfigLoader
	scheduler *scheduler.Scheduler
	cache     ports.MetadataCache
	watcher   ports.Watcher
	telemetry ports.Telemetry
	logger    ports.Logger

	stdout  io.Writer
	printer *report.Printer
	workDir string
}

// New creates a new App instance.
func New(
	loader ports.ConfigLoader,
	sched *scheduler.Scheduler,
	cache ports.MetadataCache,
	watcher ports.Watcher,
	telemetry ports.Telemetry,
	log ports.Logger,
) *App {
	return &App{
		loader:    loader,
		scheduler: sched,
		cache:     cache,
		watcher:   watcher,
		telemetry: telemetry,
		logger:    log,
		stdout:    os.Stdout,
		printer:   report.New(os.Stderr),
	}
}

// WithOutput redirects plan listings to stdout and build reports to stderr.
// Reports written this way are never colored.
func (a *App) WithOutput(stdout, stderr io.Writer) *App {
	a.stdout = stdout
	a.printer = report.NewPlain(stderr)
	return a
}

// WithWorkDir makes the app resolve build files and settings from dir instead
// of the process working directory.
func (a *App) WithWorkDir(dir string) *App {
	a.workDir = dir
	return a
}

// RunOptions configures a single command.
type RunOptions struct {
	Settings domain.Settings
	DryRun   bool
}

func (o RunOptions) schedulerOptions() scheduler.Options {
	return scheduler.Options{
		Jobs:             o.Settings.Jobs,
		Quiet:            o.Settings.Quiet,
		AbortOnInterrupt: o.Settings.AbortOnInterrupt,
		VerifyCache:      o.Settings.VerifyCache,
		DryRun:           o.DryRun,
	}
}

// Configure resolves the engine settings for the working directory and flags
// and applies the ones that affect logging.
func (a *App) Configure(flags *pflag.FlagSet) (domain.Settings, error) {
	dir, err := a.dir()
	if err != nil {
		return domain.Settings{}, err
	}

	s, err := config.LoadSettings(dir, flags)
	if err != nil {
		return domain.Settings{}, err
	}

	if j, ok := a.logger.(interface{ SetJSON(bool) }); ok {
		j.SetJSON(s.LogJSON)
	}
	return s, nil
}

// Build brings target and everything it depends on up to date.
// It returns domain.ErrBuildFailed when any target failed.
func (a *App) Build(ctx context.Context, target string, opts RunOptions) error {
	p, err := a.open(target, opts.Settings)
	if err != nil {
		return err
	}
	a.loadCache(p.cacheFile)
	return a.build(ctx, p, opts)
}

// Clean removes the outputs of target's recipes.
func (a *App) Clean(ctx context.Context, target string, opts RunOptions) error {
	p, err := a.open(target, opts.Settings)
	if err != nil {
		return err
	}
	a.loadCache(p.cacheFile)

	removed, err := a.scheduler.Clean(ctx, p.graph, p.root, opts.schedulerOptions())
	if !opts.DryRun {
		a.saveCache(p.cacheFile)
	}
	if err != nil {
		return err
	}

	switch {
	case opts.DryRun:
	case len(removed) == 0:
		a.logger.Info("nothing to clean")
	default:
		a.logger.Info(fmt.Sprintf("removed %d file(s)", len(removed)))
	}
	return nil
}

// Check loads the build description and validates the whole graph.
func (a *App) Check(_ context.Context, opts RunOptions) error {
	path, err := a.buildFile(opts.Settings)
	if err != nil {
		return err
	}
	g, err := a.loader.Load(path)
	if err != nil {
		return err
	}
	if err := g.Validate(); err != nil {
		return err
	}
	a.logger.Info(fmt.Sprintf("%s: %d targets, no cycles", path, g.Len()))
	return nil
}

// Plan writes the targets a build of target would visit to stdout,
// dependencies first.
func (a *App) Plan(_ context.Context, target string, opts RunOptions) error {
	p, err := a.open(target, opts.Settings)
	if err != nil {
		return err
	}
	if err := p.graph.CheckCycle(p.root); err != nil {
		return err
	}
	plan, err := p.graph.Subtree(p.root)
	if err != nil {
		return err
	}
	for _, t := range plan {
		line := t.Key.String()
		if !t.IsFile {
			line += " (phony)"
		}
		_, _ = fmt.Fprintln(a.stdout, line)
	}
	return nil
}

// Close flushes progress recording.
func (a *App) Close() error {
	return a.telemetry.Close()
}

// project is a loaded build description with a resolved build root.
type project struct {
	file      string
	graph     *domain.Graph
	root      domain.Name
	cacheFile string
}

func (a *App) open(target string, s domain.Settings) (*project, error) {
	path, err := a.buildFile(s)
	if err != nil {
		return nil, err
	}
	g, err := a.loader.Load(path)
	if err != nil {
		return nil, err
	}
	root, err := resolveRoot(g, target, s.DefaultTarget)
	if err != nil {
		return nil, err
	}

	cacheFile := s.CacheFile
	switch {
	case cacheFile == "":
		cacheFile = domain.DefaultCacheFile(g.Root())
	case !filepath.IsAbs(cacheFile):
		cacheFile = filepath.Join(g.Root(), cacheFile)
	}

	return &project{file: path, graph: g, root: root, cacheFile: cacheFile}, nil
}

func (a *App) buildFile(s domain.Settings) (string, error) {
	dir, err := a.dir()
	if err != nil {
		return "", err
	}
	if s.File == "" {
		return a.loader.Discover(dir)
	}
	if filepath.IsAbs(s.File) {
		return s.File, nil
	}
	return filepath.Join(dir, s.File), nil
}

func (a *App) dir() (string, error) {
	if a.workDir != "" {
		return a.workDir, nil
	}
	dir, err := os.Getwd()
	if err != nil {
		return "", zerr.Wrap(err, "failed to get working directory")
	}
	return dir, nil
}

// resolveRoot picks the build root: the explicit target, then the build
// file's default, then the configured default, then "all". An undeclared
// "all" becomes a phony target over every root of the graph.
func resolveRoot(g *domain.Graph, target, configured string) (domain.Name, error) {
	key := target
	for _, candidate := range []string{g.Default(), configured, domain.AllTarget} {
		if key != "" {
			break
		}
		key = candidate
	}

	name := domain.NewName(key)
	if g.Has(name) {
		return name, nil
	}
	if key == domain.AllTarget {
		g.Replace(&domain.Target{Key: name, Deps: g.Roots()})
		return name, nil
	}
	if _, err := g.Get(name); err != nil {
		return domain.Name{}, err
	}
	return name, nil
}

func (a *App) build(ctx context.Context, p *project, opts RunOptions) error {
	rep, err := a.scheduler.Build(ctx, p.graph, p.root, opts.schedulerOptions())
	if rep == nil {
		return err
	}

	if !opts.DryRun {
		a.saveCache(p.cacheFile)
	}
	a.printer.Print(rep)

	if err != nil {
		return err
	}
	if !rep.OK() {
		failed := zerr.With(zerr.Wrap(domain.ErrBuildFailed, "build failed"), "target", p.root.String())
		return zerr.With(failed, "failed", len(rep.Failed()))
	}
	return nil
}

func (a *App) loadCache(path string) {
	if err := a.cache.Load(path); err != nil {
		a.logger.Warn("metadata cache is unreadable, starting cold: " + err.Error())
	}
}

func (a *App) saveCache(path string) {
	if err := a.cache.Save(path); err != nil {
		a.logger.Warn("failed to save metadata cache: " + err.Error())
	}
}
