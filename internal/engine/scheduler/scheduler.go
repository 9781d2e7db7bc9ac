// Package scheduler builds a target and its dependencies in dependency order.
package scheduler

import (
	"context"
	"time"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
)

// Options configures a single build.
type Options struct {
	// Jobs bounds the number of recipes running at once. Values below 1 mean 1.
	Jobs int
	// Quiet suppresses command echo and output forwarding.
	Quiet bool
	// AbortOnInterrupt terminates running recipes on cancellation instead of
	// letting them finish.
	AbortOnInterrupt bool
	// VerifyCache refreshes the metadata of every planned file before the build.
	VerifyCache bool
	// DryRun reports what would run without running it.
	DryRun bool
}

// Scheduler drives builds over a target graph.
type Scheduler struct {
	executor  ports.Executor
	cache     ports.MetadataCache
	telemetry ports.Telemetry
	logger    ports.Logger
}

// NewScheduler creates a new Scheduler.
func NewScheduler(
	executor ports.Executor,
	cache ports.MetadataCache,
	telemetry ports.Telemetry,
	logger ports.Logger,
) *Scheduler {
	return &Scheduler{
		executor:  executor,
		cache:     cache,
		telemetry: telemetry,
		logger:    logger,
	}
}

// Build brings root up to date.
//
// The graph below root is checked for cycles before anything runs, so a cycle
// never reaches the executor. Targets whose dependency failed are reported as
// failed without running. The returned error is non-nil only when the build
// could not start or was interrupted; recipe failures live in the report.
func (s *Scheduler) Build(ctx context.Context, g *domain.Graph, root domain.Name, opts Options) (*domain.Report, error) {
	start := time.Now()

	if err := g.CheckCycle(root); err != nil {
		return nil, err
	}
	plan, err := g.Subtree(root)
	if err != nil {
		return nil, err
	}

	for _, t := range plan {
		t.Reset()
	}

	if opts.VerifyCache {
		s.prefetch(ctx, g, plan)
	}

	state := s.newRunState(ctx, g, root, plan, opts)
	state.run()

	report := domain.NewReport(root)
	for _, t := range plan {
		report.Record(state.outcomes[t.Key])
	}
	report.Duration = time.Since(start)

	if ctx.Err() != nil {
		return report, zerr.With(zerr.Wrap(ctx.Err(), "build interrupted"), "target", root.String())
	}
	return report, nil
}

func (s *Scheduler) prefetch(ctx context.Context, g *domain.Graph, plan []*domain.Target) {
	paths := make([]string, 0, len(plan))
	for _, t := range plan {
		if t.IsFile {
			paths = append(paths, g.FilePath(t))
		}
	}
	if err := s.cache.Prefetch(ctx, paths); err != nil {
		s.logger.Warn("metadata refresh failed, using cached entries: " + err.Error())
	}
}
