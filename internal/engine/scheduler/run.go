package scheduler

import (
	"context"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/zerr"
)

type result struct {
	outcome domain.Outcome
}

// runState belongs to the goroutine running Build. Workers only touch their
// own target and report back through resultsCh.
type runState struct {
	s    *Scheduler
	g    *domain.Graph
	root domain.Name
	opts Options

	ctx     context.Context
	execCtx context.Context

	targets   map[domain.Name]*domain.Target
	inDegree  map[domain.Name]int
	ready     []domain.Name
	active    int
	jobs      int
	resultsCh chan result
	outcomes  map[domain.Name]domain.Outcome
}

func (s *Scheduler) newRunState(
	ctx context.Context,
	g *domain.Graph,
	root domain.Name,
	plan []*domain.Target,
	opts Options,
) *runState {
	jobs := max(opts.Jobs, 1)

	// Running recipes finish on interrupt unless asked to abort.
	execCtx := context.WithoutCancel(ctx)
	if opts.AbortOnInterrupt {
		execCtx = ctx
	}

	state := &runState{
		s:         s,
		g:         g,
		root:      root,
		opts:      opts,
		ctx:       ctx,
		execCtx:   execCtx,
		targets:   make(map[domain.Name]*domain.Target, len(plan)),
		inDegree:  make(map[domain.Name]int, len(plan)),
		jobs:      jobs,
		resultsCh: make(chan result, jobs),
		outcomes:  make(map[domain.Name]domain.Outcome, len(plan)),
	}

	for _, t := range plan {
		state.targets[t.Key] = t
		state.inDegree[t.Key] = len(uniqueDeps(t))
	}
	// Builds the graph's reverse index before any worker starts.
	_ = g.Dependents(root)
	// Plan order is a postorder, so leaves come first in the ready queue.
	for _, t := range plan {
		if state.inDegree[t.Key] == 0 {
			state.ready = append(state.ready, t.Key)
		}
	}
	return state
}

func (state *runState) run() {
	done := state.ctx.Done()

	for {
		state.schedule()
		if state.isDone() {
			break
		}

		select {
		case res := <-state.resultsCh:
			state.handleResult(res)
		case <-done:
			// Stop watching; schedule drains the queue from now on.
			done = nil
		}
	}

	state.abortUndispatched()
}

func (state *runState) isDone() bool {
	return state.active == 0 && len(state.ready) == 0
}

func (state *runState) schedule() {
	if state.ctx.Err() != nil {
		state.ready = nil
		return
	}

	for len(state.ready) > 0 && state.active < state.jobs {
		key := state.ready[0]
		state.ready = state.ready[1:]
		state.active++

		t := state.targets[key]
		go func() {
			state.resultsCh <- result{outcome: state.process(t)}
		}()
	}
}

func (state *runState) handleResult(res result) {
	state.active--

	o := res.outcome
	state.outcomes[o.Target] = o

	if o.State == domain.StateFailed {
		state.blockDependents(o.Target)
		return
	}

	for _, dep := range state.g.Dependents(o.Target) {
		if _, planned := state.targets[dep]; !planned {
			continue
		}
		state.inDegree[dep]--
		if state.inDegree[dep] == 0 {
			state.ready = append(state.ready, dep)
		}
	}
}

// blockDependents marks every planned target above failed as failed without
// running it. Such targets never reach in-degree zero.
func (state *runState) blockDependents(failed domain.Name) {
	stack := []domain.Name{failed}
	for len(stack) > 0 {
		key := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, dep := range state.g.Dependents(key) {
			t, planned := state.targets[dep]
			if !planned {
				continue
			}
			if _, recorded := state.outcomes[dep]; recorded {
				continue
			}

			_ = t.Transition(domain.StateFailed)
			err := zerr.Wrap(domain.ErrDependencyFailed, "skipped")
			state.outcomes[dep] = domain.Outcome{
				Target:    dep,
				State:     domain.StateFailed,
				BlockedBy: failed,
				Err:       zerr.With(err, "dependency", failed.String()),
			}
			stack = append(stack, dep)
		}
	}
}

// abortUndispatched records the targets an interrupt kept from running.
func (state *runState) abortUndispatched() {
	for key, t := range state.targets {
		if _, recorded := state.outcomes[key]; recorded {
			continue
		}
		_ = t.Transition(domain.StateFailed)
		state.outcomes[key] = domain.Outcome{
			Target: key,
			State:  domain.StateFailed,
			Err:    zerr.With(zerr.Wrap(domain.ErrBuildAborted, "not started"), "target", key.String()),
		}
	}
}

// process decides whether t is stale and runs its recipe if so.
// It runs on a worker goroutine.
func (state *runState) process(t *domain.Target) domain.Outcome {
	g, s := state.g, state.s
	_, vertex := s.telemetry.Record(state.ctx, t.Key.String())

	out := domain.Outcome{Target: t.Key}
	fail := func(err error) domain.Outcome {
		_ = t.Transition(domain.StateFailed)
		out.State = domain.StateFailed
		out.Err = err
		vertex.Complete(err)
		return out
	}

	stale, err := g.NeedsRebuild(t, t.Key == state.root, s.cache)
	if err != nil {
		return fail(err)
	}

	if !stale {
		if err := t.Transition(domain.StateFresh); err != nil {
			return fail(err)
		}
		if err := t.Transition(domain.StateKeeped); err != nil {
			return fail(err)
		}
		out.State = domain.StateKeeped
		vertex.Cached()
		vertex.Complete(nil)
		return out
	}

	if err := t.Transition(domain.StateStale); err != nil {
		return fail(err)
	}

	if !t.HasRecipe() {
		if t.IsFile && !s.cache.Get(g.FilePath(t)).Exists {
			return fail(zerr.With(zerr.Wrap(domain.ErrNoRecipe, "missing file"), "target", t.Key.String()))
		}
		return state.updated(t, out, vertex.Complete)
	}

	cmd, err := g.Expand(t, t.Recipe)
	if err != nil {
		return fail(err)
	}
	msg, err := g.Expand(t, t.Message)
	if err != nil {
		return fail(err)
	}
	out.Command = cmd

	if state.opts.DryRun {
		s.logger.Info(cmd)
		return state.updated(t, out, vertex.Complete)
	}

	res := s.executor.Run(state.execCtx, domain.Invocation{
		Target:  t.Key.String(),
		Command: cmd,
		Message: msg,
		Dir:     g.Root(),
		Env:     t.Env,
		Quiet:   state.opts.Quiet,
	})
	out.Duration = res.Duration
	out.ExitCode = res.ExitCode

	// The recipe may have touched the output even when it failed.
	if t.IsFile {
		s.cache.Invalidate(g.FilePath(t))
	}

	if !res.OK {
		out.StderrTail = res.StderrTail
		err := res.Err
		if err == nil {
			err = zerr.With(zerr.Wrap(domain.ErrCommandFailed, "recipe failed"), "exit_code", res.ExitCode)
		}
		return fail(err)
	}
	return state.updated(t, out, vertex.Complete)
}

func (state *runState) updated(t *domain.Target, out domain.Outcome, complete func(error)) domain.Outcome {
	if err := t.Transition(domain.StateUpdated); err != nil {
		_ = t.Transition(domain.StateFailed)
		out.State = domain.StateFailed
		out.Err = err
		complete(err)
		return out
	}
	out.State = domain.StateUpdated
	complete(nil)
	return out
}

func uniqueDeps(t *domain.Target) []domain.Name {
	seen := make(map[domain.Name]struct{}, len(t.Deps))
	deps := make([]domain.Name, 0, len(t.Deps))
	for _, d := range t.Deps {
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		deps = append(deps, d)
	}
	return deps
}
