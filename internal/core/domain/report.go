package domain

import "time"

// Outcome is the final state of one target after a build.
type Outcome struct {
	Target Name
	State  State
	// Command is the expanded recipe, empty when nothing ran.
	Command  string
	ExitCode int
	Duration time.Duration
	// StderrTail is the end of the recipe's stderr when it failed.
	StderrTail []string
	// BlockedBy names the failed dependency that prevented this target from running.
	BlockedBy Name
	Err       error
}

// Skipped reports whether the target never ran because a dependency failed.
func (o Outcome) Skipped() bool {
	return !o.BlockedBy.IsZero()
}

// Report collects one Outcome per target of a build, in plan order.
type Report struct {
	Root     Name
	Outcomes []Outcome
	Duration time.Duration
	index    map[Name]int
}

// NewReport creates an empty report for a build of root.
func NewReport(root Name) *Report {
	return &Report{
		Root:  root,
		index: make(map[Name]int),
	}
}

// Record stores o, replacing any earlier outcome for the same target.
func (r *Report) Record(o Outcome) {
	if i, ok := r.index[o.Target]; ok {
		r.Outcomes[i] = o
		return
	}
	r.index[o.Target] = len(r.Outcomes)
	r.Outcomes = append(r.Outcomes, o)
}

// Get returns the outcome for key.
func (r *Report) Get(key Name) (Outcome, bool) {
	i, ok := r.index[key]
	if !ok {
		return Outcome{}, false
	}
	return r.Outcomes[i], true
}

// Failed returns the targets whose own action failed.
func (r *Report) Failed() []Outcome {
	return r.filter(func(o Outcome) bool { return o.State == StateFailed && !o.Skipped() })
}

// Skipped returns the targets that did not run because a dependency failed.
func (r *Report) Skipped() []Outcome {
	return r.filter(Outcome.Skipped)
}

// Updated returns the targets that were rebuilt.
func (r *Report) Updated() []Outcome {
	return r.filter(func(o Outcome) bool { return o.State == StateUpdated })
}

// Kept returns the targets that were already up to date.
func (r *Report) Kept() []Outcome {
	return r.filter(func(o Outcome) bool { return o.State == StateKeeped })
}

// OK reports whether no target failed.
func (r *Report) OK() bool {
	for _, o := range r.Outcomes {
		if o.State == StateFailed {
			return false
		}
	}
	return true
}

func (r *Report) filter(keep func(Outcome) bool) []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if keep(o) {
			out = append(out, o)
		}
	}
	return out
}
