package domain

// State is a target's position in the staleness lifecycle of a single run.
//
//	unknown -> fresh -> keeped
//	unknown -> stale -> updated | failed
//	unknown -> failed (dependency failed or build aborted)
type State int32

const (
	// StateUnknown means the target has not been evaluated in this run.
	StateUnknown State = iota
	// StateFresh means the target was found up to date.
	StateFresh
	// StateStale means the target needs its recipe to run.
	StateStale
	// StateKeeped means the target was fresh and left untouched.
	StateKeeped
	// StateUpdated means the recipe ran successfully, or a phony aggregate propagated an update.
	StateUpdated
	// StateFailed means the recipe failed or the target could not be built.
	StateFailed
)

var stateNames = [...]string{
	StateUnknown: "unknown",
	StateFresh:   "fresh",
	StateStale:   "stale",
	StateKeeped:  "keeped",
	StateUpdated: "updated",
	StateFailed:  "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "invalid"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition is possible in this run.
func (s State) Terminal() bool {
	return s == StateKeeped || s == StateUpdated || s == StateFailed
}

// CanTransition reports whether the lifecycle allows moving from s to next.
func (s State) CanTransition(next State) bool {
	switch s {
	case StateUnknown:
		return next == StateFresh || next == StateStale || next == StateFailed
	case StateFresh:
		return next == StateKeeped
	case StateStale:
		return next == StateUpdated || next == StateFailed
	default:
		return false
	}
}
