package plugin

import "fmt"

// State is a plugin's lifecycle stage.
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateLoaded
	StateReady
	StateUnloading
	StateUnloaded
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateReady:
		return "ready"
	case StateUnloading:
		return "unloading"
	case StateUnloaded:
		return "unloaded"
	default:
		return "unknown"
	}
}

// legalTransitions enumerates every state change a plugin is allowed to
// make. A load failure is the one edge that skips forward past LOADED:
// LOADING -> UNLOADING, so a half-initialized plugin still runs its
// teardown path instead of getting stuck.
var legalTransitions = map[State][]State{
	StateUninitialized: {StateLoading},
	StateLoading:       {StateLoaded, StateUnloading},
	StateLoaded:        {StateReady, StateUnloading},
	StateReady:         {StateUnloading},
	StateUnloading:     {StateUnloaded},
	StateUnloaded:      {},
}

// IllegalTransitionError is returned when a transition isn't in
// legalTransitions for the current state.
type IllegalTransitionError struct {
	From, To State
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal plugin state transition: %s -> %s", e.From, e.To)
}

// CanTransition reports whether moving from `from` to `to` is legal.
func CanTransition(from, to State) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
