// ABOUTME: Agent lifecycle states, control intents, and the legal transition table
// ABOUTME: Every state change in the registry is validated against this table

package registry

// State is an agent's lifecycle state. Transitions are validated by the
// registry; callers can only move records along the edges declared here.
type State string

const (
	StateRegistered  State = "registered"
	StateIdle        State = "idle"
	StateDispatching State = "dispatching"
	StateExecuting   State = "executing"
	StatePaused      State = "paused"
	StateError       State = "error"
	StateTimedOut    State = "timed_out"
	StateStopped     State = "stopped" // terminal
)

// Intent is a pending control operation, applied by the owning worker loop
// at its next iteration rather than synchronously.
type Intent string

const (
	IntentNone    Intent = ""
	IntentPause   Intent = "pause"
	IntentResume  Intent = "resume"
	IntentRestart Intent = "restart"
)

// legalEdges enumerates every permitted state transition. Any state may
// additionally move to StateStopped during shutdown; that edge is handled
// in canTransition rather than listed per state.
var legalEdges = map[State][]State{
	StateRegistered:  {StateIdle},
	StateIdle:        {StateDispatching, StatePaused, StateTimedOut},
	StateDispatching: {StateExecuting, StateIdle, StateTimedOut},
	StateExecuting:   {StateIdle, StateError, StateTimedOut},
	StateError:       {StateIdle, StateTimedOut},
	StatePaused:      {StateIdle, StateTimedOut},
	StateTimedOut:    {StateIdle},
	StateStopped:     {},
}

// canTransition reports whether the current→next edge is legal.
func canTransition(current, next State) bool {
	if current == StateStopped {
		return false
	}
	if next == StateStopped {
		return true
	}
	for _, s := range legalEdges[current] {
		if s == next {
			return true
		}
	}
	return false
}

// TimeoutEligible lists the states from which the health monitor may raise
// StateTimedOut. Stopped and Registered agents are never timed out: the
// former are terminal, the latter have no loop yet to miss a heartbeat.
var TimeoutEligible = []State{StateIdle, StateDispatching, StateExecuting, StateError, StatePaused}
