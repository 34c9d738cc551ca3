// Package registry is the single source of truth for agent state.
//
// One coarse mutex serializes every read and write, giving per-record
// total ordering of mutations and tear-free cross-field reads (state and
// lastHeartbeat always move together). Reads return value snapshots;
// callers never see interior pointers.
//
// Transition is the only way state changes. It is compare-and-swap style:
// it succeeds only when the current state is in the caller's expected set
// and the edge is legal per the state machine in states.go, and it returns
// false with no side effect otherwise. Callers decide whether a false
// result means retry or abort.
package registry
