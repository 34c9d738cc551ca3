// ABOUTME: Store interface and event types for the warden audit trail
// ABOUTME: Records agent lifecycle, task outcomes, and control actions for compliance and debugging

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// EventKind classifies an audit event.
type EventKind string

const (
	EventRegistered      EventKind = "registered"
	EventDeregistered    EventKind = "deregistered"
	EventStateChanged    EventKind = "state_changed"
	EventTaskStarted     EventKind = "task_started"
	EventTaskFinished    EventKind = "task_finished"
	EventCycleError      EventKind = "cycle_error"
	EventControl         EventKind = "control"
	EventTimeoutDetected EventKind = "timeout_detected"
	EventShutdown        EventKind = "shutdown"
)

// ValidEventKinds lists all accepted event kinds.
var ValidEventKinds = []EventKind{
	EventRegistered,
	EventDeregistered,
	EventStateChanged,
	EventTaskStarted,
	EventTaskFinished,
	EventCycleError,
	EventControl,
	EventTimeoutDetected,
	EventShutdown,
}

// AgentEvent is a single entry in the supervisor's audit trail.
type AgentEvent struct {
	ID        string         // UUID v4
	AgentID   string         // affected agent; empty for system-wide events
	Kind      EventKind      // what happened
	FromState string         // prior state, for state_changed
	ToState   string         // new state, for state_changed
	TaskID    string         // related task, when applicable
	Error     string         // failure message, when applicable
	Actor     string         // control-plane caller; empty for supervisor-internal events
	Timestamp time.Time      // when it happened
	Detail    map[string]any // additional context (max 64KB JSON)
}

// EventFilter specifies filtering options for listing audit events.
type EventFilter struct {
	Since   *time.Time // events after this time
	Until   *time.Time // events before this time
	AgentID *string    // filter by agent
	Kind    *EventKind // filter by kind
	Limit   int        // max results (default 100, max 1000)
}

// Store defines the persistence interface for the audit trail.
type Store interface {
	AppendAgentEvent(ctx context.Context, e *AgentEvent) error
	ListAgentEvents(ctx context.Context, filter EventFilter) ([]*AgentEvent, error)
	CountAgentEvents(ctx context.Context, kind EventKind) (int64, error)
	Close() error
}
