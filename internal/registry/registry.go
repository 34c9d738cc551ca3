// ABOUTME: Registry of agent records, the only shared mutable state in the supervisor
// ABOUTME: Serializes every read and write under one mutex and hands out value snapshots

package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ErrAgentAlreadyRegistered indicates an agent with the same ID already exists.
var ErrAgentAlreadyRegistered = errors.New("agent already registered")

// ErrAgentNotFound indicates the specified agent was not found.
var ErrAgentNotFound = errors.New("agent not found")

// RegistrationSpec describes an agent at registration time.
type RegistrationSpec struct {
	ID           string
	DisplayName  string
	Capabilities []string
	Enabled      bool
	Priority     int
}

// record is the registry-private mutable state for one agent.
// All access goes through Registry methods under Registry.mu.
type record struct {
	id            string
	displayName   string
	capabilities  []string
	state         State
	enabled       bool
	priority      int
	registeredAt  time.Time
	lastHeartbeat time.Time
	currentTaskID string
	taskCount     uint64
	errorCount    uint64
	lastError     string
	intent        Intent
}

// HealthSnapshot is a read-only projection of one agent record.
// Created on demand; never aliases registry-internal state.
type HealthSnapshot struct {
	ID                    string   `json:"id"`
	DisplayName           string   `json:"display_name"`
	Capabilities          []string `json:"capabilities"`
	State                 State    `json:"state"`
	Enabled               bool     `json:"enabled"`
	Priority              int      `json:"priority"`
	SecondsSinceHeartbeat float64  `json:"seconds_since_heartbeat"`
	CurrentTaskID         string   `json:"current_task_id,omitempty"`
	TaskCount             uint64   `json:"task_count"`
	ErrorCount            uint64   `json:"error_count"`
	LastError             string   `json:"last_error,omitempty"`
	PendingIntent         Intent   `json:"pending_intent,omitempty"`
}

// SystemStats aggregates registry state for the stats endpoint.
type SystemStats struct {
	ActiveAgents       int           `json:"active_agents"`
	TotalAgents        int           `json:"total_agents"`
	Uptime             time.Duration `json:"uptime_ns"`
	QueueDepth         int           `json:"queue_depth"`
	TasksExecuted      uint64        `json:"tasks_executed"`
	ErrorsRecorded     uint64        `json:"errors_recorded"`
	ShutdownInProgress bool          `json:"shutdown_in_progress"`
}

// Registry owns every AgentRecord. Worker loops, the health monitor, the
// control API, and the shutdown coordinator all mutate agent state through
// it; none of them hold private mutable copies. A single coarse mutex
// serializes access, so state and lastHeartbeat are never observed torn.
type Registry struct {
	mu           sync.Mutex
	agents       map[string]*record
	logger       *slog.Logger
	started      time.Time
	shuttingDown bool

	// queueDepth reports the task source's backlog for Stats; nil when
	// the source cannot report depth.
	queueDepth func() int
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		agents:  make(map[string]*record),
		logger:  logger.With("component", "registry"),
		started: time.Now(),
	}
}

// SetQueueDepthFunc wires the task source's depth into Stats.
func (r *Registry) SetQueueDepthFunc(f func() int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queueDepth = f
}

// Register creates a record in StateRegistered and returns its snapshot.
// Returns ErrAgentAlreadyRegistered if the ID is taken.
func (r *Registry) Register(spec RegistrationSpec) (HealthSnapshot, error) {
	if spec.ID == "" {
		return HealthSnapshot{}, fmt.Errorf("agent id is required")
	}
	if len(spec.Capabilities) == 0 {
		return HealthSnapshot{}, fmt.Errorf("agent %q: at least one capability is required", spec.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[spec.ID]; exists {
		return HealthSnapshot{}, ErrAgentAlreadyRegistered
	}

	now := time.Now()
	rec := &record{
		id:            spec.ID,
		displayName:   spec.DisplayName,
		capabilities:  append([]string(nil), spec.Capabilities...),
		state:         StateRegistered,
		enabled:       spec.Enabled,
		priority:      spec.Priority,
		registeredAt:  now,
		lastHeartbeat: now,
	}
	r.agents[spec.ID] = rec

	r.logger.Info("agent registered",
		"agent_id", spec.ID,
		"name", spec.DisplayName,
		"capabilities", spec.Capabilities,
		"enabled", spec.Enabled,
		"total_agents", len(r.agents),
	)
	return rec.snapshot(now), nil
}

// Deregister removes an agent record entirely. Not part of normal
// operation; records otherwise persist for the process lifetime.
func (r *Registry) Deregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[id]; !exists {
		return ErrAgentNotFound
	}
	delete(r.agents, id)
	r.logger.Info("agent deregistered", "agent_id", id, "total_agents", len(r.agents))
	return nil
}

// Transition atomically moves an agent to the given state, but only when its
// current state is in from AND the edge is legal. Returns false — with no
// side effect — otherwise. Callers must treat false as a no-op, never as
// success.
func (r *Registry) Transition(id string, from []State, to State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.agents[id]
	if !exists {
		return false
	}

	inFrom := false
	for _, s := range from {
		if rec.state == s {
			inFrom = true
			break
		}
	}
	if !inFrom || !canTransition(rec.state, to) {
		return false
	}

	prev := rec.state
	rec.state = to
	r.logger.Debug("state transition", "agent_id", id, "from", prev, "to", to)
	return true
}

// AnyState matches every current state in a Transition call. The edge
// itself is still validated, so terminal states stay terminal.
var AnyState = []State{
	StateRegistered, StateIdle, StateDispatching, StateExecuting,
	StatePaused, StateError, StateTimedOut, StateStopped,
}

// Heartbeat records liveness for an agent's loop. Unknown IDs are ignored;
// the loop may race a deregistration.
func (r *Registry) Heartbeat(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, exists := r.agents[id]; exists {
		rec.lastHeartbeat = time.Now()
	}
}

// RecordTaskStart notes the task an agent is about to execute.
func (r *Registry) RecordTaskStart(id, taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, exists := r.agents[id]; exists {
		rec.currentTaskID = taskID
	}
}

// RecordTaskEnd records a task outcome: taskCount always increments
// (monotonic, preserved across restarts for audit), errorCount and
// lastError only on failure.
func (r *Registry) RecordTaskEnd(id string, success bool, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.agents[id]
	if !exists {
		return
	}
	rec.currentTaskID = ""
	rec.taskCount++
	if !success {
		rec.errorCount++
		rec.lastError = errMsg
	}
}

// RecordCycleError absorbs an autonomous-cycle failure into the error
// counter without touching taskCount or the agent's state.
func (r *Registry) RecordCycleError(id, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, exists := r.agents[id]; exists {
		rec.errorCount++
		rec.lastError = errMsg
	}
}

// ClearLastError resets the error message on restart. Counters are
// deliberately preserved.
func (r *Registry) ClearLastError(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, exists := r.agents[id]; exists {
		rec.lastError = ""
	}
}

// SetIntent stages a control operation for the agent's loop to apply.
func (r *Registry) SetIntent(id string, intent Intent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.agents[id]
	if !exists {
		return ErrAgentNotFound
	}
	rec.intent = intent
	r.logger.Debug("control intent set", "agent_id", id, "intent", intent)
	return nil
}

// TakeIntent atomically reads and clears the pending intent.
func (r *Registry) TakeIntent(id string) Intent {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.agents[id]
	if !exists {
		return IntentNone
	}
	intent := rec.intent
	rec.intent = IntentNone
	return intent
}

// CurrentState returns an agent's state.
func (r *Registry) CurrentState(id string) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.agents[id]
	if !exists {
		return "", ErrAgentNotFound
	}
	return rec.state, nil
}

// Snapshot returns a point-in-time projection of one agent.
func (r *Registry) Snapshot(id string) (HealthSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.agents[id]
	if !exists {
		return HealthSnapshot{}, ErrAgentNotFound
	}
	return rec.snapshot(time.Now()), nil
}

// Snapshots returns projections of every agent, ordered by ID.
func (r *Registry) Snapshots() []HealthSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	out := make([]HealthSnapshot, 0, len(r.agents))
	for _, rec := range r.agents {
		out = append(out, rec.snapshot(now))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MarkShutdown flags the registry so Stats reports shutdown in progress.
func (r *Registry) MarkShutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shuttingDown = true
}

// Stats aggregates registry-wide counters. Active agents are enabled and
// not yet stopped.
func (r *Registry) Stats() SystemStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := SystemStats{
		TotalAgents:        len(r.agents),
		Uptime:             time.Since(r.started),
		ShutdownInProgress: r.shuttingDown,
	}
	for _, rec := range r.agents {
		if rec.enabled && rec.state != StateStopped {
			stats.ActiveAgents++
		}
		stats.TasksExecuted += rec.taskCount
		stats.ErrorsRecorded += rec.errorCount
	}
	if r.queueDepth != nil {
		stats.QueueDepth = r.queueDepth()
	}
	return stats
}

// snapshot copies the record into a HealthSnapshot. Caller holds mu.
func (rec *record) snapshot(now time.Time) HealthSnapshot {
	return HealthSnapshot{
		ID:                    rec.id,
		DisplayName:           rec.displayName,
		Capabilities:          append([]string(nil), rec.capabilities...),
		State:                 rec.state,
		Enabled:               rec.enabled,
		Priority:              rec.priority,
		SecondsSinceHeartbeat: now.Sub(rec.lastHeartbeat).Seconds(),
		CurrentTaskID:         rec.currentTaskID,
		TaskCount:             rec.taskCount,
		ErrorCount:            rec.errorCount,
		LastError:             rec.lastError,
		PendingIntent:         rec.intent,
	}
}
