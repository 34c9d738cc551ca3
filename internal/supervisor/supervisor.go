// ABOUTME: Supervisor wiring: registry, worker goroutines, health monitor, audit, events
// ABOUTME: Owns the shared cancellation signal and the per-worker completion channels

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/warden/internal/agent"
	"github.com/2389/warden/internal/config"
	"github.com/2389/warden/internal/dedupe"
	"github.com/2389/warden/internal/events"
	"github.com/2389/warden/internal/registry"
	"github.com/2389/warden/internal/store"
	"github.com/2389/warden/internal/task"
)

// ErrAlreadyStarted indicates Start was called twice.
var ErrAlreadyStarted = errors.New("supervisor already started")

// Task redelivery guard sizing. A task ID seen within the TTL window is
// dropped instead of dispatched a second time.
const (
	dedupeTTL     = 10 * time.Minute
	dedupeMaxSize = 10000
)

// Supervisor runs one worker goroutine per enabled agent plus a health
// monitor, all sharing a single registry and task source. Control-plane
// callers interact through the control methods; state changes land in the
// audit store and on the event broadcaster when those are wired.
type Supervisor struct {
	cfg    config.SupervisorConfig
	reg    *registry.Registry
	source task.Source
	guard  *dedupe.Guard
	logger *slog.Logger

	recorder store.Store
	bus      *events.Broadcaster

	mu          sync.Mutex
	executors   map[string]agent.Executor
	workers     map[string]chan struct{} // closed when the worker's loop exits
	started     bool
	runCtx      context.Context
	cancel      context.CancelFunc
	monitorDone chan struct{}

	shutdownOnce sync.Once
	report       *ShutdownReport
}

// New creates a supervisor around the given task source. Zero-valued
// timing fields fall back to the config package defaults so tests can
// construct a SupervisorConfig inline.
func New(cfg config.SupervisorConfig, source task.Source, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = config.DefaultHealthCheckInterval
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = config.DefaultIdleInterval
	}
	if cfg.DequeueWait <= 0 {
		cfg.DequeueWait = config.DefaultDequeueWait
	}
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = config.DefaultExecutionTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = config.DefaultShutdownTimeout
	}

	s := &Supervisor{
		cfg:       cfg,
		reg:       registry.New(logger),
		source:    source,
		guard:     dedupe.NewGuard(dedupeTTL, dedupeMaxSize),
		logger:    logger.With("component", "supervisor"),
		executors: make(map[string]agent.Executor),
		workers:   make(map[string]chan struct{}),
	}
	if dr, ok := source.(task.DepthReporter); ok {
		s.reg.SetQueueDepthFunc(dr.Depth)
	}
	return s
}

// SetRecorder wires the audit store. Call before Start.
func (s *Supervisor) SetRecorder(recorder store.Store) {
	s.recorder = recorder
}

// SetBroadcaster wires the event broadcaster. Call before Start.
func (s *Supervisor) SetBroadcaster(bus *events.Broadcaster) {
	s.bus = bus
}

// Register adds an agent to the registry and, once the supervisor is
// running, spawns its worker loop if the agent is enabled. Disabled agents
// keep their record (visible in status) but never get a loop.
func (s *Supervisor) Register(spec registry.RegistrationSpec, exec agent.Executor) error {
	if exec == nil {
		return fmt.Errorf("agent %q: executor is required", spec.ID)
	}

	snap, err := s.reg.Register(spec)
	if err != nil {
		return err
	}

	s.emit(&store.AgentEvent{
		AgentID: spec.ID,
		Kind:    store.EventRegistered,
		ToState: string(registry.StateRegistered),
		Detail: map[string]any{
			"capabilities": spec.Capabilities,
			"enabled":      spec.Enabled,
		},
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.executors[spec.ID] = exec
	if s.started && snap.Enabled {
		s.spawnWorkerLocked(snap)
	}
	return nil
}

// Deregister removes an agent record. The agent must not have a running
// worker; normal operation stops agents, it does not deregister them.
func (s *Supervisor) Deregister(id string) error {
	s.mu.Lock()
	delete(s.executors, id)
	s.mu.Unlock()

	if err := s.reg.Deregister(id); err != nil {
		return err
	}
	s.emit(&store.AgentEvent{AgentID: id, Kind: store.EventDeregistered})
	return nil
}

// Start launches the health monitor and one worker per enabled registered
// agent. The supervisor stops when Shutdown is called or ctx is cancelled.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.monitorDone = make(chan struct{})
	go s.runMonitor(s.runCtx)

	for _, snap := range s.reg.Snapshots() {
		if !snap.Enabled {
			s.logger.Info("agent disabled, no worker started", "agent_id", snap.ID)
			continue
		}
		s.spawnWorkerLocked(snap)
	}

	s.logger.Info("supervisor started",
		"workers", len(s.workers),
		"health_check_interval", s.cfg.HealthCheckInterval,
		"execution_timeout", s.cfg.ExecutionTimeout,
	)
	return nil
}

// spawnWorkerLocked launches one worker goroutine. Caller holds s.mu and
// has verified the supervisor is started.
func (s *Supervisor) spawnWorkerLocked(snap registry.HealthSnapshot) {
	done := make(chan struct{})
	s.workers[snap.ID] = done
	w := &worker{
		sup:          s,
		id:           snap.ID,
		capabilities: snap.Capabilities,
		exec:         s.executors[snap.ID],
		done:         done,
	}
	go w.run(s.runCtx)
}

// emit records an audit event and publishes it to live subscribers.
// Failures are logged, never propagated: observability must not break
// the worker loops.
func (s *Supervisor) emit(e *store.AgentEvent) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if s.recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := s.recorder.AppendAgentEvent(ctx, e); err != nil {
			s.logger.Warn("audit append failed", "agent_id", e.AgentID, "kind", e.Kind, "error", err)
		}
		cancel()
	}
	if s.bus != nil {
		s.bus.Publish(e)
	}
}

// emitStateChange records a state_changed audit event.
func (s *Supervisor) emitStateChange(id string, from, to registry.State) {
	s.emit(&store.AgentEvent{
		AgentID:   id,
		Kind:      store.EventStateChanged,
		FromState: string(from),
		ToState:   string(to),
	})
}
