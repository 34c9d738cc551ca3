// ABOUTME: Synchronous control facade: pause, resume, restart, status, stats
// ABOUTME: Intents take effect at the owning worker's next loop iteration, not immediately

package supervisor

import (
	"github.com/2389/warden/internal/registry"
	"github.com/2389/warden/internal/store"
)

// Pause asks the agent's worker to stop consuming tasks. Eventual: the
// worker applies the intent at its next loop-top check; poll Status to
// confirm. Actor is recorded in the audit trail.
func (s *Supervisor) Pause(id, actor string) error {
	return s.setIntent(id, registry.IntentPause, actor)
}

// Resume asks a paused agent's worker to return to consuming tasks.
func (s *Supervisor) Resume(id, actor string) error {
	return s.setIntent(id, registry.IntentResume, actor)
}

// Restart clears the agent's error and asks its worker to return to Idle
// from Error, TimedOut, or Paused. Counters are preserved.
func (s *Supervisor) Restart(id, actor string) error {
	return s.setIntent(id, registry.IntentRestart, actor)
}

func (s *Supervisor) setIntent(id string, intent registry.Intent, actor string) error {
	if err := s.reg.SetIntent(id, intent); err != nil {
		return err
	}
	s.logger.Info("control intent accepted", "agent_id", id, "intent", intent, "actor", actor)
	s.emit(&store.AgentEvent{
		AgentID: id,
		Kind:    store.EventControl,
		Actor:   actor,
		Detail:  map[string]any{"operation": string(intent)},
	})
	return nil
}

// Status returns a point-in-time snapshot of one agent.
func (s *Supervisor) Status(id string) (registry.HealthSnapshot, error) {
	return s.reg.Snapshot(id)
}

// StatusAll returns snapshots of every agent, ordered by ID.
func (s *Supervisor) StatusAll() []registry.HealthSnapshot {
	return s.reg.Snapshots()
}

// Stats aggregates registry-wide counters and the task source's depth.
func (s *Supervisor) Stats() registry.SystemStats {
	return s.reg.Stats()
}
