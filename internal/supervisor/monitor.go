// ABOUTME: Health monitor loop: flags agents with stale heartbeats as timed out
// ABOUTME: The only component allowed to raise the TimedOut state

package supervisor

import (
	"context"
	"time"

	"github.com/2389/warden/internal/registry"
	"github.com/2389/warden/internal/store"
)

// staleFactor: an agent is timed out once its heartbeat is older than
// staleFactor times the check interval.
const staleFactor = 2

// runMonitor scans the registry every health-check interval and moves
// agents whose heartbeat has gone stale to TimedOut. Stopped and
// Registered agents are never flagged; the former are terminal, the
// latter have no loop yet.
func (s *Supervisor) runMonitor(ctx context.Context) {
	defer close(s.monitorDone)

	interval := s.cfg.HealthCheckInterval
	threshold := staleFactor * interval
	logger := s.logger.With("component", "health_monitor")
	logger.Info("health monitor started", "interval", interval, "stale_threshold", threshold)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("health monitor stopped")
			return
		case <-ticker.C:
			s.checkHeartbeats(threshold)
		}
	}
}

// checkHeartbeats flags every timeout-eligible agent whose heartbeat is
// older than the threshold. The CAS transition loses gracefully to a
// concurrent heartbeat, pause, or shutdown.
func (s *Supervisor) checkHeartbeats(threshold time.Duration) {
	for _, snap := range s.reg.Snapshots() {
		if snap.SecondsSinceHeartbeat <= threshold.Seconds() {
			continue
		}
		if !s.reg.Transition(snap.ID, registry.TimeoutEligible, registry.StateTimedOut) {
			continue
		}

		s.logger.Warn("agent heartbeat stale, marked timed out",
			"agent_id", snap.ID,
			"state_before", snap.State,
			"seconds_since_heartbeat", snap.SecondsSinceHeartbeat,
		)
		s.emit(&store.AgentEvent{
			AgentID:   snap.ID,
			Kind:      store.EventTimeoutDetected,
			FromState: string(snap.State),
			ToState:   string(registry.StateTimedOut),
			Detail: map[string]any{
				"seconds_since_heartbeat": snap.SecondsSinceHeartbeat,
				"current_task_id":         snap.CurrentTaskID,
			},
		})
	}
}
