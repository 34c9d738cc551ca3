// ABOUTME: Bounded cooperative shutdown of the worker pool with a straggler report
// ABOUTME: Idempotent; repeated calls return the first invocation's report

package supervisor

import (
	"sort"
	"time"

	"github.com/2389/warden/internal/store"
)

// ShutdownReport lists which workers stopped within the budget and which
// did not. Stragglers keep whatever state they last had; their goroutines
// are not forcibly killed.
type ShutdownReport struct {
	Stopped    []string      `json:"stopped"`
	Stragglers []string      `json:"stragglers"`
	Elapsed    time.Duration `json:"elapsed_ns"`
}

// Shutdown cancels every worker loop and waits up to timeout for them to
// exit. It returns within timeout plus a scheduling quantum regardless of
// worker behavior. Safe to call more than once; later calls return the
// cached report from the first.
func (s *Supervisor) Shutdown(timeout time.Duration) *ShutdownReport {
	s.shutdownOnce.Do(func() {
		s.report = s.doShutdown(timeout)
	})
	return s.report
}

func (s *Supervisor) doShutdown(timeout time.Duration) *ShutdownReport {
	start := time.Now()
	s.logger.Info("shutdown initiated", "timeout", timeout)
	s.reg.MarkShutdown()

	s.mu.Lock()
	cancel := s.cancel
	monitorDone := s.monitorDone
	workers := make(map[string]chan struct{}, len(s.workers))
	for id, done := range s.workers {
		workers[id] = done
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	ids := make([]string, 0, len(workers))
	for id := range workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	report := &ShutdownReport{Stopped: []string{}, Stragglers: []string{}}
	expired := false
	for _, id := range ids {
		done := workers[id]
		if expired {
			select {
			case <-done:
				report.Stopped = append(report.Stopped, id)
			default:
				report.Stragglers = append(report.Stragglers, id)
			}
			continue
		}
		select {
		case <-done:
			report.Stopped = append(report.Stopped, id)
		case <-timer.C:
			expired = true
			select {
			case <-done:
				report.Stopped = append(report.Stopped, id)
			default:
				report.Stragglers = append(report.Stragglers, id)
			}
		}
	}

	// The monitor only waits on ctx, so it exits promptly.
	if monitorDone != nil {
		select {
		case <-monitorDone:
		case <-time.After(time.Second):
			s.logger.Warn("health monitor did not stop in time")
		}
	}

	s.guard.Close()
	report.Elapsed = time.Since(start)

	for _, id := range report.Stragglers {
		s.logger.Warn("worker did not stop within shutdown budget", "agent_id", id)
	}
	s.logger.Info("shutdown complete",
		"stopped", len(report.Stopped),
		"stragglers", len(report.Stragglers),
		"elapsed", report.Elapsed,
	)
	s.emit(&store.AgentEvent{
		Kind: store.EventShutdown,
		Detail: map[string]any{
			"stopped":    report.Stopped,
			"stragglers": report.Stragglers,
			"elapsed_ms": report.Elapsed.Milliseconds(),
		},
	})
	return report
}
