// ABOUTME: Plaintext metrics endpoint in Prometheus exposition format
// ABOUTME: Snapshots the registry on each scrape; no background collection

package server

import (
	"fmt"
	"net/http"
)

// handleMetrics handles GET /metrics. Values are computed from registry
// snapshots at scrape time.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	stats := s.sup.Stats()
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	fmt.Fprintf(w, "# HELP warden_agents_total Number of registered agents.\n")
	fmt.Fprintf(w, "# TYPE warden_agents_total gauge\n")
	fmt.Fprintf(w, "warden_agents_total %d\n", stats.TotalAgents)

	fmt.Fprintf(w, "# HELP warden_agents_active Number of enabled, not-stopped agents.\n")
	fmt.Fprintf(w, "# TYPE warden_agents_active gauge\n")
	fmt.Fprintf(w, "warden_agents_active %d\n", stats.ActiveAgents)

	fmt.Fprintf(w, "# HELP warden_tasks_executed_total Tasks attempted across all agents.\n")
	fmt.Fprintf(w, "# TYPE warden_tasks_executed_total counter\n")
	fmt.Fprintf(w, "warden_tasks_executed_total %d\n", stats.TasksExecuted)

	fmt.Fprintf(w, "# HELP warden_errors_total Task and cycle failures across all agents.\n")
	fmt.Fprintf(w, "# TYPE warden_errors_total counter\n")
	fmt.Fprintf(w, "warden_errors_total %d\n", stats.ErrorsRecorded)

	fmt.Fprintf(w, "# HELP warden_queue_depth Tasks waiting in the task source.\n")
	fmt.Fprintf(w, "# TYPE warden_queue_depth gauge\n")
	fmt.Fprintf(w, "warden_queue_depth %d\n", stats.QueueDepth)

	fmt.Fprintf(w, "# HELP warden_uptime_seconds Supervisor uptime.\n")
	fmt.Fprintf(w, "# TYPE warden_uptime_seconds gauge\n")
	fmt.Fprintf(w, "warden_uptime_seconds %.3f\n", stats.Uptime.Seconds())

	shutdown := 0
	if stats.ShutdownInProgress {
		shutdown = 1
	}
	fmt.Fprintf(w, "# HELP warden_shutdown_in_progress Whether shutdown has started.\n")
	fmt.Fprintf(w, "# TYPE warden_shutdown_in_progress gauge\n")
	fmt.Fprintf(w, "warden_shutdown_in_progress %d\n", shutdown)

	fmt.Fprintf(w, "# HELP warden_agent_state Agent lifecycle state (1 for current state).\n")
	fmt.Fprintf(w, "# TYPE warden_agent_state gauge\n")
	for _, snap := range s.sup.StatusAll() {
		fmt.Fprintf(w, "warden_agent_state{agent_id=%q,state=%q} 1\n", snap.ID, snap.State)
	}

	fmt.Fprintf(w, "# HELP warden_agent_tasks_total Tasks attempted per agent.\n")
	fmt.Fprintf(w, "# TYPE warden_agent_tasks_total counter\n")
	for _, snap := range s.sup.StatusAll() {
		fmt.Fprintf(w, "warden_agent_tasks_total{agent_id=%q} %d\n", snap.ID, snap.TaskCount)
	}

	fmt.Fprintf(w, "# HELP warden_agent_errors_total Failures per agent.\n")
	fmt.Fprintf(w, "# TYPE warden_agent_errors_total counter\n")
	for _, snap := range s.sup.StatusAll() {
		fmt.Fprintf(w, "warden_agent_errors_total{agent_id=%q} %d\n", snap.ID, snap.ErrorCount)
	}
}
