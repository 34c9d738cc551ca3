// ABOUTME: HTTP API handlers for agent status, control, tasks, audit, and live events
// ABOUTME: JSON request/response bodies plus an SSE stream of supervisor events

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/warden/internal/auth"
	"github.com/2389/warden/internal/events"
	"github.com/2389/warden/internal/registry"
	"github.com/2389/warden/internal/store"
	"github.com/2389/warden/internal/task"
)

// SubmitTaskRequest is the JSON request body for POST /api/tasks.
type SubmitTaskRequest struct {
	ID                 string          `json:"id,omitempty"`
	RequiredCapability string          `json:"required_capability"`
	Payload            json.RawMessage `json:"payload,omitempty"`
	Deadline           *time.Time      `json:"deadline,omitempty"`
}

// SubmitTaskResponse is the JSON response for POST /api/tasks.
type SubmitTaskResponse struct {
	TaskID     string `json:"task_id"`
	QueueDepth int    `json:"queue_depth"`
}

// ControlResponse is the JSON response for pause/resume/restart.
type ControlResponse struct {
	AgentID   string `json:"agent_id"`
	Operation string `json:"operation"`
	Accepted  bool   `json:"accepted"`
	Note      string `json:"note"`
}

// AuditEventResponse is one audit trail entry in GET /api/audit.
type AuditEventResponse struct {
	ID        string         `json:"id"`
	AgentID   string         `json:"agent_id,omitempty"`
	Kind      string         `json:"kind"`
	FromState string         `json:"from_state,omitempty"`
	ToState   string         `json:"to_state,omitempty"`
	TaskID    string         `json:"task_id,omitempty"`
	Error     string         `json:"error,omitempty"`
	Actor     string         `json:"actor,omitempty"`
	Timestamp string         `json:"timestamp"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// ShutdownRequest is the JSON request body for POST /api/shutdown.
type ShutdownRequest struct {
	TimeoutMillis int64 `json:"timeout_ms,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady handles GET /health/ready. Not ready once shutdown begins.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	stats := s.sup.Stats()
	if stats.ShutdownInProgress {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting down"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleListAgents handles GET /api/agents.
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	snapshots := s.sup.StatusAll()

	// Optional ?capability=X filter.
	if capFilter := r.URL.Query().Get("capability"); capFilter != "" {
		filtered := make([]registry.HealthSnapshot, 0, len(snapshots))
		for _, snap := range snapshots {
			for _, c := range snap.Capabilities {
				if c == capFilter {
					filtered = append(filtered, snap)
					break
				}
			}
		}
		snapshots = filtered
	}

	writeJSON(w, http.StatusOK, snapshots)
}

// handleAgentRoutes dispatches /api/agents/{id} and /api/agents/{id}/{action}.
func (s *Server) handleAgentRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/agents/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		s.handleAgentStatus(w, r, parts[0])
	case len(parts) == 2:
		s.handleAgentControl(w, r, parts[0], parts[1])
	default:
		http.NotFound(w, r)
	}
}

// handleAgentStatus handles GET /api/agents/{id}.
func (s *Server) handleAgentStatus(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	snap, err := s.sup.Status(id)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("agent %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleAgentControl handles POST /api/agents/{id}/{pause|resume|restart}.
// Control is eventual: the response confirms the intent was accepted, not
// that it has been applied. Poll GET /api/agents/{id} to confirm.
func (s *Server) handleAgentControl(w http.ResponseWriter, r *http.Request, id, action string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	actor := auth.IdentityFromContext(r.Context())
	if actor == "" {
		actor = "api"
	}

	var err error
	switch action {
	case "pause":
		err = s.sup.Pause(id, actor)
	case "resume":
		err = s.sup.Resume(id, actor)
	case "restart":
		err = s.sup.Restart(id, actor)
	default:
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown operation %q", action))
		return
	}

	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, ControlResponse{
		AgentID:   id,
		Operation: action,
		Accepted:  true,
		Note:      "applied at the agent's next loop iteration",
	})
}

// handleStats handles GET /api/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.sup.Stats())
}

// handleSubmitTask handles POST /api/tasks.
func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "no task queue configured")
		return
	}

	var req SubmitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.RequiredCapability == "" {
		writeError(w, http.StatusBadRequest, "required_capability is required")
		return
	}

	t := &task.Task{
		ID:                 req.ID,
		RequiredCapability: req.RequiredCapability,
		Payload:            req.Payload,
		Deadline:           req.Deadline,
	}
	if err := s.queue.Enqueue(t); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	s.logger.Info("task submitted", "task_id", t.ID, "required_capability", t.RequiredCapability)
	writeJSON(w, http.StatusAccepted, SubmitTaskResponse{
		TaskID:     t.ID,
		QueueDepth: s.queue.Depth(),
	})
}

// handleAudit handles GET /api/audit with optional agent_id, kind, since,
// until (RFC 3339), and limit query parameters.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no audit store configured")
		return
	}

	filter, err := parseAuditFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	list, err := s.store.ListAgentEvents(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit events", "error", err)
		writeError(w, http.StatusInternalServerError, "listing audit events failed")
		return
	}

	resp := make([]AuditEventResponse, 0, len(list))
	for _, e := range list {
		resp = append(resp, auditResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseAuditFilter(r *http.Request) (store.EventFilter, error) {
	var filter store.EventFilter
	q := r.URL.Query()

	if agentID := q.Get("agent_id"); agentID != "" {
		filter.AgentID = &agentID
	}
	if kindStr := q.Get("kind"); kindStr != "" {
		kind := store.EventKind(kindStr)
		valid := false
		for _, k := range store.ValidEventKinds {
			if k == kind {
				valid = true
				break
			}
		}
		if !valid {
			return filter, fmt.Errorf("unknown event kind %q", kindStr)
		}
		filter.Kind = &kind
	}
	if sinceStr := q.Get("since"); sinceStr != "" {
		since, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			return filter, fmt.Errorf("invalid since timestamp: %v", err)
		}
		filter.Since = &since
	}
	if untilStr := q.Get("until"); untilStr != "" {
		until, err := time.Parse(time.RFC3339, untilStr)
		if err != nil {
			return filter, fmt.Errorf("invalid until timestamp: %v", err)
		}
		filter.Until = &until
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			return filter, fmt.Errorf("invalid limit %q", limitStr)
		}
		filter.Limit = limit
	}
	return filter, nil
}

func auditResponse(e *store.AgentEvent) AuditEventResponse {
	return AuditEventResponse{
		ID:        e.ID,
		AgentID:   e.AgentID,
		Kind:      string(e.Kind),
		FromState: e.FromState,
		ToState:   e.ToState,
		TaskID:    e.TaskID,
		Error:     e.Error,
		Actor:     e.Actor,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		Detail:    e.Detail,
	}
}

// handleEvents handles GET /api/events: a Server-Sent Events stream of
// supervisor events, optionally filtered by ?agent_id=X.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "no event broadcaster configured")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		agentID = events.AllAgents
	}

	ch, subID := s.bus.Subscribe(r.Context(), agentID)
	defer s.bus.Unsubscribe(agentID, subID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(auditResponse(e))
			if err != nil {
				s.logger.Warn("marshaling event", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Kind, data)
			flusher.Flush()
		}
	}
}

// handleShutdown handles POST /api/shutdown: runs the bounded shutdown and
// returns its report, then signals the process to stop serving.
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	timeout := s.cfg.Supervisor.ShutdownTimeout
	var req ShutdownRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.TimeoutMillis > 0 {
		timeout = time.Duration(req.TimeoutMillis) * time.Millisecond
	}

	actor := auth.IdentityFromContext(r.Context())
	s.logger.Info("shutdown requested over HTTP", "actor", actor, "timeout", timeout)

	report := s.sup.Shutdown(timeout)
	writeJSON(w, http.StatusOK, report)

	if s.onShutdownRequest != nil {
		go s.onShutdownRequest()
	}
}
