// ABOUTME: Tests for the control API handlers: status, control, tasks, audit, SSE
// ABOUTME: Drives a real supervisor with short intervals behind httptest

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/warden/internal/agent"
	"github.com/2389/warden/internal/auth"
	"github.com/2389/warden/internal/config"
	"github.com/2389/warden/internal/events"
	"github.com/2389/warden/internal/registry"
	"github.com/2389/warden/internal/store"
	"github.com/2389/warden/internal/supervisor"
	"github.com/2389/warden/internal/task"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStore is an in-memory store.Store for handler tests.
type fakeStore struct {
	mu     sync.Mutex
	events []*store.AgentEvent
}

func (f *fakeStore) AppendAgentEvent(_ context.Context, e *store.AgentEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func (f *fakeStore) ListAgentEvents(_ context.Context, filter store.EventFilter) ([]*store.AgentEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.AgentEvent
	for _, e := range f.events {
		if filter.AgentID != nil && e.AgentID != *filter.AgentID {
			continue
		}
		if filter.Kind != nil && e.Kind != *filter.Kind {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeStore) CountAgentEvents(_ context.Context, kind store.EventKind) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, e := range f.events {
		if kind == "" || e.Kind == kind {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) Close() error { return nil }

func testConfig(secret string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Auth:   config.AuthConfig{JWTSecret: secret},
		Supervisor: config.SupervisorConfig{
			HealthCheckInterval: 25 * time.Millisecond,
			IdleInterval:        5 * time.Millisecond,
			DequeueWait:         10 * time.Millisecond,
			ExecutionTimeout:    250 * time.Millisecond,
			ShutdownTimeout:     time.Second,
		},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

type fixture struct {
	srv   *Server
	sup   *supervisor.Supervisor
	queue *task.Queue
	bus   *events.Broadcaster
	store *fakeStore
}

func newFixture(t *testing.T, secret string) *fixture {
	t.Helper()
	cfg := testConfig(secret)
	queue := task.NewQueue()
	bus := events.NewBroadcaster(testLogger())
	st := &fakeStore{}

	sup := supervisor.New(cfg.Supervisor, queue, testLogger())
	sup.SetRecorder(st)
	sup.SetBroadcaster(bus)

	exec := agent.ExecutorFunc(func(_ context.Context, t *task.Task) (*task.Result, error) {
		return &task.Result{TaskID: t.ID}, nil
	})
	require.NoError(t, sup.Register(registry.RegistrationSpec{
		ID:           "echo-1",
		DisplayName:  "Echo One",
		Capabilities: []string{"text"},
		Enabled:      true,
	}, exec))
	require.NoError(t, sup.Start(context.Background()))
	t.Cleanup(func() {
		sup.Shutdown(time.Second)
		bus.Close()
	})

	srv, err := New(cfg, sup, queue, st, bus, testLogger())
	require.NoError(t, err)
	return &fixture{srv: srv, sup: sup, queue: queue, bus: bus, store: st}
}

func TestHandleHealth(t *testing.T) {
	f := newFixture(t, "")

	w := httptest.NewRecorder()
	f.srv.handleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	f.srv.handleReady(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	f.sup.Shutdown(time.Second)
	w = httptest.NewRecorder()
	f.srv.handleReady(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandleListAgents(t *testing.T) {
	f := newFixture(t, "")

	w := httptest.NewRecorder()
	f.srv.handleListAgents(w, httptest.NewRequest(http.MethodGet, "/api/agents", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var snaps []registry.HealthSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snaps))
	require.Len(t, snaps, 1)
	assert.Equal(t, "echo-1", snaps[0].ID)

	// Capability filter excludes non-matching agents.
	w = httptest.NewRecorder()
	f.srv.handleListAgents(w, httptest.NewRequest(http.MethodGet, "/api/agents?capability=video", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snaps))
	assert.Empty(t, snaps)

	w = httptest.NewRecorder()
	f.srv.handleListAgents(w, httptest.NewRequest(http.MethodPost, "/api/agents", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleAgentStatus(t *testing.T) {
	f := newFixture(t, "")

	w := httptest.NewRecorder()
	f.srv.handleAgentRoutes(w, httptest.NewRequest(http.MethodGet, "/api/agents/echo-1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var snap registry.HealthSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, "echo-1", snap.ID)

	w = httptest.NewRecorder()
	f.srv.handleAgentRoutes(w, httptest.NewRequest(http.MethodGet, "/api/agents/ghost", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleAgentControl(t *testing.T) {
	f := newFixture(t, "")

	w := httptest.NewRecorder()
	f.srv.handleAgentRoutes(w, httptest.NewRequest(http.MethodPost, "/api/agents/echo-1/pause", nil))
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp ControlResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Accepted)
	assert.Equal(t, "pause", resp.Operation)

	// The intent is applied at the worker's next iteration.
	require.Eventually(t, func() bool {
		snap, err := f.sup.Status("echo-1")
		return err == nil && snap.State == registry.StatePaused
	}, waitFor, tick)

	w = httptest.NewRecorder()
	f.srv.handleAgentRoutes(w, httptest.NewRequest(http.MethodPost, "/api/agents/echo-1/reboot", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	f.srv.handleAgentRoutes(w, httptest.NewRequest(http.MethodPost, "/api/agents/ghost/pause", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	f.srv.handleAgentRoutes(w, httptest.NewRequest(http.MethodGet, "/api/agents/echo-1/pause", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleSubmitTask(t *testing.T) {
	f := newFixture(t, "")

	body, _ := json.Marshal(SubmitTaskRequest{RequiredCapability: "text"})
	w := httptest.NewRecorder()
	f.srv.handleSubmitTask(w, httptest.NewRequest(http.MethodPost, "/api/tasks", bytes.NewReader(body)))
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp SubmitTaskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.TaskID)

	// The lone text agent picks it up.
	require.Eventually(t, func() bool {
		snap, err := f.sup.Status("echo-1")
		return err == nil && snap.TaskCount == 1
	}, waitFor, tick)

	w = httptest.NewRecorder()
	f.srv.handleSubmitTask(w, httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	f.srv.handleSubmitTask(w, httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(`not json`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleStats(t *testing.T) {
	f := newFixture(t, "")

	w := httptest.NewRecorder()
	f.srv.handleStats(w, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var stats registry.SystemStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.TotalAgents)
	assert.Equal(t, 1, stats.ActiveAgents)
}

func TestHandleAudit(t *testing.T) {
	f := newFixture(t, "")

	// Wait for the register and startup state-change events to land.
	require.Eventually(t, func() bool {
		n, _ := f.store.CountAgentEvents(context.Background(), store.EventStateChanged)
		return n >= 1
	}, waitFor, tick)

	w := httptest.NewRecorder()
	f.srv.handleAudit(w, httptest.NewRequest(http.MethodGet, "/api/audit", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var list []AuditEventResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.NotEmpty(t, list)

	w = httptest.NewRecorder()
	f.srv.handleAudit(w, httptest.NewRequest(http.MethodGet, "/api/audit?kind=registered&agent_id=echo-1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "registered", list[0].Kind)

	w = httptest.NewRecorder()
	f.srv.handleAudit(w, httptest.NewRequest(http.MethodGet, "/api/audit?kind=nonsense", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	f.srv.handleAudit(w, httptest.NewRequest(http.MethodGet, "/api/audit?since=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleEvents_SSE(t *testing.T) {
	f := newFixture(t, "")

	ctx, cancel := context.WithCancel(context.Background())
	r := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.srv.handleEvents(w, r)
	}()

	// Give the subscription a moment, then generate traffic.
	time.Sleep(50 * time.Millisecond)
	body, _ := json.Marshal(SubmitTaskRequest{RequiredCapability: "text"})
	sw := httptest.NewRecorder()
	f.srv.handleSubmitTask(sw, httptest.NewRequest(http.MethodPost, "/api/tasks", bytes.NewReader(body)))
	require.Equal(t, http.StatusAccepted, sw.Code)

	require.Eventually(t, func() bool {
		snap, err := f.sup.Status("echo-1")
		return err == nil && snap.TaskCount == 1
	}, waitFor, tick)
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("SSE handler did not stop on context cancel")
	}

	out := w.Body.String()
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Contains(t, out, "event: task_started")
	assert.Contains(t, out, "event: task_finished")
	assert.Contains(t, out, `"agent_id":"echo-1"`)
}

func TestHandleShutdown(t *testing.T) {
	f := newFixture(t, "")

	var callbackFired bool
	fired := make(chan struct{})
	f.srv.SetShutdownRequestHandler(func() {
		callbackFired = true
		close(fired)
	})

	w := httptest.NewRecorder()
	f.srv.handleShutdown(w, httptest.NewRequest(http.MethodPost, "/api/shutdown", strings.NewReader(`{"timeout_ms":500}`)))
	require.Equal(t, http.StatusOK, w.Code)

	var report supervisor.ShutdownReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, []string{"echo-1"}, report.Stopped)
	assert.Empty(t, report.Stragglers)

	select {
	case <-fired:
	case <-time.After(waitFor):
	}
	assert.True(t, callbackFired)
}

func TestHandleMetrics(t *testing.T) {
	f := newFixture(t, "")

	w := httptest.NewRecorder()
	f.srv.handleMetrics(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	out := w.Body.String()
	assert.Contains(t, out, "warden_agents_total 1")
	assert.Contains(t, out, "warden_agents_active 1")
	assert.Contains(t, out, `warden_agent_state{agent_id="echo-1"`)
}

func TestAuthEnforcement(t *testing.T) {
	f := newFixture(t, "test-secret")

	ts := httptest.NewServer(f.srv.httpServer.Handler)
	defer ts.Close()

	// Health is open.
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// API requires a token.
	resp, err = http.Get(ts.URL + "/api/agents")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	verifier, err := auth.NewJWTVerifier([]byte("test-secret"))
	require.NoError(t, err)
	token, err := verifier.Generate("operator", time.Hour)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/agents", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var snaps []registry.HealthSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snaps))
	assert.Len(t, snaps, 1)
}
