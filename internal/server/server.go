// ABOUTME: Control-plane HTTP server: construction, listeners, run loop, graceful stop
// ABOUTME: Serves over plain TCP or an embedded Tailscale node depending on config

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/warden/internal/auth"
	"github.com/2389/warden/internal/config"
	"github.com/2389/warden/internal/events"
	"github.com/2389/warden/internal/store"
	"github.com/2389/warden/internal/supervisor"
	"github.com/2389/warden/internal/task"
)

// Server exposes the supervisor's control surface over HTTP: agent status,
// pause/resume/restart, task submission, the audit trail, live events, and
// shutdown.
type Server struct {
	cfg    *config.Config
	sup    *supervisor.Supervisor
	queue  *task.Queue
	store  store.Store
	bus    *events.Broadcaster
	logger *slog.Logger

	httpServer  *http.Server
	tsnetServer *tsnet.Server

	// onShutdownRequest is invoked after POST /api/shutdown completes so
	// the process can stop serving. Set by the owning command.
	onShutdownRequest func()
}

// New wires the control server. The queue may be nil when tasks arrive
// through some other source; POST /api/tasks then returns 503.
func New(cfg *config.Config, sup *supervisor.Supervisor, queue *task.Queue, st store.Store, bus *events.Broadcaster, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		sup:    sup,
		queue:  queue,
		store:  st,
		bus:    bus,
		logger: logger.With("component", "server"),
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/ready", s.handleReady)

	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.HandleFunc(path, s.handleMetrics)
	}

	if err := s.registerAPIRoutes(mux); err != nil {
		return nil, err
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// SetShutdownRequestHandler registers the callback fired after a shutdown
// request has been served.
func (s *Server) SetShutdownRequestHandler(f func()) {
	s.onShutdownRequest = f
}

// registerAPIRoutes registers API routes on the mux with or without auth
// middleware depending on whether a JWT secret is configured.
func (s *Server) registerAPIRoutes(mux *http.ServeMux) error {
	routes := map[string]http.HandlerFunc{
		"/api/agents":   s.handleListAgents,
		"/api/agents/":  s.handleAgentRoutes,
		"/api/stats":    s.handleStats,
		"/api/audit":    s.handleAudit,
		"/api/tasks":    s.handleSubmitTask,
		"/api/events":   s.handleEvents,
		"/api/shutdown": s.handleShutdown,
	}

	if s.cfg.Auth.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(s.cfg.Auth.JWTSecret))
		if err != nil {
			return fmt.Errorf("creating HTTP JWT verifier: %w", err)
		}
		authMiddleware := auth.HTTPAuthMiddleware(verifier, s.logger)
		for path, handler := range routes {
			mux.Handle(path, authMiddleware(handler))
		}
		s.logger.Info("HTTP auth middleware enabled")
	} else {
		for path, handler := range routes {
			mux.HandleFunc(path, handler)
		}
		s.logger.Warn("HTTP auth disabled - no jwt_secret configured")
	}
	return nil
}

// Run starts the control server and blocks until ctx is cancelled or the
// server fails. Returns nil on graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, stopping control server")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := s.stop()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// stop drains in-flight requests with a fresh context; the run context is
// already cancelled by the time this runs.
func (s *Server) stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	if s.tsnetServer != nil {
		if closeErr := s.tsnetServer.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}

// setupListener creates the serving listener: an embedded Tailscale node
// when enabled, plain TCP otherwise.
func (s *Server) setupListener(ctx context.Context) (net.Listener, error) {
	if s.cfg.Tailscale.Enabled {
		if s.cfg.Server.HTTPAddr != "" {
			s.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", s.cfg.Server.HTTPAddr)
		}
		return s.setupTailscaleListener(ctx)
	}

	ln, err := net.Listen("tcp", s.cfg.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// resolveTailscaleStateDir returns the state directory, using a default
// under the user's home when not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "warden", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener starts a tsnet node and listens on it.
func (s *Server) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := s.cfg.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	s.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	s.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := s.tsnetServer.Up(ctx)
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	s.logTailscaleStatus(tsCfg.Hostname, status)

	if tsCfg.Funnel {
		ln, err := s.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = s.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel: %w", err)
		}
		return ln, nil
	}

	ln, err := s.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (s *Server) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		s.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	s.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}
