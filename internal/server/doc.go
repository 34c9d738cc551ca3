// ABOUTME: Package documentation for the control-plane HTTP server
// ABOUTME: Routes, auth, and transport choices in one place

// Package server exposes the supervisor over HTTP: agent snapshots and
// control at /api/agents, task submission at /api/tasks, the audit trail
// at /api/audit, an SSE stream at /api/events, and bounded shutdown at
// /api/shutdown. Requests are authenticated with bearer JWTs when a
// secret is configured, and the listener is either plain TCP or an
// embedded Tailscale node.
package server
