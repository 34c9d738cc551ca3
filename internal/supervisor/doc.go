// ABOUTME: Package documentation for the supervisor core
// ABOUTME: Describes the worker-per-agent model and its concurrency discipline

// Package supervisor runs a pool of capability-typed agents: one worker
// goroutine per enabled agent pulling from a shared task source, a health
// monitor flagging stale heartbeats, a control facade for pause/resume/
// restart, and a bounded cooperative shutdown that reports stragglers.
//
// All shared mutable state lives in the registry; workers, the monitor,
// and control callers mutate it only through the registry's synchronized,
// CAS-style transition API. Per-agent failures are absorbed into that
// agent's record and never propagate to other agents or the process.
package supervisor
