// Package store persists the supervisor's audit trail.
//
// A single agent_events table records registrations, state transitions,
// task outcomes, control actions, timeout detections, and shutdown
// reports. Task and agent business history is the collaborators'
// responsibility; this store only answers "what did the supervisor do,
// and when".
package store
