// ABOUTME: Task envelope and Task Source contract consumed by worker loops
// ABOUTME: Tasks are opaque to the supervisor; only the capability tag routes them

package task

import (
	"context"
	"encoding/json"
	"time"
)

// Task is the unit of work handed to an agent. The supervisor never
// mutates a task; it routes by RequiredCapability and reports the outcome.
type Task struct {
	ID                 string          `json:"id"`
	RequiredCapability string          `json:"required_capability"`
	Payload            json.RawMessage `json:"payload,omitempty"`
	Deadline           *time.Time      `json:"deadline,omitempty"`
	EnqueuedAt         time.Time       `json:"enqueued_at"`
}

// Result is an agent's successful output for a task. Its content is
// opaque to the supervisor and is passed through to the audit trail.
type Result struct {
	TaskID  string          `json:"task_id"`
	Output  json.RawMessage `json:"output,omitempty"`
	Summary string          `json:"summary,omitempty"`
}

// Source supplies tasks to worker loops.
//
// Implementations must be safe for concurrent Dequeue calls and must not
// block past wait. A nil task with a nil error means nothing matched within
// the wait window. Each task is delivered to exactly one caller; redelivery
// after an execution timeout is the source's policy, not the supervisor's.
type Source interface {
	Dequeue(ctx context.Context, capabilities []string, wait time.Duration) (*Task, error)
}

// DepthReporter is optionally implemented by sources that can report
// how many tasks are waiting. Used for stats only.
type DepthReporter interface {
	Depth() int
}
