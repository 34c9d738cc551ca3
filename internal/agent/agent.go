// ABOUTME: Agent capability contracts consumed by the supervisor's worker loops
// ABOUTME: The supervisor never branches on concrete agent type, only on these interfaces

package agent

import (
	"context"

	"github.com/2389/warden/internal/task"
)

// Executor is the capability interface every agent implements. Execute
// performs one task and returns its result or an error; it must honor ctx
// cancellation promptly if it wants to cooperate with the execution-timeout
// guard, but the supervisor tolerates implementations that do not.
//
// Implementations must be safe for the supervisor to call from the agent's
// dedicated worker goroutine alongside concurrent calls to other agents.
type Executor interface {
	Execute(ctx context.Context, t *task.Task) (*task.Result, error)
}

// AutonomousWorker is optionally implemented by agents that have useful
// work to do when no task is available. Failures are absorbed into the
// agent's error counter and never stop its loop.
type AutonomousWorker interface {
	AutonomousCycle(ctx context.Context) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, t *task.Task) (*task.Result, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, t *task.Task) (*task.Result, error) {
	return f(ctx, t)
}
