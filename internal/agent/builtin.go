// ABOUTME: Built-in executors used by the roster, the simulator, and tests
// ABOUTME: Real business agents live outside the supervisor; these exercise its machinery

package agent

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/2389/warden/internal/task"
)

// Built-in executor kinds accepted in roster files.
const (
	KindEcho    = "echo"
	KindSleeper = "sleeper"
	KindFlaky   = "flaky"
)

// NewBuiltin constructs a built-in executor by kind name.
func NewBuiltin(kind string) (Executor, error) {
	switch kind {
	case KindEcho:
		return &Echo{}, nil
	case KindSleeper:
		return &Sleeper{WorkDuration: 100 * time.Millisecond}, nil
	case KindFlaky:
		return &Flaky{FailEvery: 3}, nil
	default:
		return nil, fmt.Errorf("unknown builtin agent kind %q", kind)
	}
}

// Echo returns each task's payload unchanged.
type Echo struct{}

// Execute implements Executor.
func (e *Echo) Execute(_ context.Context, t *task.Task) (*task.Result, error) {
	return &task.Result{
		TaskID:  t.ID,
		Output:  t.Payload,
		Summary: "echoed payload",
	}, nil
}

// Sleeper simulates work that takes WorkDuration, honoring cancellation.
// With a WorkDuration above the supervisor's execution timeout it exercises
// the bounded-time guard.
type Sleeper struct {
	WorkDuration time.Duration
}

// Execute implements Executor.
func (s *Sleeper) Execute(ctx context.Context, t *task.Task) (*task.Result, error) {
	select {
	case <-time.After(s.WorkDuration):
		return &task.Result{TaskID: t.ID, Summary: fmt.Sprintf("slept %s", s.WorkDuration)}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Flaky fails every FailEvery-th task it sees. FailEvery <= 1 fails all.
type Flaky struct {
	FailEvery int
	calls     atomic.Uint64
}

// Execute implements Executor.
func (f *Flaky) Execute(_ context.Context, t *task.Task) (*task.Result, error) {
	n := f.calls.Add(1)
	if f.FailEvery <= 1 || n%uint64(f.FailEvery) == 0 {
		return nil, fmt.Errorf("simulated failure on call %d", n)
	}
	return &task.Result{TaskID: t.ID, Summary: "ok"}, nil
}
