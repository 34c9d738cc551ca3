// ABOUTME: Tests for built-in executors
// ABOUTME: Covers echo passthrough, sleeper cancellation, and flaky failure cadence

package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/warden/internal/task"
)

func TestNewBuiltin(t *testing.T) {
	for _, kind := range []string{KindEcho, KindSleeper, KindFlaky} {
		ex, err := NewBuiltin(kind)
		require.NoError(t, err, kind)
		assert.NotNil(t, ex)
	}

	_, err := NewBuiltin("teleporter")
	assert.Error(t, err)
}

func TestEcho(t *testing.T) {
	e := &Echo{}
	payload := json.RawMessage(`{"prompt":"hi"}`)

	res, err := e.Execute(context.Background(), &task.Task{ID: "t1", Payload: payload})
	require.NoError(t, err)
	assert.Equal(t, "t1", res.TaskID)
	assert.JSONEq(t, string(payload), string(res.Output))
}

func TestSleeper_Completes(t *testing.T) {
	s := &Sleeper{WorkDuration: 10 * time.Millisecond}

	res, err := s.Execute(context.Background(), &task.Task{ID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, "t1", res.TaskID)
}

func TestSleeper_Cancelled(t *testing.T) {
	s := &Sleeper{WorkDuration: 5 * time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := s.Execute(ctx, &task.Task{ID: "t1"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFlaky(t *testing.T) {
	f := &Flaky{FailEvery: 3}
	ctx := context.Background()

	var failures int
	for i := 0; i < 9; i++ {
		if _, err := f.Execute(ctx, &task.Task{ID: "t"}); err != nil {
			failures++
		}
	}
	assert.Equal(t, 3, failures)
}

func TestFlaky_AlwaysFails(t *testing.T) {
	f := &Flaky{FailEvery: 1}
	_, err := f.Execute(context.Background(), &task.Task{ID: "t"})
	assert.Error(t, err)
}

func TestExecutorFunc(t *testing.T) {
	called := false
	fn := ExecutorFunc(func(_ context.Context, tk *task.Task) (*task.Result, error) {
		called = true
		return &task.Result{TaskID: tk.ID}, nil
	})

	res, err := fn.Execute(context.Background(), &task.Task{ID: "t1"})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "t1", res.TaskID)
}
