// ABOUTME: Per-agent worker loop: intent handling, heartbeats, dispatch, autonomous cycles
// ABOUTME: Every failure is absorbed into the agent's own record; loops never crash

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/warden/internal/agent"
	"github.com/2389/warden/internal/registry"
	"github.com/2389/warden/internal/store"
	"github.com/2389/warden/internal/task"
)

// ErrExecutionTimeout marks a task whose bounded-time guard expired before
// the executor returned. The underlying call may still be running; its
// context is cancelled but the supervisor cannot preempt it.
var ErrExecutionTimeout = errors.New("execution timed out")

// worker drives one agent's loop on a dedicated goroutine. All agent state
// lives in the registry; the worker holds only immutable identity.
type worker struct {
	sup          *Supervisor
	id           string
	capabilities []string
	exec         agent.Executor
	done         chan struct{} // closed when run returns
}

// run is the loop body described by the supervisor's state machine. Each
// iteration: observe cancellation, apply any pending control intent,
// heartbeat, absorb a prior error, then either dispatch a task, run an
// autonomous cycle, or idle.
func (w *worker) run(ctx context.Context) {
	defer close(w.done)

	logger := w.sup.logger.With("agent_id", w.id)

	if w.sup.reg.Transition(w.id, []registry.State{registry.StateRegistered}, registry.StateIdle) {
		w.sup.emitStateChange(w.id, registry.StateRegistered, registry.StateIdle)
	}
	logger.Info("worker started", "capabilities", w.capabilities)

	for {
		if ctx.Err() != nil {
			w.stop(logger)
			return
		}

		w.applyIntent(logger)
		w.sup.reg.Heartbeat(w.id)

		state, err := w.sup.reg.CurrentState(w.id)
		if err != nil {
			logger.Warn("agent record gone, worker exiting", "error", err)
			return
		}

		switch state {
		case registry.StateStopped:
			logger.Info("worker stopped")
			return
		case registry.StatePaused, registry.StateTimedOut:
			// Keep heartbeating so the record shows the loop is alive,
			// but consume nothing until an operator intervenes.
			w.idle(ctx)
			continue
		case registry.StateError:
			// Error was visible for at least one idle interval; absorb it.
			if w.sup.reg.Transition(w.id, []registry.State{registry.StateError}, registry.StateIdle) {
				w.sup.emitStateChange(w.id, registry.StateError, registry.StateIdle)
			}
			continue
		}

		t, err := w.sup.source.Dequeue(ctx, w.capabilities, w.sup.cfg.DequeueWait)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("dequeue failed", "error", err)
				w.idle(ctx)
			}
			continue
		}

		if t != nil {
			if ok := w.dispatch(ctx, t, logger); !ok {
				// Leave the Error state observable for one interval
				// before the loop top absorbs it.
				w.idle(ctx)
			}
			continue
		}

		w.autonomousCycle(ctx, logger)
		w.idle(ctx)
	}
}

// applyIntent reads and clears the pending control intent, applying the
// corresponding transition. Illegal combinations (resume while not paused,
// pause while timed out) are dropped as no-ops.
func (w *worker) applyIntent(logger *slog.Logger) {
	switch w.sup.reg.TakeIntent(w.id) {
	case registry.IntentPause:
		from, _ := w.sup.reg.CurrentState(w.id)
		if w.sup.reg.Transition(w.id, []registry.State{registry.StateIdle, registry.StateError}, registry.StatePaused) {
			logger.Info("agent paused")
			w.sup.emitStateChange(w.id, from, registry.StatePaused)
		}
	case registry.IntentResume:
		if w.sup.reg.Transition(w.id, []registry.State{registry.StatePaused}, registry.StateIdle) {
			logger.Info("agent resumed")
			w.sup.emitStateChange(w.id, registry.StatePaused, registry.StateIdle)
		}
	case registry.IntentRestart:
		from, _ := w.sup.reg.CurrentState(w.id)
		w.sup.reg.ClearLastError(w.id)
		if w.sup.reg.Transition(w.id, []registry.State{registry.StateTimedOut, registry.StateError, registry.StatePaused}, registry.StateIdle) {
			logger.Info("agent restarted", "from", from)
			w.sup.emitStateChange(w.id, from, registry.StateIdle)
		}
	}
}

// dispatch runs one task through the Idle -> Dispatching -> Executing
// sequence. Returns false when the task failed and the agent is now in
// the Error state.
func (w *worker) dispatch(ctx context.Context, t *task.Task, logger *slog.Logger) bool {
	if !w.sup.reg.Transition(w.id, []registry.State{registry.StateIdle}, registry.StateDispatching) {
		// Shutdown or a monitor timeout won the race; the task is dropped.
		logger.Warn("agent no longer idle, dropping task", "task_id", t.ID)
		return true
	}
	w.sup.emitStateChange(w.id, registry.StateIdle, registry.StateDispatching)

	if w.sup.guard.CheckAndMark(t.ID) {
		logger.Warn("duplicate task suppressed", "task_id", t.ID)
		if w.sup.reg.Transition(w.id, []registry.State{registry.StateDispatching}, registry.StateIdle) {
			w.sup.emitStateChange(w.id, registry.StateDispatching, registry.StateIdle)
		}
		return true
	}

	if !w.sup.reg.Transition(w.id, []registry.State{registry.StateDispatching}, registry.StateExecuting) {
		return true
	}
	w.sup.emitStateChange(w.id, registry.StateDispatching, registry.StateExecuting)

	w.sup.reg.RecordTaskStart(w.id, t.ID)
	w.sup.emit(&store.AgentEvent{
		AgentID: w.id,
		Kind:    store.EventTaskStarted,
		TaskID:  t.ID,
		Detail:  map[string]any{"required_capability": t.RequiredCapability},
	})

	started := time.Now()
	result, err := w.execute(ctx, t)
	elapsed := time.Since(started)

	if err != nil {
		w.sup.reg.RecordTaskEnd(w.id, false, err.Error())
		if w.sup.reg.Transition(w.id, []registry.State{registry.StateExecuting}, registry.StateError) {
			w.sup.emitStateChange(w.id, registry.StateExecuting, registry.StateError)
		}
		logger.Warn("task failed", "task_id", t.ID, "elapsed", elapsed, "error", err)
		w.sup.emit(&store.AgentEvent{
			AgentID: w.id,
			Kind:    store.EventTaskFinished,
			TaskID:  t.ID,
			Error:   err.Error(),
			Detail:  map[string]any{"elapsed_ms": elapsed.Milliseconds()},
		})
		return false
	}

	w.sup.reg.RecordTaskEnd(w.id, true, "")
	if w.sup.reg.Transition(w.id, []registry.State{registry.StateExecuting}, registry.StateIdle) {
		w.sup.emitStateChange(w.id, registry.StateExecuting, registry.StateIdle)
	}
	logger.Info("task completed", "task_id", t.ID, "elapsed", elapsed)

	detail := map[string]any{"elapsed_ms": elapsed.Milliseconds()}
	if result != nil && result.Summary != "" {
		detail["summary"] = result.Summary
	}
	w.sup.emit(&store.AgentEvent{
		AgentID: w.id,
		Kind:    store.EventTaskFinished,
		TaskID:  t.ID,
		Detail:  detail,
	})
	return true
}

// execute invokes the agent under the bounded-time guard. When the guard
// expires the call's context is cancelled and the wait abandoned; a
// well-behaved executor returns shortly after, a hung one keeps its
// goroutine until it eventually does.
func (w *worker) execute(parent context.Context, t *task.Task) (*task.Result, error) {
	timeout := w.sup.cfg.ExecutionTimeout
	if t.Deadline != nil {
		if remaining := time.Until(*t.Deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: deadline already passed", ErrExecutionTimeout)
	}

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	type outcome struct {
		result *task.Result
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		result, err := w.exec.Execute(ctx, t)
		ch <- outcome{result, err}
	}()

	select {
	case o := <-ch:
		return o.result, o.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w after %s: %v", ErrExecutionTimeout, timeout, ctx.Err())
	}
}

// autonomousCycle runs the agent's optional idle-time work under the same
// bounded guard. Failures land in the error counter, never in the state.
func (w *worker) autonomousCycle(parent context.Context, logger *slog.Logger) {
	aw, ok := w.exec.(agent.AutonomousWorker)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(parent, w.sup.cfg.ExecutionTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- aw.AutonomousCycle(ctx)
	}()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		err = fmt.Errorf("%w after %s: %v", ErrExecutionTimeout, w.sup.cfg.ExecutionTimeout, ctx.Err())
	}
	if err != nil && parent.Err() == nil {
		logger.Warn("autonomous cycle failed", "error", err)
		w.sup.reg.RecordCycleError(w.id, err.Error())
		w.sup.emit(&store.AgentEvent{
			AgentID: w.id,
			Kind:    store.EventCycleError,
			Error:   err.Error(),
		})
	}
}

// idle sleeps one idle interval, waking early on cancellation.
func (w *worker) idle(ctx context.Context) {
	timer := time.NewTimer(w.sup.cfg.IdleInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// stop marks the agent Stopped during shutdown. Every state may reach
// Stopped, so the transition only fails if it already happened.
func (w *worker) stop(logger *slog.Logger) {
	from, err := w.sup.reg.CurrentState(w.id)
	if err != nil {
		return
	}
	if w.sup.reg.Transition(w.id, registry.AnyState, registry.StateStopped) {
		w.sup.emitStateChange(w.id, from, registry.StateStopped)
	}
	logger.Info("worker stopped")
}
