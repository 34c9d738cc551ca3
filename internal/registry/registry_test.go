// ABOUTME: Tests for the agent registry and its state machine
// ABOUTME: Covers CAS transitions, counters, intents, snapshots, stats, and concurrent access

package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(nil)
}

func registerAgent(t *testing.T, r *Registry, id string, caps ...string) {
	t.Helper()
	if len(caps) == 0 {
		caps = []string{"text"}
	}
	_, err := r.Register(RegistrationSpec{
		ID:           id,
		DisplayName:  "Agent " + id,
		Capabilities: caps,
		Enabled:      true,
		Priority:     1,
	})
	require.NoError(t, err)
}

func TestRegister(t *testing.T) {
	r := newTestRegistry(t)

	snap, err := r.Register(RegistrationSpec{
		ID:           "a1",
		DisplayName:  "Agent One",
		Capabilities: []string{"video"},
		Enabled:      true,
		Priority:     3,
	})
	require.NoError(t, err)

	assert.Equal(t, "a1", snap.ID)
	assert.Equal(t, StateRegistered, snap.State)
	assert.Equal(t, []string{"video"}, snap.Capabilities)
	assert.Equal(t, 3, snap.Priority)
	assert.Zero(t, snap.TaskCount)
}

func TestRegister_Duplicate(t *testing.T) {
	r := newTestRegistry(t)
	registerAgent(t, r, "a1")

	_, err := r.Register(RegistrationSpec{ID: "a1", Capabilities: []string{"text"}})
	assert.ErrorIs(t, err, ErrAgentAlreadyRegistered)
}

func TestRegister_Validation(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Register(RegistrationSpec{Capabilities: []string{"text"}})
	assert.Error(t, err)

	_, err = r.Register(RegistrationSpec{ID: "no-caps"})
	assert.Error(t, err)
}

func TestDeregister(t *testing.T) {
	r := newTestRegistry(t)
	registerAgent(t, r, "a1")

	require.NoError(t, r.Deregister("a1"))
	_, err := r.Snapshot("a1")
	assert.ErrorIs(t, err, ErrAgentNotFound)

	assert.ErrorIs(t, r.Deregister("a1"), ErrAgentNotFound)
}

func TestTransition_HappyPath(t *testing.T) {
	r := newTestRegistry(t)
	registerAgent(t, r, "a1")

	steps := []struct {
		from []State
		to   State
	}{
		{[]State{StateRegistered}, StateIdle},
		{[]State{StateIdle}, StateDispatching},
		{[]State{StateDispatching}, StateExecuting},
		{[]State{StateExecuting}, StateIdle},
		{[]State{StateIdle}, StatePaused},
		{[]State{StatePaused}, StateIdle},
	}
	for _, s := range steps {
		assert.True(t, r.Transition("a1", s.from, s.to), "transition to %s", s.to)
	}

	state, err := r.CurrentState("a1")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, state)
}

func TestTransition_FailsWithoutSideEffect(t *testing.T) {
	r := newTestRegistry(t)
	registerAgent(t, r, "a1")

	// Wrong expected state: record is Registered, caller claims Idle.
	assert.False(t, r.Transition("a1", []State{StateIdle}, StateDispatching))

	state, err := r.CurrentState("a1")
	require.NoError(t, err)
	assert.Equal(t, StateRegistered, state)
}

func TestTransition_IllegalEdgesRejected(t *testing.T) {
	illegal := []struct {
		current State
		next    State
	}{
		{StateStopped, StateExecuting},
		{StateStopped, StateIdle},
		{StateRegistered, StateExecuting},
		{StateIdle, StateExecuting}, // must pass through Dispatching
		{StateTimedOut, StateExecuting},
		{StateTimedOut, StatePaused},
		{StatePaused, StateDispatching},
	}

	for i, tc := range illegal {
		t.Run(fmt.Sprintf("%s_to_%s", tc.current, tc.next), func(t *testing.T) {
			r := newTestRegistry(t)
			id := fmt.Sprintf("a%d", i)
			registerAgent(t, r, id)
			forceState(t, r, id, tc.current)

			assert.False(t, r.Transition(id, AnyState, tc.next))

			state, err := r.CurrentState(id)
			require.NoError(t, err)
			assert.Equal(t, tc.current, state, "failed transition must leave state unchanged")
		})
	}
}

// forceState walks an agent along legal edges to reach the target state.
func forceState(t *testing.T, r *Registry, id string, target State) {
	t.Helper()
	if target == StateRegistered {
		return
	}
	require.True(t, r.Transition(id, []State{StateRegistered}, StateIdle))
	switch target {
	case StateIdle:
	case StateDispatching:
		require.True(t, r.Transition(id, []State{StateIdle}, StateDispatching))
	case StateExecuting:
		require.True(t, r.Transition(id, []State{StateIdle}, StateDispatching))
		require.True(t, r.Transition(id, []State{StateDispatching}, StateExecuting))
	case StatePaused:
		require.True(t, r.Transition(id, []State{StateIdle}, StatePaused))
	case StateError:
		require.True(t, r.Transition(id, []State{StateIdle}, StateDispatching))
		require.True(t, r.Transition(id, []State{StateDispatching}, StateExecuting))
		require.True(t, r.Transition(id, []State{StateExecuting}, StateError))
	case StateTimedOut:
		require.True(t, r.Transition(id, []State{StateIdle}, StateTimedOut))
	case StateStopped:
		require.True(t, r.Transition(id, AnyState, StateStopped))
	default:
		t.Fatalf("unhandled target state %s", target)
	}
	state, err := r.CurrentState(id)
	require.NoError(t, err)
	require.Equal(t, target, state)
}

func TestTransition_StoppedIsTerminal(t *testing.T) {
	r := newTestRegistry(t)
	registerAgent(t, r, "a1")
	forceState(t, r, "a1", StateStopped)

	for _, next := range []State{StateIdle, StateExecuting, StateRegistered, StatePaused, StateTimedOut} {
		assert.False(t, r.Transition("a1", AnyState, next), "Stopped -> %s must be rejected", next)
	}
}

func TestTransition_AnyStateToStopped(t *testing.T) {
	for _, current := range []State{StateRegistered, StateIdle, StateDispatching, StateExecuting, StatePaused, StateError, StateTimedOut} {
		t.Run(string(current), func(t *testing.T) {
			r := newTestRegistry(t)
			registerAgent(t, r, "a1")
			forceState(t, r, "a1", current)
			assert.True(t, r.Transition("a1", AnyState, StateStopped))
		})
	}
}

func TestTransition_UnknownAgent(t *testing.T) {
	r := newTestRegistry(t)
	assert.False(t, r.Transition("ghost", AnyState, StateIdle))
}

func TestRecordTaskEnd_Counters(t *testing.T) {
	r := newTestRegistry(t)
	registerAgent(t, r, "a1")

	r.RecordTaskStart("a1", "task-1")
	snap, err := r.Snapshot("a1")
	require.NoError(t, err)
	assert.Equal(t, "task-1", snap.CurrentTaskID)

	r.RecordTaskEnd("a1", true, "")
	snap, err = r.Snapshot("a1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.TaskCount)
	assert.Zero(t, snap.ErrorCount)
	assert.Empty(t, snap.CurrentTaskID)

	r.RecordTaskStart("a1", "task-2")
	r.RecordTaskEnd("a1", false, "boom")
	snap, err = r.Snapshot("a1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), snap.TaskCount)
	assert.Equal(t, uint64(1), snap.ErrorCount)
	assert.Equal(t, "boom", snap.LastError)
}

func TestRecordCycleError(t *testing.T) {
	r := newTestRegistry(t)
	registerAgent(t, r, "a1")

	r.RecordCycleError("a1", "cycle failed")
	snap, err := r.Snapshot("a1")
	require.NoError(t, err)
	assert.Zero(t, snap.TaskCount, "cycle errors must not count as tasks")
	assert.Equal(t, uint64(1), snap.ErrorCount)
	assert.Equal(t, "cycle failed", snap.LastError)
}

func TestIntents(t *testing.T) {
	r := newTestRegistry(t)
	registerAgent(t, r, "a1")

	assert.ErrorIs(t, r.SetIntent("ghost", IntentPause), ErrAgentNotFound)

	require.NoError(t, r.SetIntent("a1", IntentPause))
	snap, err := r.Snapshot("a1")
	require.NoError(t, err)
	assert.Equal(t, IntentPause, snap.PendingIntent)

	assert.Equal(t, IntentPause, r.TakeIntent("a1"))
	assert.Equal(t, IntentNone, r.TakeIntent("a1"), "TakeIntent must clear")
}

func TestHeartbeat(t *testing.T) {
	r := newTestRegistry(t)
	registerAgent(t, r, "a1")

	time.Sleep(20 * time.Millisecond)
	before, err := r.Snapshot("a1")
	require.NoError(t, err)

	r.Heartbeat("a1")
	after, err := r.Snapshot("a1")
	require.NoError(t, err)
	assert.Less(t, after.SecondsSinceHeartbeat, before.SecondsSinceHeartbeat)
}

func TestSnapshots_SortedAndIndependent(t *testing.T) {
	r := newTestRegistry(t)
	registerAgent(t, r, "b")
	registerAgent(t, r, "a")
	registerAgent(t, r, "c")

	snaps := r.Snapshots()
	require.Len(t, snaps, 3)
	assert.Equal(t, "a", snaps[0].ID)
	assert.Equal(t, "b", snaps[1].ID)
	assert.Equal(t, "c", snaps[2].ID)

	// Mutating a snapshot's capability slice must not leak into the registry.
	snaps[0].Capabilities[0] = "mutated"
	again, err := r.Snapshot("a")
	require.NoError(t, err)
	assert.Equal(t, "text", again.Capabilities[0])
}

func TestStats(t *testing.T) {
	r := newTestRegistry(t)
	registerAgent(t, r, "a1")
	registerAgent(t, r, "a2")
	_, err := r.Register(RegistrationSpec{ID: "disabled", Capabilities: []string{"text"}, Enabled: false})
	require.NoError(t, err)

	r.SetQueueDepthFunc(func() int { return 7 })
	r.RecordTaskEnd("a1", true, "")
	r.RecordTaskEnd("a2", false, "x")

	forceState(t, r, "a2", StateStopped)

	stats := r.Stats()
	assert.Equal(t, 3, stats.TotalAgents)
	assert.Equal(t, 1, stats.ActiveAgents, "disabled and stopped agents are not active")
	assert.Equal(t, 7, stats.QueueDepth)
	assert.Equal(t, uint64(2), stats.TasksExecuted)
	assert.Equal(t, uint64(1), stats.ErrorsRecorded)
	assert.False(t, stats.ShutdownInProgress)

	r.MarkShutdown()
	assert.True(t, r.Stats().ShutdownInProgress)
}

func TestConcurrentAccess(t *testing.T) {
	r := newTestRegistry(t)
	const agents = 8
	for i := 0; i < agents; i++ {
		registerAgent(t, r, fmt.Sprintf("a%d", i))
		forceState(t, r, fmt.Sprintf("a%d", i), StateIdle)
	}

	var wg sync.WaitGroup
	for i := 0; i < agents; i++ {
		id := fmt.Sprintf("a%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				r.Heartbeat(id)
				if r.Transition(id, []State{StateIdle}, StateDispatching) {
					r.Transition(id, []State{StateDispatching}, StateExecuting)
					r.RecordTaskEnd(id, j%3 != 0, "err")
					r.Transition(id, []State{StateExecuting}, StateIdle)
				}
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_, _ = r.Snapshot(id)
				_ = r.Stats()
			}
		}()
	}
	wg.Wait()

	for i := 0; i < agents; i++ {
		snap, err := r.Snapshot(fmt.Sprintf("a%d", i))
		require.NoError(t, err)
		assert.Equal(t, uint64(200), snap.TaskCount)
	}
}
