// ABOUTME: In-memory FIFO task queue with capability-filtered bounded-wait dequeue
// ABOUTME: Safe for concurrent producers and consumers; each task is delivered exactly once

package task

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrQueueClosed is returned by Enqueue after Close.
var ErrQueueClosed = errors.New("task queue closed")

// Queue is an in-memory Source. Tasks are kept in arrival order; a dequeue
// takes the oldest task whose required capability matches the caller's set.
// Waiting consumers are woken by a generation channel that is closed and
// replaced on every enqueue, so all waiters re-scan without missed signals.
type Queue struct {
	mu     sync.Mutex
	tasks  *list.List // of *Task, oldest at front
	notify chan struct{}
	closed bool
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		tasks:  list.New(),
		notify: make(chan struct{}),
	}
}

// Enqueue adds a task to the back of the queue and wakes all waiting
// consumers. A missing ID or EnqueuedAt is filled in.
func (q *Queue) Enqueue(t *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now().UTC()
	}

	q.tasks.PushBack(t)

	// Wake every waiter; each re-scans under the lock, so a task still
	// goes to exactly one of them.
	close(q.notify)
	q.notify = make(chan struct{})
	return nil
}

// Dequeue removes and returns the oldest task matching one of the given
// capabilities. It waits up to wait for a match, returning (nil, nil) when
// nothing arrives in time. Context cancellation ends the wait early.
func (q *Queue) Dequeue(ctx context.Context, capabilities []string, wait time.Duration) (*Task, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if t := q.takeLocked(capabilities); t != nil {
			q.mu.Unlock()
			return t, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		notify := q.notify
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-notify:
			// New task arrived; re-scan.
		}
	}
}

// takeLocked removes and returns the first matching task. Caller holds mu.
func (q *Queue) takeLocked(capabilities []string) *Task {
	for e := q.tasks.Front(); e != nil; e = e.Next() {
		t := e.Value.(*Task)
		for _, c := range capabilities {
			if t.RequiredCapability == c {
				q.tasks.Remove(e)
				return t
			}
		}
	}
	return nil
}

// Depth returns the number of waiting tasks.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tasks.Len()
}

// Close rejects further enqueues and wakes all waiters. Tasks already
// queued remain dequeueable so shutdown can drain.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.notify)
	q.notify = make(chan struct{})
}
