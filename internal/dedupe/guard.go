// ABOUTME: TTL-bounded seen-task guard protecting worker loops from task redelivery
// ABOUTME: Sources may redeliver after an execution timeout; the guard keeps dispatch at-most-once per window

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// seenTask stores when a task ID was first dispatched plus its position
// in the eviction order.
type seenTask struct {
	dispatchedAt time.Time
	element      *list.Element
}

// Guard is a thread-safe, TTL-based, size-limited set of recently
// dispatched task IDs. Worker loops consult it before executing so a task
// source that redelivers (e.g. after an execution timeout it cannot
// distinguish from a crash) does not get the same task run twice within
// the window. Insertion order is kept in a linked list for O(1) eviction.
type Guard struct {
	mu      sync.RWMutex
	seen    map[string]*seenTask
	order   *list.List // task IDs, oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// sweepInterval is how often expired entries are purged in the background.
const sweepInterval = time.Minute

// NewGuard creates a guard with the given redelivery window and maximum
// tracked task count. A background goroutine sweeps expired entries.
func NewGuard(ttl time.Duration, maxSize int) *Guard {
	g := &Guard{
		seen:    make(map[string]*seenTask),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go g.sweep()
	return g
}

// Seen reports whether the task ID was dispatched within the window.
func (g *Guard) Seen(taskID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	entry, ok := g.seen[taskID]
	if !ok {
		return false
	}
	return time.Since(entry.dispatchedAt) < g.ttl
}

// CheckAndMark atomically checks whether the task ID was already dispatched
// and records it if not. Returns true for a duplicate (caller should skip
// the task), false when the ID is new and now tracked. The single lock
// acquisition avoids a check/mark race between concurrent workers.
func (g *Guard) CheckAndMark(taskID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.seen[taskID]
	if ok && time.Since(entry.dispatchedAt) < g.ttl {
		return true
	}

	g.markLocked(taskID)
	return false
}

// markLocked records a dispatch. Caller holds mu.
func (g *Guard) markLocked(taskID string) {
	now := time.Now()

	// Re-dispatch of an expired ID: refresh and move to the back.
	if entry, exists := g.seen[taskID]; exists {
		entry.dispatchedAt = now
		g.order.MoveToBack(entry.element)
		return
	}

	if len(g.seen) >= g.maxSize {
		g.evictOldest()
	}

	elem := g.order.PushBack(taskID)
	g.seen[taskID] = &seenTask{dispatchedAt: now, element: elem}
}

// evictOldest drops the oldest tracked ID. Caller holds mu.
func (g *Guard) evictOldest() {
	front := g.order.Front()
	if front == nil {
		return
	}
	id, _ := front.Value.(string)
	g.order.Remove(front)
	delete(g.seen, id)
}

// Len returns the number of tracked task IDs, expired or not.
func (g *Guard) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.seen)
}

// sweep periodically removes expired entries until Close.
func (g *Guard) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.removeExpired()
		case <-g.done:
			return
		}
	}
}

// removeExpired purges every entry past the window.
func (g *Guard) removeExpired() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	for id, entry := range g.seen {
		if now.Sub(entry.dispatchedAt) > g.ttl {
			g.order.Remove(entry.element)
			delete(g.seen, id)
		}
	}
}

// Close stops the background sweeper. Safe to call multiple times.
func (g *Guard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.closed {
		close(g.done)
		g.closed = true
	}
}
