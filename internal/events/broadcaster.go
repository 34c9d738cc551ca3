// ABOUTME: In-memory fan-out broadcaster for agent lifecycle events
// ABOUTME: Pushes audit events to per-agent and wildcard subscribers without polling

package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/warden/internal/store"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// AllAgents subscribes to events for every agent.
const AllAgents = "*"

// Broadcaster provides in-memory pub/sub for agent lifecycle events.
// Subscribers register for one agent ID (or AllAgents) and receive events
// as the supervisor emits them. Sends never block: slow subscribers drop.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *store.AgentEvent // agentID -> subID -> ch
	logger      *slog.Logger
	closed      bool
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan *store.AgentEvent),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for the given agent ID (AllAgents for
// everything). Returns the event channel and a subscription ID. The
// subscription is cleaned up automatically when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, agentID string) (<-chan *store.AgentEvent, string) {
	subID := uuid.New().String()
	ch := make(chan *store.AgentEvent, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[agentID]; !ok {
		b.subscribers[agentID] = make(map[string]chan *store.AgentEvent)
	}
	b.subscribers[agentID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "agent_id", agentID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(agentID, subID)
	}()

	return ch, subID
}

// Publish sends an event to the event's agent subscribers and to wildcard
// subscribers. Non-blocking: the event is dropped for any subscriber whose
// channel is full.
func (b *Broadcaster) Publish(event *store.AgentEvent) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}

	// Copy target channels under the read lock so sends happen without it.
	var targets []chan *store.AgentEvent
	for _, key := range []string{event.AgentID, AllAgents} {
		for _, ch := range b.subscribers[key] {
			targets = append(targets, ch)
		}
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"agent_id", event.AgentID,
				"event_id", event.ID)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(agentID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[agentID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}
	delete(subs, subID)
	if len(subs) == 0 {
		delete(b.subscribers, agentID)
	}
	close(ch)
}

// Close shuts down the broadcaster, closing every subscriber channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for agentID, subs := range b.subscribers {
		for subID, ch := range subs {
			delete(subs, subID)
			close(ch)
		}
		delete(b.subscribers, agentID)
	}
}
