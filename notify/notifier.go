// Package notify fans view change events out to in-process subscribers.
package notify

import (
	"sync"
	"sync/atomic"

	"github.com/maxpert/viewsync/reconcile"
)

// defaultSignalBufferSize is the buffer size for view change channels.
// Subscribers that can't keep up will have events dropped (non-blocking send);
// the latest view is always available from its source.
const defaultSignalBufferSize = 16

// ViewChange is published every time a new view is installed.
type ViewChange struct {
	Previous reconcile.View
	Current  reconcile.View
}

// subscription represents a single subscriber.
type subscription struct {
	id     uint64
	ch     chan ViewChange
	closed atomic.Bool
}

// close closes the subscription channel if not already closed.
func (s *subscription) close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

// Hub is a thread-safe notification hub for view changes.
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[uint64]*subscription
	nextID        atomic.Uint64
	dropped       atomic.Uint64
}

// NewHub creates a new view change notification hub.
func NewHub() *Hub {
	return &Hub{
		subscriptions: make(map[uint64]*subscription),
	}
}

// Signal sends a view change to all subscribers (non-blocking).
func (h *Hub) Signal(change ViewChange) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscriptions {
		select {
		case sub.ch <- change:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe creates a new subscription and returns the event channel and cancel function.
// The returned channel is buffered. If the subscriber cannot keep up with the view change
// rate, events will be dropped by Signal(). The cancel function is idempotent.
func (h *Hub) Subscribe() (<-chan ViewChange, func()) {
	sub := &subscription{
		id: h.nextID.Add(1),
		ch: make(chan ViewChange, defaultSignalBufferSize),
	}

	h.mu.Lock()
	h.subscriptions[sub.id] = sub
	h.mu.Unlock()

	cancel := func() {
		h.unsubscribe(sub.id)
	}

	return sub.ch, cancel
}

// Subscribers returns the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscriptions)
}

// Dropped returns how many events were dropped on full subscriber buffers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close cancels every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subscriptions
	h.subscriptions = make(map[uint64]*subscription)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

// unsubscribe removes a subscription and closes its channel.
func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	sub, ok := h.subscriptions[id]
	if ok {
		delete(h.subscriptions, id)
	}
	h.mu.Unlock()

	if ok {
		sub.close()
	}
}
