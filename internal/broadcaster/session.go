package broadcaster

import (
	"sync"
	"time"

	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/domain"
)

// Session is one subscriber connection: a set of named subscriptions and a
// bounded outbound queue. The broadcaster drops (closes) sessions whose
// queue fills up rather than blocking the dispatcher on a slow consumer.
type Session struct {
	ID         string
	CreatedAt  time.Time
	Metadata   map[string]string

	mu            sync.RWMutex
	lastActive    time.Time
	subscriptions map[string]domain.Subscription
	outbound      chan domain.Envelope
	closed        bool
}

func newSession(id string, queueCapacity int, metadata map[string]string) *Session {
	now := time.Now()
	return &Session{
		ID:            id,
		CreatedAt:     now,
		Metadata:      metadata,
		lastActive:    now,
		subscriptions: make(map[string]domain.Subscription),
		outbound:      make(chan domain.Envelope, queueCapacity),
	}
}

// Subscribe adds or replaces a named subscription.
func (s *Session) Subscribe(sub domain.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[sub.ID] = sub
}

// Unsubscribe removes a named subscription.
func (s *Session) Unsubscribe(subscriptionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions, subscriptionID)
}

// Touch refreshes last_active, called on any client activity (message
// receipt, heartbeat ping).
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = time.Now()
}

// LastActive returns the last time the client was heard from.
func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

// matches reports whether any of the session's subscriptions accept ev.
func (s *Session) matches(ev domain.Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.subscriptions) == 0 {
		return false
	}
	for _, sub := range s.subscriptions {
		if sub.Filter.Match(ev) {
			return true
		}
	}
	return false
}

// enqueue performs a non-blocking send to the session's outbound queue. It
// reports false when the queue is full or the session is already closed;
// the caller is expected to disconnect on false.
func (s *Session) enqueue(env domain.Envelope) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.outbound <- env:
		return true
	default:
		return false
	}
}

// Outbound exposes the session's receive channel for a transport layer to
// drain and write to its underlying connection.
func (s *Session) Outbound() <-chan domain.Envelope {
	return s.outbound
}

// Close marks the session closed and closes its outbound channel, so a
// reader ranging over Outbound sees the end of the stream. Safe to call
// more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.outbound)
}
