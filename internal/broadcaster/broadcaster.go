// Package broadcaster fans published domain events out to subscriber
// sessions. Grounded on the teacher's system/events.Dispatcher: a bounded
// internal channel feeds a single dispatch loop, which snapshots sessions
// under a read lock and disconnects any whose outbound queue is full
// rather than blocking on a slow consumer.
package broadcaster

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/domain"
	"github.com/LLM-Dev-Ops/incident-manager-sub003/pkg/errors"
	"github.com/LLM-Dev-Ops/incident-manager-sub003/pkg/logger"
	"github.com/LLM-Dev-Ops/incident-manager-sub003/pkg/metrics"
)

// Config sizes the broadcaster's channels.
type Config struct {
	FanoutCapacity       int
	SessionQueueCapacity int
	SessionTimeout       time.Duration
	ReaperInterval       time.Duration
}

// DefaultConfig matches the spec's websocket channel-sizing defaults.
func DefaultConfig() Config {
	return Config{
		FanoutCapacity:       1000,
		SessionQueueCapacity: 1000,
		SessionTimeout:       300 * time.Second,
		ReaperInterval:       30 * time.Second,
	}
}

// Broadcaster fans out published events to registered sessions.
type Broadcaster struct {
	cfg Config
	log *logger.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	running  bool

	fanout chan domain.Envelope
	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a Broadcaster. Call Start to begin dispatching.
func New(cfg Config, log *logger.Logger) *Broadcaster {
	if cfg.FanoutCapacity <= 0 {
		cfg.FanoutCapacity = 1000
	}
	if cfg.SessionQueueCapacity <= 0 {
		cfg.SessionQueueCapacity = 1000
	}
	return &Broadcaster{
		cfg:      cfg,
		log:      log,
		sessions: make(map[string]*Session),
		fanout:   make(chan domain.Envelope, cfg.FanoutCapacity),
	}
}

// Start launches the dispatch loop and the session reaper. Both run until
// ctx is cancelled or Stop is called.
func (b *Broadcaster) Start(ctx context.Context) {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})
	b.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		b.dispatchLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		b.reapLoop(ctx)
	}()

	go func() {
		wg.Wait()
		close(b.doneCh)
	}()
}

// Stop halts dispatch and the reaper, and closes every active session.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	close(b.stopCh)
	sessions := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.sessions = make(map[string]*Session)
	b.mu.Unlock()

	<-b.doneCh
	for _, s := range sessions {
		s.Close()
	}
}

// NewSession registers and returns a new subscriber session.
func (b *Broadcaster) NewSession(metadata map[string]string) *Session {
	s := newSession(uuid.NewString(), b.cfg.SessionQueueCapacity, metadata)
	b.mu.Lock()
	b.sessions[s.ID] = s
	count := len(b.sessions)
	b.mu.Unlock()
	metrics.SetBroadcasterSessions(count)
	return s
}

// Session returns the session by id, if registered.
func (b *Broadcaster) Session(id string) (*Session, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.sessions[id]
	return s, ok
}

// RemoveSession closes and unregisters a session.
func (b *Broadcaster) RemoveSession(id string) {
	b.mu.Lock()
	s, ok := b.sessions[id]
	if ok {
		delete(b.sessions, id)
	}
	count := len(b.sessions)
	b.mu.Unlock()

	if ok {
		s.Close()
	}
	metrics.SetBroadcasterSessions(count)
}

// SessionCount reports how many sessions are currently registered.
func (b *Broadcaster) SessionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions)
}

// Publish assigns an envelope to ev and queues it for fan-out. A full
// fanout channel drops the event and records a metric rather than
// blocking the caller.
func (b *Broadcaster) Publish(ev domain.Event) error {
	env := domain.Envelope{
		MessageID: uuid.NewString(),
		Timestamp: time.Now(),
		Priority:  domain.PriorityFor(ev.Type, ev.Severity),
		Event:     ev,
	}

	select {
	case b.fanout <- env:
		metrics.RecordBroadcasterEventPublished(string(ev.Type))
		return nil
	default:
		metrics.RecordBroadcasterDropped("fanout_full")
		return errors.New(errors.CodeRateLimited, "broadcaster fanout channel is full")
	}
}

func (b *Broadcaster) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case env := <-b.fanout:
			b.deliver(env)
		}
	}
}

func (b *Broadcaster) deliver(env domain.Envelope) {
	b.mu.RLock()
	sessions := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.mu.RUnlock()

	var dropped []string
	for _, s := range sessions {
		if !s.matches(env.Event) {
			continue
		}
		if !s.enqueue(env) {
			dropped = append(dropped, s.ID)
		}
	}

	for _, id := range dropped {
		if b.log != nil {
			b.log.Warnf("broadcaster: session %s queue full, disconnecting", id)
		}
		metrics.RecordBroadcasterDropped("backpressure")
		b.RemoveSession(id)
	}
}

func (b *Broadcaster) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.reapStale()
		}
	}
}

func (b *Broadcaster) reapStale() {
	cutoff := time.Now().Add(-b.cfg.SessionTimeout)

	b.mu.RLock()
	var stale []string
	for id, s := range b.sessions {
		if s.LastActive().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	b.mu.RUnlock()

	for _, id := range stale {
		if b.log != nil {
			b.log.Infof("broadcaster: reaping idle session %s", id)
		}
		metrics.RecordBroadcasterDropped("reaped")
		b.RemoveSession(id)
	}
}
