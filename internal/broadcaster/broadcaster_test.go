package broadcaster

import (
	"context"
	"testing"
	"time"

	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/domain"
	"github.com/LLM-Dev-Ops/incident-manager-sub003/pkg/logger"
)

func newTestBroadcaster(cfg Config) (*Broadcaster, context.CancelFunc) {
	b := New(cfg, logger.NewDefault("test"))
	ctx, cancel := context.WithCancel(context.Background())
	b.Start(ctx)
	return b, cancel
}

func TestPublishDeliversToMatchingSubscription(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReaperInterval = time.Hour
	b, cancel := newTestBroadcaster(cfg)
	defer cancel()
	defer b.Stop()

	session := b.NewSession(nil)
	session.Subscribe(domain.Subscription{
		ID: "sub-1",
		Filter: domain.Filter{
			Severities: map[domain.Severity]struct{}{domain.SeverityP0: {}},
		},
	})

	if err := b.Publish(domain.Event{Type: domain.EventIncidentCreated, Severity: domain.SeverityP0, IncidentID: "i1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case env := <-session.Outbound():
		if env.Event.IncidentID != "i1" {
			t.Fatalf("expected i1 event, got %+v", env.Event)
		}
		if env.Priority != domain.PriorityCritical {
			t.Fatalf("expected Critical priority for P0 event, got %s", env.Priority)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event delivery")
	}
}

func TestPublishSkipsNonMatchingSubscription(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReaperInterval = time.Hour
	b, cancel := newTestBroadcaster(cfg)
	defer cancel()
	defer b.Stop()

	session := b.NewSession(nil)
	session.Subscribe(domain.Subscription{
		ID:     "sub-1",
		Filter: domain.Filter{Severities: map[domain.Severity]struct{}{domain.SeverityP0: {}}},
	})

	_ = b.Publish(domain.Event{Type: domain.EventIncidentCreated, Severity: domain.SeverityP3, IncidentID: "i1"})

	select {
	case env := <-session.Outbound():
		t.Fatalf("expected no delivery for a non-matching event, got %+v", env)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSlowConsumerIsDisconnected(t *testing.T) {
	cfg := Config{FanoutCapacity: 10, SessionQueueCapacity: 1, SessionTimeout: time.Hour, ReaperInterval: time.Hour}
	b, cancel := newTestBroadcaster(cfg)
	defer cancel()
	defer b.Stop()

	session := b.NewSession(nil)
	session.Subscribe(domain.Subscription{ID: "sub-1", Filter: domain.Filter{}})

	for i := 0; i < 5; i++ {
		_ = b.Publish(domain.Event{Type: domain.EventSystem})
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := b.Session(session.ID); !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected slow-consumer session to be disconnected")
}

func TestReaperClosesIdleSessions(t *testing.T) {
	cfg := Config{FanoutCapacity: 10, SessionQueueCapacity: 10, SessionTimeout: 50 * time.Millisecond, ReaperInterval: 20 * time.Millisecond}
	b, cancel := newTestBroadcaster(cfg)
	defer cancel()
	defer b.Stop()

	session := b.NewSession(nil)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := b.Session(session.ID); !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected idle session to be reaped")
}
