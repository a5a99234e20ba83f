package escalation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/circuitbreaker"
	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/domain"
	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/routing"
	"github.com/LLM-Dev-Ops/incident-manager-sub003/pkg/logger"
)

func testEvaluator() *routing.Evaluator {
	return routing.NewEvaluator(logger.NewDefault("test"))
}

type fakeNotifier struct {
	fail map[string]bool
	sent []string
}

func (f *fakeNotifier) Notify(ctx context.Context, target domain.Target, recipient string, incident *domain.Incident, levelIndex int) error {
	f.sent = append(f.sent, recipient)
	if f.fail[recipient] {
		return errors.New("delivery failed")
	}
	return nil
}

type fakeTeams struct {
	members map[string][]string
}

func (f *fakeTeams) Members(ctx context.Context, teamID string) ([]string, error) {
	m, ok := f.members[teamID]
	if !ok {
		return nil, errors.New("unknown team")
	}
	return m, nil
}

func newTestExecutor(notifier Notifier, teams TeamRegistry) *LevelExecutor {
	registry := circuitbreaker.NewRegistry(logger.NewDefault("test"))
	return NewLevelExecutor(notifier, teams, nil, registry, circuitbreaker.DefaultConfig(), logger.NewDefault("test"))
}

func TestExecuteLevelDoesNotAbortOnIndividualFailure(t *testing.T) {
	notifier := &fakeNotifier{fail: map[string]bool{"bob@example.com": true}}
	teams := &fakeTeams{members: map[string][]string{"oncall": {"alice@example.com", "bob@example.com"}}}
	executor := newTestExecutor(notifier, teams)

	level := domain.Level{Targets: []domain.Target{{Kind: domain.TargetTeam, Value: "oncall"}}}
	state := &domain.EscalationState{IncidentID: "inc-1", CurrentLevel: 0}
	incident := &domain.Incident{ID: "inc-1"}

	result := executor.ExecuteLevel(context.Background(), incident, level, state)
	if result.NotificationsSent != 1 || result.NotificationsFailed != 1 {
		t.Fatalf("expected 1 sent and 1 failed, got %+v", result)
	}
	if len(state.NotificationHistory) != 2 {
		t.Fatalf("expected 2 history records, got %d", len(state.NotificationHistory))
	}
}

func TestExecuteLevelUnknownTeamRecordsError(t *testing.T) {
	notifier := &fakeNotifier{}
	teams := &fakeTeams{members: map[string][]string{}}
	executor := newTestExecutor(notifier, teams)

	level := domain.Level{Targets: []domain.Target{{Kind: domain.TargetTeam, Value: "missing"}}}
	state := &domain.EscalationState{IncidentID: "inc-1"}
	incident := &domain.Incident{ID: "inc-1"}

	result := executor.ExecuteLevel(context.Background(), incident, level, state)
	if len(result.Errors) != 1 {
		t.Fatalf("expected one resolution error, got %v", result.Errors)
	}
	if result.NotificationsSent != 0 {
		t.Fatalf("expected no notifications sent for an unresolved target")
	}
}

func TestExecuteLevelSuppressedSkipsNotificationsButRecordsHistory(t *testing.T) {
	notifier := &fakeNotifier{}
	teams := &fakeTeams{members: map[string][]string{"oncall": {"alice@example.com", "bob@example.com"}}}
	executor := newTestExecutor(notifier, teams)

	level := domain.Level{Targets: []domain.Target{{Kind: domain.TargetTeam, Value: "oncall"}}}
	state := &domain.EscalationState{IncidentID: "inc-1", CurrentLevel: 0}
	incident := &domain.Incident{
		ID: "inc-1",
		Labels: map[string]string{
			domain.LabelSuppressedUntil: time.Now().Add(time.Hour).Format(time.RFC3339),
		},
	}

	result := executor.ExecuteLevel(context.Background(), incident, level, state)
	if len(notifier.sent) != 0 {
		t.Fatalf("expected no notifications dispatched while suppressed, got %v", notifier.sent)
	}
	if result.NotificationsSent != 0 || result.NotificationsFailed != 0 {
		t.Fatalf("expected no sent/failed counts while suppressed, got %+v", result)
	}
	if len(state.NotificationHistory) != 2 {
		t.Fatalf("expected a history record per resolved recipient even when suppressed, got %d", len(state.NotificationHistory))
	}
	for _, rec := range state.NotificationHistory {
		if !rec.Suppressed {
			t.Fatalf("expected every record to be marked Suppressed, got %+v", rec)
		}
	}
}

func TestExecuteLevelNotSuppressedAfterWindowElapses(t *testing.T) {
	notifier := &fakeNotifier{}
	executor := newTestExecutor(notifier, nil)

	level := domain.Level{Targets: []domain.Target{{Kind: domain.TargetUser, Value: "a@example.com"}}}
	state := &domain.EscalationState{IncidentID: "inc-1"}
	incident := &domain.Incident{
		ID: "inc-1",
		Labels: map[string]string{
			domain.LabelSuppressedUntil: time.Now().Add(-time.Minute).Format(time.RFC3339),
		},
	}

	result := executor.ExecuteLevel(context.Background(), incident, level, state)
	if result.NotificationsSent != 1 {
		t.Fatalf("expected suppression window in the past to have no effect, got %+v", result)
	}
	if state.NotificationHistory[0].Suppressed {
		t.Fatalf("expected record not to be marked Suppressed once the window has elapsed")
	}
}

func TestManagerAdvanceToNextLevel(t *testing.T) {
	notifier := &fakeNotifier{}
	executor := newTestExecutor(notifier, nil)
	incident := &domain.Incident{ID: "inc-1"}
	lookup := func(ctx context.Context, id string) (*domain.Incident, error) { return incident, nil }

	evaluator := testEvaluator()
	manager := NewManager(executor, evaluator, lookup, logger.NewDefault("test"), time.Hour)
	manager.RegisterPolicy(domain.EscalationPolicy{
		ID: "p1",
		Levels: []domain.Level{
			{DelayMinutes: 5, Targets: []domain.Target{{Kind: domain.TargetUser, Value: "a@example.com"}}},
			{DelayMinutes: 10, Targets: []domain.Target{{Kind: domain.TargetUser, Value: "b@example.com"}}},
		},
	})

	state, err := manager.Start(incident, "p1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	manager.processDue(context.Background(), state)
	if state.CurrentLevel != 1 {
		t.Fatalf("expected advance to level 1, got %d", state.CurrentLevel)
	}
	if state.NextEscalationAt == nil {
		t.Fatalf("expected next_escalation_at to be set")
	}
}

func TestManagerCompletesWithoutRepeat(t *testing.T) {
	notifier := &fakeNotifier{}
	executor := newTestExecutor(notifier, nil)
	incident := &domain.Incident{ID: "inc-1"}
	lookup := func(ctx context.Context, id string) (*domain.Incident, error) { return incident, nil }

	manager := NewManager(executor, testEvaluator(), lookup, logger.NewDefault("test"), time.Hour)
	manager.RegisterPolicy(domain.EscalationPolicy{
		ID:     "p1",
		Levels: []domain.Level{{DelayMinutes: 5, Targets: []domain.Target{{Kind: domain.TargetUser, Value: "a@example.com"}}}},
	})

	state, _ := manager.Start(incident, "p1")
	manager.processDue(context.Background(), state)
	if state.Status != domain.EscalationCompleted {
		t.Fatalf("expected escalation to complete after its only level, got %s", state.Status)
	}
}

func TestManagerAcknowledgeHaltsEscalation(t *testing.T) {
	notifier := &fakeNotifier{}
	executor := newTestExecutor(notifier, nil)
	incident := &domain.Incident{ID: "inc-1"}
	lookup := func(ctx context.Context, id string) (*domain.Incident, error) { return incident, nil }

	manager := NewManager(executor, testEvaluator(), lookup, logger.NewDefault("test"), time.Hour)
	manager.RegisterPolicy(domain.EscalationPolicy{ID: "p1", Levels: []domain.Level{{DelayMinutes: 5}}})
	manager.Start(incident, "p1")

	if err := manager.Acknowledge("inc-1", "alice"); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	state, _ := manager.State("inc-1")
	if state.Status != domain.EscalationAcknowledged {
		t.Fatalf("expected Acknowledged status, got %s", state.Status)
	}
}
