package memory

import (
	"context"
	"testing"
	"time"

	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/domain"
	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/storage"
)

func newIncident(id string, severity domain.Severity) *domain.Incident {
	now := time.Now()
	return &domain.Incident{
		ID:          id,
		CreatedAt:   now,
		UpdatedAt:   now,
		State:       domain.StateDetected,
		Severity:    severity,
		Source:      "sentinel",
		Title:       "high latency",
		Fingerprint: "fp-" + id,
	}
}

func TestSaveGetRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()
	inc := newIncident("1", domain.SeverityP1)

	if err := s.Save(ctx, inc); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Get(ctx, "1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != inc.Title || got.Severity != inc.Severity {
		t.Fatalf("round-tripped incident mismatch: %+v vs %+v", got, inc)
	}

	got.Title = "mutated"
	got2, _ := s.Get(ctx, "1")
	if got2.Title == "mutated" {
		t.Fatalf("expected Get to return a copy, not an internal reference")
	}
}

func TestUpdateThenDelete(t *testing.T) {
	s := New()
	ctx := context.Background()
	inc := newIncident("1", domain.SeverityP1)
	_ = s.Save(ctx, inc)

	updated := inc.Clone()
	updated.State = domain.StateTriaged
	updated.UpdatedAt = updated.UpdatedAt.Add(time.Second)
	if err := s.Update(ctx, updated); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, _ := s.Get(ctx, "1")
	if got.State != domain.StateTriaged {
		t.Fatalf("expected updated state, got %s", got.State)
	}

	if err := s.Delete(ctx, "1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "1"); err == nil {
		t.Fatalf("expected NotFound after delete")
	}
}

func TestFindByFingerprint(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := newIncident("a", domain.SeverityP1)
	a.Fingerprint = "shared"
	b := newIncident("b", domain.SeverityP2)
	b.Fingerprint = "shared"
	_ = s.Save(ctx, a)
	_ = s.Save(ctx, b)

	matches, err := s.FindByFingerprint(ctx, "shared")
	if err != nil {
		t.Fatalf("find by fingerprint: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
}

func TestCountMatchesListAcrossPages(t *testing.T) {
	s := New()
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		sev := domain.SeverityP2
		if i%2 == 0 {
			sev = domain.SeverityP1
		}
		inc := newIncident(string(rune('a'+i)), sev)
		if err := s.Save(ctx, inc); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	filter := storage.IncidentFilter{Severities: map[domain.Severity]struct{}{domain.SeverityP1: {}}}
	count, err := s.Count(ctx, filter)
	if err != nil {
		t.Fatalf("count: %v", err)
	}

	var total int
	for page := 1; ; page++ {
		items, err := s.List(ctx, filter, page, 2)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(items) == 0 {
			break
		}
		total += len(items)
	}

	if total != count {
		t.Fatalf("expected count(%d) to equal concatenated pages(%d)", count, total)
	}
}
