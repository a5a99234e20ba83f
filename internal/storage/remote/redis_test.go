package remote

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/domain"
	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	s, err := Open("redis://"+mr.Addr(), "ns")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newIncident(id string, severity domain.Severity, source string) *domain.Incident {
	now := time.Now()
	return &domain.Incident{
		ID:          id,
		CreatedAt:   now,
		UpdatedAt:   now,
		State:       domain.StateDetected,
		Severity:    severity,
		Source:      source,
		Title:       "high latency",
		Fingerprint: "fp-" + id,
	}
}

func TestRedisSaveGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	inc := newIncident("1", domain.SeverityP1, "sentinel")

	if err := s.Save(ctx, inc); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Get(ctx, "1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != inc.Title || got.Severity != inc.Severity {
		t.Fatalf("round-tripped incident mismatch: %+v", got)
	}
}

func TestRedisUpdateReindexesOnSeverityChange(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	inc := newIncident("1", domain.SeverityP2, "sentinel")
	_ = s.Save(ctx, inc)

	updated := *inc
	updated.Severity = domain.SeverityP0
	updated.UpdatedAt = updated.UpdatedAt.Add(time.Second)
	if err := s.Update(ctx, &updated); err != nil {
		t.Fatalf("update: %v", err)
	}

	count, err := s.Count(ctx, storage.IncidentFilter{Severities: map[domain.Severity]struct{}{domain.SeverityP0: {}}})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected reindexed incident under P0, got count %d", count)
	}

	count, err = s.Count(ctx, storage.IncidentFilter{Severities: map[domain.Severity]struct{}{domain.SeverityP2: {}}})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected old severity index removed, got count %d", count)
	}
}

func TestRedisFindByFingerprintSelfHeals(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := newIncident("a", domain.SeverityP1, "x")
	a.Fingerprint = "shared"
	b := newIncident("b", domain.SeverityP1, "x")
	b.Fingerprint = "shared"
	_ = s.Save(ctx, a)
	_ = s.Save(ctx, b)

	// Remove only the primary record so the fingerprint set keeps a
	// dangling entry for "b".
	if err := s.client.Del(ctx, s.incidentKey("b")).Err(); err != nil {
		t.Fatalf("delete: %v", err)
	}

	matches, err := s.FindByFingerprint(ctx, "shared")
	if err != nil {
		t.Fatalf("find by fingerprint: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "a" {
		t.Fatalf("expected only surviving incident 'a', got %+v", matches)
	}
}

func TestRedisListIntersectsSeverityAndSource(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_ = s.Save(ctx, newIncident("1", domain.SeverityP1, "sentinel"))
	_ = s.Save(ctx, newIncident("2", domain.SeverityP1, "datadog"))
	_ = s.Save(ctx, newIncident("3", domain.SeverityP2, "sentinel"))

	filter := storage.IncidentFilter{
		Severities: map[domain.Severity]struct{}{domain.SeverityP1: {}},
		Sources:    map[string]struct{}{"sentinel": {}},
	}
	items, err := s.List(ctx, filter, 1, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0].ID != "1" {
		t.Fatalf("expected only incident 1 to match intersection, got %+v", items)
	}
}

func TestRedisDeleteThenGetNotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_ = s.Save(ctx, newIncident("1", domain.SeverityP1, "sentinel"))
	_ = s.Delete(ctx, "1")

	if _, err := s.Get(ctx, "1"); err == nil {
		t.Fatalf("expected NotFound after delete")
	}
}
