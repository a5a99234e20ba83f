package embedded

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "incidents.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBoltSaveGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	inc := &domain.Incident{
		ID:          "1",
		CreatedAt:   now,
		UpdatedAt:   now,
		State:       domain.StateDetected,
		Severity:    domain.SeverityP1,
		Source:      "sentinel",
		Title:       "high latency",
		Fingerprint: "fp-1",
		Labels:      map[string]string{"env": "prod"},
	}

	if err := s.Save(ctx, inc); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Get(ctx, "1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != inc.Title || got.Labels["env"] != "prod" {
		t.Fatalf("round-tripped incident mismatch: %+v", got)
	}
}

func TestBoltFindByFingerprintSelfHeals(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	a := &domain.Incident{ID: "a", CreatedAt: now, UpdatedAt: now, Fingerprint: "shared", Source: "x", Title: "t"}
	b := &domain.Incident{ID: "b", CreatedAt: now, UpdatedAt: now, Fingerprint: "shared", Source: "x", Title: "t"}
	_ = s.Save(ctx, a)
	_ = s.Save(ctx, b)

	// Remove only the primary record so the fingerprint index keeps a
	// dangling entry for "b".
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIncidents).Delete([]byte("b"))
	}); err != nil {
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

func TestBoltDeleteThenGetNotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	inc := &domain.Incident{ID: "1", CreatedAt: now, UpdatedAt: now, Source: "x", Title: "t"}
	_ = s.Save(ctx, inc)
	_ = s.Delete(ctx, "1")

	if _, err := s.Get(ctx, "1"); err == nil {
		t.Fatalf("expected NotFound after delete")
	}
}
