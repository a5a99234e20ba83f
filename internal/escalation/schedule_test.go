package escalation

import (
	"testing"
	"time"

	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/domain"
)

func mustUTC(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestDailyRotationAdvancesAtHandoffHour(t *testing.T) {
	r := NewResolver()
	layer := domain.Layer{
		Name:     "primary",
		Users:    []string{"a@example.com", "b@example.com"},
		Timezone: "UTC",
		Start:    mustUTC("2026-01-01T09:00:00Z"),
		Rotation: domain.RotationStrategy{Kind: domain.RotationDaily, HandoffHour: 9},
	}
	schedule := domain.OnCallSchedule{ID: "s1", Layers: []domain.Layer{layer}}

	entries := r.CurrentOnCall(schedule, mustUTC("2026-01-01T10:00:00Z"))
	if len(entries) != 1 || entries[0].UserEmail != "a@example.com" {
		t.Fatalf("expected a@example.com on day 0, got %v", entries)
	}

	entries = r.CurrentOnCall(schedule, mustUTC("2026-01-02T09:00:00Z"))
	if len(entries) != 1 || entries[0].UserEmail != "b@example.com" {
		t.Fatalf("expected handoff to b@example.com at the next handoff hour, got %v", entries)
	}

	entries = r.CurrentOnCall(schedule, mustUTC("2026-01-02T08:59:00Z"))
	if len(entries) != 1 || entries[0].UserEmail != "a@example.com" {
		t.Fatalf("expected a@example.com to remain on call just before handoff, got %v", entries)
	}
}

func TestRestrictionExcludesOffHours(t *testing.T) {
	r := NewResolver()
	layer := domain.Layer{
		Name:     "business-hours",
		Users:    []string{"a@example.com"},
		Timezone: "UTC",
		Start:    mustUTC("2026-01-01T00:00:00Z"),
		Rotation: domain.RotationStrategy{Kind: domain.RotationDaily, HandoffHour: 0},
		Restriction: &domain.Restriction{
			StartHour: 9,
			EndHour:   17,
		},
	}
	schedule := domain.OnCallSchedule{ID: "s1", Layers: []domain.Layer{layer}}

	if entries := r.CurrentOnCall(schedule, mustUTC("2026-01-05T20:00:00Z")); len(entries) != 0 {
		t.Fatalf("expected no on-call entry outside restriction hours, got %v", entries)
	}
	if entries := r.CurrentOnCall(schedule, mustUTC("2026-01-05T10:00:00Z")); len(entries) != 1 {
		t.Fatalf("expected an on-call entry inside restriction hours, got %v", entries)
	}
}

func TestWeeklyRotationHandsOffOnDesignatedWeekday(t *testing.T) {
	r := NewResolver()
	layer := domain.Layer{
		Name:     "weekly",
		Users:    []string{"a@example.com", "b@example.com"},
		Timezone: "UTC",
		Start:    mustUTC("2026-01-05T09:00:00Z"), // Monday
		Rotation: domain.RotationStrategy{Kind: domain.RotationWeekly, HandoffWeekday: time.Monday, HandoffHour: 9},
	}
	schedule := domain.OnCallSchedule{ID: "s1", Layers: []domain.Layer{layer}}

	entries := r.CurrentOnCall(schedule, mustUTC("2026-01-10T09:00:00Z"))
	if len(entries) != 1 || entries[0].UserEmail != "a@example.com" {
		t.Fatalf("expected a@example.com to remain on call within the first week, got %v", entries)
	}

	entries = r.CurrentOnCall(schedule, mustUTC("2026-01-12T09:00:00Z")) // following Monday
	if len(entries) != 1 || entries[0].UserEmail != "b@example.com" {
		t.Fatalf("expected handoff to b@example.com on the following Monday, got %v", entries)
	}
}

// TestWeeklyRotationHandsOffAtHandoffHourOnSameDay traces spec.md §8
// Testable Property #4 exactly: users a,b,c on a Monday-09:00 weekly
// handoff, queried just before and at the boundary on the *same* calendar
// day the handoff falls on, not only across a week crossing.
func TestWeeklyRotationHandsOffAtHandoffHourOnSameDay(t *testing.T) {
	r := NewResolver()
	layer := domain.Layer{
		Name:     "weekly",
		Users:    []string{"a@example.com", "b@example.com", "c@example.com"},
		Timezone: "UTC",
		Start:    mustUTC("2026-01-05T09:00:00Z"), // Monday
		Rotation: domain.RotationStrategy{Kind: domain.RotationWeekly, HandoffWeekday: time.Monday, HandoffHour: 9},
	}
	schedule := domain.OnCallSchedule{ID: "s1", Layers: []domain.Layer{layer}}

	cases := []struct {
		at   string
		want string
	}{
		{"2026-01-12T08:59:00Z", "a@example.com"}, // just before the handoff hour, still previous week's user
		{"2026-01-12T09:00:00Z", "b@example.com"}, // at the handoff hour, same calendar day
		{"2026-01-19T09:00:00Z", "c@example.com"}, // next Monday
		{"2026-01-26T09:00:00Z", "a@example.com"}, // following Monday, wraps back to a
	}
	for _, c := range cases {
		entries := r.CurrentOnCall(schedule, mustUTC(c.at))
		if len(entries) != 1 || entries[0].UserEmail != c.want {
			t.Fatalf("at %s: expected %s, got %v", c.at, c.want, entries)
		}
	}
}

func TestCustomRotationUsesDurationHours(t *testing.T) {
	r := NewResolver()
	layer := domain.Layer{
		Name:     "custom",
		Users:    []string{"a@example.com", "b@example.com", "c@example.com"},
		Timezone: "UTC",
		Start:    mustUTC("2026-01-01T00:00:00Z"),
		Rotation: domain.RotationStrategy{Kind: domain.RotationCustom, DurationHours: 8},
	}
	schedule := domain.OnCallSchedule{ID: "s1", Layers: []domain.Layer{layer}}

	entries := r.CurrentOnCall(schedule, mustUTC("2026-01-01T10:00:00Z"))
	if len(entries) != 1 || entries[0].UserEmail != "b@example.com" {
		t.Fatalf("expected second 8h block to land on b@example.com, got %v", entries)
	}
}
