// Package escalation resolves on-call schedules, executes escalation
// levels, and drives the monitor loop that advances active escalation
// states over time.
package escalation

import (
	"time"

	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/domain"
)

// Resolver computes who is on call for a schedule at a given instant.
type Resolver struct{}

// NewResolver creates a schedule Resolver.
func NewResolver() *Resolver { return &Resolver{} }

// CurrentOnCall returns the on-call entries for schedule at atTime, one per
// layer that is currently active (not excluded by a restriction).
func (r *Resolver) CurrentOnCall(schedule domain.OnCallSchedule, atTime time.Time) []domain.OnCallEntry {
	var out []domain.OnCallEntry
	for _, layer := range schedule.Layers {
		if entry, ok := r.resolveLayer(layer, atTime); ok {
			out = append(out, entry)
		}
	}
	return out
}

func (r *Resolver) resolveLayer(layer domain.Layer, atTime time.Time) (domain.OnCallEntry, bool) {
	if len(layer.Users) == 0 {
		return domain.OnCallEntry{}, false
	}

	loc, err := time.LoadLocation(layer.Timezone)
	if err != nil || layer.Timezone == "" {
		loc = time.UTC
	}
	local := atTime.In(loc)

	if layer.Restriction != nil && !restrictionPermits(*layer.Restriction, local) {
		return domain.OnCallEntry{}, false
	}

	idx := rotationIndex(layer, local, loc)
	idx = ((idx % len(layer.Users)) + len(layer.Users)) % len(layer.Users)
	return domain.OnCallEntry{UserEmail: layer.Users[idx], LayerName: layer.Name}, true
}

func restrictionPermits(res domain.Restriction, local time.Time) bool {
	if len(res.Weekdays) > 0 {
		permitted := false
		for _, wd := range res.Weekdays {
			if wd == local.Weekday() {
				permitted = true
				break
			}
		}
		if !permitted {
			return false
		}
	}

	hour := local.Hour()
	if res.StartHour >= res.EndHour {
		// wraps across midnight
		return hour >= res.StartHour || hour < res.EndHour
	}
	return hour >= res.StartHour && hour < res.EndHour
}

func rotationIndex(layer domain.Layer, local time.Time, loc *time.Location) int {
	start := layer.Start.In(loc)

	switch layer.Rotation.Kind {
	case domain.RotationDaily:
		epoch := mostRecentHandoffHour(start, layer.Rotation.HandoffHour, loc)
		idx := calendarDayDiff(epoch, local, loc)
		if local.Hour() < layer.Rotation.HandoffHour {
			idx--
		}
		return idx

	case domain.RotationWeekly:
		epoch := mostRecentWeeklyHandoff(start, layer.Rotation.HandoffWeekday, layer.Rotation.HandoffHour, loc)
		daysSinceEpoch := calendarDayDiff(epoch, local, loc)
		if local.Hour() < layer.Rotation.HandoffHour {
			daysSinceEpoch--
		}
		return daysSinceEpoch / 7

	case domain.RotationCustom:
		durationHours := layer.Rotation.DurationHours
		if durationHours <= 0 {
			durationHours = 24
		}
		return int(local.Sub(start) / (time.Duration(durationHours) * time.Hour))

	default:
		return 0
	}
}

// calendarDayDiff counts whole calendar days between from and to in loc,
// ignoring time-of-day (the caller applies its own handoff-hour
// correction).
func calendarDayDiff(from, to time.Time, loc *time.Location) int {
	fromDate := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	toDate := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, loc)
	return int(toDate.Sub(fromDate) / (24 * time.Hour))
}

// mostRecentHandoffHour returns the latest instant at handoffHour on or
// before start.
func mostRecentHandoffHour(start time.Time, handoffHour int, loc *time.Location) time.Time {
	epoch := time.Date(start.Year(), start.Month(), start.Day(), handoffHour, 0, 0, 0, loc)
	if epoch.After(start) {
		epoch = epoch.AddDate(0, 0, -1)
	}
	return epoch
}

// mostRecentWeeklyHandoff returns the latest instant at (handoffWeekday,
// handoffHour) on or before start.
func mostRecentWeeklyHandoff(start time.Time, handoffWeekday time.Weekday, handoffHour int, loc *time.Location) time.Time {
	epoch := time.Date(start.Year(), start.Month(), start.Day(), handoffHour, 0, 0, 0, loc)
	for i := 0; i < 8; i++ {
		if epoch.Weekday() == handoffWeekday && !epoch.After(start) {
			return epoch
		}
		epoch = epoch.AddDate(0, 0, -1)
	}
	return epoch
}
