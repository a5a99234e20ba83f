package escalation

import (
	"context"
	"fmt"
	"time"

	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/circuitbreaker"
	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/domain"
	"github.com/LLM-Dev-Ops/incident-manager-sub003/pkg/logger"
)

// Notifier delivers a single notification to a resolved recipient. It is
// the external collaborator the Level Executor calls through a circuit
// breaker; concrete channels (email, Slack, webhook POST) live outside this
// module.
type Notifier interface {
	Notify(ctx context.Context, target domain.Target, recipient string, incident *domain.Incident, levelIndex int) error
}

// TeamRegistry resolves a team id to its member emails.
type TeamRegistry interface {
	Members(ctx context.Context, teamID string) ([]string, error)
}

// ScheduleProvider looks up an on-call schedule by id.
type ScheduleProvider interface {
	Schedule(ctx context.Context, scheduleID string) (domain.OnCallSchedule, error)
}

// LevelResult summarizes one execute_level call.
type LevelResult struct {
	NotificationsSent   int
	NotificationsFailed int
	TargetsResolved     []string
	Errors              []string
}

// LevelExecutor resolves an escalation level's targets to recipients and
// dispatches notifications through per-recipient circuit breakers.
type LevelExecutor struct {
	notifier      Notifier
	teams         TeamRegistry
	schedules     ScheduleProvider
	resolver      *Resolver
	breakers      *circuitbreaker.Registry
	breakerConfig circuitbreaker.Config
	log           *logger.Logger
}

// NewLevelExecutor wires a LevelExecutor's collaborators.
func NewLevelExecutor(notifier Notifier, teams TeamRegistry, schedules ScheduleProvider, breakers *circuitbreaker.Registry, breakerConfig circuitbreaker.Config, log *logger.Logger) *LevelExecutor {
	return &LevelExecutor{
		notifier:      notifier,
		teams:         teams,
		schedules:     schedules,
		resolver:      NewResolver(),
		breakers:      breakers,
		breakerConfig: breakerConfig,
		log:           log,
	}
}

// ExecuteLevel resolves level's targets to recipients, notifies each one
// through a dedicated circuit breaker, and appends a NotificationRecord per
// attempt to state's history. A recipient failure is recorded but never
// aborts the level. While the incident's Suppress{minutes} window is open,
// recipients still resolve and the level still records its execution, but
// no notification is actually dispatched — each record is marked Suppressed
// instead of Succeeded/failed.
func (e *LevelExecutor) ExecuteLevel(ctx context.Context, incident *domain.Incident, level domain.Level, state *domain.EscalationState) LevelResult {
	result := LevelResult{}
	suppressed := incident.IsSuppressed(time.Now())

	for _, target := range level.Targets {
		recipients, err := e.resolveTarget(ctx, target)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.TargetsResolved = append(result.TargetsResolved, recipients...)

		for _, recipient := range recipients {
			record := domain.NotificationRecord{
				Timestamp:  time.Now(),
				LevelIndex: state.CurrentLevel,
				Target:     target,
			}

			if suppressed {
				record.Suppressed = true
				state.NotificationHistory = append(state.NotificationHistory, record)
				continue
			}

			breakerName := fmt.Sprintf("notify:%s:%s", target.Kind, recipient)
			breaker := e.breakers.GetOrCreate(breakerName, e.breakerConfig)
			err := breaker.Execute(ctx, func(ctx context.Context) error {
				return e.notifier.Notify(ctx, target, recipient, incident, state.CurrentLevel)
			})

			if err != nil {
				record.Succeeded = false
				record.Error = err.Error()
				result.NotificationsFailed++
				if e.log != nil {
					e.log.Warnf("escalation: notify %s via %s failed: %v", recipient, target.Kind, err)
				}
			} else {
				record.Succeeded = true
				result.NotificationsSent++
			}
			state.NotificationHistory = append(state.NotificationHistory, record)
		}
	}

	return result
}

func (e *LevelExecutor) resolveTarget(ctx context.Context, target domain.Target) ([]string, error) {
	switch target.Kind {
	case domain.TargetUser:
		return []string{target.Value}, nil
	case domain.TargetWebhook:
		return []string{target.Value}, nil
	case domain.TargetTeam:
		if e.teams == nil {
			return nil, fmt.Errorf("team registry not configured")
		}
		members, err := e.teams.Members(ctx, target.Value)
		if err != nil {
			return nil, fmt.Errorf("unknown team %q: %w", target.Value, err)
		}
		return members, nil
	case domain.TargetSchedule:
		if e.schedules == nil {
			return nil, fmt.Errorf("schedule provider not configured")
		}
		schedule, err := e.schedules.Schedule(ctx, target.Value)
		if err != nil {
			return nil, fmt.Errorf("unknown schedule %q: %w", target.Value, err)
		}
		entries := e.resolver.CurrentOnCall(schedule, time.Now())
		emails := make([]string, 0, len(entries))
		for _, entry := range entries {
			emails = append(emails, entry.UserEmail)
		}
		return emails, nil
	default:
		return nil, fmt.Errorf("unknown target kind %q", target.Kind)
	}
}
