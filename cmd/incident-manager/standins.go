package main

import (
	"context"
	"fmt"

	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/domain"
	"github.com/LLM-Dev-Ops/incident-manager-sub003/pkg/logger"
)

// logNotifier is an in-process stand-in for the external paging/chat
// integrations §6 treats as out-of-scope collaborators. It satisfies
// escalation.Notifier by logging the notification it would have sent.
type logNotifier struct {
	log *logger.Logger
}

func (n *logNotifier) Notify(ctx context.Context, target domain.Target, recipient string, incident *domain.Incident, levelIndex int) error {
	n.log.WithFields(map[string]interface{}{
		"incident_id": incident.ID,
		"level":       levelIndex,
		"target_kind": target.Kind,
		"recipient":   recipient,
	}).Info("escalation notification dispatched")
	return nil
}

// staticTeamRegistry is an in-process stand-in for an external directory
// service, holding a fixed team-to-member mapping supplied at startup.
type staticTeamRegistry struct {
	members map[string][]string
}

func (r *staticTeamRegistry) Members(ctx context.Context, teamID string) ([]string, error) {
	m, ok := r.members[teamID]
	if !ok {
		return nil, fmt.Errorf("unknown team %q", teamID)
	}
	return m, nil
}

// staticScheduleProvider is an in-process stand-in for an external on-call
// scheduling system, holding a fixed set of schedules supplied at startup.
type staticScheduleProvider struct {
	schedules map[string]domain.OnCallSchedule
}

func (p *staticScheduleProvider) Schedule(ctx context.Context, scheduleID string) (domain.OnCallSchedule, error) {
	s, ok := p.schedules[scheduleID]
	if !ok {
		return domain.OnCallSchedule{}, fmt.Errorf("unknown schedule %q", scheduleID)
	}
	return s, nil
}

// logPlaybookRunner is an in-process stand-in for the external remediation
// automation §6 treats as out-of-scope, logging each playbook invocation.
type logPlaybookRunner struct {
	log *logger.Logger
}

func (r *logPlaybookRunner) Run(ctx context.Context, playbookID string, incident *domain.Incident) error {
	r.log.WithFields(map[string]interface{}{
		"incident_id": incident.ID,
		"playbook_id": playbookID,
	}).Info("playbook run requested")
	return nil
}
