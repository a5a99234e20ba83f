// Package processor implements the incident processor: the single
// component that creates, deduplicates, mutates, and closes incidents,
// coordinating the routing evaluator, escalation engine, and event
// broadcaster around a storage.Store contract.
package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/broadcaster"
	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/circuitbreaker"
	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/domain"
	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/escalation"
	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/routing"
	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/storage"
	cberrors "github.com/LLM-Dev-Ops/incident-manager-sub003/pkg/errors"
	"github.com/LLM-Dev-Ops/incident-manager-sub003/pkg/logger"
	"github.com/LLM-Dev-Ops/incident-manager-sub003/pkg/metrics"
)

// PlaybookRunner executes a remediation playbook against an incident. It is
// the external collaborator invoked through a dedicated circuit breaker
// whenever a routing rule queues a TriggerPlaybook action.
type PlaybookRunner interface {
	Run(ctx context.Context, playbookID string, incident *domain.Incident) error
}

// AlertAck is the result of submit_alert.
type AlertAck struct {
	AlertID      string
	IncidentID   string
	Deduplicated bool
}

// IncidentPatch describes the fields update_incident may change. Nil
// pointers/empty collections leave the corresponding field untouched.
type IncidentPatch struct {
	State        *domain.State
	Severity     *domain.Severity
	Description  *string
	AddLabels    map[string]string
	AddAssignees []string
}

// Processor is the incident processor described by the spec's §4.1
// contract.
type Processor struct {
	store       storage.Store
	broadcaster *broadcaster.Broadcaster
	evaluator   *routing.Evaluator
	escalation  *escalation.Manager
	playbooks   PlaybookRunner
	breakers    *circuitbreaker.Registry
	breakerCfg  circuitbreaker.Config
	fpConfig    domain.FingerprintConfig
	log         *logger.Logger

	rulesMu sync.RWMutex
	rules   []domain.RoutingRule

	locks *idLocker
}

// New wires a Processor's collaborators.
func New(
	store storage.Store,
	bc *broadcaster.Broadcaster,
	evaluator *routing.Evaluator,
	escalationMgr *escalation.Manager,
	playbooks PlaybookRunner,
	breakers *circuitbreaker.Registry,
	breakerCfg circuitbreaker.Config,
	fpConfig domain.FingerprintConfig,
	log *logger.Logger,
) *Processor {
	return &Processor{
		store:       store,
		broadcaster: bc,
		evaluator:   evaluator,
		escalation:  escalationMgr,
		playbooks:   playbooks,
		breakers:    breakers,
		breakerCfg:  breakerCfg,
		fpConfig:    fpConfig,
		log:         log,
		locks:       newIDLocker(),
	}
}

// SetRoutingRules replaces the active rule set evaluated on every submitted
// alert.
func (p *Processor) SetRoutingRules(rules []domain.RoutingRule) {
	p.rulesMu.Lock()
	defer p.rulesMu.Unlock()
	p.rules = rules
}

func (p *Processor) routingRules() []domain.RoutingRule {
	p.rulesMu.RLock()
	defer p.rulesMu.RUnlock()
	out := make([]domain.RoutingRule, len(p.rules))
	copy(out, p.rules)
	return out
}

// SubmitAlert implements the dedup-then-create contract of §4.1.
func (p *Processor) SubmitAlert(ctx context.Context, alert domain.Alert) (AlertAck, error) {
	if err := domain.ValidateAlert(&alert); err != nil {
		return AlertAck{}, cberrors.InvalidInput("alert", err.Error())
	}

	fp := domain.Fingerprint(alert.Source, alert.Title, alert.AffectedResources, alert.Severity, alert.Labels, p.fpConfig)
	unlock := p.locks.Lock(fp)
	defer unlock()

	existing, err := p.store.FindByFingerprint(ctx, fp)
	if err != nil {
		return AlertAck{}, err
	}
	for _, inc := range existing {
		if inc.State.Terminal() {
			continue
		}
		inc.AppendTimeline(domain.TimelineEvent{
			Timestamp:   time.Now(),
			Type:        domain.TimelineDuplicateAlert,
			Actor:       "system",
			Description: fmt.Sprintf("duplicate alert %s received", alert.ID),
			Metadata:    map[string]interface{}{"alert_id": alert.ID, "source": alert.Source},
		})
		if err := p.store.Update(ctx, inc); err != nil {
			return AlertAck{}, err
		}
		metrics.RecordIncidentSubmitted(true)
		p.publishBestEffort(domain.Event{Type: domain.EventAlertReceived, IncidentID: inc.ID, AlertID: alert.ID, Severity: alert.Severity})
		return AlertAck{AlertID: alert.ID, IncidentID: inc.ID, Deduplicated: true}, nil
	}

	now := time.Now()
	incident := &domain.Incident{
		ID:                uuid.NewString(),
		CreatedAt:         now,
		UpdatedAt:         now,
		State:             domain.StateDetected,
		Severity:          alert.Severity,
		Category:          alert.Category,
		Source:            alert.Source,
		Title:             alert.Title,
		Description:       alert.Description,
		AffectedResources: append([]string(nil), alert.AffectedResources...),
		Labels:            copyLabels(alert.Labels),
		Assignees:         []string{},
		Fingerprint:       fp,
	}
	incident.AppendTimeline(domain.TimelineEvent{
		Timestamp:   now,
		Type:        domain.TimelineCreated,
		Actor:       "system",
		Description: fmt.Sprintf("incident created from alert %s", alert.ID),
		Metadata:    map[string]interface{}{"alert_id": alert.ID},
	})

	if err := p.store.Save(ctx, incident); err != nil {
		return AlertAck{}, err
	}

	p.applyRouting(ctx, incident)

	// Suppress{minutes} gates notification dispatch inside the escalation
	// level executor (domain.Incident.IsSuppressed), not escalation start or
	// the monitor loop's advance logic: the policy still runs its levels on
	// schedule, it just sends nothing while the window is open.
	if policy, ok := p.escalation.SelectPolicy(incident); ok {
		if _, err := p.escalation.Start(incident, policy.ID); err != nil && p.log != nil {
			p.log.Warnf("processor: failed to start escalation for %s: %v", incident.ID, err)
		}
	}

	metrics.RecordIncidentSubmitted(false)
	p.publishBestEffort(domain.Event{
		Type: domain.EventIncidentCreated, IncidentID: incident.ID, Severity: incident.Severity,
		Source: incident.Source, AffectedResources: incident.AffectedResources, Labels: incident.Labels,
	})
	return AlertAck{AlertID: alert.ID, IncidentID: incident.ID, Deduplicated: false}, nil
}

// applyRouting evaluates the active rule set against incident and folds
// the resulting actions in, persisting a change if any rule matched.
func (p *Processor) applyRouting(ctx context.Context, incident *domain.Incident) {
	matched := p.evaluator.Evaluate(incident, p.routingRules())
	metrics.RecordRoutingEvaluation(len(matched) > 0)
	if len(matched) == 0 {
		return
	}

	outcome := p.evaluator.Apply(incident, matched)
	changed := false

	if outcome.HasSeverityOverride {
		incident.Severity = outcome.SeverityOverride
		changed = true
	}
	if len(outcome.LabelsSet) > 0 {
		if incident.Labels == nil {
			incident.Labels = map[string]string{}
		}
		for k, v := range outcome.LabelsSet {
			incident.Labels[k] = v
		}
		changed = true
	}
	if len(outcome.AssigneesAdded) > 0 {
		incident.Assignees = append(incident.Assignees, outcome.AssigneesAdded...)
		changed = true
	}
	if outcome.HasSuppress {
		if incident.Labels == nil {
			incident.Labels = map[string]string{}
		}
		until := time.Now().Add(time.Duration(outcome.SuppressForMinutes) * time.Minute)
		incident.Labels[domain.LabelSuppressedUntil] = until.Format(time.RFC3339)
		changed = true
	}

	for _, playbookID := range outcome.PlaybooksToRun {
		p.runPlaybook(ctx, incident, playbookID)
	}

	if changed {
		incident.AppendTimeline(domain.TimelineEvent{
			Timestamp: time.Now(), Type: domain.TimelineRoutingApplied, Actor: "system",
			Description: fmt.Sprintf("%d routing rule(s) applied", len(matched)),
		})
		if err := p.store.Update(ctx, incident); err != nil && p.log != nil {
			p.log.Warnf("processor: failed to persist routing outcome for %s: %v", incident.ID, err)
		}
	}
}

func (p *Processor) runPlaybook(ctx context.Context, incident *domain.Incident, playbookID string) {
	if p.playbooks == nil {
		return
	}
	breaker := p.breakers.GetOrCreate("playbook:"+playbookID, p.breakerCfg)
	p.publishBestEffort(domain.Event{Type: domain.EventPlaybookStarted, IncidentID: incident.ID, PlaybookID: playbookID})

	err := breaker.Execute(ctx, func(ctx context.Context) error {
		return p.playbooks.Run(ctx, playbookID, incident)
	})
	if err != nil {
		if p.log != nil {
			p.log.Warnf("processor: playbook %s failed for %s: %v", playbookID, incident.ID, err)
		}
		return
	}
	p.publishBestEffort(domain.Event{Type: domain.EventPlaybookCompleted, IncidentID: incident.ID, PlaybookID: playbookID})
}

// GetIncident returns a single incident by id.
func (p *Processor) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	return p.store.Get(ctx, id)
}

// ListIncidents returns a filtered, paginated incident list.
func (p *Processor) ListIncidents(ctx context.Context, filter storage.IncidentFilter, page, pageSize int) ([]*domain.Incident, error) {
	return p.store.List(ctx, filter, page, pageSize)
}

// Count returns the number of incidents matching filter.
func (p *Processor) Count(ctx context.Context, filter storage.IncidentFilter) (int, error) {
	return p.store.Count(ctx, filter)
}

// UpdateIncident applies patch to incident id, enforcing the lifecycle
// state graph when patch.State is set.
func (p *Processor) UpdateIncident(ctx context.Context, id string, patch IncidentPatch, actor string) (*domain.Incident, error) {
	unlock := p.locks.Lock(id)
	defer unlock()

	incident, err := p.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	previousState := incident.State
	timelineType := domain.TimelineStateChanged

	if patch.State != nil && *patch.State != incident.State {
		if !domain.CanTransition(incident.State, *patch.State) {
			return nil, cberrors.IllegalTransition(string(incident.State), string(*patch.State))
		}
		if previousState == domain.StateResolved && *patch.State == domain.StateInvestigating {
			timelineType = domain.TimelineReopened
		}
		incident.State = *patch.State
	}
	if patch.Severity != nil {
		incident.Severity = *patch.Severity
	}
	if patch.Description != nil {
		incident.Description = *patch.Description
	}
	for k, v := range patch.AddLabels {
		if incident.Labels == nil {
			incident.Labels = map[string]string{}
		}
		incident.Labels[k] = v
	}
	if len(patch.AddAssignees) > 0 {
		incident.Assignees = append(incident.Assignees, patch.AddAssignees...)
	}

	incident.AppendTimeline(domain.TimelineEvent{Timestamp: time.Now(), Type: timelineType, Actor: actor, Description: "incident updated"})
	if err := p.store.Update(ctx, incident); err != nil {
		return nil, err
	}

	p.publishBestEffort(domain.Event{
		Type: domain.EventIncidentUpdated, IncidentID: incident.ID, State: incident.State,
		PreviousState: previousState, Severity: incident.Severity, Actor: actor,
	})
	return incident, nil
}

// ResolveIncident transitions an incident to Resolved and attaches a
// resolution record.
func (p *Processor) ResolveIncident(ctx context.Context, id, summary, actor string) (*domain.Incident, error) {
	unlock := p.locks.Lock(id)
	defer unlock()

	incident, err := p.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(incident.State, domain.StateResolved) {
		return nil, cberrors.IllegalTransition(string(incident.State), string(domain.StateResolved))
	}

	now := time.Now()
	incident.State = domain.StateResolved
	incident.Resolution = &domain.Resolution{Summary: summary, ResolvedAt: now, ResolvedBy: actor}
	incident.AppendTimeline(domain.TimelineEvent{Timestamp: now, Type: domain.TimelineResolved, Actor: actor, Description: summary})

	if err := p.store.Update(ctx, incident); err != nil {
		return nil, err
	}
	_ = p.escalation.ResolveIncident(incident.ID)
	p.publishBestEffort(domain.Event{Type: domain.EventIncidentResolved, IncidentID: incident.ID, Severity: incident.Severity, Actor: actor})
	return incident, nil
}

// CloseIncident transitions an incident to the terminal Closed state.
func (p *Processor) CloseIncident(ctx context.Context, id, actor string) (*domain.Incident, error) {
	unlock := p.locks.Lock(id)
	defer unlock()

	incident, err := p.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(incident.State, domain.StateClosed) {
		return nil, cberrors.IllegalTransition(string(incident.State), string(domain.StateClosed))
	}

	incident.State = domain.StateClosed
	incident.AppendTimeline(domain.TimelineEvent{Timestamp: time.Now(), Type: domain.TimelineClosed, Actor: actor, Description: "incident closed"})
	if err := p.store.Update(ctx, incident); err != nil {
		return nil, err
	}
	_ = p.escalation.Cancel(incident.ID)
	p.publishBestEffort(domain.Event{Type: domain.EventIncidentClosed, IncidentID: incident.ID, Severity: incident.Severity, Actor: actor})
	return incident, nil
}

// Acknowledge records acknowledgement on the incident's escalation state
// (not the incident's own lifecycle state) and appends a timeline entry.
func (p *Processor) Acknowledge(ctx context.Context, id, actor string) (*domain.Incident, error) {
	unlock := p.locks.Lock(id)
	defer unlock()

	incident, err := p.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	incident.AppendTimeline(domain.TimelineEvent{Timestamp: time.Now(), Type: domain.TimelineAcknowledged, Actor: actor, Description: "incident acknowledged"})
	if err := p.store.Update(ctx, incident); err != nil {
		return nil, err
	}
	_ = p.escalation.Acknowledge(id, actor)
	p.publishBestEffort(domain.Event{Type: domain.EventAssignmentChanged, IncidentID: incident.ID, Actor: actor, Message: "acknowledged"})
	return incident, nil
}

// AddComment appends a free-text comment to the incident timeline.
func (p *Processor) AddComment(ctx context.Context, id, text, actor string) (*domain.Incident, error) {
	unlock := p.locks.Lock(id)
	defer unlock()

	incident, err := p.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	incident.AppendTimeline(domain.TimelineEvent{Timestamp: time.Now(), Type: domain.TimelineCommentAdded, Actor: actor, Description: text})
	if err := p.store.Update(ctx, incident); err != nil {
		return nil, err
	}
	p.publishBestEffort(domain.Event{Type: domain.EventCommentAdded, IncidentID: incident.ID, Actor: actor, Message: text})
	return incident, nil
}

// AdminDeleteIncident is the one explicit administrative operation allowed
// to remove an incident outright.
func (p *Processor) AdminDeleteIncident(ctx context.Context, id string) error {
	unlock := p.locks.Lock(id)
	defer unlock()

	if err := p.store.Delete(ctx, id); err != nil {
		return err
	}
	_ = p.escalation.Cancel(id)
	return nil
}

func (p *Processor) publishBestEffort(ev domain.Event) {
	if p.broadcaster == nil {
		return
	}
	if err := p.broadcaster.Publish(ev); err != nil && p.log != nil {
		p.log.Debugf("processor: best-effort event publish dropped: %v", err)
	}
}

func copyLabels(in map[string]string) map[string]string {
	if in == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
