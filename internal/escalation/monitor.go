package escalation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/domain"
	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/routing"
	"github.com/LLM-Dev-Ops/incident-manager-sub003/pkg/errors"
	"github.com/LLM-Dev-Ops/incident-manager-sub003/pkg/logger"
	"github.com/LLM-Dev-Ops/incident-manager-sub003/pkg/metrics"
)

// IncidentLookup fetches the incident an escalation state refers to.
type IncidentLookup func(ctx context.Context, incidentID string) (*domain.Incident, error)

// Manager tracks per-incident escalation state and runs the cooperative
// monitor loop that advances it over time.
type Manager struct {
	mu       sync.Mutex
	states   map[string]*domain.EscalationState
	policies map[string]domain.EscalationPolicy

	executor      *LevelExecutor
	evaluator     *routing.Evaluator
	lookupIncident IncidentLookup
	log           *logger.Logger
	checkInterval time.Duration
}

// NewManager creates an escalation Manager. lookupIncident resolves an
// incident id to its current record; the evaluator reuses the routing
// condition engine for policy match predicates.
func NewManager(executor *LevelExecutor, evaluator *routing.Evaluator, lookupIncident IncidentLookup, log *logger.Logger, checkInterval time.Duration) *Manager {
	return &Manager{
		states:        make(map[string]*domain.EscalationState),
		policies:      make(map[string]domain.EscalationPolicy),
		executor:      executor,
		evaluator:     evaluator,
		lookupIncident: lookupIncident,
		log:           log,
		checkInterval: checkInterval,
	}
}

// RegisterPolicy adds or replaces an escalation policy.
func (m *Manager) RegisterPolicy(p domain.EscalationPolicy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[p.ID] = p
}

// SelectPolicy evaluates registered policies in priority-descending order
// and returns the first whose match predicate accepts incident.
func (m *Manager) SelectPolicy(incident *domain.Incident) (domain.EscalationPolicy, bool) {
	m.mu.Lock()
	candidates := make([]domain.EscalationPolicy, 0, len(m.policies))
	for _, p := range m.policies {
		candidates = append(candidates, p)
	}
	m.mu.Unlock()

	sort.Slice(candidates, func(a, b int) bool { return candidates[a].Priority > candidates[b].Priority })
	for _, p := range candidates {
		if p.Match == nil || m.evaluator.Matches(incident, p.Match.Conditions) {
			return p, true
		}
	}
	return domain.EscalationPolicy{}, false
}

// Start begins tracking a new Active escalation state for incident under
// policyID, scheduled to fire its first level immediately.
func (m *Manager) Start(incident *domain.Incident, policyID string) (*domain.EscalationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	policy, ok := m.policies[policyID]
	if !ok || len(policy.Levels) == 0 {
		return nil, errors.NotFound("escalation_policy", policyID)
	}

	now := time.Now()
	state := &domain.EscalationState{
		IncidentID:       incident.ID,
		PolicyID:         policyID,
		CurrentLevel:     0,
		StartedAt:        now,
		LevelReachedAt:   now,
		NextEscalationAt: &now,
		Status:           domain.EscalationActive,
	}
	m.states[incident.ID] = state
	return state, nil
}

// State returns the tracked escalation state for incidentID, if any.
func (m *Manager) State(incidentID string) (*domain.EscalationState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[incidentID]
	return s, ok
}

// Acknowledge transitions an Active escalation to Acknowledged, halting
// further level execution while preserving its history.
func (m *Manager) Acknowledge(incidentID, by string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[incidentID]
	if !ok {
		return errors.NotFound("escalation_state", incidentID)
	}
	if s.Status != domain.EscalationActive {
		return nil
	}
	now := time.Now()
	s.Status = domain.EscalationAcknowledged
	s.Acknowledged = true
	s.AcknowledgedBy = by
	s.AcknowledgedAt = &now
	return nil
}

// ResolveIncident transitions Active or Acknowledged escalation state to
// Resolved, called when the underlying incident resolves.
func (m *Manager) ResolveIncident(incidentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[incidentID]
	if !ok {
		return nil
	}
	if s.Status == domain.EscalationActive || s.Status == domain.EscalationAcknowledged {
		s.Status = domain.EscalationResolved
	}
	return nil
}

// Cancel marks an escalation state Cancelled regardless of its current
// status, except terminal ones.
func (m *Manager) Cancel(incidentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[incidentID]
	if !ok {
		return nil
	}
	if s.Status == domain.EscalationCompleted || s.Status == domain.EscalationResolved || s.Status == domain.EscalationCancelled {
		return nil
	}
	s.Status = domain.EscalationCancelled
	return nil
}

// Run drives the monitor loop until ctx is cancelled, ticking every
// checkInterval.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Manager) tick(ctx context.Context) {
	metrics.RecordMonitorTick()

	now := time.Now()
	m.mu.Lock()
	var due []*domain.EscalationState
	for _, s := range m.states {
		if s.Status != domain.EscalationActive {
			continue
		}
		if s.NextEscalationAt != nil && now.Before(*s.NextEscalationAt) {
			continue
		}
		due = append(due, s)
	}
	m.mu.Unlock()

	for _, s := range due {
		m.processDue(ctx, s)
	}
}

func (m *Manager) processDue(ctx context.Context, state *domain.EscalationState) {
	m.mu.Lock()
	policy, ok := m.policies[state.PolicyID]
	m.mu.Unlock()
	if !ok || state.CurrentLevel >= len(policy.Levels) {
		return
	}

	incident, err := m.lookupIncident(ctx, state.IncidentID)
	if err != nil {
		if m.log != nil {
			m.log.Warnf("escalation: incident %s no longer resolvable: %v", state.IncidentID, err)
		}
		return
	}

	level := policy.Levels[state.CurrentLevel]
	result := m.executor.ExecuteLevel(ctx, incident, level, state)
	outcome := "ok"
	if result.NotificationsFailed > 0 && result.NotificationsSent == 0 {
		outcome = "failed"
	} else if result.NotificationsFailed > 0 {
		outcome = "partial"
	}
	metrics.RecordEscalationExecution(outcome)

	m.advance(state, policy)
}

func (m *Manager) advance(state *domain.EscalationState, policy domain.EscalationPolicy) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if state.CurrentLevel+1 < len(policy.Levels) {
		state.CurrentLevel++
		state.LevelReachedAt = now
		next := now.Add(time.Duration(policy.Levels[state.CurrentLevel].DelayMinutes) * time.Minute)
		state.NextEscalationAt = &next
		return
	}

	if policy.Repeat != nil && state.RepeatCount < policy.Repeat.MaxRepeats {
		state.CurrentLevel = 0
		state.RepeatCount++
		next := now.Add(time.Duration(policy.Levels[0].DelayMinutes+policy.Repeat.IntervalMinutes) * time.Minute)
		state.NextEscalationAt = &next
		return
	}

	state.Status = domain.EscalationCompleted
}
