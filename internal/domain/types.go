// Package domain defines the core entities of the incident management
// runtime: alerts, incidents, their timelines, escalation policies and
// state, on-call schedules, routing rules, and subscriptions.
package domain

import "time"

// Severity is a P0-P4 severity tier, P0 being the most severe.
type Severity string

const (
	SeverityP0 Severity = "P0"
	SeverityP1 Severity = "P1"
	SeverityP2 Severity = "P2"
	SeverityP3 Severity = "P3"
	SeverityP4 Severity = "P4"
)

var severityRank = map[Severity]int{
	SeverityP0: 0,
	SeverityP1: 1,
	SeverityP2: 2,
	SeverityP3: 3,
	SeverityP4: 4,
}

// MoreSevereThan reports whether s is strictly more severe than other
// (lower rank = more severe).
func (s Severity) MoreSevereThan(other Severity) bool {
	sr, sok := severityRank[s]
	or, ook := severityRank[other]
	if !sok || !ook {
		return false
	}
	return sr < or
}

// Valid reports whether s is one of the recognized severity tiers.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// State is an incident lifecycle state.
type State string

const (
	StateDetected     State = "Detected"
	StateTriaged      State = "Triaged"
	StateInvestigating State = "Investigating"
	StateRemediating  State = "Remediating"
	StateResolved     State = "Resolved"
	StateClosed       State = "Closed"
)

// terminalStates lists the lifecycle states that admit no further
// transition. Only Closed is terminal; no transition or operation moves an
// incident out of Closed, so a Closed incident cannot be reopened.
var terminalStates = map[State]bool{
	StateClosed: true,
}

// Terminal reports whether s is a terminal lifecycle state.
func (s State) Terminal() bool {
	return terminalStates[s]
}

// Alert is an inbound, ephemeral signal consumed by the processor.
type Alert struct {
	ID                string            `json:"id" validate:"required"`
	Source            string            `json:"source" validate:"required"`
	ReceivedAt        time.Time         `json:"received_at"`
	Severity          Severity          `json:"severity" validate:"required"`
	Category          string            `json:"category"`
	Title             string            `json:"title" validate:"required"`
	Description       string            `json:"description"`
	Labels            map[string]string `json:"labels"`
	AffectedResources []string          `json:"affected_resources"`
	RunbookURL        string            `json:"runbook_url"`
	ParentAlertID     string            `json:"parent_alert_id"`
}

// TimelineEvent is an append-only record of something that happened to an
// incident.
type TimelineEvent struct {
	Timestamp   time.Time              `json:"timestamp"`
	Type        string                 `json:"type"`
	Actor       string                 `json:"actor"`
	Description string                 `json:"description"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

const (
	TimelineCreated       = "Created"
	TimelineDuplicateAlert = "DuplicateAlert"
	TimelineStateChanged  = "StateChanged"
	TimelineAcknowledged  = "Acknowledged"
	TimelineCommentAdded  = "CommentAdded"
	TimelineRoutingApplied = "RoutingApplied"
	TimelineResolved      = "Resolved"
	TimelineClosed        = "Closed"
	TimelineReopened      = "Reopened"
)

// LabelSuppressedUntil is the incident label a routing Suppress{minutes}
// action sets; IsSuppressed reads it back.
const LabelSuppressedUntil = "suppressed_until"

// Resolution records how an incident was closed out.
type Resolution struct {
	Summary    string    `json:"summary"`
	ResolvedAt time.Time `json:"resolved_at"`
	ResolvedBy string    `json:"resolved_by"`
}

// FingerprintConfig controls how Fingerprint treats optional incident
// attributes.
type FingerprintConfig struct {
	// IncludeLabels, when true, folds sorted label key=value pairs into the
	// fingerprint input. Defaults to false: two alerts differing only by
	// label content are considered the same incident.
	IncludeLabels bool
}

// Incident is the durable record of a detected problem.
type Incident struct {
	ID                  string            `json:"id"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
	State               State             `json:"state"`
	Severity            Severity          `json:"severity"`
	Category            string            `json:"category"`
	Source              string            `json:"source"`
	Title               string            `json:"title"`
	Description         string            `json:"description"`
	AffectedResources   []string          `json:"affected_resources"`
	Labels              map[string]string `json:"labels"`
	RelatedIncidentIDs  []string          `json:"related_incident_ids,omitempty"`
	ActivePlaybook      string            `json:"active_playbook,omitempty"`
	Resolution          *Resolution       `json:"resolution,omitempty"`
	Timeline            []TimelineEvent   `json:"timeline"`
	Assignees           []string          `json:"assignees"`
	Fingerprint         string            `json:"fingerprint"`
	CorrelationScore    *float64          `json:"correlation_score,omitempty"`
}

// Clone returns a deep copy of the incident so stores can hand out values
// without leaking internal references.
func (i *Incident) Clone() *Incident {
	if i == nil {
		return nil
	}
	out := *i
	out.AffectedResources = append([]string(nil), i.AffectedResources...)
	out.RelatedIncidentIDs = append([]string(nil), i.RelatedIncidentIDs...)
	out.Assignees = append([]string(nil), i.Assignees...)
	out.Timeline = make([]TimelineEvent, len(i.Timeline))
	for idx, ev := range i.Timeline {
		clonedEv := ev
		if ev.Metadata != nil {
			clonedEv.Metadata = make(map[string]interface{}, len(ev.Metadata))
			for k, v := range ev.Metadata {
				clonedEv.Metadata[k] = v
			}
		}
		out.Timeline[idx] = clonedEv
	}
	if i.Labels != nil {
		out.Labels = make(map[string]string, len(i.Labels))
		for k, v := range i.Labels {
			out.Labels[k] = v
		}
	}
	if i.Resolution != nil {
		r := *i.Resolution
		out.Resolution = &r
	}
	if i.CorrelationScore != nil {
		cs := *i.CorrelationScore
		out.CorrelationScore = &cs
	}
	return &out
}

// AppendTimeline appends an event and bumps UpdatedAt.
func (i *Incident) AppendTimeline(ev TimelineEvent) {
	i.Timeline = append(i.Timeline, ev)
	i.UpdatedAt = ev.Timestamp
}

// IsSuppressed reports whether a routing Suppress{minutes} action's window
// is still open, per the suppressed_until label. A missing or malformed
// label means not suppressed.
func (i *Incident) IsSuppressed(now time.Time) bool {
	raw, ok := i.Labels[LabelSuppressedUntil]
	if !ok {
		return false
	}
	until, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return false
	}
	return now.Before(until)
}
