// Package routing evaluates priority-ordered conditional rules against an
// incident's field projection and applies the resulting actions.
//
// Field lookups go through PaesslerAG/jsonpath over a projection document
// built from the incident; the Matches operator delegates its regex test to
// PaesslerAG/gval's text extension so routing rules can express patterns
// without a bespoke evaluator.
package routing

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/PaesslerAG/gval"
	"github.com/PaesslerAG/jsonpath"

	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/domain"
	"github.com/LLM-Dev-Ops/incident-manager-sub003/pkg/cache"
	"github.com/LLM-Dev-Ops/incident-manager-sub003/pkg/logger"
)

// Evaluator matches routing rules against incidents and applies their
// actions.
type Evaluator struct {
	log *logger.Logger

	// matchCache holds one compiled gval.Evaluable per distinct Matches
	// regex pattern, so a rule set with heavy Matches usage pays the
	// expression-parse/regex-compile cost once per pattern per cache TTL
	// (the cache's default, five minutes) rather than once per incident
	// evaluated against it.
	matchCache *cache.Cache
}

// NewEvaluator creates an Evaluator that logs regex compile failures
// encountered while matching Matches conditions.
func NewEvaluator(log *logger.Logger) *Evaluator {
	return &Evaluator{log: log, matchCache: cache.New(cache.DefaultConfig())}
}

// Close stops the Evaluator's compiled-pattern cache cleanup loop.
func (e *Evaluator) Close() {
	if e.matchCache != nil {
		e.matchCache.Stop()
	}
}

// Outcome is the accumulated effect of every matched rule's actions.
type Outcome struct {
	AssigneesAdded      []string
	LabelsSet           map[string]string
	SeverityOverride    domain.Severity
	HasSeverityOverride bool
	PlaybooksToRun      []string
	SuppressForMinutes  int
	HasSuppress         bool
}

// Evaluate returns the enabled rules whose conditions all hold against
// incident, sorted by priority descending then id ascending.
func (e *Evaluator) Evaluate(incident *domain.Incident, rules []domain.RoutingRule) []domain.RoutingRule {
	sorted := make([]domain.RoutingRule, len(rules))
	copy(sorted, rules)
	sort.Slice(sorted, func(a, b int) bool {
		if sorted[a].Priority != sorted[b].Priority {
			return sorted[a].Priority > sorted[b].Priority
		}
		return sorted[a].ID < sorted[b].ID
	})

	var matched []domain.RoutingRule
	for _, r := range sorted {
		if !r.Enabled {
			continue
		}
		if e.allConditionsMatch(incident, r.Conditions) {
			matched = append(matched, r)
		}
	}
	return matched
}

// Apply folds the actions of matched (already priority-ordered, highest
// first) into a single Outcome. Severity only escalates; labels and
// assignees accumulate across rules; suppression and playbooks are
// collected for the caller to act on.
func (e *Evaluator) Apply(incident *domain.Incident, matched []domain.RoutingRule) Outcome {
	outcome := Outcome{LabelsSet: map[string]string{}}
	assignees := map[string]struct{}{}
	for _, a := range incident.Assignees {
		assignees[a] = struct{}{}
	}
	currentSeverity := incident.Severity

	for _, r := range matched {
		for _, a := range r.Actions {
			switch a.Kind {
			case domain.ActionSetAssignee:
				assignees[a.Value] = struct{}{}
			case domain.ActionAddLabel:
				k, v := splitKV(a.Value)
				if k != "" {
					outcome.LabelsSet[k] = v
				}
			case domain.ActionOverrideSeverity:
				newSev := domain.Severity(a.Value)
				if newSev.MoreSevereThan(currentSeverity) {
					currentSeverity = newSev
					outcome.SeverityOverride = newSev
					outcome.HasSeverityOverride = true
				}
			case domain.ActionTriggerPlaybook:
				outcome.PlaybooksToRun = append(outcome.PlaybooksToRun, a.Value)
			case domain.ActionSuppress:
				if minutes, err := strconv.Atoi(a.Value); err == nil {
					outcome.SuppressForMinutes = minutes
					outcome.HasSuppress = true
				}
			}
		}
	}

	for _, original := range incident.Assignees {
		delete(assignees, original) // only report newly added assignees
	}
	for a := range assignees {
		outcome.AssigneesAdded = append(outcome.AssigneesAdded, a)
	}
	sort.Strings(outcome.AssigneesAdded)
	return outcome
}

func splitKV(s string) (string, string) {
	idx := strings.IndexByte(s, '=')
	if idx < 0 {
		return s, ""
	}
	return s[:idx], s[idx+1:]
}

// Matches reports whether every condition in conds holds against incident.
// Exported so collaborators that reuse the Condition shape outside of
// routing rules (escalation policy match predicates) can evaluate against
// the same field-projection logic.
func (e *Evaluator) Matches(incident *domain.Incident, conds []domain.Condition) bool {
	return e.allConditionsMatch(incident, conds)
}

func (e *Evaluator) allConditionsMatch(i *domain.Incident, conds []domain.Condition) bool {
	for _, c := range conds {
		if !e.evaluateCondition(i, c) {
			return false
		}
	}
	return true
}

func (e *Evaluator) evaluateCondition(i *domain.Incident, c domain.Condition) bool {
	val, isNull := projectField(i, c.Field)

	switch c.Operator {
	case domain.OpEquals:
		if isNull {
			return false
		}
		return looseEqual(val, c.Value)
	case domain.OpNotEquals:
		if isNull {
			return c.Value != nil
		}
		return !looseEqual(val, c.Value)
	case domain.OpContains:
		if isNull {
			return false
		}
		return containsOp(val, c.Value)
	case domain.OpNotContains:
		if isNull {
			return false
		}
		return !containsOp(val, c.Value)
	case domain.OpGreaterThan:
		if isNull {
			return false
		}
		l, lok := toFloat(val)
		r, rok := toFloat(c.Value)
		return lok && rok && l > r
	case domain.OpLessThan:
		if isNull {
			return false
		}
		l, lok := toFloat(val)
		r, rok := toFloat(c.Value)
		return lok && rok && l < r
	case domain.OpIn:
		if isNull {
			return false
		}
		return inOp(val, c.Value)
	case domain.OpNotIn:
		if isNull {
			return true
		}
		return !inOp(val, c.Value)
	case domain.OpMatches:
		if isNull {
			return false
		}
		return e.matchesOp(val, c.Value)
	default:
		return false
	}
}

// projectField resolves field (a dotted path such as "labels.env") against
// incident's projection document. The second return is true when the field
// is absent (the spec's typed Null).
func projectField(i *domain.Incident, field string) (interface{}, bool) {
	doc := projectionDoc(i)
	v, err := jsonpath.Get("$."+field, doc)
	if err != nil {
		return nil, true
	}
	return v, false
}

func projectionDoc(i *domain.Incident) map[string]interface{} {
	labels := make(map[string]interface{}, len(i.Labels))
	for k, v := range i.Labels {
		labels[k] = v
	}
	assignees := make([]interface{}, len(i.Assignees))
	for idx, a := range i.Assignees {
		assignees[idx] = a
	}

	doc := map[string]interface{}{
		"id":            i.ID,
		"source":        i.Source,
		"title":         i.Title,
		"description":   i.Description,
		"severity":      string(i.Severity),
		"state":         string(i.State),
		"incident_type": i.Category,
		"assignees":     assignees,
		"labels":        labels,
	}
	if i.CorrelationScore != nil {
		doc["priority_score"] = *i.CorrelationScore
	}
	return doc
}

func containsOp(val, needle interface{}) bool {
	switch v := val.(type) {
	case string:
		s, ok := needle.(string)
		return ok && strings.Contains(v, s)
	case []interface{}:
		for _, item := range v {
			if looseEqual(item, needle) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func inOp(val, set interface{}) bool {
	arr, ok := set.([]interface{})
	if !ok {
		return false
	}
	for _, item := range arr {
		if looseEqual(val, item) {
			return true
		}
	}
	return false
}

func looseEqual(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// matchesOp evaluates an anchored-as-written regex via gval's text
// extension. Compile/evaluation failures are logged and treated as a
// non-match rather than failing the whole rule set.
func (e *Evaluator) matchesOp(val, pattern interface{}) bool {
	str, ok := val.(string)
	if !ok {
		return false
	}
	pat, ok := pattern.(string)
	if !ok {
		return false
	}

	eval, err := e.compiledMatcher(pat)
	if err != nil {
		if e.log != nil {
			e.log.Warnf("routing: regex pattern %q failed to compile: %v", pat, err)
		}
		return false
	}

	result, err := eval(context.Background(), map[string]interface{}{"value": str})
	if err != nil {
		if e.log != nil {
			e.log.Warnf("routing: regex match failed for pattern %q: %v", pat, err)
		}
		return false
	}
	matched, _ := result.(bool)
	return matched
}

// compiledMatcher returns the cached gval.Evaluable for pattern's
// "value =~ pattern" expression, compiling and caching it on first use.
func (e *Evaluator) compiledMatcher(pat string) (gval.Evaluable, error) {
	key := "matches:" + pat
	if e.matchCache != nil {
		if cached, ok := e.matchCache.Get(key); ok {
			return cached.(gval.Evaluable), nil
		}
	}

	eval, err := gval.Full().NewEvaluable(fmt.Sprintf("value =~ %s", strconv.Quote(pat)))
	if err != nil {
		return nil, err
	}
	if e.matchCache != nil {
		e.matchCache.Set(key, eval, 0)
	}
	return eval, nil
}
