// Package guardrail validates config-change proposals before they are
// committed. Evaluation is pure: it inspects the target agent, its current
// values, and the proposal, and never touches storage.
package guardrail

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hermod-ai/hermod/internal/agent"
)

// Verdict is the outcome of evaluating one proposal.
type Verdict struct {
	Approved bool
	Reason   string
}

func approve() Verdict { return Verdict{Approved: true} }

func reject(format string, args ...any) Verdict {
	return Verdict{Approved: false, Reason: fmt.Sprintf(format, args...)}
}

// ScheduleField is the reserved field name for schedule changes. It is not
// part of an agent's config values but is always a valid proposal target.
const ScheduleField = "schedule"

// MinIntervalMinutes is the floor for interval schedules. Anything tighter
// would hammer the mailbox for no benefit.
const MinIntervalMinutes = 5

type numericRule struct {
	min, max float64
	// monotonicUp means the value may only increase relative to the current
	// one. Used for confidence thresholds so agents cannot loosen their own
	// certainty bar.
	monotonicUp bool
}

var numericRules = map[string]numericRule{
	"max_emails":             {min: 5, max: 200},
	"batch_size":             {min: 1, max: 50},
	"hours_back":             {min: 1, max: 168},
	"min_confidence":         {min: 0.5, max: 1.0, monotonicUp: true},
	"alert_on_count":         {min: 1, max: 100},
	"archive_threshold_days": {min: 0, max: 365},
}

var enumRules = map[string][]string{
	"priority_default": {"high", "medium", "low"},
}

// Evaluate checks one proposal against the guardrail rules. def is the
// target agent's definition, current its active config values.
func Evaluate(def agent.Definition, current agent.Values, p agent.Proposal) Verdict {
	if def.Capability == agent.CapabilityDirector {
		return reject("director configuration is immutable")
	}
	if p.Field == "" {
		return reject("proposal has no field")
	}

	if v := checkProposer(p); !v.Approved {
		return v
	}

	if p.Field == ScheduleField {
		return checkSchedule(p.NewValue)
	}

	if _, declared := current[p.Field]; !declared {
		return reject("unknown field %q for agent %s", p.Field, def.ID)
	}

	if rule, ok := numericRules[p.Field]; ok {
		return checkNumeric(rule, current, p)
	}
	if allowed, ok := enumRules[p.Field]; ok {
		return checkEnum(allowed, p)
	}

	// Declared but unguarded fields (string lists like vip_addresses) are
	// only changeable by a human.
	if p.ProposedBy != agent.ProposerHuman {
		return reject("field %q may only be changed by a human", p.Field)
	}
	return approve()
}

func checkProposer(p agent.Proposal) Verdict {
	switch p.ProposedBy {
	case agent.ProposerHuman:
		return approve()
	case agent.ProposerAgentSelf:
		// Agents may only tune their own numeric thresholds.
		if p.Field == ScheduleField {
			return reject("agents may not change their own schedule")
		}
		if _, ok := numericRules[p.Field]; !ok {
			return reject("agents may only adjust numeric thresholds, not %q", p.Field)
		}
		return approve()
	case agent.ProposerDirector:
		// The director coordinates cadence across the roster.
		if p.Field != ScheduleField {
			return reject("director may only change schedules, not %q", p.Field)
		}
		return approve()
	default:
		return reject("unknown proposer %q", p.ProposedBy)
	}
}

func checkSchedule(v any) Verdict {
	s, err := agent.ScheduleFromValue(v)
	if err != nil {
		return reject("invalid schedule: %v", err)
	}
	if s.Kind == agent.ScheduleInterval && s.Minutes < MinIntervalMinutes {
		return reject("interval must be at least %d minutes, got %d", MinIntervalMinutes, s.Minutes)
	}
	return approve()
}

func checkNumeric(rule numericRule, current agent.Values, p agent.Proposal) Verdict {
	val, ok := asFloat(p.NewValue)
	if !ok {
		return reject("%s must be a number, got %T", p.Field, p.NewValue)
	}
	if val < rule.min || val > rule.max {
		return reject("%s must be between %g and %g, got %g", p.Field, rule.min, rule.max, val)
	}
	if rule.monotonicUp {
		if cur, ok := asFloat(current[p.Field]); ok && val < cur {
			return reject("%s may only increase (current %g, proposed %g)", p.Field, cur, val)
		}
	}
	return approve()
}

func checkEnum(allowed []string, p agent.Proposal) Verdict {
	s, ok := p.NewValue.(string)
	if !ok {
		return reject("%s must be a string, got %T", p.Field, p.NewValue)
	}
	for _, a := range allowed {
		if s == a {
			return approve()
		}
	}
	return reject("%s must be one of %s, got %q", p.Field, strings.Join(allowed, ", "), s)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
