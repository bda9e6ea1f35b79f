package guardrail

import (
	"strings"
	"testing"

	"github.com/hermod-ai/hermod/internal/agent"
)

func triageDef() agent.Definition {
	return agent.Definition{
		ID:         "triage",
		Capability: agent.CapabilityTriage,
		Schedule:   agent.EveryMinutes(30),
	}
}

func triageValues() agent.Values {
	return agent.Values{
		"max_emails":       float64(25),
		"batch_size":       float64(10),
		"min_confidence":   0.7,
		"priority_default": "medium",
		"vip_addresses":    []any{"ceo@example.com"},
	}
}

func TestEvaluateNumericBounds(t *testing.T) {
	tests := []struct {
		name     string
		field    string
		value    any
		approved bool
	}{
		{"max_emails in range", "max_emails", 50, true},
		{"max_emails at floor", "max_emails", 5, true},
		{"max_emails at ceiling", "max_emails", 200, true},
		{"max_emails below floor", "max_emails", 4, false},
		{"max_emails above ceiling", "max_emails", 500, false},
		{"batch_size in range", "batch_size", 20, true},
		{"batch_size zero", "batch_size", 0, false},
		{"float from json decode", "max_emails", float64(50), true},
		{"non-numeric value", "max_emails", "fifty", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Evaluate(triageDef(), triageValues(), agent.Proposal{
				AgentID:    "triage",
				Field:      tt.field,
				NewValue:   tt.value,
				ProposedBy: agent.ProposerAgentSelf,
			})
			if v.Approved != tt.approved {
				t.Errorf("approved = %v, want %v (reason: %s)", v.Approved, tt.approved, v.Reason)
			}
			if !v.Approved && v.Reason == "" {
				t.Error("rejection without reason")
			}
		})
	}
}

func TestEvaluateConfidenceOnlyIncreases(t *testing.T) {
	cur := triageValues() // min_confidence 0.7

	up := Evaluate(triageDef(), cur, agent.Proposal{
		AgentID: "triage", Field: "min_confidence", NewValue: 0.8,
		ProposedBy: agent.ProposerAgentSelf,
	})
	if !up.Approved {
		t.Errorf("raising confidence rejected: %s", up.Reason)
	}

	down := Evaluate(triageDef(), cur, agent.Proposal{
		AgentID: "triage", Field: "min_confidence", NewValue: 0.6,
		ProposedBy: agent.ProposerAgentSelf,
	})
	if down.Approved {
		t.Error("lowering confidence approved")
	}
	if !strings.Contains(down.Reason, "only increase") {
		t.Errorf("reason = %q", down.Reason)
	}

	outOfRange := Evaluate(triageDef(), cur, agent.Proposal{
		AgentID: "triage", Field: "min_confidence", NewValue: 0.4,
		ProposedBy: agent.ProposerHuman,
	})
	if outOfRange.Approved {
		t.Error("confidence below 0.5 approved")
	}
}

func TestEvaluateEnumField(t *testing.T) {
	for _, val := range []string{"high", "medium", "low"} {
		v := Evaluate(triageDef(), triageValues(), agent.Proposal{
			AgentID: "triage", Field: "priority_default", NewValue: val,
			ProposedBy: agent.ProposerHuman,
		})
		if !v.Approved {
			t.Errorf("%q rejected: %s", val, v.Reason)
		}
	}
	v := Evaluate(triageDef(), triageValues(), agent.Proposal{
		AgentID: "triage", Field: "priority_default", NewValue: "urgent",
		ProposedBy: agent.ProposerHuman,
	})
	if v.Approved {
		t.Error("invalid enum value approved")
	}
}

func TestEvaluateUnknownFieldRejected(t *testing.T) {
	v := Evaluate(triageDef(), triageValues(), agent.Proposal{
		AgentID: "triage", Field: "turbo_mode", NewValue: true,
		ProposedBy: agent.ProposerHuman,
	})
	if v.Approved {
		t.Error("unknown field approved")
	}
}

func TestEvaluateDirectorImmutable(t *testing.T) {
	def := agent.Definition{ID: "director", Capability: agent.CapabilityDirector}
	for _, by := range []agent.Proposer{agent.ProposerAgentSelf, agent.ProposerDirector, agent.ProposerHuman} {
		v := Evaluate(def, agent.Values{"review_every": float64(10)}, agent.Proposal{
			AgentID: "director", Field: "review_every", NewValue: 5, ProposedBy: by,
		})
		if v.Approved {
			t.Errorf("director change by %s approved", by)
		}
	}
}

func TestEvaluateProposerAuthorization(t *testing.T) {
	sched := map[string]any{"kind": "interval", "minutes": float64(45)}
	tests := []struct {
		name     string
		field    string
		value    any
		by       agent.Proposer
		approved bool
	}{
		{"self tunes threshold", "max_emails", 30, agent.ProposerAgentSelf, true},
		{"self changes schedule", ScheduleField, sched, agent.ProposerAgentSelf, false},
		{"self changes enum", "priority_default", "low", agent.ProposerAgentSelf, false},
		{"director changes schedule", ScheduleField, sched, agent.ProposerDirector, true},
		{"director tunes threshold", "max_emails", 30, agent.ProposerDirector, false},
		{"human changes schedule", ScheduleField, sched, agent.ProposerHuman, true},
		{"human changes list field", "vip_addresses", []any{"a@b.com"}, agent.ProposerHuman, true},
		{"self changes list field", "vip_addresses", []any{"a@b.com"}, agent.ProposerAgentSelf, false},
		{"unknown proposer", "max_emails", 30, agent.Proposer("cron-job"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Evaluate(triageDef(), triageValues(), agent.Proposal{
				AgentID: "triage", Field: tt.field, NewValue: tt.value, ProposedBy: tt.by,
			})
			if v.Approved != tt.approved {
				t.Errorf("approved = %v, want %v (reason: %s)", v.Approved, tt.approved, v.Reason)
			}
		})
	}
}

func TestEvaluateScheduleRules(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		approved bool
	}{
		{"interval above floor", map[string]any{"kind": "interval", "minutes": float64(15)}, true},
		{"interval at floor", map[string]any{"kind": "interval", "minutes": float64(5)}, true},
		{"interval below floor", map[string]any{"kind": "interval", "minutes": float64(1)}, false},
		{"cron", map[string]any{"kind": "cron", "hour": float64(7), "minute": float64(30)}, true},
		{"cron bad hour", map[string]any{"kind": "cron", "hour": float64(25)}, false},
		{"manual", map[string]any{"kind": "manual"}, true},
		{"garbage", "every day at noon", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Evaluate(triageDef(), triageValues(), agent.Proposal{
				AgentID: "triage", Field: ScheduleField, NewValue: tt.value,
				ProposedBy: agent.ProposerHuman,
			})
			if v.Approved != tt.approved {
				t.Errorf("approved = %v, want %v (reason: %s)", v.Approved, tt.approved, v.Reason)
			}
		})
	}
}
