// Package agent defines the agent roster model: definitions, schedules,
// configuration values, run results, and the registry that holds runtime state.
package agent

import (
	"context"
	"fmt"
)

// Capability identifies the kind of work an agent performs.
type Capability string

const (
	CapabilityTriage     Capability = "triage"
	CapabilityVIPMonitor Capability = "vip-monitor"
	CapabilityBriefing   Capability = "briefing"
	CapabilityCleanup    Capability = "cleanup"
	CapabilityInboxZero  Capability = "inbox-zero"
	CapabilityDigest     Capability = "digest"
	CapabilityVoice      Capability = "voice"
	CapabilityDirector   Capability = "director"
)

// Definition is the static identity of an agent: created at process start,
// never deleted while the process runs. Mutable runtime state (enabled,
// schedule, last run) lives in the Registry.
type Definition struct {
	ID          string
	DisplayName string
	Capability  Capability
	Schedule    Schedule // default schedule; may be superseded by persisted state
	Defaults    Values   // config version 1 values
}

// Proposer identifies who submitted a config-change proposal.
type Proposer string

const (
	ProposerAgentSelf Proposer = "agent-self"
	ProposerDirector  Proposer = "director-agent"
	ProposerHuman     Proposer = "human"
)

// Proposal is a requested change to a single config field. It is pure data:
// submitting one has no effect until the guardrail engine evaluates it.
type Proposal struct {
	AgentID    string   `json:"agent_id"`
	Field      string   `json:"field"`
	NewValue   any      `json:"new_value"`
	Reason     string   `json:"reason"`
	ProposedBy Proposer `json:"proposed_by"`
}

// Outcome is what a task body reports back to the executor.
type Outcome struct {
	EmailsProcessed int
	ActionsTaken    []string
	Data            map[string]any
	Proposal        *Proposal // optional self-tuning proposal
}

// Task is one agent's pluggable body: given the current config values it does
// the agent's work against the external collaborators and reports an Outcome.
// A non-nil error marks the run failed; the outcome is still recorded.
type Task interface {
	Run(ctx context.Context, cfg Values) (Outcome, error)
}

// TaskFunc adapts a function to the Task interface.
type TaskFunc func(ctx context.Context, cfg Values) (Outcome, error)

func (f TaskFunc) Run(ctx context.Context, cfg Values) (Outcome, error) {
	return f(ctx, cfg)
}

// ValidateID checks that an agent ID conforms to the allowed format:
// 1-64 characters, lowercase alphanumeric and hyphens, starting with a letter.
func ValidateID(id string) error {
	if len(id) == 0 {
		return fmt.Errorf("agent id is required")
	}
	if len(id) > 64 {
		return fmt.Errorf("agent id must be at most 64 characters")
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if i == 0 {
			if c < 'a' || c > 'z' {
				return fmt.Errorf("agent id must start with a lowercase letter, got %q", c)
			}
			continue
		}
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '-' {
			return fmt.Errorf("agent id contains invalid character at position %d: %q", i, c)
		}
	}
	return nil
}
