// Package ai defines the language-model boundary. Agents depend on the
// Assistant interface; the concrete backend is wired at process start.
package ai

import (
	"context"

	"github.com/hermod-ai/hermod/internal/mail"
)

// Priority buckets used by triage.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Classification is the triage verdict for one email.
type Classification struct {
	EmailID    string   `json:"email_id"`
	Priority   Priority `json:"priority"`
	Confidence float64  `json:"confidence"`
	Reason     string   `json:"reason,omitempty"`
}

// InboxSummary is the briefing output.
type InboxSummary struct {
	Summary     string   `json:"summary"`
	ActionItems []string `json:"action_items,omitempty"`
	FYI         []string `json:"fyi,omitempty"`
}

// ReplyDraft is a suggested response to one email. NeedsReply false means
// the model judged no response necessary.
type ReplyDraft struct {
	NeedsReply bool   `json:"needs_reply"`
	Draft      string `json:"draft,omitempty"`
}

// EvolutionRequest carries the evidence the model weighs when deciding
// whether an agent should adjust one of its parameters.
type EvolutionRequest struct {
	AgentID         string         `json:"agent_id"`
	CurrentValues   map[string]any `json:"current_values"`
	SuccessRate     float64        `json:"success_rate"`
	FeedbackSummary string         `json:"feedback_summary"`
}

// ProposalEvaluation is the model's answer to an EvolutionRequest.
type ProposalEvaluation struct {
	Propose   bool   `json:"propose"`
	Field     string `json:"field,omitempty"`
	NewValue  any    `json:"new_value,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
}

// Assistant is the model-facing interface. All calls are synchronous and
// honor ctx cancellation.
type Assistant interface {
	Classify(ctx context.Context, emails []mail.EmailSummary) ([]Classification, error)
	Summarize(ctx context.Context, emails []mail.EmailSummary) (InboxSummary, error)
	DraftReply(ctx context.Context, email mail.EmailSummary) (ReplyDraft, error)
	EvaluateConfigChange(ctx context.Context, req EvolutionRequest) (ProposalEvaluation, error)
}
