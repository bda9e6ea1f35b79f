package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ExecutionRecord is the append-only audit entry for one agent run.
// Immutable once written; no delete API exists.
type ExecutionRecord struct {
	ID              int64     `json:"id"`
	AgentID         string    `json:"agent_id"`
	Timestamp       time.Time `json:"timestamp"`
	ConfigVersion   int       `json:"config_version"`
	Success         bool      `json:"success"`
	Error           string    `json:"error,omitempty"`
	EmailsProcessed int       `json:"emails_processed"`
	ExecutionTimeMS int64     `json:"execution_time_ms"`
	ActionsTaken    []string  `json:"actions_taken"`
}

// ConfigVersion is one immutable snapshot of an agent's parameters.
// Versions are strictly increasing and gapless per agent, starting at 1;
// the highest version is current, earlier versions are retained for audit.
type ConfigVersion struct {
	AgentID   string         `json:"agent_id"`
	Version   int            `json:"version"`
	Values    map[string]any `json:"values"`
	CreatedAt time.Time      `json:"created_at"`
}

// ConfigAudit records one config-change attempt, approved or rejected.
// For rejections VersionAfter equals VersionBefore. Append-only.
type ConfigAudit struct {
	ID              int64     `json:"id"`
	AgentID         string    `json:"agent_id"`
	Timestamp       time.Time `json:"timestamp"`
	VersionBefore   int       `json:"version_before"`
	VersionAfter    int       `json:"version_after"`
	FieldChanged    string    `json:"field_changed"`
	OldValue        any       `json:"old_value"`
	NewValue        any       `json:"new_value"`
	ProposedBy      string    `json:"proposed_by"`
	Reason          string    `json:"reason"`
	Approved        bool      `json:"approved"`
	RejectionReason string    `json:"rejection_reason,omitempty"`
}

// Feedback types.
const (
	FeedbackThumbsUp   = "thumbs_up"
	FeedbackThumbsDown = "thumbs_down"
)

// Feedback is a human (or director) annotation on one execution. Additive:
// multiple rows may reference the same execution. Append-only.
type Feedback struct {
	ID          string    `json:"id"`
	AgentID     string    `json:"agent_id"`
	ExecutionID int64     `json:"execution_id"`
	Type        string    `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	Processed   bool      `json:"processed"`
}

// AgentState is the persisted slice of an agent's runtime state, reloaded at
// startup so restarts neither re-fire missed intervals nor reset schedules.
type AgentState struct {
	AgentID         string
	Enabled         bool
	ScheduleJSON    string
	LastRunAt       *time.Time
	LastSuccess     *bool
	LastExecutionMS int64
	UpdatedAt       time.Time
}

// DailyMetrics is the per-agent per-day aggregate row.
type DailyMetrics struct {
	AgentID          string  `json:"agent_id"`
	Date             string  `json:"date"`
	TotalExecutions  int     `json:"total_executions"`
	Successful       int     `json:"successful"`
	Failed           int     `json:"failed"`
	AvgTimeMS        float64 `json:"avg_time_ms"`
	EmailsProcessed  int     `json:"emails_processed"`
	PositiveFeedback int     `json:"positive_feedback"`
	NegativeFeedback int     `json:"negative_feedback"`
}
