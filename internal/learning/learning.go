// Package learning runs the self-modification loop: it serializes config
// proposals through the guardrail engine, records executions and feedback,
// and evolves agent parameters when enough feedback has accumulated.
package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hermod-ai/hermod/internal/agent"
	"github.com/hermod-ai/hermod/internal/ai"
	"github.com/hermod-ai/hermod/internal/guardrail"
	"github.com/hermod-ai/hermod/internal/storage"
)

// EvolveAfter is the number of unprocessed feedback entries that triggers
// an evolution pass for an agent.
const EvolveAfter = 5

// Manager owns the propose/validate/commit pipeline. Proposals for the same
// agent are serialized with a per-agent lock so config versions stay gapless.
type Manager struct {
	store     *storage.Store
	registry  *agent.Registry
	assistant ai.Assistant
	logger    *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(store *storage.Store, registry *agent.Registry, assistant ai.Assistant, logger *slog.Logger) *Manager {
	return &Manager{
		store:     store,
		registry:  registry,
		assistant: assistant,
		logger:    logger,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (m *Manager) agentLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// Propose runs one proposal through the guardrail engine and commits or
// rejects it. Every proposal leaves an audit entry; a rejection is a normal
// return with Approved false, not an error.
func (m *Manager) Propose(ctx context.Context, p agent.Proposal) (storage.ConfigAudit, error) {
	def, ok := m.registry.Get(p.AgentID)
	if !ok {
		return storage.ConfigAudit{}, fmt.Errorf("agent %s: %w", p.AgentID, storage.ErrNotFound)
	}

	lock := m.agentLock(p.AgentID)
	lock.Lock()
	defer lock.Unlock()

	cur, err := m.store.CurrentConfig(p.AgentID)
	if err != nil {
		return storage.ConfigAudit{}, fmt.Errorf("loading current config: %w", err)
	}

	audit := storage.ConfigAudit{
		AgentID:       p.AgentID,
		Timestamp:     time.Now().UTC(),
		VersionBefore: cur.Version,
		FieldChanged:  p.Field,
		NewValue:      p.NewValue,
		ProposedBy:    string(p.ProposedBy),
		Reason:        p.Reason,
	}

	verdict := guardrail.Evaluate(def, agent.Values(cur.Values), p)
	if !verdict.Approved {
		audit.RejectionReason = verdict.Reason
		if err := m.store.RecordRejection(audit); err != nil {
			return storage.ConfigAudit{}, fmt.Errorf("recording rejection: %w", err)
		}
		audit.Approved = false
		audit.VersionAfter = audit.VersionBefore
		m.logger.Info("proposal rejected",
			"agent", p.AgentID, "field", p.Field, "proposed_by", p.ProposedBy,
			"reason", verdict.Reason)
		return audit, nil
	}

	if p.Field == guardrail.ScheduleField {
		return m.commitSchedule(audit, p)
	}

	audit.OldValue = cur.Values[p.Field]
	next, err := m.store.ApplyChange(audit)
	if err != nil {
		return storage.ConfigAudit{}, fmt.Errorf("applying config change: %w", err)
	}
	audit.Approved = true
	audit.VersionAfter = next.Version
	m.logger.Info("config change applied",
		"agent", p.AgentID, "field", p.Field, "proposed_by", p.ProposedBy,
		"version", next.Version)
	return audit, nil
}

func (m *Manager) commitSchedule(audit storage.ConfigAudit, p agent.Proposal) (storage.ConfigAudit, error) {
	sched, err := agent.ScheduleFromValue(p.NewValue)
	if err != nil {
		// Unreachable after guardrail approval; kept as a hard check.
		return storage.ConfigAudit{}, fmt.Errorf("decoding approved schedule: %w", err)
	}
	if st, ok := m.registry.StateOf(p.AgentID); ok {
		audit.OldValue = st.Schedule
	}
	audit.NewValue = sched
	schedJSON, err := json.Marshal(sched)
	if err != nil {
		return storage.ConfigAudit{}, fmt.Errorf("encoding schedule: %w", err)
	}
	if err := m.store.ApplyScheduleChange(audit, string(schedJSON)); err != nil {
		return storage.ConfigAudit{}, fmt.Errorf("applying schedule change: %w", err)
	}
	m.registry.SetSchedule(p.AgentID, sched)
	audit.Approved = true
	audit.VersionAfter = audit.VersionBefore
	m.logger.Info("schedule changed",
		"agent", p.AgentID, "proposed_by", p.ProposedBy, "schedule", sched.String())
	return audit, nil
}

// RecordExecution persists one execution and folds it into the daily rollup.
// Returns the execution ID.
func (m *Manager) RecordExecution(rec storage.ExecutionRecord) (int64, error) {
	id, err := m.store.RecordExecution(rec)
	if err != nil {
		return 0, err
	}
	if err := m.store.RecordExecutionMetrics(rec.AgentID, rec.Timestamp, rec.Success, rec.ExecutionTimeMS, rec.EmailsProcessed); err != nil {
		m.logger.Warn("recording execution metrics failed", "agent", rec.AgentID, "error", err)
	}
	return id, nil
}

// RecordFeedback stores one feedback signal against an execution. The
// execution must exist; when agentID is non-empty it must match the
// execution's agent.
func (m *Manager) RecordFeedback(agentID string, executionID int64, feedbackType string) (storage.Feedback, error) {
	if feedbackType != storage.FeedbackThumbsUp && feedbackType != storage.FeedbackThumbsDown {
		return storage.Feedback{}, fmt.Errorf("invalid feedback type %q", feedbackType)
	}
	exec, err := m.store.GetExecution(executionID)
	if err != nil {
		return storage.Feedback{}, fmt.Errorf("execution %d: %w", executionID, err)
	}
	if agentID != "" && agentID != exec.AgentID {
		return storage.Feedback{}, fmt.Errorf("execution %d belongs to %s, not %s", executionID, exec.AgentID, agentID)
	}

	fb := storage.Feedback{
		ID:          uuid.NewString(),
		AgentID:     exec.AgentID,
		ExecutionID: executionID,
		Type:        feedbackType,
		Timestamp:   time.Now().UTC(),
	}
	if err := m.store.InsertFeedback(fb); err != nil {
		return storage.Feedback{}, err
	}
	if err := m.store.RecordFeedbackMetrics(exec.AgentID, fb.Timestamp, feedbackType == storage.FeedbackThumbsUp); err != nil {
		m.logger.Warn("recording feedback metrics failed", "agent", exec.AgentID, "error", err)
	}
	return fb, nil
}

// MaybeEvolve checks whether an agent has accumulated enough unprocessed
// feedback and, if so, asks the assistant whether a parameter should change.
// The feedback is marked processed either way; a resulting proposal goes
// through the normal guardrail pipeline as agent-self.
func (m *Manager) MaybeEvolve(ctx context.Context, agentID string) error {
	feedback, err := m.store.UnprocessedFeedback(agentID)
	if err != nil {
		return fmt.Errorf("loading feedback: %w", err)
	}
	if len(feedback) < EvolveAfter {
		return nil
	}

	cur, err := m.store.CurrentConfig(agentID)
	if err != nil {
		return fmt.Errorf("loading current config: %w", err)
	}

	positive, negative := 0, 0
	ids := make([]string, 0, len(feedback))
	for _, fb := range feedback {
		ids = append(ids, fb.ID)
		if fb.Type == storage.FeedbackThumbsUp {
			positive++
		} else {
			negative++
		}
	}

	req := ai.EvolutionRequest{
		AgentID:       agentID,
		CurrentValues: cur.Values,
		SuccessRate:   m.successRate(agentID),
		FeedbackSummary: fmt.Sprintf("%d positive, %d negative over %d recent runs",
			positive, negative, len(feedback)),
	}
	eval, err := m.assistant.EvaluateConfigChange(ctx, req)
	if err != nil {
		return fmt.Errorf("evaluating evolution for %s: %w", agentID, err)
	}

	if err := m.store.MarkFeedbackProcessed(ids); err != nil {
		return fmt.Errorf("marking feedback processed: %w", err)
	}

	if !eval.Propose {
		m.logger.Debug("evolution pass made no proposal", "agent", agentID)
		return nil
	}

	audit, err := m.Propose(ctx, agent.Proposal{
		AgentID:    agentID,
		Field:      eval.Field,
		NewValue:   eval.NewValue,
		Reason:     eval.Reasoning,
		ProposedBy: agent.ProposerAgentSelf,
	})
	if err != nil {
		return fmt.Errorf("submitting evolution proposal: %w", err)
	}
	m.logger.Info("evolution proposal evaluated",
		"agent", agentID, "field", eval.Field, "approved", audit.Approved)
	return nil
}

// successRate computes the fraction of successful runs over the last week,
// 1.0 when there is no data yet.
func (m *Manager) successRate(agentID string) float64 {
	rows, err := m.store.MetricsSince(agentID, 7)
	if err != nil {
		return 1.0
	}
	total, succeeded := 0, 0
	for _, r := range rows {
		total += r.TotalExecutions
		succeeded += r.Successful
	}
	if total == 0 {
		return 1.0
	}
	return float64(succeeded) / float64(total)
}
