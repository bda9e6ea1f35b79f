package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hermod-ai/hermod/internal/agent"
	"github.com/hermod-ai/hermod/internal/learning"
	"github.com/hermod-ai/hermod/internal/storage"
)

var (
	ErrUnknownAgent  = errors.New("unknown agent")
	ErrAgentRunning  = errors.New("agent execution already in progress")
	ErrAgentDisabled = errors.New("agent is disabled")
)

// Executor runs one agent end to end: it loads the current config, runs the
// task body under a timeout, and always records exactly one execution. The
// in-flight set enforces at most one concurrent execution per agent, shared
// between the tick loop and manual triggers.
type Executor struct {
	registry *agent.Registry
	store    *storage.Store
	learning *learning.Manager
	timeout  time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	inflight map[string]bool
}

func NewExecutor(registry *agent.Registry, store *storage.Store, lm *learning.Manager, timeout time.Duration, logger *slog.Logger) *Executor {
	return &Executor{
		registry: registry,
		store:    store,
		learning: lm,
		timeout:  timeout,
		logger:   logger,
		inflight: make(map[string]bool),
	}
}

func (e *Executor) acquire(agentID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inflight[agentID] {
		return false
	}
	e.inflight[agentID] = true
	return true
}

func (e *Executor) release(agentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, agentID)
}

// Running reports whether an agent has an execution in progress.
func (e *Executor) Running(agentID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inflight[agentID]
}

// Execute runs one agent now. A failing task is not an error here: the
// failure is captured in the returned record. The error return covers
// conditions where no run happened at all (unknown, disabled, already
// running) or the record could not be persisted.
func (e *Executor) Execute(ctx context.Context, agentID string) (storage.ExecutionRecord, error) {
	task, ok := e.registry.Task(agentID)
	if !ok {
		return storage.ExecutionRecord{}, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	state, _ := e.registry.StateOf(agentID)
	if !state.Enabled {
		return storage.ExecutionRecord{}, fmt.Errorf("%w: %s", ErrAgentDisabled, agentID)
	}
	if !e.acquire(agentID) {
		return storage.ExecutionRecord{}, fmt.Errorf("%w: %s", ErrAgentRunning, agentID)
	}
	defer e.release(agentID)

	cfg, err := e.store.CurrentConfig(agentID)
	if err != nil {
		return storage.ExecutionRecord{}, fmt.Errorf("loading config for %s: %w", agentID, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	started := time.Now()
	outcome, runErr := e.runTask(runCtx, task, agent.Values(cfg.Values))
	elapsed := time.Since(started)

	rec := storage.ExecutionRecord{
		AgentID:         agentID,
		Timestamp:       started.UTC(),
		ConfigVersion:   cfg.Version,
		Success:         runErr == nil,
		EmailsProcessed: outcome.EmailsProcessed,
		ExecutionTimeMS: elapsed.Milliseconds(),
		ActionsTaken:    outcome.ActionsTaken,
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}

	id, err := e.learning.RecordExecution(rec)
	if err != nil {
		return storage.ExecutionRecord{}, fmt.Errorf("recording execution for %s: %w", agentID, err)
	}
	rec.ID = id
	e.registry.RecordRun(agentID, rec.Timestamp, rec.Success, rec.ExecutionTimeMS)

	if runErr != nil {
		e.logger.Warn("agent run failed",
			"agent", agentID, "execution_id", id, "duration_ms", rec.ExecutionTimeMS,
			"error", runErr)
	} else {
		e.logger.Info("agent run finished",
			"agent", agentID, "execution_id", id, "duration_ms", rec.ExecutionTimeMS,
			"emails", rec.EmailsProcessed, "actions", len(rec.ActionsTaken))
	}

	// Self-tuning proposals ride along on the outcome. A rejected or failed
	// proposal never fails the run.
	if outcome.Proposal != nil && runErr == nil {
		p := *outcome.Proposal
		p.AgentID = agentID
		p.ProposedBy = agent.ProposerAgentSelf
		if _, err := e.learning.Propose(ctx, p); err != nil {
			e.logger.Warn("outcome proposal failed", "agent", agentID, "field", p.Field, "error", err)
		}
	}

	return rec, nil
}

// runTask invokes the task body, converting panics into run failures so a
// broken agent cannot take the scheduler down.
func (e *Executor) runTask(ctx context.Context, task agent.Task, cfg agent.Values) (outcome agent.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent panicked: %v", r)
		}
	}()
	return task.Run(ctx, cfg)
}
