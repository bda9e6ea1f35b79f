// Package scheduler drives the agent roster: a tick loop evaluates every
// agent's schedule and fires due ones through the executor, which enforces
// single-flight per agent and always records the run.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hermod-ai/hermod/internal/agent"
	"github.com/hermod-ai/hermod/internal/learning"
	"github.com/hermod-ai/hermod/internal/storage"
)

// Options tune the scheduler loop.
type Options struct {
	Tick          time.Duration // schedule evaluation period
	DirectorEvery int64         // fire the director after this many executions; 0 disables
	DirectorID    string
}

// Scheduler owns the tick loop. Schedule evaluation is cheap; actual runs
// happen in per-fire goroutines so one slow agent cannot starve the roster.
type Scheduler struct {
	registry *agent.Registry
	executor *Executor
	learning *learning.Manager
	store    *storage.Store
	logger   *slog.Logger
	opts     Options

	// now is swappable so tests can drive the clock.
	now func() time.Time

	mu       sync.Mutex
	lastSlot map[string]string

	running   atomic.Bool
	execCount atomic.Int64
	wg        sync.WaitGroup
}

func New(registry *agent.Registry, executor *Executor, lm *learning.Manager, store *storage.Store, opts Options, logger *slog.Logger) *Scheduler {
	if opts.Tick <= 0 {
		opts.Tick = 30 * time.Second
	}
	return &Scheduler{
		registry: registry,
		executor: executor,
		learning: lm,
		store:    store,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
		lastSlot: make(map[string]string),
	}
}

// Run blocks until ctx is cancelled, evaluating schedules every tick.
// Interval agents with no recorded last run are baselined to startup time,
// so a restart never fires the whole roster at once.
func (s *Scheduler) Run(ctx context.Context) error {
	start := s.now()
	for _, id := range s.registry.IDs() {
		s.registry.SetBaseline(id, start)
	}
	s.running.Store(true)
	defer s.running.Store(false)
	s.logger.Info("scheduler started", "tick", s.opts.Tick, "agents", len(s.registry.IDs()))

	ticker := time.NewTicker(s.opts.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick evaluates every agent against the current clock and fires due ones.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()
	for _, id := range s.registry.IDs() {
		st, ok := s.registry.StateOf(id)
		if !ok || !st.Enabled {
			continue
		}
		switch st.Schedule.Kind {
		case agent.ScheduleInterval:
			if st.Schedule.Due(now, st.LastRunAt) {
				s.fire(ctx, id)
			}
		case agent.ScheduleCron:
			if !st.Schedule.MatchesSlot(now) {
				continue
			}
			slot := st.Schedule.Slot(now)
			s.mu.Lock()
			fired := s.lastSlot[id] == slot
			if !fired {
				s.lastSlot[id] = slot
			}
			s.mu.Unlock()
			if !fired {
				s.fire(ctx, id)
			}
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, agentID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runOne(ctx, agentID)
	}()
}

func (s *Scheduler) runOne(ctx context.Context, agentID string) {
	if _, err := s.executor.Execute(ctx, agentID); err != nil {
		if errors.Is(err, ErrAgentRunning) {
			s.logger.Debug("skipping fire, agent still running", "agent", agentID)
		} else {
			s.logger.Error("scheduled run failed to start", "agent", agentID, "error", err)
		}
		return
	}
	s.afterRun(ctx, agentID)
}

// afterRun handles the bookkeeping that follows any completed execution:
// the evolution check, and the director's review cadence.
func (s *Scheduler) afterRun(ctx context.Context, agentID string) {
	if err := s.learning.MaybeEvolve(ctx, agentID); err != nil {
		s.logger.Warn("evolution check failed", "agent", agentID, "error", err)
	}
	if s.opts.DirectorEvery <= 0 || agentID == s.opts.DirectorID {
		return
	}
	n := s.execCount.Add(1)
	if n%s.opts.DirectorEvery == 0 {
		s.logger.Info("director review due", "executions", n)
		s.fire(ctx, s.opts.DirectorID)
	}
}

// Trigger runs an agent immediately, outside its schedule. The run still
// goes through the executor, so it conflicts with an in-progress execution
// and counts toward the director cadence.
func (s *Scheduler) Trigger(ctx context.Context, agentID string) (storage.ExecutionRecord, error) {
	rec, err := s.executor.Execute(ctx, agentID)
	if err != nil {
		return storage.ExecutionRecord{}, err
	}
	s.afterRun(ctx, agentID)
	return rec, nil
}

// JobStatus describes one agent's scheduling position.
type JobStatus struct {
	AgentID  string     `json:"agent_id"`
	Enabled  bool       `json:"enabled"`
	Schedule string     `json:"schedule"`
	Running  bool       `json:"running,omitempty"`
	NextFire *time.Time `json:"next_fire,omitempty"`
}

// Status is the scheduler snapshot exposed on the control surface.
type Status struct {
	Running         bool        `json:"running"`
	TickSeconds     int         `json:"tick_seconds"`
	TotalExecutions int         `json:"total_executions"`
	Jobs            []JobStatus `json:"jobs"`
}

func (s *Scheduler) Status() (Status, error) {
	total, err := s.store.CountExecutions()
	if err != nil {
		return Status{}, err
	}
	now := s.now()
	out := Status{
		Running:         s.running.Load(),
		TickSeconds:     int(s.opts.Tick / time.Second),
		TotalExecutions: total,
	}
	for _, id := range s.registry.IDs() {
		st, ok := s.registry.StateOf(id)
		if !ok {
			continue
		}
		job := JobStatus{
			AgentID:  id,
			Enabled:  st.Enabled,
			Schedule: st.Schedule.String(),
			Running:  s.executor.Running(id),
		}
		if st.Enabled {
			job.NextFire = st.Schedule.NextFire(now, st.LastRunAt)
		}
		out.Jobs = append(out.Jobs, job)
	}
	return out, nil
}
