package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hermod-ai/hermod/internal/agent"
	"github.com/hermod-ai/hermod/internal/ai"
	"github.com/hermod-ai/hermod/internal/learning"
	"github.com/hermod-ai/hermod/internal/mail"
	"github.com/hermod-ai/hermod/internal/storage"
)

type stubAssistant struct{}

func (stubAssistant) Classify(context.Context, []mail.EmailSummary) ([]ai.Classification, error) {
	return nil, nil
}

func (stubAssistant) Summarize(context.Context, []mail.EmailSummary) (ai.InboxSummary, error) {
	return ai.InboxSummary{}, nil
}

func (stubAssistant) DraftReply(context.Context, mail.EmailSummary) (ai.ReplyDraft, error) {
	return ai.ReplyDraft{}, nil
}

func (stubAssistant) EvaluateConfigChange(context.Context, ai.EvolutionRequest) (ai.ProposalEvaluation, error) {
	return ai.ProposalEvaluation{}, nil
}

type countingTask struct {
	runs atomic.Int64
	fn   func(ctx context.Context, cfg agent.Values) (agent.Outcome, error)
}

func (c *countingTask) Run(ctx context.Context, cfg agent.Values) (agent.Outcome, error) {
	c.runs.Add(1)
	if c.fn != nil {
		return c.fn(ctx, cfg)
	}
	return agent.Outcome{EmailsProcessed: 1}, nil
}

type harness struct {
	store    *storage.Store
	registry *agent.Registry
	sched    *Scheduler
	exec     *Executor
	tasks    map[string]*countingTask
	clock    time.Time
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := agent.NewRegistry()

	h := &harness{
		store:    store,
		registry: registry,
		tasks:    make(map[string]*countingTask),
		clock:    time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC), // a Monday
	}

	defs := []agent.Definition{
		{ID: "triage", Capability: agent.CapabilityTriage, Schedule: agent.EveryMinutes(30),
			Defaults: agent.Values{"max_emails": 25}},
		{ID: "briefing", Capability: agent.CapabilityBriefing, Schedule: agent.DailyAt(7, 30)},
		{ID: "digest", Capability: agent.CapabilityDigest, Schedule: agent.WeeklyAt(time.Friday, 16, 0)},
		{ID: "voice", Capability: agent.CapabilityVoice, Schedule: agent.Manual()},
		{ID: "director", Capability: agent.CapabilityDirector, Schedule: agent.Manual()},
	}
	for _, def := range defs {
		task := &countingTask{}
		h.tasks[def.ID] = task
		if err := registry.Register(def, task); err != nil {
			t.Fatalf("registering %s: %v", def.ID, err)
		}
		if err := store.UpsertAgentState(storage.AgentState{
			AgentID: def.ID, Enabled: true, ScheduleJSON: `{"kind":"manual"}`,
		}); err != nil {
			t.Fatalf("seeding state: %v", err)
		}
		if _, err := store.EnsureConfig(def.ID, def.Defaults); err != nil {
			t.Fatalf("seeding config: %v", err)
		}
	}

	lm := learning.NewManager(store, registry, stubAssistant{}, logger)
	h.exec = NewExecutor(registry, store, lm, 5*time.Second, logger)
	h.sched = New(registry, h.exec, lm, store, opts, logger)
	h.sched.now = func() time.Time { return h.clock }
	return h
}

func (h *harness) tickAndWait(ctx context.Context) {
	h.sched.tick(ctx)
	h.sched.wg.Wait()
}

func (h *harness) setLastRun(t *testing.T, id string, at time.Time) {
	t.Helper()
	st, ok := h.registry.StateOf(id)
	if !ok {
		t.Fatalf("unknown agent %s", id)
	}
	st.LastRunAt = at
	h.registry.Restore(id, st)
}

func TestIntervalFiresWhenDue(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	h.setLastRun(t, "triage", h.clock.Add(-31*time.Minute))
	h.tickAndWait(ctx)

	if got := h.tasks["triage"].runs.Load(); got != 1 {
		t.Fatalf("triage runs = %d, want 1", got)
	}
	st, _ := h.registry.StateOf("triage")
	if st.LastRunAt.Before(h.clock.Add(-time.Minute)) {
		t.Errorf("last run not advanced: %v", st.LastRunAt)
	}

	// Not due again until another interval passes.
	h.tickAndWait(ctx)
	if got := h.tasks["triage"].runs.Load(); got != 1 {
		t.Errorf("triage re-fired while not due: %d runs", got)
	}
}

func TestIntervalNotDueOrDisabled(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	h.setLastRun(t, "triage", h.clock.Add(-10*time.Minute))
	h.tickAndWait(ctx)
	if got := h.tasks["triage"].runs.Load(); got != 0 {
		t.Errorf("fired %d times while not due", got)
	}

	h.setLastRun(t, "triage", h.clock.Add(-2*time.Hour))
	h.registry.SetEnabled("triage", false)
	h.tickAndWait(ctx)
	if got := h.tasks["triage"].runs.Load(); got != 0 {
		t.Errorf("disabled agent fired %d times", got)
	}
}

func TestFreshStateDoesNotFireAtStartup(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	// No last run recorded and no baseline set: nothing fires.
	h.tickAndWait(ctx)
	if got := h.tasks["triage"].runs.Load(); got != 0 {
		t.Errorf("fresh agent fired %d times", got)
	}

	// After baselining, the agent waits a full interval.
	h.registry.SetBaseline("triage", h.clock)
	h.tickAndWait(ctx)
	if got := h.tasks["triage"].runs.Load(); got != 0 {
		t.Errorf("baselined agent fired immediately")
	}
	h.clock = h.clock.Add(31 * time.Minute)
	h.tickAndWait(ctx)
	if got := h.tasks["triage"].runs.Load(); got != 1 {
		t.Errorf("runs after interval elapsed = %d, want 1", got)
	}
}

func TestCronFiresOncePerSlot(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	h.clock = time.Date(2026, 3, 2, 7, 30, 5, 0, time.UTC)
	h.tickAndWait(ctx)
	h.clock = h.clock.Add(40 * time.Second) // still 07:30
	h.tickAndWait(ctx)
	if got := h.tasks["briefing"].runs.Load(); got != 1 {
		t.Fatalf("briefing runs in one slot = %d, want 1", got)
	}

	h.clock = time.Date(2026, 3, 2, 7, 31, 0, 0, time.UTC)
	h.tickAndWait(ctx)
	if got := h.tasks["briefing"].runs.Load(); got != 1 {
		t.Errorf("briefing fired outside its slot")
	}

	h.clock = time.Date(2026, 3, 3, 7, 30, 0, 0, time.UTC)
	h.tickAndWait(ctx)
	if got := h.tasks["briefing"].runs.Load(); got != 2 {
		t.Errorf("briefing runs next day = %d, want 2", got)
	}
}

func TestCronRespectsWeekday(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	h.clock = time.Date(2026, 3, 5, 16, 0, 0, 0, time.UTC) // Thursday
	h.tickAndWait(ctx)
	if got := h.tasks["digest"].runs.Load(); got != 0 {
		t.Errorf("digest fired on Thursday")
	}

	h.clock = time.Date(2026, 3, 6, 16, 0, 0, 0, time.UTC) // Friday
	h.tickAndWait(ctx)
	if got := h.tasks["digest"].runs.Load(); got != 1 {
		t.Errorf("digest runs on Friday = %d, want 1", got)
	}
}

func TestManualNeverAutoFires(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		h.clock = h.clock.Add(time.Hour)
		h.tickAndWait(ctx)
	}
	if got := h.tasks["voice"].runs.Load(); got != 0 {
		t.Errorf("manual agent auto-fired %d times", got)
	}

	rec, err := h.sched.Trigger(ctx, "voice")
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if !rec.Success {
		t.Errorf("trigger record = %+v", rec)
	}
	if got := h.tasks["voice"].runs.Load(); got != 1 {
		t.Errorf("runs after trigger = %d, want 1", got)
	}
}

func TestTriggerErrors(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	if _, err := h.sched.Trigger(ctx, "ghost"); !errors.Is(err, ErrUnknownAgent) {
		t.Errorf("unknown agent err = %v", err)
	}

	h.registry.SetEnabled("triage", false)
	if _, err := h.sched.Trigger(ctx, "triage"); !errors.Is(err, ErrAgentDisabled) {
		t.Errorf("disabled agent err = %v", err)
	}
}

func TestTriggerConflictsWithRunningExecution(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	release := make(chan struct{})
	started := make(chan struct{})
	h.tasks["triage"].fn = func(ctx context.Context, _ agent.Values) (agent.Outcome, error) {
		close(started)
		<-release
		return agent.Outcome{}, nil
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := h.sched.Trigger(ctx, "triage"); err != nil {
			t.Errorf("first trigger: %v", err)
		}
	}()
	<-started

	if _, err := h.sched.Trigger(ctx, "triage"); !errors.Is(err, ErrAgentRunning) {
		t.Errorf("concurrent trigger err = %v, want ErrAgentRunning", err)
	}

	close(release)
	wg.Wait()

	// The failed trigger must not have produced a record.
	n, err := h.store.CountExecutions()
	if err != nil {
		t.Fatalf("CountExecutions: %v", err)
	}
	if n != 1 {
		t.Errorf("executions = %d, want 1", n)
	}
}

func TestDirectorCadence(t *testing.T) {
	h := newHarness(t, Options{DirectorEvery: 3, DirectorID: "director"})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := h.sched.Trigger(ctx, "voice"); err != nil {
			t.Fatalf("trigger %d: %v", i, err)
		}
	}
	h.sched.wg.Wait()
	if got := h.tasks["director"].runs.Load(); got != 1 {
		t.Errorf("director runs after 3 executions = %d, want 1", got)
	}

	// The director's own run does not count toward its cadence.
	for i := 0; i < 2; i++ {
		if _, err := h.sched.Trigger(ctx, "voice"); err != nil {
			t.Fatalf("trigger: %v", err)
		}
	}
	h.sched.wg.Wait()
	if got := h.tasks["director"].runs.Load(); got != 1 {
		t.Errorf("director runs after 5 executions = %d, want still 1", got)
	}
	if _, err := h.sched.Trigger(ctx, "voice"); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	h.sched.wg.Wait()
	if got := h.tasks["director"].runs.Load(); got != 2 {
		t.Errorf("director runs after 6 executions = %d, want 2", got)
	}
}

func TestExecuteRecordsFailure(t *testing.T) {
	h := newHarness(t, Options{})
	h.tasks["triage"].fn = func(context.Context, agent.Values) (agent.Outcome, error) {
		return agent.Outcome{}, mail.ErrAuthExpired
	}

	rec, err := h.exec.Execute(context.Background(), "triage")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if rec.Success {
		t.Error("failed run recorded as success")
	}
	if rec.Error == "" {
		t.Error("failure without error message")
	}
	if rec.ID == 0 {
		t.Error("record not persisted")
	}

	st, _ := h.registry.StateOf("triage")
	if st.LastSuccess == nil || *st.LastSuccess {
		t.Errorf("last_success = %v, want false", st.LastSuccess)
	}
}

func TestExecuteRecoversPanic(t *testing.T) {
	h := newHarness(t, Options{})
	h.tasks["triage"].fn = func(context.Context, agent.Values) (agent.Outcome, error) {
		panic("nil map write")
	}

	rec, err := h.exec.Execute(context.Background(), "triage")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if rec.Success {
		t.Error("panicked run recorded as success")
	}

	n, err := h.store.CountExecutions()
	if err != nil {
		t.Fatalf("CountExecutions: %v", err)
	}
	if n != 1 {
		t.Errorf("executions = %d, want exactly 1", n)
	}
}

func TestExecuteForwardsOutcomeProposal(t *testing.T) {
	h := newHarness(t, Options{})
	h.tasks["triage"].fn = func(context.Context, agent.Values) (agent.Outcome, error) {
		return agent.Outcome{
			EmailsProcessed: 3,
			Proposal: &agent.Proposal{
				Field: "max_emails", NewValue: 50, Reason: "hitting cap",
			},
		}, nil
	}

	if _, err := h.exec.Execute(context.Background(), "triage"); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	cur, err := h.store.CurrentConfig("triage")
	if err != nil {
		t.Fatalf("CurrentConfig: %v", err)
	}
	if cur.Version != 2 || cur.Values["max_emails"] != float64(50) {
		t.Errorf("config = v%d %v, want v2 max_emails 50", cur.Version, cur.Values)
	}
	entries, err := h.store.ListAudit("triage", 5)
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(entries) != 1 || !entries[0].Approved {
		t.Errorf("audit = %+v, want one approved entry", entries)
	}
}
