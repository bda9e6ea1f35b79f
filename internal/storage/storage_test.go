package storage

import (
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedAgent(t *testing.T, s *Store, agentID string, defaults map[string]any) {
	t.Helper()
	if err := s.UpsertAgentState(AgentState{
		AgentID:      agentID,
		Enabled:      true,
		ScheduleJSON: `{"kind":"interval","minutes":30}`,
	}); err != nil {
		t.Fatalf("seeding agent state: %v", err)
	}
	if _, err := s.EnsureConfig(agentID, defaults); err != nil {
		t.Fatalf("seeding config: %v", err)
	}
}

func TestMigrationsApplied(t *testing.T) {
	s := openTestStore(t)
	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) == 0 || versions[0] != 1 {
		t.Fatalf("expected migration 1 applied, got %v", versions)
	}
}

func TestRecordExecutionUpdatesAgentState(t *testing.T) {
	s := openTestStore(t)
	seedAgent(t, s, "triage", map[string]any{"max_emails": 25})

	when := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	id, err := s.RecordExecution(ExecutionRecord{
		AgentID:         "triage",
		Timestamp:       when,
		ConfigVersion:   1,
		Success:         true,
		EmailsProcessed: 7,
		ExecutionTimeMS: 420,
		ActionsTaken:    []string{"labeled 3 high priority"},
	})
	if err != nil {
		t.Fatalf("RecordExecution: %v", err)
	}
	if id != 1 {
		t.Errorf("execution id = %d, want 1", id)
	}

	rec, err := s.GetExecution(id)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if !rec.Success || rec.EmailsProcessed != 7 {
		t.Errorf("unexpected record: %+v", rec)
	}
	if len(rec.ActionsTaken) != 1 {
		t.Errorf("actions = %v, want one entry", rec.ActionsTaken)
	}
	if !rec.Timestamp.Equal(when) {
		t.Errorf("timestamp = %v, want %v", rec.Timestamp, when)
	}

	st, err := s.GetAgentState("triage")
	if err != nil {
		t.Fatalf("GetAgentState: %v", err)
	}
	if st.LastRunAt == nil || !st.LastRunAt.Equal(when) {
		t.Errorf("last_run_at = %v, want %v", st.LastRunAt, when)
	}
	if st.LastSuccess == nil || !*st.LastSuccess {
		t.Errorf("last_success = %v, want true", st.LastSuccess)
	}
	if st.LastExecutionMS != 420 {
		t.Errorf("last_execution_ms = %d, want 420", st.LastExecutionMS)
	}
}

func TestRecordExecutionFailureKeepsError(t *testing.T) {
	s := openTestStore(t)
	seedAgent(t, s, "cleanup", nil)

	id, err := s.RecordExecution(ExecutionRecord{
		AgentID:       "cleanup",
		ConfigVersion: 1,
		Success:       false,
		Error:         "mailbox auth expired",
	})
	if err != nil {
		t.Fatalf("RecordExecution: %v", err)
	}
	rec, err := s.GetExecution(id)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if rec.Success {
		t.Error("expected failure record")
	}
	if rec.Error != "mailbox auth expired" {
		t.Errorf("error = %q", rec.Error)
	}
	if rec.ActionsTaken == nil || len(rec.ActionsTaken) != 0 {
		t.Errorf("actions = %#v, want empty non-nil slice", rec.ActionsTaken)
	}
}

func TestListExecutionsOrderAndFilter(t *testing.T) {
	s := openTestStore(t)
	seedAgent(t, s, "triage", nil)
	seedAgent(t, s, "briefing", nil)

	for i := 0; i < 3; i++ {
		if _, err := s.RecordExecution(ExecutionRecord{AgentID: "triage", ConfigVersion: 1, Success: true}); err != nil {
			t.Fatalf("RecordExecution: %v", err)
		}
	}
	if _, err := s.RecordExecution(ExecutionRecord{AgentID: "briefing", ConfigVersion: 1, Success: true}); err != nil {
		t.Fatalf("RecordExecution: %v", err)
	}

	all, err := s.ListExecutions("", 10)
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("got %d executions, want 4", len(all))
	}
	if all[0].ID < all[1].ID {
		t.Error("expected newest first")
	}

	triage, err := s.ListExecutions("triage", 2)
	if err != nil {
		t.Fatalf("ListExecutions(triage): %v", err)
	}
	if len(triage) != 2 {
		t.Fatalf("got %d, want limit 2", len(triage))
	}
	for _, rec := range triage {
		if rec.AgentID != "triage" {
			t.Errorf("filter leaked agent %q", rec.AgentID)
		}
	}
}

func TestGetExecutionNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetExecution(99); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestEnsureConfigIdempotent(t *testing.T) {
	s := openTestStore(t)
	cv, err := s.EnsureConfig("triage", map[string]any{"max_emails": 25, "batch_size": 10})
	if err != nil {
		t.Fatalf("EnsureConfig: %v", err)
	}
	if cv.Version != 1 {
		t.Errorf("version = %d, want 1", cv.Version)
	}

	again, err := s.EnsureConfig("triage", map[string]any{"max_emails": 999})
	if err != nil {
		t.Fatalf("EnsureConfig again: %v", err)
	}
	if again.Version != 1 {
		t.Errorf("version = %d, want 1", again.Version)
	}
	if got := again.Values["max_emails"]; got != float64(25) {
		t.Errorf("max_emails = %v, want original 25", got)
	}
}

func TestApplyChangeVersionsAreGapless(t *testing.T) {
	s := openTestStore(t)
	seedAgent(t, s, "triage", map[string]any{"max_emails": 25, "batch_size": 10})

	cv, err := s.ApplyChange(ConfigAudit{
		AgentID:      "triage",
		FieldChanged: "max_emails",
		NewValue:     50,
		ProposedBy:   "agent-self",
		Reason:       "consistently hitting the fetch cap",
	})
	if err != nil {
		t.Fatalf("ApplyChange: %v", err)
	}
	if cv.Version != 2 {
		t.Errorf("version = %d, want 2", cv.Version)
	}
	if got := cv.Values["max_emails"]; got != float64(50) {
		t.Errorf("max_emails = %v, want 50", got)
	}
	if got := cv.Values["batch_size"]; got != float64(10) {
		t.Errorf("batch_size = %v, want carried-over 10", got)
	}

	cv2, err := s.ApplyChange(ConfigAudit{
		AgentID:      "triage",
		FieldChanged: "batch_size",
		NewValue:     20,
		ProposedBy:   "human",
	})
	if err != nil {
		t.Fatalf("second ApplyChange: %v", err)
	}
	if cv2.Version != 3 {
		t.Errorf("version = %d, want 3", cv2.Version)
	}

	history, err := s.ConfigHistory("triage", 10)
	if err != nil {
		t.Fatalf("ConfigHistory: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	for i, cv := range history {
		want := 3 - i
		if cv.Version != want {
			t.Errorf("history[%d].Version = %d, want %d", i, cv.Version, want)
		}
	}
}

func TestApplyChangeWritesApprovedAudit(t *testing.T) {
	s := openTestStore(t)
	seedAgent(t, s, "triage", map[string]any{"max_emails": 25})

	if _, err := s.ApplyChange(ConfigAudit{
		AgentID:      "triage",
		FieldChanged: "max_emails",
		NewValue:     50,
		ProposedBy:   "agent-self",
		Reason:       "raising fetch cap",
	}); err != nil {
		t.Fatalf("ApplyChange: %v", err)
	}

	entries, err := s.ListAudit("triage", 10)
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(entries))
	}
	a := entries[0]
	if !a.Approved {
		t.Error("expected approved entry")
	}
	if a.VersionBefore != 1 || a.VersionAfter != 2 {
		t.Errorf("versions = %d -> %d, want 1 -> 2", a.VersionBefore, a.VersionAfter)
	}
	if a.OldValue != float64(25) || a.NewValue != float64(50) {
		t.Errorf("values = %v -> %v, want 25 -> 50", a.OldValue, a.NewValue)
	}
}

func TestRecordRejectionLeavesConfigUntouched(t *testing.T) {
	s := openTestStore(t)
	seedAgent(t, s, "triage", map[string]any{"max_emails": 25})

	if err := s.RecordRejection(ConfigAudit{
		AgentID:         "triage",
		VersionBefore:   1,
		FieldChanged:    "max_emails",
		OldValue:        25,
		NewValue:        500,
		ProposedBy:      "agent-self",
		Reason:          "want more",
		RejectionReason: "max_emails must be between 5 and 200",
	}); err != nil {
		t.Fatalf("RecordRejection: %v", err)
	}

	cv, err := s.CurrentConfig("triage")
	if err != nil {
		t.Fatalf("CurrentConfig: %v", err)
	}
	if cv.Version != 1 {
		t.Errorf("version = %d, want unchanged 1", cv.Version)
	}

	entries, err := s.ListAudit("triage", 10)
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(entries))
	}
	a := entries[0]
	if a.Approved {
		t.Error("expected rejected entry")
	}
	if a.VersionAfter != a.VersionBefore {
		t.Errorf("rejection changed version: %d -> %d", a.VersionBefore, a.VersionAfter)
	}
	if a.RejectionReason == "" {
		t.Error("missing rejection reason")
	}
}

func TestFeedbackIsAdditive(t *testing.T) {
	s := openTestStore(t)
	seedAgent(t, s, "triage", nil)
	execID, err := s.RecordExecution(ExecutionRecord{AgentID: "triage", ConfigVersion: 1, Success: true})
	if err != nil {
		t.Fatalf("RecordExecution: %v", err)
	}

	for i, typ := range []string{FeedbackThumbsUp, FeedbackThumbsDown} {
		if err := s.InsertFeedback(Feedback{
			ID:          string(rune('a' + i)),
			AgentID:     "triage",
			ExecutionID: execID,
			Type:        typ,
		}); err != nil {
			t.Fatalf("InsertFeedback: %v", err)
		}
	}

	fb, err := s.FeedbackForExecution(execID)
	if err != nil {
		t.Fatalf("FeedbackForExecution: %v", err)
	}
	if len(fb) != 2 {
		t.Fatalf("feedback rows = %d, want 2 (additive)", len(fb))
	}
	if fb[0].Type != FeedbackThumbsUp || fb[1].Type != FeedbackThumbsDown {
		t.Errorf("unexpected order or types: %+v", fb)
	}
}

func TestMarkFeedbackProcessed(t *testing.T) {
	s := openTestStore(t)
	seedAgent(t, s, "triage", nil)
	execID, err := s.RecordExecution(ExecutionRecord{AgentID: "triage", ConfigVersion: 1, Success: true})
	if err != nil {
		t.Fatalf("RecordExecution: %v", err)
	}
	for _, id := range []string{"f1", "f2", "f3"} {
		if err := s.InsertFeedback(Feedback{ID: id, AgentID: "triage", ExecutionID: execID, Type: FeedbackThumbsDown}); err != nil {
			t.Fatalf("InsertFeedback: %v", err)
		}
	}

	unprocessed, err := s.UnprocessedFeedback("triage")
	if err != nil {
		t.Fatalf("UnprocessedFeedback: %v", err)
	}
	if len(unprocessed) != 3 {
		t.Fatalf("unprocessed = %d, want 3", len(unprocessed))
	}

	if err := s.MarkFeedbackProcessed([]string{"f1", "f3"}); err != nil {
		t.Fatalf("MarkFeedbackProcessed: %v", err)
	}
	unprocessed, err = s.UnprocessedFeedback("triage")
	if err != nil {
		t.Fatalf("UnprocessedFeedback: %v", err)
	}
	if len(unprocessed) != 1 || unprocessed[0].ID != "f2" {
		t.Errorf("unprocessed = %+v, want only f2", unprocessed)
	}
}

func TestAgentStatePersistsAcrossUpdates(t *testing.T) {
	s := openTestStore(t)
	seedAgent(t, s, "vip-monitor", nil)

	if err := s.UpdateEnabled("vip-monitor", false); err != nil {
		t.Fatalf("UpdateEnabled: %v", err)
	}
	if err := s.UpdateSchedule("vip-monitor", `{"kind":"interval","minutes":15}`); err != nil {
		t.Fatalf("UpdateSchedule: %v", err)
	}

	states, err := s.ListAgentStates()
	if err != nil {
		t.Fatalf("ListAgentStates: %v", err)
	}
	st, ok := states["vip-monitor"]
	if !ok {
		t.Fatal("agent state missing")
	}
	if st.Enabled {
		t.Error("expected disabled")
	}
	if st.ScheduleJSON != `{"kind":"interval","minutes":15}` {
		t.Errorf("schedule_json = %s", st.ScheduleJSON)
	}

	if err := s.UpdateEnabled("ghost", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateEnabled(ghost) err = %v, want ErrNotFound", err)
	}
}

func TestDailyMetricsRunningAverage(t *testing.T) {
	s := openTestStore(t)
	day := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	if err := s.RecordExecutionMetrics("triage", day, true, 100, 5); err != nil {
		t.Fatalf("RecordExecutionMetrics: %v", err)
	}
	if err := s.RecordExecutionMetrics("triage", day.Add(2*time.Hour), false, 300, 0); err != nil {
		t.Fatalf("RecordExecutionMetrics: %v", err)
	}
	if err := s.RecordFeedbackMetrics("triage", day.Add(3*time.Hour), false); err != nil {
		t.Fatalf("RecordFeedbackMetrics: %v", err)
	}

	rows, err := s.MetricsSince("triage", 3650)
	if err != nil {
		t.Fatalf("MetricsSince: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("metric rows = %d, want 1", len(rows))
	}
	m := rows[0]
	if m.TotalExecutions != 2 || m.Successful != 1 || m.Failed != 1 {
		t.Errorf("counts = %d/%d/%d, want 2/1/1", m.TotalExecutions, m.Successful, m.Failed)
	}
	if m.AvgTimeMS != 200 {
		t.Errorf("avg_time_ms = %v, want 200", m.AvgTimeMS)
	}
	if m.EmailsProcessed != 5 {
		t.Errorf("emails_processed = %d, want 5", m.EmailsProcessed)
	}
	if m.NegativeFeedback != 1 || m.PositiveFeedback != 0 {
		t.Errorf("feedback = +%d/-%d, want +0/-1", m.PositiveFeedback, m.NegativeFeedback)
	}
}
