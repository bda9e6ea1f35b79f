package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertAgentState writes an agent's persisted runtime state. Used at
// registration to seed the row; later updates go through the narrower
// UpdateEnabled/UpdateSchedule and the RecordExecution transaction.
func (s *Store) UpsertAgentState(st AgentState) error {
	var lastRun any
	if st.LastRunAt != nil {
		lastRun = formatTime(*st.LastRunAt)
	}
	var lastSuccess any
	if st.LastSuccess != nil {
		lastSuccess = boolInt(*st.LastSuccess)
	}
	if _, err := s.db.Exec(`
		INSERT INTO agent_state (agent_id, enabled, schedule_json, last_run_at, last_success, last_execution_ms, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			enabled = excluded.enabled,
			schedule_json = excluded.schedule_json,
			last_run_at = excluded.last_run_at,
			last_success = excluded.last_success,
			last_execution_ms = excluded.last_execution_ms,
			updated_at = excluded.updated_at`,
		st.AgentID, boolInt(st.Enabled), st.ScheduleJSON, lastRun, lastSuccess,
		st.LastExecutionMS, formatTime(time.Now()),
	); err != nil {
		return fmt.Errorf("upserting agent state: %w", err)
	}
	return nil
}

// GetAgentState returns one agent's persisted state.
func (s *Store) GetAgentState(agentID string) (AgentState, error) {
	row := s.db.QueryRow(`
		SELECT agent_id, enabled, schedule_json, last_run_at, last_success, last_execution_ms, updated_at
		FROM agent_state WHERE agent_id = ?`, agentID)
	st, err := scanAgentState(row)
	if err == sql.ErrNoRows {
		return AgentState{}, ErrNotFound
	}
	return st, err
}

// ListAgentStates returns all persisted agent states keyed by agent ID.
func (s *Store) ListAgentStates() (map[string]AgentState, error) {
	rows, err := s.db.Query(`
		SELECT agent_id, enabled, schedule_json, last_run_at, last_success, last_execution_ms, updated_at
		FROM agent_state`)
	if err != nil {
		return nil, fmt.Errorf("listing agent states: %w", err)
	}
	defer rows.Close()

	out := make(map[string]AgentState)
	for rows.Next() {
		st, err := scanAgentState(rows)
		if err != nil {
			return nil, err
		}
		out[st.AgentID] = st
	}
	return out, rows.Err()
}

// UpdateEnabled persists the enabled flag.
func (s *Store) UpdateEnabled(agentID string, enabled bool) error {
	res, err := s.db.Exec(`
		UPDATE agent_state SET enabled = ?, updated_at = ? WHERE agent_id = ?`,
		boolInt(enabled), formatTime(time.Now()), agentID,
	)
	if err != nil {
		return fmt.Errorf("updating enabled flag: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateSchedule persists a new schedule (JSON-encoded).
func (s *Store) UpdateSchedule(agentID, scheduleJSON string) error {
	res, err := s.db.Exec(`
		UPDATE agent_state SET schedule_json = ?, updated_at = ? WHERE agent_id = ?`,
		scheduleJSON, formatTime(time.Now()), agentID,
	)
	if err != nil {
		return fmt.Errorf("updating schedule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAgentState(r rowScanner) (AgentState, error) {
	var (
		st          AgentState
		enabled     int
		lastRun     sql.NullString
		lastSuccess sql.NullInt64
		updatedAt   string
	)
	if err := r.Scan(&st.AgentID, &enabled, &st.ScheduleJSON, &lastRun, &lastSuccess, &st.LastExecutionMS, &updatedAt); err != nil {
		return AgentState{}, err
	}
	st.Enabled = enabled != 0
	if lastRun.Valid {
		t, err := parseTime(lastRun.String)
		if err != nil {
			return AgentState{}, fmt.Errorf("parsing last_run_at: %w", err)
		}
		st.LastRunAt = &t
	}
	if lastSuccess.Valid {
		b := lastSuccess.Int64 != 0
		st.LastSuccess = &b
	}
	t, err := parseTime(updatedAt)
	if err != nil {
		return AgentState{}, fmt.Errorf("parsing agent state updated_at: %w", err)
	}
	st.UpdatedAt = t
	return st, nil
}
