package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// RecordExecution appends an execution record and updates the agent's
// persisted last-run state in one transaction, so the log entry and the
// agent's last_run_at/last_success fields are visible together or not at all.
// Returns the assigned execution ID.
func (s *Store) RecordExecution(rec ExecutionRecord) (int64, error) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	actions := rec.ActionsTaken
	if actions == nil {
		actions = []string{}
	}
	actionsJSON, err := json.Marshal(actions)
	if err != nil {
		return 0, fmt.Errorf("marshalling actions: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning execution transaction: %w", err)
	}
	defer tx.Rollback()

	var errVal any
	if rec.Error != "" {
		errVal = rec.Error
	}
	res, err := tx.Exec(`
		INSERT INTO executions (agent_id, timestamp, config_version, success, error, emails_processed, execution_time_ms, actions_taken)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.AgentID, formatTime(rec.Timestamp), rec.ConfigVersion, boolInt(rec.Success),
		errVal, rec.EmailsProcessed, rec.ExecutionTimeMS, string(actionsJSON),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting execution: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading execution id: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE agent_state
		SET last_run_at = ?, last_success = ?, last_execution_ms = ?, updated_at = ?
		WHERE agent_id = ?`,
		formatTime(rec.Timestamp), boolInt(rec.Success), rec.ExecutionTimeMS,
		formatTime(time.Now()), rec.AgentID,
	); err != nil {
		return 0, fmt.Errorf("updating agent state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing execution: %w", err)
	}
	return id, nil
}

// GetExecution returns one execution record by ID.
func (s *Store) GetExecution(id int64) (ExecutionRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, agent_id, timestamp, config_version, success, error, emails_processed, execution_time_ms, actions_taken
		FROM executions WHERE id = ?`, id)
	rec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return ExecutionRecord{}, ErrNotFound
	}
	return rec, err
}

// ListExecutions returns the latest executions in descending order, filtered
// by agent when agentID is non-empty.
func (s *Store) ListExecutions(agentID string, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		rows *sql.Rows
		err  error
	)
	if agentID != "" {
		rows, err = s.db.Query(`
			SELECT id, agent_id, timestamp, config_version, success, error, emails_processed, execution_time_ms, actions_taken
			FROM executions WHERE agent_id = ? ORDER BY id DESC LIMIT ?`, agentID, limit)
	} else {
		rows, err = s.db.Query(`
			SELECT id, agent_id, timestamp, config_version, success, error, emails_processed, execution_time_ms, actions_taken
			FROM executions ORDER BY id DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}
	defer rows.Close()

	var out []ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountExecutions returns the total execution count across all agents.
func (s *Store) CountExecutions() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM executions").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting executions: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(r rowScanner) (ExecutionRecord, error) {
	var (
		rec         ExecutionRecord
		ts          string
		success     int
		errMsg      sql.NullString
		actionsJSON string
	)
	if err := r.Scan(&rec.ID, &rec.AgentID, &ts, &rec.ConfigVersion, &success, &errMsg, &rec.EmailsProcessed, &rec.ExecutionTimeMS, &actionsJSON); err != nil {
		return ExecutionRecord{}, err
	}
	t, err := parseTime(ts)
	if err != nil {
		return ExecutionRecord{}, fmt.Errorf("parsing execution timestamp: %w", err)
	}
	rec.Timestamp = t
	rec.Success = success != 0
	rec.Error = errMsg.String
	if err := json.Unmarshal([]byte(actionsJSON), &rec.ActionsTaken); err != nil {
		return ExecutionRecord{}, fmt.Errorf("parsing actions for execution %d: %w", rec.ID, err)
	}
	return rec, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
