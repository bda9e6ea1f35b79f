package storage

import (
	"fmt"
	"strings"
	"time"
)

// InsertFeedback appends one feedback row. Feedback is additive: repeated
// submissions for the same execution each get their own row.
func (s *Store) InsertFeedback(f Feedback) error {
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now().UTC()
	}
	if _, err := s.db.Exec(`
		INSERT INTO feedback (id, agent_id, execution_id, type, timestamp, processed)
		VALUES (?, ?, ?, ?, ?, 0)`,
		f.ID, f.AgentID, f.ExecutionID, f.Type, formatTime(f.Timestamp),
	); err != nil {
		return fmt.Errorf("inserting feedback: %w", err)
	}
	return nil
}

// FeedbackForExecution returns all feedback rows referencing one execution,
// oldest first.
func (s *Store) FeedbackForExecution(executionID int64) ([]Feedback, error) {
	return s.queryFeedback(`
		SELECT id, agent_id, execution_id, type, timestamp, processed
		FROM feedback WHERE execution_id = ? ORDER BY timestamp ASC`, executionID)
}

// UnprocessedFeedback returns feedback not yet consumed by the learning loop.
func (s *Store) UnprocessedFeedback(agentID string) ([]Feedback, error) {
	return s.queryFeedback(`
		SELECT id, agent_id, execution_id, type, timestamp, processed
		FROM feedback WHERE agent_id = ? AND processed = 0 ORDER BY timestamp ASC`, agentID)
}

// MarkFeedbackProcessed flags the given feedback rows as consumed. The rows
// themselves are never mutated beyond this flag and never deleted.
func (s *Store) MarkFeedbackProcessed(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat(",?", len(ids)-1)
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := s.db.Exec(
		"UPDATE feedback SET processed = 1 WHERE id IN (?"+placeholders+")", args...,
	); err != nil {
		return fmt.Errorf("marking feedback processed: %w", err)
	}
	return nil
}

func (s *Store) queryFeedback(query string, args ...any) ([]Feedback, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying feedback: %w", err)
	}
	defer rows.Close()

	var out []Feedback
	for rows.Next() {
		var (
			f         Feedback
			ts        string
			processed int
		)
		if err := rows.Scan(&f.ID, &f.AgentID, &f.ExecutionID, &f.Type, &ts, &processed); err != nil {
			return nil, err
		}
		t, err := parseTime(ts)
		if err != nil {
			return nil, fmt.Errorf("parsing feedback timestamp: %w", err)
		}
		f.Timestamp = t
		f.Processed = processed != 0
		out = append(out, f)
	}
	return out, rows.Err()
}
