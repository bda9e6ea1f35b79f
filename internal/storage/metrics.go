package storage

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// RecordExecutionMetrics folds one execution into the agent's daily rollup.
// The average execution time is maintained as a running average so the row
// never needs the individual samples.
func (s *Store) RecordExecutionMetrics(agentID string, at time.Time, success bool, execMS int64, emails int) error {
	date := at.UTC().Format(dateLayout)
	successInc := 0
	failInc := 0
	if success {
		successInc = 1
	} else {
		failInc = 1
	}
	if _, err := s.db.Exec(`
		INSERT INTO daily_metrics (agent_id, date, total_executions, successful, failed, avg_time_ms, emails_processed, positive_feedback, negative_feedback)
		VALUES (?, ?, 1, ?, ?, ?, ?, 0, 0)
		ON CONFLICT(agent_id, date) DO UPDATE SET
			avg_time_ms = (avg_time_ms * total_executions + ?) / (total_executions + 1),
			total_executions = total_executions + 1,
			successful = successful + ?,
			failed = failed + ?,
			emails_processed = emails_processed + ?`,
		agentID, date, successInc, failInc, float64(execMS), emails,
		float64(execMS), successInc, failInc, emails,
	); err != nil {
		return fmt.Errorf("recording execution metrics: %w", err)
	}
	return nil
}

// RecordFeedbackMetrics folds one feedback signal into the daily rollup.
func (s *Store) RecordFeedbackMetrics(agentID string, at time.Time, positive bool) error {
	date := at.UTC().Format(dateLayout)
	posInc := 0
	negInc := 0
	if positive {
		posInc = 1
	} else {
		negInc = 1
	}
	if _, err := s.db.Exec(`
		INSERT INTO daily_metrics (agent_id, date, total_executions, successful, failed, avg_time_ms, emails_processed, positive_feedback, negative_feedback)
		VALUES (?, ?, 0, 0, 0, 0, 0, ?, ?)
		ON CONFLICT(agent_id, date) DO UPDATE SET
			positive_feedback = positive_feedback + ?,
			negative_feedback = negative_feedback + ?`,
		agentID, date, posInc, negInc, posInc, negInc,
	); err != nil {
		return fmt.Errorf("recording feedback metrics: %w", err)
	}
	return nil
}

// MetricsSince returns an agent's daily rollups for the last N days,
// newest first.
func (s *Store) MetricsSince(agentID string, days int) ([]DailyMetrics, error) {
	if days <= 0 {
		days = 7
	}
	since := time.Now().UTC().AddDate(0, 0, -days).Format(dateLayout)
	rows, err := s.db.Query(`
		SELECT agent_id, date, total_executions, successful, failed, avg_time_ms, emails_processed, positive_feedback, negative_feedback
		FROM daily_metrics WHERE agent_id = ? AND date >= ? ORDER BY date DESC`, agentID, since)
	if err != nil {
		return nil, fmt.Errorf("listing daily metrics: %w", err)
	}
	defer rows.Close()

	var out []DailyMetrics
	for rows.Next() {
		var m DailyMetrics
		if err := rows.Scan(&m.AgentID, &m.Date, &m.TotalExecutions, &m.Successful, &m.Failed, &m.AvgTimeMS, &m.EmailsProcessed, &m.PositiveFeedback, &m.NegativeFeedback); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
