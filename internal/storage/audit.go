package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// RecordRejection appends an audit entry for a rejected proposal. No config
// version is written; version_after equals version_before.
func (s *Store) RecordRejection(audit ConfigAudit) error {
	audit.Approved = false
	audit.VersionAfter = audit.VersionBefore
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning rejection transaction: %w", err)
	}
	defer tx.Rollback()
	if err := insertAuditTx(tx, audit); err != nil {
		return err
	}
	return tx.Commit()
}

// ApplyScheduleChange persists an approved schedule change and its audit
// entry in one transaction. Schedules live in agent_state, not config values,
// so no config version is written; version_after equals version_before.
func (s *Store) ApplyScheduleChange(audit ConfigAudit, scheduleJSON string) error {
	audit.Approved = true
	audit.VersionAfter = audit.VersionBefore
	audit.RejectionReason = ""
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning schedule change transaction: %w", err)
	}
	defer tx.Rollback()
	res, err := tx.Exec(`
		UPDATE agent_state SET schedule_json = ?, updated_at = ? WHERE agent_id = ?`,
		scheduleJSON, formatTime(time.Now()), audit.AgentID,
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
	if err := insertAuditTx(tx, audit); err != nil {
		return err
	}
	return tx.Commit()
}

func insertAuditTx(tx *sql.Tx, audit ConfigAudit) error {
	if audit.Timestamp.IsZero() {
		audit.Timestamp = time.Now().UTC()
	}
	oldJSON, err := json.Marshal(audit.OldValue)
	if err != nil {
		return fmt.Errorf("marshalling audit old_value: %w", err)
	}
	newJSON, err := json.Marshal(audit.NewValue)
	if err != nil {
		return fmt.Errorf("marshalling audit new_value: %w", err)
	}
	var rejection any
	if audit.RejectionReason != "" {
		rejection = audit.RejectionReason
	}
	if _, err := tx.Exec(`
		INSERT INTO config_audit (agent_id, timestamp, version_before, version_after, field_changed, old_value, new_value, proposed_by, reason, approved, rejection_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		audit.AgentID, formatTime(audit.Timestamp), audit.VersionBefore, audit.VersionAfter,
		audit.FieldChanged, string(oldJSON), string(newJSON), audit.ProposedBy, audit.Reason,
		boolInt(audit.Approved), rejection,
	); err != nil {
		return fmt.Errorf("inserting config audit: %w", err)
	}
	return nil
}

// ListAudit returns the latest config-change audit entries, newest first,
// filtered by agent when agentID is non-empty.
func (s *Store) ListAudit(agentID string, limit int) ([]ConfigAudit, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		rows *sql.Rows
		err  error
	)
	if agentID != "" {
		rows, err = s.db.Query(`
			SELECT id, agent_id, timestamp, version_before, version_after, field_changed, old_value, new_value, proposed_by, reason, approved, rejection_reason
			FROM config_audit WHERE agent_id = ? ORDER BY id DESC LIMIT ?`, agentID, limit)
	} else {
		rows, err = s.db.Query(`
			SELECT id, agent_id, timestamp, version_before, version_after, field_changed, old_value, new_value, proposed_by, reason, approved, rejection_reason
			FROM config_audit ORDER BY id DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("listing config audit: %w", err)
	}
	defer rows.Close()

	var out []ConfigAudit
	for rows.Next() {
		var (
			a         ConfigAudit
			ts        string
			oldJSON   string
			newJSON   string
			approved  int
			rejection sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.AgentID, &ts, &a.VersionBefore, &a.VersionAfter, &a.FieldChanged, &oldJSON, &newJSON, &a.ProposedBy, &a.Reason, &approved, &rejection); err != nil {
			return nil, err
		}
		t, err := parseTime(ts)
		if err != nil {
			return nil, fmt.Errorf("parsing audit timestamp: %w", err)
		}
		a.Timestamp = t
		a.Approved = approved != 0
		a.RejectionReason = rejection.String
		if err := json.Unmarshal([]byte(oldJSON), &a.OldValue); err != nil {
			return nil, fmt.Errorf("parsing audit old_value: %w", err)
		}
		if err := json.Unmarshal([]byte(newJSON), &a.NewValue); err != nil {
			return nil, fmt.Errorf("parsing audit new_value: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountAudit returns the number of audit entries for an agent ("" for all).
func (s *Store) CountAudit(agentID string) (int, error) {
	var n int
	var err error
	if agentID != "" {
		err = s.db.QueryRow("SELECT COUNT(*) FROM config_audit WHERE agent_id = ?", agentID).Scan(&n)
	} else {
		err = s.db.QueryRow("SELECT COUNT(*) FROM config_audit").Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("counting config audit: %w", err)
	}
	return n, nil
}
