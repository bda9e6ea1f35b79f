package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EnsureConfig inserts version 1 with the given defaults when the agent has
// no config history yet, and returns the current version either way.
func (s *Store) EnsureConfig(agentID string, defaults map[string]any) (ConfigVersion, error) {
	cur, err := s.CurrentConfig(agentID)
	if err == nil {
		return cur, nil
	}
	if err != ErrNotFound {
		return ConfigVersion{}, err
	}

	if defaults == nil {
		defaults = map[string]any{}
	}
	valuesJSON, err := json.Marshal(defaults)
	if err != nil {
		return ConfigVersion{}, fmt.Errorf("marshalling default config: %w", err)
	}
	now := time.Now().UTC()
	if _, err := s.db.Exec(`
		INSERT INTO config_versions (agent_id, version, values_json, created_at)
		VALUES (?, 1, ?, ?)`,
		agentID, string(valuesJSON), formatTime(now),
	); err != nil {
		return ConfigVersion{}, fmt.Errorf("inserting initial config for %s: %w", agentID, err)
	}
	return s.CurrentConfig(agentID)
}

// CurrentConfig returns the highest config version for an agent.
func (s *Store) CurrentConfig(agentID string) (ConfigVersion, error) {
	row := s.db.QueryRow(`
		SELECT agent_id, version, values_json, created_at
		FROM config_versions WHERE agent_id = ? ORDER BY version DESC LIMIT 1`, agentID)
	cv, err := scanConfigVersion(row)
	if err == sql.ErrNoRows {
		return ConfigVersion{}, ErrNotFound
	}
	return cv, err
}

// ConfigHistory returns an agent's config versions, newest first.
func (s *Store) ConfigHistory(agentID string, limit int) ([]ConfigVersion, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT agent_id, version, values_json, created_at
		FROM config_versions WHERE agent_id = ? ORDER BY version DESC LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing config history: %w", err)
	}
	defer rows.Close()

	var out []ConfigVersion
	for rows.Next() {
		cv, err := scanConfigVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cv)
	}
	return out, rows.Err()
}

// ApplyChange commits an approved single-field change: it writes a new config
// version (previous + 1, all other fields carried over) and the approved
// audit entry in one transaction. The caller holds the per-agent config lock;
// the read-modify-write here still happens inside the transaction so version
// numbers stay gapless.
func (s *Store) ApplyChange(audit ConfigAudit) (ConfigVersion, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return ConfigVersion{}, fmt.Errorf("beginning config change transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(`
		SELECT agent_id, version, values_json, created_at
		FROM config_versions WHERE agent_id = ? ORDER BY version DESC LIMIT 1`, audit.AgentID)
	cur, err := scanConfigVersion(row)
	if err == sql.ErrNoRows {
		return ConfigVersion{}, fmt.Errorf("agent %s: %w", audit.AgentID, ErrNotFound)
	}
	if err != nil {
		return ConfigVersion{}, err
	}

	next := ConfigVersion{
		AgentID:   audit.AgentID,
		Version:   cur.Version + 1,
		Values:    make(map[string]any, len(cur.Values)+1),
		CreatedAt: time.Now().UTC(),
	}
	for k, v := range cur.Values {
		next.Values[k] = v
	}
	next.Values[audit.FieldChanged] = audit.NewValue

	valuesJSON, err := json.Marshal(next.Values)
	if err != nil {
		return ConfigVersion{}, fmt.Errorf("marshalling config values: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO config_versions (agent_id, version, values_json, created_at)
		VALUES (?, ?, ?, ?)`,
		next.AgentID, next.Version, string(valuesJSON), formatTime(next.CreatedAt),
	); err != nil {
		return ConfigVersion{}, fmt.Errorf("inserting config version %d for %s: %w", next.Version, next.AgentID, err)
	}

	audit.VersionBefore = cur.Version
	audit.VersionAfter = next.Version
	audit.Approved = true
	audit.RejectionReason = ""
	if audit.OldValue == nil {
		audit.OldValue = cur.Values[audit.FieldChanged]
	}
	if err := insertAuditTx(tx, audit); err != nil {
		return ConfigVersion{}, err
	}

	if err := tx.Commit(); err != nil {
		return ConfigVersion{}, fmt.Errorf("committing config change: %w", err)
	}
	return next, nil
}

func scanConfigVersion(r rowScanner) (ConfigVersion, error) {
	var (
		cv         ConfigVersion
		valuesJSON string
		createdAt  string
	)
	if err := r.Scan(&cv.AgentID, &cv.Version, &valuesJSON, &createdAt); err != nil {
		return ConfigVersion{}, err
	}
	if err := json.Unmarshal([]byte(valuesJSON), &cv.Values); err != nil {
		return ConfigVersion{}, fmt.Errorf("parsing config values for %s v%d: %w", cv.AgentID, cv.Version, err)
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return ConfigVersion{}, fmt.Errorf("parsing config created_at: %w", err)
	}
	cv.CreatedAt = t
	return cv, nil
}
