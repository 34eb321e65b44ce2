package logging

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/danielpatrickdp/tsc-controller/internal/state"
)

// #region log-tick
// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// LogTick writes a provenance entry to the provenance_log table. Pass the *sql.Tx that
// commits the version to keep the two rows atomic.
func LogTick(db Execer, entry ProvenanceEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO provenance_log (version_id, window_hash, trigger_type, verdict, effects_json, measurements_json, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.VersionID,
		nullIfEmpty(entry.WindowHash),
		entry.TriggerType,
		entry.Verdict,
		nullIfEmpty(entry.EffectsJSON),
		nullIfEmpty(entry.MeasurementsJSON),
		nullIfEmpty(entry.Reason),
		entry.CreatedAt.UTC().Format(state.TimeLayout),
	)
	if err != nil {
		return fmt.Errorf("log tick: %w", err)
	}
	return nil
}

// #endregion log-tick

// #region read-ticks
// ReadTicks returns provenance rows that carry a tick record, oldest first.
// A limit of zero or less returns every row.
func ReadTicks(db *sql.DB, limit int) ([]TickRow, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(
		`SELECT id, version_id, COALESCE(window_hash, ''), measurements_json, created_at
		 FROM provenance_log
		 WHERE measurements_json IS NOT NULL
		 ORDER BY id ASC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("read ticks: %w", err)
	}
	defer rows.Close()

	var out []TickRow
	for rows.Next() {
		var row TickRow
		var raw, createdStr string
		if err := rows.Scan(&row.ID, &row.VersionID, &row.WindowHash, &raw, &createdStr); err != nil {
			return nil, fmt.Errorf("scan tick: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &row.Record); err != nil {
			return nil, fmt.Errorf("decode tick %d: %w", row.ID, err)
		}
		row.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		out = append(out, row)
	}
	return out, rows.Err()
}

// #endregion read-ticks

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
