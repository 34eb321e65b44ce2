package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrVersionNotFound is returned when a requested controller version does not exist.
var ErrVersionNotFound = errors.New("controller version not found")

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS controller_versions (
	version_id        TEXT PRIMARY KEY,
	parent_id         TEXT,
	state             TEXT NOT NULL,
	tau_max           REAL NOT NULL,
	tau_h             REAL NOT NULL,
	tau_v             REAL NOT NULL,
	tau_d             REAL NOT NULL,
	ood_clear         INTEGER NOT NULL,
	drift             INTEGER NOT NULL,
	handshake_passes  INTEGER NOT NULL,
	created_at        TEXT NOT NULL,
	FOREIGN KEY (parent_id) REFERENCES controller_versions(version_id)
);

CREATE TABLE IF NOT EXISTS provenance_log (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	version_id         TEXT NOT NULL,
	window_hash        TEXT,
	trigger_type       TEXT NOT NULL,
	verdict            TEXT NOT NULL,
	effects_json       TEXT,
	measurements_json  TEXT,
	reason             TEXT,
	created_at         TEXT NOT NULL,
	FOREIGN KEY (version_id) REFERENCES controller_versions(version_id)
);

CREATE TABLE IF NOT EXISTS active_state (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	version_id    TEXT NOT NULL,
	FOREIGN KEY (version_id) REFERENCES controller_versions(version_id)
);
`

// TimeLayout is the fixed-width form of created_at, so text order is time order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const versionColumns = `version_id, parent_id, state, tau_max, tau_h, tau_v, tau_d,
	ood_clear, drift, handshake_passes, created_at`

// #endregion schema

// #region store-struct
// Store manages versioned controller state in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// #endregion close

// #region db-accessor
// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion db-accessor

// #region new-record
// NewRecord wraps ctrl in a fresh version whose parent is parentID.
func NewRecord(parentID string, ctrl ControllerState) StateRecord {
	return StateRecord{
		VersionID:  uuid.New().String(),
		ParentID:   parentID,
		Controller: ctrl,
		CreatedAt:  time.Now().UTC(),
	}
}

// #endregion new-record

// #region create-initial
// CreateInitialState stores ctrl as a parentless version and makes it active.
func (s *Store) CreateInitialState(ctrl ControllerState) (StateRecord, error) {
	rec := NewRecord("", ctrl)

	tx, err := s.db.Begin()
	if err != nil {
		return StateRecord{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertVersion(tx, rec); err != nil {
		return StateRecord{}, err
	}

	_, err = tx.Exec(
		`INSERT INTO active_state (id, version_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET version_id = excluded.version_id`,
		rec.VersionID,
	)
	if err != nil {
		return StateRecord{}, fmt.Errorf("set active: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return StateRecord{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

// #endregion create-initial

// #region get-current
// GetCurrent reads the active controller version.
func (s *Store) GetCurrent() (StateRecord, error) {
	var versionID string
	err := s.db.QueryRow(`SELECT version_id FROM active_state WHERE id = 1`).Scan(&versionID)
	if errors.Is(err, sql.ErrNoRows) {
		return StateRecord{}, fmt.Errorf("get active: %w", ErrVersionNotFound)
	}
	if err != nil {
		return StateRecord{}, fmt.Errorf("get active: %w", err)
	}
	return s.GetVersion(versionID)
}

// #endregion get-current

// #region get-version
// GetVersion retrieves a specific controller version by ID.
func (s *Store) GetVersion(id string) (StateRecord, error) {
	row := s.db.QueryRow(`SELECT `+versionColumns+` FROM controller_versions WHERE version_id = ?`, id)
	rec, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return StateRecord{}, fmt.Errorf("get version %s: %w", id, ErrVersionNotFound)
	}
	if err != nil {
		return StateRecord{}, fmt.Errorf("get version %s: %w", id, err)
	}
	return rec, nil
}

// #endregion get-version

// #region commit-state
// CommitState inserts a new version and updates the active pointer atomically.
func (s *Store) CommitState(rec StateRecord) error {
	return s.CommitStateWith(rec, nil)
}

// CommitStateWith is CommitState with within run in the same transaction, after the version
// row is inserted. If within fails nothing is written and the active pointer stays put.
func (s *Store) CommitStateWith(rec StateRecord, within func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertVersion(tx, rec); err != nil {
		return err
	}
	if within != nil {
		if err := within(tx); err != nil {
			return err
		}
	}

	_, err = tx.Exec(`UPDATE active_state SET version_id = ? WHERE id = 1`, rec.VersionID)
	if err != nil {
		return fmt.Errorf("update active: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// #endregion commit-state

// #region rollback
// Rollback sets the active pointer to a previous version.
func (s *Store) Rollback(targetVersionID string) error {
	var exists int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM controller_versions WHERE version_id = ?`, targetVersionID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check version: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("rollback to %s: %w", targetVersionID, ErrVersionNotFound)
	}

	_, err = s.db.Exec(`UPDATE active_state SET version_id = ? WHERE id = 1`, targetVersionID)
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// #endregion rollback

// #region list-versions
// ListVersions returns the most recent controller versions, newest first.
func (s *Store) ListVersions(limit int) ([]StateRecord, error) {
	rows, err := s.db.Query(
		`SELECT `+versionColumns+` FROM controller_versions ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var records []StateRecord
	for rows.Next() {
		rec, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

const provenanceSelect = `SELECT v.version_id, v.parent_id, v.state, v.tau_max, v.tau_h, v.tau_v, v.tau_d,
	        v.ood_clear, v.drift, v.handshake_passes, v.created_at,
	        p.verdict, p.effects_json, p.reason, p.window_hash, p.measurements_json
	 FROM controller_versions v
	 LEFT JOIN provenance_log p ON p.version_id = v.version_id`

// ListVersionsWithProvenance returns recent versions joined with the provenance row that
// produced them, newest first. Versions without provenance (the initial state) carry
// empty provenance fields.
func (s *Store) ListVersionsWithProvenance(limit int) ([]VersionWithProvenance, error) {
	rows, err := s.db.Query(provenanceSelect+` ORDER BY v.created_at DESC, v.rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list versions with provenance: %w", err)
	}
	defer rows.Close()

	var out []VersionWithProvenance
	for rows.Next() {
		vp, err := scanVersionWithProvenance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, vp)
	}
	return out, rows.Err()
}

// GetVersionWithProvenance returns one version joined with its provenance row.
func (s *Store) GetVersionWithProvenance(id string) (VersionWithProvenance, error) {
	row := s.db.QueryRow(provenanceSelect+` WHERE v.version_id = ? LIMIT 1`, id)
	vp, err := scanVersionWithProvenance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return VersionWithProvenance{}, fmt.Errorf("get version with provenance %s: %w", id, ErrVersionNotFound)
	}
	if err != nil {
		return VersionWithProvenance{}, fmt.Errorf("get version with provenance %s: %w", id, err)
	}
	return vp, nil
}

func scanVersionWithProvenance(row rowScanner) (VersionWithProvenance, error) {
	var vp VersionWithProvenance
	var parentID, verdict, effects, reason, hash, measurement sql.NullString
	var stateName, createdStr string
	c := &vp.Controller
	if err := row.Scan(
		&vp.VersionID, &parentID, &stateName, &c.Tau.TauMax, &c.Tau.H, &c.Tau.V, &c.Tau.D,
		&c.Counters.OODClear, &c.Counters.Drift, &c.Counters.HandshakePasses, &createdStr,
		&verdict, &effects, &reason, &hash, &measurement,
	); err != nil {
		return VersionWithProvenance{}, err
	}
	vp.ParentID = parentID.String
	c.State = State(stateName)
	vp.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	vp.Verdict = verdict.String
	vp.Effects = effects.String
	vp.Reason = reason.String
	vp.WindowHash = hash.String
	vp.Measurement = measurement.String
	return vp, nil
}

// #endregion list-versions

// #region row-helpers
type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (StateRecord, error) {
	var rec StateRecord
	var parentID sql.NullString
	var stateName, createdStr string
	c := &rec.Controller
	err := row.Scan(
		&rec.VersionID, &parentID, &stateName, &c.Tau.TauMax, &c.Tau.H, &c.Tau.V, &c.Tau.D,
		&c.Counters.OODClear, &c.Counters.Drift, &c.Counters.HandshakePasses, &createdStr,
	)
	if err != nil {
		return StateRecord{}, err
	}
	if parentID.Valid {
		rec.ParentID = parentID.String
	}
	c.State = State(stateName)
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return rec, nil
}

func insertVersion(tx *sql.Tx, rec StateRecord) error {
	var parentPtr any
	if rec.ParentID != "" {
		parentPtr = rec.ParentID
	}
	c := rec.Controller
	_, err := tx.Exec(
		`INSERT INTO controller_versions (`+versionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.VersionID, parentPtr, string(c.State), c.Tau.TauMax, c.Tau.H, c.Tau.V, c.Tau.D,
		c.Counters.OODClear, c.Counters.Drift, c.Counters.HandshakePasses,
		rec.CreatedAt.UTC().Format(TimeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}
	return nil
}

// #endregion row-helpers
