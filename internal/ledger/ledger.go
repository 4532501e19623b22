// Package ledger implements the SQLite-backed record of applied migrations,
// dataset batches, and schema snapshots. The ledger is the single authority
// on what has been applied; the engine never trusts live graph state.
package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

const schemaVersion = 1

const initSQL = `
CREATE TABLE IF NOT EXISTS ledger_meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS applied_migrations (
    seq           INTEGER PRIMARY KEY AUTOINCREMENT,
    revision_id   TEXT NOT NULL UNIQUE,
    parent_id     TEXT,
    description   TEXT NOT NULL DEFAULT '',
    schema_hash   TEXT NOT NULL,
    applied_at    TEXT NOT NULL,
    rollback_safe INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS dataset_batches (
    batch_id       TEXT PRIMARY KEY,
    migration_id   TEXT,
    source_file    TEXT,
    file_checksum  TEXT,
    loader_version TEXT,
    record_count   INTEGER,
    created_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS schema_snapshots (
    schema_hash   TEXT PRIMARY KEY,
    snapshot_json TEXT NOT NULL,
    created_at    TEXT NOT NULL
);
`

var (
	// ErrConflict means a revision or batch id is already recorded,
	// indicating a repeated or concurrent run.
	ErrConflict = errors.New("ledger conflict")
	// ErrNotApplied means a revision is not the current head of applied
	// history and therefore cannot be unrecorded.
	ErrNotApplied = errors.New("revision is not the applied head")
)

type AppliedMigration struct {
	RevisionID   string
	ParentID     string
	Description  string
	SchemaHash   string
	AppliedAt    string
	RollbackSafe bool
}

type DatasetBatch struct {
	BatchID       string
	MigrationID   string
	SourceFile    string
	FileChecksum  string
	LoaderVersion string
	RecordCount   int64
	CreatedAt     string
}

// Ledger wraps a single SQLite database. The engine assumes one writer
// process per ledger file; SetMaxOpenConns(1) keeps all statements on one
// connection so transactions serialize.
type Ledger struct {
	db   *sql.DB
	path string
}

func Open(path string) (*Ledger, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create ledger directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger at '%s': %w", path, err)
	}
	db.SetMaxOpenConns(1)

	l := &Ledger{db: db, path: path}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) initSchema() error {
	if _, err := l.db.Exec(initSQL); err != nil {
		return fmt.Errorf("failed to initialize ledger schema: %w", err)
	}
	var v string
	err := l.db.QueryRow("SELECT value FROM ledger_meta WHERE key = 'schema_version'").Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = l.db.Exec("INSERT INTO ledger_meta (key, value) VALUES (?, ?)",
			"schema_version", fmt.Sprint(schemaVersion))
	}
	if err != nil {
		return fmt.Errorf("failed to read ledger metadata: %w", err)
	}
	return nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) Path() string {
	return l.path
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

func (l *Ledger) AppliedMigrations() ([]AppliedMigration, error) {
	rows, err := l.db.Query(
		`SELECT revision_id, COALESCE(parent_id, ''), description, schema_hash, applied_at, rollback_safe
		 FROM applied_migrations ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	var out []AppliedMigration
	for rows.Next() {
		var m AppliedMigration
		var safe int
		if err := rows.Scan(&m.RevisionID, &m.ParentID, &m.Description, &m.SchemaHash, &m.AppliedAt, &safe); err != nil {
			return nil, fmt.Errorf("failed to scan applied migration: %w", err)
		}
		m.RollbackSafe = safe != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

// AppliedRevisions returns revision ids in application order, which may
// diverge from chain order; the engine treats that divergence as drift.
func (l *Ledger) AppliedRevisions() ([]string, error) {
	applied, err := l.AppliedMigrations()
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(applied))
	for i, m := range applied {
		ids[i] = m.RevisionID
	}
	return ids, nil
}

// Head returns the most recently applied migration, or nil when the ledger
// is empty.
func (l *Ledger) Head() (*AppliedMigration, error) {
	applied, err := l.AppliedMigrations()
	if err != nil {
		return nil, err
	}
	if len(applied) == 0 {
		return nil, nil
	}
	return &applied[len(applied)-1], nil
}

func (l *Ledger) IsApplied(revisionID string) (bool, error) {
	var one int
	err := l.db.QueryRow("SELECT 1 FROM applied_migrations WHERE revision_id = ?", revisionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check applied state: %w", err)
	}
	return true, nil
}

// Batches returns dataset batches, optionally filtered by owning migration.
func (l *Ledger) Batches(migrationID string) ([]DatasetBatch, error) {
	query := `SELECT batch_id, COALESCE(migration_id, ''), COALESCE(source_file, ''),
	                 COALESCE(file_checksum, ''), COALESCE(loader_version, ''),
	                 COALESCE(record_count, 0), created_at
	          FROM dataset_batches`
	args := []any{}
	if migrationID != "" {
		query += " WHERE migration_id = ?"
		args = append(args, migrationID)
	}
	query += " ORDER BY created_at"

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	var out []DatasetBatch
	for rows.Next() {
		var b DatasetBatch
		if err := rows.Scan(&b.BatchID, &b.MigrationID, &b.SourceFile, &b.FileChecksum,
			&b.LoaderVersion, &b.RecordCount, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetSnapshot returns the stored snapshot JSON for a schema hash.
func (l *Ledger) GetSnapshot(schemaHash string) (string, bool, error) {
	var raw string
	err := l.db.QueryRow("SELECT snapshot_json FROM schema_snapshots WHERE schema_hash = ?", schemaHash).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return raw, true, nil
}

// VerifyChain checks parent-link integrity of the recorded history and
// returns a list of issues (empty when consistent).
func (l *Ledger) VerifyChain() ([]string, error) {
	applied, err := l.AppliedMigrations()
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(applied))
	for _, m := range applied {
		ids[m.RevisionID] = struct{}{}
	}
	var issues []string
	for _, m := range applied {
		if m.ParentID != "" {
			if _, ok := ids[m.ParentID]; !ok {
				issues = append(issues, fmt.Sprintf(
					"migration '%s' references unknown parent '%s'", m.RevisionID, m.ParentID))
			}
		}
	}
	return issues, nil
}

// ---------------------------------------------------------------------------
// Writes outside a migration transaction (authoring and ingest flows)
// ---------------------------------------------------------------------------

// StoreSnapshot inserts or replaces a serialized snapshot keyed by hash.
func (l *Ledger) StoreSnapshot(schemaHash, snapshotJSON string) error {
	_, err := l.db.Exec(
		`INSERT OR REPLACE INTO schema_snapshots (schema_hash, snapshot_json, created_at)
		 VALUES (?, ?, ?)`,
		schemaHash, snapshotJSON, now())
	if err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	return nil
}

// RecordBatch inserts a standalone batch row (ingest outside a migration).
func (l *Ledger) RecordBatch(b DatasetBatch) (DatasetBatch, error) {
	b.CreatedAt = now()
	_, err := l.db.Exec(
		`INSERT INTO dataset_batches
		 (batch_id, migration_id, source_file, file_checksum, loader_version, record_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.BatchID, nullable(b.MigrationID), nullable(b.SourceFile), nullable(b.FileChecksum),
		nullable(b.LoaderVersion), b.RecordCount, b.CreatedAt)
	if err != nil {
		if isConstraintErr(err) {
			return DatasetBatch{}, fmt.Errorf("batch '%s' is already recorded: %w", b.BatchID, ErrConflict)
		}
		return DatasetBatch{}, fmt.Errorf("failed to record batch: %w", err)
	}
	return b, nil
}

func (l *Ledger) DeleteBatch(batchID string) error {
	_, err := l.db.Exec("DELETE FROM dataset_batches WHERE batch_id = ?", batchID)
	if err != nil {
		return fmt.Errorf("failed to delete batch '%s': %w", batchID, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Transactions
// ---------------------------------------------------------------------------

// Tx scopes every ledger write for one migration application or reversal.
// Either all rows persist or none do.
type Tx struct {
	tx   *sql.Tx
	done bool
}

func (l *Ledger) Begin() (*Tx, error) {
	tx, err := l.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin ledger transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

func (t *Tx) Commit() error {
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ledger transaction: %w", err)
	}
	return nil
}

// Rollback is a no-op after Commit, so it is safe to defer.
func (t *Tx) Rollback() {
	if t.done {
		return
	}
	if err := t.tx.Rollback(); err != nil {
		log.Warn().Err(err).Msg("ledger transaction rollback failed")
	}
}

func (t *Tx) RecordApplied(m AppliedMigration) error {
	safe := 0
	if m.RollbackSafe {
		safe = 1
	}
	_, err := t.tx.Exec(
		`INSERT INTO applied_migrations
		 (revision_id, parent_id, description, schema_hash, applied_at, rollback_safe)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.RevisionID, nullable(m.ParentID), m.Description, m.SchemaHash, now(), safe)
	if err != nil {
		if isConstraintErr(err) {
			return fmt.Errorf("migration '%s' is already recorded: %w", m.RevisionID, ErrConflict)
		}
		return fmt.Errorf("failed to record migration '%s': %w", m.RevisionID, err)
	}
	return nil
}

// UnrecordApplied removes a migration from applied history. Only the current
// head may be unrecorded; history is never edited in place.
func (t *Tx) UnrecordApplied(revisionID string) error {
	var head string
	err := t.tx.QueryRow(
		"SELECT revision_id FROM applied_migrations ORDER BY seq DESC LIMIT 1").Scan(&head)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("migration '%s': %w", revisionID, ErrNotApplied)
	}
	if err != nil {
		return fmt.Errorf("failed to read applied head: %w", err)
	}
	if head != revisionID {
		return fmt.Errorf("migration '%s' (head is '%s'): %w", revisionID, head, ErrNotApplied)
	}
	if _, err := t.tx.Exec("DELETE FROM applied_migrations WHERE revision_id = ?", revisionID); err != nil {
		return fmt.Errorf("failed to unrecord migration '%s': %w", revisionID, err)
	}
	return nil
}

func (t *Tx) CreateBatch(b DatasetBatch) error {
	_, err := t.tx.Exec(
		`INSERT INTO dataset_batches
		 (batch_id, migration_id, source_file, file_checksum, loader_version, record_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.BatchID, nullable(b.MigrationID), nullable(b.SourceFile), nullable(b.FileChecksum),
		nullable(b.LoaderVersion), b.RecordCount, now())
	if err != nil {
		if isConstraintErr(err) {
			return fmt.Errorf("batch '%s' is already recorded: %w", b.BatchID, ErrConflict)
		}
		return fmt.Errorf("failed to create batch '%s': %w", b.BatchID, err)
	}
	return nil
}

func (t *Tx) DeleteBatch(batchID string) error {
	if _, err := t.tx.Exec("DELETE FROM dataset_batches WHERE batch_id = ?", batchID); err != nil {
		return fmt.Errorf("failed to delete batch '%s': %w", batchID, err)
	}
	return nil
}

// UpdateBatchCount sets the running row count on a batch.
func (t *Tx) UpdateBatchCount(batchID string, count int64) error {
	if _, err := t.tx.Exec("UPDATE dataset_batches SET record_count = ? WHERE batch_id = ?", count, batchID); err != nil {
		return fmt.Errorf("failed to update count for batch '%s': %w", batchID, err)
	}
	return nil
}

// DeleteBatchesFor removes every batch row owned by a migration.
func (t *Tx) DeleteBatchesFor(revisionID string) error {
	if _, err := t.tx.Exec("DELETE FROM dataset_batches WHERE migration_id = ?", revisionID); err != nil {
		return fmt.Errorf("failed to delete batches for '%s': %w", revisionID, err)
	}
	return nil
}

func (t *Tx) StoreSnapshot(schemaHash, snapshotJSON string) error {
	_, err := t.tx.Exec(
		`INSERT OR REPLACE INTO schema_snapshots (schema_hash, snapshot_json, created_at)
		 VALUES (?, ?, ?)`,
		schemaHash, snapshotJSON, now())
	if err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isConstraintErr(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}
