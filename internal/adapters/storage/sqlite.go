package storage

// sqlite.go — local journal and completed-payments mirror.
//
// Tables:
//   attempts  — every execution attempt the engine submitted (or classified)
//   completed — mirror of payments we saw executed, queryable by recipient
//
// Nothing here is authoritative; the chain is. The mirror exists so "what
// have I been paid" doesn't require re-deriving the event log.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alejandrodnm/rolewatch/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS attempts (
    id          TEXT PRIMARY KEY,   -- local UUID
    role_id     TEXT NOT NULL,
    outcome     TEXT NOT NULL,
    tx_ref      TEXT NOT NULL DEFAULT '',
    executed    INTEGER NOT NULL DEFAULT 0,
    error       TEXT NOT NULL DEFAULT '',
    started_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS attempts_role ON attempts(role_id, started_at DESC);

CREATE TABLE IF NOT EXISTS completed (
    id          TEXT PRIMARY KEY,   -- local UUID
    role_id     TEXT NOT NULL,
    role_name   TEXT NOT NULL DEFAULT '',
    recipient   TEXT NOT NULL,
    amount      INTEGER NOT NULL,
    executed_at DATETIME NOT NULL,
    tx_ref      TEXT NOT NULL DEFAULT '',
    UNIQUE(role_id, tx_ref, recipient, amount)
);

CREATE INDEX IF NOT EXISTS completed_recipient ON completed(recipient, executed_at DESC);
`

// Attempts older than this are pruned on startup. The completed mirror is
// kept indefinitely — it's the point of having it.
const retentionAttempts = 90 * 24 * time.Hour

// SQLiteJournal implements ports.Journal using SQLite (pure Go, no CGo).
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal opens (or creates) the database at the given path,
// applies the schema, and prunes old attempts.
func NewSQLiteJournal(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteJournal: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteJournal: apply schema: %w", err)
	}

	j := &SQLiteJournal{db: db}
	j.pruneOld(context.Background())
	return j, nil
}

// RecordAttempt persists one execution attempt.
func (j *SQLiteJournal) RecordAttempt(ctx context.Context, a domain.ExecutionAttempt) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO attempts (id, role_id, outcome, tx_ref, executed, error, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.RoleID, a.Outcome, a.TxRef, a.Executed, a.Error, a.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("storage.RecordAttempt: %w", err)
	}
	return nil
}

// Attempts returns the most recent attempts for a role, newest first.
func (j *SQLiteJournal) Attempts(ctx context.Context, roleID string, limit int) ([]domain.ExecutionAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, role_id, outcome, tx_ref, executed, error, started_at
		FROM attempts WHERE role_id = ?
		ORDER BY started_at DESC LIMIT ?`, roleID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.Attempts: %w", err)
	}
	defer rows.Close()

	var out []domain.ExecutionAttempt
	for rows.Next() {
		var a domain.ExecutionAttempt
		if err := rows.Scan(&a.ID, &a.RoleID, &a.Outcome, &a.TxRef, &a.Executed, &a.Error, &a.StartedAt); err != nil {
			return nil, fmt.Errorf("storage.Attempts: scan: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// RecordCompleted upserts mirrored payments; replays of the same execution
// (same role, tx, recipient, amount) are absorbed by the UNIQUE constraint.
func (j *SQLiteJournal) RecordCompleted(ctx context.Context, payments []domain.CompletedPayment) error {
	if len(payments) == 0 {
		return nil
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.RecordCompleted: begin: %w", err)
	}
	defer tx.Rollback()

	for _, p := range payments {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO completed (id, role_id, role_name, recipient, amount, executed_at, tx_ref)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(role_id, tx_ref, recipient, amount) DO NOTHING`,
			p.ID, p.RoleID, p.RoleName, p.Recipient, p.Amount, p.ExecutedAt.UTC(), p.TxRef)
		if err != nil {
			return fmt.Errorf("storage.RecordCompleted: insert: %w", err)
		}
	}
	return tx.Commit()
}

// CompletedByRecipient lists mirrored payments for one recipient, newest
// first.
func (j *SQLiteJournal) CompletedByRecipient(ctx context.Context, recipient string) ([]domain.CompletedPayment, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, role_id, role_name, recipient, amount, executed_at, tx_ref
		FROM completed WHERE recipient = ?
		ORDER BY executed_at DESC`, recipient)
	if err != nil {
		return nil, fmt.Errorf("storage.CompletedByRecipient: %w", err)
	}
	defer rows.Close()

	var out []domain.CompletedPayment
	for rows.Next() {
		var p domain.CompletedPayment
		if err := rows.Scan(&p.ID, &p.RoleID, &p.RoleName, &p.Recipient, &p.Amount, &p.ExecutedAt, &p.TxRef); err != nil {
			return nil, fmt.Errorf("storage.CompletedByRecipient: scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Close closes the database cleanly.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

func (j *SQLiteJournal) pruneOld(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-retentionAttempts)
	_, _ = j.db.ExecContext(ctx, `DELETE FROM attempts WHERE started_at < ?`, cutoff)
}
