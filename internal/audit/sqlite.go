package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const decisionsSchema = `
CREATE TABLE IF NOT EXISTS permission_decisions (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	tool       TEXT NOT NULL,
	input      TEXT,
	allowed    INTEGER NOT NULL,
	reason     TEXT,
	interrupt  INTEGER NOT NULL DEFAULT 0,
	cached     INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_permission_decisions_session
	ON permission_decisions(session_id, created_at);
`

// SQLiteStore persists decision records to a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (and migrates) the audit database at path.
// Use ":memory:" for an ephemeral store.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if _, err := db.Exec(decisionsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// RecordDecision inserts one decision row.
func (s *SQLiteStore) RecordDecision(ctx context.Context, rec DecisionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permission_decisions
			(id, session_id, tool, input, allowed, reason, interrupt, cached, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, rec.Tool, string(rec.Input),
		rec.Allowed, rec.Reason, rec.Interrupt, rec.Cached, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// Decisions returns a session's records in chronological order.
func (s *SQLiteStore) Decisions(ctx context.Context, sessionID string) ([]DecisionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, tool, input, allowed, reason, interrupt, cached, created_at
		FROM permission_decisions
		WHERE session_id = ?
		ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var records []DecisionRecord
	for rows.Next() {
		var rec DecisionRecord
		var input string
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Tool, &input,
			&rec.Allowed, &rec.Reason, &rec.Interrupt, &rec.Cached, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		if input != "" {
			rec.Input = []byte(input)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
