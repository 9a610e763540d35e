// Package sqlite stores session records in an embedded SQLite database.
// Suited for single-instance deployments that want queryable history
// without running Postgres.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/threadclaw/internal/store"
)

// Store persists session records in a sessions table.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database file and applies the schema.
func New(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite store: create %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open %s: %w", path, err)
	}
	// The modernc driver serializes writes itself; one connection avoids
	// SQLITE_BUSY under concurrent saves.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions (created_at);
`

func (s *Store) Save(ctx context.Context, rec *store.SessionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("sqlite store: marshal %s: %w", rec.SessionID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, data, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (session_id)
		 DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		rec.SessionID, string(data), rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite store: save %s: %w", rec.SessionID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, sessionID string) (*store.SessionRecord, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM sessions WHERE session_id = ?`, sessionID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite store: get %s: %w", sessionID, err)
	}
	var rec store.SessionRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("sqlite store: decode %s: %w", sessionID, err)
	}
	return &rec, nil
}

func (s *Store) List(ctx context.Context) ([]*store.SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM sessions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list: %w", err)
	}
	defer rows.Close()

	var recs []*store.SessionRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("sqlite store: scan: %w", err)
		}
		var rec store.SessionRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			continue
		}
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

func (s *Store) Delete(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("sqlite store: delete %s: %w", sessionID, err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }
