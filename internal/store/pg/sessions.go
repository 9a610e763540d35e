// Package pg stores session records in Postgres for multi-instance or
// managed deployments. Records are a JSONB payload keyed by session id;
// the schema lives in migrations applied via the migrate subcommand.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nextlevelbuilder/threadclaw/internal/store"
)

// Store persists session records in a sessions table.
type Store struct {
	db *sql.DB
}

// New opens the database and verifies connectivity.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("pg store: open: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pg store: ping: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for migrations.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Save(ctx context.Context, rec *store.SessionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("pg store: marshal %s: %w", rec.SessionID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, data, created_at, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (session_id)
		 DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		rec.SessionID, data, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("pg store: save %s: %w", rec.SessionID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, sessionID string) (*store.SessionRecord, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM sessions WHERE session_id = $1`, sessionID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pg store: get %s: %w", sessionID, err)
	}
	var rec store.SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("pg store: decode %s: %w", sessionID, err)
	}
	return &rec, nil
}

func (s *Store) List(ctx context.Context) ([]*store.SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM sessions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("pg store: list: %w", err)
	}
	defer rows.Close()

	var recs []*store.SessionRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("pg store: scan: %w", err)
		}
		var rec store.SessionRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

func (s *Store) Delete(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("pg store: delete %s: %w", sessionID, err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }
