package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresStore persists verification state in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed key-value store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the gate_kv table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS gate_kv (
			session_id  VARCHAR(64) NOT NULL,
			key         VARCHAR(32) NOT NULL,
			value       TEXT NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (session_id, key)
		);

		CREATE INDEX IF NOT EXISTS idx_gate_kv_updated
			ON gate_kv (updated_at DESC);
	`)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, session, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM gate_kv WHERE session_id = $1 AND key = $2
	`, session, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, nil
}

func (s *PostgresStore) Set(ctx context.Context, session, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gate_kv (session_id, key, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (session_id, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, session, key, value)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, session, key string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM gate_kv WHERE session_id = $1 AND key = $2
	`, session, key)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) DeleteAll(ctx context.Context, session string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM gate_kv WHERE session_id = $1
	`, session)
	if err != nil {
		return fmt.Errorf("failed to delete session state: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
