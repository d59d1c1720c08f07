package risk

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists threat assessments in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed assessment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the threat_assessments table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS threat_assessments (
			id               VARCHAR(36) PRIMARY KEY,
			session_id       VARCHAR(64) NOT NULL,
			confidence       INTEGER NOT NULL CHECK (confidence >= 0 AND confidence <= 100),
			level            VARCHAR(10) NOT NULL CHECK (level IN ('minimal', 'low', 'medium', 'high', 'critical')),
			threats          JSONB NOT NULL DEFAULT '[]',
			recommendations  TEXT[] NOT NULL DEFAULT '{}',
			evaluated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_threat_assessments_session
			ON threat_assessments (session_id, evaluated_at DESC);

		CREATE INDEX IF NOT EXISTS idx_threat_assessments_critical
			ON threat_assessments (evaluated_at DESC) WHERE level = 'critical';
	`)
	return err
}

func (s *PostgresStore) Record(ctx context.Context, assessment *Assessment) error {
	threatsJSON, err := json.Marshal(assessment.Threats)
	if err != nil {
		return fmt.Errorf("failed to marshal threats: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO threat_assessments (id, session_id, confidence, level, threats, recommendations, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		assessment.ID,
		assessment.Session,
		assessment.Confidence,
		string(assessment.Level),
		threatsJSON,
		pq.Array(assessment.Recommendations),
		assessment.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record threat assessment: %w", err)
	}

	// Trim the session trail so client-chosen session IDs cannot grow
	// the table without bound.
	_, err = s.db.ExecContext(ctx, `
		DELETE FROM threat_assessments
		WHERE session_id = $1
		  AND id NOT IN (
			SELECT id FROM threat_assessments
			WHERE session_id = $1
			ORDER BY evaluated_at DESC
			LIMIT $2
		  )
	`, assessment.Session, MaxTrailLength)
	if err != nil {
		return fmt.Errorf("failed to trim threat assessment trail: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListBySession(ctx context.Context, session string, limit int) ([]*Assessment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, confidence, level, threats, recommendations, evaluated_at
		FROM threat_assessments
		WHERE session_id = $1
		ORDER BY evaluated_at DESC
		LIMIT $2
	`, session, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list threat assessments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Assessment
	for rows.Next() {
		var a Assessment
		var threatsJSON []byte
		var evaluatedAt time.Time

		if err := rows.Scan(&a.ID, &a.Session, &a.Confidence, &a.Level, &threatsJSON, pq.Array(&a.Recommendations), &evaluatedAt); err != nil {
			continue
		}
		a.EvaluatedAt = evaluatedAt
		_ = json.Unmarshal(threatsJSON, &a.Threats)
		result = append(result, &a)
	}
	return result, nil
}
