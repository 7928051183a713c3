package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/paylinehq/payline/internal/idempotency"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert performs the atomic admit: INSERT ... ON CONFLICT DO NOTHING means
// exactly one concurrent caller per key gets its row in; the rest read the
// winner's record.
func (s *Store) Insert(ctx context.Context, rec *idempotency.Record) (*idempotency.Record, bool, error) {
	query := `
		INSERT INTO idempotency_keys (key, fingerprint, status, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (key) DO NOTHING
		RETURNING created_at
	`

	err := s.db.QueryRowContext(ctx, query, rec.Key, rec.Fingerprint, rec.Status).Scan(&rec.CreatedAt)
	if err == nil {
		return rec, true, nil
	}

	if err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("inserting idempotency key: %w", err)
	}

	existing, err := s.get(ctx, rec.Key)
	if err != nil {
		return nil, false, err
	}

	return existing, false, nil
}

func (s *Store) get(ctx context.Context, key string) (*idempotency.Record, error) {
	query := `
		SELECT key, fingerprint, status, intent_id, created_at, completed_at
		FROM idempotency_keys
		WHERE key = $1
	`

	var rec idempotency.Record

	var intentID uuid.NullUUID

	var completedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, query, key).Scan(
		&rec.Key, &rec.Fingerprint, &rec.Status, &intentID, &rec.CreatedAt, &completedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("getting idempotency key: %w", err)
	}

	if intentID.Valid {
		rec.IntentID = intentID.UUID
	}

	if completedAt.Valid {
		rec.CompletedAt = &completedAt.Time
	}

	return &rec, nil
}

func (s *Store) Complete(ctx context.Context, key string, intentID uuid.UUID) error {
	query := `
		UPDATE idempotency_keys
		SET status = $1, intent_id = $2, completed_at = NOW()
		WHERE key = $3
	`

	if _, err := s.db.ExecContext(ctx, query, idempotency.StatusCompleted, intentID, key); err != nil {
		return fmt.Errorf("completing idempotency key: %w", err)
	}

	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	query := `DELETE FROM idempotency_keys WHERE key = $1`

	if _, err := s.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("deleting idempotency key: %w", err)
	}

	return nil
}

// Reclaim re-stamps a stale pending record. The conditional UPDATE makes the
// takeover atomic: only one of several reclaiming callers sees a row change.
func (s *Store) Reclaim(ctx context.Context, key string, cutoff time.Time) (bool, error) {
	query := `
		UPDATE idempotency_keys
		SET created_at = NOW()
		WHERE key = $1 AND status = $2 AND created_at < $3
	`

	res, err := s.db.ExecContext(ctx, query, key, idempotency.StatusPending, cutoff)
	if err != nil {
		return false, fmt.Errorf("reclaiming idempotency key: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reclaiming idempotency key: %w", err)
	}

	return rows > 0, nil
}
