package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/paylinehq/payline/internal/intent"
)

const uniqueViolation = "23505"

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanIntent reads an intent row from the scanner.
// Expected column order: id, idempotency_key, amount, currency, state,
// processor_ref, failure_reason, refunded_amount, version, created_at, updated_at
func scanIntent(s scanner) (*intent.Intent, error) {
	var in intent.Intent

	var stateStr string

	var ref, reason sql.NullString

	if err := s.Scan(
		&in.ID, &in.IdempotencyKey, &in.Amount, &in.Currency, &stateStr,
		&ref, &reason, &in.RefundedAmount, &in.Version,
		&in.CreatedAt, &in.UpdatedAt,
	); err != nil {
		return nil, err
	}

	in.State = intent.State(stateStr)

	if ref.Valid {
		in.ProcessorRef = &ref.String
	}

	if reason.Valid {
		in.FailureReason = &reason.String
	}

	return &in, nil
}

const selectIntentColumns = `
	id, idempotency_key, amount, currency, state,
	processor_ref, failure_reason, refunded_amount, version, created_at, updated_at
`

func (s *Store) CreateIntent(ctx context.Context, in *intent.Intent) error {
	query := `
		INSERT INTO payment_intents (idempotency_key, amount, currency, state, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, NOW(), NOW())
		RETURNING id, version, created_at, updated_at
	`

	err := s.db.QueryRowContext(ctx, query,
		in.IdempotencyKey,
		in.Amount,
		in.Currency,
		in.State,
	).Scan(&in.ID, &in.Version, &in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return intent.ErrAlreadyExists
		}

		return fmt.Errorf("creating intent: %w", err)
	}

	return nil
}

func (s *Store) GetIntent(ctx context.Context, id uuid.UUID) (*intent.Intent, error) {
	query := `SELECT ` + selectIntentColumns + `
		FROM payment_intents
		WHERE id = $1`

	in, err := scanIntent(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, intent.ErrNotFound
		}

		return nil, fmt.Errorf("getting intent: %w", err)
	}

	return in, nil
}

func (s *Store) GetIntentByIdempotencyKey(ctx context.Context, key string) (*intent.Intent, error) {
	query := `SELECT ` + selectIntentColumns + `
		FROM payment_intents
		WHERE idempotency_key = $1`

	in, err := scanIntent(s.db.QueryRowContext(ctx, query, key))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, intent.ErrNotFound
		}

		return nil, fmt.Errorf("getting intent by idempotency key: %w", err)
	}

	return in, nil
}

// CompareAndSwap applies the patch in a single conditional UPDATE so the
// version check and the write are atomic.
func (s *Store) CompareAndSwap(ctx context.Context, id uuid.UUID, expectedVersion int64, patch intent.Patch) (*intent.Intent, error) {
	query := `
		UPDATE payment_intents
		SET state = $1,
		    processor_ref = COALESCE($2, processor_ref),
		    failure_reason = COALESCE($3, failure_reason),
		    refunded_amount = COALESCE($4, refunded_amount),
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $5 AND version = $6
		RETURNING ` + selectIntentColumns

	in, err := scanIntent(s.db.QueryRowContext(ctx, query,
		patch.State,
		patch.ProcessorRef,
		patch.FailureReason,
		patch.RefundedAmount,
		id,
		expectedVersion,
	))
	if err != nil {
		if err == sql.ErrNoRows {
			// No row matched: either the id is unknown or the version is stale.
			if _, gerr := s.GetIntent(ctx, id); gerr != nil {
				return nil, gerr
			}

			return nil, intent.ErrVersionConflict
		}

		return nil, fmt.Errorf("swapping intent state: %w", err)
	}

	return in, nil
}
