// Package idempotency deduplicates requests by client-supplied key. A record
// is inserted atomically when a key is first seen; duplicate callers observe
// either the in-flight marker or the completed result, and a key reused with
// a different request fingerprint is rejected.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/paylinehq/payline/internal/intent"
)

// Record statuses.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

// Record is one idempotency-key admission and its outcome.
type Record struct {
	Key         string
	Fingerprint string
	Status      string
	IntentID    uuid.UUID
	CreatedAt   time.Time
	CompletedAt *time.Time
}

//go:generate mockgen -source=service.go -destination=service_mock.go -package=idempotency
type Repository interface {
	// Insert stores rec only if the key is absent. It returns the record now
	// stored under the key and whether this caller's insert won. The
	// check-and-insert must be atomic with respect to concurrent callers.
	Insert(ctx context.Context, rec *Record) (*Record, bool, error)

	Complete(ctx context.Context, key string, intentID uuid.UUID) error
	Delete(ctx context.Context, key string) error

	// Reclaim re-stamps a pending record created before cutoff and reports
	// whether this caller won the reclaim.
	Reclaim(ctx context.Context, key string, cutoff time.Time) (bool, error)
}

// Service implements the intent package's Guard interface.
type Service struct {
	repo       Repository
	pendingTTL time.Duration
}

func NewService(repo Repository, pendingTTL time.Duration) *Service {
	if pendingTTL <= 0 {
		pendingTTL = time.Minute
	}

	return &Service{repo: repo, pendingTTL: pendingTTL}
}

// Admit records the key with a pending marker if it is unseen. Exactly one
// concurrent caller per key wins; the rest observe the pending or completed
// record. A fingerprint mismatch fails with ErrIdempotencyConflict.
func (s *Service) Admit(ctx context.Context, key, fingerprint string) (intent.Admission, uuid.UUID, error) {
	rec := &Record{Key: key, Fingerprint: fingerprint, Status: StatusPending}

	stored, inserted, err := s.repo.Insert(ctx, rec)
	if err != nil {
		return intent.AdmitFresh, uuid.Nil, fmt.Errorf("inserting idempotency record: %w", err)
	}

	if inserted {
		return intent.AdmitFresh, uuid.Nil, nil
	}

	if stored.Fingerprint != fingerprint {
		return intent.AdmitFresh, uuid.Nil, intent.ErrIdempotencyConflict
	}

	if stored.Status == StatusCompleted {
		return intent.AdmitCompleted, stored.IntentID, nil
	}

	// A pending record older than the TTL belongs to a caller that crashed
	// before completing or releasing it.
	if time.Since(stored.CreatedAt) > s.pendingTTL {
		won, err := s.repo.Reclaim(ctx, key, time.Now().Add(-s.pendingTTL))
		if err != nil {
			return intent.AdmitFresh, uuid.Nil, fmt.Errorf("reclaiming idempotency record: %w", err)
		}

		if won {
			return intent.AdmitFresh, uuid.Nil, nil
		}
	}

	return intent.AdmitPending, uuid.Nil, nil
}

// Complete stores the operation's result so duplicates can replay it.
func (s *Service) Complete(ctx context.Context, key string, intentID uuid.UUID) error {
	if err := s.repo.Complete(ctx, key, intentID); err != nil {
		return fmt.Errorf("completing idempotency record: %w", err)
	}

	return nil
}

// Release frees a pending key after a transient failure so the client can
// retry with it.
func (s *Service) Release(ctx context.Context, key string) error {
	if err := s.repo.Delete(ctx, key); err != nil {
		return fmt.Errorf("releasing idempotency record: %w", err)
	}

	return nil
}
