package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	bolt "github.com/boltdb/bolt"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paylinehq/payline/internal/idempotency"
	"github.com/paylinehq/payline/internal/idempotency/store"
)

func newTestStore(t *testing.T) *store.Bolt {
	t.Helper()

	db, err := bolt.Open(filepath.Join(t.TempDir(), "test.db"), 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := store.NewBolt(db)
	require.NoError(t, err)

	return s
}

func TestBolt_Insert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &idempotency.Record{Key: "key-1", Fingerprint: "fp-1", Status: idempotency.StatusPending}

	stored, inserted, err := s.Insert(ctx, rec)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.False(t, stored.CreatedAt.IsZero())

	// Second insert loses and observes the winner's record.
	later := &idempotency.Record{Key: "key-1", Fingerprint: "fp-other", Status: idempotency.StatusPending}

	stored, inserted, err = s.Insert(ctx, later)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, "fp-1", stored.Fingerprint)
	assert.Equal(t, idempotency.StatusPending, stored.Status)
}

func TestBolt_CompleteAndReplay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, inserted, err := s.Insert(ctx, &idempotency.Record{
		Key: "key-2", Fingerprint: "fp", Status: idempotency.StatusPending,
	})
	require.NoError(t, err)
	require.True(t, inserted)

	intentID := uuid.New()
	require.NoError(t, s.Complete(ctx, "key-2", intentID))

	stored, inserted, err := s.Insert(ctx, &idempotency.Record{
		Key: "key-2", Fingerprint: "fp", Status: idempotency.StatusPending,
	})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, idempotency.StatusCompleted, stored.Status)
	assert.Equal(t, intentID, stored.IntentID)
	assert.NotNil(t, stored.CompletedAt)
}

func TestBolt_Delete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.Insert(ctx, &idempotency.Record{
		Key: "key-3", Fingerprint: "fp", Status: idempotency.StatusPending,
	})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "key-3"))

	// The key is free again.
	_, inserted, err := s.Insert(ctx, &idempotency.Record{
		Key: "key-3", Fingerprint: "fp-new", Status: idempotency.StatusPending,
	})
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestBolt_Reclaim(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.Insert(ctx, &idempotency.Record{
		Key: "key-4", Fingerprint: "fp", Status: idempotency.StatusPending,
	})
	require.NoError(t, err)

	// The record is fresh, so a past cutoff refuses the reclaim.
	won, err := s.Reclaim(ctx, "key-4", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.False(t, won)

	// A future cutoff treats it as stale.
	won, err = s.Reclaim(ctx, "key-4", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, won)

	// Completed records are never reclaimed.
	require.NoError(t, s.Complete(ctx, "key-4", uuid.New()))

	won, err = s.Reclaim(ctx, "key-4", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, won)
}
