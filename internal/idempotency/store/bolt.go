package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"
	"github.com/google/uuid"

	"github.com/paylinehq/payline/internal/idempotency"
)

var bucketKeys = []byte("idempotency_keys")

// Bolt is an embedded idempotency-key store. db.Update serializes writers,
// which makes the check-and-insert in Insert atomic.
type Bolt struct {
	db *bolt.DB
}

// NewBolt ensures the idempotency bucket exists on the given database.
func NewBolt(db *bolt.DB) (*Bolt, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketKeys)

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating idempotency bucket: %w", err)
	}

	return &Bolt{db: db}, nil
}

func (b *Bolt) Insert(ctx context.Context, rec *idempotency.Record) (*idempotency.Record, bool, error) {
	var (
		stored   idempotency.Record
		inserted bool
	)

	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketKeys)

		if data := bkt.Get([]byte(rec.Key)); data != nil {
			return json.Unmarshal(data, &stored)
		}

		rec.CreatedAt = time.Now().UTC()

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encoding idempotency record: %w", err)
		}

		stored = *rec
		inserted = true

		return bkt.Put([]byte(rec.Key), data)
	})
	if err != nil {
		return nil, false, err
	}

	return &stored, inserted, nil
}

func (b *Bolt) Complete(ctx context.Context, key string, intentID uuid.UUID) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketKeys)

		data := bkt.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("idempotency key %q not found", key)
		}

		var rec idempotency.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("decoding idempotency record: %w", err)
		}

		now := time.Now().UTC()
		rec.Status = idempotency.StatusCompleted
		rec.IntentID = intentID
		rec.CompletedAt = &now

		updated, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("encoding idempotency record: %w", err)
		}

		return bkt.Put([]byte(key), updated)
	})
}

func (b *Bolt) Delete(ctx context.Context, key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKeys).Delete([]byte(key))
	})
}

func (b *Bolt) Reclaim(ctx context.Context, key string, cutoff time.Time) (bool, error) {
	var won bool

	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketKeys)

		data := bkt.Get([]byte(key))
		if data == nil {
			return nil
		}

		var rec idempotency.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("decoding idempotency record: %w", err)
		}

		if rec.Status != idempotency.StatusPending || !rec.CreatedAt.Before(cutoff) {
			return nil
		}

		rec.CreatedAt = time.Now().UTC()

		updated, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("encoding idempotency record: %w", err)
		}

		won = true

		return bkt.Put([]byte(key), updated)
	})
	if err != nil {
		return false, err
	}

	return won, nil
}
