package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"
	"github.com/google/uuid"

	"github.com/paylinehq/payline/internal/intent"
)

var (
	bucketIntents      = []byte("intents")
	bucketIntentsByKey = []byte("intents_by_key")
)

// Bolt is an embedded ledger store. All mutation happens inside a single
// db.Update, which serializes writers and gives the compare-and-swap its
// atomicity.
type Bolt struct {
	db *bolt.DB
}

// NewBolt ensures the intent buckets exist on the given database.
func NewBolt(db *bolt.DB) (*Bolt, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketIntents); err != nil {
			return err
		}

		_, err := tx.CreateBucketIfNotExists(bucketIntentsByKey)

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating intent buckets: %w", err)
	}

	return &Bolt{db: db}, nil
}

func (b *Bolt) CreateIntent(ctx context.Context, in *intent.Intent) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		byKey := tx.Bucket(bucketIntentsByKey)
		if byKey.Get([]byte(in.IdempotencyKey)) != nil {
			return intent.ErrAlreadyExists
		}

		in.ID = uuid.New()
		now := time.Now().UTC()
		in.CreatedAt = now
		in.UpdatedAt = now
		in.Version = 0

		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding intent: %w", err)
		}

		if err := tx.Bucket(bucketIntents).Put(in.ID[:], data); err != nil {
			return fmt.Errorf("storing intent: %w", err)
		}

		return byKey.Put([]byte(in.IdempotencyKey), in.ID[:])
	})
}

func (b *Bolt) GetIntent(ctx context.Context, id uuid.UUID) (*intent.Intent, error) {
	var in intent.Intent

	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketIntents).Get(id[:])
		if data == nil {
			return intent.ErrNotFound
		}

		return json.Unmarshal(data, &in)
	})
	if err != nil {
		return nil, err
	}

	return &in, nil
}

func (b *Bolt) GetIntentByIdempotencyKey(ctx context.Context, key string) (*intent.Intent, error) {
	var in intent.Intent

	err := b.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketIntentsByKey).Get([]byte(key))
		if id == nil {
			return intent.ErrNotFound
		}

		data := tx.Bucket(bucketIntents).Get(id)
		if data == nil {
			return intent.ErrNotFound
		}

		return json.Unmarshal(data, &in)
	})
	if err != nil {
		return nil, err
	}

	return &in, nil
}

func (b *Bolt) CompareAndSwap(ctx context.Context, id uuid.UUID, expectedVersion int64, patch intent.Patch) (*intent.Intent, error) {
	var out *intent.Intent

	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketIntents)

		data := bkt.Get(id[:])
		if data == nil {
			return intent.ErrNotFound
		}

		var in intent.Intent
		if err := json.Unmarshal(data, &in); err != nil {
			return fmt.Errorf("decoding intent: %w", err)
		}

		if in.Version != expectedVersion {
			return intent.ErrVersionConflict
		}

		in.State = patch.State

		if patch.ProcessorRef != nil {
			in.ProcessorRef = patch.ProcessorRef
		}

		if patch.FailureReason != nil {
			in.FailureReason = patch.FailureReason
		}

		if patch.RefundedAmount != nil {
			in.RefundedAmount = *patch.RefundedAmount
		}

		in.Version++
		in.UpdatedAt = time.Now().UTC()

		updated, err := json.Marshal(&in)
		if err != nil {
			return fmt.Errorf("encoding intent: %w", err)
		}

		if err := bkt.Put(id[:], updated); err != nil {
			return fmt.Errorf("storing intent: %w", err)
		}

		out = &in

		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}
