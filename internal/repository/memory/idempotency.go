package memory

import (
	"context"
	"time"

	"github.com/jnst/product-lifecycle-service/internal/model"
)

type idempotencyRepository struct {
	store *Store
}

func (r *idempotencyRepository) Get(ctx context.Context, key string) (*model.IdempotencyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.StorageError("get idempotency record", err)
	}

	var found *model.IdempotencyRecord

	err := r.store.run(ctx, func(tx *txState) error {
		record, ok := r.lookup(tx, key)
		if !ok {
			return model.ErrNotFound
		}

		found = record

		return nil
	})

	return found, err
}

func (r *idempotencyRepository) Save(ctx context.Context, record *model.IdempotencyRecord) error {
	if err := ctx.Err(); err != nil {
		return model.StorageError("save idempotency record", err)
	}

	now := r.store.now()

	return r.store.run(ctx, func(tx *txState) error {
		if existing, ok := r.lookup(tx, record.RequestKey); ok && !existing.Expired(now) {
			return model.ErrDuplicateRequest
		}

		staged := *record
		staged.Snapshot = append([]byte(nil), record.Snapshot...)

		if staged.CreatedAt.IsZero() {
			staged.CreatedAt = now.UTC()
		}

		tx.records[record.RequestKey] = &staged

		return nil
	})
}

func (r *idempotencyRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, model.StorageError("delete expired idempotency records", err)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var deleted int64

	for key, record := range r.store.records {
		if record.Expired(before) {
			delete(r.store.records, key)
			deleted++
		}
	}

	return deleted, nil
}

func (r *idempotencyRepository) lookup(tx *txState, key string) (*model.IdempotencyRecord, bool) {
	if record, ok := tx.records[key]; ok {
		c := *record

		return &c, true
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	record, ok := r.store.records[key]
	if !ok {
		return nil, false
	}

	c := *record

	return &c, true
}
