// Package repository provides data access interfaces and implementations.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jnst/product-lifecycle-service/internal/model"
)

// ProductMutator computes the next state of a product in place.
type ProductMutator func(p *model.Product) error

// ProductRepository defines methods for product data access.
type ProductRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Product, error)
	Insert(ctx context.Context, product *model.Product) (*model.Product, error)
	// UpdateWithVersionCheck applies mutate only if the stored version equals expectedVersion.
	// It fails with model.ErrTerminalState for deleted products and model.ErrVersionConflict on mismatch.
	UpdateWithVersionCheck(
		ctx context.Context, id uuid.UUID, expectedVersion int64, mutate ProductMutator,
	) (*model.Product, error)
	List(ctx context.Context, params model.ListParams) ([]*model.Product, error)
	ListLowStock(ctx context.Context, threshold int64, limit int) ([]*model.Product, error)
}

// OutboxRepository defines methods for outbox entry data access.
type OutboxRepository interface {
	NextSequenceID(ctx context.Context) (int64, error)
	CreateEntry(ctx context.Context, params *model.CreateOutboxEntryParams) (*model.OutboxEntry, error)
	// ListDue returns PENDING entries due at now in sequence order, skipping entries queued behind
	// an earlier entry of the same aggregate that is FAILED or still backing off.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*model.OutboxEntry, error)
	// MarkPublished is idempotent; it reports false when the entry was no longer PENDING.
	MarkPublished(ctx context.Context, sequenceID int64, publishedAt time.Time) (bool, error)
	RecordFailure(ctx context.Context, failure *model.OutboxFailure) (*model.OutboxEntry, error)
	ReplayFailed(ctx context.Context, now time.Time, limit int) (int64, error)
	Stats(ctx context.Context, now time.Time) (model.OutboxStats, error)
	ListByAggregate(ctx context.Context, aggregateID uuid.UUID) ([]*model.OutboxEntry, error)
}

// IdempotencyRepository defines methods for idempotency record data access.
type IdempotencyRepository interface {
	// Get returns model.ErrNotFound when no record exists for key.
	Get(ctx context.Context, key string) (*model.IdempotencyRecord, error)
	// Save stores record unless a live record already holds the key, in which case it
	// fails with model.ErrDuplicateRequest.
	Save(ctx context.Context, record *model.IdempotencyRecord) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// TransactionManager defines methods for database transaction management.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
