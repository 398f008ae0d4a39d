// Package service provides business logic layer implementations.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jnst/product-lifecycle-service/internal/model"
)

// ProductService defines the product lifecycle operations. Every write commits the product
// change and its outbox entry atomically.
type ProductService interface {
	Create(ctx context.Context, params *model.CreateProductParams, requestKey string) (*model.Product, error)
	Update(
		ctx context.Context, id uuid.UUID, expectedVersion int64, params *model.UpdateProductParams, requestKey string,
	) (*model.Product, error)
	UpdateStock(ctx context.Context, id uuid.UUID, expectedVersion, stock int64, requestKey string) (*model.Product, error)
	Delete(ctx context.Context, id uuid.UUID, expectedVersion int64, requestKey string) (*model.Product, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Product, error)
	List(ctx context.Context, params model.ListParams) ([]*model.Product, error)
	ListLowStock(ctx context.Context, threshold int64, limit int) ([]*model.Product, error)
}

// OutboxService defines business logic methods for outbox event processing.
type OutboxService interface {
	// Run relays events until ctx is cancelled.
	Run(ctx context.Context) error
	// ProcessPendingEvents runs a single relay cycle.
	ProcessPendingEvents(ctx context.Context) (CycleResult, error)
	Stats(ctx context.Context) (model.OutboxStats, error)
	// ReplayFailed moves up to limit FAILED entries back to PENDING.
	ReplayFailed(ctx context.Context, limit int) (int64, error)
}

// IdempotencyGuard deduplicates writes by client request key.
type IdempotencyGuard interface {
	CheckAndReserve(ctx context.Context, key, requestHash string) (Reservation, error)
	// Record stores the outcome of key inside the caller's transaction.
	Record(ctx context.Context, key, requestHash string, product *model.Product) error
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

// Reservation is the outcome of CheckAndReserve.
type Reservation struct {
	// Duplicate is set when a live record holds the key; Product is the recorded result.
	Duplicate bool
	Product   *model.Product
}

// CycleResult counts what one relay cycle did.
type CycleResult struct {
	Processed int
	Published int
	Retried   int
	Failed    int
	// BrokerUnavailable is set when the cycle stopped on an open circuit.
	BrokerUnavailable bool
}
