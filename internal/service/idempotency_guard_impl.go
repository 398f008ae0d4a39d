package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jnst/product-lifecycle-service/internal/model"
	"github.com/jnst/product-lifecycle-service/internal/repository"
)

// IdempotencyGuardImpl implements IdempotencyGuard on an IdempotencyRepository.
type IdempotencyGuardImpl struct {
	repo repository.IdempotencyRepository
	ttl  time.Duration
	now  func() time.Time
}

// NewIdempotencyGuardImpl creates a guard whose records live for ttl.
func NewIdempotencyGuardImpl(repo repository.IdempotencyRepository, ttl time.Duration, now func() time.Time) IdempotencyGuard {
	if now == nil {
		now = time.Now
	}

	return &IdempotencyGuardImpl{repo: repo, ttl: ttl, now: now}
}

// CheckAndReserve reports whether key already holds a live outcome. The key itself is claimed
// when Record commits, so two racing first requests are settled by the storage constraint.
func (g *IdempotencyGuardImpl) CheckAndReserve(ctx context.Context, key, requestHash string) (Reservation, error) {
	record, err := g.repo.Get(ctx, key)
	if errors.Is(err, model.ErrNotFound) {
		return Reservation{}, nil
	}

	if err != nil {
		return Reservation{}, err
	}

	if record.Expired(g.now()) {
		return Reservation{}, nil
	}

	if record.RequestHash != requestHash {
		return Reservation{}, model.ErrIdempotencyKeyReused
	}

	var product model.Product
	if err := json.Unmarshal(record.Snapshot, &product); err != nil {
		return Reservation{}, fmt.Errorf("decode idempotency snapshot for %q: %w", key, err)
	}

	return Reservation{Duplicate: true, Product: &product}, nil
}

// Record stores product as the outcome of key.
func (g *IdempotencyGuardImpl) Record(ctx context.Context, key, requestHash string, product *model.Product) error {
	snapshot, err := json.Marshal(product)
	if err != nil {
		return fmt.Errorf("encode idempotency snapshot: %w", err)
	}

	now := g.now().UTC()

	return g.repo.Save(ctx, &model.IdempotencyRecord{
		RequestKey:    key,
		RequestHash:   requestHash,
		ResultID:      product.ID,
		ResultVersion: product.Version,
		Snapshot:      snapshot,
		ExpiresAt:     now.Add(g.ttl),
		CreatedAt:     now,
	})
}

// PurgeExpired deletes records that expired before the given time.
func (g *IdempotencyGuardImpl) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	return g.repo.DeleteExpired(ctx, before)
}

// RunIdempotencyPurge calls PurgeExpired every interval until ctx is cancelled.
func RunIdempotencyPurge(ctx context.Context, guard IdempotencyGuard, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := guard.PurgeExpired(ctx, time.Now())
			if err != nil {
				slog.Error("failed to purge idempotency records", slog.String("error", err.Error()))

				continue
			}

			if deleted > 0 {
				slog.Info("purged idempotency records", slog.Int64("deleted", deleted))
			}
		}
	}
}
