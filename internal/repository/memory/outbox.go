package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jnst/product-lifecycle-service/internal/model"
)

type outboxRepository struct {
	store *Store
}

func (r *outboxRepository) NextSequenceID(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, model.StorageError("next outbox sequence", err)
	}

	return r.store.sequence.Add(1), nil
}

func (r *outboxRepository) CreateEntry(
	ctx context.Context, params *model.CreateOutboxEntryParams,
) (*model.OutboxEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.StorageError("create outbox entry", err)
	}

	now := r.store.now().UTC()
	entry := &model.OutboxEntry{
		SequenceID:    params.SequenceID,
		AggregateID:   params.AggregateID,
		AggregateType: params.AggregateType,
		EventType:     params.EventType,
		Payload:       append([]byte(nil), params.Payload...),
		State:         model.OutboxStatePending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := r.store.run(ctx, func(tx *txState) error {
		tx.outbox = append(tx.outbox, entry)

		return nil
	})
	if err != nil {
		return nil, err
	}

	created := *entry

	return &created, nil
}

func (r *outboxRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.OutboxEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.StorageError("list due outbox entries", err)
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	blocked := make(map[uuid.UUID]bool)
	due := make([]*model.OutboxEntry, 0, limit)

	for _, e := range r.store.sortedEntries() {
		if len(due) >= limit {
			break
		}

		if e.State == model.OutboxStateFailed {
			// Later entries wait until the failed one is replayed.
			blocked[e.AggregateID] = true

			continue
		}

		if e.State != model.OutboxStatePending || blocked[e.AggregateID] {
			continue
		}

		if e.NextAttemptAt.After(now) {
			blocked[e.AggregateID] = true

			continue
		}

		entry := *e
		due = append(due, &entry)
	}

	return due, nil
}

func (r *outboxRepository) MarkPublished(ctx context.Context, sequenceID int64, publishedAt time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, model.StorageError("mark outbox entry published", err)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	e, ok := r.store.outbox[sequenceID]
	if !ok || e.State != model.OutboxStatePending {
		return false, nil
	}

	at := publishedAt.UTC()
	e.State = model.OutboxStatePublished
	e.PublishedAt = &at
	e.UpdatedAt = at
	e.LastError = ""

	return true, nil
}

func (r *outboxRepository) RecordFailure(
	ctx context.Context, failure *model.OutboxFailure,
) (*model.OutboxEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.StorageError("record outbox failure", err)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	e, ok := r.store.outbox[failure.SequenceID]
	if !ok || e.State != model.OutboxStatePending {
		return nil, model.ErrNotFound
	}

	e.Attempts++
	e.LastError = failure.Error
	e.NextAttemptAt = failure.NextAttemptAt.UTC()
	e.UpdatedAt = r.store.now().UTC()

	if failure.Terminal || e.Attempts >= failure.MaxAttempts {
		e.State = model.OutboxStateFailed
	}

	updated := *e

	return &updated, nil
}

func (r *outboxRepository) ReplayFailed(ctx context.Context, now time.Time, limit int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, model.StorageError("replay failed outbox entries", err)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var replayed int64

	for _, e := range r.store.sortedEntries() {
		if replayed >= int64(limit) {
			break
		}

		if e.State != model.OutboxStateFailed {
			continue
		}

		e.State = model.OutboxStatePending
		e.Attempts = 0
		e.NextAttemptAt = now.UTC()
		e.UpdatedAt = now.UTC()
		replayed++
	}

	return replayed, nil
}

func (r *outboxRepository) Stats(ctx context.Context, now time.Time) (model.OutboxStats, error) {
	if err := ctx.Err(); err != nil {
		return model.OutboxStats{}, model.StorageError("outbox stats", err)
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var (
		stats  model.OutboxStats
		oldest time.Time
	)

	for _, e := range r.store.outbox {
		switch e.State {
		case model.OutboxStatePending:
			stats.PendingCount++

			if oldest.IsZero() || e.CreatedAt.Before(oldest) {
				oldest = e.CreatedAt
			}
		case model.OutboxStateFailed:
			stats.FailedCount++
		case model.OutboxStatePublished:
		}
	}

	if !oldest.IsZero() && now.After(oldest) {
		stats.OldestPendingAge = now.Sub(oldest)
	}

	return stats, nil
}

func (r *outboxRepository) ListByAggregate(ctx context.Context, aggregateID uuid.UUID) ([]*model.OutboxEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.StorageError("list outbox entries by aggregate", err)
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	entries := []*model.OutboxEntry{}

	for _, e := range r.store.sortedEntries() {
		if e.AggregateID == aggregateID {
			entry := *e
			entries = append(entries, &entry)
		}
	}

	return entries, nil
}
