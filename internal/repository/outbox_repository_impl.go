package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jnst/product-lifecycle-service/internal/db"
	"github.com/jnst/product-lifecycle-service/internal/model"
)

// OutboxRepositoryImpl implements OutboxRepository using PostgreSQL.
type OutboxRepositoryImpl struct {
	pool *pgxpool.Pool
}

// NewOutboxRepositoryImpl creates a new OutboxRepository implementation.
func NewOutboxRepositoryImpl(pool *pgxpool.Pool) OutboxRepository {
	return &OutboxRepositoryImpl{pool: pool}
}

// NextSequenceID allocates the next global sequence id.
func (r *OutboxRepositoryImpl) NextSequenceID(ctx context.Context) (int64, error) {
	id, err := queries(ctx, r.pool).NextOutboxSequence(ctx)
	if err != nil {
		return 0, model.StorageError("next outbox sequence", err)
	}

	return id, nil
}

// CreateEntry creates a new PENDING outbox entry.
func (r *OutboxRepositoryImpl) CreateEntry(
	ctx context.Context, params *model.CreateOutboxEntryParams,
) (*model.OutboxEntry, error) {
	dbEntry, err := queries(ctx, r.pool).CreateOutboxEntry(ctx, &db.CreateOutboxEntryParams{
		SequenceID:    params.SequenceID,
		AggregateID:   params.AggregateID,
		AggregateType: params.AggregateType,
		EventType:     string(params.EventType),
		Payload:       params.Payload,
		CreatedAt:     timestamptz(time.Now()),
	})
	if err != nil {
		return nil, model.StorageError("create outbox entry", err)
	}

	return toOutboxEntry(&dbEntry), nil
}

// ListDue retrieves PENDING entries that are due for publication.
func (r *OutboxRepositoryImpl) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.OutboxEntry, error) {
	dbEntries, err := queries(ctx, r.pool).ListDueOutboxEntries(ctx, &db.ListDueOutboxEntriesParams{
		NextAttemptAt: timestamptz(now),
		Limit:         int32(limit),
	})
	if err != nil {
		return nil, model.StorageError("list due outbox entries", err)
	}

	return toOutboxEntries(dbEntries), nil
}

// MarkPublished marks an outbox entry as published.
func (r *OutboxRepositoryImpl) MarkPublished(ctx context.Context, sequenceID int64, publishedAt time.Time) (bool, error) {
	rows, err := queries(ctx, r.pool).MarkOutboxEntryPublished(ctx, &db.MarkOutboxEntryPublishedParams{
		SequenceID:  sequenceID,
		PublishedAt: timestamptz(publishedAt),
	})
	if err != nil {
		return false, model.StorageError("mark outbox entry published", err)
	}

	return rows == 1, nil
}

// RecordFailure counts a failed attempt and moves the entry to FAILED at the ceiling.
func (r *OutboxRepositoryImpl) RecordFailure(
	ctx context.Context, failure *model.OutboxFailure,
) (*model.OutboxEntry, error) {
	dbEntry, err := queries(ctx, r.pool).RecordOutboxFailure(ctx, &db.RecordOutboxFailureParams{
		LastError:     failure.Error,
		UpdatedAt:     timestamptz(time.Now()),
		NextAttemptAt: timestamptz(failure.NextAttemptAt),
		Terminal:      failure.Terminal,
		MaxAttempts:   int32(failure.MaxAttempts),
		SequenceID:    failure.SequenceID,
	})
	if err != nil {
		if isNoRows(err) {
			return nil, model.ErrNotFound
		}

		return nil, model.StorageError("record outbox failure", err)
	}

	return toOutboxEntry(&dbEntry), nil
}

// ReplayFailed moves up to limit FAILED entries back to PENDING with a fresh attempt budget.
func (r *OutboxRepositoryImpl) ReplayFailed(ctx context.Context, now time.Time, limit int) (int64, error) {
	rows, err := queries(ctx, r.pool).ReplayFailedOutboxEntries(ctx, &db.ReplayFailedOutboxEntriesParams{
		NextAttemptAt: timestamptz(now),
		Limit:         int32(limit),
	})
	if err != nil {
		return 0, model.StorageError("replay failed outbox entries", err)
	}

	return rows, nil
}

// Stats reports the backlog figures exposed by health probes.
func (r *OutboxRepositoryImpl) Stats(ctx context.Context, now time.Time) (model.OutboxStats, error) {
	row, err := queries(ctx, r.pool).GetOutboxStats(ctx)
	if err != nil {
		return model.OutboxStats{}, model.StorageError("outbox stats", err)
	}

	stats := model.OutboxStats{
		PendingCount: row.PendingCount,
		FailedCount:  row.FailedCount,
	}

	if row.OldestPendingAt.Valid {
		stats.OldestPendingAge = max(now.Sub(row.OldestPendingAt.Time), 0)
	}

	return stats, nil
}

// ListByAggregate retrieves every entry of one aggregate in sequence order.
func (r *OutboxRepositoryImpl) ListByAggregate(ctx context.Context, aggregateID uuid.UUID) ([]*model.OutboxEntry, error) {
	dbEntries, err := queries(ctx, r.pool).ListOutboxEntriesByAggregate(ctx, aggregateID)
	if err != nil {
		return nil, model.StorageError("list outbox entries by aggregate", err)
	}

	return toOutboxEntries(dbEntries), nil
}

func toOutboxEntry(e *db.Outbox) *model.OutboxEntry {
	return &model.OutboxEntry{
		SequenceID:    e.SequenceID,
		AggregateID:   e.AggregateID,
		AggregateType: e.AggregateType,
		EventType:     model.EventType(e.EventType),
		Payload:       e.Payload,
		State:         model.OutboxState(e.State),
		Attempts:      int(e.Attempts),
		LastError:     e.LastError,
		NextAttemptAt: e.NextAttemptAt.Time.UTC(),
		CreatedAt:     e.CreatedAt.Time.UTC(),
		UpdatedAt:     e.UpdatedAt.Time.UTC(),
		PublishedAt:   timePtr(e.PublishedAt),
	}
}

func toOutboxEntries(rows []db.Outbox) []*model.OutboxEntry {
	entries := make([]*model.OutboxEntry, len(rows))
	for i := range rows {
		entries[i] = toOutboxEntry(&rows[i])
	}

	return entries
}
