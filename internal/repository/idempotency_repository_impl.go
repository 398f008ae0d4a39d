package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jnst/product-lifecycle-service/internal/db"
	"github.com/jnst/product-lifecycle-service/internal/model"
)

// IdempotencyRepositoryImpl implements IdempotencyRepository using PostgreSQL.
type IdempotencyRepositoryImpl struct {
	pool *pgxpool.Pool
}

// NewIdempotencyRepositoryImpl creates a new IdempotencyRepository implementation.
func NewIdempotencyRepositoryImpl(pool *pgxpool.Pool) IdempotencyRepository {
	return &IdempotencyRepositoryImpl{pool: pool}
}

// Get retrieves the record stored for key.
func (r *IdempotencyRepositoryImpl) Get(ctx context.Context, key string) (*model.IdempotencyRecord, error) {
	row, err := queries(ctx, r.pool).GetIdempotencyRecord(ctx, key)
	if err != nil {
		if isNoRows(err) {
			return nil, model.ErrNotFound
		}

		return nil, model.StorageError("get idempotency record", err)
	}

	return &model.IdempotencyRecord{
		RequestKey:    row.RequestKey,
		RequestHash:   row.RequestHash,
		ResultID:      row.ResultID,
		ResultVersion: row.ResultVersion,
		Snapshot:      row.Snapshot,
		ExpiresAt:     row.ExpiresAt.Time.UTC(),
		CreatedAt:     row.CreatedAt.Time.UTC(),
	}, nil
}

// Save stores record, replacing an expired record with the same key.
func (r *IdempotencyRepositoryImpl) Save(ctx context.Context, record *model.IdempotencyRecord) error {
	_, err := queries(ctx, r.pool).UpsertIdempotencyRecord(ctx, &db.UpsertIdempotencyRecordParams{
		RequestKey:    record.RequestKey,
		RequestHash:   record.RequestHash,
		ResultID:      record.ResultID,
		ResultVersion: record.ResultVersion,
		Snapshot:      record.Snapshot,
		ExpiresAt:     timestamptz(record.ExpiresAt),
		CreatedAt:     timestamptz(record.CreatedAt),
	})
	if err != nil {
		if isNoRows(err) || isUniqueViolation(err) {
			return model.ErrDuplicateRequest
		}

		return model.StorageError("save idempotency record", err)
	}

	return nil
}

// DeleteExpired removes records that expired before the given time.
func (r *IdempotencyRepositoryImpl) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	rows, err := queries(ctx, r.pool).DeleteExpiredIdempotencyRecords(ctx, timestamptz(before))
	if err != nil {
		return 0, model.StorageError("delete expired idempotency records", err)
	}

	return rows, nil
}
