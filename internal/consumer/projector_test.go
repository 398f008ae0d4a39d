package consumer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnst/product-lifecycle-service/internal/codec"
	"github.com/jnst/product-lifecycle-service/internal/model"
)

func envelope(t *testing.T, id uuid.UUID, seq, version int64, stock int64) []byte {
	t.Helper()

	product := &model.Product{
		ID:        id,
		Version:   version,
		Name:      "Widget",
		Price:     decimal.RequireFromString("9.99"),
		Stock:     stock,
		Status:    model.ProductStatusActive,
		CreatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := codec.Encode(model.NewProductEvent(model.EventTypeUpdated, seq, product))
	require.NoError(t, err)

	return data
}

func TestProjectorAppliesNewerVersions(t *testing.T) {
	ctx := context.Background()
	p := NewProjector(NewMemoryDeduper())
	id := uuid.New()

	require.NoError(t, p.Handle(ctx, envelope(t, id, 1, 0, 10)))
	require.NoError(t, p.Handle(ctx, envelope(t, id, 5, 1, 7)))

	got, ok := p.Product(id)
	require.True(t, ok)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, int64(7), got.Stock)
}

func TestProjectorIgnoresStaleVersion(t *testing.T) {
	ctx := context.Background()
	p := NewProjector(NewMemoryDeduper())
	id := uuid.New()

	require.NoError(t, p.Handle(ctx, envelope(t, id, 5, 1, 7)))
	require.NoError(t, p.Handle(ctx, envelope(t, id, 1, 0, 10)))

	got, _ := p.Product(id)
	assert.Equal(t, int64(7), got.Stock)
}

type countingDeduper struct {
	*MemoryDeduper
	calls int
	err   error
}

func (d *countingDeduper) FirstSeen(ctx context.Context, id uuid.UUID, seq int64) (bool, error) {
	d.calls++
	if d.err != nil {
		return false, d.err
	}

	return d.MemoryDeduper.FirstSeen(ctx, id, seq)
}

func TestProjectorSkipsRedelivery(t *testing.T) {
	ctx := context.Background()
	dedupe := &countingDeduper{MemoryDeduper: NewMemoryDeduper()}
	p := NewProjector(dedupe)
	id := uuid.New()
	data := envelope(t, id, 3, 0, 10)

	require.NoError(t, p.Handle(ctx, data))
	require.NoError(t, p.Handle(ctx, data))

	assert.Equal(t, 2, dedupe.calls)

	first, err := dedupe.MemoryDeduper.FirstSeen(ctx, id, 3)
	require.NoError(t, err)
	assert.False(t, first)
}

func TestProjectorPoisonAndTransientErrors(t *testing.T) {
	ctx := context.Background()

	err := NewProjector(NewMemoryDeduper()).Handle(ctx, []byte("not json"))
	require.Error(t, err)
	assert.True(t, IsPoison(err))

	dedupe := &countingDeduper{MemoryDeduper: NewMemoryDeduper(), err: errors.New("redis down")}
	err = NewProjector(dedupe).Handle(ctx, envelope(t, uuid.New(), 1, 0, 1))
	require.Error(t, err)
	assert.False(t, IsPoison(err))
}
