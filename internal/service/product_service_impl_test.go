package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/jnst/product-lifecycle-service/internal/codec"
	"github.com/jnst/product-lifecycle-service/internal/model"
	"github.com/jnst/product-lifecycle-service/internal/repository"
)

func widget() *model.CreateProductParams {
	return &model.CreateProductParams{
		Name:  "Widget",
		Price: decimal.RequireFromString("9.99"),
		Stock: 10,
	}
}

func ptr[T any](v T) *T { return &v }

func TestCreate_WidgetIsPublishedWithSequenceOne(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	p, err := env.products.Create(ctx, widget(), "")
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.Version)
	assert.Equal(t, model.ProductStatusActive, p.Status)

	entries, err := env.store.Outbox().ListByAggregate(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.OutboxStatePending, entries[0].State)
	assert.Equal(t, model.EventTypeCreated, entries[0].EventType)

	result, err := env.relay.ProcessPendingEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Published)

	entries, err = env.store.Outbox().ListByAggregate(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxStatePublished, entries[0].State)

	messages := env.publisher.published()
	require.Len(t, messages, 1)
	assert.Equal(t, p.ID.String(), messages[0].Key)

	event, err := codec.Decode(messages[0].Value)
	require.NoError(t, err)
	assert.Equal(t, int64(1), event.SequenceID)
	assert.Equal(t, model.EventTypeCreated, event.EventType)
	assert.Equal(t, "Widget", event.Payload.Name)
	assert.True(t, event.Payload.Price.Equal(decimal.RequireFromString("9.99")))
}

func TestCreate_CollectsEveryViolation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.products.Create(context.Background(), &model.CreateProductParams{
		Name:  " ",
		Price: decimal.NewFromInt(-1),
		Stock: -2,
	}, "")
	require.ErrorIs(t, err, model.ErrValidation)

	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Violations, 3)

	stats, err := env.relay.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.PendingCount)
}

func TestCreate_StoredNameMatchesPublishedEvent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	params := widget()
	params.Name = "W\xffidget"

	_, err := env.products.Create(ctx, params, "")
	require.ErrorIs(t, err, model.ErrValidation)

	params.Name = "Wïdget ✓"

	p, err := env.products.Create(ctx, params, "")
	require.NoError(t, err)

	entries, err := env.store.Outbox().ListByAggregate(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	event, err := codec.Decode(entries[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, p.Name, event.Payload.Name)
}

func TestUpdate_ConcurrentWritersOneWins(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	p, err := env.products.Create(ctx, widget(), "")
	require.NoError(t, err)

	updates := []*model.UpdateProductParams{
		{Stock: ptr(int64(5))},
		{Price: ptr(decimal.RequireFromString("8.99"))},
	}

	errs := make([]error, len(updates))

	var wg sync.WaitGroup
	for i, params := range updates {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, errs[i] = env.products.Update(ctx, p.ID, 0, params, "")
		}()
	}

	wg.Wait()

	var succeeded, conflicted int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, model.ErrVersionConflict):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, conflicted)

	got, err := env.products.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)

	entries, err := env.store.Outbox().ListByAggregate(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestUpdate_RejectsDeletedStatus(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	p, err := env.products.Create(ctx, widget(), "")
	require.NoError(t, err)

	_, err = env.products.Update(ctx, p.ID, 0, &model.UpdateProductParams{Status: ptr(model.ProductStatusDeleted)}, "")
	require.ErrorIs(t, err, model.ErrValidation)

	_, err = env.products.Update(ctx, uuid.New(), 0, &model.UpdateProductParams{Name: ptr("x")}, "")
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestDelete_SecondDeleteIsTerminal(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	p, err := env.products.Create(ctx, widget(), "")
	require.NoError(t, err)

	_, err = env.products.UpdateStock(ctx, p.ID, 0, 5, "")
	require.NoError(t, err)

	deleted, err := env.products.Delete(ctx, p.ID, 1, "")
	require.NoError(t, err)
	assert.Equal(t, model.ProductStatusDeleted, deleted.Status)
	assert.Equal(t, int64(2), deleted.Version)

	_, err = env.products.Delete(ctx, p.ID, 1, "")
	require.ErrorIs(t, err, model.ErrTerminalState)

	_, err = env.products.UpdateStock(ctx, p.ID, 2, 1, "")
	require.ErrorIs(t, err, model.ErrTerminalState)

	entries, err := env.store.Outbox().ListByAggregate(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, model.EventTypeDeleted, entries[2].EventType)
}

func TestCreate_IdempotentByRequestKey(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	first, err := env.products.Create(ctx, widget(), "req-1")
	require.NoError(t, err)

	second, err := env.products.Create(ctx, widget(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Version, second.Version)

	stats, err := env.relay.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.PendingCount)

	other := widget()
	other.Name = "Gadget"

	_, err = env.products.Create(ctx, other, "req-1")
	require.ErrorIs(t, err, model.ErrIdempotencyKeyReused)
}

func TestCreate_ExpiredRequestKeyIsFresh(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	first, err := env.products.Create(ctx, widget(), "req-1")
	require.NoError(t, err)

	env.clock.Advance(2 * time.Hour)

	second, err := env.products.Create(ctx, widget(), "req-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestUpdate_IdempotentReplayReturnsRecordedOutcome(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	p, err := env.products.Create(ctx, widget(), "")
	require.NoError(t, err)

	first, err := env.products.UpdateStock(ctx, p.ID, 0, 4, "stock-1")
	require.NoError(t, err)

	_, err = env.products.UpdateStock(ctx, p.ID, 1, 9, "")
	require.NoError(t, err)

	// The retry carries the stale version; it must still see its own outcome.
	replayed, err := env.products.UpdateStock(ctx, p.ID, 0, 4, "stock-1")
	require.NoError(t, err)
	assert.Equal(t, first.Version, replayed.Version)
	assert.Equal(t, int64(4), replayed.Stock)
}

// racingGuard misses the first lookup, as a request that checked before its twin committed.
type racingGuard struct {
	IdempotencyGuard
	missed bool
}

func (g *racingGuard) CheckAndReserve(ctx context.Context, key, hash string) (Reservation, error) {
	if !g.missed {
		g.missed = true

		return Reservation{}, nil
	}

	return g.IdempotencyGuard.CheckAndReserve(ctx, key, hash)
}

func TestCreate_LosingDuplicateReturnsWinner(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	winner, err := env.products.Create(ctx, widget(), "req-1")
	require.NoError(t, err)

	loser := NewProductServiceImpl(
		env.store.Products(), env.store.Outbox(), env.store.TransactionManager(),
		&racingGuard{IdempotencyGuard: env.guard}, WithClock(env.clock.Now),
	)

	got, err := loser.Create(ctx, widget(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, winner.ID, got.ID)

	all, err := env.products.List(ctx, model.ListParams{})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	stats, err := env.relay.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.PendingCount)
}

// forgetfulGuard never finds a record, as when the winner's record expires between checks.
type forgetfulGuard struct {
	IdempotencyGuard
}

func (forgetfulGuard) CheckAndReserve(context.Context, string, string) (Reservation, error) {
	return Reservation{}, nil
}

func TestCreate_DuplicateWithoutRecordIsConflict(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.products.Create(ctx, widget(), "req-1")
	require.NoError(t, err)

	loser := NewProductServiceImpl(
		env.store.Products(), env.store.Outbox(), env.store.TransactionManager(),
		forgetfulGuard{IdempotencyGuard: env.guard}, WithClock(env.clock.Now),
	)

	_, err = loser.Create(ctx, widget(), "req-1")
	require.ErrorIs(t, err, model.ErrVersionConflict)
	require.ErrorIs(t, err, model.ErrDuplicateRequest)

	all, err := env.products.List(ctx, model.ListParams{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCreate_OutboxFailureLeavesNothing(t *testing.T) {
	ctx := context.Background()
	injected := model.StorageError("insert outbox", errors.New("disk full"))

	env := newTestEnv(t, func(o *envOptions) {
		o.outbox = func(next repository.OutboxRepository) repository.OutboxRepository {
			return &faultyOutbox{OutboxRepository: next, createEntry: func(context.Context) error { return injected }}
		}
	})

	_, err := env.products.Create(ctx, widget(), "req-1")
	require.ErrorIs(t, err, model.ErrStorage)

	all, err := env.products.List(ctx, model.ListParams{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Empty(t, all)

	_, err = env.store.Idempotency().Get(ctx, "req-1")
	require.ErrorIs(t, err, model.ErrNotFound)

	stats, err := env.relay.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.PendingCount)
}

func TestUpdate_WriteTimeoutRollsBack(t *testing.T) {
	ctx := context.Background()

	env := newTestEnv(t, func(o *envOptions) {
		o.writeTimeout = 20 * time.Millisecond
		o.outbox = func(next repository.OutboxRepository) repository.OutboxRepository {
			calls := 0

			return &faultyOutbox{OutboxRepository: next, createEntry: func(ctx context.Context) error {
				calls++
				if calls == 1 {
					return nil
				}

				<-ctx.Done()

				return ctx.Err()
			}}
		}
	})

	p, err := env.products.Create(ctx, widget(), "")
	require.NoError(t, err)

	_, err = env.products.UpdateStock(ctx, p.ID, 0, 1, "")
	require.ErrorIs(t, err, model.ErrStorage)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	got, err := env.products.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Version)
	assert.Equal(t, int64(10), got.Stock)
}

func TestListLowStock(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	for _, stock := range []int64{2, 50, 4} {
		params := widget()
		params.Stock = stock
		_, err := env.products.Create(ctx, params, "")
		require.NoError(t, err)
	}

	low, err := env.products.ListLowStock(ctx, 5, 10)
	require.NoError(t, err)
	require.Len(t, low, 2)
	assert.Equal(t, int64(2), low[0].Stock)

	_, err = env.products.ListLowStock(ctx, -1, 10)
	require.ErrorIs(t, err, model.ErrValidation)
}

func TestVersionIncreasesByOnePerCommit(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		env := newTestEnv(t)

		p, err := env.products.Create(ctx, widget(), "")
		require.NoError(t, err)

		version := p.Version
		successes := 1

		for range rapid.IntRange(1, 20).Draw(t, "writes") {
			stale := version > 0 && rapid.Bool().Draw(t, "stale")
			expected := version
			if stale {
				expected = rapid.Int64Range(0, version-1).Draw(t, "staleVersion")
			}

			updated, err := env.products.UpdateStock(ctx, p.ID, expected, rapid.Int64Range(0, 1000).Draw(t, "stock"), "")
			if stale {
				require.ErrorIs(t, err, model.ErrVersionConflict)

				continue
			}

			require.NoError(t, err)
			require.Equal(t, version+1, updated.Version)

			version = updated.Version
			successes++
		}

		entries, err := env.store.Outbox().ListByAggregate(ctx, p.ID)
		require.NoError(t, err)
		require.Len(t, entries, successes)

		for i, e := range entries {
			event, err := codec.Decode(e.Payload)
			require.NoError(t, err)
			require.Equal(t, int64(i), event.Payload.Version)
		}
	})
}
