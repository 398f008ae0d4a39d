package service

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"

	"github.com/jnst/product-lifecycle-service/internal/broker"
	"github.com/jnst/product-lifecycle-service/internal/model"
	"github.com/jnst/product-lifecycle-service/internal/repository"
	"github.com/jnst/product-lifecycle-service/internal/repository/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

// recordingPublisher keeps every acknowledged message. fail, when set, decides per message.
type recordingPublisher struct {
	mu       sync.Mutex
	messages []broker.Message
	fail     func(msg broker.Message) error
	attempts int
}

func (p *recordingPublisher) Publish(_ context.Context, msg broker.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.attempts++

	if p.fail != nil {
		if err := p.fail(msg); err != nil {
			return err
		}
	}

	p.messages = append(p.messages, msg)

	return nil
}

func (*recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) setFail(fail func(msg broker.Message) error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.fail = fail
}

func (p *recordingPublisher) published() []broker.Message {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]broker.Message(nil), p.messages...)
}

func (p *recordingPublisher) attemptCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.attempts
}

// faultyOutbox fails CreateEntry after the product write already happened in the transaction.
type faultyOutbox struct {
	repository.OutboxRepository
	createEntry func(ctx context.Context) error
}

func (f *faultyOutbox) CreateEntry(
	ctx context.Context, params *model.CreateOutboxEntryParams,
) (*model.OutboxEntry, error) {
	if err := f.createEntry(ctx); err != nil {
		return nil, err
	}

	return f.OutboxRepository.CreateEntry(ctx, params)
}

type testEnv struct {
	store     *memory.Store
	clock     *fakeClock
	products  ProductService
	guard     IdempotencyGuard
	relay     OutboxService
	publisher *recordingPublisher
}

type envOptions struct {
	outbox        func(repository.OutboxRepository) repository.OutboxRepository
	relay         func(*RelayConfig)
	writeTimeout  time.Duration
	meterProvider metric.MeterProvider
}

func newTestEnv(t require.TestingT, opts ...func(*envOptions)) *testEnv {
	var o envOptions
	for _, opt := range opts {
		opt(&o)
	}

	clock := newFakeClock()
	store := memory.NewStore(memory.WithClock(clock.Now))

	outbox := store.Outbox()
	if o.outbox != nil {
		outbox = o.outbox(outbox)
	}

	guard := NewIdempotencyGuardImpl(store.Idempotency(), time.Hour, clock.Now)
	products := NewProductServiceImpl(
		store.Products(), outbox, store.TransactionManager(), guard,
		WithClock(clock.Now), WithWriteTimeout(o.writeTimeout),
	)

	cfg := DefaultRelayConfig()
	cfg.BackoffInitial = time.Second
	cfg.BackoffMax = 10 * time.Second
	cfg.MaxAttempts = 3

	if o.relay != nil {
		o.relay(&cfg)
	}

	publisher := &recordingPublisher{}
	relayOpts := []OutboxServiceOption{WithRelayClock(clock.Now)}
	if o.meterProvider != nil {
		relayOpts = append(relayOpts, WithMeterProvider(o.meterProvider))
	}

	relay, err := NewOutboxServiceImpl(store.Outbox(), publisher, cfg, relayOpts...)
	require.NoError(t, err)

	return &testEnv{
		store:     store,
		clock:     clock,
		products:  products,
		guard:     guard,
		relay:     relay,
		publisher: publisher,
	}
}
