package service

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jnst/product-lifecycle-service/internal/broker"
	"github.com/jnst/product-lifecycle-service/internal/codec"
	"github.com/jnst/product-lifecycle-service/internal/model"
	"github.com/jnst/product-lifecycle-service/internal/repository"
)

// RelayConfig tunes the relay publisher.
type RelayConfig struct {
	PollInterval    time.Duration
	MaxPollInterval time.Duration
	BatchSize       int
	Partitions      int
	MaxAttempts     int
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
	PublishTimeout  time.Duration
	// RateLimit caps publishes per second across partitions; zero disables the limiter.
	RateLimit float64
}

// DefaultRelayConfig returns the settings used when nothing is configured.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		PollInterval:    time.Second,
		MaxPollInterval: 30 * time.Second,
		BatchSize:       100,
		Partitions:      4,
		MaxAttempts:     8,
		BackoffInitial:  500 * time.Millisecond,
		BackoffMax:      5 * time.Minute,
		PublishTimeout:  5 * time.Second,
	}
}

// OutboxServiceOption configures OutboxServiceImpl.
type OutboxServiceOption func(*OutboxServiceImpl)

// WithRelayClock sets the clock used for scheduling retries.
func WithRelayClock(now func() time.Time) OutboxServiceOption {
	return func(s *OutboxServiceImpl) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMeterProvider sets the provider for relay metrics.
func WithMeterProvider(provider metric.MeterProvider) OutboxServiceOption {
	return func(s *OutboxServiceImpl) {
		s.meterProvider = provider
	}
}

// OutboxServiceImpl relays PENDING outbox entries to a broker with at-least-once delivery.
// Entries of one aggregate always land in the same partition and are published in
// sequence order; exactly one relay process must run per deployment.
type OutboxServiceImpl struct {
	outboxRepo    repository.OutboxRepository
	publisher     broker.Publisher
	cfg           RelayConfig
	limiter       *rate.Limiter
	now           func() time.Time
	tracer        trace.Tracer
	meterProvider metric.MeterProvider
	metrics       relayMetrics
}

// NewOutboxServiceImpl creates a new OutboxService implementation.
func NewOutboxServiceImpl(
	outboxRepo repository.OutboxRepository,
	publisher broker.Publisher,
	cfg RelayConfig,
	opts ...OutboxServiceOption,
) (OutboxService, error) {
	if cfg.BatchSize <= 0 || cfg.Partitions <= 0 || cfg.MaxAttempts <= 0 {
		return nil, errors.New("relay config: batch size, partitions and max attempts must be positive")
	}

	s := &OutboxServiceImpl{
		outboxRepo: outboxRepo,
		publisher:  publisher,
		cfg:        cfg,
		now:        time.Now,
		tracer:     otel.Tracer(tracerName),
	}

	for _, opt := range opts {
		opt(s)
	}

	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(1, int(cfg.RateLimit)))
	}

	metrics, err := newRelayMetrics(s.meterProvider)
	if err != nil {
		return nil, err
	}

	s.metrics = metrics

	return s, nil
}

// Run relays events until ctx is cancelled. A full batch polls again immediately; a cycle
// that hit an open circuit or a storage error backs the poll interval off up to
// MaxPollInterval, and a clean cycle resets it.
func (s *OutboxServiceImpl) Run(ctx context.Context) error {
	slog.InfoContext(ctx, "outbox relay started",
		slog.Duration("poll_interval", s.cfg.PollInterval),
		slog.Int("batch_size", s.cfg.BatchSize),
		slog.Int("partitions", s.cfg.Partitions),
	)
	defer slog.Info("outbox relay stopped")

	poll := backoff.NewExponentialBackOff()
	poll.InitialInterval = s.cfg.PollInterval
	poll.MaxInterval = max(s.cfg.MaxPollInterval, s.cfg.PollInterval)
	poll.Multiplier = 2
	poll.RandomizationFactor = 0

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		result, err := s.ProcessPendingEvents(ctx)

		var wait time.Duration

		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			wait = poll.NextBackOff()
			slog.ErrorContext(ctx, "outbox relay cycle failed",
				slog.String("error", err.Error()),
				slog.Duration("next_poll", wait),
			)
		case result.BrokerUnavailable:
			wait = poll.NextBackOff()
			slog.WarnContext(ctx, "broker unavailable, backing off",
				slog.Duration("next_poll", wait),
			)
		case result.Processed >= s.cfg.BatchSize:
			poll.Reset()
		default:
			poll.Reset()
			wait = s.cfg.PollInterval
		}

		timer.Reset(wait)
	}
}

// ProcessPendingEvents publishes one batch of due entries. Publishing happens before
// MarkPublished, so a crash in between republishes the entry and consumers must
// deduplicate on (aggregateId, sequenceId).
func (s *OutboxServiceImpl) ProcessPendingEvents(ctx context.Context) (CycleResult, error) {
	start := time.Now()

	ctx, span := s.tracer.Start(ctx, "outbox.relay.cycle")
	defer span.End()

	entries, err := s.outboxRepo.ListDue(ctx, s.now(), s.cfg.BatchSize)
	if err != nil {
		return CycleResult{}, recordSpanError(span, err)
	}

	partitions := make([][]*model.OutboxEntry, s.cfg.Partitions)
	for _, e := range entries {
		p := PartitionOf(e.AggregateID, s.cfg.Partitions)
		partitions[p] = append(partitions[p], e)
	}

	results := make([]CycleResult, s.cfg.Partitions)
	g, gctx := errgroup.WithContext(ctx)

	for i, batch := range partitions {
		if len(batch) == 0 {
			continue
		}

		g.Go(func() error {
			r, err := s.relayPartition(gctx, batch)
			results[i] = r

			return err
		})
	}

	err = g.Wait()

	var total CycleResult
	for _, r := range results {
		total.Processed += r.Processed
		total.Published += r.Published
		total.Retried += r.Retried
		total.Failed += r.Failed
		total.BrokerUnavailable = total.BrokerUnavailable || r.BrokerUnavailable
	}

	s.metrics.record(ctx, total, time.Since(start))
	span.SetAttributes(
		attribute.Int("outbox.processed", total.Processed),
		attribute.Int("outbox.published", total.Published),
		attribute.Int("outbox.failed", total.Failed),
	)

	if err != nil {
		return total, recordSpanError(span, err)
	}

	if total.Processed > 0 {
		slog.DebugContext(ctx, "outbox relay cycle done",
			slog.Int("processed", total.Processed),
			slog.Int("published", total.Published),
			slog.Int("retried", total.Retried),
			slog.Int("failed", total.Failed),
		)
	}

	return total, nil
}

// relayPartition publishes batch in order. Once an entry of an aggregate fails, later
// entries of the same aggregate wait for the next cycle.
func (s *OutboxServiceImpl) relayPartition(ctx context.Context, batch []*model.OutboxEntry) (CycleResult, error) {
	var result CycleResult

	blocked := make(map[uuid.UUID]bool)

	for _, e := range batch {
		if ctx.Err() != nil {
			return result, nil
		}

		if blocked[e.AggregateID] {
			continue
		}

		result.Processed++

		published, err := s.relayEntry(ctx, e)

		switch {
		case published:
			result.Published++

			continue
		case errors.Is(err, model.ErrBrokerUnavailable):
			result.Processed--
			result.BrokerUnavailable = true

			return result, nil
		case ctx.Err() != nil:
			return result, nil
		}

		blocked[e.AggregateID] = true

		state, ferr := s.recordFailure(ctx, e, err)
		if ferr != nil {
			return result, ferr
		}

		switch state {
		case model.OutboxStateFailed:
			result.Failed++
		case model.OutboxStatePending:
			result.Retried++
		default:
		}
	}

	return result, nil
}

// relayEntry reports whether e was published. A non-nil error other than a storage error
// means the attempt failed.
func (s *OutboxServiceImpl) relayEntry(ctx context.Context, e *model.OutboxEntry) (bool, error) {
	event, err := codec.Decode(e.Payload)
	if err != nil {
		return false, err
	}

	if event.SequenceID != e.SequenceID || event.AggregateID != e.AggregateID {
		return false, &model.DecodeError{Reason: "envelope does not match outbox row"}
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return false, err
		}
	}

	pubCtx, cancel := context.WithTimeout(ctx, s.cfg.PublishTimeout)
	err = s.publisher.Publish(pubCtx, broker.Message{
		Key:   e.AggregateID.String(),
		Value: e.Payload,
		Headers: map[string]string{
			broker.HeaderAggregateID:   e.AggregateID.String(),
			broker.HeaderSequenceID:    strconv.FormatInt(e.SequenceID, 10),
			broker.HeaderEventType:     string(e.EventType),
			broker.HeaderSchemaVersion: strconv.Itoa(codec.SchemaVersion),
		},
	})
	cancel()

	if err != nil {
		return false, err
	}

	ok, err := s.outboxRepo.MarkPublished(ctx, e.SequenceID, s.now())
	if err != nil {
		slog.ErrorContext(ctx, "outbox entry published but not marked; it will be published again",
			slog.Int64("sequence_id", e.SequenceID),
			slog.String("error", err.Error()),
		)

		return true, nil
	}

	if !ok {
		slog.WarnContext(ctx, "outbox entry was no longer pending after publish",
			slog.Int64("sequence_id", e.SequenceID),
		)
	}

	return true, nil
}

// recordFailure persists a failed attempt and returns the resulting state, or "" when the
// entry was no longer PENDING. Decode failures can never succeed and go straight to FAILED.
func (s *OutboxServiceImpl) recordFailure(
	ctx context.Context, e *model.OutboxEntry, cause error,
) (model.OutboxState, error) {
	terminal := errors.Is(cause, model.ErrDecode) || errors.Is(cause, model.ErrUnsupportedSchema)
	delay := s.retryDelay(e.Attempts + 1)

	updated, err := s.outboxRepo.RecordFailure(ctx, &model.OutboxFailure{
		SequenceID:    e.SequenceID,
		Error:         cause.Error(),
		MaxAttempts:   s.cfg.MaxAttempts,
		NextAttemptAt: s.now().Add(delay),
		Terminal:      terminal,
	})
	if errors.Is(err, model.ErrNotFound) {
		// Another relay settled the entry first.
		return "", nil
	}

	if err != nil {
		return "", err
	}

	attrs := []any{
		slog.Int64("sequence_id", updated.SequenceID),
		slog.String("aggregate_id", updated.AggregateID.String()),
		slog.String("event_type", string(updated.EventType)),
		slog.Int("attempts", updated.Attempts),
		slog.String("error", cause.Error()),
	}

	if updated.State == model.OutboxStateFailed {
		slog.ErrorContext(ctx, "ALERT outbox entry failed permanently", append(attrs, slog.Bool("terminal", terminal))...)
	} else {
		slog.WarnContext(ctx, "outbox publish failed, retry scheduled", append(attrs, slog.Duration("retry_in", delay))...)
	}

	return updated.State, nil
}

// retryDelay returns the backoff before attempt number attempt+1.
func (s *OutboxServiceImpl) retryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.BackoffInitial
	b.MaxInterval = s.cfg.BackoffMax

	var d time.Duration
	for range max(attempt, 1) {
		d = b.NextBackOff()
	}

	return d
}

// Stats summarizes the backlog.
func (s *OutboxServiceImpl) Stats(ctx context.Context) (model.OutboxStats, error) {
	return s.outboxRepo.Stats(ctx, s.now())
}

// ReplayFailed moves up to limit FAILED entries back to PENDING with attempts reset.
func (s *OutboxServiceImpl) ReplayFailed(ctx context.Context, limit int) (int64, error) {
	if limit <= 0 {
		limit = s.cfg.BatchSize
	}

	replayed, err := s.outboxRepo.ReplayFailed(ctx, s.now(), limit)
	if err != nil {
		return 0, err
	}

	slog.InfoContext(ctx, "replayed failed outbox entries", slog.Int64("replayed", replayed))

	return replayed, nil
}

// PartitionOf maps an aggregate to one of n relay partitions.
func PartitionOf(aggregateID uuid.UUID, n int) int {
	h := fnv.New32a()
	_, _ = h.Write(aggregateID[:])

	return int(h.Sum32() % uint32(n))
}
