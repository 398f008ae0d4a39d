package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type relayMetrics struct {
	published     metric.Int64Counter
	failed        metric.Int64Counter
	retried       metric.Int64Counter
	cycleDuration metric.Float64Histogram
}

func newRelayMetrics(provider metric.MeterProvider) (relayMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}

	meter := provider.Meter(tracerName)

	var (
		m   relayMetrics
		err error
	)

	m.published, err = meter.Int64Counter(
		"outbox.events.published",
		metric.WithDescription("Number of outbox events acknowledged by the broker"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return relayMetrics{}, fmt.Errorf("create outbox.events.published counter: %w", err)
	}

	m.failed, err = meter.Int64Counter(
		"outbox.events.failed",
		metric.WithDescription("Number of outbox events moved to FAILED"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return relayMetrics{}, fmt.Errorf("create outbox.events.failed counter: %w", err)
	}

	m.retried, err = meter.Int64Counter(
		"outbox.events.retried",
		metric.WithDescription("Number of failed publish attempts scheduled for retry"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return relayMetrics{}, fmt.Errorf("create outbox.events.retried counter: %w", err)
	}

	m.cycleDuration, err = meter.Float64Histogram(
		"outbox.cycle.duration",
		metric.WithDescription("Time taken per relay cycle"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return relayMetrics{}, fmt.Errorf("create outbox.cycle.duration histogram: %w", err)
	}

	return m, nil
}

func (m relayMetrics) record(ctx context.Context, result CycleResult, elapsed time.Duration) {
	m.published.Add(ctx, int64(result.Published))
	m.failed.Add(ctx, int64(result.Failed))
	m.retried.Add(ctx, int64(result.Retried))
	m.cycleDuration.Record(ctx, elapsed.Seconds())
}
