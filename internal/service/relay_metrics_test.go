package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/jnst/product-lifecycle-service/internal/broker"
)

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	return rm
}

func findMetricByName(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}

	return nil
}

func sumDataPoints(t *testing.T, m *metricdata.Metrics) int64 {
	t.Helper()

	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)

	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}

	return total
}

func TestRelay_RecordsCycleMetrics(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	env := newTestEnv(t, func(o *envOptions) {
		o.meterProvider = provider
		o.relay = func(cfg *RelayConfig) { cfg.MaxAttempts = 1 }
	})

	_, err := env.products.Create(ctx, widget(), "")
	require.NoError(t, err)

	_, err = env.products.Create(ctx, widget(), "")
	require.NoError(t, err)

	env.publisher.setFail(func(msg broker.Message) error {
		if msg.Headers[broker.HeaderSequenceID] == "1" {
			return errBrokerDown
		}

		return nil
	})

	result, err := env.relay.ProcessPendingEvents(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Published)
	require.Equal(t, 1, result.Failed)

	rm := collectMetrics(t, reader)

	published := findMetricByName(rm, "outbox.events.published")
	require.NotNil(t, published)
	assert.Equal(t, int64(1), sumDataPoints(t, published))

	failed := findMetricByName(rm, "outbox.events.failed")
	require.NotNil(t, failed)
	assert.Equal(t, int64(1), sumDataPoints(t, failed))

	retried := findMetricByName(rm, "outbox.events.retried")
	require.NotNil(t, retried)
	assert.Zero(t, sumDataPoints(t, retried))

	duration := findMetricByName(rm, "outbox.cycle.duration")
	require.NotNil(t, duration)

	hist, ok := duration.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
}
