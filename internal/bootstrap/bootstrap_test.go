package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnst/product-lifecycle-service/internal/config"
)

func TestOpenStorage_Memory(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	storage, err := OpenStorage(context.Background(), cfg)
	require.NoError(t, err)
	defer storage.Close()

	require.NoError(t, storage.Ping(context.Background()))
	assert.NotNil(t, storage.Products)
	assert.NotNil(t, storage.TxManager)
}

func TestRelayConfig(t *testing.T) {
	t.Setenv("PUBLISHER_BATCH_SIZE", "20")
	t.Setenv("PUBLISHER_RATE_LIMIT", "50")
	t.Setenv("PUBLISHER_BACKOFF_INITIAL", "2s")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	relay := RelayConfig(cfg)
	assert.Equal(t, 20, relay.BatchSize)
	assert.InDelta(t, 50.0, relay.RateLimit, 0)
	assert.Equal(t, 2*time.Second, relay.BackoffInitial)
	assert.Equal(t, cfg.PublisherPartitions, relay.Partitions)
}

func TestNewPublisher_Kafka(t *testing.T) {
	t.Setenv("BROKER", "kafka")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	publisher, cleanup, err := NewPublisher(cfg)
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, publisher)
}
