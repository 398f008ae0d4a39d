// Package bootstrap builds the runtime dependencies shared by the binaries.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/rueidis"

	"github.com/jnst/product-lifecycle-service/internal/broker"
	"github.com/jnst/product-lifecycle-service/internal/config"
	"github.com/jnst/product-lifecycle-service/internal/repository"
	"github.com/jnst/product-lifecycle-service/internal/repository/memory"
	"github.com/jnst/product-lifecycle-service/internal/service"
)

// Storage bundles the repositories of one storage backend.
type Storage struct {
	Products    repository.ProductRepository
	Outbox      repository.OutboxRepository
	Idempotency repository.IdempotencyRepository
	TxManager   repository.TransactionManager

	// Ping checks that the backend answers.
	Ping func(ctx context.Context) error
	// Close releases connections.
	Close func()
}

// OpenStorage connects to the configured storage driver.
func OpenStorage(ctx context.Context, cfg *config.Config) (*Storage, error) {
	if cfg.StorageDriver == config.StorageDriverMemory {
		store := memory.NewStore()

		return &Storage{
			Products:    store.Products(),
			Outbox:      store.Outbox(),
			Idempotency: store.Idempotency(),
			TxManager:   store.TransactionManager(),
			Ping:        func(context.Context) error { return nil },
			Close:       func() {},
		}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()

		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Storage{
		Products:    repository.NewProductRepositoryImpl(pool),
		Outbox:      repository.NewOutboxRepositoryImpl(pool),
		Idempotency: repository.NewIdempotencyRepositoryImpl(pool),
		TxManager:   repository.NewTransactionManagerImpl(pool),
		Ping:        pool.Ping,
		Close:       pool.Close,
	}, nil
}

// NewRedisClient connects to the configured Redis address.
func NewRedisClient(cfg *config.Config) (rueidis.Client, error) {
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{cfg.RedisAddr},
	})
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return client, nil
}

// NewPublisher returns the configured broker behind a circuit breaker. The returned
// close function releases the broker connection.
func NewPublisher(cfg *config.Config) (broker.Publisher, func(), error) {
	var (
		next    broker.Publisher
		cleanup func()
	)

	switch cfg.Broker {
	case config.BrokerKafka:
		kafkaPublisher := broker.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		next = kafkaPublisher
		cleanup = func() {
			if err := kafkaPublisher.Close(); err != nil {
				slog.Error("failed to close kafka writer", slog.String("error", err.Error()))
			}
		}
	default:
		client, err := NewRedisClient(cfg)
		if err != nil {
			return nil, nil, err
		}

		next = broker.NewRedisStreamPublisher(client, cfg.RedisStream)
		cleanup = client.Close
	}

	settings := broker.DefaultBreakerSettings(cfg.Broker)
	settings.OnStateChange = func(from, to string) {
		slog.Warn("broker circuit state changed",
			slog.String("broker", cfg.Broker),
			slog.String("from", from),
			slog.String("to", to),
		)
	}

	return broker.NewBreaker(next, settings), cleanup, nil
}

// RelayConfig maps publisher settings onto the relay.
func RelayConfig(cfg *config.Config) service.RelayConfig {
	return service.RelayConfig{
		PollInterval:    cfg.PublisherPollInterval,
		MaxPollInterval: cfg.PublisherMaxPollInterval,
		BatchSize:       cfg.PublisherBatchSize,
		Partitions:      cfg.PublisherPartitions,
		MaxAttempts:     cfg.PublisherMaxAttempts,
		BackoffInitial:  cfg.PublisherBackoffInitial,
		BackoffMax:      cfg.PublisherBackoffMax,
		PublishTimeout:  cfg.PublishTimeout,
		RateLimit:       cfg.PublisherRateLimit,
	}
}
