// Package main provides the consumer that projects product events read from the broker.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/rueidis"

	"github.com/jnst/product-lifecycle-service/internal/bootstrap"
	"github.com/jnst/product-lifecycle-service/internal/config"
	"github.com/jnst/product-lifecycle-service/internal/consumer"
	"github.com/jnst/product-lifecycle-service/internal/logger"
)

const (
	signalBufferSize = 1
	exitCode         = 1
)

// Source delivers raw envelopes from a broker.
type Source interface {
	Consume(ctx context.Context, handle func(ctx context.Context, payload []byte) error) error
	Close() error
}

func setupSignalHandling() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, signalBufferSize)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("shutdown signal received, stopping consumer")
		cancel()
	}()

	return ctx, cancel
}

func newSource(cfg *config.Config, redisClient rueidis.Client) Source {
	if cfg.Broker == config.BrokerKafka {
		return consumer.NewKafkaSource(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.ConsumerGroup)
	}

	return consumer.NewRedisStreamSource(redisClient, cfg.RedisStream, cfg.ConsumerGroup, cfg.ConsumerName)
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}

	slog.SetDefault(logger.Setup(cfg.LogLevel, cfg.LogFormat))

	// Redis holds the dedupe marks for either broker.
	redisClient, err := bootstrap.NewRedisClient(cfg)
	if err != nil {
		slog.Error("failed to connect to Redis", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}
	defer redisClient.Close()

	projector := consumer.NewProjector(consumer.NewRedisDeduper(redisClient, cfg.DedupeTTL))

	source := newSource(cfg, redisClient)
	defer func() {
		if err := source.Close(); err != nil {
			slog.Error("failed to close source", slog.String("error", err.Error()))
		}
	}()

	ctx, cancel := setupSignalHandling()
	defer cancel()

	slog.Info("starting message consumer",
		slog.String("service", "consumer"),
		slog.String("broker", cfg.Broker),
		slog.String("group", cfg.ConsumerGroup),
		slog.String("consumer", cfg.ConsumerName),
	)

	if err := source.Consume(ctx, projector.Handle); err != nil {
		slog.Error("consumer stopped with error", slog.String("error", err.Error()))
		return
	}

	slog.Info("consumer stopped")
}
