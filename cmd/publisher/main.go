// Package main provides the outbox publisher that relays pending events to the broker.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jnst/product-lifecycle-service/internal/bootstrap"
	"github.com/jnst/product-lifecycle-service/internal/config"
	"github.com/jnst/product-lifecycle-service/internal/logger"
	"github.com/jnst/product-lifecycle-service/internal/service"
	"github.com/jnst/product-lifecycle-service/internal/telemetry"
)

const (
	signalBufferSize = 1
	exitCode         = 1
	shutdownTimeout  = 10 * time.Second
)

var errMemoryStorage = errors.New("publisher needs shared storage; the memory driver relays inside the api process")

func setupPublisherSignalHandling() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, signalBufferSize)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("shutdown signal received, stopping publisher")
		cancel()
	}()

	return ctx, cancel
}

func main() {
	if err := run(); err != nil {
		slog.Error("publisher failed", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	slog.SetDefault(logger.Setup(cfg.LogLevel, cfg.LogFormat))

	if cfg.StorageDriver == config.StorageDriverMemory {
		return errMemoryStorage
	}

	ctx, cancel := setupPublisherSignalHandling()
	defer cancel()

	providers, err := telemetry.Setup(ctx, cfg.ServiceName+"-publisher", cfg.OTLPEndpoint)
	if err != nil {
		return err
	}

	defer func() {
		flushCtx, cancelFlush := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelFlush()

		if err := providers.Shutdown(flushCtx); err != nil {
			slog.Error("failed to flush telemetry", slog.String("error", err.Error()))
		}
	}()

	storage, err := bootstrap.OpenStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer storage.Close()

	publisher, closePublisher, err := bootstrap.NewPublisher(cfg)
	if err != nil {
		return err
	}
	defer closePublisher()

	outboxService, err := service.NewOutboxServiceImpl(storage.Outbox, publisher, bootstrap.RelayConfig(cfg),
		service.WithMeterProvider(providers.MeterProvider))
	if err != nil {
		return err
	}

	guard := service.NewIdempotencyGuardImpl(storage.Idempotency, cfg.IdempotencyTTL, nil)

	slog.Info("starting outbox publisher",
		slog.String("service", "publisher"),
		slog.String("broker", cfg.Broker),
		slog.Duration("poll_interval", cfg.PublisherPollInterval),
		slog.Int("batch_size", cfg.PublisherBatchSize),
		slog.Int("partitions", cfg.PublisherPartitions),
	)

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()
		service.RunIdempotencyPurge(ctx, guard, cfg.IdempotencyPurgeInterval)
	}()

	err = outboxService.Run(ctx)

	cancel()
	wg.Wait()
	slog.Info("publisher stopped")

	return err
}
