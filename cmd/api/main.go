// Package main provides the HTTP API server for the product lifecycle service.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jnst/product-lifecycle-service/internal/bootstrap"
	"github.com/jnst/product-lifecycle-service/internal/broker"
	"github.com/jnst/product-lifecycle-service/internal/config"
	"github.com/jnst/product-lifecycle-service/internal/handler"
	"github.com/jnst/product-lifecycle-service/internal/logger"
	"github.com/jnst/product-lifecycle-service/internal/service"
	"github.com/jnst/product-lifecycle-service/internal/telemetry"
)

const (
	signalBufferSize  = 1
	exitCode          = 1
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

func setupSignalHandling() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, signalBufferSize)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("shutdown signal received, stopping API server")
		cancel()
	}()

	return ctx, cancel
}

func main() {
	if err := run(); err != nil {
		slog.Error("api server failed", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	slog.SetDefault(logger.Setup(cfg.LogLevel, cfg.LogFormat))

	ctx, cancel := setupSignalHandling()
	defer cancel()

	providers, err := telemetry.Setup(ctx, cfg.ServiceName+"-api", cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer flushTelemetry(providers.Shutdown)

	storage, err := bootstrap.OpenStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer storage.Close()

	guard := service.NewIdempotencyGuardImpl(storage.Idempotency, cfg.IdempotencyTTL, nil)
	productService := service.NewProductServiceImpl(
		storage.Products,
		storage.Outbox,
		storage.TxManager,
		guard,
		service.WithWriteTimeout(cfg.WriteTimeout),
	)

	var wg sync.WaitGroup

	// The in-memory store is private to this process, so it relays its own outbox.
	// With Postgres the publisher binary owns relaying and purging.
	var publisher broker.Publisher

	if cfg.StorageDriver == config.StorageDriverMemory {
		var closePublisher func()

		publisher, closePublisher, err = bootstrap.NewPublisher(cfg)
		if err != nil {
			return err
		}
		defer closePublisher()
	}

	outboxService, err := service.NewOutboxServiceImpl(storage.Outbox, publisher, bootstrap.RelayConfig(cfg),
		service.WithMeterProvider(providers.MeterProvider))
	if err != nil {
		return err
	}

	if publisher != nil {
		wg.Add(2)

		go func() {
			defer wg.Done()

			if err := outboxService.Run(ctx); err != nil {
				slog.Error("outbox relay stopped", slog.String("error", err.Error()))
			}
		}()

		go func() {
			defer wg.Done()
			service.RunIdempotencyPurge(ctx, guard, cfg.IdempotencyPurgeInterval)
		}()
	}

	productHandler := handler.NewProductHandler(productService, outboxService, storage.Ping)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.NewRouter(productHandler, cfg.CORSAllowedOrigins),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)

	go func() {
		slog.Info("starting API server",
			slog.String("service", "api"),
			slog.String("port", cfg.Port),
			slog.String("storage", cfg.StorageDriver),
		)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}

		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		cancel()
		wg.Wait()

		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shut down server", slog.String("error", err.Error()))
	}

	wg.Wait()
	slog.Info("API server stopped")

	return nil
}

func flushTelemetry(shutdown telemetry.ShutdownFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := shutdown(ctx); err != nil {
		slog.Error("failed to flush telemetry", slog.String("error", err.Error()))
	}
}
