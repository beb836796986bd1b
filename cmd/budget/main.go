package main

import (
	"context"
	"errors"
	"net/http"
	"os"

	"budget/internal/amqp"
	"budget/internal/cli"
	"budget/internal/config"
	apphttp "budget/internal/http"
	applog "budget/internal/log"
	"budget/internal/metrics"
	"budget/internal/services"
)

func main() {
	cfg, logger := cli.Bootstrap(applog.ComponentApp, (*config.Config).Validate)
	logger.Info("Starting budget server", "port", cfg.Port)

	ref, err := cfg.ReferenceMonth()
	if err != nil {
		logger.Error("Invalid forecast reference month",
			applog.NewFields().WithError(err).WithErrorType(applog.ErrorTypeConfiguration).ToSlice()...)
		os.Exit(1)
	}

	m := metrics.New()
	opts := []services.Option{services.WithPublishFailures(m.PublishFailures)}
	if !ref.IsZero() {
		opts = append(opts, services.WithReferenceMonth(ref))
		logger.Info("Forecast reference month pinned", "month", ref.Format("2006-01"))
	}

	repo := cli.InitSQLite(logger, cfg)

	// The publisher is optional; expenses are still stored without it.
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("AMQP unavailable, expense events disabled",
				applog.NewFields().WithError(err).WithErrorType(applog.ErrorTypeNetwork).ToSlice()...)
		} else {
			opts = append(opts, services.WithPublisher(client))
			logger.Info("AMQP publisher ready", "exchange", cfg.AMQPExchange)
		}
	}

	svc := services.NewLedgerService(repo, opts...)

	srv, err := apphttp.NewServer(apphttp.Config{
		Addr:               ":" + cfg.Port,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		TrustedProxies:     cfg.TrustedProxies,
		Logger:             logger,
		Metrics:            m,
	}, svc)
	if err != nil {
		logger.Error("Failed to create HTTP server",
			applog.NewFields().WithError(err).WithErrorType(applog.ErrorTypeConfiguration).ToSlice()...)
		_ = svc.Close()
		os.Exit(1)
	}

	ctx, done := cli.GracefulShutdown(logger, cfg.ShutdownTimeout, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		if err := svc.Close(); err != nil {
			logger.Error("Failed to close ledger service", "error", err)
		}
	})

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error",
			applog.NewFields().WithError(err).WithErrorType(applog.ErrorTypeNetwork).ToSlice()...)
		_ = svc.Close()
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
