package main

import (
	"context"
	"errors"
	"os"

	"golang.org/x/sync/errgroup"

	"budget/internal/amqp"
	"budget/internal/backend"
	"budget/internal/cli"
	"budget/internal/config"
	applog "budget/internal/log"
	"budget/internal/worker"
)

func main() {
	cfg, logger := cli.Bootstrap(applog.ComponentWorker, (*config.Config).ValidateWorker)
	logger.Info("Starting budget-worker", "mirror_backend", cfg.MirrorBackend)

	closers := cli.NewClosers(logger)
	defer closers.Close()
	fail := func(msg string, fields applog.LogFields) {
		logger.Error(msg, fields.ToSlice()...)
		closers.Close()
		os.Exit(1)
	}

	repo := cli.InitSQLite(logger, cfg)
	closers.Add("sqlite", repo.Close)

	mirrorCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		fail("Invalid mirror backend",
			applog.NewFields().WithError(err).WithErrorType(applog.ErrorTypeConfiguration))
	}
	writer, err := backend.NewFactory(logger).CreateMirror(context.Background(), mirrorCfg)
	if err != nil {
		fail("Failed to initialize mirror backend",
			applog.NewFields().WithError(err).WithErrorType(applog.ErrorTypeConfiguration))
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		fail("Failed to initialize AMQP client",
			applog.NewFields().WithError(err).WithErrorType(applog.ErrorTypeNetwork))
	}
	closers.Add("amqp", amqpClient.Close)

	mirror := worker.NewMirrorWorker(repo, writer, logger)

	ctx, done := cli.GracefulShutdown(logger, cfg.ShutdownTimeout, nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return amqpClient.ConsumeExpenseCreated(gctx, mirror.HandleExpenseCreated)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		fail("Message consumption failed",
			applog.NewFields().WithError(err).WithOperation(applog.OpMirror))
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped gracefully")
}
