package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/richardliu001/eventkernel/internal/app"
	"github.com/richardliu001/eventkernel/internal/config"
	"github.com/richardliu001/eventkernel/internal/logger"
	"github.com/richardliu001/eventkernel/internal/outbox"
	"github.com/richardliu001/eventkernel/internal/repo"
	"github.com/richardliu001/eventkernel/internal/wallet"
)

func main() {
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	log, err := logger.NewLoggerWithLevel(cfg.Log.Level)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gdb, err := app.OpenPostgres(cfg.Postgres)
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}

	publisher, closePublisher, err := app.NewPublisher(ctx, cfg)
	if err != nil {
		log.Fatalf("publisher: %v", err)
	}
	defer closePublisher()

	relay := outbox.NewRelay(repo.NewOutboxRepository(gdb), wallet.Registry(), publisher, outbox.Config{
		BatchSize:  cfg.Outbox.BatchSize,
		Interval:   cfg.Outbox.Interval,
		MaxRetries: cfg.Outbox.MaxRetries,
	}, log)

	log.Infow("eventkernel-poller started", "bus", cfg.Bus.Driver, "interval", cfg.Outbox.Interval)
	if err := outbox.NewRunner(relay, log).Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("relay: %v", err)
	}
	log.Info("eventkernel-poller stopped")
}
