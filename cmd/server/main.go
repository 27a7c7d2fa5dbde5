package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/richardliu001/eventkernel/internal/app"
	"github.com/richardliu001/eventkernel/internal/bus"
	"github.com/richardliu001/eventkernel/internal/config"
	"github.com/richardliu001/eventkernel/internal/idempotency"
	"github.com/richardliu001/eventkernel/internal/logger"
	"github.com/richardliu001/eventkernel/internal/model"
	"github.com/richardliu001/eventkernel/internal/repo"
	"github.com/richardliu001/eventkernel/internal/service"
	httptransport "github.com/richardliu001/eventkernel/internal/transport/http"
	"github.com/richardliu001/eventkernel/internal/wallet"
)

func main() {
	// 1. load config
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLoggerWithLevel(cfg.Log.Level)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. postgres
	gdb, err := app.OpenPostgres(cfg.Postgres)
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := model.AutoMigrate(gdb); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	// 4. redis
	rdb, err := app.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		log.Fatalf("redis ping: %v", err)
	}
	defer rdb.Close()

	// 5. event store with in-process dispatch
	local := bus.NewLocalBus()
	store := repo.NewEventStore(gdb, wallet.Registry(), bus.NewDispatcher(local), log)

	// 6. idempotency guard & service
	guard := idempotency.NewGuard(idempotency.NewRedisCache(rdb), idempotency.Options{
		TTL:    cfg.Idempotency.TTL,
		Strict: cfg.Idempotency.Strict,
	}, log)
	svc := service.NewWalletService(store, guard, local, rdb, service.Options{
		ConflictRetries: cfg.Service.ConflictRetries,
	}, log)

	// 7. gin router
	router := httptransport.NewRouter(svc, cfg.RateLimit, log)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 8. serve
	go func() {
		log.Infof("eventkernel-server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
}
