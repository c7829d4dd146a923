package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/josh-kwaku/simsync/internal/config"
	"github.com/josh-kwaku/simsync/internal/handler"
	"github.com/josh-kwaku/simsync/internal/logging"
	"github.com/josh-kwaku/simsync/internal/mirror"
	"github.com/josh-kwaku/simsync/internal/notify"
	"github.com/josh-kwaku/simsync/internal/provider"
	"github.com/josh-kwaku/simsync/internal/repository"
	"github.com/josh-kwaku/simsync/internal/scheduler"
	"github.com/josh-kwaku/simsync/internal/server"
	"github.com/josh-kwaku/simsync/internal/service"
)

// Batch endpoints answer only when the batch finishes.
const batchWriteTimeout = 30 * time.Minute

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logging.Init("simsync", cfg.LogLevel, cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifetimeS) * time.Second,
		ConnMaxIdleTime: time.Duration(cfg.DBConnMaxIdleTimeS) * time.Second,
	}, cfg.RetryPolicy())
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := mirror.Connect(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("failed to connect to mirror", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	publisher := notify.NewPublisher(ctx, cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()

	accountMirror := mirror.NewAccountMirror(rdb, cfg.MirrorNamespace)
	soldMirror := mirror.NewSoldMirror(rdb, cfg.MirrorNamespace)
	adminMirror := mirror.NewAdminMirror(rdb, cfg.MirrorNamespace)

	records := repository.NewAccountRecordRepository(db)
	sold := repository.NewSoldInventoryRepository(db)

	client := provider.NewClient(provider.Options{
		BaseURL:     cfg.APIBaseURL,
		AuthBaseURL: cfg.APIAuthBaseURL,
		Version:     cfg.APIVersion,
		Profile: provider.DeviceProfile{
			UserAgent:  cfg.APIUserAgent,
			DeviceName: cfg.APIDeviceName,
		},
		Timeout: cfg.APITimeout(),
		Retry:   cfg.RetryPolicy(),
	})

	tokens := service.NewTokenManager(client, cfg.RetryPolicy(), cfg.TokenRefreshMargin())
	processor := service.NewProcessor(tokens, client, records, accountMirror, adminMirror)
	session := service.NewSession(tokens, records, accountMirror)
	collection := service.NewCollection()
	reconciler := service.NewReconciler(records, accountMirror, collection)
	orchestrator := service.NewOrchestrator(processor, session, client, records, reconciler, publisher, collection, service.OrchestratorConfig{
		PageSize:         cfg.PageSize,
		ClaimConcurrency: cfg.ClaimConcurrency,
	})
	accounts := service.NewAccountService(records, accountMirror, sold, soldMirror, processor, session, client, collection, cfg.AccountLimit)
	inventory := service.NewSoldInventory(tokens, client, sold, soldMirror, cfg.SoldRefreshConcurrency)

	if added, err := reconciler.Sync(ctx); err != nil {
		slog.Warn("startup sync failed", "error", err)
	} else {
		slog.Info("startup sync finished", "added", added)
	}

	sched, err := scheduler.New(ctx, orchestrator, scheduler.Config{
		RefreshSchedule: cfg.RefreshSchedule,
		ClaimSchedule:   cfg.ClaimSchedule,
	})
	if err != nil {
		slog.Error("failed to build scheduler", "error", err)
		os.Exit(1)
	}
	sched.Start()

	router := server.NewRouter(server.Handlers{
		Health:   handler.NewHealthHandler(db, accountMirror),
		Accounts: handler.NewAccountHandler(accounts, orchestrator),
		Batches:  handler.NewBatchHandler(orchestrator),
		Sold:     handler.NewSoldHandler(inventory),
	})

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      batchWriteTimeout,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		slog.Error("server error", "error", err)
	}

	slog.Info("shutting down")
	orchestrator.Close()
	<-sched.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	slog.Info("server stopped")
}
