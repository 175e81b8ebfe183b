package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/facilityops/cmd/facilityops/cli"
	"github.com/odyssey-erp/facilityops/internal/alerts"
	"github.com/odyssey-erp/facilityops/internal/app"
	"github.com/odyssey-erp/facilityops/internal/equipment"
	"github.com/odyssey-erp/facilityops/internal/inventory"
	"github.com/odyssey-erp/facilityops/internal/observability"
	"github.com/odyssey-erp/facilityops/internal/platform/cache"
	"github.com/odyssey-erp/facilityops/internal/platform/db"
	"github.com/odyssey-erp/facilityops/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		os.Exit(cli.RunJobs(ctx, os.Args[2:], cli.RunOptions{RedisAddr: cfg.RedisAddr, Retention: cfg.AlertRetention}))
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, db.Options{DSN: cfg.PGDSN, MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	services := app.NewServices(app.ServiceDeps{
		Config:     cfg,
		Logger:     logger,
		Pool:       dbpool,
		Redis:      redisClient,
		Registerer: metrics.Registerer(),
		Enqueuer:   jobClient,
	})
	logger.Info("alert trigger registered",
		slog.String("dispatch", string(cfg.Dispatch())),
		slog.String("reconcile_mode", string(cfg.ReconcileMode())),
		slog.String("negative_stock_policy", string(cfg.StockPolicy())))

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		InventoryHandler: inventory.NewHandler(logger, services.Inventory),
		EquipmentHandler: equipment.NewHandler(logger, services.Equipment),
		AlertsHandler:    alerts.NewHandler(logger, services.Alerts),
		JobHandler:       jobs.NewHandler(inspector, logger),
		Metrics:          metrics,
		Database:         dbpool,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
