package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rxoptima/rxoptima/internal/app"
	"github.com/rxoptima/rxoptima/internal/docstore"
	"github.com/rxoptima/rxoptima/internal/docstore/pgstore"
	jobmetrics "github.com/rxoptima/rxoptima/internal/jobs"
	"github.com/rxoptima/rxoptima/internal/platform/db"
	"github.com/rxoptima/rxoptima/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	metrics := jobmetrics.NewMetrics(nil)
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}

	handlers := []jobs.TaskHandler{
		{Type: jobs.TaskLowStockAlert, Handler: jobs.NewLowStockJob(logger, metrics).Handle},
	}

	var cron []jobs.CronRegistration

	// Sweeps read the document store directly, so they need Postgres.
	if cfg.StoreDriver == app.DriverPostgres {
		pool, err := db.New(ctx, db.Options{DSN: cfg.PGDSN, MaxConns: cfg.PGMaxConns, MaxConnLifetime: cfg.PGMaxConnLifetime})
		if err != nil {
			logger.Error("connect database", slog.Any("error", err))
			os.Exit(1)
		}
		defer pool.Close()
		var store docstore.Store = pgstore.New(pool, nil, logger)
		sweep := jobs.NewLowStockSweepJob(store, cfg.AppNamespace, cfg.LowStockThreshold, logger, metrics)
		handlers = append(handlers, jobs.TaskHandler{Type: jobs.TaskLowStockSweep, Handler: sweep.Handle})
		if cfg.SweepCron != "" {
			entry, err := jobs.LowStockSweepSchedule(cfg.SweepCron, cfg.SweepIdentity, cfg.LowStockThreshold)
			if err != nil {
				logger.Error("schedule low stock sweep", slog.Any("error", err))
				os.Exit(1)
			}
			cron = append(cron, entry)
			logger.Info("low stock sweep scheduled", slog.String("cron", cfg.SweepCron))
		}
	} else {
		logger.Warn("memory store selected, low stock sweeps are disabled")
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Handlers:  handlers,
		Cron:      cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:              cfg.WorkerMetricsAddr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("starting worker metrics", slog.String("addr", cfg.WorkerMetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("worker metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
