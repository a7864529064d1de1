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
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/rxoptima/rxoptima/cmd/rxoptima/cli"
	"github.com/rxoptima/rxoptima/internal/app"
	"github.com/rxoptima/rxoptima/internal/audit"
	"github.com/rxoptima/rxoptima/internal/docstore"
	"github.com/rxoptima/rxoptima/internal/docstore/memstore"
	"github.com/rxoptima/rxoptima/internal/docstore/pgstore"
	"github.com/rxoptima/rxoptima/internal/identity"
	"github.com/rxoptima/rxoptima/internal/observability"
	"github.com/rxoptima/rxoptima/internal/platform/cache"
	"github.com/rxoptima/rxoptima/internal/platform/db"
	"github.com/rxoptima/rxoptima/internal/shared"
	"github.com/rxoptima/rxoptima/jobs"
	"github.com/rxoptima/rxoptima/report"
)

type schemaOwner interface {
	EnsureSchema(ctx context.Context) error
}

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

	logger := app.NewLogger(cfg)

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}

	var (
		store         docstore.Store
		accounts      identity.AccountRepository
		auditRecorder shared.AuditRecorder
		auditTrail    audit.Repository
	)
	switch cfg.StoreDriver {
	case app.DriverMemory:
		logger.Warn("memory store selected, data is lost on exit")
		store = memstore.New()
		accounts = identity.NewMemoryAccountRepository()
		memLog := audit.NewMemoryLog()
		auditRecorder, auditTrail = memLog, memLog
	default:
		pool, err := db.New(ctx, db.Options{DSN: cfg.PGDSN, MaxConns: cfg.PGMaxConns, MaxConnLifetime: cfg.PGMaxConnLifetime})
		if err != nil {
			logger.Error("connect postgres", slog.Any("error", err))
			os.Exit(1)
		}
		defer pool.Close()
		pgStore, pgAccounts, auditLogger, err := openPostgres(ctx, pool, redisClient, cfg, logger)
		if err != nil {
			logger.Error("prepare postgres", slog.Any("error", err))
			os.Exit(1)
		}
		store, accounts, auditRecorder = pgStore, pgAccounts, auditLogger
		auditTrail = audit.NewPGRepository(pool)
	}

	if cli.IsCommand(os.Args[1:]) {
		jobsCLI := cli.NewJobsCLI(redisOpts)
		code := cli.Run(ctx, os.Args[1:], cli.Env{Accounts: accounts, Jobs: jobsCLI})
		if err := jobsCLI.Close(); err != nil {
			logger.Warn("jobs cli close", slog.Any("error", err))
		}
		os.Exit(code)
	}

	if err := ensureBootstrapAccount(ctx, accounts, cfg); err != nil {
		logger.Error("bootstrap account", slog.Any("error", err))
		os.Exit(1)
	}

	provider := identity.NewPasswordProvider(accounts, redisClient, identity.PasswordConfig{
		Station:     cfg.StationID,
		TTL:         cfg.IdentityTTL,
		MaxAttempts: cfg.LoginMaxAttempts,
		Lockout:     cfg.LoginLockout,
	}, logger)
	if err := provider.Restore(ctx); err != nil {
		logger.Warn("restore identity", slog.Any("error", err))
	}

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
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	var renderer report.Renderer
	if client := report.NewClient(cfg.GotenbergURL); client != nil {
		if err := client.Ping(ctx); err != nil {
			logger.Warn("gotenberg unreachable; receipt pdfs will fail until it recovers", slog.Any("error", err))
		}
		renderer = client
	}

	station := app.Build(app.Deps{
		Config:     cfg,
		Logger:     logger,
		Store:      store,
		Provider:   provider,
		Audit:      auditRecorder,
		AuditTrail: auditTrail,
		Alerts:     jobClient,
		Inspector:  inspector,
		Renderer:   renderer,
		Metrics:    observability.NewMetrics(),

		Idempotency: shared.NewIdempotencyStore(redisClient, cfg.AppNamespace, cfg.IdempotencyTTL),
	})
	defer station.Close()

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      station.Router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("station", cfg.StationID))
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

func openPostgres(ctx context.Context, pool *pgxpool.Pool, client *redis.Client, cfg *app.Config, logger *slog.Logger) (*pgstore.Store, *identity.PGAccountRepository, *shared.AuditLogger, error) {
	feed := pgstore.NewChangeFeed(client, cache.Key(cfg.AppNamespace, "changes"), logger)
	if err := feed.Start(ctx); err != nil {
		return nil, nil, nil, err
	}
	store := pgstore.New(pool, feed, logger)
	accounts := identity.NewPGAccountRepository(pool)
	auditLogger := shared.NewAuditLogger(pool)
	for _, owner := range []schemaOwner{store, accounts, auditLogger} {
		if err := owner.EnsureSchema(ctx); err != nil {
			return nil, nil, nil, err
		}
	}
	return store, accounts, auditLogger, nil
}

func ensureBootstrapAccount(ctx context.Context, accounts identity.AccountRepository, cfg *app.Config) error {
	if cfg.BootstrapEmail == "" {
		return nil
	}
	_, err := identity.CreateAccount(ctx, accounts, cfg.BootstrapEmail, cfg.BootstrapPassword)
	if errors.Is(err, identity.ErrDuplicateAccount) {
		return nil
	}
	return err
}
