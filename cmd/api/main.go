package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/example/wager-settlement/internal/api"
	"github.com/example/wager-settlement/internal/config"
	"github.com/example/wager-settlement/internal/events"
	"github.com/example/wager-settlement/internal/gateway"
	"github.com/example/wager-settlement/internal/ledger"
	"github.com/example/wager-settlement/internal/orders"
	"github.com/example/wager-settlement/internal/security"
	"github.com/example/wager-settlement/internal/settlement"
	"github.com/example/wager-settlement/pkg/audit"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		orderStore  orders.Store
		ledgerStore ledger.Store
	)
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		po := orders.NewPostgresStore(pool)
		pl := ledger.NewPostgresStore(pool)
		if err := po.Migrate(ctx); err != nil {
			return err
		}
		if err := pl.Migrate(ctx); err != nil {
			return err
		}
		orderStore, ledgerStore = po, pl
		logger.Info("storage backend", "driver", "postgres")
	} else {
		db, err := sql.Open("sqlite3", cfg.SQLitePath)
		if err != nil {
			return err
		}
		defer db.Close()
		db.SetMaxOpenConns(1)

		so := orders.NewSQLiteStore(db)
		sl := ledger.NewSQLiteStore(db)
		if err := so.Migrate(ctx); err != nil {
			return err
		}
		if err := sl.Migrate(ctx); err != nil {
			return err
		}
		orderStore, ledgerStore = so, sl
		logger.Info("storage backend", "driver", "sqlite", "path", cfg.SQLitePath)
	}

	var (
		publisher   events.Publisher = events.NopPublisher{}
		rateLimiter *security.RedisTokenBucket
	)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()

		publisher = events.NewRedisPublisher(redisClient, logger)
		rateLimiter = &security.RedisTokenBucket{
			Redis:      redisClient,
			Prefix:     "settlement_api",
			Capacity:   20,
			RefillRate: 10,
		}
	}

	creds := gateway.NewTokenSource(cfg.Gateway.BaseURL, cfg.Gateway.ClientID, cfg.Gateway.ClientSecret, nil)
	gw := gateway.NewClient(cfg.Gateway.BaseURL, creds, cfg.MinOrderAmount, cfg.Gateway.Timeout)

	auditor := audit.NewChainLogger()
	writer := ledger.NewWriter(orderStore, ledgerStore, publisher, logger)
	service := settlement.NewService(gw, orderStore, writer, auditor, logger, cfg.MinOrderAmount)

	if cfg.SweepInterval > 0 {
		worker := settlement.NewSweepWorker(service, cfg.SweepInterval, cfg.SweepStaleAfter, logger)
		go worker.Run(ctx)
	}

	router := api.NewRouter(api.Dependencies{
		Logger:      logger,
		Settler:     service,
		Auditor:     auditor,
		RateLimiter: rateLimiter,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("settlement api listening", "addr", cfg.ListenAddr, "env", cfg.Environment)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
