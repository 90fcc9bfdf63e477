package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/groupbank/groupbank/internal/config"
	"github.com/groupbank/groupbank/internal/infra"
	"github.com/groupbank/groupbank/internal/ledger"
	"github.com/groupbank/groupbank/internal/logging"
	"github.com/groupbank/groupbank/internal/metrics"
	"github.com/groupbank/groupbank/internal/routes"
	"github.com/groupbank/groupbank/internal/server"
	"github.com/groupbank/groupbank/internal/signing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	signer, err := serverSigner(cfg)
	if err != nil {
		logger.Error("load server key", "error", err)
		os.Exit(1)
	}
	if cfg.ServerKeySeed == "" {
		logger.Warn("SERVER_KEY_SEED not set, using an ephemeral server key", "server_key", signer.Identity())
	}

	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		db, err = infra.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := ledger.NewPostgresLedger(db).Migrate(ctx); err != nil {
			logger.Error("migrate postgres", "error", err)
			os.Exit(1)
		}
	}

	var sqlDB *sql.DB
	if db == nil && cfg.SQLitePath != "" {
		sqlDB, err = infra.NewSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Error("open sqlite", "error", err)
			os.Exit(1)
		}
		defer sqlDB.Close()
		if err := ledger.NewSQLiteLedger(sqlDB).Migrate(ctx); err != nil {
			logger.Error("migrate sqlite", "error", err)
			os.Exit(1)
		}
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		cache, err = infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
	}

	srv, err := server.New(routes.Deps{
		Cfg:     cfg,
		DB:      db,
		SQL:     sqlDB,
		Cache:   cache,
		Logger:  logger,
		Signer:  signer,
		Metrics: metrics.New(),
	})
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited cleanly")
}

// serverSigner loads the response signing key. Config already refuses an
// empty seed outside development.
func serverSigner(cfg config.Config) (*signing.Signer, error) {
	if cfg.ServerKeySeed == "" {
		return signing.GenerateSigner()
	}
	return signing.NewSignerFromBase64(cfg.ServerKeySeed)
}
