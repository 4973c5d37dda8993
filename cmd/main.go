package main

import (
	"context"
	"time"

	"github.com/hellofresh/health-go/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/taskfi/taskfi-escrow/internal/api"
	"github.com/taskfi/taskfi-escrow/internal/cache"
	"github.com/taskfi/taskfi-escrow/internal/config"
	"github.com/taskfi/taskfi-escrow/internal/db"
	"github.com/taskfi/taskfi-escrow/internal/oracle"
	"github.com/taskfi/taskfi-escrow/internal/repository"
	"github.com/taskfi/taskfi-escrow/internal/service"
	"github.com/taskfi/taskfi-escrow/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	logger, err := logger.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("starting application")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx := context.Background()

	if err = db.EnsureMigrations(ctx, cfg.Database.DSN(), cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("failed to apply migrations", zap.Error(err))
	}

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err = pool.Ping(ctx); err != nil {
		logger.Fatal("failed to ping database", zap.Error(err))
	}

	logger.Info("database connection established")

	healthChecks := []health.Config{
		{
			Name:    "postgres",
			Timeout: 2 * time.Second,
			Check:   pool.Ping,
		},
	}

	var taskCache *cache.TaskCache
	if cfg.Redis.Enabled {
		taskCache, err = cache.NewTaskCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TaskTTL, logger)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer taskCache.Close()
		healthChecks = append(healthChecks, health.Config{
			Name:    "redis",
			Timeout: 2 * time.Second,
			Check:   taskCache.Ping,
		})
		logger.Info("redis task cache enabled", zap.String("addr", cfg.Redis.Addr))
	}

	transactor := db.NewPgxTransactor(pool)

	teamRepo := repository.NewPgxTeamRepository(pool)
	taskRepo := repository.NewPgxTaskRepository(pool)
	accountRepo := repository.NewPgxAccountRepository(pool)

	ledger := service.NewLedgerService(transactor).
		WithTeamRepo(teamRepo).
		WithAccountRepo(accountRepo)
	auctions := service.NewAuctionService(transactor).
		WithTeamRepo(teamRepo).
		WithTaskRepo(taskRepo).
		WithAccountRepo(accountRepo)
	if cfg.Oracle.URL != "" {
		auctions = auctions.WithVerifier(oracle.NewHTTPVerifier(cfg.Oracle.URL, cfg.Oracle.Timeout))
	}

	e := echo.New()

	handler := api.NewHandler(logger).
		WithLedgerService(ledger).
		WithAuctionService(auctions).
		WithTaskCache(taskCache).
		WithHealthChecker(api.MustNewHealthChecker(healthChecks...))

	handler.RegisterRoutes(e)

	logger.Info("server starting", zap.String("addr", cfg.Server.Addr()))
	if err = e.Start(cfg.Server.Addr()); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}
}
