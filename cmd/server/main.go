// Package main provides the API server entry point for the staking ledger service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/staking-ledger/internal/api"
	"github.com/staking-ledger/internal/circuitbreaker"
	"github.com/staking-ledger/internal/clock"
	"github.com/staking-ledger/internal/config"
	"github.com/staking-ledger/internal/logging"
	"github.com/staking-ledger/internal/service"
	"github.com/staking-ledger/internal/storage"
)

func main() {
	fmt.Println("Staking Ledger API Server")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))

	logger := logging.GetGlobalLogger()
	logger.WithFields(logging.Fields{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
		"store":  cfg.Database.Driver,
	}).Info("Structured logging initialized")

	ctx := logging.WithLogger(context.Background(), logger)

	// Ledger store
	var store storage.LedgerStore
	switch cfg.Database.Driver {
	case config.StoreDriverMemory:
		logger.Warn("Using in-memory ledger store; data is lost on exit")
		store = storage.NewMemoryLedger()

	default:
		postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Postgres")
		}
		defer postgres.Close()

		migrationsPath := filepath.Join(cfg.Database.MigrationsPath, "postgres")
		if err := storage.RunMigrations(cfg.Database.Postgres.URL(), migrationsPath); err != nil {
			logger.WithError(err).Fatal("Failed to run Postgres migrations")
		}

		store = storage.NewPostgresLedger(postgres)
		logger.Info("Postgres ledger store ready")
	}

	var opts []service.Option

	// Referral summary cache
	if cfg.Cache.Enabled {
		redis, err := storage.NewRedisCache(&cfg.Database.Redis)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer redis.Close()

		breaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("redis"), clock.System{})
		opts = append(opts, service.WithReferralCache(service.GuardReferralCache(storage.NewCacheService(redis, cfg.Cache.TTL), breaker)))
		logger.WithField("ttl", cfg.Cache.TTL.String()).Info("Referral cache enabled")
	}

	// Analytics mirror of committed transactions
	if cfg.Audit.Enabled {
		clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to ClickHouse")
		}
		defer clickhouse.Close()

		if err := storage.RunClickHouseMigrations(ctx, clickhouse, filepath.Join(cfg.Database.MigrationsPath, "clickhouse")); err != nil {
			logger.WithError(err).Fatal("Failed to run ClickHouse migrations")
		}

		breaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("clickhouse"), clock.System{})
		opts = append(opts, service.WithAuditSink(service.GuardAuditSink(storage.NewAuditRepository(clickhouse), breaker)))
		logger.Info("Audit sink enabled")
	}

	ledgerService := service.NewLedgerService(store, clock.System{}, service.NewPolicy(cfg.Staking), opts...)

	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}

	server := api.NewServer(serverConfig, ledgerService, logger)

	// Start server in a goroutine
	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.WithField("signal", sig.String()).Info("Shutting down server...")
	case err := <-serverErr:
		logger.WithError(err).Error("Server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
