package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/staking-ledger/internal/config"
)

// testContext creates a context with timeout for tests
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func testPostgresConfig() *config.PostgresConfig {
	return &config.PostgresConfig{
		Host:           envOr("POSTGRES_HOST", "localhost"),
		Port:           envOr("POSTGRES_PORT", "5432"),
		Database:       envOr("POSTGRES_DB", "staking_test"),
		Schema:         "public",
		User:           envOr("POSTGRES_USER", "staking"),
		Password:       envOr("POSTGRES_PASSWORD", "staking_dev_password"),
		MaxConnections: 10,
	}
}

func testRedisConfig() *config.RedisConfig {
	return &config.RedisConfig{
		Host:           envOr("REDIS_HOST", "localhost"),
		Port:           envOr("REDIS_PORT", "6379"),
		MaxConnections: 10,
	}
}

func testClickHouseConfig() *config.ClickHouseConfig {
	return &config.ClickHouseConfig{
		Host:     envOr("CLICKHOUSE_HOST", "localhost"),
		Port:     envOr("CLICKHOUSE_PORT", "9000"),
		Database: envOr("CLICKHOUSE_DB", "staking_test"),
		User:     envOr("CLICKHOUSE_USER", "default"),
		Password: envOr("CLICKHOUSE_PASSWORD", ""),
	}
}

// newTestPostgresLedger connects to a local Postgres, migrates it and empties
// every ledger table. The test is skipped when Postgres is unreachable.
func newTestPostgresLedger(t *testing.T) *PostgresLedger {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := testPostgresConfig()
	db, err := NewPostgresDB(cfg)
	if err != nil {
		t.Skipf("Skipping test - Postgres not available: %v", err)
	}
	t.Cleanup(db.Close)

	if err := RunMigrations(cfg.URL(), "../../migrations/postgres"); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}

	_, err = db.Pool().Exec(testContext(t),
		`TRUNCATE idempotency_keys, referrals, transactions, stakes, users RESTART IDENTITY CASCADE`)
	if err != nil {
		t.Fatalf("truncate error = %v", err)
	}

	return NewPostgresLedger(db)
}
