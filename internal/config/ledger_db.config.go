package config

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const dbConnectAttempts = 5

// ConnectDB opens the ledger's connection pool, waiting for the database to
// come up. Reconciliation holds row locks for the span of one transaction,
// so the pool stays modest and recycles connections quickly to keep lock
// queues short.
func ConnectDB() (*pgxpool.Pool, error) {
	url := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		getEnv("DB_USER", "ledger"),
		getEnv("DB_PASSWORD", "ledger"),
		getEnv("DB_HOST", "postgres"),
		getEnv("DB_PORT", "5432"),
		getEnv("DB_NAME", "ledger"),
	)

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	cfg.MaxConns = 20
	cfg.MinConns = 4
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 2 * time.Minute

	var lastErr error
	delay := 2 * time.Second
	for attempt := 1; attempt <= dbConnectAttempts; attempt++ {
		pool, err := openPool(cfg)
		if err == nil {
			log.Printf("[DB] ledger pool ready (attempt %d)", attempt)
			return pool, nil
		}
		lastErr = err
		if attempt < dbConnectAttempts {
			log.Printf("[DB] attempt %d/%d failed: %v, retrying in %s", attempt, dbConnectAttempts, err, delay)
			time.Sleep(delay)
			delay *= 2
		}
	}
	return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", dbConnectAttempts, lastErr)
}

func openPool(cfg *pgxpool.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping failed: %w", err)
	}
	return pool, nil
}
