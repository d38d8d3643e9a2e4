package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const minStatementTimeout = 30 * time.Second

// statementTimeoutMillis returns the session statement_timeout. The
// claim query must be allowed to run at least as long as one polling
// interval, so a slow scan cannot be killed before the next tick.
func statementTimeoutMillis(pollingInterval time.Duration) string {
	timeout := minStatementTimeout
	if pollingInterval > timeout {
		timeout = pollingInterval
	}
	return strconv.FormatInt(timeout.Milliseconds(), 10)
}

// NewPool opens a pgx connection pool sized for the worker fleet: one
// connection per execution slot plus headroom for the polling loop and
// lease heartbeats.
func NewPool(ctx context.Context, databaseURL string, maxThreads int, pollingInterval time.Duration) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}

	cfg.MaxConns = int32(maxThreads + 2)
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 1 * time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second
	cfg.ConnConfig.ConnectTimeout = 30 * time.Second
	cfg.ConnConfig.RuntimeParams["statement_timeout"] = statementTimeoutMillis(pollingInterval)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return pool, nil
}
