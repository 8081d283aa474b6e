package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kiranshivaraju/dupreaper/internal/config"
)

// connectTimeout bounds how long Connect waits for the database to accept connections.
const connectTimeout = 30 * time.Second

// Connect opens a pgx pool sized from cfg and waits, with exponential
// backoff, until the database answers a ping.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(min(cfg.MaxIdleConns, cfg.MaxOpenConns))
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 500 * time.Millisecond
	expBackoff.MaxElapsedTime = connectTimeout

	ping := func() error {
		if err := pool.Ping(ctx); err != nil {
			slog.Warn("database not ready, will retry", "error", err)
			return err
		}
		return nil
	}
	if err := backoff.Retry(ping, backoff.WithContext(expBackoff, ctx)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}
