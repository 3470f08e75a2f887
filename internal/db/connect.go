package db

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"JobMailer/internal/store"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// ConnectPostgres opens a pool and pings it, retrying with exponential
// backoff so the service survives a database that starts after it.
func ConnectPostgres(ctx context.Context, url string, attempts int, log *zap.Logger) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}

	var pool *pgxpool.Pool
	operation := func() error {
		p, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	retries := uint64(max(attempts, 1) - 1)

	err = backoff.RetryNotify(
		operation,
		backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx),
		func(err error, wait time.Duration) {
			log.Warn("database not ready, retrying", zap.Duration("wait", wait), zap.Error(err))
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return pool, nil
}

// Open connects to the configured backend and applies its migrations.
func Open(ctx context.Context, driver, url string, attempts int, log *zap.Logger) (store.Store, error) {
	switch driver {
	case DriverPostgres:
		pool, err := ConnectPostgres(ctx, url, attempts, log)
		if err != nil {
			return nil, err
		}
		if err := MigratePostgres(ctx, pool, log); err != nil {
			pool.Close()
			return nil, err
		}
		return New(pool), nil

	case DriverSQLite:
		s, err := OpenSQLite(ctx, url)
		if err != nil {
			return nil, err
		}
		if err := MigrateSQLite(ctx, s, log); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown database driver %q", driver)
}
