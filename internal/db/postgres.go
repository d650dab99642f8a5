// Package db opens the Postgres pool and applies schema migrations.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/presswire/contentqueue/internal/config"
)

var (
	ErrConnect = errors.New("failed to open database connection")
	ErrMigrate = errors.New("failed to apply migrations")
)

// Connect creates the pool and pings it, retrying while the database is not
// reachable yet. Attempt n waits n*ConnectBackoff before the next one.
func Connect(ctx context.Context, cfg config.DBConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	if cfg.HealthCheckPeriod > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}

	var pool *pgxpool.Pool
	err = retry(ctx, cfg.ConnectAttempts, cfg.ConnectBackoff, func(attempt int) error {
		p, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			if err = p.Ping(ctx); err != nil {
				p.Close()
			}
		}
		if err != nil {
			logger.Warn("database not reachable", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, errors.Join(ErrConnect, err)
	}
	return pool, nil
}

// retry calls fn up to attempts times (at least once) and returns the last
// error. It stops early when ctx is done.
func retry(ctx context.Context, attempts int, backoff time.Duration, fn func(attempt int) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(i); err == nil {
			return nil
		}
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(time.Duration(i) * backoff):
		}
	}
	return err
}

// Migrate applies pending up-migrations over the already open pool, so the
// migrator needs no second connection string. Already applied versions are
// skipped.
func Migrate(pool *pgxpool.Pool, cfg config.DBConfig, logger *zap.Logger) error {
	sqlDB := stdlib.OpenDBFromPool(pool)
	driver, err := pgxmigrate.WithInstance(sqlDB, &pgxmigrate.Config{MigrationsTable: cfg.MigrationsTable})
	if err != nil {
		_ = sqlDB.Close()
		return errors.Join(ErrMigrate, err)
	}

	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationsPath, "pgx5", driver)
	if err != nil {
		_ = driver.Close()
		return errors.Join(ErrMigrate, err)
	}
	defer m.Close()
	m.Log = migrateLogger{logger.Sugar()}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Join(ErrMigrate, err)
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		logger.Info("database has no migrations", zap.String("source", cfg.MigrationsPath))
	case err != nil:
		return errors.Join(ErrMigrate, err)
	default:
		logger.Info("database migrations applied", zap.Uint("version", version), zap.Bool("dirty", dirty))
	}
	return nil
}

// migrateLogger routes golang-migrate's Printf logging through zap.
type migrateLogger struct {
	log *zap.SugaredLogger
}

func (l migrateLogger) Printf(format string, v ...interface{}) {
	l.log.Debugf(format, v...)
}

func (l migrateLogger) Verbose() bool { return false }
