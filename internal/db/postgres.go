// Package db provides the Postgres pool shared by the market data and sweep
// run repositories.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/eyupikiz-lgtm/QuantAup/internal/config"
)

const (
	applicationName = "quantaup"
	connectTimeout  = 10 * time.Second
	pingTimeout     = 5 * time.Second
)

// Pool wraps pgxpool.Pool with logging, health checks and transactions.
type Pool struct {
	*pgxpool.Pool
	logger *zap.Logger
}

// NewPool connects with the configured credentials and verifies the pool.
func NewPool(ctx context.Context, cfg *config.DatabaseConfig, logger *zap.Logger) (*Pool, error) {
	return NewPoolFromURL(ctx, cfg.ConnectionString(), cfg, logger)
}

// NewPoolFromURL connects to connString. Pool sizing comes from cfg when it
// is non-nil. Sessions run in UTC so bar timestamps round-trip unchanged.
func NewPoolFromURL(ctx context.Context, connString string, cfg *config.DatabaseConfig, logger *zap.Logger) (*Pool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if err := applySizing(poolConfig, cfg); err != nil {
		return nil, err
	}

	conn := poolConfig.ConnConfig
	conn.ConnectTimeout = connectTimeout
	if _, ok := conn.RuntimeParams["application_name"]; !ok {
		conn.RuntimeParams["application_name"] = applicationName
	}
	conn.RuntimeParams["timezone"] = "UTC"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database %s:%d: %w", conn.Host, conn.Port, err)
	}

	logger.Info("Database connection pool created",
		zap.String("host", conn.Host),
		zap.Uint16("port", conn.Port),
		zap.String("database", conn.Database),
		zap.Int32("max_connections", poolConfig.MaxConns),
		zap.Int32("min_connections", poolConfig.MinConns),
	)
	return &Pool{Pool: pool, logger: logger}, nil
}

func applySizing(pc *pgxpool.Config, cfg *config.DatabaseConfig) error {
	if cfg == nil {
		return nil
	}
	if cfg.MaxConnections > 0 {
		pc.MaxConns = int32(cfg.MaxConnections)
	}
	if cfg.MaxIdleConnections > 0 {
		pc.MinConns = int32(min(cfg.MaxIdleConnections, int(pc.MaxConns)))
	}
	if cfg.ConnMaxLifetime != "" {
		lifetime, err := time.ParseDuration(cfg.ConnMaxLifetime)
		if err != nil {
			return fmt.Errorf("invalid conn_max_lifetime %q: %w", cfg.ConnMaxLifetime, err)
		}
		pc.MaxConnLifetime = lifetime
	}
	return nil
}

// Close closes all connections in the pool.
func (p *Pool) Close() {
	p.Pool.Close()
	p.logger.Info("Database connection pool closed")
}

// HealthCheck pings the database with a short timeout.
func (p *Pool) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := p.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// WithTx runs fn in a transaction, committing on success and rolling back
// when fn fails or panics.
func (p *Pool) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := p.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			p.logger.Error("Failed to rollback transaction", zap.Error(rbErr))
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}
