package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS market_data (
		id        BIGSERIAL PRIMARY KEY,
		symbol    VARCHAR(20) NOT NULL,
		datetime  TIMESTAMPTZ NOT NULL,
		open      DOUBLE PRECISION NOT NULL,
		high      DOUBLE PRECISION NOT NULL,
		low       DOUBLE PRECISION NOT NULL,
		close     DOUBLE PRECISION NOT NULL,
		volume    DOUBLE PRECISION NOT NULL DEFAULT 0,
		timeframe VARCHAR(10) NOT NULL,
		UNIQUE (symbol, timeframe, datetime)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_market_data_symbol ON market_data (symbol)`,
	`CREATE INDEX IF NOT EXISTS idx_market_data_datetime ON market_data (datetime)`,
	`CREATE TABLE IF NOT EXISTS sweep_runs (
		id           UUID PRIMARY KEY,
		symbol       VARCHAR(20) NOT NULL,
		timeframe    VARCHAR(10) NOT NULL,
		request      JSONB NOT NULL,
		status       VARCHAR(20) NOT NULL,
		progress     JSONB NOT NULL DEFAULT '{}',
		result       JSONB,
		error        TEXT,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		started_at   TIMESTAMPTZ,
		completed_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sweep_runs_status ON sweep_runs (status)`,
	`CREATE INDEX IF NOT EXISTS idx_sweep_runs_created_at ON sweep_runs (created_at DESC)`,
}

// Migrate creates the tables used by the service if they do not exist.
func (p *Pool) Migrate(ctx context.Context) error {
	err := p.WithTx(ctx, func(tx pgx.Tx) error {
		for i, stmt := range schema {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("schema statement %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	p.logger.Info("Database schema ready", zap.Int("statements", len(schema)))
	return nil
}
