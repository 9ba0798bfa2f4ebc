// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/eyupikiz-lgtm/QuantAup/internal/db"
	"github.com/eyupikiz-lgtm/QuantAup/internal/domain"
)

// MarketDataRepository defines access to stored OHLCV bars.
type MarketDataRepository interface {
	// Fetch returns the bars of symbol and timeframe ordered by time. Nil
	// bounds are open.
	Fetch(ctx context.Context, symbol string, timeframe domain.Timeframe, start, end *time.Time) (*domain.MarketSeries, error)

	// Symbols lists the distinct stored symbols in order.
	Symbols(ctx context.Context) ([]string, error)

	// Timeframes lists the stored timeframes, optionally for one symbol.
	Timeframes(ctx context.Context, symbol string) ([]domain.Timeframe, error)

	// InsertBars stores a series, ignoring bars that already exist.
	InsertBars(ctx context.Context, series *domain.MarketSeries) (int64, error)
}

// SweepRunRepository defines persistence for sweep runs.
type SweepRunRepository interface {
	// Create creates a new sweep run.
	Create(ctx context.Context, run *domain.SweepRun) error

	// GetByID retrieves a sweep run by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.SweepRun, error)

	// List lists sweep runs with filters and pagination, newest first.
	List(ctx context.Context, query domain.SweepListQuery) ([]*domain.SweepRun, int, error)

	// MarkRunning moves a pending run to running.
	MarkRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error

	// UpdateProgress stores the latest progress snapshot.
	UpdateProgress(ctx context.Context, id uuid.UUID, progress domain.Progress) error

	// Finish moves a run to a terminal status with its result or error.
	Finish(ctx context.Context, id uuid.UUID, status domain.SweepStatus, result *domain.OptimizationResult, errMsg *string) error

	// FailInterrupted fails every run left pending or running by a previous process.
	FailInterrupted(ctx context.Context, reason string) (int64, error)
}

// Repositories aggregates all repository interfaces.
type Repositories struct {
	MarketData MarketDataRepository
	SweepRun   SweepRunRepository
}

// NewRepositories creates a new Repositories instance with all PostgreSQL implementations.
func NewRepositories(pool *db.Pool) *Repositories {
	return &Repositories{
		MarketData: NewMarketDataRepository(pool),
		SweepRun:   NewSweepRunRepository(pool),
	}
}
