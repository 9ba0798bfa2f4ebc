// Package datasource resolves market series from the configured backend.
package datasource

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eyupikiz-lgtm/QuantAup/internal/config"
	"github.com/eyupikiz-lgtm/QuantAup/internal/domain"
)

// Provider loads the bars of one symbol and timeframe. Nil bounds are open.
type Provider interface {
	Fetch(ctx context.Context, symbol string, timeframe domain.Timeframe, start, end *time.Time) (*domain.MarketSeries, error)
}

// Lister reports which series a backend can serve.
type Lister interface {
	Symbols(ctx context.Context) ([]string, error)
	Timeframes(ctx context.Context, symbol string) ([]domain.Timeframe, error)
}

// Source is a Provider that can also list its contents.
type Source interface {
	Provider
	Lister
}

// New builds the Source selected by cfg.Source. db is used for the postgres
// source and may be nil otherwise.
func New(cfg config.DataConfig, db Source, logger *zap.Logger) (Source, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Source {
	case "postgres", "":
		if db == nil {
			return nil, fmt.Errorf("%w: postgres data source requires a database", domain.ErrInvalidInput)
		}
		logger.Info("Using postgres market data")
		return db, nil
	case "csv":
		logger.Info("Using CSV market data", zap.String("dir", cfg.CSVDir))
		return NewCSV(cfg.CSVDir, logger), nil
	case "binance":
		logger.Info("Using Binance futures market data",
			zap.Float64("requests_per_second", cfg.Binance.RequestsPerSecond),
		)
		return NewBinance(cfg.Binance, logger), nil
	default:
		return nil, fmt.Errorf("%w: unknown data source %q", domain.ErrInvalidInput, cfg.Source)
	}
}

// window trims bars to the inclusive [start, end] range.
func window(bars []domain.Bar, start, end *time.Time) []domain.Bar {
	out := make([]domain.Bar, 0, len(bars))
	for _, b := range bars {
		if start != nil && b.Timestamp.Before(*start) {
			continue
		}
		if end != nil && b.Timestamp.After(*end) {
			continue
		}
		out = append(out, b)
	}
	return out
}
