package backtest

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/eyupikiz-lgtm/QuantAup/internal/domain"
	"github.com/eyupikiz-lgtm/QuantAup/internal/signal"
)

// Config holds engine-wide simulation settings.
type Config struct {
	InitialCapital    float64
	CommissionOnEntry bool
	// MinProfitMargin is the required gap between take profit and stop loss.
	MinProfitMargin float64
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		InitialCapital: 100000,
	}
}

// AverageSource supplies rolling means for a window.
type AverageSource interface {
	Average(window int) (signal.RollingAverageSeries, error)
}

// Engine runs single backtests.
type Engine struct {
	cfg      Config
	averager signal.Averager
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewEngine creates a new Engine.
func NewEngine(cfg Config, averager signal.Averager, logger *zap.Logger) *Engine {
	if averager == nil {
		averager = signal.Scalar{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:      cfg,
		averager: averager,
		logger:   logger.Named("backtest"),
		tracer:   otel.Tracer("github.com/eyupikiz-lgtm/QuantAup/internal/backtest"),
	}
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Averager returns the rolling-average implementation in use.
func (e *Engine) Averager() signal.Averager {
	return e.averager
}

// Run validates the inputs, computes both averages and simulates every bar.
func (e *Engine) Run(ctx context.Context, series *domain.MarketSeries, params domain.StrategyParams) (*domain.BacktestResult, error) {
	_, span := e.tracer.Start(ctx, "backtest.Run", trace.WithAttributes(
		attribute.String("symbol", series.Symbol),
		attribute.Int("bars", series.Len()),
		attribute.Int("short_window", params.ShortWindow),
		attribute.Int("long_window", params.LongWindow),
	))
	defer span.End()

	if err := series.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	closes := series.Closes()
	res, err := e.Simulate(series.Bars, params, signal.NewCache(e.averager, closes))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	e.logger.Debug("Backtest finished",
		zap.String("symbol", series.Symbol),
		zap.Stringer("params", params),
		zap.Int("trades", len(res.Trades)),
		zap.Float64("final_value", res.FinalValue()),
	)
	return res, nil
}

// Simulate runs one backtest over bars with averages taken from src.
// It does not validate the series.
func (e *Engine) Simulate(bars []domain.Bar, params domain.StrategyParams, src AverageSource) (*domain.BacktestResult, error) {
	if err := params.Validate(e.cfg.MinProfitMargin); err != nil {
		return nil, err
	}
	required := max(params.ShortWindow, params.LongWindow)
	if len(bars) < required {
		return nil, domain.InsufficientDataError{Required: required, Available: len(bars)}
	}

	short, err := src.Average(params.ShortWindow)
	if err != nil {
		return nil, fmt.Errorf("short average: %w", err)
	}
	long, err := src.Average(params.LongWindow)
	if err != nil {
		return nil, fmt.Errorf("long average: %w", err)
	}

	sim := NewSimulator(bars, params, short, long, e.cfg.InitialCapital, e.cfg.CommissionOnEntry)
	return sim.Run(), nil
}
