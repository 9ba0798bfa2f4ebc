// Package app wires configuration into the engine, optimizer and logger
// shared by the server and the command line tool.
package app

import (
	"go.uber.org/zap"

	"github.com/eyupikiz-lgtm/QuantAup/internal/backtest"
	"github.com/eyupikiz-lgtm/QuantAup/internal/config"
	"github.com/eyupikiz-lgtm/QuantAup/internal/domain"
	"github.com/eyupikiz-lgtm/QuantAup/internal/optimizer"
	"github.com/eyupikiz-lgtm/QuantAup/internal/scheduler"
	"github.com/eyupikiz-lgtm/QuantAup/internal/signal"
)

// NewLogger initializes the zap logger based on configuration.
func NewLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	if cfg.OutputPath != "" {
		zapCfg.OutputPaths = []string{cfg.OutputPath}
	}

	return zapCfg.Build()
}

// NewEngine builds the backtest engine with the configured averager.
func NewEngine(cfg *config.Config, logger *zap.Logger) *backtest.Engine {
	averager := signal.NewAverager(cfg.Engine.AveragerOptions(cfg.Optimizer.Workers), logger)
	return backtest.NewEngine(cfg.Engine.Backtest(), averager, logger)
}

// NewOptimizer builds the sweep optimizer. recorder may be nil.
func NewOptimizer(cfg *config.Config, engine *backtest.Engine, recorder optimizer.Recorder, logger *zap.Logger) (*optimizer.Optimizer, error) {
	objective, err := optimizer.NewObjective(domain.ObjectiveKind(cfg.Optimizer.Objective), cfg.Optimizer.Linearity.Weights())
	if err != nil {
		return nil, err
	}

	opt := optimizer.New(cfg.Optimizer.Pool(), engine, objective, logger)
	if recorder != nil {
		opt.SetRecorder(recorder)
	}
	return opt, nil
}

// SweepDefaults returns what the scheduler fills into sparse sweep requests.
func SweepDefaults(cfg *config.Config) scheduler.Defaults {
	return scheduler.Defaults{
		Ranges:     cfg.Optimizer.Ranges,
		Commission: cfg.Engine.Commission,
		Objective:  domain.ObjectiveKind(cfg.Optimizer.Objective),
		Linearity:  cfg.Optimizer.Linearity.Weights(),
	}
}
