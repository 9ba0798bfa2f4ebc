package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/eyupikiz-lgtm/QuantAup/internal/config"
	"github.com/eyupikiz-lgtm/QuantAup/internal/domain"
	"github.com/eyupikiz-lgtm/QuantAup/internal/signal"
)

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", ""} {
		logger, err := NewLogger(config.LoggingConfig{Level: level, Format: "console", OutputPath: "stderr"})
		require.NoError(t, err)
		assert.NotNil(t, logger)
	}

	logger, err := NewLogger(config.LoggingConfig{Level: "warn", Format: "json"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))
	assert.True(t, logger.Core().Enabled(zap.WarnLevel))
}

func TestNewEngineAndOptimizer(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.Averager = string(signal.KindScalar)
	logger := zaptest.NewLogger(t)

	engine := NewEngine(cfg, logger)
	assert.Equal(t, "scalar", engine.Averager().Name())
	assert.Equal(t, cfg.Engine.InitialCapital, engine.Config().InitialCapital)

	opt, err := NewOptimizer(cfg, engine, nil, logger)
	require.NoError(t, err)
	assert.Positive(t, opt.Workers())

	cfg.Optimizer.Objective = "sortino"
	_, err = NewOptimizer(cfg, engine, nil, logger)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSweepDefaults(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.Commission = 0.002
	cfg.Optimizer.Objective = string(domain.ObjectiveSharpe)

	d := SweepDefaults(cfg)
	assert.Equal(t, 0.002, d.Commission)
	assert.Equal(t, domain.ObjectiveSharpe, d.Objective)
	assert.Equal(t, cfg.Optimizer.Ranges, d.Ranges)
	assert.Equal(t, 0.10, d.Linearity.DrawdownThreshold)
}
