package domain

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrategyParamsValidate(t *testing.T) {
	valid := StrategyParams{ShortWindow: 5, LongWindow: 20, StopLoss: 0.02, TakeProfit: 0.06, Commission: 0.001}
	require.NoError(t, valid.Validate(0.01))

	tests := []struct {
		name   string
		mutate func(p *StrategyParams)
		margin float64
		field  string
	}{
		{"zero short", func(p *StrategyParams) { p.ShortWindow = 0 }, 0, "short_window"},
		{"short equals long", func(p *StrategyParams) { p.ShortWindow = 20 }, 0, "short_window"},
		{"stop loss one", func(p *StrategyParams) { p.StopLoss = 1 }, 0, "stop_loss"},
		{"take profit zero", func(p *StrategyParams) { p.TakeProfit = 0 }, 0, "take_profit"},
		{"take profit below stop", func(p *StrategyParams) { p.TakeProfit = 0.01 }, 0, "take_profit"},
		{"margin not met", func(p *StrategyParams) { p.TakeProfit = 0.025 }, 0.01, "take_profit"},
		{"commission one", func(p *StrategyParams) { p.Commission = 1 }, 0, "commission"},
		{"negative commission", func(p *StrategyParams) { p.Commission = -0.1 }, 0, "commission"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			err := p.Validate(tt.margin)
			require.ErrorIs(t, err, ErrInvalidParameters)

			var perr InvalidParametersError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.field, perr.Field)
		})
	}
}

func TestMarketSeriesValidate(t *testing.T) {
	base := time.Date(2024, 3, 1, 17, 30, 0, 0, time.UTC)
	bar := func(day int, close float64) Bar {
		return Bar{Timestamp: base.AddDate(0, 0, day), Open: close, High: close, Low: close, Close: close}
	}

	_, err := NewMarketSeries("THYAO", Timeframe1d, []Bar{bar(0, 10), bar(1, 11)})
	require.NoError(t, err)

	_, err = NewMarketSeries("THYAO", Timeframe1d, []Bar{bar(1, 10), bar(1, 11)})
	assert.ErrorIs(t, err, ErrInvalidSeries)

	_, err = NewMarketSeries("THYAO", Timeframe1d, []Bar{bar(1, 10), bar(0, 11)})
	assert.ErrorIs(t, err, ErrInvalidSeries)

	_, err = NewMarketSeries("THYAO", Timeframe1d, []Bar{bar(0, math.NaN())})
	assert.ErrorIs(t, err, ErrInvalidSeries)

	_, err = NewMarketSeries("THYAO", Timeframe1d, []Bar{bar(0, -1)})
	assert.ErrorIs(t, err, ErrInvalidSeries)

	s, err := NewMarketSeries("THYAO", Timeframe1d, []Bar{bar(0, 10), bar(1, 12)})
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 12}, s.Closes())
	assert.Equal(t, 2, s.Len())
}

func TestErrorsUnwrap(t *testing.T) {
	assert.ErrorIs(t, InsufficientDataError{Required: 20, Available: 5}, ErrInsufficientData)
	assert.ErrorIs(t, NewNotFoundError("sweep", "x"), ErrNotFound)

	cause := errors.New("boom")
	err := EvaluationFailureError{Params: StrategyParams{ShortWindow: 1}, Cause: cause}
	assert.ErrorIs(t, err, ErrEvaluationFailure)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "boom")
}

func TestSweepScheduleRequest(t *testing.T) {
	now := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)
	s := NewSweepSchedule("nightly", "0 18 * * 1-5", "GARAN", Timeframe1d, 365)

	req := s.Request(now)
	assert.Equal(t, "GARAN", req.Symbol)
	assert.Equal(t, Timeframe1d, req.Timeframe)
	require.NotNil(t, req.Start)
	assert.Equal(t, now.AddDate(0, 0, -365), *req.Start)

	assert.False(t, s.IsDue(now))
	next := now.Add(-time.Minute)
	s.NextRunAt = &next
	assert.True(t, s.IsDue(now))
	s.Enabled = false
	assert.False(t, s.IsDue(now))
}

func TestSweepStatus(t *testing.T) {
	assert.True(t, SweepStatusCancelled.IsTerminal())
	assert.False(t, SweepStatusRunning.IsTerminal())
	assert.Equal(t, SweepStatusPending, SweepStatusFromString("bogus"))
	assert.Equal(t, SweepStatusFailed, SweepStatusFromString("failed"))
}
