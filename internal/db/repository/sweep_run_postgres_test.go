package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eyupikiz-lgtm/QuantAup/internal/domain"
)

func TestSweepRunRepository_Lifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	pool := setupTestDB(t)
	truncateTables(t, pool, "sweep_runs")

	repo := NewSweepRunRepository(pool)

	t.Run("CreateAndGet", func(t *testing.T) {
		run := domain.NewSweepRun(domain.SweepRequest{
			Symbol:    "AKBNK",
			Timeframe: domain.Timeframe1d,
			Objective: domain.ObjectiveLinearity,
			Trigger:   string(domain.SweepTriggerManual),
		})
		require.NoError(t, repo.Create(ctx, run))

		got, err := repo.GetByID(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, run.ID, got.ID)
		assert.Equal(t, "AKBNK", got.Request.Symbol)
		assert.Equal(t, domain.SweepStatusPending, got.Status)
		assert.Nil(t, got.Result)
	})

	t.Run("RunToCompletion", func(t *testing.T) {
		run := domain.NewSweepRun(domain.SweepRequest{Symbol: "GARAN", Timeframe: domain.Timeframe1h})
		require.NoError(t, repo.Create(ctx, run))

		require.NoError(t, repo.MarkRunning(ctx, run.ID, time.Now()))
		require.NoError(t, repo.UpdateProgress(ctx, run.ID, domain.Progress{Completed: 5, Total: 10}))

		result := &domain.OptimizationResult{
			BestParams: domain.StrategyParams{ShortWindow: 5, LongWindow: 20, StopLoss: 0.02, TakeProfit: 0.05},
			BestScore:  0.87,
			Objective:  domain.ObjectiveLinearity,
			Total:      10,
			Evaluated:  10,
		}
		require.NoError(t, repo.Finish(ctx, run.ID, domain.SweepStatusCompleted, result, nil))

		got, err := repo.GetByID(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.SweepStatusCompleted, got.Status)
		assert.Equal(t, 5, got.Progress.Completed)
		require.NotNil(t, got.Result)
		assert.Equal(t, 20, got.Result.BestParams.LongWindow)
		assert.NotNil(t, got.StartedAt)
		assert.NotNil(t, got.CompletedAt)

		err = repo.Finish(ctx, run.ID, domain.SweepStatusFailed, nil, nil)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("FinishRejectsNonTerminal", func(t *testing.T) {
		err := repo.Finish(ctx, uuid.New(), domain.SweepStatusRunning, nil, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("ListAndFailInterrupted", func(t *testing.T) {
		truncateTables(t, pool, "sweep_runs")
		for _, symbol := range []string{"AKBNK", "AKBNK", "THYAO"} {
			require.NoError(t, repo.Create(ctx, domain.NewSweepRun(domain.SweepRequest{
				Symbol:    symbol,
				Timeframe: domain.Timeframe1d,
			})))
		}

		runs, total, err := repo.List(ctx, domain.SweepListQuery{Symbol: "AKBNK"})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		assert.Len(t, runs, 2)

		n, err := repo.FailInterrupted(ctx, "restarted")
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		failed := domain.SweepStatusFailed
		runs, total, err = repo.List(ctx, domain.SweepListQuery{Status: &failed})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		require.NotNil(t, runs[0].Error)
		assert.Equal(t, "restarted", *runs[0].Error)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := repo.GetByID(ctx, uuid.New())
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestMarketDataRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	pool := setupTestDB(t)
	truncateTables(t, pool, "market_data")

	repo := NewMarketDataRepository(pool)

	base := time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC)
	bars := make([]domain.Bar, 5)
	for i := range bars {
		c := 10 + float64(i)
		bars[i] = domain.Bar{Timestamp: base.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c, Volume: 100}
	}
	series, err := domain.NewMarketSeries("AKBNK", domain.Timeframe1d, bars)
	require.NoError(t, err)

	n, err := repo.InsertBars(ctx, series)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	n, err = repo.InsertBars(ctx, series)
	require.NoError(t, err)
	assert.Zero(t, n, "existing bars are skipped")

	t.Run("FetchRange", func(t *testing.T) {
		start := base.AddDate(0, 0, 1)
		end := base.AddDate(0, 0, 3)
		got, err := repo.Fetch(ctx, "AKBNK", domain.Timeframe1d, &start, &end)
		require.NoError(t, err)
		require.Equal(t, 3, got.Len())
		assert.InDelta(t, 11.0, got.Bars[0].Close, 1e-12)
		assert.InDelta(t, 13.0, got.Bars[2].Close, 1e-12)
	})

	t.Run("FetchMissing", func(t *testing.T) {
		_, err := repo.Fetch(ctx, "AKBNK", domain.Timeframe5m, nil, nil)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Listing", func(t *testing.T) {
		symbols, err := repo.Symbols(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"AKBNK"}, symbols)

		tfs, err := repo.Timeframes(ctx, "AKBNK")
		require.NoError(t, err)
		assert.Equal(t, []domain.Timeframe{domain.Timeframe1d}, tfs)

		tfs, err = repo.Timeframes(ctx, "NOPE")
		require.NoError(t, err)
		assert.Empty(t, tfs)
	})
}
