package optimizer

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/eyupikiz-lgtm/QuantAup/internal/backtest"
	"github.com/eyupikiz-lgtm/QuantAup/internal/domain"
	"github.com/eyupikiz-lgtm/QuantAup/internal/signal"
)

func randomSeries(n int, seed int64) *domain.MarketSeries {
	r := rand.New(rand.NewSource(seed))
	base := time.Date(2023, 1, 2, 17, 30, 0, 0, time.UTC)
	bars := make([]domain.Bar, n)
	price := 50.0
	for i := range bars {
		price *= 1 + (r.Float64()-0.48)*0.04
		bars[i] = domain.Bar{Timestamp: base.AddDate(0, 0, i), Open: price, High: price, Low: price, Close: price, Volume: 1}
	}
	return &domain.MarketSeries{Symbol: "RND", Timeframe: domain.Timeframe1d, Bars: bars}
}

func smallRanges() domain.SweepRanges {
	return domain.SweepRanges{
		ShortWindow:  domain.IntRange{Min: 5, Max: 20, Step: 5},
		LongWindow:   domain.IntRange{Min: 20, Max: 60, Step: 10},
		StopLoss:     domain.FloatRange{Min: 0.01, Max: 0.05, Step: 0.02},
		TakeProfit:   domain.FloatRange{Min: 0.02, Max: 0.10, Step: 0.04},
		WindowMargin: 5,
		ProfitMargin: 0.01,
	}
}

func newTestOptimizer(t *testing.T, workers int, objective Objective) *Optimizer {
	t.Helper()
	logger := zaptest.NewLogger(t)
	engine := backtest.NewEngine(backtest.Config{InitialCapital: 10000}, signal.Scalar{}, logger)
	return New(Config{Workers: workers, TopN: 5, ProgressInterval: time.Nanosecond}, engine, objective, logger)
}

type panickyObjective struct {
	Linearity
	short int
}

func (p panickyObjective) Score(res *domain.BacktestResult, m domain.MetricsSummary) float64 {
	if res.Params.ShortWindow == p.short {
		panic("boom")
	}
	return p.Linearity.Score(res, m)
}

type recorder struct {
	mu        sync.Mutex
	evaluated int
	failed    int
	statuses  []domain.SweepStatus
}

func (r *recorder) CombinationEvaluated(_ domain.ObjectiveKind, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluated++
	if err != nil {
		r.failed++
	}
}

func (r *recorder) SweepFinished(_ domain.ObjectiveKind, status domain.SweepStatus, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func TestRunSequentialMatchesParallel(t *testing.T) {
	series := randomSeries(800, 21)
	ranges := smallRanges()

	for _, objective := range []Objective{DefaultLinearity(), TotalReturn{}} {
		t.Run(string(objective.Kind()), func(t *testing.T) {
			seq, err := newTestOptimizer(t, 1, objective).Run(context.Background(), Request{Series: series, Ranges: ranges})
			require.NoError(t, err)
			par, err := newTestOptimizer(t, 8, objective).Run(context.Background(), Request{Series: series, Ranges: ranges})
			require.NoError(t, err)

			assert.Equal(t, seq.BestParams, par.BestParams)
			assert.Equal(t, seq.BestScore, par.BestScore)
			assert.Equal(t, seq.BestMetrics, par.BestMetrics)
			assert.Equal(t, seq.Top, par.Top)
			assert.Equal(t, seq.Evaluated, par.Evaluated)
			assert.False(t, par.Partial)
		})
	}
}

func TestRunCounts(t *testing.T) {
	series := randomSeries(500, 3)
	ranges := smallRanges()
	combos, total, pruned := Combinations(ranges, 0)

	var last domain.Progress
	res, err := newTestOptimizer(t, 4, nil).Run(context.Background(), Request{
		Series:   series,
		Ranges:   ranges,
		Progress: func(p domain.Progress) { last = p },
	})
	require.NoError(t, err)

	assert.Equal(t, total, res.Total)
	assert.Equal(t, pruned, res.Pruned)
	assert.Equal(t, len(combos), res.Evaluated+res.Skipped)
	assert.Equal(t, 0, res.Skipped)
	assert.Equal(t, domain.ObjectiveLinearity, res.Objective)
	assert.Less(t, res.BestParams.ShortWindow, res.BestParams.LongWindow-ranges.WindowMargin)
	assert.Len(t, res.Top, 5)
	assert.Equal(t, res.BestParams, res.Top[0].Params)

	assert.Equal(t, len(combos), last.Completed)
	assert.Equal(t, len(combos), last.Total)
	assert.True(t, last.HasBest)
	assert.Equal(t, res.BestScore, last.BestScore)
}

func TestRunPrunesWithEngineProfitMargin(t *testing.T) {
	series := randomSeries(500, 4)
	ranges := smallRanges()
	ranges.StopLoss = domain.FloatRange{Min: 0.01, Max: 0.03, Step: 0.01}
	ranges.TakeProfit = domain.FloatRange{Min: 0.02, Max: 0.06, Step: 0.01}

	logger := zaptest.NewLogger(t)
	engine := backtest.NewEngine(backtest.Config{InitialCapital: 10000, MinProfitMargin: 0.02}, signal.Scalar{}, logger)
	opt := New(Config{Workers: 4, TopN: 3}, engine, TotalReturn{}, logger)

	res, err := opt.Run(context.Background(), Request{Series: series, Ranges: ranges})
	require.NoError(t, err)

	strict := ranges
	strict.ProfitMargin = 0.02
	combos, total, pruned := Combinations(strict, 0)
	_, _, loosePruned := Combinations(ranges, 0)
	require.Greater(t, pruned, loosePruned)

	assert.Equal(t, total, res.Total)
	assert.Equal(t, pruned, res.Pruned)
	assert.Equal(t, 0, res.Skipped)
	assert.Equal(t, len(combos), res.Evaluated)
	assert.Greater(t, res.BestParams.TakeProfit-res.BestParams.StopLoss, 0.02)
}

func TestRunIsolatesPanics(t *testing.T) {
	series := randomSeries(500, 9)
	ranges := smallRanges()
	combos, _, _ := Combinations(ranges, 0)

	bad := 0
	for _, c := range combos {
		if c.Params.ShortWindow == 10 {
			bad++
		}
	}
	require.Positive(t, bad)

	rec := &recorder{}
	opt := newTestOptimizer(t, 4, panickyObjective{Linearity: DefaultLinearity(), short: 10})
	opt.SetRecorder(rec)

	res, err := opt.Run(context.Background(), Request{Series: series, Ranges: ranges})
	require.NoError(t, err)

	assert.Equal(t, bad, res.Skipped)
	assert.Equal(t, len(combos)-bad, res.Evaluated)
	assert.NotEqual(t, 10, res.BestParams.ShortWindow)

	assert.Equal(t, len(combos), rec.evaluated)
	assert.Equal(t, bad, rec.failed)
	assert.Equal(t, []domain.SweepStatus{domain.SweepStatusCompleted}, rec.statuses)
}

func TestRunSkipsInsufficientData(t *testing.T) {
	series := randomSeries(45, 4)
	ranges := smallRanges()

	res, err := newTestOptimizer(t, 2, TotalReturn{}).Run(context.Background(), Request{Series: series, Ranges: ranges})
	require.NoError(t, err)

	assert.Positive(t, res.Skipped)
	assert.LessOrEqual(t, res.BestParams.LongWindow, 45)
}

func TestRunNoValidCombination(t *testing.T) {
	ranges := smallRanges()

	_, err := newTestOptimizer(t, 2, nil).Run(context.Background(), Request{Series: randomSeries(10, 1), Ranges: ranges})
	assert.ErrorIs(t, err, domain.ErrNoValidCombination)

	ranges.WindowMargin = 100
	_, err = newTestOptimizer(t, 2, nil).Run(context.Background(), Request{Series: randomSeries(300, 1), Ranges: ranges})
	assert.ErrorIs(t, err, domain.ErrNoValidCombination)
}

func TestRunRejectsInvalidInput(t *testing.T) {
	opt := newTestOptimizer(t, 1, nil)

	_, err := opt.Run(context.Background(), Request{Ranges: smallRanges()})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	ranges := smallRanges()
	ranges.StopLoss.Step = 0
	_, err = opt.Run(context.Background(), Request{Series: randomSeries(100, 1), Ranges: ranges})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRunCancellation(t *testing.T) {
	series := randomSeries(600, 17)
	ranges := smallRanges()
	ranges.StopLoss = domain.FloatRange{Min: 0.01, Max: 0.05, Step: 0.01}
	ranges.TakeProfit = domain.FloatRange{Min: 0.02, Max: 0.20, Step: 0.01}
	combos, _, _ := Combinations(ranges, 0)
	require.Greater(t, len(combos), 100)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := newTestOptimizer(t, 2, nil).Run(ctx, Request{
		Series: series,
		Ranges: ranges,
		Progress: func(p domain.Progress) {
			if p.Completed >= 5 {
				cancel()
			}
		},
	})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)

	assert.True(t, res.Partial)
	assert.Less(t, res.Evaluated+res.Skipped, len(combos))
	assert.GreaterOrEqual(t, res.Evaluated, 5)
	assert.Equal(t, res.Top[0].Params, res.BestParams)
}

func TestRunCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestOptimizer(t, 2, nil).Run(ctx, Request{Series: randomSeries(300, 2), Ranges: smallRanges()})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, domain.ErrNoValidCombination)
}

func TestRunAcceleratedMatchesScalar(t *testing.T) {
	series := randomSeries(2500, 33)
	ranges := smallRanges()
	logger := zaptest.NewLogger(t)

	scalar := New(Config{Workers: 4}, backtest.NewEngine(backtest.Config{InitialCapital: 1000}, signal.Scalar{}, logger), TotalReturn{}, logger)
	accel := New(Config{Workers: 4}, backtest.NewEngine(backtest.Config{InitialCapital: 1000}, signal.NewAccelerated(4, 300, 100, logger), logger), TotalReturn{}, logger)

	a, err := scalar.Run(context.Background(), Request{Series: series, Ranges: ranges})
	require.NoError(t, err)
	b, err := accel.Run(context.Background(), Request{Series: series, Ranges: ranges})
	require.NoError(t, err)

	assert.Equal(t, a.BestParams, b.BestParams)
	assert.InDelta(t, a.BestScore, b.BestScore, 1e-6)
	assert.Equal(t, a.BestMetrics.TotalTrades, b.BestMetrics.TotalTrades)
}
