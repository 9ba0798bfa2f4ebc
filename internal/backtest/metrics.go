package backtest

import (
	"math"

	"github.com/eyupikiz-lgtm/QuantAup/internal/domain"
)

// TradingDaysPerYear annualizes volatility and Sharpe ratio.
const TradingDaysPerYear = 252

// Evaluate derives the metrics summary of a result. Every ratio with a zero
// denominator evaluates to 0.
func Evaluate(res *domain.BacktestResult) domain.MetricsSummary {
	values := res.EvaluatedValues()
	m := domain.MetricsSummary{
		TotalReturnPct:   pctChange(res.InitialCapital, res.FinalValue()),
		BuyHoldReturnPct: pctChange(res.FirstClose, res.LastClose),
		MaxDrawdownPct:   MaxDrawdown(values) * 100,
		TotalTrades:      len(res.Trades),
	}

	returns := Returns(values)
	sampleSD := stdev(returns, 1)
	popSD := stdev(returns, 0)
	if len(returns) >= 2 && sampleSD > 0 && popSD > 0 {
		annual := math.Sqrt(TradingDaysPerYear)
		m.VolatilityPct = sampleSD * annual * 100
		m.SharpeRatio = mean(returns) / popSD * annual
	}

	wins := 0
	for _, t := range res.Trades {
		switch t.Type {
		case domain.TradeEntry:
			m.EntryCount++
		case domain.TradeExit:
			m.ExitCount++
			if t.IsProfitable() {
				wins++
			}
		}
	}
	if m.ExitCount > 0 {
		m.WinRatePct = float64(wins) / float64(m.ExitCount) * 100
	}
	return m
}

// Returns computes per-bar fractional changes. The first return is 0, as is
// any return following a zero value.
func Returns(values []float64) []float64 {
	out := make([]float64, len(values))
	for i := 1; i < len(values); i++ {
		if values[i-1] != 0 {
			out[i] = values[i]/values[i-1] - 1
		}
	}
	return out
}

// MaxDrawdown returns the largest peak-to-trough decline as a fraction.
func MaxDrawdown(values []float64) float64 {
	peak := math.Inf(-1)
	worst := 0.0
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - v) / peak; dd > worst {
			worst = dd
		}
	}
	return worst
}

func pctChange(from, to float64) float64 {
	if from == 0 {
		return 0
	}
	return (to/from - 1) * 100
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stdev with ddof degrees of freedom removed from the denominator.
func stdev(xs []float64, ddof int) float64 {
	n := len(xs) - ddof
	if n <= 0 {
		return 0
	}
	mu := mean(xs)
	ss := 0.0
	for _, x := range xs {
		d := x - mu
		ss += d * d
	}
	return math.Sqrt(ss / float64(n))
}
