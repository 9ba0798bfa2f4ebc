package optimizer

import (
	"fmt"

	"github.com/eyupikiz-lgtm/QuantAup/internal/domain"
)

// Objective scores one evaluated combination. Higher is better.
type Objective interface {
	Kind() domain.ObjectiveKind
	Score(res *domain.BacktestResult, m domain.MetricsSummary) float64
}

// Linearity rewards straight equity curves: R² of a least-squares line through
// the evaluated portfolio values, minus a penalty for drawdown beyond
// DrawdownThreshold, plus a bonus proportional to a positive Sharpe ratio.
type Linearity struct {
	DrawdownThreshold float64
	DrawdownPenalty   float64
	SharpeBonus       float64
}

// DefaultLinearity returns the stock linearity weights.
func DefaultLinearity() Linearity {
	return Linearity{
		DrawdownThreshold: 0.10,
		DrawdownPenalty:   10,
		SharpeBonus:       0.1,
	}
}

func (Linearity) Kind() domain.ObjectiveKind { return domain.ObjectiveLinearity }

func (l Linearity) Score(res *domain.BacktestResult, m domain.MetricsSummary) float64 {
	r2 := RSquared(res.EvaluatedValues())
	drawdown := m.MaxDrawdownPct / 100
	return r2 - max(0, drawdown-l.DrawdownThreshold)*l.DrawdownPenalty + max(0, m.SharpeRatio)*l.SharpeBonus
}

// TotalReturn scores by raw total return.
type TotalReturn struct{}

func (TotalReturn) Kind() domain.ObjectiveKind { return domain.ObjectiveTotalReturn }

func (TotalReturn) Score(_ *domain.BacktestResult, m domain.MetricsSummary) float64 {
	return m.TotalReturnPct
}

// Sharpe scores by annualized Sharpe ratio.
type Sharpe struct{}

func (Sharpe) Kind() domain.ObjectiveKind { return domain.ObjectiveSharpe }

func (Sharpe) Score(_ *domain.BacktestResult, m domain.MetricsSummary) float64 {
	return m.SharpeRatio
}

// NewObjective returns the objective for kind. Linearity uses weights.
func NewObjective(kind domain.ObjectiveKind, weights Linearity) (Objective, error) {
	switch kind {
	case domain.ObjectiveLinearity, "":
		return weights, nil
	case domain.ObjectiveTotalReturn:
		return TotalReturn{}, nil
	case domain.ObjectiveSharpe:
		return Sharpe{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown objective %q", domain.ErrInvalidInput, kind)
	}
}

// RSquared fits values against their index by least squares and returns the
// coefficient of determination, or 0 when values have no variance.
func RSquared(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	var sumX, sumY float64
	for i, v := range values {
		sumX += float64(i)
		sumY += v
	}
	meanX := sumX / float64(n)
	meanY := sumY / float64(n)

	var sxx, sxy, ssTot float64
	for i, v := range values {
		dx := float64(i) - meanX
		dy := v - meanY
		sxx += dx * dx
		sxy += dx * dy
		ssTot += dy * dy
	}
	if ssTot == 0 || sxx == 0 {
		return 0
	}

	slope := sxy / sxx
	intercept := meanY - slope*meanX
	var ssRes float64
	for i, v := range values {
		r := v - (slope*float64(i) + intercept)
		ssRes += r * r
	}
	return 1 - ssRes/ssTot
}
