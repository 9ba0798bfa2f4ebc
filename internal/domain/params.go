package domain

import "fmt"

// StrategyParams configures one MA-crossover backtest.
type StrategyParams struct {
	ShortWindow int     `json:"short_window"`
	LongWindow  int     `json:"long_window"`
	StopLoss    float64 `json:"stop_loss"`
	TakeProfit  float64 `json:"take_profit"`
	Commission  float64 `json:"commission"`
}

func (p StrategyParams) String() string {
	return fmt.Sprintf("short=%d long=%d sl=%.4f tp=%.4f comm=%.4f",
		p.ShortWindow, p.LongWindow, p.StopLoss, p.TakeProfit, p.Commission)
}

// Validate checks the parameter invariants. minProfitMargin is the required
// gap between take profit and stop loss.
func (p StrategyParams) Validate(minProfitMargin float64) error {
	switch {
	case p.ShortWindow < 1:
		return InvalidParametersError{Field: "short_window", Reason: "must be positive"}
	case p.LongWindow < 1:
		return InvalidParametersError{Field: "long_window", Reason: "must be positive"}
	case p.ShortWindow >= p.LongWindow:
		return InvalidParametersError{Field: "short_window", Reason: "must be less than long_window"}
	case !(p.StopLoss > 0 && p.StopLoss < 1):
		return InvalidParametersError{Field: "stop_loss", Reason: "must be in (0,1)"}
	case !(p.TakeProfit > 0 && p.TakeProfit < 1):
		return InvalidParametersError{Field: "take_profit", Reason: "must be in (0,1)"}
	case !(p.TakeProfit > p.StopLoss+minProfitMargin):
		return InvalidParametersError{
			Field:  "take_profit",
			Reason: fmt.Sprintf("must exceed stop_loss by more than %g", minProfitMargin),
		}
	case !(p.Commission >= 0 && p.Commission < 1):
		return InvalidParametersError{Field: "commission", Reason: "must be in [0,1)"}
	}
	return nil
}
