package optimizer

import (
	"fmt"
	"math"

	"github.com/eyupikiz-lgtm/QuantAup/internal/domain"
)

// Combination is one candidate parameter set. Ordinal is its position in the
// full cartesian product and fixes the tie-break order.
type Combination struct {
	Ordinal int
	Params  domain.StrategyParams
}

// DefaultRanges returns the stock parameter grid.
func DefaultRanges() domain.SweepRanges {
	return domain.SweepRanges{
		ShortWindow:  domain.IntRange{Min: 5, Max: 50, Step: 5},
		LongWindow:   domain.IntRange{Min: 20, Max: 200, Step: 10},
		StopLoss:     domain.FloatRange{Min: 0.01, Max: 0.10, Step: 0.01},
		TakeProfit:   domain.FloatRange{Min: 0.02, Max: 0.20, Step: 0.02},
		WindowMargin: 5,
		ProfitMargin: 0.01,
	}
}

// ValidateRanges rejects empty or out-of-domain ranges.
func ValidateRanges(r domain.SweepRanges) error {
	checkInt := func(name string, ir domain.IntRange) error {
		switch {
		case ir.Min < 1:
			return fmt.Errorf("%w: %s.min must be positive", domain.ErrInvalidInput, name)
		case ir.Max < ir.Min:
			return fmt.Errorf("%w: %s.max must be >= min", domain.ErrInvalidInput, name)
		case ir.Step < 1:
			return fmt.Errorf("%w: %s.step must be positive", domain.ErrInvalidInput, name)
		}
		return nil
	}
	checkFloat := func(name string, fr domain.FloatRange) error {
		switch {
		case !(fr.Min > 0 && fr.Max < 1):
			return fmt.Errorf("%w: %s must lie in (0,1)", domain.ErrInvalidInput, name)
		case fr.Max < fr.Min:
			return fmt.Errorf("%w: %s.max must be >= min", domain.ErrInvalidInput, name)
		case !(fr.Step > 0):
			return fmt.Errorf("%w: %s.step must be positive", domain.ErrInvalidInput, name)
		}
		return nil
	}

	if err := checkInt("short_window", r.ShortWindow); err != nil {
		return err
	}
	if err := checkInt("long_window", r.LongWindow); err != nil {
		return err
	}
	if err := checkFloat("stop_loss", r.StopLoss); err != nil {
		return err
	}
	if err := checkFloat("take_profit", r.TakeProfit); err != nil {
		return err
	}
	if r.WindowMargin < 0 {
		return fmt.Errorf("%w: window_margin must be >= 0", domain.ErrInvalidInput)
	}
	if r.ProfitMargin < 0 {
		return fmt.Errorf("%w: profit_margin must be >= 0", domain.ErrInvalidInput)
	}
	return nil
}

// IntValues expands an integer range.
func IntValues(r domain.IntRange) []int {
	var out []int
	for v := r.Min; v <= r.Max; v += r.Step {
		out = append(out, v)
	}
	return out
}

// FloatValues expands a float range as min + k*step rounded to 6 decimals,
// so accumulated step error never adds or drops an endpoint.
func FloatValues(r domain.FloatRange) []float64 {
	var out []float64
	for k := 0; ; k++ {
		v := round6(r.Min + float64(k)*r.Step)
		if v > r.Max+1e-9 {
			break
		}
		out = append(out, v)
	}
	return out
}

// Keep reports whether a tuple survives pruning. The profit gap is compared
// at grid precision, so a gap equal to the margin is pruned.
func Keep(short, long int, stopLoss, takeProfit float64, r domain.SweepRanges) bool {
	return short < long-r.WindowMargin && round6(takeProfit-stopLoss) > round6(r.ProfitMargin)
}

// Combinations enumerates the cartesian product in short, long, stop loss,
// take profit order and prunes invalid tuples before they are dispatched.
func Combinations(r domain.SweepRanges, commission float64) (combos []Combination, total, pruned int) {
	shorts := IntValues(r.ShortWindow)
	longs := IntValues(r.LongWindow)
	stops := FloatValues(r.StopLoss)
	takes := FloatValues(r.TakeProfit)

	ordinal := 0
	for _, s := range shorts {
		for _, l := range longs {
			for _, sl := range stops {
				for _, tp := range takes {
					if Keep(s, l, sl, tp, r) {
						combos = append(combos, Combination{
							Ordinal: ordinal,
							Params: domain.StrategyParams{
								ShortWindow: s,
								LongWindow:  l,
								StopLoss:    sl,
								TakeProfit:  tp,
								Commission:  commission,
							},
						})
					} else {
						pruned++
					}
					ordinal++
				}
			}
		}
	}
	return combos, ordinal, pruned
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
