// Package backtest runs the MA-crossover position state machine and
// evaluates its performance.
package backtest

import (
	"github.com/eyupikiz-lgtm/QuantAup/internal/domain"
	"github.com/eyupikiz-lgtm/QuantAup/internal/signal"
)

// Simulator is the per-bar FLAT/LONG state machine. It is advanced one bar
// at a time with Step and is not safe for concurrent use.
type Simulator struct {
	bars              []domain.Bar
	params            domain.StrategyParams
	short, long       signal.RollingAverageSeries
	commissionOnEntry bool

	state      domain.PositionState
	cash       float64
	shares     float64
	entryPrice float64
	entryIndex int
	next       int

	result *domain.BacktestResult
}

// NewSimulator prepares a simulation over bars. The averages must be aligned
// with bars and the caller must have validated params.
func NewSimulator(
	bars []domain.Bar,
	params domain.StrategyParams,
	short, long signal.RollingAverageSeries,
	initialCapital float64,
	commissionOnEntry bool,
) *Simulator {
	start := params.LongWindow - 1
	if start < 0 {
		start = 0
	}
	res := &domain.BacktestResult{
		Params:          params,
		InitialCapital:  initialCapital,
		StartIndex:      start,
		PortfolioValues: make([]float64, 0, len(bars)),
		Signals:         make([]domain.Signal, 0, len(bars)),
		Trades:          []domain.Trade{},
	}
	if start < len(bars) {
		res.FirstClose = bars[start].Close
		res.LastClose = bars[len(bars)-1].Close
	}
	return &Simulator{
		bars:              bars,
		params:            params,
		short:             short,
		long:              long,
		commissionOnEntry: commissionOnEntry,
		state:             domain.PositionFlat,
		cash:              initialCapital,
		entryIndex:        -1,
		result:            res,
	}
}

// State returns the current position state.
func (s *Simulator) State() domain.PositionState { return s.state }

// Cash returns the uninvested cash.
func (s *Simulator) Cash() float64 { return s.cash }

// Shares returns the held shares.
func (s *Simulator) Shares() float64 { return s.shares }

// EntryIndex returns the bar of the open entry, or -1 when flat.
func (s *Simulator) EntryIndex() int { return s.entryIndex }

// Done reports whether every bar has been processed.
func (s *Simulator) Done() bool { return s.next >= len(s.bars) }

// Step processes the next bar and returns false once all bars are consumed.
func (s *Simulator) Step() bool {
	if s.Done() {
		return false
	}
	i := s.next
	s.next++

	price := s.bars[i].Close
	action := domain.SignalNone

	if i >= s.result.StartIndex {
		switch s.state {
		case domain.PositionFlat:
			if signal.CrossUp(s.short, s.long, i) {
				if s.enter(i, price) {
					action = domain.SignalUp
				}
			}
		case domain.PositionLong:
			if reason, change, ok := s.exitReason(i, price); ok {
				s.exit(i, price, reason, change)
				action = domain.SignalDown
			}
		}
	}

	value := s.cash
	if s.state == domain.PositionLong {
		value = s.shares * price
	}
	s.result.PortfolioValues = append(s.result.PortfolioValues, value)
	s.result.Signals = append(s.result.Signals, action)
	return true
}

// Run steps through every remaining bar and returns the result.
func (s *Simulator) Run() *domain.BacktestResult {
	for s.Step() {
	}
	return s.Result()
}

// Result returns the result accumulated so far. The simulator must not be
// stepped after the result is handed to a caller.
func (s *Simulator) Result() *domain.BacktestResult {
	return s.result
}

func (s *Simulator) enter(i int, price float64) bool {
	if price <= 0 {
		s.result.DegenerateEntries++
		return false
	}
	invest := s.cash
	if s.commissionOnEntry {
		invest *= 1 - s.params.Commission
	}
	s.shares = invest / price
	s.cash = 0
	s.entryPrice = price
	s.entryIndex = i
	s.state = domain.PositionLong

	s.result.Trades = append(s.result.Trades, domain.Trade{
		Index:     i,
		Timestamp: s.bars[i].Timestamp,
		Type:      domain.TradeEntry,
		Price:     price,
		Shares:    s.shares,
		Reason:    domain.ReasonCrossover,
	})
	return true
}

// exitReason applies the exit rules in priority order: take profit, stop
// loss, crossover down.
func (s *Simulator) exitReason(i int, price float64) (domain.TradeReason, float64, bool) {
	change := (price - s.entryPrice) / s.entryPrice
	switch {
	case change >= s.params.TakeProfit:
		return domain.ReasonTakeProfit, change, true
	case change <= -s.params.StopLoss:
		return domain.ReasonStopLoss, change, true
	case signal.CrossDown(s.short, s.long, i):
		return domain.ReasonCrossover, change, true
	}
	return "", change, false
}

func (s *Simulator) exit(i int, price float64, reason domain.TradeReason, change float64) {
	pnl := change * 100
	shares := s.shares
	s.cash = shares * price * (1 - s.params.Commission)
	s.shares = 0
	s.entryPrice = 0
	s.entryIndex = -1
	s.state = domain.PositionFlat

	s.result.Trades = append(s.result.Trades, domain.Trade{
		Index:      i,
		Timestamp:  s.bars[i].Timestamp,
		Type:       domain.TradeExit,
		Price:      price,
		Shares:     shares,
		Reason:     reason,
		PnLPercent: &pnl,
	})
}
