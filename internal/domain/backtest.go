package domain

import (
	"time"
)

// Trade is one entry or exit recorded by the simulator.
type Trade struct {
	Index      int         `json:"index"`
	Timestamp  time.Time   `json:"timestamp"`
	Type       TradeType   `json:"type"`
	Price      float64     `json:"price"`
	Shares     float64     `json:"shares"`
	Reason     TradeReason `json:"reason"`
	PnLPercent *float64    `json:"pnl_percent,omitempty"`
}

// IsProfitable returns true for exits with a positive recorded pnl.
func (t Trade) IsProfitable() bool {
	return t.Type == TradeExit && t.PnLPercent != nil && *t.PnLPercent > 0
}

// BacktestResult is the output of a single simulation.
//
// PortfolioValues and Signals are aligned with the input series. Bars before
// StartIndex had no signal history and hold InitialCapital. Signals records
// the action taken at each bar. FirstClose and LastClose bound the evaluated
// window for buy-and-hold.
type BacktestResult struct {
	Params          StrategyParams `json:"params"`
	InitialCapital  float64        `json:"initial_capital"`
	StartIndex      int            `json:"start_index"`
	PortfolioValues []float64      `json:"portfolio_values"`
	Signals         []Signal       `json:"signals"`
	FirstClose      float64        `json:"first_close"`
	LastClose       float64        `json:"last_close"`
	Trades          []Trade        `json:"trades"`
	// DegenerateEntries counts crossovers skipped because the entry price was zero.
	DegenerateEntries int `json:"degenerate_entries,omitempty"`
}

// EvaluatedValues returns the portfolio values from StartIndex on.
func (r *BacktestResult) EvaluatedValues() []float64 {
	if r.StartIndex >= len(r.PortfolioValues) {
		return nil
	}
	return r.PortfolioValues[r.StartIndex:]
}

// FinalValue returns the last portfolio value, or the initial capital when empty.
func (r *BacktestResult) FinalValue() float64 {
	if len(r.PortfolioValues) == 0 {
		return r.InitialCapital
	}
	return r.PortfolioValues[len(r.PortfolioValues)-1]
}

// MetricsSummary holds the performance metrics of one backtest.
type MetricsSummary struct {
	TotalReturnPct   float64 `json:"total_return_pct"`
	BuyHoldReturnPct float64 `json:"buy_hold_return_pct"`
	VolatilityPct    float64 `json:"volatility_pct"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	MaxDrawdownPct   float64 `json:"max_drawdown_pct"`
	TotalTrades      int     `json:"total_trades"`
	EntryCount       int     `json:"entry_count"`
	ExitCount        int     `json:"exit_count"`
	WinRatePct       float64 `json:"win_rate_pct"`
}

// BacktestRequest is a single-run request received from the API.
type BacktestRequest struct {
	Symbol    string         `json:"symbol"`
	Timeframe Timeframe      `json:"timeframe"`
	Start     *time.Time     `json:"start,omitempty"`
	End       *time.Time     `json:"end,omitempty"`
	Params    StrategyParams `json:"params"`
}

// BacktestReport bundles a single-run result with its metrics.
type BacktestReport struct {
	Symbol    string          `json:"symbol"`
	Timeframe Timeframe       `json:"timeframe"`
	Result    *BacktestResult `json:"result"`
	Metrics   MetricsSummary  `json:"metrics"`
}
