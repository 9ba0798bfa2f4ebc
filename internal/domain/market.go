package domain

import (
	"fmt"
	"math"
	"time"
)

// Bar is one OHLCV observation.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// MarketSeries is an ordered price history for one symbol and timeframe.
// Callers own the series; the engine only reads it.
type MarketSeries struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	Bars      []Bar     `json:"bars"`
}

// NewMarketSeries builds a series and checks its invariants.
func NewMarketSeries(symbol string, timeframe Timeframe, bars []Bar) (*MarketSeries, error) {
	s := &MarketSeries{Symbol: symbol, Timeframe: timeframe, Bars: bars}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Len returns the number of bars.
func (s *MarketSeries) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Bars)
}

// Closes returns a fresh slice of close prices.
func (s *MarketSeries) Closes() []float64 {
	closes := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		closes[i] = b.Close
	}
	return closes
}

// Validate checks ordering, finiteness and non-negative closes of every bar.
func (s *MarketSeries) Validate() error {
	for i, b := range s.Bars {
		for _, v := range [...]float64{b.Open, b.High, b.Low, b.Close, b.Volume} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: non-finite value at bar %d", ErrInvalidSeries, i)
			}
		}
		if b.Close < 0 {
			return fmt.Errorf("%w: negative close at bar %d", ErrInvalidSeries, i)
		}
		if i > 0 && !b.Timestamp.After(s.Bars[i-1].Timestamp) {
			return fmt.Errorf("%w: timestamp at bar %d is not after bar %d", ErrInvalidSeries, i, i-1)
		}
	}
	return nil
}
