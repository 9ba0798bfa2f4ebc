// Package domain contains the core domain models for QuantAup.
package domain

// PositionState is the state of the simulated position.
type PositionState string

const (
	PositionFlat PositionState = "FLAT"
	PositionLong PositionState = "LONG"
)

// IsValid returns true if the state is a valid PositionState.
func (s PositionState) IsValid() bool {
	return s == PositionFlat || s == PositionLong
}

// String returns the string representation of the state.
func (s PositionState) String() string {
	return string(s)
}

// TradeType distinguishes position entries from exits.
type TradeType string

const (
	TradeEntry TradeType = "ENTRY"
	TradeExit  TradeType = "EXIT"
)

// IsValid returns true if the type is a valid TradeType.
func (t TradeType) IsValid() bool {
	return t == TradeEntry || t == TradeExit
}

// String returns the string representation of the trade type.
func (t TradeType) String() string {
	return string(t)
}

// TradeReason records why a trade was taken.
type TradeReason string

const (
	ReasonCrossover  TradeReason = "CROSSOVER"
	ReasonTakeProfit TradeReason = "TAKE_PROFIT"
	ReasonStopLoss   TradeReason = "STOP_LOSS"
)

// IsValid returns true if the reason is a valid TradeReason.
func (r TradeReason) IsValid() bool {
	switch r {
	case ReasonCrossover, ReasonTakeProfit, ReasonStopLoss:
		return true
	default:
		return false
	}
}

// String returns the string representation of the reason.
func (r TradeReason) String() string {
	return string(r)
}

// Signal is the per-bar crossover event.
type Signal int8

const (
	SignalNone Signal = 0
	SignalUp   Signal = 1
	SignalDown Signal = -1
)

// String returns the string representation of the signal.
func (s Signal) String() string {
	switch s {
	case SignalUp:
		return "up"
	case SignalDown:
		return "down"
	default:
		return "none"
	}
}

// SweepStatus represents the status of a parameter sweep run.
type SweepStatus string

const (
	SweepStatusPending   SweepStatus = "pending"
	SweepStatusRunning   SweepStatus = "running"
	SweepStatusCompleted SweepStatus = "completed"
	SweepStatusFailed    SweepStatus = "failed"
	SweepStatusCancelled SweepStatus = "cancelled"
)

// IsTerminal returns true if the status is terminal (no further transitions).
func (s SweepStatus) IsTerminal() bool {
	return s == SweepStatusCompleted || s == SweepStatusFailed || s == SweepStatusCancelled
}

// IsValid returns true if the status is a valid SweepStatus.
func (s SweepStatus) IsValid() bool {
	switch s {
	case SweepStatusPending, SweepStatusRunning, SweepStatusCompleted, SweepStatusFailed, SweepStatusCancelled:
		return true
	default:
		return false
	}
}

// String returns the string representation of the status.
func (s SweepStatus) String() string {
	return string(s)
}

// SweepStatusFromString converts a string to SweepStatus.
func SweepStatusFromString(s string) SweepStatus {
	status := SweepStatus(s)
	if status.IsValid() {
		return status
	}
	return SweepStatusPending
}

// ObjectiveKind names a sweep scoring rule.
type ObjectiveKind string

const (
	ObjectiveLinearity   ObjectiveKind = "linearity"
	ObjectiveTotalReturn ObjectiveKind = "total_return"
	ObjectiveSharpe      ObjectiveKind = "sharpe"
)

// IsValid returns true if the kind is a known objective.
func (k ObjectiveKind) IsValid() bool {
	switch k {
	case ObjectiveLinearity, ObjectiveTotalReturn, ObjectiveSharpe:
		return true
	default:
		return false
	}
}

// String returns the string representation of the objective.
func (k ObjectiveKind) String() string {
	return string(k)
}

// Timeframe is the bar interval of a series.
type Timeframe string

const (
	Timeframe5m Timeframe = "5m"
	Timeframe1h Timeframe = "1h"
	Timeframe1d Timeframe = "1d"
)

// IsValid returns true if the timeframe is supported.
func (t Timeframe) IsValid() bool {
	switch t {
	case Timeframe5m, Timeframe1h, Timeframe1d:
		return true
	default:
		return false
	}
}

// String returns the string representation of the timeframe.
func (t Timeframe) String() string {
	return string(t)
}
