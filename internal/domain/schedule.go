package domain

import (
	"time"

	"github.com/google/uuid"
)

// SweepTriggerType records what started a sweep.
type SweepTriggerType string

const (
	SweepTriggerManual    SweepTriggerType = "manual"
	SweepTriggerScheduled SweepTriggerType = "scheduled"
	SweepTriggerEvent     SweepTriggerType = "event"
)

// IsValid returns true if the trigger type is valid.
func (t SweepTriggerType) IsValid() bool {
	switch t {
	case SweepTriggerManual, SweepTriggerScheduled, SweepTriggerEvent:
		return true
	default:
		return false
	}
}

// String returns the string representation of the trigger type.
func (t SweepTriggerType) String() string {
	return string(t)
}

// SweepSchedule is a cron-based schedule for automatic sweeps.
type SweepSchedule struct {
	ID             uuid.UUID  `json:"id"`
	Name           string     `json:"name"`
	CronExpression string     `json:"cron_expression"`
	Symbol         string     `json:"symbol"`
	Timeframe      Timeframe  `json:"timeframe"`
	LookbackDays   int        `json:"lookback_days"`
	Enabled        bool       `json:"enabled"`
	LastRunID      *uuid.UUID `json:"last_run_id,omitempty"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
}

// NewSweepSchedule creates an enabled schedule with generated UUID.
func NewSweepSchedule(name, cronExpression, symbol string, timeframe Timeframe, lookbackDays int) *SweepSchedule {
	return &SweepSchedule{
		ID:             uuid.New(),
		Name:           name,
		CronExpression: cronExpression,
		Symbol:         symbol,
		Timeframe:      timeframe,
		LookbackDays:   lookbackDays,
		Enabled:        true,
	}
}

// IsDue returns true if the schedule is due to run at now.
func (s *SweepSchedule) IsDue(now time.Time) bool {
	if !s.Enabled || s.NextRunAt == nil {
		return false
	}
	return !s.NextRunAt.After(now)
}

// Request builds the sweep request for a run starting at now.
func (s *SweepSchedule) Request(now time.Time) SweepRequest {
	req := SweepRequest{
		Symbol:    s.Symbol,
		Timeframe: s.Timeframe,
		Trigger:   string(SweepTriggerScheduled) + ":" + s.Name,
	}
	if s.LookbackDays > 0 {
		start := now.AddDate(0, 0, -s.LookbackDays)
		req.Start = &start
	}
	return req
}
