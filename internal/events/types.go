// Package events provides RabbitMQ event publishing and command intake for sweeps.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eyupikiz-lgtm/QuantAup/internal/domain"
)

// Routing keys for published sweep lifecycle events.
const (
	RoutingKeySweepStarted   = "sweep.started"
	RoutingKeySweepProgress  = "sweep.progress"
	RoutingKeySweepCompleted = "sweep.completed"
	RoutingKeySweepFailed    = "sweep.failed"
	RoutingKeySweepCancelled = "sweep.cancelled"
)

// Routing keys for consumed commands.
const (
	RoutingKeySweepSubmit = "sweep.submit"
	RoutingKeySweepCancel = "sweep.cancel"
)

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
}

// Envelope returns the common fields. Every event embeds BaseEvent.
func (b BaseEvent) Envelope() BaseEvent {
	return b
}

// Event is anything published on the sweep exchange.
type Event interface {
	Envelope() BaseEvent
}

// NewBaseEvent creates a new BaseEvent with auto-generated event_id.
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
		Source:    "quantaup",
	}
}

// SweepStartedEvent is published when a sweep begins executing.
type SweepStartedEvent struct {
	BaseEvent
	RunID     uuid.UUID            `json:"run_id"`
	Symbol    string               `json:"symbol"`
	Timeframe domain.Timeframe     `json:"timeframe"`
	Objective domain.ObjectiveKind `json:"objective,omitempty"`
	Trigger   string               `json:"trigger,omitempty"`
}

// NewSweepStartedEvent creates a new SweepStartedEvent.
func NewSweepStartedEvent(run *domain.SweepRun) *SweepStartedEvent {
	return &SweepStartedEvent{
		BaseEvent: NewBaseEvent(RoutingKeySweepStarted),
		RunID:     run.ID,
		Symbol:    run.Request.Symbol,
		Timeframe: run.Request.Timeframe,
		Objective: run.Request.Objective,
		Trigger:   run.Request.Trigger,
	}
}

// SweepProgressEvent carries a throttled progress snapshot.
type SweepProgressEvent struct {
	BaseEvent
	RunID uuid.UUID `json:"run_id"`
	domain.Progress
}

// NewSweepProgressEvent creates a new SweepProgressEvent.
func NewSweepProgressEvent(runID uuid.UUID, p domain.Progress) *SweepProgressEvent {
	return &SweepProgressEvent{
		BaseEvent: NewBaseEvent(RoutingKeySweepProgress),
		RunID:     runID,
		Progress:  p,
	}
}

// SweepCompletedEvent is published with the winning combination of a sweep.
type SweepCompletedEvent struct {
	BaseEvent
	RunID       uuid.UUID             `json:"run_id"`
	Symbol      string                `json:"symbol"`
	BestParams  domain.StrategyParams `json:"best_params"`
	BestMetrics domain.MetricsSummary `json:"best_metrics"`
	BestScore   float64               `json:"best_score"`
	Total       int                   `json:"total"`
	Evaluated   int                   `json:"evaluated"`
	Skipped     int                   `json:"skipped"`
	DurationMs  int64                 `json:"duration_ms"`
}

// NewSweepCompletedEvent creates a new SweepCompletedEvent.
func NewSweepCompletedEvent(run *domain.SweepRun) *SweepCompletedEvent {
	e := &SweepCompletedEvent{
		BaseEvent:  NewBaseEvent(RoutingKeySweepCompleted),
		RunID:      run.ID,
		Symbol:     run.Request.Symbol,
		DurationMs: run.Duration().Milliseconds(),
	}
	if r := run.Result; r != nil {
		e.BestParams = r.BestParams
		e.BestMetrics = r.BestMetrics
		e.BestScore = r.BestScore
		e.Total = r.Total
		e.Evaluated = r.Evaluated
		e.Skipped = r.Skipped
	}
	return e
}

// SweepFailedEvent is published when a sweep ends with an error.
type SweepFailedEvent struct {
	BaseEvent
	RunID  uuid.UUID `json:"run_id"`
	Symbol string    `json:"symbol"`
	Error  string    `json:"error"`
}

// NewSweepFailedEvent creates a new SweepFailedEvent.
func NewSweepFailedEvent(run *domain.SweepRun, errMsg string) *SweepFailedEvent {
	return &SweepFailedEvent{
		BaseEvent: NewBaseEvent(RoutingKeySweepFailed),
		RunID:     run.ID,
		Symbol:    run.Request.Symbol,
		Error:     errMsg,
	}
}

// SweepCancelledEvent is published when a sweep is cancelled. Evaluated is
// the number of combinations scored before cancellation.
type SweepCancelledEvent struct {
	BaseEvent
	RunID     uuid.UUID `json:"run_id"`
	Symbol    string    `json:"symbol"`
	Partial   bool      `json:"partial"`
	Evaluated int       `json:"evaluated"`
}

// NewSweepCancelledEvent creates a new SweepCancelledEvent.
func NewSweepCancelledEvent(run *domain.SweepRun) *SweepCancelledEvent {
	e := &SweepCancelledEvent{
		BaseEvent: NewBaseEvent(RoutingKeySweepCancelled),
		RunID:     run.ID,
		Symbol:    run.Request.Symbol,
	}
	if run.Result != nil {
		e.Partial = run.Result.Partial
		e.Evaluated = run.Result.Evaluated
	}
	return e
}

// SubmitSweepCommand asks the service to queue a sweep.
type SubmitSweepCommand struct {
	BaseEvent
	Request domain.SweepRequest `json:"request"`
}

// NewSubmitSweepCommand creates a new SubmitSweepCommand.
func NewSubmitSweepCommand(req domain.SweepRequest) *SubmitSweepCommand {
	return &SubmitSweepCommand{
		BaseEvent: NewBaseEvent(RoutingKeySweepSubmit),
		Request:   req,
	}
}

// CancelSweepCommand asks the service to cancel a queued or running sweep.
type CancelSweepCommand struct {
	BaseEvent
	RunID uuid.UUID `json:"run_id"`
}

// NewCancelSweepCommand creates a new CancelSweepCommand.
func NewCancelSweepCommand(runID uuid.UUID) *CancelSweepCommand {
	return &CancelSweepCommand{
		BaseEvent: NewBaseEvent(RoutingKeySweepCancel),
		RunID:     runID,
	}
}

// DecodeSubmitSweep parses a sweep.submit body.
func DecodeSubmitSweep(body []byte) (*SubmitSweepCommand, error) {
	var cmd SubmitSweepCommand
	if err := json.Unmarshal(body, &cmd); err != nil {
		return nil, fmt.Errorf("%w: decode submit command: %v", domain.ErrInvalidInput, err)
	}
	if cmd.Request.Symbol == "" {
		return nil, fmt.Errorf("%w: submit command without symbol", domain.ErrInvalidInput)
	}
	return &cmd, nil
}

// DecodeCancelSweep parses a sweep.cancel body.
func DecodeCancelSweep(body []byte) (*CancelSweepCommand, error) {
	var cmd CancelSweepCommand
	if err := json.Unmarshal(body, &cmd); err != nil {
		return nil, fmt.Errorf("%w: decode cancel command: %v", domain.ErrInvalidInput, err)
	}
	if cmd.RunID == uuid.Nil {
		return nil, fmt.Errorf("%w: cancel command without run_id", domain.ErrInvalidInput)
	}
	return &cmd, nil
}
