package domain

import (
	"time"

	"github.com/google/uuid"
)

// IntRange is an inclusive integer range walked with Step.
type IntRange struct {
	Min  int `json:"min" yaml:"min"`
	Max  int `json:"max" yaml:"max"`
	Step int `json:"step" yaml:"step"`
}

// FloatRange is an inclusive float range walked with Step.
type FloatRange struct {
	Min  float64 `json:"min" yaml:"min"`
	Max  float64 `json:"max" yaml:"max"`
	Step float64 `json:"step" yaml:"step"`
}

// SweepRanges is the parameter grid of a sweep.
type SweepRanges struct {
	ShortWindow IntRange   `json:"short_window" yaml:"short_window"`
	LongWindow  IntRange   `json:"long_window" yaml:"long_window"`
	StopLoss    FloatRange `json:"stop_loss" yaml:"stop_loss"`
	TakeProfit  FloatRange `json:"take_profit" yaml:"take_profit"`
	// WindowMargin prunes combinations with short_window >= long_window - WindowMargin.
	WindowMargin int `json:"window_margin" yaml:"window_margin"`
	// ProfitMargin prunes combinations with take_profit <= stop_loss + ProfitMargin.
	ProfitMargin float64 `json:"profit_margin" yaml:"profit_margin"`
}

// ScoredParams is one evaluated combination.
type ScoredParams struct {
	Ordinal int            `json:"ordinal"`
	Params  StrategyParams `json:"params"`
	Metrics MetricsSummary `json:"metrics"`
	Score   float64        `json:"score"`
}

// OptimizationResult is the outcome of a sweep.
type OptimizationResult struct {
	BestParams  StrategyParams `json:"best_params"`
	BestMetrics MetricsSummary `json:"best_metrics"`
	BestScore   float64        `json:"best_score"`
	Objective   ObjectiveKind  `json:"objective"`

	Total     int `json:"total"`
	Evaluated int `json:"evaluated"`
	Pruned    int `json:"pruned"`
	// Skipped counts combinations that failed or lacked data.
	Skipped int `json:"skipped"`
	// Partial is set when the sweep was cancelled before every combination ran.
	Partial bool `json:"partial"`

	Top      []ScoredParams `json:"top,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// Progress is a throttled sweep progress notification.
type Progress struct {
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	BestScore float64 `json:"best_score"`
	HasBest   bool    `json:"has_best"`
}

// SweepRequest asks for a sweep over a stored series.
type SweepRequest struct {
	Symbol     string        `json:"symbol"`
	Timeframe  Timeframe     `json:"timeframe"`
	Start      *time.Time    `json:"start,omitempty"`
	End        *time.Time    `json:"end,omitempty"`
	Ranges     *SweepRanges  `json:"ranges,omitempty"`
	Objective  ObjectiveKind `json:"objective,omitempty"`
	Commission *float64      `json:"commission,omitempty"`
	Trigger    string        `json:"trigger,omitempty"`
}

// SweepRun tracks a submitted sweep from queueing to completion.
type SweepRun struct {
	ID          uuid.UUID           `json:"id"`
	Request     SweepRequest        `json:"request"`
	Status      SweepStatus         `json:"status"`
	Progress    Progress            `json:"progress"`
	Result      *OptimizationResult `json:"result,omitempty"`
	Error       *string             `json:"error,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	StartedAt   *time.Time          `json:"started_at,omitempty"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
}

// NewSweepRun creates a pending SweepRun with a generated UUID.
func NewSweepRun(req SweepRequest) *SweepRun {
	return &SweepRun{
		ID:        uuid.New(),
		Request:   req,
		Status:    SweepStatusPending,
		CreatedAt: time.Now(),
	}
}

// Duration returns the duration of the sweep execution.
func (r *SweepRun) Duration() time.Duration {
	if r.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if r.CompletedAt != nil {
		end = *r.CompletedAt
	}
	return end.Sub(*r.StartedAt)
}

// IsComplete returns true if the sweep is in a terminal state.
func (r *SweepRun) IsComplete() bool {
	return r.Status.IsTerminal()
}

// SweepListQuery represents query parameters for listing sweep runs.
type SweepListQuery struct {
	Status   *SweepStatus `json:"status,omitempty"`
	Symbol   string       `json:"symbol,omitempty"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
}

// SetDefaults sets default values for the query.
func (q *SweepListQuery) SetDefaults() {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = 20
	}
	if q.PageSize > 100 {
		q.PageSize = 100
	}
}

// Offset returns the offset for pagination.
func (q *SweepListQuery) Offset() int {
	return (q.Page - 1) * q.PageSize
}

// PaginationResponse represents pagination metadata in responses.
type PaginationResponse struct {
	TotalCount int `json:"total_count"`
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalPages int `json:"total_pages"`
}

// NewPaginationResponse creates a new PaginationResponse.
func NewPaginationResponse(totalCount, page, pageSize int) PaginationResponse {
	totalPages := (totalCount + pageSize - 1) / pageSize
	if totalPages < 1 {
		totalPages = 1
	}
	return PaginationResponse{
		TotalCount: totalCount,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}
}
