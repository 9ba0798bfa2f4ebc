package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/eyupikiz-lgtm/QuantAup/internal/backtest"
	"github.com/eyupikiz-lgtm/QuantAup/internal/datasource"
	"github.com/eyupikiz-lgtm/QuantAup/internal/db/repository"
	"github.com/eyupikiz-lgtm/QuantAup/internal/domain"
	"github.com/eyupikiz-lgtm/QuantAup/internal/scheduler"
	"github.com/eyupikiz-lgtm/QuantAup/internal/telemetry"
)

// Backtester runs a single backtest.
type Backtester interface {
	Run(ctx context.Context, series *domain.MarketSeries, params domain.StrategyParams) (*domain.BacktestResult, error)
}

// SweepService queues and cancels sweeps.
type SweepService interface {
	Submit(ctx context.Context, req domain.SweepRequest) (*domain.SweepRun, error)
	Cancel(ctx context.Context, id uuid.UUID) error
	Stats() scheduler.Stats
}

// ScheduleLister reports the configured cron schedules.
type ScheduleLister interface {
	Schedules() []domain.SweepSchedule
}

// Handler provides REST API handlers.
type Handler struct {
	data       datasource.Source
	backtester Backtester
	sweeps     SweepService
	runs       repository.SweepRunRepository
	schedules  ScheduleLister
	metrics    *telemetry.Metrics
	logger     *zap.Logger
}

// NewHandler creates a new Handler instance.
func NewHandler(
	data datasource.Source,
	backtester Backtester,
	sweeps SweepService,
	runs repository.SweepRunRepository,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		data:       data,
		backtester: backtester,
		sweeps:     sweeps,
		runs:       runs,
		logger:     logger,
	}
}

// SetSchedules sets the schedule source for the handler.
func (h *Handler) SetSchedules(schedules ScheduleLister) {
	h.schedules = schedules
}

// SetMetrics sets the metrics registry for the handler.
func (h *Handler) SetMetrics(metrics *telemetry.Metrics) {
	h.metrics = metrics
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, err error, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:   err.Error(),
		Message: message,
	})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidParameters),
		errors.Is(err, domain.ErrInvalidSeries):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrSweepNotCancellable):
		return http.StatusConflict
	case errors.Is(err, scheduler.ErrQueueFull), errors.Is(err, scheduler.ErrSchedulerStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError writes err with the status it maps to and logs server faults.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error, message string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(message, zap.Error(err))
	}
	writeError(w, status, err, message)
}

// parseRunID reads the {id} path variable.
func parseRunID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid run id", domain.ErrInvalidInput)
	}
	return id, nil
}

// ========================================
// Market Data Handlers
// ========================================

// SymbolsResponse lists the symbols with stored bars.
type SymbolsResponse struct {
	Symbols []string `json:"symbols"`
}

// HandleListSymbols lists available symbols.
func (h *Handler) HandleListSymbols(w http.ResponseWriter, r *http.Request) {
	symbols, err := h.data.Symbols(r.Context())
	if err != nil {
		h.writeDomainError(w, err, "failed to list symbols")
		return
	}
	if symbols == nil {
		symbols = []string{}
	}
	writeJSON(w, http.StatusOK, SymbolsResponse{Symbols: symbols})
}

// TimeframesResponse lists the timeframes stored for a symbol.
type TimeframesResponse struct {
	Symbol     string             `json:"symbol"`
	Timeframes []domain.Timeframe `json:"timeframes"`
}

// HandleListTimeframes lists the timeframes available for a symbol.
func (h *Handler) HandleListTimeframes(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	timeframes, err := h.data.Timeframes(r.Context(), symbol)
	if err != nil {
		h.writeDomainError(w, err, "failed to list timeframes")
		return
	}
	if len(timeframes) == 0 {
		writeError(w, http.StatusNotFound, domain.NewNotFoundError("symbol", symbol), "")
		return
	}
	writeJSON(w, http.StatusOK, TimeframesResponse{Symbol: symbol, Timeframes: timeframes})
}

// ========================================
// Backtest Handlers
// ========================================

// HandleRunBacktest runs one backtest synchronously. With ?summary=true the
// equity curve and signal series are left out of the reply.
func (h *Handler) HandleRunBacktest(w http.ResponseWriter, r *http.Request) {
	var req domain.BacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err, "invalid request body")
		return
	}
	if req.Symbol == "" || !req.Timeframe.IsValid() {
		writeError(w, http.StatusBadRequest, domain.ErrInvalidInput, "symbol and a valid timeframe are required")
		return
	}

	report, err := h.runBacktest(r.Context(), req)
	if h.metrics != nil {
		h.metrics.BacktestServed(err)
	}
	if err != nil {
		h.writeDomainError(w, err, "failed to run backtest")
		return
	}

	if summary, _ := strconv.ParseBool(r.URL.Query().Get("summary")); summary {
		report.Result.PortfolioValues = nil
		report.Result.Signals = nil
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) runBacktest(ctx context.Context, req domain.BacktestRequest) (*domain.BacktestReport, error) {
	series, err := h.data.Fetch(ctx, req.Symbol, req.Timeframe, req.Start, req.End)
	if err != nil {
		return nil, err
	}

	result, err := h.backtester.Run(ctx, series, req.Params)
	if err != nil {
		return nil, err
	}

	return &domain.BacktestReport{
		Symbol:    req.Symbol,
		Timeframe: req.Timeframe,
		Result:    result,
		Metrics:   backtest.Evaluate(result),
	}, nil
}

// ========================================
// Sweep Handlers
// ========================================

// HandleSubmitSweep queues a parameter sweep.
func (h *Handler) HandleSubmitSweep(w http.ResponseWriter, r *http.Request) {
	var req domain.SweepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err, "invalid request body")
		return
	}
	req.Trigger = string(domain.SweepTriggerManual)

	run, err := h.sweeps.Submit(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, err, "failed to submit sweep")
		return
	}

	h.logger.Info("Sweep submitted",
		zap.String("run_id", run.ID.String()),
		zap.String("symbol", run.Request.Symbol),
	)
	writeJSON(w, http.StatusAccepted, run)
}

// HandleGetSweep returns one sweep run.
func (h *Handler) HandleGetSweep(w http.ResponseWriter, r *http.Request) {
	id, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err, "")
		return
	}

	run, err := h.runs.GetByID(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err, "failed to get sweep")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ListSweepsResponse is a page of sweep runs.
type ListSweepsResponse struct {
	Runs       []*domain.SweepRun        `json:"runs"`
	Pagination domain.PaginationResponse `json:"pagination"`
}

// HandleListSweeps lists sweep runs filtered by status and symbol.
func (h *Handler) HandleListSweeps(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	query := domain.SweepListQuery{Symbol: q.Get("symbol")}
	if s := q.Get("status"); s != "" {
		status := domain.SweepStatus(s)
		if !status.IsValid() {
			writeError(w, http.StatusBadRequest, domain.ErrInvalidInput, "unknown status "+s)
			return
		}
		query.Status = &status
	}
	if page, err := strconv.Atoi(q.Get("page")); err == nil {
		query.Page = page
	}
	if size, err := strconv.Atoi(q.Get("page_size")); err == nil {
		query.PageSize = size
	}
	query.SetDefaults()

	runs, total, err := h.runs.List(r.Context(), query)
	if err != nil {
		h.writeDomainError(w, err, "failed to list sweeps")
		return
	}
	if runs == nil {
		runs = []*domain.SweepRun{}
	}

	writeJSON(w, http.StatusOK, ListSweepsResponse{
		Runs:       runs,
		Pagination: domain.NewPaginationResponse(total, query.Page, query.PageSize),
	})
}

// HandleCancelSweep cancels a queued or running sweep.
func (h *Handler) HandleCancelSweep(w http.ResponseWriter, r *http.Request) {
	id, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err, "")
		return
	}

	if err := h.sweeps.Cancel(r.Context(), id); err != nil {
		h.writeDomainError(w, err, "failed to cancel sweep")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": id.String(),
		"status": "cancelling",
	})
}

// ========================================
// Schedule Handlers
// ========================================

// SchedulesResponse lists the cron schedules.
type SchedulesResponse struct {
	Schedules []domain.SweepSchedule `json:"schedules"`
}

// HandleListSchedules lists the active cron schedules.
func (h *Handler) HandleListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules := []domain.SweepSchedule{}
	if h.schedules != nil {
		schedules = append(schedules, h.schedules.Schedules()...)
	}
	writeJSON(w, http.StatusOK, SchedulesResponse{Schedules: schedules})
}
