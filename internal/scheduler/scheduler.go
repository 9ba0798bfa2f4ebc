// Package scheduler provides sweep run queueing and worker pool management.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eyupikiz-lgtm/QuantAup/internal/config"
	"github.com/eyupikiz-lgtm/QuantAup/internal/datasource"
	"github.com/eyupikiz-lgtm/QuantAup/internal/db/repository"
	"github.com/eyupikiz-lgtm/QuantAup/internal/domain"
	"github.com/eyupikiz-lgtm/QuantAup/internal/optimizer"
)

// Scheduler errors
var (
	ErrQueueFull        = errors.New("sweep queue is full")
	ErrSchedulerStopped = errors.New("scheduler stopped")
)

// finishTimeout bounds the final status write of a run.
const finishTimeout = 10 * time.Second

// Runner executes one parameter sweep.
type Runner interface {
	Run(ctx context.Context, req optimizer.Request) (*domain.OptimizationResult, error)
}

// Lifecycle receives sweep lifecycle notifications.
type Lifecycle interface {
	SweepStarted(run *domain.SweepRun)
	SweepProgress(runID uuid.UUID, p domain.Progress)
	SweepCompleted(run *domain.SweepRun)
	SweepFailed(run *domain.SweepRun, errMsg string)
	SweepCancelled(run *domain.SweepRun)
}

// Sink receives a snapshot every time a run changes.
type Sink interface {
	RunUpdated(run domain.SweepRun)
}

// Defaults fill in what a SweepRequest leaves out.
type Defaults struct {
	Ranges     domain.SweepRanges
	Commission float64
	Objective  domain.ObjectiveKind
	Linearity  optimizer.Linearity
}

// Stats is a point-in-time view of the scheduler.
type Stats struct {
	Workers       int    `json:"workers"`
	ActiveSweeps  int    `json:"active_sweeps"`
	QueuedSweeps  int    `json:"queued_sweeps"`
	QueueCapacity int    `json:"queue_capacity"`
	Submitted     uint64 `json:"submitted"`
	Completed     uint64 `json:"completed"`
	Failed        uint64 `json:"failed"`
	Cancelled     uint64 `json:"cancelled"`
}

// trackedRun is a run owned by this scheduler, either queued or active.
type trackedRun struct {
	run       *domain.SweepRun
	active    bool
	cancel    context.CancelFunc
	cancelled bool
}

// Scheduler queues sweep runs and executes them on a bounded worker pool.
type Scheduler struct {
	config    *config.SchedulerConfig
	defaults  Defaults
	runs      repository.SweepRunRepository
	data      datasource.Provider
	runner    Runner
	lifecycle Lifecycle
	sink      Sink
	logger    *zap.Logger

	workers []*Worker
	queue   chan *domain.SweepRun

	mu      sync.Mutex
	tracked map[uuid.UUID]*trackedRun
	stopped bool

	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	cancelled atomic.Uint64

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a new Scheduler. lifecycle may be nil.
func NewScheduler(
	cfg *config.SchedulerConfig,
	defaults Defaults,
	runs repository.SweepRunRepository,
	data datasource.Provider,
	runner Runner,
	lifecycle Lifecycle,
	logger *zap.Logger,
) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 16
	}

	return &Scheduler{
		config:    cfg,
		defaults:  defaults,
		runs:      runs,
		data:      data,
		runner:    runner,
		lifecycle: lifecycle,
		logger:    logger.Named("scheduler"),
		queue:     make(chan *domain.SweepRun, queueSize),
		tracked:   make(map[uuid.UUID]*trackedRun),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SetSink attaches a Sink. It must be called before Start.
func (s *Scheduler) SetSink(sink Sink) {
	s.sink = sink
}

// Start starts the workers.
func (s *Scheduler) Start() error {
	workers := s.config.MaxConcurrentSweeps
	if workers <= 0 {
		workers = 1
	}

	s.logger.Info("Starting scheduler",
		zap.Int("workers", workers),
		zap.Int("queue_size", cap(s.queue)),
		zap.Duration("sweep_timeout", s.config.SweepTimeoutDuration()),
	)

	for i := 0; i < workers; i++ {
		worker := NewWorker(i, s, s.logger)
		s.workers = append(s.workers, worker)
		s.wg.Add(1)
		go worker.Run(s.ctx, &s.wg)
	}

	s.logger.Info("Scheduler started")
	return nil
}

// Stop cancels active sweeps, fails queued ones and waits for the workers.
func (s *Scheduler) Stop() error {
	s.logger.Info("Stopping scheduler")

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timeout := s.config.ShutdownTimeoutDuration()
	select {
	case <-done:
		s.logger.Info("Scheduler stopped gracefully")
	case <-time.After(timeout):
		s.logger.Warn("Scheduler shutdown timed out", zap.Duration("timeout", timeout))
	}

	s.drainQueue()
	return nil
}

// drainQueue fails every run still waiting in the queue.
func (s *Scheduler) drainQueue() {
	for {
		select {
		case run := <-s.queue:
			if !s.untrack(run.ID) {
				continue
			}
			s.finish(run, nil, domain.SweepStatusFailed, "scheduler stopped before the sweep started")
		default:
			return
		}
	}
}

// ValidateRequest checks a sweep request before it is queued.
func ValidateRequest(req domain.SweepRequest) error {
	if req.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", domain.ErrInvalidInput)
	}
	if !req.Timeframe.IsValid() {
		return fmt.Errorf("%w: unsupported timeframe %q", domain.ErrInvalidInput, req.Timeframe)
	}
	if req.Objective != "" && !req.Objective.IsValid() {
		return fmt.Errorf("%w: unknown objective %q", domain.ErrInvalidInput, req.Objective)
	}
	if req.Start != nil && req.End != nil && !req.End.After(*req.Start) {
		return fmt.Errorf("%w: end must be after start", domain.ErrInvalidInput)
	}
	if req.Commission != nil && !(*req.Commission >= 0 && *req.Commission < 1) {
		return fmt.Errorf("%w: commission must be in [0,1)", domain.ErrInvalidInput)
	}
	if req.Ranges != nil {
		if err := optimizer.ValidateRanges(*req.Ranges); err != nil {
			return err
		}
	}
	return nil
}

// Submit validates, persists and queues a sweep run.
func (s *Scheduler) Submit(ctx context.Context, req domain.SweepRequest) (*domain.SweepRun, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	if req.Trigger == "" {
		req.Trigger = string(domain.SweepTriggerManual)
	}

	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return nil, ErrSchedulerStopped
	}

	run := domain.NewSweepRun(req)
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create sweep run: %w", err)
	}

	s.mu.Lock()
	s.tracked[run.ID] = &trackedRun{run: run}
	s.mu.Unlock()

	queued := *run
	s.notify(run)

	select {
	case s.queue <- run:
	default:
		s.untrack(run.ID)
		s.finish(run, nil, domain.SweepStatusFailed, ErrQueueFull.Error())
		return nil, ErrQueueFull
	}
	s.submitted.Add(1)

	s.logger.Info("Sweep queued",
		zap.String("run_id", run.ID.String()),
		zap.String("symbol", req.Symbol),
		zap.String("timeframe", string(req.Timeframe)),
		zap.String("trigger", req.Trigger),
	)
	return &queued, nil
}

// Cancel cancels a queued or running sweep.
func (s *Scheduler) Cancel(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	t, ok := s.tracked[id]
	if ok && !t.active {
		delete(s.tracked, id)
		s.mu.Unlock()

		s.finish(t.run, nil, domain.SweepStatusCancelled, "")
		s.logger.Info("Queued sweep cancelled", zap.String("run_id", id.String()))
		return nil
	}
	if ok {
		t.cancelled = true
		cancel := t.cancel
		s.mu.Unlock()

		cancel()
		s.logger.Info("Running sweep cancelled", zap.String("run_id", id.String()))
		return nil
	}
	s.mu.Unlock()

	run, err := s.runs.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: sweep %s is %s", domain.ErrSweepNotCancellable, id, run.Status)
}

// Stats returns current scheduler statistics.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	var active int
	for _, t := range s.tracked {
		if t.active {
			active++
		}
	}
	queued := len(s.tracked) - active
	s.mu.Unlock()

	return Stats{
		Workers:       len(s.workers),
		ActiveSweeps:  active,
		QueuedSweeps:  queued,
		QueueCapacity: cap(s.queue),
		Submitted:     s.submitted.Load(),
		Completed:     s.completed.Load(),
		Failed:        s.failed.Load(),
		Cancelled:     s.cancelled.Load(),
	}
}

// activate marks a dequeued run as running. It returns false when the run
// was cancelled while queued.
func (s *Scheduler) activate(id uuid.UUID, cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tracked[id]
	if !ok {
		return false
	}
	t.active = true
	t.cancel = cancel
	return true
}

// release forgets a run and reports whether it was cancelled by a caller.
func (s *Scheduler) release(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tracked[id]
	if !ok {
		return false
	}
	delete(s.tracked, id)
	return t.cancelled
}

func (s *Scheduler) untrack(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tracked[id]; !ok {
		return false
	}
	delete(s.tracked, id)
	return true
}

// finish persists the terminal state of run and notifies listeners.
func (s *Scheduler) finish(run *domain.SweepRun, result *domain.OptimizationResult, status domain.SweepStatus, errMsg string) {
	ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()

	var msg *string
	if errMsg != "" {
		msg = &errMsg
	}

	now := time.Now()
	run.Status = status
	run.Result = result
	run.Error = msg
	run.CompletedAt = &now

	if err := s.runs.Finish(ctx, run.ID, status, result, msg); err != nil {
		s.logger.Error("Failed to finish sweep run",
			zap.String("run_id", run.ID.String()),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}

	switch status {
	case domain.SweepStatusCompleted:
		s.completed.Add(1)
		if s.lifecycle != nil {
			s.lifecycle.SweepCompleted(run)
		}
	case domain.SweepStatusCancelled:
		s.cancelled.Add(1)
		if s.lifecycle != nil {
			s.lifecycle.SweepCancelled(run)
		}
	default:
		s.failed.Add(1)
		if s.lifecycle != nil {
			s.lifecycle.SweepFailed(run, errMsg)
		}
	}
	s.notify(run)
}

func (s *Scheduler) notify(run *domain.SweepRun) {
	if s.sink != nil {
		s.sink.RunUpdated(*run)
	}
}

// request builds the optimizer request for run over series.
func (s *Scheduler) request(run *domain.SweepRun, series *domain.MarketSeries) (optimizer.Request, error) {
	req := optimizer.Request{
		Series:     series,
		Ranges:     s.defaults.Ranges,
		Commission: s.defaults.Commission,
	}
	if run.Request.Ranges != nil {
		req.Ranges = *run.Request.Ranges
	}
	if run.Request.Commission != nil {
		req.Commission = *run.Request.Commission
	}

	kind := run.Request.Objective
	if kind == "" {
		kind = s.defaults.Objective
	}
	objective, err := optimizer.NewObjective(kind, s.defaults.Linearity)
	if err != nil {
		return optimizer.Request{}, err
	}
	req.Objective = objective
	return req, nil
}
