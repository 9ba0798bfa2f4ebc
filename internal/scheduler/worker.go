package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eyupikiz-lgtm/QuantAup/internal/domain"
)

// Worker executes queued sweep runs.
type Worker struct {
	id        int
	scheduler *Scheduler
	logger    *zap.Logger
}

// NewWorker creates a new Worker.
func NewWorker(id int, scheduler *Scheduler, logger *zap.Logger) *Worker {
	return &Worker{
		id:        id,
		scheduler: scheduler,
		logger:    logger.With(zap.Int("worker_id", id)),
	}
}

// Run starts the worker loop.
func (w *Worker) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	w.logger.Debug("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Worker stopped")
			return
		case run := <-w.scheduler.queue:
			w.processRun(ctx, run)
		}
	}
}

// processRun executes a single sweep run and records its outcome.
func (w *Worker) processRun(ctx context.Context, run *domain.SweepRun) {
	s := w.scheduler

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout := s.config.SweepTimeoutDuration(); timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	if !s.activate(run.ID, cancel) {
		w.logger.Debug("Skipping cancelled sweep", zap.String("run_id", run.ID.String()))
		return
	}
	if ctx.Err() != nil {
		s.release(run.ID)
		s.finish(run, nil, domain.SweepStatusFailed, "scheduler stopped before the sweep started")
		return
	}

	startedAt := time.Now()
	if err := s.runs.MarkRunning(ctx, run.ID, startedAt); err != nil {
		s.release(run.ID)
		w.logger.Error("Failed to mark sweep running",
			zap.String("run_id", run.ID.String()),
			zap.Error(err),
		)
		s.finish(run, nil, domain.SweepStatusFailed, err.Error())
		return
	}
	run.Status = domain.SweepStatusRunning
	run.StartedAt = &startedAt
	if s.lifecycle != nil {
		s.lifecycle.SweepStarted(run)
	}
	s.notify(run)

	w.logger.Info("Processing sweep",
		zap.String("run_id", run.ID.String()),
		zap.String("symbol", run.Request.Symbol),
		zap.String("timeframe", string(run.Request.Timeframe)),
	)

	result, err := w.sweep(runCtx, run)
	userCancelled := s.release(run.ID)

	switch {
	case err == nil:
		w.logger.Info("Sweep completed",
			zap.String("run_id", run.ID.String()),
			zap.Stringer("best_params", result.BestParams),
			zap.Float64("best_score", result.BestScore),
			zap.Duration("duration", time.Since(startedAt)),
		)
		s.finish(run, result, domain.SweepStatusCompleted, "")

	case userCancelled && errors.Is(err, context.Canceled):
		w.logger.Info("Sweep cancelled",
			zap.String("run_id", run.ID.String()),
			zap.Bool("partial_result", result != nil),
		)
		s.finish(run, result, domain.SweepStatusCancelled, "")

	case errors.Is(err, context.DeadlineExceeded):
		msg := fmt.Sprintf("sweep timed out after %s", s.config.SweepTimeoutDuration())
		w.logger.Warn("Sweep timed out", zap.String("run_id", run.ID.String()))
		s.finish(run, result, domain.SweepStatusFailed, msg)

	case ctx.Err() != nil:
		w.logger.Warn("Sweep interrupted by shutdown", zap.String("run_id", run.ID.String()))
		s.finish(run, result, domain.SweepStatusFailed, "sweep interrupted by shutdown")

	default:
		w.logger.Warn("Sweep failed",
			zap.String("run_id", run.ID.String()),
			zap.Error(err),
		)
		s.finish(run, nil, domain.SweepStatusFailed, err.Error())
	}
}

// sweep loads the series and runs the optimizer with progress forwarding.
func (w *Worker) sweep(ctx context.Context, run *domain.SweepRun) (*domain.OptimizationResult, error) {
	s := w.scheduler
	req := run.Request

	series, err := s.data.Fetch(ctx, req.Symbol, req.Timeframe, req.Start, req.End)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s %s: %w", req.Symbol, req.Timeframe, err)
	}

	optReq, err := s.request(run, series)
	if err != nil {
		return nil, err
	}
	optReq.Progress = func(p domain.Progress) {
		run.Progress = p
		if err := s.runs.UpdateProgress(context.WithoutCancel(ctx), run.ID, p); err != nil {
			w.logger.Warn("Failed to store sweep progress",
				zap.String("run_id", run.ID.String()),
				zap.Error(err),
			)
		}
		if s.lifecycle != nil {
			s.lifecycle.SweepProgress(run.ID, p)
		}
		s.notify(run)
	}

	return s.runner.Run(ctx, optReq)
}
