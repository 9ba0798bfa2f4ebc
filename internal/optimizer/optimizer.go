// Package optimizer sweeps a parameter grid with a fixed worker pool and
// reduces the results to the best combination under an objective.
package optimizer

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/eyupikiz-lgtm/QuantAup/internal/backtest"
	"github.com/eyupikiz-lgtm/QuantAup/internal/domain"
	"github.com/eyupikiz-lgtm/QuantAup/internal/signal"
)

// Config holds optimizer settings.
type Config struct {
	// Workers is the pool size; 0 means runtime.NumCPU().
	Workers          int
	TopN             int
	ProgressInterval time.Duration
}

// Recorder observes sweep activity. Implementations must be safe for
// concurrent use.
type Recorder interface {
	CombinationEvaluated(objective domain.ObjectiveKind, d time.Duration, err error)
	SweepFinished(objective domain.ObjectiveKind, status domain.SweepStatus, d time.Duration)
}

// Request describes one sweep.
type Request struct {
	Series     *domain.MarketSeries
	Ranges     domain.SweepRanges
	Commission float64
	// Objective overrides the optimizer default when set.
	Objective Objective
	Progress  ProgressFunc
}

// Optimizer runs parameter sweeps.
type Optimizer struct {
	cfg       Config
	engine    *backtest.Engine
	objective Objective
	recorder  Recorder
	logger    *zap.Logger
	tracer    trace.Tracer
}

// New creates a new Optimizer. A nil objective defaults to Linearity.
func New(cfg Config, engine *backtest.Engine, objective Objective, logger *zap.Logger) *Optimizer {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if objective == nil {
		objective = DefaultLinearity()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Optimizer{
		cfg:       cfg,
		engine:    engine,
		objective: objective,
		logger:    logger.Named("optimizer"),
		tracer:    otel.Tracer("github.com/eyupikiz-lgtm/QuantAup/internal/optimizer"),
	}
}

// SetRecorder attaches a Recorder.
func (o *Optimizer) SetRecorder(r Recorder) {
	o.recorder = r
}

// Workers returns the pool size.
func (o *Optimizer) Workers() int {
	return o.cfg.Workers
}

// sweep is the state of one Run shared by its workers.
type sweep struct {
	bars      []domain.Bar
	averages  *signal.Cache
	objective Objective
	register  *BestRegister
}

type outcome struct {
	combo    Combination
	err      error
	duration time.Duration
}

// Run evaluates every surviving combination and returns the best one.
//
// Cancellation is checked between dispatches. A cancelled sweep returns the
// partial result (Partial set) together with the context error when at least
// one combination was scored. ErrNoValidCombination is returned when nothing
// could be scored.
func (o *Optimizer) Run(ctx context.Context, req Request) (*domain.OptimizationResult, error) {
	start := time.Now()
	objective := req.Objective
	if objective == nil {
		objective = o.objective
	}

	ctx, span := o.tracer.Start(ctx, "optimizer.Run", trace.WithAttributes(
		attribute.String("objective", string(objective.Kind())),
		attribute.Int("workers", o.cfg.Workers),
	))
	defer span.End()

	if req.Series == nil {
		return nil, fmt.Errorf("%w: nil series", domain.ErrInvalidInput)
	}
	if err := req.Series.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateRanges(req.Ranges); err != nil {
		return nil, err
	}

	// Tuples the engine would reject are pruned, never dispatched.
	ranges := req.Ranges
	ranges.ProfitMargin = max(ranges.ProfitMargin, o.engine.Config().MinProfitMargin)

	combos, total, pruned := Combinations(ranges, req.Commission)
	span.SetAttributes(
		attribute.Int("combinations", total),
		attribute.Int("pruned", pruned),
	)
	o.logger.Info("Starting sweep",
		zap.String("symbol", req.Series.Symbol),
		zap.Int("bars", req.Series.Len()),
		zap.Int("total", total),
		zap.Int("pruned", pruned),
		zap.Int("workers", o.cfg.Workers),
		zap.String("objective", string(objective.Kind())),
	)

	sw := &sweep{
		bars:      req.Series.Bars,
		averages:  signal.NewCache(o.engine.Averager(), req.Series.Closes()),
		objective: objective,
		register:  NewBestRegister(o.cfg.TopN),
	}

	jobs := make(chan Combination)
	outcomes := make(chan outcome, o.cfg.Workers)

	var wg sync.WaitGroup
	for i := 0; i < o.cfg.Workers; i++ {
		w := newWorker(i, o, sw, o.logger)
		wg.Add(1)
		go w.Run(jobs, outcomes, &wg)
	}

	dispatched := 0
	go func() {
		defer close(jobs)
		for _, c := range combos {
			if ctx.Err() != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case jobs <- c:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	progress := newProgressReporter(o.cfg.ProgressInterval, req.Progress)
	var evaluated, skipped int
	for out := range outcomes {
		dispatched++
		if out.err != nil {
			skipped++
			o.logger.Warn("Combination skipped",
				zap.Stringer("params", out.combo.Params),
				zap.Error(out.err),
			)
		} else {
			evaluated++
		}
		if o.recorder != nil {
			o.recorder.CombinationEvaluated(objective.Kind(), out.duration, out.err)
		}
		progress.report(o.progress(sw, dispatched, len(combos)), dispatched == len(combos))
	}

	result := &domain.OptimizationResult{
		Objective: objective.Kind(),
		Total:     total,
		Evaluated: evaluated,
		Pruned:    pruned,
		Skipped:   skipped,
		Partial:   dispatched < len(combos),
		Top:       sw.register.Top(),
		Duration:  time.Since(start),
	}

	status := domain.SweepStatusCompleted
	defer func() {
		if o.recorder != nil {
			o.recorder.SweepFinished(objective.Kind(), status, result.Duration)
		}
	}()

	best, ok := sw.register.Best()
	if !ok {
		status = domain.SweepStatusFailed
		err := fmt.Errorf("%w: %d total, %d pruned, %d skipped", domain.ErrNoValidCombination, total, pruned, skipped)
		if ctx.Err() != nil {
			status = domain.SweepStatusCancelled
			err = fmt.Errorf("%w: %w", err, ctx.Err())
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	result.BestParams = best.Params
	result.BestMetrics = best.Metrics
	result.BestScore = best.Score

	o.logger.Info("Sweep finished",
		zap.String("symbol", req.Series.Symbol),
		zap.Int("evaluated", evaluated),
		zap.Int("skipped", skipped),
		zap.Bool("partial", result.Partial),
		zap.Stringer("best_params", best.Params),
		zap.Float64("best_score", best.Score),
		zap.Duration("duration", result.Duration),
	)

	if result.Partial {
		status = domain.SweepStatusCancelled
		progress.report(o.progress(sw, dispatched, len(combos)), true)
		return result, fmt.Errorf("sweep cancelled after %d of %d combinations: %w", dispatched, len(combos), ctx.Err())
	}
	return result, nil
}

func (o *Optimizer) progress(sw *sweep, completed, total int) domain.Progress {
	p := domain.Progress{Completed: completed, Total: total}
	if best, ok := sw.register.Best(); ok {
		p.BestScore = best.Score
		p.HasBest = true
	}
	return p
}
