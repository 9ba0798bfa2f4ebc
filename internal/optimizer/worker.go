package optimizer

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eyupikiz-lgtm/QuantAup/internal/backtest"
	"github.com/eyupikiz-lgtm/QuantAup/internal/domain"
)

// worker evaluates combinations from the sweep's job channel.
type worker struct {
	id     int
	opt    *Optimizer
	sweep  *sweep
	logger *zap.Logger
}

func newWorker(id int, opt *Optimizer, sw *sweep, logger *zap.Logger) *worker {
	return &worker{
		id:     id,
		opt:    opt,
		sweep:  sw,
		logger: logger.With(zap.Int("worker_id", id)),
	}
}

// Run drains jobs until the channel is closed. A combination that is already
// running always completes.
func (w *worker) Run(jobs <-chan Combination, out chan<- outcome, wg *sync.WaitGroup) {
	defer wg.Done()

	for c := range jobs {
		started := time.Now()
		err := w.evaluate(c)
		out <- outcome{combo: c, err: err, duration: time.Since(started)}
	}
}

// evaluate runs one backtest and offers its score to the register. Panics
// are converted into EvaluationFailureError.
func (w *worker) evaluate(c Combination) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = domain.EvaluationFailureError{Params: c.Params, Cause: fmt.Errorf("panic: %v", r)}
		}
	}()

	res, err := w.opt.engine.Simulate(w.sweep.bars, c.Params, w.sweep.averages)
	if err != nil {
		return err
	}
	metrics := backtest.Evaluate(res)
	score := w.sweep.objective.Score(res, metrics)
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return domain.EvaluationFailureError{Params: c.Params, Cause: domain.ErrNumericDegenerate}
	}

	if w.sweep.register.Offer(domain.ScoredParams{
		Ordinal: c.Ordinal,
		Params:  c.Params,
		Metrics: metrics,
		Score:   score,
	}) {
		w.logger.Debug("New best combination",
			zap.Stringer("params", c.Params),
			zap.Float64("score", score),
		)
	}
	return nil
}
