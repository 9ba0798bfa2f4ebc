package signal

import (
	"fmt"
	"math"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultChunkSize = 4096
	defaultMinLength = 1000
)

// Accelerated computes rolling means over index chunks in parallel. Every
// index is summed in the same order as Scalar, so both produce
// bit-identical series. Any failure falls back to Scalar.
type Accelerated struct {
	workers   int
	chunkSize int
	minLength int
	fallback  Averager
	logger    *zap.Logger
}

// NewAccelerated creates an Accelerated averager. Series shorter than
// minLength go straight to the scalar path.
func NewAccelerated(workers, chunkSize, minLength int, logger *zap.Logger) *Accelerated {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if minLength <= 0 {
		minLength = defaultMinLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Accelerated{
		workers:   workers,
		chunkSize: chunkSize,
		minLength: minLength,
		fallback:  Scalar{},
		logger:    logger.Named("averager"),
	}
}

// Name returns the implementation name.
func (a *Accelerated) Name() string { return "accelerated" }

// Average computes the rolling mean of closes over window.
func (a *Accelerated) Average(closes []float64, window int) (RollingAverageSeries, error) {
	if err := checkWindow(len(closes), window); err != nil {
		return RollingAverageSeries{}, err
	}
	if len(closes) < a.minLength {
		return a.fallback.Average(closes, window)
	}

	out, err := a.average(closes, window)
	if err != nil {
		a.logger.Warn("Accelerated average failed, using scalar path",
			zap.Int("window", window),
			zap.Int("length", len(closes)),
			zap.Error(err),
		)
		return a.fallback.Average(closes, window)
	}
	return out, nil
}

func (a *Accelerated) average(closes []float64, window int) (RollingAverageSeries, error) {
	out := newSeries(len(closes), window)
	w := float64(window)

	var g errgroup.Group
	g.SetLimit(a.workers)

	for from := window - 1; from < len(closes); from += a.chunkSize {
		to := min(from+a.chunkSize, len(closes))
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("chunk [%d,%d) panicked: %v", from, to, r)
				}
			}()
			for i := from; i < to; i++ {
				sum := 0.0
				for _, c := range closes[i-window+1 : i+1] {
					sum += c
				}
				mean := sum / w
				if math.IsNaN(mean) || math.IsInf(mean, 0) {
					return fmt.Errorf("non-finite mean at index %d", i)
				}
				out.values[i] = mean
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return RollingAverageSeries{}, err
	}
	return out, nil
}
