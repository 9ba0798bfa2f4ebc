// Package signal computes rolling averages and crossover events over close prices.
package signal

import (
	"math"
	"runtime"

	"go.uber.org/zap"

	"github.com/eyupikiz-lgtm/QuantAup/internal/domain"
)

// RollingAverageSeries is a rolling mean aligned with its input.
// Index i is undefined for i < Window-1.
type RollingAverageSeries struct {
	Window int
	values []float64
}

// Len returns the length of the series.
func (s RollingAverageSeries) Len() int {
	return len(s.values)
}

// Defined reports whether index i carries a mean.
func (s RollingAverageSeries) Defined(i int) bool {
	return i >= s.Window-1 && i >= 0 && i < len(s.values)
}

// At returns the mean at i and whether it is defined.
func (s RollingAverageSeries) At(i int) (float64, bool) {
	if !s.Defined(i) {
		return 0, false
	}
	return s.values[i], true
}

// Averager computes rolling means of close prices.
type Averager interface {
	Average(closes []float64, window int) (RollingAverageSeries, error)
	Name() string
}

// Kind selects an Averager implementation.
type Kind string

const (
	KindAuto        Kind = "auto"
	KindScalar      Kind = "scalar"
	KindAccelerated Kind = "accelerated"
)

// IsValid returns true if the kind is known.
func (k Kind) IsValid() bool {
	switch k {
	case KindAuto, KindScalar, KindAccelerated:
		return true
	default:
		return false
	}
}

// Options configures NewAverager.
type Options struct {
	Kind      Kind
	MinLength int
	Workers   int
	ChunkSize int
}

// NewAverager picks an implementation once at startup. Auto uses the
// accelerated path when more than one CPU is available.
func NewAverager(opts Options, logger *zap.Logger) Averager {
	if logger == nil {
		logger = zap.NewNop()
	}
	kind := opts.Kind
	if kind == KindAuto || kind == "" {
		kind = KindScalar
		if runtime.NumCPU() > 1 {
			kind = KindAccelerated
		}
	}

	var avg Averager = Scalar{}
	if kind == KindAccelerated {
		avg = NewAccelerated(opts.Workers, opts.ChunkSize, opts.MinLength, logger)
	}
	logger.Info("Rolling averager selected",
		zap.String("averager", avg.Name()),
		zap.Int("cpus", runtime.NumCPU()),
	)
	return avg
}

// MaxRelativeError returns the largest relative difference between the
// defined values of a and b, or +Inf when their shapes differ.
func MaxRelativeError(a, b RollingAverageSeries) float64 {
	if a.Window != b.Window || a.Len() != b.Len() {
		return math.Inf(1)
	}
	worst := 0.0
	for i := a.Window - 1; i < a.Len(); i++ {
		x, y := a.values[i], b.values[i]
		diff := math.Abs(x - y)
		if diff == 0 {
			continue
		}
		denom := math.Max(math.Abs(x), math.Abs(y))
		if denom == 0 {
			return math.Inf(1)
		}
		if rel := diff / denom; rel > worst {
			worst = rel
		}
	}
	return worst
}

func checkWindow(n, window int) error {
	if window < 1 {
		return domain.InvalidParametersError{Field: "window", Reason: "must be positive"}
	}
	if n < window {
		return domain.InsufficientDataError{Required: window, Available: n}
	}
	return nil
}

func newSeries(n, window int) RollingAverageSeries {
	values := make([]float64, n)
	for i := 0; i < window-1 && i < n; i++ {
		values[i] = math.NaN()
	}
	return RollingAverageSeries{Window: window, values: values}
}
