package optimizer

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/eyupikiz-lgtm/QuantAup/internal/domain"
)

// ProgressFunc receives throttled sweep progress. It must not block for long.
type ProgressFunc func(domain.Progress)

// progressReporter drops updates that arrive faster than the interval.
// Forced updates always pass.
type progressReporter struct {
	limiter *rate.Limiter
	fn      ProgressFunc
}

func newProgressReporter(interval time.Duration, fn ProgressFunc) *progressReporter {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &progressReporter{
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		fn:      fn,
	}
}

func (p *progressReporter) report(pr domain.Progress, force bool) {
	if p.fn == nil {
		return
	}
	if force || p.limiter.Allow() {
		p.fn(pr)
	}
}
