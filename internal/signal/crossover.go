package signal

import "github.com/eyupikiz-lgtm/QuantAup/internal/domain"

// CrossUp reports a short-over-long crossover at i. Both series must be
// defined at i and i-1.
func CrossUp(short, long RollingAverageSeries, i int) bool {
	s, l, ps, pl, ok := pair(short, long, i)
	return ok && s > l && ps <= pl
}

// CrossDown reports a short-under-long crossover at i.
func CrossDown(short, long RollingAverageSeries, i int) bool {
	s, l, ps, pl, ok := pair(short, long, i)
	return ok && s < l && ps >= pl
}

// Crossovers returns the crossover event at every index.
func Crossovers(short, long RollingAverageSeries) []domain.Signal {
	n := min(short.Len(), long.Len())
	out := make([]domain.Signal, n)
	for i := 1; i < n; i++ {
		switch {
		case CrossUp(short, long, i):
			out[i] = domain.SignalUp
		case CrossDown(short, long, i):
			out[i] = domain.SignalDown
		}
	}
	return out
}

func pair(short, long RollingAverageSeries, i int) (s, l, ps, pl float64, ok bool) {
	if i < 1 || !short.Defined(i-1) || !long.Defined(i-1) || !short.Defined(i) || !long.Defined(i) {
		return 0, 0, 0, 0, false
	}
	return short.values[i], long.values[i], short.values[i-1], long.values[i-1], true
}
