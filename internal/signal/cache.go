package signal

import (
	"fmt"
	"sync"
)

// Cache memoizes rolling means per window for one immutable close series.
// It is safe for concurrent use by sweep workers.
type Cache struct {
	averager Averager
	closes   []float64

	mu      sync.Mutex
	entries map[int]*cacheEntry
}

type cacheEntry struct {
	once   sync.Once
	series RollingAverageSeries
	err    error
}

// NewCache creates a Cache over closes. closes must not be modified afterwards.
func NewCache(averager Averager, closes []float64) *Cache {
	return &Cache{
		averager: averager,
		closes:   closes,
		entries:  make(map[int]*cacheEntry),
	}
}

// Average returns the rolling mean for window, computing it at most once.
func (c *Cache) Average(window int) (RollingAverageSeries, error) {
	c.mu.Lock()
	e, ok := c.entries[window]
	if !ok {
		e = &cacheEntry{}
		c.entries[window] = e
	}
	c.mu.Unlock()

	e.once.Do(func() {
		defer func() {
			if r := recover(); r != nil {
				e.err = fmt.Errorf("average window %d: %v", window, r)
			}
		}()
		e.series, e.err = c.averager.Average(c.closes, window)
	})
	return e.series, e.err
}
