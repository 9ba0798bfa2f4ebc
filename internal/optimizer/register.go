package optimizer

import (
	"sort"
	"sync"

	"github.com/eyupikiz-lgtm/QuantAup/internal/domain"
)

// BestRegister holds the best scored combination seen so far, plus a ranked
// top-N list. It is the only state shared between sweep workers.
type BestRegister struct {
	mu   sync.Mutex
	best *domain.ScoredParams
	top  []domain.ScoredParams
	topN int
}

// NewBestRegister creates a register keeping topN ranked entries.
func NewBestRegister(topN int) *BestRegister {
	return &BestRegister{topN: topN}
}

// Better orders candidates: higher score first, then lower ordinal. The
// result does not depend on the order candidates arrive in.
func Better(a, b domain.ScoredParams) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Ordinal < b.Ordinal
}

// Offer records a candidate and reports whether it became the best.
func (r *BestRegister) Offer(c domain.ScoredParams) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.insertTop(c)
	if r.best == nil || Better(c, *r.best) {
		best := c
		r.best = &best
		return true
	}
	return false
}

// Best returns the current best candidate.
func (r *BestRegister) Best() (domain.ScoredParams, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.best == nil {
		return domain.ScoredParams{}, false
	}
	return *r.best, true
}

// Top returns a copy of the ranked list.
func (r *BestRegister) Top() []domain.ScoredParams {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.ScoredParams, len(r.top))
	copy(out, r.top)
	return out
}

func (r *BestRegister) insertTop(c domain.ScoredParams) {
	if r.topN <= 0 {
		return
	}
	i := sort.Search(len(r.top), func(i int) bool { return Better(c, r.top[i]) })
	if i >= r.topN {
		return
	}
	r.top = append(r.top, domain.ScoredParams{})
	copy(r.top[i+1:], r.top[i:])
	r.top[i] = c
	if len(r.top) > r.topN {
		r.top = r.top[:r.topN]
	}
}
