package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eyupikiz-lgtm/QuantAup/internal/domain"
)

// MemorySweepRunRepository keeps sweep runs in memory. Finished runs older
// than the retention window are evicted in the background.
type MemorySweepRunRepository struct {
	mu        sync.RWMutex
	runs      map[uuid.UUID]*domain.SweepRun
	retention time.Duration
	now       func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemorySweepRunRepository creates an in-memory repository. A zero
// retention keeps finished runs forever.
func NewMemorySweepRunRepository(retention time.Duration) *MemorySweepRunRepository {
	r := &MemorySweepRunRepository{
		runs:      make(map[uuid.UUID]*domain.SweepRun),
		retention: retention,
		now:       time.Now,
		stop:      make(chan struct{}),
	}
	if retention > 0 {
		go r.cleanupLoop()
	}
	return r
}

// Close stops the cleanup routine.
func (r *MemorySweepRunRepository) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// Create stores a copy of run.
func (r *MemorySweepRunRepository) Create(ctx context.Context, run *domain.SweepRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runs[run.ID]; exists {
		return fmt.Errorf("%w: sweep run %s already exists", domain.ErrInvalidInput, run.ID)
	}
	cp := *run
	r.runs[run.ID] = &cp
	return nil
}

// GetByID returns a copy of the stored run.
func (r *MemorySweepRunRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.SweepRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id]
	if !ok {
		return nil, domain.NewNotFoundError("sweep_run", id.String())
	}
	cp := *run
	return &cp, nil
}

// List returns runs matching query, newest first.
func (r *MemorySweepRunRepository) List(ctx context.Context, query domain.SweepListQuery) ([]*domain.SweepRun, int, error) {
	query.SetDefaults()

	r.mu.RLock()
	matched := make([]*domain.SweepRun, 0, len(r.runs))
	for _, run := range r.runs {
		if query.Status != nil && run.Status != *query.Status {
			continue
		}
		if query.Symbol != "" && run.Request.Symbol != query.Symbol {
			continue
		}
		cp := *run
		matched = append(matched, &cp)
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	from := min(query.Offset(), total)
	to := min(from+query.PageSize, total)
	return matched[from:to], total, nil
}

// MarkRunning moves a pending run to running.
func (r *MemorySweepRunRepository) MarkRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok || run.Status != domain.SweepStatusPending {
		return domain.NewNotFoundError("pending sweep_run", id.String())
	}
	run.Status = domain.SweepStatusRunning
	run.StartedAt = &startedAt
	return nil
}

// UpdateProgress stores the latest progress snapshot.
func (r *MemorySweepRunRepository) UpdateProgress(ctx context.Context, id uuid.UUID, progress domain.Progress) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok {
		return domain.NewNotFoundError("sweep_run", id.String())
	}
	run.Progress = progress
	return nil
}

// Finish moves an active run to a terminal status.
func (r *MemorySweepRunRepository) Finish(
	ctx context.Context,
	id uuid.UUID,
	status domain.SweepStatus,
	result *domain.OptimizationResult,
	errMsg *string,
) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: %s is not a terminal status", domain.ErrInvalidInput, status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok || run.Status.IsTerminal() {
		return domain.NewNotFoundError("active sweep_run", id.String())
	}
	now := r.now()
	run.Status = status
	run.Result = result
	run.Error = errMsg
	run.CompletedAt = &now
	return nil
}

// FailInterrupted fails every pending or running run.
func (r *MemorySweepRunRepository) FailInterrupted(ctx context.Context, reason string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	now := r.now()
	for _, run := range r.runs {
		if run.Status.IsTerminal() {
			continue
		}
		msg := reason
		run.Status = domain.SweepStatusFailed
		run.Error = &msg
		run.CompletedAt = &now
		n++
	}
	return n, nil
}

func (r *MemorySweepRunRepository) cleanupLoop() {
	ticker := time.NewTicker(r.retention / 2)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.cleanup()
		}
	}
}

// cleanup evicts runs that finished more than the retention window ago.
func (r *MemorySweepRunRepository) cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	threshold := r.now().Add(-r.retention)
	for id, run := range r.runs {
		if run.CompletedAt != nil && run.CompletedAt.Before(threshold) {
			delete(r.runs, id)
		}
	}
}

var _ SweepRunRepository = (*MemorySweepRunRepository)(nil)
