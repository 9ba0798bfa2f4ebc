package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eyupikiz-lgtm/QuantAup/internal/domain"
)

func TestMemorySweepRunRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySweepRunRepository(0)
	defer repo.Close()

	run := domain.NewSweepRun(domain.SweepRequest{Symbol: "AKBNK", Timeframe: domain.Timeframe1d})
	require.NoError(t, repo.Create(ctx, run))
	assert.ErrorIs(t, repo.Create(ctx, run), domain.ErrInvalidInput)

	require.NoError(t, repo.MarkRunning(ctx, run.ID, time.Now()))
	assert.ErrorIs(t, repo.MarkRunning(ctx, run.ID, time.Now()), domain.ErrNotFound)

	require.NoError(t, repo.UpdateProgress(ctx, run.ID, domain.Progress{Completed: 2, Total: 4}))

	got, err := repo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SweepStatusRunning, got.Status)
	assert.Equal(t, 2, got.Progress.Completed)

	got.Status = domain.SweepStatusFailed
	again, err := repo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SweepStatusRunning, again.Status, "callers receive copies")

	result := &domain.OptimizationResult{BestScore: 1.5}
	require.NoError(t, repo.Finish(ctx, run.ID, domain.SweepStatusCompleted, result, nil))
	assert.ErrorIs(t, repo.Finish(ctx, run.ID, domain.SweepStatusFailed, nil, nil), domain.ErrNotFound)
	assert.ErrorIs(t, repo.Finish(ctx, run.ID, domain.SweepStatusRunning, nil, nil), domain.ErrInvalidInput)

	_, err = repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemorySweepRunRepository_ListAndInterrupt(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySweepRunRepository(0)
	defer repo.Close()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, symbol := range []string{"AKBNK", "THYAO", "AKBNK"} {
		run := domain.NewSweepRun(domain.SweepRequest{Symbol: symbol})
		run.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.Create(ctx, run))
	}

	runs, total, err := repo.List(ctx, domain.SweepListQuery{Symbol: "AKBNK"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, runs, 2)
	assert.True(t, runs[0].CreatedAt.After(runs[1].CreatedAt))

	runs, total, err = repo.List(ctx, domain.SweepListQuery{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, runs, 1)

	n, err := repo.FailInterrupted(ctx, "shutdown")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	failed := domain.SweepStatusFailed
	_, total, err = repo.List(ctx, domain.SweepListQuery{Status: &failed})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestMemorySweepRunRepository_Cleanup(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySweepRunRepository(0)
	repo.retention = time.Hour
	defer repo.Close()

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	old := domain.NewSweepRun(domain.SweepRequest{Symbol: "OLD"})
	fresh := domain.NewSweepRun(domain.SweepRequest{Symbol: "NEW"})
	require.NoError(t, repo.Create(ctx, old))
	require.NoError(t, repo.Create(ctx, fresh))
	require.NoError(t, repo.Finish(ctx, old.ID, domain.SweepStatusCompleted, nil, nil))

	now = now.Add(2 * time.Hour)
	repo.cleanup()

	_, err := repo.GetByID(ctx, old.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = repo.GetByID(ctx, fresh.ID)
	assert.NoError(t, err, "unfinished runs are kept")
}
