package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/eyupikiz-lgtm/QuantAup/internal/config"
	"github.com/eyupikiz-lgtm/QuantAup/internal/db/repository"
	"github.com/eyupikiz-lgtm/QuantAup/internal/domain"
	"github.com/eyupikiz-lgtm/QuantAup/internal/optimizer"
)

type fakeProvider struct {
	err error
}

func (p *fakeProvider) Fetch(ctx context.Context, symbol string, tf domain.Timeframe, start, end *time.Time) (*domain.MarketSeries, error) {
	if p.err != nil {
		return nil, p.err
	}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, 10)
	for i := range bars {
		bars[i] = domain.Bar{Timestamp: base.AddDate(0, 0, i), Close: float64(100 + i)}
	}
	return domain.NewMarketSeries(symbol, tf, bars)
}

type runnerFunc func(ctx context.Context, req optimizer.Request) (*domain.OptimizationResult, error)

func (f runnerFunc) Run(ctx context.Context, req optimizer.Request) (*domain.OptimizationResult, error) {
	return f(ctx, req)
}

type recordingLifecycle struct {
	mu     sync.Mutex
	events []string
}

func (l *recordingLifecycle) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *recordingLifecycle) Events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *recordingLifecycle) SweepStarted(*domain.SweepRun) { l.add("started") }
func (l *recordingLifecycle) SweepProgress(uuid.UUID, domain.Progress) { l.add("progress") }
func (l *recordingLifecycle) SweepCompleted(*domain.SweepRun) { l.add("completed") }
func (l *recordingLifecycle) SweepFailed(_ *domain.SweepRun, msg string) { l.add("failed") }
func (l *recordingLifecycle) SweepCancelled(*domain.SweepRun) { l.add("cancelled") }

type recordingSink struct {
	mu       sync.Mutex
	statuses []domain.SweepStatus
}

func (s *recordingSink) RunUpdated(run domain.SweepRun) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, run.Status)
}

func testDefaults() Defaults {
	return Defaults{
		Ranges:     optimizer.DefaultRanges(),
		Commission: 0.001,
		Objective:  domain.ObjectiveLinearity,
		Linearity:  optimizer.DefaultLinearity(),
	}
}

func newTestScheduler(t *testing.T, cfg config.SchedulerConfig, data *fakeProvider, runner Runner) (*Scheduler, *repository.MemorySweepRunRepository, *recordingLifecycle) {
	t.Helper()
	repo := repository.NewMemorySweepRunRepository(0)
	t.Cleanup(repo.Close)

	lc := &recordingLifecycle{}
	s := NewScheduler(&cfg, testDefaults(), repo, data, runner, lc, zaptest.NewLogger(t))
	return s, repo, lc
}

func waitForStatus(t *testing.T, repo *repository.MemorySweepRunRepository, id uuid.UUID, want domain.SweepStatus) *domain.SweepRun {
	t.Helper()
	var run *domain.SweepRun
	require.Eventually(t, func() bool {
		got, err := repo.GetByID(context.Background(), id)
		if err != nil {
			return false
		}
		run = got
		return got.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return run
}

func validRequest() domain.SweepRequest {
	return domain.SweepRequest{Symbol: "THYAO", Timeframe: domain.Timeframe1d}
}

func TestValidateRequest(t *testing.T) {
	bad := 1.5
	start := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, -1)
	empty := domain.SweepRanges{}

	cases := map[string]domain.SweepRequest{
		"missing symbol": {Timeframe: domain.Timeframe1d},
		"bad timeframe":  {Symbol: "X", Timeframe: "4h"},
		"bad objective":  {Symbol: "X", Timeframe: domain.Timeframe1d, Objective: "sortino"},
		"inverted range": {Symbol: "X", Timeframe: domain.Timeframe1d, Start: &start, End: &end},
		"commission":     {Symbol: "X", Timeframe: domain.Timeframe1d, Commission: &bad},
		"empty ranges":   {Symbol: "X", Timeframe: domain.Timeframe1d, Ranges: &empty},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, ValidateRequest(req), domain.ErrInvalidInput)
		})
	}

	assert.NoError(t, ValidateRequest(validRequest()))
}

func TestSchedulerCompletesSweep(t *testing.T) {
	var got optimizer.Request
	runner := runnerFunc(func(ctx context.Context, req optimizer.Request) (*domain.OptimizationResult, error) {
		got = req
		req.Progress(domain.Progress{Completed: 1, Total: 2})
		return &domain.OptimizationResult{BestScore: 0.9, Evaluated: 2, Total: 2}, nil
	})

	s, repo, lc := newTestScheduler(t, config.SchedulerConfig{MaxConcurrentSweeps: 2, QueueSize: 4}, &fakeProvider{}, runner)
	sink := &recordingSink{}
	s.SetSink(sink)
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Stop() })

	run, err := s.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, string(domain.SweepTriggerManual), run.Request.Trigger)

	done := waitForStatus(t, repo, run.ID, domain.SweepStatusCompleted)
	require.NotNil(t, done.Result)
	assert.Equal(t, 0.9, done.Result.BestScore)
	assert.Equal(t, 1, done.Progress.Completed)
	assert.NotNil(t, done.StartedAt)

	assert.Equal(t, 0.001, got.Commission)
	assert.Equal(t, optimizer.DefaultRanges(), got.Ranges)
	assert.Equal(t, domain.ObjectiveLinearity, got.Objective.Kind())
	assert.Equal(t, 10, got.Series.Len())

	require.Eventually(t, func() bool {
		return len(lc.Events()) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"started", "progress", "completed"}, lc.Events())

	require.Eventually(t, func() bool { return s.Stats().Completed == 1 }, time.Second, 5*time.Millisecond)
	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.Submitted)
	assert.Equal(t, 2, stats.Workers)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.NotEmpty(t, sink.statuses)
	assert.Equal(t, domain.SweepStatusPending, sink.statuses[0])
	assert.Equal(t, domain.SweepStatusCompleted, sink.statuses[len(sink.statuses)-1])
}

func TestSchedulerRequestOverrides(t *testing.T) {
	reqs := make(chan optimizer.Request, 1)
	runner := runnerFunc(func(ctx context.Context, req optimizer.Request) (*domain.OptimizationResult, error) {
		reqs <- req
		return &domain.OptimizationResult{}, nil
	})

	s, repo, _ := newTestScheduler(t, config.SchedulerConfig{MaxConcurrentSweeps: 1, QueueSize: 1}, &fakeProvider{}, runner)
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Stop() })

	commission := 0.0
	ranges := optimizer.DefaultRanges()
	ranges.ShortWindow = domain.IntRange{Min: 3, Max: 6, Step: 1}
	req := validRequest()
	req.Commission = &commission
	req.Ranges = &ranges
	req.Objective = domain.ObjectiveSharpe

	run, err := s.Submit(context.Background(), req)
	require.NoError(t, err)

	got := <-reqs
	assert.Equal(t, 0.0, got.Commission)
	assert.Equal(t, ranges, got.Ranges)
	assert.Equal(t, domain.ObjectiveSharpe, got.Objective.Kind())
	waitForStatus(t, repo, run.ID, domain.SweepStatusCompleted)
}

func TestSchedulerCancelRunning(t *testing.T) {
	started := make(chan struct{})
	runner := runnerFunc(func(ctx context.Context, req optimizer.Request) (*domain.OptimizationResult, error) {
		close(started)
		<-ctx.Done()
		return &domain.OptimizationResult{Partial: true, BestScore: 0.4}, ctx.Err()
	})

	s, repo, lc := newTestScheduler(t, config.SchedulerConfig{MaxConcurrentSweeps: 1, QueueSize: 1}, &fakeProvider{}, runner)
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Stop() })

	run, err := s.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	<-started
	require.NoError(t, s.Cancel(context.Background(), run.ID))

	done := waitForStatus(t, repo, run.ID, domain.SweepStatusCancelled)
	require.NotNil(t, done.Result)
	assert.True(t, done.Result.Partial)
	assert.Nil(t, done.Error)

	require.Eventually(t, func() bool {
		events := lc.Events()
		return len(events) > 0 && events[len(events)-1] == "cancelled"
	}, time.Second, 5*time.Millisecond)

	err = s.Cancel(context.Background(), run.ID)
	assert.ErrorIs(t, err, domain.ErrSweepNotCancellable)
}

func TestSchedulerCancelQueued(t *testing.T) {
	runner := runnerFunc(func(ctx context.Context, req optimizer.Request) (*domain.OptimizationResult, error) {
		t.Error("cancelled sweep must not run")
		return nil, nil
	})

	s, repo, _ := newTestScheduler(t, config.SchedulerConfig{MaxConcurrentSweeps: 1, QueueSize: 2}, &fakeProvider{}, runner)

	run, err := s.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, s.Stats().QueuedSweeps)

	require.NoError(t, s.Cancel(context.Background(), run.ID))
	stored, err := repo.GetByID(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SweepStatusCancelled, stored.Status)
	assert.Equal(t, 0, s.Stats().QueuedSweeps)

	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())

	err = s.Cancel(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSchedulerQueueFull(t *testing.T) {
	s, repo, _ := newTestScheduler(t, config.SchedulerConfig{MaxConcurrentSweeps: 1, QueueSize: 1}, &fakeProvider{}, nil)

	_, err := s.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	_, err = s.Submit(context.Background(), validRequest())
	assert.ErrorIs(t, err, ErrQueueFull)

	failed := domain.SweepStatusFailed
	runs, total, err := repo.List(context.Background(), domain.SweepListQuery{Status: &failed})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.NotNil(t, runs[0].Error)
	assert.Contains(t, *runs[0].Error, "queue is full")
}

func TestSchedulerTimeout(t *testing.T) {
	runner := runnerFunc(func(ctx context.Context, req optimizer.Request) (*domain.OptimizationResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	s, repo, _ := newTestScheduler(t, config.SchedulerConfig{
		MaxConcurrentSweeps: 1,
		QueueSize:           1,
		SweepTimeout:        "20ms",
	}, &fakeProvider{}, runner)
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Stop() })

	run, err := s.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	done := waitForStatus(t, repo, run.ID, domain.SweepStatusFailed)
	require.NotNil(t, done.Error)
	assert.Contains(t, *done.Error, "timed out")
}

func TestSchedulerDataError(t *testing.T) {
	runner := runnerFunc(func(ctx context.Context, req optimizer.Request) (*domain.OptimizationResult, error) {
		return nil, errors.New("unreachable")
	})

	data := &fakeProvider{err: domain.NewNotFoundError("market_data", "THYAO/1d")}
	s, repo, lc := newTestScheduler(t, config.SchedulerConfig{MaxConcurrentSweeps: 1, QueueSize: 1}, data, runner)
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Stop() })

	run, err := s.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	done := waitForStatus(t, repo, run.ID, domain.SweepStatusFailed)
	require.NotNil(t, done.Error)
	assert.Contains(t, *done.Error, "market_data not found")
	require.Eventually(t, func() bool {
		events := lc.Events()
		return len(events) > 0 && events[len(events)-1] == "failed"
	}, time.Second, 5*time.Millisecond)
}

func TestSchedulerStopFailsQueued(t *testing.T) {
	s, repo, _ := newTestScheduler(t, config.SchedulerConfig{MaxConcurrentSweeps: 1, QueueSize: 2}, &fakeProvider{}, nil)

	run, err := s.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	require.NoError(t, s.Stop())

	stored, err := repo.GetByID(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SweepStatusFailed, stored.Status)

	_, err = s.Submit(context.Background(), validRequest())
	assert.ErrorIs(t, err, ErrSchedulerStopped)
}
