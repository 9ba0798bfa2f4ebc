package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/eyupikiz-lgtm/QuantAup/internal/config"
	"github.com/eyupikiz-lgtm/QuantAup/internal/domain"
)

// Submitter queues sweep requests.
type Submitter interface {
	Submit(ctx context.Context, req domain.SweepRequest) (*domain.SweepRun, error)
}

// scheduledTask tracks one cron schedule.
type scheduledTask struct {
	Schedule *domain.SweepSchedule
	CronSpec cron.Schedule
}

// CronScheduler submits sweeps on cron schedules.
type CronScheduler struct {
	submitter Submitter
	logger    *zap.Logger

	cronParser    cron.Parser
	checkInterval time.Duration
	now           func() time.Time

	mu        sync.RWMutex
	schedules map[uuid.UUID]*scheduledTask

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SchedulesFromConfig converts configured schedules into domain schedules.
func SchedulesFromConfig(cfgs []config.ScheduleConfig) ([]*domain.SweepSchedule, error) {
	schedules := make([]*domain.SweepSchedule, 0, len(cfgs))
	for _, c := range cfgs {
		tf := domain.Timeframe(c.Timeframe)
		if !tf.IsValid() {
			return nil, fmt.Errorf("%w: schedule %q has unsupported timeframe %q", domain.ErrInvalidInput, c.Name, c.Timeframe)
		}
		if c.Symbol == "" {
			return nil, fmt.Errorf("%w: schedule %q has no symbol", domain.ErrInvalidInput, c.Name)
		}
		schedule := domain.NewSweepSchedule(c.Name, c.Cron, c.Symbol, tf, c.LookbackDays)
		schedule.Enabled = !c.Disabled
		schedules = append(schedules, schedule)
	}
	return schedules, nil
}

// NewCronScheduler creates a CronScheduler. Schedules with an invalid cron
// expression or that are disabled are skipped.
func NewCronScheduler(
	schedules []*domain.SweepSchedule,
	submitter Submitter,
	checkInterval time.Duration,
	logger *zap.Logger,
) *CronScheduler {
	if checkInterval <= 0 {
		checkInterval = time.Minute
	}

	s := &CronScheduler{
		submitter:     submitter,
		logger:        logger.Named("cron"),
		cronParser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		checkInterval: checkInterval,
		now:           time.Now,
		schedules:     make(map[uuid.UUID]*scheduledTask),
	}
	s.load(schedules)
	return s
}

func (s *CronScheduler) load(schedules []*domain.SweepSchedule) {
	now := s.now()
	for _, schedule := range schedules {
		if !schedule.Enabled {
			s.logger.Debug("Skipping disabled schedule", zap.String("schedule_name", schedule.Name))
			continue
		}

		cronSpec, err := s.cronParser.Parse(schedule.CronExpression)
		if err != nil {
			s.logger.Warn("Failed to parse cron expression, skipping schedule",
				zap.String("schedule_name", schedule.Name),
				zap.String("cron_expression", schedule.CronExpression),
				zap.Error(err),
			)
			continue
		}

		next := cronSpec.Next(now)
		schedule.NextRunAt = &next
		s.schedules[schedule.ID] = &scheduledTask{Schedule: schedule, CronSpec: cronSpec}

		s.logger.Debug("Loaded schedule",
			zap.String("schedule_name", schedule.Name),
			zap.String("cron_expression", schedule.CronExpression),
			zap.Time("next_run", next),
		)
	}
}

// Start starts the check loop.
func (s *CronScheduler) Start() error {
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go s.loop()

	s.logger.Info("Cron scheduler started",
		zap.Int("active_schedules", len(s.schedules)),
		zap.Duration("check_interval", s.checkInterval),
	)
	return nil
}

// Stop stops the check loop.
func (s *CronScheduler) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("Cron scheduler stopped")
	return nil
}

// Schedules returns a snapshot of the loaded schedules ordered by name.
func (s *CronScheduler) Schedules() []domain.SweepSchedule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.SweepSchedule, 0, len(s.schedules))
	for _, task := range s.schedules {
		out = append(out, *task.Schedule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *CronScheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.checkSchedules(s.ctx)
		}
	}
}

// checkSchedules submits every due schedule and advances its next run.
func (s *CronScheduler) checkSchedules(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []*scheduledTask
	for _, task := range s.schedules {
		if task.Schedule.IsDue(now) {
			due = append(due, task)
		}
	}
	s.mu.Unlock()

	for _, task := range due {
		s.execute(ctx, task, now)
	}
}

func (s *CronScheduler) execute(ctx context.Context, task *scheduledTask, now time.Time) {
	s.mu.RLock()
	req := task.Schedule.Request(now)
	name := task.Schedule.Name
	s.mu.RUnlock()

	run, err := s.submitter.Submit(ctx, req)

	s.mu.Lock()
	next := task.CronSpec.Next(now)
	task.Schedule.NextRunAt = &next
	if err == nil {
		task.Schedule.LastRunID = &run.ID
		task.Schedule.LastRunAt = &now
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Failed to submit scheduled sweep",
			zap.String("schedule_name", name),
			zap.Error(err),
		)
		return
	}

	s.logger.Info("Scheduled sweep triggered",
		zap.String("run_id", run.ID.String()),
		zap.String("schedule_name", name),
		zap.String("symbol", req.Symbol),
		zap.Time("next_run", next),
	)
}
