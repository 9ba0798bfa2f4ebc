package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/eyupikiz-lgtm/QuantAup/internal/domain"
	"github.com/eyupikiz-lgtm/QuantAup/internal/optimizer"
	"github.com/eyupikiz-lgtm/QuantAup/internal/signal"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return "validation errors: " + strings.Join(msgs, "; ")
}

func (e *ValidationErrors) add(field, format string, args ...interface{}) {
	*e = append(*e, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (e *ValidationErrors) check(ok bool, field, format string, args ...interface{}) {
	if !ok {
		e.add(field, format, args...)
	}
}

func (e *ValidationErrors) oneOf(field, value string, allowed ...string) {
	e.check(slices.Contains(allowed, value), field, "must be one of: %s", strings.Join(allowed, ", "))
}

func (e *ValidationErrors) duration(field, value string) {
	if value == "" {
		return
	}
	if d, err := time.ParseDuration(value); err != nil || d < 0 {
		e.add(field, "must be a valid non-negative duration")
	}
}

func (e *ValidationErrors) port(field string, port int) {
	e.check(port > 0 && port <= 65535, field, "must be a valid port number (1-65535)")
}

// Validate validates the configuration and returns every error found.
func Validate(cfg *Config) error {
	var errs ValidationErrors

	errs.oneOf("env", cfg.Env, "development", "staging", "production", "test")
	validateEngine(&errs, &cfg.Engine)
	validateOptimizer(&errs, &cfg.Optimizer)
	validateData(&errs, &cfg.Data)

	errs.port("server.http_port", cfg.Server.HTTPPort)
	validateDatabase(&errs, &cfg.Server.Database)
	if cfg.Server.RabbitMQ.URL != "" {
		validateRabbitMQ(&errs, &cfg.Server.RabbitMQ)
	}
	validateScheduler(&errs, &cfg.Server.Scheduler)

	names := make(map[string]bool, len(cfg.Server.Schedules))
	for i := range cfg.Server.Schedules {
		s := &cfg.Server.Schedules[i]
		validateSchedule(&errs, i, s)
		if names[s.Name] {
			errs.add(fmt.Sprintf("server.schedules[%d].name", i), "duplicate schedule name %q", s.Name)
		}
		names[s.Name] = true
	}

	errs.oneOf("logging.level", cfg.Logging.Level, "debug", "info", "warn", "error")
	errs.oneOf("logging.format", cfg.Logging.Format, "json", "console")

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateEngine(errs *ValidationErrors, e *EngineConfig) {
	errs.check(e.InitialCapital > 0, "engine.initial_capital", "must be greater than 0")
	errs.check(e.Commission >= 0 && e.Commission < 1, "engine.commission", "must be in [0,1)")
	errs.check(e.MinProfitMargin >= 0, "engine.min_profit_margin", "must be non-negative")
	errs.check(signal.Kind(e.Averager).IsValid(), "engine.averager", "must be one of: auto, scalar, accelerated")
	errs.check(e.AccelerateMinLength >= 0, "engine.accelerate_min_length", "must be non-negative")
	errs.check(e.AccelerateChunkSize >= 0, "engine.accelerate_chunk_size", "must be non-negative")
}

func validateOptimizer(errs *ValidationErrors, o *OptimizerConfig) {
	if err := optimizer.ValidateRanges(o.Ranges); err != nil {
		errs.add("optimizer.ranges", "%s", strings.TrimPrefix(err.Error(), domain.ErrInvalidInput.Error()+": "))
	}
	errs.check(o.Workers >= 0, "optimizer.workers", "must be non-negative (0 uses every CPU)")
	errs.check(o.TopN >= 0, "optimizer.top_n", "must be non-negative")
	errs.check(domain.ObjectiveKind(o.Objective).IsValid(), "optimizer.objective", "must be one of: linearity, total_return, sharpe")

	l := o.Linearity
	errs.check(l.DrawdownThreshold >= 0 && l.DrawdownPenalty >= 0 && l.SharpeBonus >= 0,
		"optimizer.linearity", "weights must be non-negative")
	errs.duration("optimizer.progress_interval", o.ProgressInterval)
}

func validateData(errs *ValidationErrors, d *DataConfig) {
	errs.oneOf("data.source", d.Source, "postgres", "csv", "binance")
	switch d.Source {
	case "csv":
		errs.check(d.CSVDir != "", "data.csv_dir", "is required for the csv source")
	case "binance":
		errs.check(d.Binance.RequestsPerSecond > 0, "data.binance.requests_per_second", "must be greater than 0")
		errs.check(d.Binance.Burst >= 0, "data.binance.burst", "must be non-negative")
	}
}

func validateDatabase(errs *ValidationErrors, db *DatabaseConfig) {
	errs.check(db.Host != "", "server.database.host", "is required")
	errs.port("server.database.port", db.Port)
	errs.check(db.User != "", "server.database.user", "is required")
	errs.check(db.Name != "", "server.database.name", "is required")
	errs.oneOf("server.database.sslmode", db.SSLMode, "disable", "require", "verify-ca", "verify-full")
	errs.check(db.MaxConnections > 0, "server.database.max_connections", "must be greater than 0")
	errs.check(db.MaxIdleConnections >= 0 && db.MaxIdleConnections <= db.MaxConnections,
		"server.database.max_idle_connections", "must be between 0 and max_connections")
	errs.duration("server.database.conn_max_lifetime", db.ConnMaxLifetime)
}

func validateRabbitMQ(errs *ValidationErrors, mq *RabbitMQConfig) {
	errs.check(strings.HasPrefix(mq.URL, "amqp://") || strings.HasPrefix(mq.URL, "amqps://"),
		"server.rabbitmq.url", "must start with amqp:// or amqps://")
	errs.check(mq.Exchange != "", "server.rabbitmq.exchange", "is required")
	errs.check(mq.Queue != "", "server.rabbitmq.queue", "is required")
	errs.check(mq.PrefetchCount > 0, "server.rabbitmq.prefetch_count", "must be greater than 0")
	errs.duration("server.rabbitmq.reconnect_delay", mq.ReconnectDelay)
	errs.duration("server.rabbitmq.max_reconnect_wait", mq.MaxReconnectWait)
}

func validateScheduler(errs *ValidationErrors, s *SchedulerConfig) {
	errs.check(s.MaxConcurrentSweeps > 0 && s.MaxConcurrentSweeps <= 16,
		"server.scheduler.max_concurrent_sweeps", "must be between 1 and 16")
	errs.check(s.QueueSize > 0, "server.scheduler.queue_size", "must be greater than 0")
	errs.duration("server.scheduler.sweep_timeout", s.SweepTimeout)
	errs.duration("server.scheduler.shutdown_timeout", s.ShutdownTimeout)
	errs.duration("server.scheduler.check_interval", s.CheckInterval)
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

func validateSchedule(errs *ValidationErrors, i int, s *ScheduleConfig) {
	prefix := fmt.Sprintf("server.schedules[%d]", i)

	errs.check(s.Name != "", prefix+".name", "is required")
	if _, err := cronParser.Parse(s.Cron); err != nil {
		errs.add(prefix+".cron", "invalid cron expression: %v", err)
	}
	errs.check(s.Symbol != "", prefix+".symbol", "is required")
	errs.check(domain.Timeframe(s.Timeframe).IsValid(), prefix+".timeframe", "must be one of: 5m, 1h, 1d")
	errs.check(s.LookbackDays >= 0, prefix+".lookback_days", "must be non-negative")
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	var ve ValidationError
	var ves ValidationErrors
	return errors.As(err, &ve) || errors.As(err, &ves)
}
