// QuantAup sweep server
// Serves backtests and parameter sweeps over HTTP, WebSocket and RabbitMQ.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	httpapi "github.com/eyupikiz-lgtm/QuantAup/internal/api/http"
	"github.com/eyupikiz-lgtm/QuantAup/internal/app"
	"github.com/eyupikiz-lgtm/QuantAup/internal/config"
	"github.com/eyupikiz-lgtm/QuantAup/internal/datasource"
	"github.com/eyupikiz-lgtm/QuantAup/internal/db"
	"github.com/eyupikiz-lgtm/QuantAup/internal/db/repository"
	"github.com/eyupikiz-lgtm/QuantAup/internal/events"
	"github.com/eyupikiz-lgtm/QuantAup/internal/scheduler"
	"github.com/eyupikiz-lgtm/QuantAup/internal/telemetry"
	"github.com/eyupikiz-lgtm/QuantAup/web"
)

// Build-time variables (set via ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// memoryRunRetention is how long finished runs are kept without Postgres.
const memoryRunRetention = 24 * time.Hour

func main() {
	configPath := flag.String("config", "", "Path to configuration file (YAML)")
	envFile := flag.String("env-file", config.DefaultEnvFile, "Path to a .env file")
	flag.Parse()

	cfg, err := config.LoadWithEnvFile(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := app.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting QuantAup server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("environment", cfg.Env),
		zap.String("data_source", cfg.Data.Source),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Application error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("QuantAup server stopped")
}

// run initializes and runs all application components.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// 1. Storage. Postgres is required only when it is the data source.
	var (
		dbSource datasource.Source
		runs     repository.SweepRunRepository
		database httpapi.Database
	)

	logger.Info("Connecting to PostgreSQL...")
	pool, err := db.NewPool(ctx, &cfg.Server.Database, logger)
	switch {
	case err == nil:
		defer pool.Close()
		if err := pool.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		repos := repository.NewRepositories(pool)
		dbSource = repos.MarketData
		runs = repos.SweepRun
		database = pool

		n, err := runs.FailInterrupted(ctx, "interrupted by server restart")
		if err != nil {
			return fmt.Errorf("failed to recover interrupted sweeps: %w", err)
		}
		if n > 0 {
			logger.Warn("Marked interrupted sweeps as failed", zap.Int64("count", n))
		}
		logger.Info("Connected to PostgreSQL")

	case cfg.Data.Source == "postgres":
		return fmt.Errorf("failed to connect to database: %w", err)

	default:
		logger.Warn("PostgreSQL unavailable, keeping sweep runs in memory", zap.Error(err))
		mem := repository.NewMemorySweepRunRepository(memoryRunRetention)
		defer mem.Close()
		runs = mem
	}

	// 2. Market data
	data, err := datasource.New(cfg.Data, dbSource, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize data source: %w", err)
	}

	// 3. Engine, optimizer and metrics
	metrics := telemetry.New()
	engine := app.NewEngine(cfg, logger)
	opt, err := app.NewOptimizer(cfg, engine, metrics, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize optimizer: %w", err)
	}

	// 4. Event publisher (RabbitMQ behind a circuit breaker)
	var publisher events.Publisher = events.NewNoOpPublisher()
	if cfg.Server.RabbitMQ.URL != "" {
		logger.Info("Connecting to RabbitMQ...")
		mq, err := events.NewRabbitMQPublisher(&cfg.Server.RabbitMQ, logger)
		if err != nil {
			logger.Warn("Failed to connect to RabbitMQ, using no-op publisher", zap.Error(err))
		} else {
			publisher = events.NewBreakerPublisher(mq, events.DefaultBreakerSettings(), logger)
			defer publisher.Close()
			logger.Info("Connected to RabbitMQ")
		}
	}
	emitter := events.NewEmitter(publisher, logger)

	// 5. Sweep scheduler and WebSocket hub
	hub := httpapi.NewHub(logger)
	go hub.Run()
	defer hub.Shutdown()

	sched := scheduler.NewScheduler(
		&cfg.Server.Scheduler,
		app.SweepDefaults(cfg),
		runs,
		data,
		opt,
		emitter,
		logger,
	)
	sched.SetSink(hub)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	// 6. Cron schedules
	schedules, err := scheduler.SchedulesFromConfig(cfg.Server.Schedules)
	if err != nil {
		return fmt.Errorf("failed to load schedules: %w", err)
	}
	cronSched := scheduler.NewCronScheduler(schedules, sched, cfg.Server.Scheduler.CheckIntervalDuration(), logger)
	if err := cronSched.Start(); err != nil {
		return fmt.Errorf("failed to start cron scheduler: %w", err)
	}

	// 7. Command subscriber
	if cfg.Server.RabbitMQ.URL != "" {
		subscriber, err := events.NewRabbitMQSubscriber(&cfg.Server.RabbitMQ, logger)
		if err != nil {
			logger.Warn("Failed to create RabbitMQ subscriber, sweep commands will not be consumed", zap.Error(err))
		} else {
			defer subscriber.Close()
			handler := events.CommandHandler(ctx, sched, logger)
			if err := subscriber.Subscribe(ctx, events.CommandRoutingKeys, handler); err != nil {
				logger.Warn("Failed to subscribe to sweep commands", zap.Error(err))
			}
		}
	}

	// 8. HTTP server
	handler := httpapi.NewHandler(data, engine, sched, runs, logger)
	handler.SetSchedules(cronSched)
	handler.SetMetrics(metrics)

	httpAddr := fmt.Sprintf(":%d", cfg.Server.HTTPPort)
	httpServer := httpapi.NewServer(httpAddr, handler, hub, database, metrics, logger)
	if dashboard, err := web.Dashboard(); err != nil {
		logger.Warn("Dashboard unavailable", zap.Error(err))
	} else {
		httpServer.ServeDashboard(dashboard)
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpServer.Start()
	}()

	logger.Info("QuantAup server initialized and running",
		zap.String("http_address", httpAddr),
		zap.Int("schedules", len(cronSched.Schedules())),
	)

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}

	logger.Info("Shutting down QuantAup server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.Scheduler.ShutdownTimeoutDuration())
	defer cancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", zap.Error(err))
	}
	if err := cronSched.Stop(); err != nil {
		logger.Error("Error stopping cron scheduler", zap.Error(err))
	}
	if err := sched.Stop(); err != nil {
		logger.Error("Error stopping scheduler", zap.Error(err))
	}

	return nil
}
