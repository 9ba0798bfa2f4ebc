// QuantAup command line tool
// Runs backtests and sweeps locally and loads exported bars into Postgres.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eyupikiz-lgtm/QuantAup/internal/app"
	"github.com/eyupikiz-lgtm/QuantAup/internal/config"
	"github.com/eyupikiz-lgtm/QuantAup/internal/datasource"
	"github.com/eyupikiz-lgtm/QuantAup/internal/db"
	"github.com/eyupikiz-lgtm/QuantAup/internal/db/repository"
)

var (
	configPath string
	envFile    string
	dataSource string
	csvDir     string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "quantaup",
	Short: "MA crossover backtester and parameter sweeper",
	Long: `QuantAup backtests a moving-average crossover strategy with stop-loss and
take-profit exits, and sweeps its parameter grid to find the best settings.

Market data comes from Postgres, exported CSV files or the Binance futures API.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", config.DefaultEnvFile, "Path to a .env file")
	rootCmd.PersistentFlags().StringVar(&dataSource, "source", "", "Data source override: postgres, csv, binance")
	rootCmd.PersistentFlags().StringVar(&csvDir, "csv-dir", "", "CSV directory override")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// environment is what every subcommand needs.
type environment struct {
	cfg    *config.Config
	logger *zap.Logger
	pool   *db.Pool
	data   datasource.Source
}

func (e *environment) Close() {
	if e.pool != nil {
		e.pool.Close()
	}
	e.logger.Sync()
}

// loadConfig loads configuration and applies persistent flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithEnvFile(configPath, envFile)
	if err != nil {
		return nil, err
	}
	if dataSource != "" {
		cfg.Data.Source = dataSource
	}
	if csvDir != "" {
		cfg.Data.CSVDir = csvDir
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	cfg.Logging.Format = "console"
	cfg.Logging.OutputPath = "stderr"
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setup loads configuration, the logger and the data source. Postgres is
// connected only when needsDB is set or it is the data source.
func setup(ctx context.Context, needsDB bool) (*environment, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := app.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	env := &environment{cfg: cfg, logger: logger}

	var dbSource datasource.Source
	if needsDB || cfg.Data.Source == "postgres" {
		pool, err := db.NewPool(ctx, &cfg.Server.Database, logger)
		if err != nil {
			env.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		env.pool = pool
		dbSource = repository.NewMarketDataRepository(pool)
	}

	data, err := datasource.New(cfg.Data, dbSource, logger)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.data = data
	return env, nil
}
