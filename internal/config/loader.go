package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultEnvFile is read before environment overrides are applied.
const DefaultEnvFile = ".env"

// Load loads configuration from a YAML file, an optional .env file and
// environment variable overrides, in that order.
func Load(configPath string) (*Config, error) {
	return LoadWithEnvFile(configPath, DefaultEnvFile)
}

// LoadWithEnvFile is Load with an explicit .env path. An empty envFile skips it.
func LoadWithEnvFile(configPath, envFile string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := loadFromYAML(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromYAML loads configuration from a YAML file. Unknown keys are rejected.
func loadFromYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ENV"); v != "" {
		cfg.Env = v
	}

	// Engine
	if v := os.Getenv("INITIAL_CAPITAL"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Engine.InitialCapital = f
		}
	}
	if v := os.Getenv("COMMISSION"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Engine.Commission = f
		}
	}
	if v := os.Getenv("COMMISSION_ON_ENTRY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Engine.CommissionOnEntry = b
		}
	}
	if v := os.Getenv("AVERAGER"); v != "" {
		cfg.Engine.Averager = strings.ToLower(v)
	}

	// Optimizer
	if v := os.Getenv("OPTIMIZER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Optimizer.Workers = n
		}
	}
	if v := os.Getenv("OBJECTIVE"); v != "" {
		cfg.Optimizer.Objective = strings.ToLower(v)
	}

	// Data
	if v := os.Getenv("DATA_SOURCE"); v != "" {
		cfg.Data.Source = strings.ToLower(v)
	}
	if v := os.Getenv("CSV_DIR"); v != "" {
		cfg.Data.CSVDir = v
	}
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		cfg.Data.Binance.APIKey = v
	}
	if v := os.Getenv("BINANCE_SECRET_KEY"); v != "" {
		cfg.Data.Binance.SecretKey = v
	}

	// Server
	if v := os.Getenv("HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.HTTPPort = port
		}
	}

	// Database
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Server.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Database.Port = port
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.Server.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Server.Database.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.Server.Database.Name = v
	}
	if v := os.Getenv("DB_SSLMODE"); v != "" {
		cfg.Server.Database.SSLMode = v
	}
	if v := os.Getenv("DB_MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Database.MaxConnections = n
		}
	}

	// RabbitMQ
	if v := os.Getenv("RABBITMQ_URL"); v != "" {
		cfg.Server.RabbitMQ.URL = v
	}
	if v := os.Getenv("RABBITMQ_EXCHANGE"); v != "" {
		cfg.Server.RabbitMQ.Exchange = v
	}

	// Scheduler
	if v := os.Getenv("MAX_CONCURRENT_SWEEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Scheduler.MaxConcurrentSweeps = n
		}
	}
	if v := os.Getenv("SWEEP_TIMEOUT"); v != "" {
		cfg.Server.Scheduler.SweepTimeout = v
	}

	// Logging
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
}

// MustLoad loads configuration and panics on error.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}
