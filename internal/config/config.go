package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	DatabaseDSN          string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL          string `env:"RABBITMQ_URL,required=true"`
	RedisURL             string `env:"REDIS_URL,required=true"`
	StoreDriver          string `env:"STORE_DRIVER,default=postgres"`
	RecordSetBackendURL  string `env:"RECORDSET_BACKEND_URL"`
	APIPort              int    `env:"API_PORT,default=8080"`
	LogLevel             string `env:"LOG_LEVEL,default=info"`
	ProcessorConcurrency int    `env:"PROCESSOR_CONCURRENCY,default=8"`
	ApplyMaxAttempts     int    `env:"APPLY_MAX_ATTEMPTS,default=3"`
	ApplyRatePerSec      int    `env:"APPLY_RATE_PER_SEC,default=50"`
	SubmitRatePerSec     int    `env:"SUBMIT_RATE_PER_SEC,default=10"`
	MaxBatchChanges      int    `env:"MAX_BATCH_CHANGES,default=1000"`
	RetryScanIntervalRaw string `env:"RETRY_SCAN_INTERVAL,default=5s"`
	LockTTLRaw           string `env:"LOCK_TTL,default=2m"`

	// Parsed from the raw duration fields by Load.
	RetryScanInterval time.Duration
	LockTTL           time.Duration
}

// Load reads the process environment, after merging an optional .env file
// from the working directory. Variables already set are never overridden.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, c.StoreDriver)
	}

	positive := map[string]int{
		"PROCESSOR_CONCURRENCY": c.ProcessorConcurrency,
		"APPLY_MAX_ATTEMPTS":    c.ApplyMaxAttempts,
		"APPLY_RATE_PER_SEC":    c.ApplyRatePerSec,
		"SUBMIT_RATE_PER_SEC":   c.SubmitRatePerSec,
		"MAX_BATCH_CHANGES":     c.MaxBatchChanges,
	}
	for key, value := range positive {
		if value < 1 {
			return fmt.Errorf("%s must be positive, got %d", key, value)
		}
	}

	var err error
	if c.RetryScanInterval, err = parsePositiveDuration("RETRY_SCAN_INTERVAL", c.RetryScanIntervalRaw); err != nil {
		return err
	}
	if c.LockTTL, err = parsePositiveDuration("LOCK_TTL", c.LockTTLRaw); err != nil {
		return err
	}
	return nil
}

func parsePositiveDuration(key string, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, raw)
	}
	return d, nil
}
