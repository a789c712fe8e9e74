// Package config handles application configuration from environment variables
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
)

// Config holds all application configuration
type Config struct {
	SecretTokens []string `env:"SECRET_TOKENS,required,notEmpty" envSeparator:","`
	NumThreads   int      `env:"NUM_THREADS"`
	Port         string   `env:"PORT" envDefault:"5000"`
	LogLevel     string   `env:"LOG_LEVEL" envDefault:"info"`

	ItemTimeout        time.Duration `env:"ITEM_TIMEOUT" envDefault:"8m"`
	QueueCapacity      int           `env:"QUEUE_CAPACITY" envDefault:"4096"`
	RefreshConcurrency int           `env:"REFRESH_CONCURRENCY" envDefault:"16"`

	// RedisAddr switches the task queue from in-memory to asynq when set
	RedisAddr string `env:"REDIS_ADDR"`

	Kafka       KafkaConfig
	FlightAware FlightAwareConfig
}

// KafkaConfig enables the snapshot publisher when Brokers is non-empty
type KafkaConfig struct {
	Brokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	Topic   string   `env:"KAFKA_TOPIC" envDefault:"flight-snapshots"`
}

type FlightAwareConfig struct {
	BaseURL string `env:"FLIGHTAWARE_BASE_URL" envDefault:"https://www.flightaware.com"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.NumThreads == 0 {
		cfg.NumThreads = runtime.NumCPU()
	}
	cfg.SecretTokens = trimAll(cfg.SecretTokens)
	cfg.Kafka.Brokers = trimAll(cfg.Kafka.Brokers)
	return &cfg, nil
}

// HasKafka returns true if the snapshot publisher should run
func (c *Config) HasKafka() bool {
	return len(c.Kafka.Brokers) > 0
}

// HasRedis returns true if tasks go through asynq
func (c *Config) HasRedis() bool {
	return c.RedisAddr != ""
}

// Validate checks ranges and required values
func (c *Config) Validate() error {
	var errs []error
	if len(c.SecretTokens) == 0 {
		errs = append(errs, errors.New("SECRET_TOKENS must contain at least one token"))
	}
	for _, t := range c.SecretTokens {
		if t == "" {
			errs = append(errs, errors.New("SECRET_TOKENS must not contain empty entries"))
			break
		}
	}
	if c.NumThreads < 1 {
		errs = append(errs, fmt.Errorf("NUM_THREADS must be positive, got %d", c.NumThreads))
	}
	if c.Port == "" {
		errs = append(errs, errors.New("PORT must be set"))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q", c.LogLevel))
	}
	if c.ItemTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ITEM_TIMEOUT must be positive, got %s", c.ItemTimeout))
	}
	if c.QueueCapacity < 1 {
		errs = append(errs, fmt.Errorf("QUEUE_CAPACITY must be positive, got %d", c.QueueCapacity))
	}
	if c.RefreshConcurrency < 1 {
		errs = append(errs, fmt.Errorf("REFRESH_CONCURRENCY must be positive, got %d", c.RefreshConcurrency))
	}
	if c.HasKafka() && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC must be set when KAFKA_BROKERS is"))
	}
	if !strings.HasPrefix(c.FlightAware.BaseURL, "http://") && !strings.HasPrefix(c.FlightAware.BaseURL, "https://") {
		errs = append(errs, fmt.Errorf("FLIGHTAWARE_BASE_URL must be an http(s) url, got %q", c.FlightAware.BaseURL))
	}
	return errors.Join(errs...)
}

func trimAll(in []string) []string {
	out := in[:0]
	for _, s := range in {
		out = append(out, strings.TrimSpace(s))
	}
	return out
}
