// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Evaluation configuration
	Eval EvalConfig `yaml:"eval"`

	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Bus configuration
	Bus BusConfig `yaml:"bus"`

	// History configuration
	History HistoryConfig `yaml:"history"`

	// Logging configuration
	Log LogConfig `yaml:"log"`
}

// EvalConfig holds CMC evaluation settings.
type EvalConfig struct {
	TopK       int    `envconfig:"REID_TOP_K" yaml:"top_k"`
	NumRepeats int    `envconfig:"REID_NUM_REPEATS" yaml:"num_repeats"` // single-gallery-shot trials
	Seed       uint64 `envconfig:"REID_SEED" yaml:"seed"`
	Workers    int    `envconfig:"REID_WORKERS" yaml:"workers"`
	BlockRows  int    `envconfig:"REID_BLOCK_ROWS" yaml:"block_rows"` // query rows per GEMM block
	PrintFreq  int    `envconfig:"REID_PRINT_FREQ" yaml:"print_freq"` // batches between progress logs
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host      string `envconfig:"REID_HOST" yaml:"host"`
	Port      int    `envconfig:"REID_PORT" yaml:"port"`
	RateLimit int    `envconfig:"REID_RATE_LIMIT" yaml:"rate_limit"` // 0 = disabled
	MaxBodyMB int    `envconfig:"REID_MAX_BODY_MB" yaml:"max_body_mb"`
}

// BusConfig holds event bus settings.
type BusConfig struct {
	Type         string `envconfig:"REID_BUS_TYPE" yaml:"type"`
	KafkaBrokers string `envconfig:"REID_KAFKA_BROKERS" yaml:"kafka_brokers"`
	KafkaGroup   string `envconfig:"REID_KAFKA_GROUP" yaml:"kafka_group"`
	EventLog     string `envconfig:"REID_BUS_EVENT_LOG" yaml:"event_log"` // JSONL path, empty = disabled
}

// HistoryConfig holds evaluation history settings.
type HistoryConfig struct {
	Type     string `envconfig:"REID_HISTORY_TYPE" yaml:"type"`
	RedisURL string `envconfig:"REID_REDIS_URL" yaml:"redis_url"`
	TTLHours int    `envconfig:"REID_HISTORY_TTL_HOURS" yaml:"ttl_hours"` // 0 = keep forever
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"REID_LOG_LEVEL" yaml:"level"`
	Format string `envconfig:"REID_LOG_FORMAT" yaml:"format"`
}

// Load loads configuration from environment variables and optional config file.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	// Set defaults first
	setDefaults(cfg)

	// Load from YAML file if provided (overrides defaults)
	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// Override with environment variables (highest priority)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the default configuration.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func setDefaults(cfg *Config) {
	cfg.Eval = EvalConfig{
		TopK:       100,
		NumRepeats: 10,
		Seed:       0,
		Workers:    runtime.NumCPU(),
		BlockRows:  256,
		PrintFreq:  1,
	}

	cfg.Server = ServerConfig{
		Host:      "0.0.0.0",
		Port:      8080,
		RateLimit: 0,
		MaxBodyMB: 256,
	}

	cfg.Bus = BusConfig{
		Type:       "memory",
		KafkaGroup: "reid-eval",
	}

	cfg.History = HistoryConfig{
		Type:     "memory",
		RedisURL: "redis://localhost:6379",
		TTLHours: 0,
	}

	cfg.Log = LogConfig{
		Level:  "info",
		Format: "text",
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	// Eval validation
	if c.Eval.TopK < 1 {
		errs = append(errs, "top_k must be positive")
	}

	if c.Eval.NumRepeats < 1 {
		errs = append(errs, "num_repeats must be positive")
	}

	if c.Eval.Workers < 1 {
		errs = append(errs, "workers must be positive")
	}

	if c.Eval.BlockRows < 1 {
		errs = append(errs, "block_rows must be positive")
	}

	if c.Eval.PrintFreq < 1 {
		errs = append(errs, "print_freq must be positive")
	}

	// Server validation
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}

	if c.Server.RateLimit < 0 {
		errs = append(errs, "rate_limit must not be negative")
	}

	if c.Server.MaxBodyMB < 1 {
		errs = append(errs, "max_body_mb must be positive")
	}

	// Bus validation
	validBusTypes := map[string]bool{"memory": true, "kafka": true}
	if !validBusTypes[c.Bus.Type] {
		errs = append(errs, fmt.Sprintf("invalid bus type: %s (must be memory or kafka)", c.Bus.Type))
	}

	if c.Bus.Type == "kafka" && strings.TrimSpace(c.Bus.KafkaBrokers) == "" {
		errs = append(errs, "kafka_brokers is required for the kafka bus")
	}

	// History validation
	validHistoryTypes := map[string]bool{"none": true, "memory": true, "redis": true}
	if !validHistoryTypes[c.History.Type] {
		errs = append(errs, fmt.Sprintf("invalid history type: %s (must be none, memory, or redis)", c.History.Type))
	}

	if c.History.TTLHours < 0 {
		errs = append(errs, "ttl_hours must not be negative")
	}

	// Log validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// Address returns the server address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
