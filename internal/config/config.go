// Package config loads the YAML process configuration with environment
// variable expansion.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all chatledger configuration.
type Config struct {
	Listen   string         `yaml:"listen"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Payment  PaymentConfig  `yaml:"payment"`
	LLM      LLMConfig      `yaml:"llm"`
	Summary  SummaryConfig  `yaml:"summary"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig selects the storage backend; the DSN scheme decides
// between postgres and sqlite.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig configures the optional distributed-lock backend. An empty
// Addr disables redis and the storage-level guards stand alone.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PaymentConfig holds the gateway merchant credentials.
type PaymentConfig struct {
	MerchantID string `yaml:"merchant_id"`
	Secret     string `yaml:"secret"`
}

// LLMConfig points at an OpenAI-compatible endpoint used for
// summarization and embeddings.
type LLMConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	ChatModel  string `yaml:"chat_model"`
	EmbedModel string `yaml:"embed_model"`
}

// SummaryConfig selects the model billed for summarization calls.
type SummaryConfig struct {
	ModelID string `yaml:"model_id"`
}

// LogConfig controls the log sink and rotation.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// OrderSweepInterval is how often expired payment orders are closed.
const OrderSweepInterval = time.Minute

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8317",
		Database: DatabaseConfig{
			DSN: "file:chatledger.db?cache=shared",
		},
		Summary: SummaryConfig{
			ModelID: "default",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, errRead := os.ReadFile(path)
	if errRead != nil {
		return nil, fmt.Errorf("read config: %w", errRead)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if errParse := yaml.Unmarshal([]byte(expanded), cfg); errParse != nil {
		return nil, fmt.Errorf("parse config: %w", errParse)
	}
	return cfg, nil
}
