package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all promptgate configuration.
type Config struct {
	Listen    string          `yaml:"listen"`
	DBPath    string          `yaml:"db_path"`
	Tool      ToolConfig      `yaml:"tool"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Retry     RetryConfig     `yaml:"retry"`
	Cache     CacheConfig     `yaml:"cache"`
	Queue     QueueConfig     `yaml:"queue"`
}

// ToolConfig describes the external text-generation command.
type ToolConfig struct {
	Command       string        `yaml:"command"`
	AutoApprove   bool          `yaml:"auto_approve"`
	Checkpointing bool          `yaml:"checkpointing"`
	Timeout       time.Duration `yaml:"timeout"`
}

// RateLimitConfig controls the sliding-window request quota.
type RateLimitConfig struct {
	MaxPerHour int `yaml:"max_per_hour"`
}

// RetryConfig controls retry behavior for failed tool invocations.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	Enabled bool `yaml:"enabled"`
}

// QueueConfig controls the async job queue.
type QueueConfig struct {
	Depth int `yaml:"depth"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		DBPath: "promptgate.db",
		Tool: ToolConfig{
			Command:       "gemini",
			AutoApprove:   true,
			Checkpointing: true,
			Timeout:       5 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			MaxPerHour: 950,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
		},
		Cache: CacheConfig{
			Enabled: true,
		},
		Queue: QueueConfig{
			Depth: 128,
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads the config at path, falling back to defaults when the
// file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}
