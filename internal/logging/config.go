package logging

import (
	"fmt"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/collectiond/internal/config"
)

// Config holds logging configuration.
type Config struct {
	Level    zapcore.Level
	Format   string
	Output   OutputConfig
	Sampling SamplingConfig
	Caller   bool
	Fields   map[string]string
}

// OutputConfig controls where logs are written.
type OutputConfig struct {
	Stdout bool
	Stderr bool
	OTEL   bool
}

// SamplingConfig controls log volume reduction below error level.
type SamplingConfig struct {
	Enabled    bool
	Tick       config.Duration
	Initial    int
	Thereafter int
}

// NewDefaultConfig returns config with production-ready defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Format: "json",
		Output: OutputConfig{Stdout: true},
		Sampling: SamplingConfig{
			Enabled:    true,
			Tick:       config.Duration(time.Second),
			Initial:    100,
			Thereafter: 10,
		},
		Caller: true,
		Fields: map[string]string{
			"service": "collectiond",
		},
	}
}

// FromSettings builds a Config from the loaded application settings.
func FromSettings(s config.LoggingConfig) (*Config, error) {
	cfg := NewDefaultConfig()

	if s.Level != "" {
		level, err := LevelFromString(s.Level)
		if err != nil {
			return nil, fmt.Errorf("parsing log level %q: %w", s.Level, err)
		}
		cfg.Level = level
	}
	if s.Format != "" {
		cfg.Format = s.Format
	}
	switch s.Output {
	case "", "stdout":
	case "stderr":
		// stdio transports (mcp) reserve stdout for protocol frames
		cfg.Output = OutputConfig{Stderr: true}
	default:
		return nil, fmt.Errorf("unknown log output %q", s.Output)
	}
	cfg.Output.OTEL = s.OTEL
	cfg.Sampling.Enabled = !s.DisableSampling

	return cfg, nil
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	}
	if !c.Output.Stdout && !c.Output.Stderr && !c.Output.OTEL {
		return fmt.Errorf("at least one output must be enabled (stdout, stderr or otel)")
	}
	if c.Sampling.Enabled && c.Sampling.Tick.Duration() <= 0 {
		return fmt.Errorf("sampling tick must be > 0 when sampling enabled")
	}
	for k, v := range c.Fields {
		if k == "" {
			return fmt.Errorf("field key cannot be empty")
		}
		if v == "" {
			return fmt.Errorf("field %q has empty value", k)
		}
	}
	return nil
}
