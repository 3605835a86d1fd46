// Package config provides YAML-backed configuration for the engine. The
// values here are policy, not architecture: retry budgets, timeouts, TTLs and
// pruning thresholds are tunable per deployment while the orchestration
// semantics stay fixed.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RetryConfig controls retry behavior for transient agent failures.
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int `yaml:"max_retries"`
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	// MaxBackoff caps the exponential growth of the delay.
	MaxBackoff time.Duration `yaml:"max_backoff"`
	// BackoffFactor multiplies the delay after each attempt.
	BackoffFactor float64 `yaml:"backoff_factor"`
	// Jitter randomizes delays to avoid thundering herds.
	Jitter bool `yaml:"jitter"`
}

// SessionConfig controls lifecycle transitions and context bounding.
type SessionConfig struct {
	// IdleTimeout is the inactivity threshold before active → idle.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	// HardTTL is the inactivity threshold before idle → expired.
	HardTTL time.Duration `yaml:"hard_ttl"`
	// MaxTurnsRetained bounds how many messages an expired session keeps
	// after pruning (pinned facts always survive).
	MaxTurnsRetained int `yaml:"max_turns_retained"`
	// SweepInterval is how often the lifecycle sweep runs.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// QueueSize bounds the per-session pending-turn queue.
	QueueSize int `yaml:"queue_size"`
}

// PipelineConfig controls the agent pipeline executor.
type PipelineConfig struct {
	// AgentTimeout bounds each agent invocation.
	AgentTimeout time.Duration `yaml:"agent_timeout"`
	// HistoryWindow is how many recent messages agents see in their prompt
	// context.
	HistoryWindow int `yaml:"history_window"`
	// FallbackReply is the deterministic reply used when a turn fails.
	FallbackReply string      `yaml:"fallback_reply"`
	Retry         RetryConfig `yaml:"retry"`
}

// LedgerConfig controls the deduplication ledger.
type LedgerConfig struct {
	// TTL is the retention window for seen message ids. It must exceed any
	// plausible redelivery window of the external channel.
	TTL time.Duration `yaml:"ttl"`
	// SweepInterval is how often expired dedup records are removed.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// LoggingConfig selects level and format for the built-in logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// Config is the root engine configuration.
type Config struct {
	Session  SessionConfig  `yaml:"session"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DefaultFallbackReply mirrors the apology the support flow has always used
// when it cannot produce a real answer.
const DefaultFallbackReply = "I apologize, but I'm experiencing technical difficulties. " +
	"Please try again or contact human support."

// Default returns the baseline configuration. All values are suggestions,
// not mandates; deployments tune them via YAML.
func Default() Config {
	return Config{
		Session: SessionConfig{
			IdleTimeout:      30 * time.Minute,
			HardTTL:          72 * time.Hour,
			MaxTurnsRetained: 50,
			SweepInterval:    time.Minute,
			QueueSize:        16,
		},
		Pipeline: PipelineConfig{
			AgentTimeout:  30 * time.Second,
			HistoryWindow: 10,
			FallbackReply: DefaultFallbackReply,
			Retry: RetryConfig{
				MaxRetries:     2,
				InitialBackoff: 100 * time.Millisecond,
				MaxBackoff:     10 * time.Second,
				BackoffFactor:  2.0,
				Jitter:         true,
			},
		},
		Ledger: LedgerConfig{
			TTL:           72 * time.Hour,
			SweepInterval: 10 * time.Minute,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads a YAML file and merges it over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations that would break engine invariants.
func (c Config) Validate() error {
	if c.Session.IdleTimeout <= 0 {
		return fmt.Errorf("session.idle_timeout must be positive")
	}
	if c.Session.HardTTL <= c.Session.IdleTimeout {
		return fmt.Errorf("session.hard_ttl must exceed session.idle_timeout")
	}
	if c.Session.MaxTurnsRetained <= 0 {
		return fmt.Errorf("session.max_turns_retained must be positive")
	}
	if c.Session.QueueSize <= 0 {
		return fmt.Errorf("session.queue_size must be positive")
	}
	if c.Pipeline.AgentTimeout <= 0 {
		return fmt.Errorf("pipeline.agent_timeout must be positive")
	}
	if c.Pipeline.HistoryWindow <= 0 {
		return fmt.Errorf("pipeline.history_window must be positive")
	}
	if c.Pipeline.Retry.MaxRetries < 0 {
		return fmt.Errorf("pipeline.retry.max_retries must not be negative")
	}
	if c.Pipeline.Retry.BackoffFactor < 1 {
		return fmt.Errorf("pipeline.retry.backoff_factor must be >= 1")
	}
	if c.Ledger.TTL <= 0 {
		return fmt.Errorf("ledger.ttl must be positive")
	}
	return nil
}
