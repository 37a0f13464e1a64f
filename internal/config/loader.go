package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix  = "MEETSYNC_"
	envConfig  = "MEETSYNC_CONFIG"
	maxNodeID  = 1023
	tagKoanf   = "koanf"
	keyDivider = "."
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if MEETSYNC_CONFIG is set
//  3. env (prefix MEETSYNC_)
func Load(_ context.Context) (*Config, error) {
	base := New()

	k := koanf.New(keyDivider)

	if path := os.Getenv(envConfig); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrLoadConfig, path, err)
		}
	}

	// MEETSYNC_BATCH_SIZE -> batch_size; underscores are kept to match the flat tags.
	envProvider := env.Provider(envPrefix, keyDivider, func(s string) string {
		s = strings.ToLower(s)
		return strings.TrimPrefix(s, strings.ToLower(envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %v", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: tagKoanf}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants and normalizes pool sizes so a pool can always
// hold a full batch.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.BatchSize <= 0:
		return fmt.Errorf("%w: batch_size must be positive", ErrInvalidConfig)
	case c.RetryMaxAttempts < 1:
		return fmt.Errorf("%w: retry_max_attempts must be at least 1", ErrInvalidConfig)
	case c.BreakerFailureThreshold < 1:
		return fmt.Errorf("%w: breaker_failure_threshold must be at least 1", ErrInvalidConfig)
	case c.NodeID < 0 || c.NodeID > maxNodeID:
		return fmt.Errorf("%w: node_id must be within 0..%d", ErrInvalidConfig, maxNodeID)
	}

	if c.ScheduledPoolSize < c.BatchSize {
		c.ScheduledPoolSize = c.BatchSize
	}
	if c.CompletedPoolSize < c.BatchSize {
		c.CompletedPoolSize = c.BatchSize
	}
	if c.PersistChunkSize <= 0 {
		c.PersistChunkSize = New().PersistChunkSize
	}
	return nil
}
