// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Keep flat snake_case keys so env vars map 1:1 (MEETSYNC_BATCH_SIZE -> batch_size).
// - New() returns defaults; Load() layers file and env on top.
// - Derived values (durations, windows) are exposed as methods, not duplicated fields.
package config

import (
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects the handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// BatchSize is the number of employees fetched concurrently per batch.
	BatchSize int `koanf:"batch_size"`
	// ScheduledPoolSize and CompletedPoolSize bound the per-kind worker pools.
	ScheduledPoolSize int `koanf:"scheduled_pool_size"`
	CompletedPoolSize int `koanf:"completed_pool_size"`

	// ScheduledCron and CompletedCron are 5-field cron specs. Blank means the fallback cadence.
	ScheduledCron string `koanf:"scheduled_cron"`
	CompletedCron string `koanf:"completed_cron"`

	RetryMaxAttempts    int     `koanf:"retry_max_attempts"`
	RetryInitialDelayMS int     `koanf:"retry_initial_delay_ms"`
	RetryMultiplier     float64 `koanf:"retry_multiplier"`
	RetryMaxDelayMS     int     `koanf:"retry_max_delay_ms"`

	BreakerFailureThreshold int `koanf:"breaker_failure_threshold"`
	BreakerCooldownMS       int `koanf:"breaker_cooldown_ms"`

	CalendarAPIURL    string `koanf:"calendar_api_url"`
	CalendarAPIToken  string `koanf:"calendar_api_token"`
	CalendarTimeoutMS int    `koanf:"calendar_timeout_ms"`
	DirectoryAPIURL   string `koanf:"directory_api_url"`

	// DatabaseURL selects PostgreSQL persistence; empty keeps everything in memory.
	DatabaseURL string `koanf:"database_url"`
	// RedisAddr selects the Redis fallback cache; empty uses an in-process cache.
	RedisAddr       string `koanf:"redis_addr"`
	CacheTTLSeconds int    `koanf:"cache_ttl_seconds"`
	// NATSURL selects JetStream publishing; empty publishes to an in-memory queue.
	NATSURL          string `koanf:"nats_url"`
	NATSSubject      string `koanf:"nats_subject"`
	NATSStream       string `koanf:"nats_stream"`
	PublishQueueSize int    `koanf:"publish_queue_size"`

	ScheduledWindowDays             int  `koanf:"scheduled_window_days"`
	CompletedLookbackHours          int  `koanf:"completed_lookback_hours"`
	ConferenceMatchToleranceSeconds int  `koanf:"conference_match_tolerance_seconds"`
	SkipProcessedCompleted          bool `koanf:"skip_processed_completed"`
	PersistChunkSize                int  `koanf:"persist_chunk_size"`

	// NodeID seeds the snowflake generator for batch ids (0..1023).
	NodeID int64 `koanf:"node_id"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:                        "info",
		LogFormat:                       "text",
		Addr:                            ":9080",
		BatchSize:                       10,
		ScheduledPoolSize:               10,
		CompletedPoolSize:               10,
		RetryMaxAttempts:                3,
		RetryInitialDelayMS:             500,
		RetryMultiplier:                 2.0,
		RetryMaxDelayMS:                 5000,
		BreakerFailureThreshold:         5,
		BreakerCooldownMS:               30_000,
		CalendarAPIURL:                  "http://localhost:8080",
		CalendarTimeoutMS:               30_000,
		DirectoryAPIURL:                 "http://localhost:8080",
		CacheTTLSeconds:                 86_400,
		NATSSubject:                     "meetsync.meetings",
		NATSStream:                      "MEETSYNC",
		PublishQueueSize:                1024,
		ScheduledWindowDays:             7,
		CompletedLookbackHours:          24,
		ConferenceMatchToleranceSeconds: 300,
		SkipProcessedCompleted:          true,
		PersistChunkSize:                500,
		NodeID:                          1,
	}
}

// RetryInitialDelay returns the first backoff delay.
func (c *Config) RetryInitialDelay() time.Duration {
	return time.Duration(c.RetryInitialDelayMS) * time.Millisecond
}

// RetryMaxDelay caps exponential backoff.
func (c *Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.RetryMaxDelayMS) * time.Millisecond
}

// BreakerCooldown is how long an open circuit rejects calls.
func (c *Config) BreakerCooldown() time.Duration {
	return time.Duration(c.BreakerCooldownMS) * time.Millisecond
}

// CalendarTimeout is the HTTP client timeout for calendar calls.
func (c *Config) CalendarTimeout() time.Duration {
	return time.Duration(c.CalendarTimeoutMS) * time.Millisecond
}

// CacheTTL is the lifetime of a cached scheduled-meeting list.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// ScheduledWindow is the forward horizon for scheduled meetings.
func (c *Config) ScheduledWindow() time.Duration {
	return time.Duration(c.ScheduledWindowDays) * 24 * time.Hour
}

// CompletedLookback is the backward horizon for completed meetings.
func (c *Config) CompletedLookback() time.Duration {
	return time.Duration(c.CompletedLookbackHours) * time.Hour
}

// ConferenceMatchTolerance is the start-time tolerance for conference matching.
func (c *Config) ConferenceMatchTolerance() time.Duration {
	return time.Duration(c.ConferenceMatchToleranceSeconds) * time.Second
}
