// Package config holds the curio configuration, loaded with Viper from
// TOML files and CURIO_* environment variables.
package config

import "time"

// Config represents the core curio configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Cache    CacheConfig    `mapstructure:"cache"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the curio HTTP server
type ServerConfig struct {
	Port      int  `mapstructure:"port"`
	JSONLogs  bool `mapstructure:"json_logs"`
	Prefork   bool `mapstructure:"prefork"`
	BodyLimit int  `mapstructure:"body_limit"` // Max request body in bytes
}

// QueueConfig configures the background job queue. All values are fixed at
// queue construction; changing them requires a restart.
type QueueConfig struct {
	// Concurrency and scheduling
	MaxConcurrentJobs   int `mapstructure:"max_concurrent_jobs"`   // Execution slots (default: 4)
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"` // Safety-net scheduling tick (default: 5)

	// Retry policy
	MaxRetries        int    `mapstructure:"max_retries"`         // Default max retries per job (default: 3)
	RetryDelaySeconds int    `mapstructure:"retry_delay_seconds"` // Base delay before a retry is eligible (default: 30)
	Backoff           string `mapstructure:"backoff"`             // "fixed" or "exponential" (default: fixed)

	// Execution bounds
	JobTimeoutSeconds int `mapstructure:"job_timeout_seconds"` // Per-job handler deadline (default: 300)

	// History retention
	CleanupIntervalSeconds int `mapstructure:"cleanup_interval_seconds"` // Sweep cadence (default: 3600)
	RetentionHours         int `mapstructure:"retention_hours"`          // Min age of terminal jobs before pruning (default: 168)

	// Optional dispatch gate. 0 disables rate limiting.
	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute"`
}

// CatalogConfig configures the third-party catalog service client
type CatalogConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// CacheConfig configures the warmup cache collaborator
type CacheConfig struct {
	// Backend selects the cache implementation: "memory" or "redis"
	Backend  string `mapstructure:"backend"`
	RedisURL string `mapstructure:"redis_url"`
	// DefaultTTLSeconds applies when a warmup entry does not specify its own TTL
	DefaultTTLSeconds int `mapstructure:"default_ttl_seconds"`
}

// PollInterval returns the scheduling safety-net tick as a duration.
func (q QueueConfig) PollInterval() time.Duration {
	return time.Duration(q.PollIntervalSeconds) * time.Second
}

// RetryDelay returns the base retry delay as a duration.
func (q QueueConfig) RetryDelay() time.Duration {
	return time.Duration(q.RetryDelaySeconds) * time.Second
}

// JobTimeout returns the per-job handler deadline as a duration.
func (q QueueConfig) JobTimeout() time.Duration {
	return time.Duration(q.JobTimeoutSeconds) * time.Second
}

// CleanupInterval returns the cleanup sweep cadence as a duration.
func (q QueueConfig) CleanupInterval() time.Duration {
	return time.Duration(q.CleanupIntervalSeconds) * time.Second
}

// Retention returns the terminal-job retention window as a duration.
func (q QueueConfig) Retention() time.Duration {
	return time.Duration(q.RetentionHours) * time.Hour
}
