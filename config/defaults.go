package config

import "github.com/spf13/viper"

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "curio.db")

	// Server defaults
	v.SetDefault("server.port", 8460)
	v.SetDefault("server.json_logs", false)
	v.SetDefault("server.prefork", false)
	v.SetDefault("server.body_limit", 4*1024*1024)

	// Queue defaults
	v.SetDefault("queue.max_concurrent_jobs", 4)
	v.SetDefault("queue.poll_interval_seconds", 5)
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.retry_delay_seconds", 30)
	v.SetDefault("queue.backoff", "fixed")
	v.SetDefault("queue.job_timeout_seconds", 300)
	v.SetDefault("queue.cleanup_interval_seconds", 3600)
	v.SetDefault("queue.retention_hours", 168) // One week of terminal job history
	v.SetDefault("queue.rate_limit_per_minute", 0)

	// Catalog service defaults
	v.SetDefault("catalog.base_url", "https://api.catalog.example.com")
	v.SetDefault("catalog.timeout_seconds", 30)

	// Cache defaults
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.redis_url", "redis://localhost:6379/0")
	v.SetDefault("cache.default_ttl_seconds", 900)
}
