package config

import "github.com/curioshelf/curio/errors"

// Validate checks configuration values that cannot be repaired by defaults.
func (c *Config) Validate() error {
	if c.Queue.MaxConcurrentJobs < 1 {
		return errors.Newf("queue.max_concurrent_jobs must be >= 1, got %d", c.Queue.MaxConcurrentJobs)
	}
	if c.Queue.MaxRetries < 0 {
		return errors.Newf("queue.max_retries must be >= 0, got %d", c.Queue.MaxRetries)
	}
	if c.Queue.JobTimeoutSeconds < 1 {
		return errors.Newf("queue.job_timeout_seconds must be >= 1, got %d", c.Queue.JobTimeoutSeconds)
	}
	switch c.Queue.Backoff {
	case "", "fixed", "exponential":
	default:
		return errors.Newf("queue.backoff must be \"fixed\" or \"exponential\", got %q", c.Queue.Backoff)
	}
	switch c.Cache.Backend {
	case "", "memory", "redis":
	default:
		return errors.Newf("cache.backend must be \"memory\" or \"redis\", got %q", c.Cache.Backend)
	}
	return nil
}
