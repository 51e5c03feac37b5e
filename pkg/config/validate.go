package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}

	switch c.Runtime.Backend {
	case "docker", "kubernetes":
		// valid
	default:
		errs = append(errs, fmt.Errorf("runtime.backend must be \"docker\" or \"kubernetes\", got %q", c.Runtime.Backend))
	}

	if c.Runtime.Backend == "kubernetes" && c.Runtime.Kubernetes.SandboxTemplate == "" {
		errs = append(errs, fmt.Errorf("runtime.kubernetes.sandbox_template is required when runtime.backend is \"kubernetes\""))
	}

	switch c.Storage.Type {
	case "file", "postgres":
		// valid
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"file\" or \"postgres\", got %q", c.Storage.Type))
	}

	if c.Storage.Type == "postgres" {
		if c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
		}
	}

	if c.Storage.Type == "file" && c.Storage.FilePath == "" {
		errs = append(errs, fmt.Errorf("storage.file_path is required when storage.type is \"file\""))
	}

	switch c.Auth.Type {
	case "none", "apikey", "jwt":
		// valid
	default:
		errs = append(errs, fmt.Errorf("auth.type must be \"none\", \"apikey\", or \"jwt\", got %q", c.Auth.Type))
	}

	if c.RateLimit.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("rate_limit.capacity must be > 0, got %d", c.RateLimit.Capacity))
	}
	if c.RateLimit.RefillPerMin <= 0 {
		errs = append(errs, fmt.Errorf("rate_limit.refill_per_min must be > 0, got %v", c.RateLimit.RefillPerMin))
	}

	switch c.Security.ScreenerBlockThreshold {
	case "safe", "low", "medium", "high", "critical":
		// valid
	default:
		errs = append(errs, fmt.Errorf("security.screener_block_threshold must be a valid risk level, got %q", c.Security.ScreenerBlockThreshold))
	}

	if c.Session.AsyncWorkerCount <= 0 {
		errs = append(errs, fmt.Errorf("session.async_worker_count must be > 0, got %d", c.Session.AsyncWorkerCount))
	}
	if c.Session.AsyncQueueDepth <= 0 {
		errs = append(errs, fmt.Errorf("session.async_queue_depth must be > 0, got %d", c.Session.AsyncQueueDepth))
	}

	return errors.Join(errs...)
}
