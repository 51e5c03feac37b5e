// Package config provides unified configuration for the cagekeep
// execution broker.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (CAGEKEEP_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Config holds all configuration for the broker.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Runtime       RuntimeConfig       `yaml:"runtime"`
	DefaultLimits LimitsConfig        `yaml:"default_limits"`
	Security      SecurityConfig      `yaml:"security"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Replay        ReplayConfig        `yaml:"replay"`
	Sampler       SamplerConfig       `yaml:"sampler"`
	Session       SessionConfig       `yaml:"session"`
	Storage       StorageConfig       `yaml:"storage"`
	Auth          AuthConfig          `yaml:"auth"`
	MCP           MCPConfig           `yaml:"mcp"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`          // default: 8080
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"` // default: 120s
}

// RuntimeConfig selects and configures the Runtime Driver backend.
type RuntimeConfig struct {
	Backend        string            `yaml:"backend"`         // "docker" or "kubernetes", default: "docker"
	Images         map[string]string `yaml:"images"`          // language -> image override
	SeccompProfile string            `yaml:"seccomp_profile"` // path to JSON seccomp profile
	Kubernetes     KubernetesConfig  `yaml:"kubernetes"`
}

// KubernetesConfig holds settings for the kubernetes runtime backend.
type KubernetesConfig struct {
	Namespace       string        `yaml:"namespace"`
	SandboxTemplate string        `yaml:"sandbox_template"`
	ClaimTimeout    time.Duration `yaml:"claim_timeout"` // default: 60s
	Kubeconfig      string        `yaml:"kubeconfig"`    // empty uses in-cluster config
}

// LimitsConfig holds the default ResourceLimits applied to new sessions
// absent a principal-specific override.
type LimitsConfig struct {
	MemoryMB     int           `yaml:"memory_mb"`     // default: 512
	CPUCores     float64       `yaml:"cpu_cores"`     // default: 1.0
	PIDs         int           `yaml:"pids"`          // default: 64
	DiskMB       int           `yaml:"disk_mb"`       // default: 512
	ExecTimeout  time.Duration `yaml:"exec_timeout"`  // default: 30s
	NetworkAllow bool          `yaml:"network_allow"` // default: false
}

// SecurityConfig holds screener and sandbox hardening settings.
type SecurityConfig struct {
	ScreenerBlockThreshold string `yaml:"screener_block_threshold"` // RiskLevel name, default: "high"
	ReadOnlyRootfs         bool   `yaml:"read_only_rootfs"`         // default: true
	DropAllCapabilities    bool   `yaml:"drop_all_capabilities"`    // default: true
}

// RateLimitConfig holds the per-principal token bucket settings.
type RateLimitConfig struct {
	Capacity      int     `yaml:"capacity"`       // default: 60
	RefillPerMin  float64 `yaml:"refill_per_min"`  // default: 60
}

// ReplayConfig holds replay-store retention settings.
type ReplayConfig struct {
	MaxStored   int    `yaml:"max_stored"`   // default: 10000
	StorageDir  string `yaml:"storage_dir"`  // default: "./replays"
}

// SamplerConfig holds Resource Sampler cadence settings.
type SamplerConfig struct {
	Interval     time.Duration `yaml:"interval"`      // default: 5s
	DiskInterval time.Duration `yaml:"disk_interval"` // default: 30s
}

// SessionConfig holds Session Manager idle-reaping settings.
type SessionConfig struct {
	IdleTimeout      time.Duration `yaml:"idle_timeout"`       // default: 15m
	ExecLockWait     time.Duration `yaml:"exec_lock_wait"`     // default: 5s
	ReapInterval     time.Duration `yaml:"reap_interval"`      // default: 1m
	WorkspaceRoot    string        `yaml:"workspace_root"`     // default: "/var/lib/cagekeep/workspaces"
	AsyncQueueDepth  int           `yaml:"async_queue_depth"`  // default: 256
	AsyncWorkerCount int           `yaml:"async_worker_count"` // default: 8
}

// StorageConfig holds principal-profile persistence settings.
type StorageConfig struct {
	Type     string         `yaml:"type"` // "file" or "postgres", default: "file"
	FilePath string         `yaml:"file_path"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 25
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: false
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	Type    string         `yaml:"type"`     // "none", "apikey", "jwt", default: "none"
	APIKeys []APIKeyConfig `yaml:"api_keys"` // API key entries for type=apikey
	JWT     JWTConfig      `yaml:"jwt"`      // JWT/OIDC settings for type=jwt
}

// JWTConfig holds JWT/OIDC authenticator settings for auth.type=jwt.
type JWTConfig struct {
	Issuer      string        `yaml:"issuer"`
	Audience    string        `yaml:"audience"`
	JWKSURL     string        `yaml:"jwks_url"`
	UserClaim   string        `yaml:"user_claim"`   // default: "sub"
	TenantClaim string        `yaml:"tenant_claim"` // default: "tenant_id"
	ScopesClaim string        `yaml:"scopes_claim"` // default: "scope"
	CacheTTL    time.Duration `yaml:"cache_ttl"`    // default: 1h
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key         string `yaml:"key"`
	KeyFile     string `yaml:"key_file"` // _file variant for key
	Subject     string `yaml:"subject"`
	TenantID    string `yaml:"tenant_id"`
	ServiceTier string `yaml:"service_tier"`
}

// MCPConfig holds MCP (Model Context Protocol) server surface settings.
type MCPConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/mcp"
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
		},
		Runtime: RuntimeConfig{
			Backend: "docker",
			Kubernetes: KubernetesConfig{
				ClaimTimeout: 60 * time.Second,
			},
		},
		DefaultLimits: LimitsConfig{
			MemoryMB:    512,
			CPUCores:    1.0,
			PIDs:        64,
			DiskMB:      512,
			ExecTimeout: 30 * time.Second,
		},
		Security: SecurityConfig{
			ScreenerBlockThreshold: "high",
			ReadOnlyRootfs:         true,
			DropAllCapabilities:    true,
		},
		RateLimit: RateLimitConfig{
			Capacity:     60,
			RefillPerMin: 60,
		},
		Replay: ReplayConfig{
			MaxStored:  10000,
			StorageDir: "./replays",
		},
		Sampler: SamplerConfig{
			Interval:     5 * time.Second,
			DiskInterval: 30 * time.Second,
		},
		Session: SessionConfig{
			IdleTimeout:      15 * time.Minute,
			ExecLockWait:     5 * time.Second,
			ReapInterval:     time.Minute,
			WorkspaceRoot:    "/var/lib/cagekeep/workspaces",
			AsyncQueueDepth:  256,
			AsyncWorkerCount: 8,
		},
		Storage: StorageConfig{
			Type:     "file",
			FilePath: "./users.json",
			Postgres: PostgresConfig{
				MaxConns: 25,
			},
		},
		Auth: AuthConfig{
			Type: "none",
		},
		MCP: MCPConfig{
			Enabled: true,
			Path:    "/mcp",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}
