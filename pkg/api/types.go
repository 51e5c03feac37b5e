package api

import "time"

// ---------------------------------------------------------------------------
// Language
// ---------------------------------------------------------------------------

// Language identifies the interpreter/compiler a sandbox runs code with.
type Language string

const (
	LanguagePython     Language = "python"
	LanguageJavaScript Language = "javascript"
	LanguageTypeScript Language = "typescript"
	LanguageBash       Language = "bash"
	LanguageGo         Language = "go"
	LanguageRuby       Language = "ruby"
	LanguageR          Language = "r"
	LanguageJulia      Language = "julia"
)

// LauncherSpec describes how a Language is invoked inside a sandbox:
// its interpreter argv, source file extension, and whether it supports
// persistent (kernel-backed) execution.
type LauncherSpec struct {
	Argv          []string
	FileExtension string
	Image         string
	Persistent    bool
}

var launcherSpecs = map[Language]LauncherSpec{
	LanguagePython:     {Argv: []string{"python3", "-u"}, FileExtension: ".py", Image: "cagekeep-sandbox:latest", Persistent: true},
	LanguageJavaScript: {Argv: []string{"node"}, FileExtension: ".js", Image: "cagekeep-sandbox:latest"},
	LanguageTypeScript: {Argv: []string{"deno", "run", "--allow-read=/mnt/data", "--allow-write=/mnt/data"}, FileExtension: ".ts", Image: "cagekeep-sandbox-ts:latest"},
	LanguageBash:       {Argv: []string{"bash"}, FileExtension: ".sh", Image: "cagekeep-sandbox:latest"},
	LanguageGo:         {Argv: []string{"go", "run"}, FileExtension: ".go", Image: "cagekeep-sandbox-go:latest"},
	LanguageRuby:       {Argv: []string{"ruby"}, FileExtension: ".rb", Image: "cagekeep-sandbox-ruby:latest"},
	LanguageR:          {Argv: []string{"Rscript", "--vanilla"}, FileExtension: ".R", Image: "cagekeep-sandbox-r:latest"},
	LanguageJulia:      {Argv: []string{"julia"}, FileExtension: ".jl", Image: "cagekeep-sandbox-julia:latest"},
}

// Launcher returns the LauncherSpec for a language, and whether it is known.
func Launcher(lang Language) (LauncherSpec, bool) {
	spec, ok := launcherSpecs[lang]
	return spec, ok
}

// SupportsPersistent reports whether a language can back a persistent kernel.
func SupportsPersistent(lang Language) bool {
	spec, ok := launcherSpecs[lang]
	return ok && spec.Persistent
}

// ---------------------------------------------------------------------------
// Principal
// ---------------------------------------------------------------------------

// Principal identifies the caller on whose behalf code is executed.
type Principal struct {
	ID          string   `json:"id"`
	ServiceTier string   `json:"service_tier"`
	Scopes      []string `json:"scopes,omitempty"`
}

// ResourceLimits bounds what a sandbox may consume.
type ResourceLimits struct {
	MemoryMB     int           `json:"memory_mb"`
	CPUCores     float64       `json:"cpu_cores"`
	PIDs         int           `json:"pids"`
	DiskMB       int           `json:"disk_mb"`
	ExecTimeout  time.Duration `json:"exec_timeout"`
	NetworkAllow bool          `json:"network_allow"`
}

// PrincipalProfile is the persisted record backing a Principal: its
// enablement flag, language allow-list, and any limit overrides.
type PrincipalProfile struct {
	PrincipalID       string          `json:"principal_id"`
	Enabled           bool            `json:"enabled"`
	LanguageAllowlist []string        `json:"language_allowlist,omitempty"`
	LimitOverrides    *ResourceLimits `json:"limit_overrides,omitempty"`
	ServiceTier       string          `json:"service_tier"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// LanguageAllowed reports whether lang is permitted for this profile.
// An empty allow-list permits every known language.
func (p *PrincipalProfile) LanguageAllowed(lang Language) bool {
	if len(p.LanguageAllowlist) == 0 {
		return true
	}
	for _, l := range p.LanguageAllowlist {
		if Language(l) == lang {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Session
// ---------------------------------------------------------------------------

// SessionState is the lifecycle state of a Session.
type SessionState string

const (
	SessionStateActive      SessionState = "active"
	SessionStateIdle        SessionState = "idle"
	SessionStateTerminating SessionState = "terminating"
	SessionStateTerminated  SessionState = "terminated"
)

// KernelHandle identifies a running persistent interpreter state for one
// language within a Session.
type KernelHandle struct {
	Language   Language  `json:"language"`
	StatePath  string    `json:"state_path"`
	StartedAt  time.Time `json:"started_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	Executions int       `json:"executions"`
}

// Session tracks one Principal's sandbox: its container identity,
// workspace, persistent kernels, and activity counters. The exec lock
// itself is not part of the serializable view (see pkg/session.Session).
type Session struct {
	ID                string                     `json:"id"`
	PrincipalID       string                     `json:"principal_id"`
	State             SessionState               `json:"state"`
	SandboxID         string                     `json:"sandbox_id"`
	WorkspacePath     string                     `json:"workspace_path"`
	CreatedAt         time.Time                  `json:"created_at"`
	LastActivity      time.Time                  `json:"last_activity"`
	ExecutionCount    int                        `json:"execution_count"`
	ErrorCount        int                        `json:"error_count"`
	PersistentKernels map[Language]*KernelHandle `json:"persistent_kernels,omitempty"`
}

// ---------------------------------------------------------------------------
// Execution
// ---------------------------------------------------------------------------

// ExecutionRequest is what a caller submits for one code execution.
type ExecutionRequest struct {
	Language       Language          `json:"language"`
	Code           string            `json:"code"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
	WorkingDir     string            `json:"working_dir,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	Files          map[string]string `json:"files,omitempty"` // name -> base64 content
	Persistent     bool              `json:"persistent,omitempty"`
	Async          bool              `json:"async,omitempty"`
}

// ExecutionStatus is the terminal outcome of one execution attempt.
type ExecutionStatus string

const (
	ExecutionStatusSuccess     ExecutionStatus = "success"
	ExecutionStatusError       ExecutionStatus = "error"
	ExecutionStatusTimeout     ExecutionStatus = "timeout"
	ExecutionStatusKilled      ExecutionStatus = "killed"
	ExecutionStatusRejected    ExecutionStatus = "rejected"
	ExecutionStatusBusy        ExecutionStatus = "busy"
	ExecutionStatusQueueFull   ExecutionStatus = "queue_full"
	ExecutionStatusRateLimited ExecutionStatus = "rate_limited"
)

// ResourceUsage is a point-in-time or peak sample of sandbox consumption.
type ResourceUsage struct {
	MemoryMB   float64   `json:"memory_mb"`
	CPUPercent float64   `json:"cpu_percent"`
	DiskMB     float64   `json:"disk_mb"`
	PIDs       int       `json:"pids"`
	SampledAt  time.Time `json:"sampled_at"`
}

// ExecutionResult is the outcome of one execution request.
type ExecutionResult struct {
	ExecutionID   string            `json:"execution_id"`
	Status        ExecutionStatus   `json:"status"`
	Stdout        string            `json:"stdout"`
	Stderr        string            `json:"stderr"`
	ExitCode      int               `json:"exit_code"`
	DurationMs    int64             `json:"duration_ms"`
	FilesCreated  map[string]string `json:"files_created,omitempty"`
	ResourceUsage *ResourceUsage    `json:"resource_usage,omitempty"`
	RejectReason  string            `json:"reject_reason,omitempty"`
}

// ---------------------------------------------------------------------------
// Jobs (async execution)
// ---------------------------------------------------------------------------

// JobState is the lifecycle state of an asynchronously dispatched execution.
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateCancelled JobState = "cancelled"
)

// Job tracks one asynchronous execution from submission to completion.
type Job struct {
	ID          string           `json:"id"`
	PrincipalID string           `json:"principal_id"`
	Request     ExecutionRequest `json:"request"`
	State       JobState         `json:"state"`
	Result      *ExecutionResult `json:"result,omitempty"`
	QueuedAt    time.Time        `json:"queued_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// ---------------------------------------------------------------------------
// Replay
// ---------------------------------------------------------------------------

// ReplayRecord stores a past execution request/result pair for audit and
// re-submission.
type ReplayRecord struct {
	ExecutionID string           `json:"execution_id"`
	PrincipalID string           `json:"principal_id"`
	Timestamp   time.Time        `json:"timestamp"`
	Request     ExecutionRequest `json:"request"`
	Result      ExecutionResult  `json:"result"`
	CodeHash    string           `json:"code_hash"`
}

// ---------------------------------------------------------------------------
// Audit
// ---------------------------------------------------------------------------

// AuditCategory classifies an AuditRecord for downstream filtering.
type AuditCategory string

const (
	AuditCategoryExecution AuditCategory = "execution"
	AuditCategorySecurity  AuditCategory = "security"
	AuditCategoryAdmin     AuditCategory = "admin"
)

// AuditRecord is one entry in the broker's audit trail.
type AuditRecord struct {
	ExecutionID string        `json:"execution_id,omitempty"`
	PrincipalID string        `json:"principal_id"`
	Timestamp   time.Time     `json:"timestamp"`
	Category    AuditCategory `json:"category"`
	Outcome     string        `json:"outcome"`
	Detail      string        `json:"detail,omitempty"`
}

// ---------------------------------------------------------------------------
// Screener
// ---------------------------------------------------------------------------

// RiskLevel ranks how dangerous a screened code sample appears.
type RiskLevel string

const (
	RiskLevelSafe     RiskLevel = "safe"
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// ScreenWarning is one pattern match surfaced by the Code Screener.
type ScreenWarning struct {
	Category string    `json:"category"`
	Message  string    `json:"message"`
	Severity RiskLevel `json:"severity"`
	Line     int       `json:"line,omitempty"`
}

// ScreenResult is the outcome of a Code Screener pass over one submission.
type ScreenResult struct {
	RiskLevel RiskLevel       `json:"risk_level"`
	Warnings  []ScreenWarning `json:"warnings,omitempty"`
	Blocked   bool            `json:"blocked"`
}

// ---------------------------------------------------------------------------
// Workspace files
// ---------------------------------------------------------------------------

// WorkspaceFile describes one file in a session's workspace.
type WorkspaceFile struct {
	Path       string    `json:"path"`
	SizeBytes  int64     `json:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at"`
	IsDir      bool      `json:"is_dir"`
}

// ---------------------------------------------------------------------------
// Package installation
// ---------------------------------------------------------------------------

// PackageInstallResult is the outcome of a controlled install_package call,
// dispatched through the same sandbox as any other execution.
type PackageInstallResult struct {
	Package    string   `json:"package"`
	Language   Language `json:"language"`
	Stdout     string   `json:"stdout"`
	Stderr     string   `json:"stderr"`
	ExitCode   int      `json:"exit_code"`
	DurationMs int64    `json:"duration_ms"`
}

// ---------------------------------------------------------------------------
// Broker-wide stats
// ---------------------------------------------------------------------------

// BrokerStats is a point-in-time aggregate view of the broker's load,
// served from the admin/stats endpoint.
type BrokerStats struct {
	ActiveSessions   int `json:"active_sessions"`
	TotalExecutions  int `json:"total_executions"`
	TotalErrors      int `json:"total_errors"`
	QueuedJobs       int `json:"queued_jobs"`
	RegisteredUsers  int `json:"registered_users"`
}
