// Package config holds the bridge configuration: a JSON5 file overlaid
// with THREADCLAW_* environment variables. Secrets are env-only and
// never persisted back to disk.
package config

import (
	"sync"
	"time"
)

// Config is the root configuration.
type Config struct {
	Agent       AgentConfig       `json:"agent"`
	Platforms   PlatformsConfig   `json:"platforms"`
	Sessions    SessionsConfig    `json:"sessions"`
	Storage     StorageConfig     `json:"storage"`
	Worktree    WorktreeConfig    `json:"worktree,omitempty"`
	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`
	Telemetry   TelemetryConfig   `json:"telemetry,omitempty"`
	Upgrade     UpgradeConfig     `json:"upgrade,omitempty"`
	LogLevel    string            `json:"log_level,omitempty"` // debug, info, warn, error

	mu sync.RWMutex
}

// AgentConfig describes the coding agent subprocess.
type AgentConfig struct {
	// Command is the agent CLI binary, resolved via PATH.
	Command   string   `json:"command"`
	ExtraArgs []string `json:"extra_args,omitempty"`
	// WorkDir is the default working directory for new sessions.
	WorkDir string `json:"work_dir"`
	// PermissionMode is "interactive" (approvals via reactions) or
	// "auto" (agent-side permission checks disabled).
	PermissionMode string `json:"permission_mode,omitempty"`
	// Detailed includes full tool inputs in rendered output.
	Detailed bool `json:"detailed,omitempty"`
}

// SessionsConfig bounds concurrent sessions and idle behavior.
type SessionsConfig struct {
	MaxSessions  int `json:"max_sessions"`
	IdleWarnMin  int `json:"idle_warn_minutes"`
	IdleKillMin  int `json:"idle_kill_minutes"`
	FlushDelayMs int `json:"flush_delay_ms,omitempty"`
}

// StorageConfig selects the session store backend.
type StorageConfig struct {
	Backend     string `json:"backend,omitempty"` // "file" (default), "sqlite", "postgres"
	Dir         string `json:"dir,omitempty"`
	SQLitePath  string `json:"sqlite_path,omitempty"`
	PostgresDSN string `json:"-"` // env THREADCLAW_POSTGRES_DSN only
}

// WorktreeConfig controls git worktree isolation for sessions.
type WorktreeConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Root    string `json:"root,omitempty"` // where worktree checkouts live
}

// MaintenanceConfig schedules periodic cleanup (stale records, orphan
// worktrees) with a cron expression.
type MaintenanceConfig struct {
	Schedule string `json:"schedule,omitempty"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	Protocol    string `json:"protocol,omitempty"` // "grpc" (default) or "http"
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// UpgradeConfig controls the background release check that feeds
// in-thread update prompts.
type UpgradeConfig struct {
	Disabled      bool   `json:"disabled,omitempty"`
	RepoSlug      string `json:"repo_slug,omitempty"` // owner/name on GitHub
	CheckInterval string `json:"check_interval,omitempty"`
}

// CheckIntervalDuration parses the interval with a 6h default.
func (u UpgradeConfig) CheckIntervalDuration() time.Duration {
	if d, err := time.ParseDuration(u.CheckInterval); err == nil && d > 0 {
		return d
	}
	return 6 * time.Hour
}
