package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Command:        "claude",
			WorkDir:        "~/projects",
			PermissionMode: "interactive",
		},
		Sessions: SessionsConfig{
			MaxSessions:  10,
			IdleWarnMin:  50,
			IdleKillMin:  60,
			FlushDelayMs: 800,
		},
		Storage: StorageConfig{
			Backend: "file",
			Dir:     "~/.threadclaw/sessions",
		},
		Worktree: WorktreeConfig{
			Root: "~/.threadclaw/worktrees",
		},
		Upgrade: UpgradeConfig{
			RepoSlug:      "nextlevelbuilder/threadclaw",
			CheckInterval: "6h",
		},
		LogLevel: "info",
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults plus env is a valid setup.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("THREADCLAW_MATTERMOST_URL", &c.Platforms.Mattermost.ServerURL)
	envStr("THREADCLAW_MATTERMOST_TOKEN", &c.Platforms.Mattermost.Token)
	envStr("THREADCLAW_MATTERMOST_TEAM", &c.Platforms.Mattermost.TeamName)
	envStr("THREADCLAW_SLACK_BOT_TOKEN", &c.Platforms.Slack.BotToken)
	envStr("THREADCLAW_SLACK_APP_TOKEN", &c.Platforms.Slack.AppToken)

	// Auto-enable platforms if credentials are provided via env.
	if c.Platforms.Mattermost.Token != "" && c.Platforms.Mattermost.ServerURL != "" {
		c.Platforms.Mattermost.Enabled = true
	}
	if c.Platforms.Slack.BotToken != "" && c.Platforms.Slack.AppToken != "" {
		c.Platforms.Slack.Enabled = true
	}

	if v := os.Getenv("THREADCLAW_MATTERMOST_ALLOWED_USERS"); v != "" {
		c.Platforms.Mattermost.AllowedUsers = splitList(v)
	}
	if v := os.Getenv("THREADCLAW_SLACK_ALLOWED_USERS"); v != "" {
		c.Platforms.Slack.AllowedUsers = splitList(v)
	}

	envStr("THREADCLAW_AGENT_COMMAND", &c.Agent.Command)
	envStr("THREADCLAW_AGENT_WORKDIR", &c.Agent.WorkDir)
	envStr("THREADCLAW_PERMISSION_MODE", &c.Agent.PermissionMode)

	envStr("THREADCLAW_STORAGE_BACKEND", &c.Storage.Backend)
	envStr("THREADCLAW_STORAGE_DIR", &c.Storage.Dir)
	envStr("THREADCLAW_SQLITE_PATH", &c.Storage.SQLitePath)
	envStr("THREADCLAW_POSTGRES_DSN", &c.Storage.PostgresDSN)

	if v := os.Getenv("THREADCLAW_MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Sessions.MaxSessions = n
		}
	}

	envStr("THREADCLAW_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("THREADCLAW_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("THREADCLAW_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("THREADCLAW_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("THREADCLAW_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}

	envStr("THREADCLAW_LOG_LEVEL", &c.LogLevel)
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Save writes the config to a JSON file. Secret fields carry `json:"-"`
// tags, so they never reach disk.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// AgentWorkDir returns the expanded default working directory.
func (c *Config) AgentWorkDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Agent.WorkDir)
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
