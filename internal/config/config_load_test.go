package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Agent.Command != "claude" {
		t.Errorf("Agent.Command = %q", cfg.Agent.Command)
	}
	if cfg.Agent.PermissionMode != "interactive" {
		t.Errorf("PermissionMode = %q", cfg.Agent.PermissionMode)
	}
	if cfg.Sessions.MaxSessions != 10 || cfg.Sessions.IdleKillMin != 60 {
		t.Errorf("Sessions = %+v", cfg.Sessions)
	}
	if cfg.Storage.Backend != "file" {
		t.Errorf("Storage.Backend = %q", cfg.Storage.Backend)
	}
	if cfg.Platforms.Mattermost.Enabled || cfg.Platforms.Slack.Enabled {
		t.Error("no platform should be enabled without credentials")
	}
}

func TestLoadJSON5File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		// comments are fine
		agent: { command: "my-agent", permission_mode: "auto" },
		sessions: { max_sessions: 3 },
		log_level: "debug",
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Agent.Command != "my-agent" || cfg.Agent.PermissionMode != "auto" {
		t.Errorf("Agent = %+v", cfg.Agent)
	}
	if cfg.Sessions.MaxSessions != 3 {
		t.Errorf("MaxSessions = %d", cfg.Sessions.MaxSessions)
	}
	// Unset file fields keep their defaults.
	if cfg.Sessions.IdleWarnMin != 50 {
		t.Errorf("IdleWarnMin = %d", cfg.Sessions.IdleWarnMin)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadBadFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{{{"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestEnvOverridesAndAutoEnable(t *testing.T) {
	t.Setenv("THREADCLAW_MATTERMOST_URL", "https://mm.example.com")
	t.Setenv("THREADCLAW_MATTERMOST_TOKEN", "secret-token")
	t.Setenv("THREADCLAW_MATTERMOST_ALLOWED_USERS", "alice, bob,,carol")
	t.Setenv("THREADCLAW_AGENT_COMMAND", "claude-next")
	t.Setenv("THREADCLAW_MAX_SESSIONS", "5")
	t.Setenv("THREADCLAW_STORAGE_BACKEND", "sqlite")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatal(err)
	}
	mm := cfg.Platforms.Mattermost
	if !mm.Enabled {
		t.Error("mattermost should auto-enable when url and token are set")
	}
	if mm.ServerURL != "https://mm.example.com" || mm.Token != "secret-token" {
		t.Errorf("Mattermost = %+v", mm)
	}
	if len(mm.AllowedUsers) != 3 || mm.AllowedUsers[1] != "bob" {
		t.Errorf("AllowedUsers = %v", mm.AllowedUsers)
	}
	if cfg.Agent.Command != "claude-next" {
		t.Errorf("Agent.Command = %q", cfg.Agent.Command)
	}
	if cfg.Sessions.MaxSessions != 5 {
		t.Errorf("MaxSessions = %d", cfg.Sessions.MaxSessions)
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("Storage.Backend = %q", cfg.Storage.Backend)
	}
}

func TestEnvInvalidMaxSessionsIgnored(t *testing.T) {
	t.Setenv("THREADCLAW_MAX_SESSIONS", "zero")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Sessions.MaxSessions != 10 {
		t.Errorf("MaxSessions = %d, want default kept", cfg.Sessions.MaxSessions)
	}
}

func TestSaveExcludesSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "config.json")
	cfg := Default()
	cfg.Platforms.Mattermost.Token = "super-secret"
	cfg.Platforms.Slack.BotToken = "xoxb-secret"

	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, secret := range []string{"super-secret", "xoxb-secret"} {
		if strings.Contains(string(data), secret) {
			t.Errorf("saved config leaked %q", secret)
		}
	}
	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0o600 {
		t.Errorf("config mode = %o, want 0600", info.Mode().Perm())
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	if got := ExpandHome("~/projects"); got != home+"/projects" {
		t.Errorf("ExpandHome(~/projects) = %q", got)
	}
	if got := ExpandHome("~"); got != home {
		t.Errorf("ExpandHome(~) = %q", got)
	}
	if got := ExpandHome("/abs/path"); got != "/abs/path" {
		t.Errorf("ExpandHome(/abs/path) = %q", got)
	}
}
