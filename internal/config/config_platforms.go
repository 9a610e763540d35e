package config

// PlatformsConfig contains per-platform configuration.
type PlatformsConfig struct {
	Mattermost MattermostConfig `json:"mattermost"`
	Slack      SlackConfig      `json:"slack"`
}

type MattermostConfig struct {
	Enabled   bool   `json:"enabled"`
	ServerURL string `json:"server_url"`
	Token     string `json:"-"` // env THREADCLAW_MATTERMOST_TOKEN only
	TeamName  string `json:"team_name,omitempty"`
	// AllowedUsers may start and command sessions in addition to each
	// session's owner and invitees.
	AllowedUsers []string `json:"allowed_users"`
}

type SlackConfig struct {
	Enabled      bool     `json:"enabled"`
	BotToken     string   `json:"-"` // env THREADCLAW_SLACK_BOT_TOKEN only
	AppToken     string   `json:"-"` // env THREADCLAW_SLACK_APP_TOKEN only
	AllowedUsers []string `json:"allowed_users"`
	Debug        bool     `json:"debug,omitempty"`
}
