// Package store persists session records so sessions survive process
// restarts. Persistence is a reconciliation sink, not a runtime source
// of truth: records are written after meaningful state transitions and
// read only on startup resume.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/nextlevelbuilder/threadclaw/internal/msg"
)

// ErrNotFound is returned when a session record does not exist.
var ErrNotFound = errors.New("store: session not found")

// SessionRecord is the persisted shape of one session. The pipeline
// treats it as opaque; only the invariants matter (one record per
// composite session id, pending prompts round-trip intact).
type SessionRecord struct {
	SessionID      string `json:"session_id"` // platformId:threadId
	PlatformID     string `json:"platform_id"`
	ThreadID       string `json:"thread_id"`
	ChannelID      string `json:"channel_id,omitempty"`
	AgentSessionID string `json:"agent_session_id,omitempty"`

	WorkDir        string   `json:"work_dir"`
	Owner          string   `json:"owner"`
	AllowedUsers   []string `json:"allowed_users,omitempty"`
	PermissionMode string   `json:"permission_mode,omitempty"`
	FirstPrompt    string   `json:"first_prompt,omitempty"`
	WorktreeBranch string   `json:"worktree_branch,omitempty"`

	StartPostID   string `json:"start_post_id,omitempty"`
	TaskPostID    string `json:"task_post_id,omitempty"`
	TaskLastBody  string `json:"task_last_body,omitempty"`
	TaskCompleted bool   `json:"task_completed,omitempty"`
	TaskMinimized bool   `json:"task_minimized,omitempty"`

	PendingQuestions *msg.QuestionState       `json:"pending_questions,omitempty"`
	PendingApproval  *msg.ApprovalState       `json:"pending_approval,omitempty"`
	PendingWorktree  *msg.WorktreePromptState `json:"pending_worktree,omitempty"`

	Lifecycle       string   `json:"lifecycle"`
	ResumeFailCount int      `json:"resume_fail_count,omitempty"`
	MessageCount    int      `json:"message_count,omitempty"`
	RecentEvents    []string `json:"recent_events,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionStore persists session records keyed by composite session id.
type SessionStore interface {
	Save(ctx context.Context, rec *SessionRecord) error
	Get(ctx context.Context, sessionID string) (*SessionRecord, error)
	List(ctx context.Context) ([]*SessionRecord, error)
	Delete(ctx context.Context, sessionID string) error
	Close() error
}

// Config selects and configures a storage backend.
type Config struct {
	Backend     string // "file" (default), "sqlite", "postgres"
	Dir         string // file backend: directory of JSON records
	SQLitePath  string
	PostgresDSN string
}
