// Package platform defines the chat-platform abstraction consumed by the
// session pipeline. Concrete implementations live in the mattermost and
// slack subpackages; everything above this interface is platform-agnostic.
package platform

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors the executors react to. Platform implementations must
// map their SDK errors onto these where the condition applies.
var (
	// ErrPostGone means the post was deleted out from under us.
	ErrPostGone = errors.New("platform: post no longer exists")
	// ErrPostTooLong means the body exceeds the platform's hard limit.
	ErrPostTooLong = errors.New("platform: post body too long")
)

// Post is a message on the chat platform. IDs are opaque strings.
type Post struct {
	ID        string
	ChannelID string
	ThreadID  string // root post id of the thread; empty for channel-level posts
	AuthorID  string
	Body      string
	CreatedAt time.Time
}

// MessageLimits reports platform body-size constraints. HardBytes is the
// platform's rejection threshold; HeightSoft is the rendered-height budget
// (pixels) after which the pipeline prefers starting a new post.
type MessageLimits struct {
	HardBytes  int
	HeightSoft int
}

// Formatter renders markdown primitives in the platform's dialect.
// Callers never concatenate platform-specific syntax directly.
type Formatter interface {
	Bold(s string) string
	Italic(s string) string
	Strike(s string) string
	InlineCode(s string) string
	CodeBlock(lang, body string) string
	Link(text, url string) string
	Mention(userID string) string
	HorizontalRule() string
	Blockquote(s string) string
	Bullet(s string) string
	Numbered(i int, s string) string
	Heading(level int, s string) string
	Table(headers []string, rows [][]string) string
	KeyValue(pairs [][2]string) string
	Escape(s string) string
}

// Client is the platform surface the executors call. Every method is a
// suspension point; implementations handle transient retry internally.
type Client interface {
	CreatePost(ctx context.Context, body, threadID string) (*Post, error)
	// CreateChannelPost posts at channel level, outside any thread. Used
	// for the sessions overview.
	CreateChannelPost(ctx context.Context, body, channelID string) (*Post, error)
	// CreateInteractivePost creates a post and seeds it with the given
	// reactions so users can answer by tapping.
	CreateInteractivePost(ctx context.Context, body, threadID string, reactions []string) (*Post, error)
	UpdatePost(ctx context.Context, postID, body string) error
	DeletePost(ctx context.Context, postID string) error
	PinPost(ctx context.Context, postID string) error
	UnpinPost(ctx context.Context, postID string) error
	AddReaction(ctx context.Context, postID, name string) error
	RemoveReaction(ctx context.Context, postID, name string) error
	SendTyping(ctx context.Context, threadID string) error

	GetFormatter() Formatter
	GetMessageLimits() MessageLimits
	GetBotUserID() string
	GetUsername(ctx context.Context, userID string) (string, error)
	IsUserAllowed(username string) bool
}

// MessageEvent is an inbound user message or edit.
type MessageEvent struct {
	PostID    string
	ChannelID string
	ThreadID  string // root id; equals PostID when the message starts a thread
	UserID    string
	Body      string
	Files     []string
	Edited    bool
}

// ReactionEvent is a reaction added to or removed from a post.
type ReactionEvent struct {
	PostID  string
	UserID  string
	Emoji   string // platform emoji name, without colons
	Removed bool
}

// EventHandler receives platform events. Implementations of Listen must
// deliver events for one thread in arrival order.
type EventHandler interface {
	OnMessage(ev MessageEvent)
	OnReaction(ev ReactionEvent)
}

// Listener is the realtime event source (websocket or socket mode).
type Listener interface {
	Listen(ctx context.Context, h EventHandler) error
}
