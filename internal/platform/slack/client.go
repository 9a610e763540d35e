// Package slack implements the platform interface against Slack: Web
// API for posts, Socket Mode for realtime events. Post ids are encoded
// as "channel|ts" because Slack addresses messages by that pair.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/threadclaw/internal/platform"
)

// chat.postMessage rejects bodies over 40k characters but renders
// poorly above ~4k; the pipeline splits well before the hard wall.
const (
	hardBytes  = 3800
	heightSoft = 2000

	apiRetries   = 3
	retryBackoff = 500 * time.Millisecond
)

// Config holds Slack credentials and policy.
type Config struct {
	BotToken     string // xoxb-
	AppToken     string // xapp-, Socket Mode
	AllowedUsers []string
	Debug        bool
}

// Client is the Slack platform client.
type Client struct {
	api       *slack.Client
	socket    *socketmode.Client
	limiter   *rate.Limiter
	botUserID string

	mu      sync.RWMutex
	allowed map[string]bool
	threads map[string]string // thread ts -> channel (seeded from events)
	users   map[string]string
}

// New authenticates and returns the client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	api := slack.New(cfg.BotToken,
		slack.OptionAppLevelToken(cfg.AppToken),
		slack.OptionDebug(cfg.Debug),
	)
	auth, err := api.AuthTestContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("slack: auth test: %w", err)
	}

	c := &Client{
		api:       api,
		socket:    socketmode.New(api),
		limiter:   rate.NewLimiter(rate.Limit(1), 3), // chat.postMessage tier
		botUserID: auth.UserID,
		allowed:   make(map[string]bool),
		threads:   make(map[string]string),
		users:     make(map[string]string),
	}
	c.SetAllowedUsers(cfg.AllowedUsers)
	slog.Info("slack connected", "bot", auth.User, "team", auth.Team)
	return c, nil
}

// SetAllowedUsers replaces the globally-allowed username set.
func (c *Client) SetAllowedUsers(usernames []string) {
	m := make(map[string]bool, len(usernames))
	for _, u := range usernames {
		m[strings.TrimPrefix(u, "@")] = true
	}
	c.mu.Lock()
	c.allowed = m
	c.mu.Unlock()
}

func (c *Client) GetFormatter() platform.Formatter { return Formatter{} }

func (c *Client) GetMessageLimits() platform.MessageLimits {
	return platform.MessageLimits{HardBytes: hardBytes, HeightSoft: heightSoft}
}

func (c *Client) GetBotUserID() string { return c.botUserID }

func (c *Client) IsUserAllowed(username string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.allowed[strings.TrimPrefix(username, "@")]
}

func (c *Client) GetUsername(ctx context.Context, userID string) (string, error) {
	c.mu.RLock()
	name, ok := c.users[userID]
	c.mu.RUnlock()
	if ok {
		return name, nil
	}
	user, err := c.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("slack: get user %s: %w", userID, err)
	}
	c.mu.Lock()
	c.users[userID] = user.Name
	c.mu.Unlock()
	return user.Name, nil
}

// encodeID packs a Slack (channel, ts) pair into an opaque post id.
func encodeID(channel, ts string) string { return channel + "|" + ts }

// decodeID unpacks an opaque post id.
func decodeID(id string) (channel, ts string, err error) {
	channel, ts, ok := strings.Cut(id, "|")
	if !ok {
		return "", "", fmt.Errorf("slack: malformed post id %q", id)
	}
	return channel, ts, nil
}

// channelForThread resolves the channel a thread lives in. Thread ids
// here are "channel|ts" like any other post id.
func (c *Client) channelForThread(threadID string) (channel, ts string, err error) {
	return decodeID(threadID)
}

func (c *Client) CreatePost(ctx context.Context, body, threadID string) (*platform.Post, error) {
	channel, rootTS, err := c.channelForThread(threadID)
	if err != nil {
		return nil, err
	}
	var ts string
	err = c.call(ctx, func() error {
		var err error
		_, ts, err = c.api.PostMessageContext(ctx, channel,
			slack.MsgOptionText(body, false),
			slack.MsgOptionTS(rootTS),
		)
		return mapErr(err)
	})
	if err != nil {
		return nil, fmt.Errorf("slack: post message: %w", err)
	}
	return &platform.Post{
		ID:        encodeID(channel, ts),
		ChannelID: channel,
		ThreadID:  threadID,
		AuthorID:  c.botUserID,
		Body:      body,
		CreatedAt: time.Now(),
	}, nil
}

func (c *Client) CreateChannelPost(ctx context.Context, body, channelID string) (*platform.Post, error) {
	var ts string
	err := c.call(ctx, func() error {
		var err error
		_, ts, err = c.api.PostMessageContext(ctx, channelID,
			slack.MsgOptionText(body, false),
		)
		return mapErr(err)
	})
	if err != nil {
		return nil, fmt.Errorf("slack: post channel message: %w", err)
	}
	return &platform.Post{
		ID:        encodeID(channelID, ts),
		ChannelID: channelID,
		AuthorID:  c.botUserID,
		Body:      body,
		CreatedAt: time.Now(),
	}, nil
}

func (c *Client) CreateInteractivePost(ctx context.Context, body, threadID string, reactions []string) (*platform.Post, error) {
	post, err := c.CreatePost(ctx, body, threadID)
	if err != nil {
		return nil, err
	}
	for _, name := range reactions {
		if err := c.AddReaction(ctx, post.ID, name); err != nil {
			slog.Debug("seed reaction failed", "post", post.ID, "emoji", name, "error", err)
		}
	}
	return post, nil
}

func (c *Client) UpdatePost(ctx context.Context, postID, body string) error {
	channel, ts, err := decodeID(postID)
	if err != nil {
		return err
	}
	return c.call(ctx, func() error {
		_, _, _, err := c.api.UpdateMessageContext(ctx, channel, ts, slack.MsgOptionText(body, false))
		return mapErr(err)
	})
}

func (c *Client) DeletePost(ctx context.Context, postID string) error {
	channel, ts, err := decodeID(postID)
	if err != nil {
		return err
	}
	return c.call(ctx, func() error {
		_, _, err := c.api.DeleteMessageContext(ctx, channel, ts)
		return mapErr(err)
	})
}

func (c *Client) PinPost(ctx context.Context, postID string) error {
	channel, ts, err := decodeID(postID)
	if err != nil {
		return err
	}
	return c.call(ctx, func() error {
		return mapErr(c.api.AddPinContext(ctx, channel, slack.ItemRef{Channel: channel, Timestamp: ts}))
	})
}

func (c *Client) UnpinPost(ctx context.Context, postID string) error {
	channel, ts, err := decodeID(postID)
	if err != nil {
		return err
	}
	return c.call(ctx, func() error {
		return mapErr(c.api.RemovePinContext(ctx, channel, slack.ItemRef{Channel: channel, Timestamp: ts}))
	})
}

func (c *Client) AddReaction(ctx context.Context, postID, name string) error {
	channel, ts, err := decodeID(postID)
	if err != nil {
		return err
	}
	return c.call(ctx, func() error {
		return mapErr(c.api.AddReactionContext(ctx, name, slack.NewRefToMessage(channel, ts)))
	})
}

func (c *Client) RemoveReaction(ctx context.Context, postID, name string) error {
	channel, ts, err := decodeID(postID)
	if err != nil {
		return err
	}
	return c.call(ctx, func() error {
		return mapErr(c.api.RemoveReactionContext(ctx, name, slack.NewRefToMessage(channel, ts)))
	})
}

// messageFiles fetches a message's file download URLs over the Web API.
// Returns nil on any failure; a lost attachment is not worth dropping
// the message for.
func (c *Client) messageFiles(ctx context.Context, channel, ts string) []string {
	msgs, _, _, err := c.api.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
		ChannelID: channel,
		Timestamp: ts,
		Limit:     1,
		Inclusive: true,
	})
	if err != nil {
		slog.Debug("slack: fetch message files failed", "channel", channel, "ts", ts, "error", err)
		return nil
	}
	var urls []string
	for _, m := range msgs {
		if m.Timestamp != ts {
			continue
		}
		for _, f := range m.Files {
			if f.URLPrivateDownload != "" {
				urls = append(urls, f.URLPrivateDownload)
			} else if f.URLPrivate != "" {
				urls = append(urls, f.URLPrivate)
			}
		}
	}
	return urls
}

// SendTyping is a no-op: Slack removed typing indicators from non-RTM
// APIs, and Socket Mode has no equivalent.
func (c *Client) SendTyping(ctx context.Context, threadID string) error { return nil }

// call runs one API call under the rate limiter with bounded retry.
func (c *Client) call(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < apiRetries; attempt++ {
		if lerr := c.limiter.Wait(ctx); lerr != nil {
			return lerr
		}
		err = fn()
		if err == nil || err == platform.ErrPostGone || err == platform.ErrPostTooLong {
			return err
		}
		// Honor Slack's explicit backoff hint when rate limited.
		var rl *slack.RateLimitedError
		wait := retryBackoff * time.Duration(attempt+1)
		if errors.As(err, &rl) {
			wait = rl.RetryAfter
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return err
}

// mapErr translates Slack API failures onto platform sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case strings.Contains(err.Error(), "message_not_found"),
		strings.Contains(err.Error(), "channel_not_found"):
		return platform.ErrPostGone
	case strings.Contains(err.Error(), "msg_too_long"):
		return platform.ErrPostTooLong
	}
	return err
}
