// Package mattermost implements the platform interface against a
// Mattermost server: REST via the official client, realtime events via
// a websocket listener.
package mattermost

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/threadclaw/internal/platform"
)

// Mattermost rejects posts above ~16k characters; the height budget
// keeps a single post scrollable without collapsing.
const (
	hardBytes  = 16000
	heightSoft = 2800

	apiRetries   = 3
	retryBackoff = 400 * time.Millisecond
)

// Config holds connection settings for one Mattermost server.
type Config struct {
	ServerURL string
	Token     string
	TeamName  string
	// AllowedUsers may react to and command any session, in addition to
	// each session's owner.
	AllowedUsers []string
}

// Client is the Mattermost platform client.
type Client struct {
	api       *model.Client4
	cfg       Config
	limiter   *rate.Limiter
	botUserID string

	mu       sync.RWMutex
	allowed  map[string]bool
	channels map[string]string // threadID (root post id) -> channelID
	users    map[string]string // userID -> username
}

// New connects, resolves the bot identity, and returns the client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	api := model.NewAPIv4Client(strings.TrimRight(cfg.ServerURL, "/"))
	api.SetToken(cfg.Token)

	me, _, err := api.GetMe(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("mattermost: resolve bot user: %w", err)
	}

	c := &Client{
		api:       api,
		cfg:       cfg,
		limiter:   rate.NewLimiter(rate.Limit(8), 16),
		botUserID: me.Id,
		allowed:   make(map[string]bool),
		channels:  make(map[string]string),
		users:     make(map[string]string),
	}
	c.SetAllowedUsers(cfg.AllowedUsers)
	slog.Info("mattermost connected", "server", cfg.ServerURL, "bot", me.Username)
	return c, nil
}

// SetAllowedUsers replaces the globally-allowed username set (hot
// reloaded from config).
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
	user, _, err := c.api.GetUser(ctx, userID, "")
	if err != nil {
		return "", fmt.Errorf("mattermost: get user %s: %w", userID, err)
	}
	c.mu.Lock()
	c.users[userID] = user.Username
	c.mu.Unlock()
	return user.Username, nil
}

// channelFor resolves the channel a thread lives in, caching the result.
func (c *Client) channelFor(ctx context.Context, threadID string) (string, error) {
	c.mu.RLock()
	ch, ok := c.channels[threadID]
	c.mu.RUnlock()
	if ok {
		return ch, nil
	}
	post, _, err := c.api.GetPost(ctx, threadID, "")
	if err != nil {
		return "", fmt.Errorf("mattermost: resolve thread %s: %w", threadID, err)
	}
	c.mu.Lock()
	c.channels[threadID] = post.ChannelId
	c.mu.Unlock()
	return post.ChannelId, nil
}

// rememberThread seeds the thread->channel cache from inbound events.
func (c *Client) rememberThread(threadID, channelID string) {
	if threadID == "" || channelID == "" {
		return
	}
	c.mu.Lock()
	c.channels[threadID] = channelID
	c.mu.Unlock()
}

func (c *Client) CreatePost(ctx context.Context, body, threadID string) (*platform.Post, error) {
	channelID, err := c.channelFor(ctx, threadID)
	if err != nil {
		return nil, err
	}
	var created *model.Post
	err = c.call(ctx, func() error {
		var resp *model.Response
		var err error
		created, resp, err = c.api.CreatePost(ctx, &model.Post{
			ChannelId: channelID,
			RootId:    threadID,
			Message:   body,
		})
		return mapErr(resp, err)
	})
	if err != nil {
		return nil, fmt.Errorf("mattermost: create post: %w", err)
	}
	return toPost(created), nil
}

func (c *Client) CreateChannelPost(ctx context.Context, body, channelID string) (*platform.Post, error) {
	var created *model.Post
	err := c.call(ctx, func() error {
		var resp *model.Response
		var err error
		created, resp, err = c.api.CreatePost(ctx, &model.Post{
			ChannelId: channelID,
			Message:   body,
		})
		return mapErr(resp, err)
	})
	if err != nil {
		return nil, fmt.Errorf("mattermost: create channel post: %w", err)
	}
	return toPost(created), nil
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
	return c.call(ctx, func() error {
		_, resp, err := c.api.PatchPost(ctx, postID, &model.PostPatch{Message: &body})
		return mapErr(resp, err)
	})
}

func (c *Client) DeletePost(ctx context.Context, postID string) error {
	return c.call(ctx, func() error {
		resp, err := c.api.DeletePost(ctx, postID)
		return mapErr(resp, err)
	})
}

func (c *Client) PinPost(ctx context.Context, postID string) error {
	return c.call(ctx, func() error {
		resp, err := c.api.PinPost(ctx, postID)
		return mapErr(resp, err)
	})
}

func (c *Client) UnpinPost(ctx context.Context, postID string) error {
	return c.call(ctx, func() error {
		resp, err := c.api.UnpinPost(ctx, postID)
		return mapErr(resp, err)
	})
}

func (c *Client) AddReaction(ctx context.Context, postID, name string) error {
	return c.call(ctx, func() error {
		_, resp, err := c.api.SaveReaction(ctx, &model.Reaction{
			UserId:    c.botUserID,
			PostId:    postID,
			EmojiName: name,
		})
		return mapErr(resp, err)
	})
}

func (c *Client) RemoveReaction(ctx context.Context, postID, name string) error {
	return c.call(ctx, func() error {
		resp, err := c.api.DeleteReaction(ctx, &model.Reaction{
			UserId:    c.botUserID,
			PostId:    postID,
			EmojiName: name,
		})
		return mapErr(resp, err)
	})
}

func (c *Client) SendTyping(ctx context.Context, threadID string) error {
	channelID, err := c.channelFor(ctx, threadID)
	if err != nil {
		return err
	}
	_, err = c.api.PublishUserTyping(ctx, c.botUserID, model.TypingRequest{
		ChannelId: channelID,
		ParentId:  threadID,
	})
	return err
}

// call runs one API call under the rate limiter with bounded retry on
// transient failures. Recoverable sentinels pass straight through.
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
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBackoff * time.Duration(attempt+1)):
		}
	}
	return err
}

// mapErr translates Mattermost API failures onto platform sentinels.
func mapErr(resp *model.Response, err error) error {
	if err == nil {
		return nil
	}
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusNotFound:
			return platform.ErrPostGone
		case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
			if strings.Contains(strings.ToLower(err.Error()), "too long") ||
				resp.StatusCode == http.StatusRequestEntityTooLarge {
				return platform.ErrPostTooLong
			}
		}
	}
	return err
}

func toPost(p *model.Post) *platform.Post {
	threadID := p.RootId
	if threadID == "" {
		threadID = p.Id
	}
	return &platform.Post{
		ID:        p.Id,
		ChannelID: p.ChannelId,
		ThreadID:  threadID,
		AuthorID:  p.UserId,
		Body:      p.Message,
		CreatedAt: time.UnixMilli(p.CreateAt),
	}
}
