package mattermost

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/threadclaw/internal/platform"
)

const (
	wsReconnectMin = time.Second
	wsReconnectMax = 30 * time.Second
	wsPingInterval = 30 * time.Second
)

// wsFrame is one event frame from /api/v4/websocket.
type wsFrame struct {
	Event string                     `json:"event"`
	Data  map[string]json.RawMessage `json:"data"`
	Seq   int64                      `json:"seq"`
}

// wsPost is the embedded post payload of "posted"/"post_edited" events.
type wsPost struct {
	ID        string   `json:"id"`
	ChannelID string   `json:"channel_id"`
	RootID    string   `json:"root_id"`
	UserID    string   `json:"user_id"`
	Message   string   `json:"message"`
	FileIDs   []string `json:"file_ids"`
	Type      string   `json:"type"`
}

// wsReaction is the embedded reaction payload.
type wsReaction struct {
	UserID    string `json:"user_id"`
	PostID    string `json:"post_id"`
	EmojiName string `json:"emoji_name"`
}

// Listen consumes the websocket event stream, reconnecting with backoff
// until the context is cancelled. Events for one thread are delivered
// in arrival order.
func (c *Client) Listen(ctx context.Context, h platform.EventHandler) error {
	wsURL, err := websocketURL(c.cfg.ServerURL)
	if err != nil {
		return err
	}

	backoff := wsReconnectMin
	for {
		if err := c.listenOnce(ctx, wsURL, h); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("mattermost websocket dropped, reconnecting", "error", err, "backoff", backoff)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > wsReconnectMax {
			backoff = wsReconnectMax
		}
	}
}

func (c *Client) listenOnce(ctx context.Context, wsURL string, h platform.EventHandler) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	auth := map[string]any{
		"seq":    1,
		"action": "authentication_challenge",
		"data":   map[string]string{"token": c.cfg.Token},
	}
	if err := conn.WriteJSON(auth); err != nil {
		return fmt.Errorf("auth challenge: %w", err)
	}
	slog.Debug("mattermost websocket connected")

	// Close the connection when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		var frame wsFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			slog.Debug("mattermost: skipping malformed ws frame", "error", err)
			continue
		}
		c.dispatchFrame(frame, h)
	}
}

func (c *Client) dispatchFrame(frame wsFrame, h platform.EventHandler) {
	switch frame.Event {
	case "posted", "post_edited":
		var postJSON string
		if err := json.Unmarshal(frame.Data["post"], &postJSON); err != nil {
			return
		}
		var p wsPost
		if err := json.Unmarshal([]byte(postJSON), &p); err != nil {
			return
		}
		if p.UserID == c.botUserID || p.Type != "" {
			return // own posts and system messages
		}
		threadID := p.RootID
		if threadID == "" {
			threadID = p.ID
		}
		c.rememberThread(threadID, p.ChannelID)
		h.OnMessage(platform.MessageEvent{
			PostID:    p.ID,
			ChannelID: p.ChannelID,
			ThreadID:  threadID,
			UserID:    p.UserID,
			Body:      p.Message,
			Files:     p.FileIDs,
			Edited:    frame.Event == "post_edited",
		})

	case "reaction_added", "reaction_removed":
		var reactionJSON string
		if err := json.Unmarshal(frame.Data["reaction"], &reactionJSON); err != nil {
			return
		}
		var r wsReaction
		if err := json.Unmarshal([]byte(reactionJSON), &r); err != nil {
			return
		}
		if r.UserID == c.botUserID {
			return
		}
		h.OnReaction(platform.ReactionEvent{
			PostID:  r.PostID,
			UserID:  r.UserID,
			Emoji:   r.EmojiName,
			Removed: frame.Event == "reaction_removed",
		})
	}
}

func websocketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("mattermost: bad server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("mattermost: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/v4/websocket"
	return u.String(), nil
}
