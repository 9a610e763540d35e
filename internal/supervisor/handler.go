package supervisor

import (
	"context"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/threadclaw/internal/platform"
	"github.com/nextlevelbuilder/threadclaw/internal/session"
)

// platformHandler adapts one platform's event stream onto the session
// routers. Runs on the listener goroutine.
type platformHandler struct {
	sup        *Supervisor
	platformID string
	client     platform.Client
	router     *session.Router
}

func (h *platformHandler) OnMessage(ev platform.MessageEvent) {
	if ev.Edited {
		// Edits never start sessions and existing sessions treat the
		// original message as sent.
		return
	}
	if h.router.RouteMessage(ev) {
		return
	}

	// Only a thread-root message from an allowed user opens a session.
	if ev.ThreadID != ev.PostID {
		return
	}
	if strings.TrimSpace(ev.Body) == "" && len(ev.Files) == 0 {
		return
	}

	ctx := context.Background()
	username, err := h.client.GetUsername(ctx, ev.UserID)
	if err != nil {
		slog.Debug("username lookup failed", "platform", h.platformID, "user", ev.UserID, "error", err)
		return
	}
	if !h.client.IsUserAllowed(username) {
		slog.Debug("ignoring thread from non-allowed user", "platform", h.platformID, "user", username)
		return
	}

	h.sup.startSession(ctx, h.platformID, ev)
}

func (h *platformHandler) OnReaction(ev platform.ReactionEvent) {
	if !h.router.RouteReaction(ev) {
		slog.Debug("reaction on untracked post", "platform", h.platformID, "post", ev.PostID)
	}
}
