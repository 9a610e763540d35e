package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/nextlevelbuilder/threadclaw/internal/session"
)

// overviewThrottle caps overview rewrites at one per second.
const overviewThrottle = time.Second

// overviewPost is the sticky per-channel summary of live sessions.
type overviewPost struct {
	postID   string
	lastBody string
}

// kickOverview schedules an overview refresh. Coalesces bursts.
func (s *Supervisor) kickOverview() {
	select {
	case s.overviewKick <- struct{}{}:
	default:
	}
}

// overviewLoop refreshes channel overview posts when kicked, at most
// once per throttle window.
func (s *Supervisor) overviewLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.overviewKick:
		}
		s.refreshOverviews(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(overviewThrottle):
		}
	}
}

func (s *Supervisor) refreshOverviews(ctx context.Context) {
	// Group live sessions by platform and channel.
	byChannel := make(map[string][]*session.Session)
	for _, sess := range s.allSessions() {
		if sess.ChannelID == "" {
			continue
		}
		key := sess.PlatformID + ":" + sess.ChannelID
		byChannel[key] = append(byChannel[key], sess)
	}

	for key, sessions := range byChannel {
		s.refreshChannelOverview(ctx, key, sessions)
	}

	// Channels whose last session ended get a final empty summary.
	s.mu.Lock()
	var stale []string
	for key := range s.overviews {
		if _, live := byChannel[key]; !live {
			stale = append(stale, key)
		}
	}
	s.mu.Unlock()
	for _, key := range stale {
		s.refreshChannelOverview(ctx, key, nil)
	}
}

func (s *Supervisor) refreshChannelOverview(ctx context.Context, key string, sessions []*session.Session) {
	platformID, channelID, ok := splitKey(key)
	if !ok {
		return
	}
	p, exists := s.platforms[platformID]
	if !exists {
		return
	}

	entries := make([]overviewEntry, 0, len(sessions))
	for _, sess := range sessions {
		entries = append(entries, overviewEntry{created: sess.CreatedAt(), line: sess.Overview()})
	}
	body := renderOverview(s.version, s.started, s.cfg.Sessions.MaxSessions, entries)

	s.mu.Lock()
	ov := s.overviews[key]
	if ov == nil {
		ov = &overviewPost{}
		s.overviews[key] = ov
	}
	unchanged := ov.lastBody == body
	postID := ov.postID
	s.mu.Unlock()
	if unchanged {
		return
	}

	if postID == "" {
		post, err := p.Client.CreateChannelPost(ctx, body, channelID)
		if err != nil {
			slog.Debug("overview post failed", "channel", channelID, "error", err)
			return
		}
		if err := p.Client.PinPost(ctx, post.ID); err != nil {
			slog.Debug("pin overview post failed", "channel", channelID, "error", err)
		}
		s.mu.Lock()
		ov.postID = post.ID
		ov.lastBody = body
		s.mu.Unlock()
		return
	}

	if err := p.Client.UpdatePost(ctx, postID, body); err != nil {
		// Post may have been deleted; recreate next time.
		s.mu.Lock()
		ov.postID = ""
		ov.lastBody = ""
		s.mu.Unlock()
		slog.Debug("overview update failed", "channel", channelID, "error", err)
		return
	}
	s.mu.Lock()
	ov.lastBody = body
	s.mu.Unlock()
}

// overviewEntry is one session's line plus its sort key.
type overviewEntry struct {
	created time.Time
	line    string
}

func renderOverview(version string, started time.Time, maxSessions int, entries []overviewEntry) string {
	if len(entries) == 0 {
		return "🧵 No active sessions."
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].created.After(entries[j].created)
	})
	body := fmt.Sprintf("🧵 **Active sessions (%d/%d)** · threadclaw %s · up %s\n",
		len(entries), maxSessions, version, formatUptime(time.Since(started)))
	for _, e := range entries {
		body += "• " + e.line + "\n"
	}
	return body
}

func formatUptime(d time.Duration) string {
	if d < time.Minute {
		return "<1m"
	}
	d = d.Round(time.Minute)
	if h := d / time.Hour; h > 0 {
		return fmt.Sprintf("%dh%02dm", h, (d%time.Hour)/time.Minute)
	}
	return fmt.Sprintf("%dm", d/time.Minute)
}

func splitKey(key string) (platformID, channelID string, ok bool) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i], key[i+1:], true
		}
	}
	return "", "", false
}
