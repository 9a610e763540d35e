// Package supervisor runs the bridge: it owns the platform listeners,
// admits and resumes sessions, watches for idle threads, keeps the
// channel overview current, and coordinates graceful shutdown.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/threadclaw/internal/config"
	"github.com/nextlevelbuilder/threadclaw/internal/platform"
	"github.com/nextlevelbuilder/threadclaw/internal/session"
	"github.com/nextlevelbuilder/threadclaw/internal/store"
	"github.com/nextlevelbuilder/threadclaw/internal/upgrade"
	"github.com/nextlevelbuilder/threadclaw/internal/worktree"
)

const (
	idleCheckInterval = time.Minute
	cronCheckInterval = time.Minute
)

// Platform bundles a client with its realtime listener.
type Platform struct {
	ID       string
	Client   platform.Client
	Listener platform.Listener
}

// Supervisor coordinates all sessions across platforms.
type Supervisor struct {
	cfg       *config.Config
	store     store.SessionStore
	worktrees *worktree.Manager // nil when disabled
	version   string
	started   time.Time

	platforms map[string]Platform
	routers   map[string]*session.Router
	overviews map[string]*overviewPost // keyed by platformID:channelID

	mu            sync.Mutex
	idleWarned    map[string]bool
	latestRelease string
	shuttingDown  bool

	overviewKick chan struct{}

	sessCtx    context.Context
	sessCancel context.CancelFunc
	wg         sync.WaitGroup
}

// New builds a supervisor over the given platforms.
func New(cfg *config.Config, st store.SessionStore, worktrees *worktree.Manager, version string, platforms []Platform) *Supervisor {
	s := &Supervisor{
		cfg:          cfg,
		store:        st,
		worktrees:    worktrees,
		version:      version,
		started:      time.Now(),
		platforms:    make(map[string]Platform),
		routers:      make(map[string]*session.Router),
		overviews:    make(map[string]*overviewPost),
		idleWarned:   make(map[string]bool),
		overviewKick: make(chan struct{}, 1),
	}
	for _, p := range platforms {
		s.platforms[p.ID] = p
		s.routers[p.ID] = session.NewRouter()
	}
	return s
}

// Run resumes persisted sessions, starts the listeners and background
// loops, and blocks until ctx is cancelled. On the way out it suspends
// every session so a later start can resume them.
func (s *Supervisor) Run(ctx context.Context) error {
	// Session loops outlive ctx long enough to be suspended cleanly.
	s.sessCtx, s.sessCancel = context.WithCancel(context.Background())
	s.resumeSessions(ctx)

	for id, p := range s.platforms {
		id, p := id, p
		h := &platformHandler{sup: s, platformID: id, client: p.Client, router: s.routers[id]}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := p.Listener.Listen(ctx, h); err != nil && ctx.Err() == nil {
				slog.Error("platform listener exited", "platform", id, "error", err)
			}
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.idleLoop(ctx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.overviewLoop(ctx)
	}()

	if s.cfg.Maintenance.Schedule != "" {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.maintenanceLoop(ctx)
		}()
	}

	if !s.cfg.Upgrade.Disabled {
		checker := upgrade.NewChecker(s.cfg.Upgrade.RepoSlug, s.version,
			s.cfg.Upgrade.CheckIntervalDuration(), s.onNewRelease)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			checker.Run(ctx)
		}()
	}

	<-ctx.Done()
	s.shutdown()
	s.sessCancel()
	s.wg.Wait()
	return ctx.Err()
}

// SetAllowedUsers pushes a hot-reloaded allowlist to the platforms.
func (s *Supervisor) SetAllowedUsers(platformID string, usernames []string) {
	p, ok := s.platforms[platformID]
	if !ok {
		return
	}
	type allowSetter interface{ SetAllowedUsers([]string) }
	if setter, ok := p.Client.(allowSetter); ok {
		setter.SetAllowedUsers(usernames)
		slog.Info("allowed users updated", "platform", platformID, "count", len(usernames))
	}
}

// startSession admits and launches a new session for a thread root
// message. Runs on the platform handler goroutine.
func (s *Supervisor) startSession(ctx context.Context, platformID string, ev platform.MessageEvent) {
	p := s.platforms[platformID]
	router := s.routers[platformID]

	s.mu.Lock()
	shuttingDown := s.shuttingDown
	s.mu.Unlock()
	if shuttingDown {
		return
	}

	if s.totalSessions() >= s.cfg.Sessions.MaxSessions {
		body := fmt.Sprintf("🚦 Session limit reached (%d). Stop an existing session with `!stop` first.", s.cfg.Sessions.MaxSessions)
		if _, err := p.Client.CreatePost(ctx, body, ev.ThreadID); err != nil {
			slog.Warn("capacity notice failed", "platform", platformID, "error", err)
		}
		return
	}

	sess := s.newSession(platformID, ev.ThreadID, ev.ChannelID, ev.UserID, ev.PostID)
	router.Register(sess)
	s.runSession(sess, router)

	sess.Do(func(ctx context.Context) {
		if err := sess.Launch(ctx, ev.Body, ev.Files); err != nil {
			slog.Error("session launch failed", "session", sess.ID, "error", err)
		}
	})
	slog.Info("session started", "session", sess.ID, "owner", ev.UserID)
	s.kickOverview()
}

func (s *Supervisor) newSession(platformID, threadID, channelID, owner, startPostID string) *session.Session {
	p := s.platforms[platformID]
	agentCfg := s.cfg.Agent
	agentCfg.WorkDir = s.cfg.AgentWorkDir()
	return session.New(session.Options{
		PlatformID:   platformID,
		ThreadID:     threadID,
		ChannelID:    channelID,
		Owner:        owner,
		StartPostID:  startPostID,
		Client:       p.Client,
		Agent:        agentCfg,
		Store:        s.store,
		Worktrees:    s.worktrees,
		FlushDelayMs: s.cfg.Sessions.FlushDelayMs,
		OnUpdateNow:  s.onUpdateApproved,
		UpdateCheck:  s.updateCheck,
		OnChange:     s.kickOverview,
	})
}

// runSession runs the session loop and deregisters it when it ends.
func (s *Supervisor) runSession(sess *session.Session, router *session.Router) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sess.Run(s.sessCtx)
		router.Remove(sess.ThreadID)
		s.mu.Lock()
		delete(s.idleWarned, sess.ID)
		s.mu.Unlock()
		s.kickOverview()
	}()
}

// resumeSessions rebuilds sessions from the store at startup.
func (s *Supervisor) resumeSessions(ctx context.Context) {
	if s.store == nil {
		return
	}
	recs, err := s.store.List(ctx)
	if err != nil {
		slog.Warn("session resume scan failed", "error", err)
		return
	}
	resumed := 0
	for _, rec := range recs {
		if session.State(rec.Lifecycle).Terminal() {
			continue
		}
		router, ok := s.routers[rec.PlatformID]
		if !ok {
			slog.Debug("skipping session for disabled platform", "session", rec.SessionID, "platform", rec.PlatformID)
			continue
		}
		if resumed >= s.cfg.Sessions.MaxSessions {
			slog.Warn("session limit reached during resume, leaving remainder idle", "session", rec.SessionID)
			break
		}
		sess := s.newSession(rec.PlatformID, rec.ThreadID, rec.ChannelID, rec.Owner, "")
		sess.Resume(ctx, rec)
		router.Register(sess)
		s.runSession(sess, router)
		resumed++
	}
	if resumed > 0 {
		slog.Info("sessions resumed", "count", resumed)
		s.kickOverview()
	}
}

func (s *Supervisor) totalSessions() int {
	n := 0
	for _, r := range s.routers {
		n += r.Len()
	}
	return n
}

func (s *Supervisor) allSessions() []*session.Session {
	var out []*session.Session
	for _, r := range s.routers {
		out = append(out, r.All()...)
	}
	return out
}

// idleLoop warns idle sessions, then pauses them: the child is killed
// but the session stays registered and persisted, so the next thread
// message resumes the agent where it left off.
func (s *Supervisor) idleLoop(ctx context.Context) {
	warnAfter := time.Duration(s.cfg.Sessions.IdleWarnMin) * time.Minute
	killAfter := time.Duration(s.cfg.Sessions.IdleKillMin) * time.Minute
	if killAfter <= 0 {
		return
	}

	ticker := time.NewTicker(idleCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for _, sess := range s.allSessions() {
			idle := time.Since(sess.LastActivity())
			switch {
			case idle >= killAfter:
				if st := sess.State(); st != session.StateActive && st != session.StateStarting {
					continue
				}
				slog.Info("pausing idle session", "session", sess.ID, "idle", idle.Round(time.Minute))
				sess.Suspend(ctx)
				s.postIdlePaused(ctx, sess)
				s.kickOverview()
			case warnAfter > 0 && idle >= warnAfter:
				s.mu.Lock()
				warned := s.idleWarned[sess.ID]
				s.idleWarned[sess.ID] = true
				s.mu.Unlock()
				if !warned {
					s.postIdleWarning(ctx, sess, killAfter-idle)
				}
			default:
				s.mu.Lock()
				delete(s.idleWarned, sess.ID)
				s.mu.Unlock()
			}
		}
	}
}

func (s *Supervisor) postIdleWarning(ctx context.Context, sess *session.Session, remaining time.Duration) {
	p, ok := s.platforms[sess.PlatformID]
	if !ok {
		return
	}
	body := fmt.Sprintf("💤 This session has been idle and will be paused in about %d minutes. Send a message to keep it alive.",
		int(remaining.Round(time.Minute).Minutes()))
	if _, err := p.Client.CreatePost(ctx, body, sess.ThreadID); err != nil {
		slog.Debug("idle warning failed", "session", sess.ID, "error", err)
	}
}

func (s *Supervisor) postIdlePaused(ctx context.Context, sess *session.Session) {
	p, ok := s.platforms[sess.PlatformID]
	if !ok {
		return
	}
	body := "⏸️ Session paused after inactivity. Send a message to pick up where you left off."
	if _, err := p.Client.CreatePost(ctx, body, sess.ThreadID); err != nil {
		slog.Debug("idle pause notice failed", "session", sess.ID, "error", err)
	}
}

// maintenanceLoop runs scheduled cleanup when the cron expression fires.
func (s *Supervisor) maintenanceLoop(ctx context.Context) {
	gron := gronx.New()
	expr := s.cfg.Maintenance.Schedule
	if !gron.IsValid(expr) {
		slog.Warn("invalid maintenance schedule, skipping", "schedule", expr)
		return
	}
	ticker := time.NewTicker(cronCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		due, err := gron.IsDue(expr)
		if err != nil || !due {
			continue
		}
		s.runMaintenance(ctx)
	}
}

// runMaintenance prunes cancelled session records and orphan worktrees.
func (s *Supervisor) runMaintenance(ctx context.Context) {
	slog.Info("running maintenance")
	if s.store != nil {
		recs, err := s.store.List(ctx)
		if err == nil {
			cutoff := time.Now().AddDate(0, 0, -30)
			for _, rec := range recs {
				if session.State(rec.Lifecycle).Terminal() && rec.UpdatedAt.Before(cutoff) {
					if err := s.store.Delete(ctx, rec.SessionID); err != nil {
						slog.Debug("stale record delete failed", "session", rec.SessionID, "error", err)
					}
				}
			}
		}
	}
	if s.worktrees != nil {
		// Worktrees referenced by any non-terminal record stay.
		active := make(map[string]bool)
		if s.store != nil {
			if recs, err := s.store.List(ctx); err == nil {
				for _, rec := range recs {
					if !session.State(rec.Lifecycle).Terminal() && rec.WorktreeBranch != "" {
						active[rec.WorkDir] = true
					}
				}
			}
		}
		s.worktrees.Prune(ctx, active)
	}
}

// onNewRelease records the newest release and prompts active sessions.
func (s *Supervisor) onNewRelease(rel upgrade.Release) {
	s.mu.Lock()
	s.latestRelease = rel.Version
	s.mu.Unlock()
	for _, sess := range s.allSessions() {
		if sess.State() == session.StateActive {
			sess.PostUpdatePrompt(rel.Version)
		}
	}
}

func (s *Supervisor) updateCheck() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestRelease, s.latestRelease != ""
}

// onUpdateApproved logs the approval. The actual binary swap is the
// process manager's job: we exit cleanly and get restarted.
func (s *Supervisor) onUpdateApproved() {
	slog.Info("update approved; suspend sessions and restart with the new binary")
}

// shutdown suspends every session in parallel so the next start can
// resume them, then waits for the background loops.
func (s *Supervisor) shutdown() {
	s.mu.Lock()
	s.shuttingDown = true
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for _, sess := range s.allSessions() {
		wg.Add(1)
		go func(sess *session.Session) {
			defer wg.Done()
			sess.Suspend(ctx)
		}(sess)
	}
	wg.Wait()
	slog.Info("all sessions suspended")
}
