// Package session owns the lifetime of one chat thread's coding
// session: the agent child process, the message pipeline, and the
// lifecycle state machine. All session state is confined to a single
// goroutine; everything external goes through the inbox.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/threadclaw/internal/agentproc"
	"github.com/nextlevelbuilder/threadclaw/internal/config"
	"github.com/nextlevelbuilder/threadclaw/internal/msg"
	"github.com/nextlevelbuilder/threadclaw/internal/platform"
	"github.com/nextlevelbuilder/threadclaw/internal/store"
	"github.com/nextlevelbuilder/threadclaw/internal/worktree"
)

const (
	typingInterval  = 3 * time.Second
	maxResumeFails  = 3
	inboxSize       = 64
	recentEventsCap = 20
)

// Options carries the dependencies a session needs.
type Options struct {
	PlatformID string
	ThreadID   string
	ChannelID  string
	Owner      string // user id of the thread starter
	// StartPostID is the thread-root message that opened the session.
	StartPostID string
	Client      platform.Client
	Agent       config.AgentConfig
	Store       store.SessionStore
	Worktrees   *worktree.Manager // nil when worktree mode is off
	// FlushDelayMs overrides the content debounce window (0 = default).
	FlushDelayMs int
	// OnUpdateNow is called when the user approves a pending self-update.
	OnUpdateNow func()
	// UpdateCheck reports the newest known release version, if any.
	UpdateCheck func() (version string, ok bool)
	// OnChange is called after state transitions so the supervisor can
	// refresh its channel overview.
	OnChange func()
}

// Session is one thread-bound coding session.
type Session struct {
	ID         string
	PlatformID string
	ThreadID   string
	ChannelID  string

	client platform.Client
	mgr    *msg.Manager
	opts   Options

	inbox  chan func(context.Context)
	cancel context.CancelFunc

	// mu guards the fields the supervisor reads (state, activity,
	// overview metadata). Only the run loop writes them.
	mu sync.Mutex

	// Everything below is owned by the run loop.
	proc            *agentproc.Process
	events          <-chan agentproc.Event
	state           State
	owner           string
	invited         map[string]bool // by user id
	invitedNames    map[string]bool // by username, from !invite
	workDir         string
	permissionMode  string
	agentSessionID  string
	resumeFailCount int
	agentResponded  bool
	agentBusy       bool
	messageCount    int
	startPostID     string
	recentEvents    []string // bounded diagnostic ring
	firstPrompt     string
	worktreeBranch  string
	worktreePath    string
	createdAt       time.Time
	lastActivity    time.Time
}

// SessionID builds the composite id for a platform thread.
func SessionID(platformID, threadID string) string {
	return platformID + ":" + threadID
}

// New builds a session without starting the agent. Call Run to start
// the loop, then Launch (or Resume) from the supervisor.
func New(opts Options) *Session {
	s := &Session{
		ID:             SessionID(opts.PlatformID, opts.ThreadID),
		PlatformID:     opts.PlatformID,
		ThreadID:       opts.ThreadID,
		ChannelID:      opts.ChannelID,
		client:         opts.Client,
		opts:           opts,
		inbox:          make(chan func(context.Context), inboxSize),
		state:          StateStarting,
		owner:          opts.Owner,
		invited:        make(map[string]bool),
		invitedNames:   make(map[string]bool),
		workDir:        config.ExpandHome(opts.Agent.WorkDir),
		permissionMode: opts.Agent.PermissionMode,
		startPostID:    opts.StartPostID,
		createdAt:      time.Now(),
		lastActivity:   time.Now(),
	}
	s.mgr = msg.NewManager(opts.Client, s.ID, opts.ThreadID, s.workDir, opts.Agent.Detailed, s.authorizedUser)
	s.mgr.SetFlushDelay(time.Duration(opts.FlushDelayMs) * time.Millisecond)
	s.mgr.Events().Subscribe(s.onPipelineEvent)
	return s
}

// Manager exposes the message pipeline (reaction routing, hydration).
func (s *Session) Manager() *msg.Manager { return s.mgr }

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastActivity returns the time of the last user or agent activity.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Run processes the inbox and the agent event stream until ctx ends.
// Blocks; callers run it on its own goroutine.
func (s *Session) Run(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	defer s.cancel()

	typing := time.NewTicker(typingInterval)
	defer typing.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case fn := <-s.inbox:
			fn(ctx)
			if s.state.Terminal() {
				return
			}

		case ev, ok := <-s.eventsOrNil():
			if !ok {
				s.handleAgentExit(ctx)
				if s.state.Terminal() {
					return
				}
				continue
			}
			s.handleAgentEvent(ctx, ev)

		case <-typing.C:
			if s.agentBusy {
				if err := s.client.SendTyping(ctx, s.ThreadID); err != nil {
					slog.Debug("typing failed", "session", s.ID, "error", err)
				}
			}
		}
	}
}

// eventsOrNil returns the agent stream, or a nil channel (blocks
// forever) when no child is running.
func (s *Session) eventsOrNil() <-chan agentproc.Event {
	return s.events
}

// Do enqueues work onto the session loop. Drops the work and returns
// false when the session has shut down.
func (s *Session) Do(fn func(context.Context)) bool {
	select {
	case s.inbox <- fn:
		return true
	default:
		slog.Warn("session inbox full, dropping work", "session", s.ID)
		return false
	}
}

// Launch starts a fresh agent child for the first prompt. When worktree
// mode is on and the workdir is a git repo, the prompt is queued behind
// a branch-pick instead.
func (s *Session) Launch(ctx context.Context, prompt string, files []string) error {
	s.setFirstPrompt(firstLine(prompt))
	s.touch()

	if s.opts.Worktrees != nil && worktree.IsGitRepo(s.workDir) {
		suggestions, err := worktree.RecentBranches(ctx, s.workDir, 5)
		if err != nil {
			slog.Warn("branch suggestions failed", "session", s.ID, "error", err)
		}
		queued := &msg.QueuedPrompt{Prompt: prompt, Files: files, FirstPrompt: s.firstPrompt}
		if err := s.mgr.Worktree().PromptBranches(ctx, suggestions, queued); err == nil {
			s.persist(ctx)
			return nil
		}
		// Prompt failed to post: fall through and run in the main checkout.
	}

	if err := s.startAgent(ctx, ""); err != nil {
		return err
	}
	return s.forwardToAgent(ctx, prompt, files)
}

// Resume rebuilds a session from its persisted record and restarts the
// agent lazily: the child launches on the next user message.
func (s *Session) Resume(ctx context.Context, rec *store.SessionRecord) {
	s.owner = rec.Owner
	for _, u := range rec.AllowedUsers {
		if name, ok := strings.CutPrefix(u, "@"); ok {
			s.invitedNames[name] = true
		} else {
			s.invited[u] = true
		}
	}
	s.agentSessionID = rec.AgentSessionID
	if rec.WorkDir != "" {
		s.workDir = rec.WorkDir
	}
	if rec.PermissionMode != "" {
		s.permissionMode = rec.PermissionMode
	}
	s.firstPrompt = rec.FirstPrompt
	s.worktreeBranch = rec.WorktreeBranch
	if rec.ChannelID != "" {
		s.ChannelID = rec.ChannelID
	}
	s.startPostID = rec.StartPostID
	s.recentEvents = rec.RecentEvents
	s.messageCount = rec.MessageCount
	s.resumeFailCount = rec.ResumeFailCount
	s.createdAt = rec.CreatedAt
	s.state = StateIdle

	s.mgr.HydrateTaskListState(rec.TaskPostID, rec.TaskLastBody, rec.TaskCompleted, rec.TaskMinimized)
	s.mgr.HydrateInteractiveState(rec.PendingApproval, rec.PendingQuestions)
	if rec.PendingWorktree != nil {
		s.mgr.HydrateWorktreePrompt(rec.PendingWorktree)
	}
	slog.Info("session resumed from store", "session", s.ID, "agent_session", s.agentSessionID)
}

// HandleMessage processes one inbound thread message on the loop.
func (s *Session) HandleMessage(ev platform.MessageEvent) {
	s.Do(func(ctx context.Context) {
		s.handleMessage(ctx, ev)
	})
}

// HandleReaction routes one reaction through the pipeline on the loop.
func (s *Session) HandleReaction(ev platform.ReactionEvent) {
	s.Do(func(ctx context.Context) {
		s.touch()
		if err := s.mgr.HandleReaction(ctx, ev.PostID, ev.Emoji, ev.Removed, ev.UserID); err != nil {
			slog.Warn("reaction handling failed", "session", s.ID, "post", ev.PostID, "error", err)
		}
		s.persist(ctx)
	})
}

// OwnsPost reports whether the session's pipeline tracks the post.
func (s *Session) OwnsPost(postID string) bool {
	_, ok := s.mgr.Tracker().Lookup(postID)
	return ok
}

func (s *Session) handleMessage(ctx context.Context, ev platform.MessageEvent) {
	s.touch()

	if cmd, rest, ok := parseCommand(ev.Body); ok {
		s.runCommand(ctx, cmd, rest, ev)
		return
	}

	username := s.usernameOf(ctx, ev.UserID)
	if !s.userMaySend(ev.UserID, username) {
		if err := s.mgr.Interactive().StartMessageApproval(ctx, ev.UserID, username, ev.Body, ev.Files); err != nil {
			slog.Warn("message approval prompt failed", "session", s.ID, "error", err)
		}
		s.persist(ctx)
		return
	}

	if err := s.forwardToAgent(ctx, ev.Body, ev.Files); err != nil {
		s.systemPost(ctx, fmt.Sprintf("⚠️ Could not reach the agent: %v", err))
	}
	s.persist(ctx)
}

// forwardToAgent prepares the pipeline and writes one user turn,
// launching or resuming the child first when needed.
func (s *Session) forwardToAgent(ctx context.Context, text string, files []string) error {
	if err := s.mgr.PrepareForUserMessage(ctx); err != nil {
		slog.Warn("prepare for user message failed", "session", s.ID, "error", err)
	}
	if s.proc == nil {
		if err := s.startAgent(ctx, s.agentSessionID); err != nil {
			return err
		}
	}
	if err := s.proc.SendUserMessage(text, files); err != nil {
		return err
	}
	s.agentBusy = true
	s.messageCount++
	if s.firstPrompt == "" {
		s.setFirstPrompt(firstLine(text))
	}
	return nil
}

// startAgent launches the child, optionally resuming an agent session.
func (s *Session) startAgent(ctx context.Context, resumeID string) error {
	dir := s.effectiveWorkDir()
	proc, err := agentproc.Start(ctx, agentproc.Config{
		Command:        s.opts.Agent.Command,
		ExtraArgs:      s.opts.Agent.ExtraArgs,
		WorkDir:        dir,
		ResumeID:       resumeID,
		PermissionMode: s.permissionMode,
	})
	if err != nil {
		return fmt.Errorf("start agent: %w", err)
	}
	s.proc = proc
	s.events = proc.Events()
	// A replacement launch passes through restarting; anything else waits
	// in starting until the agent's first response.
	switch s.state {
	case StateActive:
		s.setState(StateRestarting)
	case StateStarting, StateRestarting:
	default:
		s.setState(StateStarting)
	}
	s.notifyChange()
	slog.Info("agent started", "session", s.ID, "workdir", dir, "resume", resumeID != "")
	return nil
}

func (s *Session) handleAgentEvent(ctx context.Context, ev agentproc.Event) {
	s.touch()
	s.recordEvent(ev)
	if s.proc != nil {
		if id := s.proc.SessionID(); id != "" {
			s.agentSessionID = id
		}
	}
	if ev.Type == agentproc.TypeAssistant || ev.Type == agentproc.TypeResult {
		s.agentResponded = true
		s.resumeFailCount = 0
		if s.state == StateStarting || s.state == StateRestarting {
			s.setState(StateActive)
			s.notifyChange()
		}
	}
	if ev.Type == agentproc.TypeResult {
		s.agentBusy = false
	}
	if err := s.mgr.HandleEvent(ctx, ev); err != nil {
		slog.Warn("event dispatch failed", "session", s.ID, "type", ev.Type, "error", err)
	}
	if ev.Type == agentproc.TypeResult {
		s.persist(ctx)
		s.notifyChange()
	}
}

// recordEvent appends a one-line summary to the diagnostic ring.
func (s *Session) recordEvent(ev agentproc.Event) {
	entry := ev.Type
	switch {
	case ev.Type == agentproc.TypeToolUse && ev.ToolUse != nil:
		entry += " " + ev.ToolUse.Name
	case ev.Type == agentproc.TypeToolResult && ev.ToolResult != nil && ev.ToolResult.IsError:
		entry += " error"
	}
	s.recentEvents = append(s.recentEvents, entry)
	if len(s.recentEvents) > recentEventsCap {
		s.recentEvents = s.recentEvents[len(s.recentEvents)-recentEventsCap:]
	}
}

// handleAgentExit runs when the child's event stream closes.
func (s *Session) handleAgentExit(ctx context.Context) {
	proc := s.proc
	s.proc = nil
	s.events = nil
	s.agentBusy = false
	if proc == nil {
		return
	}
	s.finishAgentExit(ctx, proc.ExitErr(), proc.Killed())
}

func (s *Session) finishAgentExit(ctx context.Context, exitErr error, killed bool) {
	if killed || s.state == StateCancelled {
		return
	}

	if exitErr == nil {
		// Clean exit: the agent ended its session. Resume on next message.
		s.setState(StateIdle)
		s.persist(ctx)
		s.notifyChange()
		return
	}

	slog.Warn("agent exited abnormally", "session", s.ID, "error", exitErr)
	_ = s.mgr.Flush(ctx)

	if !s.agentResponded || s.agentSessionID == "" {
		s.systemPost(ctx, fmt.Sprintf("💥 The agent crashed before responding: %v", exitErr))
		if err := s.mgr.PostBugReportPrompt(ctx, exitErr.Error()); err != nil {
			slog.Debug("bug report prompt failed", "session", s.ID, "error", err)
		}
		s.setState(StateIdle)
		s.persist(ctx)
		return
	}

	s.resumeFailCount++
	if s.resumeFailCount > maxResumeFails {
		// Permanent failure: surface and drop the record so a restart does
		// not resurrect a crash loop.
		s.stop(ctx, "💥 The agent keeps crashing; giving up on automatic restarts. Start a new thread to continue.")
		return
	}

	s.setState(StateRestarting)
	s.systemPost(ctx, fmt.Sprintf("🔄 The agent crashed (%v); resuming the session...", exitErr))
	if err := s.startAgent(ctx, s.agentSessionID); err != nil {
		slog.Error("agent restart failed", "session", s.ID, "error", err)
		s.setState(StateIdle)
	}
	s.persist(ctx)
}

// onPipelineEvent reacts to executor completions. Runs on the session
// loop because all pipeline dispatch happens there.
func (s *Session) onPipelineEvent(ev msg.Event) {
	ctx := context.Background()
	switch ev := ev.(type) {
	case msg.QuestionComplete:
		text := "Answers:\n"
		for i, a := range ev.Answers {
			text += fmt.Sprintf("%d. %s\n", i+1, a)
		}
		if err := s.forwardToAgent(ctx, text, nil); err != nil {
			slog.Warn("forward answers failed", "session", s.ID, "error", err)
		}

	case msg.ApprovalComplete:
		s.resolveApproval(ctx, ev)

	case msg.MessageApprovalComplete:
		switch ev.Decision {
		case msg.MessageInvite:
			s.invited[ev.FromUser] = true
			fallthrough
		case msg.MessageAllow:
			if err := s.forwardToAgent(ctx, ev.OriginalMessage, ev.Files); err != nil {
				slog.Warn("forward approved message failed", "session", s.ID, "error", err)
			}
		}
		s.persist(ctx)

	case msg.WorktreePromptComplete:
		s.resolveWorktreePrompt(ctx, ev)

	case msg.UpdatePromptComplete:
		if ev.Decision == "now" && s.opts.OnUpdateNow != nil {
			s.opts.OnUpdateNow()
		}

	case msg.StatusEvent:
		slog.Debug("usage", "session", s.ID, "model", ev.ModelID,
			"cost_usd", ev.TotalCostUSD, "in", ev.InputTokens, "out", ev.OutputTokens)
	}
}

func (s *Session) resolveApproval(ctx context.Context, ev msg.ApprovalComplete) {
	if ev.AllowAll {
		s.allowAll(ctx)
	}
	if !ev.Approved {
		if err := s.forwardToAgent(ctx, "Do not proceed. Wait for further instructions.", nil); err != nil {
			slog.Warn("forward denial failed", "session", s.ID, "error", err)
		}
		return
	}
	if err := s.forwardToAgent(ctx, "Approved. Proceed.", nil); err != nil {
		slog.Warn("forward approval failed", "session", s.ID, "error", err)
	}
	s.persist(ctx)
}

// AllowAll flips the session to auto permissions; takes effect on the
// next agent launch.
func (s *Session) allowAll(ctx context.Context) {
	if s.permissionMode == "auto" {
		return
	}
	s.permissionMode = "auto"
	s.systemPost(ctx, "✅ Permission prompts disabled for this session (takes effect on the next agent start).")
	s.persist(ctx)
}

func (s *Session) resolveWorktreePrompt(ctx context.Context, ev msg.WorktreePromptComplete) {
	queued := ev.Queued

	launch := func() {
		if queued == nil {
			return
		}
		if err := s.startAgent(ctx, ""); err != nil {
			s.systemPost(ctx, fmt.Sprintf("⚠️ Could not start the agent: %v", err))
			return
		}
		if err := s.forwardToAgent(ctx, queued.Prompt, queued.Files); err != nil {
			s.systemPost(ctx, fmt.Sprintf("⚠️ Could not reach the agent: %v", err))
		}
	}

	switch ev.Decision {
	case "skip":
		launch()

	case "retry":
		if ev.FailedBranch != "" {
			s.createWorktree(ctx, ev.FailedBranch, queued)
		} else {
			launch()
		}

	default: // a branch name
		s.createWorktree(ctx, ev.Decision, queued)
	}
	s.persist(ctx)
}

func (s *Session) createWorktree(ctx context.Context, branch string, queued *msg.QueuedPrompt) {
	path, err := s.opts.Worktrees.Create(ctx, s.workDir, branch)
	if err != nil {
		slog.Warn("worktree create failed", "session", s.ID, "branch", branch, "error", err)
		if perr := s.mgr.Worktree().PromptRetry(ctx, branch, queued); perr != nil {
			s.systemPost(ctx, fmt.Sprintf("⚠️ Worktree for %s failed: %v. Continuing in the main checkout.", branch, err))
			s.launchQueued(ctx, queued)
		}
		return
	}
	s.setBranch(branch)
	s.worktreePath = path
	s.systemPost(ctx, fmt.Sprintf("🌿 Working on branch `%s` in an isolated worktree.", branch))
	s.launchQueued(ctx, queued)
}

func (s *Session) launchQueued(ctx context.Context, queued *msg.QueuedPrompt) {
	if queued == nil {
		return
	}
	if s.proc != nil {
		// Workdir changed: restart the child there.
		s.proc.Kill()
		s.proc = nil
		s.events = nil
		s.agentSessionID = ""
	}
	if err := s.startAgent(ctx, ""); err != nil {
		s.systemPost(ctx, fmt.Sprintf("⚠️ Could not start the agent: %v", err))
		return
	}
	if err := s.forwardToAgent(ctx, queued.Prompt, queued.Files); err != nil {
		s.systemPost(ctx, fmt.Sprintf("⚠️ Could not reach the agent: %v", err))
	}
}

// Stop ends the session gracefully: flush, kill the child, persist, and
// post a farewell.
func (s *Session) Stop(reason string) {
	s.Do(func(ctx context.Context) {
		s.stop(ctx, reason)
	})
}

func (s *Session) stop(ctx context.Context, reason string) {
	if s.state.Terminal() {
		return
	}
	_ = s.mgr.Flush(ctx)
	if s.proc != nil {
		s.proc.Kill()
		s.proc = nil
		s.events = nil
	}
	s.setState(StateCancelled)
	s.mgr.ReleaseSticky(ctx)
	if reason != "" {
		s.systemPost(ctx, reason)
	}
	s.unpersist(ctx)
	s.mgr.Dispose()
	s.notifyChange()
}

// unpersist drops the stored record; a cancelled session must not be
// resumed after a process restart.
func (s *Session) unpersist(ctx context.Context) {
	if s.opts.Store == nil {
		return
	}
	if err := s.opts.Store.Delete(ctx, s.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Warn("session record delete failed", "session", s.ID, "error", err)
	}
}

// Suspend flushes and persists the session and kills the agent child
// without ending the session, so it can be resumed after a restart.
// Blocks until the loop has processed it or ctx ends.
func (s *Session) Suspend(ctx context.Context) {
	done := make(chan struct{})
	ok := s.Do(func(ctx context.Context) {
		defer close(done)
		_ = s.mgr.Flush(ctx)
		if s.proc != nil {
			s.proc.Kill()
			s.proc = nil
			s.events = nil
		}
		if s.state == StateActive || s.state == StateStarting {
			s.setState(StateIdle)
		}
		s.persist(ctx)
	})
	if !ok {
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// PostUpdatePrompt surfaces a pending self-update in the thread.
func (s *Session) PostUpdatePrompt(version string) {
	s.Do(func(ctx context.Context) {
		if s.mgr.HasUpdatePrompt() {
			return
		}
		if err := s.mgr.PostUpdatePrompt(ctx, version); err != nil {
			slog.Debug("update prompt failed", "session", s.ID, "error", err)
		}
	})
}

// persist snapshots the session to the store. Failures are logged;
// persistence is reconciliation, not a dependency.
func (s *Session) persist(ctx context.Context) {
	if s.opts.Store == nil {
		return
	}
	rec := s.snapshot()
	if err := s.opts.Store.Save(ctx, rec); err != nil {
		slog.Warn("session persist failed", "session", s.ID, "error", err)
	}
}

func (s *Session) snapshot() *store.SessionRecord {
	var invited []string
	for u := range s.invited {
		invited = append(invited, u)
	}
	for name := range s.invitedNames {
		invited = append(invited, "@"+name)
	}
	taskID, taskBody, taskCompleted, taskMinimized := s.mgr.Tasks().Snapshot()
	return &store.SessionRecord{
		SessionID:        s.ID,
		PlatformID:       s.PlatformID,
		ThreadID:         s.ThreadID,
		ChannelID:        s.ChannelID,
		AgentSessionID:   s.agentSessionID,
		StartPostID:      s.startPostID,
		WorkDir:          s.workDir,
		Owner:            s.owner,
		AllowedUsers:     invited,
		PermissionMode:   s.permissionMode,
		FirstPrompt:      s.firstPrompt,
		WorktreeBranch:   s.worktreeBranch,
		TaskPostID:       taskID,
		TaskLastBody:     taskBody,
		TaskCompleted:    taskCompleted,
		TaskMinimized:    taskMinimized,
		PendingQuestions: s.mgr.Interactive().PendingQuestions(),
		PendingApproval:  s.mgr.Interactive().PendingApproval(),
		PendingWorktree:  s.mgr.Worktree().Pending(),
		Lifecycle:        string(s.state),
		ResumeFailCount:  s.resumeFailCount,
		MessageCount:     s.messageCount,
		RecentEvents:     append([]string(nil), s.recentEvents...),
		CreatedAt:        s.createdAt,
		UpdatedAt:        time.Now(),
	}
}

// CreatedAt returns the session start time, for newest-first sorting.
func (s *Session) CreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createdAt
}

// Overview is a one-line status summary for the channel overview post:
// owner, topic, state, task progress, branch, and pending-prompt badges.
func (s *Session) Overview() string {
	s.mu.Lock()
	state := s.state
	prompt := s.firstPrompt
	branch := s.worktreeBranch
	s.mu.Unlock()

	if prompt == "" {
		prompt = s.ID
	}
	line := fmt.Sprintf("@%s `%s` %s", s.owner, prompt, state)
	if tasksDone, tasksTotal := s.mgr.Tasks().Progress(); tasksTotal > 0 {
		line += fmt.Sprintf(" · tasks %d/%d", tasksDone, tasksTotal)
	}
	if branch != "" {
		line += " · 🌿 " + branch
	}
	for _, badge := range s.pendingBadges() {
		line += " · " + badge
	}
	return line
}

// pendingBadges lists prompts waiting on a user.
func (s *Session) pendingBadges() []string {
	var badges []string
	if s.mgr.Interactive().PendingApproval() != nil {
		badges = append(badges, "⏳ approval")
	}
	if s.mgr.Interactive().PendingQuestions() != nil {
		badges = append(badges, "❓ question")
	}
	if s.mgr.Worktree().Pending() != nil {
		badges = append(badges, "🌿 branch pick")
	}
	if s.mgr.HasUpdatePrompt() {
		badges = append(badges, "⬆️ update")
	}
	return badges
}

// authorizedUser is the pipeline's authorization predicate: the owner,
// invitees, and globally-allowed users may act on interactive posts.
func (s *Session) authorizedUser(userID string) bool {
	if userID == s.owner || s.invited[userID] {
		return true
	}
	username, err := s.client.GetUsername(context.Background(), userID)
	if err != nil {
		return false
	}
	return s.invitedNames[username] || s.client.IsUserAllowed(username)
}

func (s *Session) userMaySend(userID, username string) bool {
	return userID == s.owner || s.invited[userID] ||
		s.invitedNames[username] || s.client.IsUserAllowed(username)
}

func (s *Session) usernameOf(ctx context.Context, userID string) string {
	username, err := s.client.GetUsername(ctx, userID)
	if err != nil {
		return userID
	}
	return username
}

func (s *Session) systemPost(ctx context.Context, body string) {
	if _, err := s.client.CreatePost(ctx, body, s.ThreadID); err != nil {
		slog.Warn("system post failed", "session", s.ID, "error", err)
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) setFirstPrompt(v string) {
	s.mu.Lock()
	s.firstPrompt = v
	s.mu.Unlock()
}

func (s *Session) setBranch(v string) {
	s.mu.Lock()
	s.worktreeBranch = v
	s.mu.Unlock()
}

func (s *Session) notifyChange() {
	if s.opts.OnChange != nil {
		s.opts.OnChange()
	}
}

func firstLine(text string) string {
	line := text
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if len(line) > 60 {
		line = line[:57] + "..."
	}
	return line
}
