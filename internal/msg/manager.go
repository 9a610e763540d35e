package msg

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/threadclaw/internal/agentproc"
	"github.com/nextlevelbuilder/threadclaw/internal/platform"
	"github.com/nextlevelbuilder/threadclaw/internal/tracing"
)

// defaultFlushDelay is the content debounce window.
const defaultFlushDelay = 800 * time.Millisecond

// Manager is the single entry point for one session's events and
// reactions. It owns the post tracker, the executors, and the typed
// event emitter. All event dispatch for a session is sequential.
type Manager struct {
	client    platform.Client
	sessionID string
	threadID  string

	tracker     *PostTracker
	emitter     *Emitter
	transformer *Transformer
	content     *ContentExecutor
	tasks       *TaskListExecutor
	interactive *InteractiveExecutor
	worktree    *WorktreePromptExecutor

	sticky     sync.Mutex // sticky lock shared by task and approval posts
	flushDelay time.Duration

	mu               sync.Mutex
	updatePromptPost string
	bugReportPost    string
}

// NewManager wires the executor set for one session thread.
func NewManager(client platform.Client, sessionID, threadID, worktreePath string, detailed bool, authorized func(userID string) bool) *Manager {
	m := &Manager{
		client:     client,
		sessionID:  sessionID,
		threadID:   threadID,
		tracker:    NewPostTracker(),
		emitter:    &Emitter{},
		flushDelay: defaultFlushDelay,
	}
	m.transformer = NewTransformer(sessionID, client.GetFormatter(), worktreePath, detailed)
	m.tasks = NewTaskListExecutor(client, m.tracker, sessionID, threadID, &m.sticky)
	m.content = NewContentExecutor(client, m.tracker, sessionID, threadID, m.tasks)
	m.interactive = NewInteractiveExecutor(client, m.tracker, m.emitter, sessionID, threadID, &m.sticky, authorized)
	m.worktree = NewWorktreePromptExecutor(client, m.tracker, m.emitter, sessionID, threadID, authorized)
	return m
}

// SetFlushDelay overrides the content debounce window. Zero or
// negative keeps the default.
func (m *Manager) SetFlushDelay(d time.Duration) {
	if d > 0 {
		m.flushDelay = d
	}
}

// Events returns the typed event emitter for session subscription.
func (m *Manager) Events() *Emitter { return m.emitter }

// Tracker exposes the post index for the reaction router.
func (m *Manager) Tracker() *PostTracker { return m.tracker }

// Tasks exposes task progress for the supervisor overview.
func (m *Manager) Tasks() *TaskListExecutor { return m.tasks }

// Worktree exposes the worktree prompt executor for session prompts.
func (m *Manager) Worktree() *WorktreePromptExecutor { return m.worktree }

// Interactive exposes the interactive executor for cross-user prompts.
func (m *Manager) Interactive() *InteractiveExecutor { return m.interactive }

// HandleEvent transforms one agent event and dispatches its operations
// to the executors in order. Never called concurrently for one session.
func (m *Manager) HandleEvent(ctx context.Context, ev agentproc.Event) error {
	ctx, span := tracing.Tracer("msg").Start(ctx, "msg.HandleEvent",
		trace.WithAttributes(
			attribute.String("session.id", m.sessionID),
			attribute.String("event.type", string(ev.Type)),
		))
	defer span.End()

	ops := m.transformer.Transform(ev)
	span.SetAttributes(attribute.Int("operations", len(ops)))
	for _, op := range ops {
		if err := m.dispatch(ctx, op); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	return nil
}

func (m *Manager) dispatch(ctx context.Context, op Operation) error {
	switch op := op.(type) {
	case AppendContent:
		m.content.Append(op.Body, op.Block)
		if m.content.NeedsEarlyFlush() {
			return m.content.Flush(ctx)
		}
		m.content.ScheduleFlush(m.flushDelay)
		return nil

	case Flush:
		return m.content.Flush(ctx)

	case TaskList:
		if op.Action == TaskListComplete {
			return m.tasks.Complete(ctx, op.Tasks)
		}
		return m.tasks.Update(ctx, op.Tasks)

	case Question:
		return m.interactive.StartQuestions(ctx, op.ToolUseID, op.Questions, op.CurrentIndex)

	case Approval:
		return m.interactive.StartApproval(ctx, op.ToolUseID, op.Kind)

	case Subagent:
		line := "🤖 Subagent"
		if op.Kind != "" {
			line += " (" + op.Kind + ")"
		}
		if op.Event == SubagentStop {
			line += " finished"
		} else if op.Description != "" {
			line += ": " + op.Description
		}
		m.content.Append(line, true)
		m.content.ScheduleFlush(m.flushDelay)
		return nil

	case StatusUpdate:
		m.emitter.Emit(StatusEvent{
			ModelID:      op.ModelID,
			TotalCostUSD: op.TotalCostUSD,
			InputTokens:  op.InputTokens,
			OutputTokens: op.OutputTokens,
		})
		return nil
	}
	return nil
}

// HandleReaction routes a reaction to the executor owning the post.
// Unknown post ids are ignored.
func (m *Manager) HandleReaction(ctx context.Context, postID, emoji string, removed bool, userID string) error {
	tracked, ok := m.tracker.Lookup(postID)
	if !ok || tracked.SessionID != m.sessionID {
		return nil
	}
	kind, num := platform.ClassifyReaction(emoji)
	if kind == platform.ReactionUnknown {
		return nil
	}

	username, err := m.client.GetUsername(ctx, userID)
	if err != nil {
		slog.Debug("username lookup failed", "session", m.sessionID, "user", userID, "error", err)
		username = userID
	}

	switch tracked.Kind {
	case KindTask:
		if kind != platform.ReactionTaskToggle {
			return nil
		}
		return m.tasks.ToggleMinimize(ctx, !removed)

	case KindApproval, KindQuestion:
		if removed {
			return nil
		}
		return m.interactive.HandleReaction(ctx, postID, kind, num, userID, username)

	case KindWorktreePrompt:
		if removed {
			return nil
		}
		return m.worktree.HandleReaction(ctx, postID, kind, num, userID, username)

	case KindUpdatePrompt:
		if removed {
			return nil
		}
		return m.handleUpdatePromptReaction(ctx, postID, kind, username)

	case KindBugReport:
		if removed {
			return nil
		}
		return m.handleBugReportReaction(ctx, postID, kind, username)
	}
	return nil
}

// HandleUserMessage records an inbound user message and prepares the
// content chain for the agent's reply.
func (m *Manager) HandleUserMessage(ctx context.Context, text string, files []string, fromUser string) error {
	slog.Debug("user message", "session", m.sessionID, "from", fromUser, "bytes", len(text), "files", len(files))
	return m.PrepareForUserMessage(ctx)
}

// PrepareForUserMessage flushes pending content, closes the current
// content post so the next agent output starts fresh, and bumps the
// task post back to the bottom.
func (m *Manager) PrepareForUserMessage(ctx context.Context) error {
	if err := m.content.Flush(ctx); err != nil {
		return fmt.Errorf("flush before user message: %w", err)
	}
	m.content.CloseCurrentPost()
	if m.tasks.HasActiveTasks() {
		if err := m.tasks.BumpToBottom(ctx); err != nil {
			slog.Warn("bump task list failed", "session", m.sessionID, "error", err)
		}
	}
	return nil
}

// Flush forces emission of any pending content.
func (m *Manager) Flush(ctx context.Context) error {
	return m.content.Flush(ctx)
}

// HasPendingContent reports whether unflushed content exists (drives the
// typing heartbeat).
func (m *Manager) HasPendingContent() bool {
	return m.content.HasPending()
}

// Reset cancels timers and drops buffered content and interactive state.
func (m *Manager) Reset() {
	m.content.Reset()
	m.interactive.Reset()
	m.worktree.Reset()
}

// ReleaseSticky drops the task post's pin so a stopped session leaves
// no sticky posts behind.
func (m *Manager) ReleaseSticky(ctx context.Context) {
	m.tasks.Unpin(ctx)
}

// Dispose releases the manager's post index.
func (m *Manager) Dispose() {
	m.Reset()
	m.tracker.RemoveBySession(m.sessionID)
}

// PostUpdatePrompt asks whether to apply a pending self-update.
func (m *Manager) PostUpdatePrompt(ctx context.Context, version string) error {
	body := fmt.Sprintf("⬆️ Update %s is available. React 👍 to update now or 👎 to defer.", version)
	post, err := m.client.CreateInteractivePost(ctx, body, m.threadID,
		[]string{platform.EmojiApprove, platform.EmojiDeny})
	if err != nil {
		return fmt.Errorf("create update prompt: %w", err)
	}
	m.tracker.Register(post.ID, m.sessionID, KindUpdatePrompt)
	m.mu.Lock()
	m.updatePromptPost = post.ID
	m.mu.Unlock()
	return nil
}

// HasUpdatePrompt reports whether an update prompt is outstanding.
func (m *Manager) HasUpdatePrompt() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updatePromptPost != ""
}

func (m *Manager) handleUpdatePromptReaction(ctx context.Context, postID string, kind platform.ReactionKind, username string) error {
	m.mu.Lock()
	if m.updatePromptPost != postID {
		m.mu.Unlock()
		return nil
	}
	m.updatePromptPost = ""
	m.mu.Unlock()

	decision := "defer"
	if kind == platform.ReactionApprove || kind == platform.ReactionAllowAll {
		decision = "now"
	}
	verdict := fmt.Sprintf("⬆️ Update deferred by @%s", username)
	if decision == "now" {
		verdict = fmt.Sprintf("⬆️ Updating now (by @%s)", username)
	}
	if err := m.client.UpdatePost(ctx, postID, verdict); err != nil && !recoverable(err) {
		slog.Warn("finalize update prompt failed", "session", m.sessionID, "error", err)
	}
	m.tracker.Remove(postID)
	m.emitter.Emit(UpdatePromptComplete{Decision: decision})
	return nil
}

// PostBugReportPrompt offers to file a bug report for a crash summary.
func (m *Manager) PostBugReportPrompt(ctx context.Context, summary string) error {
	body := fmt.Sprintf("🐞 Something went wrong: %s\nReact 👍 to file a bug report or 👎 to dismiss.", summary)
	post, err := m.client.CreateInteractivePost(ctx, body, m.threadID,
		[]string{platform.EmojiApprove, platform.EmojiDeny})
	if err != nil {
		return fmt.Errorf("create bug report prompt: %w", err)
	}
	m.tracker.Register(post.ID, m.sessionID, KindBugReport)
	m.mu.Lock()
	m.bugReportPost = post.ID
	m.mu.Unlock()
	return nil
}

func (m *Manager) handleBugReportReaction(ctx context.Context, postID string, kind platform.ReactionKind, username string) error {
	m.mu.Lock()
	if m.bugReportPost != postID {
		m.mu.Unlock()
		return nil
	}
	m.bugReportPost = ""
	m.mu.Unlock()

	accepted := kind == platform.ReactionApprove || kind == platform.ReactionAllowAll
	verdict := fmt.Sprintf("🐞 Dismissed by @%s", username)
	summary := ""
	if accepted {
		// Reference id ties the thread verdict to the log line.
		ref := uuid.NewString()[:8]
		verdict = fmt.Sprintf("🐞 Bug report filed (by @%s) · ref `%s`", username, ref)
		summary = ref
		slog.Info("bug report filed", "session", m.sessionID, "ref", ref, "by", username)
	}
	if err := m.client.UpdatePost(ctx, postID, verdict); err != nil && !recoverable(err) {
		slog.Warn("finalize bug report prompt failed", "session", m.sessionID, "error", err)
	}
	m.tracker.Remove(postID)
	m.emitter.Emit(BugReportComplete{Accepted: accepted, Summary: summary})
	return nil
}

// HydrateTaskListState restores persisted task-post state.
func (m *Manager) HydrateTaskListState(postID, lastBody string, completed, minimized bool) {
	m.tasks.Hydrate(postID, lastBody, completed, minimized)
}

// HydrateInteractiveState restores persisted approval/question state.
func (m *Manager) HydrateInteractiveState(approval *ApprovalState, questions *QuestionState) {
	m.interactive.Hydrate(approval, questions)
}

// HydrateWorktreePrompt restores a persisted worktree prompt.
func (m *Manager) HydrateWorktreePrompt(st *WorktreePromptState) {
	m.worktree.Hydrate(st)
}
