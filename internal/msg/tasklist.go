package msg

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/threadclaw/internal/agentproc"
	"github.com/nextlevelbuilder/threadclaw/internal/platform"
)

// TaskListExecutor owns the session's pinned task post. All mutations
// are serialized by the sticky lock, which it shares with plan-approval
// bumps so two concurrent bumps cannot mint duplicate task posts.
type TaskListExecutor struct {
	client    platform.Client
	tracker   *PostTracker
	sessionID string
	threadID  string

	sticky *sync.Mutex // shared sticky lock

	postID           string
	lastRenderedBody string
	completed        bool
	minimized        bool
	tasks            []agentproc.TodoItem
}

// NewTaskListExecutor builds the executor. sticky is the shared sticky
// lock for this session.
func NewTaskListExecutor(client platform.Client, tracker *PostTracker, sessionID, threadID string, sticky *sync.Mutex) *TaskListExecutor {
	return &TaskListExecutor{
		client:    client,
		tracker:   tracker,
		sessionID: sessionID,
		threadID:  threadID,
		sticky:    sticky,
	}
}

// Update renders the task list and creates or updates the pinned post.
// Ignored after Complete: the task post lifecycle is monotonic.
func (e *TaskListExecutor) Update(ctx context.Context, tasks []agentproc.TodoItem) error {
	e.sticky.Lock()
	defer e.sticky.Unlock()

	if e.completed {
		slog.Debug("task list update after completion ignored", "session", e.sessionID)
		return nil
	}
	e.tasks = tasks
	body := e.render()
	if e.postID == "" {
		return e.createLocked(ctx, body)
	}
	if body == e.lastRenderedBody {
		return nil
	}
	if err := e.client.UpdatePost(ctx, e.postID, body); err != nil {
		if recoverable(err) {
			e.postID = ""
			return e.createLocked(ctx, body)
		}
		return fmt.Errorf("update task post: %w", err)
	}
	e.lastRenderedBody = body
	return nil
}

// Complete renders the terminal strikethrough body, unpins, and freezes
// the post. No mutation is issued afterwards.
func (e *TaskListExecutor) Complete(ctx context.Context, tasks []agentproc.TodoItem) error {
	e.sticky.Lock()
	defer e.sticky.Unlock()

	if e.completed {
		return nil
	}
	if len(tasks) > 0 {
		e.tasks = tasks
	}
	e.completed = true
	if e.postID == "" {
		return nil
	}
	body := e.renderCompleted()
	if err := e.client.UpdatePost(ctx, e.postID, body); err != nil && !recoverable(err) {
		return fmt.Errorf("finalize task post: %w", err)
	}
	e.lastRenderedBody = body
	if err := e.client.UnpinPost(ctx, e.postID); err != nil {
		slog.Debug("unpin task post failed", "session", e.sessionID, "error", err)
	}
	if err := e.client.RemoveReaction(ctx, e.postID, platform.EmojiTaskToggle); err != nil {
		slog.Debug("remove toggle reaction failed", "session", e.sessionID, "error", err)
	}
	return nil
}

// ToggleMinimize switches between the compact and full renderings.
// Idempotent with respect to the current rendered body.
func (e *TaskListExecutor) ToggleMinimize(ctx context.Context, minimize bool) error {
	e.sticky.Lock()
	defer e.sticky.Unlock()

	if e.completed || e.postID == "" {
		return nil
	}
	e.minimized = minimize
	body := e.render()
	if body == e.lastRenderedBody {
		return nil
	}
	if err := e.client.UpdatePost(ctx, e.postID, body); err != nil {
		if recoverable(err) {
			e.postID = ""
			return nil
		}
		return fmt.Errorf("toggle task post: %w", err)
	}
	e.lastRenderedBody = body
	return nil
}

// BumpForContent hands the existing task post over to the content chain:
// the post is overwritten with newContentBody and a fresh task post is
// created at the thread bottom. Returns the repurposed post id, or ""
// when there is no active task post.
func (e *TaskListExecutor) BumpForContent(ctx context.Context, newContentBody string) (string, error) {
	e.sticky.Lock()
	defer e.sticky.Unlock()

	if e.completed || e.postID == "" {
		return "", nil
	}
	oldID := e.postID

	if err := e.client.UpdatePost(ctx, oldID, newContentBody); err != nil {
		if recoverable(err) {
			// The sticky is gone; fall back to a plain create path.
			e.postID = ""
			return "", nil
		}
		return "", fmt.Errorf("repurpose task post: %w", err)
	}
	if err := e.client.RemoveReaction(ctx, oldID, platform.EmojiTaskToggle); err != nil {
		slog.Debug("remove toggle reaction failed", "session", e.sessionID, "error", err)
	}
	if err := e.client.UnpinPost(ctx, oldID); err != nil {
		slog.Debug("unpin repurposed post failed", "session", e.sessionID, "error", err)
	}

	e.postID = ""
	if err := e.createLocked(ctx, e.render()); err != nil {
		return "", err
	}
	return oldID, nil
}

// BumpToBottom deletes and recreates the task post so it stays the
// visually-bottom post of the thread, preserving body and minimize
// state.
func (e *TaskListExecutor) BumpToBottom(ctx context.Context) error {
	e.sticky.Lock()
	defer e.sticky.Unlock()

	if e.completed || e.postID == "" {
		return nil
	}
	old := e.postID
	if err := e.client.DeletePost(ctx, old); err != nil && !recoverable(err) {
		return fmt.Errorf("delete task post for bump: %w", err)
	}
	e.tracker.Remove(old)
	e.postID = ""
	return e.createLocked(ctx, e.lastRenderedBody)
}

// Unpin removes the task post's pin without finalizing it, for session
// teardown. The post body is left as-is.
func (e *TaskListExecutor) Unpin(ctx context.Context) {
	e.sticky.Lock()
	defer e.sticky.Unlock()

	if e.postID == "" || e.completed {
		return
	}
	if err := e.client.UnpinPost(ctx, e.postID); err != nil {
		slog.Debug("unpin task post failed", "session", e.sessionID, "error", err)
	}
}

// Hydrate restores persisted state after a process restart.
func (e *TaskListExecutor) Hydrate(postID, lastBody string, completed, minimized bool) {
	e.sticky.Lock()
	defer e.sticky.Unlock()
	e.postID = postID
	e.lastRenderedBody = lastBody
	e.completed = completed
	e.minimized = minimized
	if postID != "" {
		e.tracker.Register(postID, e.sessionID, KindTask)
	}
}

// Snapshot returns the persistable state.
func (e *TaskListExecutor) Snapshot() (postID, lastBody string, completed, minimized bool) {
	e.sticky.Lock()
	defer e.sticky.Unlock()
	return e.postID, e.lastRenderedBody, e.completed, e.minimized
}

// HasActiveTasks reports whether an uncompleted task post exists.
func (e *TaskListExecutor) HasActiveTasks() bool {
	e.sticky.Lock()
	defer e.sticky.Unlock()
	return e.postID != "" && !e.completed
}

// Progress returns completed and total task counts.
func (e *TaskListExecutor) Progress() (done, total int) {
	e.sticky.Lock()
	defer e.sticky.Unlock()
	return progress(e.tasks)
}

// createLocked creates and pins a fresh task post. Sticky lock held.
func (e *TaskListExecutor) createLocked(ctx context.Context, body string) error {
	if body == "" {
		body = e.render()
	}
	post, err := e.client.CreateInteractivePost(ctx, body, e.threadID, []string{platform.EmojiTaskToggle})
	if err != nil {
		return fmt.Errorf("create task post: %w", err)
	}
	e.postID = post.ID
	e.lastRenderedBody = body
	e.tracker.Register(post.ID, e.sessionID, KindTask)
	if err := e.client.PinPost(ctx, post.ID); err != nil {
		slog.Debug("pin task post failed", "session", e.sessionID, "error", err)
	}
	return nil
}

func progress(tasks []agentproc.TodoItem) (done, total int) {
	for _, t := range tasks {
		if t.Status == "completed" {
			done++
		}
	}
	return done, len(tasks)
}

func taskGlyph(status string) string {
	switch status {
	case "completed":
		return "✅"
	case "in_progress":
		return "🔄"
	default:
		return "☐"
	}
}

func (e *TaskListExecutor) header() string {
	done, total := progress(e.tasks)
	pct := 0
	if total > 0 {
		pct = done * 100 / total
	}
	return fmt.Sprintf("📋 Tasks (%d/%d · %d%%)", done, total, pct)
}

// render produces the full or minimized body for the current state.
func (e *TaskListExecutor) render() string {
	var b strings.Builder
	b.WriteString(e.header())
	if e.minimized {
		for _, t := range e.tasks {
			if t.Status == "in_progress" {
				label := t.ActiveForm
				if label == "" {
					label = t.Content
				}
				b.WriteString("\n🔄 " + label)
				break
			}
		}
		return b.String()
	}
	for _, t := range e.tasks {
		b.WriteString("\n" + taskGlyph(t.Status) + " " + t.Content)
	}
	return b.String()
}

// renderCompleted produces the terminal strikethrough body.
func (e *TaskListExecutor) renderCompleted() string {
	f := e.client.GetFormatter()
	var b strings.Builder
	done, total := progress(e.tasks)
	b.WriteString(fmt.Sprintf("📋 Tasks done (%d/%d)", done, total))
	for _, t := range e.tasks {
		b.WriteString("\n" + taskGlyph(t.Status) + " " + f.Strike(t.Content))
	}
	return b.String()
}
