package msg

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/threadclaw/internal/platform"
)

// WorktreePromptKind selects which worktree prompt is pending.
type WorktreePromptKind string

const (
	WorktreePromptNone     WorktreePromptKind = ""
	WorktreePromptBranches WorktreePromptKind = "branch-suggestions"
	WorktreePromptRetry    WorktreePromptKind = "failure-retry"
)

// WorktreePromptState is the persistable pending worktree prompt.
type WorktreePromptState struct {
	Kind         WorktreePromptKind `json:"kind"`
	PostID       string             `json:"post_id,omitempty"`
	Suggestions  []string           `json:"suggestions,omitempty"`
	FailedBranch string             `json:"failed_branch,omitempty"`
	Queued       *QueuedPrompt      `json:"queued,omitempty"`
}

// WorktreePromptExecutor posts branch-suggestion and failure-retry
// prompts and resolves them on reactions. Each prompt completes exactly
// once.
type WorktreePromptExecutor struct {
	client     platform.Client
	tracker    *PostTracker
	emitter    *Emitter
	sessionID  string
	threadID   string
	authorized func(userID string) bool

	mu    sync.Mutex
	state *WorktreePromptState
}

// NewWorktreePromptExecutor builds the executor for one session.
func NewWorktreePromptExecutor(client platform.Client, tracker *PostTracker, emitter *Emitter, sessionID, threadID string, authorized func(string) bool) *WorktreePromptExecutor {
	return &WorktreePromptExecutor{
		client:     client,
		tracker:    tracker,
		emitter:    emitter,
		sessionID:  sessionID,
		threadID:   threadID,
		authorized: authorized,
	}
}

// PromptBranches offers branch-name suggestions for the pending work.
// The queued payload is replayed when the prompt resolves.
func (e *WorktreePromptExecutor) PromptBranches(ctx context.Context, suggestions []string, queued *QueuedPrompt) error {
	if len(suggestions) > len(platform.NumberEmojis) {
		suggestions = suggestions[:len(platform.NumberEmojis)]
	}

	var b strings.Builder
	b.WriteString("🌿 Pick a branch for this session:\n")
	reactions := make([]string, 0, len(suggestions)+1)
	for i, s := range suggestions {
		fmt.Fprintf(&b, "%d️⃣ `%s`\n", i+1, s)
		reactions = append(reactions, platform.NumberEmoji(i+1))
	}
	b.WriteString("👎 to skip and work on the current branch.")
	reactions = append(reactions, platform.EmojiDeny)

	post, err := e.client.CreateInteractivePost(ctx, b.String(), e.threadID, reactions)
	if err != nil {
		return fmt.Errorf("create branch prompt: %w", err)
	}
	e.tracker.Register(post.ID, e.sessionID, KindWorktreePrompt)

	e.mu.Lock()
	e.state = &WorktreePromptState{
		Kind:        WorktreePromptBranches,
		PostID:      post.ID,
		Suggestions: suggestions,
		Queued:      queued,
	}
	e.mu.Unlock()
	return nil
}

// PromptRetry asks whether to retry after a worktree setup failure.
func (e *WorktreePromptExecutor) PromptRetry(ctx context.Context, failedBranch string, queued *QueuedPrompt) error {
	body := fmt.Sprintf("⚠️ Worktree setup for `%s` failed. React 👍 to retry or 👎 to continue without a worktree.", failedBranch)
	post, err := e.client.CreateInteractivePost(ctx, body, e.threadID,
		[]string{platform.EmojiApprove, platform.EmojiDeny})
	if err != nil {
		return fmt.Errorf("create retry prompt: %w", err)
	}
	e.tracker.Register(post.ID, e.sessionID, KindWorktreePrompt)

	e.mu.Lock()
	e.state = &WorktreePromptState{
		Kind:         WorktreePromptRetry,
		PostID:       post.ID,
		FailedBranch: failedBranch,
		Queued:       queued,
	}
	e.mu.Unlock()
	return nil
}

// HandleReaction resolves the pending prompt. Number emojis pick a
// suggestion, denial skips, approval retries (retry prompts only).
func (e *WorktreePromptExecutor) HandleReaction(ctx context.Context, postID string, kind platform.ReactionKind, num int, userID, username string) error {
	e.mu.Lock()
	st := e.state
	e.mu.Unlock()
	if st == nil || st.PostID != postID {
		return nil
	}
	if !e.authorized(userID) {
		slog.Debug("unauthorized worktree prompt reaction ignored", "session", e.sessionID, "user", userID)
		return nil
	}

	var decision string
	switch {
	case kind == platform.ReactionNumber && st.Kind == WorktreePromptBranches && num >= 1 && num <= len(st.Suggestions):
		decision = st.Suggestions[num-1]
	case kind == platform.ReactionApprove && st.Kind == WorktreePromptRetry:
		decision = "retry"
	case kind == platform.ReactionDeny:
		decision = "skip"
	default:
		return nil
	}

	e.mu.Lock()
	if e.state != st {
		e.mu.Unlock()
		return nil
	}
	e.state = nil
	e.mu.Unlock()

	var verdict string
	if decision == "skip" {
		verdict = fmt.Sprintf("⏭️ Skipped by @%s", username)
	} else if decision == "retry" {
		verdict = fmt.Sprintf("🔁 Retrying `%s` (by @%s)", st.FailedBranch, username)
	} else {
		verdict = fmt.Sprintf("🌿 Branch `%s` picked by @%s", decision, username)
	}
	if err := e.client.UpdatePost(ctx, st.PostID, verdict); err != nil && !recoverable(err) {
		slog.Warn("finalize worktree prompt failed", "session", e.sessionID, "error", err)
	}
	e.tracker.Remove(st.PostID)

	e.emitter.Emit(WorktreePromptComplete{
		Decision:     decision,
		Queued:       st.Queued,
		FailedBranch: st.FailedBranch,
	})
	return nil
}

// Pending returns the persistable prompt state, if any.
func (e *WorktreePromptExecutor) Pending() *WorktreePromptState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil
	}
	cp := *e.state
	return &cp
}

// Hydrate restores a persisted prompt after a restart.
func (e *WorktreePromptExecutor) Hydrate(st *WorktreePromptState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = st
	if st != nil && st.PostID != "" {
		e.tracker.Register(st.PostID, e.sessionID, KindWorktreePrompt)
	}
}

// Reset drops the pending prompt without touching posts.
func (e *WorktreePromptExecutor) Reset() {
	e.mu.Lock()
	e.state = nil
	e.mu.Unlock()
}
