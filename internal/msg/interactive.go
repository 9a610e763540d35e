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

// ApprovalState is the persistable plan/action approval state.
type ApprovalState struct {
	PostID    string       `json:"post_id"`
	Kind      ApprovalKind `json:"kind"`
	ToolUseID string       `json:"tool_use_id"`
}

// QuestionOption is one selectable answer of a question item.
type QuestionOption struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// QuestionItem is one question of a set, with its recorded answer.
type QuestionItem struct {
	Header      string           `json:"header,omitempty"`
	Prompt      string           `json:"prompt"`
	Options     []QuestionOption `json:"options"`
	MultiSelect bool             `json:"multi_select,omitempty"`
	Answer      string           `json:"answer,omitempty"`
	Answered    bool             `json:"answered,omitempty"`
}

// QuestionState is the persistable question-set state.
type QuestionState struct {
	ToolUseID     string         `json:"tool_use_id"`
	Index         int            `json:"index"`
	CurrentPostID string         `json:"current_post_id,omitempty"`
	Items         []QuestionItem `json:"items"`
}

// messageApprovalState tracks a pending cross-user message approval.
type messageApprovalState struct {
	postID   string
	fromUser string
	fromName string
	text     string
	files    []string
}

// InteractiveExecutor runs the three reaction-driven sub-state-machines:
// plan/action approvals, question sets, and cross-user message approval.
type InteractiveExecutor struct {
	client    platform.Client
	tracker   *PostTracker
	emitter   *Emitter
	sessionID string
	threadID  string
	sticky    *sync.Mutex // shared with the task-list executor

	// authorized reports whether a reacting user may resolve prompts.
	authorized func(userID string) bool

	mu          sync.Mutex
	approval    *ApprovalState
	questions   *QuestionState
	msgApproval *messageApprovalState
}

// NewInteractiveExecutor builds the executor for one session.
func NewInteractiveExecutor(client platform.Client, tracker *PostTracker, emitter *Emitter, sessionID, threadID string, sticky *sync.Mutex, authorized func(string) bool) *InteractiveExecutor {
	return &InteractiveExecutor{
		client:     client,
		tracker:    tracker,
		emitter:    emitter,
		sessionID:  sessionID,
		threadID:   threadID,
		sticky:     sticky,
		authorized: authorized,
	}
}

// StartApproval posts a plan or action approval prompt. The create is
// taken under the sticky lock so it serializes with task-post bumps.
func (e *InteractiveExecutor) StartApproval(ctx context.Context, toolUseID string, kind ApprovalKind) error {
	body := "🗒️ Plan ready. React 👍 to approve or 👎 to keep planning."
	if kind == ApprovalAction {
		body = "⚠️ The agent wants to proceed. React 👍 to approve or 👎 to deny."
	}

	e.sticky.Lock()
	post, err := e.client.CreateInteractivePost(ctx, body, e.threadID,
		[]string{platform.EmojiApprove, platform.EmojiDeny})
	e.sticky.Unlock()
	if err != nil {
		return fmt.Errorf("create approval post: %w", err)
	}

	e.tracker.Register(post.ID, e.sessionID, KindApproval)
	e.mu.Lock()
	e.approval = &ApprovalState{PostID: post.ID, Kind: kind, ToolUseID: toolUseID}
	e.mu.Unlock()
	return nil
}

// StartQuestions posts the first unanswered item of a question set.
func (e *InteractiveExecutor) StartQuestions(ctx context.Context, toolUseID string, questions []agentproc.QuestionInput, startIndex int) error {
	items := make([]QuestionItem, len(questions))
	for i, q := range questions {
		opts := make([]QuestionOption, len(q.Options))
		for j, o := range q.Options {
			opts[j] = QuestionOption{Label: o.Label, Description: o.Description}
		}
		items[i] = QuestionItem{
			Header:      q.Header,
			Prompt:      q.Question,
			Options:     opts,
			MultiSelect: q.MultiSelect,
		}
	}
	st := &QuestionState{ToolUseID: toolUseID, Index: startIndex, Items: items}

	e.mu.Lock()
	e.questions = st
	e.mu.Unlock()
	return e.postCurrentQuestion(ctx)
}

// StartMessageApproval asks the owner to rule on a non-allowed user's
// message.
func (e *InteractiveExecutor) StartMessageApproval(ctx context.Context, fromUser, fromName, text string, files []string) error {
	f := e.client.GetFormatter()
	quoted := f.Blockquote(oneLine(text, 300))
	body := fmt.Sprintf("%s wants to talk to this session:\n%s\n👍 allow once · ✅ invite · 👎 deny",
		f.Bold("@"+fromName), quoted)

	post, err := e.client.CreateInteractivePost(ctx, body, e.threadID,
		[]string{platform.EmojiApprove, platform.EmojiAllowAll, platform.EmojiDeny})
	if err != nil {
		return fmt.Errorf("create message approval post: %w", err)
	}

	e.tracker.Register(post.ID, e.sessionID, KindApproval)
	e.mu.Lock()
	e.msgApproval = &messageApprovalState{
		postID:   post.ID,
		fromUser: fromUser,
		fromName: fromName,
		text:     text,
		files:    files,
	}
	e.mu.Unlock()
	return nil
}

// HandleReaction routes a reaction-added on an interactive post.
// Unauthorized reactions are logged and ignored; the waiter keeps
// waiting.
func (e *InteractiveExecutor) HandleReaction(ctx context.Context, postID string, kind platform.ReactionKind, num int, userID, username string) error {
	e.mu.Lock()
	approval := e.approval
	questions := e.questions
	msgApproval := e.msgApproval
	e.mu.Unlock()

	switch {
	case msgApproval != nil && msgApproval.postID == postID:
		return e.handleMessageApproval(ctx, kind, userID, username)
	case approval != nil && approval.PostID == postID:
		return e.handleApproval(ctx, kind, userID, username)
	case questions != nil && questions.CurrentPostID == postID:
		return e.handleQuestionReaction(ctx, kind, num, userID, username)
	}
	return nil
}

func (e *InteractiveExecutor) handleApproval(ctx context.Context, kind platform.ReactionKind, userID, username string) error {
	if !e.authorized(userID) {
		slog.Debug("unauthorized approval reaction ignored", "session", e.sessionID, "user", userID)
		return nil
	}

	var approved bool
	switch kind {
	case platform.ReactionApprove, platform.ReactionAllowAll:
		approved = true
	case platform.ReactionDeny:
		approved = false
	default:
		return nil
	}

	e.mu.Lock()
	st := e.approval
	e.approval = nil
	e.mu.Unlock()
	if st == nil {
		return nil
	}

	verdict := "✅ Approved by @" + username
	if !approved {
		verdict = "❌ Denied by @" + username
	}
	if err := e.client.UpdatePost(ctx, st.PostID, verdict); err != nil && !recoverable(err) {
		return fmt.Errorf("finalize approval post: %w", err)
	}
	e.tracker.Remove(st.PostID)

	e.emitter.Emit(ApprovalComplete{
		ToolUseID: st.ToolUseID,
		Kind:      st.Kind,
		Approved:  approved,
		AllowAll:  kind == platform.ReactionAllowAll,
		ByUser:    username,
	})
	return nil
}

func (e *InteractiveExecutor) handleQuestionReaction(ctx context.Context, kind platform.ReactionKind, num int, userID, username string) error {
	if !e.authorized(userID) {
		slog.Debug("unauthorized question reaction ignored", "session", e.sessionID, "user", userID)
		return nil
	}

	e.mu.Lock()
	st := e.questions
	if st == nil || st.Index >= len(st.Items) {
		e.mu.Unlock()
		return nil
	}
	item := &st.Items[st.Index]

	switch {
	case kind == platform.ReactionNumber && num >= 1 && num <= len(item.Options):
		label := item.Options[num-1].Label
		if item.MultiSelect {
			// Numbers accumulate; approval emoji confirms the selection.
			if item.Answer == "" {
				item.Answer = label
			} else if !strings.Contains(item.Answer, label) {
				item.Answer += ", " + label
			}
			e.mu.Unlock()
			return nil
		}
		item.Answer = label
		item.Answered = true
	case kind == platform.ReactionApprove && item.MultiSelect && item.Answer != "":
		item.Answered = true
	default:
		e.mu.Unlock()
		return nil
	}

	answeredPostID := st.CurrentPostID
	answer := item.Answer
	headline := item.headerOrPrompt()
	st.Index++
	done := st.Index >= len(st.Items)
	toolUseID := st.ToolUseID
	var answers []string
	if done {
		answers = make([]string, len(st.Items))
		for i, it := range st.Items {
			answers[i] = it.Answer
		}
		e.questions = nil
	}
	e.mu.Unlock()

	// Freeze the answered post, then either post the next item or finish.
	f := e.client.GetFormatter()
	frozen := fmt.Sprintf("%s — %s", headline, f.Bold(answer))
	if err := e.client.UpdatePost(ctx, answeredPostID, frozen); err != nil && !recoverable(err) {
		slog.Warn("freeze answered question failed", "session", e.sessionID, "error", err)
	}
	e.tracker.Remove(answeredPostID)

	if done {
		e.emitter.Emit(QuestionComplete{ToolUseID: toolUseID, Answers: answers})
		return nil
	}
	return e.postCurrentQuestion(ctx)
}

func (e *InteractiveExecutor) handleMessageApproval(ctx context.Context, kind platform.ReactionKind, userID, username string) error {
	if !e.authorized(userID) {
		slog.Debug("unauthorized message-approval reaction ignored", "session", e.sessionID, "user", userID)
		return nil
	}

	var decision MessageDecision
	switch kind {
	case platform.ReactionApprove:
		decision = MessageAllow
	case platform.ReactionAllowAll:
		decision = MessageInvite
	case platform.ReactionDeny:
		decision = MessageDeny
	default:
		return nil
	}

	e.mu.Lock()
	st := e.msgApproval
	e.msgApproval = nil
	e.mu.Unlock()
	if st == nil {
		return nil
	}

	var verdict string
	switch decision {
	case MessageAllow:
		verdict = fmt.Sprintf("✅ @%s's message allowed once by @%s", st.fromName, username)
	case MessageInvite:
		verdict = fmt.Sprintf("✅ @%s invited to this session by @%s", st.fromName, username)
	case MessageDeny:
		verdict = fmt.Sprintf("❌ @%s's message denied by @%s", st.fromName, username)
	}
	if err := e.client.UpdatePost(ctx, st.postID, verdict); err != nil && !recoverable(err) {
		slog.Warn("finalize message approval failed", "session", e.sessionID, "error", err)
	}
	e.tracker.Remove(st.postID)

	e.emitter.Emit(MessageApprovalComplete{
		Decision:        decision,
		FromUser:        st.fromUser,
		OriginalMessage: st.text,
		Files:           st.files,
	})
	return nil
}

// postCurrentQuestion renders and posts the current question item.
func (e *InteractiveExecutor) postCurrentQuestion(ctx context.Context) error {
	e.mu.Lock()
	st := e.questions
	if st == nil || st.Index >= len(st.Items) {
		e.mu.Unlock()
		return nil
	}
	idx := st.Index
	total := len(st.Items)
	item := st.Items[idx]
	e.mu.Unlock()

	f := e.client.GetFormatter()
	var b strings.Builder
	fmt.Fprintf(&b, "❓ %s\n", f.Bold(fmt.Sprintf("Question %d/%d — %s", idx+1, total, item.headerOrPrompt())))
	if item.Header != "" && item.Prompt != "" {
		b.WriteString(item.Prompt + "\n")
	}
	reactions := make([]string, 0, len(item.Options)+1)
	for i, opt := range item.Options {
		if i >= len(platform.NumberEmojis) {
			break
		}
		line := fmt.Sprintf("%d️⃣ %s", i+1, opt.Label)
		if opt.Description != "" {
			line += " — " + opt.Description
		}
		b.WriteString(line + "\n")
		reactions = append(reactions, platform.NumberEmoji(i+1))
	}
	if item.MultiSelect {
		b.WriteString("Pick any numbers, then 👍 to confirm.\n")
		reactions = append(reactions, platform.EmojiApprove)
	}

	post, err := e.client.CreateInteractivePost(ctx, strings.TrimRight(b.String(), "\n"), e.threadID, reactions)
	if err != nil {
		return fmt.Errorf("create question post: %w", err)
	}
	e.tracker.Register(post.ID, e.sessionID, KindQuestion)

	e.mu.Lock()
	if e.questions == st {
		st.CurrentPostID = post.ID
	}
	e.mu.Unlock()
	return nil
}

// PendingApproval returns the persistable approval state, if any.
func (e *InteractiveExecutor) PendingApproval() *ApprovalState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.approval == nil {
		return nil
	}
	cp := *e.approval
	return &cp
}

// PendingQuestions returns the persistable question-set state, if any.
func (e *InteractiveExecutor) PendingQuestions() *QuestionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.questions == nil {
		return nil
	}
	cp := *e.questions
	cp.Items = append([]QuestionItem(nil), e.questions.Items...)
	return &cp
}

// Hydrate restores persisted interactive state after a restart.
func (e *InteractiveExecutor) Hydrate(approval *ApprovalState, questions *QuestionState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.approval = approval
	e.questions = questions
	if approval != nil && approval.PostID != "" {
		e.tracker.Register(approval.PostID, e.sessionID, KindApproval)
	}
	if questions != nil && questions.CurrentPostID != "" {
		e.tracker.Register(questions.CurrentPostID, e.sessionID, KindQuestion)
	}
}

// Reset drops all pending interactive state without touching posts.
func (e *InteractiveExecutor) Reset() {
	e.mu.Lock()
	e.approval = nil
	e.questions = nil
	e.msgApproval = nil
	e.mu.Unlock()
}

func (q QuestionItem) headerOrPrompt() string {
	if q.Header != "" {
		return q.Header
	}
	return q.Prompt
}
