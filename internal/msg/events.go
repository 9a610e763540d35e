package msg

import "sync"

// Event is a completion or status notification flowing from the
// executors up to the session. Emission is synchronous and in order.
type Event interface {
	isEvent()
}

// QuestionComplete fires once per question set, carrying all answers in
// question order.
type QuestionComplete struct {
	ToolUseID string
	Answers   []string
}

// ApprovalComplete fires when a plan or action approval resolves.
// AllowAll means the approver asked to suppress further prompts.
type ApprovalComplete struct {
	ToolUseID string
	Kind      ApprovalKind
	Approved  bool
	AllowAll  bool
	ByUser    string
}

// MessageDecision is the owner's verdict on a non-allowed user's message.
type MessageDecision string

const (
	MessageAllow  MessageDecision = "allow"
	MessageInvite MessageDecision = "invite"
	MessageDeny   MessageDecision = "deny"
)

// MessageApprovalComplete fires when the owner rules on a cross-user
// message.
type MessageApprovalComplete struct {
	Decision        MessageDecision
	FromUser        string
	OriginalMessage string
	Files           []string
}

// QueuedPrompt is the payload held while a worktree prompt is pending.
type QueuedPrompt struct {
	Prompt         string
	Files          []string
	ResponsePostID string
	FirstPrompt    string
}

// WorktreePromptComplete fires when a branch-pick or retry prompt
// resolves.
type WorktreePromptComplete struct {
	Decision     string // branch name, "retry", or "skip"
	Queued       *QueuedPrompt
	FailedBranch string
}

// UpdatePromptComplete fires when the user rules on a pending update.
type UpdatePromptComplete struct {
	Decision string // "now" or "defer"
}

// BugReportComplete fires when a bug-report prompt resolves.
type BugReportComplete struct {
	Accepted bool
	Summary  string
}

// ContextPromptComplete fires when a context prompt resolves.
type ContextPromptComplete struct {
	Accepted bool
}

// StatusEvent carries model/cost/token usage from a result event.
type StatusEvent struct {
	ModelID      string
	TotalCostUSD float64
	InputTokens  int64
	OutputTokens int64
}

// LifecycleEvent reports executor-observed lifecycle edges.
type LifecycleEvent struct {
	Name string
}

func (QuestionComplete) isEvent()        {}
func (ApprovalComplete) isEvent()        {}
func (MessageApprovalComplete) isEvent() {}
func (WorktreePromptComplete) isEvent()  {}
func (UpdatePromptComplete) isEvent()    {}
func (BugReportComplete) isEvent()       {}
func (ContextPromptComplete) isEvent()   {}
func (StatusEvent) isEvent()             {}
func (LifecycleEvent) isEvent()          {}

// Emitter fans events out to subscribers synchronously, in subscription
// order.
type Emitter struct {
	mu   sync.RWMutex
	subs []func(Event)
}

// Subscribe registers a handler. Handlers run on the emitting goroutine.
func (e *Emitter) Subscribe(fn func(Event)) {
	e.mu.Lock()
	e.subs = append(e.subs, fn)
	e.mu.Unlock()
}

// Emit delivers ev to every subscriber.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	subs := e.subs
	e.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}
