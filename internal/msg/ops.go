package msg

import "github.com/nextlevelbuilder/threadclaw/internal/agentproc"

// Operation is one abstract message operation produced by the transform.
// Operations for one session are totally ordered.
type Operation interface {
	isOperation()
}

// FlushReason explains why a flush was requested.
type FlushReason string

const (
	FlushExplicit     FlushReason = "explicit"
	FlushToolComplete FlushReason = "tool_complete"
	FlushResult       FlushReason = "result"
	FlushTimer        FlushReason = "timer"
)

// AppendContent adds text to the session's content buffer. Block marks a
// semantic unit that must not be split internally.
type AppendContent struct {
	Body  string
	Block bool
}

// Flush requests emission of the accumulated content buffer.
type Flush struct {
	Reason FlushReason
}

// TaskListAction selects the task-list operation variant.
type TaskListAction string

const (
	TaskListUpdate   TaskListAction = "update"
	TaskListComplete TaskListAction = "complete"
)

// TaskList updates or completes the session's task post.
type TaskList struct {
	Action TaskListAction
	Tasks  []agentproc.TodoItem
}

// Question starts (or resumes) an interactive question set.
type Question struct {
	ToolUseID    string
	Questions    []agentproc.QuestionInput
	CurrentIndex int
}

// ApprovalKind distinguishes plan approval from action approval.
type ApprovalKind string

const (
	ApprovalPlan   ApprovalKind = "plan"
	ApprovalAction ApprovalKind = "action"
)

// Approval requests an interactive approval post.
type Approval struct {
	ToolUseID string
	Kind      ApprovalKind
}

// SubagentEvent marks subagent lifecycle edges.
type SubagentEvent string

const (
	SubagentStart SubagentEvent = "start"
	SubagentStop  SubagentEvent = "stop"
)

// Subagent reports a Task-tool subagent starting or stopping.
type Subagent struct {
	ToolUseID   string
	Event       SubagentEvent
	Description string
	Kind        string
}

// StatusUpdate carries usage accounting from a result event.
type StatusUpdate struct {
	ModelID      string
	TotalCostUSD float64
	InputTokens  int64
	OutputTokens int64
}

func (AppendContent) isOperation() {}
func (Flush) isOperation()         {}
func (TaskList) isOperation()      {}
func (Question) isOperation()      {}
func (Approval) isOperation()      {}
func (Subagent) isOperation()      {}
func (StatusUpdate) isOperation()  {}
