// Package agentproc manages the coding-agent child process and its
// line-delimited stream-json event protocol.
package agentproc

import "encoding/json"

// Event is one line of the agent's stream-json output. Type is the
// discriminant; exactly one payload field is set per recognized type.
// Unknown types are ignored by consumers.
type Event struct {
	Type       string            `json:"type"`
	Message    *AssistantMessage `json:"message,omitempty"`
	ToolUse    *ToolUse          `json:"tool_use,omitempty"`
	ToolResult *ToolResult       `json:"tool_result,omitempty"`
	Result     *Result           `json:"result,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
}

// Event type discriminants.
const (
	TypeAssistant  = "assistant"
	TypeToolUse    = "tool_use"
	TypeToolResult = "tool_result"
	TypeResult     = "result"
	TypeSystem     = "system"
)

// AssistantMessage carries ordered content blocks.
type AssistantMessage struct {
	Content []ContentBlock `json:"content"`
}

// ContentBlock is one item of an assistant message. Type selects which
// fields are meaningful: text, tool_use (ID/Name/Input), thinking, or
// server_tool_use (Name/Input).
type ContentBlock struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ID       string          `json:"id,omitempty"`
	Name     string          `json:"name,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
	Thinking string          `json:"thinking,omitempty"`
}

// Content block types.
const (
	BlockText          = "text"
	BlockToolUse       = "tool_use"
	BlockThinking      = "thinking"
	BlockServerToolUse = "server_tool_use"
)

// ToolUse is a standalone tool invocation event.
type ToolUse struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

// ToolResult reports completion of a tool invocation.
type ToolResult struct {
	ToolUseID string `json:"tool_use_id"`
	IsError   bool   `json:"is_error,omitempty"`
}

// Result closes one agent turn and carries usage accounting.
type Result struct {
	Model   string  `json:"model,omitempty"`
	Usage   *Usage  `json:"usage,omitempty"`
	CostUSD float64 `json:"cost_usd,omitempty"`
}

// Usage is token accounting from the result event.
type Usage struct {
	InputTokens  int64 `json:"input_tokens,omitempty"`
	OutputTokens int64 `json:"output_tokens,omitempty"`
}

// Special tool names the pipeline intercepts instead of rendering as
// plain tool lines.
const (
	ToolTodoWrite       = "TodoWrite"
	ToolTask            = "Task"
	ToolAskUserQuestion = "AskUserQuestion"
	ToolExitPlanMode    = "ExitPlanMode"
)

// TodoWriteInput is the TodoWrite tool payload.
type TodoWriteInput struct {
	Todos []TodoItem `json:"todos"`
}

// TodoItem is one task entry.
type TodoItem struct {
	Content    string `json:"content"`
	Status     string `json:"status"` // pending | in_progress | completed
	ActiveForm string `json:"activeForm,omitempty"`
}

// TaskInput is the Task (subagent) tool payload.
type TaskInput struct {
	Description  string `json:"description,omitempty"`
	Prompt       string `json:"prompt,omitempty"`
	SubagentType string `json:"subagent_type,omitempty"`
}

// AskUserQuestionInput is the AskUserQuestion tool payload.
type AskUserQuestionInput struct {
	Questions []QuestionInput `json:"questions"`
}

// QuestionInput is one question with its options.
type QuestionInput struct {
	Header      string        `json:"header,omitempty"`
	Question    string        `json:"question"`
	Options     []OptionInput `json:"options"`
	MultiSelect bool          `json:"multiSelect,omitempty"`
}

// OptionInput is one selectable answer.
type OptionInput struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// ParseEvent decodes one stream-json line. Callers should skip lines
// that fail to decode rather than abort the stream.
func ParseEvent(line []byte) (Event, error) {
	var ev Event
	err := json.Unmarshal(line, &ev)
	return ev, err
}
