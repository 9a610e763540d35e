package msg

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/nextlevelbuilder/threadclaw/internal/agentproc"
	"github.com/nextlevelbuilder/threadclaw/internal/platform"
)

// thinkingTagRe strips embedded <thinking> passages from text blocks.
var thinkingTagRe = regexp.MustCompile(`(?s)<thinking>.*?</thinking>`)

// maxThinkingPreview bounds the rendered thinking blockquote.
const maxThinkingPreview = 280

// Transformer converts agent events into ordered message operations.
// Pure apart from the tool start-time side channel used for elapsed-time
// display; the same event sequence yields the same operation sequence.
type Transformer struct {
	SessionID    string
	Formatter    platform.Formatter
	WorktreePath string
	Detailed     bool

	toolStartTimes map[string]time.Time
	now            func() time.Time
}

// NewTransformer builds a transformer for one session.
func NewTransformer(sessionID string, f platform.Formatter, worktreePath string, detailed bool) *Transformer {
	return &Transformer{
		SessionID:      sessionID,
		Formatter:      f,
		WorktreePath:   worktreePath,
		Detailed:       detailed,
		toolStartTimes: make(map[string]time.Time),
		now:            time.Now,
	}
}

// Transform maps one agent event to its operation sequence. Unknown
// event types yield nothing.
func (t *Transformer) Transform(ev agentproc.Event) []Operation {
	switch ev.Type {
	case agentproc.TypeAssistant:
		return t.transformAssistant(ev)
	case agentproc.TypeToolUse:
		return t.transformToolUse(ev)
	case agentproc.TypeToolResult:
		return t.transformToolResult(ev)
	case agentproc.TypeResult:
		return t.transformResult(ev)
	default:
		return nil
	}
}

func (t *Transformer) transformAssistant(ev agentproc.Event) []Operation {
	if ev.Message == nil {
		return nil
	}

	var ops []Operation
	var parts []string

	flushParts := func() {
		if len(parts) == 0 {
			return
		}
		ops = append(ops, AppendContent{Body: strings.Join(parts, "\n\n")})
		parts = nil
	}

	for _, block := range ev.Message.Content {
		switch block.Type {
		case agentproc.BlockText:
			text := strings.TrimSpace(thinkingTagRe.ReplaceAllString(block.Text, ""))
			if text != "" {
				parts = append(parts, text)
			}
		case agentproc.BlockThinking:
			if preview := t.renderThinking(block.Thinking); preview != "" {
				parts = append(parts, preview)
			}
		case agentproc.BlockToolUse, agentproc.BlockServerToolUse:
			t.toolStartTimes[block.ID] = t.now()
			if special := t.specialToolOps(block.ID, block.Name, block.Input); special != nil {
				flushParts()
				ops = append(ops, special...)
				continue
			}
			parts = append(parts, formatToolLine(t.Formatter, block.Name, block.Input, t.WorktreePath, t.Detailed))
		}
	}
	flushParts()
	return ops
}

func (t *Transformer) transformToolUse(ev agentproc.Event) []Operation {
	tu := ev.ToolUse
	if tu == nil {
		return nil
	}
	t.toolStartTimes[tu.ID] = t.now()

	if special := t.specialToolOps(tu.ID, tu.Name, tu.Input); special != nil {
		return special
	}
	line := formatToolLine(t.Formatter, tu.Name, tu.Input, t.WorktreePath, t.Detailed)
	return []Operation{AppendContent{Body: line, Block: true}}
}

func (t *Transformer) transformToolResult(ev agentproc.Event) []Operation {
	tr := ev.ToolResult
	if tr == nil {
		return nil
	}
	elapsed := 0
	if start, ok := t.toolStartTimes[tr.ToolUseID]; ok {
		elapsed = int(t.now().Sub(start).Seconds())
		delete(t.toolStartTimes, tr.ToolUseID)
	}
	return []Operation{
		AppendContent{Body: formatToolResultMarker(tr.IsError, elapsed), Block: true},
		Flush{Reason: FlushToolComplete},
	}
}

func (t *Transformer) transformResult(ev agentproc.Event) []Operation {
	ops := []Operation{Flush{Reason: FlushResult}}
	r := ev.Result
	if r == nil {
		return ops
	}
	status := StatusUpdate{ModelID: r.Model, TotalCostUSD: r.CostUSD}
	if r.Usage != nil {
		status.InputTokens = r.Usage.InputTokens
		status.OutputTokens = r.Usage.OutputTokens
	}
	return append(ops, status)
}

// specialToolOps intercepts TodoWrite, Task, AskUserQuestion and
// ExitPlanMode. Returns nil when the tool is not special (the caller
// renders a plain tool line instead).
func (t *Transformer) specialToolOps(toolUseID, name string, input []byte) []Operation {
	switch name {
	case agentproc.ToolTodoWrite:
		var in agentproc.TodoWriteInput
		if err := unmarshalLoose(input, &in); err != nil || len(in.Todos) == 0 {
			return []Operation{}
		}
		action := TaskListUpdate
		if allCompleted(in.Todos) {
			action = TaskListComplete
		}
		return []Operation{TaskList{Action: action, Tasks: in.Todos}}

	case agentproc.ToolTask:
		var in agentproc.TaskInput
		if err := unmarshalLoose(input, &in); err != nil {
			return []Operation{}
		}
		desc := in.Description
		if desc == "" {
			desc = oneLine(in.Prompt, 100)
		}
		return []Operation{Subagent{
			ToolUseID:   toolUseID,
			Event:       SubagentStart,
			Description: desc,
			Kind:        in.SubagentType,
		}}

	case agentproc.ToolAskUserQuestion:
		var in agentproc.AskUserQuestionInput
		if err := unmarshalLoose(input, &in); err != nil || len(in.Questions) == 0 {
			return []Operation{}
		}
		return []Operation{
			Flush{Reason: FlushExplicit},
			Question{ToolUseID: toolUseID, Questions: in.Questions},
		}

	case agentproc.ToolExitPlanMode:
		return []Operation{
			Flush{Reason: FlushExplicit},
			Approval{ToolUseID: toolUseID, Kind: ApprovalPlan},
		}
	}
	return nil
}

func (t *Transformer) renderThinking(thinking string) string {
	s := strings.TrimSpace(thinking)
	if s == "" {
		return ""
	}
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > maxThinkingPreview {
		s = s[:maxThinkingPreview] + "…"
	}
	return t.Formatter.Blockquote(t.Formatter.Italic(s))
}

func unmarshalLoose(b []byte, v any) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, v)
}

func allCompleted(todos []agentproc.TodoItem) bool {
	for _, td := range todos {
		if td.Status != "completed" {
			return false
		}
	}
	return true
}
