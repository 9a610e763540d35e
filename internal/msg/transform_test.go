package msg

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/threadclaw/internal/agentproc"
)

func newTestTransformer() *Transformer {
	return NewTransformer("sess", plainFormatter{}, "", false)
}

func assistantEvent(blocks ...agentproc.ContentBlock) agentproc.Event {
	return agentproc.Event{
		Type:    agentproc.TypeAssistant,
		Message: &agentproc.AssistantMessage{Content: blocks},
	}
}

func TestTransformAssistantText(t *testing.T) {
	tr := newTestTransformer()
	ops := tr.Transform(assistantEvent(
		agentproc.ContentBlock{Type: agentproc.BlockText, Text: "Hello"},
		agentproc.ContentBlock{Type: agentproc.BlockText, Text: "World"},
	))
	if len(ops) != 1 {
		t.Fatalf("got %d ops, want 1", len(ops))
	}
	ac, ok := ops[0].(AppendContent)
	if !ok {
		t.Fatalf("op = %T, want AppendContent", ops[0])
	}
	if ac.Body != "Hello\n\nWorld" {
		t.Errorf("Body = %q", ac.Body)
	}
}

func TestTransformStripsThinkingTags(t *testing.T) {
	tr := newTestTransformer()
	ops := tr.Transform(assistantEvent(agentproc.ContentBlock{
		Type: agentproc.BlockText,
		Text: "before <thinking>secret\nstuff</thinking> after",
	}))
	if len(ops) != 1 {
		t.Fatalf("got %d ops, want 1", len(ops))
	}
	body := ops[0].(AppendContent).Body
	if strings.Contains(body, "secret") {
		t.Errorf("thinking passage leaked into %q", body)
	}
}

func TestTransformThinkingBlockPreview(t *testing.T) {
	tr := newTestTransformer()
	ops := tr.Transform(assistantEvent(agentproc.ContentBlock{
		Type:     agentproc.BlockThinking,
		Thinking: "pondering   the\nproblem",
	}))
	if len(ops) != 1 {
		t.Fatalf("got %d ops, want 1", len(ops))
	}
	body := ops[0].(AppendContent).Body
	if body != "> _pondering the problem_" {
		t.Errorf("Body = %q", body)
	}
}

func TestTransformTodoWrite(t *testing.T) {
	input, _ := json.Marshal(agentproc.TodoWriteInput{Todos: []agentproc.TodoItem{
		{Content: "first", Status: "completed"},
		{Content: "second", Status: "in_progress"},
	}})
	tr := newTestTransformer()
	ops := tr.Transform(assistantEvent(agentproc.ContentBlock{
		Type: agentproc.BlockToolUse, ID: "t1", Name: agentproc.ToolTodoWrite, Input: input,
	}))
	if len(ops) != 1 {
		t.Fatalf("got %d ops, want 1", len(ops))
	}
	tl, ok := ops[0].(TaskList)
	if !ok {
		t.Fatalf("op = %T, want TaskList", ops[0])
	}
	if tl.Action != TaskListUpdate {
		t.Errorf("Action = %v, want update", tl.Action)
	}
	if len(tl.Tasks) != 2 {
		t.Errorf("got %d tasks, want 2", len(tl.Tasks))
	}
}

func TestTransformTodoWriteAllCompleted(t *testing.T) {
	input, _ := json.Marshal(agentproc.TodoWriteInput{Todos: []agentproc.TodoItem{
		{Content: "first", Status: "completed"},
		{Content: "second", Status: "completed"},
	}})
	tr := newTestTransformer()
	ops := tr.Transform(assistantEvent(agentproc.ContentBlock{
		Type: agentproc.BlockToolUse, ID: "t1", Name: agentproc.ToolTodoWrite, Input: input,
	}))
	if len(ops) != 1 {
		t.Fatalf("got %d ops, want 1", len(ops))
	}
	if got := ops[0].(TaskList).Action; got != TaskListComplete {
		t.Errorf("Action = %v, want complete", got)
	}
}

func TestTransformAskUserQuestion(t *testing.T) {
	input, _ := json.Marshal(agentproc.AskUserQuestionInput{Questions: []agentproc.QuestionInput{
		{Question: "Which?", Options: []agentproc.OptionInput{{Label: "A"}, {Label: "B"}}},
	}})
	tr := newTestTransformer()
	ops := tr.Transform(assistantEvent(agentproc.ContentBlock{
		Type: agentproc.BlockToolUse, ID: "q1", Name: agentproc.ToolAskUserQuestion, Input: input,
	}))
	if len(ops) != 2 {
		t.Fatalf("got %d ops, want 2 (flush then question)", len(ops))
	}
	if fl, ok := ops[0].(Flush); !ok || fl.Reason != FlushExplicit {
		t.Fatalf("op[0] = %#v, want explicit Flush", ops[0])
	}
	q, ok := ops[1].(Question)
	if !ok {
		t.Fatalf("op[1] = %T, want Question", ops[1])
	}
	if q.ToolUseID != "q1" || len(q.Questions) != 1 {
		t.Errorf("Question = %+v", q)
	}
}

func TestTransformExitPlanMode(t *testing.T) {
	tr := newTestTransformer()
	ops := tr.Transform(assistantEvent(agentproc.ContentBlock{
		Type: agentproc.BlockToolUse, ID: "p1", Name: agentproc.ToolExitPlanMode,
	}))
	if len(ops) != 2 {
		t.Fatalf("got %d ops, want 2", len(ops))
	}
	ap, ok := ops[1].(Approval)
	if !ok {
		t.Fatalf("op[1] = %T, want Approval", ops[1])
	}
	if ap.Kind != ApprovalPlan || ap.ToolUseID != "p1" {
		t.Errorf("Approval = %+v", ap)
	}
}

func TestTransformTaskSubagent(t *testing.T) {
	input, _ := json.Marshal(agentproc.TaskInput{Description: "explore repo", SubagentType: "explorer"})
	tr := newTestTransformer()
	ops := tr.Transform(assistantEvent(agentproc.ContentBlock{
		Type: agentproc.BlockToolUse, ID: "s1", Name: agentproc.ToolTask, Input: input,
	}))
	if len(ops) != 1 {
		t.Fatalf("got %d ops, want 1", len(ops))
	}
	sa, ok := ops[0].(Subagent)
	if !ok {
		t.Fatalf("op = %T, want Subagent", ops[0])
	}
	if sa.Event != SubagentStart || sa.Description != "explore repo" || sa.Kind != "explorer" {
		t.Errorf("Subagent = %+v", sa)
	}
}

func TestTransformToolResultElapsed(t *testing.T) {
	tr := newTestTransformer()
	base := time.Now()
	tr.now = func() time.Time { return base }

	tr.Transform(agentproc.Event{
		Type:    agentproc.TypeToolUse,
		ToolUse: &agentproc.ToolUse{ID: "t1", Name: "Bash", Input: []byte(`{"command":"ls"}`)},
	})

	tr.now = func() time.Time { return base.Add(5 * time.Second) }
	ops := tr.Transform(agentproc.Event{
		Type:       agentproc.TypeToolResult,
		ToolResult: &agentproc.ToolResult{ToolUseID: "t1"},
	})
	if len(ops) != 2 {
		t.Fatalf("got %d ops, want marker + flush", len(ops))
	}
	marker := ops[0].(AppendContent)
	if !marker.Block {
		t.Error("result marker should be a block append")
	}
	if !strings.Contains(marker.Body, "✓ (5s)") {
		t.Errorf("marker = %q, want elapsed 5s", marker.Body)
	}
	if fl := ops[1].(Flush); fl.Reason != FlushToolComplete {
		t.Errorf("Reason = %v, want tool_complete", fl.Reason)
	}
}

func TestTransformToolResultError(t *testing.T) {
	tr := newTestTransformer()
	ops := tr.Transform(agentproc.Event{
		Type:       agentproc.TypeToolResult,
		ToolResult: &agentproc.ToolResult{ToolUseID: "nope", IsError: true},
	})
	marker := ops[0].(AppendContent)
	if !strings.Contains(marker.Body, "❌ error") {
		t.Errorf("marker = %q, want error glyph", marker.Body)
	}
	if strings.Contains(marker.Body, "(") {
		t.Errorf("marker = %q, unknown tool should have no elapsed suffix", marker.Body)
	}
}

func TestTransformResult(t *testing.T) {
	tr := newTestTransformer()
	ops := tr.Transform(agentproc.Event{
		Type: agentproc.TypeResult,
		Result: &agentproc.Result{
			Model:   "m-1",
			CostUSD: 0.42,
			Usage:   &agentproc.Usage{InputTokens: 100, OutputTokens: 50},
		},
	})
	if len(ops) != 2 {
		t.Fatalf("got %d ops, want flush + status", len(ops))
	}
	if fl := ops[0].(Flush); fl.Reason != FlushResult {
		t.Errorf("Reason = %v, want result", fl.Reason)
	}
	st := ops[1].(StatusUpdate)
	if st.ModelID != "m-1" || st.TotalCostUSD != 0.42 || st.InputTokens != 100 || st.OutputTokens != 50 {
		t.Errorf("StatusUpdate = %+v", st)
	}
}

func TestTransformUnknownEventType(t *testing.T) {
	tr := newTestTransformer()
	if ops := tr.Transform(agentproc.Event{Type: "mystery"}); ops != nil {
		t.Errorf("got %v, want nil", ops)
	}
}

func TestFormatToolLineRegistry(t *testing.T) {
	f := plainFormatter{}
	tests := []struct {
		name  string
		tool  string
		input string
		want  string
	}{
		{"read", "Read", `{"file_path":"/w/main.go"}`, "📖 Read `main.go`"},
		{"bash with description", "Bash", `{"command":"go vet","description":"Vet"}`, "💻 Vet — `go vet`"},
		{"unknown tool", "Frobnicate", `{}`, "🔧 Frobnicate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatToolLine(f, tt.tool, json.RawMessage(tt.input), "/w", false)
			if got != tt.want {
				t.Errorf("formatToolLine = %q, want %q", got, tt.want)
			}
		})
	}
}
