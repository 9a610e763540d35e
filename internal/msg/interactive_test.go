package msg

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/nextlevelbuilder/threadclaw/internal/agentproc"
	"github.com/nextlevelbuilder/threadclaw/internal/platform"
)

type interactiveHarness struct {
	exec   *InteractiveExecutor
	client *fakeClient
	events []Event
}

func newInteractiveHarness(authorized func(string) bool) *interactiveHarness {
	if authorized == nil {
		authorized = func(string) bool { return true }
	}
	h := &interactiveHarness{client: newFakeClient()}
	emitter := &Emitter{}
	emitter.Subscribe(func(ev Event) { h.events = append(h.events, ev) })
	h.exec = NewInteractiveExecutor(h.client, NewPostTracker(), emitter, "sess", "thread", &sync.Mutex{}, authorized)
	return h
}

func TestApprovalApprove(t *testing.T) {
	h := newInteractiveHarness(nil)
	ctx := context.Background()

	if err := h.exec.StartApproval(ctx, "t1", ApprovalPlan); err != nil {
		t.Fatal(err)
	}
	postID := h.client.livePosts()[0]
	p := h.client.post(postID)
	if !strings.Contains(p.body, "Plan ready") {
		t.Errorf("body = %q", p.body)
	}
	if len(p.reactions) != 2 {
		t.Errorf("reactions = %v, want approve and deny seeds", p.reactions)
	}

	if err := h.exec.HandleReaction(ctx, postID, platform.ReactionApprove, 0, "u1", "alice"); err != nil {
		t.Fatal(err)
	}
	if len(h.events) != 1 {
		t.Fatalf("got %d events, want 1", len(h.events))
	}
	ac := h.events[0].(ApprovalComplete)
	if !ac.Approved || ac.AllowAll || ac.ToolUseID != "t1" || ac.Kind != ApprovalPlan || ac.ByUser != "alice" {
		t.Errorf("ApprovalComplete = %+v", ac)
	}
	if body := h.client.post(postID).body; !strings.Contains(body, "Approved by @alice") {
		t.Errorf("verdict body = %q", body)
	}
	if h.exec.PendingApproval() != nil {
		t.Error("approval state should be cleared")
	}
}

func TestApprovalDeny(t *testing.T) {
	h := newInteractiveHarness(nil)
	ctx := context.Background()

	if err := h.exec.StartApproval(ctx, "t1", ApprovalAction); err != nil {
		t.Fatal(err)
	}
	postID := h.client.livePosts()[0]
	if err := h.exec.HandleReaction(ctx, postID, platform.ReactionDeny, 0, "u1", "bob"); err != nil {
		t.Fatal(err)
	}
	ac := h.events[0].(ApprovalComplete)
	if ac.Approved {
		t.Error("deny should report Approved=false")
	}
	if ac.Kind != ApprovalAction {
		t.Errorf("Kind = %v", ac.Kind)
	}
}

func TestApprovalAllowAll(t *testing.T) {
	h := newInteractiveHarness(nil)
	ctx := context.Background()

	if err := h.exec.StartApproval(ctx, "t1", ApprovalAction); err != nil {
		t.Fatal(err)
	}
	postID := h.client.livePosts()[0]
	if err := h.exec.HandleReaction(ctx, postID, platform.ReactionAllowAll, 0, "u1", "alice"); err != nil {
		t.Fatal(err)
	}
	ac := h.events[0].(ApprovalComplete)
	if !ac.Approved || !ac.AllowAll {
		t.Errorf("ApprovalComplete = %+v, want approved with AllowAll", ac)
	}
}

func TestApprovalUnauthorizedIgnored(t *testing.T) {
	h := newInteractiveHarness(func(userID string) bool { return userID == "owner" })
	ctx := context.Background()

	if err := h.exec.StartApproval(ctx, "t1", ApprovalPlan); err != nil {
		t.Fatal(err)
	}
	postID := h.client.livePosts()[0]
	if err := h.exec.HandleReaction(ctx, postID, platform.ReactionApprove, 0, "stranger", "eve"); err != nil {
		t.Fatal(err)
	}
	if len(h.events) != 0 {
		t.Fatalf("got %d events, want none for unauthorized reactor", len(h.events))
	}
	if h.exec.PendingApproval() == nil {
		t.Error("approval should still be pending")
	}

	// The owner can still resolve it afterwards.
	if err := h.exec.HandleReaction(ctx, postID, platform.ReactionApprove, 0, "owner", "alice"); err != nil {
		t.Fatal(err)
	}
	if len(h.events) != 1 {
		t.Fatalf("got %d events, want 1", len(h.events))
	}
}

func questionSet() []agentproc.QuestionInput {
	return []agentproc.QuestionInput{
		{Question: "Pick a letter", Options: []agentproc.OptionInput{{Label: "A"}, {Label: "B"}}},
		{Header: "Color", Question: "Pick a color", Options: []agentproc.OptionInput{{Label: "red"}, {Label: "blue"}, {Label: "green"}}},
	}
}

func TestQuestionFlow(t *testing.T) {
	h := newInteractiveHarness(nil)
	ctx := context.Background()

	if err := h.exec.StartQuestions(ctx, "q1", questionSet(), 0); err != nil {
		t.Fatal(err)
	}
	first := h.client.livePosts()[0]
	body := h.client.post(first).body
	if !strings.Contains(body, "Question 1/2") {
		t.Errorf("first question body = %q", body)
	}
	if got := h.client.post(first).reactions; len(got) != 2 {
		t.Errorf("seed reactions = %v, want one per option", got)
	}

	// Answer question 1 with option 2.
	if err := h.exec.HandleReaction(ctx, first, platform.ReactionNumber, 2, "u1", "alice"); err != nil {
		t.Fatal(err)
	}
	if body := h.client.post(first).body; !strings.Contains(body, "**B**") {
		t.Errorf("frozen body = %q, want recorded answer", body)
	}
	posts := h.client.livePosts()
	if len(posts) != 2 {
		t.Fatalf("got %d posts, want the second question posted", len(posts))
	}
	second := posts[1]
	if body := h.client.post(second).body; !strings.Contains(body, "Question 2/2") {
		t.Errorf("second question body = %q", body)
	}

	// Answer question 2 with option 1: set completes.
	if err := h.exec.HandleReaction(ctx, second, platform.ReactionNumber, 1, "u1", "alice"); err != nil {
		t.Fatal(err)
	}
	if len(h.events) != 1 {
		t.Fatalf("got %d events, want 1", len(h.events))
	}
	qc := h.events[0].(QuestionComplete)
	if qc.ToolUseID != "q1" {
		t.Errorf("ToolUseID = %q", qc.ToolUseID)
	}
	if len(qc.Answers) != 2 || qc.Answers[0] != "B" || qc.Answers[1] != "red" {
		t.Errorf("Answers = %v", qc.Answers)
	}
	if h.exec.PendingQuestions() != nil {
		t.Error("question state should be cleared")
	}
}

func TestQuestionMultiSelect(t *testing.T) {
	h := newInteractiveHarness(nil)
	ctx := context.Background()

	qs := []agentproc.QuestionInput{{
		Question:    "Pick toppings",
		MultiSelect: true,
		Options:     []agentproc.OptionInput{{Label: "ham"}, {Label: "cheese"}, {Label: "olive"}},
	}}
	if err := h.exec.StartQuestions(ctx, "q1", qs, 0); err != nil {
		t.Fatal(err)
	}
	postID := h.client.livePosts()[0]

	// Numbers accumulate without completing.
	h.exec.HandleReaction(ctx, postID, platform.ReactionNumber, 1, "u1", "alice")
	h.exec.HandleReaction(ctx, postID, platform.ReactionNumber, 3, "u1", "alice")
	if len(h.events) != 0 {
		t.Fatalf("multi-select should wait for confirmation, got %d events", len(h.events))
	}

	// Approve confirms the accumulated selection.
	if err := h.exec.HandleReaction(ctx, postID, platform.ReactionApprove, 0, "u1", "alice"); err != nil {
		t.Fatal(err)
	}
	if len(h.events) != 1 {
		t.Fatalf("got %d events, want 1", len(h.events))
	}
	qc := h.events[0].(QuestionComplete)
	if len(qc.Answers) != 1 || qc.Answers[0] != "ham, olive" {
		t.Errorf("Answers = %v", qc.Answers)
	}
}

func TestQuestionOutOfRangeNumberIgnored(t *testing.T) {
	h := newInteractiveHarness(nil)
	ctx := context.Background()

	qs := questionSet()[:1]
	if err := h.exec.StartQuestions(ctx, "q1", qs, 0); err != nil {
		t.Fatal(err)
	}
	postID := h.client.livePosts()[0]
	if err := h.exec.HandleReaction(ctx, postID, platform.ReactionNumber, 9, "u1", "alice"); err != nil {
		t.Fatal(err)
	}
	if len(h.events) != 0 {
		t.Error("out-of-range option should be ignored")
	}
}

func TestMessageApprovalInvite(t *testing.T) {
	h := newInteractiveHarness(nil)
	ctx := context.Background()

	if err := h.exec.StartMessageApproval(ctx, "u9", "guest", "please run the tests", nil); err != nil {
		t.Fatal(err)
	}
	postID := h.client.livePosts()[0]
	if body := h.client.post(postID).body; !strings.Contains(body, "@guest") {
		t.Errorf("body = %q", body)
	}

	if err := h.exec.HandleReaction(ctx, postID, platform.ReactionAllowAll, 0, "owner", "alice"); err != nil {
		t.Fatal(err)
	}
	mc := h.events[0].(MessageApprovalComplete)
	if mc.Decision != MessageInvite || mc.FromUser != "u9" || mc.OriginalMessage != "please run the tests" {
		t.Errorf("MessageApprovalComplete = %+v", mc)
	}
	if body := h.client.post(postID).body; !strings.Contains(body, "invited to this session") {
		t.Errorf("verdict body = %q", body)
	}
}

func TestMessageApprovalDeny(t *testing.T) {
	h := newInteractiveHarness(nil)
	ctx := context.Background()

	if err := h.exec.StartMessageApproval(ctx, "u9", "guest", "hi", nil); err != nil {
		t.Fatal(err)
	}
	postID := h.client.livePosts()[0]
	if err := h.exec.HandleReaction(ctx, postID, platform.ReactionDeny, 0, "owner", "alice"); err != nil {
		t.Fatal(err)
	}
	if mc := h.events[0].(MessageApprovalComplete); mc.Decision != MessageDeny {
		t.Errorf("Decision = %v", mc.Decision)
	}
}

func TestHandleReactionUnknownPost(t *testing.T) {
	h := newInteractiveHarness(nil)
	if err := h.exec.HandleReaction(context.Background(), "nope", platform.ReactionApprove, 0, "u1", "alice"); err != nil {
		t.Fatal(err)
	}
	if len(h.events) != 0 {
		t.Error("reaction on an untracked post should do nothing")
	}
}

func TestInteractiveHydrate(t *testing.T) {
	h := newInteractiveHarness(nil)
	approval := &ApprovalState{PostID: "p5", Kind: ApprovalPlan, ToolUseID: "t5"}
	h.exec.Hydrate(approval, nil)

	got := h.exec.PendingApproval()
	if got == nil || got.PostID != "p5" || got.Kind != ApprovalPlan {
		t.Errorf("PendingApproval = %+v", got)
	}
}
