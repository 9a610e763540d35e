package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/threadclaw/internal/agentproc"
	"github.com/nextlevelbuilder/threadclaw/internal/config"
	"github.com/nextlevelbuilder/threadclaw/internal/platform"
	"github.com/nextlevelbuilder/threadclaw/internal/store"
)

type stubFormatter struct{}

func (stubFormatter) Bold(s string) string               { return s }
func (stubFormatter) Italic(s string) string             { return s }
func (stubFormatter) Strike(s string) string             { return s }
func (stubFormatter) InlineCode(s string) string         { return s }
func (stubFormatter) CodeBlock(lang, body string) string { return body }
func (stubFormatter) Link(text, url string) string       { return text }
func (stubFormatter) Mention(userID string) string       { return "@" + userID }
func (stubFormatter) HorizontalRule() string             { return "---" }
func (stubFormatter) Blockquote(s string) string         { return s }
func (stubFormatter) Bullet(s string) string             { return s }
func (stubFormatter) Numbered(i int, s string) string    { return strconv.Itoa(i) + ". " + s }
func (stubFormatter) Heading(level int, s string) string { return s }
func (stubFormatter) Table(headers []string, rows [][]string) string {
	return strings.Join(headers, " | ")
}
func (stubFormatter) KeyValue(pairs [][2]string) string { return "" }
func (stubFormatter) Escape(s string) string            { return s }

type stubPost struct {
	id     string
	body   string
	pinned bool
}

// stubClient records posts and pin state for session-level assertions.
type stubClient struct {
	mu     sync.Mutex
	nextID int
	posts  map[string]*stubPost
	order  []string
}

func newStubClient() *stubClient {
	return &stubClient{posts: make(map[string]*stubPost)}
}

func (c *stubClient) create(body string) *platform.Post {
	c.nextID++
	id := fmt.Sprintf("p%d", c.nextID)
	c.posts[id] = &stubPost{id: id, body: body}
	c.order = append(c.order, id)
	return &platform.Post{ID: id, Body: body}
}

func (c *stubClient) CreatePost(ctx context.Context, body, threadID string) (*platform.Post, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.create(body), nil
}

func (c *stubClient) CreateChannelPost(ctx context.Context, body, channelID string) (*platform.Post, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.create(body), nil
}

func (c *stubClient) CreateInteractivePost(ctx context.Context, body, threadID string, reactions []string) (*platform.Post, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.create(body), nil
}

func (c *stubClient) UpdatePost(ctx context.Context, postID, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.posts[postID]; ok {
		p.body = body
		return nil
	}
	return platform.ErrPostGone
}

func (c *stubClient) DeletePost(ctx context.Context, postID string) error { return nil }

func (c *stubClient) PinPost(ctx context.Context, postID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.posts[postID]; ok {
		p.pinned = true
	}
	return nil
}

func (c *stubClient) UnpinPost(ctx context.Context, postID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.posts[postID]; ok {
		p.pinned = false
	}
	return nil
}

func (c *stubClient) AddReaction(ctx context.Context, postID, name string) error    { return nil }
func (c *stubClient) RemoveReaction(ctx context.Context, postID, name string) error { return nil }
func (c *stubClient) SendTyping(ctx context.Context, threadID string) error         { return nil }

func (c *stubClient) GetFormatter() platform.Formatter { return stubFormatter{} }
func (c *stubClient) GetMessageLimits() platform.MessageLimits {
	return platform.MessageLimits{HardBytes: 16000, HeightSoft: 100000}
}
func (c *stubClient) GetBotUserID() string { return "bot" }
func (c *stubClient) GetUsername(ctx context.Context, userID string) (string, error) {
	return "user-" + userID, nil
}
func (c *stubClient) IsUserAllowed(username string) bool { return false }

// pinned reports whether the post carries a pin.
func (c *stubClient) pinned(postID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.posts[postID]; ok {
		return p.pinned
	}
	return false
}

// seed registers a pre-existing pinned post, as after a resume.
func (c *stubClient) seed(postID, body string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.posts[postID] = &stubPost{id: postID, body: body, pinned: true}
	c.order = append(c.order, postID)
}

// bodies returns every post body in creation order.
func (c *stubClient) bodies() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, id := range c.order {
		out = append(out, c.posts[id].body)
	}
	return out
}

var _ platform.Client = (*stubClient)(nil)

// memStore is an in-memory SessionStore.
type memStore struct {
	mu   sync.Mutex
	recs map[string]*store.SessionRecord
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[string]*store.SessionRecord)}
}

func (m *memStore) Save(ctx context.Context, rec *store.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.recs[rec.SessionID] = &cp
	return nil
}

func (m *memStore) Get(ctx context.Context, sessionID string) (*store.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memStore) List(ctx context.Context) ([]*store.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.SessionRecord
	for _, rec := range m.recs {
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recs[sessionID]; !ok {
		return store.ErrNotFound
	}
	delete(m.recs, sessionID)
	return nil
}

func (m *memStore) Close() error { return nil }

var _ store.SessionStore = (*memStore)(nil)

func newTestSession(t *testing.T, st store.SessionStore) (*Session, *stubClient) {
	t.Helper()
	client := newStubClient()
	sess := New(Options{
		PlatformID:  "test",
		ThreadID:    "t1",
		ChannelID:   "c1",
		Owner:       "u1",
		StartPostID: "root1",
		Client:      client,
		Agent: config.AgentConfig{
			Command:        "true",
			WorkDir:        t.TempDir(),
			PermissionMode: "interactive",
		},
		Store: st,
	})
	return sess, client
}

func assistantTextEvent(text string) agentproc.Event {
	return agentproc.Event{
		Type: agentproc.TypeAssistant,
		Message: &agentproc.AssistantMessage{
			Content: []agentproc.ContentBlock{{Type: agentproc.BlockText, Text: text}},
		},
	}
}

func TestFirstAssistantEventActivates(t *testing.T) {
	sess, _ := newTestSession(t, nil)
	ctx := context.Background()

	if sess.State() != StateStarting {
		t.Fatalf("state = %s, want starting", sess.State())
	}

	sess.handleAgentEvent(ctx, agentproc.Event{Type: agentproc.TypeSystem, SessionID: "as1"})
	if sess.State() != StateStarting {
		t.Errorf("state = %s after system event, want still starting", sess.State())
	}
	if sess.agentResponded {
		t.Error("a system event must not count as an agent response")
	}

	sess.resumeFailCount = 2
	sess.handleAgentEvent(ctx, assistantTextEvent("hello"))
	if sess.State() != StateActive {
		t.Errorf("state = %s after assistant event, want active", sess.State())
	}
	if !sess.agentResponded {
		t.Error("assistant event should mark the agent as responded")
	}
	if sess.resumeFailCount != 0 {
		t.Errorf("resumeFailCount = %d, want reset on response", sess.resumeFailCount)
	}
}

func TestResultEventActivatesAndClearsBusy(t *testing.T) {
	sess, _ := newTestSession(t, nil)
	ctx := context.Background()

	sess.agentBusy = true
	sess.handleAgentEvent(ctx, agentproc.Event{Type: agentproc.TypeResult, Result: &agentproc.Result{}})
	if sess.State() != StateActive {
		t.Errorf("state = %s, want active after a result event", sess.State())
	}
	if sess.agentBusy {
		t.Error("result event should clear busy")
	}
}

func TestSuspendKeepsSessionRunning(t *testing.T) {
	sess, _ := newTestSession(t, newMemStore())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		sess.Run(ctx)
	}()

	sctx, scancel := context.WithTimeout(ctx, 2*time.Second)
	defer scancel()
	sess.Suspend(sctx)

	if st := sess.State(); st != StateIdle {
		t.Errorf("state = %s after suspend, want idle", st)
	}
	if sess.State().Terminal() {
		t.Error("suspend must not end the session")
	}

	// The loop still serves work after the suspend.
	handled := make(chan struct{})
	if !sess.Do(func(context.Context) { close(handled) }) {
		t.Fatal("inbox rejected work after suspend")
	}
	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("loop stopped processing after suspend")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run loop did not exit on cancel")
	}
}

func TestSuspendPersistsRecord(t *testing.T) {
	st := newMemStore()
	sess, _ := newTestSession(t, st)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		sess.Run(ctx)
	}()

	sess.Suspend(ctx)
	rec, err := st.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("no record after suspend: %v", err)
	}
	if rec.Lifecycle != string(StateIdle) {
		t.Errorf("persisted lifecycle = %q, want idle", rec.Lifecycle)
	}
	if rec.StartPostID != "root1" {
		t.Errorf("persisted start post = %q, want root1", rec.StartPostID)
	}

	cancel()
	<-done
}

func TestStopDeletesRecordAndUnpinsTaskPost(t *testing.T) {
	st := newMemStore()
	sess, client := newTestSession(t, st)
	ctx := context.Background()

	client.seed("task1", "📋 Tasks (0/1 · 0%)")
	sess.mgr.HydrateTaskListState("task1", "📋 Tasks (0/1 · 0%)", false, false)
	sess.persist(ctx)
	if _, err := st.Get(ctx, sess.ID); err != nil {
		t.Fatalf("setup record missing: %v", err)
	}

	sess.stop(ctx, "🛑 Session stopped.")

	if sess.State() != StateCancelled {
		t.Errorf("state = %s, want cancelled", sess.State())
	}
	if _, err := st.Get(ctx, sess.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("record still stored after stop (err = %v)", err)
	}
	if client.pinned("task1") {
		t.Error("task post still pinned after stop")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	sess, client := newTestSession(t, newMemStore())
	ctx := context.Background()

	sess.stop(ctx, "🛑 once")
	posts := len(client.bodies())
	sess.stop(ctx, "🛑 twice")
	if got := len(client.bodies()); got != posts {
		t.Errorf("second stop posted again: %d -> %d posts", posts, got)
	}
}

func TestCrashLoopGivesUpAndDropsRecord(t *testing.T) {
	st := newMemStore()
	sess, client := newTestSession(t, st)
	ctx := context.Background()

	sess.persist(ctx)
	sess.agentResponded = true
	sess.agentSessionID = "as1"
	sess.resumeFailCount = maxResumeFails

	sess.finishAgentExit(ctx, errors.New("exit status 1"), false)

	if sess.State() != StateCancelled {
		t.Errorf("state = %s, want cancelled after the crash loop limit", sess.State())
	}
	if _, err := st.Get(ctx, sess.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("crash-looping session still stored (err = %v)", err)
	}
	surfaced := false
	for _, body := range client.bodies() {
		if strings.Contains(body, "keeps crashing") {
			surfaced = true
		}
	}
	if !surfaced {
		t.Error("permanent failure was not surfaced in the thread")
	}
}

func TestKilledExitIsNotACrash(t *testing.T) {
	st := newMemStore()
	sess, client := newTestSession(t, st)
	ctx := context.Background()

	sess.persist(ctx)
	sess.finishAgentExit(ctx, errors.New("signal: killed"), true)

	if sess.State() == StateCancelled {
		t.Error("an intentional kill must not cancel the session")
	}
	if _, err := st.Get(ctx, sess.ID); err != nil {
		t.Errorf("record dropped after an intentional kill: %v", err)
	}
	for _, body := range client.bodies() {
		if strings.Contains(body, "crash") {
			t.Errorf("kill produced a crash post: %q", body)
		}
	}
}

func TestRecentEventsRingIsBounded(t *testing.T) {
	sess, _ := newTestSession(t, nil)

	for i := 0; i < recentEventsCap+10; i++ {
		sess.recordEvent(agentproc.Event{
			Type:    agentproc.TypeToolUse,
			ToolUse: &agentproc.ToolUse{Name: fmt.Sprintf("tool-%d", i)},
		})
	}
	if len(sess.recentEvents) != recentEventsCap {
		t.Fatalf("ring length = %d, want %d", len(sess.recentEvents), recentEventsCap)
	}
	last := sess.recentEvents[len(sess.recentEvents)-1]
	if last != fmt.Sprintf("tool_use tool-%d", recentEventsCap+9) {
		t.Errorf("last entry = %q", last)
	}

	rec := sess.snapshot()
	if len(rec.RecentEvents) != recentEventsCap {
		t.Errorf("snapshot ring length = %d", len(rec.RecentEvents))
	}
}

func TestResumeRestoresDiagnostics(t *testing.T) {
	sess, _ := newTestSession(t, nil)
	sess.Resume(context.Background(), &store.SessionRecord{
		Owner:        "u1",
		StartPostID:  "root9",
		RecentEvents: []string{"assistant", "result"},
		CreatedAt:    time.Now().Add(-time.Hour),
	})
	if sess.startPostID != "root9" {
		t.Errorf("startPostID = %q", sess.startPostID)
	}
	if len(sess.recentEvents) != 2 {
		t.Errorf("recentEvents = %v", sess.recentEvents)
	}
	if sess.State() != StateIdle {
		t.Errorf("state = %s, want idle after resume", sess.State())
	}
}
