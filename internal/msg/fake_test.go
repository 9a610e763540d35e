package msg

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/threadclaw/internal/platform"
)

// plainFormatter renders markdown without platform quirks.
type plainFormatter struct{}

func (plainFormatter) Bold(s string) string              { return "**" + s + "**" }
func (plainFormatter) Italic(s string) string            { return "_" + s + "_" }
func (plainFormatter) Strike(s string) string            { return "~~" + s + "~~" }
func (plainFormatter) InlineCode(s string) string        { return "`" + s + "`" }
func (plainFormatter) CodeBlock(lang, body string) string {
	return "```" + lang + "\n" + body + "\n```"
}
func (plainFormatter) Link(text, url string) string  { return "[" + text + "](" + url + ")" }
func (plainFormatter) Mention(userID string) string  { return "@" + userID }
func (plainFormatter) HorizontalRule() string        { return "---" }
func (plainFormatter) Blockquote(s string) string    { return "> " + s }
func (plainFormatter) Bullet(s string) string        { return "- " + s }
func (plainFormatter) Numbered(i int, s string) string {
	return strconv.Itoa(i) + ". " + s
}
func (plainFormatter) Heading(level int, s string) string {
	return strings.Repeat("#", level) + " " + s
}
func (plainFormatter) Table(headers []string, rows [][]string) string {
	return strings.Join(headers, " | ")
}
func (plainFormatter) KeyValue(pairs [][2]string) string {
	var b strings.Builder
	for _, p := range pairs {
		b.WriteString(p[0] + ": " + p[1] + "\n")
	}
	return b.String()
}
func (plainFormatter) Escape(s string) string { return s }

// fakePost is the recorded state of one post on the fake platform.
type fakePost struct {
	id        string
	body      string
	pinned    bool
	deleted   bool
	reactions []string
}

// fakeClient records platform calls for assertions. Safe for concurrent
// use.
type fakeClient struct {
	mu     sync.Mutex
	nextID int
	posts  map[string]*fakePost
	order  []string // creation order

	limits platform.MessageLimits

	// failUpdate maps post id to the error its next UpdatePost returns.
	failUpdate map[string]error

	// onUpdate, when set, runs during each UpdatePost before the body is
	// applied, simulating work that happens while the call is in flight.
	onUpdate func(postID, body string)
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		posts:      make(map[string]*fakePost),
		failUpdate: make(map[string]error),
		limits:     platform.MessageLimits{HardBytes: 16000, HeightSoft: 100000},
	}
}

func (c *fakeClient) create(body string) *platform.Post {
	c.nextID++
	id := fmt.Sprintf("p%d", c.nextID)
	c.posts[id] = &fakePost{id: id, body: body}
	c.order = append(c.order, id)
	return &platform.Post{ID: id, Body: body}
}

func (c *fakeClient) CreatePost(ctx context.Context, body, threadID string) (*platform.Post, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.create(body), nil
}

func (c *fakeClient) CreateChannelPost(ctx context.Context, body, channelID string) (*platform.Post, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.create(body), nil
}

func (c *fakeClient) CreateInteractivePost(ctx context.Context, body, threadID string, reactions []string) (*platform.Post, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.create(body)
	c.posts[p.ID].reactions = append([]string(nil), reactions...)
	return p, nil
}

func (c *fakeClient) UpdatePost(ctx context.Context, postID, body string) error {
	c.mu.Lock()
	hook := c.onUpdate
	c.mu.Unlock()
	if hook != nil {
		hook(postID, body)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.failUpdate[postID]; ok {
		delete(c.failUpdate, postID)
		return err
	}
	p, ok := c.posts[postID]
	if !ok || p.deleted {
		return platform.ErrPostGone
	}
	p.body = body
	return nil
}

func (c *fakeClient) DeletePost(ctx context.Context, postID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.posts[postID]
	if !ok {
		return platform.ErrPostGone
	}
	p.deleted = true
	return nil
}

func (c *fakeClient) PinPost(ctx context.Context, postID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.posts[postID]; ok {
		p.pinned = true
	}
	return nil
}

func (c *fakeClient) UnpinPost(ctx context.Context, postID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.posts[postID]; ok {
		p.pinned = false
	}
	return nil
}

func (c *fakeClient) AddReaction(ctx context.Context, postID, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.posts[postID]; ok {
		p.reactions = append(p.reactions, name)
	}
	return nil
}

func (c *fakeClient) RemoveReaction(ctx context.Context, postID, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.posts[postID]
	if !ok {
		return nil
	}
	out := p.reactions[:0]
	for _, r := range p.reactions {
		if r != name {
			out = append(out, r)
		}
	}
	p.reactions = out
	return nil
}

func (c *fakeClient) SendTyping(ctx context.Context, threadID string) error { return nil }

func (c *fakeClient) GetFormatter() platform.Formatter          { return plainFormatter{} }
func (c *fakeClient) GetMessageLimits() platform.MessageLimits  { return c.limits }
func (c *fakeClient) GetBotUserID() string                      { return "bot" }
func (c *fakeClient) GetUsername(ctx context.Context, userID string) (string, error) {
	return "user-" + userID, nil
}
func (c *fakeClient) IsUserAllowed(username string) bool { return true }

// post returns a copy of the recorded post.
func (c *fakeClient) post(id string) fakePost {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.posts[id]; ok {
		cp := *p
		cp.reactions = append([]string(nil), p.reactions...)
		return cp
	}
	return fakePost{}
}

// livePosts returns ids of non-deleted posts in creation order.
func (c *fakeClient) livePosts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, id := range c.order {
		if !c.posts[id].deleted {
			out = append(out, id)
		}
	}
	return out
}

var _ platform.Client = (*fakeClient)(nil)
