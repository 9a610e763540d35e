package msg

import "sync"

// PostKind classifies a tracked post for reaction routing.
type PostKind string

const (
	KindContent        PostKind = "content"
	KindTask           PostKind = "task"
	KindApproval       PostKind = "approval"
	KindQuestion       PostKind = "question"
	KindWorktreePrompt PostKind = "worktree-prompt"
	KindUpdatePrompt   PostKind = "update-prompt"
	KindBugReport      PostKind = "bug-report"
	KindSystem         PostKind = "system"
)

// TrackedPost is the routing metadata stored per post id.
type TrackedPost struct {
	SessionID string
	Kind      PostKind
}

// PostTracker maps post ids to routing metadata. Safe for concurrent use;
// each MessageManager owns one but the reaction router reads across them.
type PostTracker struct {
	mu    sync.RWMutex
	posts map[string]TrackedPost
}

func NewPostTracker() *PostTracker {
	return &PostTracker{posts: make(map[string]TrackedPost)}
}

// Register records metadata for a post id, replacing any prior entry.
func (t *PostTracker) Register(postID, sessionID string, kind PostKind) {
	if postID == "" {
		return
	}
	t.mu.Lock()
	t.posts[postID] = TrackedPost{SessionID: sessionID, Kind: kind}
	t.mu.Unlock()
}

// Lookup returns the metadata for a post id.
func (t *PostTracker) Lookup(postID string) (TrackedPost, bool) {
	t.mu.RLock()
	p, ok := t.posts[postID]
	t.mu.RUnlock()
	return p, ok
}

// Remove drops a single post id.
func (t *PostTracker) Remove(postID string) {
	t.mu.Lock()
	delete(t.posts, postID)
	t.mu.Unlock()
}

// RemoveBySession drops every post belonging to a session and returns
// how many were removed.
func (t *PostTracker) RemoveBySession(sessionID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, p := range t.posts {
		if p.SessionID == sessionID {
			delete(t.posts, id)
			n++
		}
	}
	return n
}

// Len reports the number of tracked posts.
func (t *PostTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.posts)
}
