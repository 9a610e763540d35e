package session

import (
	"sync"

	"github.com/nextlevelbuilder/threadclaw/internal/platform"
)

// Router indexes live sessions by thread and routes platform events to
// them. One router per platform client.
type Router struct {
	mu       sync.RWMutex
	byThread map[string]*Session
}

func NewRouter() *Router {
	return &Router{byThread: make(map[string]*Session)}
}

func (r *Router) Register(s *Session) {
	r.mu.Lock()
	r.byThread[s.ThreadID] = s
	r.mu.Unlock()
}

func (r *Router) Remove(threadID string) {
	r.mu.Lock()
	delete(r.byThread, threadID)
	r.mu.Unlock()
}

// Lookup returns the session owning a thread.
func (r *Router) Lookup(threadID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byThread[threadID]
	return s, ok
}

// All returns a snapshot of live sessions.
func (r *Router) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.byThread))
	for _, s := range r.byThread {
		out = append(out, s)
	}
	return out
}

// Len returns the number of live sessions.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byThread)
}

// RouteMessage delivers a thread message to its session. Returns false
// when no session owns the thread.
func (r *Router) RouteMessage(ev platform.MessageEvent) bool {
	s, ok := r.Lookup(ev.ThreadID)
	if !ok {
		return false
	}
	s.HandleMessage(ev)
	return true
}

// RouteReaction finds the session tracking the reacted post. Reactions
// carry no thread id, so ownership comes from each session's post index.
func (r *Router) RouteReaction(ev platform.ReactionEvent) bool {
	r.mu.RLock()
	var target *Session
	for _, s := range r.byThread {
		if s.OwnsPost(ev.PostID) {
			target = s
			break
		}
	}
	r.mu.RUnlock()
	if target == nil {
		return false
	}
	target.HandleReaction(ev)
	return true
}
