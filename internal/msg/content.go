package msg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/threadclaw/internal/platform"
	"github.com/nextlevelbuilder/threadclaw/internal/tracing"
)

// taskListBumper is the slice of the task-list executor the content
// executor needs when it opens a new content post.
type taskListBumper interface {
	// BumpForContent offers the existing task post for reuse as the new
	// content post. The task executor overwrites it with newBody,
	// recreates the task post at the bottom, and returns the overwritten
	// post's id. Returns "" when no task post exists.
	BumpForContent(ctx context.Context, newBody string) (string, error)
	// BumpToBottom moves the task post below freshly created content.
	// No-op when no active task post exists.
	BumpToBottom(ctx context.Context) error
}

// ContentExecutor buffers AppendContent operations and flushes them to
// the platform as create/update calls, splitting at logical breakpoints
// when a post overflows the platform limits.
type ContentExecutor struct {
	client    platform.Client
	tracker   *PostTracker
	sessionID string
	threadID  string
	limits    platform.MessageLimits
	bumper    taskListBumper // may be nil

	// flushMu serializes the flush loop; a flush in flight excludes any
	// other flush for this session.
	flushMu sync.Mutex

	mu              sync.Mutex // guards the mutable fields below
	pendingBody     string
	currentPostID   string
	currentPostBody string
	timerArmed      bool
	timer           *time.Timer
}

// NewContentExecutor builds the executor for one session thread.
func NewContentExecutor(client platform.Client, tracker *PostTracker, sessionID, threadID string, bumper taskListBumper) *ContentExecutor {
	return &ContentExecutor{
		client:    client,
		tracker:   tracker,
		sessionID: sessionID,
		threadID:  threadID,
		limits:    client.GetMessageLimits(),
		bumper:    bumper,
	}
}

// Append adds body to the pending buffer. A block append gets a
// paragraph separator unless the buffer already ends at one.
func (e *ContentExecutor) Append(body string, block bool) {
	if body == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pendingBody == "" {
		e.pendingBody = body
		return
	}
	if block && !strings.HasSuffix(e.pendingBody, "\n\n") {
		e.pendingBody += "\n\n" + body
		return
	}
	e.pendingBody += body
}

// NeedsEarlyFlush reports whether the buffer is big enough to flush
// before the debounce timer fires.
func (e *ContentExecutor) NeedsEarlyFlush() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	soft := e.limits.HardBytes * 3 / 4
	return ShouldFlushEarly(e.pendingBody, soft)
}

// HasPending reports whether unflushed content exists.
func (e *ContentExecutor) HasPending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pendingBody != ""
}

// ScheduleFlush arms the single-slot debounce timer. A second call while
// armed is a no-op; exactly one flush fires.
func (e *ContentExecutor) ScheduleFlush(delay time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.timerArmed {
		return
	}
	e.timerArmed = true
	e.timer = time.AfterFunc(delay, func() {
		e.mu.Lock()
		e.timerArmed = false
		e.mu.Unlock()
		if err := e.Flush(context.Background()); err != nil {
			slog.Warn("debounced flush failed", "session", e.sessionID, "error", err)
		}
	})
}

// CloseCurrentPost ends the current content chain so the next flush
// starts a fresh post. Pending content is untouched.
func (e *ContentExecutor) CloseCurrentPost() {
	e.mu.Lock()
	e.currentPostID = ""
	e.currentPostBody = ""
	e.mu.Unlock()
}

// Reset cancels the debounce timer and drops pending content. The
// current post chain continues on the next flush.
func (e *ContentExecutor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timerArmed = false
	e.pendingBody = ""
}

// Flush serializes pending content to the platform. Mutually exclusive
// with itself per session; content appended while a platform call is in
// flight is picked up by the next loop iteration, never dropped and
// never duplicated.
func (e *ContentExecutor) Flush(ctx context.Context) error {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	ctx, span := tracing.Tracer("msg").Start(ctx, "content.Flush",
		trace.WithAttributes(attribute.String("session.id", e.sessionID)))
	defer span.End()

	for {
		e.mu.Lock()
		pending := e.pendingBody
		curID := e.currentPostID
		curBody := e.currentPostBody
		e.mu.Unlock()

		if pending == "" {
			return nil
		}

		if curID == "" {
			if err := e.openPost(ctx, pending); err != nil {
				return err
			}
			continue
		}

		sep := ""
		if curBody != "" && !strings.HasSuffix(curBody, "\n\n") {
			sep = "\n\n"
		}
		combined := curBody + sep + pending

		if len(combined) <= e.limits.HardBytes && EstimateRenderedHeight(combined) <= e.limits.HeightSoft {
			if err := e.client.UpdatePost(ctx, curID, combined); err != nil {
				if recoverable(err) {
					slog.Debug("update failed, restarting content chain", "session", e.sessionID, "error", err)
					e.CloseCurrentPost()
					continue
				}
				return fmt.Errorf("update content post: %w", err)
			}
			e.mu.Lock()
			e.currentPostBody = combined
			e.consumeLocked(pending)
			e.mu.Unlock()
			continue
		}

		if err := e.splitAndFlush(ctx, curID, combined, pending); err != nil {
			return err
		}
	}
}

// openPost starts a new content post for pending, preferring to
// repurpose the task post so the sticky stays at the bottom.
func (e *ContentExecutor) openPost(ctx context.Context, pending string) error {
	if e.bumper != nil {
		id, err := e.bumper.BumpForContent(ctx, pending)
		if err != nil {
			return fmt.Errorf("bump task list: %w", err)
		}
		if id != "" {
			e.tracker.Register(id, e.sessionID, KindContent)
			e.mu.Lock()
			e.currentPostID = id
			e.currentPostBody = pending
			e.consumeLocked(pending)
			e.mu.Unlock()
			return nil
		}
	}

	post, err := e.client.CreatePost(ctx, pending, e.threadID)
	if err != nil {
		return fmt.Errorf("create content post: %w", err)
	}
	e.tracker.Register(post.ID, e.sessionID, KindContent)
	e.mu.Lock()
	e.currentPostID = post.ID
	e.currentPostBody = pending
	e.consumeLocked(pending)
	e.mu.Unlock()

	if e.bumper != nil {
		if err := e.bumper.BumpToBottom(ctx); err != nil {
			slog.Warn("task list bump-to-bottom failed", "session", e.sessionID, "error", err)
		}
	}
	return nil
}

// splitAndFlush writes the first part of combined into the current post
// and requeues the remainder ahead of any bytes appended meanwhile.
func (e *ContentExecutor) splitAndFlush(ctx context.Context, curID, combined, pending string) error {
	limit := e.limits.HardBytes
	if limit > len(combined) {
		limit = len(combined)
	}
	minPos := e.limits.HardBytes / 4
	if minPos >= limit {
		minPos = limit / 2
	}

	pos := 0
	if bp := FindLogicalBreakpoint(combined, minPos, limit-minPos); bp != nil {
		pos = bp.Pos
	} else {
		st := GetCodeBlockState(combined, len(combined))
		if st.Inside && st.OpenPos == 0 {
			// The whole body is one open fence; splitting inside it would
			// corrupt both halves. Update in place and let the platform
			// reject it if truly oversized.
			if err := e.client.UpdatePost(ctx, curID, combined); err != nil {
				if recoverable(err) {
					e.CloseCurrentPost()
					return nil
				}
				return fmt.Errorf("update oversized fence post: %w", err)
			}
			e.mu.Lock()
			e.currentPostBody = combined
			e.consumeLocked(pending)
			e.mu.Unlock()
			return nil
		}
		if nl := strings.LastIndexByte(combined[:limit], '\n'); nl > 0 {
			pos = nl + 1
		} else {
			pos = limit
		}
	}

	first := combined[:pos]
	remainder := combined[pos:]

	if err := e.client.UpdatePost(ctx, curID, first); err != nil {
		if recoverable(err) {
			e.CloseCurrentPost()
			return nil
		}
		return fmt.Errorf("update content post at split: %w", err)
	}

	e.mu.Lock()
	// Splice the remainder in front of bytes appended during the update.
	newBytes := strings.TrimPrefix(e.pendingBody, pending)
	e.pendingBody = remainder + newBytes
	e.currentPostID = ""
	e.currentPostBody = ""
	e.mu.Unlock()
	return nil
}

// consumeLocked removes the flushed prefix from pendingBody, keeping
// bytes appended while the platform call was in flight. e.mu held.
func (e *ContentExecutor) consumeLocked(flushed string) {
	e.pendingBody = strings.TrimPrefix(e.pendingBody, flushed)
}

func recoverable(err error) bool {
	return errors.Is(err, platform.ErrPostGone) || errors.Is(err, platform.ErrPostTooLong)
}
