package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/nextlevelbuilder/threadclaw/internal/platform"
	"github.com/nextlevelbuilder/threadclaw/internal/worktree"
)

// passthroughCommands forward to the agent as slash commands instead of
// being handled by the bridge.
var passthroughCommands = map[string]bool{
	"context": true,
	"cost":    true,
	"compact": true,
}

const helpText = `**Commands**
· ` + "`!stop`" + ` / ` + "`!cancel`" + ` — end this session
· ` + "`!escape`" + ` / ` + "`!interrupt`" + ` — interrupt the current turn
· ` + "`!approve`" + ` / ` + "`!yes`" + ` — approve the pending request
· ` + "`!cd <path>`" + ` — change the working directory (restarts the agent)
· ` + "`!worktree <branch>`" + ` / ` + "`!worktree list`" + ` / ` + "`!worktree switch <branch>`" + ` — isolated git worktrees
· ` + "`!invite @user`" + ` / ` + "`!kick @user`" + ` — manage who may use this session
· ` + "`!permissions [interactive|auto]`" + ` — show or set the approval mode
· ` + "`!update [now|defer]`" + ` — check for or apply a newer release
· ` + "`!context`" + ` / ` + "`!cost`" + ` / ` + "`!compact`" + ` — pass through to the agent
· ` + "`!kill`" + ` — force-kill the agent child
· ` + "`!help`" + ` — this text`

// parseCommand splits a "!command rest" message. Only a leading bang
// followed by letters counts; "!!" or "! " is ordinary text.
func parseCommand(body string) (cmd, rest string, ok bool) {
	body = strings.TrimSpace(body)
	if len(body) < 2 || body[0] != '!' || !isAlpha(body[1]) {
		return "", "", false
	}
	head, tail, _ := strings.Cut(body[1:], " ")
	for i := 0; i < len(head); i++ {
		if !isAlpha(head[i]) {
			return "", "", false
		}
	}
	return strings.ToLower(head), strings.TrimSpace(tail), true
}

func isAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// runCommand executes one bridge command on the session loop.
func (s *Session) runCommand(ctx context.Context, cmd, rest string, ev platform.MessageEvent) {
	username := s.usernameOf(ctx, ev.UserID)
	if !s.userMaySend(ev.UserID, username) {
		slog.Debug("command from unauthorized user ignored", "session", s.ID, "cmd", cmd, "user", username)
		return
	}

	switch cmd {
	case "help":
		s.systemPost(ctx, helpText)

	case "stop", "cancel":
		s.stop(ctx, fmt.Sprintf("🛑 Session stopped by @%s.", username))

	case "escape", "interrupt":
		if s.proc == nil {
			s.systemPost(ctx, "Nothing to interrupt; the agent is not running.")
			return
		}
		if err := s.proc.Interrupt(); err != nil {
			s.systemPost(ctx, fmt.Sprintf("⚠️ Interrupt failed: %v", err))
			return
		}
		s.systemPost(ctx, fmt.Sprintf("⏸️ Interrupted by @%s.", username))

	case "approve", "yes":
		s.approvePending(ctx, ev.UserID, username)

	case "kill":
		if s.proc == nil {
			s.systemPost(ctx, "The agent is not running.")
			return
		}
		s.proc.Kill()
		s.systemPost(ctx, fmt.Sprintf("💀 Agent killed by @%s. Send a message to start again.", username))

	case "cd":
		s.changeWorkDir(ctx, rest)

	case "worktree":
		s.worktreeCommand(ctx, rest)

	case "invite":
		name := strings.TrimPrefix(rest, "@")
		if name == "" {
			s.systemPost(ctx, "Usage: `!invite @username`")
			return
		}
		s.invitedNames[name] = true
		s.systemPost(ctx, fmt.Sprintf("👋 @%s may now use this session.", name))
		s.persist(ctx)

	case "kick":
		name := strings.TrimPrefix(rest, "@")
		if name == "" {
			s.systemPost(ctx, "Usage: `!kick @username`")
			return
		}
		delete(s.invitedNames, name)
		s.systemPost(ctx, fmt.Sprintf("🚪 @%s removed from this session.", name))
		s.persist(ctx)

	case "permissions", "permission":
		s.permissionsCommand(ctx, rest)

	case "update":
		s.updateCommand(ctx, rest)

	default:
		if passthroughCommands[cmd] {
			text := "/" + cmd
			if rest != "" {
				text += " " + rest
			}
			if err := s.forwardToAgent(ctx, text, nil); err != nil {
				s.systemPost(ctx, fmt.Sprintf("⚠️ Could not reach the agent: %v", err))
			}
			return
		}
		s.systemPost(ctx, fmt.Sprintf("Unknown command `!%s`. Try `!help`.", cmd))
	}
}

// approvePending resolves an outstanding approval as if the user had
// reacted 👍 on the approval post.
func (s *Session) approvePending(ctx context.Context, userID, username string) {
	st := s.mgr.Interactive().PendingApproval()
	if st == nil {
		s.systemPost(ctx, "Nothing is waiting for approval.")
		return
	}
	if err := s.mgr.Interactive().HandleReaction(ctx, st.PostID, platform.ReactionApprove, 0, userID, username); err != nil {
		slog.Warn("approve command failed", "session", s.ID, "error", err)
	}
}

func (s *Session) changeWorkDir(ctx context.Context, path string) {
	if path == "" {
		s.systemPost(ctx, fmt.Sprintf("Working directory: `%s`", s.effectiveWorkDir()))
		return
	}
	expanded := expandPath(path)
	info, err := os.Stat(expanded)
	if err != nil || !info.IsDir() {
		s.systemPost(ctx, fmt.Sprintf("⚠️ Not a directory: `%s`", expanded))
		return
	}
	s.workDir = expanded
	s.worktreePath = ""
	s.setBranch("")
	if s.proc != nil {
		s.proc.Kill()
		s.proc = nil
		s.events = nil
	}
	// The agent session belongs to the old directory.
	s.agentSessionID = ""
	s.systemPost(ctx, fmt.Sprintf("📁 Working directory is now `%s`. The agent restarts on your next message.", expanded))
	s.persist(ctx)
}

func (s *Session) worktreeCommand(ctx context.Context, rest string) {
	if s.opts.Worktrees == nil {
		s.systemPost(ctx, "Worktree mode is disabled in the bridge configuration.")
		return
	}
	if !worktree.IsGitRepo(s.workDir) {
		s.systemPost(ctx, fmt.Sprintf("`%s` is not a git repository.", s.workDir))
		return
	}

	sub, arg, _ := strings.Cut(rest, " ")
	arg = strings.TrimSpace(arg)
	switch sub {
	case "":
		suggestions, err := worktree.RecentBranches(ctx, s.workDir, 5)
		if err != nil {
			s.systemPost(ctx, fmt.Sprintf("⚠️ Could not list branches: %v", err))
			return
		}
		if err := s.mgr.Worktree().PromptBranches(ctx, suggestions, nil); err != nil {
			s.systemPost(ctx, fmt.Sprintf("⚠️ Could not post the branch prompt: %v", err))
		}
		s.persist(ctx)

	case "list":
		s.worktreeList(ctx)

	case "switch":
		if arg == "" {
			s.systemPost(ctx, "Usage: `!worktree switch <branch>`")
			return
		}
		s.createWorktree(ctx, arg, nil)

	default:
		s.createWorktree(ctx, sub, nil)
	}
}

func (s *Session) worktreeList(ctx context.Context) {
	entries, err := worktree.List(ctx, s.workDir)
	if err != nil {
		s.systemPost(ctx, fmt.Sprintf("⚠️ Could not list worktrees: %v", err))
		return
	}
	var b strings.Builder
	b.WriteString("🌿 **Worktrees**")
	for _, e := range entries {
		branch := e.Branch
		if branch == "" {
			branch = "(detached)"
		}
		b.WriteString(fmt.Sprintf("\n· `%s` — `%s`", branch, e.Path))
		if e.Path == s.effectiveWorkDir() {
			b.WriteString(" ← current")
		}
	}
	s.systemPost(ctx, b.String())
}

func (s *Session) permissionsCommand(ctx context.Context, mode string) {
	switch mode {
	case "":
		s.systemPost(ctx, fmt.Sprintf("Permission mode: `%s`", s.permissionMode))
	case "interactive", "auto":
		s.permissionMode = mode
		s.systemPost(ctx, fmt.Sprintf("Permission mode set to `%s` (takes effect on the next agent start).", mode))
		s.persist(ctx)
	default:
		s.systemPost(ctx, "Usage: `!permissions [interactive|auto]`")
	}
}

func (s *Session) updateCommand(ctx context.Context, arg string) {
	if s.opts.UpdateCheck == nil {
		s.systemPost(ctx, "Update checks are disabled.")
		return
	}
	version, ok := s.opts.UpdateCheck()
	switch arg {
	case "":
		if !ok {
			s.systemPost(ctx, "✅ You are running the latest version.")
			return
		}
		if s.mgr.HasUpdatePrompt() {
			return
		}
		if err := s.mgr.PostUpdatePrompt(ctx, version); err != nil {
			slog.Warn("update prompt failed", "session", s.ID, "error", err)
		}

	case "now":
		if !ok {
			s.systemPost(ctx, "✅ You are running the latest version.")
			return
		}
		s.systemPost(ctx, fmt.Sprintf("⬆️ Updating to %s now.", version))
		if s.opts.OnUpdateNow != nil {
			s.opts.OnUpdateNow()
		}

	case "defer":
		s.systemPost(ctx, "⏳ Update deferred; ask again with `!update`.")

	default:
		s.systemPost(ctx, "Usage: `!update [now|defer]`")
	}
}

func (s *Session) effectiveWorkDir() string {
	if s.worktreePath != "" {
		return s.worktreePath
	}
	return s.workDir
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			if path == "~" {
				return home
			}
			if strings.HasPrefix(path, "~/") {
				return home + path[1:]
			}
		}
	}
	return path
}
