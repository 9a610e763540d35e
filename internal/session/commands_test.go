package session

import (
	"context"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/threadclaw/internal/config"
	"github.com/nextlevelbuilder/threadclaw/internal/platform"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		body string
		cmd  string
		rest string
		ok   bool
	}{
		{"bare command", "!stop", "stop", "", true},
		{"command with args", "!cd ~/projects/api", "cd", "~/projects/api", true},
		{"uppercase normalized", "!HELP", "help", "", true},
		{"surrounding space", "  !worktree feature-x  ", "worktree", "feature-x", true},
		{"multi word rest", "!invite alice bob", "invite", "alice bob", true},
		{"not a command", "hello there", "", "", false},
		{"bang alone", "!", "", "", false},
		{"bang non-alpha", "!!", "", "", false},
		{"digit head", "!2fast", "", "", false},
		{"mixed head", "!cd2 x", "", "", false},
		{"shell negation", "![ -f x ] && echo", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, rest, ok := parseCommand(tt.body)
			if ok != tt.ok || cmd != tt.cmd || rest != tt.rest {
				t.Errorf("parseCommand(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.body, cmd, rest, ok, tt.cmd, tt.rest, tt.ok)
			}
		})
	}
}

func TestFirstLine(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"short prompt", "short prompt"},
		{"first\nsecond\nthird", "first"},
		{"  padded  \nrest", "padded"},
		{strings.Repeat("x", 80), strings.Repeat("x", 57) + "..."},
	}
	for _, tt := range tests {
		if got := firstLine(tt.in); got != tt.want {
			t.Errorf("firstLine(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSessionID(t *testing.T) {
	if got := SessionID("slack", "C1|171.5"); got != "slack:C1|171.5" {
		t.Errorf("SessionID = %q", got)
	}
}

func commandEvent() platform.MessageEvent {
	return platform.MessageEvent{UserID: "u1", ThreadID: "t1", ChannelID: "c1"}
}

func TestPermissionsCommandModes(t *testing.T) {
	sess, client := newTestSession(t, nil)
	ctx := context.Background()

	// Singular alias shows the current mode.
	sess.runCommand(ctx, "permission", "", commandEvent())
	bodies := client.bodies()
	if len(bodies) != 1 || !strings.Contains(bodies[0], "`interactive`") {
		t.Fatalf("bodies = %v", bodies)
	}

	sess.runCommand(ctx, "permissions", "auto", commandEvent())
	if sess.permissionMode != "auto" {
		t.Errorf("permissionMode = %q, want auto", sess.permissionMode)
	}

	sess.runCommand(ctx, "permissions", "interactive", commandEvent())
	if sess.permissionMode != "interactive" {
		t.Errorf("permissionMode = %q, want interactive", sess.permissionMode)
	}

	sess.runCommand(ctx, "permissions", "yolo", commandEvent())
	bodies = client.bodies()
	last := bodies[len(bodies)-1]
	if !strings.Contains(last, "Usage: `!permissions [interactive|auto]`") {
		t.Errorf("last post = %q, want usage", last)
	}
	if sess.permissionMode != "interactive" {
		t.Errorf("bad mode must not change the setting, got %q", sess.permissionMode)
	}
}

func TestUpdateCommandArgs(t *testing.T) {
	applied := false
	client := newStubClient()
	sess := New(Options{
		PlatformID: "test",
		ThreadID:   "t1",
		Owner:      "u1",
		Client:     client,
		Agent:      config.AgentConfig{Command: "true", PermissionMode: "interactive"},
		UpdateCheck: func() (string, bool) {
			return "v2.0.0", true
		},
		OnUpdateNow: func() { applied = true },
	})
	ctx := context.Background()

	sess.runCommand(ctx, "update", "defer", commandEvent())
	bodies := client.bodies()
	if !strings.Contains(bodies[len(bodies)-1], "deferred") {
		t.Errorf("defer post = %q", bodies[len(bodies)-1])
	}

	sess.runCommand(ctx, "update", "now", commandEvent())
	if !applied {
		t.Error("!update now should trigger the update hook")
	}
	bodies = client.bodies()
	if !strings.Contains(bodies[len(bodies)-1], "v2.0.0") {
		t.Errorf("now post = %q, want the version named", bodies[len(bodies)-1])
	}

	sess.runCommand(ctx, "update", "sideways", commandEvent())
	bodies = client.bodies()
	if !strings.Contains(bodies[len(bodies)-1], "Usage: `!update [now|defer]`") {
		t.Errorf("bad arg post = %q, want usage", bodies[len(bodies)-1])
	}
}

func TestUpdateCommandUpToDate(t *testing.T) {
	client := newStubClient()
	sess := New(Options{
		PlatformID:  "test",
		ThreadID:    "t1",
		Owner:       "u1",
		Client:      client,
		Agent:       config.AgentConfig{Command: "true", PermissionMode: "interactive"},
		UpdateCheck: func() (string, bool) { return "", false },
	})
	sess.runCommand(context.Background(), "update", "now", commandEvent())
	bodies := client.bodies()
	if !strings.Contains(bodies[len(bodies)-1], "latest version") {
		t.Errorf("post = %q", bodies[len(bodies)-1])
	}
}

func TestWorktreeCommandDisabled(t *testing.T) {
	sess, client := newTestSession(t, nil) // Worktrees nil
	sess.runCommand(context.Background(), "worktree", "list", commandEvent())
	bodies := client.bodies()
	if len(bodies) != 1 || !strings.Contains(bodies[0], "disabled") {
		t.Errorf("bodies = %v", bodies)
	}
}
