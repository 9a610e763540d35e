package agentproc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
)

// maxEventLine bounds a single stream-json line; tool results with large
// file contents can get close to this.
const maxEventLine = 8 * 1024 * 1024

// Config describes how to launch the agent child.
type Config struct {
	Command        string   // agent CLI binary, e.g. "claude"
	ExtraArgs      []string // appended after the standard flags
	WorkDir        string
	ResumeID       string // agent session id to resume, empty for fresh
	PermissionMode string // "interactive" or "auto"
	Env            []string
}

// Process is a running agent child. Events are delivered on a channel in
// stdout order; the channel closes when the child exits.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	events chan Event
	done   chan struct{}
	quit   chan struct{} // closed by Kill; unblocks event delivery

	mu        sync.Mutex
	exitErr   error
	sessionID string
	killed    bool
}

// userMessage is the stream-json input frame for a user turn.
type userMessage struct {
	Type    string          `json:"type"`
	Message userMessageBody `json:"message"`
}

type userMessageBody struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Start launches the agent child with stream-json on both sides of
// stdio and begins consuming stdout.
func Start(ctx context.Context, cfg Config) (*Process, error) {
	args := []string{
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--verbose",
	}
	if cfg.ResumeID != "" {
		args = append(args, "--resume", cfg.ResumeID)
	}
	if cfg.PermissionMode == "auto" {
		args = append(args, "--dangerously-skip-permissions")
	}
	args = append(args, cfg.ExtraArgs...)

	cmd := exec.CommandContext(ctx, cfg.Command, args...)
	cmd.Dir = cfg.WorkDir
	if len(cfg.Env) > 0 {
		cmd.Env = cfg.Env
	}
	// Own process group so Interrupt targets the child tree, not us.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("agent stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("agent stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("agent stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start agent %q: %w", cfg.Command, err)
	}

	p := &Process{
		cmd:    cmd,
		stdin:  stdin,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
		quit:   make(chan struct{}),
	}

	go p.drainStderr(stderr)
	go p.readLoop(stdout)
	return p, nil
}

// Events returns the stdout event stream. Closed on child exit.
func (p *Process) Events() <-chan Event { return p.events }

// Done closes when the child has exited and the event stream drained.
func (p *Process) Done() <-chan struct{} { return p.done }

// SessionID returns the agent-assigned session id once observed on the
// stream, else the empty string.
func (p *Process) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID
}

// ExitErr returns the child's exit error after Done is closed.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// SendUserMessage writes one user turn down the agent's stdin. File
// paths are appended as mentions so the agent can read them itself.
func (p *Process) SendUserMessage(text string, files []string) error {
	content := text
	for _, f := range files {
		content += "\n@" + f
	}
	frame := userMessage{
		Type:    "user",
		Message: userMessageBody{Role: "user", Content: content},
	}
	b, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if _, err := p.stdin.Write(b); err != nil {
		return fmt.Errorf("write agent stdin: %w", err)
	}
	return nil
}

// Interrupt sends SIGINT to the child's process group, asking the agent
// to abandon the current turn without exiting.
func (p *Process) Interrupt() error {
	if p.cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-p.cmd.Process.Pid, syscall.SIGINT)
}

// Kill terminates the child's process group and releases the read loop
// if it is blocked delivering to a full event channel.
func (p *Process) Kill() {
	p.mu.Lock()
	if !p.killed {
		p.killed = true
		close(p.quit)
	}
	p.mu.Unlock()
	if p.cmd != nil && p.cmd.Process != nil {
		_ = syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL)
	}
}

// Killed reports whether Kill was called, so exit handlers can skip
// crash handling for intentional terminations.
func (p *Process) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

func (p *Process) readLoop(stdout io.Reader) {
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 64*1024), maxEventLine)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		ev, err := ParseEvent(line)
		if err != nil {
			slog.Debug("agent: skipping malformed event line", "error", err, "bytes", len(line))
			continue
		}
		if ev.SessionID != "" {
			p.mu.Lock()
			p.sessionID = ev.SessionID
			p.mu.Unlock()
		}
		if !p.deliver(ev) {
			break
		}
	}
	if err := sc.Err(); err != nil {
		slog.Debug("agent: stdout scan ended", "error", err)
	}

	err := p.cmd.Wait()
	p.mu.Lock()
	p.exitErr = err
	p.mu.Unlock()
	close(p.events)
	close(p.done)
}

// deliver sends ev to the event channel, or reports false once Kill has
// fired. Without the quit case a kill with a full channel and no reader
// would strand the read loop before cmd.Wait.
func (p *Process) deliver(ev Event) bool {
	select {
	case p.events <- ev:
		return true
	case <-p.quit:
		return false
	}
}

func (p *Process) drainStderr(stderr io.Reader) {
	sc := bufio.NewScanner(stderr)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if line := sc.Text(); line != "" {
			slog.Debug("agent stderr", "line", line)
		}
	}
}
