package session

import "log/slog"

// State is a session lifecycle phase.
type State string

const (
	// StateStarting covers launch until the agent's first event arrives.
	StateStarting State = "starting"
	// StateActive means the agent child is running.
	StateActive State = "active"
	// StateIdle means the agent exited cleanly and will be resumed on the
	// next user message.
	StateIdle State = "idle"
	// StateRestarting covers a relaunch after a crash or a workdir change.
	StateRestarting State = "restarting"
	// StateCancelled is terminal.
	StateCancelled State = "cancelled"
)

// transitions lists the permitted lifecycle edges. Anything else is a
// programming error and gets logged, not applied.
var transitions = map[State][]State{
	StateStarting:   {StateActive, StateIdle, StateCancelled, StateRestarting},
	StateActive:     {StateIdle, StateRestarting, StateCancelled},
	StateIdle:       {StateStarting, StateRestarting, StateActive, StateCancelled},
	StateRestarting: {StateActive, StateIdle, StateCancelled},
	StateCancelled:  {},
}

// setState applies a lifecycle transition. Runs on the session loop.
func (s *Session) setState(next State) {
	if s.state == next {
		return
	}
	allowed := false
	for _, t := range transitions[s.state] {
		if t == next {
			allowed = true
			break
		}
	}
	if !allowed {
		slog.Error("invalid lifecycle transition", "session", s.ID, "from", s.state, "to", next)
		return
	}
	slog.Debug("lifecycle", "session", s.ID, "from", s.state, "to", next)
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
}

// Terminal reports whether the session is finished.
func (s State) Terminal() bool { return s == StateCancelled }
