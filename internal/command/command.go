// Package command defines the supervision request contract: the validated
// Command a Supervisor is handed, and the stream modes that govern how its
// stdout/stderr are captured, returned, or discarded.
package command

import (
	"fmt"
	"time"
)

// StreamMode controls how one output stream (stdout or stderr) of the child
// process is handled.
type StreamMode string

const (
	// ModeNo discards the stream entirely: never captured, never returned.
	ModeNo StreamMode = "NO"
	// ModeCapture persists the stream to a file but never puts it on the wire.
	ModeCapture StreamMode = "CAPTURE"
	// ModeReturn puts the stream on the wire but never persists it.
	ModeReturn StreamMode = "RETURN"
	// ModeCaptureAndReturn does both.
	ModeCaptureAndReturn StreamMode = "CAPTURE_AND_RETURN"
)

// Captures reports whether bytes in this mode should be written to a capture file.
func (m StreamMode) Captures() bool {
	return m == ModeCapture || m == ModeCaptureAndReturn
}

// Returns reports whether bytes in this mode should be placed in a wire response.
func (m StreamMode) Returns() bool {
	return m == ModeReturn || m == ModeCaptureAndReturn
}

func (m StreamMode) valid() bool {
	switch m {
	case ModeNo, ModeCapture, ModeReturn, ModeCaptureAndReturn:
		return true
	default:
		return false
	}
}

// EnvPair is one (name, value) environment variable entry. Order is
// significant: it is preserved into the child's environment and, in log
// lines, for reproducibility.
type EnvPair struct {
	Name  string
	Value string
}

// Command is the immutable input to a Supervisor.
type Command struct {
	UUID                  string
	TaskUUID              string
	RequestSequenceNumber int
	Source                string

	Program          string
	Arguments        []string
	Environment      []EnvPair
	WorkingDirectory string
	RunAs            string

	StandardOutput     StreamMode
	StandardError      StreamMode
	StandardOutputPath string
	StandardErrPath    string

	// Timeout is the wall-clock execution timeout. Zero means no timeout.
	Timeout time.Duration
}

// Validate checks the structural invariants a Command must satisfy.
// It does not touch the filesystem or the user database — those checks are
// the Supervisor's job, surfaced as CwdMissing/UserMissing responses rather
// than Go errors: command-level errors are always reported via Response,
// never returned to the caller of Run.
func (c *Command) Validate() error {
	if c.UUID == "" {
		return fmt.Errorf("command: uuid is required")
	}
	if c.RequestSequenceNumber < 1 {
		return fmt.Errorf("command: requestSequenceNumber must be >= 1, got %d", c.RequestSequenceNumber)
	}
	if c.Program == "" {
		return fmt.Errorf("command: program is required")
	}
	if c.WorkingDirectory == "" {
		return fmt.Errorf("command: workingDirectory is required")
	}
	if c.RunAs == "" {
		return fmt.Errorf("command: runAs is required")
	}
	if !c.StandardOutput.valid() {
		return fmt.Errorf("command: invalid standardOutput mode %q", c.StandardOutput)
	}
	if !c.StandardError.valid() {
		return fmt.Errorf("command: invalid standardError mode %q", c.StandardError)
	}
	if c.StandardOutput.Captures() && c.StandardOutputPath == "" {
		return fmt.Errorf("command: standardOutputPath is required when standardOutput captures")
	}
	if c.StandardError.Captures() && c.StandardErrPath == "" {
		return fmt.Errorf("command: standardErrPath is required when standardError captures")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("command: timeout must be >= 0")
	}
	seen := make(map[string]struct{}, len(c.Environment))
	for _, p := range c.Environment {
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("command: duplicate environment variable %q", p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}
