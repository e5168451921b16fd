// Package supervisor implements the orchestration loop that takes a
// validated command.Command, runs it under the requested user and working
// directory, and produces an ordered stream of response.Response messages.
package supervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hostexec/agent/internal/clock"
	"github.com/hostexec/agent/internal/command"
	"github.com/hostexec/agent/internal/identity"
	"github.com/hostexec/agent/internal/logsink"
	"github.com/hostexec/agent/internal/queue"
	"github.com/hostexec/agent/internal/response"
	"github.com/hostexec/agent/internal/streamio"
)

const (
	// MaxPacketBytes is the mid-run fragmentation threshold.
	MaxPacketBytes = 1000

	// heartbeatSeconds is the fixed no-activity window before an "I'm alive"
	// marker is sent.
	heartbeatSeconds = 30

	// pollTimeout bounds each pipe select.
	pollTimeout = 50 * time.Millisecond
)

const (
	cwdMissingText  = "Working Directory Does Not Exist on System"
	userMissingText = "User Does Not Exist on System"
)

// Supervisor drives one Command to completion. A fresh Supervisor is created
// per Command; it is not reused.
type Supervisor struct {
	Clock clock.Clock
	Log   *logsink.Sink
}

// New builds a Supervisor. A nil clk defaults to the real wall clock.
func New(clk clock.Clock, log *logsink.Sink) *Supervisor {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Supervisor{Clock: clk, Log: log}
}

// Run drives cmd to completion, emitting the full Progress*/Heartbeat*
// sequence followed by exactly one Timeout or Exit onto sink. It returns only
// once a terminal response has been successfully enqueued; state is
// discarded only after that terminal message is handed to sink. A cmd that
// fails Validate is rejected with an error before anything is sent.
func (s *Supervisor) Run(ctx context.Context, cmd *command.Command, sink queue.Sink) error {
	if err := cmd.Validate(); err != nil {
		return fmt.Errorf("supervisor: invalid command: %w", err)
	}

	state := newState()
	header := response.Header{
		UUID:                  cmd.UUID,
		TaskUUID:              cmd.TaskUUID,
		Source:                cmd.Source,
		RequestSequenceNumber: cmd.RequestSequenceNumber,
	}

	s.logf(logsink.Info, "supervisor run starting", "uuid", cmd.UUID, "program", cmd.Program)

	// Pre-exec checks, parent side. Each failure gets its own incrementing
	// responseCount; neither gates the other, and on failure no child is
	// ever spawned.
	cwdOK := s.checkCwd(cmd)
	if !cwdOK {
		state.CwdErr = true
		h := header
		h.Pid = 0
		h.ResponseCount = s.nextCount(state)
		queue.SpinSend(sink, mustEncode(response.Progress(h, cwdMissingText, "")))
		s.logf(logsink.Error, "working directory missing", "cwd", cmd.WorkingDirectory)
	}

	ids, idErr := identity.Resolve(cmd.RunAs)
	if idErr != nil {
		state.UidErr = true
		h := header
		h.Pid = 0
		h.ResponseCount = s.nextCount(state)
		queue.SpinSend(sink, mustEncode(response.Progress(h, userMissingText, "")))
		s.logf(logsink.Error, "run-as user missing", "runAs", cmd.RunAs)
	}

	if state.CwdErr || state.UidErr {
		return s.finishWithoutChild(header, state, sink)
	}

	execCmd, outPipe, errPipe, err := s.startChild(ctx, cmd, ids)
	if err != nil {
		s.logf(logsink.Error, "failed to start child", "error", err.Error())
		state.ExitFlag = 1
		return s.finishWithoutChild(header, state, sink)
	}
	state.ChildPID = execCmd.Process.Pid
	header.Pid = state.ChildPID

	outReader := streamio.New("stdout", cmd.StandardOutput, cmd.StandardOutputPath, outPipe)
	errReader := streamio.New("stderr", cmd.StandardError, cmd.StandardErrPath, errPipe)
	defer outReader.Close()
	defer errReader.Close()

	timedOut := s.multiplex(cmd, state, header, outReader, errReader, sink)

	if timedOut {
		s.logf(logsink.Warning, "execution timeout, killing child", "pid", strconv.Itoa(state.ChildPID))
		killProcessGroup(state.ChildPID)
	}

	_ = execCmd.Wait()

	if timedOut {
		s.lastCheckAndSend(cmd, state, header, outReader, errReader, sink)
		h := header
		h.ResponseCount = s.nextCount(state)
		queue.SpinSend(sink, mustEncode(response.Timeout(h)))
		return nil
	}

	s.lastCheckAndSend(cmd, state, header, outReader, errReader, sink)
	exitCode := 0
	if state.ExitFlag != 0 || state.CwdErr || state.UidErr {
		exitCode = 1
	}
	h := header
	h.ResponseCount = s.nextCount(state)
	queue.SpinSend(sink, mustEncode(response.Exit(h, exitCode)))
	s.logf(logsink.Info, "supervisor run finished", "uuid", cmd.UUID, "exitCode", fmt.Sprint(exitCode))
	return nil
}

// finishWithoutChild handles the no-child path: a cwd or uid pre-check
// failure, or a child start failure. There is nothing to drain and no pid to
// kill; only the terminal Exit response remains.
func (s *Supervisor) finishWithoutChild(header response.Header, state *State, sink queue.Sink) error {
	exitCode := 1
	h := header
	h.ResponseCount = s.nextCount(state)
	queue.SpinSend(sink, mustEncode(response.Exit(h, exitCode)))
	return nil
}

// nextCount advances state's responseCount and returns the new value. Every
// response a Supervisor emits for one Command, pre-exec Progress through the
// terminal Timeout/Exit, goes through this so the count is strictly
// increasing and starts at 1 with no gaps or repeats.
func (s *Supervisor) nextCount(state *State) int {
	state.ResponseCount++
	return state.ResponseCount
}

func (s *Supervisor) checkCwd(cmd *command.Command) bool {
	info, err := os.Stat(cmd.WorkingDirectory)
	if err != nil || !info.IsDir() {
		return false
	}
	return true
}

// startChild execs cmd's program line under ids.EUID and cmd.WorkingDirectory.
// The program and arguments are joined into one shell line and run via a
// single "sh -c" invocation; environment pairs are set through cmd.Env
// rather than an "export K=V &&" prefix.
func (s *Supervisor) startChild(ctx context.Context, cmd *command.Command, ids identity.IDs) (*exec.Cmd, io.ReadCloser, io.ReadCloser, error) {
	line := strings.TrimSpace(strings.Join(append([]string{cmd.Program}, cmd.Arguments...), " "))

	execCmd := exec.CommandContext(ctx, "sh", "-c", line)
	execCmd.Dir = cmd.WorkingDirectory
	execCmd.Env = buildEnv(cmd.Environment)
	execCmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:    true,
		Credential: &syscall.Credential{Uid: uint32(ids.EUID), Gid: uint32(ids.EGID)},
	}

	outPipe, err := execCmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("stdout pipe: %w", err)
	}
	errPipe, err := execCmd.StderrPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := execCmd.Start(); err != nil {
		return nil, nil, nil, fmt.Errorf("start: %w", err)
	}

	return execCmd, outPipe, errPipe, nil
}

func buildEnv(pairs []command.EnvPair) []string {
	env := append([]string{}, os.Environ()...)
	for _, p := range pairs {
		env = append(env, p.Name+"="+p.Value)
	}
	return env
}

func killProcessGroup(pid int) {
	if pid == 0 {
		return
	}
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		_ = syscall.Kill(pid, syscall.SIGKILL)
		return
	}
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
}

func mustEncode(r response.Response) []byte {
	b, err := response.Encode(r)
	if err != nil {
		// Encode only fails on unmarshalable input, which Response never is.
		panic(fmt.Sprintf("supervisor: response encode failed: %v", err))
	}
	return b
}

func (s *Supervisor) logf(level logsink.Level, text string, kv ...string) {
	if s.Log == nil {
		return
	}
	s.Log.Write(level, text, kv...)
}
