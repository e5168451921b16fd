package supervisor

import (
	"time"

	"github.com/hostexec/agent/internal/clock"
	"github.com/hostexec/agent/internal/command"
	"github.com/hostexec/agent/internal/queue"
	"github.com/hostexec/agent/internal/response"
	"github.com/hostexec/agent/internal/streamio"
)

// multiplex drains out and errR until both report AtEOF or the execution
// timer fires. It returns true if it stopped because of a timeout. Each
// iteration runs a bounded poll of both streams, then ticks the execution
// and heartbeat timers regardless of whether either stream had data.
func (s *Supervisor) multiplex(cmd *command.Command, state *State, header response.Header, out, errR *streamio.Reader, sink queue.Sink) bool {
	execTimer := clock.NewTimer(s.Clock)
	hbTimer := clock.NewTimer(s.Clock)

	for {
		outRes := out.Select(after(pollTimeout))
		if outRes == streamio.SelectError {
			state.ExitFlag = 1
			return false
		}
		errRes := errR.Select(after(pollTimeout))
		if errRes == streamio.SelectError {
			state.ExitFlag = 1
			return false
		}

		activity := false
		if outRes == streamio.SelectDataAvailable {
			if n := out.Read(); n > 0 {
				persistTail(out, n)
				activity = true
			}
		}
		if errRes == streamio.SelectDataAvailable {
			if n := errR.Read(); n > 0 {
				persistTail(errR, n)
				state.ExitFlag = 1
				activity = true
			}
		}

		if activity {
			state.ActivityFlag = true
			s.checkAndSend(cmd, state, header, out, errR, sink)
			hbTimer.Reset()
		}

		if cmd.Timeout > 0 {
			elapsed := time.Duration(execTimer.Tick()) * time.Second
			if elapsed >= cmd.Timeout {
				return true
			}
		}

		if hbTimer.Tick() >= heartbeatSeconds {
			s.emitHeartbeat(cmd, state, header, out, errR, sink)
			state.ActivityFlag = false
			hbTimer.Reset()
		}

		if out.AtEOF() && errR.AtEOF() {
			return false
		}
	}
}

func after(d time.Duration) <-chan struct{} {
	ch := make(chan struct{})
	time.AfterFunc(d, func() { close(ch) })
	return ch
}

// persistTail appends the last n bytes of r's buffer (the ones Read just
// added) to the stream's capture file, if its mode captures. Capture is
// independent of the return side: it never touches the buffer itself, which
// keeps accumulating until checkAndSend, emitHeartbeat, or lastCheckAndSend
// drains it for the wire.
func persistTail(r *streamio.Reader, n int) {
	buf := r.Buffer()
	if n > len(buf) {
		n = len(buf)
	}
	_ = r.AppendToCaptureFile(buf[len(buf)-n:])
}

// checkAndSend implements the mid-run fragmentation path: as long as either
// stream's accumulated buffer exceeds MaxPacketBytes, it keeps truncating
// and sending one MaxPacketBytes packet at a time until both buffers are
// back under the threshold. A burst larger than one packet therefore yields
// several Progress responses here rather than one oversized one deferred to
// the end-of-run drain. Only the stream that is currently overflowing is
// truncated and reseeded with its overflow on a given pass; a stream that
// isn't overflowing yet is left untouched even though a packet is being
// sent for the other one.
func (s *Supervisor) checkAndSend(cmd *command.Command, state *State, header response.Header, out, errR *streamio.Reader, sink queue.Sink) {
	for len(out.Buffer()) > MaxPacketBytes || len(errR.Buffer()) > MaxPacketBytes {
		var stdoutText, stderrText string
		if len(out.Buffer()) > MaxPacketBytes {
			stdoutText = packetize(out, cmd.StandardOutput)
		}
		if len(errR.Buffer()) > MaxPacketBytes {
			stderrText = packetize(errR, cmd.StandardError)
		}
		if stdoutText == "" && stderrText == "" {
			// Both overflowing streams are capture-only (not returning); their
			// buffers were still truncated above, but nothing goes on the wire.
			// Keep looping in case either buffer still exceeds the threshold.
			continue
		}

		h := header
		h.ResponseCount = s.nextCount(state)
		queue.SpinSend(sink, mustEncode(response.Progress(h, stdoutText, stderrText)))
	}
}

// packetize truncates r's buffer to MaxPacketBytes, retaining the overflow
// for the next cycle, and returns the packet as text if mode returns it on
// the wire, or "" if the stream is redacted.
func packetize(r *streamio.Reader, mode command.StreamMode) string {
	buf := r.Buffer()
	packet := append([]byte{}, buf[:MaxPacketBytes]...)
	overflow := append([]byte{}, buf[MaxPacketBytes:]...)
	r.ClearBuffer()
	r.Retain(overflow)
	if !mode.Returns() {
		return ""
	}
	return string(packet)
}

// emitHeartbeat sends the fixed 30-second "I'm alive" marker. Unlike
// checkAndSend, it always emits a response — carrying whatever is
// currently buffered (redacted per each stream's mode) even if that is
// nothing — and unconditionally clears both buffers afterward, since a
// heartbeat always fully drains what it reports.
func (s *Supervisor) emitHeartbeat(cmd *command.Command, state *State, header response.Header, out, errR *streamio.Reader, sink queue.Sink) {
	var stdoutText, stderrText string
	if cmd.StandardOutput.Returns() {
		stdoutText = string(out.Buffer())
	}
	if cmd.StandardError.Returns() {
		stderrText = string(errR.Buffer())
	}
	out.ClearBuffer()
	errR.ClearBuffer()

	h := header
	h.ResponseCount = s.nextCount(state)
	queue.SpinSend(sink, mustEncode(response.Heartbeat(h, stdoutText, stderrText)))
}

// lastCheckAndSend drains whatever remains in out and errR once the
// multiplex loop has exited, whether by EOF or timeout. It applies the same
// redact table as checkAndSend but, since there is no next cycle to carry
// overflow into, clears both buffers outright and sends nothing at all if
// both redacted texts come back empty.
func (s *Supervisor) lastCheckAndSend(cmd *command.Command, state *State, header response.Header, out, errR *streamio.Reader, sink queue.Sink) {
	var stdoutText, stderrText string
	if cmd.StandardOutput.Returns() {
		stdoutText = string(out.Buffer())
	}
	if cmd.StandardError.Returns() {
		stderrText = string(errR.Buffer())
	}
	out.ClearBuffer()
	errR.ClearBuffer()

	if stdoutText == "" && stderrText == "" {
		return
	}

	h := header
	h.ResponseCount = s.nextCount(state)
	queue.SpinSend(sink, mustEncode(response.Progress(h, stdoutText, stderrText)))
}
