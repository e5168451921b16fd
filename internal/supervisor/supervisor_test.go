package supervisor

import (
	"context"
	"encoding/json"
	"os"
	"os/user"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostexec/agent/internal/command"
	"github.com/hostexec/agent/internal/response"
)

// collectingSink is a test queue.Sink that never blocks and records every
// message in send order, so assertions can inspect the full response
// sequence a Run produced.
type collectingSink struct {
	mu       sync.Mutex
	messages [][]byte
}

func (s *collectingSink) TrySend(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, append([]byte{}, data...))
	return true
}

func (s *collectingSink) decode(t *testing.T) []response.Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]response.Response, 0, len(s.messages))
	for _, m := range s.messages {
		var r response.Response
		require.NoError(t, json.Unmarshal(m, &r))
		out = append(out, r)
	}
	return out
}

func currentUsername(t *testing.T) string {
	u, err := user.Current()
	require.NoError(t, err)
	return u.Username
}

func TestRunSucceedsAndEmitsExitZero(t *testing.T) {
	sink := &collectingSink{}
	sup := New(nil, nil)
	cmd := &command.Command{
		UUID:                  "run-1",
		RequestSequenceNumber: 1,
		Program:               "echo",
		Arguments:             []string{"hello"},
		WorkingDirectory:      os.TempDir(),
		RunAs:                 currentUsername(t),
		StandardOutput:        command.ModeReturn,
		StandardError:         command.ModeNo,
	}

	require.NoError(t, sup.Run(context.Background(), cmd, sink))

	responses := sink.decode(t)
	require.NotEmpty(t, responses)
	last := responses[len(responses)-1]
	assert.Equal(t, response.KindExit, last.Kind)
	assert.Equal(t, 0, last.ExitCode)
	assert.NotZero(t, last.Pid)
	assertStrictlyIncreasingFrom1(t, responses)

	var sawStdout bool
	for _, r := range responses {
		if r.Stdout != "" {
			sawStdout = true
			assert.Contains(t, r.Stdout, "hello")
		}
	}
	assert.True(t, sawStdout, "expected at least one response carrying captured stdout")
}

// assertStrictlyIncreasingFrom1 checks the responseCount invariant every
// sequence of responses for one Run must satisfy: 1, 2, 3, ... with no gaps
// or repeats.
func assertStrictlyIncreasingFrom1(t *testing.T, responses []response.Response) {
	for i, r := range responses {
		assert.Equal(t, i+1, r.ResponseCount, "responseCount at index %d", i)
	}
}

func TestRunReportsMissingWorkingDirectory(t *testing.T) {
	sink := &collectingSink{}
	sup := New(nil, nil)
	cmd := &command.Command{
		UUID:                  "run-2",
		RequestSequenceNumber: 1,
		Program:               "echo",
		WorkingDirectory:      "/does/not/exist/ever",
		RunAs:                 currentUsername(t),
		StandardOutput:        command.ModeNo,
		StandardError:         command.ModeNo,
	}

	require.NoError(t, sup.Run(context.Background(), cmd, sink))

	responses := sink.decode(t)
	require.Len(t, responses, 2)
	assert.Equal(t, response.KindProgress, responses[0].Kind)
	assert.Equal(t, 1, responses[0].ResponseCount)
	assert.Equal(t, 0, responses[0].Pid)
	assert.Contains(t, responses[0].Stdout, "Working Directory")
	assertStrictlyIncreasingFrom1(t, responses)

	last := responses[len(responses)-1]
	assert.Equal(t, response.KindExit, last.Kind)
	assert.Equal(t, 1, last.ExitCode)
	assert.Equal(t, 2, last.ResponseCount)
}

func TestRunReportsMissingUser(t *testing.T) {
	sink := &collectingSink{}
	sup := New(nil, nil)
	cmd := &command.Command{
		UUID:                  "run-3",
		RequestSequenceNumber: 1,
		Program:               "echo",
		WorkingDirectory:      os.TempDir(),
		RunAs:                 "no-such-user-xyz",
		StandardOutput:        command.ModeNo,
		StandardError:         command.ModeNo,
	}

	require.NoError(t, sup.Run(context.Background(), cmd, sink))

	responses := sink.decode(t)
	require.Len(t, responses, 2)
	assert.Contains(t, responses[0].Stdout, "User Does Not Exist")
	assertStrictlyIncreasingFrom1(t, responses)

	last := responses[len(responses)-1]
	assert.Equal(t, response.KindExit, last.Kind)
	assert.Equal(t, 1, last.ExitCode)
	assert.Equal(t, 2, last.ResponseCount)
}

func TestRunBothPreChecksFailReportTwoProgressesAndOneExit(t *testing.T) {
	sink := &collectingSink{}
	sup := New(nil, nil)
	cmd := &command.Command{
		UUID:                  "run-5",
		RequestSequenceNumber: 1,
		Program:               "echo",
		WorkingDirectory:      "/does/not/exist/ever",
		RunAs:                 "no-such-user-xyz",
		StandardOutput:        command.ModeNo,
		StandardError:         command.ModeNo,
	}

	require.NoError(t, sup.Run(context.Background(), cmd, sink))

	responses := sink.decode(t)
	require.Len(t, responses, 3)
	assert.Equal(t, response.KindProgress, responses[0].Kind)
	assert.Equal(t, response.KindProgress, responses[1].Kind)
	assert.Equal(t, response.KindExit, responses[2].Kind)
	assert.Equal(t, 1, responses[2].ExitCode)
	assertStrictlyIncreasingFrom1(t, responses)
	assert.Equal(t, 3, responses[2].ResponseCount)
}

func TestRunTimesOutLongRunningCommand(t *testing.T) {
	sink := &collectingSink{}
	sup := New(nil, nil)
	cmd := &command.Command{
		UUID:                  "run-4",
		RequestSequenceNumber: 1,
		Program:               "sleep",
		Arguments:             []string{"5"},
		WorkingDirectory:      os.TempDir(),
		RunAs:                 currentUsername(t),
		StandardOutput:        command.ModeNo,
		StandardError:         command.ModeNo,
		// The execution timer is seconds-granular by design (see
		// internal/clock); a sub-second Timeout would round up to the next
		// wall-clock second boundary rather than firing exactly on time, so
		// this uses a whole second to stay unambiguous.
		Timeout: 1 * time.Second,
	}

	start := time.Now()
	require.NoError(t, sup.Run(context.Background(), cmd, sink))
	assert.Less(t, time.Since(start), 4*time.Second, "the execution timeout must kill the child well before its own sleep finishes")

	responses := sink.decode(t)
	require.NotEmpty(t, responses)
	last := responses[len(responses)-1]
	assert.Equal(t, response.KindTimeout, last.Kind)
}

func TestRunMarksExitCodeOneOnStderrActivity(t *testing.T) {
	sink := &collectingSink{}
	sup := New(nil, nil)
	cmd := &command.Command{
		UUID:                  "run-6",
		RequestSequenceNumber: 1,
		Program:               "echo oops 1>&2",
		WorkingDirectory:      os.TempDir(),
		RunAs:                 currentUsername(t),
		StandardOutput:        command.ModeNo,
		StandardError:         command.ModeReturn,
	}

	require.NoError(t, sup.Run(context.Background(), cmd, sink))

	responses := sink.decode(t)
	require.NotEmpty(t, responses)
	last := responses[len(responses)-1]
	assert.Equal(t, response.KindExit, last.Kind)
	assert.Equal(t, 1, last.ExitCode)
}

func TestRunFragmentsLargeBurstIntoMaxPacketBytesChunks(t *testing.T) {
	sink := &collectingSink{}
	sup := New(nil, nil)
	cmd := &command.Command{
		UUID:                  "run-7",
		RequestSequenceNumber: 1,
		Program:               "printf",
		Arguments:             []string{"%2500s"},
		WorkingDirectory:      os.TempDir(),
		RunAs:                 currentUsername(t),
		StandardOutput:        command.ModeReturn,
		StandardError:         command.ModeNo,
	}

	require.NoError(t, sup.Run(context.Background(), cmd, sink))

	responses := sink.decode(t)
	require.NotEmpty(t, responses)
	assertStrictlyIncreasingFrom1(t, responses)

	var progressLens []int
	for _, r := range responses {
		if r.Kind == response.KindProgress {
			progressLens = append(progressLens, len(r.Stdout))
			assert.LessOrEqual(t, len(r.Stdout), MaxPacketBytes, "no Progress payload may exceed MaxPacketBytes")
		}
	}

	// A single 2500-byte burst must come back as 1000/1000/500, never as one
	// oversized packet deferred to the end-of-run drain.
	require.Len(t, progressLens, 3)
	assert.Equal(t, []int{1000, 1000, 500}, progressLens)

	last := responses[len(responses)-1]
	assert.Equal(t, response.KindExit, last.Kind)
	assert.Equal(t, 0, last.ExitCode)
}

func TestRunRejectsInvalidCommand(t *testing.T) {
	sink := &collectingSink{}
	sup := New(nil, nil)
	cmd := &command.Command{
		RequestSequenceNumber: 1,
		Program:               "echo",
		WorkingDirectory:      os.TempDir(),
		RunAs:                 currentUsername(t),
	}

	err := sup.Run(context.Background(), cmd, sink)
	assert.Error(t, err)
}
