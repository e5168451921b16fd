// Package intake implements the HTTP edge: decoding a Command off the wire,
// dispatching a supervisor.Supervisor for it, and streaming its Response
// sequence back as newline-delimited JSON.
package intake

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hostexec/agent/internal/clock"
	"github.com/hostexec/agent/internal/command"
	"github.com/hostexec/agent/internal/logsink"
	"github.com/hostexec/agent/internal/queue"
	"github.com/hostexec/agent/internal/supervisor"
)

// Server wires HTTP requests to Supervisor runs.
type Server struct {
	logger        *zap.Logger
	logDir        string
	logLevel      logsink.Level
	queueCapacity int
}

// NewServer builds an intake Server. logDir and logLevel configure the
// per-invocation logsink.Sink opened for each dispatched command.
func NewServer(logger *zap.Logger, logDir string, logLevel logsink.Level, queueCapacity int) *Server {
	return &Server{logger: logger, logDir: logDir, logLevel: logLevel, queueCapacity: queueCapacity}
}

// RegisterRoutes attaches the intake handler to mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/commands", s.handleCommand)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var wire commandWire
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		http.Error(w, fmt.Sprintf("invalid command: %v", err), http.StatusBadRequest)
		return
	}

	cmd := wire.toCommand()
	if cmd.UUID == "" {
		// A caller that doesn't supply a correlation id still gets an
		// ordered response stream; it just can't correlate it against a
		// id it chose itself.
		cmd.UUID = uuid.New().String()
	}
	if err := cmd.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	logSink, err := logsink.Open(s.logDir, time.Now(), os.Getpid(), cmd.RequestSequenceNumber, s.logLevel)
	if err != nil {
		s.logger.Warn("intake: failed to open per-invocation log", zap.Error(err))
	}

	q := queue.NewLocal(s.queueCapacity)
	sup := supervisor.New(clock.Real{}, logSink)

	go func() {
		defer q.Close()
		if logSink != nil {
			defer logSink.Close()
		}
		if err := sup.Run(r.Context(), cmd, q); err != nil {
			s.logger.Error("intake: supervisor run failed", zap.String("uuid", cmd.UUID), zap.Error(err))
		}
	}()

	s.streamResponses(w, q)
}

// streamResponses drains q onto w as the run produces responses, flushing
// after every line so a client sees Progress/Heartbeat messages live rather
// than buffered until the connection closes.
func (s *Server) streamResponses(w http.ResponseWriter, q *queue.LocalQueue) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	bw := bufio.NewWriter(w)

	for {
		data, ok := q.Receive()
		if !ok {
			bw.Flush()
			return
		}
		bw.Write(data)
		bw.WriteByte('\n')
		bw.Flush()
		if canFlush {
			flusher.Flush()
		}
	}
}

// commandWire is the wire shape accepted by POST /v1/commands: the same
// fields as command.Command, but with the timeout expressed in whole
// seconds to match the wire contract the original agent used, rather than a
// Go time.Duration's nanosecond JSON encoding.
type commandWire struct {
	UUID                  string    `json:"uuid"`
	TaskUUID              string    `json:"taskUuid"`
	Source                string    `json:"source"`
	RequestSequenceNumber int       `json:"requestSequenceNumber"`
	Program               string    `json:"program"`
	Arguments             []string  `json:"arguments,omitempty"`
	Environment           []envWire `json:"environment,omitempty"`
	WorkingDirectory      string    `json:"workingDirectory"`
	RunAs                 string    `json:"runAs"`
	StandardOutput        string    `json:"standardOutput"`
	StandardError         string    `json:"standardError"`
	StandardOutputPath    string    `json:"standardOutputPath,omitempty"`
	StandardErrPath       string    `json:"standardErrPath,omitempty"`
	TimeoutSeconds        int       `json:"timeoutSeconds"`
}

type envWire struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (w commandWire) toCommand() *command.Command {
	env := make([]command.EnvPair, 0, len(w.Environment))
	for _, e := range w.Environment {
		env = append(env, command.EnvPair{Name: e.Name, Value: e.Value})
	}
	return &command.Command{
		UUID:                  w.UUID,
		TaskUUID:              w.TaskUUID,
		RequestSequenceNumber: w.RequestSequenceNumber,
		Source:                w.Source,
		Program:               w.Program,
		Arguments:             w.Arguments,
		Environment:           env,
		WorkingDirectory:      w.WorkingDirectory,
		RunAs:                 w.RunAs,
		StandardOutput:        command.StreamMode(w.StandardOutput),
		StandardError:         command.StreamMode(w.StandardError),
		StandardOutputPath:    w.StandardOutputPath,
		StandardErrPath:       w.StandardErrPath,
		Timeout:               time.Duration(w.TimeoutSeconds) * time.Second,
	}
}
