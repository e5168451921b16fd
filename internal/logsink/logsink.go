// Package logsink implements the per-invocation human-readable log writer:
// one file per Supervisor invocation, 8 RFC-5424-style severity levels, a
// fixed line format.
package logsink

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Level is one of the 8 severities, 0 (most severe) through 7 (most
// verbose), matching syslog's table.
type Level int

const (
	Emergency Level = 0
	Alert     Level = 1
	Critical  Level = 2
	Error     Level = 3
	Warning   Level = 4
	Notice    Level = 5
	Info      Level = 6
	Debug     Level = 7
)

var names = map[Level]string{
	Emergency: "EMERGENCY",
	Alert:     "ALERT",
	Critical:  "CRITICAL",
	Error:     "ERROR",
	Warning:   "WARNING",
	Notice:    "NOTICE",
	Info:      "INFO",
	Debug:     "DEBUG",
}

// Sink is one per-invocation log file. A configured LogLevel admits only
// lines with level <= LogLevel.
type Sink struct {
	file     *os.File
	logLevel Level
}

// FileName builds the <yyyymmdd>-<ms-of-day>-<pid>-<seq> name, derived from
// now, the supervising process's pid, and the command's
// requestSequenceNumber.
func FileName(now time.Time, pid, requestSequenceNumber int) string {
	msOfDay := now.Hour()*3600000 + now.Minute()*60000 + now.Second()*1000 + now.Nanosecond()/1e6
	return fmt.Sprintf("%s-%d-%d-%d", now.Format("20060102"), msOfDay, pid, requestSequenceNumber)
}

// Open creates (or appends to) the invocation's log file under dir.
func Open(dir string, now time.Time, pid, requestSequenceNumber int, logLevel Level) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logsink: mkdir %s: %w", dir, err)
	}
	path := filepath.Join(dir, FileName(now, pid, requestSequenceNumber))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logsink: open %s: %w", path, err)
	}
	return &Sink{file: f, logLevel: logLevel}, nil
}

// FormatLine renders one line in the fixed format:
// "dd-mm-yyyy HH:MM:SS <SEVERITY> text k1 v1 k2 v2".
func FormatLine(now time.Time, level Level, text string, kv ...string) string {
	var b strings.Builder
	b.WriteString(now.Format("02-01-2006 15:04:05"))
	b.WriteString(" <")
	b.WriteString(names[level])
	b.WriteString("> ")
	b.WriteString(text)
	for _, v := range kv {
		b.WriteByte(' ')
		b.WriteString(v)
	}
	return b.String()
}

// Write emits one line if level is admitted by the sink's configured
// LogLevel, flushing immediately — the original fflush'd after every write
// so a crash mid-run never loses the trailing log lines.
func (s *Sink) Write(level Level, text string, kv ...string) {
	if s == nil || level > s.logLevel {
		return
	}
	line := FormatLine(time.Now(), level, text, kv...) + "\n"
	_, _ = s.file.WriteString(line)
	_ = s.file.Sync()
}

// Close closes the underlying file.
func (s *Sink) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}
