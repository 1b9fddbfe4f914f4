// Package audit implements the tamper-evident, append-only audit log: one
// JSON line per tool-dispatch event. It is deliberately hand-rolled rather
// than routed through zap (internal/log) — its schema is fixed by the
// dispatch kernel's contract, not by operator log-level preferences.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const defaultMaxResultLen = 2000

// Event is one line of the audit log.
type Event struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Event     string         `json:"event"`
	Tool      string         `json:"tool"`
	Input     map[string]any `json:"input,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Error     string         `json:"error,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
}

// Logger writes audit events as line-delimited JSON to an append-only file.
type Logger struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	closed bool
}

// New opens (creating parent directories as needed) the audit log at path
// in append mode.
func New(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	return &Logger{file: f, writer: bufio.NewWriter(f)}, nil
}

func (l *Logger) write(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	ev.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	l.writer.Write(data)
	l.writer.WriteByte('\n')
	l.writer.Flush()
}

// LogAttempt records that a tool call is being attempted.
func (l *Logger) LogAttempt(sessionID, tool string, input map[string]any) {
	l.write(Event{Level: "info", Event: "tool_attempt", Tool: tool, Input: input, SessionID: sessionID})
}

// LogSuccess records a successful tool execution, truncating large result fields.
func (l *Logger) LogSuccess(sessionID, tool string, input, result map[string]any) {
	l.write(Event{Level: "info", Event: "tool_success", Tool: tool, Input: input, Result: truncateResult(result, defaultMaxResultLen), SessionID: sessionID})
}

// LogDenied records a tool call refused by the allowlist or a human operator.
func (l *Logger) LogDenied(sessionID, tool string, input map[string]any, reason string) {
	l.write(Event{Level: "warn", Event: "tool_denied", Tool: tool, Input: input, Reason: reason, SessionID: sessionID})
}

// LogError records a tool execution error.
func (l *Logger) LogError(sessionID, tool string, input map[string]any, errMsg string) {
	l.write(Event{Level: "error", Event: "tool_error", Tool: tool, Input: input, Error: errMsg, SessionID: sessionID})
}

// LogTimeout records a tool execution timeout.
func (l *Logger) LogTimeout(sessionID, tool string, input map[string]any) {
	l.write(Event{Level: "warn", Event: "tool_timeout", Tool: tool, Input: input, SessionID: sessionID})
}

// LogSessionStart records the start of a conversation session.
func (l *Logger) LogSessionStart(sessionID string) {
	l.write(Event{Level: "info", Event: "session_start", SessionID: sessionID})
}

// LogSessionEnd records the end of a conversation session.
func (l *Logger) LogSessionEnd(sessionID string) {
	l.write(Event{Level: "info", Event: "session_end", SessionID: sessionID})
}

// Close flushes and closes the audit log file. Safe to call more than once.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.writer.Flush()
	return l.file.Close()
}

func truncateResult(result map[string]any, maxLen int) map[string]any {
	if result == nil {
		return nil
	}
	out := make(map[string]any, len(result))
	for k, v := range result {
		if s, ok := v.(string); ok && len(s) > maxLen {
			out[k] = fmt.Sprintf("%s... (truncated, %d total)", s[:maxLen], len(s))
		} else {
			out[k] = v
		}
	}
	return out
}
