// Package tool implements the tool-adapter layer: one Go type per operation
// the model can invoke (local/remote commands, file reads, Docker, systemd,
// metrics, inventory lookups). Every tool is a thin translation from
// validated input to a subprocess/SSH/HTTP call and back — the security
// pipeline that gates these calls lives in internal/security and
// internal/dispatch, not here.
package tool

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Tool is implemented by every operation the model can invoke.
type Tool interface {
	Name() string
	Description() string
	// Schema returns the JSON-Schema "properties"/"required" body for the
	// tool's input, in the shape the Anthropic API's input_schema expects.
	Schema() Schema
	Execute(ctx context.Context, input map[string]any) Result
}

// Schema is the JSON-Schema fragment describing a tool's parameters.
type Schema struct {
	Properties map[string]any `json:"properties"`
	Required   []string       `json:"required"`
}

// Result is the structured outcome of a tool execution.
type Result struct {
	Output   string
	Error    string
	ExitCode int
}

// Success reports whether the tool executed without error.
func (r Result) Success() bool {
	return r.ExitCode == 0 && r.Error == ""
}

// ToDict converts the result to the map shape returned to the model,
// stripping ANSI escape codes so the model doesn't waste tokens on
// terminal formatting and the audit log stays clean.
func (r Result) ToDict() map[string]any {
	out := map[string]any{"output": stripANSI(r.Output)}
	if r.Error != "" {
		out["error"] = stripANSI(r.Error)
	}
	out["exit_code"] = r.ExitCode
	return out
}

var ansiPattern = regexp.MustCompile("\x1b(?:\\[[0-9;]*[A-Za-z]|\\][^\x07]*\x07)")

func stripANSI(s string) string {
	return strings.ReplaceAll(ansiPattern.ReplaceAllString(s, ""), "\r", "")
}

// ErrResult builds a Result carrying only an error and exit code.
func ErrResult(exitCode int, format string, args ...any) Result {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return Result{Error: msg, ExitCode: exitCode}
}
