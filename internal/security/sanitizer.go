// Package security implements the sanitizer, allowlist, and approval-gate
// stages of the dispatch kernel's security pipeline.
package security

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// forbiddenPattern pairs a regex with the human-readable reason it's rejected.
type forbiddenPattern struct {
	re     *regexp.Regexp
	reason string
}

// forbiddenPatterns are rejected outright — never escaped. Commands that
// need pipes or chaining must be built programmatically by the tool
// implementations that need them (docker_logs, service_journal, etc.),
// never assembled from raw model-supplied strings.
var forbiddenPatterns = []forbiddenPattern{
	{regexp.MustCompile(`[;&|]`), "command chaining characters (;, &, |)"},
	{regexp.MustCompile(`\$[({]`), "command/variable substitution ($( or ${)"},
	{regexp.MustCompile("`"), "backtick substitution"},
	{regexp.MustCompile(`\.\.`), "path traversal (..)"},
	{regexp.MustCompile(`>>\s*/`), "append to absolute path"},
	{regexp.MustCompile(`>\s*/`), "redirect to absolute path"},
	{regexp.MustCompile(`\b(eval|exec)\b`), "eval/exec keyword"},
	{regexp.MustCompile("[\n\r\x00]"), "newline/null-byte injection"},
}

var pathShellChars = regexp.MustCompile("[;&|`]")
var substitutionChars = regexp.MustCompile(`\$[({]`)
var pathTraversal = regexp.MustCompile(`\.\.`)
var injectionChars = regexp.MustCompile("[\n\r\x00]")
var fieldShellChars = regexp.MustCompile("[;&|`$]")

// SanitizationError is raised when input fails a sanitization check.
type SanitizationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *SanitizationError) Error() string {
	return fmt.Sprintf("rejected %s: %s", e.Field, e.Reason)
}

// checkCommandPatterns validates a command string against the forbidden
// patterns. Unexported: allowlist.go owns the public, role-aware
// security.CheckCommand name used by the dispatch kernel.
func checkCommandPatterns(logger *zap.Logger, command string) error {
	for _, p := range forbiddenPatterns {
		if p.re.MatchString(command) {
			if logger != nil {
				logger.Warn("sanitizer_rejected", zap.String("command", command), zap.String("reason", p.reason))
			}
			return &SanitizationError{Field: "command", Value: command, Reason: p.reason}
		}
	}
	return nil
}

// CheckPath validates a file path against the forbidden path patterns.
func CheckPath(path string) error {
	if pathTraversal.MatchString(path) {
		return &SanitizationError{Field: "path", Value: path, Reason: "path traversal (..)"}
	}
	if pathShellChars.MatchString(path) {
		return &SanitizationError{Field: "path", Value: path, Reason: "shell metacharacters in path"}
	}
	if substitutionChars.MatchString(path) {
		return &SanitizationError{Field: "path", Value: path, Reason: "command/variable substitution in path"}
	}
	if injectionChars.MatchString(path) {
		return &SanitizationError{Field: "path", Value: path, Reason: "newline/null-byte in path"}
	}
	return nil
}

// restrictedFields get a plain shell-metacharacter check rather than the
// full command pattern set — they're never executed as commands themselves,
// only interpolated into programmatically-built ones.
var restrictedFields = []string{"container", "service", "server", "since"}

// Sanitize checks every recognized field of a tool call's input and returns
// an error on the first rejection. It never modifies toolInput — bad input
// is rejected, not repaired.
func Sanitize(logger *zap.Logger, toolName string, toolInput map[string]any) error {
	if raw, ok := toolInput["command"]; ok {
		command, _ := raw.(string)
		if err := checkCommandPatterns(logger, command); err != nil {
			return err
		}
	}

	if raw, ok := toolInput["path"]; ok {
		path, _ := raw.(string)
		if err := CheckPath(path); err != nil {
			return err
		}
	}

	for _, field := range restrictedFields {
		raw, ok := toolInput[field]
		if !ok {
			continue
		}
		value, _ := raw.(string)
		if fieldShellChars.MatchString(value) {
			return &SanitizationError{Field: field, Value: value, Reason: "shell metacharacters"}
		}
	}

	return nil
}

// StripANSI removes ANSI escape sequences (CSI/OSC) and bare carriage
// returns from tool output before it's returned to the model.
var (
	csiPattern = regexp.MustCompile("\x1b\\[[0-9;?]*[ -/]*[@-~]")
	oscPattern = regexp.MustCompile("\x1b\\][^\x07\x1b]*(\x07|\x1b\\\\)")
)

func StripANSI(s string) string {
	s = oscPattern.ReplaceAllString(s, "")
	s = csiPattern.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\r", "")
	return s
}
