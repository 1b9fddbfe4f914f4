package security

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/bastionhost/bastion-agent/internal/config"
)

// AlwaysSafeTools never require approval regardless of pattern matches:
// they are read-only and take no field that could match an
// approval_required_pattern destructively.
var AlwaysSafeTools = map[string]bool{
	"list_servers":   true,
	"query_metrics":  true,
}

// RequiresApproval determines whether a tool call must be confirmed by a
// human operator before it dispatches, by substring-matching every string
// leaf of toolInput (recursively, through nested maps and slices) against
// the global approval_required_patterns list.
func RequiresApproval(logger *zap.Logger, toolName string, toolInput map[string]any, approvalPatterns []string) bool {
	if AlwaysSafeTools[toolName] {
		return false
	}

	for _, value := range extractStringValues(toolInput) {
		lower := strings.ToLower(value)
		for _, pattern := range approvalPatterns {
			if strings.Contains(lower, strings.ToLower(pattern)) {
				if logger != nil {
					logger.Info("approval_required",
						zap.String("tool", toolName),
						zap.String("matched_pattern", pattern),
						zap.String("matched_value", value))
				}
				return true
			}
		}
	}
	return false
}

func extractStringValues(v any) []string {
	var values []string
	switch t := v.(type) {
	case string:
		values = append(values, t)
	case map[string]any:
		for _, item := range t {
			values = append(values, extractStringValues(item)...)
		}
	case []any:
		for _, item := range t {
			values = append(values, extractStringValues(item)...)
		}
	}
	return values
}

// ApprovalPrompter requests operator confirmation for a destructive
// operation, returning true if approved.
type ApprovalPrompter interface {
	RequestApproval(toolName string, toolInput map[string]any, mode config.ApprovalMode) bool
}

// TerminalPrompter prompts the operator on a reader/writer pair (normally
// stdin/stdout), matching the original's run-in-executor-over-input()
// pattern: the blocking read happens on its own goroutine so it never
// blocks the dispatch kernel's other work.
type TerminalPrompter struct {
	In     io.Reader
	Out    io.Writer
	Logger *zap.Logger
}

// RequestApproval implements ApprovalPrompter.
func (t *TerminalPrompter) RequestApproval(toolName string, toolInput map[string]any, mode config.ApprovalMode) bool {
	if mode == config.ApprovalAutoDeny {
		if t.Logger != nil {
			t.Logger.Info("approval_auto_denied", zap.String("tool", toolName))
		}
		return false
	}

	fmt.Fprintf(t.Out, "\n--- Approval Required ---\nTool: %s\nParameters:\n", toolName)
	for k, v := range toolInput {
		fmt.Fprintf(t.Out, "  %s: %v\n", k, v)
	}
	fmt.Fprint(t.Out, "Approve this operation? [y/N]: ")

	resultCh := make(chan string, 1)
	go func() {
		scanner := bufio.NewScanner(t.In)
		if scanner.Scan() {
			resultCh <- strings.ToLower(strings.TrimSpace(scanner.Text()))
		} else {
			resultCh <- ""
		}
	}()

	response := <-resultCh
	approved := response == "y" || response == "yes"

	if t.Logger != nil {
		if approved {
			t.Logger.Info("approval_granted", zap.String("tool", toolName))
		} else {
			t.Logger.Info("approval_denied", zap.String("tool", toolName))
		}
	}

	if approved {
		fmt.Fprintln(t.Out, "Approved.")
	} else {
		fmt.Fprintln(t.Out, "Denied.")
	}

	return approved
}

// AutoDenyPrompter always denies without prompting, matching daemon
// sessions where no interactive terminal is attached.
type AutoDenyPrompter struct {
	Logger *zap.Logger
}

// RequestApproval implements ApprovalPrompter.
func (a *AutoDenyPrompter) RequestApproval(toolName string, _ map[string]any, _ config.ApprovalMode) bool {
	if a.Logger != nil {
		a.Logger.Info("approval_auto_denied", zap.String("tool", toolName))
	}
	return false
}
