package tool

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"syscall"
)

// LocalExec runs commands on the bastion host itself via exec.CommandContext
// — never through a shell — so the only chaining/substitution a command can
// perform is whatever the sanitizer and allowlist already let through.
type LocalExec struct{}

func NewLocalExec() *LocalExec { return &LocalExec{} }

func (t *LocalExec) Name() string { return "run_local_command" }

func (t *LocalExec) Description() string {
	return "Execute a shell command on the bastion server (this machine). " +
		"Only commands matching the bastion allowlist are permitted. " +
		"Destructive commands require operator approval."
}

func (t *LocalExec) Schema() Schema {
	return Schema{
		Properties: map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The command to execute (e.g. 'uptime', 'df -h', 'docker ps').",
			},
		},
		Required: []string{"command"},
	}
}

func (t *LocalExec) Execute(ctx context.Context, input map[string]any) Result {
	command, _ := input["command"].(string)
	return RunLocal(ctx, command)
}

// RunLocal tokenizes command with POSIX shlex-equivalent rules and runs it
// directly, mapping ENOENT/EACCES/timeout to the exit codes a shell would
// use (127, 126, 124).
func RunLocal(ctx context.Context, command string) Result {
	args, err := shlexSplit(command)
	if err != nil {
		return Result{Error: "Invalid command syntax: " + err.Error(), ExitCode: 1}
	}
	if len(args) == 0 {
		return Result{Error: "Empty command", ExitCode: 1}
	}
	return RunLocalArgv(ctx, args)
}

// RunLocalArgv runs a literal argv on the bastion host without tokenizing
// anything — the caller has already decided word boundaries (e.g. a single
// path argument that legitimately contains a space must stay one argv word,
// not be re-split by shlexSplit).
func RunLocalArgv(ctx context.Context, args []string) Result {
	if len(args) == 0 {
		return Result{Error: "Empty command", ExitCode: 1}
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if ctx.Err() == context.DeadlineExceeded {
		return Result{Error: "Operation timed out", ExitCode: 124}
	}

	if runErr != nil {
		var pathErr *exec.Error
		if errors.As(runErr, &pathErr) {
			return Result{Error: "Command not found: " + args[0], ExitCode: 127}
		}
		if errors.Is(runErr, syscall.ENOENT) {
			return Result{Error: "Command not found: " + args[0], ExitCode: 127}
		}
		if errors.Is(runErr, syscall.EACCES) {
			return Result{Error: "Permission denied: " + args[0], ExitCode: 126}
		}
	}

	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	return Result{
		Output:   strings.TrimRight(stdout.String(), "\n"),
		Error:    strings.TrimRight(stderr.String(), "\n"),
		ExitCode: exitCode,
	}
}

// shlexSplit tokenizes a command string with POSIX shell word-splitting
// rules: single and double quotes group words, backslash escapes the next
// character outside single quotes. This mirrors Python's shlex.split.
func shlexSplit(s string) ([]string, error) {
	var args []string
	var current strings.Builder
	hasToken := false

	inSingle := false
	inDouble := false

	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case inSingle:
			if c == '\'' {
				inSingle = false
			} else {
				current.WriteRune(c)
			}
		case inDouble:
			if c == '"' {
				inDouble = false
			} else if c == '\\' && i+1 < len(runes) && (runes[i+1] == '"' || runes[i+1] == '\\') {
				i++
				current.WriteRune(runes[i])
			} else {
				current.WriteRune(c)
			}
		case c == '\'':
			inSingle = true
			hasToken = true
		case c == '"':
			inDouble = true
			hasToken = true
		case c == '\\':
			if i+1 < len(runes) {
				i++
				current.WriteRune(runes[i])
				hasToken = true
			}
		case c == ' ' || c == '\t' || c == '\n':
			if hasToken {
				args = append(args, current.String())
				current.Reset()
				hasToken = false
			}
		default:
			current.WriteRune(c)
			hasToken = true
		}
	}

	if inSingle || inDouble {
		return nil, errors.New("No closing quotation")
	}
	if hasToken {
		args = append(args, current.String())
	}

	return args, nil
}
