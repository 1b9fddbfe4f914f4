package tool

import (
	"context"
	"strconv"

	"github.com/bastionhost/bastion-agent/internal/config"
)

// ReadFile reads up to a line limit from a file on the bastion host or a
// downstream server, using "head -n" rather than opening the file directly
// so the same allowlist/sanitizer path-checking the command tools get
// applies here too.
type ReadFile struct {
	Inventory *config.Inventory
}

func NewReadFile(inv *config.Inventory) *ReadFile { return &ReadFile{Inventory: inv} }

func (t *ReadFile) Name() string { return "read_file" }

func (t *ReadFile) Description() string {
	return "Read the contents of a file on a server. The path must be within " +
		"the allowed read directories for that server's role. Returns up to " +
		"'lines' lines from the file. Use server 'localhost' for the bastion."
}

func (t *ReadFile) Schema() Schema {
	return Schema{
		Properties: map[string]any{
			"server": map[string]any{
				"type":        "string",
				"description": "Server name from the inventory (e.g. 'localhost', 'gameserver-01').",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "Absolute path to the file to read.",
			},
			"lines": map[string]any{
				"type":        "integer",
				"description": "Maximum number of lines to return (default 100).",
				"default":     100,
			},
		},
		Required: []string{"server", "path"},
	}
}

func (t *ReadFile) Execute(ctx context.Context, input map[string]any) Result {
	server, _ := input["server"].(string)
	path, _ := input["path"].(string)
	lines := intInput(input["lines"], 100)

	info, err := t.Inventory.GetServer(server)
	if err != nil {
		return Result{Error: err.Error(), ExitCode: 1}
	}

	// Built as a literal argv, never composed into a string and re-split:
	// a path containing a space (which the sanitizer and allowlist's
	// prefix check both let through) must stay one argument, not become
	// an extra one that escapes the allowed-path check.
	args := []string{"head", "-n", strconv.Itoa(lines), path}

	if server == "localhost" || !info.Definition.SSH {
		return RunLocalArgv(ctx, args)
	}
	return RunRemoteArgv(ctx, info, args)
}

// intInput reads an integer field from decoded-JSON input, which arrives
// as float64 when unmarshaled into map[string]any.
func intInput(v any, def int) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return def
	}
}
