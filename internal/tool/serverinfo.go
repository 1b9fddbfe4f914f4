package tool

import (
	"context"
	"strings"

	"github.com/bastionhost/bastion-agent/internal/config"
)

// ListServers formats the inventory for the model. It is always safe:
// read-only, no execution, and listed in security.AlwaysSafeTools.
type ListServers struct {
	Inventory *config.Inventory
}

func NewListServers(inv *config.Inventory) *ListServers { return &ListServers{Inventory: inv} }

func (t *ListServers) Name() string { return "list_servers" }

func (t *ListServers) Description() string {
	return "List all servers in the inventory with their roles, hosts, " +
		"and descriptions. No parameters required. Always permitted."
}

func (t *ListServers) Schema() Schema {
	return Schema{Properties: map[string]any{}, Required: []string{}}
}

func (t *ListServers) Execute(ctx context.Context, input map[string]any) Result {
	return Result{Output: t.Inventory.FormatForPrompt(), ExitCode: 0}
}

// ServerStatus runs a fixed, hardcoded trio of read-only commands
// (uptime, df -h, free -h) and aggregates them — it never takes a command
// field from the model, so it bypasses the allowlist entirely (there is
// nothing for the allowlist to check) but still goes through the
// sanitizer's "server" field check.
type ServerStatus struct {
	Inventory *config.Inventory
}

func NewServerStatus(inv *config.Inventory) *ServerStatus { return &ServerStatus{Inventory: inv} }

func (t *ServerStatus) Name() string { return "get_server_status" }

func (t *ServerStatus) Description() string {
	return "Get a quick health summary for a server: uptime, load average, " +
		"disk usage, and memory usage. Works for both local and remote servers."
}

func (t *ServerStatus) Schema() Schema {
	return Schema{
		Properties: map[string]any{
			"server": map[string]any{
				"type":        "string",
				"description": "Server name from the inventory.",
			},
		},
		Required: []string{"server"},
	}
}

var statusCommands = []struct{ label, cmd string }{
	{"UPTIME", "uptime"},
	{"DISK", "df -h"},
	{"MEMORY", "free -h"},
}

func (t *ServerStatus) Execute(ctx context.Context, input map[string]any) Result {
	server, _ := input["server"].(string)

	info, err := t.Inventory.GetServer(server)
	if err != nil {
		return Result{Error: err.Error(), ExitCode: 1}
	}

	var sections []string
	for _, sc := range statusCommands {
		var r Result
		if server == "localhost" || !info.Definition.SSH {
			r = RunLocal(ctx, sc.cmd)
		} else {
			r = RunRemote(ctx, info, sc.cmd)
		}
		if r.Success() {
			sections = append(sections, "=== "+sc.label+" ===\n"+r.Output)
		} else {
			sections = append(sections, "=== "+sc.label+" ===\nError: "+r.Error)
		}
	}

	return Result{Output: strings.Join(sections, "\n\n"), ExitCode: 0}
}
