package tool

import (
	"context"
	"fmt"

	"github.com/bastionhost/bastion-agent/internal/config"
)

func runOnServer(ctx context.Context, inv *config.Inventory, server, command string) Result {
	info, err := inv.GetServer(server)
	if err != nil {
		return Result{Error: err.Error(), ExitCode: 1}
	}
	if server == "localhost" || !info.Definition.SSH {
		return RunLocal(ctx, command)
	}
	return RunRemote(ctx, info, command)
}

// DockerPs lists containers on a server. Its command is built entirely
// from the boolean "all" flag — never from a model-supplied string.
type DockerPs struct {
	Inventory *config.Inventory
}

func NewDockerPs(inv *config.Inventory) *DockerPs { return &DockerPs{Inventory: inv} }

func (t *DockerPs) Name() string { return "docker_ps" }

func (t *DockerPs) Description() string {
	return "List running Docker containers on a server. Set 'all' to true " +
		"to include stopped containers."
}

func (t *DockerPs) Schema() Schema {
	return Schema{
		Properties: map[string]any{
			"server": map[string]any{"type": "string", "description": "Server name from the inventory."},
			"all":    map[string]any{"type": "boolean", "description": "Include stopped containers (default false).", "default": false},
		},
		Required: []string{"server"},
	}
}

func (t *DockerPs) Execute(ctx context.Context, input map[string]any) Result {
	server, _ := input["server"].(string)
	all, _ := input["all"].(bool)

	cmd := `docker ps --format 'table {{.ID}}\t{{.Names}}\t{{.Status}}\t{{.Image}}\t{{.Ports}}'`
	if all {
		cmd = `docker ps -a --format 'table {{.ID}}\t{{.Names}}\t{{.Status}}\t{{.Image}}\t{{.Ports}}'`
	}
	return runOnServer(ctx, t.Inventory, server, cmd)
}

// DockerLogs fetches container logs. container/lines/since are each
// validated fields, assembled into a command string programmatically.
type DockerLogs struct {
	Inventory *config.Inventory
}

func NewDockerLogs(inv *config.Inventory) *DockerLogs { return &DockerLogs{Inventory: inv} }

func (t *DockerLogs) Name() string { return "docker_logs" }

func (t *DockerLogs) Description() string {
	return "Fetch logs from a Docker container on a server. " +
		"Optionally limit by number of lines or time range."
}

func (t *DockerLogs) Schema() Schema {
	return Schema{
		Properties: map[string]any{
			"server":    map[string]any{"type": "string", "description": "Server name from the inventory."},
			"container": map[string]any{"type": "string", "description": "Container name or ID."},
			"lines":     map[string]any{"type": "integer", "description": "Number of log lines to return (default 100).", "default": 100},
			"since":     map[string]any{"type": "string", "description": "Show logs since this time (e.g. '1h', '30m', '2024-01-01')."},
		},
		Required: []string{"server", "container"},
	}
}

func (t *DockerLogs) Execute(ctx context.Context, input map[string]any) Result {
	server, _ := input["server"].(string)
	container, _ := input["container"].(string)
	lines := intInput(input["lines"], 100)
	since, _ := input["since"].(string)

	cmd := fmt.Sprintf("docker logs --tail %d", lines)
	if since != "" {
		cmd += " --since " + since
	}
	cmd += " " + container

	return runOnServer(ctx, t.Inventory, server, cmd)
}
