package tool

import (
	"context"
	"fmt"

	"github.com/bastionhost/bastion-agent/internal/config"
)

// ServiceStatus checks a systemd unit's status on a server.
type ServiceStatus struct {
	Inventory *config.Inventory
}

func NewServiceStatus(inv *config.Inventory) *ServiceStatus { return &ServiceStatus{Inventory: inv} }

func (t *ServiceStatus) Name() string { return "service_status" }

func (t *ServiceStatus) Description() string {
	return "Check the status of a systemd service on a server."
}

func (t *ServiceStatus) Schema() Schema {
	return Schema{
		Properties: map[string]any{
			"server":  map[string]any{"type": "string", "description": "Server name from the inventory."},
			"service": map[string]any{"type": "string", "description": "Systemd service name (e.g. 'docker', 'nginx')."},
		},
		Required: []string{"server", "service"},
	}
}

func (t *ServiceStatus) Execute(ctx context.Context, input map[string]any) Result {
	server, _ := input["server"].(string)
	service, _ := input["service"].(string)
	return runOnServer(ctx, t.Inventory, server, "systemctl status "+service)
}

// ServiceJournal reads the systemd journal for a unit on a server.
type ServiceJournal struct {
	Inventory *config.Inventory
}

func NewServiceJournal(inv *config.Inventory) *ServiceJournal { return &ServiceJournal{Inventory: inv} }

func (t *ServiceJournal) Name() string { return "service_journal" }

func (t *ServiceJournal) Description() string {
	return "Read the systemd journal (logs) for a service on a server. " +
		"Optionally limit by number of lines or time range."
}

func (t *ServiceJournal) Schema() Schema {
	return Schema{
		Properties: map[string]any{
			"server":  map[string]any{"type": "string", "description": "Server name from the inventory."},
			"service": map[string]any{"type": "string", "description": "Systemd service name."},
			"lines":   map[string]any{"type": "integer", "description": "Number of journal lines to return (default 50).", "default": 50},
			"since":   map[string]any{"type": "string", "description": "Show entries since this time (e.g. '1h ago', 'today', '2024-01-01')."},
		},
		Required: []string{"server", "service"},
	}
}

func (t *ServiceJournal) Execute(ctx context.Context, input map[string]any) Result {
	server, _ := input["server"].(string)
	service, _ := input["service"].(string)
	lines := intInput(input["lines"], 50)
	since, _ := input["since"].(string)

	cmd := fmt.Sprintf("journalctl -u %s --no-pager -n %d", service, lines)
	if since != "" {
		cmd += fmt.Sprintf(" --since '%s'", since)
	}

	return runOnServer(ctx, t.Inventory, server, cmd)
}
