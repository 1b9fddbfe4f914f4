package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/bastionhost/bastion-agent/internal/audit"
	"github.com/bastionhost/bastion-agent/internal/config"
	"github.com/bastionhost/bastion-agent/internal/dispatch"
	"github.com/bastionhost/bastion-agent/internal/llm"
	"github.com/bastionhost/bastion-agent/internal/security"
	"github.com/bastionhost/bastion-agent/internal/tool"
)

const systemPromptTemplate = `You are an infrastructure operations assistant with gated access to a
fleet of servers through a narrow set of auditable tools. Every command
you request is checked against a per-role allowlist, may require human
approval, and is logged. Prefer the least invasive tool that answers the
operator's question.

Server inventory:
%s`

// app bundles the collaborators every CLI command needs, built once from
// the resolved config directory.
type app struct {
	AgentCfg  config.AgentConfig
	Inventory *config.Inventory
	Registry  *dispatch.Registry
	AuditLog  *audit.Logger
	LLMClient *llm.Client
	Logger    *zap.Logger
	SystemPrompt string
}

// buildApp loads configuration, wires the tool registry and its security
// collaborators, and opens the audit log. prompter selects the approval
// behavior (interactive terminal vs. auto-deny for daemon/non-interactive use).
func buildApp(configDir string, logger *zap.Logger, prompter security.ApprovalPrompter) (*app, error) {
	agentCfg, serversCfg, permsCfg, err := config.All(configDir)
	if err != nil {
		return nil, err
	}

	inventory := config.NewInventory(serversCfg, permsCfg)

	auditLog, err := audit.New(agentCfg.AuditLogPath)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}

	registry := dispatch.New(agentCfg, inventory, auditLog, prompter, logger)
	for _, t := range defaultTools(inventory) {
		if err := registry.Register(t); err != nil {
			auditLog.Close()
			return nil, err
		}
	}

	return &app{
		AgentCfg:     agentCfg,
		Inventory:    inventory,
		Registry:     registry,
		AuditLog:     auditLog,
		LLMClient:    llm.NewClient(agentCfg.Model),
		Logger:       logger,
		SystemPrompt: fmt.Sprintf(systemPromptTemplate, inventory.FormatForPrompt()),
	}, nil
}

func defaultTools(inv *config.Inventory) []tool.Tool {
	return []tool.Tool{
		tool.NewLocalExec(),
		tool.NewRemoteExec(inv),
		tool.NewReadFile(inv),
		tool.NewListServers(inv),
		tool.NewServerStatus(inv),
		tool.NewDockerPs(inv),
		tool.NewDockerLogs(inv),
		tool.NewServiceStatus(inv),
		tool.NewServiceJournal(inv),
		tool.NewQueryMetrics(inv),
	}
}

func (a *app) Close() {
	a.AuditLog.Close()
}

// requireAPIKey fails fast with an actionable message for any LLM-facing
// command, rather than letting the SDK's own error surface first.
func requireAPIKey() error {
	if os.Getenv("ANTHROPIC_API_KEY") == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is not set")
	}
	return nil
}
