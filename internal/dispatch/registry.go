// Package dispatch implements the Dispatch Kernel: the registry of
// available tools and the six-stage secure pipeline every tool call passes
// through before it reaches a live subprocess or SSH session.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bastionhost/bastion-agent/internal/audit"
	"github.com/bastionhost/bastion-agent/internal/config"
	"github.com/bastionhost/bastion-agent/internal/log"
	"github.com/bastionhost/bastion-agent/internal/metrics"
	"github.com/bastionhost/bastion-agent/internal/security"
	"github.com/bastionhost/bastion-agent/internal/tool"
)

// DuplicateToolError is returned by Register when a tool name is already taken.
type DuplicateToolError struct{ Name string }

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool already registered: %q", e.Name)
}

// Registry holds every tool available to the conversation loop and
// dispatches calls through the security pipeline.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]tool.Tool

	agentCfg  config.AgentConfig
	inventory *config.Inventory
	auditLog  *audit.Logger
	prompter  security.ApprovalPrompter
	logger    *zap.Logger
}

// New constructs an empty Registry wired to the security collaborators.
func New(agentCfg config.AgentConfig, inventory *config.Inventory, auditLog *audit.Logger, prompter security.ApprovalPrompter, logger *zap.Logger) *Registry {
	return &Registry{
		tools:     map[string]tool.Tool{},
		agentCfg:  agentCfg,
		inventory: inventory,
		auditLog:  auditLog,
		prompter:  prompter,
		logger:    logger,
	}
}

// Register adds a tool, rejecting a duplicate name.
func (r *Registry) Register(t tool.Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return &DuplicateToolError{Name: t.Name()}
	}
	r.tools[t.Name()] = t
	if r.logger != nil {
		r.logger.Debug("tool_registered", zap.String("tool", t.Name()))
	}
	return nil
}

// GetSchemas returns the Anthropic tool schemas for every registered tool,
// in a stable (insertion-independent, name-sorted) order.
func (r *Registry) GetSchemas() []ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemas := make([]ToolSchema, 0, len(r.tools))
	for _, t := range r.tools {
		schemas = append(schemas, ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Schema(),
		})
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })
	return schemas
}

// ToolSchema is the Anthropic-API-shaped description of one tool.
type ToolSchema struct {
	Name        string
	Description string
	InputSchema tool.Schema
}

// ToolNames returns all registered tool names.
func (r *Registry) ToolNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	return names
}

// Dispatch runs a tool call through the full pipeline:
//
//  1. sanitize inputs
//  2. log the attempt
//  3. check the allowlist (for command/path-bearing tools)
//  4. check whether human approval is required
//  5. execute with a timeout
//  6. log and return the result
//
// sessionID is threaded through purely for audit correlation. toolCallID is
// the LLM-assigned tool_use id, threaded through purely for operational log
// correlation (see internal/log.LogDispatch).
func (r *Registry) Dispatch(ctx context.Context, sessionID, toolCallID, toolName string, toolInput map[string]any) map[string]any {
	start := time.Now()
	outcome := func(o string) string {
		log.LogDispatch(toolName, toolCallID, time.Since(start).Milliseconds(), o)
		return o
	}

	r.mu.RLock()
	t, ok := r.tools[toolName]
	r.mu.RUnlock()
	if !ok {
		outcome("unknown_tool")
		return map[string]any{"error": fmt.Sprintf("Unknown tool: %q", toolName)}
	}

	if err := security.Sanitize(r.logger, toolName, toolInput); err != nil {
		r.auditLog.LogDenied(sessionID, toolName, toolInput, "sanitizer: "+err.Error())
		metrics.RecordDispatch(toolName, "denied")
		outcome("denied")
		return map[string]any{"error": "Input rejected: " + err.Error()}
	}

	r.auditLog.LogAttempt(sessionID, toolName, toolInput)

	if err := r.checkAllowlist(toolName, toolInput); err != nil {
		r.auditLog.LogDenied(sessionID, toolName, toolInput, "allowlist: "+err.Error())
		metrics.RecordDispatch(toolName, "denied")
		outcome("denied")
		return map[string]any{"error": "Operation not permitted by security policy: " + err.Error()}
	}

	approvalPatterns := r.inventory.ApprovalPatterns()
	if security.RequiresApproval(r.logger, toolName, toolInput, approvalPatterns) {
		approved := r.prompter.RequestApproval(toolName, toolInput, r.agentCfg.ApprovalMode)
		if !approved {
			r.auditLog.LogDenied(sessionID, toolName, toolInput, "human_denied")
			metrics.RecordDispatch(toolName, "denied")
			outcome("denied")
			return map[string]any{"error": "Operation denied by operator"}
		}
	}

	timeout := time.Duration(r.agentCfg.CommandTimeout) * time.Second
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultCh := make(chan tool.Result, 1)
	go func() { resultCh <- t.Execute(execCtx, toolInput) }()

	select {
	case <-execCtx.Done():
		r.auditLog.LogTimeout(sessionID, toolName, toolInput)
		metrics.RecordDispatch(toolName, "timeout")
		outcome("timeout")
		return map[string]any{"error": fmt.Sprintf("Operation timed out (%ds)", r.agentCfg.CommandTimeout)}
	case result := <-resultCh:
		resultDict := result.ToDict()
		if result.Success() {
			r.auditLog.LogSuccess(sessionID, toolName, toolInput, resultDict)
			metrics.RecordDispatch(toolName, "success")
			outcome("success")
		} else {
			errMsg := result.Error
			if errMsg == "" {
				errMsg = fmt.Sprintf("exit code %d", result.ExitCode)
			}
			r.auditLog.LogError(sessionID, toolName, toolInput, errMsg)
			metrics.RecordDispatch(toolName, "error")
			outcome("error")
		}
		return resultDict
	}
}

// checkAllowlist runs command/path allowlist checks for tools whose input
// carries a "command" and/or "path" field. Tools that build commands
// programmatically (docker_ps, service_status, get_server_status, ...)
// never populate "command", so they skip this check entirely — they are
// gated by their own fixed, hardcoded command templates instead.
func (r *Registry) checkAllowlist(toolName string, toolInput map[string]any) error {
	serverName, hasServer := toolInput["server"].(string)

	if command, hasCommand := toolInput["command"].(string); hasCommand {
		if hasServer {
			info, err := r.inventory.GetServer(serverName)
			if err != nil {
				return err
			}
			return security.CheckCommand(r.logger, command, info.Definition.Role, info.Permissions)
		}

		info, err := r.inventory.GetServer("localhost")
		if err != nil {
			return &security.AllowlistDenied{Subject: command, Role: "bastion (no 'localhost' entry in server inventory)"}
		}
		if err := security.CheckCommand(r.logger, command, info.Definition.Role, info.Permissions); err != nil {
			return err
		}
	}

	if path, hasPath := toolInput["path"].(string); hasPath && hasServer {
		info, err := r.inventory.GetServer(serverName)
		if err != nil {
			return err
		}
		if err := security.CheckPathRead(r.logger, path, info.Definition.Role, info.Permissions); err != nil {
			return err
		}
	}

	return nil
}
