// Package config loads the agent's three YAML configuration files
// (agent.yaml, servers.yaml, permissions.yaml) from a config directory,
// matching the layout the teacher's internal/config package pioneered
// for GenCode's settings cascade, but trimmed to a single directory and
// a fixed set of three files rather than a multi-level override chain.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ApprovalMode controls how the approval gate handles destructive operations.
type ApprovalMode string

const (
	ApprovalInteractive ApprovalMode = "interactive"
	ApprovalAutoDeny    ApprovalMode = "auto_deny"
)

// AgentConfig is the top-level agent behavior configuration loaded from agent.yaml.
type AgentConfig struct {
	Model                 string       `yaml:"model"`
	MaxTokens             int          `yaml:"max_tokens"`
	MaxToolIterations     int          `yaml:"max_tool_iterations"`
	CommandTimeout        int          `yaml:"command_timeout"`
	MaxConversationTokens int          `yaml:"max_conversation_tokens"`
	AuditLogPath          string       `yaml:"audit_log_path"`
	ApprovalMode          ApprovalMode `yaml:"approval_mode"`
	SocketPath            string       `yaml:"socket_path"`
}

func defaultAgentConfig() AgentConfig {
	return AgentConfig{
		Model:                 "claude-sonnet-4-5-20250929",
		MaxTokens:             4096,
		MaxToolIterations:     10,
		CommandTimeout:        30,
		MaxConversationTokens: 100000,
		AuditLogPath:          "./logs/audit.jsonl",
		ApprovalMode:          ApprovalInteractive,
		SocketPath:            "/run/bastion-agent/agent.sock",
	}
}

// Validate checks the bounds the original Pydantic model enforced with
// Field(ge=..., le=...). Go has no declarative validator in the teacher's
// stack, so these bounds are checked by hand.
func (c AgentConfig) Validate() error {
	if c.MaxTokens < 1 || c.MaxTokens > 8192 {
		return fmt.Errorf("agent.yaml: max_tokens must be between 1 and 8192, got %d", c.MaxTokens)
	}
	if c.MaxToolIterations < 1 || c.MaxToolIterations > 50 {
		return fmt.Errorf("agent.yaml: max_tool_iterations must be between 1 and 50, got %d", c.MaxToolIterations)
	}
	if c.CommandTimeout < 1 || c.CommandTimeout > 300 {
		return fmt.Errorf("agent.yaml: command_timeout must be between 1 and 300, got %d", c.CommandTimeout)
	}
	if c.MaxConversationTokens < 1000 || c.MaxConversationTokens > 1000000 {
		return fmt.Errorf("agent.yaml: max_conversation_tokens must be between 1000 and 1000000, got %d", c.MaxConversationTokens)
	}
	if c.ApprovalMode != ApprovalInteractive && c.ApprovalMode != ApprovalAutoDeny {
		return fmt.Errorf("agent.yaml: approval_mode must be %q or %q, got %q", ApprovalInteractive, ApprovalAutoDeny, c.ApprovalMode)
	}
	return nil
}

// RolePermissions holds the allowed commands and file paths for a server role.
type RolePermissions struct {
	AllowedCommands   []string `yaml:"allowed_commands"`
	AllowedPathsRead  []string `yaml:"allowed_paths_read"`
	AllowedPathsWrite []string `yaml:"allowed_paths_write"`
}

// PermissionsConfig is the full set of role permissions loaded from permissions.yaml.
type PermissionsConfig struct {
	Roles                    map[string]RolePermissions `yaml:"roles"`
	ApprovalRequiredPatterns []string                   `yaml:"approval_required_patterns"`
}

// ServerEntry is a single server in the inventory, as loaded from servers.yaml.
type ServerEntry struct {
	Host                     string `yaml:"host"`
	Role                     string `yaml:"role"`
	User                     string `yaml:"user"`
	Description              string `yaml:"description"`
	SSH                      bool   `yaml:"ssh"`
	KeyPath                  string `yaml:"key_path"`
	KnownHostsPath           string `yaml:"known_hosts_path"`
	Services                 []string `yaml:"services"`
	MetricsURL               string `yaml:"metrics_url"`
	MetricsAuth              string `yaml:"metrics_auth"`
	InsecureSkipHostKeyCheck bool   `yaml:"insecure_skip_host_key_check"`
}

// ServersConfig is the server inventory loaded from servers.yaml.
type ServersConfig struct {
	Servers map[string]ServerEntry `yaml:"servers"`
}

func loadYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// LoadAgentConfig loads agent.yaml from configDir, applying defaults for
// any field the file omits.
func LoadAgentConfig(configDir string) (AgentConfig, error) {
	cfg := defaultAgentConfig()
	if err := loadYAML(filepath.Join(configDir, "agent.yaml"), &cfg); err != nil {
		return AgentConfig{}, err
	}
	return cfg, nil
}

// LoadPermissionsConfig loads permissions.yaml from configDir.
func LoadPermissionsConfig(configDir string) (PermissionsConfig, error) {
	cfg := PermissionsConfig{Roles: map[string]RolePermissions{}}
	if err := loadYAML(filepath.Join(configDir, "permissions.yaml"), &cfg); err != nil {
		return PermissionsConfig{}, err
	}
	if cfg.Roles == nil {
		cfg.Roles = map[string]RolePermissions{}
	}
	return cfg, nil
}

// LoadServersConfig loads servers.yaml from configDir, expanding "~" in
// each server's key_path, and rejects servers that have SSH enabled with
// no known_hosts_path unless they opt out explicitly.
func LoadServersConfig(configDir string) (ServersConfig, error) {
	cfg := ServersConfig{Servers: map[string]ServerEntry{}}
	if err := loadYAML(filepath.Join(configDir, "servers.yaml"), &cfg); err != nil {
		return ServersConfig{}, err
	}
	if cfg.Servers == nil {
		cfg.Servers = map[string]ServerEntry{}
	}
	for name, srv := range cfg.Servers {
		if srv.User == "" {
			srv.User = "claude-agent"
		}
		if srv.KeyPath != "" {
			expanded, err := expandHome(srv.KeyPath)
			if err != nil {
				return ServersConfig{}, fmt.Errorf("servers.yaml: server %q: %w", name, err)
			}
			srv.KeyPath = expanded
		}
		if srv.SSH && srv.KnownHostsPath == "" && !srv.InsecureSkipHostKeyCheck {
			return ServersConfig{}, fmt.Errorf(
				"servers.yaml: server %q: ssh is enabled but known_hosts_path is empty; "+
					"set known_hosts_path or explicitly set insecure_skip_host_key_check: true", name)
		}
		cfg.Servers[name] = srv
	}
	return cfg, nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !hasHomePrefix(path) {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expanding %q: %w", path, err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, path[2:]), nil
}

func hasHomePrefix(path string) bool {
	return len(path) >= 2 && path[0] == '~' && path[1] == '/'
}

// All loads all three config files from configDir and validates agent.yaml's bounds.
func All(configDir string) (AgentConfig, ServersConfig, PermissionsConfig, error) {
	info, err := os.Stat(configDir)
	if err != nil || !info.IsDir() {
		return AgentConfig{}, ServersConfig{}, PermissionsConfig{}, fmt.Errorf("configuration directory not found: %s", configDir)
	}

	agentCfg, err := LoadAgentConfig(configDir)
	if err != nil {
		return AgentConfig{}, ServersConfig{}, PermissionsConfig{}, err
	}
	if err := agentCfg.Validate(); err != nil {
		return AgentConfig{}, ServersConfig{}, PermissionsConfig{}, err
	}

	serversCfg, err := LoadServersConfig(configDir)
	if err != nil {
		return AgentConfig{}, ServersConfig{}, PermissionsConfig{}, err
	}

	permsCfg, err := LoadPermissionsConfig(configDir)
	if err != nil {
		return AgentConfig{}, ServersConfig{}, PermissionsConfig{}, err
	}

	return agentCfg, serversCfg, permsCfg, nil
}
