package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestLoadAgentConfig_AppliesDefaultsForMissingFields(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "agent.yaml", "max_tokens: 2048\n")

	cfg, err := LoadAgentConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, 2048, cfg.MaxTokens)
	assert.Equal(t, 10, cfg.MaxToolIterations)
	assert.Equal(t, ApprovalInteractive, cfg.ApprovalMode)
	assert.Equal(t, 100000, cfg.MaxConversationTokens)
}

func TestAgentConfig_Validate_RejectsOutOfBoundsFields(t *testing.T) {
	valid := AgentConfig{MaxTokens: 100, MaxToolIterations: 10, CommandTimeout: 30, MaxConversationTokens: 100000, ApprovalMode: ApprovalInteractive}
	cases := []AgentConfig{
		{MaxTokens: 0, MaxToolIterations: 10, CommandTimeout: 30, MaxConversationTokens: 100000, ApprovalMode: ApprovalInteractive},
		{MaxTokens: 9000, MaxToolIterations: 10, CommandTimeout: 30, MaxConversationTokens: 100000, ApprovalMode: ApprovalInteractive},
		{MaxTokens: 100, MaxToolIterations: 0, CommandTimeout: 30, MaxConversationTokens: 100000, ApprovalMode: ApprovalInteractive},
		{MaxTokens: 100, MaxToolIterations: 51, CommandTimeout: 30, MaxConversationTokens: 100000, ApprovalMode: ApprovalInteractive},
		{MaxTokens: 100, MaxToolIterations: 10, CommandTimeout: 0, MaxConversationTokens: 100000, ApprovalMode: ApprovalInteractive},
		{MaxTokens: 100, MaxToolIterations: 10, CommandTimeout: 301, MaxConversationTokens: 100000, ApprovalMode: ApprovalInteractive},
		func() AgentConfig { c := valid; c.MaxConversationTokens = 500; return c }(),
		func() AgentConfig { c := valid; c.MaxConversationTokens = 2000000; return c }(),
		{MaxTokens: 100, MaxToolIterations: 10, CommandTimeout: 30, MaxConversationTokens: 100000, ApprovalMode: "yolo"},
	}
	for _, c := range cases {
		assert.Error(t, c.Validate())
	}
	assert.NoError(t, valid.Validate())
}

func TestAgentConfig_Validate_AcceptsDefaults(t *testing.T) {
	assert.NoError(t, defaultAgentConfig().Validate())
}

func TestLoadServersConfig_RejectsSSHWithoutKnownHostsPath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "servers.yaml", `
servers:
  web-1:
    host: 10.0.0.1
    role: web
    ssh: true
`)
	_, err := LoadServersConfig(dir)
	assert.Error(t, err)
}

func TestLoadServersConfig_AllowsSSHWithInsecureSkipOptOut(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "servers.yaml", `
servers:
  web-1:
    host: 10.0.0.1
    role: web
    ssh: true
    insecure_skip_host_key_check: true
`)
	cfg, err := LoadServersConfig(dir)
	require.NoError(t, err)
	assert.True(t, cfg.Servers["web-1"].InsecureSkipHostKeyCheck)
}

func TestLoadServersConfig_DefaultsUserAndExpandsHome(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "servers.yaml", `
servers:
  db-1:
    host: 10.0.0.2
    role: db
    key_path: "~/.ssh/id_ed25519"
    known_hosts_path: /etc/ssh/known_hosts
    ssh: true
`)
	cfg, err := LoadServersConfig(dir)
	require.NoError(t, err)
	srv := cfg.Servers["db-1"]
	assert.Equal(t, "claude-agent", srv.User)
	home, _ := os.UserHomeDir()
	assert.Equal(t, filepath.Join(home, ".ssh/id_ed25519"), srv.KeyPath)
}

func TestLoadPermissionsConfig_DefaultsToEmptyMapWhenMissing(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadPermissionsConfig(dir)
	require.NoError(t, err)
	assert.NotNil(t, cfg.Roles)
	assert.Empty(t, cfg.Roles)
}

func TestAll_FailsWhenConfigDirMissing(t *testing.T) {
	_, _, _, err := All(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Error(t, err)
}

func TestAll_LoadsAndValidatesAllThreeFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "agent.yaml", "model: claude-sonnet-4-5-20250929\n")
	writeFile(t, dir, "servers.yaml", `
servers:
  web-1:
    host: 10.0.0.1
    role: web
`)
	writeFile(t, dir, "permissions.yaml", `
roles:
  web:
    allowed_commands: ["systemctl status *"]
approval_required_patterns: ["rm ", "systemctl restart"]
`)

	agentCfg, serversCfg, permsCfg, err := All(dir)
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-5-20250929", agentCfg.Model)
	assert.Len(t, serversCfg.Servers, 1)
	assert.Len(t, permsCfg.ApprovalRequiredPatterns, 2)
}
