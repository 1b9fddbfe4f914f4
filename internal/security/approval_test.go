package security

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bastionhost/bastion-agent/internal/config"
)

func TestRequiresApproval_AlwaysSafeToolsShortCircuit(t *testing.T) {
	input := map[string]any{"command": "rm -rf /"}
	assert.False(t, RequiresApproval(nil, "list_servers", input, []string{"rm -rf"}))
	assert.False(t, RequiresApproval(nil, "query_metrics", input, []string{"rm -rf"}))
}

func TestRequiresApproval_EmptyPatternsNeverRequireApproval(t *testing.T) {
	input := map[string]any{"command": "rm -rf /"}
	assert.False(t, RequiresApproval(nil, "run_local_command", input, nil))
}

func TestRequiresApproval_RecursesThroughNestedStructures(t *testing.T) {
	input := map[string]any{
		"command": "systemctl restart nginx",
		"nested": map[string]any{
			"list": []any{"safe", "docker restart app", 42},
		},
	}
	assert.True(t, RequiresApproval(nil, "run_local_command", input, []string{"restart"}))
}

func TestRequiresApproval_NonStringLeavesIgnored(t *testing.T) {
	input := map[string]any{"count": 5, "ratio": 0.5, "flag": true}
	assert.False(t, RequiresApproval(nil, "run_local_command", input, []string{"5"}))
}

func TestRequiresApproval_CaseInsensitive(t *testing.T) {
	input := map[string]any{"command": "DOCKER RESTART app"}
	assert.True(t, RequiresApproval(nil, "run_local_command", input, []string{"restart"}))
}

func TestTerminalPrompter_ApprovesOnYes(t *testing.T) {
	for _, resp := range []string{"y", "Y", "yes", "YES"} {
		in := bufio.NewReader(strings.NewReader(resp + "\n"))
		var out bytes.Buffer
		p := &TerminalPrompter{In: in, Out: &out}
		approved := p.RequestApproval("docker_logs", map[string]any{"container": "app"}, config.ApprovalInteractive)
		assert.True(t, approved, "response %q should approve", resp)
	}
}

func TestTerminalPrompter_DeniesOnAnythingElse(t *testing.T) {
	for _, resp := range []string{"n", "no", "", "maybe"} {
		in := bufio.NewReader(strings.NewReader(resp + "\n"))
		var out bytes.Buffer
		p := &TerminalPrompter{In: in, Out: &out}
		approved := p.RequestApproval("docker_logs", map[string]any{"container": "app"}, config.ApprovalInteractive)
		assert.False(t, approved, "response %q should deny", resp)
	}
}

func TestTerminalPrompter_AutoDenyModeNeverPrompts(t *testing.T) {
	in := bufio.NewReader(strings.NewReader("y\n"))
	var out bytes.Buffer
	p := &TerminalPrompter{In: in, Out: &out}
	approved := p.RequestApproval("docker_logs", map[string]any{}, config.ApprovalAutoDeny)
	assert.False(t, approved)
}

func TestAutoDenyPrompter_AlwaysDenies(t *testing.T) {
	p := &AutoDenyPrompter{}
	assert.False(t, p.RequestApproval("docker_restart", map[string]any{}, config.ApprovalInteractive))
}
