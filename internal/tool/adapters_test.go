package tool

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bastionhost/bastion-agent/internal/config"
)

func testInventory(t *testing.T) *config.Inventory {
	t.Helper()
	servers := config.ServersConfig{Servers: map[string]config.ServerEntry{
		"localhost": {Host: "127.0.0.1", Role: "bastion"},
		"web-1": {
			Host: "10.0.0.5", Role: "web", SSH: true,
			KnownHostsPath: "/nonexistent/known_hosts",
		},
	}}
	perms := config.PermissionsConfig{Roles: map[string]config.RolePermissions{
		"bastion": {AllowedCommands: []string{"*"}},
		"web":     {AllowedCommands: []string{"*"}},
	}}
	return config.NewInventory(servers, perms)
}

func TestRemoteExec_RejectsUnknownServer(t *testing.T) {
	re := NewRemoteExec(testInventory(t))
	result := re.Execute(context.Background(), map[string]any{"server": "ghost", "command": "uptime"})
	assert.False(t, result.Success())
	assert.Contains(t, result.Error, "unknown server")
}

func TestRemoteExec_RejectsNonSSHServer(t *testing.T) {
	re := NewRemoteExec(testInventory(t))
	result := re.Execute(context.Background(), map[string]any{"server": "localhost", "command": "uptime"})
	assert.False(t, result.Success())
	assert.Contains(t, result.Error, "run_local_command")
}

func TestRemoteExec_RejectsMissingKeyPath(t *testing.T) {
	inv := testInventory(t)
	info, err := inv.GetServer("web-1")
	require.NoError(t, err)

	result := RunRemote(context.Background(), info, "uptime")
	assert.False(t, result.Success())
	assert.Contains(t, result.Error, "No SSH key configured")
}

func TestRunRemote_DescribesUnreadableKeyFileDistinctly(t *testing.T) {
	servers := config.ServersConfig{Servers: map[string]config.ServerEntry{
		"web-2": {
			Host: "10.0.0.6", Role: "web", SSH: true, User: "deploy",
			KeyPath:        "/nonexistent/id_ed25519",
			KnownHostsPath: "/nonexistent/known_hosts",
		},
	}}
	inv := config.NewInventory(servers, config.PermissionsConfig{Roles: map[string]config.RolePermissions{}})
	info, err := inv.GetServer("web-2")
	require.NoError(t, err)

	result := RunRemote(context.Background(), info, "uptime")
	assert.False(t, result.Success())
	assert.Contains(t, result.Error, "SSH key error")
	assert.Contains(t, result.Error, "web-2")
}

func TestDescribeSSHError_DistinguishesCategories(t *testing.T) {
	defn := config.ServerEntry{Host: "10.0.0.9", User: "deploy", KnownHostsPath: "/etc/ssh/known_hosts"}

	keyErr := &sshKeyError{fmt.Errorf("boom")}
	assert.Contains(t, describeSSHError("srv-a", defn, keyErr), "SSH key error")

	hostsErr := &sshKnownHostsLoadError{fmt.Errorf("boom")}
	assert.Contains(t, describeSSHError("srv-a", defn, hostsErr), "Could not load known_hosts_path")

	refusedErr := &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}
	assert.Contains(t, describeSSHError("srv-a", defn, refusedErr), "refused")

	dnsErr := &net.DNSError{Err: "no such host", Name: "srv-a"}
	assert.Contains(t, describeSSHError("srv-a", defn, dnsErr), "Could not resolve host")

	authErr := fmt.Errorf("ssh: handshake failed: ssh: unable to authenticate, attempted methods [publickey]")
	assert.Contains(t, describeSSHError("srv-a", defn, authErr), "authentication rejected")

	genericErr := fmt.Errorf("connection reset by peer")
	msg := describeSSHError("srv-a", defn, genericErr)
	assert.Contains(t, msg, "srv-a")
	assert.Contains(t, msg, "connection reset by peer")
}

func TestReadFile_BuildsHeadCommandForLocalhost(t *testing.T) {
	rf := NewReadFile(testInventory(t))
	result := rf.Execute(context.Background(), map[string]any{"server": "localhost", "path": "/etc/hostname", "lines": float64(5)})
	// /etc/hostname should exist on any Linux host; we only assert the
	// command ran through RunLocal rather than erroring on inventory lookup.
	assert.NotContains(t, result.Error, "unknown server")
}

// TestReadFile_SpaceInPathNeverSplitsIntoASecondArgument is a regression
// test for a hole where a path with an embedded space, composed into a
// "head -n N <path>" string and then re-tokenized by shlexSplit, could
// smuggle a second, never-allowlist-checked path onto the command line.
// ReadFile must build a literal argv instead, so the whole string stays
// one "head" argument — a literal filename head will fail to find.
func TestReadFile_SpaceInPathNeverSplitsIntoASecondArgument(t *testing.T) {
	dir := t.TempDir()
	allowed := filepath.Join(dir, "allowed.log")
	secret := filepath.Join(dir, "secret")
	require.NoError(t, os.WriteFile(allowed, []byte("ALLOWED_CONTENT\n"), 0644))
	require.NoError(t, os.WriteFile(secret, []byte("SECRET_CONTENT\n"), 0644))

	rf := NewReadFile(testInventory(t))
	spacedPath := allowed + " " + secret
	result := rf.Execute(context.Background(), map[string]any{
		"server": "localhost", "path": spacedPath, "lines": float64(5),
	})

	assert.NotContains(t, result.Output, "SECRET_CONTENT")
	assert.NotContains(t, result.Error, "SECRET_CONTENT")
	// head sees one literal (nonexistent) filename containing a space, not
	// two arguments — it fails to find it rather than reading the second.
	assert.False(t, result.Success())
}

func TestReadFile_DefaultsLinesTo100(t *testing.T) {
	assert.Equal(t, 100, intInput(nil, 100))
	assert.Equal(t, 5, intInput(float64(5), 100))
	assert.Equal(t, 7, intInput(7, 100))
}

func TestListServers_Schema_HasNoRequiredFields(t *testing.T) {
	ls := NewListServers(testInventory(t))
	schema := ls.Schema()
	assert.Empty(t, schema.Required)
}

func TestListServers_Execute_IncludesEveryServer(t *testing.T) {
	ls := NewListServers(testInventory(t))
	result := ls.Execute(context.Background(), nil)
	assert.Contains(t, result.Output, "localhost")
	assert.Contains(t, result.Output, "web-1")
}

func TestServerStatus_RejectsUnknownServer(t *testing.T) {
	ss := NewServerStatus(testInventory(t))
	result := ss.Execute(context.Background(), map[string]any{"server": "ghost"})
	assert.False(t, result.Success())
}

func TestDockerPs_CommandIncludesAllFlagWhenRequested(t *testing.T) {
	dp := NewDockerPs(testInventory(t))
	result := dp.Execute(context.Background(), map[string]any{"server": "localhost", "all": true})
	// docker binary is unlikely to exist in the test sandbox, so this
	// should fail with exit 127, not an inventory/allowlist error.
	assert.NotContains(t, result.Error, "unknown server")
}

func TestDockerPs_FormatValueTokenizesAsOneArgument(t *testing.T) {
	cmd := `docker ps --format 'table {{.ID}}\t{{.Names}}\t{{.Status}}\t{{.Image}}\t{{.Ports}}'`
	args, err := shlexSplit(cmd)
	require.NoError(t, err)
	require.Equal(t, []string{
		"docker", "ps", "--format",
		`table {{.ID}}\t{{.Names}}\t{{.Status}}\t{{.Image}}\t{{.Ports}}`,
	}, args)
}

func TestDockerLogs_RequiresContainerField(t *testing.T) {
	schema := NewDockerLogs(testInventory(t)).Schema()
	assert.Contains(t, schema.Required, "container")
	assert.Contains(t, schema.Required, "server")
}

func TestServiceStatus_Schema_RequiresServiceField(t *testing.T) {
	schema := NewServiceStatus(testInventory(t)).Schema()
	assert.Contains(t, schema.Required, "service")
}

func TestServiceJournal_DefaultsLinesTo50(t *testing.T) {
	schema := NewServiceJournal(testInventory(t)).Schema()
	props, ok := schema.Properties["lines"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 50, props["default"])
}

func TestQueryMetrics_RejectsWhenNoServerHasMetricsURL(t *testing.T) {
	qm := NewQueryMetrics(testInventory(t))
	result := qm.Execute(context.Background(), map[string]any{"query": "up"})
	assert.False(t, result.Success())
	assert.Contains(t, result.Error, "No server with metrics_url")
}

func TestQueryMetrics_RejectsUnknownTimeRange(t *testing.T) {
	servers := config.ServersConfig{Servers: map[string]config.ServerEntry{
		"mon-1": {Host: "10.0.0.9", Role: "monitoring", MetricsURL: "http://10.0.0.9:8428"},
	}}
	inv := config.NewInventory(servers, config.PermissionsConfig{Roles: map[string]config.RolePermissions{}})
	qm := NewQueryMetrics(inv)

	result := qm.Execute(context.Background(), map[string]any{"query": "up", "time_range": "99x"})
	assert.False(t, result.Success())
	assert.Contains(t, result.Error, "Unknown time range")
}
