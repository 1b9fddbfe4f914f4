package security

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bastionhost/bastion-agent/internal/config"
)

func TestIsCommandPermitted_EmptyAllowlistRejectsEverything(t *testing.T) {
	perms := config.RolePermissions{}
	assert.False(t, IsCommandPermitted("uptime", perms))
	assert.False(t, IsCommandPermitted("", perms))
}

func TestIsCommandPermitted_GlobMatch(t *testing.T) {
	perms := config.RolePermissions{AllowedCommands: []string{"docker ps*", "systemctl status *"}}
	assert.True(t, IsCommandPermitted("docker ps -a", perms))
	assert.True(t, IsCommandPermitted("systemctl status nginx", perms))
	assert.False(t, IsCommandPermitted("docker rm -f app", perms))
}

func TestIsCommandPermitted_DefenseInDepthRejectsChaining(t *testing.T) {
	// Even though the pattern would match up to the semicolon, a matched
	// glob does not save a command carrying chaining metacharacters.
	perms := config.RolePermissions{AllowedCommands: []string{"*"}}
	assert.False(t, IsCommandPermitted("uptime; rm -rf /", perms))
	assert.False(t, IsCommandPermitted("uptime && rm -rf /", perms))
	assert.False(t, IsCommandPermitted("uptime | tee /tmp/x", perms))
}

func TestIsPathReadable_NormalizesEquivalentForms(t *testing.T) {
	perms := config.RolePermissions{AllowedPathsRead: []string{"/a/b"}}
	forms := []string{"/a/b/", "/a//b", "/a/./b", "/a/b"}
	for _, p := range forms {
		assert.Truef(t, IsPathReadable(p, perms), "expected %q to normalize under /a/b", p)
	}
	assert.True(t, IsPathReadable("/a/b/c.log", perms))
}

func TestIsPathReadable_TraversalCannotEscapeAllowedDir(t *testing.T) {
	perms := config.RolePermissions{AllowedPathsRead: []string{"/a/allowed"}}
	assert.False(t, IsPathReadable("/a/allowed/../../etc/passwd", perms))
	assert.False(t, IsPathReadable("/etc/passwd", perms))
}

func TestIsPathWritable_ReservedButFunctional(t *testing.T) {
	perms := config.RolePermissions{AllowedPathsWrite: []string{"/var/backups"}}
	assert.True(t, IsPathWritable("/var/backups/dump.sql", perms))
	assert.False(t, IsPathWritable("/etc/passwd", perms))
}
