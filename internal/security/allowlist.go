package security

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/bastionhost/bastion-agent/internal/config"
)

// AllowlistDenied is raised when a command or path is not on the role's allowlist.
type AllowlistDenied struct {
	Subject string // e.g. the command, or "read:<path>" / "write:<path>"
	Role    string
}

func (e *AllowlistDenied) Error() string {
	return fmt.Sprintf("not allowed for role %q: %q", e.Role, e.Subject)
}

var dangerousChars = ";|&`\n\r\x00"

// IsCommandPermitted reports whether command matches any of the role's
// allowed_commands glob patterns. The whole command must match. "/" is
// swapped for a NUL byte in both pattern and command before calling
// doublestar.Match, so "/" is an ordinary character and "*" matches any run
// of characters including "/", as in Python's fnmatch. A command containing
// NUL never gets this far: it is rejected as a dangerous character.
//
// This depends on the sanitizer having already rejected shell
// metacharacters. As defense-in-depth we reject them here too.
func IsCommandPermitted(command string, perms config.RolePermissions) bool {
	trimmed := strings.TrimSpace(command)
	if strings.ContainsAny(trimmed, dangerousChars) {
		return false
	}
	subject := strings.ReplaceAll(trimmed, "/", "\x00")
	for _, pattern := range perms.AllowedCommands {
		if ok, _ := doublestar.Match(strings.ReplaceAll(pattern, "/", "\x00"), subject); ok {
			return true
		}
	}
	return false
}

// IsPathReadable reports whether path falls under one of the role's
// allowed_paths_read directories.
func IsPathReadable(p string, perms config.RolePermissions) bool {
	return isUnderAny(p, perms.AllowedPathsRead)
}

// IsPathWritable reports whether path falls under one of the role's
// allowed_paths_write directories. Reserved: no shipped tool currently
// calls CheckPathWrite, but the allowlist enforces it the moment one does.
func IsPathWritable(p string, perms config.RolePermissions) bool {
	return isUnderAny(p, perms.AllowedPathsWrite)
}

func isUnderAny(p string, allowed []string) bool {
	normalized := normalizePath(p)
	for _, dir := range allowed {
		dirNorm := strings.TrimRight(normalizePath(dir), "/") + "/"
		if strings.HasPrefix(normalized, dirNorm) || normalized == strings.TrimSuffix(dirNorm, "/") {
			return true
		}
	}
	return false
}

// normalizePath collapses redundant slashes and "." components, matching
// os.path.normpath's behavior. Symlinks are never resolved; the sanitizer
// has already rejected ".." before a path reaches the allowlist.
func normalizePath(p string) string {
	if p == "" {
		return "."
	}
	cleaned := path.Clean(p)
	return cleaned
}

// CheckCommand validates command against the allowlist, returning
// AllowlistDenied on denial.
func CheckCommand(logger *zap.Logger, command, role string, perms config.RolePermissions) error {
	if !IsCommandPermitted(command, perms) {
		if logger != nil {
			logger.Warn("allowlist_denied", zap.String("command", command), zap.String("role", role))
		}
		return &AllowlistDenied{Subject: command, Role: role}
	}
	return nil
}

// CheckPathRead validates a read path against the allowlist.
func CheckPathRead(logger *zap.Logger, p, role string, perms config.RolePermissions) error {
	if !IsPathReadable(p, perms) {
		if logger != nil {
			logger.Warn("path_read_denied", zap.String("path", p), zap.String("role", role))
		}
		return &AllowlistDenied{Subject: "read:" + p, Role: role}
	}
	return nil
}

// CheckPathWrite validates a write path against the allowlist. Reserved for
// a future write-capable tool; exercised today only by tests.
func CheckPathWrite(logger *zap.Logger, p, role string, perms config.RolePermissions) error {
	if !IsPathWritable(p, perms) {
		if logger != nil {
			logger.Warn("path_write_denied", zap.String("path", p), zap.String("role", role))
		}
		return &AllowlistDenied{Subject: "write:" + p, Role: role}
	}
	return nil
}
