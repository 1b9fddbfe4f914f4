package config

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ServerInfo is a resolved server with its role's permissions attached.
type ServerInfo struct {
	Name        string
	Definition  ServerEntry
	Permissions RolePermissions
}

// Inventory provides lookup over the server fleet and the roles defined for
// it. Every tool adapter and the dispatch registry hold the same *Inventory
// pointer; Reload swaps its contents in place under lock so a config-watcher
// edit to servers.yaml/permissions.yaml takes effect for all of them at once,
// without any caller needing a new pointer.
type Inventory struct {
	mu          sync.RWMutex
	servers     map[string]ServerEntry
	permissions PermissionsConfig
	byRole      map[string][]string
	names       []string
}

// NewInventory builds an Inventory from loaded server and permissions config.
func NewInventory(servers ServersConfig, permissions PermissionsConfig) *Inventory {
	inv := &Inventory{}
	inv.set(servers, permissions)
	return inv
}

// Reload atomically replaces the inventory's contents. Existing ServerInfo
// values already handed out are unaffected; the next lookup sees the new data.
func (inv *Inventory) Reload(servers ServersConfig, permissions PermissionsConfig) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.set(servers, permissions)
}

// set rebuilds the derived fields. Callers must hold inv.mu for writing.
func (inv *Inventory) set(servers ServersConfig, permissions PermissionsConfig) {
	byRole := map[string][]string{}
	names := make([]string, 0, len(servers.Servers))
	for name, srv := range servers.Servers {
		names = append(names, name)
		byRole[srv.Role] = append(byRole[srv.Role], name)
	}
	sort.Strings(names)

	inv.servers = servers.Servers
	inv.permissions = permissions
	inv.byRole = byRole
	inv.names = names
}

// ServerNames returns all server names in the inventory, sorted.
func (inv *Inventory) ServerNames() []string {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return inv.names
}

// Roles returns all distinct roles present in the inventory.
func (inv *Inventory) Roles() []string {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	roles := make([]string, 0, len(inv.byRole))
	for r := range inv.byRole {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	return roles
}

// GetServer looks up a server by name, returning its definition and role permissions.
func (inv *Inventory) GetServer(name string) (ServerInfo, error) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	defn, ok := inv.servers[name]
	if !ok {
		return ServerInfo{}, fmt.Errorf("unknown server: %q. Available: %s", name, strings.Join(inv.names, ", "))
	}
	perms := inv.permissions.Roles[defn.Role]
	return ServerInfo{Name: name, Definition: defn, Permissions: perms}, nil
}

// GetServersByRole returns every server matching the given role.
func (inv *Inventory) GetServersByRole(role string) []ServerInfo {
	inv.mu.RLock()
	names := append([]string(nil), inv.byRole[role]...)
	inv.mu.RUnlock()

	result := make([]ServerInfo, 0, len(names))
	for _, n := range names {
		info, err := inv.GetServer(n)
		if err == nil {
			result = append(result, info)
		}
	}
	return result
}

// ApprovalPatterns returns the global list of substrings that trigger human approval.
func (inv *Inventory) ApprovalPatterns() []string {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return inv.permissions.ApprovalRequiredPatterns
}

// FormatForPrompt renders the inventory for embedding in the system prompt,
// so the model knows what servers and services exist without a tool round-trip.
func (inv *Inventory) FormatForPrompt() string {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	var b strings.Builder
	for _, name := range inv.names {
		srv := inv.servers[name]
		fmt.Fprintf(&b, "- **%s** (%s): %s\n", name, srv.Role, srv.Description)
		fmt.Fprintf(&b, "  Host: %s | User: %s | SSH: %t\n", srv.Host, srv.User, srv.SSH)
		if len(srv.Services) > 0 {
			fmt.Fprintf(&b, "  Services: %s\n", strings.Join(srv.Services, ", "))
		}
		if srv.MetricsURL != "" {
			fmt.Fprintf(&b, "  Metrics: %s\n", srv.MetricsURL)
		}
	}
	return b.String()
}

// FirstServerWithMetrics returns the first server (by sorted name) that has
// a metrics_url configured, for query_metrics to target.
func (inv *Inventory) FirstServerWithMetrics() (ServerInfo, bool) {
	inv.mu.RLock()
	names := append([]string(nil), inv.names...)
	servers := inv.servers
	inv.mu.RUnlock()

	for _, name := range names {
		if servers[name].MetricsURL != "" {
			info, err := inv.GetServer(name)
			if err == nil {
				return info, true
			}
		}
	}
	return ServerInfo{}, false
}
