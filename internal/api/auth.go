// Package api implements the HTTP surface of the route optimization service.
package api

import (
	"net/http"
	"strings"
)

// Roles.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

const defaultTenant = "t_demo"

type Principal struct {
	Tenant string
	Role   string // admin, operator, viewer
}

// getPrincipal reads the tenant and role set by the upstream gateway.
func getPrincipal(r *http.Request) Principal {
	tenant := strings.TrimSpace(r.Header.Get("X-Tenant-Id"))
	role := strings.ToLower(strings.TrimSpace(r.Header.Get("X-Role")))
	if tenant == "" {
		tenant = defaultTenant
	}
	if role == "" {
		role = RoleOperator
	}
	return Principal{Tenant: tenant, Role: role}
}

// CanWrite reports whether the principal may start, retry, reset or decide.
func (p Principal) CanWrite() bool { return p.Role == RoleAdmin || p.Role == RoleOperator }

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// requireWrite writes a 403 and returns false for read-only principals.
func requireWrite(w http.ResponseWriter, r *http.Request, p Principal) bool {
	if p.CanWrite() {
		return true
	}
	writeProblem(w, http.StatusForbidden, "Forbidden", "role "+p.Role+" is read-only", r.URL.Path)
	return false
}
