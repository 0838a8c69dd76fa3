package rbac

import (
	"sort"
	"strings"
)

// Role is an admin access tier.
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleGeneral    Role = "general"
	// RoleTestMode can browse the back office but every mutation is refused.
	RoleTestMode Role = "test_mode"
)

// Permission is a discrete action checked by admin handlers.
type Permission string

const (
	PermProductsRead  Permission = "products:read"
	PermProductsWrite Permission = "products:write"
	PermOrdersRead    Permission = "orders:read"
	PermOrdersWrite   Permission = "orders:write"
	PermOrdersCapture Permission = "orders:capture"
	PermAnalyticsRead Permission = "analytics:read"
	PermUsersManage   Permission = "users:manage"
)

var allPermissions = []Permission{
	PermProductsRead,
	PermProductsWrite,
	PermOrdersRead,
	PermOrdersWrite,
	PermOrdersCapture,
	PermAnalyticsRead,
	PermUsersManage,
}

// rolePermissions is the complete, static grant table.
var rolePermissions = map[Role][]Permission{
	RoleSuperAdmin: allPermissions,
	RoleAdmin: {
		PermProductsRead,
		PermProductsWrite,
		PermOrdersRead,
		PermOrdersWrite,
		PermOrdersCapture,
		PermAnalyticsRead,
	},
	RoleGeneral: {
		PermProductsRead,
		PermOrdersRead,
	},
	RoleTestMode: {
		PermProductsRead,
		PermOrdersRead,
		PermAnalyticsRead,
	},
}

// ParseRole converts a raw role string into a known Role.
func ParseRole(raw string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := rolePermissions[role]; !ok {
		return "", false
	}
	return role, true
}

// Roles lists every known role in a stable order.
func Roles() []Role {
	return []Role{RoleSuperAdmin, RoleAdmin, RoleGeneral, RoleTestMode}
}

// PermissionsForRole returns the sorted permission strings granted to role.
func PermissionsForRole(role Role) []string {
	granted := rolePermissions[role]
	out := make([]string, 0, len(granted))
	for _, perm := range granted {
		out = append(out, string(perm))
	}
	sort.Strings(out)
	return out
}

// HasPermission reports whether role is granted perm.
func HasPermission(role Role, perm Permission) bool {
	if perm == "" {
		return true
	}
	for _, granted := range rolePermissions[role] {
		if granted == perm {
			return true
		}
	}
	return false
}

// IsReadOnly reports whether role must be refused every mutating action regardless of grants.
func IsReadOnly(role Role) bool {
	return role == RoleTestMode
}
