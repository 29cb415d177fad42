// Package access provides role-hierarchy and tenant-scoping permission
// checks. All functions are pure; they perform no I/O and keep no state.
package access

import (
	"errors"
	"fmt"
	"strings"
)

// Role is a user's role in the platform.
type Role string

// Platform roles.
const (
	RoleSuperAdmin  Role = "super_admin" // platform-wide admin
	RoleTenantAdmin Role = "tenant_admin"
	RoleDispatcher  Role = "dispatcher" // job dispatch and coordination
	RoleTechnician  Role = "technician" // field technicians
	RoleAccountant  Role = "accountant" // financial operations
	RoleViewer      Role = "viewer"     // read-only access
)

// ErrInvalidRole is returned when a role string cannot be normalized.
var ErrInvalidRole = errors.New("invalid role")

// roleLevels is the role hierarchy. Technician and accountant share a level;
// they differ in scope, not rank.
var roleLevels = map[Role]int{
	RoleSuperAdmin:  100,
	RoleTenantAdmin: 80,
	RoleDispatcher:  60,
	RoleTechnician:  40,
	RoleAccountant:  40,
	RoleViewer:      20,
}

// legacyRoles maps historical role spellings to current roles. Normalization
// happens here, at the ingestion boundary, never at comparison call sites.
var legacyRoles = map[string]Role{
	"tech": RoleTechnician,
}

// Normalize parses a stored role string, mapping legacy spellings to their
// current roles. Matching is case-insensitive.
func Normalize(value string) (Role, error) {
	lowered := strings.ToLower(strings.TrimSpace(value))

	if role, ok := legacyRoles[lowered]; ok {
		return role, nil
	}
	role := Role(lowered)
	if _, ok := roleLevels[role]; ok {
		return role, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, value)
}

// Level returns the numeric hierarchy level for a role; unknown roles are 0.
func Level(role Role) int {
	return roleLevels[role]
}

// HasPermission reports whether a user with userRole may perform an action
// requiring requiredRole against a resource owned by targetTenantID.
//
// Super admins pass unconditionally. For everyone else tenant isolation
// takes precedence over role level: when targetTenantID is set and differs
// from userTenantID the check fails regardless of rank. Otherwise the user's
// hierarchy level must meet the required level.
func HasPermission(userRole, requiredRole Role, targetTenantID, userTenantID string) bool {
	if userRole == RoleSuperAdmin {
		return true
	}
	if targetTenantID != "" && targetTenantID != userTenantID {
		return false
	}
	return Level(userRole) >= Level(requiredRole)
}
