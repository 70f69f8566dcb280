// Copyright 2026 © The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity defines the immutable caller identity and the static
// role/permission catalog. A Context can only be built through New, which
// derives the permission set from the catalog, so holding a Context is
// proof that its role is valid and its permissions match the catalog.
package identity

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wardenhq/warden/pkg/errors"
)

// Role is the closed set of professional roles the system serves.
type Role string

const (
	RoleIT      Role = "IT"
	RoleOps     Role = "OPS"
	RoleFinance Role = "FINANCE"
	RoleCSM     Role = "CSM"
)

// Roles lists every valid role in a stable order.
func Roles() []Role {
	return []Role{RoleIT, RoleOps, RoleFinance, RoleCSM}
}

// ParseRole converts a role token to a Role. Unknown tokens fail with an
// UNKNOWN_ROLE error so an invalid role can never reach a Context.
func ParseRole(token string) (Role, error) {
	switch Role(strings.ToUpper(strings.TrimSpace(token))) {
	case RoleIT:
		return RoleIT, nil
	case RoleOps:
		return RoleOps, nil
	case RoleFinance:
		return RoleFinance, nil
	case RoleCSM:
		return RoleCSM, nil
	default:
		return "", errors.New(errors.CodeUnknownRole,
			fmt.Sprintf("invalid role %q: must be one of IT, OPS, FINANCE, CSM", token), nil)
	}
}

// DisplayName returns the friendly name used in tool results and prompts.
func (r Role) DisplayName() string {
	switch r {
	case RoleIT:
		return "IT Admin"
	case RoleOps:
		return "Operations Director"
	case RoleFinance:
		return "Finance Controller"
	case RoleCSM:
		return "Customer Success Manager"
	default:
		return string(r)
	}
}

// permissionCatalog is the static role → permission mapping, fixed at
// process start. Every role has an entry.
var permissionCatalog = map[Role][]string{
	RoleIT: {
		"view_technical_logs",
		"restart_service",
		"run_diagnostics",
		"view_incident_details",
		"create_incident",
	},
	RoleOps: {
		"view_incident_details",
		"set_incident_priority",
		"allocate_resources",
		"view_business_impact",
		"view_affected_customers",
	},
	RoleFinance: {
		"view_incident_details",
		"view_cost_impact",
		"approve_emergency_spending",
		"view_sla_penalties",
		"view_affected_customers",
	},
	RoleCSM: {
		"view_incident_details",
		"notify_customers",
		"view_affected_customers",
		"view_customer_slas",
	},
}

// Permissions returns the permission set for a role. The returned slice is
// a copy; the catalog itself is never handed out.
func Permissions(role Role) []string {
	return append([]string(nil), permissionCatalog[role]...)
}

// RoleHasPermission reports whether the catalog grants permission to role.
func RoleHasPermission(role Role, permission string) bool {
	for _, p := range permissionCatalog[role] {
		if p == permission {
			return true
		}
	}
	return false
}

// AllPermissions returns every distinct permission name in the catalog,
// sorted. Used by catalog validation and diagnostics.
func AllPermissions() []string {
	seen := make(map[string]bool)
	var out []string
	for _, perms := range permissionCatalog {
		for _, p := range perms {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Context is the immutable identity of one inbound request. Fields are
// unexported so a Context cannot be mutated after construction; role
// reassignment means building a new Context.
type Context struct {
	userID      string
	role        Role
	permissions map[string]bool
}

// New builds a Context for a validated role. Permissions are derived from
// the catalog and from nowhere else.
func New(userID string, role Role) Context {
	perms := make(map[string]bool, len(permissionCatalog[role]))
	for _, p := range permissionCatalog[role] {
		perms[p] = true
	}
	return Context{userID: userID, role: role, permissions: perms}
}

// FromTokens resolves the two opaque boundary identifiers into a Context.
// Both are required; the role token must parse.
func FromTokens(userID, roleToken string) (Context, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(roleToken) == "" {
		return Context{}, errors.New(errors.CodeUnknownRole,
			"missing authentication headers: role and user id are required", nil)
	}
	role, err := ParseRole(roleToken)
	if err != nil {
		return Context{}, err
	}
	return New(userID, role), nil
}

// UserID returns the caller identifier.
func (c Context) UserID() string { return c.userID }

// Role returns the caller role.
func (c Context) Role() Role { return c.role }

// HasPermission reports whether the caller holds permission.
func (c Context) HasPermission(permission string) bool {
	return c.permissions[permission]
}

// Permissions returns the caller's permission names in catalog order.
func (c Context) Permissions() []string {
	return Permissions(c.role)
}

// DisplayName returns the friendly name of the caller's role.
func (c Context) DisplayName() string { return c.role.DisplayName() }
