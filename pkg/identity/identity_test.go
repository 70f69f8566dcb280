// Copyright 2026 © The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"testing"

	"github.com/wardenhq/warden/pkg/errors"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		want    Role
		wantErr bool
	}{
		{"exact", "IT", RoleIT, false},
		{"lowercase", "ops", RoleOps, false},
		{"whitespace", " finance ", RoleFinance, false},
		{"csm", "CSM", RoleCSM, false},
		{"unknown", "ADMIN", "", true},
		{"empty", "", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseRole(tc.token)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for token %q", tc.token)
				}
				if !errors.Is(err, errors.CodeUnknownRole) {
					t.Errorf("expected UNKNOWN_ROLE, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestPermissionCatalogIsTotal(t *testing.T) {
	for _, role := range Roles() {
		if len(Permissions(role)) == 0 {
			t.Errorf("role %s has no catalog entry", role)
		}
	}
}

func TestContextPermissionsMatchCatalog(t *testing.T) {
	for _, role := range Roles() {
		ctx := New("user-1", role)
		want := Permissions(role)
		got := ctx.Permissions()
		if len(got) != len(want) {
			t.Fatalf("role %s: expected %d permissions, got %d", role, len(want), len(got))
		}
		for _, p := range want {
			if !ctx.HasPermission(p) {
				t.Errorf("role %s: catalog permission %q missing from context", role, p)
			}
		}
	}
}

func TestContextDoesNotHoldForeignPermissions(t *testing.T) {
	ctx := New("user-1", RoleFinance)
	for _, p := range []string{"restart_service", "set_incident_priority", "notify_customers"} {
		if ctx.HasPermission(p) {
			t.Errorf("FINANCE should not hold %q", p)
		}
	}
}

func TestFromTokens(t *testing.T) {
	tests := []struct {
		name      string
		userID    string
		roleToken string
		wantErr   bool
	}{
		{"valid", "alice", "IT", false},
		{"missing user", "", "IT", true},
		{"missing role", "alice", "", true},
		{"bad role", "alice", "SUPERUSER", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx, err := FromTokens(tc.userID, tc.roleToken)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ctx.UserID() != tc.userID {
				t.Errorf("expected user %q, got %q", tc.userID, ctx.UserID())
			}
		})
	}
}

func TestDisplayNames(t *testing.T) {
	tests := []struct {
		role Role
		name string
	}{
		{RoleIT, "IT Admin"},
		{RoleOps, "Operations Director"},
		{RoleFinance, "Finance Controller"},
		{RoleCSM, "Customer Success Manager"},
	}
	for _, tc := range tests {
		if got := tc.role.DisplayName(); got != tc.name {
			t.Errorf("role %s: expected %q, got %q", tc.role, tc.name, got)
		}
	}
}

func TestSharedPermissions(t *testing.T) {
	// view_incident_details is held by every role; view_affected_customers
	// by all but IT.
	for _, role := range Roles() {
		if !RoleHasPermission(role, "view_incident_details") {
			t.Errorf("role %s should hold view_incident_details", role)
		}
	}
	if RoleHasPermission(RoleIT, "view_affected_customers") {
		t.Error("IT should not hold view_affected_customers")
	}
}
