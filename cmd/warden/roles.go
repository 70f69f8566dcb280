// Copyright 2026 © The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"strings"

	"github.com/wardenhq/warden/pkg/identity"
	"github.com/wardenhq/warden/pkg/incident"
	"github.com/wardenhq/warden/pkg/tools"
)

type roleEntry struct {
	Role        identity.Role `json:"role"`
	DisplayName string        `json:"display_name"`
	Permissions []string      `json:"permissions"`
	Tools       []string      `json:"tools"`
}

// runRoles prints the permission catalog. The ledger here is throwaway:
// tool visibility depends only on the descriptors, not on stored state.
func runRoles(global globalFlags) {
	c, err := tools.New(incident.NewMemoryLedger()).Catalog()
	if err != nil {
		fatal(err)
	}

	entries := make([]roleEntry, 0, len(identity.Roles()))
	for _, role := range identity.Roles() {
		entries = append(entries, roleEntry{
			Role:        role,
			DisplayName: role.DisplayName(),
			Permissions: identity.Permissions(role),
			Tools:       c.NamesForRole(role),
		})
	}

	if global.JSON {
		printJSON(entries)
		return
	}

	writer := newTabWriter()
	writeRow(writer, "ROLE", "DISPLAY NAME", "TOOLS")
	for _, entry := range entries {
		writeRow(writer, string(entry.Role), entry.DisplayName, strings.Join(entry.Tools, ","))
	}
	_ = writer.Flush()
}
