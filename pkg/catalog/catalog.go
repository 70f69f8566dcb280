// Copyright 2026 © The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package catalog binds every invocable operation to exactly one required
// permission and gates execution behind the Guard. There is no other call
// path: tools are only reachable through Guard.Invoke.
package catalog

import (
	"context"
	"fmt"

	"github.com/wardenhq/warden/pkg/identity"
	"github.com/wardenhq/warden/pkg/llm"
)

// Handler executes a tool with the caller identity threaded through so
// every result can attribute who did this.
type Handler func(ctx context.Context, caller identity.Context, args map[string]any) (any, error)

// Descriptor describes one invocable operation.
type Descriptor struct {
	Name               string
	Description        string
	RequiredPermission string
	VisibleRoles       []identity.Role
	// Parameters is a JSON-schema object describing the arguments.
	Parameters map[string]any
	Handler    Handler
}

// Catalog is the immutable set of registered tools. It is validated once
// at construction and never mutated afterwards, so it needs no locking.
type Catalog struct {
	order       []string
	descriptors map[string]Descriptor
}

// New builds a catalog and fails fast on inconsistency: duplicate names,
// missing handlers or permissions, and any visible role that does not hold
// the tool's required permission. The last check is what guarantees the
// engine is never advertised a tool its caller cannot pass authorization
// for.
func New(descriptors ...Descriptor) (*Catalog, error) {
	c := &Catalog{descriptors: make(map[string]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		if d.Name == "" {
			return nil, fmt.Errorf("catalog: tool with empty name")
		}
		if _, exists := c.descriptors[d.Name]; exists {
			return nil, fmt.Errorf("catalog: duplicate tool %q", d.Name)
		}
		if d.RequiredPermission == "" {
			return nil, fmt.Errorf("catalog: tool %q has no required permission", d.Name)
		}
		if d.Handler == nil {
			return nil, fmt.Errorf("catalog: tool %q has no handler", d.Name)
		}
		if len(d.VisibleRoles) == 0 {
			return nil, fmt.Errorf("catalog: tool %q is visible to no role", d.Name)
		}
		for _, role := range d.VisibleRoles {
			if !identity.RoleHasPermission(role, d.RequiredPermission) {
				return nil, fmt.Errorf("catalog: tool %q is visible to role %s which lacks permission %q",
					d.Name, role, d.RequiredPermission)
			}
		}
		c.descriptors[d.Name] = d
		c.order = append(c.order, d.Name)
	}
	return c, nil
}

// Lookup returns the descriptor for name.
func (c *Catalog) Lookup(name string) (Descriptor, bool) {
	d, ok := c.descriptors[name]
	return d, ok
}

// Names returns every tool name in registration order.
func (c *Catalog) Names() []string {
	return append([]string(nil), c.order...)
}

// ToolsForRole returns the descriptors visible to role, in registration
// order. This is exactly the set advertised to the reasoning engine.
func (c *Catalog) ToolsForRole(role identity.Role) []Descriptor {
	var out []Descriptor
	for _, name := range c.order {
		d := c.descriptors[name]
		if visibleTo(d, role) {
			out = append(out, d)
		}
	}
	return out
}

// NamesForRole returns just the tool names visible to role.
func (c *Catalog) NamesForRole(role identity.Role) []string {
	descriptors := c.ToolsForRole(role)
	out := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, d.Name)
	}
	return out
}

// DefinitionsForRole converts the role's visible tools into engine tool
// definitions.
func (c *Catalog) DefinitionsForRole(role identity.Role) []llm.Tool {
	descriptors := c.ToolsForRole(role)
	out := make([]llm.Tool, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, llm.Tool{
			Type: llm.ToolTypeFunction,
			Function: llm.FunctionDef{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}
	return out
}

func visibleTo(d Descriptor, role identity.Role) bool {
	for _, r := range d.VisibleRoles {
		if r == role {
			return true
		}
	}
	return false
}
