// Copyright 2026 © The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package incident owns the incident records and their role-filtered
// projections. Records are mutated only through a Ledger; projections are
// recomputed on every read so they can never go stale relative to the
// visibility rules.
package incident

import (
	"fmt"
	"strings"
	"time"

	"github.com/wardenhq/warden/pkg/identity"
)

// Priority is the incident priority level.
type Priority string

const (
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
	PriorityP4 Priority = "P4"
)

// ParsePriority converts a token to a Priority.
func ParsePriority(token string) (Priority, error) {
	switch Priority(strings.ToUpper(strings.TrimSpace(token))) {
	case PriorityP1:
		return PriorityP1, nil
	case PriorityP2:
		return PriorityP2, nil
	case PriorityP3:
		return PriorityP3, nil
	case PriorityP4:
		return PriorityP4, nil
	default:
		return "", fmt.Errorf("invalid priority %q: must be P1, P2, P3, or P4", token)
	}
}

// Status is the incident lifecycle status. Incidents are never deleted;
// they only move between statuses.
type Status string

const (
	StatusOpen          Status = "OPEN"
	StatusInvestigating Status = "INVESTIGATING"
	StatusResolved      Status = "RESOLVED"
	StatusClosed        Status = "CLOSED"
)

// ParseStatus converts a token to a Status.
func ParseStatus(token string) (Status, error) {
	switch Status(strings.ToUpper(strings.TrimSpace(token))) {
	case StatusOpen:
		return StatusOpen, nil
	case StatusInvestigating:
		return StatusInvestigating, nil
	case StatusResolved:
		return StatusResolved, nil
	case StatusClosed:
		return StatusClosed, nil
	default:
		return "", fmt.Errorf("invalid status %q: must be OPEN, INVESTIGATING, RESOLVED, or CLOSED", token)
	}
}

// Incident is the full incident record. Only the Ledger mutates it.
type Incident struct {
	ID                string    `json:"incident_id"`
	Title             string    `json:"title"`
	Description       string    `json:"description"`
	Priority          Priority  `json:"priority"`
	Status            Status    `json:"status"`
	AffectedSystems   []string  `json:"affected_systems"`
	AffectedCustomers int       `json:"affected_customers"`
	EstimatedCost     float64   `json:"estimated_cost"`
	SLAPenalty        float64   `json:"sla_penalty"`
	CreatedAt         time.Time `json:"created_at"`
	CreatedBy         string    `json:"created_by"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Clone returns a deep copy so ledger internals never escape.
func (i Incident) Clone() Incident {
	out := i
	out.AffectedSystems = append([]string(nil), i.AffectedSystems...)
	return out
}

// Projection is a role-filtered read view of an incident. The four base
// fields are always present; everything else appears only when the
// visibility table grants it to the requesting role.
type Projection struct {
	ID                string   `json:"incident_id"`
	Title             string   `json:"title"`
	Priority          Priority `json:"priority"`
	Status            Status   `json:"status"`
	Description       *string  `json:"description,omitempty"`
	AffectedSystems   []string `json:"affected_systems,omitempty"`
	AffectedCustomers *int     `json:"affected_customers,omitempty"`
	EstimatedCost     *float64 `json:"estimated_cost,omitempty"`
	SLAPenalty        *float64 `json:"sla_penalty,omitempty"`
}

// Field names the extra incident fields a role may be granted.
type Field string

const (
	FieldDescription       Field = "description"
	FieldAffectedSystems   Field = "affected_systems"
	FieldAffectedCustomers Field = "affected_customers"
	FieldEstimatedCost     Field = "estimated_cost"
	FieldSLAPenalty        Field = "sla_penalty"
)

// roleFields is the single source of truth for who sees what beyond the
// base fields. The Ledger enforces it; callers cannot widen their view.
var roleFields = map[identity.Role][]Field{
	identity.RoleIT:      {FieldDescription, FieldAffectedSystems},
	identity.RoleOps:     {FieldDescription, FieldAffectedSystems, FieldAffectedCustomers},
	identity.RoleFinance: {FieldAffectedCustomers, FieldEstimatedCost, FieldSLAPenalty},
	identity.RoleCSM:     {FieldAffectedCustomers, FieldDescription},
}

// VisibleFields returns the extra fields granted to role.
func VisibleFields(role identity.Role) []Field {
	return append([]Field(nil), roleFields[role]...)
}

// Project computes the role-filtered view of an incident.
func Project(inc Incident, role identity.Role) Projection {
	p := Projection{
		ID:       inc.ID,
		Title:    inc.Title,
		Priority: inc.Priority,
		Status:   inc.Status,
	}
	for _, field := range roleFields[role] {
		switch field {
		case FieldDescription:
			desc := inc.Description
			p.Description = &desc
		case FieldAffectedSystems:
			p.AffectedSystems = append([]string(nil), inc.AffectedSystems...)
		case FieldAffectedCustomers:
			n := inc.AffectedCustomers
			p.AffectedCustomers = &n
		case FieldEstimatedCost:
			cost := inc.EstimatedCost
			p.EstimatedCost = &cost
		case FieldSLAPenalty:
			penalty := inc.SLAPenalty
			p.SLAPenalty = &penalty
		}
	}
	return p
}
