// Copyright 2026 © The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package tools holds the incident-management operations exposed to the
// assistant. Every tool is published as a catalog.Descriptor and is only
// reachable through the authorization guard; handlers here can assume the
// caller already holds the required permission.
package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/wardenhq/warden/pkg/catalog"
	"github.com/wardenhq/warden/pkg/errors"
	"github.com/wardenhq/warden/pkg/identity"
	"github.com/wardenhq/warden/pkg/incident"
	"github.com/wardenhq/warden/pkg/telemetry"
)

// customer segment sizes reported by the impact tools.
var segmentCounts = map[string]int{
	"enterprise": 50,
	"smb":        200,
	"free":       250,
}

// Toolset binds the tool handlers to an incident ledger.
type Toolset struct {
	ledger incident.Ledger
	now    func() time.Time
}

// Option configures a Toolset.
type Option func(*Toolset)

// WithClock overrides the time source. Tests use this to make reference
// ids and timestamps reproducible.
func WithClock(now func() time.Time) Option {
	return func(t *Toolset) { t.now = now }
}

// New creates a Toolset over the given ledger.
func New(ledger incident.Ledger, opts ...Option) *Toolset {
	t := &Toolset{
		ledger: ledger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Descriptors returns every tool descriptor in its canonical registration
// order. Feed the result to catalog.New.
func (t *Toolset) Descriptors() []catalog.Descriptor {
	return []catalog.Descriptor{
		{
			Name:               "view_technical_logs",
			Description:        "View technical logs and error messages",
			RequiredPermission: "view_technical_logs",
			VisibleRoles:       []identity.Role{identity.RoleIT},
			Parameters: catalog.ObjectSchema(map[string]any{
				"incident_id": map[string]any{"type": "string", "description": "Incident ID to view logs for"},
			}, "incident_id"),
			Handler: t.viewTechnicalLogs,
		},
		{
			Name:               "restart_service",
			Description:        "Restart a service to resolve issues",
			RequiredPermission: "restart_service",
			VisibleRoles:       []identity.Role{identity.RoleIT},
			Parameters: catalog.ObjectSchema(map[string]any{
				"service_name": map[string]any{"type": "string", "description": "Name of service to restart"},
			}, "service_name"),
			Handler: t.restartService,
		},
		{
			Name:               "run_diagnostics",
			Description:        "Run system diagnostics",
			RequiredPermission: "run_diagnostics",
			VisibleRoles:       []identity.Role{identity.RoleIT},
			Parameters: catalog.ObjectSchema(map[string]any{
				"incident_id": map[string]any{"type": "string"},
				"diagnostic_type": map[string]any{
					"type": "string",
					"enum": []string{"network", "database", "cache"},
				},
			}, "incident_id", "diagnostic_type"),
			Handler: t.runDiagnostics,
		},
		{
			Name:               "set_incident_priority",
			Description:        "Update incident priority level",
			RequiredPermission: "set_incident_priority",
			VisibleRoles:       []identity.Role{identity.RoleOps},
			Parameters: catalog.ObjectSchema(map[string]any{
				"incident_id": map[string]any{"type": "string"},
				"priority": map[string]any{
					"type": "string",
					"enum": []string{"P1", "P2", "P3", "P4"},
				},
			}, "incident_id", "priority"),
			Handler: t.setIncidentPriority,
		},
		{
			Name:               "view_business_impact",
			Description:        "View business and customer impact metrics",
			RequiredPermission: "view_business_impact",
			VisibleRoles:       []identity.Role{identity.RoleOps},
			Parameters: catalog.ObjectSchema(map[string]any{
				"incident_id": map[string]any{"type": "string"},
			}, "incident_id"),
			Handler: t.viewBusinessImpact,
		},
		{
			Name:               "allocate_resources",
			Description:        "Allocate additional infrastructure resources",
			RequiredPermission: "allocate_resources",
			VisibleRoles:       []identity.Role{identity.RoleOps},
			Parameters: catalog.ObjectSchema(map[string]any{
				"incident_id":   map[string]any{"type": "string"},
				"resource_type": map[string]any{"type": "string", "description": "compute, storage, or bandwidth"},
				"amount":        map[string]any{"type": "integer"},
			}, "incident_id", "resource_type", "amount"),
			Handler: t.allocateResources,
		},
		{
			Name:               "approve_emergency_spending",
			Description:        "Approve emergency spending for incident resolution",
			RequiredPermission: "approve_emergency_spending",
			VisibleRoles:       []identity.Role{identity.RoleFinance},
			Parameters: catalog.ObjectSchema(map[string]any{
				"incident_id":   map[string]any{"type": "string"},
				"amount":        map[string]any{"type": "number"},
				"justification": map[string]any{"type": "string"},
			}, "incident_id", "amount", "justification"),
			Handler: t.approveEmergencySpending,
		},
		{
			Name:               "view_cost_impact",
			Description:        "View financial costs and SLA penalties",
			RequiredPermission: "view_cost_impact",
			VisibleRoles:       []identity.Role{identity.RoleFinance},
			Parameters: catalog.ObjectSchema(map[string]any{
				"incident_id": map[string]any{"type": "string"},
			}, "incident_id"),
			Handler: t.viewCostImpact,
		},
		{
			Name:               "notify_customers",
			Description:        "Send notifications to affected customers",
			RequiredPermission: "notify_customers",
			VisibleRoles:       []identity.Role{identity.RoleCSM},
			Parameters: catalog.ObjectSchema(map[string]any{
				"incident_id": map[string]any{"type": "string"},
				"message":     map[string]any{"type": "string"},
				"customer_segment": map[string]any{
					"type": "string",
					"enum": []string{"enterprise", "smb", "free", "all"},
				},
			}, "incident_id", "message"),
			Handler: t.notifyCustomers,
		},
		{
			Name:               "view_affected_customers",
			Description:        "View list of affected customers",
			RequiredPermission: "view_affected_customers",
			VisibleRoles:       []identity.Role{identity.RoleOps, identity.RoleFinance, identity.RoleCSM},
			Parameters: catalog.ObjectSchema(map[string]any{
				"incident_id": map[string]any{"type": "string"},
			}, "incident_id"),
			Handler: t.viewAffectedCustomers,
		},
		{
			Name:               "view_incident_details",
			Description:        "View incident information (role-filtered)",
			RequiredPermission: "view_incident_details",
			VisibleRoles: []identity.Role{
				identity.RoleIT, identity.RoleOps, identity.RoleFinance, identity.RoleCSM,
			},
			Parameters: catalog.ObjectSchema(map[string]any{
				"incident_id": map[string]any{"type": "string"},
			}, "incident_id"),
			Handler: t.viewIncidentDetails,
		},
		{
			Name:               "create_incident",
			Description:        "Create a new incident ticket",
			RequiredPermission: "create_incident",
			VisibleRoles:       []identity.Role{identity.RoleIT},
			Parameters: catalog.ObjectSchema(map[string]any{
				"title":            map[string]any{"type": "string"},
				"description":      map[string]any{"type": "string"},
				"affected_systems": map[string]any{"type": "string", "description": "Comma-separated list of affected systems"},
			}, "title", "description", "affected_systems"),
			Handler: t.createIncident,
		},
	}
}

// Catalog builds the validated tool catalog for this toolset.
func (t *Toolset) Catalog() (*catalog.Catalog, error) {
	return catalog.New(t.Descriptors()...)
}

func (t *Toolset) viewTechnicalLogs(ctx context.Context, caller identity.Context, args map[string]any) (any, error) {
	id := stringArg(args, "incident_id")
	if _, err := t.ledger.Get(ctx, id); err != nil {
		return nil, err
	}

	logs := []map[string]any{
		{"timestamp": "2025-01-09 14:23:11", "level": "ERROR", "service": "PostgreSQL",
			"message": "Connection pool exhausted. Max connections: 100, Active: 100"},
		{"timestamp": "2025-01-09 14:23:45", "level": "ERROR", "service": "Redis",
			"message": "Cache service unresponsive. Timeout after 5000ms"},
		{"timestamp": "2025-01-09 14:24:02", "level": "WARN", "service": "API Gateway",
			"message": "High latency detected. P95: 3000ms (threshold: 500ms)"},
	}

	return map[string]any{
		"incident_id": id,
		"logs":        logs,
		"accessed_by": caller.DisplayName(),
		"timestamp":   t.timestamp(),
	}, nil
}

func (t *Toolset) restartService(_ context.Context, caller identity.Context, args map[string]any) (any, error) {
	service := stringArg(args, "service_name")
	return map[string]any{
		"service":      service,
		"status":       "restarted",
		"restarted_by": caller.DisplayName(),
		"user_id":      caller.UserID(),
		"timestamp":    t.timestamp(),
		"message":      fmt.Sprintf("%s has been successfully restarted", service),
	}, nil
}

var diagnosticResults = map[string]map[string]any{
	"network": {
		"latency_p50": "45ms",
		"latency_p95": "120ms",
		"packet_loss": "0.01%",
		"status":      "healthy",
	},
	"database": {
		"connection_pool":    "95/100 (95% utilization)",
		"query_time_p95":     "3000ms",
		"active_connections": "95",
		"status":             "degraded",
	},
	"cache": {
		"hit_rate":          "45%",
		"memory_usage":      "98%",
		"evictions_per_sec": "1500",
		"status":            "critical",
	},
}

func (t *Toolset) runDiagnostics(ctx context.Context, caller identity.Context, args map[string]any) (any, error) {
	id := stringArg(args, "incident_id")
	diagType := stringArg(args, "diagnostic_type")
	if _, err := t.ledger.Get(ctx, id); err != nil {
		return nil, err
	}

	results, ok := diagnosticResults[diagType]
	if !ok {
		return nil, errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("unknown diagnostic type %q: must be network, database, or cache", diagType), nil)
	}

	return map[string]any{
		"incident_id":     id,
		"diagnostic_type": diagType,
		"results":         results,
		"run_by":          caller.DisplayName(),
		"timestamp":       t.timestamp(),
	}, nil
}

func (t *Toolset) setIncidentPriority(ctx context.Context, caller identity.Context, args map[string]any) (any, error) {
	id := stringArg(args, "incident_id")
	priority, err := incident.ParsePriority(stringArg(args, "priority"))
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, err.Error(), nil)
	}

	updated, err := t.ledger.UpdatePriority(ctx, id, priority)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, incident.NotFound(id)
	}
	recordIncident(ctx, id, priority, "")

	return map[string]any{
		"incident_id": id,
		"priority":    string(priority),
		"updated_by":  caller.DisplayName(),
		"user_id":     caller.UserID(),
		"timestamp":   t.timestamp(),
		"message":     fmt.Sprintf("Incident %s priority updated to %s", id, priority),
	}, nil
}

func (t *Toolset) viewBusinessImpact(ctx context.Context, caller identity.Context, args map[string]any) (any, error) {
	id := stringArg(args, "incident_id")
	inc, err := t.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	recordIncident(ctx, id, inc.Priority, inc.Status)

	return map[string]any{
		"incident_id":        id,
		"affected_customers": inc.AffectedCustomers,
		"customer_segments": map[string]any{
			"enterprise": segmentCounts["enterprise"],
			"smb":        segmentCounts["smb"],
			"free":       segmentCounts["free"],
		},
		"revenue_at_risk": money(inc.EstimatedCost),
		"sla_violations":  12,
		"accessed_by":     caller.DisplayName(),
		"timestamp":       t.timestamp(),
	}, nil
}

func (t *Toolset) allocateResources(ctx context.Context, caller identity.Context, args map[string]any) (any, error) {
	id := stringArg(args, "incident_id")
	resourceType := stringArg(args, "resource_type")
	amount := intArg(args, "amount")
	if _, err := t.ledger.Get(ctx, id); err != nil {
		return nil, err
	}

	return map[string]any{
		"incident_id":   id,
		"resource_type": resourceType,
		"amount":        amount,
		"allocated_by":  caller.DisplayName(),
		"user_id":       caller.UserID(),
		"timestamp":     t.timestamp(),
		"message":       fmt.Sprintf("Allocated %d units of %s to incident %s", amount, resourceType, id),
	}, nil
}

func (t *Toolset) approveEmergencySpending(ctx context.Context, caller identity.Context, args map[string]any) (any, error) {
	id := stringArg(args, "incident_id")
	amount := floatArg(args, "amount")
	justification := stringArg(args, "justification")
	if _, err := t.ledger.Get(ctx, id); err != nil {
		return nil, err
	}

	return map[string]any{
		"incident_id":   id,
		"amount":        money(amount),
		"justification": justification,
		"approved_by":   caller.DisplayName(),
		"user_id":       caller.UserID(),
		"approval_id":   "APR-" + t.now().UTC().Format("20060102150405"),
		"timestamp":     t.timestamp(),
		"message":       fmt.Sprintf("Emergency spending of %s approved for incident %s", money(amount), id),
	}, nil
}

func (t *Toolset) viewCostImpact(ctx context.Context, caller identity.Context, args map[string]any) (any, error) {
	id := stringArg(args, "incident_id")
	inc, err := t.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	recordIncident(ctx, id, inc.Priority, inc.Status)

	return map[string]any{
		"incident_id":          id,
		"estimated_cost":       money(inc.EstimatedCost),
		"sla_penalty_exposure": money(inc.SLAPenalty),
		"cost_breakdown": map[string]any{
			"infrastructure":   money(inc.EstimatedCost * 0.4),
			"labor":            money(inc.EstimatedCost * 0.3),
			"customer_credits": money(inc.EstimatedCost * 0.3),
		},
		"accessed_by": caller.DisplayName(),
		"timestamp":   t.timestamp(),
	}, nil
}

func (t *Toolset) notifyCustomers(ctx context.Context, caller identity.Context, args map[string]any) (any, error) {
	id := stringArg(args, "incident_id")
	message := stringArg(args, "message")
	segment := stringArg(args, "customer_segment")
	if segment == "" {
		segment = "all"
	}

	inc, err := t.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	recordIncident(ctx, id, inc.Priority, inc.Status)

	recipients := 0
	if segment == "all" {
		recipients = inc.AffectedCustomers
	} else if n, ok := segmentCounts[segment]; ok {
		recipients = n
	}

	return map[string]any{
		"incident_id":      id,
		"notification_id":  "NOTIF-" + t.now().UTC().Format("20060102150405"),
		"recipients":       recipients,
		"customer_segment": segment,
		"message":          message,
		"sent_by":          caller.DisplayName(),
		"user_id":          caller.UserID(),
		"timestamp":        t.timestamp(),
		"status":           "delivered",
	}, nil
}

func (t *Toolset) viewAffectedCustomers(ctx context.Context, caller identity.Context, args map[string]any) (any, error) {
	id := stringArg(args, "incident_id")
	inc, err := t.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	recordIncident(ctx, id, inc.Priority, inc.Status)

	out := map[string]any{
		"incident_id":    id,
		"total_affected": inc.AffectedCustomers,
		"accessed_by":    caller.DisplayName(),
		"timestamp":      t.timestamp(),
	}

	// Per-customer detail is reserved for customer success.
	if caller.Role() == identity.RoleCSM {
		out["customer_details"] = []map[string]any{
			{"name": "Acme Corp", "tier": "Enterprise", "sla": "99.9%", "impact": "High"},
			{"name": "TechStart Inc", "tier": "SMB", "sla": "99.5%", "impact": "Medium"},
		}
	}
	return out, nil
}

func (t *Toolset) viewIncidentDetails(ctx context.Context, caller identity.Context, args map[string]any) (any, error) {
	id := stringArg(args, "incident_id")
	projection, err := t.ledger.ProjectForRole(ctx, id, caller.Role())
	if err != nil {
		return nil, err
	}
	recordIncident(ctx, id, projection.Priority, projection.Status)

	return map[string]any{
		"incident":    projection,
		"accessed_by": caller.DisplayName(),
		"timestamp":   t.timestamp(),
	}, nil
}

func (t *Toolset) createIncident(ctx context.Context, caller identity.Context, args map[string]any) (any, error) {
	title := stringArg(args, "title")
	description := stringArg(args, "description")

	var systems []string
	for _, s := range strings.Split(stringArg(args, "affected_systems"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			systems = append(systems, s)
		}
	}

	inc, err := t.ledger.Create(ctx, title, description, systems, caller.UserID())
	if err != nil {
		return nil, err
	}
	recordIncident(ctx, inc.ID, inc.Priority, inc.Status)

	return map[string]any{
		"incident_id": inc.ID,
		"title":       inc.Title,
		"status":      string(inc.Status),
		"priority":    string(inc.Priority),
		"created_by":  caller.DisplayName(),
		"timestamp":   inc.CreatedAt.Format(time.RFC3339),
		"message":     fmt.Sprintf("Incident %s created successfully", inc.ID),
	}, nil
}

// recordIncident annotates the active invocation span with the incident a
// tool touched. The guard opened that span; handlers only enrich it.
func recordIncident(ctx context.Context, id string, priority incident.Priority, status incident.Status) {
	trace.SpanFromContext(ctx).SetAttributes(
		telemetry.IncidentAttributes(id, string(priority), string(status))...)
}

func (t *Toolset) timestamp() string {
	return t.now().UTC().Format(time.RFC3339)
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func floatArg(args map[string]any, key string) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// money renders a dollar amount with thousands separators, e.g. $25,000.00.
func money(amount float64) string {
	s := fmt.Sprintf("%.2f", amount)
	dot := strings.IndexByte(s, '.')
	intPart, fracPart := s[:dot], s[dot:]

	neg := false
	if strings.HasPrefix(intPart, "-") {
		neg = true
		intPart = intPart[1:]
	}

	var b strings.Builder
	for i, digit := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(digit)
	}

	out := "$" + b.String() + fracPart
	if neg {
		out = "-" + out
	}
	return out
}
