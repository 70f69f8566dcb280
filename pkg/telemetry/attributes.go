// Copyright 2026 © The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides OpenTelemetry integration with rich attributes
// for turn and tool observability.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic conventions for Warden telemetry.
// These follow OpenTelemetry naming conventions where applicable.
const (
	// Turn attributes
	AttrTurnID   = "warden.turn.id"
	AttrUserID   = "warden.user.id"
	AttrUserRole = "warden.user.role"

	// Tool attributes
	AttrToolName       = "warden.tool.name"
	AttrToolCallID     = "warden.tool.call_id"
	AttrToolPermission = "warden.tool.required_permission"
	AttrToolDenied     = "warden.tool.denied"

	// Incident attributes
	AttrIncidentID       = "warden.incident.id"
	AttrIncidentPriority = "warden.incident.priority"
	AttrIncidentStatus   = "warden.incident.status"

	// Engine attributes (extending standard gen_ai conventions)
	AttrEngineModel        = "gen_ai.request.model"
	AttrEngineTokensInput  = "gen_ai.usage.input_tokens"
	AttrEngineTokensOutput = "gen_ai.usage.output_tokens"
	AttrEngineTokensTotal  = "gen_ai.usage.total_tokens"
	AttrEngineToolCalls    = "gen_ai.tool_calls"
)

// TurnAttributes returns common attributes for turn spans.
func TurnAttributes(turnID, userID, role string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrTurnID, turnID),
		attribute.String(AttrUserRole, role),
	}
	if userID != "" {
		attrs = append(attrs, attribute.String(AttrUserID, userID))
	}
	return attrs
}

// ToolAttributes returns attributes for a tool invocation span.
func ToolAttributes(name, callID, role string, denied bool) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrToolName, name),
		attribute.String(AttrUserRole, role),
		attribute.Bool(AttrToolDenied, denied),
	}
	if callID != "" {
		attrs = append(attrs, attribute.String(AttrToolCallID, callID))
	}
	return attrs
}

// IncidentAttributes returns attributes for ledger operations.
func IncidentAttributes(id, priority, status string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrIncidentID, id),
	}
	if priority != "" {
		attrs = append(attrs, attribute.String(AttrIncidentPriority, priority))
	}
	if status != "" {
		attrs = append(attrs, attribute.String(AttrIncidentStatus, status))
	}
	return attrs
}

// EngineUsageAttributes returns token usage attributes for engine spans.
func EngineUsageAttributes(model string, inputTokens, outputTokens, toolCalls int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrEngineModel, model),
	}
	if inputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrEngineTokensInput, inputTokens))
	}
	if outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrEngineTokensOutput, outputTokens))
	}
	if inputTokens > 0 || outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrEngineTokensTotal, inputTokens+outputTokens))
	}
	if toolCalls > 0 {
		attrs = append(attrs, attribute.Int(AttrEngineToolCalls, toolCalls))
	}
	return attrs
}
