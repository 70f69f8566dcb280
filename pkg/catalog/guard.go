// Copyright 2026 © The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wardenhq/warden/pkg/errors"
	"github.com/wardenhq/warden/pkg/identity"
	"github.com/wardenhq/warden/pkg/telemetry"
)

// deniedMessage is the one externally visible message for both unknown
// tools and unauthorized access. Policy choice: the denial does not reveal
// whether a tool exists, so an unauthorized role cannot probe the catalog.
// The internal error codes stay distinct for logs and metrics.
const deniedMessage = "tool is not available to your role"

// Guard is the mandatory authorization gate in front of every tool. The
// permission check runs synchronously before any side effect; on failure
// no partial execution is observable.
type Guard struct {
	catalog *Catalog
	tracer  trace.Tracer
	log     *slog.Logger
}

// NewGuard wraps a catalog.
func NewGuard(c *Catalog) *Guard {
	return &Guard{
		catalog: c,
		tracer:  otel.Tracer("warden/catalog"),
		log:     slog.Default(),
	}
}

// Invoke executes the named tool on behalf of caller.
// The sequence is fixed: lookup, permission check, argument validation,
// cancellation check, then execution. Successful results are returned
// unchanged; the Guard never rewrites them.
func (g *Guard) Invoke(ctx context.Context, caller identity.Context, name string, args map[string]any) (any, error) {
	ctx, span := g.tracer.Start(ctx, "Guard.Invoke", trace.WithAttributes(
		telemetry.ToolAttributes(name, "", string(caller.Role()), false)...,
	))
	defer span.End()

	descriptor, ok := g.catalog.Lookup(name)
	if !ok {
		span.SetAttributes(attribute.Bool(telemetry.AttrToolDenied, true))
		g.log.Warn("tool.invoke.unknown",
			slog.String("tool", name),
			slog.String("role", string(caller.Role())),
		)
		return nil, errors.New(errors.CodeUnknownTool, deniedMessage, nil).
			WithContext("tool", name)
	}

	if !caller.HasPermission(descriptor.RequiredPermission) {
		span.SetAttributes(
			attribute.Bool(telemetry.AttrToolDenied, true),
			attribute.String(telemetry.AttrToolPermission, descriptor.RequiredPermission),
		)
		g.log.Warn("tool.invoke.denied",
			slog.String("tool", name),
			slog.String("role", string(caller.Role())),
			slog.String("required_permission", descriptor.RequiredPermission),
		)
		return nil, errors.New(errors.CodeUnauthorized, deniedMessage, nil).
			WithContext("tool", name).
			WithContext("role", string(caller.Role())).
			WithContext("required_permission", descriptor.RequiredPermission)
	}

	if err := ValidateArgs(descriptor.Parameters, args); err != nil {
		return nil, err
	}

	// An authorization check that finished after cancellation may not be
	// applied: the tool must not run once the turn is gone.
	if err := ctx.Err(); err != nil {
		return nil, errors.New(errors.CodeTimeout, "turn cancelled before tool execution", err)
	}

	result, err := descriptor.Handler(ctx, caller, args)
	if err != nil {
		g.log.Error("tool.invoke.error",
			slog.String("tool", name),
			slog.String("role", string(caller.Role())),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	g.log.Info("tool.invoke.ok",
		slog.String("tool", name),
		slog.String("role", string(caller.Role())),
		slog.String("user_id", caller.UserID()),
	)
	return result, nil
}

// Catalog returns the wrapped catalog.
func (g *Guard) Catalog() *Catalog { return g.catalog }
