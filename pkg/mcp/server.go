// Copyright 2026 © The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package mcp exposes the role-visible tool catalog as an MCP server over
// stdio. The server is bound to one identity at startup: every registered
// tool still passes through the Guard, so the permission check runs on
// each call even though only visible tools are advertised.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wardenhq/warden/pkg/catalog"
	"github.com/wardenhq/warden/pkg/errors"
	"github.com/wardenhq/warden/pkg/identity"
)

// Server wraps the mcp-go server around the guarded tool catalog.
type Server struct {
	guard     *catalog.Guard
	caller    identity.Context
	mcpServer *server.MCPServer
	log       *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) ServerOption {
	return func(s *Server) { s.log = log }
}

// NewServer builds an MCP server advertising the tools visible to the
// caller's role.
func NewServer(guard *catalog.Guard, caller identity.Context, version string, opts ...ServerOption) (*Server, error) {
	s := &Server{
		guard:  guard,
		caller: caller,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcpServer = server.NewMCPServer(
		"warden",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	for _, d := range guard.Catalog().ToolsForRole(caller.Role()) {
		schema, err := json.Marshal(d.Parameters)
		if err != nil {
			return nil, errors.New(errors.CodeInternal, "encoding tool schema for "+d.Name, err)
		}
		tool := mcp.NewToolWithRawSchema(d.Name, d.Description, schema)
		s.mcpServer.AddTool(tool, s.handle(d.Name))
	}

	s.log.Info("mcp.server_ready",
		slog.String("role", string(caller.Role())),
		slog.String("user_id", caller.UserID()),
		slog.Int("tools", len(guard.Catalog().NamesForRole(caller.Role()))),
	)
	return s, nil
}

// handle routes one MCP tool call through the Guard. Recoverable failures
// become MCP error results so the client can read the reason; anything
// else propagates as a protocol error.
func (s *Server) handle(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)

		result, err := s.guard.Invoke(ctx, s.caller, name, args)
		if err != nil {
			we := errors.AsWardenError(err)
			if we.Recoverable {
				return mcp.NewToolResultError(we.Message), nil
			}
			return nil, err
		}

		payload, err := json.Marshal(result)
		if err != nil {
			return nil, errors.New(errors.CodeInternal, "encoding result of "+name, err)
		}
		return mcp.NewToolResultText(string(payload)), nil
	}
}

// ServeStdio blocks serving the MCP protocol on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
