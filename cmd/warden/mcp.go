// Copyright 2026 © The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"flag"
	"os"

	"github.com/wardenhq/warden/pkg/config"
	"github.com/wardenhq/warden/pkg/identity"
	"github.com/wardenhq/warden/pkg/mcp"
	"github.com/wardenhq/warden/pkg/telemetry"
)

// runMCP serves the role's visible tools over MCP stdio. Logs go to
// stderr: stdout carries the protocol.
func runMCP(cfg *config.Config, args []string) {
	cmd := flag.NewFlagSet("mcp", flag.ContinueOnError)
	role := cmd.String("role", "", "Role to serve tools for (IT, OPS, FINANCE, CSM)")
	user := cmd.String("user", "mcp-local", "User id attributed to tool calls")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}
	if *role == "" {
		fatal(errors.New("usage: warden mcp --role <IT|OPS|FINANCE|CSM> [--user <id>]"))
	}

	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	caller, err := identity.FromTokens(*user, *role)
	if err != nil {
		fatal(err)
	}

	ledger, closeLedger, err := openLedger(context.Background(), cfg.Ledger)
	if err != nil {
		fatal(err)
	}
	defer closeLedger()

	guard, _, err := buildGuard(ledger)
	if err != nil {
		fatal(err)
	}

	server, err := mcp.NewServer(guard, caller, version, mcp.WithLogger(logger))
	if err != nil {
		fatal(err)
	}
	if err := server.ServeStdio(); err != nil {
		fatal(err)
	}
}
