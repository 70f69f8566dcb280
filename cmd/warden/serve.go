// Copyright 2026 © The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/wardenhq/warden/pkg/catalog"
	"github.com/wardenhq/warden/pkg/config"
	"github.com/wardenhq/warden/pkg/dispatch"
	"github.com/wardenhq/warden/pkg/httpapi"
	"github.com/wardenhq/warden/pkg/incident"
	"github.com/wardenhq/warden/pkg/llm"
	"github.com/wardenhq/warden/pkg/telemetry"
	"github.com/wardenhq/warden/pkg/tools"
)

func runServe(ctx context.Context, cfg *config.Config, configArgs []string) {
	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	// Settings that are safe to change on a running server (log level,
	// shutdown timeout) are read through here; a file change swaps the
	// snapshot without a restart.
	reloadable := config.NewReloadableConfig(cfg)
	if stopWatcher, err := watchConfig(ctx, reloadable, configArgs, logger); err != nil {
		fatal(err)
	} else if stopWatcher != nil {
		defer stopWatcher()
	}

	shutdownTelemetry, err := telemetry.InitWithConfig("warden", version, telemetry.Config{
		Exporter:           cfg.Telemetry.Exporter,
		OTLPEndpoint:       cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:       cfg.Telemetry.OTLPInsecure,
		OTLPTimeoutSeconds: cfg.Telemetry.OTLPTimeoutSeconds,
	})
	if err != nil {
		fatal(err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry.shutdown_error", slog.String("error", err.Error()))
		}
	}()

	ledger, closeLedger, err := openLedger(ctx, cfg.Ledger)
	if err != nil {
		fatal(err)
	}
	defer closeLedger()

	guard, c, err := buildGuard(ledger)
	if err != nil {
		fatal(err)
	}

	provider, err := buildProvider(cfg.LLM)
	if err != nil {
		fatal(err)
	}

	dispatcher := dispatch.New(guard, provider, cfg.LLM.Model, dispatch.WithLogger(logger))
	api := httpapi.NewServer(ledger, c, dispatcher, httpapi.WithLogger(logger))

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: api,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			time.Duration(reloadable.Server().ShutdownTimeoutSeconds)*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("warden.serving",
		slog.String("addr", cfg.Server.Addr),
		slog.String("ledger", cfg.Ledger.Backend),
		slog.String("llm_provider", cfg.LLM.Provider),
		slog.String("llm_model", cfg.LLM.Model),
	)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fatal(err)
	}
}

// watchConfig starts a file watcher over the configured files and feeds
// changes into reloadable. Reloads go through the same CLI-aware loader
// as startup so --set and --profile overrides survive a reload. Returns
// nil when no config file is in play.
func watchConfig(ctx context.Context, reloadable *config.ReloadableConfig, configArgs []string, logger *slog.Logger) (func(), error) {
	paths, err := config.WatchPaths(configArgs)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, nil
	}

	watcher, err := config.NewWatcher(paths,
		config.WithLoader(func() (*config.Config, error) {
			return config.LoadWithCLI(configArgs)
		}),
		config.WithWatchLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	watcher.OnChange(func(next *config.Config) {
		reloadable.Update(next)
		telemetry.ConfigureSlog(os.Stderr, next.Log.Level, next.Log.Format)
		logger.Info("config.reloaded",
			slog.String("log_level", next.Log.Level),
			slog.String("llm_model", next.LLM.Model),
		)
	})
	watcher.Start(ctx)
	return watcher.Stop, nil
}

func buildGuard(ledger incident.Ledger) (*catalog.Guard, *catalog.Catalog, error) {
	c, err := tools.New(ledger).Catalog()
	if err != nil {
		return nil, nil, err
	}
	return catalog.NewGuard(c), c, nil
}

func openLedger(ctx context.Context, cfg config.LedgerConfig) (incident.Ledger, func(), error) {
	seeds, err := loadSeeds(cfg)
	if err != nil {
		return nil, nil, err
	}

	switch strings.ToLower(cfg.Backend) {
	case "memory", "":
		ledger := incident.NewMemoryLedger()
		if err := incident.Seed(ctx, ledger, seeds); err != nil {
			return nil, nil, err
		}
		return ledger, func() {}, nil
	case "sqlite":
		ledger, err := incident.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		if err := incident.Seed(ctx, ledger, seeds); err != nil {
			_ = ledger.Close()
			return nil, nil, err
		}
		return ledger, func() { _ = ledger.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown ledger backend %q (memory, sqlite)", cfg.Backend)
	}
}

func loadSeeds(cfg config.LedgerConfig) ([]incident.SeedIncident, error) {
	if cfg.Seed == "" {
		return incident.DefaultSeed(), nil
	}
	return incident.LoadSeedFile(cfg.Seed)
}

func buildProvider(cfg config.LLMConfig) (llm.StreamingProvider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "ollama", "":
		return llm.NewOllama(cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q (ollama)", cfg.Provider)
	}
}
