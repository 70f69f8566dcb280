// Copyright 2026 © The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	LLM       LLMConfig       `koanf:"llm"`
	Ledger    LedgerConfig    `koanf:"ledger"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Addr                   string `koanf:"addr"`
	ShutdownTimeoutSeconds int    `koanf:"shutdown_timeout_seconds"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type LLMConfig struct {
	Provider string `koanf:"provider"` // ollama
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
}

type LedgerConfig struct {
	Backend string `koanf:"backend"` // memory, sqlite
	Path    string `koanf:"path"`    // sqlite database file
	Seed    string `koanf:"seed"`    // YAML seed file; empty uses the built-in sample
}

type TelemetryConfig struct {
	Exporter           string `koanf:"exporter"` // stdout, otlp
	OTLPEndpoint       string `koanf:"otlp_endpoint"`
	OTLPInsecure       bool   `koanf:"otlp_insecure"`
	OTLPTimeoutSeconds int    `koanf:"otlp_timeout_seconds"`
}

// Load reads configuration with precedence defaults < file < environment.
func Load(path string) (*Config, error) {
	return load(path, "", nil)
}

// LoadWithProfile loads the base file and then overlays the profile file
// (config.<profile>.yaml next to it) when one exists.
func LoadWithProfile(path, profile string) (*Config, error) {
	return load(path, profile, nil)
}

// LoadWithCLI parses --config, --profile (alias --env), and repeated
// --set key=value arguments, then loads with the overrides applied last.
func LoadWithCLI(args []string) (*Config, error) {
	opts, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	return load(opts.configPath, opts.profile, opts.sets)
}

// WatchPaths resolves the files a Watcher should monitor for the given
// CLI arguments: the base config file plus the active profile overlay
// when one exists on disk. Returns nothing when no file is configured.
func WatchPaths(args []string) ([]string, error) {
	opts, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	if opts.configPath == "" {
		return nil, nil
	}
	paths := []string{opts.configPath}
	if profilePath := profileConfigPath(opts.configPath, opts.profile); profilePath != "" {
		paths = append(paths, profilePath)
	}
	return paths, nil
}

func load(path, profile string, sets map[string]string) (*Config, error) {
	k := koanf.New(".")

	// Defaults
	k.Set("server.addr", ":8080")
	k.Set("server.shutdown_timeout_seconds", 10)
	k.Set("log.level", "info")
	k.Set("log.format", "text")
	k.Set("llm.provider", "ollama")
	k.Set("llm.model", "llama3.1")
	k.Set("llm.base_url", "http://localhost:11434")
	k.Set("ledger.backend", "memory")
	k.Set("ledger.path", "warden.db")
	k.Set("telemetry.exporter", "stdout")

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// 2. Overlay the profile file, if any
	if profilePath := profileConfigPath(path, profile); profilePath != "" {
		if err := k.Load(file.Provider(profilePath), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// 3. Load from ENV (WARDEN_LLM_PROVIDER -> llm.provider)
	if err := k.Load(env.Provider("WARDEN_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "WARDEN_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	// 4. CLI --set overrides win over everything
	for key, value := range sets {
		k.Set(key, value)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// profileConfigPath resolves config.<profile>.yaml next to the base file.
// Returns empty when the profile file does not exist.
func profileConfigPath(base, profile string) string {
	if base == "" || profile == "" {
		return ""
	}
	dir := filepath.Dir(base)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(filepath.Base(base), ext)
	candidate := filepath.Join(dir, name+"."+profile+ext)
	if _, err := os.Stat(candidate); err != nil {
		return ""
	}
	return candidate
}

type cliOptions struct {
	configPath string
	profile    string
	sets       map[string]string
}

func parseCLIOverrides(args []string) (cliOptions, error) {
	opts := cliOptions{sets: make(map[string]string)}

	next := func(i int, flag string) (string, error) {
		if i+1 >= len(args) {
			return "", fmt.Errorf("flag %s requires a value", flag)
		}
		return args[i+1], nil
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		flag, inline, hasInline := strings.Cut(arg, "=")

		value := inline
		consume := func() error {
			if hasInline {
				return nil
			}
			v, err := next(i, flag)
			if err != nil {
				return err
			}
			value = v
			i++
			return nil
		}

		switch flag {
		case "--config":
			if err := consume(); err != nil {
				return cliOptions{}, err
			}
			opts.configPath = value
		case "--profile", "--env":
			if err := consume(); err != nil {
				return cliOptions{}, err
			}
			opts.profile = value
		case "--set":
			if err := consume(); err != nil {
				return cliOptions{}, err
			}
			key, val, ok := strings.Cut(value, "=")
			if !ok {
				return cliOptions{}, fmt.Errorf("--set expects key=value, got %q", value)
			}
			opts.sets[key] = val
		}
	}
	return opts, nil
}
