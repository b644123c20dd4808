// Feathercore - Identity Correlation Engine for Forensic Artifact Feathers
// Copyright 2026 Feathercore Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelforensics/feathercore

// Package config loads the engine's ambient configuration (results
// database location, logging, the optional progress websocket server)
// using the same layered koanf approach the host codebase uses for its own
// application config: struct defaults, then an optional YAML file, then
// environment variables, each layer overriding the last.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/kestrelforensics/feathercore/internal/validation"
)

// DefaultConfigPaths lists where the ambient config file is searched, in
// priority order. The first one found is used.
var DefaultConfigPaths = []string{
	"feathercore.yaml",
	"feathercore.yml",
	"/etc/feathercore/feathercore.yaml",
}

// ConfigPathEnvVar overrides the search paths with an explicit file.
const ConfigPathEnvVar = "FEATHERCORE_CONFIG"

// LoggingConfig mirrors logging.Config's shape for koanf/env loading.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn error fatal panic disabled"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// ServerConfig configures the optional progress websocket listener that
// WebSocketBroadcaster (internal/progress/bus.go) attaches to.
type ServerConfig struct {
	Enabled bool          `koanf:"enabled"`
	Host    string        `koanf:"host" validate:"omitempty"`
	Port    int           `koanf:"port" validate:"omitempty,gt=0,lte=65535"`
	Timeout time.Duration `koanf:"timeout" validate:"omitempty"`
}

// Config is the ambient configuration surface: everything a pipeline run
// needs that is not itself part of the pipeline/wing/feather definition
// (those load separately via LoadPipelineConfig, see pipeline.go).
type Config struct {
	ResultsDatabasePath string        `koanf:"results_database_path" validate:"required"`
	Logging             LoggingConfig `koanf:"logging"`
	Server              ServerConfig  `koanf:"server"`
}

func defaultConfig() *Config {
	return &Config{
		ResultsDatabasePath: "/data/feathercore_results.duckdb",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Server: ServerConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8765,
			Timeout: 30 * time.Second,
		},
	}
}

// LoadWithKoanf loads ambient configuration with the standard three-layer
// precedence: defaults, then an optional YAML file, then environment
// variables (FEATHERCORE_ prefixed).
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider("FEATHERCORE_", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if verr := validation.ValidateStruct(cfg); verr != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", verr)
	}

	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps FEATHERCORE_-prefixed environment variables to
// koanf dotted paths, e.g. FEATHERCORE_RESULTS_DATABASE_PATH ->
// results_database_path, FEATHERCORE_LOGGING_LEVEL -> logging.level.
func envTransformFunc(key string) string {
	mapped := map[string]string{
		"results_database_path": "results_database_path",
		"logging_level":         "logging.level",
		"logging_format":        "logging.format",
		"logging_caller":        "logging.caller",
		"server_enabled":        "server.enabled",
		"server_host":           "server.host",
		"server_port":           "server.port",
		"server_timeout":        "server.timeout",
	}

	lower := toLowerSnake(strings.TrimPrefix(key, "FEATHERCORE_"))
	if path, ok := mapped[lower]; ok {
		return path
	}
	return ""
}

func toLowerSnake(key string) string {
	out := make([]byte, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c >= 'A' && c <= 'Z' {
			c = c - 'A' + 'a'
		}
		out[i] = c
	}
	return string(out)
}
