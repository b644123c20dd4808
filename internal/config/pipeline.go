// Feathercore - Identity Correlation Engine for Forensic Artifact Feathers
// Copyright 2026 Feathercore Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelforensics/feathercore

package config

import (
	"fmt"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/kestrelforensics/feathercore/internal/correlation"
	"github.com/kestrelforensics/feathercore/internal/validation"
)

// LoadPipelineConfig reads one case's pipeline/wing/feather definition from
// a JSON or YAML file (detected by extension), layered over
// correlation.DefaultPipelineConfig, and validates the result. §6.1 fixes
// the shape of this configuration; supplying it from a file is left to
// callers, per §1 Non-goals — this is the CLI's concrete choice of how.
func LoadPipelineConfig(path string) (*correlation.PipelineConfig, error) {
	k := koanf.New(".")

	defaults := correlation.DefaultPipelineConfig()
	if err := k.Load(structs.Provider(&defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load pipeline defaults: %w", err)
	}

	parser, err := parserFor(path)
	if err != nil {
		return nil, err
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("load pipeline config %s: %w", path, err)
	}

	cfg := &correlation.PipelineConfig{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal pipeline config: %w", err)
	}

	if verr := validation.ValidateStruct(cfg); verr != nil {
		return nil, fmt.Errorf("pipeline config validation failed: %w", verr)
	}

	return cfg, nil
}

// LoadWingConfigs reads the wings array from the same case file, under the
// top-level "wings" key (§6.1, §6.2's execute_wing takes one WingConfig at
// a time; the CLI reads them all up front and iterates).
func LoadWingConfigs(path string) ([]correlation.WingConfig, error) {
	k := koanf.New(".")

	parser, err := parserFor(path)
	if err != nil {
		return nil, err
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("load pipeline config %s: %w", path, err)
	}

	var wings []correlation.WingConfig
	if err := k.Unmarshal("wings", &wings); err != nil {
		return nil, fmt.Errorf("unmarshal wings: %w", err)
	}

	for i, wing := range wings {
		if verr := validation.ValidateStruct(&wing); verr != nil {
			return nil, fmt.Errorf("wing[%d] %q validation failed: %w", i, wing.WingID, verr)
		}
	}

	return wings, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return kyaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported pipeline config extension %q (want .yaml, .yml, or .json)", ext)
	}
}
