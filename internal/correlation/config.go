// Feathercore - Identity Correlation Engine for Forensic Artifact Feathers
// Copyright 2026 Feathercore Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelforensics/feathercore

package correlation

// FeatherMetadataConfig declares the feather-specific column hints of §3
// ("Metadata... declares the application column, path column, hash column,
// and timestamp column patterns").
type FeatherMetadataConfig struct {
	ApplicationColumn string   `koanf:"application_column" validate:"omitempty"`
	PathColumn        string   `koanf:"path_column" validate:"omitempty"`
	HashColumn        string   `koanf:"hash_column" validate:"omitempty"`
	TimestampPatterns []string `koanf:"timestamp_patterns" validate:"omitempty"`
}

// FeatherConfig names one feather database to load into a wing (§6.1).
type FeatherConfig struct {
	FeatherID    string                 `koanf:"feather_id" validate:"required"`
	DatabasePath string                 `koanf:"database_path" validate:"required"`
	Metadata     *FeatherMetadataConfig `koanf:"metadata" validate:"omitempty"`
}

// WingConfig groups the feathers processed as one correlation unit (§6.1,
// GLOSSARY "Wing").
type WingConfig struct {
	WingID   string          `koanf:"wing_id" validate:"required"`
	WingName string          `koanf:"wing_name" validate:"required"`
	Feathers []FeatherConfig `koanf:"feathers" validate:"required,min=1,dive"`
}

// PipelineConfig is the top-level configuration surface of §6.1. Its shape
// is in scope; loading it from JSON/YAML case files is an external
// collaborator's responsibility (§1 Non-goals).
type PipelineConfig struct {
	PipelineName string `koanf:"pipeline_name" validate:"required"`
	CaseID       string `koanf:"case_id" validate:"omitempty"`
	CaseName     string `koanf:"case_name" validate:"omitempty"`
	Investigator string `koanf:"investigator" validate:"omitempty"`
	EngineType   string `koanf:"engine_type" validate:"required,oneof=identity_based time_based"`

	TimePeriodStart *string `koanf:"time_period_start" validate:"omitempty"`
	TimePeriodEnd   *string `koanf:"time_period_end" validate:"omitempty"`

	IdentityFilters []string `koanf:"identity_filters" validate:"omitempty"`
	CaseSensitive   bool     `koanf:"case_sensitive"`

	OutputDir     string `koanf:"output_dir" validate:"required"`
	MemoryLimitMB *int   `koanf:"memory_limit_mb" validate:"omitempty,gt=0"`

	StreamingEnabled bool `koanf:"streaming_enabled"`
	DebugMode        bool `koanf:"debug_mode"`
	VerboseLogging   bool `koanf:"verbose_logging"`

	IdentitySemanticPhaseEnabled bool `koanf:"identity_semantic_phase_enabled"`

	// WindowMinutes is the Temporal Anchor Clusterer's window (§4.4);
	// 0 means DefaultWindowMinutes.
	WindowMinutes int `koanf:"window_minutes" validate:"omitempty,gte=0"`

	// BatchSize is the Streaming Result Writer's flush threshold (§4.7);
	// 0 means resultstore's DefaultBatchSize.
	BatchSize int `koanf:"batch_size" validate:"omitempty,gte=0"`

	// StallTimeoutSeconds is the Stall Monitor's timeout (§4.8); 0 means
	// the progress package's DefaultStallTimeout.
	StallTimeoutSeconds int `koanf:"stall_timeout_seconds" validate:"omitempty,gte=0"`
}

// DefaultPipelineConfig returns sensible defaults, applied before any
// config-file or environment-variable layer.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		EngineType:                   "identity_based",
		StreamingEnabled:             true,
		IdentitySemanticPhaseEnabled: true,
		WindowMinutes:                DefaultWindowMinutes,
		BatchSize:                    1000,
		StallTimeoutSeconds:          300,
	}
}
