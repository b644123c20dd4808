// Feathercore - Identity Correlation Engine for Forensic Artifact Feathers
// Copyright 2026 Feathercore Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelforensics/feathercore

// Package resultstore is the Streaming Result Writer and Results Database:
// batched, crash-safe persistence of matches into a results database, with
// gzip compression of oversized payloads and additive-only schema
// migration. The on-disk layout is bit-exact for compatibility with any
// existing reader of this schema.
package resultstore

// createExecutionsTable is the bit-exact base layout for the executions
// table (columns in creation order). run_name and run_number are part of
// this layout, as feather_metadata_json is of the results table; their
// migrations find them present on a fresh database and add them only to a
// database created without them. The matches columns anchor_start_time/
// anchor_end_time/anchor_record_count/semantic_data_json/compressed are
// added only by migrations.
const createExecutionsTable = `
CREATE TABLE IF NOT EXISTS executions (
	execution_id BIGINT PRIMARY KEY,
	run_name TEXT,
	run_number INTEGER,
	pipeline_name TEXT,
	execution_time TIMESTAMP,
	duration_seconds DOUBLE,
	total_wings INTEGER,
	total_matches INTEGER,
	total_records_scanned BIGINT,
	output_directory TEXT,
	case_name TEXT,
	investigator TEXT,
	errors_json TEXT,
	warnings_json TEXT,
	engine_type TEXT,
	wing_config_json TEXT,
	pipeline_config_json TEXT,
	time_period_start TEXT,
	time_period_end TEXT,
	identity_filters_json TEXT,
	status TEXT
)`

const createResultsTable = `
CREATE TABLE IF NOT EXISTS results (
	result_id BIGINT PRIMARY KEY,
	execution_id BIGINT,
	wing_id TEXT,
	wing_name TEXT,
	total_matches INTEGER,
	feathers_processed INTEGER,
	total_records_scanned BIGINT,
	duplicates_prevented INTEGER,
	matches_failed_validation INTEGER,
	execution_duration_seconds DOUBLE,
	anchor_feather_id TEXT,
	anchor_selection_reason TEXT,
	filters_applied_json TEXT,
	feather_metadata_json TEXT
)`

const createMatchesTable = `
CREATE TABLE IF NOT EXISTS matches (
	match_id TEXT PRIMARY KEY,
	result_id BIGINT,
	timestamp TIMESTAMP,
	match_score DOUBLE,
	confidence_score DOUBLE,
	confidence_category TEXT,
	feather_count INTEGER,
	time_spread_seconds INTEGER,
	anchor_feather_id TEXT,
	anchor_artifact_type TEXT,
	matched_application TEXT,
	matched_file_path TEXT,
	matched_event_id TEXT,
	is_duplicate BOOLEAN,
	weighted_score_value DOUBLE,
	weighted_score_interpretation TEXT,
	feather_records BLOB,
	score_breakdown_json TEXT
)`

const createFeatherMetadataTable = `
CREATE TABLE IF NOT EXISTS feather_metadata (
	metadata_id BIGINT PRIMARY KEY,
	result_id BIGINT,
	feather_id TEXT,
	artifact_type TEXT,
	database_path TEXT,
	total_records BIGINT
)`

// baseTableStatements creates the four tables in the order spec.md §6.3
// lists them, before any migration-added column exists. Every later column
// named in §6.3 (anchor_start_time, anchor_end_time, anchor_record_count,
// semantic_data_json, compressed) is introduced by a migration in
// migrations.go, never here, so a fresh database and a migrated legacy
// database converge on the identical final shape.
var baseTableStatements = []string{
	createExecutionsTable,
	createResultsTable,
	createMatchesTable,
	createFeatherMetadataTable,
}

// indexStatements creates the nine indexes named in §6.3.
var indexStatements = []string{
	`CREATE INDEX IF NOT EXISTS idx_results_execution_id ON results(execution_id)`,
	`CREATE INDEX IF NOT EXISTS idx_matches_result_id ON matches(result_id)`,
	`CREATE INDEX IF NOT EXISTS idx_matches_timestamp ON matches(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_matches_match_score ON matches(match_score)`,
	`CREATE INDEX IF NOT EXISTS idx_matches_matched_application ON matches(matched_application)`,
	`CREATE INDEX IF NOT EXISTS idx_feather_metadata_result_id ON feather_metadata(result_id)`,
	`CREATE INDEX IF NOT EXISTS idx_executions_engine_type ON executions(engine_type)`,
	`CREATE INDEX IF NOT EXISTS idx_executions_execution_time ON executions(execution_time)`,
	`CREATE INDEX IF NOT EXISTS idx_executions_pipeline_name ON executions(pipeline_name)`,
}
