// Feathercore - Identity Correlation Engine for Forensic Artifact Feathers
// Copyright 2026 Feathercore Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelforensics/feathercore

package resultstore

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration is one additive schema change, applied in order and recorded
// in schema_migrations so it never runs twice. This replaces the source's
// try/ALTER/except-ignore pattern (§9 redesign note: "Replace with an
// explicit migration list [(version, column, type)] applied in order
// against a pragma table_info snapshot; records applied migrations in a
// schema_version table") with the same versioned-list mechanism this
// codebase already uses elsewhere, parameterized with the exact columns
// §4.7/§6.3 require.
type Migration struct {
	Version     int
	Name        string
	Table       string
	Column      string
	ColumnType  string
	Description string
	// Backfill, if non-nil, runs once immediately after the ALTER
	// succeeds (used for run_name's one-time derivation backfill).
	Backfill func(ctx context.Context, tx *sql.Tx) error
}

const schemaMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT,
	applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// getMigrations returns every additive migration this schema has ever
// needed, in order. Column additions exactly match §3/§4.7/§6.3: the
// compressed-blob column, the anchor metadata columns, the semantic
// column, run_name/run_number, and the results-row feather_metadata
// column.
func getMigrations() []Migration {
	return []Migration{
		{
			Version: 1, Name: "add_matches_anchor_start_time",
			Table: "matches", Column: "anchor_start_time", ColumnType: "TIMESTAMP",
			Description: "anchor start time metadata on each match",
		},
		{
			Version: 2, Name: "add_matches_anchor_end_time",
			Table: "matches", Column: "anchor_end_time", ColumnType: "TIMESTAMP",
			Description: "anchor end time metadata on each match",
		},
		{
			Version: 3, Name: "add_matches_anchor_record_count",
			Table: "matches", Column: "anchor_record_count", ColumnType: "INTEGER",
			Description: "anchor record count metadata on each match",
		},
		{
			Version: 4, Name: "add_matches_semantic_data",
			Table: "matches", Column: "semantic_data_json", ColumnType: "TEXT",
			Description: "identity-semantic post-phase output, null until that phase runs",
		},
		{
			Version: 5, Name: "add_matches_compressed",
			Table: "matches", Column: "compressed", ColumnType: "BOOLEAN DEFAULT FALSE",
			Description: "flags gzip-compressed feather_records blobs",
		},
		{
			Version: 6, Name: "add_results_feather_metadata_json",
			Table: "results", Column: "feather_metadata_json", ColumnType: "TEXT",
			Description: "denormalized feather_metadata snapshot on the result row",
		},
		{
			Version: 7, Name: "add_executions_run_name",
			Table: "executions", Column: "run_name", ColumnType: "TEXT",
			Description: "human-readable unique execution label",
			Backfill:    backfillRunName,
		},
		{
			Version: 8, Name: "add_executions_run_number",
			Table: "executions", Column: "run_number", ColumnType: "INTEGER",
			Description: "per-engine-type monotonically increasing run counter",
		},
	}
}

// backfillRunName derives a run_name for any pre-existing execution rows
// that predate the column, the same one-time UPDATE the source performs.
func backfillRunName(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE executions
		SET run_name = engine_type || '_' || CAST(execution_id AS TEXT) || '_' ||
			strftime(execution_time, '%Y%m%d_%H%M%S')
		WHERE run_name IS NULL`)
	return err
}

// runMigrations creates the migrations tracking table, then applies every
// migration not yet recorded there, in order.
func runMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaMigrationsTable); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return fmt.Errorf("load applied migrations: %w", err)
	}

	for _, m := range getMigrations() {
		if applied[m.Version] {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := map[int]bool{}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func applyMigration(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// A column that already exists (run_name, run_number and
	// feather_metadata_json are in the base layout) is not added again; the
	// migration is still recorded.
	var present int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.columns WHERE table_name = ? AND column_name = ?`,
		m.Table, m.Column).Scan(&present); err != nil {
		return fmt.Errorf("inspect columns: %w", err)
	}

	if present == 0 {
		alterSQL := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.ColumnType)
		if _, err := tx.ExecContext(ctx, alterSQL); err != nil {
			return fmt.Errorf("alter table: %w", err)
		}

		if m.Backfill != nil {
			if err := m.Backfill(ctx, tx); err != nil {
				return fmt.Errorf("backfill: %w", err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name, description) VALUES (?, ?, ?)`,
		m.Version, m.Name, m.Description); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}

	return tx.Commit()
}

// CurrentSchemaVersion returns the highest applied migration version.
func CurrentSchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version sql.NullInt64
	err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, err
	}
	return int(version.Int64), nil
}
