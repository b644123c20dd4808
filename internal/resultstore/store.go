// Feathercore - Identity Correlation Engine for Forensic Artifact Feathers
// Copyright 2026 Feathercore Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelforensics/feathercore

package resultstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // registers the "duckdb" sql driver

	"github.com/kestrelforensics/feathercore/internal/logging"
)

// Store is the Results Database of §4.7/§6.3: schema owner, run-name
// generator, and read/query surface. A Writer (see writer.go) shares its
// *sql.DB handle for the hot insert path; correlation and the semantic
// post-phase never hold the connection open simultaneously (§5).
type Store struct {
	db   *sql.DB
	path string
}

// Open creates (if needed) and migrates the results database at path,
// applying WAL-journaling-equivalent and synchronous=NORMAL-equivalent
// pragmas on a best-effort basis: the engine this module was adapted from
// targets SQLite directly, but this results database runs on the host
// codebase's DuckDB engine, which journals its own WAL by default. The
// pragmas are still issued (and any "unsupported pragma" failure merely
// logged) so a build against a SQLite-compatible driver continues to pick
// them up.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open results database %s: %w", path, err)
	}

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			logging.Debug().Err(err).Str("pragma", pragma).Msg("pragma not supported by results database engine, ignoring")
		}
	}

	s := &Store{db: db, path: path}
	if err := s.createSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create results schema: %w", err)
	}
	return s, nil
}

// DB exposes the underlying handle for the Writer to share.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) createSchema(ctx context.Context) error {
	for _, stmt := range baseTableStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	if err := runMigrations(ctx, s.db); err != nil {
		return err
	}
	for _, stmt := range indexStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

// enginePrefix implements §6.3's run-name prefix rule.
func enginePrefix(engineType string) string {
	if engineType == "time_based" {
		return "TimeWindow"
	}
	return "Identity"
}

// GenerateRunName implements §6.3: run_number is max(run_number)+1 filtered
// by engine_type; run_name is
// {engine_prefix}_{pipeline_name?}_Run{run_number:03d}_{yyyymmdd_HHMMSS}.
func (s *Store) GenerateRunName(ctx context.Context, engineType, pipelineName string) (runName string, runNumber int, err error) {
	var maxRun sql.NullInt64
	err = s.db.QueryRowContext(ctx,
		`SELECT MAX(run_number) FROM executions WHERE engine_type = ?`, engineType).Scan(&maxRun)
	if err != nil {
		return "", 0, fmt.Errorf("query max run_number: %w", err)
	}
	runNumber = int(maxRun.Int64) + 1

	prefix := enginePrefix(engineType)
	timestamp := time.Now().UTC().Format("20060102_150405")

	if pipelineName != "" {
		runName = fmt.Sprintf("%s_%s_Run%03d_%s", prefix, pipelineName, runNumber, timestamp)
	} else {
		runName = fmt.Sprintf("%s_Run%03d_%s", prefix, runNumber, timestamp)
	}
	return runName, runNumber, nil
}

// CreateExecutionPlaceholder inserts a placeholder execution row with
// status RUNNING before any wing has executed, returning its id. This
// supports streaming mode, where the writer needs an execution_id to
// attach matches to before the run completes.
func (s *Store) CreateExecutionPlaceholder(ctx context.Context, engineType, pipelineName string) (executionID int64, runName string, runNumber int, err error) {
	runName, runNumber, err = s.GenerateRunName(ctx, engineType, pipelineName)
	if err != nil {
		return 0, "", 0, err
	}

	var nextID sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(execution_id) FROM executions`).Scan(&nextID); err != nil {
		return 0, "", 0, fmt.Errorf("query max execution_id: %w", err)
	}
	executionID = nextID.Int64 + 1

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions (
			execution_id, run_name, run_number, pipeline_name, execution_time,
			duration_seconds, total_wings, total_matches, total_records_scanned,
			output_directory, engine_type, status
		) VALUES (?, ?, ?, ?, ?, 0, 0, 0, 0, '', ?, 'RUNNING')`,
		executionID, runName, runNumber, pipelineName, time.Now().UTC(), engineType)
	if err != nil {
		return 0, "", 0, fmt.Errorf("insert execution placeholder: %w", err)
	}

	return executionID, runName, runNumber, nil
}

// UpdateExecutionStats finalizes an execution row's totals and status.
func (s *Store) UpdateExecutionStats(ctx context.Context, executionID int64, totalWings, totalMatches int, totalRecordsScanned int64, durationSeconds float64, status string, errorsJSON, warningsJSON string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE executions SET
			total_wings = ?, total_matches = ?, total_records_scanned = ?,
			duration_seconds = ?, status = ?, errors_json = ?, warnings_json = ?
		WHERE execution_id = ?`,
		totalWings, totalMatches, totalRecordsScanned, durationSeconds, status, errorsJSON, warningsJSON, executionID)
	if err != nil {
		return fmt.Errorf("update execution stats: %w", err)
	}
	return nil
}

// ResumableExecution is a paused execution eligible for RESUME, the
// supplemented lookup from SPEC_FULL.md §C.1.
type ResumableExecution struct {
	ExecutionID int64
	RunName     string
	PipelineName string
	ExecutionTime time.Time
}

// ListResumable returns every execution currently in PAUSED status.
func (s *Store) ListResumable(ctx context.Context) ([]ResumableExecution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT execution_id, run_name, pipeline_name, execution_time
		FROM executions WHERE status = 'PAUSED' ORDER BY execution_id`)
	if err != nil {
		return nil, fmt.Errorf("list resumable executions: %w", err)
	}
	defer rows.Close()

	var out []ResumableExecution
	for rows.Next() {
		var e ResumableExecution
		var runName sql.NullString
		if err := rows.Scan(&e.ExecutionID, &runName, &e.PipelineName, &e.ExecutionTime); err != nil {
			return nil, err
		}
		e.RunName = runName.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// QueryFilter narrows QueryExecutions (supplemented from the original's
// query_executions, SPEC_FULL.md §C.2).
type QueryFilter struct {
	EngineType   string
	PipelineName string
	StartDate    *time.Time
	EndDate      *time.Time
}

// QueryExecutions lists executions matching an optional filter, most
// recent first.
func (s *Store) QueryExecutions(ctx context.Context, f QueryFilter) ([]ResumableExecution, error) {
	query := `SELECT execution_id, run_name, pipeline_name, execution_time FROM executions WHERE 1=1`
	var args []any

	if f.EngineType != "" {
		query += " AND engine_type = ?"
		args = append(args, f.EngineType)
	}
	if f.PipelineName != "" {
		query += " AND pipeline_name = ?"
		args = append(args, f.PipelineName)
	}
	if f.StartDate != nil {
		query += " AND execution_time >= ?"
		args = append(args, *f.StartDate)
	}
	if f.EndDate != nil {
		query += " AND execution_time <= ?"
		args = append(args, *f.EndDate)
	}
	query += " ORDER BY execution_time DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var out []ResumableExecution
	for rows.Next() {
		var e ResumableExecution
		var runName sql.NullString
		if err := rows.Scan(&e.ExecutionID, &runName, &e.PipelineName, &e.ExecutionTime); err != nil {
			return nil, err
		}
		e.RunName = runName.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetLatestExecutionID returns the highest execution_id, or 0 if none.
func (s *Store) GetLatestExecutionID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(execution_id) FROM executions`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("query latest execution_id: %w", err)
	}
	return id.Int64, nil
}
