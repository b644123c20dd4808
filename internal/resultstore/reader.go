// Feathercore - Identity Correlation Engine for Forensic Artifact Feathers
// Copyright 2026 Feathercore Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelforensics/feathercore

package resultstore

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// DecodeFeatherRecords returns blob as-is, transparently gunzipping it
// first when compressed is true (§4.7's >1MiB compression path).
func DecodeFeatherRecords(blob []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return blob, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("open gzip reader: %w", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress feather_records: %w", err)
	}
	return out, nil
}

// ExecutionRecord is the full row of one executions entry, returned by
// LoadCorrelationResult.
type ExecutionRecord struct {
	ExecutionID         int64
	RunName             string
	RunNumber           int
	PipelineName        string
	TotalWings          int
	TotalMatches         int
	TotalRecordsScanned  int64
	Status              string
	EngineType          string
}

// LoadCorrelationResult reconstructs one execution's results and matches,
// decompressing any gzip-flagged feather_records blob along the way.
func (s *Store) LoadCorrelationResult(ctx context.Context, executionID int64) (*ExecutionRecord, []MatchRecord, error) {
	exec, err := s.getExecution(ctx, executionID)
	if err != nil {
		return nil, nil, err
	}

	resultIDs, err := s.resultIDsForExecution(ctx, executionID)
	if err != nil {
		return nil, nil, err
	}

	var all []MatchRecord
	for _, resultID := range resultIDs {
		matches, err := s.GetMatches(ctx, resultID)
		if err != nil {
			return nil, nil, err
		}
		for i := range matches {
			decoded, err := DecodeFeatherRecords(matches[i].FeatherRecordsBlob, matches[i].Compressed)
			if err != nil {
				return nil, nil, fmt.Errorf("decode match %s: %w", matches[i].MatchID, err)
			}
			matches[i].FeatherRecordsBlob = decoded
		}
		all = append(all, matches...)
	}

	return exec, all, nil
}

func (s *Store) getExecution(ctx context.Context, executionID int64) (*ExecutionRecord, error) {
	var e ExecutionRecord
	var runName sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT execution_id, run_name, run_number, pipeline_name, total_wings,
			total_matches, total_records_scanned, status, engine_type
		FROM executions WHERE execution_id = ?`, executionID).
		Scan(&e.ExecutionID, &runName, &e.RunNumber, &e.PipelineName, &e.TotalWings,
			&e.TotalMatches, &e.TotalRecordsScanned, &e.Status, &e.EngineType)
	if err != nil {
		return nil, fmt.Errorf("get execution %d: %w", executionID, err)
	}
	e.RunName = runName.String
	return &e, nil
}

func (s *Store) resultIDsForExecution(ctx context.Context, executionID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT result_id FROM results WHERE execution_id = ? ORDER BY result_id`, executionID)
	if err != nil {
		return nil, fmt.Errorf("list results for execution %d: %w", executionID, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetMatchDetails returns one match by id, decompressing feather_records if
// needed.
func (s *Store) GetMatchDetails(ctx context.Context, matchID string) (*MatchRecord, error) {
	var m MatchRecord
	var semanticJSON sql.NullString
	var compressed sql.NullBool
	err := s.db.QueryRowContext(ctx, `
		SELECT match_id, timestamp, match_score, confidence_score, confidence_category,
			feather_count, time_spread_seconds, anchor_feather_id, anchor_artifact_type,
			matched_application, matched_file_path, is_duplicate, feather_records,
			compressed, semantic_data_json
		FROM matches WHERE match_id = ?`, matchID).
		Scan(&m.MatchID, &m.Timestamp, &m.MatchScore, &m.ConfidenceScore,
			&m.ConfidenceCategory, &m.FeatherCount, &m.TimeSpreadSeconds, &m.AnchorFeatherID,
			&m.AnchorArtifactType, &m.MatchedApplication, &m.MatchedFilePath, &m.IsDuplicate,
			&m.FeatherRecordsBlob, &compressed, &semanticJSON)
	if err != nil {
		return nil, fmt.Errorf("get match %s: %w", matchID, err)
	}
	m.Compressed = compressed.Bool
	m.SemanticDataJSON = semanticJSON.String

	decoded, err := DecodeFeatherRecords(m.FeatherRecordsBlob, m.Compressed)
	if err != nil {
		return nil, fmt.Errorf("decode match %s: %w", matchID, err)
	}
	m.FeatherRecordsBlob = decoded

	return &m, nil
}
