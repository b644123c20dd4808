// Feathercore - Identity Correlation Engine for Forensic Artifact Feathers
// Copyright 2026 Feathercore Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelforensics/feathercore

package resultstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kestrelforensics/feathercore/internal/correlation"
)

// FetchMatchBatch implements correlation.MatchStore for the
// Identity-Semantic Post-Phase (§4.10 step 1): up to limit rows for
// executionID, ordered by match_id, after afterMatchID.
func (s *Store) FetchMatchBatch(ctx context.Context, executionID int64, afterMatchID string, limit int) ([]correlation.MatchRowDTO, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.match_id, m.matched_application, m.matched_file_path, m.feather_records, m.compressed
		FROM matches m
		JOIN results r ON r.result_id = m.result_id
		WHERE r.execution_id = ? AND m.match_id > ?
		ORDER BY m.match_id
		LIMIT ?`, executionID, afterMatchID, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch match batch: %w", err)
	}
	defer rows.Close()

	var out []correlation.MatchRowDTO
	for rows.Next() {
		var dto correlation.MatchRowDTO
		var app, path sql.NullString
		var records []byte
		var compressed sql.NullBool
		if err := rows.Scan(&dto.MatchID, &app, &path, &records, &compressed); err != nil {
			return nil, fmt.Errorf("scan match row: %w", err)
		}
		decoded, err := DecodeFeatherRecords(records, compressed.Bool)
		if err != nil {
			return nil, fmt.Errorf("decode match %s: %w", dto.MatchID, err)
		}
		dto.MatchedApplication = app.String
		dto.MatchedFilePath = path.String
		dto.FeatherRecordsJSON = decoded
		out = append(out, dto)
	}
	return out, rows.Err()
}

// UpdateSemanticData implements correlation.MatchStore: writes the
// consolidated semantic_data_json for one match (§4.10 step 3).
func (s *Store) UpdateSemanticData(ctx context.Context, matchID string, semanticDataJSON string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE matches SET semantic_data_json = ? WHERE match_id = ?`,
		semanticDataJSON, matchID)
	if err != nil {
		return fmt.Errorf("update semantic_data for match %s: %w", matchID, err)
	}
	return nil
}

// GetMatches returns every match row for a result, used by load_correlation_result
// and get_matches read paths.
func (s *Store) GetMatches(ctx context.Context, resultID int64) ([]MatchRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT match_id, timestamp, match_score, confidence_score, confidence_category,
			feather_count, time_spread_seconds, anchor_feather_id, anchor_artifact_type,
			matched_application, matched_file_path, is_duplicate, feather_records,
			compressed, semantic_data_json
		FROM matches WHERE result_id = ? ORDER BY match_id`, resultID)
	if err != nil {
		return nil, fmt.Errorf("get matches: %w", err)
	}
	defer rows.Close()

	var out []MatchRecord
	for rows.Next() {
		var m MatchRecord
		var semanticJSON sql.NullString
		var compressed sql.NullBool
		if err := rows.Scan(&m.MatchID, &m.Timestamp, &m.MatchScore, &m.ConfidenceScore,
			&m.ConfidenceCategory, &m.FeatherCount, &m.TimeSpreadSeconds, &m.AnchorFeatherID,
			&m.AnchorArtifactType, &m.MatchedApplication, &m.MatchedFilePath, &m.IsDuplicate,
			&m.FeatherRecordsBlob, &compressed, &semanticJSON); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		m.Compressed = compressed.Bool
		m.SemanticDataJSON = semanticJSON.String
		out = append(out, m)
	}
	return out, rows.Err()
}

// MatchRecord is the read-side projection of a matches row, with
// FeatherRecordsBlob left exactly as stored; callers use
// DecodeFeatherRecords to transparently gunzip when Compressed is set.
type MatchRecord struct {
	MatchID             string
	Timestamp           interface{}
	MatchScore          float64
	ConfidenceScore     float64
	ConfidenceCategory  string
	FeatherCount        int
	TimeSpreadSeconds   int
	AnchorFeatherID     string
	AnchorArtifactType  string
	MatchedApplication  string
	MatchedFilePath     string
	IsDuplicate         bool
	FeatherRecordsBlob  []byte
	Compressed          bool
	SemanticDataJSON    string
}
