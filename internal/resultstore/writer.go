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
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	"github.com/kestrelforensics/feathercore/internal/correlation"
	"github.com/kestrelforensics/feathercore/internal/logging"
	"github.com/kestrelforensics/feathercore/internal/metrics"
	"github.com/kestrelforensics/feathercore/internal/progress"
)

// compressionThreshold is the §4.7 cutover: feather_records payloads larger
// than this are gzip-compressed and flagged via the compressed column.
const compressionThreshold = 1 << 20 // 1 MiB

// defaultBatchSize is §4.7's write_match buffering threshold.
const defaultBatchSize = 1000

// bufferedMatch is one pending row awaiting flush, carrying its resolved
// result_id alongside the domain Match.
type bufferedMatch struct {
	resultID int64
	match    *correlation.Match
}

// Writer is the Streaming Result Writer of §4.7: it owns buffered,
// batched inserts into an already-open Store, one result row per wing and
// one execution row per pipeline run, with gzip compression of oversized
// blobs and PAUSE/RESUME support.
type Writer struct {
	store     *Store
	batchSize int
	tracker   *progress.Tracker

	mu          sync.Mutex
	buffer      []bufferedMatch
	executionID int64
	runName     string
	runNumber   int
	resumed     bool
}

// NewWriter wraps an open Store. tracker may be nil; when set, flush emits
// BATCH_COMPLETE events (§4.8).
func NewWriter(store *Store, batchSize int, tracker *progress.Tracker) *Writer {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Writer{store: store, batchSize: batchSize, tracker: tracker}
}

// StartExecution begins a fresh execution row, generating a run_name/
// run_number (§6.3). Use ResumeExecution instead when continuing a paused
// run.
func (w *Writer) StartExecution(ctx context.Context, engineType, pipelineName string) (executionID int64, runName string, err error) {
	id, name, number, err := w.store.CreateExecutionPlaceholder(ctx, engineType, pipelineName)
	if err != nil {
		return 0, "", err
	}
	w.mu.Lock()
	w.executionID, w.runName, w.runNumber, w.resumed = id, name, number, false
	w.mu.Unlock()
	return id, name, nil
}

// ResumeExecution attaches the writer to a previously PAUSED execution so
// ExecutionID() and resume reporting reflect it. It does not reprocess the
// run or change the execution's status: §4.10/§8 property 8's RESUME flow
// returns the paused run's existing matches rather than reinserting them
// (see Engine.Execute's resume_execution_id branch), matching the original
// adapter's _resume_execution, which never mutates status either.
func (w *Writer) ResumeExecution(ctx context.Context, executionID int64) error {
	var status string
	var runName sql.NullString
	var runNumber sql.NullInt64
	err := w.store.db.QueryRowContext(ctx,
		`SELECT status, run_name, run_number FROM executions WHERE execution_id = ?`, executionID).
		Scan(&status, &runName, &runNumber)
	if err != nil {
		return fmt.Errorf("load execution %d: %w", executionID, err)
	}
	if status != "PAUSED" {
		return fmt.Errorf("execution %d is not paused (status=%s)", executionID, status)
	}

	w.mu.Lock()
	w.executionID = executionID
	w.runName = runName.String
	w.runNumber = int(runNumber.Int64)
	w.resumed = true
	w.mu.Unlock()
	return nil
}

// LoadResumeInfo reads a paused execution's progress snapshot and existing
// match total, the data Engine.Execute returns instead of reprocessing any
// wing when given a resume_execution_id (§6.2, §8 property 8).
func (w *Writer) LoadResumeInfo(ctx context.Context, executionID int64) (correlation.ResumeInfo, error) {
	var status string
	var totalMatches int
	var warningsJSON sql.NullString
	err := w.store.db.QueryRowContext(ctx,
		`SELECT status, total_matches, warnings_json FROM executions WHERE execution_id = ?`, executionID).
		Scan(&status, &totalMatches, &warningsJSON)
	if err != nil {
		return correlation.ResumeInfo{}, fmt.Errorf("load execution %d: %w", executionID, err)
	}
	if status != "PAUSED" {
		return correlation.ResumeInfo{}, fmt.Errorf("execution %d is not paused (status=%s)", executionID, status)
	}

	info := correlation.ResumeInfo{ExistingMatches: totalMatches}
	if warningsJSON.Valid && warningsJSON.String != "" {
		var snapshot correlation.Snapshot
		if jsonErr := json.Unmarshal([]byte(warningsJSON.String), &snapshot); jsonErr == nil {
			info.IdentitiesProcessed = snapshot.IdentitiesProcessed
			info.TotalIdentities = snapshot.TotalIdentities
			info.PercentageComplete = snapshot.Percentage
		}
	}
	return info, nil
}

// ExecutionID returns the execution this writer is attached to.
func (w *Writer) ExecutionID() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.executionID
}

// CreateResult inserts a new result row for one wing's execution and
// returns its id, per §4.7's create_result contract.
func (w *Writer) CreateResult(ctx context.Context, wingID, wingName string, feathersProcessed int, totalRecordsScanned int64, anchorFeatherID, anchorSelectionReason, filtersAppliedJSON, featherMetadataJSON string) (int64, error) {
	w.mu.Lock()
	executionID := w.executionID
	w.mu.Unlock()

	var nextID sql.NullInt64
	if err := w.store.db.QueryRowContext(ctx, `SELECT MAX(result_id) FROM results`).Scan(&nextID); err != nil {
		return 0, fmt.Errorf("query max result_id: %w", err)
	}
	resultID := nextID.Int64 + 1

	_, err := w.store.db.ExecContext(ctx, `
		INSERT INTO results (
			result_id, execution_id, wing_id, wing_name, total_matches,
			feathers_processed, total_records_scanned, duplicates_prevented,
			matches_failed_validation, execution_duration_seconds,
			anchor_feather_id, anchor_selection_reason, filters_applied_json,
			feather_metadata_json
		) VALUES (?, ?, ?, ?, 0, ?, ?, 0, 0, 0, ?, ?, ?, ?)`,
		resultID, executionID, wingID, wingName, feathersProcessed, totalRecordsScanned,
		anchorFeatherID, anchorSelectionReason, filtersAppliedJSON, featherMetadataJSON)
	if err != nil {
		return 0, fmt.Errorf("insert result: %w", err)
	}

	return resultID, nil
}

// WriteMatch buffers a match for result_id, flushing automatically once the
// buffer reaches batchSize (§4.7).
func (w *Writer) WriteMatch(ctx context.Context, resultID int64, m *correlation.Match) error {
	w.mu.Lock()
	w.buffer = append(w.buffer, bufferedMatch{resultID: resultID, match: m})
	shouldFlush := len(w.buffer) >= w.batchSize
	w.mu.Unlock()

	if shouldFlush {
		return w.Flush(ctx)
	}
	return nil
}

// Flush performs an unconditional buffered insert of every pending match
// (§4.7's flush contract).
func (w *Writer) Flush(ctx context.Context) error {
	flushStart := time.Now()
	defer func() { metrics.RecordWriterFlush(time.Since(flushStart)) }()

	w.mu.Lock()
	pending := w.buffer
	w.buffer = nil
	w.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	tx, err := w.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin flush transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, bm := range pending {
		if err := insertMatch(ctx, tx, bm.resultID, bm.match); err != nil {
			return fmt.Errorf("insert match %s: %w", bm.match.MatchID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit flush: %w", err)
	}

	if w.tracker != nil {
		w.tracker.ReportBatchComplete(len(pending))
	}
	return nil
}

// insertMatch serializes one Match into the bit-exact matches schema,
// compressing feather_records above compressionThreshold.
func insertMatch(ctx context.Context, tx *sql.Tx, resultID int64, m *correlation.Match) error {
	recordsBlob, err := json.Marshal(serializeFeatherRecords(m))
	if err != nil {
		return fmt.Errorf("marshal feather_records: %w", err)
	}

	compressed := false
	if len(recordsBlob) > compressionThreshold {
		compressed = true
		recordsBlob, err = gzipCompress(recordsBlob)
		if err != nil {
			return fmt.Errorf("compress feather_records: %w", err)
		}
		metrics.RecordBlobCompressed()
	}

	breakdownJSON, err := json.Marshal(m.ScoreBreakdown)
	if err != nil {
		return fmt.Errorf("marshal score_breakdown: %w", err)
	}

	var weightedScore sql.NullFloat64
	var weightedInterp sql.NullString
	if m.WeightedScore != nil {
		weightedScore = sql.NullFloat64{Float64: m.WeightedScore.Score, Valid: true}
		weightedInterp = sql.NullString{String: m.WeightedScore.Interpretation, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO matches (
			match_id, result_id, timestamp, match_score, confidence_score,
			confidence_category, feather_count, time_spread_seconds,
			anchor_feather_id, anchor_artifact_type, matched_application,
			matched_file_path, matched_event_id, is_duplicate,
			weighted_score_value, weighted_score_interpretation,
			feather_records, score_breakdown_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.MatchID, resultID, m.Timestamp, m.MatchScore, m.ConfidenceScore,
		m.ConfidenceCategory, m.FeatherCount, m.TimeSpreadSeconds,
		m.AnchorFeatherID, m.AnchorArtifactType, m.MatchedApplication,
		m.MatchedFilePath, nil, m.IsDuplicate,
		weightedScore, weightedInterp,
		recordsBlob, string(breakdownJSON))
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE matches SET anchor_start_time = ?, anchor_end_time = ?,
			anchor_record_count = ?, compressed = ?
		WHERE match_id = ?`,
		m.AnchorStart, m.AnchorEnd, m.AnchorRecordCount, compressed, m.MatchID)
	return err
}

// serializeFeatherRecords flattens a Match's per-feather record groups into
// a plain JSON-able structure for the feather_records blob.
func serializeFeatherRecords(m *correlation.Match) map[string][]map[string]any {
	out := make(map[string][]map[string]any, len(m.FeatherOrder))
	for _, featherID := range m.FeatherOrder {
		rows := m.FeatherRecords[featherID]
		serialized := make([]map[string]any, 0, len(rows))
		for _, r := range rows {
			row := make(map[string]any, len(r.Fields)+1)
			for field, v := range r.Fields {
				if v.IsNull() {
					row[field] = nil
				} else {
					row[field] = v.String()
				}
			}
			row["_table"] = r.Table
			serialized = append(serialized, row)
		}
		out[featherID] = serialized
	}
	return out
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		_ = zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UpdateResultCounts idempotently updates a result row's totals, per §4.7.
func (w *Writer) UpdateResultCounts(ctx context.Context, resultID int64, totalMatches int, duplicatesPrevented int, matchesFailedValidation int, executionDurationSeconds float64) error {
	_, err := w.store.db.ExecContext(ctx, `
		UPDATE results SET
			total_matches = ?, duplicates_prevented = ?,
			matches_failed_validation = ?, execution_duration_seconds = ?
		WHERE result_id = ?`,
		totalMatches, duplicatesPrevented, matchesFailedValidation, executionDurationSeconds, resultID)
	if err != nil {
		return fmt.Errorf("update result counts: %w", err)
	}
	return nil
}

// Pause is the writer's part of the PAUSE flow: it flushes pending matches,
// then sets the execution's status to PAUSED and stores snapshot as JSON in
// warnings_json. It does not write the execution's totals (cmd/correlate
// does that through Store.UpdateExecutionStats) and closes neither the
// writer nor the Store.
func (w *Writer) Pause(ctx context.Context, snapshot correlation.Snapshot) error {
	if err := w.Flush(ctx); err != nil {
		return fmt.Errorf("flush before pause: %w", err)
	}

	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal pause snapshot: %w", err)
	}

	w.mu.Lock()
	executionID := w.executionID
	w.mu.Unlock()

	_, err = w.store.db.ExecContext(ctx,
		`UPDATE executions SET status = 'PAUSED', warnings_json = ? WHERE execution_id = ?`,
		string(snapshotJSON), executionID)
	if err != nil {
		return fmt.Errorf("write paused status: %w", err)
	}

	logging.Info().Int64("execution_id", executionID).Msg("correlation run paused")
	return nil
}

// Close flushes any remaining buffered matches. It does not close the
// underlying Store, which the caller (the engine) owns and may share across
// multiple wings within one execution.
func (w *Writer) Close(ctx context.Context) error {
	return w.Flush(ctx)
}

// FlushTimeout is a 30-second bound exported for callers that build a
// deadline context for a flush; no code in this module references it.
const FlushTimeout = 30 * time.Second
