// Feathercore - Identity Correlation Engine for Forensic Artifact Feathers
// Copyright 2026 Feathercore Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelforensics/feathercore

package correlation

import (
	"context"
	"fmt"
	"time"

	"github.com/kestrelforensics/feathercore/internal/logging"
	"github.com/kestrelforensics/feathercore/internal/metrics"
	"github.com/kestrelforensics/feathercore/internal/progress"
)

// suspensionInterval is §5's "every N identities (N = 10 000-15 000)"
// suspension point cadence.
const suspensionInterval = 12_000

// ResultWriter is the narrow persistence seam the Engine needs from a
// Streaming Result Writer. internal/resultstore.Writer satisfies this
// interface structurally; correlation never imports resultstore (which
// already imports correlation for Match), avoiding an import cycle.
type ResultWriter interface {
	StartExecution(ctx context.Context, engineType, pipelineName string) (executionID int64, runName string, err error)
	ResumeExecution(ctx context.Context, executionID int64) error
	LoadResumeInfo(ctx context.Context, executionID int64) (ResumeInfo, error)
	ExecutionID() int64
	CreateResult(ctx context.Context, wingID, wingName string, feathersProcessed int, totalRecordsScanned int64, anchorFeatherID, anchorSelectionReason, filtersAppliedJSON, featherMetadataJSON string) (int64, error)
	WriteMatch(ctx context.Context, resultID int64, m *Match) error
	Flush(ctx context.Context) error
	UpdateResultCounts(ctx context.Context, resultID int64, totalMatches, duplicatesPrevented, matchesFailedValidation int, executionDurationSeconds float64) error
	Pause(ctx context.Context, snapshot Snapshot) error
	Close(ctx context.Context) error
}

// FeatherPath pairs a wing's declared FeatherConfig with the resolved
// on-disk path the caller wants opened, letting execute_wing take
// feather_paths independent of FeatherConfig.DatabasePath (§6.2).
type FeatherPath struct {
	Feather FeatherConfig
	Path    string
}

// CorrelationResult is one wing's output, the return value of ExecuteWing
// and an element of Execute's aggregate result.
type CorrelationResult struct {
	WingID                  string
	WingName                string
	TotalMatches            int
	DuplicatesPrevented     int
	MatchesFailedValidation int
	FeathersProcessed       int
	TotalRecordsScanned     int64
	AnchorFeatherID         string
	AnchorSelectionReason   string
	Outcome                 CorrelationOutcome
}

// ExecuteResult is Engine.Execute's return shape (§6.2).
type ExecuteResult struct {
	Results         []CorrelationResult
	EngineType      string
	FiltersApplied  bool
	Cancelled       bool
	Resumed         bool
	ResumeExecution int64
	ResumeInfo      *ResumeInfo
}

// Engine coordinates one pipeline run: one worker per wing, run serially
// (§5's "one worker thread per wing; within a wing the core is
// single-threaded and cooperative" — Execute itself does not add
// parallelism across wings, since the identity index and writer are not
// safe to share concurrently without the cross-wing merge step the §5
// model reserves for the coordinator).
type Engine struct {
	Writer    ResultWriter
	Tracker   *progress.Tracker
	Scorer    Scorer
	PostPhase *PostPhase

	outputDir string
}

// NewEngine constructs an Engine. scorer may be nil (defaults to
// FallbackScorer); postPhase may be nil (the post-phase is skipped).
func NewEngine(writer ResultWriter, tracker *progress.Tracker, scorer Scorer, postPhase *PostPhase) *Engine {
	if scorer == nil {
		scorer = FallbackScorer{}
	}
	return &Engine{Writer: writer, Tracker: tracker, Scorer: scorer, PostPhase: postPhase}
}

// SetOutputDirectory activates streaming: it starts a fresh execution row,
// or attaches the writer to an existing PAUSED one for Execute's resume
// path to read back (it does not mark that execution RUNNING again — see
// Execute), and announces STREAMING_ENABLED (§6.2).
func (e *Engine) SetOutputDirectory(ctx context.Context, outputDir string, engineType, pipelineName string, resumeExecutionID *int64) error {
	e.outputDir = outputDir

	if resumeExecutionID != nil {
		if err := e.Writer.ResumeExecution(ctx, *resumeExecutionID); err != nil {
			return fmt.Errorf("resume execution %d: %w", *resumeExecutionID, err)
		}
		metrics.RecordResume()
	} else {
		if _, _, err := e.Writer.StartExecution(ctx, engineType, pipelineName); err != nil {
			return fmt.Errorf("start execution: %w", err)
		}
	}

	if e.Tracker != nil {
		e.Tracker.ReportStreamingEnabled()
	}
	return nil
}

// RequestCancellation requests cooperative cancellation (§6.2).
func (e *Engine) RequestCancellation() {
	if e.Tracker != nil {
		e.Tracker.RequestCancellation()
	}
}

// IsCancelled reports whether cancellation has been requested (§6.2).
func (e *Engine) IsCancelled() bool {
	return e.Tracker != nil && e.Tracker.IsCancelled()
}

// AddProgressListener registers a progress.Listener (§6.2).
func (e *Engine) AddProgressListener(l progress.Listener) {
	if e.Tracker != nil {
		e.Tracker.AddListener(l)
	}
}

// RemoveProgressListener unregisters a progress.Listener (§6.2).
func (e *Engine) RemoveProgressListener(l progress.Listener) {
	if e.Tracker != nil {
		e.Tracker.RemoveListener(l)
	}
}

// Execute runs every wing in order and aggregates their results (§6.2).
// pipelineConfig supplies engine-wide knobs (window size, filters, engine
// type); wings supply each correlation unit's feathers. When
// resumeExecutionID is non-nil, Execute does not reprocess any wing — §8
// property 8 (PAUSE/RESUME idempotence) is satisfied by never re-running the
// correlation rather than by detecting and skipping already-written
// identities, matching the original adapter's _resume_execution early
// return. The caller must have already attached the writer to that
// execution via SetOutputDirectory.
func (e *Engine) Execute(ctx context.Context, pipelineConfig PipelineConfig, wings []WingConfig, featherPaths map[string][]FeatherPath, resumeExecutionID *int64) (*ExecuteResult, error) {
	if resumeExecutionID != nil {
		info, err := e.Writer.LoadResumeInfo(ctx, *resumeExecutionID)
		if err != nil {
			return nil, fmt.Errorf("load resume info for execution %d: %w", *resumeExecutionID, err)
		}
		logging.Info().
			Int64("execution_id", *resumeExecutionID).
			Int("existing_matches", info.ExistingMatches).
			Int("identities_processed", info.IdentitiesProcessed).
			Int("total_identities", info.TotalIdentities).
			Msg("resume requested: returning existing matches without reprocessing")
		return &ExecuteResult{
			EngineType:      pipelineConfig.EngineType,
			Resumed:         true,
			ResumeExecution: *resumeExecutionID,
			ResumeInfo:      &info,
		}, nil
	}

	timeFilter, identityFilter := buildFilters(pipelineConfig)

	out := &ExecuteResult{
		EngineType:     pipelineConfig.EngineType,
		FiltersApplied: timeFilter.Active() || identityFilter.Active(),
	}

	metrics.IncrementActiveExecutions()
	defer metrics.DecrementActiveExecutions()

	for _, wing := range wings {
		result, err := e.ExecuteWing(ctx, wing, featherPaths[wing.WingID], pipelineConfig, timeFilter, identityFilter)
		if err != nil {
			return out, fmt.Errorf("execute wing %s: %w", wing.WingID, err)
		}
		out.Results = append(out.Results, result)

		if result.Outcome.Kind == OutcomeCancelled {
			out.Cancelled = true
			break // §5: cancellation stops the run at the current wing.
		}
	}

	if !out.Cancelled && e.PostPhase != nil && pipelineConfig.IdentitySemanticPhaseEnabled {
		if err := e.PostPhase.Run(ctx, e.Writer.ExecutionID()); err != nil {
			// §4.10 step 5: catastrophic post-phase failure aborts only the
			// post-phase; the correlation result remains valid.
			logging.Error().Err(err).Msg("identity-semantic post-phase failed, correlation result unaffected")
		}
	}

	return out, nil
}

func buildFilters(cfg PipelineConfig) (TimeFilter, IdentityFilter) {
	var tf TimeFilter
	if cfg.TimePeriodStart != nil {
		if t, ok := parseTimestamp(*cfg.TimePeriodStart); ok {
			tf.Start = &t
		}
	}
	if cfg.TimePeriodEnd != nil {
		if t, ok := parseTimestamp(*cfg.TimePeriodEnd); ok {
			tf.End = &t
		}
	}

	return tf, IdentityFilter{Patterns: cfg.IdentityFilters, CaseSensitive: cfg.CaseSensitive}
}

// ExecuteWing runs one wing to completion: loads every feather into a
// shared identity index, clusters each identity into anchors, builds and
// writes matches, and observes the §5 suspension points throughout.
func (e *Engine) ExecuteWing(ctx context.Context, wing WingConfig, paths []FeatherPath, pipelineConfig PipelineConfig, timeFilter TimeFilter, identityFilter IdentityFilter) (CorrelationResult, error) {
	started := time.Now()
	result := CorrelationResult{WingID: wing.WingID, WingName: wing.WingName}

	hints := map[string]ColumnHints{}
	for _, fc := range wing.Feathers {
		if fc.Metadata != nil {
			hints[fc.FeatherID] = ColumnHints{
				ApplicationColumn: fc.Metadata.ApplicationColumn,
				PathColumn:        fc.Metadata.PathColumn,
				HashColumn:        fc.Metadata.HashColumn,
				TimestampPatterns: fc.Metadata.TimestampPatterns,
			}
		}
	}

	extractor := NewExtractor(hints)
	index := NewIndex()
	loader := NewLoader(extractor, index, timeFilter, identityFilter)

	var firstFeatherID string
	for _, fp := range paths {
		handle, err := OpenFeather(ctx, fp.Feather.FeatherID, fp.Path)
		if err != nil {
			logging.Warn().Err(err).Str("feather_id", fp.Feather.FeatherID).Msg("open feather failed, skipping")
			continue
		}

		stats, _ := loader.LoadFeather(ctx, handle, hints[fp.Feather.FeatherID])
		handle.Close()

		result.FeathersProcessed++
		result.TotalRecordsScanned += int64(stats.Total)

		if firstFeatherID == "" {
			firstFeatherID = fp.Feather.FeatherID
		}
	}

	resultID, err := e.Writer.CreateResult(ctx, wing.WingID, wing.WingName, result.FeathersProcessed,
		result.TotalRecordsScanned, firstFeatherID, "first feather observed in insertion order", "", "")
	if err != nil {
		return result, fmt.Errorf("create result row: %w", err)
	}
	result.AnchorFeatherID = firstFeatherID
	result.AnchorSelectionReason = "first feather observed in insertion order"

	builder := NewBuilder(fmt.Sprintf("%d", e.Writer.ExecutionID()), len(wing.Feathers), e.Scorer)

	windowMinutes := pipelineConfig.WindowMinutes
	if windowMinutes <= 0 {
		windowMinutes = DefaultWindowMinutes
	}

	identities := index.Identities()
	if e.Tracker != nil {
		e.Tracker.StartScanning(len(identities), pipelineConfig.StreamingEnabled, pipelineConfig.EngineType)
	}

	outcome := Completed()
	now := time.Now()
	nowMicros := func() int64 { return now.UnixMicro() }

	for i, id := range identities {
		itemStart := time.Now()

		anchors := ClusterAnchors(id.Records, windowMinutes, now)
		matchesCreated := 0
		for _, anchor := range anchors {
			m := builder.Build(anchor, id, nowMicros, &wing, pipelineConfig.CaseID)
			if err := e.Writer.WriteMatch(ctx, resultID, m); err != nil {
				logging.Error().Err(err).Str("match_id", m.MatchID).Msg("write match failed")
				continue
			}
			matchesCreated++
		}
		result.TotalMatches += matchesCreated

		if e.Tracker != nil {
			e.Tracker.CompleteItem(id.IdentityKey, matchesCreated, len(id.Records), time.Since(itemStart))
		}

		if (i+1)%suspensionInterval == 0 || i == len(identities)-1 {
			if e.Tracker != nil && e.Tracker.Stall.CheckForStall() {
				logging.Error().Str("wing_id", wing.WingID).Msg("wing appears stalled")
				metrics.RecordStallWarning(pipelineConfig.EngineType)
			}
			if e.Tracker != nil {
				if cancelErr := e.Tracker.CheckCancellation(); cancelErr != nil {
					snapshot := Snapshot{
						IdentitiesProcessed: i + 1,
						TotalIdentities:     len(identities),
						Percentage:          float64(i+1) / float64(len(identities)) * 100,
						LastIdentityKey:     id.IdentityKey,
						TimestampISO:        time.Now().UTC().Format(time.RFC3339),
					}
					outcome = Cancelled(snapshot)
					metrics.RecordCancellation(pipelineConfig.EngineType)
					break
				}
			}
		}
	}

	metrics.RecordIdentitiesProcessed(pipelineConfig.EngineType, len(identities))
	result.DuplicatesPrevented = builder.DuplicatesPrevented
	metrics.RecordMatchesWritten(wing.WingID, result.TotalMatches)
	metrics.RecordDuplicatesPrevented(wing.WingID, result.DuplicatesPrevented)

	if err := e.Writer.Flush(ctx); err != nil {
		outcome = Failed(ErrorKindUnexpected, err)
	}

	duration := time.Since(started).Seconds()
	if uerr := e.Writer.UpdateResultCounts(ctx, resultID, result.TotalMatches, result.DuplicatesPrevented, result.MatchesFailedValidation, duration); uerr != nil {
		logging.Error().Err(uerr).Int64("result_id", resultID).Msg("update result counts failed")
	}

	if e.Tracker != nil {
		e.Tracker.CompleteScanning()
	}

	if outcome.Kind == OutcomeCancelled {
		if perr := e.Writer.Pause(ctx, *outcome.Snapshot); perr != nil {
			logging.Error().Err(perr).Msg("pause flow failed")
		}
	}

	result.Outcome = outcome

	outcomeLabel := "completed"
	switch outcome.Kind {
	case OutcomeCancelled:
		outcomeLabel = "cancelled"
	case OutcomeFailed:
		outcomeLabel = "failed"
	}
	metrics.RecordWingOutcome(wing.WingID, outcomeLabel, time.Since(started))

	return result, nil
}
