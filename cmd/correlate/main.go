// Feathercore - Identity Correlation Engine for Forensic Artifact Feathers
// Copyright 2026 Feathercore Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelforensics/feathercore

// Command correlate drives one pipeline execution: it loads the ambient
// configuration and a case file (pipeline + wings), runs the identity
// correlation engine to completion (or until cancelled/paused), and writes
// results into the results database.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kestrelforensics/feathercore/internal/config"
	"github.com/kestrelforensics/feathercore/internal/correlation"
	"github.com/kestrelforensics/feathercore/internal/logging"
	"github.com/kestrelforensics/feathercore/internal/progress"
	"github.com/kestrelforensics/feathercore/internal/resultstore"
)

func main() {
	casePath := flag.String("case", "", "path to the pipeline/wings case file (.yaml or .json)")
	resumeID := flag.Int64("resume", 0, "execution_id of a PAUSED run to resume instead of starting fresh")
	flag.Parse()

	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load ambient configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	if *casePath == "" {
		logging.Fatal().Msg("-case is required")
	}

	pipelineCfg, err := config.LoadPipelineConfig(*casePath)
	if err != nil {
		logging.Fatal().Err(err).Str("case", *casePath).Msg("failed to load pipeline config")
	}

	wings, err := config.LoadWingConfigs(*casePath)
	if err != nil {
		logging.Fatal().Err(err).Str("case", *casePath).Msg("failed to load wing configs")
	}

	logging.Info().
		Str("pipeline_name", pipelineCfg.PipelineName).
		Str("engine_type", pipelineCfg.EngineType).
		Int("wings", len(wings)).
		Msg("pipeline config loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := resultstore.Open(ctx, cfg.ResultsDatabasePath)
	if err != nil {
		logging.Fatal().Err(err).Str("path", cfg.ResultsDatabasePath).Msg("failed to open results database")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing results database")
		}
	}()

	tracker := progress.NewTracker(pipelineCfg.EngineType, time.Duration(pipelineCfg.StallTimeoutSeconds)*time.Second)
	tracker.AddListener(progress.ListenerFunc(logProgressEvent))

	writer := resultstore.NewWriter(store, pipelineCfg.BatchSize, tracker)
	mapper := correlation.NoopMapper{}
	postPhase := correlation.NewPostPhase(store, mapper, pipelineCfg.EngineType)

	engine := correlation.NewEngine(writer, tracker, correlation.FallbackScorer{}, postPhase)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logging.Warn().Msg("shutdown signal received, requesting cooperative cancellation")
		engine.RequestCancellation()
	}()

	var resumeExecutionID *int64
	if *resumeID > 0 {
		resumeExecutionID = resumeID
	}
	if err := engine.SetOutputDirectory(ctx, pipelineCfg.OutputDir, pipelineCfg.EngineType, pipelineCfg.PipelineName, resumeExecutionID); err != nil {
		logging.Fatal().Err(err).Msg("failed to start execution")
	}

	featherPaths := map[string][]correlation.FeatherPath{}
	for _, wing := range wings {
		for _, fc := range wing.Feathers {
			featherPaths[wing.WingID] = append(featherPaths[wing.WingID], correlation.FeatherPath{Feather: fc, Path: fc.DatabasePath})
		}
	}

	result, err := engine.Execute(ctx, *pipelineCfg, wings, featherPaths, resumeExecutionID)
	if err != nil {
		logging.Fatal().Err(err).Msg("correlation run failed")
	}

	if result.Resumed {
		logging.Info().
			Int64("execution_id", result.ResumeExecution).
			Int("existing_matches", result.ResumeInfo.ExistingMatches).
			Int("identities_processed", result.ResumeInfo.IdentitiesProcessed).
			Int("total_identities", result.ResumeInfo.TotalIdentities).
			Msg("resumed execution: existing matches returned, no reprocessing performed")
		fmt.Printf("resumed: execution_id=%d existing_matches=%d identities_processed=%d/%d\n",
			result.ResumeExecution, result.ResumeInfo.ExistingMatches,
			result.ResumeInfo.IdentitiesProcessed, result.ResumeInfo.TotalIdentities)
		return
	}

	var totalMatches int
	var totalRecords int64
	for _, r := range result.Results {
		totalMatches += r.TotalMatches
		totalRecords += r.TotalRecordsScanned
	}

	if err := store.UpdateExecutionStats(ctx, writer.ExecutionID(), len(result.Results), totalMatches, totalRecords, 0, executionStatus(result), "", ""); err != nil {
		logging.Error().Err(err).Msg("failed to finalize execution stats")
	}

	if result.Cancelled {
		logging.Warn().Int64("execution_id", writer.ExecutionID()).Msg("correlation run paused on cancellation")
		fmt.Printf("paused: execution_id=%d\n", writer.ExecutionID())
		return
	}

	logging.Info().
		Int64("execution_id", writer.ExecutionID()).
		Int("total_matches", totalMatches).
		Int64("total_records_scanned", totalRecords).
		Msg("correlation run completed")
	fmt.Printf("completed: execution_id=%d matches=%d\n", writer.ExecutionID(), totalMatches)
}

func executionStatus(result *correlation.ExecuteResult) string {
	if result.Cancelled {
		return "PAUSED"
	}
	return "COMPLETED"
}

func logProgressEvent(e progress.Event) {
	evt := logging.Debug().Str("event_type", string(e.Type))
	if e.Overall != nil {
		evt = evt.Float64("percentage", e.Overall.Percentage).Int("processed", e.Overall.Processed).Int("total", e.Overall.Total)
	}
	evt.Msg("progress event")
}
