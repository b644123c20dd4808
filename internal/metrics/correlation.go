// Feathercore - Identity Correlation Engine for Forensic Artifact Feathers
// Copyright 2026 Feathercore Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelforensics/feathercore

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Correlation Engine Metrics
// Instrumentation for wing execution, the streaming result writer, the
// stall monitor, and the identity-semantic post-phase.

var (
	CorrelationMatchesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feathercore_correlation_matches_written_total",
			Help: "Total number of matches written by the streaming result writer",
		},
		[]string{"wing_id"},
	)

	CorrelationDuplicatesPrevented = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feathercore_correlation_duplicates_prevented_total",
			Help: "Total number of duplicate records suppressed by the match builder's dedup hash",
		},
		[]string{"wing_id"},
	)

	CorrelationIdentitiesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feathercore_correlation_identities_processed_total",
			Help: "Total number of identities processed across all wings",
		},
		[]string{"engine_type"},
	)

	CorrelationWingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feathercore_correlation_wing_duration_seconds",
			Help:    "Duration of one wing's execution",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s .. 2048s (~34min)
		},
		[]string{"wing_id", "outcome"},
	)

	CorrelationStallWarnings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feathercore_correlation_stall_warnings_total",
			Help: "Total number of stall-monitor warnings raised",
		},
		[]string{"engine_type"},
	)

	CorrelationCancellations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feathercore_correlation_cancellations_total",
			Help: "Total number of wing executions that ended cancelled",
		},
		[]string{"engine_type"},
	)

	CorrelationResumes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feathercore_correlation_resumes_total",
			Help: "Total number of paused executions resumed",
		},
	)

	CorrelationWriterFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feathercore_correlation_writer_flush_duration_seconds",
			Help:    "Duration of streaming result writer flush transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	CorrelationWriterBlobCompressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feathercore_correlation_writer_blob_compressed_total",
			Help: "Total number of feather_records blobs that exceeded the compression threshold",
		},
	)

	CorrelationSemanticMappingsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feathercore_correlation_semantic_mappings_applied_total",
			Help: "Total number of semantic fields mapped by the identity-semantic post-phase",
		},
		[]string{"engine_type"},
	)

	CorrelationSemanticBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "feathercore_correlation_semantic_breaker_open",
			Help: "1 if the identity-semantic mapper's circuit breaker is open, 0 otherwise",
		},
	)

	CorrelationActiveExecutions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "feathercore_correlation_active_executions",
			Help: "Current number of in-flight correlation executions",
		},
	)
)

// RecordWingOutcome records one wing's completion, keyed by its terminal
// outcome ("completed", "cancelled", "failed").
func RecordWingOutcome(wingID, outcome string, duration time.Duration) {
	CorrelationWingDuration.WithLabelValues(wingID, outcome).Observe(duration.Seconds())
}

// RecordMatchesWritten increments the per-wing matches-written counter.
func RecordMatchesWritten(wingID string, count int) {
	if count <= 0 {
		return
	}
	CorrelationMatchesWritten.WithLabelValues(wingID).Add(float64(count))
}

// RecordDuplicatesPrevented increments the per-wing dedup counter.
func RecordDuplicatesPrevented(wingID string, count int) {
	if count <= 0 {
		return
	}
	CorrelationDuplicatesPrevented.WithLabelValues(wingID).Add(float64(count))
}

// RecordIdentitiesProcessed increments the per-engine-type identity counter.
func RecordIdentitiesProcessed(engineType string, count int) {
	if count <= 0 {
		return
	}
	CorrelationIdentitiesProcessed.WithLabelValues(engineType).Add(float64(count))
}

// RecordStallWarning increments the stall-warning counter for engineType.
func RecordStallWarning(engineType string) {
	CorrelationStallWarnings.WithLabelValues(engineType).Inc()
}

// RecordCancellation increments the cancellation counter for engineType.
func RecordCancellation(engineType string) {
	CorrelationCancellations.WithLabelValues(engineType).Inc()
}

// RecordResume increments the resume counter.
func RecordResume() {
	CorrelationResumes.Inc()
}

// RecordWriterFlush observes one flush transaction's duration.
func RecordWriterFlush(duration time.Duration) {
	CorrelationWriterFlushDuration.Observe(duration.Seconds())
}

// RecordBlobCompressed increments the oversized-blob compression counter.
func RecordBlobCompressed() {
	CorrelationWriterBlobCompressed.Inc()
}

// RecordSemanticMappingsApplied increments the semantic-mappings counter by
// the number of fields mapped for one identity group.
func RecordSemanticMappingsApplied(engineType string, count int) {
	if count <= 0 {
		return
	}
	CorrelationSemanticMappingsApplied.WithLabelValues(engineType).Add(float64(count))
}

// SetSemanticBreakerOpen reports the identity-semantic mapper breaker state.
func SetSemanticBreakerOpen(open bool) {
	if open {
		CorrelationSemanticBreakerState.Set(1)
		return
	}
	CorrelationSemanticBreakerState.Set(0)
}

// IncrementActiveExecutions marks one execution as starting.
func IncrementActiveExecutions() {
	CorrelationActiveExecutions.Inc()
}

// DecrementActiveExecutions marks one execution as finished.
func DecrementActiveExecutions() {
	CorrelationActiveExecutions.Dec()
}
