// Feathercore - Identity Correlation Engine for Forensic Artifact Feathers
// Copyright 2026 Feathercore Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelforensics/feathercore

package progress

import (
	"sync"
	"time"

	"github.com/kestrelforensics/feathercore/internal/logging"
)

// DefaultStallTimeout matches §4.8's 300-second default.
const DefaultStallTimeout = 300 * time.Second

// stallWarningFraction is the 80% threshold at which health degrades from
// healthy to warning, ahead of a full stall declaration.
const stallWarningFraction = 0.80

// HealthStatus is the Stall Monitor's three-valued health signal.
type HealthStatus string

// The three health states.
const (
	HealthHealthy HealthStatus = "healthy"
	HealthWarning HealthStatus = "warning"
	HealthStalled HealthStatus = "stalled"
)

const operationHistoryLimit = 50
const recentErrorsLimit = 20

// OperationRecord is one entry in the Stall Monitor's bounded operation
// history ring buffer.
type OperationRecord struct {
	Time           time.Time
	Stage          string
	LastOperation  string
	ProcessedCount int
}

// StateSnapshot is the Stall Monitor's current-state view, included in a
// diagnostics bundle.
type StateSnapshot struct {
	ProcessedCount int
	TotalItems     int
	Stage          string
	LastOperation  string
	Since          time.Time
}

// DiagnosticsBundle is logged when a stall is declared: operation history,
// current state, and overall health (§4.8, and the original's
// StallDiagnosticsLogger, supplemented per SPEC_FULL.md §C.5).
type DiagnosticsBundle struct {
	OperationHistory []OperationRecord
	RecentErrors     []string
	CurrentState     StateSnapshot
	Health           HealthStatus
}

// StallMonitor implements §4.8's watchdog: it declares a stall when no
// progress has been recorded for Timeout, and maintains a bounded
// operation-history and error list for diagnostics. Checks are meant to be
// batched by the caller (every 10k-20k items) to keep the hot loop tight.
type StallMonitor struct {
	Timeout time.Duration

	mu             sync.Mutex
	lastProgress   time.Time
	processedCount int
	totalItems     int
	stage          string
	lastOperation  string
	history        []OperationRecord
	errors         []string
}

// NewStallMonitor constructs a monitor with the given timeout (0 means
// DefaultStallTimeout).
func NewStallMonitor(timeout time.Duration) *StallMonitor {
	if timeout <= 0 {
		timeout = DefaultStallTimeout
	}
	return &StallMonitor{Timeout: timeout, lastProgress: time.Now()}
}

// SetTotalItems records the expected total, used only for diagnostics.
func (m *StallMonitor) SetTotalItems(total int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalItems = total
}

// UpdateProgress resets the stall timer and records the operation in the
// bounded history.
func (m *StallMonitor) UpdateProgress(processedCount int, stage, lastOperation string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastProgress = time.Now()
	m.processedCount = processedCount
	m.stage = stage
	m.lastOperation = lastOperation

	m.history = append(m.history, OperationRecord{
		Time:           m.lastProgress,
		Stage:          stage,
		LastOperation:  lastOperation,
		ProcessedCount: processedCount,
	})
	if len(m.history) > operationHistoryLimit {
		m.history = m.history[len(m.history)-operationHistoryLimit:]
	}
}

// AddError records an error message in the bounded error list.
func (m *StallMonitor) AddError(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
	if len(m.errors) > recentErrorsLimit {
		m.errors = m.errors[len(m.errors)-recentErrorsLimit:]
	}
}

// CheckForStall compares elapsed time since the last progress update
// against Timeout. When stalled, it logs a diagnostics bundle and returns
// true.
func (m *StallMonitor) CheckForStall() bool {
	bundle, stalled := m.diagnostics()
	if stalled {
		logging.Error().
			Time("last_progress", m.lastProgressTime()).
			Interface("operation_history", bundle.OperationHistory).
			Interface("current_state", bundle.CurrentState).
			Str("health", string(bundle.Health)).
			Msg("correlation stall detected")
	}
	return stalled
}

func (m *StallMonitor) lastProgressTime() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastProgress
}

// GetHealthStatus reports the current health without logging.
func (m *StallMonitor) GetHealthStatus() HealthStatus {
	_, _ = m.diagnostics()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthLocked()
}

func (m *StallMonitor) healthLocked() HealthStatus {
	elapsed := time.Since(m.lastProgress)
	switch {
	case elapsed >= m.Timeout:
		return HealthStalled
	case float64(elapsed) >= float64(m.Timeout)*stallWarningFraction:
		return HealthWarning
	default:
		return HealthHealthy
	}
}

// GetStallDiagnostics returns the full bundle without side effects.
func (m *StallMonitor) GetStallDiagnostics() DiagnosticsBundle {
	bundle, _ := m.diagnostics()
	return bundle
}

func (m *StallMonitor) diagnostics() (DiagnosticsBundle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	health := m.healthLocked()
	bundle := DiagnosticsBundle{
		OperationHistory: append([]OperationRecord{}, m.history...),
		RecentErrors:     append([]string{}, m.errors...),
		CurrentState: StateSnapshot{
			ProcessedCount: m.processedCount,
			TotalItems:     m.totalItems,
			Stage:          m.stage,
			LastOperation:  m.lastOperation,
			Since:          m.lastProgress,
		},
		Health: health,
	}
	return bundle, health == HealthStalled
}

// Reset clears the monitor's timer and history, used when beginning a new
// phase (e.g. transitioning from correlation to the semantic post-phase).
func (m *StallMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastProgress = time.Now()
	m.processedCount = 0
	m.history = nil
	m.errors = nil
}
