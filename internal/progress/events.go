// Feathercore - Identity Correlation Engine for Forensic Artifact Feathers
// Copyright 2026 Feathercore Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelforensics/feathercore

// Package progress implements the Progress Tracker, Stall Monitor, and
// Cancellation Token described for the correlation core: an event bus to
// listeners, elapsed-time rate/ETA estimation, a stall watchdog with
// operation history, and cooperative cancellation with partial-result
// preservation.
package progress

import "time"

// EventType is one of the thirteen progress event kinds the tracker emits.
type EventType string

// The full, exact set of event types.
const (
	EventScanningStart        EventType = "SCANNING_START"
	EventWindowStart           EventType = "WINDOW_START"
	EventWindowProgress        EventType = "WINDOW_PROGRESS"
	EventWindowComplete        EventType = "WINDOW_COMPLETE"
	EventBatchComplete         EventType = "BATCH_COMPLETE"
	EventStreamingEnabled      EventType = "STREAMING_ENABLED"
	EventMemoryWarning         EventType = "MEMORY_WARNING"
	EventCancellationRequested EventType = "CANCELLATION_REQUESTED"
	EventScanningComplete      EventType = "SCANNING_COMPLETE"
	EventErrorOccurred         EventType = "ERROR_OCCURRED"
	EventDatabaseQueryStart    EventType = "DATABASE_QUERY_START"
	EventDatabaseQueryProgress EventType = "DATABASE_QUERY_PROGRESS"
	EventDatabaseQueryComplete EventType = "DATABASE_QUERY_COMPLETE"
)

// Terminology parameterizes user-facing wording by engine type: the
// identity engine talks about "identities"/"correlating"; the time-window
// sibling engine talks about "windows"/"scanning".
type Terminology struct {
	Unit           string
	ProcessingVerb string
}

// IdentityBasedTerminology is used by this engine.
var IdentityBasedTerminology = Terminology{Unit: "identities", ProcessingVerb: "correlating"}

// TimeWindowTerminology describes the sibling engine's vocabulary; kept
// here only so a shared listener can render either engine's events
// consistently.
var TimeWindowTerminology = Terminology{Unit: "windows", ProcessingVerb: "scanning"}

// TerminologyFor resolves terminology by engine type string, defaulting to
// the time-window vocabulary for unrecognized types (matching the
// original's default).
func TerminologyFor(engineType string) Terminology {
	if engineType == "identity_based" {
		return IdentityBasedTerminology
	}
	return TimeWindowTerminology
}

// OverallProgress is the run-wide snapshot attached to most events.
type OverallProgress struct {
	Processed  int
	Total      int
	Percentage float64

	MatchesFound int

	CurrentItemTime       *time.Time
	EstimatedCompletion   *time.Time
	TimeRemainingSeconds  *float64
	ProcessingRatePerSec  float64

	MemoryUsageMB float64

	StreamingMode bool
	ProcessingMode string
}

// ItemProgress carries per-identity (or per-window, in the sibling engine)
// detail for WINDOW_START/WINDOW_PROGRESS/WINDOW_COMPLETE-class events.
type ItemProgress struct {
	ItemID              string
	Start, End          time.Time
	RecordsFound        int
	MatchesCreated       int
	ProcessingTimeSeconds float64
	FeathersWithRecords   int
	MemoryUsageMB         float64
}

// Event is the typed message delivered to every listener (§6.4 shape).
type Event struct {
	Type      EventType
	Timestamp time.Time

	Overall *OverallProgress
	Item    *ItemProgress

	Message      string
	ErrorDetails string
	Additional   map[string]any
}

// Listener receives progress events. Implementations MUST be non-blocking:
// the bus dispatches synchronously on the emitter's thread (§5).
type Listener interface {
	OnProgressEvent(Event)
}

// ListenerFunc adapts a plain function to Listener.
type ListenerFunc func(Event)

// OnProgressEvent implements Listener.
func (f ListenerFunc) OnProgressEvent(e Event) { f(e) }
