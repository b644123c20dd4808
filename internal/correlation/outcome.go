// Feathercore - Identity Correlation Engine for Forensic Artifact Feathers
// Copyright 2026 Feathercore Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelforensics/feathercore

package correlation

// ErrorKind classifies a wing-level failure per the §7 taxonomy. Per-row,
// per-match, per-feather, and per-phase errors never reach this type: they
// are recovered locally and only surface as entries in a result's
// Errors/Warnings slices.
type ErrorKind int

const (
	// ErrorKindNone marks a non-error outcome.
	ErrorKindNone ErrorKind = iota
	// ErrorKindWriterOpen is raised when the streaming writer cannot open
	// its database; it is the one fatal, caller-visible failure.
	ErrorKindWriterOpen
	// ErrorKindStalled is raised when the stall monitor declares a stall.
	ErrorKindStalled
	// ErrorKindUnexpected covers any uncaught error within a wing, which
	// converts the outcome to Failed per §5's cancellation semantics.
	ErrorKindUnexpected
)

// Snapshot is the resumable progress state captured when a wing pauses
// mid-run (§4.7 PAUSE flow, §8 property 8).
type Snapshot struct {
	IdentitiesProcessed int
	TotalIdentities     int
	Percentage          float64
	LastIdentityKey     string
	TimestampISO        string
}

// CorrelationOutcome is the §9 redesign-note result type threaded through
// the wing loop in place of exceptions-as-control-flow. Only the outermost
// executor (Engine.Execute) inspects which variant it is; every
// intermediate layer just propagates it.
type CorrelationOutcome struct {
	Kind     OutcomeKind
	Snapshot *Snapshot // non-nil iff Kind == OutcomeCancelled
	Err      error     // non-nil iff Kind == OutcomeFailed
	ErrKind  ErrorKind
}

// OutcomeKind discriminates CorrelationOutcome.
type OutcomeKind int

const (
	// OutcomeCompleted means the wing ran to completion.
	OutcomeCompleted OutcomeKind = iota
	// OutcomeCancelled means cooperative cancellation was observed; a
	// Snapshot is attached for RESUME.
	OutcomeCancelled
	// OutcomeFailed means an unrecoverable error aborted the wing.
	OutcomeFailed
)

// ResumeInfo summarizes a paused execution's progress for Execute's
// resume_execution_id path (§6.2 resume_info, §8 property 8). It is read
// back from the paused execution row rather than recomputed, since a
// resumed run does not reprocess any wing.
type ResumeInfo struct {
	IdentitiesProcessed int
	TotalIdentities     int
	PercentageComplete  float64
	ExistingMatches     int
}

// Completed constructs a completed outcome.
func Completed() CorrelationOutcome { return CorrelationOutcome{Kind: OutcomeCompleted} }

// Cancelled constructs a cancelled outcome carrying a resume snapshot.
func Cancelled(s Snapshot) CorrelationOutcome {
	return CorrelationOutcome{Kind: OutcomeCancelled, Snapshot: &s}
}

// Failed constructs a failed outcome.
func Failed(kind ErrorKind, err error) CorrelationOutcome {
	return CorrelationOutcome{Kind: OutcomeFailed, ErrKind: kind, Err: err}
}
