// Feathercore - Identity Correlation Engine for Forensic Artifact Feathers
// Copyright 2026 Feathercore Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelforensics/feathercore

package correlation

import (
	"errors"
	"testing"
)

func TestCompletedOutcome(t *testing.T) {
	t.Parallel()

	o := Completed()
	if o.Kind != OutcomeCompleted {
		t.Errorf("expected OutcomeCompleted, got %v", o.Kind)
	}
	if o.Snapshot != nil || o.Err != nil {
		t.Errorf("expected no snapshot/err on completed outcome")
	}
}

func TestCancelledOutcomeCarriesSnapshot(t *testing.T) {
	t.Parallel()

	s := Snapshot{IdentitiesProcessed: 10, TotalIdentities: 20, LastIdentityKey: "chrome.exe|"}
	o := Cancelled(s)

	if o.Kind != OutcomeCancelled {
		t.Errorf("expected OutcomeCancelled, got %v", o.Kind)
	}
	if o.Snapshot == nil {
		t.Fatalf("expected non-nil snapshot")
	}
	if o.Snapshot.LastIdentityKey != "chrome.exe|" {
		t.Errorf("snapshot not carried through correctly: %+v", *o.Snapshot)
	}
}

func TestFailedOutcomeCarriesError(t *testing.T) {
	t.Parallel()

	err := errors.New("boom")
	o := Failed(ErrorKindUnexpected, err)

	if o.Kind != OutcomeFailed {
		t.Errorf("expected OutcomeFailed, got %v", o.Kind)
	}
	if o.ErrKind != ErrorKindUnexpected {
		t.Errorf("expected ErrorKindUnexpected, got %v", o.ErrKind)
	}
	if !errors.Is(o.Err, err) {
		t.Errorf("expected wrapped error to match, got %v", o.Err)
	}
}
