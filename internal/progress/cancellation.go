// Feathercore - Identity Correlation Engine for Forensic Artifact Feathers
// Copyright 2026 Feathercore Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelforensics/feathercore

package progress

import (
	"errors"
	"sync"

	"github.com/kestrelforensics/feathercore/internal/logging"
)

// ErrCancelled is returned by CancellationToken.Check once cancellation has
// been requested. It is caught at the wing level to trigger the PAUSE path
// (§4.8, §7); it never escapes further up the call stack.
var ErrCancelled = errors.New("correlation cancelled")

// CancellationToken is a flag plus a callback list plus a lock (§4.8). It
// is the only thread-safe piece of correlation state — everything else in
// the wing is strictly single-threaded (§5).
type CancellationToken struct {
	mu        sync.Mutex
	cancelled bool
	callbacks []func()
}

// NewCancellationToken returns a fresh, uncancelled token.
func NewCancellationToken() *CancellationToken {
	return &CancellationToken{}
}

// RequestCancellation flips the flag and invokes every registered callback,
// swallowing callback panics/errors so one bad listener cannot prevent
// cancellation from taking effect.
func (t *CancellationToken) RequestCancellation() {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.cancelled = true
	callbacks := append([]func(){}, t.callbacks...)
	t.mu.Unlock()

	for _, cb := range callbacks {
		invokeSafely(cb)
	}
}

func invokeSafely(cb func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.Warn().Interface("panic", r).Msg("cancellation callback panicked")
		}
	}()
	cb()
}

// IsCancelled reports the current flag value.
func (t *CancellationToken) IsCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// RegisterCallback adds a callback invoked (at most once) when cancellation
// is requested.
func (t *CancellationToken) RegisterCallback(cb func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, cb)
}

// Check returns ErrCancelled if cancellation has been requested, nil
// otherwise. This is one of the only places the wing worker may observe
// cancellation (§5 suspension points).
func (t *CancellationToken) Check() error {
	if t.IsCancelled() {
		return ErrCancelled
	}
	return nil
}
