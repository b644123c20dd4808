// Feathercore - Identity Correlation Engine for Forensic Artifact Feathers
// Copyright 2026 Feathercore Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelforensics/feathercore

package correlation

import (
	"path/filepath"
	"strings"
	"time"
)

// TimeFilter implements the time pre-filter of §4.9: records outside
// [Start, End] (either bound optional) are dropped before reaching the
// extractor.
type TimeFilter struct {
	Start *time.Time
	End   *time.Time
}

// Active reports whether either bound is set.
func (f TimeFilter) Active() bool { return f.Start != nil || f.End != nil }

// Allow reports whether a record's timestamp passes the filter. Records
// with no parseable timestamp are never rejected by the time filter; the
// anchor clusterer routes them to their own anchor instead.
func (f TimeFilter) Allow(r *Record) bool {
	if !f.Active() || r.Timestamp == nil {
		return true
	}
	ts := *r.Timestamp
	if f.Start != nil && ts.Before(*f.Start) {
		return false
	}
	if f.End != nil && ts.After(*f.End) {
		return false
	}
	return true
}

// IdentityFilter implements the identity pre-filter of §4.9: a list of glob
// patterns matched against name/path/hash, with an optional case-sensitive
// mode. A record survives if at least one extracted component matches at
// least one pattern.
type IdentityFilter struct {
	Patterns      []string
	CaseSensitive bool
}

// Active reports whether any patterns are configured.
func (f IdentityFilter) Active() bool { return len(f.Patterns) > 0 }

// Allow reports whether the extraction's components match any pattern.
func (f IdentityFilter) Allow(ext Extraction) bool {
	if !f.Active() {
		return true
	}
	components := []string{ext.Name, ext.Path, ext.Hash}
	for _, pattern := range f.Patterns {
		pat := pattern
		if !f.CaseSensitive {
			pat = strings.ToLower(pat)
		}
		for _, c := range components {
			if c == "" {
				continue
			}
			candidate := c
			if !f.CaseSensitive {
				candidate = strings.ToLower(candidate)
			}
			if ok, _ := filepath.Match(pat, candidate); ok {
				return true
			}
		}
	}
	return false
}
