// Feathercore - Identity Correlation Engine for Forensic Artifact Feathers
// Copyright 2026 Feathercore Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelforensics/feathercore

package correlation

import (
	"context"

	"github.com/kestrelforensics/feathercore/internal/logging"
)

// FeatherStats tracks the per-feather counters named in §4.2: total rows
// read, rows that survived extraction, rows filtered out, and the number
// of distinct identities they contributed to.
type FeatherStats struct {
	FeatherID  string
	Total      int
	Extracted  int
	Filtered   int
	identities map[string]bool
}

// Identities reports the distinct identity count this feather contributed
// to.
func (s *FeatherStats) Identities() int { return len(s.identities) }

// Loader implements §4.2: Feather Loader. For each feather it enumerates
// non-system tables, streams rows, applies the pre-filters, and feeds
// surviving records into the identity index.
type Loader struct {
	Extractor      *Extractor
	Index          *Index
	TimeFilter     TimeFilter
	IdentityFilter IdentityFilter
}

// NewLoader constructs a Loader sharing one Extractor and Index across all
// feathers in a wing.
func NewLoader(extractor *Extractor, index *Index, timeFilter TimeFilter, identityFilter IdentityFilter) *Loader {
	return &Loader{Extractor: extractor, Index: index, TimeFilter: timeFilter, IdentityFilter: identityFilter}
}

// LoadFeather reads every table of one feather and folds surviving records
// into the identity index. A SQL error against one table is logged and
// that table is skipped; it never aborts the feather or the wing (§4.2).
func (l *Loader) LoadFeather(ctx context.Context, handle *FeatherHandle, hints ColumnHints) (*FeatherStats, error) {
	stats := &FeatherStats{FeatherID: handle.FeatherID, identities: map[string]bool{}}

	tables, err := handle.Tables(ctx)
	if err != nil {
		logging.Warn().Err(err).Str("feather_id", handle.FeatherID).Msg("enumerate tables failed")
		return stats, nil
	}

	for _, table := range tables {
		err := handle.StreamTable(ctx, table, hints.TimestampPatterns, func(r *Record) {
			stats.Total++

			if !l.TimeFilter.Allow(r) {
				stats.Filtered++
				return
			}

			ext := l.Extractor.Extract(r)
			if ext.Filtered {
				stats.Filtered++
				return
			}
			if !l.IdentityFilter.Allow(ext) {
				stats.Filtered++
				return
			}

			if l.Index.Add(l.Extractor, r) {
				stats.Extracted++
				_, _, key := Normalize(ext.Name, ext.Path, ext.Hash)
				stats.identities[key] = true
			} else {
				stats.Filtered++
			}
		})
		if err != nil {
			logging.Warn().Err(err).Str("feather_id", handle.FeatherID).Str("table", table).Msg("stream table failed, skipping")
			continue
		}
	}

	return stats, nil
}
