// Feathercore - Identity Correlation Engine for Forensic Artifact Feathers
// Copyright 2026 Feathercore Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelforensics/feathercore

package correlation

import (
	"sort"
	"time"
)

// DefaultWindowMinutes is the default temporal-anchor window (§4.4).
const DefaultWindowMinutes = 180

// Anchor is a time-adjacent cluster of records belonging to one identity
// (§3). It is transient: it exists only within the Match Builder, which
// consumes it immediately into a Match.
type Anchor struct {
	Start   time.Time
	End     time.Time
	Records []*Record
}

// ClusterAnchors implements §4.4: Temporal Anchor Clusterer.
//
//  1. Partition records into timestamped and non-timestamped.
//  2. Stable-sort the timestamped ones ascending.
//  3. Linear scan, opening a new anchor whenever the gap to the open
//     anchor's end exceeds windowMinutes.
//  4. Emit one additional anchor for the no-timestamp records, anchored at
//     `now`.
//
// Equal timestamps always stay in the current anchor (tie-breaking rule).
func ClusterAnchors(records []*Record, windowMinutes int, now time.Time) []Anchor {
	if windowMinutes <= 0 {
		windowMinutes = DefaultWindowMinutes
	}
	window := time.Duration(windowMinutes) * time.Minute

	var timestamped, untimestamped []*Record
	for _, r := range records {
		if r.Timestamp != nil {
			timestamped = append(timestamped, r)
		} else {
			untimestamped = append(untimestamped, r)
		}
	}

	sort.SliceStable(timestamped, func(i, j int) bool {
		return timestamped[i].Timestamp.Before(*timestamped[j].Timestamp)
	})

	var anchors []Anchor
	var current *Anchor

	for _, r := range timestamped {
		ts := *r.Timestamp
		if current == nil {
			current = &Anchor{Start: ts, End: ts, Records: []*Record{r}}
			continue
		}
		if ts.Equal(current.End) || ts.Sub(current.End) <= window {
			current.Records = append(current.Records, r)
			if ts.After(current.End) {
				current.End = ts
			}
			continue
		}
		anchors = append(anchors, *current)
		current = &Anchor{Start: ts, End: ts, Records: []*Record{r}}
	}
	if current != nil {
		anchors = append(anchors, *current)
	}

	if len(untimestamped) > 0 {
		anchors = append(anchors, Anchor{Start: now, End: now, Records: untimestamped})
	}

	return anchors
}
