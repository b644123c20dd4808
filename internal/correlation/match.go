// Feathercore - Identity Correlation Engine for Forensic Artifact Feathers
// Copyright 2026 Feathercore Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelforensics/feathercore

package correlation

import (
	"hash/fnv"
	"strconv"
	"sync/atomic"
	"time"
)

// WeightedScore is the optional scoring-manager output embedded in a Match.
type WeightedScore struct {
	Score          float64
	Interpretation string
	Breakdown      map[string]float64
	ScoringMode    string
}

// Match is the externally visible correlation unit of §3. Exactly one
// Match is emitted per Anchor.
type Match struct {
	MatchID string
	Timestamp time.Time

	AnchorStart       time.Time
	AnchorEnd         time.Time
	AnchorRecordCount int

	// AnchorFeatherID and AnchorArtifactType describe the first feather
	// contributing to the anchor, resolved from FeatherRecords in
	// insertion order (see the Open Question recorded in DESIGN.md).
	AnchorFeatherID    string
	AnchorArtifactType string

	// FeatherRecords maps feather_id -> its deduplicated, ordered
	// contributing records for this match.
	FeatherRecords map[string][]*Record
	FeatherOrder   []string // insertion order of FeatherRecords keys
	FeatherCount   int

	// TimeSpreadSeconds is always 0 in identity mode; reserved for the
	// sibling time-window engine (§3, Open Question).
	TimeSpreadSeconds int

	MatchScore       float64
	ConfidenceScore  float64
	ConfidenceCategory string

	WeightedScore  *WeightedScore
	ScoreBreakdown map[string]float64

	MatchedApplication string
	MatchedFilePath     string

	SubIdentities    []SubIdentity
	HasSubIdentities bool
	SubIdentityCount int

	IsDuplicate   bool
	DuplicateInfo string

	// SemanticData is nil during correlation; populated by the post-phase.
	SemanticData map[string]any
}

// matchCounter is the monotone counter advancing globally across all
// identities processed by one wing (§4.5 step 4).
type matchCounter struct{ n uint64 }

func (c *matchCounter) next() uint64 { return atomic.AddUint64(&c.n, 1) }

// dedupHash implements the per-feather dedup key of §4.5 step 2 and the
// universal invariant of §8.2: hash(ts, name, path, feather_id). Per the
// Open Question in §9, this intentionally ignores every other field; a
// richer key was considered and rejected (see DESIGN.md).
func dedupHash(rawTimestamp, name, path, featherID string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(rawTimestamp))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(name))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(path))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(featherID))
	return h.Sum64()
}

// Builder implements §4.5: Match Builder & Deduplicator, plus §4.6 Scoring.
type Builder struct {
	ExecutionID   string
	TotalFeathers int
	Scorer        Scorer
	Confidence    ConfidenceThresholds

	counter matchCounter
	// DuplicatesPrevented counts records suppressed by the per-feather
	// dedup hash set, across every match this builder has produced.
	DuplicatesPrevented int
}

// NewBuilder constructs a Match Builder for one wing execution.
func NewBuilder(executionID string, totalFeathers int, scorer Scorer) *Builder {
	if scorer == nil {
		scorer = FallbackScorer{}
	}
	return &Builder{ExecutionID: executionID, TotalFeathers: totalFeathers, Scorer: scorer, Confidence: DefaultConfidenceThresholds}
}

// Build turns one Anchor belonging to one Identity into a Match.
func (b *Builder) Build(anchor Anchor, id *Identity, nowMicros func() int64, wingConfig *WingConfig, caseID string) *Match {
	grouped := map[string][]*Record{}
	var order []string
	seen := map[string]map[uint64]bool{}

	for _, r := range anchor.Records {
		if _, ok := grouped[r.FeatherID]; !ok {
			grouped[r.FeatherID] = nil
			order = append(order, r.FeatherID)
			seen[r.FeatherID] = map[uint64]bool{}
		}
		name := extractionName(r)
		path := extractionPath(r)
		key := dedupHash(r.RawTimestamp, name, path, r.FeatherID)
		if seen[r.FeatherID][key] {
			b.DuplicatesPrevented++
			continue
		}
		seen[r.FeatherID][key] = true
		grouped[r.FeatherID] = append(grouped[r.FeatherID], r)
	}

	featherCount := len(order)
	counter := b.counter.next()

	matchID := "match_e" + b.ExecutionID + "_" + strconv.FormatInt(nowMicros(), 10) +
		"_" + strconv.FormatUint(counter, 10) + "_" + strconv.Itoa(featherCount)

	m := &Match{
		MatchID:           matchID,
		Timestamp:         anchor.Start,
		AnchorStart:       anchor.Start,
		AnchorEnd:         anchor.End,
		AnchorRecordCount: len(anchor.Records),
		FeatherRecords:    grouped,
		FeatherOrder:      order,
		FeatherCount:      featherCount,
		TimeSpreadSeconds: 0,
		MatchedApplication: id.DisplayName,
		MatchedFilePath:     id.Path,
		SubIdentities:       id.SubIdentities(),
	}
	m.HasSubIdentities = len(m.SubIdentities) > 1
	m.SubIdentityCount = len(m.SubIdentities)

	if featherCount > 0 {
		// First feather observed in insertion order is authoritative; see
		// the anchor_feather_id Open Question resolution in DESIGN.md.
		m.AnchorFeatherID = order[0]
		if rows := grouped[order[0]]; len(rows) > 0 {
			m.AnchorArtifactType = rows[0].Table
		}
	}

	result := b.Scorer.Score(m, b.TotalFeathers, wingConfig, caseID)
	m.MatchScore = result.Score
	m.ConfidenceScore = result.Score
	m.ConfidenceCategory = b.Confidence.interpret(result.Score)
	if result.Weighted != nil {
		m.WeightedScore = result.Weighted
	}
	m.ScoreBreakdown = result.Breakdown

	return m
}

func extractionName(r *Record) string {
	for _, p := range nameFieldPatterns {
		if v := scanField(r, []string{p}); v != "" {
			return v
		}
	}
	return ""
}

func extractionPath(r *Record) string {
	for _, p := range pathFieldPatterns {
		if v := scanField(r, []string{p}); v != "" {
			return v
		}
	}
	return ""
}
