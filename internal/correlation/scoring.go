// Feathercore - Identity Correlation Engine for Forensic Artifact Feathers
// Copyright 2026 Feathercore Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelforensics/feathercore

package correlation

import (
	"github.com/kestrelforensics/feathercore/internal/logging"
)

// ScoreResult is what a Scorer produces for one match.
type ScoreResult struct {
	Score          float64
	Interpretation string
	Breakdown      map[string]float64
	ScoringMode    string
	// Weighted is non-nil only when a central score configuration manager
	// (as opposed to the fallback) produced the result.
	Weighted *WeightedScore
}

// Scorer implements §4.6 Scoring: a pluggable score computation delegated
// to a central score configuration manager, with graceful fallback.
type Scorer interface {
	Score(m *Match, totalFeathers int, wingConfig *WingConfig, caseID string) ScoreResult
}

// ConfidenceThresholds maps score bands to a confidence category, used by
// the Match Builder to set Match.ConfidenceCategory for every scorer.
type ConfidenceThresholds struct {
	Critical float64
	High     float64
	Medium   float64
	Low      float64
}

// DefaultConfidenceThresholds mirrors common forensic-triage banding.
var DefaultConfidenceThresholds = ConfidenceThresholds{Critical: 0.9, High: 0.7, Medium: 0.5, Low: 0.25}

func (t ConfidenceThresholds) interpret(score float64) string {
	switch {
	case score >= t.Critical:
		return "Critical"
	case score >= t.High:
		return "High"
	case score >= t.Medium:
		return "Medium"
	case score >= t.Low:
		return "Low"
	default:
		return "Minimal"
	}
}

// ScoreConfigManager is the central scoring backend referenced by §4.6.
// Implementations may consult case-specific weights; it is intentionally
// a narrow interface so a caller's richer scoring engine can be adapted to
// it without this package depending on that engine's concrete types.
type ScoreConfigManager interface {
	// ComputeScore returns a weighted score in [0,1] plus a breakdown of
	// per-feather contributions. An error here is never fatal: the
	// ManagedScorer catches it and falls back to FallbackScorer.
	ComputeScore(m *Match, wingConfig *WingConfig, caseID string) (score float64, breakdown map[string]float64, err error)
	// InterpretScore classifies a score into a confidence category.
	InterpretScore(score float64) string
	// Enabled reports whether the manager should be consulted at all.
	Enabled() bool
}

// ManagedScorer delegates to a ScoreConfigManager, falling back to
// FallbackScorer when the manager is disabled or errors (§4.6: "Scoring
// errors are logged, never fatal").
type ManagedScorer struct {
	Manager  ScoreConfigManager
	Fallback FallbackScorer
}

// Score implements Scorer.
func (s ManagedScorer) Score(m *Match, totalFeathers int, wingConfig *WingConfig, caseID string) ScoreResult {
	if s.Manager == nil || !s.Manager.Enabled() {
		return s.Fallback.Score(m, totalFeathers, wingConfig, caseID)
	}

	score, breakdown, err := s.Manager.ComputeScore(m, wingConfig, caseID)
	if err != nil {
		logging.Warn().Err(err).Str("match_id", m.MatchID).Msg("scoring manager failed, falling back to feather-coverage ratio")
		return s.Fallback.Score(m, totalFeathers, wingConfig, caseID)
	}

	interpretation := s.Manager.InterpretScore(score)
	return ScoreResult{
		Score:          score,
		Interpretation: interpretation,
		Breakdown:      breakdown,
		ScoringMode:    "managed",
		Weighted: &WeightedScore{
			Score:          score,
			Interpretation: interpretation,
			Breakdown:      breakdown,
			ScoringMode:    "managed",
		},
	}
}

// FallbackScorer implements the §4.6 fallback: feather-coverage ratio with
// percentage-banded interpretation labels.
type FallbackScorer struct{}

// Score implements Scorer.
func (FallbackScorer) Score(m *Match, totalFeathers int, _ *WingConfig, _ string) ScoreResult {
	var score float64
	if totalFeathers == 0 {
		score = 0.5
	} else {
		score = float64(m.FeatherCount) / float64(totalFeathers)
	}

	var interpretation string
	switch {
	case score >= 0.80:
		interpretation = "Strong Match"
	case score >= 0.50:
		interpretation = "Good Match"
	case score >= 0.25:
		interpretation = "Partial Match"
	default:
		interpretation = "Weak Match"
	}

	return ScoreResult{
		Score:          score,
		Interpretation: interpretation,
		ScoringMode:    "simple_count",
	}
}
