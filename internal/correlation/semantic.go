// Feathercore - Identity Correlation Engine for Forensic Artifact Feathers
// Copyright 2026 Feathercore Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelforensics/feathercore

package correlation

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/kestrelforensics/feathercore/internal/logging"
	"github.com/kestrelforensics/feathercore/internal/metrics"
)

// semanticBatchSize is §4.10 step 1's batch ceiling.
const semanticBatchSize = 10_000

// SemanticField is one entry of a match's consolidated semantic_data
// object, keyed "<feather_id>.<field>" (§4.10 step 2).
type SemanticField struct {
	SemanticValue  string  `json:"semantic_value"`
	TechnicalValue string  `json:"technical_value"`
	Description    string  `json:"description"`
	Category       string  `json:"category"`
	Confidence     float64 `json:"confidence"`
	RuleName       string  `json:"rule_name"`
	FeatherID      string  `json:"feather_id"`
}

// SemanticMetadata summarizes one identity's mapping pass.
type SemanticMetadata struct {
	MappingsApplied int    `json:"mappings_applied"`
	MappingsCount   int    `json:"mappings_count"`
	EngineType      string `json:"engine_type"`
	Error           string `json:"error,omitempty"`
}

// SemanticData is the full column value stored per match. Its on-disk shape
// (§4.10 step 2) is a flat object keyed by "<feather_id>.<field>", with
// "_metadata" as a sibling key rather than a wrapper — see MarshalJSON.
type SemanticData struct {
	Fields   map[string]SemanticField
	Metadata SemanticMetadata
}

// MarshalJSON flattens Fields to top-level keys alongside "_metadata",
// producing {<feather_id>.<field>: {...}, ..., "_metadata": {...}} instead of
// nesting every mapping under a "fields" wrapper key.
func (d SemanticData) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Fields)+1)
	for key, field := range d.Fields {
		out[key] = field
	}
	out["_metadata"] = d.Metadata
	return json.Marshal(out)
}

// Mapper applies domain semantic rules to one identity's technical field
// values. A real implementation is an external collaborator (a rules
// engine, a lookup service); this package only defines the seam and the
// fallback used when none is configured or the breaker is open.
type Mapper interface {
	// Map returns one SemanticField per "<feather_id>.<field>" key that a
	// rule matched. It must not mutate application, path, or matchID.
	Map(ctx context.Context, application, path string, fields map[string]Value) (map[string]SemanticField, error)
}

// NoopMapper applies no rules; used when no Mapper is configured.
type NoopMapper struct{}

// Map always returns an empty result.
func (NoopMapper) Map(context.Context, string, string, map[string]Value) (map[string]SemanticField, error) {
	return map[string]SemanticField{}, nil
}

// MatchStore is the narrow persistence seam the post-phase needs from
// internal/resultstore, kept here as an interface so this package never
// imports resultstore (resultstore already imports correlation for Match).
type MatchStore interface {
	// FetchMatchBatch returns up to semanticBatchSize match rows for
	// executionID ordered by match_id, starting after afterMatchID.
	FetchMatchBatch(ctx context.Context, executionID int64, afterMatchID string, limit int) ([]MatchRowDTO, error)
	// UpdateSemanticData writes the consolidated semantic_data_json for one
	// match.
	UpdateSemanticData(ctx context.Context, matchID string, semanticDataJSON string) error
}

// MatchRowDTO is the resultstore-facing row shape the post-phase reads and
// regroups; resultstore.Store constructs these directly from its own SQL
// scans so this package never needs database/sql.
type MatchRowDTO struct {
	MatchID            string
	MatchedApplication string
	MatchedFilePath    string
	FeatherRecordsJSON []byte
}

// mapperRateLimit bounds calls into the external semantic-mapping
// integration; a rules engine or lookup service behind Mapper is assumed to
// have its own request ceiling.
const mapperRateLimit = 50 // requests/sec

// PostPhase implements §4.10: the Identity-Semantic Post-Phase.
type PostPhase struct {
	Store   MatchStore
	Mapper  Mapper
	Breaker *gobreaker.CircuitBreaker[map[string]SemanticField]
	Limiter *rate.Limiter
	Tracker interface {
		ReportDatabaseQueryStart(description string)
		ReportDatabaseQueryProgress(processed, total int)
		ReportDatabaseQueryComplete()
	}
	EngineType string
}

// NewPostPhase wraps mapper in a circuit breaker using the same
// gobreaker settings idiom the rest of the ecosystem uses for flaky
// external integrations: open after 5 consecutive failures, half-open
// retry after 30s. Calls are additionally rate-limited so one identity
// group's burst can't overrun whatever is behind Mapper.
func NewPostPhase(store MatchStore, mapper Mapper, engineType string) *PostPhase {
	if mapper == nil {
		mapper = NoopMapper{}
	}

	settings := gobreaker.Settings{
		Name:        "identity-semantic-mapper",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("semantic mapper circuit breaker state change")
			metrics.SetSemanticBreakerOpen(to == gobreaker.StateOpen)
		},
	}

	return &PostPhase{
		Store:      store,
		Mapper:     mapper,
		Breaker:    gobreaker.NewCircuitBreaker[map[string]SemanticField](settings),
		Limiter:    rate.NewLimiter(rate.Limit(mapperRateLimit), mapperRateLimit),
		EngineType: engineType,
	}
}

// Healthy reports whether the breaker currently allows calls, the §4.10
// precondition "(b) the semantic integration reports healthy".
func (p *PostPhase) Healthy() bool {
	return p.Breaker.State() != gobreaker.StateOpen
}

// Run executes the post-phase for one completed execution. Enabled must be
// checked by the caller (configuration precondition (a)); Run itself only
// checks precondition (b).
func (p *PostPhase) Run(ctx context.Context, executionID int64) error {
	if !p.Healthy() {
		logging.Warn().Int64("execution_id", executionID).Msg("semantic post-phase skipped: integration unhealthy")
		return nil
	}

	if p.Tracker != nil {
		p.Tracker.ReportDatabaseQueryStart("identity-semantic post-phase")
	}

	afterMatchID := ""
	processed := 0

	for {
		rows, err := p.Store.FetchMatchBatch(ctx, executionID, afterMatchID, semanticBatchSize)
		if err != nil {
			logging.Error().Err(err).Int64("execution_id", executionID).Msg("semantic post-phase aborted: batch fetch failed")
			return fmt.Errorf("fetch match batch: %w", err)
		}
		if len(rows) == 0 {
			break
		}

		groups := groupByIdentity(rows)
		for key, group := range groups {
			p.applyToGroup(ctx, key, group)
		}

		processed += len(rows)
		afterMatchID = rows[len(rows)-1].MatchID

		if p.Tracker != nil {
			p.Tracker.ReportDatabaseQueryProgress(processed, 0)
		}
	}

	if p.Tracker != nil {
		p.Tracker.ReportDatabaseQueryComplete()
	}
	return nil
}

// identityGroupKey groups matches the same way §4.10 step 2 describes:
// by matched_application/matched_file_path.
type identityGroupKey struct {
	application string
	path        string
}

func groupByIdentity(rows []MatchRowDTO) map[identityGroupKey][]MatchRowDTO {
	groups := map[identityGroupKey][]MatchRowDTO{}
	for _, r := range rows {
		key := identityGroupKey{application: r.MatchedApplication, path: r.MatchedFilePath}
		groups[key] = append(groups[key], r)
	}
	return groups
}

// applyToGroup runs the mapper once per identity group, then writes the
// consolidated result to every match in the group (§4.10 step 2-3).
func (p *PostPhase) applyToGroup(ctx context.Context, key identityGroupKey, rows []MatchRowDTO) {
	fields, err := p.mapOnce(ctx, key, rows)

	var data SemanticData
	if err != nil {
		data = SemanticData{
			Fields: map[string]SemanticField{},
			Metadata: SemanticMetadata{
				EngineType: p.EngineType,
				Error:      err.Error(),
			},
		}
	} else {
		data = SemanticData{
			Fields: fields,
			Metadata: SemanticMetadata{
				MappingsApplied: len(fields),
				MappingsCount:   len(fields),
				EngineType:      p.EngineType,
			},
		}
		metrics.RecordSemanticMappingsApplied(p.EngineType, len(fields))
	}

	payload, marshalErr := json.Marshal(data)
	if marshalErr != nil {
		logging.Error().Err(marshalErr).Msg("marshal semantic_data failed, skipping group")
		return
	}

	for _, row := range rows {
		if updateErr := p.Store.UpdateSemanticData(ctx, row.MatchID, string(payload)); updateErr != nil {
			// Per-match write failure: log it and continue with the
			// remaining matches rather than abort the whole post-phase. (The
			// _metadata.error sentinel above covers mapper failures; a failed
			// write is not retried.)
			logging.Error().Err(updateErr).Str("match_id", row.MatchID).Msg("failed to write semantic_data for match")
		}
	}
}

func (p *PostPhase) mapOnce(ctx context.Context, key identityGroupKey, rows []MatchRowDTO) (map[string]SemanticField, error) {
	fields := map[string]Value{}
	for _, row := range rows {
		if len(row.FeatherRecordsJSON) == 0 {
			continue
		}
		var flattened map[string][]map[string]any
		if err := json.Unmarshal(row.FeatherRecordsJSON, &flattened); err != nil {
			continue
		}
		for featherID, records := range flattened {
			for _, rec := range records {
				for field, v := range rec {
					fields[featherID+"."+field] = StringValue(fmt.Sprint(v))
				}
			}
		}
	}

	if p.Limiter != nil {
		if err := p.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	return p.Breaker.Execute(func() (map[string]SemanticField, error) {
		return p.Mapper.Map(ctx, key.application, key.path, fields)
	})
}
