// Feathercore - Identity Correlation Engine for Forensic Artifact Feathers
// Copyright 2026 Feathercore Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelforensics/feathercore

package correlation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
)

type fakeMatchStore struct {
	mu      sync.Mutex
	rows    []MatchRowDTO
	updates map[string]string
	batches int
}

func newFakeMatchStore(rows []MatchRowDTO) *fakeMatchStore {
	return &fakeMatchStore{rows: rows, updates: map[string]string{}}
}

func (s *fakeMatchStore) FetchMatchBatch(_ context.Context, _ int64, afterMatchID string, limit int) ([]MatchRowDTO, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches++
	if s.batches > 1 {
		return nil, nil
	}
	if limit < len(s.rows) {
		return s.rows[:limit], nil
	}
	return s.rows, nil
}

func (s *fakeMatchStore) UpdateSemanticData(_ context.Context, matchID string, semanticDataJSON string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates[matchID] = semanticDataJSON
	return nil
}

type fakeMapper struct {
	calls int
	err   error
}

func (m *fakeMapper) Map(_ context.Context, application, path string, fields map[string]Value) (map[string]SemanticField, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return map[string]SemanticField{
		"f1.field": {SemanticValue: "known-good", RuleName: "test-rule", FeatherID: "f1"},
	}, nil
}

func TestSemanticDataMarshalJSONFlattensFieldsToTopLevel(t *testing.T) {
	data := SemanticData{
		Fields: map[string]SemanticField{
			"f1.field": {SemanticValue: "known-good", RuleName: "test-rule", FeatherID: "f1"},
		},
		Metadata: SemanticMetadata{MappingsApplied: 1, MappingsCount: 1, EngineType: "identity_based"},
	}

	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := decoded["fields"]; ok {
		t.Fatalf("expected no top-level 'fields' wrapper key, got one: %s", raw)
	}
	if _, ok := decoded["f1.field"]; !ok {
		t.Fatalf("expected 'f1.field' as a top-level key, got: %s", raw)
	}
	if _, ok := decoded["_metadata"]; !ok {
		t.Fatalf("expected '_metadata' as a top-level key, got: %s", raw)
	}
}

func TestNoopMapperReturnsEmptyResult(t *testing.T) {
	fields, err := (NoopMapper{}).Map(context.Background(), "app", "path", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fields) != 0 {
		t.Fatalf("expected empty result, got %v", fields)
	}
}

func TestGroupByIdentityGroupsByApplicationAndPath(t *testing.T) {
	rows := []MatchRowDTO{
		{MatchID: "m1", MatchedApplication: "chrome", MatchedFilePath: `C:\a.exe`},
		{MatchID: "m2", MatchedApplication: "chrome", MatchedFilePath: `C:\a.exe`},
		{MatchID: "m3", MatchedApplication: "firefox", MatchedFilePath: `C:\b.exe`},
	}

	groups := groupByIdentity(rows)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	key := identityGroupKey{application: "chrome", path: `C:\a.exe`}
	if len(groups[key]) != 2 {
		t.Fatalf("expected 2 rows in chrome group, got %d", len(groups[key]))
	}
}

func TestPostPhaseRunAppliesMapperAndWritesBackSemanticData(t *testing.T) {
	rows := []MatchRowDTO{
		{
			MatchID:            "m1",
			MatchedApplication: "chrome",
			MatchedFilePath:    `C:\a.exe`,
			FeatherRecordsJSON: []byte(`{"f1":[{"field":"value"}]}`),
		},
	}
	store := newFakeMatchStore(rows)
	mapper := &fakeMapper{}
	phase := NewPostPhase(store, mapper, "identity_based")

	if err := phase.Run(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mapper.calls != 1 {
		t.Fatalf("expected mapper to be called once, got %d", mapper.calls)
	}
	payload, ok := store.updates["m1"]
	if !ok {
		t.Fatalf("expected semantic_data written for m1")
	}
	if payload == "" {
		t.Fatalf("expected non-empty semantic_data payload")
	}
}

func TestPostPhaseRunSkippedWhenBreakerOpen(t *testing.T) {
	store := newFakeMatchStore(nil)
	mapper := &fakeMapper{err: errors.New("downstream unavailable")}
	phase := NewPostPhase(store, mapper, "identity_based")

	for i := 0; i < 5; i++ {
		phase.Breaker.Execute(func() (map[string]SemanticField, error) {
			return nil, errors.New("downstream unavailable")
		})
	}

	if phase.Healthy() {
		t.Fatalf("expected breaker to be open after consecutive failures")
	}

	if err := phase.Run(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.updates) != 0 {
		t.Fatalf("expected no writes while breaker is open, got %d", len(store.updates))
	}
}

func TestPostPhaseApplyToGroupWritesErrorSentinelOnMapperFailure(t *testing.T) {
	rows := []MatchRowDTO{{MatchID: "m1", MatchedApplication: "chrome", MatchedFilePath: `C:\a.exe`}}
	store := newFakeMatchStore(nil)
	mapper := &fakeMapper{err: errors.New("rule lookup failed")}
	phase := NewPostPhase(store, mapper, "identity_based")

	phase.applyToGroup(context.Background(), identityGroupKey{application: "chrome", path: `C:\a.exe`}, rows)

	payload, ok := store.updates["m1"]
	if !ok {
		t.Fatalf("expected an error-sentinel write for m1")
	}
	if payload == "" {
		t.Fatalf("expected non-empty payload even on mapper failure")
	}
}

func TestNewPostPhaseDefaultsToNoopMapperWhenNil(t *testing.T) {
	phase := NewPostPhase(newFakeMatchStore(nil), nil, "identity_based")
	if _, ok := phase.Mapper.(NoopMapper); !ok {
		t.Fatalf("expected NoopMapper default, got %T", phase.Mapper)
	}
}
