// Feathercore - Identity Correlation Engine for Forensic Artifact Feathers
// Copyright 2026 Feathercore Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelforensics/feathercore

// Package correlation implements the identity-based correlation core: it
// turns rows streamed out of feather databases into deduplicated, scored
// matches grouped by normalized identity and temporal proximity.
package correlation

import (
	"strconv"
	"time"
)

// ValueKind tags the dynamic type carried by a Value.
type ValueKind int

const (
	// KindNull marks an absent/NULL field.
	KindNull ValueKind = iota
	// KindString marks a text field.
	KindString
	// KindInt marks an integer field.
	KindInt
	// KindFloat marks a floating point field.
	KindFloat
	// KindBlob marks a raw byte field.
	KindBlob
)

// Value is a small closed sum type standing in for the untyped field values
// a feather row exposes. Source feathers are duck-typed maps; every record
// field is resolved into one of these four kinds once, at load time, instead
// of being re-inspected by substring heuristics on every access.
type Value struct {
	Kind ValueKind
	Str  string
	Int  int64
	Flt  float64
	Blob []byte
}

// String returns the best-effort string rendering of the value, used by the
// identity extractor and the glob-based identity filter.
func (v Value) String() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Flt, 'f', -1, 64)
	case KindBlob:
		return string(v.Blob)
	default:
		return ""
	}
}

// IsNull reports whether the value is the null/absent value.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// StringValue constructs a string-kind Value.
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// Record is the unit ingested by the core: an opaque field map plus the two
// reserved keys every row is tagged with at load time, FeatherID and Table.
// A record is created by the Feather Loader, consumed by the Identity
// Extractor, and then either discarded (pre-filter rejection, all-empty
// extraction) or embedded into exactly one Match.
type Record struct {
	FeatherID string
	Table     string
	Fields    map[string]Value
	// Timestamp is the resolved timestamp for this record, if any field
	// matched the configured timestamp-field patterns and parsed cleanly.
	Timestamp *time.Time
	// RawTimestamp is the original string form, kept for hashing and display
	// even when Timestamp is nil (unparseable).
	RawTimestamp string
}

// Get returns the named field, or the null Value if absent.
func (r *Record) Get(field string) Value {
	if r.Fields == nil {
		return Value{}
	}
	if v, ok := r.Fields[field]; ok {
		return v
	}
	return Value{}
}

