// Feathercore - Identity Correlation Engine for Forensic Artifact Feathers
// Copyright 2026 Feathercore Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelforensics/feathercore

package correlation

import (
	"regexp"
	"strings"
)

// ColumnHints names the feather-metadata columns that, when present, win
// over pattern-based field resolution for a given feather.
type ColumnHints struct {
	ApplicationColumn string
	PathColumn        string
	HashColumn        string
	// TimestampPatterns is an ordered list of field-name substrings that
	// identify a record's timestamp column family.
	TimestampPatterns []string
}

var (
	nameFieldPatterns = []string{"name", "executable", "process"}
	pathFieldPatterns = []string{"path", "location", "file"}
	hashFieldPatterns = []string{"hash", "sha", "md5"}
)

// trailingSuffixPattern matches a trailing version/date/ordinal suffix on a
// name: purely numeric, dotted-numeric, date-shaped, or "_N"/"-N".
var trailingSuffixPattern = regexp.MustCompile(`(?i)([_\-]?(?:\d{4}[-_]?\d{2}[-_]?\d{2}|\d+(?:\.\d+)*))$`)

// SubIdentity is one distinct full-name variant observed for an identity,
// sharing its base_name but carrying a distinguishing suffix.
type SubIdentity struct {
	FullName    string
	Suffix      string
	RecordCount int
}

// Identity groups every record that normalizes to the same identity key.
// It is created the first time extraction yields a key, mutated only by the
// Extractor, and released once the Match Builder has consumed it.
type Identity struct {
	IdentityKey string
	BaseName    string
	DisplayName string
	Path        string
	Hash        string
	Records     []*Record

	subIdentityOrder []string // (full_name|suffix) insertion order
	subIdentities     map[string]*SubIdentity
}

// SubIdentities returns the sub-identities in first-seen order.
func (id *Identity) SubIdentities() []SubIdentity {
	out := make([]SubIdentity, 0, len(id.subIdentityOrder))
	for _, key := range id.subIdentityOrder {
		out = append(out, *id.subIdentities[key])
	}
	return out
}

// Extraction is the result of pulling an (name, path, hash, id_type) tuple
// out of a record.
type Extraction struct {
	Name     string
	Path     string
	Hash     string
	IDType   string
	Filtered bool // true when every component is empty
}

// Extractor implements §4.1: Identity Extractor & Normalizer.
type Extractor struct {
	hintsByFeather map[string]ColumnHints
}

// NewExtractor builds an extractor from per-feather column hints, keyed by
// feather id. A feather absent from the map falls back to pattern scanning.
func NewExtractor(hints map[string]ColumnHints) *Extractor {
	if hints == nil {
		hints = map[string]ColumnHints{}
	}
	return &Extractor{hintsByFeather: hints}
}

// Extract pulls name/path/hash/id_type from a record. An extraction that
// finds nothing is reported via Extraction.Filtered, never as an error: per
// §4.1, "an all-empty extraction counts as 'filtered' for statistics but is
// never fatal".
func (e *Extractor) Extract(r *Record) Extraction {
	hints, hasHints := e.hintsByFeather[r.FeatherID]

	var name, path, hash string

	if hasHints && hints.ApplicationColumn != "" {
		name = r.Get(hints.ApplicationColumn).String()
	}
	if hasHints && hints.PathColumn != "" {
		path = r.Get(hints.PathColumn).String()
	}
	if hasHints && hints.HashColumn != "" {
		hash = r.Get(hints.HashColumn).String()
	}

	if name == "" {
		name = scanField(r, nameFieldPatterns)
	}
	if path == "" {
		path = scanField(r, pathFieldPatterns)
	}
	if hash == "" {
		hash = scanField(r, hashFieldPatterns)
	}

	idType := r.Table
	filtered := name == "" && path == "" && hash == ""

	return Extraction{Name: name, Path: path, Hash: hash, IDType: idType, Filtered: filtered}
}

// scanField returns the first field whose name contains one of the given
// (case-insensitive) substrings, preferring an exact case-insensitive match
// order as encountered in the field map. Map iteration order is
// unspecified in Go, so callers relying on a deterministic "first" match
// should supply column hints instead; this path is the pattern-based
// fallback only.
func scanField(r *Record, patterns []string) string {
	for field, v := range r.Fields {
		lower := strings.ToLower(field)
		for _, p := range patterns {
			if strings.Contains(lower, p) {
				return v.String()
			}
		}
	}
	return ""
}

// Normalize splits a raw name into (base_name, suffix) and builds the
// canonical identity key. Per §4.1: identity_key =
// lowercase(base_name) || '|' || lowercase(path) || '|' || lowercase(hash),
// with missing components elided but separators retained.
func Normalize(name, path, hash string) (baseName, suffix, identityKey string) {
	baseName, suffix = splitSuffix(name)
	identityKey = strings.ToLower(baseName) + "|" + strings.ToLower(path) + "|" + strings.ToLower(hash)
	return baseName, suffix, identityKey
}

func splitSuffix(name string) (base, suffix string) {
	loc := trailingSuffixPattern.FindStringIndex(name)
	if loc == nil || loc[0] == 0 {
		return name, ""
	}
	return name[:loc[0]], name[loc[0]:]
}

// Index builds the insertion-ordered identity_key -> Identity mapping of
// §4.3. It is single-threaded within one wing; cross-wing merging is the
// engine coordinator's responsibility.
type Index struct {
	order []string
	byKey map[string]*Identity
}

// NewIndex returns an empty identity index.
func NewIndex() *Index {
	return &Index{byKey: map[string]*Identity{}}
}

// Add extracts and normalizes a record, folding it into the identity it
// belongs to (creating one if this is the first time this key is seen).
// Returns false if the record's extraction was all-empty (filtered).
func (idx *Index) Add(extractor *Extractor, r *Record) bool {
	ext := extractor.Extract(r)
	if ext.Filtered {
		return false
	}

	baseName, suffix, key := Normalize(ext.Name, ext.Path, ext.Hash)

	id, ok := idx.byKey[key]
	if !ok {
		id = &Identity{
			IdentityKey:   key,
			BaseName:      baseName,
			DisplayName:   ext.Name,
			Path:          ext.Path,
			Hash:          ext.Hash,
			subIdentities: map[string]*SubIdentity{},
		}
		idx.byKey[key] = id
		idx.order = append(idx.order, key)
	}

	id.Records = append(id.Records, r)

	subKey := ext.Name + "|" + suffix
	sub, ok := id.subIdentities[subKey]
	if !ok {
		sub = &SubIdentity{FullName: ext.Name, Suffix: suffix}
		id.subIdentities[subKey] = sub
		id.subIdentityOrder = append(id.subIdentityOrder, subKey)
	}
	sub.RecordCount++

	return true
}

// Identities returns every identity in first-seen order.
func (idx *Index) Identities() []*Identity {
	out := make([]*Identity, 0, len(idx.order))
	for _, key := range idx.order {
		out = append(out, idx.byKey[key])
	}
	return out
}

// Len reports the number of distinct identities currently indexed.
func (idx *Index) Len() int { return len(idx.order) }
