// Feathercore - Identity Correlation Engine for Forensic Artifact Feathers
// Copyright 2026 Feathercore Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kestrelforensics/feathercore

package correlation

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // registers the "duckdb" sql driver

	"github.com/kestrelforensics/feathercore/internal/logging"
)

// systemTables are DuckDB/SQLite catalog tables never treated as feather
// content, mirroring the host's sqlite table-enumeration filtering.
var systemTables = map[string]bool{
	"sqlite_sequence": true,
	"sqlite_stat1":    true,
	"android_metadata": true,
}

// FeatherHandle opens one feather (an external, read-only SQLite-like
// container) by attaching it to an in-memory DuckDB connection through the
// sqlite_scanner extension, the same attach/detach idiom the codebase's
// Tautulli SQLite importer uses for its source database.
type FeatherHandle struct {
	FeatherID string
	db        *sql.DB
	alias     string
}

// OpenFeather attaches the feather at path under a unique alias and
// verifies it is reachable. The returned handle owns its own private
// in-memory DuckDB connection; feathers are opened read-only, one at a
// time, from the loader (§5).
func OpenFeather(ctx context.Context, featherID, path string) (*FeatherHandle, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb handle for feather %s: %w", featherID, err)
	}

	if err := loadSQLiteExtension(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load sqlite_scanner for feather %s: %w", featherID, err)
	}

	alias := "feather_" + sanitizeAlias(featherID)
	attachSQL := fmt.Sprintf("CALL sqlite_attach('%s', overwrite=true, sink='%s')", escapeSQLLiteral(path), alias)
	if _, err := db.ExecContext(ctx, attachSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("attach feather %s at %s: %w", featherID, path, err)
	}

	return &FeatherHandle{FeatherID: featherID, db: db, alias: alias}, nil
}

func loadSQLiteExtension(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		"INSTALL sqlite_scanner",
		"LOAD sqlite_scanner",
	}
	var lastErr error
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			lastErr = err
			continue
		}
		lastErr = nil
	}
	if lastErr != nil {
		// Fall back to a forced reinstall once, the same recovery path
		// the Tautulli importer uses when a cached extension is stale.
		if _, err := db.ExecContext(ctx, "FORCE INSTALL sqlite_scanner"); err != nil {
			return lastErr
		}
		if _, err := db.ExecContext(ctx, "LOAD sqlite_scanner"); err != nil {
			return err
		}
	}
	return nil
}

// Close detaches the feather and releases its connection. Best effort: a
// detach failure is logged, never returned, matching §4.2 "on SQL error,
// log and continue".
func (h *FeatherHandle) Close() {
	if h.db == nil {
		return
	}
	if _, err := h.db.Exec(fmt.Sprintf("DETACH DATABASE IF EXISTS %s", h.alias)); err != nil {
		logging.Warn().Err(err).Str("feather_id", h.FeatherID).Msg("detach feather failed")
	}
	if err := h.db.Close(); err != nil {
		logging.Warn().Err(err).Str("feather_id", h.FeatherID).Msg("close feather handle failed")
	}
}

// Tables enumerates the feather's non-system tables.
func (h *FeatherHandle) Tables(ctx context.Context) ([]string, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_catalog = ? ORDER BY table_name`, h.alias)
	if err != nil {
		return nil, fmt.Errorf("enumerate tables in feather %s: %w", h.FeatherID, err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if systemTables[strings.ToLower(name)] {
			continue
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// StreamTable reads every row of one table, injecting FeatherID and Table,
// and resolving a timestamp from the given patterns. On a SQL error the
// error is returned to the caller (a Feather Loader), which logs it and
// continues with the next table — one bad table never aborts the feather
// (§4.2).
func (h *FeatherHandle) StreamTable(ctx context.Context, table string, timestampPatterns []string, emit func(*Record)) error {
	rows, err := h.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s.%s", h.alias, table))
	if err != nil {
		return fmt.Errorf("query %s.%s: %w", h.alias, table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("read columns for %s.%s: %w", h.alias, table, err)
	}

	timestampCol := resolveTimestampColumn(cols, timestampPatterns)

	raw := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("scan row in %s.%s: %w", h.alias, table, err)
		}

		rec := &Record{FeatherID: h.FeatherID, Table: table, Fields: make(map[string]Value, len(cols))}
		for i, col := range cols {
			rec.Fields[col] = toValue(raw[i])
		}

		if timestampCol != "" {
			rec.RawTimestamp = rec.Get(timestampCol).String()
			if ts, ok := parseTimestamp(rec.RawTimestamp); ok {
				rec.Timestamp = &ts
			}
		}

		emit(rec)
	}
	return rows.Err()
}

func resolveTimestampColumn(cols []string, patterns []string) string {
	if len(patterns) == 0 {
		patterns = []string{"time", "date", "ts"}
	}
	for _, col := range cols {
		lower := strings.ToLower(col)
		for _, p := range patterns {
			if strings.Contains(lower, strings.ToLower(p)) {
				return col
			}
		}
	}
	return ""
}

var timestampLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func toValue(v any) Value {
	switch t := v.(type) {
	case nil:
		return Value{}
	case string:
		return Value{Kind: KindString, Str: t}
	case []byte:
		return Value{Kind: KindBlob, Blob: t}
	case int64:
		return Value{Kind: KindInt, Int: t}
	case int32:
		return Value{Kind: KindInt, Int: int64(t)}
	case float64:
		return Value{Kind: KindFloat, Flt: t}
	case float32:
		return Value{Kind: KindFloat, Flt: float64(t)}
	case time.Time:
		return Value{Kind: KindString, Str: t.Format(time.RFC3339)}
	case bool:
		if t {
			return Value{Kind: KindInt, Int: 1}
		}
		return Value{Kind: KindInt, Int: 0}
	default:
		return Value{Kind: KindString, Str: fmt.Sprintf("%v", t)}
	}
}

func sanitizeAlias(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func escapeSQLLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
