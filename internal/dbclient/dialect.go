package dbclient

import (
	"fmt"
	"strings"

	"mdjira/internal/domain"
)

// dialect captures the SQL differences between supported destinations.
type dialect struct {
	driver      domain.DestinationDriver
	types       map[string]string // etl field type → column type
	quoteChar   string
	numbered    bool // $1, $2 placeholders instead of ?
	upsertStyle string
}

const (
	upsertOnConflict   = "on_conflict"
	upsertDuplicateKey = "duplicate_key"
)

var dialects = map[domain.DestinationDriver]dialect{
	domain.DestinationDriverDuckDB: {
		driver:      domain.DestinationDriverDuckDB,
		types:       map[string]string{"text": "VARCHAR", "json": "JSON", "timestamp": "TIMESTAMPTZ"},
		quoteChar:   `"`,
		upsertStyle: upsertOnConflict,
	},
	domain.DestinationDriverPostgres: {
		driver:      domain.DestinationDriverPostgres,
		types:       map[string]string{"text": "TEXT", "json": "JSONB", "timestamp": "TIMESTAMPTZ"},
		quoteChar:   `"`,
		numbered:    true,
		upsertStyle: upsertOnConflict,
	},
	domain.DestinationDriverSQLite: {
		driver:      domain.DestinationDriverSQLite,
		types:       map[string]string{"text": "TEXT", "json": "TEXT", "timestamp": "DATETIME"},
		quoteChar:   `"`,
		upsertStyle: upsertOnConflict,
	},
	domain.DestinationDriverMySQL: {
		driver:      domain.DestinationDriverMySQL,
		types:       map[string]string{"text": "VARCHAR(255)", "json": "JSON", "timestamp": "DATETIME(3)"},
		quoteChar:   "`",
		upsertStyle: upsertDuplicateKey,
	},
}

func dialectFor(driver domain.DestinationDriver) (dialect, error) {
	d, ok := dialects[driver]
	if !ok {
		return dialect{}, fmt.Errorf("no SQL dialect for driver %q", driver)
	}
	return d, nil
}

func (d dialect) quote(name string) string {
	return d.quoteChar + name + d.quoteChar
}

func (d dialect) quoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = d.quote(n)
	}
	return out
}

// placeholders returns n bind markers starting at position from (1-based).
func (d dialect) placeholders(from, n int) []string {
	out := make([]string, n)
	for i := range out {
		if d.numbered {
			out[i] = fmt.Sprintf("$%d", from+i)
		} else {
			out[i] = "?"
		}
	}
	return out
}

func (d dialect) columnType(fieldType string) string {
	if t, ok := d.types[fieldType]; ok {
		return t
	}
	return d.types["text"]
}

// createTable renders CREATE TABLE IF NOT EXISTS with the composite primary key.
func (d dialect) createTable(table string, cols []column, pk []string) string {
	defs := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		def := d.quote(c.name) + " " + d.columnType(c.typ)
		if c.required {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(d.quoteAll(pk), ", ")))
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", d.quote(table), strings.Join(defs, ",\n\t"))
}

// insert renders a single-row INSERT. With upsert set, conflicting rows on
// pk are overwritten column by column.
func (d dialect) insert(table string, cols []column, pk []string, upsert bool) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.quote(table), strings.Join(d.quoteAll(names), ", "), strings.Join(d.placeholders(1, len(cols)), ", "))
	if !upsert {
		return stmt
	}

	isKey := make(map[string]bool, len(pk))
	for _, k := range pk {
		isKey[k] = true
	}
	var sets []string
	for _, n := range names {
		if isKey[n] {
			continue
		}
		switch d.upsertStyle {
		case upsertDuplicateKey:
			sets = append(sets, fmt.Sprintf("%s = VALUES(%s)", d.quote(n), d.quote(n)))
		default:
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", d.quote(n), d.quote(n)))
		}
	}
	if d.upsertStyle == upsertDuplicateKey {
		return stmt + " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	}
	return stmt + fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(d.quoteAll(pk), ", "), strings.Join(sets, ", "))
}

// deletePartition renders the replace-mode delete of one partition.
func (d dialect) deletePartition(table string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = %s", d.quote(table), d.quote("partition_date"), d.placeholders(1, 1)[0])
}
