package dbclient

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"mdjira/internal/domain"
	"mdjira/internal/etl"
)

// SQLWriter merge-writes issues into a database/sql destination.
// One Write call is one transaction: either the whole batch lands or none of it.
type SQLWriter struct {
	dialect dialect
	db      *sql.DB

	mu      sync.Mutex
	ensured map[string]bool // tables already created
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var _ etl.Pinger = (*SQLWriter)(nil)

// openSQLWriter opens a pool for driverName and wraps it.
func openSQLWriter(driver domain.DestinationDriver, driverName, dsn string) (etl.Destination, error) {
	if driver == domain.DestinationDriverDuckDB || driver == domain.DestinationDriverSQLite {
		if path := filepath.Dir(dsn); dsn != "" && path != "." {
			if err := os.MkdirAll(path, 0755); err != nil {
				return nil, fmt.Errorf("create destination directory: %w", err)
			}
		}
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driverName, err)
	}
	w, err := NewSQLWriter(driver, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return w, nil
}

// NewSQLWriter wraps an open pool. The writer owns db and closes it.
func NewSQLWriter(driver domain.DestinationDriver, db *sql.DB) (*SQLWriter, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	// Embedded engines take one writer at a time.
	if driver == domain.DestinationDriverDuckDB || driver == domain.DestinationDriverSQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(10 * time.Minute)
	}
	return &SQLWriter{dialect: d, db: db, ensured: make(map[string]bool)}, nil
}

// Ping verifies connectivity.
func (w *SQLWriter) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return w.db.PingContext(ctx)
}

// column is one schema field resolved for SQL.
type column struct {
	name     string
	typ      string
	required bool
}

func columnsOf(schema *etl.Schema) []column {
	cols := make([]column, len(schema.Fields))
	for i, f := range schema.Fields {
		cols[i] = column{name: f.Name, typ: f.Type, required: f.Required}
	}
	return cols
}

func (w *SQLWriter) Write(ctx context.Context, table string, schema *etl.Schema, records []etl.Record, mode etl.WriteMode) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	if !identRe.MatchString(table) {
		return 0, fmt.Errorf("invalid table name %q", table)
	}
	if len(schema.PrimaryKey) == 0 && mode == etl.WriteMerge {
		return 0, fmt.Errorf("merge write to %s needs a primary key", table)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	cols := columnsOf(schema)
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if !w.ensured[table] {
		if _, err := tx.ExecContext(ctx, w.dialect.createTable(table, cols, schema.PrimaryKey)); err != nil {
			return 0, fmt.Errorf("create table %s: %w", table, err)
		}
	}

	if mode == etl.WriteReplace {
		del := w.dialect.deletePartition(table)
		for _, p := range etl.PartitionsOf(records) {
			if _, err := tx.ExecContext(ctx, del, p); err != nil {
				return 0, fmt.Errorf("clear partition %s: %w", p, err)
			}
		}
	}

	stmt := w.dialect.insert(table, cols, schema.PrimaryKey, mode == etl.WriteMerge)
	written := 0
	for _, r := range records {
		args, err := rowValues(cols, r)
		if err != nil {
			return 0, fmt.Errorf("record %s: %w", r.Key(), err)
		}
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return 0, fmt.Errorf("write record %s: %w", r.Key(), err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	w.ensured[table] = true
	return written, nil
}

func (w *SQLWriter) Close() error {
	return w.db.Close()
}

// rowValues converts a record to bind arguments in column order.
// Nested values are stored as JSON text, timestamps as UTC time.Time.
func rowValues(cols []column, r etl.Record) ([]any, error) {
	args := make([]any, len(cols))
	for i, c := range cols {
		v, ok := r.Data[c.name]
		if !ok || v == nil {
			args[i] = nil
			continue
		}
		switch c.typ {
		case "json":
			b, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("encode %s: %w", c.name, err)
			}
			args[i] = string(b)
		case "timestamp":
			ts, err := toTime(v)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", c.name, err)
			}
			args[i] = ts.UTC()
		default:
			if s, ok := v.(string); ok {
				args[i] = s
			} else {
				args[i] = fmt.Sprint(v)
			}
		}
	}
	return args, nil
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		return etl.ParseTimestamp(t)
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp value %T", v)
}
