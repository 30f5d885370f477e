package etl

import (
	"context"
	"fmt"
)

// ── Destination ────────────────────────────────────────────
// A Destination writes validated records into the analytical store.
// Implementations live in internal/dbclient.
//
// Pattern: Singer target protocol.

// WriteMode determines how records are written to the destination.
type WriteMode string

const (
	WriteMerge   WriteMode = "merge"   // upsert on the schema's primary key
	WriteReplace WriteMode = "replace" // delete the batch's partitions, insert fresh
	WriteAppend  WriteMode = "append"  // insert without touching existing rows
)

// ParseWriteMode validates a configured mode; empty means merge.
func ParseWriteMode(s string) (WriteMode, error) {
	switch WriteMode(s) {
	case "", WriteMerge:
		return WriteMerge, nil
	case WriteReplace, WriteAppend:
		return WriteMode(s), nil
	}
	return "", fmt.Errorf("unknown write mode %q", s)
}

// Destination writes records to a target system.
type Destination interface {
	Write(ctx context.Context, table string, schema *Schema, records []Record, mode WriteMode) (int, error)
	Close() error
}

// Pinger is implemented by destinations that can check their connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PartitionsOf returns the distinct partition dates of a batch, in first-seen order.
func PartitionsOf(records []Record) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range records {
		p, _ := r.Data["partition_date"].(string)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
