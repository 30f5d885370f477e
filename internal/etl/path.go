package etl

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ── Nested-Path Accessor ───────────────────────────────────
// Resolves dotted paths ("fields.customfield_10095", "changelog.histories.0.id")
// into decoded JSON. Missing data is always an error, never a nil default.

// Kind classifies a node met during path resolution.
type Kind int

const (
	KindNull Kind = iota
	KindMapping
	KindSequence
	KindScalar
)

func (k Kind) String() string {
	switch k {
	case KindMapping:
		return "mapping"
	case KindSequence:
		return "sequence"
	case KindScalar:
		return "scalar"
	default:
		return "null"
	}
}

// KindOf reports the variant of a decoded JSON value.
func KindOf(v any) Kind {
	switch v.(type) {
	case nil:
		return KindNull
	case map[string]any, Record:
		return KindMapping
	case []any, []map[string]any:
		return KindSequence
	default:
		return KindScalar
	}
}

// SplitPath checks a dotted path and returns its segments.
func SplitPath(path string) ([]string, error) {
	if path == "" {
		return nil, &PathError{Path: path, Err: ErrInvalidPath, Reason: "path must be a non-empty string"}
	}
	segments := strings.Split(path, ".")
	for _, seg := range segments {
		if seg == "" {
			return nil, &PathError{Path: path, Err: ErrInvalidPath, Reason: "empty path segment"}
		}
	}
	return segments, nil
}

// Lookup walks data along path and returns the value found there.
func Lookup(data any, path string) (any, error) {
	segments, err := SplitPath(path)
	if err != nil {
		var pe *PathError
		if errors.As(err, &pe) {
			pe.Record = renderRecord(unwrapRecord(data))
		}
		return nil, err
	}

	current := data
	if r, ok := current.(Record); ok {
		current = r.Data
	}
	for _, seg := range segments {
		switch KindOf(current) {
		case KindMapping:
			m := asMap(current)
			v, ok := m[seg]
			if !ok {
				return nil, missing(path, seg, data, "key not present")
			}
			current = v
		case KindSequence:
			items := asSlice(current)
			idx, err := strconv.Atoi(seg)
			if err != nil {
				return nil, missing(path, seg, data, "invalid list index")
			}
			if idx < 0 || idx >= len(items) {
				return nil, missing(path, seg, data, fmt.Sprintf("list index out of range (len %d)", len(items)))
			}
			current = items[idx]
		default:
			return nil, missing(path, seg, data, fmt.Sprintf("cannot descend into %s", KindOf(current)))
		}
	}
	return current, nil
}

func missing(path, seg string, data any, reason string) error {
	return &PathError{Path: path, Segment: seg, Record: renderRecord(unwrapRecord(data)), Err: ErrMissingPath, Reason: reason}
}

func unwrapRecord(data any) any {
	if r, ok := data.(Record); ok {
		return r.Data
	}
	return data
}

func asMap(v any) map[string]any {
	switch m := v.(type) {
	case map[string]any:
		return m
	case Record:
		return m.Data
	}
	return nil
}

func asSlice(v any) []any {
	switch s := v.(type) {
	case []any:
		return s
	case []map[string]any:
		out := make([]any, len(s))
		for i, m := range s {
			out[i] = m
		}
		return out
	}
	return nil
}
