package etl

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ── Errors ─────────────────────────────────────────────────
// Record-level failures wrap one of the sentinels below so callers can
// classify them with errors.Is. Everything except a pruned-but-missing
// field is fatal to the record (or, for date arithmetic, to the run).

var (
	// ErrMissingPath: a key is absent, an index is out of range, a segment is
	// not an integer against a sequence, or the walk hit a scalar/null.
	ErrMissingPath = errors.New("missing path")

	// ErrInvalidPath: the path argument itself is unusable (empty, empty segment).
	ErrInvalidPath = errors.New("invalid path")

	// ErrBadPartitionDate is returned by the partition stamper.
	ErrBadPartitionDate = errors.New("bad partition date, should be YYYY-MM-DD")

	// ErrBadDateFormat is returned by date arithmetic and is fatal to the run.
	ErrBadDateFormat = errors.New("bad date format, should be YYYY-MM-DD")

	// ErrValidation wraps every record validator failure.
	ErrValidation = errors.New("record validation failed")

	// ErrEmptyCustomerID is the business-rule failure for customer_id.
	ErrEmptyCustomerID = errors.New("empty customer_id")
)

// PathError describes a failed nested-path resolution.
type PathError struct {
	Path    string
	Segment string
	Record  string // rendered record for diagnostics
	Err     error  // ErrMissingPath or ErrInvalidPath
	Reason  string
}

func (e *PathError) Error() string {
	msg := fmt.Sprintf("%s %q", e.Err, e.Path)
	if e.Segment != "" {
		msg += fmt.Sprintf(" at segment %q", e.Segment)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Record != "" {
		msg += " in record `" + e.Record + "`"
	}
	return msg
}

func (e *PathError) Unwrap() error { return e.Err }

// RecordError attributes a failure to a single record and transform step.
type RecordError struct {
	Key  string // business key ("MD-1"), or id when key is absent
	Step string
	Err  error
}

func (e *RecordError) Error() string {
	key := e.Key
	if key == "" {
		key = "<unknown>"
	}
	if e.Step == "" {
		return fmt.Sprintf("record %s: %v", key, e.Err)
	}
	return fmt.Sprintf("record %s: %s: %v", key, e.Step, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// ValidationError is returned by the record validator.
type ValidationError struct {
	Key    string
	Field  string
	Reason string
	Err    error // optional cause, e.g. ErrEmptyCustomerID
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
}

// Unwrap lets errors.Is match both ErrValidation and the specific cause.
func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrValidation, e.Err}
	}
	return []error{ErrValidation}
}

// renderRecord produces the diagnostic representation carried by errors.
// Large records are truncated so error strings stay loggable.
func renderRecord(v any) string {
	const max = 512
	b, err := json.Marshal(v)
	if err != nil {
		s := fmt.Sprintf("%v", v)
		if len(s) > max {
			return s[:max] + "..."
		}
		return s
	}
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
