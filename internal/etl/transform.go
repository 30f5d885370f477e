package etl

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ── Transformer ────────────────────────────────────────────
// Transformers reshape records in-flight between source and destination.
// Each takes a record and returns it (mutated in place) or an error that
// rejects the record. Chains hold no cross-record state, so one chain may
// be shared by concurrent readers as long as each record is owned by one.
//
// Pattern: Benthos processor chain.

// Transformer processes a single record.
type Transformer interface {
	Transform(Record) (Record, error)
}

// TransformerFunc adapts a plain function to the Transformer interface.
type TransformerFunc func(Record) (Record, error)

func (f TransformerFunc) Transform(r Record) (Record, error) { return f(r) }

// namedStep is implemented by transforms that label their failures.
type namedStep interface {
	StepName() string
}

// ── Projection ─────────────────────────────────────────────

// FieldRule copies the value found at Path to the top-level Field.
type FieldRule struct {
	Path  string `yaml:"path" json:"path"`
	Field string `yaml:"field" json:"field"`
}

// ProjectTransform exposes nested values as top-level fields.
type ProjectTransform struct {
	Rules []FieldRule
}

// NewProjectTransform validates the rule list up front so a bad path is a
// configuration error rather than a failure on the first record.
func NewProjectTransform(rules ...FieldRule) (*ProjectTransform, error) {
	for _, rule := range rules {
		if _, err := SplitPath(rule.Path); err != nil {
			return nil, fmt.Errorf("projection to %q: %w", rule.Field, err)
		}
		if rule.Field == "" {
			return nil, &PathError{Path: rule.Path, Err: ErrInvalidPath, Reason: "projection has an empty target field"}
		}
	}
	return &ProjectTransform{Rules: rules}, nil
}

func (t *ProjectTransform) StepName() string { return "project" }

// Transform resolves every rule against the record as it arrived, then
// assigns. Rules cannot see each other's output, and a failure leaves the
// record untouched.
func (t *ProjectTransform) Transform(r Record) (Record, error) {
	values := make([]any, len(t.Rules))
	for i, rule := range t.Rules {
		v, err := Lookup(r.Data, rule.Path)
		if err != nil {
			return r, err
		}
		values[i] = v
	}
	for i, rule := range t.Rules {
		r.Data[rule.Field] = values[i]
	}
	return r, nil
}

// ── Pruning ────────────────────────────────────────────────

// PruneTransform deletes top-level fields. A missing field is logged and skipped.
type PruneTransform struct {
	Fields []string
	logger *zap.Logger
}

// NewPruneTransform builds a pruner. A nil logger discards warnings.
func NewPruneTransform(logger *zap.Logger, fields ...string) *PruneTransform {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PruneTransform{Fields: fields, logger: logger}
}

func (t *PruneTransform) StepName() string { return "prune" }

func (t *PruneTransform) Transform(r Record) (Record, error) {
	for _, f := range t.Fields {
		if _, ok := r.Data[f]; !ok {
			t.logger.Warn("field to prune is not present in the record",
				zap.String("field", f),
				zap.String("record_key", r.Key()),
			)
			continue
		}
		delete(r.Data, f)
	}
	return r, nil
}

// ── Partition stamping ─────────────────────────────────────

// PartitionDateLayout is the calendar format of partition keys.
const PartitionDateLayout = "2006-01-02"

// PartitionTransform sets partition_date on every record.
// The date is checked per record so a malformed value fails in the same
// channel as other record errors.
type PartitionTransform struct {
	PartitionDate string
}

func NewPartitionTransform(partitionDate string) *PartitionTransform {
	return &PartitionTransform{PartitionDate: partitionDate}
}

func (t *PartitionTransform) StepName() string { return "partition" }

func (t *PartitionTransform) Transform(r Record) (Record, error) {
	if _, err := parseDay(t.PartitionDate); err != nil {
		return r, fmt.Errorf("%w: %q", ErrBadPartitionDate, t.PartitionDate)
	}
	r.Data["partition_date"] = t.PartitionDate
	return r, nil
}

// parseDay parses a YYYY-MM-DD string strictly: the value must round-trip.
func parseDay(s string) (time.Time, error) {
	d, err := time.Parse(PartitionDateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	if d.Format(PartitionDateLayout) != s {
		return time.Time{}, fmt.Errorf("non-canonical date %q", s)
	}
	return d, nil
}

// ── Chain ──────────────────────────────────────────────────

// StepsConfig is the static per-deployment transform configuration.
type StepsConfig struct {
	Projections []FieldRule `yaml:"projections" json:"projections"`
	Prune       []string    `yaml:"prune" json:"prune"`
}

// BuildChain assembles the fixed-order chain: project, prune, stamp.
func BuildChain(cfg StepsConfig, partitionDate string, logger *zap.Logger) ([]Transformer, error) {
	var ts []Transformer
	if len(cfg.Projections) > 0 {
		p, err := NewProjectTransform(cfg.Projections...)
		if err != nil {
			return nil, err
		}
		ts = append(ts, p)
	}
	if len(cfg.Prune) > 0 {
		ts = append(ts, NewPruneTransform(logger, cfg.Prune...))
	}
	ts = append(ts, NewPartitionTransform(partitionDate))
	return ts, nil
}

// ApplyTransformers runs a chain of transformers on a record.
// The first failure stops the chain and is attributed to the record's key.
func ApplyTransformers(r Record, ts []Transformer) (Record, error) {
	for _, t := range ts {
		key := r.Key()
		out, err := t.Transform(r)
		if err != nil {
			step := ""
			if n, ok := t.(namedStep); ok {
				step = n.StepName()
			}
			return r, &RecordError{Key: key, Step: step, Err: err}
		}
		r = out
	}
	return r, nil
}
