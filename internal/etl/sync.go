package etl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ── SyncJob ────────────────────────────────────────────────
// Orchestrates: source.Read → transform chain → validator → dedupe → destination.Write.
//
// Pattern: Airbyte sync / Singer tap→target pipeline.

// RejectPolicy decides what a rejected record does to the run.
type RejectPolicy string

const (
	RejectSkip RejectPolicy = "skip" // report the record, write the rest
	RejectFail RejectPolicy = "fail" // fail the run before anything is written
)

// Run statuses.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusError   = "error"
	StatusRunning = "running"
)

// SyncJob holds the configuration of one partition run.
type SyncJob struct {
	ID            string       `json:"id"`
	PartitionDate string       `json:"partitionDate"`
	SourceCfg     SourceConfig `json:"sourceConfig"`
	Steps         StepsConfig  `json:"steps"`
	Table         string       `json:"table"`
	WriteMode     WriteMode    `json:"writeMode"`
	OnReject      RejectPolicy `json:"onReject"`
}

// Rejection is a record that failed the chain or the validator.
type Rejection struct {
	Key   string `json:"key"`
	Error string `json:"error"`
}

// SyncResult is the outcome of running a sync job.
type SyncResult struct {
	JobID         string        `json:"jobId"`
	PartitionDate string        `json:"partitionDate"`
	Status        string        `json:"status"`
	RowsRead      int           `json:"rowsRead"`
	RowsAccepted  int           `json:"rowsAccepted"`
	RowsRejected  int           `json:"rowsRejected"`
	RowsWritten   int           `json:"rowsWritten"`
	Rejections    []Rejection   `json:"rejections,omitempty"`
	Duration      time.Duration `json:"duration"`
	Error         string        `json:"error,omitempty"`
}

// ErrRejectedRecords is returned when OnReject is fail and any record was rejected.
var ErrRejectedRecords = errors.New("records rejected")

// ── Engine ─────────────────────────────────────────────────

// Engine runs sync jobs with one source and one destination.
type Engine struct {
	Source    Source
	Dest      Destination
	Validator *IssueValidator
	Logger    *zap.Logger
}

func (e *Engine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// RunSync executes a sync job end-to-end.
func (e *Engine) RunSync(ctx context.Context, job *SyncJob) (*SyncResult, error) {
	start := time.Now()
	result := &SyncResult{JobID: job.ID, PartitionDate: job.PartitionDate}
	fail := func(stage string, err error) (*SyncResult, error) {
		result.Status = StatusError
		result.Error = fmt.Sprintf("%s: %s", stage, err)
		result.Duration = time.Since(start)
		return result, fmt.Errorf("%s: %w", stage, err)
	}

	accepted, err := e.collect(ctx, job, result, 0)
	if err != nil {
		return fail("read", err)
	}

	if len(result.Rejections) > 0 && job.OnReject == RejectFail {
		return fail("validate", fmt.Errorf("%w: %d of %d (first: %s)",
			ErrRejectedRecords, len(result.Rejections), result.RowsRead, result.Rejections[0].Error))
	}

	// Merge key is (id, partition_date); the most recent update wins.
	accepted = DedupeLatest(accepted)

	mode := job.WriteMode
	if mode == "" {
		mode = WriteMerge
	}
	written, err := e.Dest.Write(ctx, job.Table, IssueSchema, accepted, mode)
	if err != nil {
		return fail("write", err)
	}

	result.RowsWritten = written
	result.Status = StatusSuccess
	if len(result.Rejections) > 0 {
		result.Status = StatusPartial
	}
	result.Duration = time.Since(start)
	e.logger().Info("sync finished",
		zap.String("job_id", job.ID),
		zap.String("partition_date", job.PartitionDate),
		zap.String("status", result.Status),
		zap.Int("rows_read", result.RowsRead),
		zap.Int("rows_rejected", result.RowsRejected),
		zap.Int("rows_written", written),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// Preview runs the read, transform and validate phases without writing.
// At most maxRows accepted records are returned.
func (e *Engine) Preview(ctx context.Context, job *SyncJob, maxRows int) ([]Record, *SyncResult, error) {
	result := &SyncResult{JobID: job.ID, PartitionDate: job.PartitionDate}
	records, err := e.collect(ctx, job, result, maxRows)
	if err != nil {
		result.Status = StatusError
		result.Error = err.Error()
		return nil, result, err
	}
	result.Status = StatusSuccess
	if len(result.Rejections) > 0 {
		result.Status = StatusPartial
	}
	return records, result, nil
}

// collect reads, transforms and validates every record of a job.
// Rejections are recorded on result; only run-fatal errors are returned.
func (e *Engine) collect(ctx context.Context, job *SyncJob, result *SyncResult, maxRows int) ([]Record, error) {
	window, err := WindowFor(job.PartitionDate)
	if err != nil {
		return nil, err
	}
	chain, err := BuildChain(job.Steps, job.PartitionDate, e.logger())
	if err != nil {
		return nil, fmt.Errorf("build transforms: %w", err)
	}
	validator := e.Validator
	if validator == nil {
		validator = NewIssueValidator()
	}

	e.logger().Info("fetching issues",
		zap.String("updated_from", window.Lower()),
		zap.String("updated_to", window.Upper()),
		zap.String("partition_date", job.PartitionDate),
	)

	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	recCh, errCh := e.Source.Read(readCtx, ReadRequest{Config: job.SourceCfg, Window: window})

	var accepted []Record
	for rec := range recCh {
		result.RowsRead++
		if err := e.accept(rec, chain, validator); err != nil {
			result.RowsRejected++
			result.Rejections = append(result.Rejections, Rejection{Key: rec.Key(), Error: err.Error()})
			e.logger().Warn("record rejected", zap.String("record_key", rec.Key()), zap.Error(err))
			continue
		}
		accepted = append(accepted, rec)
		result.RowsAccepted++
		if maxRows > 0 && len(accepted) >= maxRows {
			cancel()
			break
		}
	}

	// Drain remaining and check for errors.
	go func() {
		for range recCh {
		}
	}()
	if err := <-errCh; err != nil && !(maxRows > 0 && errors.Is(err, context.Canceled)) {
		return nil, err
	}
	return accepted, nil
}

func (e *Engine) accept(rec Record, chain []Transformer, validator *IssueValidator) error {
	key := rec.Key()
	out, err := ApplyTransformers(rec, chain)
	if err != nil {
		return err
	}
	if _, err := validator.Validate(out); err != nil {
		return &RecordError{Key: key, Step: "validate", Err: err}
	}
	return nil
}
