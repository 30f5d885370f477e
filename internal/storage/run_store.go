package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mdjira/internal/domain"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned by GetRun for an unknown id.
var ErrRunNotFound = errors.New("run not found")

// RunStore implements domain.RunStore in SQLite.
type RunStore struct {
	db *DB
}

// NewRunStore creates a new RunStore.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

var _ domain.RunStore = (*RunStore)(nil)

const runColumns = `id, partition_date, trigger_type, source, started_at, finished_at, status,
	rows_read, rows_accepted, rows_rejected, rows_written, error, rejections_json`

// CreateRun inserts a run in the running state and assigns its ID.
func (s *RunStore) CreateRun(r *domain.IngestionRun) error {
	r.ID = uuid.New().String()
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	if r.Status == "" {
		r.Status = "running"
	}
	if r.Trigger == "" {
		r.Trigger = domain.RunTriggerManual
	}
	_, err := s.db.conn.Exec(
		`INSERT INTO ingestion_runs (id, partition_date, trigger_type, source, started_at, status)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.PartitionDate, string(r.Trigger), r.Source, r.StartedAt.UTC(), r.Status,
	)
	return err
}

// FinishRun records the outcome of a run created with CreateRun.
func (s *RunStore) FinishRun(r *domain.IngestionRun) error {
	if r.FinishedAt == nil {
		now := time.Now()
		r.FinishedAt = &now
	}
	rejections, err := json.Marshal(r.Rejections)
	if err != nil {
		return fmt.Errorf("encode rejections: %w", err)
	}
	res, err := s.db.conn.Exec(
		`UPDATE ingestion_runs SET finished_at=?, status=?, rows_read=?, rows_accepted=?,
		 rows_rejected=?, rows_written=?, error=?, rejections_json=? WHERE id=?`,
		r.FinishedAt.UTC(), r.Status, r.RowsRead, r.RowsAccepted, r.RowsRejected, r.RowsWritten,
		r.Error, string(rejections), r.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, r.ID)
	}
	return nil
}

// Ping checks that the run log database answers.
func (s *RunStore) Ping(ctx context.Context) error {
	return s.db.Conn().PingContext(ctx)
}

func (s *RunStore) GetRun(id string) (*domain.IngestionRun, error) {
	row := s.db.conn.QueryRow(`SELECT `+runColumns+` FROM ingestion_runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return r, err
}

// ListRuns returns the newest runs first. An empty partitionDate lists all partitions.
func (s *RunStore) ListRuns(partitionDate string, limit int) ([]domain.IngestionRun, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + runColumns + ` FROM ingestion_runs`
	args := []any{}
	if partitionDate != "" {
		query += ` WHERE partition_date = ?`
		args = append(args, partitionDate)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

// LatestByPartition returns the most recent run of every partition.
func (s *RunStore) LatestByPartition() (map[string]domain.IngestionRun, error) {
	rows, err := s.db.conn.Query(`SELECT ` + runColumns + ` FROM ingestion_runs r
		WHERE r.started_at = (SELECT MAX(started_at) FROM ingestion_runs WHERE partition_date = r.partition_date)
		ORDER BY r.started_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.IngestionRun, len(runs))
	for _, r := range runs {
		out[r.PartitionDate] = r
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*domain.IngestionRun, error) {
	var (
		r          domain.IngestionRun
		trigger    string
		finished   sql.NullTime
		rejections string
	)
	if err := sc.Scan(&r.ID, &r.PartitionDate, &trigger, &r.Source, &r.StartedAt, &finished, &r.Status,
		&r.RowsRead, &r.RowsAccepted, &r.RowsRejected, &r.RowsWritten, &r.Error, &rejections); err != nil {
		return nil, err
	}
	r.Trigger = domain.RunTrigger(trigger)
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	if rejections != "" && rejections != "null" {
		if err := json.Unmarshal([]byte(rejections), &r.Rejections); err != nil {
			return nil, fmt.Errorf("decode rejections of run %s: %w", r.ID, err)
		}
	}
	return &r, nil
}

func scanRuns(rows *sql.Rows) ([]domain.IngestionRun, error) {
	var runs []domain.IngestionRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}
