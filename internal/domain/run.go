package domain

import "time"

// RunTrigger records what started an ingestion run.
type RunTrigger string

const (
	RunTriggerManual   RunTrigger = "manual"
	RunTriggerSchedule RunTrigger = "schedule"
	RunTriggerReplay   RunTrigger = "replay"
	RunTriggerBackfill RunTrigger = "backfill"
)

// RunRejection is one record turned away by the transform chain or validator.
type RunRejection struct {
	Key   string `json:"key"`
	Error string `json:"error"`
}

// IngestionRun is the persisted log entry of one partition run.
type IngestionRun struct {
	ID            string         `json:"id"`
	PartitionDate string         `json:"partitionDate"`
	Trigger       RunTrigger     `json:"trigger"`
	Source        string         `json:"source"`
	StartedAt     time.Time      `json:"startedAt"`
	FinishedAt    *time.Time     `json:"finishedAt,omitempty"`
	Status        string         `json:"status"`
	RowsRead      int            `json:"rowsRead"`
	RowsAccepted  int            `json:"rowsAccepted"`
	RowsRejected  int            `json:"rowsRejected"`
	RowsWritten   int            `json:"rowsWritten"`
	Error         string         `json:"error,omitempty"`
	Rejections    []RunRejection `json:"rejections,omitempty"`
}

// RunStore persists ingestion runs.
type RunStore interface {
	CreateRun(r *IngestionRun) error
	FinishRun(r *IngestionRun) error
	GetRun(id string) (*IngestionRun, error)
	ListRuns(partitionDate string, limit int) ([]IngestionRun, error)
	LatestByPartition() (map[string]IngestionRun, error)
}
