package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdjira/internal/domain"
	"mdjira/internal/etl"
	_ "mdjira/internal/etl/sources"
	"mdjira/internal/metrics"
	"mdjira/internal/partition"
	"mdjira/internal/service"
	"mdjira/internal/storage"
)

// ── fakes ──────────────────────────────────────────────────

type fakeSource struct {
	mu      sync.Mutex
	records []map[string]any
	windows []etl.Window
	block   chan struct{}
}

func (s *fakeSource) Spec() etl.SourceSpec { return etl.SourceSpec{Type: "jira"} }

func (s *fakeSource) Read(ctx context.Context, req etl.ReadRequest) (<-chan etl.Record, <-chan error) {
	s.mu.Lock()
	s.windows = append(s.windows, req.Window)
	s.mu.Unlock()

	out := make(chan etl.Record)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		if s.block != nil {
			select {
			case <-s.block:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
		for _, m := range s.records {
			data, _ := json.Marshal(m)
			var copied map[string]any
			_ = json.Unmarshal(data, &copied)
			select {
			case out <- etl.NewRecord(copied):
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
	}()
	return out, errCh
}

type memoryDest struct {
	mu      sync.Mutex
	written []etl.Record
	failOn  string // partition_date that fails to write
	pingErr error
}

func (d *memoryDest) Write(_ context.Context, _ string, _ *etl.Schema, records []etl.Record, _ etl.WriteMode) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range etl.PartitionsOf(records) {
		if p == d.failOn {
			return 0, errors.New("disk full")
		}
	}
	d.written = append(d.written, records...)
	return len(records), nil
}

func (d *memoryDest) Close() error { return nil }

func (d *memoryDest) Ping(context.Context) error { return d.pingErr }

func (d *memoryDest) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.written)
}

func raw(id, key, updated, customer string) map[string]any {
	return map[string]any{
		"id":   id,
		"key":  key,
		"self": "https://example.atlassian.net/rest/api/3/issue/" + id,
		"fields": map[string]any{
			"updated":           updated,
			"created":           "2024-02-20T09:00:00.000+0000",
			"customfield_10095": customer,
		},
		"changelog": map[string]any{"histories": []any{}},
		"expand":    "changelog",
	}
}

var now = time.Date(2024, 2, 25, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc     *service.IngestionService
	src     *fakeSource
	dest    *memoryDest
	runs    *storage.RunStore
	emitter *service.MockEmitter
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, opts service.Options) *fixture {
	t.Helper()
	db, err := storage.New(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	daily, err := partition.NewDaily("2024-02-20", "UTC", 1)
	require.NoError(t, err)
	replay, err := etl.GetSource("json_file")
	require.NoError(t, err)

	f := &fixture{
		src: &fakeSource{records: []map[string]any{
			raw("1", "MD-1", "2024-02-22T10:00:00.000+0000", "CUST1"),
			raw("2", "MD-2", "2024-02-22T11:00:00.000+0000", "CUST2"),
		}},
		dest:    &memoryDest{},
		runs:    storage.NewRunStore(db),
		emitter: &service.MockEmitter{},
		metrics: metrics.New(true),
	}
	opts.Steps = etl.StepsConfig{
		Projections: []etl.FieldRule{
			{Path: "fields.updated", Field: "updated"},
			{Path: "fields.created", Field: "created"},
			{Path: "fields.customfield_10095", Field: "customer_id"},
		},
		Prune: []string{"expand"},
	}
	opts.Table = "issues"
	if opts.OnReject == "" {
		opts.OnReject = etl.RejectSkip
	}
	f.svc = service.NewIngestionService(service.Deps{
		Partitions: daily,
		Source:     f.src,
		Replay:     replay,
		Dest:       f.dest,
		Runs:       f.runs,
		Emitter:    f.emitter,
		Metrics:    f.metrics,
		Now:        func() time.Time { return now },
	}, opts)
	t.Cleanup(f.svc.Stop)
	return f
}

// ── RunPartition ───────────────────────────────────────────

func TestRunPartition_RecordsRun(t *testing.T) {
	f := newFixture(t, service.Options{})

	res, err := f.svc.RunPartition(context.Background(), "2024-02-23", domain.RunTriggerManual)
	require.NoError(t, err)
	assert.Equal(t, etl.StatusSuccess, res.Status)
	assert.Equal(t, 2, res.RowsWritten)
	assert.Equal(t, 2, f.dest.count())

	require.Len(t, f.src.windows, 1)
	assert.Equal(t, "2024-02-22 00:00", f.src.windows[0].Lower())
	assert.Equal(t, "2024-02-23 00:00", f.src.windows[0].Upper())

	runs, err := f.runs.ListRuns("2024-02-23", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.JobID, runs[0].ID)
	assert.Equal(t, etl.StatusSuccess, runs[0].Status)
	assert.Equal(t, "jira", runs[0].Source)
	assert.Equal(t, domain.RunTriggerManual, runs[0].Trigger)
	assert.Equal(t, 2, runs[0].RowsWritten)
	require.NotNil(t, runs[0].FinishedAt)

	events := f.emitter.Recorded()
	require.Len(t, events, 1)
	assert.Equal(t, service.EventRunCompleted, events[0].Event)
	assert.Same(t, res, events[0].Data)
}

func TestRunPartition_RejectionsArePersisted(t *testing.T) {
	f := newFixture(t, service.Options{})
	f.src.records = append(f.src.records, raw("3", "MD-3", "2024-02-22T12:00:00.000+0000", ""))

	res, err := f.svc.RunPartition(context.Background(), "2024-02-23", domain.RunTriggerManual)
	require.NoError(t, err)
	assert.Equal(t, etl.StatusPartial, res.Status)

	run, err := f.runs.GetRun(res.JobID)
	require.NoError(t, err)
	assert.Equal(t, 1, run.RowsRejected)
	require.Len(t, run.Rejections, 1)
	assert.Equal(t, "MD-3", run.Rejections[0].Key)
}

func TestRunPartition_FailPolicyRecordsError(t *testing.T) {
	f := newFixture(t, service.Options{OnReject: etl.RejectFail})
	f.src.records = append(f.src.records, raw("3", "MD-3", "2024-02-22T12:00:00.000+0000", ""))

	res, err := f.svc.RunPartition(context.Background(), "2024-02-23", domain.RunTriggerManual)
	require.ErrorIs(t, err, etl.ErrRejectedRecords)
	assert.Zero(t, f.dest.count())

	run, err := f.runs.GetRun(res.JobID)
	require.NoError(t, err)
	assert.Equal(t, etl.StatusError, run.Status)
	assert.NotEmpty(t, run.Error)
}

func TestRunPartition_OutOfRange(t *testing.T) {
	f := newFixture(t, service.Options{})

	for _, key := range []string{"2024-02-19", "2024-02-26", "2024-2-23"} {
		_, err := f.svc.RunPartition(context.Background(), key, domain.RunTriggerManual)
		assert.Error(t, err, key)
	}
	_, err := f.svc.RunPartition(context.Background(), "2024-02-26", domain.RunTriggerManual)
	assert.ErrorIs(t, err, partition.ErrOutOfRange)

	runs, err := f.runs.ListRuns("", 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRunPartition_OneRunPerPartition(t *testing.T) {
	f := newFixture(t, service.Options{})
	f.src.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.RunPartition(context.Background(), "2024-02-23", domain.RunTriggerManual)
		done <- err
	}()

	require.Eventually(t, func() bool {
		f.src.mu.Lock()
		defer f.src.mu.Unlock()
		return len(f.src.windows) == 1
	}, 2*time.Second, 10*time.Millisecond)

	_, err := f.svc.RunPartition(context.Background(), "2024-02-23", domain.RunTriggerManual)
	assert.ErrorIs(t, err, service.ErrAlreadyRunning)

	close(f.src.block)
	require.NoError(t, <-done)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	f.svc.WaitRunning(ctx)
	assert.NoError(t, ctx.Err())
}

// ── Backfill ───────────────────────────────────────────────

func TestBackfill_RunsEachPartition(t *testing.T) {
	f := newFixture(t, service.Options{})

	results, err := f.svc.Backfill(context.Background(), "2024-02-21", "2024-02-23")
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "2024-02-21", results[0].PartitionDate)
	assert.Equal(t, "2024-02-23", results[2].PartitionDate)

	runs, err := f.runs.ListRuns("", 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	for _, r := range runs {
		assert.Equal(t, domain.RunTriggerBackfill, r.Trigger)
	}
}

func TestBackfill_StopsAtFirstFatalError(t *testing.T) {
	f := newFixture(t, service.Options{})
	f.dest.failOn = "2024-02-22"

	results, err := f.svc.Backfill(context.Background(), "2024-02-21", "2024-02-24")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2024-02-22")
	require.Len(t, results, 2)
	assert.Equal(t, etl.StatusError, results[1].Status)
	assert.Len(t, f.src.windows, 2)
}

func TestBackfill_RejectsRangePastNewestPartition(t *testing.T) {
	f := newFixture(t, service.Options{})

	_, err := f.svc.Backfill(context.Background(), "2024-02-24", "2024-02-27")
	assert.ErrorIs(t, err, partition.ErrOutOfRange)
	assert.Empty(t, f.src.windows)
}

// ── Preview / listing ──────────────────────────────────────

func TestPreview_DoesNotWrite(t *testing.T) {
	f := newFixture(t, service.Options{})

	res, err := f.svc.Preview(context.Background(), "2024-02-23", 1)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "2024-02-23", res.Records[0].Data["partition_date"])
	assert.Zero(t, f.dest.count())

	runs, err := f.runs.ListRuns("", 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestListPartitions_NewestFirstWithLastRun(t *testing.T) {
	f := newFixture(t, service.Options{})
	_, err := f.svc.RunPartition(context.Background(), "2024-02-23", domain.RunTriggerManual)
	require.NoError(t, err)

	parts, err := f.svc.ListPartitions()
	require.NoError(t, err)
	require.Len(t, parts, 6) // 2024-02-20 .. 2024-02-25
	assert.Equal(t, "2024-02-25", parts[0].Key)
	assert.Equal(t, "2024-02-20", parts[5].Key)
	assert.Nil(t, parts[0].LastRun)
	require.NotNil(t, parts[2].LastRun)
	assert.Equal(t, etl.StatusSuccess, parts[2].LastRun.Status)
	assert.Equal(t, "2024-02-25", f.svc.LastPartition())
}

// ── Replay ─────────────────────────────────────────────────

func writeReplayFile(t *testing.T, dir, name string) string {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"issues": []any{raw("7", "MD-7", "2024-02-21T08:00:00.000+0000", "CUST7")},
	})
	require.NoError(t, err)
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, body, 0o644))
	return p
}

func TestReplayFile(t *testing.T) {
	f := newFixture(t, service.Options{})
	p := writeReplayFile(t, t.TempDir(), "2024-02-22.json")

	res, err := f.svc.ReplayFile(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "2024-02-22", res.PartitionDate)
	assert.Equal(t, 1, res.RowsWritten)
	assert.Empty(t, f.src.windows)

	run, err := f.runs.GetRun(res.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunTriggerReplay, run.Trigger)
	assert.Equal(t, "json_file", run.Source)
}

func TestReplayFile_BadName(t *testing.T) {
	f := newFixture(t, service.Options{})
	_, err := f.svc.ReplayFile(context.Background(), "/tmp/issues.json")
	assert.ErrorContains(t, err, "<YYYY-MM-DD>.json")
}

func TestStart_WatchesReplayDir(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, service.Options{ReplayDir: dir, WatchReplay: true})
	require.NoError(t, f.svc.Start(context.Background()))

	writeReplayFile(t, dir, "notes.json")
	writeReplayFile(t, dir, "2024-02-24.json")

	require.Eventually(t, func() bool {
		runs, err := f.runs.ListRuns("2024-02-24", 0)
		return err == nil && len(runs) == 1 && runs[0].Status == etl.StatusSuccess
	}, 5*time.Second, 50*time.Millisecond)

	all, err := f.runs.ListRuns("", 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStart_InvalidCron(t *testing.T) {
	f := newFixture(t, service.Options{ScheduleEnabled: true, Cron: "whenever"})
	assert.ErrorContains(t, f.svc.Start(context.Background()), "invalid schedule")
}

func TestStart_Stop_Idempotent(t *testing.T) {
	f := newFixture(t, service.Options{ScheduleEnabled: true, Cron: "CRON_TZ=US/Pacific 0 0 * * *"})
	require.NoError(t, f.svc.Start(context.Background()))
	require.NoError(t, f.svc.Start(context.Background()))
	f.svc.Stop()
	f.svc.Stop()
}

func TestHealth_PingsDestinationAndRunLog(t *testing.T) {
	f := newFixture(t, service.Options{})
	require.NoError(t, f.svc.Health(context.Background()))

	f.dest.pingErr = errors.New("connection refused")
	err := f.svc.Health(context.Background())
	assert.ErrorContains(t, err, "destination: connection refused")
}

func TestSources_ListsRegisteredTypes(t *testing.T) {
	f := newFixture(t, service.Options{})

	var types []string
	for _, spec := range f.svc.Sources() {
		types = append(types, spec.Type)
		assert.NotEmpty(t, spec.ConfigFields, spec.Type)
	}
	assert.Equal(t, []string{"jira", "json_file"}, types)
}
