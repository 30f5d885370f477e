package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"mdjira/internal/domain"
	"mdjira/internal/etl"
	"mdjira/internal/metrics"
	"mdjira/internal/partition"
)

// ─────────────────────────────────────────────────────────────
// Ingestion Service: runs daily partitions of the issue pipeline
// ─────────────────────────────────────────────────────────────

// EventRunCompleted is emitted after every partition run with its *etl.SyncResult.
const EventRunCompleted = "ingest:run-completed"

// ErrAlreadyRunning is returned when the partition has a run in flight.
var ErrAlreadyRunning = errors.New("partition is already running")

// replayFileRe matches files dropped into the replay directory.
var replayFileRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})\.json$`)

// Deps are the collaborators of an IngestionService.
type Deps struct {
	Partitions *partition.Daily
	Source     etl.Source // live source, normally jira
	Replay     etl.Source // file source for the replay directory, normally json_file
	Dest       etl.Destination
	Runs       domain.RunStore
	Emitter    EventEmitter
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
	Now        func() time.Time
}

// Options configure how partitions are run.
type Options struct {
	SourceConfig    etl.SourceConfig
	Steps           etl.StepsConfig
	Table           string
	WriteMode       etl.WriteMode
	OnReject        etl.RejectPolicy
	RunTimeout      time.Duration
	ScheduleEnabled bool
	Cron            string
	ReplayDir       string
	WatchReplay     bool
}

// IngestionService runs partitions on demand, on a schedule and from the
// replay directory. At most one run per partition is in flight.
type IngestionService struct {
	deps     Deps
	opts     Options
	inFlight runningGuard

	mu          sync.Mutex
	watchCancel context.CancelFunc
	watcher     *fsnotify.Watcher
	cronSched   *cron.Cron
}

// NewIngestionService creates an IngestionService ready for use.
func NewIngestionService(deps Deps, opts Options) *IngestionService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Emitter == nil {
		deps.Emitter = NopEmitter{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 5 * time.Minute
	}
	return &IngestionService{deps: deps, opts: opts}
}

// ── Run ────────────────────────────────────────────────────

// RunPartition runs one partition from the live source and records the run.
// A run that finished with rejected records under the skip policy returns a
// partial result and no error.
func (s *IngestionService) RunPartition(ctx context.Context, date string, trigger domain.RunTrigger) (*etl.SyncResult, error) {
	return s.run(ctx, date, trigger, s.deps.Source, s.opts.SourceConfig)
}

// ReplayFile runs the partition named by a <YYYY-MM-DD>.json file through the
// replay source.
func (s *IngestionService) ReplayFile(ctx context.Context, path string) (*etl.SyncResult, error) {
	m := replayFileRe.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return nil, fmt.Errorf("replay file %q is not named <YYYY-MM-DD>.json", path)
	}
	if s.deps.Replay == nil {
		return nil, errors.New("no replay source configured")
	}
	return s.run(ctx, m[1], domain.RunTriggerReplay, s.deps.Replay, etl.SourceConfig{"filePath": path})
}

func (s *IngestionService) run(ctx context.Context, date string, trigger domain.RunTrigger, src etl.Source, srcCfg etl.SourceConfig) (*etl.SyncResult, error) {
	if err := s.deps.Partitions.Contains(date, s.deps.Now()); err != nil {
		return nil, err
	}
	if !s.inFlight.TryLock(date) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, date)
	}
	defer s.inFlight.Unlock(date)

	logger := s.deps.Logger.With(zap.String("partition_date", date), zap.String("trigger", string(trigger)))

	run := &domain.IngestionRun{
		PartitionDate: date,
		Trigger:       trigger,
		Source:        src.Spec().Type,
		StartedAt:     s.deps.Now(),
		Status:        etl.StatusRunning,
	}
	if err := s.deps.Runs.CreateRun(run); err != nil {
		return nil, fmt.Errorf("record run: %w", err)
	}

	engine := &etl.Engine{Source: src, Dest: s.deps.Dest, Logger: logger}
	job := &etl.SyncJob{
		ID:            run.ID,
		PartitionDate: date,
		SourceCfg:     srcCfg,
		Steps:         s.opts.Steps,
		Table:         s.opts.Table,
		WriteMode:     s.opts.WriteMode,
		OnReject:      s.opts.OnReject,
	}

	runCtx, cancel := context.WithTimeout(ctx, s.opts.RunTimeout)
	defer cancel()

	result, runErr := engine.RunSync(runCtx, job)

	finished := s.deps.Now()
	run.FinishedAt = &finished
	run.Status = result.Status
	run.RowsRead = result.RowsRead
	run.RowsAccepted = result.RowsAccepted
	run.RowsRejected = result.RowsRejected
	run.RowsWritten = result.RowsWritten
	run.Error = result.Error
	for _, r := range result.Rejections {
		run.Rejections = append(run.Rejections, domain.RunRejection{Key: r.Key, Error: r.Error})
	}
	if err := s.deps.Runs.FinishRun(run); err != nil {
		logger.Error("failed to record run result", zap.String("run_id", run.ID), zap.Error(err))
	}

	day, _ := partition.ParseKey(date, s.deps.Partitions.Location)
	s.deps.Metrics.ObserveRun(result.Status, metrics.RunCounts{
		Read:     result.RowsRead,
		Accepted: result.RowsAccepted,
		Rejected: result.RowsRejected,
		Written:  result.RowsWritten,
	}, result.Duration, day)

	if runErr != nil {
		logger.Error("partition run failed", zap.String("run_id", run.ID), zap.Error(runErr))
	}
	s.deps.Emitter.Emit(ctx, EventRunCompleted, result)
	return result, runErr
}

// Backfill runs every partition from..to in order. It stops at the first
// run-fatal error and returns the results gathered so far.
func (s *IngestionService) Backfill(ctx context.Context, from, to string) ([]*etl.SyncResult, error) {
	keys, err := s.deps.Partitions.Range(from, to)
	if err != nil {
		return nil, err
	}
	now := s.deps.Now()
	for _, k := range keys {
		if err := s.deps.Partitions.Contains(k, now); err != nil {
			return nil, err
		}
	}

	results := make([]*etl.SyncResult, 0, len(keys))
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := s.RunPartition(ctx, k, domain.RunTriggerBackfill)
		if res != nil {
			results = append(results, res)
		}
		if err != nil {
			return results, fmt.Errorf("backfill stopped at %s: %w", k, err)
		}
	}
	return results, nil
}

// ── Preview / listing ──────────────────────────────────────

// PreviewResult is the response from Preview.
type PreviewResult struct {
	Records []etl.Record    `json:"records"`
	Result  *etl.SyncResult `json:"result"`
}

// Preview reads, transforms and validates a partition without writing.
func (s *IngestionService) Preview(ctx context.Context, date string, maxRows int) (*PreviewResult, error) {
	if err := s.deps.Partitions.Contains(date, s.deps.Now()); err != nil {
		return nil, err
	}
	if maxRows <= 0 {
		maxRows = 10
	}
	engine := &etl.Engine{Source: s.deps.Source, Dest: s.deps.Dest, Logger: s.deps.Logger}
	job := &etl.SyncJob{
		ID:            "preview",
		PartitionDate: date,
		SourceCfg:     s.opts.SourceConfig,
		Steps:         s.opts.Steps,
		OnReject:      s.opts.OnReject,
	}

	previewCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	records, result, err := engine.Preview(previewCtx, job, maxRows)
	if err != nil {
		return nil, err
	}
	return &PreviewResult{Records: records, Result: result}, nil
}

// PartitionStatus is one partition key with its most recent run, if any.
type PartitionStatus struct {
	Key     string               `json:"key"`
	LastRun *domain.IngestionRun `json:"lastRun,omitempty"`
}

// ListPartitions returns every partition key at now, newest first.
func (s *IngestionService) ListPartitions() ([]PartitionStatus, error) {
	keys := s.deps.Partitions.Keys(s.deps.Now())
	latest, err := s.deps.Runs.LatestByPartition()
	if err != nil {
		return nil, err
	}
	out := make([]PartitionStatus, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		st := PartitionStatus{Key: keys[i]}
		if r, ok := latest[keys[i]]; ok {
			st.LastRun = &r
		}
		out = append(out, st)
	}
	return out, nil
}

// ListRuns returns recent runs, optionally for a single partition.
func (s *IngestionService) ListRuns(partitionDate string, limit int) ([]domain.IngestionRun, error) {
	return s.deps.Runs.ListRuns(partitionDate, limit)
}

// GetRun returns one run by ID.
func (s *IngestionService) GetRun(id string) (*domain.IngestionRun, error) {
	return s.deps.Runs.GetRun(id)
}

// Sources lists the registered source types with their configuration fields.
func (s *IngestionService) Sources() []etl.SourceSpec {
	return etl.ListSources()
}

// Health pings the destination and the run log when they support it.
func (s *IngestionService) Health(ctx context.Context) error {
	checks := []struct {
		name string
		dep  any
	}{
		{"destination", s.deps.Dest},
		{"run log", s.deps.Runs},
	}
	for _, c := range checks {
		p, ok := c.dep.(etl.Pinger)
		if !ok {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
	}
	return nil
}

// LastPartition returns the newest partition key at now.
func (s *IngestionService) LastPartition() string {
	return s.deps.Partitions.Last(s.deps.Now())
}

// ── Watchers (cron + replay dir) ───────────────────────────

// Start installs the daily schedule and the replay directory watcher
// according to the options. Calling Start again restarts both.
func (s *IngestionService) Start(ctx context.Context) error {
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.ScheduleEnabled {
		c := cron.New()
		if _, err := c.AddFunc(s.opts.Cron, func() { s.runScheduled(ctx) }); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", s.opts.Cron, err)
		}
		c.Start()
		s.cronSched = c
		s.deps.Logger.Info("schedule installed", zap.String("cron", s.opts.Cron))
	}

	if s.opts.WatchReplay {
		if err := s.watchReplayDir(ctx); err != nil {
			s.stopLocked()
			return err
		}
	}
	return nil
}

func (s *IngestionService) runScheduled(ctx context.Context) {
	key := s.LastPartition()
	if key == "" {
		s.deps.Logger.Warn("schedule fired before the first partition")
		return
	}
	s.deps.Logger.Info("scheduled run", zap.String("partition_date", key))
	if _, err := s.RunPartition(ctx, key, domain.RunTriggerSchedule); err != nil {
		s.deps.Logger.Error("scheduled run failed", zap.String("partition_date", key), zap.Error(err))
	}
}

func (s *IngestionService) watchReplayDir(ctx context.Context) error {
	dir, err := filepath.Abs(s.opts.ReplayDir)
	if err != nil {
		return fmt.Errorf("replay dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create replay dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %q: %w", dir, err)
	}
	s.watcher = watcher

	watchCtx, cancel := context.WithCancel(ctx)
	s.watchCancel = cancel

	go func() {
		timers := make(map[string]*time.Timer)
		defer func() {
			for _, t := range timers {
				t.Stop()
			}
		}()
		for {
			select {
			case <-watchCtx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if !replayFileRe.MatchString(filepath.Base(event.Name)) {
					continue
				}
				path := event.Name
				if t, exists := timers[path]; exists {
					t.Stop()
				}
				timers[path] = time.AfterFunc(500*time.Millisecond, func() {
					s.deps.Logger.Info("replay file changed", zap.String("path", path))
					if _, err := s.ReplayFile(watchCtx, path); err != nil {
						s.deps.Logger.Error("replay run failed", zap.String("path", path), zap.Error(err))
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.deps.Logger.Warn("replay watcher error", zap.Error(err))
			}
		}
	}()

	s.deps.Logger.Info("watching replay directory", zap.String("dir", dir))
	return nil
}

// WaitRunning blocks until all running partitions finish or ctx is cancelled.
// Used for graceful shutdown.
func (s *IngestionService) WaitRunning(ctx context.Context) {
	s.inFlight.WaitAll(ctx)
}

// Stop tears down the schedule and the replay watcher.
func (s *IngestionService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *IngestionService) stopLocked() {
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	if s.watcher != nil {
		s.watcher.Close()
		s.watcher = nil
	}
	if s.cronSched != nil {
		s.cronSched.Stop()
		s.cronSched = nil
	}
}
