package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mdjira/internal/config"
	"mdjira/internal/dbclient"
	"mdjira/internal/etl"
	_ "mdjira/internal/etl/sources" // registers jira and json_file
	"mdjira/internal/metrics"
	"mdjira/internal/secret"
	"mdjira/internal/service"
	"mdjira/internal/storage"
)

// App holds the wired service and everything it owns.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	db      *storage.DB
	dest    etl.Destination
	metrics *metrics.Metrics

	Ingest *service.IngestionService
}

// Options tweak New for tests.
type Options struct {
	Secrets secret.SecretStore
	Emitter service.EventEmitter
	Now     func() time.Time
}

// New opens the run log and the destination and builds the ingestion service.
func New(cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if opts.Secrets == nil {
		store, err := secret.NewEnvStore(cfg.Secrets.EnvPrefix, cfg.Secrets.DotenvFiles...)
		if err != nil {
			return nil, fmt.Errorf("load secrets: %w", err)
		}
		opts.Secrets = store
	}
	if opts.Emitter == nil {
		opts.Emitter = service.LogEmitter{Logger: logger}
	}

	username, err := secret.GetString(opts.Secrets, secret.KeyJiraUsername)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", secret.KeyJiraUsername, err)
	}
	token, err := secret.GetString(opts.Secrets, secret.KeyJiraAccessToken)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", secret.KeyJiraAccessToken, err)
	}
	if username == "" || token == "" {
		logger.Warn("jira credentials not set, searching anonymously",
			zap.String("username_key", secret.KeyJiraUsername),
			zap.String("token_key", secret.KeyJiraAccessToken))
	}
	password, err := secret.GetString(opts.Secrets, secret.KeyDestinationPassword)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", secret.KeyDestinationPassword, err)
	}

	partitions, err := cfg.PartitionSet()
	if err != nil {
		return nil, err
	}
	writeMode, err := etl.ParseWriteMode(cfg.Destination.WriteMode)
	if err != nil {
		return nil, err
	}
	jira, err := etl.GetSource("jira")
	if err != nil {
		return nil, err
	}
	replay, err := etl.GetSource("json_file")
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, logger: logger, metrics: metrics.New(cfg.MetricsEnabled())}

	a.db, err = storage.New(cfg.RunLog.Path)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	a.dest, err = dbclient.NewWriter(&cfg.Destination.DestinationConnection, password)
	if err != nil {
		a.db.Close()
		return nil, fmt.Errorf("open destination: %w", err)
	}
	logger.Info("destination ready",
		zap.String("driver", string(cfg.Destination.Driver)),
		zap.String("table", cfg.Destination.Table),
		zap.String("write_mode", string(writeMode)))

	a.Ingest = service.NewIngestionService(service.Deps{
		Partitions: partitions,
		Source:     jira,
		Replay:     replay,
		Dest:       a.dest,
		Runs:       storage.NewRunStore(a.db),
		Emitter:    opts.Emitter,
		Metrics:    a.metrics,
		Logger:     logger,
		Now:        opts.Now,
	}, service.Options{
		SourceConfig:    cfg.JiraSource(username, token),
		Steps:           cfg.Steps(),
		Table:           cfg.Destination.Table,
		WriteMode:       writeMode,
		OnReject:        etl.RejectPolicy(cfg.Pipeline.OnReject),
		RunTimeout:      cfg.RunTimeout(),
		ScheduleEnabled: cfg.Schedule.Enabled,
		Cron:            cfg.Schedule.Cron,
		ReplayDir:       cfg.Replay.Dir,
		WatchReplay:     cfg.Replay.Watch,
	})
	return a, nil
}

// Shutdown stops the watchers, waits for in-flight runs and closes storage.
func (a *App) Shutdown(ctx context.Context) {
	a.Ingest.Stop()
	a.Ingest.WaitRunning(ctx)

	if err := a.dest.Close(); err != nil {
		a.logger.Warn("close destination", zap.Error(err))
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn("close run log", zap.Error(err))
	}
}
