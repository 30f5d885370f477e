package app

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mdjira/internal/api"
)

// Serve installs the schedule and replay watcher and serves the HTTP API
// until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	if err := a.Ingest.Start(ctx); err != nil {
		return err
	}
	defer a.Ingest.Stop()

	var metricsHandler http.Handler
	if a.metrics.IsEnabled() {
		metricsHandler = a.metrics.Handler()
	}

	gin.SetMode(gin.ReleaseMode)
	srv := api.New(a.Ingest, metricsHandler, a.logger)

	a.logger.Info("service started",
		zap.String("name", a.cfg.Service.Name),
		zap.Bool("schedule", a.cfg.Schedule.Enabled),
		zap.Bool("replay_watch", a.cfg.Replay.Watch),
		zap.String("newest_partition", a.Ingest.LastPartition()))

	if err := srv.Serve(ctx, a.cfg.Service.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
