// Package api serves the HTTP control surface of the ingestion service.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mdjira/internal/domain"
	"mdjira/internal/etl"
	"mdjira/internal/partition"
	"mdjira/internal/service"
	"mdjira/internal/storage"
)

// Error codes returned in APIError.Code.
const (
	ErrorCodeValidation   = "VALIDATION_ERROR"
	ErrorCodeNotFound     = "NOT_FOUND"
	ErrorCodeConflict     = "ALREADY_RUNNING"
	ErrorCodeRunFailed    = "RUN_FAILED"
	ErrorCodeInternal     = "INTERNAL_SERVER_ERROR"
	DefaultPartitionLimit = 30
	MaxPartitionLimit     = 1000
)

// APIError is the body of every non-2xx response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Ingestor is the part of the ingestion service the API drives.
type Ingestor interface {
	RunPartition(ctx context.Context, date string, trigger domain.RunTrigger) (*etl.SyncResult, error)
	Backfill(ctx context.Context, from, to string) ([]*etl.SyncResult, error)
	Preview(ctx context.Context, date string, maxRows int) (*service.PreviewResult, error)
	ListPartitions() ([]service.PartitionStatus, error)
	ListRuns(partitionDate string, limit int) ([]domain.IngestionRun, error)
	GetRun(id string) (*domain.IngestionRun, error)
	Sources() []etl.SourceSpec
	Health(ctx context.Context) error
}

// API wires the ingestion service to gin routes.
type API struct {
	ingest  Ingestor
	metrics http.Handler
	logger  *zap.Logger
}

// New creates the API. metrics may be nil to leave /metrics unrouted.
func New(ingest Ingestor, metrics http.Handler, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{ingest: ingest, metrics: metrics, logger: logger}
}

// Router builds the gin engine with every route registered.
func (a *API) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(a.logger))
	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers the API routes on r.
func (a *API) RegisterRoutes(r gin.IRouter) {
	r.GET("/healthz", a.health)
	if a.metrics != nil {
		r.GET("/metrics", gin.WrapH(a.metrics))
	}

	v1 := r.Group("/api/v1")
	{
		v1.GET("/partitions", a.listPartitions)
		v1.GET("/partitions/:partition/preview", a.previewPartition)
		v1.POST("/runs/:partition", a.runPartition)
		v1.GET("/runs", a.listRuns)
		v1.GET("/runs/:id", a.getRun)
		v1.POST("/backfill", a.backfill)
		v1.GET("/sources", a.listSources)
	}
}

// Serve runs the HTTP server on addr until ctx is cancelled.
func (a *API) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// ── Handlers ───────────────────────────────────────────────

func (a *API) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	if err := a.ingest.Health(ctx); err != nil {
		a.logger.Warn("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *API) listSources(c *gin.Context) {
	c.JSON(http.StatusOK, a.ingest.Sources())
}

func (a *API) listPartitions(c *gin.Context) {
	limit, ok := queryLimit(c, DefaultPartitionLimit, MaxPartitionLimit)
	if !ok {
		return
	}
	parts, err := a.ingest.ListPartitions()
	if err != nil {
		a.internalError(c, "failed to list partitions", err)
		return
	}
	if len(parts) > limit {
		parts = parts[:limit]
	}
	c.JSON(http.StatusOK, parts)
}

func (a *API) previewPartition(c *gin.Context) {
	maxRows := 10
	if v := c.Query("maxRows"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			respondWithError(c, http.StatusBadRequest, ErrorCodeValidation, "maxRows must be between 1 and 1000", nil)
			return
		}
		maxRows = n
	}
	preview, err := a.ingest.Preview(c.Request.Context(), c.Param("partition"), maxRows)
	if err != nil {
		if a.partitionError(c, err) {
			return
		}
		respondWithError(c, http.StatusBadGateway, ErrorCodeRunFailed, "preview failed", gin.H{"reason": err.Error()})
		return
	}
	c.JSON(http.StatusOK, preview)
}

func (a *API) runPartition(c *gin.Context) {
	date := c.Param("partition")
	// A run outlives a disconnected client.
	result, err := a.ingest.RunPartition(context.WithoutCancel(c.Request.Context()), date, domain.RunTriggerManual)
	if err != nil {
		if a.partitionError(c, err) {
			return
		}
		if result != nil {
			respondWithError(c, http.StatusBadGateway, ErrorCodeRunFailed, "partition run failed", result)
			return
		}
		a.internalError(c, "failed to start run", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a *API) listRuns(c *gin.Context) {
	limit, ok := queryLimit(c, 50, 500)
	if !ok {
		return
	}
	runs, err := a.ingest.ListRuns(c.Query("partition"), limit)
	if err != nil {
		a.internalError(c, "failed to list runs", err)
		return
	}
	c.JSON(http.StatusOK, runs)
}

func (a *API) getRun(c *gin.Context) {
	run, err := a.ingest.GetRun(c.Param("id"))
	if errors.Is(err, storage.ErrRunNotFound) {
		respondWithError(c, http.StatusNotFound, ErrorCodeNotFound, "run not found", nil)
		return
	}
	if err != nil {
		a.internalError(c, "failed to get run", err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// BackfillRequest is the body of POST /api/v1/backfill.
type BackfillRequest struct {
	From string `json:"from" binding:"required,datetime=2006-01-02"`
	To   string `json:"to" binding:"required,datetime=2006-01-02"`
}

func (a *API) backfill(c *gin.Context) {
	var req BackfillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, http.StatusBadRequest, ErrorCodeValidation, "invalid request payload", gin.H{"reason": err.Error()})
		return
	}
	results, err := a.ingest.Backfill(context.WithoutCancel(c.Request.Context()), req.From, req.To)
	if err != nil {
		if len(results) == 0 && a.partitionError(c, err) {
			return
		}
		respondWithError(c, http.StatusBadGateway, ErrorCodeRunFailed, err.Error(), results)
		return
	}
	c.JSON(http.StatusOK, results)
}

// ── Helpers ────────────────────────────────────────────────

// partitionError responds to errors that reject a partition before any run
// starts. It reports whether a response was written.
func (a *API) partitionError(c *gin.Context, err error) bool {
	switch {
	case errors.Is(err, partition.ErrBadKey):
		respondWithError(c, http.StatusBadRequest, ErrorCodeValidation, err.Error(), nil)
	case errors.Is(err, partition.ErrOutOfRange):
		respondWithError(c, http.StatusNotFound, ErrorCodeNotFound, err.Error(), nil)
	case errors.Is(err, service.ErrAlreadyRunning):
		respondWithError(c, http.StatusConflict, ErrorCodeConflict, err.Error(), nil)
	default:
		return false
	}
	return true
}

func (a *API) internalError(c *gin.Context, msg string, err error) {
	a.logger.Error(msg, zap.String("path", c.FullPath()), zap.Error(err))
	respondWithError(c, http.StatusInternalServerError, ErrorCodeInternal, msg, nil)
}

func queryLimit(c *gin.Context, def, max int) (int, bool) {
	v := c.Query("limit")
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > max {
		respondWithError(c, http.StatusBadRequest, ErrorCodeValidation,
			"limit must be between 1 and "+strconv.Itoa(max), gin.H{"limit": v})
		return 0, false
	}
	return n, true
}

func respondWithError(c *gin.Context, status int, code, message string, details any) {
	c.AbortWithStatusJSON(status, APIError{Code: code, Message: message, Details: details})
}

// requestLogger logs one line per request.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
