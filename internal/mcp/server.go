package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"mdjira/internal/domain"
	"mdjira/internal/etl"
	"mdjira/internal/service"
)

// Ingestor is the part of the ingestion service the tools drive.
type Ingestor interface {
	RunPartition(ctx context.Context, date string, trigger domain.RunTrigger) (*etl.SyncResult, error)
	Preview(ctx context.Context, date string, maxRows int) (*service.PreviewResult, error)
	ListPartitions() ([]service.PartitionStatus, error)
	ListRuns(partitionDate string, limit int) ([]domain.IngestionRun, error)
	LastPartition() string
	Sources() []etl.SourceSpec
}

// Server is the MCP server for the ingestion service.
// It exposes tools, resources, and prompts so agents can inspect and run partitions.
type Server struct {
	mcp    *server.MCPServer
	ingest Ingestor
	logger *zap.Logger
}

// Deps holds the dependencies of the MCP server.
type Deps struct {
	Ingest  Ingestor
	Logger  *zap.Logger
	Version string
}

// New creates and configures a new MCP server with all tools and resources.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Version == "" {
		deps.Version = "1.0.0"
	}
	s := &Server{ingest: deps.Ingest, logger: deps.Logger}

	s.mcp = server.NewMCPServer(
		"md-jira-ingest",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
		server.WithPromptCapabilities(true),
	)

	s.registerIngestTools()
	s.registerResources()
	s.registerPrompts()
	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	s.logger.Info("starting MCP stdio server")
	return server.ServeStdio(s.mcp)
}

// ── Helpers ────────────────────────────────────────────────

// textResult creates a simple text tool result.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

// jsonResult serializes v to JSON and wraps it in a text tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return textResult(string(data)), nil
}

func boolPtr(v bool) *bool { return &v }
