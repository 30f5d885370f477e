package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"mdjira/internal/domain"
)

func (s *Server) registerIngestTools() {
	// ── list_partitions ────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("list_partitions",
		mcp.WithDescription("List daily partitions (newest first) with the status of each partition's latest run"),
		mcp.WithNumber("limit", mcp.Description("Maximum partitions to return (default 30)")),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleListPartitions)

	// ── run_partition ──────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("run_partition",
		mcp.WithDescription("Fetch the issues updated during the day before the partition date, transform and validate them, and merge them into the destination table. Re-running a partition is safe: rows are keyed by (id, partition_date)."),
		mcp.WithString("partitionDate", mcp.Description("Partition key YYYY-MM-DD (defaults to the newest partition)")),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{DestructiveHint: boolPtr(false), IdempotentHint: boolPtr(true)}),
	), s.handleRunPartition)

	// ── preview_partition ──────────────────────────────
	s.mcp.AddTool(mcp.NewTool("preview_partition",
		mcp.WithDescription("Read, transform and validate a partition without writing anything. Returns accepted records and the rejections seen so far."),
		mcp.WithString("partitionDate", mcp.Description("Partition key YYYY-MM-DD"), mcp.Required()),
		mcp.WithNumber("maxRows", mcp.Description("Maximum accepted records to return (default 10)")),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handlePreviewPartition)

	// ── list_runs ──────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("list_runs",
		mcp.WithDescription("List recent ingestion runs, newest first, optionally for one partition"),
		mcp.WithString("partitionDate", mcp.Description("Partition key YYYY-MM-DD (optional)")),
		mcp.WithNumber("limit", mcp.Description("Maximum runs to return (default 50)")),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleListRuns)
}

func (s *Server) handleListPartitions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	parts, err := s.ingest.ListPartitions()
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	if limit := req.GetInt("limit", 30); limit > 0 && len(parts) > limit {
		parts = parts[:limit]
	}
	return jsonResult(parts)
}

func (s *Server) handleRunPartition(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	date := req.GetString("partitionDate", "")
	if date == "" {
		date = s.ingest.LastPartition()
	}
	if date == "" {
		return nil, fmt.Errorf("no partition exists yet")
	}

	result, err := s.ingest.RunPartition(ctx, date, domain.RunTriggerManual)
	if err != nil {
		if result == nil {
			return nil, fmt.Errorf("run partition %s: %w", date, err)
		}
		// The run was recorded; hand back its result with the failure.
		res, jerr := jsonResult(result)
		if jerr != nil {
			return nil, jerr
		}
		res.IsError = true
		return res, nil
	}
	return jsonResult(result)
}

func (s *Server) handlePreviewPartition(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	date := req.GetString("partitionDate", "")
	if date == "" {
		return nil, fmt.Errorf("partitionDate is required")
	}
	preview, err := s.ingest.Preview(ctx, date, req.GetInt("maxRows", 10))
	if err != nil {
		return nil, fmt.Errorf("preview partition %s: %w", date, err)
	}
	return jsonResult(preview)
}

func (s *Server) handleListRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runs, err := s.ingest.ListRuns(req.GetString("partitionDate", ""), req.GetInt("limit", 50))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return jsonResult(runs)
}
