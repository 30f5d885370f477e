package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	partitionsURI = "mdjira://partitions"
	sourcesURI    = "mdjira://sources"
	runsURIPrefix = "mdjira://runs/"
)

func (s *Server) registerResources() {
	// ── mdjira://partitions ────────────────────────────
	s.mcp.AddResource(mcp.NewResource(
		partitionsURI,
		"Daily Partitions",
		mcp.WithMIMEType("application/json"),
	), s.handlePartitionsResource)

	// ── mdjira://sources ───────────────────────────────
	s.mcp.AddResource(mcp.NewResource(
		sourcesURI,
		"Source Types",
		mcp.WithMIMEType("application/json"),
	), s.handleSourcesResource)

	// ── mdjira://runs/{partitionDate} ──────────────────
	s.mcp.AddResourceTemplate(
		mcp.NewResourceTemplate(
			runsURIPrefix+"{partitionDate}",
			"Runs of a Partition",
		),
		s.handlePartitionRunsResource,
	)
}

func (s *Server) handlePartitionsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	parts, err := s.ingest.ListPartitions()
	if err != nil {
		return nil, err
	}
	return jsonContents(partitionsURI, parts)
}

func (s *Server) handleSourcesResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonContents(sourcesURI, s.ingest.Sources())
}

func (s *Server) handlePartitionRunsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	date := strings.TrimPrefix(uri, runsURIPrefix)
	if date == "" || date == uri || strings.Contains(date, "/") {
		return nil, fmt.Errorf("could not extract partitionDate from URI: %s", uri)
	}
	runs, err := s.ingest.ListRuns(date, 0)
	if err != nil {
		return nil, err
	}
	return jsonContents(uri, runs)
}

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
