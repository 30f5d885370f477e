package app

import (
	"context"

	mcpserver "mdjira/internal/mcp"
)

// ServeMCP runs the ingestion tools as an MCP server on stdin/stdout.
// Logs go to stderr so the protocol stream stays clean.
func (a *App) ServeMCP(ctx context.Context, version string) error {
	srv := mcpserver.New(mcpserver.Deps{
		Ingest:  a.Ingest,
		Logger:  a.logger,
		Version: version,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ServeStdio() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}
