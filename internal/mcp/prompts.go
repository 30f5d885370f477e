package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	s.mcp.AddPrompt(mcp.NewPrompt("triage_partition",
		mcp.WithPromptDescription("Investigate why a partition run rejected records or failed"),
		mcp.WithArgument("partitionDate",
			mcp.ArgumentDescription("Partition key YYYY-MM-DD"),
			mcp.RequiredArgument(),
		),
	), s.handleTriagePrompt)
}

func (s *Server) handleTriagePrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	date := req.Params.Arguments["partitionDate"]
	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Triage partition %s", date),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Triage the ingestion of partition %[1]s. Follow these steps:

1. Use list_runs with partitionDate "%[1]s" and read the newest run's status, error and rejections
2. If records were rejected, use preview_partition for "%[1]s" to see accepted records next to the rejected keys
3. Group the rejections by cause: missing fields (for example fields.customfield_10095), wrong types, empty customer_id, bad timestamps
4. Say whether re-running with run_partition would help (a source or write error) or whether the issues must be fixed in Jira first

Keep the summary short and name the issue keys involved.`, date),
				},
			},
		},
	}, nil
}
