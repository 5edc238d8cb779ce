package mcp

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/mcp-go"
)

// RegisterPrompts registers MCP prompts for common squad workflows.
func RegisterPrompts(srv *mcp.Server, deps ToolDependencies) error {
	if srv == nil {
		return fmt.Errorf("server is required")
	}

	srv.Prompt("squad_availability").
		Description("Refresh and summarise a squad member's availability from their Google Calendar.").
		Handler(func(ctx context.Context, args map[string]string) (*mcp.PromptResult, error) {
			email := args["email"]
			if email == "" {
				email = "the squad member"
			}
			return &mcp.PromptResult{
				Description: "Squad Availability",
				Messages: []mcp.PromptMessage{
					{
						Role: string(mcp.RoleUser),
						Content: mcp.TextContent{
							Type: "text",
							Text: fmt.Sprintf(`Check when %s is available to train. Please:

1. Read blade://capabilities to see whether calendar sync is configured
2. Run calendar.sync_busy for the user
3. If the result is connect_required, give me the connect URL and stop
4. Otherwise run busy.list and summarise the busy blocks per day

Point out days with no busy blocks as good workout slots.`, email),
						},
					},
				},
			}, nil
		})

	return nil
}
