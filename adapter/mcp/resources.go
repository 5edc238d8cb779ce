package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/felixgeelhaar/blade/adapter/cli"
	"github.com/felixgeelhaar/mcp-go"
)

// RegisterResources registers MCP resources that expose blade state.
func RegisterResources(srv *mcp.Server, deps ToolDependencies) error {
	if srv == nil {
		return fmt.Errorf("server is required")
	}
	app := deps.App

	srv.Resource("blade://capabilities").
		Name("Capabilities").
		Description("Which calendar operations this server has configured").
		MimeType("application/json").
		Handler(func(ctx context.Context, uri string, params map[string]string) (*mcp.ResourceContent, error) {
			data, err := json.MarshalIndent(capabilities(app), "", "  ")
			if err != nil {
				return nil, err
			}
			return &mcp.ResourceContent{
				URI:      uri,
				MimeType: "application/json",
				Text:     string(data),
			}, nil
		})

	return nil
}

func capabilities(app *cli.App) map[string]bool {
	if app == nil {
		return map[string]bool{}
	}
	return map[string]bool{
		"calendar_sync":     app.Syncer != nil,
		"disconnect":        app.Disconnector != nil,
		"busy_list":         app.Busy != nil,
		"user_registration": app.Users != nil,
	}
}
