package mcp

import (
	"errors"

	"github.com/felixgeelhaar/blade/adapter/cli"
	"github.com/felixgeelhaar/mcp-go"
)

var (
	errCalendarOff   = errors.New("calendar sync not configured")
	errDisconnectOff = errors.New("disconnect requires the OAuth credential mode")
	errBusyOff       = errors.New("busy block listing requires a database connection")
	errEmailRequired = errors.New("email is required")
)

// ToolDependencies provides handlers and context for MCP tools.
type ToolDependencies struct {
	App *cli.App
}

// RegisterCLITools registers MCP tools that mirror CLI functionality.
func RegisterCLITools(srv *mcp.Server, deps ToolDependencies) error {
	if srv == nil {
		return errors.New("server is required")
	}
	if deps.App == nil {
		return errors.New("app is required")
	}

	t := tools{app: deps.App}
	registerCalendarTools(srv, t)
	registerBusyTools(srv, t)
	return nil
}

// tools holds the handlers behind every registered tool.
type tools struct {
	app *cli.App
}
