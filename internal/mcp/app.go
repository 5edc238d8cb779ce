package mcp

import (
	"github.com/felixgeelhaar/blade/adapter/cli"
	"github.com/felixgeelhaar/blade/internal/app"
)

// NewCLIApp creates a CLI application instance backed by the provided
// container. Calendar collaborators stay nil when the container has none.
func NewCLIApp(container *app.Container) *cli.App {
	cliApp := &cli.App{}

	if container.UserService != nil {
		cliApp.Users = container.UserService
	}
	if container.BusyService != nil {
		cliApp.Busy = container.BusyService
	}
	if container.Orchestrator != nil {
		cliApp.Syncer = container.Orchestrator
	}
	if container.DisconnectService != nil {
		cliApp.Disconnector = container.DisconnectService
	}
	cliApp.Migrate = container.Migrate

	return cliApp
}
