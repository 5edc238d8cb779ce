package cli

import (
	"context"

	calendarApp "github.com/felixgeelhaar/blade/internal/calendar/application"
	calendarDomain "github.com/felixgeelhaar/blade/internal/calendar/domain"
	identityUsers "github.com/felixgeelhaar/blade/internal/identity/application/users"
	identityDomain "github.com/felixgeelhaar/blade/internal/identity/domain"
)

// Syncer runs calendar syncs. *calendarApp.Orchestrator implements it.
type Syncer interface {
	ConnectURL(ctx context.Context, email string) (string, error)
	SyncBusy(ctx context.Context, email string) (calendarDomain.BusySyncResult, error)
	SyncEvents(ctx context.Context, email, calendarID string) (calendarDomain.EventsSyncResult, error)
}

// Disconnector removes a calendar credential.
type Disconnector interface {
	Disconnect(ctx context.Context, cmd calendarApp.DisconnectCommand) (calendarApp.DisconnectResult, error)
}

// UserRegistrar registers users.
type UserRegistrar interface {
	Register(ctx context.Context, cmd identityUsers.RegisterCommand) (*identityDomain.User, error)
}

// BusyLister lists a user's busy blocks.
type BusyLister interface {
	List(ctx context.Context, email string) ([]*calendarDomain.BusyBlock, error)
}

// App holds the CLI application dependencies. Calendar collaborators are nil
// when calendar sync is not configured.
type App struct {
	Syncer       Syncer
	Disconnector Disconnector
	Users        UserRegistrar
	Busy         BusyLister

	// Serve runs the HTTP API until ctx is cancelled.
	Serve func(ctx context.Context) error
	// Migrate brings the store's schema up to date and returns what it applied.
	Migrate func(ctx context.Context) ([]string, error)
}

// app is the global CLI application instance
var app *App

// SetApp sets the global CLI application instance.
func SetApp(a *App) {
	app = a
}

// GetApp returns the global CLI application instance.
func GetApp() *App {
	return app
}
