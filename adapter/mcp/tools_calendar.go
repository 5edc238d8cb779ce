package mcp

import (
	"context"

	calendarApp "github.com/felixgeelhaar/blade/internal/calendar/application"
	calendarDomain "github.com/felixgeelhaar/blade/internal/calendar/domain"
	"github.com/felixgeelhaar/mcp-go"
)

type emailInput struct {
	Email string `json:"email" jsonschema:"required"`
}

type syncEventsInput struct {
	Email      string `json:"email" jsonschema:"required"`
	CalendarID string `json:"calendar_id,omitempty"` // Defaults to CALENDAR_ID
}

type disconnectInput struct {
	Email string `json:"email" jsonschema:"required"`
	Purge bool   `json:"purge,omitempty"` // Also delete synced busy blocks
}

func registerCalendarTools(srv *mcp.Server, t tools) {
	srv.Tool("calendar.connect_url").
		Description("Get the Google consent URL that connects a user's calendar.").
		Handler(t.connectURL)

	srv.Tool("calendar.sync_busy").
		Description("Replace a user's synced busy blocks with their current free/busy view. Returns a connect URL when the user has not connected a calendar.").
		Handler(t.syncBusy)

	srv.Tool("calendar.sync_events").
		Description("Store every event of a user's calendar in the sync window and report inserted, updated and unchanged counts.").
		Handler(t.syncEvents)

	srv.Tool("calendar.disconnect").
		Description("Remove a user's calendar credential and revoke it at Google when possible.").
		Handler(t.disconnect)
}

func (t tools) connectURL(ctx context.Context, input emailInput) (map[string]any, error) {
	if t.app.Syncer == nil {
		return nil, errCalendarOff
	}
	if input.Email == "" {
		return nil, errEmailRequired
	}
	url, err := t.app.Syncer.ConnectURL(ctx, input.Email)
	if err != nil {
		return nil, err
	}
	return map[string]any{"email": input.Email, "connect_url": url}, nil
}

func (t tools) syncBusy(ctx context.Context, input emailInput) (map[string]any, error) {
	if t.app.Syncer == nil {
		return nil, errCalendarOff
	}
	if input.Email == "" {
		return nil, errEmailRequired
	}
	res, err := t.app.Syncer.SyncBusy(ctx, input.Email)
	if err != nil {
		return nil, err
	}
	if res.Status == calendarDomain.StatusConnectRequired {
		return connectRequired(res.ConnectURL), nil
	}
	return map[string]any{
		"status": string(res.Status),
		"count":  len(res.Blocks),
		"blocks": toBusyBlockDTOs(res.Blocks),
	}, nil
}

func (t tools) syncEvents(ctx context.Context, input syncEventsInput) (map[string]any, error) {
	if t.app.Syncer == nil {
		return nil, errCalendarOff
	}
	if input.Email == "" {
		return nil, errEmailRequired
	}
	res, err := t.app.Syncer.SyncEvents(ctx, input.Email, input.CalendarID)
	if err != nil {
		return nil, err
	}
	if res.Status == calendarDomain.StatusConnectRequired {
		return connectRequired(res.ConnectURL), nil
	}

	r := res.Report
	errs := r.Errors
	if errs == nil {
		errs = []calendarDomain.EventError{}
	}
	return map[string]any{
		"status":        string(res.Status),
		"calendar_id":   r.CalendarID,
		"total_fetched": r.TotalFetched,
		"inserted":      r.Inserted,
		"updated":       r.Updated,
		"unchanged":     r.Unchanged,
		"errors":        errs,
	}, nil
}

func (t tools) disconnect(ctx context.Context, input disconnectInput) (map[string]any, error) {
	if t.app.Disconnector == nil {
		return nil, errDisconnectOff
	}
	if input.Email == "" {
		return nil, errEmailRequired
	}
	res, err := t.app.Disconnector.Disconnect(ctx, calendarApp.DisconnectCommand{
		Email:           input.Email,
		PurgeBusyBlocks: input.Purge,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"status":        "disconnected",
		"revoked":       res.Revoked,
		"purged_blocks": res.PurgedBlocks,
	}, nil
}

func connectRequired(url string) map[string]any {
	return map[string]any{
		"status":      string(calendarDomain.StatusConnectRequired),
		"connect_url": url,
	}
}
