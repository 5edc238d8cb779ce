package mcp

import (
	"context"
	"time"

	calendarDomain "github.com/felixgeelhaar/blade/internal/calendar/domain"
	"github.com/felixgeelhaar/mcp-go"
)

// BusyBlockDTO represents a busy block for MCP responses.
type BusyBlockDTO struct {
	ID          string     `json:"id"`
	Date        string     `json:"date"`
	Start       time.Time  `json:"start"`
	End         time.Time  `json:"end"`
	Source      string     `json:"source"`
	Name        string     `json:"name,omitempty"`
	Description string     `json:"description,omitempty"`
	SyncedAt    *time.Time `json:"synced_at,omitempty"`
}

func toBusyBlockDTOs(blocks []*calendarDomain.BusyBlock) []BusyBlockDTO {
	out := make([]BusyBlockDTO, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, BusyBlockDTO{
			ID:          b.ID().String(),
			Date:        b.Date(),
			Start:       b.Start(),
			End:         b.End(),
			Source:      b.Source().String(),
			Name:        b.Label(),
			Description: b.Description(),
			SyncedAt:    b.SyncedAt(),
		})
	}
	return out
}

func registerBusyTools(srv *mcp.Server, t tools) {
	srv.Tool("busy.list").
		Description("List a user's busy blocks, both manual entries and blocks written by calendar sync.").
		Handler(t.listBusy)
}

func (t tools) listBusy(ctx context.Context, input emailInput) (map[string]any, error) {
	if t.app.Busy == nil {
		return nil, errBusyOff
	}
	if input.Email == "" {
		return nil, errEmailRequired
	}
	blocks, err := t.app.Busy.List(ctx, input.Email)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"email":  input.Email,
		"count":  len(blocks),
		"blocks": toBusyBlockDTOs(blocks),
	}, nil
}
