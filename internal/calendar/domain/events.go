package domain

import (
	sharedDomain "github.com/felixgeelhaar/blade/internal/shared/domain"
	"github.com/google/uuid"
)

const (
	// AggregateTypeAvailability groups events about one user's calendar state.
	AggregateTypeAvailability = "availability"

	RoutingKeyBusySynced   = "calendar.busy.synced"
	RoutingKeyEventsSynced = "calendar.events.synced"
	RoutingKeySyncFailed   = "calendar.sync.failed"
	RoutingKeyBusyReplaced = "calendar.busy.replaced"
)

// Sync modes.
const (
	ModeBusy   = "busy"
	ModeEvents = "events"
)

// BusyReplaced is recorded in the same transaction that swaps an owner's blocks.
type BusyReplaced struct {
	sharedDomain.BaseEvent
	Source   BusySource `json:"source"`
	Deleted  int        `json:"deleted"`
	Inserted int        `json:"inserted"`
}

// NewBusyReplaced creates a BusyReplaced event.
func NewBusyReplaced(ownerID uuid.UUID, source BusySource, deleted, inserted int) BusyReplaced {
	return BusyReplaced{
		BaseEvent: sharedDomain.NewBaseEvent(ownerID, AggregateTypeAvailability, RoutingKeyBusyReplaced),
		Source:    source,
		Deleted:   deleted,
		Inserted:  inserted,
	}
}

// BusySynced is published after a successful free/busy sync.
type BusySynced struct {
	sharedDomain.BaseEvent
	Blocks int `json:"blocks"`
}

// NewBusySynced creates a BusySynced event.
func NewBusySynced(ownerID uuid.UUID, blocks int) BusySynced {
	return BusySynced{
		BaseEvent: sharedDomain.NewBaseEvent(ownerID, AggregateTypeAvailability, RoutingKeyBusySynced),
		Blocks:    blocks,
	}
}

// EventsSynced is published after a full event listing sync.
type EventsSynced struct {
	sharedDomain.BaseEvent
	CalendarID   string `json:"calendar_id"`
	TotalFetched int    `json:"total_fetched"`
	Inserted     int    `json:"inserted"`
	Updated      int    `json:"updated"`
	Unchanged    int    `json:"unchanged"`
	Errors       int    `json:"errors"`
}

// NewEventsSynced creates an EventsSynced event from a report.
func NewEventsSynced(ownerID uuid.UUID, report EventsSyncReport) EventsSynced {
	return EventsSynced{
		BaseEvent:    sharedDomain.NewBaseEvent(ownerID, AggregateTypeAvailability, RoutingKeyEventsSynced),
		CalendarID:   report.CalendarID,
		TotalFetched: report.TotalFetched,
		Inserted:     report.Inserted,
		Updated:      report.Updated,
		Unchanged:    report.Unchanged,
		Errors:       len(report.Errors),
	}
}

// SyncFailed is published when a connected sync fails.
type SyncFailed struct {
	sharedDomain.BaseEvent
	Mode   string `json:"mode"`
	Reason string `json:"reason"`
	Error  string `json:"error"`
}

// NewSyncFailed creates a SyncFailed event. Reason is the outcome label, e.g. reauth_required.
func NewSyncFailed(ownerID uuid.UUID, mode, reason string, err error) SyncFailed {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return SyncFailed{
		BaseEvent: sharedDomain.NewBaseEvent(ownerID, AggregateTypeAvailability, RoutingKeySyncFailed),
		Mode:      mode,
		Reason:    reason,
		Error:     msg,
	}
}
