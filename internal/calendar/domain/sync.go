package domain

// SyncStatus is the machine-readable result of a sync request.
type SyncStatus string

const (
	StatusConnectRequired SyncStatus = "connect_required"
	StatusSynced          SyncStatus = "synced"
)

// BusySyncResult is returned by a free/busy sync. ConnectURL is set only when
// Status is connect_required.
type BusySyncResult struct {
	Status     SyncStatus
	ConnectURL string
	Blocks     []*BusyBlock
}

// EventError records one event that could not be stored.
type EventError struct {
	ProviderID string `json:"providerId"`
	Message    string `json:"message"`
}

// EventsSyncReport summarises a full event listing sync.
type EventsSyncReport struct {
	CalendarID   string
	TotalFetched int
	Inserted     int
	Updated      int
	Unchanged    int
	Errors       []EventError
}

// Count tallies one upsert result.
func (r *EventsSyncReport) Count(result UpsertResult) {
	switch result {
	case UpsertInserted:
		r.Inserted++
	case UpsertUpdated:
		r.Updated++
	default:
		r.Unchanged++
	}
}

// EventsSyncResult is returned by an event listing sync.
type EventsSyncResult struct {
	Status     SyncStatus
	ConnectURL string
	Report     EventsSyncReport
}
