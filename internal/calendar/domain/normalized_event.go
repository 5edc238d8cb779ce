package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Attendee is one invitee on a provider event.
type Attendee struct {
	Email          string `json:"email"`
	DisplayName    string `json:"displayName,omitempty"`
	ResponseStatus string `json:"responseStatus,omitempty"`
	Optional       bool   `json:"optional,omitempty"`
}

// Organizer is the owner of a provider event.
type Organizer struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
	Self        bool   `json:"self,omitempty"`
}

// NormalizedEvent is the provider-neutral shape of a calendar event. ProviderID
// is unique across the store. Optional fields are nil when the provider omitted them.
type NormalizedEvent struct {
	ProviderID  string
	CalendarID  string
	Status      string
	Summary     *string
	Description *string
	Location    *string
	Created     time.Time
	Updated     time.Time
	// Start and End are RFC 3339 timestamps, or YYYY-MM-DD when AllDay is set.
	Start      string
	End        string
	AllDay     bool
	Recurrence []string
	Attendees  []Attendee
	Organizer  *Organizer
	Raw        json.RawMessage
	SyncedAt   time.Time
}

// ContentHash identifies the provider content of the event. Two syncs of an
// unmodified event produce the same hash.
func (e NormalizedEvent) ContentHash() string {
	sum := sha256.Sum256(e.Raw)
	return hex.EncodeToString(sum[:])
}

// UpsertResult reports what an event upsert did.
type UpsertResult int

const (
	UpsertUnchanged UpsertResult = iota
	UpsertInserted
	UpsertUpdated
)

func (r UpsertResult) String() string {
	switch r {
	case UpsertInserted:
		return "inserted"
	case UpsertUpdated:
		return "updated"
	default:
		return "unchanged"
	}
}
