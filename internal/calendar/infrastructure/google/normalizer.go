package google

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/blade/internal/calendar/domain"
	"google.golang.org/api/calendar/v3"
)

var errMissingTime = errors.New("event has no start or end")

// NormalizeEvent maps a provider event onto NormalizedEvent. Absent optional
// fields stay nil, all-day events carry their dates as start and end, and Raw
// holds the provider record as JSON.
func NormalizeEvent(calendarID string, e *calendar.Event, syncedAt time.Time) (domain.NormalizedEvent, error) {
	if e == nil {
		return domain.NormalizedEvent{}, errors.New("nil event")
	}
	start, startAllDay, ok := eventTime(e.Start)
	if !ok {
		return domain.NormalizedEvent{}, fmt.Errorf("event %s: %w", e.Id, errMissingTime)
	}
	end, _, ok := eventTime(e.End)
	if !ok {
		return domain.NormalizedEvent{}, fmt.Errorf("event %s: %w", e.Id, errMissingTime)
	}

	raw, err := json.Marshal(e)
	if err != nil {
		return domain.NormalizedEvent{}, fmt.Errorf("event %s: encode raw: %w", e.Id, err)
	}

	status := e.Status
	if status == "" {
		status = "confirmed"
	}

	out := domain.NormalizedEvent{
		ProviderID:  e.Id,
		CalendarID:  calendarID,
		Status:      status,
		Summary:     optional(e.Summary),
		Description: optional(e.Description),
		Location:    optional(e.Location),
		Created:     parseTimestamp(e.Created),
		Updated:     parseTimestamp(e.Updated),
		Start:       start,
		End:         end,
		AllDay:      startAllDay,
		Raw:         raw,
		SyncedAt:    syncedAt,
	}
	if len(e.Recurrence) > 0 {
		out.Recurrence = e.Recurrence
	}
	if len(e.Attendees) > 0 {
		out.Attendees = make([]domain.Attendee, 0, len(e.Attendees))
		for _, a := range e.Attendees {
			out.Attendees = append(out.Attendees, domain.Attendee{
				Email:          a.Email,
				DisplayName:    a.DisplayName,
				ResponseStatus: a.ResponseStatus,
				Optional:       a.Optional,
			})
		}
	}
	if e.Organizer != nil && e.Organizer.Email != "" {
		out.Organizer = &domain.Organizer{
			Email:       e.Organizer.Email,
			DisplayName: e.Organizer.DisplayName,
			Self:        e.Organizer.Self,
		}
	}
	return out, nil
}

func eventTime(t *calendar.EventDateTime) (value string, allDay, ok bool) {
	switch {
	case t == nil:
		return "", false, false
	case t.Date != "":
		return t.Date, true, true
	case t.DateTime != "":
		return t.DateTime, false, true
	default:
		return "", false, false
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func parseTimestamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
