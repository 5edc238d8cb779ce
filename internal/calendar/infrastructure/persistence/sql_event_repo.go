package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/felixgeelhaar/blade/internal/calendar/domain"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/database"
)

var _ domain.EventRepository = (*SQLEventRepository)(nil)

// SQLEventRepository stores normalized events in calendar_events keyed by provider_id.
type SQLEventRepository struct {
	conn database.Connection
}

// NewSQLEventRepository creates an event repository on conn.
func NewSQLEventRepository(conn database.Connection) *SQLEventRepository {
	return &SQLEventRepository{conn: conn}
}

func (r *SQLEventRepository) q(query string) string {
	return database.Rebind(r.conn.Driver(), query)
}

const eventColumns = `provider_id, calendar_id, status, summary, description, location,
	created_at, updated_at, start_time, end_time, all_day, recurrence, attendees,
	organizer, raw, content_hash, synced_at`

// Upsert inserts event or rewrites it when its content hash changed.
func (r *SQLEventRepository) Upsert(ctx context.Context, event domain.NormalizedEvent) (domain.UpsertResult, error) {
	args, err := eventArgs(event)
	if err != nil {
		return domain.UpsertUnchanged, err
	}
	exec := database.ExecutorFromContext(ctx, r.conn)

	res, err := exec.Exec(ctx, r.q(`INSERT INTO calendar_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider_id) DO NOTHING`), args...)
	if err != nil {
		return domain.UpsertUnchanged, fmt.Errorf("insert event %s: %w", event.ProviderID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return domain.UpsertUnchanged, err
	} else if n == 1 {
		return domain.UpsertInserted, nil
	}

	// args[1:] are every column after provider_id, in column order.
	update := append(args[1:len(args):len(args)], event.ProviderID, event.ContentHash())
	res, err = exec.Exec(ctx, r.q(`UPDATE calendar_events SET
			calendar_id = ?, status = ?, summary = ?, description = ?, location = ?,
			created_at = ?, updated_at = ?, start_time = ?, end_time = ?, all_day = ?,
			recurrence = ?, attendees = ?, organizer = ?, raw = ?, content_hash = ?, synced_at = ?
		WHERE provider_id = ? AND content_hash <> ?`), update...)
	if err != nil {
		return domain.UpsertUnchanged, fmt.Errorf("update event %s: %w", event.ProviderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.UpsertUnchanged, err
	}
	if n == 1 {
		return domain.UpsertUpdated, nil
	}
	return domain.UpsertUnchanged, nil
}

// FindByProviderID returns one stored event.
func (r *SQLEventRepository) FindByProviderID(ctx context.Context, providerID string) (*domain.NormalizedEvent, error) {
	row := database.ExecutorFromContext(ctx, r.conn).QueryRow(ctx,
		r.q(`SELECT `+eventColumns+` FROM calendar_events WHERE provider_id = ?`), providerID)
	event, err := scanEvent(row)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, domain.ErrEventNotFound
		}
		return nil, err
	}
	return &event, nil
}

// ListByCalendar returns a calendar's events ordered by start.
func (r *SQLEventRepository) ListByCalendar(ctx context.Context, calendarID string) ([]domain.NormalizedEvent, error) {
	rows, err := database.ExecutorFromContext(ctx, r.conn).Query(ctx,
		r.q(`SELECT `+eventColumns+` FROM calendar_events WHERE calendar_id = ? ORDER BY start_time, provider_id`),
		calendarID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []domain.NormalizedEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func eventArgs(e domain.NormalizedEvent) ([]any, error) {
	recurrence, err := nullJSON(e.Recurrence, len(e.Recurrence) > 0)
	if err != nil {
		return nil, err
	}
	attendees, err := nullJSON(e.Attendees, len(e.Attendees) > 0)
	if err != nil {
		return nil, err
	}
	organizer, err := nullJSON(e.Organizer, e.Organizer != nil)
	if err != nil {
		return nil, err
	}
	syncedAt := e.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = time.Now()
	}
	return []any{
		e.ProviderID,
		e.CalendarID,
		e.Status,
		nullPtr(e.Summary),
		nullPtr(e.Description),
		nullPtr(e.Location),
		nullTime(e.Created),
		nullTime(e.Updated),
		e.Start,
		e.End,
		e.AllDay,
		recurrence,
		attendees,
		organizer,
		string(e.Raw),
		e.ContentHash(),
		database.FormatTime(syncedAt),
	}, nil
}

func scanEvent(row database.Row) (domain.NormalizedEvent, error) {
	var (
		e                                domain.NormalizedEvent
		summary, description, location   sql.NullString
		created, updated                 sql.NullString
		recurrence, attendees, organizer sql.NullString
		raw, contentHash, syncedAt       string
	)
	if err := row.Scan(&e.ProviderID, &e.CalendarID, &e.Status, &summary, &description, &location,
		&created, &updated, &e.Start, &e.End, &e.AllDay, &recurrence, &attendees,
		&organizer, &raw, &contentHash, &syncedAt); err != nil {
		return e, err
	}

	e.Summary = ptrFromNull(summary)
	e.Description = ptrFromNull(description)
	e.Location = ptrFromNull(location)
	e.Raw = json.RawMessage(raw)

	var err error
	if t, err := database.ParseNullTime(created); err != nil {
		return e, err
	} else if t != nil {
		e.Created = *t
	}
	if t, err := database.ParseNullTime(updated); err != nil {
		return e, err
	} else if t != nil {
		e.Updated = *t
	}
	if e.SyncedAt, err = database.ParseTime(syncedAt); err != nil {
		return e, err
	}
	if recurrence.Valid {
		if err := json.Unmarshal([]byte(recurrence.String), &e.Recurrence); err != nil {
			return e, fmt.Errorf("decode recurrence: %w", err)
		}
	}
	if attendees.Valid {
		if err := json.Unmarshal([]byte(attendees.String), &e.Attendees); err != nil {
			return e, fmt.Errorf("decode attendees: %w", err)
		}
	}
	if organizer.Valid {
		e.Organizer = &domain.Organizer{}
		if err := json.Unmarshal([]byte(organizer.String), e.Organizer); err != nil {
			return e, fmt.Errorf("decode organizer: %w", err)
		}
	}
	return e, nil
}

func nullJSON(v any, present bool) (sql.NullString, error) {
	if !present {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func ptrFromNull(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return database.NullTime(&t)
}
