package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/database"
	"github.com/google/uuid"
)

// SQLRepository stores the outbox in the outbox_messages table on SQLite or PostgreSQL.
type SQLRepository struct {
	conn database.Connection
}

// NewSQLRepository creates an outbox repository on conn.
func NewSQLRepository(conn database.Connection) *SQLRepository {
	return &SQLRepository{conn: conn}
}

func (r *SQLRepository) q(query string) string {
	return database.Rebind(r.conn.Driver(), query)
}

// SaveBatch inserts messages in the caller's transaction when one is present.
func (r *SQLRepository) SaveBatch(ctx context.Context, msgs []*Message) error {
	exec := database.ExecutorFromContext(ctx, r.conn)
	query := r.q(`INSERT INTO outbox_messages
		(event_id, aggregate_type, aggregate_id, routing_key, payload, created_at, retry_count)
		VALUES (?, ?, ?, ?, ?, ?, 0)`)

	for _, msg := range msgs {
		if _, err := exec.Exec(ctx, query,
			msg.EventID.String(),
			msg.AggregateType,
			msg.AggregateID.String(),
			msg.RoutingKey,
			string(msg.Payload),
			database.FormatTime(msg.CreatedAt),
		); err != nil {
			return fmt.Errorf("save outbox message %s: %w", msg.EventID, err)
		}
	}
	return nil
}

// FetchPending returns due messages, oldest first.
func (r *SQLRepository) FetchPending(ctx context.Context, limit int, now time.Time) ([]*Message, error) {
	exec := database.ExecutorFromContext(ctx, r.conn)
	rows, err := exec.Query(ctx, r.q(`SELECT event_id, aggregate_type, aggregate_id, routing_key, payload,
			created_at, retry_count, last_error, next_retry_at
		FROM outbox_messages
		WHERE published_at IS NULL
		  AND dead_lettered_at IS NULL
		  AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY created_at, event_id
		LIMIT ?`), database.FormatTime(now), limit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending outbox messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var (
			eventID, aggregateID, createdAt, payload string
			lastError, nextRetryAt                   sql.NullString
			msg                                      Message
		)
		if err := rows.Scan(&eventID, &msg.AggregateType, &aggregateID, &msg.RoutingKey, &payload,
			&createdAt, &msg.RetryCount, &lastError, &nextRetryAt); err != nil {
			return nil, err
		}
		if msg.EventID, err = uuid.Parse(eventID); err != nil {
			return nil, err
		}
		if msg.AggregateID, err = uuid.Parse(aggregateID); err != nil {
			return nil, err
		}
		msg.Payload = []byte(payload)
		msg.LastError = lastError.String
		if msg.CreatedAt, err = database.ParseTime(createdAt); err != nil {
			return nil, err
		}
		if msg.NextRetryAt, err = database.ParseNullTime(nextRetryAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}

// MarkPublished marks a message as published.
func (r *SQLRepository) MarkPublished(ctx context.Context, eventID uuid.UUID, at time.Time) error {
	_, err := database.ExecutorFromContext(ctx, r.conn).Exec(ctx,
		r.q(`UPDATE outbox_messages SET published_at = ? WHERE event_id = ?`),
		database.FormatTime(at), eventID.String())
	return err
}

// MarkFailed records a failed attempt.
func (r *SQLRepository) MarkFailed(ctx context.Context, eventID uuid.UUID, errMsg string, nextRetryAt time.Time) error {
	_, err := database.ExecutorFromContext(ctx, r.conn).Exec(ctx,
		r.q(`UPDATE outbox_messages
			SET retry_count = retry_count + 1, last_error = ?, next_retry_at = ?
			WHERE event_id = ?`),
		errMsg, database.FormatTime(nextRetryAt), eventID.String())
	return err
}

// MarkDead dead-letters a message.
func (r *SQLRepository) MarkDead(ctx context.Context, eventID uuid.UUID, reason string, at time.Time) error {
	_, err := database.ExecutorFromContext(ctx, r.conn).Exec(ctx,
		r.q(`UPDATE outbox_messages
			SET retry_count = retry_count + 1, last_error = ?, dead_lettered_at = ?
			WHERE event_id = ?`),
		reason, database.FormatTime(at), eventID.String())
	return err
}

// PurgePublished deletes published messages older than before.
func (r *SQLRepository) PurgePublished(ctx context.Context, before time.Time) (int64, error) {
	res, err := database.ExecutorFromContext(ctx, r.conn).Exec(ctx,
		r.q(`DELETE FROM outbox_messages WHERE published_at IS NOT NULL AND published_at < ?`),
		database.FormatTime(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
