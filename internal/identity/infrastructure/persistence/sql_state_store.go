package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/felixgeelhaar/blade/internal/identity/application/oauth"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/database"
	"github.com/google/uuid"
)

var _ oauth.StateStore = (*SQLStateStore)(nil)

// SQLStateStore keeps authorization states in the oauth_states table.
type SQLStateStore struct {
	conn database.Connection
	now  func() time.Time
}

// NewSQLStateStore creates a state store on conn.
func NewSQLStateStore(conn database.Connection) *SQLStateStore {
	return &SQLStateStore{conn: conn, now: time.Now}
}

func (s *SQLStateStore) q(query string) string {
	return database.Rebind(s.conn.Driver(), query)
}

// Put stores state for ttl and drops any expired states.
func (s *SQLStateStore) Put(ctx context.Context, state string, userID uuid.UUID, ttl time.Duration) error {
	exec := database.ExecutorFromContext(ctx, s.conn)
	now := s.now()
	if _, err := exec.Exec(ctx, s.q(`DELETE FROM oauth_states WHERE expires_at < ?`), database.FormatTime(now)); err != nil {
		return fmt.Errorf("purge expired states: %w", err)
	}
	if _, err := exec.Exec(ctx,
		s.q(`INSERT INTO oauth_states (state, user_id, expires_at) VALUES (?, ?, ?)`),
		state, userID.String(), database.FormatTime(now.Add(ttl)),
	); err != nil {
		return fmt.Errorf("insert state: %w", err)
	}
	return nil
}

// Consume deletes state and returns its user. The delete and read are one
// statement, so two concurrent callbacks cannot both succeed.
func (s *SQLStateStore) Consume(ctx context.Context, state string) (uuid.UUID, error) {
	var userID, expiresAt string
	err := database.ExecutorFromContext(ctx, s.conn).QueryRow(ctx,
		s.q(`DELETE FROM oauth_states WHERE state = ? RETURNING user_id, expires_at`), state,
	).Scan(&userID, &expiresAt)
	if err != nil {
		if database.IsNoRows(err) {
			return uuid.Nil, oauth.ErrStateNotFound
		}
		return uuid.Nil, fmt.Errorf("consume state: %w", err)
	}

	expiry, err := database.ParseTime(expiresAt)
	if err != nil {
		return uuid.Nil, err
	}
	if !s.now().Before(expiry) {
		return uuid.Nil, oauth.ErrStateNotFound
	}
	return uuid.Parse(userID)
}
