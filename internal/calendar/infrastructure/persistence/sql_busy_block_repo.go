package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/felixgeelhaar/blade/internal/calendar/domain"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/database"
	"github.com/google/uuid"
)

var _ domain.BusyBlockRepository = (*SQLBusyBlockRepository)(nil)

// SQLBusyBlockRepository stores busy blocks in the busy_blocks table.
type SQLBusyBlockRepository struct {
	conn database.Connection
}

// NewSQLBusyBlockRepository creates a busy block repository on conn.
func NewSQLBusyBlockRepository(conn database.Connection) *SQLBusyBlockRepository {
	return &SQLBusyBlockRepository{conn: conn}
}

func (r *SQLBusyBlockRepository) q(query string) string {
	return database.Rebind(r.conn.Driver(), query)
}

const busyBlockColumns = `id, owner_id, owner_email, start_time, end_time, busy_date,
	group_name, source, label, description, synced_at, created_at`

// LockOwner takes a transaction-scoped advisory lock on PostgreSQL, released
// at commit or rollback. SQLite already serialises writers, so it is a no-op
// there.
func (r *SQLBusyBlockRepository) LockOwner(ctx context.Context, ownerID uuid.UUID) (func(), error) {
	release := func() {}
	if r.conn.Driver() != database.DriverPostgres {
		return release, nil
	}
	if database.TxFromContext(ctx) == nil {
		return nil, database.ErrNoTransaction
	}
	_, err := database.ExecutorFromContext(ctx, r.conn).Exec(ctx,
		r.q(`SELECT pg_advisory_xact_lock(hashtext(?))`), "busy_blocks:"+ownerID.String())
	if err != nil {
		return nil, fmt.Errorf("lock owner %s: %w", ownerID, err)
	}
	return release, nil
}

// Save inserts one block.
func (r *SQLBusyBlockRepository) Save(ctx context.Context, block *domain.BusyBlock) error {
	return r.SaveBatch(ctx, []*domain.BusyBlock{block})
}

// SaveBatch inserts blocks, joining the transaction in ctx.
func (r *SQLBusyBlockRepository) SaveBatch(ctx context.Context, blocks []*domain.BusyBlock) error {
	exec := database.ExecutorFromContext(ctx, r.conn)
	query := r.q(`INSERT INTO busy_blocks (` + busyBlockColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	for _, b := range blocks {
		owner := b.Owner()
		if _, err := exec.Exec(ctx, query,
			b.ID().String(),
			owner.ID.String(),
			owner.Email,
			database.FormatTime(b.Start()),
			database.FormatTime(b.End()),
			b.Date(),
			nullString(owner.Group),
			b.Source().String(),
			nullString(b.Label()),
			nullString(b.Description()),
			database.NullTime(b.SyncedAt()),
			database.FormatTime(b.CreatedAt()),
		); err != nil {
			return fmt.Errorf("insert busy block %s: %w", b.ID(), err)
		}
	}
	return nil
}

// FindByID returns one block.
func (r *SQLBusyBlockRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.BusyBlock, error) {
	row := database.ExecutorFromContext(ctx, r.conn).QueryRow(ctx,
		r.q(`SELECT `+busyBlockColumns+` FROM busy_blocks WHERE id = ?`), id.String())
	block, err := scanBusyBlock(row)
	if database.IsNoRows(err) {
		return nil, domain.ErrBusyBlockNotFound
	}
	return block, err
}

// ListByOwner returns an owner's blocks of every source ordered by start.
func (r *SQLBusyBlockRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*domain.BusyBlock, error) {
	rows, err := database.ExecutorFromContext(ctx, r.conn).Query(ctx,
		r.q(`SELECT `+busyBlockColumns+` FROM busy_blocks WHERE owner_id = ? ORDER BY start_time, id`),
		ownerID.String())
	if err != nil {
		return nil, fmt.Errorf("list busy blocks: %w", err)
	}
	defer rows.Close()

	var blocks []*domain.BusyBlock
	for rows.Next() {
		block, err := scanBusyBlock(rows)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	return blocks, rows.Err()
}

// Delete removes one block.
func (r *SQLBusyBlockRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := database.ExecutorFromContext(ctx, r.conn).Exec(ctx,
		r.q(`DELETE FROM busy_blocks WHERE id = ?`), id.String())
	if err != nil {
		return fmt.Errorf("delete busy block: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrBusyBlockNotFound
	}
	return nil
}

// DeleteByOwnerAndSource removes every block of one source for an owner.
func (r *SQLBusyBlockRepository) DeleteByOwnerAndSource(ctx context.Context, ownerID uuid.UUID, source domain.BusySource) (int, error) {
	res, err := database.ExecutorFromContext(ctx, r.conn).Exec(ctx,
		r.q(`DELETE FROM busy_blocks WHERE owner_id = ? AND source = ?`),
		ownerID.String(), source.String())
	if err != nil {
		return 0, fmt.Errorf("delete busy blocks: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanBusyBlock(row database.Row) (*domain.BusyBlock, error) {
	var (
		id, ownerID, ownerEmail, start, end, date, source, createdAt string
		group, label, description, syncedAt                          sql.NullString
	)
	if err := row.Scan(&id, &ownerID, &ownerEmail, &start, &end, &date,
		&group, &source, &label, &description, &syncedAt, &createdAt); err != nil {
		return nil, err
	}

	blockID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse busy block id: %w", err)
	}
	owner, err := uuid.Parse(ownerID)
	if err != nil {
		return nil, fmt.Errorf("parse owner id: %w", err)
	}
	startTime, err := database.ParseTime(start)
	if err != nil {
		return nil, err
	}
	endTime, err := database.ParseTime(end)
	if err != nil {
		return nil, err
	}
	created, err := database.ParseTime(createdAt)
	if err != nil {
		return nil, err
	}
	synced, err := database.ParseNullTime(syncedAt)
	if err != nil {
		return nil, err
	}

	return domain.RehydrateBusyBlock(
		blockID,
		domain.Owner{ID: owner, Email: ownerEmail, Group: group.String},
		startTime, endTime,
		date,
		domain.BusySource(source),
		label.String, description.String,
		synced,
		created,
	), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
