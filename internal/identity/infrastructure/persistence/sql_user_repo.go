package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/blade/internal/identity/application/oauth"
	"github.com/felixgeelhaar/blade/internal/identity/domain"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/database"
	"github.com/google/uuid"
)

var (
	_ domain.UserRepository = (*SQLUserRepository)(nil)
	_ oauth.CredentialStore = (*SQLUserRepository)(nil)
)

// SQLUserRepository stores users in the users table. The calendar credential
// lives in the credential_* columns of the same row.
type SQLUserRepository struct {
	conn database.Connection
}

// NewSQLUserRepository creates a user repository on conn.
func NewSQLUserRepository(conn database.Connection) *SQLUserRepository {
	return &SQLUserRepository{conn: conn}
}

func (r *SQLUserRepository) q(query string) string {
	return database.Rebind(r.conn.Driver(), query)
}

const userColumns = `id, email, name, username, squad, age, weight, height, created_at, updated_at`

// Create inserts a new user. A taken email or name yields ErrDuplicateUser.
func (r *SQLUserRepository) Create(ctx context.Context, user *domain.User) error {
	p := user.Profile()
	var (
		age            sql.NullInt64
		weight, height sql.NullFloat64
	)
	if p.Age != nil {
		age = sql.NullInt64{Int64: int64(*p.Age), Valid: true}
	}
	if p.Weight != nil {
		weight = sql.NullFloat64{Float64: *p.Weight, Valid: true}
	}
	if p.Height != nil {
		height = sql.NullFloat64{Float64: *p.Height, Valid: true}
	}

	_, err := database.ExecutorFromContext(ctx, r.conn).Exec(ctx,
		r.q(`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		user.ID().String(),
		user.Email().String(),
		user.Name().String(),
		nullString(p.Username),
		nullString(p.Squad),
		age,
		weight,
		height,
		database.FormatTime(user.CreatedAt()),
		database.FormatTime(user.UpdatedAt()),
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return domain.ErrDuplicateUser
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// FindByID returns the user with id.
func (r *SQLUserRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	row := database.ExecutorFromContext(ctx, r.conn).QueryRow(ctx,
		r.q(`SELECT `+userColumns+` FROM users WHERE id = ?`), id.String())
	return scanUser(row)
}

// FindByEmail returns the user registered with email.
func (r *SQLUserRepository) FindByEmail(ctx context.Context, email domain.Email) (*domain.User, error) {
	row := database.ExecutorFromContext(ctx, r.conn).QueryRow(ctx,
		r.q(`SELECT `+userColumns+` FROM users WHERE email = ?`), email.String())
	return scanUser(row)
}

func scanUser(row database.Row) (*domain.User, error) {
	var (
		id, emailValue, nameValue, createdAt, updatedAt string
		username, squad                                 sql.NullString
		age                                             sql.NullInt64
		weight, height                                  sql.NullFloat64
	)
	if err := row.Scan(&id, &emailValue, &nameValue, &username, &squad, &age, &weight, &height, &createdAt, &updatedAt); err != nil {
		if database.IsNoRows(err) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	userID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}
	email, err := domain.NewEmail(emailValue)
	if err != nil {
		return nil, err
	}
	name, err := domain.NewName(nameValue)
	if err != nil {
		return nil, err
	}
	created, err := database.ParseTime(createdAt)
	if err != nil {
		return nil, err
	}
	updated, err := database.ParseTime(updatedAt)
	if err != nil {
		return nil, err
	}

	profile := domain.Profile{Username: username.String, Squad: squad.String}
	if age.Valid {
		v := int(age.Int64)
		profile.Age = &v
	}
	if weight.Valid {
		profile.Weight = &weight.Float64
	}
	if height.Valid {
		profile.Height = &height.Float64
	}
	return domain.RehydrateUser(userID, email, name, profile, created, updated), nil
}

// Get returns the encrypted credential for userID.
func (r *SQLUserRepository) Get(ctx context.Context, userID uuid.UUID) (*oauth.StoredCredential, error) {
	var (
		refresh, access              []byte
		tokenType, expiresAt, scopes sql.NullString
		credUpdatedAt                sql.NullString
	)
	err := database.ExecutorFromContext(ctx, r.conn).QueryRow(ctx,
		r.q(`SELECT credential_refresh_token, credential_access_token, credential_token_type,
				credential_expires_at, credential_scopes, credential_updated_at
			FROM users WHERE id = ?`), userID.String(),
	).Scan(&refresh, &access, &tokenType, &expiresAt, &scopes, &credUpdatedAt)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, oauth.ErrCredentialNotFound
		}
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if len(refresh) == 0 {
		return nil, oauth.ErrCredentialNotFound
	}

	cred := &oauth.StoredCredential{
		UserID:       userID,
		RefreshToken: refresh,
		AccessToken:  access,
		TokenType:    tokenType.String,
		Scopes:       strings.Fields(scopes.String),
	}
	if expiry, err := database.ParseNullTime(expiresAt); err != nil {
		return nil, err
	} else if expiry != nil {
		cred.Expiry = *expiry
	}
	if updated, err := database.ParseNullTime(credUpdatedAt); err != nil {
		return nil, err
	} else if updated != nil {
		cred.UpdatedAt = *updated
	}
	return cred, nil
}

// Save writes cred onto its user's row.
func (r *SQLUserRepository) Save(ctx context.Context, cred oauth.StoredCredential) error {
	n, err := r.writeCredential(ctx, cred, "")
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	if n == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// UpdateRefreshed writes cred only while the row still holds expectedRefresh.
func (r *SQLUserRepository) UpdateRefreshed(ctx context.Context, cred oauth.StoredCredential, expectedRefresh []byte) (bool, error) {
	n, err := r.writeCredential(ctx, cred, ` AND credential_refresh_token = ?`, expectedRefresh)
	if err != nil {
		return false, fmt.Errorf("update refreshed credential: %w", err)
	}
	return n > 0, nil
}

func (r *SQLUserRepository) writeCredential(ctx context.Context, cred oauth.StoredCredential, cond string, condArgs ...any) (int64, error) {
	var expiry *time.Time
	if !cred.Expiry.IsZero() {
		expiry = &cred.Expiry
	}
	updatedAt := cred.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	res, err := database.ExecutorFromContext(ctx, r.conn).Exec(ctx,
		r.q(`UPDATE users SET
				credential_refresh_token = ?,
				credential_access_token = ?,
				credential_token_type = ?,
				credential_expires_at = ?,
				credential_scopes = ?,
				credential_updated_at = ?,
				updated_at = ?
			WHERE id = ?`+cond),
		append([]any{
			cred.RefreshToken,
			cred.AccessToken,
			nullString(cred.TokenType),
			database.NullTime(expiry),
			nullString(strings.Join(cred.Scopes, " ")),
			database.FormatTime(updatedAt),
			database.FormatTime(updatedAt),
			cred.UserID.String(),
		}, condArgs...)...,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Delete clears the credential columns for userID.
func (r *SQLUserRepository) Delete(ctx context.Context, userID uuid.UUID) error {
	res, err := database.ExecutorFromContext(ctx, r.conn).Exec(ctx,
		r.q(`UPDATE users SET
				credential_refresh_token = NULL,
				credential_access_token = NULL,
				credential_token_type = NULL,
				credential_expires_at = NULL,
				credential_scopes = NULL,
				credential_updated_at = NULL,
				updated_at = ?
			WHERE id = ? AND credential_refresh_token IS NOT NULL`),
		database.FormatTime(time.Now()), userID.String())
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return oauth.ErrCredentialNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
