// Package mongo stores users, their calendar credential and authorization
// states in MongoDB.
package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/felixgeelhaar/blade/internal/identity/application/oauth"
	"github.com/felixgeelhaar/blade/internal/identity/domain"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/database/mongodb"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	_ domain.UserRepository = (*UserRepository)(nil)
	_ oauth.CredentialStore = (*UserRepository)(nil)
)

type credentialDocument struct {
	RefreshToken []byte    `bson:"refreshToken"`
	AccessToken  []byte    `bson:"accessToken,omitempty"`
	TokenType    string    `bson:"tokenType,omitempty"`
	ExpiresAt    time.Time `bson:"expiresAt,omitempty"`
	Scopes       []string  `bson:"scopes,omitempty"`
	UpdatedAt    time.Time `bson:"updatedAt"`
}

type userDocument struct {
	ID                 string              `bson:"_id"`
	Email              string              `bson:"email"`
	Name               string              `bson:"name"`
	Username           string              `bson:"username,omitempty"`
	Squad              string              `bson:"squad,omitempty"`
	Age                *int                `bson:"age,omitempty"`
	Weight             *float64            `bson:"weight,omitempty"`
	Height             *float64            `bson:"height,omitempty"`
	CreatedAt          time.Time           `bson:"createdAt"`
	UpdatedAt          time.Time           `bson:"updatedAt"`
	CalendarCredential *credentialDocument `bson:"calendarCredential,omitempty"`
}

// UserRepository keeps users in the users collection with the credential
// embedded as calendarCredential.
type UserRepository struct {
	coll *mongo.Collection
}

// NewUserRepository creates a user repository on store.
func NewUserRepository(store *mongodb.Store) *UserRepository {
	return &UserRepository{coll: store.Collection(mongodb.Users)}
}

// Create inserts a new user.
func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	p := user.Profile()
	doc := userDocument{
		ID:        user.ID().String(),
		Email:     user.Email().String(),
		Name:      user.Name().String(),
		Username:  p.Username,
		Squad:     p.Squad,
		Age:       p.Age,
		Weight:    p.Weight,
		Height:    p.Height,
		CreatedAt: user.CreatedAt(),
		UpdatedAt: user.UpdatedAt(),
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if mongodb.IsDuplicateKey(err) {
			return domain.ErrDuplicateUser
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// FindByID returns the user with id.
func (r *UserRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return r.findOne(ctx, bson.M{"_id": id.String()})
}

// FindByEmail returns the user registered with email.
func (r *UserRepository) FindByEmail(ctx context.Context, email domain.Email) (*domain.User, error) {
	return r.findOne(ctx, bson.M{"email": email.String()})
}

func (r *UserRepository) findOne(ctx context.Context, filter bson.M) (*domain.User, error) {
	var doc userDocument
	opts := options.FindOne().SetProjection(bson.M{"calendarCredential": 0})
	if err := r.coll.FindOne(ctx, filter, opts).Decode(&doc); err != nil {
		if mongodb.IsNotFound(err) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}

	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}
	email, err := domain.NewEmail(doc.Email)
	if err != nil {
		return nil, err
	}
	name, err := domain.NewName(doc.Name)
	if err != nil {
		return nil, err
	}
	profile := domain.Profile{
		Username: doc.Username,
		Squad:    doc.Squad,
		Age:      doc.Age,
		Weight:   doc.Weight,
		Height:   doc.Height,
	}
	return domain.RehydrateUser(id, email, name, profile, doc.CreatedAt, doc.UpdatedAt), nil
}

// Get returns the encrypted credential for userID.
func (r *UserRepository) Get(ctx context.Context, userID uuid.UUID) (*oauth.StoredCredential, error) {
	var doc userDocument
	opts := options.FindOne().SetProjection(bson.M{"_id": 1, "calendarCredential": 1})
	if err := r.coll.FindOne(ctx, bson.M{"_id": userID.String()}, opts).Decode(&doc); err != nil {
		if mongodb.IsNotFound(err) {
			return nil, oauth.ErrCredentialNotFound
		}
		return nil, fmt.Errorf("load credential: %w", err)
	}
	c := doc.CalendarCredential
	if c == nil || len(c.RefreshToken) == 0 {
		return nil, oauth.ErrCredentialNotFound
	}
	return &oauth.StoredCredential{
		UserID:       userID,
		RefreshToken: c.RefreshToken,
		AccessToken:  c.AccessToken,
		TokenType:    c.TokenType,
		Expiry:       c.ExpiresAt,
		Scopes:       c.Scopes,
		UpdatedAt:    c.UpdatedAt,
	}, nil
}

// Save sets the embedded credential.
func (r *UserRepository) Save(ctx context.Context, cred oauth.StoredCredential) error {
	matched, err := r.writeCredential(ctx, cred, bson.M{"_id": cred.UserID.String()})
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	if matched == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// UpdateRefreshed sets the embedded credential only while it still holds
// expectedRefresh.
func (r *UserRepository) UpdateRefreshed(ctx context.Context, cred oauth.StoredCredential, expectedRefresh []byte) (bool, error) {
	matched, err := r.writeCredential(ctx, cred, bson.M{
		"_id":                             cred.UserID.String(),
		"calendarCredential.refreshToken": expectedRefresh,
	})
	if err != nil {
		return false, fmt.Errorf("update refreshed credential: %w", err)
	}
	return matched > 0, nil
}

func (r *UserRepository) writeCredential(ctx context.Context, cred oauth.StoredCredential, filter bson.M) (int64, error) {
	updatedAt := cred.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	doc := credentialDocument{
		RefreshToken: cred.RefreshToken,
		AccessToken:  cred.AccessToken,
		TokenType:    cred.TokenType,
		ExpiresAt:    cred.Expiry,
		Scopes:       cred.Scopes,
		UpdatedAt:    updatedAt,
	}
	res, err := r.coll.UpdateOne(ctx, filter,
		bson.M{"$set": bson.M{"calendarCredential": doc, "updatedAt": updatedAt}},
	)
	if err != nil {
		return 0, err
	}
	return res.MatchedCount, nil
}

// Delete removes the embedded credential.
func (r *UserRepository) Delete(ctx context.Context, userID uuid.UUID) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": userID.String(), "calendarCredential": bson.M{"$exists": true}},
		bson.M{
			"$unset": bson.M{"calendarCredential": ""},
			"$set":   bson.M{"updatedAt": time.Now().UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if res.MatchedCount == 0 {
		return oauth.ErrCredentialNotFound
	}
	return nil
}
