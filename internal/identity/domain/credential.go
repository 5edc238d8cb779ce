package domain

import (
	"errors"
	"time"
)

// ErrEmptyRefreshToken is returned when a credential would be stored without a refresh token.
var ErrEmptyRefreshToken = errors.New("refresh token is required")

// UserCredential is the decrypted calendar grant for one user. Its absence
// means the user has not connected a calendar.
type UserCredential struct {
	RefreshToken string
	AccessToken  string
	TokenType    string
	ExpiresAt    time.Time
	Scopes       []string
}

// NewUserCredential enforces that a credential always carries a refresh token.
func NewUserCredential(refreshToken, accessToken, tokenType string, expiresAt time.Time, scopes []string) (UserCredential, error) {
	if refreshToken == "" {
		return UserCredential{}, ErrEmptyRefreshToken
	}
	return UserCredential{
		RefreshToken: refreshToken,
		AccessToken:  accessToken,
		TokenType:    tokenType,
		ExpiresAt:    expiresAt,
		Scopes:       scopes,
	}, nil
}

// AccessTokenValid reports whether the cached access token can be used at now,
// keeping a skew margin so it does not expire mid-request.
func (c UserCredential) AccessTokenValid(now time.Time, skew time.Duration) bool {
	if c.AccessToken == "" || c.ExpiresAt.IsZero() {
		return false
	}
	return now.Add(skew).Before(c.ExpiresAt)
}
