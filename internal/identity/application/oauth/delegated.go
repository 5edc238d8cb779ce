package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	calendarDomain "github.com/felixgeelhaar/blade/internal/calendar/domain"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/security"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// ErrConnectUnsupported is returned when a connect URL is requested in
// service-account mode.
var ErrConnectUnsupported = errors.New("connect flow is not used with domain-wide delegation")

// DelegatedService issues tokens through a service account with domain-wide
// delegation. Every user is considered connected; the provider decides at
// token time whether the subject may be impersonated.
type DelegatedService struct {
	key        []byte
	scopes     []string
	tokenURL   string
	httpClient *http.Client
}

// NewDelegatedService reads the service-account key at keyFile and validates it.
// tokenURL overrides the key's token endpoint when set.
func NewDelegatedService(keyFile string, scopes []string, tokenURL string, httpClient *http.Client) (*DelegatedService, error) {
	key, err := security.ReadSecretFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("read service account key: %w", err)
	}
	return NewDelegatedServiceFromJSON(key, scopes, tokenURL, httpClient)
}

// NewDelegatedServiceFromJSON builds a DelegatedService from key material.
func NewDelegatedServiceFromJSON(key []byte, scopes []string, tokenURL string, httpClient *http.Client) (*DelegatedService, error) {
	if len(scopes) == 0 {
		return nil, errors.New("service account scopes are required")
	}
	if _, err := google.JWTConfigFromJSON(key, scopes...); err != nil {
		return nil, fmt.Errorf("parse service account key: %w", err)
	}
	return &DelegatedService{key: key, scopes: scopes, tokenURL: tokenURL, httpClient: httpClient}, nil
}

// Connected is always true in service-account mode.
func (d *DelegatedService) Connected(context.Context, uuid.UUID) (bool, error) {
	return true, nil
}

// BeginAuthorization is not available in service-account mode.
func (d *DelegatedService) BeginAuthorization(context.Context, uuid.UUID) (string, error) {
	return "", ErrConnectUnsupported
}

// TokenSource impersonates subject.Email.
func (d *DelegatedService) TokenSource(ctx context.Context, subject Subject) (oauth2.TokenSource, error) {
	if subject.Email == "" {
		return nil, calendarDomain.ErrNotConnected
	}
	cfg, err := google.JWTConfigFromJSON(d.key, d.scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse service account key: %w", err)
	}
	cfg.Subject = subject.Email
	if d.tokenURL != "" {
		cfg.TokenURL = d.tokenURL
	}
	if d.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, d.httpClient)
	}
	return classifyingTokenSource{base: cfg.TokenSource(ctx)}, nil
}
