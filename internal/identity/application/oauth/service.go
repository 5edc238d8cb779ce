package oauth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	calendarDomain "github.com/felixgeelhaar/blade/internal/calendar/domain"
	identityDomain "github.com/felixgeelhaar/blade/internal/identity/domain"
	"github.com/felixgeelhaar/blade/internal/shared/application"
	sharedCrypto "github.com/felixgeelhaar/blade/internal/shared/infrastructure/crypto"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/metrics"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/outbox"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// DefaultStateTTL bounds one authorization round trip.
const DefaultStateTTL = 10 * time.Minute

// Config configures the authorization-code flow.
type Config struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RedirectURL  string
	RevokeURL    string
	Scopes       []string
	StateTTL     time.Duration
	// HTTPClient is used for token and revoke calls. Nil means http.DefaultClient.
	HTTPClient *http.Client
}

// Service runs the OAuth authorization-code flow and hands out refreshing
// token sources backed by the credential store.
type Service struct {
	oauthConfig *oauth2.Config
	revokeURL   string
	stateTTL    time.Duration
	httpClient  *http.Client
	creds       CredentialStore
	states      StateStore
	encrypter   sharedCrypto.Encrypter
	outboxRepo  outbox.Repository
	uow         application.UnitOfWork
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithOutbox records credential events through repo inside uow.
func WithOutbox(repo outbox.Repository, uow application.UnitOfWork) Option {
	return func(s *Service) {
		s.outboxRepo = repo
		s.uow = uow
	}
}

// WithMetrics counts token refresh outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new OAuth service.
func NewService(cfg Config, creds CredentialStore, states StateStore, encrypter sharedCrypto.Encrypter, opts ...Option) (*Service, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.AuthURL == "" || cfg.TokenURL == "" || cfg.RedirectURL == "" {
		return nil, errors.New("oauth configuration is incomplete")
	}
	if creds == nil || states == nil || encrypter == nil {
		return nil, errors.New("oauth dependencies are required")
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = DefaultStateTTL
	}

	s := &Service{
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
			RedirectURL: cfg.RedirectURL,
			Scopes:      cfg.Scopes,
		},
		revokeURL:  cfg.RevokeURL,
		stateTTL:   cfg.StateTTL,
		httpClient: cfg.HTTPClient,
		creds:      creds,
		states:     states,
		encrypter:  encrypter,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AuthorizationURL returns the provider consent URL for state. It always asks
// for offline access and forces the consent screen so a refresh token is issued.
func (s *Service) AuthorizationURL(state string) string {
	return s.oauthConfig.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	)
}

// BeginAuthorization issues a single-use state for userID and returns the consent URL.
func (s *Service) BeginAuthorization(ctx context.Context, userID uuid.UUID) (string, error) {
	state := NewState(userID)
	if err := s.states.Put(ctx, state, userID, s.stateTTL); err != nil {
		return "", fmt.Errorf("store authorization state: %w", err)
	}
	return s.AuthorizationURL(state), nil
}

// NewState returns "<userID>.<nonce>". The nonce makes it unguessable and the
// prefix lets a callback be traced to a user before the store is consulted.
func NewState(userID uuid.UUID) string {
	return userID.String() + "." + rand.Text()
}

// CompleteAuthorization consumes state, exchanges code and stores the
// resulting credential. Nothing is stored when any step fails.
func (s *Service) CompleteAuthorization(ctx context.Context, code, state string) (uuid.UUID, error) {
	userID, err := s.states.Consume(ctx, state)
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return uuid.Nil, fmt.Errorf("%w: unknown or reused state", calendarDomain.ErrAuthorization)
		}
		return uuid.Nil, fmt.Errorf("consume authorization state: %w", err)
	}
	if prefix, _, _ := strings.Cut(state, "."); prefix != userID.String() {
		return uuid.Nil, fmt.Errorf("%w: state does not match user", calendarDomain.ErrAuthorization)
	}
	if code == "" {
		return uuid.Nil, fmt.Errorf("%w: missing authorization code", calendarDomain.ErrTokenExchange)
	}

	token, err := s.oauthConfig.Exchange(s.clientContext(ctx), code)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return uuid.Nil, fmt.Errorf("%w: %s", calendarDomain.ErrTokenExchange, describeRetrieveError(re))
		}
		return uuid.Nil, fmt.Errorf("%w: %w", calendarDomain.ErrTokenExchange, err)
	}

	cred, err := identityDomain.NewUserCredential(token.RefreshToken, token.AccessToken, token.TokenType, token.Expiry, s.oauthConfig.Scopes)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %w", calendarDomain.ErrTokenExchange, err)
	}
	stored, err := s.seal(userID, cred)
	if err != nil {
		return uuid.Nil, err
	}

	err = application.WithUnitOfWork(ctx, s.uow, func(txCtx context.Context) error {
		if err := s.creds.Save(txCtx, stored); err != nil {
			return fmt.Errorf("save credential: %w", err)
		}
		return outbox.Record(txCtx, s.outboxRepo, identityDomain.NewCredentialConnected(userID, cred.Scopes))
	})
	if err != nil {
		return uuid.Nil, err
	}

	s.logger.Info("calendar connected", "operation", "complete_authorization", "user_id", userID.String())
	return userID, nil
}

// Credential returns the decrypted credential for userID, or
// ErrNotConnected when there is none.
func (s *Service) Credential(ctx context.Context, userID uuid.UUID) (identityDomain.UserCredential, error) {
	stored, err := s.creds.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return identityDomain.UserCredential{}, calendarDomain.ErrNotConnected
		}
		return identityDomain.UserCredential{}, fmt.Errorf("load credential: %w", err)
	}
	return s.open(stored)
}

// Connected reports whether userID has a stored credential.
func (s *Service) Connected(ctx context.Context, userID uuid.UUID) (bool, error) {
	_, err := s.creds.Get(ctx, userID)
	if errors.Is(err, ErrCredentialNotFound) {
		return false, nil
	}
	return err == nil, err
}

// TokenSource returns a token source for subject that refreshes on demand
// and writes every refreshed token back to the store. A write-back is dropped
// when the credential was deleted or replaced after the source was created.
func (s *Service) TokenSource(ctx context.Context, subject Subject) (oauth2.TokenSource, error) {
	stored, err := s.creds.Get(ctx, subject.UserID)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return nil, calendarDomain.ErrNotConnected
		}
		return nil, fmt.Errorf("load credential: %w", err)
	}
	cred, err := s.open(stored)
	if err != nil {
		return nil, err
	}

	initial := &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenType:    cred.TokenType,
		Expiry:       cred.ExpiresAt,
	}
	if initial.AccessToken == "" {
		// Forces a refresh on first use.
		initial.Expiry = time.Unix(1, 0)
	}

	userID := subject.UserID
	scopes := cred.Scopes
	expected := stored.RefreshToken
	logger := s.logger.With("user_id", userID.String())
	return &persistingTokenSource{
		base: s.oauthConfig.TokenSource(s.clientContext(ctx), initial),
		last: initial,
		persist: func(t *oauth2.Token) error {
			refresh := t.RefreshToken
			if refresh == "" {
				refresh = cred.RefreshToken
			}
			next, err := identityDomain.NewUserCredential(refresh, t.AccessToken, t.TokenType, t.Expiry, scopes)
			if err != nil {
				return err
			}
			sealed, err := s.seal(userID, next)
			if err != nil {
				return err
			}
			applied, err := s.creds.UpdateRefreshed(ctx, sealed, expected)
			if err != nil {
				return err
			}
			if !applied {
				logger.Info("credential changed during refresh, dropping refreshed token", "operation", "token_refresh")
				return nil
			}
			expected = sealed.RefreshToken
			return nil
		},
		metrics: s.metrics,
		logger:  logger,
	}, nil
}

// Revoke asks the provider to invalidate userID's grant. Callers treat it as
// best effort; without a revoke endpoint it returns ErrRevocationDisabled.
func (s *Service) Revoke(ctx context.Context, userID uuid.UUID) error {
	if s.revokeURL == "" {
		return ErrRevocationDisabled
	}
	cred, err := s.Credential(ctx, userID)
	if err != nil {
		return err
	}

	form := url.Values{"token": {cred.RefreshToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := s.httpClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revoke token: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Forget deletes userID's credential, joining the transaction in ctx.
func (s *Service) Forget(ctx context.Context, userID uuid.UUID) error {
	if err := s.creds.Delete(ctx, userID); err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return calendarDomain.ErrNotConnected
		}
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

func (s *Service) clientContext(ctx context.Context) context.Context {
	if s.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
}

func (s *Service) seal(userID uuid.UUID, cred identityDomain.UserCredential) (StoredCredential, error) {
	label := []byte(userID.String())
	refresh, err := s.encrypter.Encrypt([]byte(cred.RefreshToken), label)
	if err != nil {
		return StoredCredential{}, fmt.Errorf("encrypt refresh token: %w", err)
	}
	var access []byte
	if cred.AccessToken != "" {
		access, err = s.encrypter.Encrypt([]byte(cred.AccessToken), label)
		if err != nil {
			return StoredCredential{}, fmt.Errorf("encrypt access token: %w", err)
		}
	}
	return StoredCredential{
		UserID:       userID,
		RefreshToken: refresh,
		AccessToken:  access,
		TokenType:    cred.TokenType,
		Expiry:       cred.ExpiresAt,
		Scopes:       cred.Scopes,
		UpdatedAt:    s.now().UTC(),
	}, nil
}

func (s *Service) open(stored *StoredCredential) (identityDomain.UserCredential, error) {
	label := []byte(stored.UserID.String())
	refresh, err := s.encrypter.Decrypt(stored.RefreshToken, label)
	if err != nil {
		return identityDomain.UserCredential{}, fmt.Errorf("decrypt refresh token: %w", err)
	}
	access := ""
	if len(stored.AccessToken) > 0 {
		plain, err := s.encrypter.Decrypt(stored.AccessToken, label)
		if err != nil {
			return identityDomain.UserCredential{}, fmt.Errorf("decrypt access token: %w", err)
		}
		access = string(plain)
	}
	return identityDomain.NewUserCredential(string(refresh), access, stored.TokenType, stored.Expiry, stored.Scopes)
}

// ScopesFromEnv parses a comma-separated list of scopes.
func ScopesFromEnv(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	scopes := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			scopes = append(scopes, trimmed)
		}
	}
	return scopes
}
