package oauth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	calendarDomain "github.com/felixgeelhaar/blade/internal/calendar/domain"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/metrics"
	"golang.org/x/oauth2"
)

// ClassifyTokenError maps token endpoint failures onto the sync error taxonomy.
// A rejected grant is terminal, anything else is a transient provider failure.
func ClassifyTokenError(err error) error {
	if err == nil {
		return nil
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode == "invalid_grant" || re.ErrorCode == "unauthorized_client" {
			return fmt.Errorf("%w: %s", calendarDomain.ErrTokenRefresh, describeRetrieveError(re))
		}
		if re.Response != nil && (re.Response.StatusCode == http.StatusBadRequest || re.Response.StatusCode == http.StatusUnauthorized) {
			return fmt.Errorf("%w: %s", calendarDomain.ErrTokenRefresh, describeRetrieveError(re))
		}
		return fmt.Errorf("%w: token endpoint: %s", calendarDomain.ErrProviderFetch, describeRetrieveError(re))
	}
	return fmt.Errorf("%w: token endpoint: %w", calendarDomain.ErrProviderFetch, err)
}

func describeRetrieveError(re *oauth2.RetrieveError) string {
	status := 0
	if re.Response != nil {
		status = re.Response.StatusCode
	}
	switch {
	case re.ErrorCode != "" && re.ErrorDescription != "":
		return fmt.Sprintf("%s (%s, status %d)", re.ErrorCode, re.ErrorDescription, status)
	case re.ErrorCode != "":
		return fmt.Sprintf("%s (status %d)", re.ErrorCode, status)
	default:
		return fmt.Sprintf("status %d", status)
	}
}

// persistingTokenSource hands out tokens from base and calls persist whenever
// base produced a new access token.
type persistingTokenSource struct {
	mu      sync.Mutex
	base    oauth2.TokenSource
	last    *oauth2.Token
	persist func(*oauth2.Token) error
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, err := s.base.Token()
	if err != nil {
		classified := ClassifyTokenError(err)
		if errors.Is(classified, calendarDomain.ErrTokenRefresh) {
			s.metrics.ObserveTokenRefresh(metrics.OutcomeRevoked)
		} else {
			s.metrics.ObserveTokenRefresh(metrics.OutcomeError)
		}
		return nil, classified
	}

	if s.last != nil && token.AccessToken == s.last.AccessToken {
		return token, nil
	}

	s.metrics.ObserveTokenRefresh(metrics.OutcomeSuccess)
	if s.persist != nil {
		if err := s.persist(token); err != nil {
			// The refreshed token is still usable for this request.
			s.logger.Warn("failed to persist refreshed token", "error", err)
		}
	}
	s.last = token
	return token, nil
}

// classifyingTokenSource maps errors from base without persisting anything.
type classifyingTokenSource struct {
	base oauth2.TokenSource
}

func (s classifyingTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.base.Token()
	if err != nil {
		return nil, ClassifyTokenError(err)
	}
	return token, nil
}
