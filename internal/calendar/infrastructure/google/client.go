// Package google reads events and free/busy data from the Google Calendar API.
package google

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixgeelhaar/blade/internal/calendar/domain"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/metrics"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	breakerName  = "google_calendar"
	pageSize     = 250
	fetchTimeout = 30 * time.Second
)

// BreakerConfig configures the circuit breaker around provider calls.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// ClientConfig configures the calendar client.
type ClientConfig struct {
	// BaseURL overrides the API endpoint, e.g. for a fake server.
	BaseURL     string
	HTTPTimeout time.Duration
	// Transport is the base transport under the OAuth transport.
	Transport http.RoundTripper
	Breaker   BreakerConfig
}

// DefaultClientConfig returns the production defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HTTPTimeout: fetchTimeout,
		Breaker: BreakerConfig{
			MaxRequests:      1,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
		},
	}
}

// Client calls the Calendar API on behalf of whoever the token source belongs to.
// It is safe for concurrent use.
type Client struct {
	cfg     ClientConfig
	breaker *gobreaker.CircuitBreaker[any]
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewClient creates a calendar client.
func NewClient(cfg ClientConfig, m *metrics.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = fetchTimeout
	}
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker = DefaultClientConfig().Breaker
	}

	c := &Client{cfg: cfg, metrics: m, logger: logger, now: time.Now}
	c.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Breaker.FailureThreshold
		},
		// A rejected grant or a cancelled request says nothing about provider health.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, domain.ErrTokenRefresh) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
			m.SetBreakerState(name, int(to))
		},
	})
	return c
}

func (c *Client) service(ctx context.Context, ts oauth2.TokenSource) (*calendar.Service, error) {
	httpClient := &http.Client{
		Timeout:   c.cfg.HTTPTimeout,
		Transport: &oauth2.Transport{Source: ts, Base: c.cfg.Transport},
	}
	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if c.cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(c.cfg.BaseURL))
	}
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: create calendar service: %w", domain.ErrProviderFetch, err)
	}
	return svc, nil
}

// ListEvents lazily lists calendarID's events between timeMin and timeMax,
// following page tokens until the provider stops returning one. Each range
// restarts from the first page. A failed page yields one error and ends the sequence.
func (c *Client) ListEvents(ctx context.Context, ts oauth2.TokenSource, calendarID string, timeMin, timeMax time.Time) iter.Seq2[domain.NormalizedEvent, error] {
	return func(yield func(domain.NormalizedEvent, error) bool) {
		if err := c.ensureToken(ts); err != nil {
			yield(domain.NormalizedEvent{}, err)
			return
		}
		svc, err := c.service(ctx, ts)
		if err != nil {
			yield(domain.NormalizedEvent{}, err)
			return
		}

		syncedAt := c.now().UTC()
		pageToken := ""
		for page := 1; ; page++ {
			call := svc.Events.List(calendarID).
				Context(ctx).
				SingleEvents(true).
				OrderBy("startTime").
				MaxResults(pageSize)
			if !timeMin.IsZero() {
				call = call.TimeMin(timeMin.UTC().Format(time.RFC3339))
			}
			if !timeMax.IsZero() {
				call = call.TimeMax(timeMax.UTC().Format(time.RFC3339))
			}
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}

			var events *calendar.Events
			err := c.call(func() error {
				var err error
				events, err = call.Do()
				return err
			})
			if err != nil {
				yield(domain.NormalizedEvent{}, fmt.Errorf("list events page %d: %w", page, err))
				return
			}

			for _, item := range events.Items {
				normalized, err := NormalizeEvent(calendarID, item, syncedAt)
				if err != nil {
					yield(domain.NormalizedEvent{}, fmt.Errorf("%w: %w", domain.ErrProviderFetch, err))
					return
				}
				if !yield(normalized, nil) {
					return
				}
			}

			if events.NextPageToken == "" {
				return
			}
			pageToken = events.NextPageToken
		}
	}
}

// QueryFreeBusy returns the busy periods of each calendar in one request.
// Calendars the provider reports nothing for map to an empty slice.
func (c *Client) QueryFreeBusy(ctx context.Context, ts oauth2.TokenSource, calendarIDs []string, timeMin, timeMax time.Time) (map[string][]domain.Period, error) {
	if len(calendarIDs) == 0 {
		return map[string][]domain.Period{}, nil
	}
	if err := c.ensureToken(ts); err != nil {
		return nil, err
	}
	svc, err := c.service(ctx, ts)
	if err != nil {
		return nil, err
	}

	items := make([]*calendar.FreeBusyRequestItem, len(calendarIDs))
	for i, id := range calendarIDs {
		items[i] = &calendar.FreeBusyRequestItem{Id: id}
	}
	req := &calendar.FreeBusyRequest{
		TimeMin: timeMin.UTC().Format(time.RFC3339),
		TimeMax: timeMax.UTC().Format(time.RFC3339),
		Items:   items,
	}

	var res *calendar.FreeBusyResponse
	err = c.call(func() error {
		var err error
		res, err = svc.Freebusy.Query(req).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("query free/busy: %w", err)
	}

	out := make(map[string][]domain.Period, len(calendarIDs))
	for _, id := range calendarIDs {
		out[id] = []domain.Period{}
	}
	for id, cal := range res.Calendars {
		if len(cal.Errors) > 0 {
			return nil, fmt.Errorf("%w: calendar %s: %s", domain.ErrProviderFetch, id, cal.Errors[0].Reason)
		}
		periods := make([]domain.Period, 0, len(cal.Busy))
		for _, b := range cal.Busy {
			periods = append(periods, domain.Period{Start: b.Start, End: b.End})
		}
		out[id] = periods
	}
	return out, nil
}

// ensureToken obtains a valid access token before any calendar request so
// refresh failures surface with their own classification.
func (c *Client) ensureToken(ts oauth2.TokenSource) error {
	if ts == nil {
		return domain.ErrNotConnected
	}
	if _, err := ts.Token(); err != nil {
		if errors.Is(err, domain.ErrTokenRefresh) || errors.Is(err, domain.ErrProviderFetch) {
			return err
		}
		return fmt.Errorf("%w: obtain access token: %w", domain.ErrProviderFetch, err)
	}
	return nil
}

// call runs fn through the breaker and maps every failure onto the sync taxonomy.
func (c *Client) call(fn func() error) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, fn()
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", domain.ErrProviderFetch, err)
	}
	if errors.Is(err, domain.ErrTokenRefresh) || errors.Is(err, domain.ErrProviderFetch) {
		return err
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: status %d: %s", domain.ErrProviderFetch, apiErr.Code, apiErr.Message)
	}
	return fmt.Errorf("%w: %w", domain.ErrProviderFetch, err)
}

// BreakerState reports the breaker state, for health output.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}
