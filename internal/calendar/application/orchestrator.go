package application

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/blade/internal/calendar/domain"
	"github.com/felixgeelhaar/blade/internal/identity/application/oauth"
	identityDomain "github.com/felixgeelhaar/blade/internal/identity/domain"
	sharedDomain "github.com/felixgeelhaar/blade/internal/shared/domain"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/metrics"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/outbox"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

const (
	// DefaultCalendarID is the provider alias for the user's main calendar.
	DefaultCalendarID = "primary"
	// DefaultLookAheadDays bounds the sync window.
	DefaultLookAheadDays = 30
)

// CredentialBroker answers whether a user is connected and hands out token
// sources. oauth.Service and oauth.DelegatedService implement it.
type CredentialBroker interface {
	Connected(ctx context.Context, userID uuid.UUID) (bool, error)
	BeginAuthorization(ctx context.Context, userID uuid.UUID) (string, error)
	TokenSource(ctx context.Context, subject oauth.Subject) (oauth2.TokenSource, error)
}

// CalendarReader reads from the calendar provider.
type CalendarReader interface {
	ListEvents(ctx context.Context, ts oauth2.TokenSource, calendarID string, timeMin, timeMax time.Time) iter.Seq2[domain.NormalizedEvent, error]
	QueryFreeBusy(ctx context.Context, ts oauth2.TokenSource, calendarIDs []string, timeMin, timeMax time.Time) (map[string][]domain.Period, error)
}

// SyncConfig bounds what a sync reads.
type SyncConfig struct {
	CalendarID    string
	LookAheadDays int
}

// Orchestrator runs the two sync modes for a user identified by email.
type Orchestrator struct {
	users      identityDomain.UserRepository
	broker     CredentialBroker
	calendar   CalendarReader
	pool       *ProviderPool
	ownsPool   bool
	reconciler *Reconciler
	events     domain.EventRepository
	outboxRepo outbox.Repository
	config     SyncConfig
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// OrchestratorDeps collects the Orchestrator's collaborators.
type OrchestratorDeps struct {
	Users    identityDomain.UserRepository
	Broker   CredentialBroker
	Calendar CalendarReader
	// Pool is closed by its owner. When nil the Orchestrator starts its own,
	// stopped by Close.
	Pool       *ProviderPool
	Reconciler *Reconciler
	Events     domain.EventRepository
	Outbox     outbox.Repository
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	Clock      func() time.Time
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(deps OrchestratorDeps, cfg SyncConfig) *Orchestrator {
	if cfg.CalendarID == "" {
		cfg.CalendarID = DefaultCalendarID
	}
	if cfg.LookAheadDays <= 0 {
		cfg.LookAheadDays = DefaultLookAheadDays
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	pool, ownsPool := deps.Pool, false
	if pool == nil {
		pool, ownsPool = NewProviderPool(DefaultPoolSize, logger), true
	}
	return &Orchestrator{
		users:      deps.Users,
		broker:     deps.Broker,
		calendar:   deps.Calendar,
		pool:       pool,
		ownsPool:   ownsPool,
		reconciler: deps.Reconciler,
		events:     deps.Events,
		outboxRepo: deps.Outbox,
		config:     cfg,
		metrics:    deps.Metrics,
		logger:     logger,
		now:        clock,
	}
}

// Close stops the provider pool the Orchestrator started itself. An injected
// pool is left running.
func (o *Orchestrator) Close() {
	if o.ownsPool {
		o.pool.Close()
	}
}

// ConnectURL issues a fresh authorization URL for the user with email.
func (o *Orchestrator) ConnectURL(ctx context.Context, email string) (string, error) {
	user, err := o.lookup(ctx, email)
	if err != nil {
		return "", err
	}
	return o.broker.BeginAuthorization(ctx, user.ID())
}

// SyncBusy replaces the user's external_sync busy blocks with the provider's
// free/busy view of the sync window. A user without a credential gets a
// connect URL and no provider call is made.
func (o *Orchestrator) SyncBusy(ctx context.Context, email string) (domain.BusySyncResult, error) {
	started := o.now()
	user, err := o.lookup(ctx, email)
	if err != nil {
		return domain.BusySyncResult{}, err
	}

	ts, connectURL, err := o.resolve(ctx, user)
	if err != nil {
		return domain.BusySyncResult{}, err
	}
	if ts == nil {
		o.metrics.ObserveSync(domain.ModeBusy, metrics.OutcomeConnectRequired, started)
		return domain.BusySyncResult{Status: domain.StatusConnectRequired, ConnectURL: connectURL}, nil
	}

	owner := ownerOf(user)
	timeMin, timeMax := o.window()
	calendarID := o.config.CalendarID

	var periods map[string][]domain.Period
	err = o.pool.Do(ctx, func(ctx context.Context) error {
		var err error
		periods, err = o.calendar.QueryFreeBusy(ctx, ts, []string{calendarID}, timeMin, timeMax)
		return err
	})
	if err != nil {
		return domain.BusySyncResult{}, o.fail(ctx, domain.ModeBusy, user.ID(), started, err)
	}

	blocks, err := domain.BusyBlocksFromPeriods(owner, periods[calendarID], o.now().UTC())
	if err != nil {
		return domain.BusySyncResult{}, o.fail(ctx, domain.ModeBusy, user.ID(), started, fmt.Errorf("%w: %w", domain.ErrProviderFetch, err))
	}

	if _, err := o.reconciler.Replace(ctx, owner, domain.SourceExternalSync, blocks); err != nil {
		return domain.BusySyncResult{}, o.fail(ctx, domain.ModeBusy, user.ID(), started, err)
	}

	o.record(ctx, domain.NewBusySynced(user.ID(), len(blocks)))
	o.metrics.ObserveSync(domain.ModeBusy, metrics.OutcomeSynced, started)
	o.metrics.AddSyncedItems("busy_blocks", len(blocks))
	o.logger.Info("busy blocks synced",
		"operation", "sync_busy",
		"user_id", user.ID().String(),
		"calendar_id", calendarID,
		"blocks", len(blocks),
	)
	return domain.BusySyncResult{Status: domain.StatusSynced, Blocks: blocks}, nil
}

// SyncEvents lists every event of calendarID in the sync window and upserts
// each by provider ID. An empty calendarID uses the configured default.
// Per-event storage failures are reported, a listing failure aborts the run.
func (o *Orchestrator) SyncEvents(ctx context.Context, email, calendarID string) (domain.EventsSyncResult, error) {
	started := o.now()
	if calendarID == "" {
		calendarID = o.config.CalendarID
	}
	user, err := o.lookup(ctx, email)
	if err != nil {
		return domain.EventsSyncResult{}, err
	}

	ts, connectURL, err := o.resolve(ctx, user)
	if err != nil {
		return domain.EventsSyncResult{}, err
	}
	if ts == nil {
		o.metrics.ObserveSync(domain.ModeEvents, metrics.OutcomeConnectRequired, started)
		return domain.EventsSyncResult{Status: domain.StatusConnectRequired, ConnectURL: connectURL}, nil
	}

	timeMin, timeMax := o.window()
	var fetched []domain.NormalizedEvent
	err = o.pool.Do(ctx, func(ctx context.Context) error {
		for event, err := range o.calendar.ListEvents(ctx, ts, calendarID, timeMin, timeMax) {
			if err != nil {
				return err
			}
			fetched = append(fetched, event)
		}
		return nil
	})
	if err != nil {
		return domain.EventsSyncResult{}, o.fail(ctx, domain.ModeEvents, user.ID(), started, err)
	}

	report := domain.EventsSyncReport{CalendarID: calendarID, TotalFetched: len(fetched), Errors: []domain.EventError{}}
	for _, event := range fetched {
		result, err := o.events.Upsert(ctx, event)
		if err != nil {
			o.logger.Warn("event upsert failed",
				"operation", "sync_events",
				"user_id", user.ID().String(),
				"calendar_id", calendarID,
				"provider_id", event.ProviderID,
				"error", err,
			)
			report.Errors = append(report.Errors, domain.EventError{ProviderID: event.ProviderID, Message: err.Error()})
			continue
		}
		report.Count(result)
	}

	o.record(ctx, domain.NewEventsSynced(user.ID(), report))
	o.metrics.ObserveSync(domain.ModeEvents, metrics.OutcomeSynced, started)
	o.metrics.AddSyncedItems("events", report.Inserted+report.Updated)
	o.logger.Info("calendar events synced",
		"operation", "sync_events",
		"user_id", user.ID().String(),
		"calendar_id", calendarID,
		"fetched", report.TotalFetched,
		"inserted", report.Inserted,
		"updated", report.Updated,
		"unchanged", report.Unchanged,
		"errors", len(report.Errors),
	)
	return domain.EventsSyncResult{Status: domain.StatusSynced, Report: report}, nil
}

func (o *Orchestrator) lookup(ctx context.Context, email string) (*identityDomain.User, error) {
	addr, err := identityDomain.NewEmail(email)
	if err != nil {
		return nil, err
	}
	return o.users.FindByEmail(ctx, addr)
}

// resolve returns a token source for a connected user, or a connect URL.
func (o *Orchestrator) resolve(ctx context.Context, user *identityDomain.User) (oauth2.TokenSource, string, error) {
	connected, err := o.broker.Connected(ctx, user.ID())
	if err != nil {
		return nil, "", fmt.Errorf("check calendar connection: %w", err)
	}
	if connected {
		ts, err := o.broker.TokenSource(ctx, oauth.Subject{UserID: user.ID(), Email: user.Email().String()})
		if err == nil {
			return ts, "", nil
		}
		if !errors.Is(err, domain.ErrNotConnected) {
			return nil, "", fmt.Errorf("%w: %w", domain.ErrSyncFailed, err)
		}
	}

	url, err := o.broker.BeginAuthorization(ctx, user.ID())
	if err != nil {
		return nil, "", fmt.Errorf("begin authorization: %w", err)
	}
	return nil, url, nil
}

func (o *Orchestrator) window() (time.Time, time.Time) {
	start := o.now().UTC()
	return start, start.AddDate(0, 0, o.config.LookAheadDays)
}

// fail records a connected-path failure and wraps it in ErrSyncFailed.
func (o *Orchestrator) fail(ctx context.Context, mode string, userID uuid.UUID, started time.Time, cause error) error {
	outcome := metrics.OutcomeFailed
	if errors.Is(cause, domain.ErrTokenRefresh) {
		outcome = metrics.OutcomeReauthRequired
	}
	o.metrics.ObserveSync(mode, outcome, started)
	o.record(ctx, domain.NewSyncFailed(userID, mode, outcome, cause))
	o.logger.Error("calendar sync failed",
		"operation", "sync_"+mode,
		"user_id", userID.String(),
		"outcome", outcome,
		"error", cause,
	)
	return fmt.Errorf("%w: %w", domain.ErrSyncFailed, cause)
}

// record stores an outcome event outside any transaction. Losing one is
// logged, never returned.
func (o *Orchestrator) record(ctx context.Context, event sharedDomain.DomainEvent) {
	if err := outbox.Record(context.WithoutCancel(ctx), o.outboxRepo, event); err != nil {
		o.logger.Warn("failed to record sync outcome",
			"routing_key", event.RoutingKey(),
			"error", err,
		)
	}
}

func ownerOf(user *identityDomain.User) domain.Owner {
	return domain.Owner{ID: user.ID(), Email: user.Email().String(), Group: user.Squad()}
}
