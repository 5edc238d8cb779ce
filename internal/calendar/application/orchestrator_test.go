package application_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/felixgeelhaar/blade/internal/calendar/application"
	"github.com/felixgeelhaar/blade/internal/calendar/domain"
	"github.com/felixgeelhaar/blade/internal/calendar/infrastructure/google"
	"github.com/felixgeelhaar/blade/internal/calendar/infrastructure/persistence"
	"github.com/felixgeelhaar/blade/internal/identity/application/oauth"
	identityPersistence "github.com/felixgeelhaar/blade/internal/identity/infrastructure/persistence"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/crypto"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/database/dbtest"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/metrics"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/outbox"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// provider fakes the token endpoint and the Calendar API on one server.
// Codes prefixed "revoked-" hand out a refresh token the endpoint later
// rejects. Every exchange issues an access token that is already stale.
type provider struct {
	*httptest.Server
	mu            sync.Mutex
	refreshes     int
	calendarCalls atomic.Int32
	failCalendar  atomic.Bool
	busy          []map[string]string
	pages         int
	bearers       []string
	revoked       []string
}

func newProvider(t *testing.T) *provider {
	t.Helper()
	p := &provider{
		busy: []map[string]string{
			{"start": "2024-01-01T09:00:00Z", "end": "2024-01-01T10:00:00Z"},
			{"start": "2024-01-02T13:00:00Z", "end": "2024-01-02T14:00:00Z"},
		},
		pages: 3,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", p.token)
	mux.HandleFunc("POST /revoke", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		p.mu.Lock()
		p.revoked = append(p.revoked, r.PostForm.Get("token"))
		p.mu.Unlock()
	})
	mux.HandleFunc("POST /calendar/v3/freeBusy", func(w http.ResponseWriter, r *http.Request) {
		if !p.calendarRequest(w, r) {
			return
		}
		var req struct {
			Items []struct {
				ID string `json:"id"`
			} `json:"items"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		calendars := map[string]any{}
		for _, item := range req.Items {
			calendars[item.ID] = map[string]any{"busy": p.busy}
		}
		writeJSON(w, map[string]any{"calendars": calendars})
	})
	mux.HandleFunc("GET /calendar/v3/calendars/{cal}/events", func(w http.ResponseWriter, r *http.Request) {
		if !p.calendarRequest(w, r) {
			return
		}
		page := 1
		if tok := r.URL.Query().Get("pageToken"); tok != "" {
			_, err := fmt.Sscanf(tok, "p%d", &page)
			require.NoError(t, err)
		}
		items := []map[string]any{}
		for i := range 2 {
			n := (page-1)*2 + i + 1
			items = append(items, map[string]any{
				"id":      fmt.Sprintf("evt-%d", n),
				"status":  "confirmed",
				"summary": fmt.Sprintf("Session %d", n),
				"start":   map[string]string{"dateTime": fmt.Sprintf("2024-01-%02dT07:00:00Z", n)},
				"end":     map[string]string{"dateTime": fmt.Sprintf("2024-01-%02dT08:00:00Z", n)},
			})
		}
		body := map[string]any{"items": items}
		if page < p.pages {
			body["nextPageToken"] = fmt.Sprintf("p%d", page+1)
		}
		writeJSON(w, body)
	})
	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Close)
	return p
}

func (p *provider) calendarRequest(w http.ResponseWriter, r *http.Request) bool {
	p.calendarCalls.Add(1)
	p.mu.Lock()
	p.bearers = append(p.bearers, r.Header.Get("Authorization"))
	p.mu.Unlock()
	if p.failCalendar.Load() {
		w.WriteHeader(http.StatusInternalServerError)
		writeJSON(w, map[string]any{"error": map[string]any{"code": 500, "message": "backend error"}})
		return false
	}
	return true
}

func (p *provider) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		refresh := "refresh-ok"
		if strings.HasPrefix(r.PostForm.Get("code"), "revoked-") {
			refresh = "revoked"
		}
		writeJSON(w, map[string]any{
			"access_token":  "access-stale",
			"refresh_token": refresh,
			"token_type":    "Bearer",
			"expires_in":    1,
		})
	case "refresh_token":
		if r.PostForm.Get("refresh_token") == "revoked" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "invalid_grant", "error_description": "Token has been expired or revoked."})
			return
		}
		p.refreshes++
		writeJSON(w, map[string]any{
			"access_token": "access-fresh",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func (p *provider) refreshCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshes
}

func (p *provider) lastBearer() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.bearers) == 0 {
		return ""
	}
	return p.bearers[len(p.bearers)-1]
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type syncFixture struct {
	conn         database.Connection
	provider     *provider
	users        *identityPersistence.SQLUserRepository
	oauth        *oauth.Service
	blocks       *persistence.SQLBusyBlockRepository
	events       domain.EventRepository
	outbox       *outbox.SQLRepository
	metrics      *metrics.Metrics
	orchestrator *application.Orchestrator
	now          time.Time
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	conn := dbtest.NewSQLite(t)
	f := &syncFixture{
		conn:     conn,
		provider: newProvider(t),
		users:    identityPersistence.NewSQLUserRepository(conn),
		blocks:   persistence.NewSQLBusyBlockRepository(conn),
		events:   persistence.NewSQLEventRepository(conn),
		outbox:   outbox.NewSQLRepository(conn),
		metrics:  metrics.New(),
		now:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	encrypter, err := crypto.NewAESGCMFromBase64Key(base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef")))
	require.NoError(t, err)
	uow := database.NewUnitOfWork(conn)

	f.oauth, err = oauth.NewService(oauth.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		AuthURL:      "https://accounts.example.com/o/oauth2/auth",
		TokenURL:     f.provider.URL + "/token",
		RedirectURL:  "http://localhost:8080/auth/callback",
		RevokeURL:    f.provider.URL + "/revoke",
		Scopes:       []string{"https://www.googleapis.com/auth/calendar.readonly"},
	}, f.users, identityPersistence.NewSQLStateStore(conn), encrypter,
		oauth.WithOutbox(f.outbox, uow),
		oauth.WithMetrics(f.metrics),
	)
	require.NoError(t, err)

	clientCfg := google.DefaultClientConfig()
	clientCfg.BaseURL = f.provider.URL + "/calendar/v3/"

	pool := application.NewProviderPool(2, nil)
	t.Cleanup(pool.Close)

	f.orchestrator = f.newOrchestrator(f.events, google.NewClient(clientCfg, f.metrics, nil), pool, uow)
	return f
}

func (f *syncFixture) newOrchestrator(events domain.EventRepository, reader application.CalendarReader, pool *application.ProviderPool, uow *database.GenericUnitOfWork) *application.Orchestrator {
	return application.NewOrchestrator(application.OrchestratorDeps{
		Users:      f.users,
		Broker:     f.oauth,
		Calendar:   reader,
		Pool:       pool,
		Reconciler: application.NewReconciler(f.blocks, f.outbox, uow, nil),
		Events:     events,
		Outbox:     f.outbox,
		Metrics:    f.metrics,
		Clock:      func() time.Time { return f.now },
	}, application.SyncConfig{LookAheadDays: 14})
}

// connect completes an authorization round trip for user with code.
func (f *syncFixture) connect(t *testing.T, user seededUser, code string) {
	t.Helper()
	ctx := context.Background()
	authURL, err := f.oauth.BeginAuthorization(ctx, user.ID())
	require.NoError(t, err)
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	_, err = f.oauth.CompleteAuthorization(ctx, code, u.Query().Get("state"))
	require.NoError(t, err)
}

func (f *syncFixture) routingKeys(t *testing.T) []string {
	t.Helper()
	pending, err := f.outbox.FetchPending(context.Background(), 100, time.Now().Add(time.Hour))
	require.NoError(t, err)
	keys := make([]string, 0, len(pending))
	for _, msg := range pending {
		keys = append(keys, msg.RoutingKey)
	}
	return keys
}

func TestSyncBusy_NotConnectedReturnsConnectURL(t *testing.T) {
	f := newSyncFixture(t)
	user := seedUser(t, f.conn, "ana@club.org")

	first, err := f.orchestrator.SyncBusy(context.Background(), "ana@club.org")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConnectRequired, first.Status)
	assert.Contains(t, first.ConnectURL, "state="+user.ID().String())
	assert.Nil(t, first.Blocks)

	second, err := f.orchestrator.SyncBusy(context.Background(), "ana@club.org")
	require.NoError(t, err)
	assert.NotEqual(t, first.ConnectURL, second.ConnectURL, "each call issues a fresh state")

	assert.Equal(t, int32(0), f.provider.calendarCalls.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.SyncTotal.WithLabelValues(domain.ModeBusy, metrics.OutcomeConnectRequired)))
}

func TestSyncBusy_RefreshesExpiredAccessToken(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	user := seedUser(t, f.conn, "ana@club.org")
	f.connect(t, user, "code-1")

	result, err := f.orchestrator.SyncBusy(ctx, "ana@club.org")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSynced, result.Status)
	require.Len(t, result.Blocks, 2)
	assert.Equal(t, "2024-01-01", result.Blocks[0].Date())
	assert.Equal(t, domain.SourceExternalSync, result.Blocks[0].Source())

	assert.Equal(t, 1, f.provider.refreshCount())
	assert.Equal(t, "Bearer access-fresh", f.provider.lastBearer())

	cred, err := f.oauth.Credential(ctx, user.ID())
	require.NoError(t, err)
	assert.Equal(t, "access-fresh", cred.AccessToken)
	assert.Equal(t, "refresh-ok", cred.RefreshToken)

	stored, err := f.blocks.ListByOwner(ctx, user.ID())
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	assert.Equal(t, []string{"calendar.credential.connected", domain.RoutingKeyBusyReplaced, domain.RoutingKeyBusySynced}, f.routingKeys(t))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SyncTotal.WithLabelValues(domain.ModeBusy, metrics.OutcomeSynced)))
}

func TestSyncBusy_ResyncReplacesPreviousBlocks(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	user := seedUser(t, f.conn, "ana@club.org")
	f.connect(t, user, "code-1")

	_, err := f.orchestrator.SyncBusy(ctx, "ana@club.org")
	require.NoError(t, err)

	f.provider.mu.Lock()
	f.provider.busy = f.provider.busy[1:]
	f.provider.mu.Unlock()

	result, err := f.orchestrator.SyncBusy(ctx, "ana@club.org")
	require.NoError(t, err)
	require.Len(t, result.Blocks, 1)

	stored, err := f.blocks.ListByOwner(ctx, user.ID())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "2024-01-02", stored[0].Date())
}

func TestSyncBusy_RevokedRefreshTokenRequiresReauth(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	user := seedUser(t, f.conn, "ana@club.org")
	f.connect(t, user, "revoked-1")

	_, err := f.orchestrator.SyncBusy(ctx, "ana@club.org")
	require.ErrorIs(t, err, domain.ErrSyncFailed)
	require.ErrorIs(t, err, domain.ErrTokenRefresh)

	assert.Equal(t, int32(0), f.provider.calendarCalls.Load())
	connected, err := f.oauth.Connected(ctx, user.ID())
	require.NoError(t, err)
	assert.True(t, connected, "credential is kept")

	assert.Contains(t, f.routingKeys(t), domain.RoutingKeySyncFailed)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SyncTotal.WithLabelValues(domain.ModeBusy, metrics.OutcomeReauthRequired)))
}

func TestSyncBusy_ProviderFailure(t *testing.T) {
	f := newSyncFixture(t)
	user := seedUser(t, f.conn, "ana@club.org")
	f.connect(t, user, "code-1")
	f.provider.failCalendar.Store(true)

	_, err := f.orchestrator.SyncBusy(context.Background(), "ana@club.org")
	require.ErrorIs(t, err, domain.ErrSyncFailed)
	require.ErrorIs(t, err, domain.ErrProviderFetch)
	assert.NotErrorIs(t, err, domain.ErrTokenRefresh)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SyncTotal.WithLabelValues(domain.ModeBusy, metrics.OutcomeFailed)))
}

func TestSyncBusy_UnknownUser(t *testing.T) {
	f := newSyncFixture(t)
	_, err := f.orchestrator.SyncBusy(context.Background(), "nobody@club.org")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrSyncFailed)
}

func TestSyncEvents_PagesAndUpserts(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	user := seedUser(t, f.conn, "ana@club.org")
	f.connect(t, user, "code-1")

	result, err := f.orchestrator.SyncEvents(ctx, "ana@club.org", "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSynced, result.Status)
	assert.Equal(t, domain.EventsSyncReport{
		CalendarID:   "primary",
		TotalFetched: 6,
		Inserted:     6,
		Errors:       []domain.EventError{},
	}, result.Report)

	stored, err := f.events.ListByCalendar(ctx, "primary")
	require.NoError(t, err)
	require.Len(t, stored, 6)
	assert.Equal(t, "evt-1", stored[0].ProviderID)
	assert.Equal(t, "evt-6", stored[5].ProviderID)

	again, err := f.orchestrator.SyncEvents(ctx, "ana@club.org", "primary")
	require.NoError(t, err)
	assert.Equal(t, 6, again.Report.Unchanged)
	assert.Zero(t, again.Report.Inserted)
	assert.Zero(t, again.Report.Updated)
}

type flakyEvents struct {
	domain.EventRepository
	failID string
}

func (r flakyEvents) Upsert(ctx context.Context, e domain.NormalizedEvent) (domain.UpsertResult, error) {
	if e.ProviderID == r.failID {
		return domain.UpsertUnchanged, errors.New("constraint failed")
	}
	return r.EventRepository.Upsert(ctx, e)
}

func TestSyncEvents_CollectsPerEventFailures(t *testing.T) {
	f := newSyncFixture(t)
	user := seedUser(t, f.conn, "ana@club.org")
	f.connect(t, user, "code-1")

	clientCfg := google.DefaultClientConfig()
	clientCfg.BaseURL = f.provider.URL + "/calendar/v3/"
	pool := application.NewProviderPool(1, nil)
	t.Cleanup(pool.Close)
	orch := f.newOrchestrator(flakyEvents{EventRepository: f.events, failID: "evt-3"}, google.NewClient(clientCfg, nil, nil), pool, database.NewUnitOfWork(f.conn))

	result, err := orch.SyncEvents(context.Background(), "ana@club.org", "primary")
	require.NoError(t, err)
	assert.Equal(t, 6, result.Report.TotalFetched)
	assert.Equal(t, 5, result.Report.Inserted)
	require.Len(t, result.Report.Errors, 1)
	assert.Equal(t, "evt-3", result.Report.Errors[0].ProviderID)
}

func TestSyncEvents_ListingFailureAborts(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	user := seedUser(t, f.conn, "ana@club.org")
	f.connect(t, user, "code-1")
	f.provider.failCalendar.Store(true)

	_, err := f.orchestrator.SyncEvents(ctx, "ana@club.org", "primary")
	require.ErrorIs(t, err, domain.ErrSyncFailed)
	require.ErrorIs(t, err, domain.ErrProviderFetch)

	stored, err := f.events.ListByCalendar(ctx, "primary")
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestSyncEvents_NotConnected(t *testing.T) {
	f := newSyncFixture(t)
	user := seedUser(t, f.conn, "ana@club.org")

	result, err := f.orchestrator.SyncEvents(context.Background(), "ana@club.org", "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConnectRequired, result.Status)
	assert.Contains(t, result.ConnectURL, "state="+user.ID().String())
	assert.Equal(t, int32(0), f.provider.calendarCalls.Load())
}

func TestConnectURL(t *testing.T) {
	f := newSyncFixture(t)
	user := seedUser(t, f.conn, "ana@club.org")

	connectURL, err := f.orchestrator.ConnectURL(context.Background(), "ana@club.org")
	require.NoError(t, err)
	assert.Contains(t, connectURL, "state="+user.ID().String())

	_, err = f.orchestrator.ConnectURL(context.Background(), "not-an-email")
	require.Error(t, err)
}
