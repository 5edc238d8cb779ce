package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	calendarApp "github.com/felixgeelhaar/blade/internal/calendar/application"
	calendarDomain "github.com/felixgeelhaar/blade/internal/calendar/domain"
	calendarPersistence "github.com/felixgeelhaar/blade/internal/calendar/infrastructure/persistence"
	identityUsers "github.com/felixgeelhaar/blade/internal/identity/application/users"
	identityDomain "github.com/felixgeelhaar/blade/internal/identity/domain"
	identityPersistence "github.com/felixgeelhaar/blade/internal/identity/infrastructure/persistence"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/database/dbtest"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/metrics"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/outbox"
	"github.com/felixgeelhaar/blade/pkg/observability"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSyncer struct {
	connectURL string
	connectErr error
	busy       func(email string) (calendarDomain.BusySyncResult, error)
	events     func(email, calendarID string) (calendarDomain.EventsSyncResult, error)
}

func (f *fakeSyncer) ConnectURL(context.Context, string) (string, error) {
	return f.connectURL, f.connectErr
}

func (f *fakeSyncer) SyncBusy(_ context.Context, email string) (calendarDomain.BusySyncResult, error) {
	return f.busy(email)
}

func (f *fakeSyncer) SyncEvents(_ context.Context, email, calendarID string) (calendarDomain.EventsSyncResult, error) {
	return f.events(email, calendarID)
}

type fakeAuthorizer struct {
	userID uuid.UUID
	err    error
	code   string
	state  string
}

func (f *fakeAuthorizer) CompleteAuthorization(_ context.Context, code, state string) (uuid.UUID, error) {
	f.code, f.state = code, state
	return f.userID, f.err
}

type fakeDisconnector struct {
	cmd    calendarApp.DisconnectCommand
	result calendarApp.DisconnectResult
	err    error
}

func (f *fakeDisconnector) Disconnect(_ context.Context, cmd calendarApp.DisconnectCommand) (calendarApp.DisconnectResult, error) {
	f.cmd = cmd
	return f.result, f.err
}

type testServer struct {
	*httptest.Server
	conn database.Connection
}

// newTestServer wires real user and busy services on SQLite around the given
// calendar collaborators.
func newTestServer(t *testing.T, cfg HandlerConfig) *testServer {
	t.Helper()
	conn := dbtest.NewSQLite(t)
	users := identityPersistence.NewSQLUserRepository(conn)
	blocks := calendarPersistence.NewSQLBusyBlockRepository(conn)

	cfg.Users = identityUsers.NewService(users, outbox.NewSQLRepository(conn), database.NewUnitOfWork(conn), nil)
	cfg.Busy = calendarApp.NewBusyService(users, blocks, nil)
	if cfg.FrontendRedirectURL == "" {
		cfg.FrontendRedirectURL = "http://localhost:3000/"
	}

	srv := NewServer(DefaultServerConfig(), NewHandler(cfg), observability.NewHealthRegistry(time.Second), metrics.New(), nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, conn: conn}
}

func (s *testServer) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]any
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &decoded), string(raw))
	}
	return resp, decoded
}

func TestSyncBusy_ConnectRequired(t *testing.T) {
	syncer := &fakeSyncer{busy: func(string) (calendarDomain.BusySyncResult, error) {
		return calendarDomain.BusySyncResult{
			Status:     calendarDomain.StatusConnectRequired,
			ConnectURL: "https://accounts.example.com/auth?state=abc",
		}, nil
	}}
	srv := newTestServer(t, HandlerConfig{Syncer: syncer})

	resp, body := srv.do(t, http.MethodPost, "/calendar/sync", `{"email":"ada@example.com"}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "connect_required", body["status"])
	assert.Equal(t, "https://accounts.example.com/auth?state=abc", body["connectUrl"])
	assert.NotContains(t, body, "blocks")
}

func TestSyncBusy_Synced(t *testing.T) {
	owner := calendarDomain.Owner{ID: uuid.New(), Email: "ada@example.com", Group: "relay"}
	blocks, err := calendarDomain.BusyBlocksFromPeriods(owner, []calendarDomain.Period{
		{Start: "2024-01-01T09:00:00Z", End: "2024-01-01T10:00:00Z"},
	}, time.Now())
	require.NoError(t, err)

	syncer := &fakeSyncer{busy: func(email string) (calendarDomain.BusySyncResult, error) {
		assert.Equal(t, "ada@example.com", email)
		return calendarDomain.BusySyncResult{Status: calendarDomain.StatusSynced, Blocks: blocks}, nil
	}}
	srv := newTestServer(t, HandlerConfig{Syncer: syncer})

	resp, body := srv.do(t, http.MethodPost, "/calendar/sync", `{"email":"ada@example.com"}`)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "synced", body["status"])
	got := body["blocks"].([]any)
	require.Len(t, got, 1)
	block := got[0].(map[string]any)
	assert.Equal(t, "2024-01-01", block["date"])
	assert.Equal(t, "external_sync", block["source"])
	assert.Equal(t, "relay", block["squad"])
}

func TestSyncBusy_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		connectErr error
		status     int
		code       string
		connectURL string
	}{
		{
			name:       "revoked refresh token",
			err:        fmt.Errorf("%w: %w: invalid_grant", calendarDomain.ErrSyncFailed, calendarDomain.ErrTokenRefresh),
			status:     http.StatusUnauthorized,
			code:       "reauth_required",
			connectURL: "https://accounts.example.com/auth?state=fresh",
		},
		{
			name:       "revoked without connect flow",
			err:        fmt.Errorf("%w: %w", calendarDomain.ErrSyncFailed, calendarDomain.ErrTokenRefresh),
			connectErr: fmt.Errorf("unsupported"),
			status:     http.StatusUnauthorized,
			code:       "reauth_required",
		},
		{
			name:   "provider failure",
			err:    fmt.Errorf("%w: %w: status 500", calendarDomain.ErrSyncFailed, calendarDomain.ErrProviderFetch),
			status: http.StatusBadGateway,
			code:   "sync_failed",
		},
		{
			name:   "reconciliation failure",
			err:    fmt.Errorf("%w: %w: disk full", calendarDomain.ErrSyncFailed, calendarDomain.ErrReconciliation),
			status: http.StatusInternalServerError,
			code:   "reconciliation_failed",
		},
		{
			name:   "unknown user",
			err:    fmt.Errorf("find user: %w", identityDomain.ErrUserNotFound),
			status: http.StatusNotFound,
			code:   "not_found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			syncer := &fakeSyncer{
				connectURL: "https://accounts.example.com/auth?state=fresh",
				connectErr: tt.connectErr,
				busy: func(string) (calendarDomain.BusySyncResult, error) {
					return calendarDomain.BusySyncResult{}, tt.err
				},
			}
			srv := newTestServer(t, HandlerConfig{Syncer: syncer})

			resp, body := srv.do(t, http.MethodPost, "/calendar/sync", `{"email":"ada@example.com"}`)

			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, body["error"])
			if tt.connectURL != "" {
				assert.Equal(t, tt.connectURL, body["connectUrl"])
			} else {
				assert.NotContains(t, body, "connectUrl")
			}
		})
	}
}

func TestSyncBusy_ProviderMessageIsSurfaced(t *testing.T) {
	syncer := &fakeSyncer{busy: func(string) (calendarDomain.BusySyncResult, error) {
		return calendarDomain.BusySyncResult{}, fmt.Errorf("%w: %w: status 503: backend down",
			calendarDomain.ErrSyncFailed, calendarDomain.ErrProviderFetch)
	}}
	srv := newTestServer(t, HandlerConfig{Syncer: syncer})

	_, body := srv.do(t, http.MethodPost, "/calendar/sync", `{"email":"ada@example.com"}`)

	assert.Contains(t, body["message"], "backend down")
}

func TestSyncBusy_Validation(t *testing.T) {
	srv := newTestServer(t, HandlerConfig{Syncer: &fakeSyncer{}})

	for _, body := range []string{`{}`, `{"email":"not-an-email"}`, `{"email":`, `{"email":"a@b.co","extra":1}`} {
		resp, decoded := srv.do(t, http.MethodPost, "/calendar/sync", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		assert.Equal(t, "bad_request", decoded["error"], body)
	}
}

func TestCalendarRoutes_Unavailable(t *testing.T) {
	srv := newTestServer(t, HandlerConfig{})

	for _, path := range []string{"/calendar/sync", "/calendar/events/sync", "/calendar/disconnect"} {
		resp, body := srv.do(t, http.MethodPost, path, `{"email":"ada@example.com"}`)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, path)
		assert.Equal(t, "calendar_unavailable", body["error"], path)
	}
	resp, _ := srv.do(t, http.MethodGet, "/auth/callback?code=c&state=s", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestSyncEvents(t *testing.T) {
	syncer := &fakeSyncer{events: func(email, calendarID string) (calendarDomain.EventsSyncResult, error) {
		assert.Equal(t, "team@example.com", calendarID)
		return calendarDomain.EventsSyncResult{
			Status: calendarDomain.StatusSynced,
			Report: calendarDomain.EventsSyncReport{
				CalendarID:   calendarID,
				TotalFetched: 6,
				Inserted:     4,
				Updated:      1,
				Unchanged:    1,
			},
		}, nil
	}}
	srv := newTestServer(t, HandlerConfig{Syncer: syncer})

	resp, body := srv.do(t, http.MethodPost, "/calendar/events/sync",
		`{"email":"ada@example.com","calendarId":"team@example.com"}`)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "synced", body["status"])
	assert.Equal(t, "team@example.com", body["calendarId"])
	assert.EqualValues(t, 6, body["totalFetched"])
	assert.EqualValues(t, 4, body["inserted"])
	assert.EqualValues(t, 1, body["updated"])
	assert.EqualValues(t, 1, body["unchanged"])
	assert.Equal(t, []any{}, body["errors"])
}

func TestDisconnect(t *testing.T) {
	disconnector := &fakeDisconnector{result: calendarApp.DisconnectResult{Revoked: true, PurgedBlocks: 3}}
	srv := newTestServer(t, HandlerConfig{Disconnector: disconnector})

	resp, body := srv.do(t, http.MethodPost, "/calendar/disconnect", `{"email":"ada@example.com","purgeBusyBlocks":true}`)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "disconnected", body["status"])
	assert.Equal(t, true, body["revoked"])
	assert.EqualValues(t, 3, body["purgedBlocks"])
	assert.True(t, disconnector.cmd.PurgeBusyBlocks)

	disconnector.err = calendarDomain.ErrNotConnected
	resp, body = srv.do(t, http.MethodPost, "/calendar/disconnect", `{"email":"ada@example.com"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "not_connected", body["error"])
	assert.False(t, disconnector.cmd.PurgeBusyBlocks)
}

func TestAuthCallback(t *testing.T) {
	t.Run("redirects to the frontend", func(t *testing.T) {
		auth := &fakeAuthorizer{userID: uuid.New()}
		srv := newTestServer(t, HandlerConfig{Authorizer: auth, FrontendRedirectURL: "http://localhost:3000/settings?tab=calendar"})

		resp, _ := srv.do(t, http.MethodGet, "/auth/callback?code=abc&state=user.nonce", "")

		assert.Equal(t, http.StatusFound, resp.StatusCode)
		assert.Equal(t, "http://localhost:3000/settings?calendar=connected&tab=calendar", resp.Header.Get("Location"))
		assert.Equal(t, "abc", auth.code)
		assert.Equal(t, "user.nonce", auth.state)
	})

	t.Run("unknown state", func(t *testing.T) {
		auth := &fakeAuthorizer{err: fmt.Errorf("%w: unknown or reused state", calendarDomain.ErrAuthorization)}
		srv := newTestServer(t, HandlerConfig{Authorizer: auth})

		resp, body := srv.do(t, http.MethodGet, "/auth/callback?code=abc&state=gone", "")

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "authorization_failed", body["error"])
	})

	t.Run("exchange failure", func(t *testing.T) {
		auth := &fakeAuthorizer{err: fmt.Errorf("%w: invalid_grant", calendarDomain.ErrTokenExchange)}
		srv := newTestServer(t, HandlerConfig{Authorizer: auth})

		resp, body := srv.do(t, http.MethodGet, "/auth/callback?code=used&state=s", "")

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "authorization_failed", body["error"])
	})

	t.Run("provider denial and missing state", func(t *testing.T) {
		auth := &fakeAuthorizer{}
		srv := newTestServer(t, HandlerConfig{Authorizer: auth})

		resp, body := srv.do(t, http.MethodGet, "/auth/callback?error=access_denied&state=s", "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "authorization_failed", body["error"])

		resp, body = srv.do(t, http.MethodGet, "/auth/callback?code=abc", "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "bad_request", body["error"])
		assert.Empty(t, auth.state)
	})
}

func TestUsers(t *testing.T) {
	srv := newTestServer(t, HandlerConfig{})

	resp, body := srv.do(t, http.MethodPost, "/users", `{"email":"Ada@Example.com","name":"Ada","squad":"relay","age":36}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "ada@example.com", body["email"])
	assert.Equal(t, "relay", body["squad"])
	assert.EqualValues(t, 36, body["age"])

	resp, body = srv.do(t, http.MethodPost, "/users", `{"email":"ada@example.com","name":"Someone"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "conflict", body["error"])

	resp, body = srv.do(t, http.MethodPost, "/users", `{"email":"bob@example.com","name":"Bob","age":-1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["message"], "Age")

	resp, body = srv.do(t, http.MethodGet, "/users/ada@example.com", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Ada", body["name"])

	resp, _ = srv.do(t, http.MethodGet, "/users/nobody@example.com", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBusyBlocks(t *testing.T) {
	srv := newTestServer(t, HandlerConfig{})
	resp, _ := srv.do(t, http.MethodPost, "/users", `{"email":"ada@example.com","name":"Ada","squad":"relay"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := srv.do(t, http.MethodPost, "/busy",
		`{"email":"ada@example.com","start":"2024-01-01T09:00:00Z","end":"2024-01-01T10:00:00Z","name":"Dentist"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "manual", body["source"])
	assert.Equal(t, "2024-01-01", body["date"])
	assert.Equal(t, "Dentist", body["name"])
	id := body["id"].(string)

	resp, body = srv.do(t, http.MethodGet, "/busy?email=ada@example.com", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["blocks"], 1)

	resp, body = srv.do(t, http.MethodPost, "/busy",
		`{"email":"ada@example.com","start":"2024-01-01T10:00:00Z","end":"2024-01-01T09:00:00Z"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["message"], "End")

	resp, _ = srv.do(t, http.MethodGet, "/busy", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = srv.do(t, http.MethodDelete, "/busy/"+id, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = srv.do(t, http.MethodDelete, "/busy/"+id, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = srv.do(t, http.MethodDelete, "/busy/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_HealthMetricsAndRequestID(t *testing.T) {
	srv := newTestServer(t, HandlerConfig{})

	resp, body := srv.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, resp.Header.Get(observability.RequestIDHeader))

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/metrics", nil)
	require.NoError(t, err)
	req.Header.Set(observability.RequestIDHeader, "req-42")
	metricsResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	raw, err := io.ReadAll(metricsResp.Body)
	require.NoError(t, err)

	assert.Equal(t, "req-42", metricsResp.Header.Get(observability.RequestIDHeader))
	assert.Contains(t, string(raw), `blade_http_requests_total{method="GET",route="GET /health",status="200"} 1`)
}
