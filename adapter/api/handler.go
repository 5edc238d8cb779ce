package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	calendarApp "github.com/felixgeelhaar/blade/internal/calendar/application"
	calendarDomain "github.com/felixgeelhaar/blade/internal/calendar/domain"
	identityUsers "github.com/felixgeelhaar/blade/internal/identity/application/users"
	identityDomain "github.com/felixgeelhaar/blade/internal/identity/domain"
	"github.com/google/uuid"
)

// Syncer runs calendar syncs. *calendarApp.Orchestrator implements it.
type Syncer interface {
	ConnectURL(ctx context.Context, email string) (string, error)
	SyncBusy(ctx context.Context, email string) (calendarDomain.BusySyncResult, error)
	SyncEvents(ctx context.Context, email, calendarID string) (calendarDomain.EventsSyncResult, error)
}

// AuthorizationCompleter finishes the OAuth round trip. *oauth.Service implements it.
type AuthorizationCompleter interface {
	CompleteAuthorization(ctx context.Context, code, state string) (uuid.UUID, error)
}

// Disconnector removes a calendar credential.
type Disconnector interface {
	Disconnect(ctx context.Context, cmd calendarApp.DisconnectCommand) (calendarApp.DisconnectResult, error)
}

// UserRegistry registers and finds users.
type UserRegistry interface {
	Register(ctx context.Context, cmd identityUsers.RegisterCommand) (*identityDomain.User, error)
	FindByEmail(ctx context.Context, email string) (*identityDomain.User, error)
}

// BusyManager manages manual busy blocks.
type BusyManager interface {
	Create(ctx context.Context, cmd calendarApp.CreateBusyCommand) (*calendarDomain.BusyBlock, error)
	List(ctx context.Context, email string) ([]*calendarDomain.BusyBlock, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// HandlerConfig holds dependencies for the handler. Calendar collaborators
// left nil answer 503.
type HandlerConfig struct {
	Syncer       Syncer
	Authorizer   AuthorizationCompleter
	Disconnector Disconnector
	Users        UserRegistry
	Busy         BusyManager
	// FrontendRedirectURL receives the browser after a completed authorization.
	FrontendRedirectURL string
	Logger              *slog.Logger
}

// Handler handles API requests.
type Handler struct {
	syncer       Syncer
	authorizer   AuthorizationCompleter
	disconnector Disconnector
	users        UserRegistry
	busy         BusyManager
	redirectURL  string
	logger       *slog.Logger
}

// NewHandler creates a new handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		syncer:       cfg.Syncer,
		authorizer:   cfg.Authorizer,
		disconnector: cfg.Disconnector,
		users:        cfg.Users,
		busy:         cfg.Busy,
		redirectURL:  cfg.FrontendRedirectURL,
		logger:       cfg.Logger,
	}
}

// AuthCallback handles GET /auth/callback
func (h *Handler) AuthCallback(w http.ResponseWriter, r *http.Request) {
	if h.authorizer == nil {
		writeError(w, ErrCalendarUnavailable)
		return
	}
	q := r.URL.Query()
	if providerErr := q.Get("error"); providerErr != "" {
		writeError(w, ErrAuthorizationFailed.with("Provider denied access: "+providerErr))
		return
	}
	state := q.Get("state")
	if state == "" {
		writeError(w, ErrBadRequest.with("Query parameter 'state' is required"))
		return
	}

	userID, err := h.authorizer.CompleteAuthorization(r.Context(), q.Get("code"), state)
	if err != nil {
		h.fail(w, r, "complete_authorization", err)
		return
	}

	target, err := connectedRedirect(h.redirectURL)
	if err != nil {
		h.logger.Error("invalid frontend redirect url", "error", err)
		writeError(w, ErrInternalServer)
		return
	}
	h.logger.InfoContext(r.Context(), "authorization completed", "user_id", userID.String())
	http.Redirect(w, r, target, http.StatusFound)
}

// connectedRedirect appends calendar=connected to base.
func connectedRedirect(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("calendar", "connected")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// SyncBusy handles POST /calendar/sync
func (h *Handler) SyncBusy(w http.ResponseWriter, r *http.Request) {
	if h.syncer == nil {
		writeError(w, ErrCalendarUnavailable)
		return
	}
	var req SyncRequest
	if apiErr := decode(r, &req); apiErr != nil {
		writeError(w, apiErr)
		return
	}

	res, err := h.syncer.SyncBusy(r.Context(), req.Email)
	if err != nil {
		h.failSync(w, r, "sync_busy", req.Email, err)
		return
	}
	writeJSON(w, http.StatusOK, toBusySyncResponse(res))
}

// SyncEvents handles POST /calendar/events/sync
func (h *Handler) SyncEvents(w http.ResponseWriter, r *http.Request) {
	if h.syncer == nil {
		writeError(w, ErrCalendarUnavailable)
		return
	}
	var req EventsSyncRequest
	if apiErr := decode(r, &req); apiErr != nil {
		writeError(w, apiErr)
		return
	}

	res, err := h.syncer.SyncEvents(r.Context(), req.Email, req.CalendarID)
	if err != nil {
		h.failSync(w, r, "sync_events", req.Email, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventsSyncResponse(res))
}

// Disconnect handles POST /calendar/disconnect
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	if h.disconnector == nil {
		writeError(w, ErrCalendarUnavailable)
		return
	}
	var req DisconnectRequest
	if apiErr := decode(r, &req); apiErr != nil {
		writeError(w, apiErr)
		return
	}

	res, err := h.disconnector.Disconnect(r.Context(), calendarApp.DisconnectCommand{
		Email:           req.Email,
		PurgeBusyBlocks: req.PurgeBusyBlocks,
	})
	if err != nil {
		h.fail(w, r, "disconnect", err)
		return
	}
	writeJSON(w, http.StatusOK, toDisconnectResponse(res))
}

// failSync writes a sync error. A revoked credential gets a fresh connect URL
// when the credential mode has one.
func (h *Handler) failSync(w http.ResponseWriter, r *http.Request, op, email string, err error) {
	if !errors.Is(err, calendarDomain.ErrTokenRefresh) {
		h.fail(w, r, op, err)
		return
	}
	apiErr := *ErrReauthRequired
	if connectURL, urlErr := h.syncer.ConnectURL(r.Context(), email); urlErr == nil {
		apiErr.ConnectURL = connectURL
	} else {
		h.logger.WarnContext(r.Context(), "no connect url for reauth", "operation", op, "error", urlErr)
	}
	writeError(w, &apiErr)
}

// fail maps err and logs server-side failures.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	apiErr := toAPIError(err)
	if apiErr.Status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "operation", op, "error", err)
	} else {
		h.logger.InfoContext(r.Context(), "request rejected", "operation", op, "code", apiErr.Code, "error", err)
	}
	writeError(w, apiErr)
}
