package api

import (
	"errors"
	"fmt"
	"net/http"

	calendarDomain "github.com/felixgeelhaar/blade/internal/calendar/domain"
	identityOAuth "github.com/felixgeelhaar/blade/internal/identity/application/oauth"
	identityDomain "github.com/felixgeelhaar/blade/internal/identity/domain"
)

// APIError represents an API error. Code is serialised as "error".
type APIError struct {
	Status     int    `json:"-"`
	Code       string `json:"error"`
	Message    string `json:"message,omitempty"`
	ConnectURL string `json:"connectUrl,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// with returns a copy of e carrying message.
func (e *APIError) with(message string) *APIError {
	cp := *e
	cp.Message = message
	return &cp
}

// Common API errors
var (
	ErrBadRequest = &APIError{
		Status:  http.StatusBadRequest,
		Code:    "bad_request",
		Message: "Invalid request",
	}
	ErrNotFound = &APIError{
		Status:  http.StatusNotFound,
		Code:    "not_found",
		Message: "Resource not found",
	}
	ErrConflict = &APIError{
		Status:  http.StatusConflict,
		Code:    "conflict",
		Message: "Resource already exists",
	}
	ErrAuthorizationFailed = &APIError{
		Status:  http.StatusBadRequest,
		Code:    "authorization_failed",
		Message: "Authorization failed",
	}
	ErrNotConnected = &APIError{
		Status:  http.StatusConflict,
		Code:    "not_connected",
		Message: "Calendar is not connected",
	}
	ErrReauthRequired = &APIError{
		Status:  http.StatusUnauthorized,
		Code:    "reauth_required",
		Message: "Calendar access was revoked, reconnect",
	}
	ErrSyncFailed = &APIError{
		Status: http.StatusBadGateway,
		Code:   "sync_failed",
	}
	ErrReconciliationFailed = &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "reconciliation_failed",
		Message: "Failed to store busy blocks",
	}
	ErrCalendarUnavailable = &APIError{
		Status:  http.StatusServiceUnavailable,
		Code:    "calendar_unavailable",
		Message: "Calendar sync is not configured",
	}
	ErrInternalServer = &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "internal_error",
		Message: "Internal server error",
	}
)

// toAPIError maps application errors to API errors. Unknown errors become
// internal errors without leaking their text.
func toAPIError(err error) *APIError {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, identityDomain.ErrUserNotFound):
		return ErrNotFound.with("User not found")
	case errors.Is(err, calendarDomain.ErrBusyBlockNotFound):
		return ErrNotFound.with("Busy block not found")
	case errors.Is(err, identityDomain.ErrDuplicateUser):
		return ErrConflict.with(err.Error())
	case errors.Is(err, identityDomain.ErrInvalidEmail),
		errors.Is(err, identityDomain.ErrEmptyName),
		errors.Is(err, identityDomain.ErrNameTooLong),
		errors.Is(err, identityDomain.ErrInvalidProfile),
		errors.Is(err, calendarDomain.ErrInvalidPeriod),
		errors.Is(err, calendarDomain.ErrInvalidStart):
		return ErrBadRequest.with(err.Error())
	case errors.Is(err, calendarDomain.ErrTokenRefresh):
		return ErrReauthRequired
	case errors.Is(err, calendarDomain.ErrProviderFetch):
		return ErrSyncFailed.with(err.Error())
	case errors.Is(err, calendarDomain.ErrReconciliation):
		return ErrReconciliationFailed
	case errors.Is(err, calendarDomain.ErrAuthorization):
		return ErrAuthorizationFailed.with(err.Error())
	case errors.Is(err, calendarDomain.ErrNotConnected):
		return ErrNotConnected
	case errors.Is(err, identityOAuth.ErrConnectUnsupported):
		return ErrConflict.with(err.Error())
	case errors.Is(err, calendarDomain.ErrSyncFailed):
		return ErrSyncFailed.with(err.Error())
	default:
		return ErrInternalServer
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, apiErr *APIError) {
	writeJSON(w, apiErr.Status, apiErr)
}
