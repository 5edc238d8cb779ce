package domain

import (
	"errors"
	"fmt"
)

// Sync error taxonomy. Connected-path failures are returned wrapped in
// ErrSyncFailed so callers can match either the generic or the specific cause.
var (
	// ErrNotConnected means the user has no calendar credential on file.
	ErrNotConnected = errors.New("calendar not connected")

	// ErrAuthorization covers an unknown or reused authorization state and
	// a failed code exchange.
	ErrAuthorization = errors.New("authorization failed")

	// ErrTokenExchange is a failed authorization-code exchange. It matches ErrAuthorization.
	ErrTokenExchange = fmt.Errorf("%w: token exchange failed", ErrAuthorization)

	// ErrTokenRefresh means the refresh token was rejected. The user must reconnect.
	ErrTokenRefresh = errors.New("token refresh failed")

	// ErrProviderFetch is a transient calendar provider failure.
	ErrProviderFetch = errors.New("calendar provider fetch failed")

	// ErrReconciliation means storage failed while replacing busy blocks.
	ErrReconciliation = errors.New("busy block reconciliation failed")

	// ErrSyncFailed wraps every failure on the connected sync path.
	ErrSyncFailed = errors.New("calendar sync failed")
)
