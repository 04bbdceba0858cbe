// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Error taxonomy for the retrieval engine. Callers classify with errors.Is;
// the gmail package maps provider responses onto these values.
var (
	// ErrInvalidQuery indicates a malformed search request (caller error, no retry).
	ErrInvalidQuery = errors.New("invalid query")

	// ErrUnauthorized indicates a single auth rejection from the provider.
	// Internal signal: callers invalidate the cached token and retry once
	// before surfacing ErrAuthExpired.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrAuthExpired indicates the provider rejected a freshly refreshed token.
	// Requires user re-authorization.
	ErrAuthExpired = errors.New("auth expired")

	// ErrReauthRequired indicates the refresh token itself is no longer usable
	// (revoked grant or consent). Only re-running the OAuth flow can fix it.
	ErrReauthRequired = errors.New("reauthorization required")

	// ErrRateLimited indicates the provider throttled the request.
	// Retried internally with backoff; surfaced only when retries exhaust.
	ErrRateLimited = errors.New("rate limited")

	// ErrProviderProtocol indicates a malformed provider response.
	ErrProviderProtocol = errors.New("provider protocol error")

	// ErrTransientNetwork indicates a network-level or 5xx failure.
	ErrTransientNetwork = errors.New("transient network error")

	// ErrPermanentFetch indicates a non-retryable per-item failure
	// (e.g., attachment part no longer exists).
	ErrPermanentFetch = errors.New("permanent fetch error")

	// ErrNoCredential indicates no stored OAuth credential for the user.
	ErrNoCredential = errors.New("no stored credential")
)
