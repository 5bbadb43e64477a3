package token

import (
	"fmt"
	"net/http"
)

// ConfigError indicates that the keeper was constructed without the
// credentials it needs to ever produce a token. It is surfaced at startup,
// not deferred to the first request.
type ConfigError struct {
	Missing string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("token keeper configuration invalid: %s missing", e.Missing)
}

// ProviderError indicates that the authorization server answered, but not
// with a usable token: a non-2xx status, a body that isn't JSON, or JSON
// without an access token. The status and a bounded copy of the body are
// retained for diagnostics.
type ProviderError struct {
	StatusCode int
	Body       string
	Reason     string
}

func (e *ProviderError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("authorization server response invalid: %s (status %d): %s", e.Reason, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("authorization server refused refresh (status %d): %s", e.StatusCode, e.Body)
}

// Status implements the handler status mapping: an upstream failure is a bad
// gateway from the caller's perspective.
func (e *ProviderError) Status() (int, string) {
	return http.StatusBadGateway, "authorization upstream failure"
}

// NetworkError wraps a transport-level failure (timeout, connection refused)
// talking to the authorization server. Recoverable: the background loop
// retries on its next tick.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("authorization server unreachable: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// UnavailableError indicates that no valid token has ever been obtained and
// the synchronous refresh attempt also failed. Callers must fail their
// enclosing request rather than send an unauthenticated one downstream.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("no token available: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

func (e *UnavailableError) Status() (int, string) {
	return http.StatusServiceUnavailable, "authorization unavailable"
}
