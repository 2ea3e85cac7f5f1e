// Package orcherr defines the error taxonomy shared by every orchestration
// component. Operations return one of these sentinels wrapped with
// fmt.Errorf("...: %w", err) so callers can branch with errors.Is while
// still getting a descriptive message in logs.
package orcherr

import (
	"errors"
	"net/http"
)

var (
	// ErrAlreadyExists is returned by SandboxManager.CreateSandbox when a
	// sandbox for the thread already exists. Recovered locally (reuse).
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotFound is returned when a sandbox, download token, or routing
	// entry does not exist.
	ErrNotFound = errors.New("not found")

	// ErrTimeout is returned by suspension points that exceeded their
	// deadline (readiness polling, upstream reads).
	ErrTimeout = errors.New("timeout")

	// ErrTokenExpired is returned by FileProxy and TokenVault for tokens
	// past their TTL.
	ErrTokenExpired = errors.New("token expired")

	// ErrAuthMissing is returned when an admin token required for
	// impersonation is absent.
	ErrAuthMissing = errors.New("auth missing")

	// ErrRoutingMiss marks a lookup in which ConfigClient has no team
	// mapped to an identifier and auto-provisioning is disabled or
	// failed. No code path returns it: the demo adapters log a routing
	// miss and drop the message.
	ErrRoutingMiss = errors.New("routing miss")

	// ErrSandboxSetupFailed covers sandbox create failures. A
	// wait-for-ready timeout is reported as ErrTimeout.
	ErrSandboxSetupFailed = errors.New("sandbox setup failed")

	// ErrUpstreamBroken marks an upstream SSE stream that closed before a
	// terminal event was observed. StreamBroker reports that case to its
	// client as an "error" event rather than returning this sentinel.
	ErrUpstreamBroken = errors.New("upstream stream broken")

	// ErrUpstreamGateway wraps a non-200 response from an upstream the
	// orchestrator proxies (FileProxy's upstream_url, SandboxRouter).
	ErrUpstreamGateway = errors.New("upstream gateway error")

	// ErrBadRequest marks a malformed or incomplete request payload.
	ErrBadRequest = errors.New("bad request")
)

// StatusFor maps a sentinel (or a wrapped error chain containing one) to
// the HTTP status code §7 assigns it. Returns 500 for anything
// unrecognized — an unmapped internal error is always a server fault,
// never a client one.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrTokenExpired):
		return http.StatusNotFound
	case errors.Is(err, ErrAuthMissing):
		return http.StatusInternalServerError
	case errors.Is(err, ErrSandboxSetupFailed):
		return http.StatusInternalServerError
	case errors.Is(err, ErrUpstreamBroken):
		return http.StatusInternalServerError
	case errors.Is(err, ErrUpstreamGateway):
		return http.StatusBadGateway
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrAlreadyExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
