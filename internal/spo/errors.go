// Package spo provides an HTTP client for the SharePoint Online APIs
// (Microsoft Graph and the legacy tenant-scoped REST API) with token
// caching, automatic retry, cursor pagination, and error classification.
package spo

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, spo.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("spo: bad request")
	ErrUnauthorized = errors.New("spo: unauthorized")
	ErrForbidden    = errors.New("spo: forbidden")
	ErrNotFound     = errors.New("spo: not found")
	ErrThrottled    = errors.New("spo: throttled")
	ErrServerError  = errors.New("spo: server error")
)

// ErrFetchUnimplemented is returned by a TokenCache constructed without a
// fetch function. Each credential kind supplies its own fetcher; the cache
// itself never knows how to talk to the token endpoint.
var ErrFetchUnimplemented = errors.New("spo: token fetch not implemented for this credential kind")

// APIError wraps a sentinel error with the HTTP status code and the API
// error message body for debugging.
type APIError struct {
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	return fmt.Sprintf("spo: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// TokenFetchError reports a failed bearer token acquisition. The message is
// keyed off the upstream status code so the operator knows which configured
// field to re-check.
type TokenFetchError struct {
	StatusCode int
	Message    string
}

func (e *TokenFetchError) Error() string {
	return fmt.Sprintf("spo: token fetch failed: %s", e.Message)
}

// InvalidTenantError reports a fully-qualified SharePoint URL whose embedded
// tenant hostname does not match the configured tenant. Raised before any
// network call and never retried.
type InvalidTenantError struct {
	Found    string
	Expected string
}

func (e *InvalidTenantError) Error() string {
	return fmt.Sprintf(
		"spo: invalid sharepoint tenant: url names tenant %q, client is configured for tenant %q",
		e.Found, e.Expected,
	)
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		// 509 Bandwidth Limit Exceeded (SharePoint).
		const statusBandwidthExceeded = 509
		return code == statusBandwidthExceeded
	}
}
