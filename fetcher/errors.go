package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrAttemptsExhausted is returned once every attempt of a fetch has failed.
var ErrAttemptsExhausted = errors.New("fetch attempts exhausted")

// ErrTimeout indicates a timeout while issuing a request.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
	// Proxy is set when the failure happened while connecting to the forwarding endpoint.
	Proxy bool
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// ErrBlocked indicates the target answered with an anti-bot or block page.
// Err carries the typed status error for 403 and 429 answers.
type ErrBlocked struct {
	Status int
	Marker string
	Err    error
}

func (e ErrBlocked) Error() string {
	if e.Marker != "" {
		return fmt.Sprintf("blocked: status %d, body contains %q", e.Status, e.Marker)
	}
	return fmt.Sprintf("blocked: status %d", e.Status)
}

func (e ErrBlocked) Unwrap() error {
	return e.Err
}

// ErrForbidden indicates a forbidden response (HTTP 403).
type ErrForbidden struct {
	Err error
}

func (e ErrForbidden) Error() string {
	return fmt.Errorf("forbidden: %w", e.Err).Error()
}

func (e ErrForbidden) Unwrap() error {
	return e.Err
}

// ErrNotFound indicates a missing resource (HTTP 404).
type ErrNotFound struct {
	Err error
}

func (e ErrNotFound) Error() string {
	return fmt.Errorf("not_found: %w", e.Err).Error()
}

func (e ErrNotFound) Unwrap() error {
	return e.Err
}

// ErrRateLimited indicates the target rate-limited the request.
type ErrRateLimited struct {
	Err error
}

func (e ErrRateLimited) Error() string {
	return fmt.Errorf("rate_limited: %w", e.Err).Error()
}

func (e ErrRateLimited) Unwrap() error {
	return e.Err
}

// ErrStatus is any other unsuccessful HTTP status.
type ErrStatus struct {
	Code int
}

func (e ErrStatus) Error() string {
	return fmt.Sprintf("http status %d", e.Code)
}

// Retryable reports whether the status is worth another attempt.
func (e ErrStatus) Retryable() bool {
	return e.Code >= http.StatusInternalServerError
}

// ErrorTypeLabel maps an error to a short metrics label.
func ErrorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		if conn.Proxy {
			return "proxy"
		}
		return "connection"
	}
	var forbidden ErrForbidden
	if errors.As(err, &forbidden) {
		return "forbidden"
	}
	var rateLimited ErrRateLimited
	if errors.As(err, &rateLimited) {
		return "rate_limited"
	}
	var blocked ErrBlocked
	if errors.As(err, &blocked) {
		return "blocked"
	}
	var notFound ErrNotFound
	if errors.As(err, &notFound) {
		return "not_found"
	}
	var status ErrStatus
	if errors.As(err, &status) {
		return "status"
	}
	return "other"
}

// classifyTransportError wraps an error returned by the HTTP client.
func classifyTransportError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err, Proxy: opErr.Op == "proxyconnect"}
	}
	if strings.Contains(err.Error(), "proxyconnect") || strings.Contains(err.Error(), "socks connect") {
		return ErrConnection{Err: err, Proxy: true}
	}
	return ErrConnection{Err: err}
}

// classifyStatus maps a non-success status to a typed error.
func classifyStatus(code int) error {
	wrapped := ErrStatus{Code: code}
	switch code {
	case http.StatusForbidden:
		return ErrForbidden{Err: wrapped}
	case http.StatusNotFound:
		return ErrNotFound{Err: wrapped}
	case http.StatusTooManyRequests:
		return ErrRateLimited{Err: wrapped}
	}
	return wrapped
}
