package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/climatecredit/credit-engine/internal/apperr"
)

// TransientError wraps an upstream error that is safe to retry (429, 5xx,
// network timeout).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the upstream status code, or 0 when there was none.
func (e *TransientError) HTTPStatus() int {
	return e.StatusCode
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// StatusCoder is implemented by client errors that carry an HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// IsTransient reports whether err (or any error in its chain) is a
// TransientError or a network-level failure worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var sc StatusCoder
	if errors.As(err, &sc) && IsTransientHTTPStatus(sc.HTTPStatus()) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus reports whether an HTTP status indicates a
// server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// ClassifyStatus maps an upstream HTTP status onto a failure kind.
func ClassifyStatus(statusCode int) apperr.Kind {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return apperr.InvalidKey
	case statusCode == http.StatusTooManyRequests:
		return apperr.RateLimited
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		return apperr.UpstreamTimeout
	default:
		return apperr.UpstreamError
	}
}

// Classify maps an upstream call failure onto a failure kind. Errors that
// already carry a kind keep it.
func Classify(err error) apperr.Kind {
	if err == nil {
		return ""
	}

	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, ErrCircuitOpen) {
		return apperr.UpstreamError
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.UpstreamTimeout
	}

	var sc StatusCoder
	if errors.As(err, &sc) && sc.HTTPStatus() != 0 {
		return ClassifyStatus(sc.HTTPStatus())
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperr.UpstreamTimeout
	}

	return apperr.UpstreamError
}

// ClassifyError categorizes an error as "transient" or "permanent" for
// batch reporting.
func ClassifyError(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}
