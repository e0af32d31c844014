package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/climatecredit/credit-engine/internal/apperr"
	"github.com/climatecredit/credit-engine/internal/gateway"
)

// errorBody is the JSON shape of every failed response. Success is always
// false.
type errorBody struct {
	Success  bool              `json:"success"`
	Error    string            `json:"error"`
	Category apperr.Category   `json:"category"`
	Message  string            `json:"message"`
	Attempts []gateway.Attempt `json:"attempts,omitempty"`
}

// StatusFor maps an error kind onto an HTTP status.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.InvalidLocation, apperr.UnknownLoanPurpose, apperr.InvalidInput:
		return http.StatusBadRequest
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.AccessDenied:
		return http.StatusForbidden
	case apperr.DecisionConflict:
		return http.StatusConflict
	case apperr.RateLimited:
		return http.StatusTooManyRequests
	case apperr.UpstreamTimeout:
		return http.StatusGatewayTimeout
	case apperr.NotConfigured, apperr.InvalidKey:
		return http.StatusServiceUnavailable
	case apperr.MalformedResponse, apperr.UpstreamError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	msg := apperr.MessageOf(err)
	if kind == apperr.Internal {
		zap.L().Error("api: internal error",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		msg = "an internal error occurred"
	}
	writeJSON(w, StatusFor(kind), errorBody{Error: string(kind), Category: kind.Category(), Message: msg})
}

func writeFailure(w http.ResponseWriter, f *gateway.Failure, attempts []gateway.Attempt) {
	writeJSON(w, StatusFor(f.Reason), errorBody{
		Error:    string(f.Reason),
		Category: f.Reason.Category(),
		Message:  f.Message,
		Attempts: attempts,
	})
}

// decodeJSON reads a JSON request body into v. An empty body leaves v
// untouched.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Wrap(err, apperr.InvalidInput, "request body is not valid JSON")
	}
	return nil
}
