package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/climatecredit/credit-engine/internal/apperr"
	"github.com/climatecredit/credit-engine/internal/metrics"
	"github.com/climatecredit/credit-engine/internal/model"
)

// Identity headers set by the upstream authentication proxy.
const (
	HeaderMFIID       = "X-MFI-ID"
	HeaderMFIName     = "X-MFI-Name"
	HeaderOfficerID   = "X-Officer-ID"
	HeaderOfficerName = "X-Officer-Name"
)

type officerKey struct{}

// Identity rejects requests without an MFI and officer id and stores the
// officer on the request context.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o := model.Officer{
			MFIID:       strings.TrimSpace(r.Header.Get(HeaderMFIID)),
			MFIName:     strings.TrimSpace(r.Header.Get(HeaderMFIName)),
			OfficerID:   strings.TrimSpace(r.Header.Get(HeaderOfficerID)),
			OfficerName: strings.TrimSpace(r.Header.Get(HeaderOfficerName)),
		}
		if o.MFIID == "" || o.OfficerID == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{
				Error:    "unauthorized",
				Category: apperr.CategoryFixInput,
				Message:  "missing " + HeaderMFIID + " or " + HeaderOfficerID + " header",
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), officerKey{}, o)))
	})
}

// OfficerFrom returns the officer stored by Identity.
func OfficerFrom(ctx context.Context) model.Officer {
	o, _ := ctx.Value(officerKey{}).(model.Officer)
	return o
}

// RequestLogger logs each request with zap and records its latency by
// route pattern.
func RequestLogger(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			elapsed := time.Since(start)
			m.ObserveHTTP(r.Method, route, strconv.Itoa(status), elapsed)

			zap.L().Info("api: request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", elapsed),
				zap.String("origin", r.Header.Get("Origin")),
			)
		})
	}
}
