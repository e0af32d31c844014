// Package api serves the assessment operations over HTTP.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/climatecredit/credit-engine/internal/assessment"
	"github.com/climatecredit/credit-engine/internal/metrics"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "ClimateCredit API"

// AIStatus reports provider configuration for the health endpoint.
type AIStatus interface {
	Providers() []string
	BreakerStates() map[string]string
}

// Dependencies are the services the router dispatches to.
type Dependencies struct {
	Assessments *assessment.Service
	Climate     assessment.ClimateSource
	AI          AIStatus
	Metrics     *metrics.Metrics
}

// Config holds router settings.
type Config struct {
	Version        string
	AllowedOrigins []string
	StoreDriver    string
}

type handler struct {
	deps Dependencies
	cfg  Config
}

// NewRouter builds the HTTP handler. Routes under /api require identity
// headers except the climate data and project type lookups.
func NewRouter(deps Dependencies, cfg Config) http.Handler {
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	h := &handler{deps: deps, cfg: cfg}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(deps.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", HeaderMFIID, HeaderMFIName, HeaderOfficerID, HeaderOfficerName},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{
			Error:   "not_found",
			Message: "route " + r.Method + " " + r.URL.Path + " not found",
		})
	})

	r.Get("/health", h.health)
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/climate-data/{lat}/{lng}", h.climateData)
		r.Post("/climate-data/risk-score", h.riskScore)
		r.Get("/v2/project-types", h.projectTypes)

		r.Group(func(r chi.Router) {
			r.Use(Identity)

			r.Route("/assessments", func(r chi.Router) {
				r.Post("/assess-loan", h.assessLoan)
				r.Get("/mfi/{mfiID}", h.listAssessments)
				r.Get("/mfi/{mfiID}/export", h.exportAssessments)
				r.Get("/{id}", h.getAssessment)
				r.Patch("/{id}/decision", h.recordDecision)
				r.Post("/{id}/analyze", h.analyze)
			})
			r.Get("/dashboard/{mfiID}", h.dashboard)
			r.Get("/dashboard/{mfiID}/export", h.exportAssessments)
			r.Post("/v2/ai/extract", h.extract)
		})
	})
	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":  "healthy",
		"service": ServiceName,
		"version": h.cfg.Version,
		"store":   h.cfg.StoreDriver,
	}
	if svc := h.deps.Assessments; svc != nil {
		body["policy_version"] = svc.Engine().Policy().Version
	}
	providers := []string{}
	breakers := map[string]string{}
	if h.deps.AI != nil {
		providers = h.deps.AI.Providers()
		breakers = h.deps.AI.BreakerStates()
	}
	body["ai_providers"] = providers
	body["ai_configured"] = len(providers) > 0
	body["circuit_breakers"] = breakers
	writeJSON(w, http.StatusOK, body)
}
