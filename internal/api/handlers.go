package api

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/climatecredit/credit-engine/internal/apperr"
	"github.com/climatecredit/credit-engine/internal/assessment"
	"github.com/climatecredit/credit-engine/internal/climate"
	"github.com/climatecredit/credit-engine/internal/gateway"
	"github.com/climatecredit/credit-engine/internal/model"
	"github.com/climatecredit/credit-engine/internal/risk"
	"github.com/climatecredit/credit-engine/internal/store"
)

type assessLoanRequest struct {
	Latitude         *float64        `json:"latitude"`
	Longitude        *float64        `json:"longitude"`
	LocationName     string          `json:"locationName"`
	LoanAmount       decimal.Decimal `json:"loanAmount"`
	LoanPurpose      string          `json:"loanPurpose"`
	CropType         string          `json:"cropType"`
	LoanTerm         *int            `json:"loanTerm"`
	ClientName       string          `json:"clientName"`
	ClientAge        *int            `json:"clientAge"`
	ExistingLoans    *int            `json:"existingLoans"`
	RepaymentHistory *float64        `json:"repaymentHistory"`
}

func (h *handler) assessLoan(w http.ResponseWriter, r *http.Request) {
	var req assessLoanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		writeError(w, r, apperr.New(apperr.InvalidLocation, "latitude and longitude are required"))
		return
	}

	a, err := h.deps.Assessments.Create(r.Context(), OfficerFrom(r.Context()),
		model.LocationInput{Latitude: *req.Latitude, Longitude: *req.Longitude, Name: req.LocationName},
		model.LoanInput{Amount: req.LoanAmount, Purpose: req.LoanPurpose, CropType: req.CropType, TermMonths: req.LoanTerm},
		model.ClientInput{Name: req.ClientName, Age: req.ClientAge, ExistingLoans: req.ExistingLoans, RepaymentHistory: req.RepaymentHistory},
	)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "assessment": a})
}

func (h *handler) listAssessments(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := h.deps.Assessments.List(r.Context(), OfficerFrom(r.Context()), chi.URLParam(r, "mfiID"), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// parseFilter reads list query parameters. status accepts either a
// lifecycle status or, as older clients send it, a recommendation type.
func parseFilter(r *http.Request) (store.Filter, error) {
	q := r.URL.Query()
	var f store.Filter

	if v := q.Get("recommendation"); v != "" {
		f.Recommendation = model.RecommendationType(strings.ToLower(v))
	}
	if v := strings.ToLower(q.Get("status")); v != "" {
		if rt := model.RecommendationType(v); rt.Rank() >= 0 {
			f.Recommendation = rt
		} else {
			f.Status = model.Status(v)
		}
	}

	ints := []struct {
		name string
		dst  **int
	}{{"minRisk", &f.MinRisk}, {"maxRisk", &f.MaxRisk}}
	for _, p := range ints {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, apperr.Newf(apperr.InvalidInput, "%s must be an integer", p.name)
		}
		*p.dst = &n
	}

	for name, dst := range map[string]*int{"page": &f.Page, "limit": &f.Limit} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return f, apperr.Newf(apperr.InvalidInput, "%s must be a positive integer", name)
		}
		*dst = n
	}
	return f, nil
}

func (h *handler) getAssessment(w http.ResponseWriter, r *http.Request) {
	a, err := h.deps.Assessments.Get(r.Context(), OfficerFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *handler) recordDecision(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Decision string `json:"decision"`
		Notes    string `json:"notes"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	a, err := h.deps.Assessments.RecordDecision(r.Context(), OfficerFrom(r.Context()), chi.URLParam(r, "id"), req.Decision, req.Notes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "assessment": a})
}

type analyzeRequest struct {
	ClientName         string   `json:"clientName"`
	LoanTerm           *int     `json:"loanTerm"`
	MonthlyIncome      *float64 `json:"monthlyIncome"`
	BusinessExperience *float64 `json:"businessExperience"`
	ProjectType        string   `json:"projectType"`
	LoanType           string   `json:"loanType"`
	CollateralType     string   `json:"collateralType"`
	LandOwnership      string   `json:"landOwnership"`
	IrrigationAccess   string   `json:"irrigationAccess"`
	InsuranceStatus    string   `json:"insuranceStatus"`
	ConflictScore      *int     `json:"conflictScore"`
	ConflictLevel      string   `json:"conflictLevel"`
	ConflictIncidents  string   `json:"conflictIncidents"`
	ConflictTrend      string   `json:"conflictTrend"`
	EconomicScore      *int     `json:"economicScore"`
	PovertyRate        string   `json:"povertyRate"`
	EconomicOutlook    string   `json:"economicOutlook"`
}

func (req analyzeRequest) context() gateway.SupplementalContext {
	return gateway.SupplementalContext{
		Applicant: gateway.ApplicantExtras{
			ClientName:         req.ClientName,
			LoanTerm:           req.LoanTerm,
			MonthlyIncome:      req.MonthlyIncome,
			BusinessExperience: req.BusinessExperience,
			ProjectType:        req.ProjectType,
			LoanType:           req.LoanType,
			CollateralType:     req.CollateralType,
			LandOwnership:      req.LandOwnership,
			IrrigationAccess:   req.IrrigationAccess,
			InsuranceStatus:    req.InsuranceStatus,
		},
		Conflict: gateway.ConflictContext{
			Score:           req.ConflictScore,
			Stability:       req.ConflictLevel,
			RecentIncidents: req.ConflictIncidents,
			Trend:           req.ConflictTrend,
		},
		Economic: gateway.EconomicContext{
			Score:       req.EconomicScore,
			PovertyRate: req.PovertyRate,
			Outlook:     req.EconomicOutlook,
		},
	}
}

func (h *handler) analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.deps.Assessments.Analyze(r.Context(), OfficerFrom(r.Context()), chi.URLParam(r, "id"), req.context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !res.OK() {
		writeFailure(w, res.Failure, res.Attempts)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"analysis":  res.Value.Text,
		"provider":  res.Provider,
		"timestamp": res.Value.GeneratedAt,
		"attempts":  res.Attempts,
	})
}

func (h *handler) extract(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Transcript string                  `json:"transcript"`
		Draft      *model.ApplicationDraft `json:"draft"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, draft := h.deps.Assessments.ExtractFromTranscript(r.Context(), req.Transcript, req.Draft)
	if !res.OK() {
		writeFailure(w, res.Failure, res.Attempts)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"provider":   res.Provider,
		"extracted":  res.Value.Fields,
		"confidence": res.Value.Confidence,
		"summary":    res.Value.Summary,
		"quality":    res.Value.Quality,
		"issues":     res.Value.Issues,
		"draft":      draft,
		"attempts":   res.Attempts,
	})
}

func (h *handler) exportAssessments(w http.ResponseWriter, r *http.Request) {
	mfiID := chi.URLParam(r, "mfiID")
	format, err := assessment.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if _, err := h.deps.Assessments.Export(r.Context(), OfficerFrom(r.Context()), mfiID, format, &buf); err != nil {
		writeError(w, r, err)
		return
	}

	contentType := "text/csv"
	if format == assessment.FormatXLSX {
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	filename := fmt.Sprintf("assessments-%s-%s.%s", mfiID, time.Now().UTC().Format("20060102"), format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *handler) dashboard(w http.ResponseWriter, r *http.Request) {
	p, err := h.deps.Assessments.Portfolio(r.Context(), OfficerFrom(r.Context()), chi.URLParam(r, "mfiID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) climateData(w http.ResponseWriter, r *http.Request) {
	lat, err1 := strconv.ParseFloat(chi.URLParam(r, "lat"), 64)
	lng, err2 := strconv.ParseFloat(chi.URLParam(r, "lng"), 64)
	if err1 != nil || err2 != nil {
		writeError(w, r, apperr.New(apperr.InvalidLocation, "latitude and longitude must be numbers"))
		return
	}
	snap, err := h.deps.Climate.Fetch(r.Context(), lat, lng)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handler) riskScore(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Latitude         *float64 `json:"latitude"`
		Longitude        *float64 `json:"longitude"`
		LoanPurpose      string   `json:"loanPurpose"`
		CropType         string   `json:"cropType"`
		ClientAge        *int     `json:"clientAge"`
		ExistingLoans    int      `json:"existingLoans"`
		RepaymentHistory *float64 `json:"repaymentHistory"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		writeError(w, r, apperr.New(apperr.InvalidLocation, "latitude and longitude are required"))
		return
	}
	if err := climate.ValidateLocation(*req.Latitude, *req.Longitude); err != nil {
		writeError(w, r, err)
		return
	}

	engine := h.deps.Assessments.Engine()
	purpose, err := engine.Policy().NormalizePurpose(req.LoanPurpose)
	if err != nil {
		writeError(w, r, err)
		return
	}
	snap, err := h.deps.Climate.Fetch(r.Context(), *req.Latitude, *req.Longitude)
	if err != nil {
		writeError(w, r, err)
		return
	}
	result, err := engine.Score(snap, purpose, req.CropType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	prob := engine.Estimate(result.Score, risk.Borrower{
		Age:              req.ClientAge,
		ExistingLoans:    max(req.ExistingLoans, 0),
		RepaymentHistory: req.RepaymentHistory,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"climate_data":        snap,
		"climate_risk":        result,
		"default_probability": prob,
		"recommendation":      engine.Recommend(result, prob, purpose, req.CropType),
	})
}

func (h *handler) projectTypes(w http.ResponseWriter, _ *http.Request) {
	pol := h.deps.Assessments.Engine().Policy()

	type projectType struct {
		Value        string   `json:"value"`
		Aliases      []string `json:"aliases,omitempty"`
		Agricultural bool     `json:"agricultural"`
		Crops        []string `json:"crops,omitempty"`
	}
	aliases := make(map[string][]string)
	for alias, to := range pol.Aliases {
		aliases[to] = append(aliases[to], alias)
	}

	var out []projectType
	for _, name := range pol.PurposeNames() {
		sort.Strings(aliases[name])
		var crops []string
		for crop := range pol.Purposes[name].Crops {
			crops = append(crops, crop)
		}
		sort.Strings(crops)
		out = append(out, projectType{
			Value:        name,
			Aliases:      aliases[name],
			Agricultural: pol.IsAgricultural(name),
			Crops:        crops,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"policy_version": pol.Version, "project_types": out})
}
