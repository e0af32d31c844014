package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/climatecredit/credit-engine/internal/apperr"
	"github.com/climatecredit/credit-engine/internal/assessment"
	"github.com/climatecredit/credit-engine/internal/climate"
	"github.com/climatecredit/credit-engine/internal/gateway"
	"github.com/climatecredit/credit-engine/internal/metrics"
	"github.com/climatecredit/credit-engine/internal/model"
	"github.com/climatecredit/credit-engine/internal/policy"
	"github.com/climatecredit/credit-engine/internal/risk"
	"github.com/climatecredit/credit-engine/internal/store"
)

var (
	july = time.Date(2026, time.July, 10, 8, 0, 0, 0, time.UTC)

	sylhet = model.Officer{MFIID: "mfi-sylhet", MFIName: "Sylhet Rural Credit", OfficerID: "off-7", OfficerName: "Rahima Begum"}
	nyeri  = model.Officer{MFIID: "mfi-nyeri", MFIName: "Nyeri Growers", OfficerID: "off-2", OfficerName: "James Mwangi"}
)

const sylhetLoanBody = `{"latitude":24.8949,"longitude":91.8687,"loanAmount":50000,"loanPurpose":"agriculture","cropType":"rice","clientAge":42,"existingLoans":1,"repaymentHistory":95}`

type testEnv struct {
	handler http.Handler
	ai      *mockAssistant
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ai := new(mockAssistant)
	m := metrics.New()
	fetcher := climate.NewFetcher(climate.WithClock(func() time.Time { return july }), climate.WithMetrics(m))
	svc := assessment.New(store.NewMemory(), fetcher, risk.NewEngine(policy.Default()), ai,
		assessment.WithMetrics(m), assessment.WithClock(func() time.Time { return july }))

	h := NewRouter(Dependencies{
		Assessments: svc,
		Climate:     fetcher,
		AI:          stubStatus{providers: []string{"claude", "groq"}, states: map[string]string{"claude": "closed", "groq": "closed"}},
		Metrics:     m,
	}, Config{Version: "test", StoreDriver: store.DriverMemory})
	return &testEnv{handler: h, ai: ai}
}

func (e *testEnv) do(t *testing.T, method, path, body string, officer *model.Officer) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if officer != nil {
		req.Header.Set(HeaderMFIID, officer.MFIID)
		req.Header.Set(HeaderMFIName, officer.MFIName)
		req.Header.Set(HeaderOfficerID, officer.OfficerID)
		req.Header.Set(HeaderOfficerName, officer.OfficerName)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type createdBody struct {
	Success    bool              `json:"success"`
	Assessment *model.Assessment `json:"assessment"`
}

func (e *testEnv) create(t *testing.T) *model.Assessment {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/assessments/assess-loan", sylhetLoanBody, &sylhet)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[createdBody](t, rec).Assessment
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]any](t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, ServiceName, body["service"])
	assert.Equal(t, policy.DefaultVersion, body["policy_version"])
	assert.Equal(t, []any{"claude", "groq"}, body["ai_providers"])
	assert.Equal(t, true, body["ai_configured"])
	assert.Equal(t, map[string]any{"claude": "closed", "groq": "closed"}, body["circuit_breakers"])
}

func TestIdentityRequired(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/assessments/mfi/mfi-sylhet", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decode[errorBody](t, rec).Error)

	partial := model.Officer{MFIID: "mfi-sylhet"}
	rec = env.do(t, http.MethodPost, "/api/assessments/assess-loan", sylhetLoanBody, &partial)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAssessLoan(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/assessments/assess-loan", sylhetLoanBody, &sylhet)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decode[createdBody](t, rec)
	assert.True(t, body.Success)
	a := body.Assessment
	assert.True(t, strings.HasPrefix(a.ID, assessment.IDPrefix))
	assert.Equal(t, 69, a.Results.ClimateRiskScore)
	assert.Equal(t, model.RecommendDefer, a.Recommendation.Type)
	assert.Equal(t, model.StatusPending, a.Status)
	assert.Equal(t, "Sylhet", a.Location.Name)
	assert.Equal(t, "Rahima Begum", a.LoanOfficerName)
	assert.Equal(t, "50000", a.LoanDetails.Amount.String())
}

func TestAssessLoan_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		kind   apperr.Kind
	}{
		{"unknown purpose", `{"latitude":24.9,"longitude":91.8,"loanAmount":100,"loanPurpose":"crypto"}`, http.StatusBadRequest, apperr.UnknownLoanPurpose},
		{"missing coordinates", `{"loanAmount":100,"loanPurpose":"agriculture"}`, http.StatusBadRequest, apperr.InvalidLocation},
		{"latitude out of range", `{"latitude":-91,"longitude":10,"loanAmount":100,"loanPurpose":"agriculture"}`, http.StatusBadRequest, apperr.InvalidLocation},
		{"missing amount", `{"latitude":24.9,"longitude":91.8,"loanPurpose":"agriculture"}`, http.StatusBadRequest, apperr.InvalidInput},
		{"malformed json", `{"latitude":`, http.StatusBadRequest, apperr.InvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(t, http.MethodPost, "/api/assessments/assess-loan", tt.body, &sylhet)
			assert.Equal(t, tt.status, rec.Code)
			body := decode[errorBody](t, rec)
			assert.Equal(t, string(tt.kind), body.Error)
			assert.Equal(t, apperr.CategoryFixInput, body.Category)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestGetAssessment(t *testing.T) {
	env := newTestEnv(t)
	a := env.create(t)

	rec := env.do(t, http.MethodGet, "/api/assessments/"+a.ID, "", &sylhet)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, a.ID, decode[model.Assessment](t, rec).ID)

	rec = env.do(t, http.MethodGet, "/api/assessments/"+a.ID, "", &nyeri)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/assessments/assess_missing", "", &sylhet)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(apperr.NotFound), decode[errorBody](t, rec).Error)
}

func TestRecordDecision(t *testing.T) {
	env := newTestEnv(t)
	a := env.create(t)
	path := "/api/assessments/" + a.ID + "/decision"

	rec := env.do(t, http.MethodPatch, path, `{"decision":"approved","notes":"crop insurance bundled"}`, &sylhet)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[createdBody](t, rec).Assessment
	assert.Equal(t, model.StatusApproved, got.Status)
	assert.Equal(t, "crop insurance bundled", got.Decision.Notes)
	assert.Equal(t, "off-7", got.Decision.DecidedByID)

	rec = env.do(t, http.MethodPatch, path, `{"decision":"approved","notes":"updated"}`, &sylhet)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPatch, path, `{"decision":"rejected"}`, &sylhet)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(apperr.DecisionConflict), decode[errorBody](t, rec).Error)

	rec = env.do(t, http.MethodPatch, path, `{"decision":"later"}`, &sylhet)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPatch, path, `{"decision":"approved"}`, &nyeri)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListAssessments(t *testing.T) {
	env := newTestEnv(t)
	for range 3 {
		env.create(t)
	}

	rec := env.do(t, http.MethodGet, "/api/assessments/mfi/mfi-sylhet?status=defer&limit=2", "", &sylhet)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page := decode[store.Page](t, rec)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 2, page.Limit)
	assert.Len(t, page.Items, 2)

	rec = env.do(t, http.MethodGet, "/api/assessments/mfi/mfi-sylhet?status=approved", "", &sylhet)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decode[store.Page](t, rec).Total)

	rec = env.do(t, http.MethodGet, "/api/assessments/mfi/mfi-sylhet?maxRisk=50", "", &sylhet)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decode[store.Page](t, rec).Total)

	rec = env.do(t, http.MethodGet, "/api/assessments/mfi/mfi-sylhet?limit=abc", "", &sylhet)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/assessments/mfi/mfi-sylhet", "", &nyeri)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestExportAssessments(t *testing.T) {
	env := newTestEnv(t)
	a := env.create(t)

	rec := env.do(t, http.MethodGet, "/api/assessments/mfi/mfi-sylhet/export?format=csv", "", &sylhet)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "assessments-mfi-sylhet-")
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], a.ID+","))

	rec = env.do(t, http.MethodGet, "/api/dashboard/mfi-sylhet/export?format=xlsx", "", &sylhet)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "spreadsheetml")
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))

	rec = env.do(t, http.MethodGet, "/api/assessments/mfi/mfi-sylhet/export?format=pdf", "", &sylhet)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDashboard(t *testing.T) {
	env := newTestEnv(t)
	env.create(t)
	env.create(t)

	rec := env.do(t, http.MethodGet, "/api/dashboard/mfi-sylhet", "", &sylhet)
	require.Equal(t, http.StatusOK, rec.Code)
	p := decode[assessment.Portfolio](t, rec)
	assert.Equal(t, 2, p.Total)
	assert.Equal(t, 2, p.ByRecommendation[model.RecommendDefer])
	assert.InDelta(t, 69.0, p.AverageRiskScore, 1e-9)

	rec = env.do(t, http.MethodGet, "/api/dashboard/mfi-sylhet", "", &nyeri)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAnalyze(t *testing.T) {
	env := newTestEnv(t)
	a := env.create(t)

	env.ai.On("Analyze", mock.Anything, mock.Anything, mock.MatchedBy(func(sc gateway.SupplementalContext) bool {
		return sc.Conflict.Score != nil && *sc.Conflict.Score == 30 && sc.Applicant.InsuranceStatus == "crop-only" &&
			sc.Applicant.ClientName == "Abdul Karim" && sc.Applicant.LoanTerm != nil && *sc.Applicant.LoanTerm == 18
	})).Return(gateway.Result[*model.AIAnalysis]{
		Value:    &model.AIAnalysis{Text: "### 1. DECISION\nMODIFY", Provider: "groq", GeneratedAt: july},
		Provider: "groq",
		Attempts: []gateway.Attempt{{Provider: "claude", Reason: apperr.RateLimited}, {Provider: "groq"}},
	}).Once()

	rec := env.do(t, http.MethodPost, "/api/assessments/"+a.ID+"/analyze", `{"conflictScore":30,"insuranceStatus":"crop-only","clientName":"Abdul Karim","loanTerm":18}`, &sylhet)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "### 1. DECISION\nMODIFY", body["analysis"])
	assert.Equal(t, "groq", body["provider"])
	assert.Len(t, body["attempts"], 2)

	rec = env.do(t, http.MethodGet, "/api/assessments/"+a.ID, "", &sylhet)
	stored := decode[model.Assessment](t, rec)
	require.NotNil(t, stored.AIAnalysis)
	assert.Equal(t, "Rahima Begum", stored.AIAnalysis.GeneratedBy)
	env.ai.AssertExpectations(t)
}

func TestAnalyze_FailureStatus(t *testing.T) {
	env := newTestEnv(t)
	a := env.create(t)

	env.ai.On("Analyze", mock.Anything, mock.Anything, mock.Anything).Return(gateway.Result[*model.AIAnalysis]{
		Attempts: []gateway.Attempt{
			{Provider: "claude", Reason: apperr.MalformedResponse},
			{Provider: "groq", Reason: apperr.UpstreamError},
		},
		Failure: &gateway.Failure{Reason: apperr.UpstreamError, Message: "groq: HTTP 502"},
	}).Once()

	rec := env.do(t, http.MethodPost, "/api/assessments/"+a.ID+"/analyze", "", &sylhet)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Equal(t, string(apperr.UpstreamError), body.Error)
	assert.Equal(t, apperr.CategoryUpstream, body.Category)
	assert.Len(t, body.Attempts, 2)
}

func TestExtract(t *testing.T) {
	env := newTestEnv(t)
	transcript := "Officer: how much do you need? Client: about 800 dollars for rice seed before the rains."

	fields := make(map[string]any, len(model.ExtractionFields))
	for _, name := range model.ExtractionFields {
		fields[name] = nil
	}
	fields[model.FieldProjectType] = "agriculture"
	fields[model.FieldCropType] = "rice"
	fields[model.FieldLoanAmount] = 800.0

	env.ai.On("Extract", mock.Anything, transcript).Return(gateway.Result[*model.ExtractionResult]{
		Value: &model.ExtractionResult{
			Provider:   "claude",
			Fields:     fields,
			Confidence: map[string]model.Confidence{model.FieldProjectType: model.ConfidenceHigh, model.FieldCropType: model.ConfidenceHigh},
			Summary:    "Rice farmer needs seed financing.",
			Quality:    model.Quality{Score: 1, Level: model.ConfidenceHigh, FieldsExtracted: 3, TotalFields: 2},
		},
		Provider: "claude",
	}).Once()

	reqBody, err := json.Marshal(map[string]any{
		"transcript": transcript,
		"draft":      map[string]any{"fields": map[string]any{"cropType": map[string]any{"value": "wheat", "source": "operator"}}},
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/v2/ai/extract", string(reqBody), &sylhet)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Provider string                 `json:"provider"`
		Summary  string                 `json:"summary"`
		Draft    model.ApplicationDraft `json:"draft"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "claude", body.Provider)
	assert.Equal(t, "Rice farmer needs seed financing.", body.Summary)
	assert.Equal(t, "wheat", body.Draft.Fields[model.FieldCropType].Value)
	assert.Equal(t, "agriculture", body.Draft.Fields[model.FieldLoanPurpose].Value)
	assert.Equal(t, 800.0, body.Draft.Fields[model.FieldLoanAmount].Value)
}

func TestExtract_Failure(t *testing.T) {
	env := newTestEnv(t)
	env.ai.On("Extract", mock.Anything, "hi").Return(gateway.Result[*model.ExtractionResult]{
		Failure: &gateway.Failure{Reason: apperr.NotConfigured, Message: "no AI provider configured"},
	}).Once()

	rec := env.do(t, http.MethodPost, "/api/v2/ai/extract", `{"transcript":"hi"}`, &sylhet)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, apperr.CategoryFixConfiguration, decode[errorBody](t, rec).Category)

	raw := decode[map[string]any](t, rec)
	assert.Equal(t, false, raw["success"])
	assert.Equal(t, string(apperr.NotConfigured), raw["error"])
}

func TestClimateData(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/climate-data/24.8949/91.8687", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[model.ClimateSnapshot](t, rec)
	assert.Equal(t, model.SourceFallback, snap.Source)
	assert.Equal(t, "Bangladesh", snap.Location.Country)
	assert.InDelta(t, 0.70, snap.Hazard(model.HazardFlood), 1e-9)

	rec = env.do(t, http.MethodGet, "/api/climate-data/abc/91", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/climate-data/95/10", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(apperr.InvalidLocation), decode[errorBody](t, rec).Error)
	assert.Equal(t, false, decode[map[string]any](t, rec)["success"])
}

func TestRiskScore(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/climate-data/risk-score",
		`{"latitude":24.8949,"longitude":91.8687,"loanPurpose":"agriculture","cropType":"rice"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Risk           model.ClimateRiskResult  `json:"climate_risk"`
		Probability    model.DefaultProbability `json:"default_probability"`
		Recommendation model.Recommendation     `json:"recommendation"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 69, body.Risk.Score)
	assert.Equal(t, model.RecommendDefer, body.Recommendation.Type)
	assert.LessOrEqual(t, body.Probability.Adjusted, body.Probability.Unadjusted)

	rec = env.do(t, http.MethodPost, "/api/climate-data/risk-score", `{"latitude":24.8949,"longitude":91.8687,"loanPurpose":"mining"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProjectTypes(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v2/project-types", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Version string `json:"policy_version"`
		Types   []struct {
			Value        string   `json:"value"`
			Aliases      []string `json:"aliases"`
			Agricultural bool     `json:"agricultural"`
			Crops        []string `json:"crops"`
		} `json:"project_types"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, policy.DefaultVersion, body.Version)
	require.NotEmpty(t, body.Types)

	agri := body.Types[0]
	assert.Equal(t, "agriculture", agri.Value)
	assert.True(t, agri.Agricultural)
	assert.Equal(t, []string{"farming", "fishing"}, agri.Aliases)
	assert.Contains(t, agri.Crops, "rice")
}

func TestMetricsAndNotFound(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/health", "", nil)

	rec := env.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `climatecredit_http_request_duration_seconds_count{method="GET",route="/health",status="200"} 1`)

	rec = env.do(t, http.MethodGet, "/api/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[errorBody](t, rec).Error)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/assessments/assess-loan", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", HeaderMFIID)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	tests := map[apperr.Kind]int{
		apperr.InvalidLocation:    http.StatusBadRequest,
		apperr.UnknownLoanPurpose: http.StatusBadRequest,
		apperr.InvalidInput:       http.StatusBadRequest,
		apperr.NotFound:           http.StatusNotFound,
		apperr.AccessDenied:       http.StatusForbidden,
		apperr.DecisionConflict:   http.StatusConflict,
		apperr.RateLimited:        http.StatusTooManyRequests,
		apperr.UpstreamTimeout:    http.StatusGatewayTimeout,
		apperr.NotConfigured:      http.StatusServiceUnavailable,
		apperr.InvalidKey:         http.StatusServiceUnavailable,
		apperr.MalformedResponse:  http.StatusBadGateway,
		apperr.UpstreamError:      http.StatusBadGateway,
		apperr.Internal:           http.StatusInternalServerError,
	}
	for kind, want := range tests {
		assert.Equal(t, want, StatusFor(kind), kind)
	}
}
