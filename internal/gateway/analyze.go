package gateway

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/climatecredit/credit-engine/internal/apperr"
	"github.com/climatecredit/credit-engine/internal/model"
)

const analysisSystem = `You are a climate-smart credit analyst at a microfinance institution. Turn climate, conflict and economic risk data into a clear lending decision a field loan officer can act on.

Cross-reference the loan purpose (for example rice farming) with the local forecast and climate hazards (for example monsoon flooding):
- Crop or business sensitivity: is this activity exposed to the forecast weather?
- Seasonality: does the loan term overlap a high-risk season?
- Mitigation: can insurance, infrastructure or loan structure lower the risk?

Answer in exactly these sections, with no filler:

### 1. DECISION
One of: APPROVE, APPROVE WITH CONDITIONS, MODIFY, DEFER

### 2. WEATHER & RISK CONTEXT
- Forecast impact: one sentence linking the weather to this business.
- Key concern: the specific risk.

### 3. REQUIRED CONDITIONS
Up to three concrete mitigation conditions.

### 4. ADJUSTED RISK OUTLOOK
- Baseline default probability: X%
- Adjusted default probability: Y% if the conditions are met

Be direct and use plain English a rural loan officer understands. When a loan is risky, look for a way to make it work (a smaller amount, staged disbursement) before recommending deferral.`

// ApplicantExtras are borrower details captured outside the assessment,
// usually from transcript extraction. ClientName and LoanTerm, when set,
// take precedence over the stored assessment's values.
type ApplicantExtras struct {
	ClientName         string   `json:"client_name,omitempty"`
	LoanTerm           *int     `json:"loan_term,omitempty"`
	MonthlyIncome      *float64 `json:"monthly_income,omitempty"`
	BusinessExperience *float64 `json:"business_experience,omitempty"`
	ProjectType        string   `json:"project_type,omitempty"`
	LoanType           string   `json:"loan_type,omitempty"`
	CollateralType     string   `json:"collateral_type,omitempty"`
	LandOwnership      string   `json:"land_ownership,omitempty"`
	IrrigationAccess   string   `json:"irrigation_access,omitempty"`
	InsuranceStatus    string   `json:"insurance_status,omitempty"`
}

// ConflictContext is an externally sourced instability assessment.
type ConflictContext struct {
	Score           *int   `json:"score,omitempty"`
	Stability       string `json:"stability,omitempty"`
	RecentIncidents string `json:"recent_incidents,omitempty"`
	Trend           string `json:"trend,omitempty"`
}

// EconomicContext is an externally sourced economic assessment.
type EconomicContext struct {
	Score       *int   `json:"score,omitempty"`
	PovertyRate string `json:"poverty_rate,omitempty"`
	Outlook     string `json:"outlook,omitempty"`
}

// SupplementalContext is optional input to analysis beyond the assessment.
type SupplementalContext struct {
	Applicant ApplicantExtras `json:"applicant"`
	Conflict  ConflictContext `json:"conflict"`
	Economic  EconomicContext `json:"economic"`
}

// CompositeScore averages the climate, conflict and economic scores.
// Missing scores count as 0.
func CompositeScore(climate int, sc SupplementalContext) int {
	return int(math.Round(float64(climate+deref(sc.Conflict.Score)+deref(sc.Economic.Score)) / 3))
}

// AnalysisPrompt renders the user prompt for a.
func AnalysisPrompt(a *model.Assessment, sc SupplementalContext) string {
	var sb strings.Builder
	ex := sc.Applicant

	sb.WriteString("# Loan Application Analysis Request\n\n")

	sb.WriteString("## Applicant Profile\n")
	fmt.Fprintf(&sb, "- Name: %s\n", orDefault(firstSet(ex.ClientName, a.ClientInfo.Name), "Not provided"))
	fmt.Fprintf(&sb, "- Age: %s\n", intOr(a.ClientInfo.Age, "Not provided"))
	fmt.Fprintf(&sb, "- Monthly income: %s\n", floatOr(ex.MonthlyIncome, "$%.0f", "Not provided"))
	fmt.Fprintf(&sb, "- Business experience: %s\n", floatOr(ex.BusinessExperience, "%.0f years", "Not provided"))
	fmt.Fprintf(&sb, "- Location: %s, %s\n\n", orDefault(a.Location.Name, "Unknown"), orDefault(a.Location.Country, "Unknown"))

	sb.WriteString("## Loan Request\n")
	fmt.Fprintf(&sb, "- Amount: $%s\n", a.LoanDetails.Amount.StringFixed(2))
	term := a.LoanDetails.TermMonths
	if ex.LoanTerm != nil {
		term = ex.LoanTerm
	}
	fmt.Fprintf(&sb, "- Term: %s\n", intOr(term, "Not specified"))
	fmt.Fprintf(&sb, "- Purpose: %s\n", a.LoanDetails.Purpose)
	fmt.Fprintf(&sb, "- Project type: %s\n", orDefault(ex.ProjectType, "Not specified"))
	fmt.Fprintf(&sb, "- Loan type: %s\n", orDefault(ex.LoanType, "Not specified"))
	fmt.Fprintf(&sb, "- Crop type: %s\n\n", orDefault(a.LoanDetails.CropType, "N/A"))

	sb.WriteString("## Borrower History\n")
	fmt.Fprintf(&sb, "- Existing loans: %d\n", a.ClientInfo.ExistingLoans)
	fmt.Fprintf(&sb, "- Repayment history: %s\n", floatOr(a.ClientInfo.RepaymentHistory, "%.0f%%", "Not provided"))
	fmt.Fprintf(&sb, "- Collateral: %s\n", orDefault(ex.CollateralType, "None"))
	fmt.Fprintf(&sb, "- Land ownership: %s\n", orDefault(ex.LandOwnership, "Not specified"))
	fmt.Fprintf(&sb, "- Irrigation access: %s\n", orDefault(ex.IrrigationAccess, "Not specified"))
	fmt.Fprintf(&sb, "- Insurance: %s\n\n", orDefault(ex.InsuranceStatus, "None"))

	res := a.Results
	sb.WriteString("## Risk Assessment (0-100)\n")
	fmt.Fprintf(&sb, "### Climate risk: %d\n", res.ClimateRiskScore)
	var threats []string
	for _, f := range res.RiskFactors {
		threats = append(threats, fmt.Sprintf("%s %.0f%%", f.Label, f.Value*100))
	}
	if len(threats) > 0 {
		fmt.Fprintf(&sb, "- Threats: %s\n", strings.Join(threats, ", "))
	}
	if len(res.ActiveSeasons) > 0 {
		fmt.Fprintf(&sb, "- Seasonal impact: %s (x%.2f)\n", strings.Join(res.ActiveSeasons, ", "), res.SeasonalMultiplier)
	}
	if a.ClimateData.Weather.Summary != "" {
		fmt.Fprintf(&sb, "- Forecast: %s\n", a.ClimateData.Weather.Summary)
	}

	fmt.Fprintf(&sb, "\n### Conflict/instability risk: %d\n", deref(sc.Conflict.Score))
	fmt.Fprintf(&sb, "- Stability: %s\n", orDefault(sc.Conflict.Stability, "Not assessed"))
	fmt.Fprintf(&sb, "- Recent incidents: %s\n", orDefault(sc.Conflict.RecentIncidents, "No data"))
	fmt.Fprintf(&sb, "- Trend: %s\n", orDefault(sc.Conflict.Trend, "Not assessed"))

	fmt.Fprintf(&sb, "\n### Economic risk: %d\n", deref(sc.Economic.Score))
	fmt.Fprintf(&sb, "- Poverty rate: %s\n", orDefault(sc.Economic.PovertyRate, "N/A"))
	fmt.Fprintf(&sb, "- Outlook: %s\n", orDefault(sc.Economic.Outlook, "Not assessed"))

	fmt.Fprintf(&sb, "\n### Composite risk score: %d\n\n", CompositeScore(res.ClimateRiskScore, sc))

	dp := res.DefaultProbability
	sb.WriteString("## Default Probability Estimates\n")
	fmt.Fprintf(&sb, "- Baseline (no climate adjustment): %.1f%%\n", dp.Baseline*100)
	fmt.Fprintf(&sb, "- Unadjusted (full risk): %.1f%%\n", dp.Unadjusted*100)
	fmt.Fprintf(&sb, "- Adjusted (with recommended mitigation): %.1f%%\n\n", dp.Adjusted*100)

	sb.WriteString("## Engine Recommendation\n")
	fmt.Fprintf(&sb, "- Suggested action: %s\n", orDefault(a.Recommendation.Label, "Review manually"))
	var products []string
	for _, p := range a.Recommendation.Products {
		products = append(products, p.Name)
	}
	fmt.Fprintf(&sb, "- Suggested products: %s\n\n", orDefault(strings.Join(products, ", "), "None"))

	sb.WriteString("---\n\nGive a clear recommendation for this application. Focus on practical modifications that help the borrower succeed while managing portfolio risk. The reader is a loan officer with 5-10 years of experience.")
	return sb.String()
}

// Analyze generates narrative underwriting rationale for a. GeneratedBy is
// left for the caller.
func (g *Gateway) Analyze(ctx context.Context, a *model.Assessment, sc SupplementalContext) Result[*model.AIAnalysis] {
	if !g.Configured() {
		return failed[*model.AIAnalysis](apperr.NotConfigured, notConfiguredMessage, nil)
	}
	if a == nil {
		return failed[*model.AIAnalysis](apperr.InvalidInput, "assessment is required for analysis", nil)
	}

	req := Request{
		System:      analysisSystem,
		Prompt:      AnalysisPrompt(a, sc),
		MaxTokens:   1500,
		Temperature: 0.3,
	}
	return AttemptInOrder(ctx, g.chain, CapabilityAnalysis, func(ctx context.Context, p Provider) (*model.AIAnalysis, error) {
		comp, err := p.Complete(ctx, req)
		if err != nil {
			return nil, err
		}
		record(g.costs, g.metrics, comp, CapabilityAnalysis)

		text := strings.TrimSpace(comp.Text)
		if text == "" {
			return nil, apperr.New(apperr.MalformedResponse, "analysis completion is empty")
		}
		return &model.AIAnalysis{
			Text:        text,
			Provider:    p.Name(),
			GeneratedAt: g.now().UTC(),
		}, nil
	})
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func firstSet(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func intOr(p *int, def string) string {
	if p == nil {
		return def
	}
	return fmt.Sprint(*p)
}

func floatOr(p *float64, format, def string) string {
	if p == nil {
		return def
	}
	return fmt.Sprintf(format, *p)
}
