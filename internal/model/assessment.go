package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an assessment.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusDeferred Status = "deferred"
)

// Terminal reports whether a decision has been recorded.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusDeferred
}

// ParseDecision maps a decision string onto a terminal status.
func ParseDecision(s string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusApproved:
		return StatusApproved, true
	case StatusRejected:
		return StatusRejected, true
	case StatusDeferred:
		return StatusDeferred, true
	default:
		return "", false
	}
}

// Officer identifies the loan officer and MFI acting on a request.
type Officer struct {
	MFIID       string `json:"mfi_id"`
	MFIName     string `json:"mfi_name"`
	OfficerID   string `json:"officer_id"`
	OfficerName string `json:"officer_name"`
}

// LocationInput is the caller-supplied location of a loan.
type LocationInput struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"location_name,omitempty"`
}

// LoanInput is the caller-supplied loan terms.
type LoanInput struct {
	Amount     decimal.Decimal `json:"loan_amount"`
	Purpose    string          `json:"loan_purpose"`
	CropType   string          `json:"crop_type,omitempty"`
	TermMonths *int            `json:"loan_term,omitempty"`
}

// ClientInput is the caller-supplied borrower profile. Nil fields fall back
// to policy defaults when scoring.
type ClientInput struct {
	Name             string   `json:"client_name,omitempty"`
	Age              *int     `json:"client_age,omitempty"`
	ExistingLoans    *int     `json:"existing_loans,omitempty"`
	RepaymentHistory *float64 `json:"repayment_history,omitempty"`
}

// AssessmentLocation is the resolved location stored on an assessment.
type AssessmentLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name"`
	Country   string  `json:"country"`
}

// LoanDetails is the loan stored on an assessment.
type LoanDetails struct {
	Amount     decimal.Decimal `json:"amount"`
	Purpose    string          `json:"purpose"`
	CropType   string          `json:"crop_type,omitempty"`
	TermMonths *int            `json:"term_months,omitempty"`
}

// ClientInfo is the borrower stored on an assessment.
type ClientInfo struct {
	Name             string   `json:"name,omitempty"`
	Age              *int     `json:"age"`
	ExistingLoans    int      `json:"existing_loans"`
	RepaymentHistory *float64 `json:"repayment_history"`
}

// Results bundles the risk engine outputs.
type Results struct {
	ClimateRiskScore   int                `json:"climate_risk_score"`
	RiskFactors        []RiskFactor       `json:"risk_factors"`
	SeasonalMultiplier float64            `json:"seasonal_multiplier"`
	ActiveSeasons      []string           `json:"active_seasons,omitempty"`
	WeightTable        string             `json:"weight_table"`
	DefaultProbability DefaultProbability `json:"default_probability"`
}

// Decision is the audit record of a loan officer's decision.
type Decision struct {
	Action      Status    `json:"action"`
	Notes       string    `json:"notes"`
	DecidedBy   string    `json:"decided_by"`
	DecidedByID string    `json:"decided_by_id"`
	DecidedAt   time.Time `json:"decided_at"`
}

// AIAnalysis is narrative underwriting rationale attached to an assessment.
type AIAnalysis struct {
	Text        string    `json:"recommendation"`
	Provider    string    `json:"provider"`
	GeneratedAt time.Time `json:"generated_at"`
	GeneratedBy string    `json:"generated_by"`
}

// Assessment is the aggregate root for one loan application.
type Assessment struct {
	ID              string             `json:"id"`
	MFIID           string             `json:"mfi_id"`
	MFIName         string             `json:"mfi_name"`
	LoanOfficerID   string             `json:"loan_officer_id"`
	LoanOfficerName string             `json:"loan_officer_name"`
	Location        AssessmentLocation `json:"location"`
	LoanDetails     LoanDetails        `json:"loan_details"`
	ClientInfo      ClientInfo         `json:"client_info"`
	ClimateData     ClimateSnapshot    `json:"climate_data"`
	Results         Results            `json:"results"`
	Recommendation  Recommendation     `json:"recommendation"`
	Status          Status             `json:"status"`
	Decision        *Decision          `json:"decision,omitempty"`
	AIAnalysis      *AIAnalysis        `json:"ai_analysis,omitempty"`
	PolicyVersion   string             `json:"policy_version"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (a *Assessment) Clone() *Assessment {
	if a == nil {
		return nil
	}
	out := *a
	out.LoanDetails.TermMonths = cloneInt(a.LoanDetails.TermMonths)
	out.ClientInfo.Age = cloneInt(a.ClientInfo.Age)
	if a.ClientInfo.RepaymentHistory != nil {
		v := *a.ClientInfo.RepaymentHistory
		out.ClientInfo.RepaymentHistory = &v
	}
	if snap := a.ClimateData.Clone(); snap != nil {
		out.ClimateData = *snap
	}
	out.Results.RiskFactors = append([]RiskFactor(nil), a.Results.RiskFactors...)
	out.Results.ActiveSeasons = append([]string(nil), a.Results.ActiveSeasons...)
	out.Recommendation.Products = append([]Product(nil), a.Recommendation.Products...)
	if a.Decision != nil {
		d := *a.Decision
		out.Decision = &d
	}
	if a.AIAnalysis != nil {
		an := *a.AIAnalysis
		out.AIAnalysis = &an
	}
	return &out
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
