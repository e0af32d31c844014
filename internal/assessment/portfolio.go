package assessment

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/climatecredit/credit-engine/internal/model"
)

// Portfolio summarizes an MFI's assessments for the dashboard.
type Portfolio struct {
	MFIID                  string                           `json:"mfi_id"`
	Total                  int                              `json:"total_assessments"`
	ByRecommendation       map[model.RecommendationType]int `json:"by_recommendation"`
	ByStatus               map[model.Status]int             `json:"by_status"`
	AverageRiskScore       float64                          `json:"average_risk_score"`
	AverageDefault         float64                          `json:"average_default_probability"`
	AverageAdjustedDefault float64                          `json:"average_adjusted_default_probability"`
	TotalRequested         decimal.Decimal                  `json:"total_requested"`
	TotalApproved          decimal.Decimal                  `json:"total_approved"`
	LiveClimateShare       float64                          `json:"live_climate_share"`
	Recent                 []*model.Assessment              `json:"recent_assessments"`
}

// recentLimit bounds Portfolio.Recent.
const recentLimit = 5

// Summarize aggregates items, which must be newest first.
func Summarize(mfiID string, items []*model.Assessment) *Portfolio {
	p := &Portfolio{
		MFIID:            mfiID,
		Total:            len(items),
		ByRecommendation: make(map[model.RecommendationType]int),
		ByStatus:         make(map[model.Status]int),
		TotalRequested:   decimal.Zero,
		TotalApproved:    decimal.Zero,
		Recent:           items[:min(len(items), recentLimit)],
	}
	if len(items) == 0 {
		return p
	}

	var score, dp, adj float64
	live := 0
	for _, a := range items {
		p.ByRecommendation[a.Recommendation.Type]++
		p.ByStatus[a.Status]++
		score += float64(a.Results.ClimateRiskScore)
		dp += a.Results.DefaultProbability.Unadjusted
		adj += a.Results.DefaultProbability.Adjusted
		p.TotalRequested = p.TotalRequested.Add(a.LoanDetails.Amount)
		if a.Status == model.StatusApproved {
			p.TotalApproved = p.TotalApproved.Add(a.LoanDetails.Amount)
		}
		if a.ClimateData.Source == model.SourceLive {
			live++
		}
	}

	n := float64(len(items))
	p.AverageRiskScore = round(score/n, 1)
	p.AverageDefault = round(dp/n, 4)
	p.AverageAdjustedDefault = round(adj/n, 4)
	p.LiveClimateShare = round(float64(live)/n, 2)
	return p
}

// Portfolio returns the dashboard summary for mfiID.
func (s *Service) Portfolio(ctx context.Context, officer model.Officer, mfiID string) (*Portfolio, error) {
	if err := checkMFI(officer, mfiID); err != nil {
		return nil, err
	}
	items, err := s.repo.ListByOwner(ctx, mfiID)
	if err != nil {
		return nil, eris.Wrap(err, "assessment: portfolio list")
	}
	return Summarize(mfiID, items), nil
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
