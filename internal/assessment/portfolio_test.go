package assessment

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climatecredit/credit-engine/internal/apperr"
	"github.com/climatecredit/credit-engine/internal/model"
)

func TestSummarize(t *testing.T) {
	items := []*model.Assessment{
		{
			ID:             "a3",
			Status:         model.StatusApproved,
			LoanDetails:    model.LoanDetails{Amount: decimal.NewFromInt(1000)},
			Recommendation: model.Recommendation{Type: model.RecommendApprove},
			Results: model.Results{
				ClimateRiskScore:   20,
				DefaultProbability: model.DefaultProbability{Unadjusted: 0.15, Adjusted: 0.10},
			},
			ClimateData: model.ClimateSnapshot{Source: model.SourceLive},
		},
		{
			ID:             "a2",
			Status:         model.StatusPending,
			LoanDetails:    model.LoanDetails{Amount: decimal.RequireFromString("2500.50")},
			Recommendation: model.Recommendation{Type: model.RecommendCaution},
			Results: model.Results{
				ClimateRiskScore:   50,
				DefaultProbability: model.DefaultProbability{Unadjusted: 0.21, Adjusted: 0.14},
			},
			ClimateData: model.ClimateSnapshot{Source: model.SourceFallback},
		},
		{
			ID:             "a1",
			Status:         model.StatusApproved,
			LoanDetails:    model.LoanDetails{Amount: decimal.NewFromInt(4000)},
			Recommendation: model.Recommendation{Type: model.RecommendCaution},
			Results: model.Results{
				ClimateRiskScore:   41,
				DefaultProbability: model.DefaultProbability{Unadjusted: 0.18, Adjusted: 0.12},
			},
			ClimateData: model.ClimateSnapshot{Source: model.SourceFallback},
		},
	}

	p := Summarize("mfi-sylhet", items)
	assert.Equal(t, 3, p.Total)
	assert.Equal(t, map[model.RecommendationType]int{model.RecommendApprove: 1, model.RecommendCaution: 2}, p.ByRecommendation)
	assert.Equal(t, map[model.Status]int{model.StatusApproved: 2, model.StatusPending: 1}, p.ByStatus)
	assert.InDelta(t, 37.0, p.AverageRiskScore, 1e-9)
	assert.InDelta(t, 0.18, p.AverageDefault, 1e-9)
	assert.InDelta(t, 0.12, p.AverageAdjustedDefault, 1e-9)
	assert.True(t, decimal.RequireFromString("7500.50").Equal(p.TotalRequested))
	assert.True(t, decimal.NewFromInt(5000).Equal(p.TotalApproved))
	assert.InDelta(t, 0.33, p.LiveClimateShare, 1e-9)
	assert.Len(t, p.Recent, 3)
}

func TestSummarize_Empty(t *testing.T) {
	p := Summarize("mfi-empty", nil)
	assert.Zero(t, p.Total)
	assert.Zero(t, p.AverageRiskScore)
	assert.True(t, p.TotalRequested.IsZero())
	assert.Empty(t, p.Recent)
}

func TestPortfolio_RecentIsCapped(t *testing.T) {
	svc, _ := newTestService(nil)
	for range recentLimit + 2 {
		createSylhet(t, svc)
	}

	p, err := svc.Portfolio(context.Background(), sylhetOfficer, sylhetOfficer.MFIID)
	require.NoError(t, err)
	assert.Equal(t, recentLimit+2, p.Total)
	require.Len(t, p.Recent, recentLimit)
	assert.Equal(t, "assess_007", p.Recent[0].ID)
	assert.Equal(t, recentLimit+2, p.ByRecommendation[model.RecommendDefer])

	_, err = svc.Portfolio(context.Background(), otherOfficer, sylhetOfficer.MFIID)
	assert.Equal(t, apperr.AccessDenied, apperr.KindOf(err))
}
