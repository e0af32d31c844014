package risk

import (
	"github.com/climatecredit/credit-engine/internal/model"
)

const defaultCatalogKey = "default"

// Tier maps a score onto a recommendation type. It is a monotonic step
// function: a higher score never yields a lower-risk tier.
func (e *Engine) Tier(score int) model.RecommendationType {
	th := e.policy.Thresholds
	switch {
	case score <= th.ApproveMax:
		return model.RecommendApprove
	case score <= th.CautionMax:
		return model.RecommendCaution
	default:
		return model.RecommendDefer
	}
}

// Recommend builds the recommendation for a scored assessment.
func (e *Engine) Recommend(result *model.ClimateRiskResult, prob model.DefaultProbability, purpose, crop string) model.Recommendation {
	var score int
	if result != nil {
		score = result.Score
	}
	rt := e.Tier(score)

	label, ok := e.policy.Catalog.Labels[rt]
	if !ok {
		label = title(string(rt))
	}

	return model.Recommendation{
		Type:     rt,
		Label:    label,
		Products: e.products(rt, prob, purpose, crop),
	}
}

func (e *Engine) products(rt model.RecommendationType, prob model.DefaultProbability, purpose, crop string) []model.Product {
	cat := e.policy.Catalog
	byPurpose := cat.Products[rt]

	key, err := e.policy.NormalizePurpose(purpose)
	base, ok := byPurpose[key]
	if err != nil || !ok {
		base = byPurpose[defaultCatalogKey]
	}

	var out []model.Product
	if crop != "" && err == nil && e.policy.IsAgricultural(key) {
		if extra := e.policy.CropProducts(crop); len(extra) > 0 && len(base) > 0 {
			out = append(out, base[0])
			out = append(out, extra...)
			out = append(out, base[1:]...)
		}
	}
	if out == nil {
		out = append(out, base...)
	}

	if prob.Adjusted >= e.policy.Thresholds.HighDefaultThreshold && cat.HighDefault.Name != "" {
		out = append(out, cat.HighDefault)
	}

	return dedupe(out)
}

func dedupe(products []model.Product) []model.Product {
	seen := make(map[string]bool, len(products))
	out := make([]model.Product, 0, len(products))
	for _, p := range products {
		if seen[p.Name] {
			continue
		}
		seen[p.Name] = true
		out = append(out, p)
	}
	return out
}
