// Package risk turns a climate snapshot and borrower profile into a
// climate-risk score, default probabilities and a lending recommendation.
// Everything here is pure: no I/O and no clock.
package risk

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/climatecredit/credit-engine/internal/apperr"
	"github.com/climatecredit/credit-engine/internal/model"
	"github.com/climatecredit/credit-engine/internal/policy"
)

// title upper-cases the first letter of each word. A Caser is stateful, so
// one is built per call.
func title(s string) string {
	return cases.Title(language.English).String(s)
}

// Engine scores assessments against a validated policy.
type Engine struct {
	policy *policy.Policy
}

// NewEngine returns an Engine for p. The policy must already be validated.
func NewEngine(p *policy.Policy) *Engine {
	return &Engine{policy: p}
}

// Policy returns the policy the engine scores against.
func (e *Engine) Policy() *policy.Policy {
	return e.policy
}

// Score computes the climate-risk score for a snapshot and loan purpose.
// Crop tables only apply to agricultural purposes.
func (e *Engine) Score(snap *model.ClimateSnapshot, purpose, crop string) (*model.ClimateRiskResult, error) {
	if snap == nil {
		return nil, apperr.New(apperr.Internal, "risk: nil climate snapshot")
	}
	if !e.policy.IsAgricultural(purpose) {
		crop = ""
	}
	weights, tableName, err := e.policy.Table(purpose, crop)
	if err != nil {
		return nil, eris.Wrap(err, "risk: select weight table")
	}

	multiplier, active := e.seasonal(snap, weights)

	factors := make([]model.RiskFactor, 0, len(model.Hazards))
	var raw float64
	for _, h := range model.Hazards {
		v := clamp01(snap.Hazard(h))
		w := weights[h]
		raw += v * w
		factors = append(factors, model.RiskFactor{
			Type:   h,
			Label:  factorLabel(h, active),
			Value:  v,
			Weight: w,
		})
	}

	score := int(math.Round(100 * raw * multiplier))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return &model.ClimateRiskResult{
		Score:              score,
		Factors:            factors,
		SeasonalMultiplier: multiplier,
		ActiveSeasons:      seasonNames(active),
		WeightTable:        tableName,
	}, nil
}

// seasonal returns the largest multiplier among seasons active for the
// snapshot whose hazard carries weight in the table.
func (e *Engine) seasonal(snap *model.ClimateSnapshot, weights policy.WeightTable) (float64, []policy.Season) {
	multiplier := 1.0
	var active []policy.Season
	for _, s := range e.policy.Seasons {
		if weights[s.Hazard] <= 0 {
			continue
		}
		if !s.Covers(snap.Location.Latitude, int(snap.Month)) {
			continue
		}
		active = append(active, s)
		if len(active) == 1 || s.Multiplier > multiplier {
			multiplier = s.Multiplier
		}
	}
	return multiplier, active
}

func factorLabel(h model.HazardType, active []policy.Season) string {
	label := title(string(h)) + " Risk"
	for _, s := range active {
		if s.Hazard == h {
			return label + " (" + title(strings.ReplaceAll(s.Name, "_", " ")) + ")"
		}
	}
	return label
}

func seasonNames(active []policy.Season) []string {
	if len(active) == 0 {
		return nil
	}
	names := make([]string, len(active))
	for i, s := range active {
		names[i] = s.Name
	}
	return names
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
