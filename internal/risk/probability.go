package risk

import (
	"math"

	"github.com/climatecredit/credit-engine/internal/model"
)

// Borrower is the profile the probability model adjusts for. Nil fields take
// the policy defaults.
type Borrower struct {
	Age              *int
	ExistingLoans    int
	RepaymentHistory *float64
}

// Estimate computes default probabilities for a climate-risk score and
// borrower. Adjusted never exceeds Unadjusted and Reduction is always
// Baseline - Adjusted.
func (e *Engine) Estimate(score int, b Borrower) model.DefaultProbability {
	pr := e.policy.Probability

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	load := 1 + pr.ClimateSensitivity*float64(score)/100

	unadjusted := round4(clamp01(pr.Baseline * load * (1 + e.borrowerModifier(b))))
	adjusted := round4(unadjusted * (1 - pr.MitigationFactor))
	if adjusted > unadjusted {
		adjusted = unadjusted
	}

	return model.DefaultProbability{
		Baseline:   pr.Baseline,
		Unadjusted: unadjusted,
		Adjusted:   adjusted,
		Reduction:  pr.Baseline - adjusted,
	}
}

func (e *Engine) borrowerModifier(b Borrower) float64 {
	pr := e.policy.Probability
	var mod float64

	age := pr.DefaultAge
	if b.Age != nil {
		age = *b.Age
	}
	if age < pr.AgeMin || age > pr.AgeMax {
		mod += pr.AgePenalty
	}

	loans := b.ExistingLoans
	if loans < 0 {
		loans = 0
	}
	if loans > pr.MaxLoansCounted {
		loans = pr.MaxLoansCounted
	}
	mod += float64(loans) * pr.LoanPenalty

	history := pr.DefaultRepaymentHistory
	if b.RepaymentHistory != nil {
		history = *b.RepaymentHistory
	}
	if history < pr.RepaymentFloor {
		mod += math.Min((pr.RepaymentFloor-history)*pr.RepaymentPenaltyPerPoint, pr.MaxRepaymentPenalty)
	}

	return mod
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
