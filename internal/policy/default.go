package policy

import "github.com/climatecredit/credit-engine/internal/model"

// DefaultVersion identifies the built-in policy.
const DefaultVersion = "2025.1-builtin"

func table(flood, drought, heatwave float64) WeightTable {
	return WeightTable{
		model.HazardFlood:    flood,
		model.HazardDrought:  drought,
		model.HazardHeatwave: heatwave,
	}
}

var (
	productWeatherInsurance = model.Product{Name: "Weather-Indexed Insurance", Description: "Automatic payout on adverse weather events"}
	productFlexible         = model.Product{Name: "Flexible Repayment", Description: "Grace period during high-risk seasons"}
	productTraining         = model.Product{Name: "Climate Resilience Training", Description: "Agricultural and business continuity best practices"}
	productStandard         = model.Product{Name: "Standard Loan Terms", Description: "No additional climate conditions required"}
	productCropInsurance    = model.Product{Name: "Mandatory Crop Insurance", Description: "Index-based cover required before disbursement"}
	productQuarterlyReview  = model.Product{Name: "Quarterly Review", Description: "Officer review during peak hazard season"}
	productSeniorReview     = model.Product{Name: "Senior Officer Review", Description: "Escalate before any disbursement"}
	productAltStructure     = model.Product{Name: "Alternative Loan Structure", Description: "Smaller tranches tied to seasonal milestones"}
	productAdaptationPlan   = model.Product{Name: "Client Adaptation Plan", Description: "Documented plan for reducing climate exposure"}
	productPropertyCover    = model.Product{Name: "Property Flood Cover", Description: "Structural cover for flood damage to the dwelling"}
	productLivestockCover   = model.Product{Name: "Livestock Mortality Insurance", Description: "Pays out on drought or heat losses in the herd"}
	productBusinessCover    = model.Product{Name: "Business Interruption Cover", Description: "Replaces income while trading is disrupted"}
	productDroughtSeed      = model.Product{Name: "Drought-Tolerant Inputs", Description: "Financing linked to drought-tolerant seed varieties"}
	productWaterStorage     = model.Product{Name: "Water Storage Financing", Description: "Top-up for irrigation and water harvesting"}
	productFloodVariety     = model.Product{Name: "Flood-Tolerant Seed Program", Description: "Submergence-tolerant varieties for lowland plots"}
	productShadeManagement  = model.Product{Name: "Shade Management Support", Description: "Agroforestry advice to reduce heat stress on trees"}
	productDefaultBuffer    = model.Product{Name: "Repayment Reserve Account", Description: "Small savings buffer held against missed installments"}
)

// Default returns the built-in policy. Each call returns a fresh copy.
func Default() *Policy {
	return &Policy{
		Version: DefaultVersion,
		Purposes: map[string]PurposePolicy{
			"agriculture": {
				Weights: table(0.40, 0.35, 0.25),
				Crops: map[string]WeightTable{
					"rice":       table(0.55, 0.25, 0.20),
					"wheat":      table(0.25, 0.40, 0.35),
					"maize":      table(0.25, 0.45, 0.30),
					"coffee":     table(0.20, 0.40, 0.40),
					"tea":        table(0.35, 0.40, 0.25),
					"sugarcane":  table(0.35, 0.40, 0.25),
					"vegetables": table(0.40, 0.30, 0.30),
					"fruits":     table(0.30, 0.35, 0.35),
					"cotton":     table(0.20, 0.45, 0.35),
				},
			},
			"livestock":      {Weights: table(0.25, 0.45, 0.30)},
			"small_business": {Weights: table(0.50, 0.20, 0.30)},
			"housing":        {Weights: table(0.60, 0.10, 0.30)},
		},
		Aliases: map[string]string{
			"farming":       "agriculture",
			"fishing":       "agriculture",
			"retail":        "small_business",
			"manufacturing": "small_business",
			"services":      "small_business",
			"transport":     "small_business",
			"business":      "small_business",
			"home":          "housing",
		},
		AgriculturalPurposes: []string{"agriculture"},
		Seasons: []Season{
			{Name: "south_asian_monsoon", Hazard: model.HazardFlood, LatMin: 5, LatMax: 35, Months: []int{6, 7, 8, 9}, Multiplier: 1.25},
			{Name: "equatorial_long_rains", Hazard: model.HazardFlood, LatMin: -5, LatMax: 5, Months: []int{3, 4, 5}, Multiplier: 1.15},
			{Name: "equatorial_short_rains", Hazard: model.HazardFlood, LatMin: -5, LatMax: 5, Months: []int{10, 11, 12}, Multiplier: 1.15},
			{Name: "southern_dry_season", Hazard: model.HazardDrought, LatMin: -35, LatMax: -5, Months: []int{6, 7, 8, 9, 10}, Multiplier: 1.20},
			{Name: "subtropical_pre_monsoon_heat", Hazard: model.HazardHeatwave, LatMin: 20, LatMax: 35, Months: []int{4, 5, 6}, Multiplier: 1.15},
			{Name: "temperate_summer_heat", Hazard: model.HazardHeatwave, LatMin: 35, LatMax: 60, Months: []int{6, 7, 8}, Multiplier: 1.10},
		},
		Probability: Probability{
			Baseline:                 0.12,
			ClimateSensitivity:       1.5,
			MitigationFactor:         0.35,
			AgeMin:                   25,
			AgeMax:                   55,
			AgePenalty:               0.15,
			LoanPenalty:              0.08,
			MaxLoansCounted:          3,
			RepaymentFloor:           90,
			RepaymentPenaltyPerPoint: 0.01,
			MaxRepaymentPenalty:      0.40,
			DefaultAge:               35,
			DefaultRepaymentHistory:  95,
		},
		Thresholds: Thresholds{
			ApproveMax:           35,
			CautionMax:           65,
			HighDefaultThreshold: 0.25,
		},
		Catalog: Catalog{
			Labels: map[model.RecommendationType]string{
				model.RecommendApprove: "Approve",
				model.RecommendCaution: "Caution",
				model.RecommendDefer:   "Defer",
			},
			Products: map[model.RecommendationType]map[string][]model.Product{
				model.RecommendApprove: {
					"default":     {productStandard, productTraining},
					"agriculture": {productWeatherInsurance, productTraining},
					"housing":     {productStandard, productPropertyCover},
				},
				model.RecommendCaution: {
					"default":        {productWeatherInsurance, productFlexible, productQuarterlyReview},
					"agriculture":    {productCropInsurance, productFlexible, productQuarterlyReview},
					"livestock":      {productLivestockCover, productFlexible, productQuarterlyReview},
					"small_business": {productBusinessCover, productFlexible, productQuarterlyReview},
					"housing":        {productPropertyCover, productFlexible},
				},
				model.RecommendDefer: {
					"default":     {productSeniorReview, productAltStructure, productAdaptationPlan},
					"agriculture": {productSeniorReview, productCropInsurance, productAdaptationPlan},
				},
			},
			Crops: map[string][]model.Product{
				"rice":      {productFloodVariety},
				"maize":     {productDroughtSeed},
				"wheat":     {productDroughtSeed},
				"cotton":    {productWaterStorage},
				"coffee":    {productShadeManagement},
				"tea":       {productShadeManagement},
				"sugarcane": {productWaterStorage},
			},
			HighDefault: productDefaultBuffer,
		},
	}
}
