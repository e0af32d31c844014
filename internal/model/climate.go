package model

import "time"

// HazardType names a modeled climate hazard.
type HazardType string

const (
	HazardFlood    HazardType = "flood"
	HazardDrought  HazardType = "drought"
	HazardHeatwave HazardType = "heatwave"
)

// Hazards lists the modeled hazards in factor order.
var Hazards = []HazardType{HazardFlood, HazardDrought, HazardHeatwave}

// ClimateSource records where a snapshot came from.
type ClimateSource string

const (
	SourceLive     ClimateSource = "live"
	SourceFallback ClimateSource = "fallback"
)

// Location is descriptive metadata for a coordinate pair.
type Location struct {
	Region    string  `json:"region"`
	Country   string  `json:"country"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Weather summarizes the forecast behind a snapshot's hazards.
type Weather struct {
	Summary           string  `json:"summary"`
	PrecipitationMM   float64 `json:"precipitation_mm"`
	PeakDailyPrecipMM float64 `json:"peak_daily_precip_mm"`
	MaxTempC          float64 `json:"max_temp_c"`
	ForecastDays      int     `json:"forecast_days"`
}

// ClimateSnapshot holds hazard probabilities for one location. It is
// immutable once fetched and scoped to a single assessment.
type ClimateSnapshot struct {
	Source    ClimateSource          `json:"source"`
	Location  Location               `json:"location"`
	Hazards   map[HazardType]float64 `json:"risks"`
	Weather   Weather                `json:"weather"`
	Month     time.Month             `json:"month"`
	FetchedAt time.Time              `json:"fetched_at"`
}

// Hazard returns the probability for h, or 0 when absent.
func (s *ClimateSnapshot) Hazard(h HazardType) float64 {
	if s == nil || s.Hazards == nil {
		return 0
	}
	return s.Hazards[h]
}

// Clone returns a deep copy of the snapshot.
func (s *ClimateSnapshot) Clone() *ClimateSnapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Hazards = make(map[HazardType]float64, len(s.Hazards))
	for k, v := range s.Hazards {
		out.Hazards[k] = v
	}
	return &out
}

// RiskFactor is one weighted hazard contribution to a climate-risk score.
type RiskFactor struct {
	Type   HazardType `json:"type"`
	Label  string     `json:"label"`
	Value  float64    `json:"value"`
	Weight float64    `json:"weight"`
}

// ClimateRiskResult is the Risk Scorer output.
type ClimateRiskResult struct {
	Score              int          `json:"score"`
	Factors            []RiskFactor `json:"factors"`
	SeasonalMultiplier float64      `json:"seasonal_multiplier"`
	ActiveSeasons      []string     `json:"active_seasons,omitempty"`
	WeightTable        string       `json:"weight_table"`
}

// DefaultProbability holds the modeled default probabilities. Reduction is
// always Baseline - Adjusted.
type DefaultProbability struct {
	Baseline   float64 `json:"baseline"`
	Unadjusted float64 `json:"unadjusted"`
	Adjusted   float64 `json:"adjusted"`
	Reduction  float64 `json:"reduction"`
}

// RecommendationType is the lending recommendation tier.
type RecommendationType string

const (
	RecommendApprove RecommendationType = "approve"
	RecommendCaution RecommendationType = "caution"
	RecommendDefer   RecommendationType = "defer"
)

// Rank orders recommendation tiers by risk (approve lowest).
func (t RecommendationType) Rank() int {
	switch t {
	case RecommendApprove:
		return 0
	case RecommendCaution:
		return 1
	case RecommendDefer:
		return 2
	default:
		return -1
	}
}

// Product is a mitigation product suggested alongside a recommendation.
type Product struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Recommendation is the Recommendation Generator output.
type Recommendation struct {
	Type     RecommendationType `json:"type"`
	Label    string             `json:"label"`
	Products []Product          `json:"products"`
}
