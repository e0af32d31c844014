package climate

import (
	"fmt"
	"math"

	"github.com/climatecredit/credit-engine/internal/model"
)

// band is a latitude range [minLat, maxLat) with typical hazard levels.
type band struct {
	name     string
	minLat   float64
	maxLat   float64
	flood    float64
	drought  float64
	heatwave float64
}

// bands covers [-90, 90]; the northernmost band also includes 90.
var bands = []band{
	{"Arctic", 60, 90, 0.15, 0.10, 0.05},
	{"Northern Temperate", 35, 60, 0.30, 0.30, 0.30},
	{"Northern Subtropics", 20, 35, 0.70, 0.30, 0.45},
	{"Northern Tropics", 5, 20, 0.55, 0.45, 0.55},
	{"Equatorial", -5, 5, 0.50, 0.35, 0.40},
	{"Southern Tropics", -20, -5, 0.40, 0.55, 0.45},
	{"Southern Subtropics", -35, -20, 0.30, 0.50, 0.40},
	{"Southern Temperate", -60, -35, 0.30, 0.30, 0.25},
	{"Antarctic", -90, -60, 0.10, 0.10, 0.05},
}

func bandFor(lat float64) band {
	for _, b := range bands {
		if lat >= b.minLat && (lat < b.maxLat || (b.maxLat == 90 && lat <= 90)) {
			return b
		}
	}
	return bands[len(bands)-1]
}

// Fallback produces deterministic synthetic snapshots from latitude bands.
// It never fails for a valid location.
type Fallback struct {
	regions *RegionCatalog
}

// NewFallback returns a Fallback that names locations from regions.
func NewFallback(regions *RegionCatalog) *Fallback {
	return &Fallback{regions: regions}
}

// Snapshot returns the synthetic snapshot for (lat, lng). Month and
// FetchedAt are left for the caller to stamp.
func (f *Fallback) Snapshot(lat, lng float64) *model.ClimateSnapshot {
	b := bandFor(lat)
	return &model.ClimateSnapshot{
		Source:   model.SourceFallback,
		Location: f.locate(b, lat, lng),
		Hazards: map[model.HazardType]float64{
			model.HazardFlood:    b.flood,
			model.HazardDrought:  b.drought,
			model.HazardHeatwave: b.heatwave,
		},
		Weather: model.Weather{
			Summary:           fmt.Sprintf("Climatological estimate for the %s band", b.name),
			PrecipitationMM:   round1((1 - b.drought) * droughtDryWeekMM),
			PeakDailyPrecipMM: round1(b.flood * floodPeakDailyMM),
			MaxTempC:          round1(heatOnsetC + b.heatwave*heatSpanC),
		},
	}
}

func (f *Fallback) locate(b band, lat, lng float64) model.Location {
	loc := model.Location{Region: b.name, Country: "Unknown", Latitude: lat, Longitude: lng}
	if r, ok := f.regions.Lookup(lat, lng); ok {
		loc.Region = r.Name
		loc.Country = r.Country
	}
	return loc
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
