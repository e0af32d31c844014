package climate

import (
	"context"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/climatecredit/credit-engine/internal/apperr"
	"github.com/climatecredit/credit-engine/internal/model"
	"github.com/climatecredit/credit-engine/internal/resilience"
)

const (
	DefaultForecastURL = "https://api.open-meteo.com/v1/forecast"
	DefaultGeocodeURL  = "https://api.bigdatacloud.net/data/reverse-geocode-client"

	forecastDays = 7

	// Hazard derivation scales.
	floodPeakDailyMM = 80.0
	floodWeeklyMM    = 250.0
	droughtDryWeekMM = 35.0
	heatOnsetC       = 30.0
	heatSpanC        = 12.0
)

// LiveOption configures a LiveSource.
type LiveOption func(*LiveSource)

// WithForecastURL overrides the forecast endpoint.
func WithForecastURL(u string) LiveOption {
	return func(s *LiveSource) { s.forecastURL = u }
}

// WithGeocodeURL overrides the reverse-geocode endpoint. An empty URL
// disables reverse geocoding.
func WithGeocodeURL(u string) LiveOption {
	return func(s *LiveSource) { s.geocodeURL = u }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) LiveOption {
	return func(s *LiveSource) { s.http = hc }
}

// WithRateLimit sets the requests-per-second budget shared by both endpoints.
func WithRateLimit(rps float64) LiveOption {
	return func(s *LiveSource) {
		burst := int(math.Max(1, rps))
		s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetry overrides the retry policy for forecast requests.
func WithRetry(cfg resilience.RetryConfig) LiveOption {
	return func(s *LiveSource) { s.retry = cfg }
}

// WithBreaker guards forecast requests with cb.
func WithBreaker(cb *resilience.CircuitBreaker) LiveOption {
	return func(s *LiveSource) { s.breaker = cb }
}

// LiveSource derives hazards from the Open-Meteo daily forecast and names
// the location with a reverse-geocode lookup.
type LiveSource struct {
	forecastURL string
	geocodeURL  string
	http        *http.Client
	limiter     *rate.Limiter
	retry       resilience.RetryConfig
	breaker     *resilience.CircuitBreaker
	regions     *RegionCatalog
}

// NewLiveSource creates a LiveSource. regions names locations the reverse
// geocoder cannot.
func NewLiveSource(regions *RegionCatalog, opts ...LiveOption) *LiveSource {
	s := &LiveSource{
		forecastURL: DefaultForecastURL,
		geocodeURL:  DefaultGeocodeURL,
		http:        &http.Client{Timeout: MaxTimeout},
		limiter:     rate.NewLimiter(5, 5),
		retry:       resilience.DefaultRetryConfig(),
		breaker:     resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
		regions:     regions,
	}
	for _, o := range opts {
		o(s)
	}
	if s.retry.OnRetry == nil {
		s.retry.OnRetry = resilience.RetryLogger("open-meteo", "forecast")
	}
	return s
}

// Snapshot fetches the forecast and location concurrently. A failed reverse
// geocode falls back to the region catalog; a failed forecast fails the call.
func (s *LiveSource) Snapshot(ctx context.Context, lat, lng float64) (*model.ClimateSnapshot, error) {
	var forecast []byte
	var place *model.Location

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		body, err := resilience.ExecuteVal(gctx, s.breaker, func(ctx context.Context) ([]byte, error) {
			return resilience.DoVal(ctx, s.retry, func(ctx context.Context) ([]byte, error) {
				return s.get(ctx, s.forecastQuery(lat, lng))
			})
		})
		if err != nil {
			return eris.Wrap(err, "climate: fetch forecast")
		}
		forecast = body
		return nil
	})
	if s.geocodeURL != "" {
		g.Go(func() error {
			body, err := s.get(gctx, s.geocodeQuery(lat, lng))
			if err != nil {
				zap.L().Debug("climate: reverse geocode failed", zap.Error(err))
				return nil
			}
			place = parsePlace(body)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	weather, hazards, err := deriveHazards(forecast)
	if err != nil {
		return nil, err
	}

	loc := model.Location{Latitude: lat, Longitude: lng}
	switch {
	case place != nil:
		loc.Region, loc.Country = place.Region, place.Country
	default:
		if r, ok := s.regions.Lookup(lat, lng); ok {
			loc.Region, loc.Country = r.Name, r.Country
		} else {
			loc.Region, loc.Country = bandFor(lat).name, "Unknown"
		}
	}

	return &model.ClimateSnapshot{
		Source:   model.SourceLive,
		Location: loc,
		Hazards:  hazards,
		Weather:  weather,
	}, nil
}

func (s *LiveSource) forecastQuery(lat, lng float64) string {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(lng, 'f', 4, 64))
	q.Set("daily", "precipitation_sum,temperature_2m_max")
	q.Set("forecast_days", strconv.Itoa(forecastDays))
	q.Set("timezone", "auto")
	return s.forecastURL + "?" + q.Encode()
}

func (s *LiveSource) geocodeQuery(lat, lng float64) string {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(lng, 'f', 4, 64))
	q.Set("localityLanguage", "en")
	return s.geocodeURL + "?" + q.Encode()
}

func (s *LiveSource) get(ctx context.Context, u string) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "climate: rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, eris.Wrap(err, "climate: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "climate: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, eris.Wrap(err, "climate: read response")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("climate: unexpected status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, apperr.New(apperr.MalformedResponse, "climate: response is not valid JSON")
	}
	return body, nil
}

// deriveHazards reads the daily forecast series and maps them to hazard
// probabilities rounded to 2 dp.
func deriveHazards(body []byte) (model.Weather, map[model.HazardType]float64, error) {
	precip := floats(gjson.GetBytes(body, "daily.precipitation_sum"))
	temps := floats(gjson.GetBytes(body, "daily.temperature_2m_max"))
	if len(precip) == 0 || len(temps) == 0 {
		return model.Weather{}, nil, apperr.New(apperr.MalformedResponse, "climate: forecast has no daily series")
	}

	var total, peak float64
	for _, p := range precip {
		total += p
		peak = math.Max(peak, p)
	}
	maxTemp := temps[0]
	for _, t := range temps[1:] {
		maxTemp = math.Max(maxTemp, t)
	}

	hazards := map[model.HazardType]float64{
		model.HazardFlood:    round2(0.6*clamp01(peak/floodPeakDailyMM) + 0.4*clamp01(total/floodWeeklyMM)),
		model.HazardDrought:  round2(clamp01(1 - total/droughtDryWeekMM)),
		model.HazardHeatwave: round2(clamp01((maxTemp - heatOnsetC) / heatSpanC)),
	}

	weather := model.Weather{
		Summary:           summarize(total, maxTemp, len(precip)),
		PrecipitationMM:   round1(total),
		PeakDailyPrecipMM: round1(peak),
		MaxTempC:          round1(maxTemp),
		ForecastDays:      len(precip),
	}
	return weather, hazards, nil
}

// floats returns the numeric elements of an array, skipping nulls.
func floats(r gjson.Result) []float64 {
	var out []float64
	for _, v := range r.Array() {
		if v.Type == gjson.Number {
			out = append(out, v.Float())
		}
	}
	return out
}

func parsePlace(body []byte) *model.Location {
	region := firstNonEmpty(
		gjson.GetBytes(body, "city").String(),
		gjson.GetBytes(body, "locality").String(),
		gjson.GetBytes(body, "principalSubdivision").String(),
	)
	country := gjson.GetBytes(body, "countryName").String()
	if region == "" && country == "" {
		return nil
	}
	if country == "" {
		country = "Unknown"
	}
	if region == "" {
		region = country
	}
	return &model.Location{Region: region, Country: country}
}

func summarize(total, maxTemp float64, days int) string {
	var parts []string
	switch {
	case total >= floodWeeklyMM*0.6:
		parts = append(parts, "heavy rain")
	case total >= droughtDryWeekMM:
		parts = append(parts, "moderate rain")
	default:
		parts = append(parts, "dry")
	}
	if maxTemp >= heatOnsetC {
		parts = append(parts, "hot")
	}
	return strings.Join(parts, ", ") + " over the next " + strconv.Itoa(days) + " days"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// timeoutOrMax caps d at MaxTimeout; non-positive d means MaxTimeout.
func timeoutOrMax(d time.Duration) time.Duration {
	if d <= 0 || d > MaxTimeout {
		return MaxTimeout
	}
	return d
}
