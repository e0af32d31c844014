// Package climate produces hazard snapshots for a coordinate pair from a live
// forecast source, falling back to deterministic latitude-band estimates.
package climate

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/climatecredit/credit-engine/internal/apperr"
	"github.com/climatecredit/credit-engine/internal/metrics"
	"github.com/climatecredit/credit-engine/internal/model"
)

// MaxTimeout bounds every climate fetch.
const MaxTimeout = 30 * time.Second

// Source produces a live snapshot for a validated location.
type Source interface {
	Snapshot(ctx context.Context, lat, lng float64) (*model.ClimateSnapshot, error)
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLive enables a live source. Without one every fetch uses the fallback.
func WithLive(src Source) Option {
	return func(f *Fetcher) { f.live = src }
}

// WithRegions overrides the region catalog used to name fallback locations.
func WithRegions(c *RegionCatalog) Option {
	return func(f *Fetcher) { f.fallback = NewFallback(c) }
}

// WithTimeout bounds live fetches. Values above MaxTimeout are capped.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) { f.timeout = timeoutOrMax(d) }
}

// WithClock injects the clock that stamps snapshot month and time.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

// WithMetrics records fetches by source.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Fetcher) { f.metrics = m }
}

// Fetcher is the climate data entry point for the risk engine.
type Fetcher struct {
	live     Source
	fallback *Fallback
	timeout  time.Duration
	now      func() time.Time
	metrics  *metrics.Metrics
}

// NewFetcher creates a Fetcher. With no options it serves fallback
// snapshots only.
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		fallback: NewFallback(DefaultRegions()),
		timeout:  MaxTimeout,
		now:      time.Now,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// ValidateLocation rejects coordinates outside lat [-90,90], lng [-180,180].
func ValidateLocation(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return apperr.New(apperr.InvalidLocation, "latitude and longitude must be finite numbers")
	}
	if lat < -90 || lat > 90 {
		return apperr.Newf(apperr.InvalidLocation, "latitude %g is outside [-90, 90]", lat)
	}
	if lng < -180 || lng > 180 {
		return apperr.Newf(apperr.InvalidLocation, "longitude %g is outside [-180, 180]", lng)
	}
	return nil
}

// Fetch returns the climate snapshot for (lat, lng). Live failures and
// timeouts degrade to the fallback, so the only error is InvalidLocation.
func (f *Fetcher) Fetch(ctx context.Context, lat, lng float64) (*model.ClimateSnapshot, error) {
	if err := ValidateLocation(lat, lng); err != nil {
		return nil, err
	}

	now := f.now()
	var snap *model.ClimateSnapshot
	if f.live != nil {
		liveCtx, cancel := context.WithTimeout(ctx, f.timeout)
		s, err := f.live.Snapshot(liveCtx, lat, lng)
		cancel()
		if err != nil {
			zap.L().Warn("climate: live source failed, using fallback",
				zap.Float64("latitude", lat),
				zap.Float64("longitude", lng),
				zap.String("kind", string(apperr.KindOf(err))),
				zap.Error(err),
			)
		} else {
			snap = s
		}
	}
	if snap == nil {
		snap = f.fallback.Snapshot(lat, lng)
	}

	snap.Month = now.Month()
	snap.FetchedAt = now.UTC()
	f.metrics.ClimateFetch(string(snap.Source))
	return snap, nil
}
