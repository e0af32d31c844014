package main

import (
	"context"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/climatecredit/credit-engine/internal/assessment"
	"github.com/climatecredit/credit-engine/internal/climate"
	"github.com/climatecredit/credit-engine/internal/config"
	"github.com/climatecredit/credit-engine/internal/cost"
	"github.com/climatecredit/credit-engine/internal/gateway"
	"github.com/climatecredit/credit-engine/internal/metrics"
	"github.com/climatecredit/credit-engine/internal/policy"
	"github.com/climatecredit/credit-engine/internal/resilience"
	"github.com/climatecredit/credit-engine/internal/risk"
	"github.com/climatecredit/credit-engine/internal/store"
)

// appEnv holds the initialized store, clients and services needed by the
// serve/assess/batch/extract/export commands.
type appEnv struct {
	Repo        store.Repository
	Metrics     *metrics.Metrics
	Climate     *climate.Fetcher
	Gateway     *gateway.Gateway
	Assessments *assessment.Service
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Repo != nil {
		_ = e.Repo.Close()
	}
}

// initApp loads the policy, opens the store, and builds the climate
// fetcher, AI gateway and assessment service. Callers should defer
// env.Close().
func initApp(ctx context.Context, c *config.Config) (*appEnv, error) {
	pol, err := policy.Load(c.Policy.Path)
	if err != nil {
		return nil, eris.Wrap(err, "load policy")
	}

	repo, err := store.Open(ctx, c.Store.Driver, c.Store.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}

	m := metrics.New()
	fetcher := newFetcher(c, m)
	gw := newGateway(c, m)
	if !gw.Configured() {
		zap.L().Warn("no AI provider key set, extraction and analysis are disabled")
	}

	svc := assessment.New(repo, fetcher, risk.NewEngine(pol), gw, assessment.WithMetrics(m))

	zap.L().Info("credit engine initialized",
		zap.String("store", c.Store.Driver),
		zap.String("policy_version", pol.Version),
		zap.Bool("live_climate", c.Climate.LiveEnabled),
		zap.Strings("ai_providers", gw.Providers()),
	)

	return &appEnv{
		Repo:        repo,
		Metrics:     m,
		Climate:     fetcher,
		Gateway:     gw,
		Assessments: svc,
	}, nil
}

// newFetcher builds the climate fetcher. The live source is optional;
// without it every snapshot comes from the deterministic fallback.
func newFetcher(c *config.Config, m *metrics.Metrics) *climate.Fetcher {
	regions := climate.DefaultRegions()
	opts := []climate.Option{
		climate.WithRegions(regions),
		climate.WithTimeout(c.ClimateTimeout()),
		climate.WithMetrics(m),
	}
	if !c.Climate.LiveEnabled {
		zap.L().Debug("live climate disabled, using fallback estimates only")
		return climate.NewFetcher(opts...)
	}

	liveOpts := []climate.LiveOption{
		climate.WithHTTPClient(&http.Client{Timeout: c.ClimateTimeout()}),
		climate.WithRetry(resilience.FromRetryConfig(c.Climate.Retry.MaxAttempts, c.Climate.Retry.InitialBackoffMs)),
		climate.WithBreaker(resilience.NewCircuitBreaker(resilience.FromCircuitConfig(c.AI.Circuit.FailureThreshold, c.AI.Circuit.ResetTimeoutSecs))),
	}
	if c.Climate.ForecastURL != "" {
		liveOpts = append(liveOpts, climate.WithForecastURL(c.Climate.ForecastURL))
	}
	if c.Climate.GeocodeURL != "" {
		liveOpts = append(liveOpts, climate.WithGeocodeURL(c.Climate.GeocodeURL))
	}
	if c.Climate.RateLimitRPS > 0 {
		liveOpts = append(liveOpts, climate.WithRateLimit(c.Climate.RateLimitRPS))
	}
	opts = append(opts, climate.WithLive(climate.NewLiveSource(regions, liveOpts...)))
	return climate.NewFetcher(opts...)
}

// newGateway builds the AI gateway from whichever provider keys are set.
func newGateway(c *config.Config, m *metrics.Metrics) *gateway.Gateway {
	providers := gateway.BuildProviders(gateway.Credentials{
		AnthropicKey:     c.Anthropic.Key,
		AnthropicModel:   c.Anthropic.Model,
		AnthropicBaseURL: c.Anthropic.BaseURL,
		GroqKey:          c.Groq.Key,
		GroqModel:        c.Groq.Model,
		GroqBaseURL:      c.Groq.BaseURL,
	}, c.AI.ProviderOrder, c.AITimeout())

	return gateway.New(providers,
		gateway.WithTimeout(c.AITimeout()),
		gateway.WithBreakers(resilience.NewServiceBreakers(resilience.FromCircuitConfig(c.AI.Circuit.FailureThreshold, c.AI.Circuit.ResetTimeoutSecs))),
		gateway.WithCosts(cost.NewCalculator(c.Pricing.Rates())),
		gateway.WithMetrics(m),
	)
}
