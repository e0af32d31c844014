package gateway

import (
	"time"

	"github.com/climatecredit/credit-engine/internal/cost"
	"github.com/climatecredit/credit-engine/internal/metrics"
	"github.com/climatecredit/credit-engine/internal/resilience"
	"github.com/climatecredit/credit-engine/pkg/anthropic"
	"github.com/climatecredit/credit-engine/pkg/groq"
)

// Credentials selects which providers are configured. A provider is
// configured iff its key is non-empty.
type Credentials struct {
	AnthropicKey     string
	AnthropicModel   string
	AnthropicBaseURL string
	GroqKey          string
	GroqModel        string
	GroqBaseURL      string
}

// Option configures a Gateway.
type Option func(*options)

type options struct {
	timeout  time.Duration
	breakers *resilience.ServiceBreakers
	costs    *cost.Calculator
	metrics  *metrics.Metrics
	now      func() time.Time
}

// WithTimeout bounds each provider attempt. Values above MaxTimeout are
// capped.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithBreakers guards providers with per-provider circuit breakers.
func WithBreakers(sb *resilience.ServiceBreakers) Option {
	return func(o *options) { o.breakers = sb }
}

// WithCosts prices completions with c.
func WithCosts(c *cost.Calculator) Option {
	return func(o *options) { o.costs = c }
}

// WithMetrics counts attempts and tokens.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock injects the clock used to stamp analyses.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Gateway exposes the extraction and analysis capabilities.
type Gateway struct {
	chain   *Chain
	costs   *cost.Calculator
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a Gateway over providers in attempt order.
func New(providers []Provider, opts ...Option) *Gateway {
	o := options{timeout: MaxTimeout, now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return &Gateway{
		chain:   NewChain(providers, o.breakers, o.timeout, o.metrics),
		costs:   o.costs,
		metrics: o.metrics,
		now:     o.now,
	}
}

// BuildProviders returns the configured providers in order. Names not
// configured are skipped; an empty order means claude then groq.
func BuildProviders(creds Credentials, order []string, timeout time.Duration) []Provider {
	if len(order) == 0 {
		order = []string{cost.ProviderClaude, cost.ProviderGroq}
	}
	if timeout <= 0 || timeout > MaxTimeout {
		timeout = MaxTimeout
	}

	var out []Provider
	seen := make(map[string]bool)
	for _, name := range order {
		if seen[name] {
			continue
		}
		seen[name] = true

		switch name {
		case cost.ProviderClaude:
			if creds.AnthropicKey == "" {
				continue
			}
			opts := []anthropic.Option{anthropic.WithTimeout(timeout)}
			if creds.AnthropicBaseURL != "" {
				opts = append(opts, anthropic.WithBaseURL(creds.AnthropicBaseURL))
			}
			out = append(out, NewClaudeProvider(anthropic.NewClient(creds.AnthropicKey, opts...), creds.AnthropicModel))
		case cost.ProviderGroq:
			if creds.GroqKey == "" {
				continue
			}
			var opts []groq.Option
			if creds.GroqBaseURL != "" {
				opts = append(opts, groq.WithBaseURL(creds.GroqBaseURL))
			}
			if creds.GroqModel != "" {
				opts = append(opts, groq.WithModel(creds.GroqModel))
			}
			out = append(out, NewGroqProvider(groq.NewClient(creds.GroqKey, opts...), creds.GroqModel))
		}
	}
	return out
}

// Configured reports whether at least one provider is available.
func (g *Gateway) Configured() bool { return g.chain.Len() > 0 }

// Providers returns the provider names in attempt order.
func (g *Gateway) Providers() []string { return g.chain.Providers() }

// BreakerStates reports circuit state per provider.
func (g *Gateway) BreakerStates() map[string]string { return g.chain.BreakerStates() }
