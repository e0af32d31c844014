package gateway

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/climatecredit/credit-engine/internal/apperr"
	"github.com/climatecredit/credit-engine/internal/cost"
	"github.com/climatecredit/credit-engine/internal/metrics"
	"github.com/climatecredit/credit-engine/internal/resilience"
)

// MaxTimeout bounds every provider attempt.
const MaxTimeout = 30 * time.Second

// Capability names used in logs and metrics.
const (
	CapabilityExtraction = "extraction"
	CapabilityAnalysis   = "analysis"
)

const notConfiguredMessage = "no AI provider configured; set an Anthropic or Groq API key"

// Attempt records one provider call.
type Attempt struct {
	Provider string        `json:"provider"`
	Reason   apperr.Kind   `json:"reason,omitempty"`
	Message  string        `json:"message,omitempty"`
	Elapsed  time.Duration `json:"elapsed_ns"`
}

// Failure is the terminal outcome of a capability call that did not succeed.
type Failure struct {
	Reason  apperr.Kind `json:"reason"`
	Message string      `json:"message"`
}

// Err returns the failure as a classified error.
func (f *Failure) Err() error {
	if f == nil {
		return nil
	}
	return apperr.New(f.Reason, f.Message)
}

// Result is either a success carrying Value and Provider, or a Failure.
// Attempts is populated in both cases.
type Result[T any] struct {
	Value    T         `json:"value,omitempty"`
	Provider string    `json:"provider,omitempty"`
	Attempts []Attempt `json:"attempts"`
	Failure  *Failure  `json:"failure,omitempty"`
}

// OK reports whether the call succeeded.
func (r Result[T]) OK() bool { return r.Failure == nil }

// Err returns nil on success, else the classified failure.
func (r Result[T]) Err() error { return r.Failure.Err() }

func failed[T any](reason apperr.Kind, msg string, attempts []Attempt) Result[T] {
	return Result[T]{Attempts: attempts, Failure: &Failure{Reason: reason, Message: msg}}
}

// Chain is an ordered provider list with a per-provider circuit breaker and
// a per-attempt timeout.
type Chain struct {
	providers []Provider
	breakers  *resilience.ServiceBreakers
	timeout   time.Duration
	metrics   *metrics.Metrics
}

// NewChain builds a chain over providers in order. A nil breakers disables
// circuit breaking.
func NewChain(providers []Provider, breakers *resilience.ServiceBreakers, timeout time.Duration, m *metrics.Metrics) *Chain {
	if timeout <= 0 || timeout > MaxTimeout {
		timeout = MaxTimeout
	}
	return &Chain{providers: providers, breakers: breakers, timeout: timeout, metrics: m}
}

// Providers returns the provider names in attempt order.
func (c *Chain) Providers() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

// Len returns the number of configured providers.
func (c *Chain) Len() int { return len(c.providers) }

// BreakerStates reports circuit state per provider. Providers not yet
// called report closed.
func (c *Chain) BreakerStates() map[string]string {
	var states map[string]resilience.CircuitState
	if c.breakers != nil {
		states = c.breakers.States()
	}
	out := make(map[string]string, len(c.providers))
	for _, p := range c.providers {
		state, ok := states[p.Name()]
		if !ok {
			state = resilience.CircuitClosed
		}
		out[p.Name()] = state.String()
	}
	return out
}

// TripOnUpstream counts only upstream-side failures against a breaker.
// Bad keys and unparseable output do not open the circuit.
func TripOnUpstream(err error) bool {
	switch resilience.Classify(err) {
	case apperr.UpstreamError, apperr.UpstreamTimeout, apperr.RateLimited:
		return true
	default:
		return false
	}
}

// AttemptInOrder calls fn with each provider in turn until one succeeds.
// Attempts are sequential and each is bounded by the chain timeout. An open
// breaker counts as an UpstreamError attempt. InvalidKey stops the chain;
// any other failure moves to the next provider. When every attempt fails the
// result carries the last attempt's reason.
func AttemptInOrder[T any](ctx context.Context, c *Chain, capability string, fn func(ctx context.Context, p Provider) (T, error)) Result[T] {
	if c == nil || len(c.providers) == 0 {
		return failed[T](apperr.NotConfigured, notConfiguredMessage, nil)
	}

	attempts := make([]Attempt, 0, len(c.providers))
	for _, p := range c.providers {
		if err := ctx.Err(); err != nil {
			attempts = append(attempts, Attempt{Provider: p.Name(), Reason: apperr.UpstreamTimeout, Message: err.Error()})
			break
		}

		start := time.Now()
		val, err := callProvider(ctx, c, p, fn)
		elapsed := time.Since(start)

		if err == nil {
			attempts = append(attempts, Attempt{Provider: p.Name(), Elapsed: elapsed})
			c.metrics.ProviderAttempt(p.Name(), capability, "success")
			return Result[T]{Value: val, Provider: p.Name(), Attempts: attempts}
		}

		kind := resilience.Classify(err)
		attempts = append(attempts, Attempt{
			Provider: p.Name(),
			Reason:   kind,
			Message:  apperr.MessageOf(err),
			Elapsed:  elapsed,
		})
		c.metrics.ProviderAttempt(p.Name(), capability, string(kind))
		zap.L().Warn("gateway: provider attempt failed",
			zap.String("provider", p.Name()),
			zap.String("capability", capability),
			zap.String("reason", string(kind)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)

		if kind == apperr.InvalidKey {
			break
		}
	}

	last := attempts[len(attempts)-1]
	return failed[T](last.Reason, last.Message, attempts)
}

// callProvider runs one attempt under the chain timeout and p's breaker.
func callProvider[T any](ctx context.Context, c *Chain, p Provider, fn func(ctx context.Context, p Provider) (T, error)) (T, error) {
	actx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.breakers == nil {
		return fn(actx, p)
	}
	return resilience.ExecuteVal(actx, c.breakers.Get(p.Name()), func(ctx context.Context) (T, error) {
		return fn(ctx, p)
	})
}

// record prices a completion and counts its tokens.
func record(costs *cost.Calculator, m *metrics.Metrics, comp *Completion, capability string) {
	if comp == nil {
		return
	}
	var usd float64
	if costs != nil {
		usd = costs.LogCost(comp.Usage, capability)
	}
	m.TokenUsage(comp.Usage.Provider, comp.Usage.InputTokens, comp.Usage.OutputTokens, usd)
}
