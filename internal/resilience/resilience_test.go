package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climatecredit/credit-engine/internal/apperr"
)

type statusErr struct{ code int }

func (e *statusErr) Error() string   { return fmt.Sprintf("status %d", e.code) }
func (e *statusErr) HTTPStatus() int { return e.code }

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

// retry runs an error-only fn through DoVal.
func retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// guard runs an error-only fn through cb.
func guard(cb *CircuitBreaker, fn func(context.Context) error) error {
	_, err := ExecuteVal(context.Background(), cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func TestDoVal_SuccessAfterRetry(t *testing.T) {
	var calls, retries int
	cfg := fastRetry(3)
	cfg.OnRetry = func(int, error) { retries++ }

	got, err := DoVal(context.Background(), cfg, func(_ context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", NewTransientError(errors.New("busy"), 503)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, retries)
}

func TestDoVal_PermanentErrorNotRetried(t *testing.T) {
	var calls int
	err := retry(context.Background(), fastRetry(5), func(_ context.Context) error {
		calls++
		return errors.New("bad request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoVal_ExhaustsAttempts(t *testing.T) {
	var calls int
	err := retry(context.Background(), fastRetry(3), func(_ context.Context) error {
		calls++
		return &statusErr{code: 502}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoVal_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	err := retry(ctx, fastRetry(5), func(_ context.Context) error {
		calls++
		cancel()
		return NewTransientError(errors.New("timeout"), 0)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.True(t, IsTransient(NewTransientError(errors.New("x"), 429)))
	assert.True(t, IsTransient(eris.Wrap(&statusErr{code: 503}, "groq: send")))
	assert.False(t, IsTransient(&statusErr{code: 401}))
	assert.True(t, IsTransient(errors.New("read tcp: connection reset by peer")))
	assert.False(t, IsTransient(errors.New("invalid json")))
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want apperr.Kind
	}{
		{401, apperr.InvalidKey},
		{403, apperr.InvalidKey},
		{429, apperr.RateLimited},
		{408, apperr.UpstreamTimeout},
		{504, apperr.UpstreamTimeout},
		{500, apperr.UpstreamError},
		{400, apperr.UpstreamError},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyStatus(tt.code))
		})
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, apperr.Kind(""), Classify(nil))
	assert.Equal(t, apperr.MalformedResponse, Classify(apperr.New(apperr.MalformedResponse, "no json")))
	assert.Equal(t, apperr.UpstreamError, Classify(ErrCircuitOpen))
	assert.Equal(t, apperr.UpstreamTimeout, Classify(eris.Wrap(context.DeadlineExceeded, "claude: create message")))
	assert.Equal(t, apperr.InvalidKey, Classify(eris.Wrap(&statusErr{code: 401}, "groq: send")))
	assert.Equal(t, apperr.RateLimited, Classify(NewTransientError(errors.New("slow down"), 429)))
	assert.Equal(t, apperr.UpstreamError, Classify(errors.New("boom")))
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, "transient", ClassifyError(NewTransientError(errors.New("x"), 500)))
	assert.Equal(t, "permanent", ClassifyError(errors.New("x")))
}

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		OnStateChange: func(from, to CircuitState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	cb.nowFunc = func() time.Time { return now }

	fail := func(_ context.Context) error { return errors.New("fail") }
	_ = guard(cb, fail)
	assert.Equal(t, CircuitClosed, cb.State())
	_ = guard(cb, fail)
	assert.Equal(t, CircuitOpen, cb.State())

	called := false
	err := guard(cb, func(_ context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, CircuitHalfOpen, cb.State())
	require.NoError(t, guard(cb, func(_ context.Context) error { return nil }))
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second})
	cb.nowFunc = func() time.Time { return now }

	_ = guard(cb, func(_ context.Context) error { return errors.New("x") })
	now = now.Add(2 * time.Second)
	_ = guard(cb, func(_ context.Context) error { return errors.New("x") })
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreaker_ShouldTrip(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ShouldTrip:       func(err error) bool { return IsTransient(err) },
	})
	_ = guard(cb, func(_ context.Context) error { return errors.New("bad input") })
	assert.Equal(t, CircuitClosed, cb.State())
	_ = guard(cb, func(_ context.Context) error { return &statusErr{code: 503} })
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestServiceBreakers(t *testing.T) {
	sb := NewServiceBreakers(CircuitBreakerConfig{FailureThreshold: 1})
	a := sb.Get("claude")
	assert.Same(t, a, sb.Get("claude"))
	assert.NotSame(t, a, sb.Get("groq"))

	_ = guard(a, func(_ context.Context) error { return errors.New("x") })
	states := sb.States()
	assert.Equal(t, CircuitOpen, states["claude"])
	assert.Equal(t, CircuitClosed, states["groq"])
}

func TestFromConfig(t *testing.T) {
	rc := FromRetryConfig(4, 100)
	assert.Equal(t, 4, rc.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, rc.InitialBackoff)
	assert.Equal(t, DefaultRetryConfig().MaxBackoff, rc.MaxBackoff)

	cc := FromCircuitConfig(0, 10)
	assert.Equal(t, 5, cc.FailureThreshold)
	assert.Equal(t, 10*time.Second, cc.ResetTimeout)
}
