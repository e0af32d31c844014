package apperr

import (
	"context"
	"errors"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestKindCategory(t *testing.T) {
	tests := []struct {
		kind Kind
		want Category
	}{
		{InvalidLocation, CategoryFixInput},
		{UnknownLoanPurpose, CategoryFixInput},
		{DecisionConflict, CategoryFixInput},
		{RateLimited, CategoryRetryLater},
		{UpstreamTimeout, CategoryRetryLater},
		{NotConfigured, CategoryFixConfiguration},
		{InvalidKey, CategoryFixConfiguration},
		{MalformedResponse, CategoryUpstream},
		{Internal, CategoryInternal},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.Category())
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, RateLimited.Retryable())
	assert.True(t, UpstreamTimeout.Retryable())
	assert.False(t, InvalidKey.Retryable())
	assert.False(t, InvalidLocation.Retryable())
}

func TestKindOf_ThroughErisWrap(t *testing.T) {
	base := New(UnknownLoanPurpose, `loan purpose "fishing-boat" is not in the policy`)
	wrapped := eris.Wrap(base, "assessment: score")

	assert.Equal(t, UnknownLoanPurpose, KindOf(wrapped))
	assert.True(t, Is(wrapped, UnknownLoanPurpose))
	assert.Equal(t, `loan purpose "fishing-boat" is not in the policy`, MessageOf(wrapped))
}

func TestKindOf_Unclassified(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, Internal, KindOf(errors.New("boom")))
	assert.Equal(t, UpstreamTimeout, KindOf(eris.Wrap(context.DeadlineExceeded, "climate: fetch")))
}

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap(nil, Internal, "ignored"))

	cause := errors.New("dial tcp: refused")
	err := Wrap(cause, UpstreamError, "forecast request failed")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, UpstreamError, KindOf(err))
	assert.Contains(t, err.Error(), "upstream_error: forecast request failed")
}
