package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorWrapsCauseAndUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := BrokerUnavailable("terminal unreachable", cause)

	assert.True(t, err.Retryable)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "terminal unreachable")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestIsComparesByKindNotInstance(t *testing.T) {
	err := RiskBlocked("daily trade cap reached")
	assert.True(t, errors.Is(err, ErrRiskBlocked))
	assert.False(t, errors.Is(err, ErrFilterBlocked))
}

func TestFilterBlockedIsNotRetryable(t *testing.T) {
	err := FilterBlocked("news blackout window")
	assert.False(t, err.Retryable)
	assert.Equal(t, KindFilterBlocked, err.Kind)
}
