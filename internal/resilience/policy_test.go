package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treasuretrails/payments-backend/internal/config"
	"github.com/treasuretrails/payments-backend/pkg/errs"
)

func testPolicyConfig() config.PolicyConfig {
	return config.PolicyConfig{
		FailureRateThreshold: 0.5,
		SlidingWindowSize:    20,
		WaitDurationInOpen:   time.Second,
		RetryAttempts:        3,
		BackoffInitial:       time.Millisecond,
		BackoffMultiplier:    2.0,
	}
}

func newTestPolicy(name string) *Policy {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewPolicy(name, testPolicyConfig(), logger)
}

func TestExecuteRetriesTransientThenSucceeds(t *testing.T) {
	policy := newTestPolicy("test-retry-succeeds")

	calls := 0
	err := policy.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errs.Gateway("HTTP_503", "service unavailable", true, nil)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecuteDoesNotRetryPermanent(t *testing.T) {
	policy := newTestPolicy("test-no-retry-permanent")

	calls := 0
	err := policy.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return errs.Gateway("BAD_REQUEST_ERROR", "amount invalid", false, nil)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecuteExhaustsAttempts(t *testing.T) {
	policy := newTestPolicy("test-exhausts")

	calls := 0
	err := policy.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return errs.Gateway("HTTP_500", "boom", true, nil)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, errs.IsTransient(err))
}

func TestBreakerOpensOnFailureRate(t *testing.T) {
	policy := newTestPolicy("test-breaker-opens")

	// drive enough failures through to fill the window and trip
	for i := 0; i < 25; i++ {
		_ = policy.Execute(context.Background(), func(ctx context.Context) error {
			return errs.Gateway("HTTP_500", "boom", true, nil)
		})
	}
	assert.Equal(t, gobreaker.StateOpen, policy.State())

	// open breaker rejects without invoking fn
	calls := 0
	err := policy.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, 0, calls)
}

func TestExecuteHonorsContextCancellation(t *testing.T) {
	policy := newTestPolicy("test-context-cancel")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := policy.Execute(ctx, func(ctx context.Context) error {
		return errs.Gateway("HTTP_500", "boom", true, nil)
	})
	require.Error(t, err)
}
