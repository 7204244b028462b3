package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/treasuretrails/payments-backend/internal/config"
	"github.com/treasuretrails/payments-backend/pkg/errs"
)

// Named policies, one per gateway API family so a payout outage never
// trips the checkout path.
const (
	PolicyGatewayOrders   = "gatewayOrdersApi"
	PolicyGatewayPayments = "gatewayPaymentsApi"
	PolicyGatewayPayouts  = "gatewayPayoutsApi"
)

var (
	callDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "payments",
		Subsystem: "resilience",
		Name:      "call_duration_seconds",
		Help:      "Duration of protected calls by policy and outcome",
		Buckets:   prometheus.DefBuckets,
	}, []string{"policy", "outcome"})

	retryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payments",
		Subsystem: "resilience",
		Name:      "retries_total",
		Help:      "Retry attempts by policy",
	}, []string{"policy"})

	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "payments",
		Subsystem: "resilience",
		Name:      "breaker_state",
		Help:      "Circuit breaker state by policy (0 closed, 1 half-open, 2 open)",
	}, []string{"policy"})
)

// Policy combines a circuit breaker with transient-only retries and
// records call metrics under a stable name.
type Policy struct {
	name    string
	breaker *gobreaker.CircuitBreaker
	cfg     config.PolicyConfig
	logger  *logrus.Logger
}

// NewPolicy builds a named policy from config
func NewPolicy(name string, cfg config.PolicyConfig, logger *logrus.Logger) *Policy {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.WaitDurationInOpen,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < uint32(cfg.SlidingWindowSize) {
				return false
			}
			failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRate >= cfg.FailureRateThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			breakerState.WithLabelValues(name).Set(stateValue(to))
			logger.WithFields(logrus.Fields{
				"policy": name,
				"from":   from.String(),
				"to":     to.String(),
			}).Warn("Circuit breaker state changed")
		},
	}

	return &Policy{
		name:    name,
		breaker: gobreaker.NewCircuitBreaker(settings),
		cfg:     cfg,
		logger:  logger,
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// Execute runs fn behind the breaker with transient-only retries.
// Permanent errors and open-breaker rejections surface immediately;
// exhausted retries return the last transient error.
func (p *Policy) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	start := time.Now()

	attempt := 0
	operation := func() error {
		if attempt > 0 {
			retryTotal.WithLabelValues(p.name).Inc()
		}
		attempt++

		_, err := p.breaker.Execute(func() (interface{}, error) {
			return nil, fn(ctx)
		})
		if err == nil {
			return nil
		}
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			// retrying into an open breaker is pointless
			return backoff.Permanent(errs.Wrap(err, errs.KindGateway, "BREAKER_OPEN", "circuit breaker open for "+p.name))
		}
		if !errs.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.BackoffInitial
	bo.Multiplier = p.cfg.BackoffMultiplier
	bo.RandomizationFactor = 0.2
	bo.MaxElapsedTime = 0

	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(bo, uint64(p.cfg.RetryAttempts-1)), ctx))

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	callDuration.WithLabelValues(p.name, outcome).Observe(time.Since(start).Seconds())

	return err
}

// State exposes the breaker state for health reporting
func (p *Policy) State() gobreaker.State {
	return p.breaker.State()
}
