package services

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/treasuretrails/payments-backend/internal/bus"
	"github.com/treasuretrails/payments-backend/internal/config"
	"github.com/treasuretrails/payments-backend/internal/database"
	"github.com/treasuretrails/payments-backend/internal/models"
)

var (
	dispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payments",
		Subsystem: "outbox",
		Name:      "dispatched_total",
		Help:      "Outbox events dispatched by outcome",
	}, []string{"outcome"})

	outboxDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "payments",
		Subsystem: "outbox",
		Name:      "pending_depth",
		Help:      "Number of PENDING outbox events",
	})
)

// EventPublisher delivers one envelope and reports its bus coordinates
type EventPublisher interface {
	Publish(ctx context.Context, env *models.EventEnvelope, partitionKey string) (string, int64, error)
}

// compile-time check that the JetStream publisher satisfies the contract
var _ EventPublisher = (*bus.Publisher)(nil)

// OutboxDispatcher polls the outbox and publishes claimed events to the
// bus. Publishing is at least once; the stream deduplicates on event id.
type OutboxDispatcher struct {
	outbox    *database.OutboxRepository
	publisher EventPublisher
	cfg       config.OutboxConfig
	logger    *logrus.Logger
	stop      chan struct{}
	done      chan struct{}
}

// NewOutboxDispatcher creates a new dispatcher
func NewOutboxDispatcher(outbox *database.OutboxRepository, publisher EventPublisher, cfg config.OutboxConfig, logger *logrus.Logger) *OutboxDispatcher {
	return &OutboxDispatcher{
		outbox:    outbox,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start runs the poll loop until Stop is called
func (d *OutboxDispatcher) Start(ctx context.Context) {
	go func() {
		defer close(d.done)
		ticker := time.NewTicker(d.cfg.PollInterval)
		defer ticker.Stop()

		d.logger.WithField("poll_interval", d.cfg.PollInterval).Info("Outbox dispatcher started")

		for {
			select {
			case <-d.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := d.DispatchBatch(ctx); err != nil {
					d.logger.WithError(err).Error("Outbox dispatch cycle failed")
				}
			}
		}
	}()
}

// Stop halts the loop and waits for the in-flight cycle
func (d *OutboxDispatcher) Stop() {
	close(d.stop)
	<-d.done
}

// DispatchBatch claims one batch and publishes it. Returns the number of
// successfully published events.
func (d *OutboxDispatcher) DispatchBatch(ctx context.Context) (int, error) {
	// recover events a crashed dispatcher left in PROCESSING
	if released, err := d.outbox.ReleaseStuck(ctx, 5*d.cfg.PollInterval); err != nil {
		d.logger.WithError(err).Warn("Failed to release stuck events")
	} else if released > 0 {
		d.logger.WithField("released", released).Warn("Released stuck outbox events")
	}

	events, err := d.outbox.ClaimBatch(ctx, d.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, event := range events {
		if err := d.dispatch(ctx, event); err == nil {
			published++
		}
	}

	if depth, err := d.outbox.CountByStatus(ctx, models.OutboxStatusPending); err == nil {
		outboxDepth.Set(float64(depth))
	}

	return published, nil
}

func (d *OutboxDispatcher) dispatch(ctx context.Context, event *models.OutboxEvent) error {
	env, err := models.NewEnvelope(event)
	if err != nil {
		// unmarshalable payloads never heal; park immediately
		dispatchedTotal.WithLabelValues("failed").Inc()
		return d.outbox.MarkFailed(ctx, event.ID, err.Error())
	}

	partition, offset, err := d.publisher.Publish(ctx, env, event.PartitionKey())
	if err != nil {
		retryCount := event.RetryCount + 1
		if retryCount >= d.cfg.MaxAttempts {
			dispatchedTotal.WithLabelValues("failed").Inc()
			return d.outbox.MarkFailed(ctx, event.ID, err.Error())
		}
		dispatchedTotal.WithLabelValues("retried").Inc()
		return d.outbox.ScheduleRetry(ctx, event.ID, retryCount, time.Hour, err.Error())
	}

	dispatchedTotal.WithLabelValues("published").Inc()
	return d.outbox.MarkPublished(ctx, event.ID, partition, offset)
}

// Sweep deletes published events past the retention window
func (d *OutboxDispatcher) Sweep(ctx context.Context) (int64, error) {
	retention := time.Duration(d.cfg.RetentionDays) * 24 * time.Hour
	return d.outbox.SweepPublished(ctx, retention)
}
