package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/treasuretrails/payments-backend/internal/models"
)

// Inbound enrollment subject and the durable consumer name bound to it
const (
	EnrollmentSubject  = "treasure.enrollment.created"
	EnrollmentDurable  = "payments-enrollment-consumer"
	enrollmentMaxRetry = 5
)

// EnrollmentHandler processes one enrollment event. Returning an error
// nacks the message for redelivery; idempotency lives downstream.
type EnrollmentHandler func(ctx context.Context, event *models.EnrollmentCreated) error

// Consumer subscribes to enrollment events with a durable pull-free
// push subscription and explicit acks.
type Consumer struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	sub    *nats.Subscription
	logger *logrus.Logger
}

// NewConsumer connects to the bus for inbound subscriptions
func NewConsumer(url string, logger *logrus.Logger) (*Consumer, error) {
	conn, err := nats.Connect(url,
		nats.Name("payments-backend-consumer"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to bus: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open JetStream context: %w", err)
	}
	return &Consumer{conn: conn, js: js, logger: logger}, nil
}

// SubscribeEnrollments starts consuming enrollment events. Malformed
// payloads are terminated instead of redelivered forever.
func (c *Consumer) SubscribeEnrollments(ctx context.Context, handler EnrollmentHandler) error {
	sub, err := c.js.QueueSubscribe(EnrollmentSubject, EnrollmentDurable, func(msg *nats.Msg) {
		var event models.EnrollmentCreated
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			c.logger.WithError(err).Error("Malformed enrollment event, terminating delivery")
			msg.Term()
			return
		}

		if err := handler(ctx, &event); err != nil {
			c.logger.WithError(err).WithFields(logrus.Fields{
				"enrollment_id":   event.EnrollmentID,
				"registration_id": event.RegistrationID,
			}).Error("Failed to process enrollment event")
			msg.Nak()
			return
		}

		msg.Ack()
	},
		nats.Durable(EnrollmentDurable),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.MaxDeliver(enrollmentMaxRetry),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to enrollments: %w", err)
	}
	c.sub = sub

	c.logger.WithField("subject", EnrollmentSubject).Info("Enrollment consumer started")
	return nil
}

// Close drains the subscription and connection
func (c *Consumer) Close() {
	if c.sub != nil {
		c.sub.Drain()
	}
	if c.conn != nil {
		c.conn.Drain()
	}
}
