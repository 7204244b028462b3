package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/treasuretrails/payments-backend/internal/config"
	"github.com/treasuretrails/payments-backend/internal/models"
	"github.com/treasuretrails/payments-backend/pkg/errs"
)

// Header carrying the ordering key for partition-aware consumers
const PartitionKeyHeader = "X-Partition-Key"

// Publisher delivers outbox events to JetStream. Nats-Msg-Id carries the
// event id so the stream deduplicates dispatcher at-least-once delivery.
type Publisher struct {
	js     nats.JetStreamContext
	conn   *nats.Conn
	cfg    config.BusConfig
	logger *logrus.Logger
}

// NewPublisher connects to the bus and ensures the event stream exists
func NewPublisher(cfg config.BusConfig, logger *logrus.Logger) (*Publisher, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name("payments-backend"),
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

	subjects := []string{
		cfg.UserTopic + ".>",
		cfg.ConsentTopic + ".>",
		cfg.GDPRTopic + ".>",
		cfg.AuditTopic + ".>",
		cfg.PaymentTopic + ".>",
		cfg.PayoutTopic + ".>",
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:      cfg.StreamName,
		Subjects:  subjects,
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		conn.Close()
		return nil, fmt.Errorf("failed to ensure event stream: %w", err)
	}

	return &Publisher{js: js, conn: conn, cfg: cfg, logger: logger}, nil
}

// Publish sends one envelope and returns the assigned stream coordinates
func (p *Publisher) Publish(ctx context.Context, env *models.EventEnvelope, partitionKey string) (string, int64, error) {
	if err := env.Validate(); err != nil {
		return "", 0, errs.Wrap(err, errs.KindValidation, "ENVELOPE_INVALID", "refusing to publish invalid envelope")
	}

	data, err := json.Marshal(env)
	if err != nil {
		return "", 0, errs.Wrap(err, errs.KindInternal, "ENVELOPE_MARSHAL", "failed to marshal envelope")
	}

	subject := p.SubjectFor(env.EventType)
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, env.EventID)
	msg.Header.Set(PartitionKeyHeader, partitionKey)

	ack, err := p.js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		return "", 0, errs.Gateway("BUS_PUBLISH_FAILED", fmt.Sprintf("failed to publish %s: %v", env.EventType, err), true, err)
	}

	p.logger.WithFields(logrus.Fields{
		"event_id":   env.EventID,
		"event_type": env.EventType,
		"subject":    subject,
		"sequence":   ack.Sequence,
		"duplicate":  ack.Duplicate,
	}).Debug("Event published")

	return subject, int64(ack.Sequence), nil
}

// SubjectFor routes an event type to its topic by family. Full subject
// is topic.eventType so consumers can filter with wildcards.
func (p *Publisher) SubjectFor(eventType string) string {
	var topic string
	switch {
	case strings.HasPrefix(eventType, "user.address."), strings.HasPrefix(eventType, "user.role."):
		topic = p.cfg.UserTopic
	case strings.HasPrefix(eventType, "user."):
		topic = p.cfg.UserTopic
	case strings.HasPrefix(eventType, "consent."):
		topic = p.cfg.ConsentTopic
	case strings.HasPrefix(eventType, "gdpr."):
		topic = p.cfg.GDPRTopic
	case strings.HasPrefix(eventType, "audit."):
		topic = p.cfg.AuditTopic
	case strings.HasPrefix(eventType, "payment."):
		topic = p.cfg.PaymentTopic
	case strings.HasPrefix(eventType, "vendor.payout."):
		topic = p.cfg.PayoutTopic
	default:
		topic = p.cfg.AuditTopic
	}
	return topic + "." + eventType
}

// Close drains the connection
func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Drain()
	}
}
