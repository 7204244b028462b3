package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event type constants. The prefix before the first dot selects the bus
// topic during dispatch.
const (
	EventPaymentOrderCreated      = "payment.order.created"
	EventPaymentSucceeded         = "payment.succeeded"
	EventPaymentFailed            = "payment.failed"
	EventPaymentLinkCreated       = "payment.link.created"
	EventPaymentLinkCancelled     = "payment.link.cancelled"
	EventPaymentLinkStatusChanged = "payment.link.status.changed"

	EventPayoutInitiated = "vendor.payout.initiated"
	EventPayoutSucceeded = "vendor.payout.succeeded"
	EventPayoutFailed    = "vendor.payout.failed"

	EventUserCreated     = "user.created"
	EventUserUpdated     = "user.updated"
	EventUserDeleted     = "user.deleted"
	EventUserArchived    = "user.archived"
	EventUserReactivated = "user.reactivated"

	EventUserAddressAdded   = "user.address.added"
	EventUserAddressUpdated = "user.address.updated"
	EventUserAddressDeleted = "user.address.deleted"

	EventConsentGranted   = "consent.granted"
	EventConsentWithdrawn = "consent.withdrawn"

	EventUserRoleAssigned = "user.role.assigned"
	EventUserRoleRemoved  = "user.role.removed"

	EventGDPRDataDeleted  = "gdpr.data.deleted"
	EventGDPRDataExported = "gdpr.data.exported"
)

// Aggregate types used on outbox rows and event envelopes
const (
	AggregateUser        = "USER"
	AggregateConsent     = "CONSENT"
	AggregateInvoice     = "INVOICE"
	AggregatePayment     = "PAYMENT"
	AggregatePayout      = "PAYOUT"
	AggregatePaymentLink = "PAYMENT_LINK"
)

// EventEnvelope is the canonical wire shape published to the bus
type EventEnvelope struct {
	EventID       string          `json:"eventId"`
	EventType     string          `json:"eventType"`
	AggregateType string          `json:"aggregateType"`
	AggregateID   string          `json:"aggregateId"`
	EventData     json.RawMessage `json:"eventData"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlationId"`
	CausationID   string          `json:"causationId,omitempty"`
}

// NewEnvelope builds the canonical envelope from a staged outbox event
func NewEnvelope(e *OutboxEvent) (*EventEnvelope, error) {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	env := &EventEnvelope{
		EventID:       e.ID.String(),
		EventType:     e.EventType,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		EventData:     data,
		Timestamp:     e.CreatedAt.UTC(),
	}
	if e.CorrelationID != nil {
		env.CorrelationID = *e.CorrelationID
	}
	if env.CorrelationID == "" {
		env.CorrelationID = uuid.New().String()
	}
	if e.CausationID != nil {
		env.CausationID = *e.CausationID
	}
	return env, nil
}

// Validate rejects envelopes that would be garbage on the wire
func (env *EventEnvelope) Validate() error {
	if env.EventID == "" {
		return fmt.Errorf("envelope missing eventId")
	}
	if env.EventType == "" {
		return fmt.Errorf("envelope missing eventType")
	}
	if env.AggregateType == "" {
		return fmt.Errorf("envelope missing aggregateType")
	}
	if len(env.EventData) == 0 {
		return fmt.Errorf("envelope missing eventData")
	}
	return nil
}
