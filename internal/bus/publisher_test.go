package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/treasuretrails/payments-backend/internal/config"
	"github.com/treasuretrails/payments-backend/internal/models"
)

func testBusConfig() config.BusConfig {
	return config.BusConfig{
		StreamName:   "DOMAIN_EVENTS",
		UserTopic:    "user-events",
		ConsentTopic: "consent-events",
		GDPRTopic:    "gdpr-events",
		AuditTopic:   "audit-events",
		PaymentTopic: "payment-events",
		PayoutTopic:  "payout-events",
	}
}

func TestSubjectFor(t *testing.T) {
	p := &Publisher{cfg: testBusConfig()}

	tests := []struct {
		eventType string
		want      string
	}{
		{models.EventPaymentSucceeded, "payment-events.payment.succeeded"},
		{models.EventPaymentOrderCreated, "payment-events.payment.order.created"},
		{models.EventPaymentLinkCreated, "payment-events.payment.link.created"},
		{models.EventPayoutSucceeded, "payout-events.vendor.payout.succeeded"},
		{models.EventUserCreated, "user-events.user.created"},
		{models.EventUserAddressAdded, "user-events.user.address.added"},
		{models.EventUserRoleAssigned, "user-events.user.role.assigned"},
		{models.EventConsentWithdrawn, "consent-events.consent.withdrawn"},
		{models.EventGDPRDataDeleted, "gdpr-events.gdpr.data.deleted"},
		{"unknown.thing", "audit-events.unknown.thing"},
	}
	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			assert.Equal(t, tt.want, p.SubjectFor(tt.eventType))
		})
	}
}

func TestPartitionKeyFallback(t *testing.T) {
	event := &models.OutboxEvent{AggregateID: "pay-1"}
	assert.Equal(t, "pay-1", event.PartitionKey())
}
