package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitCommission(t *testing.T) {
	tests := []struct {
		name       string
		gross      string
		rate       string
		commission string
		net        string
	}{
		{"Five Percent", "550.00", "5", "27.50", "522.50"},
		{"Rounds Half Up", "100.03", "2.5", "2.50", "97.53"},
		{"Zero Rate", "550.00", "0", "0.00", "550.00"},
		{"Full Rate", "100.00", "100", "100.00", "0.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gross := decimal.RequireFromString(tt.gross)
			commission, net := SplitCommission(gross, decimal.RequireFromString(tt.rate))
			assert.True(t, commission.Equal(decimal.RequireFromString(tt.commission)),
				"commission = %s, want %s", commission, tt.commission)
			assert.True(t, net.Equal(decimal.RequireFromString(tt.net)),
				"net = %s, want %s", net, tt.net)
			assert.True(t, gross.Equal(commission.Add(net)), "gross must equal commission + net")
		})
	}
}

func TestEnrollmentValidate(t *testing.T) {
	valid := func() *EnrollmentCreated {
		return &EnrollmentCreated{
			EnrollmentID:   "enr-1",
			RegistrationID: "REG-1",
			UserID:         "user-1",
			EnrollmentType: EnrollmentTypeIndividual,
			BaseAmount:     decimal.RequireFromString("500.00"),
			DiscountAmount: decimal.RequireFromString("50.00"),
			TaxAmount:      decimal.RequireFromString("81.00"),
			ConvenienceFee: decimal.RequireFromString("10.00"),
			PlatformFee:    decimal.RequireFromString("9.00"),
			TotalAmount:    decimal.RequireFromString("550.00"),
			Currency:       "INR",
			BillingName:    "Priya Sharma",
			BillingEmail:   "priya@example.com",
			BillingPhone:   "9876543210",
		}
	}

	t.Run("Valid Event", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("Rejects Non-INR", func(t *testing.T) {
		e := valid()
		e.Currency = "USD"
		err := e.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported currency")
	})

	t.Run("Rejects Inconsistent Totals", func(t *testing.T) {
		e := valid()
		e.TotalAmount = decimal.RequireFromString("999.00")
		assert.Error(t, e.Validate())
	})

	t.Run("Rejects Negative Amounts", func(t *testing.T) {
		e := valid()
		e.DiscountAmount = decimal.RequireFromString("-1.00")
		assert.Error(t, e.Validate())
	})

	t.Run("Rejects Unknown Enrollment Type", func(t *testing.T) {
		e := valid()
		e.EnrollmentType = "CORPORATE"
		assert.Error(t, e.Validate())
	})
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, TransactionStatusCaptured.Terminal())
	assert.True(t, TransactionStatusFailed.Terminal())
	assert.False(t, TransactionStatusPending.Terminal())
	assert.False(t, TransactionStatusAuthorized.Terminal())

	assert.True(t, PayoutStatusSuccess.Terminal())
	assert.True(t, PayoutStatusFailed.Terminal())
	assert.False(t, PayoutStatusInit.Terminal())
	assert.False(t, PayoutStatusPending.Terminal())

	assert.True(t, PaymentLinkStatusPaid.Terminal())
	assert.False(t, PaymentLinkStatusCreated.Terminal())
}

func TestMasking(t *testing.T) {
	assert.Equal(t, "p*******@example.com", MaskEmail("p.sharma@example.com"))
	assert.Equal(t, "*@x.io", MaskEmail("a@x.io"))
	assert.Equal(t, "****", MaskEmail("not-an-email"))

	assert.Equal(t, "******3210", MaskPhone("9876543210"))
	assert.Equal(t, "****", MaskPhone("321"))
}

func TestNewEnvelope(t *testing.T) {
	correlationID := "corr-1"
	event := &OutboxEvent{
		ID:            uuid.New(),
		AggregateType: AggregatePayment,
		AggregateID:   "pay-1",
		EventType:     EventPaymentSucceeded,
		Payload:       JSONB{"amount": "550.00"},
		CorrelationID: &correlationID,
		CreatedAt:     time.Now(),
	}

	env, err := NewEnvelope(event)
	require.NoError(t, err)
	assert.Equal(t, event.ID.String(), env.EventID)
	assert.Equal(t, EventPaymentSucceeded, env.EventType)
	assert.Equal(t, "corr-1", env.CorrelationID)
	assert.NoError(t, env.Validate())
}

func TestNewEnvelopeGeneratesCorrelationID(t *testing.T) {
	event := &OutboxEvent{
		ID:            uuid.New(),
		AggregateType: AggregateUser,
		AggregateID:   "ref-1",
		EventType:     EventUserCreated,
		Payload:       JSONB{},
		CreatedAt:     time.Now(),
	}
	env, err := NewEnvelope(event)
	require.NoError(t, err)
	assert.NotEmpty(t, env.CorrelationID)
}
