package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treasuretrails/payments-backend/internal/config"
	"github.com/treasuretrails/payments-backend/pkg/errs"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewClient(config.GatewayConfig{
		BaseURL:       server.URL,
		KeyID:         "rzp_test_key",
		KeySecret:     "rzp_test_secret",
		AccountNumber: "2323230012345678",
		WebhookSecret: "whsec_test",
		Timeout:       5 * time.Second,
	}, logger)
}

func TestCreateOrder(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/orders", r.URL.Path)

		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "rzp_test_key", user)
		assert.Equal(t, "rzp_test_secret", pass)

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, float64(55000), req["amount"])
		assert.Equal(t, "INR", req["currency"])
		assert.Equal(t, "REG-2025-001", req["receipt"])
		// auto-capture: authorized payments must not sit until expiry
		assert.Equal(t, float64(1), req["payment_capture"])

		json.NewEncoder(w).Encode(Order{
			ID: "order_abc", Amount: 55000, Currency: "INR",
			Receipt: "REG-2025-001", Status: "created",
		})
	})

	order, err := client.CreateOrder(context.Background(), 55000, "INR", "REG-2025-001", nil)
	require.NoError(t, err)
	assert.Equal(t, "order_abc", order.ID)
}

func TestCapturePaymentUsesPaymentID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/pay_xyz/capture", r.URL.Path)
		json.NewEncoder(w).Encode(Payment{
			ID: "pay_xyz", OrderID: "order_abc", Amount: 55000,
			Status: PaymentStatusCaptured, Captured: true,
		})
	})

	payment, err := client.CapturePayment(context.Background(), "pay_xyz", 55000, "INR")
	require.NoError(t, err)
	assert.True(t, payment.Captured)
	assert.Equal(t, PaymentStatusCaptured, payment.Status)
}

func TestFetchOrderPayments(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/orders/order_abc/payments", r.URL.Path)
		json.NewEncoder(w).Encode(paymentListResponse{
			Count: 2,
			Items: []Payment{
				{ID: "pay_1", Status: PaymentStatusFailed},
				{ID: "pay_2", Status: PaymentStatusCaptured},
			},
		})
	})

	payments, err := client.FetchOrderPayments(context.Background(), "order_abc")
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.Equal(t, PaymentStatusCaptured, payments[1].Status)
}

func TestCreatePayout(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payouts", r.URL.Path)

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "2323230012345678", req["account_number"])
		assert.Equal(t, "IMPS", req["mode"])
		assert.Equal(t, "vendor_payout", req["purpose"])
		assert.Equal(t, true, req["queue_if_low_balance"])
		assert.Equal(t, "PAYOUT_123", req["reference_id"])

		fund := req["fund_account"].(map[string]interface{})
		assert.Equal(t, "bank_account", fund["account_type"])

		notes := req["notes"].(map[string]interface{})
		assert.Equal(t, "v1", notes["vendorId"])

		json.NewEncoder(w).Encode(Payout{ID: "pout_1", Status: PayoutStatusQueued, ReferenceID: "PAYOUT_123"})
	})

	payout, err := client.CreatePayout(context.Background(), PayoutRequest{
		AmountPaise:       52250,
		ReferenceID:       "PAYOUT_123",
		AccountNumber:     "000111222333",
		IFSC:              "HDFC0001234",
		AccountHolderName: "Acme Events",
		ContactName:       "Acme Events",
		Notes:             map[string]string{"vendorId": "v1", "vendorName": "Acme Events"},
	})
	require.NoError(t, err)
	assert.Equal(t, "pout_1", payout.ID)
}

func TestGatewayErrorClassification(t *testing.T) {
	t.Run("5xx Is Transient", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
		_, err := client.CreateOrder(context.Background(), 100, "INR", "r1", nil)
		require.Error(t, err)
		assert.True(t, errs.IsTransient(err))
	})

	t.Run("429 Is Transient", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
		_, err := client.CreateOrder(context.Background(), 100, "INR", "r1", nil)
		require.Error(t, err)
		assert.True(t, errs.IsTransient(err))
	})

	t.Run("4xx Is Permanent With Gateway Code", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]string{
					"code":        "BAD_REQUEST_ERROR",
					"description": "The amount is invalid",
				},
			})
		})
		_, err := client.CreateOrder(context.Background(), -1, "INR", "r1", nil)
		require.Error(t, err)
		assert.False(t, errs.IsTransient(err))

		var gwErr *errs.Error
		require.ErrorAs(t, err, &gwErr)
		assert.Equal(t, "BAD_REQUEST_ERROR", gwErr.Code)
	})
}

func TestVerifyWebhookSignature(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	body := []byte(`{"event":"payment.captured"}`)

	mac := hmac.New(sha256.New, []byte("whsec_test"))
	mac.Write(body)
	valid := hex.EncodeToString(mac.Sum(nil))

	assert.True(t, client.VerifyWebhookSignature(body, valid))
	assert.False(t, client.VerifyWebhookSignature(body, "deadbeef"))
	assert.False(t, client.VerifyWebhookSignature(body, ""))
	assert.False(t, client.VerifyWebhookSignature([]byte(`{"tampered":true}`), valid))
}
