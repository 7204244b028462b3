package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/treasuretrails/payments-backend/internal/config"
	"github.com/treasuretrails/payments-backend/pkg/errs"
)

// Client is a typed Razorpay/RazorpayX API client. All amounts cross
// this boundary in paise; rupee conversion stays in the services.
type Client struct {
	baseURL       string
	keyID         string
	keySecret     string
	accountNumber string
	webhookSecret string
	httpClient    *http.Client
	logger        *logrus.Logger
}

// NewClient creates a gateway client from config
func NewClient(cfg config.GatewayConfig, logger *logrus.Logger) *Client {
	return &Client{
		baseURL:       cfg.BaseURL,
		keyID:         cfg.KeyID,
		keySecret:     cfg.KeySecret,
		accountNumber: cfg.AccountNumber,
		webhookSecret: cfg.WebhookSecret,
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		logger:        logger,
	}
}

// Order is a gateway payment order
type Order struct {
	ID         string            `json:"id"`
	Amount     int64             `json:"amount"`
	Currency   string            `json:"currency"`
	Receipt    string            `json:"receipt"`
	Status     string            `json:"status"`
	Notes      map[string]string `json:"notes,omitempty"`
	CreatedAt  int64             `json:"created_at"`
	AmountPaid int64             `json:"amount_paid"`
}

// Payment is one payment attempt against an order
type Payment struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	Method           string `json:"method"`
	Captured         bool   `json:"captured"`
	ErrorCode        string `json:"error_code,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
	CreatedAt        int64  `json:"created_at"`
}

// Payment statuses reported by the gateway
const (
	PaymentStatusAuthorized = "authorized"
	PaymentStatusCaptured   = "captured"
	PaymentStatusFailed     = "failed"
)

// Payout is a RazorpayX payout to a vendor fund account
type Payout struct {
	ID            string `json:"id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
	ReferenceID   string `json:"reference_id"`
	UTR           string `json:"utr,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
	CreatedAt     int64  `json:"created_at"`
}

// Payout statuses reported by the gateway
const (
	PayoutStatusQueued     = "queued"
	PayoutStatusPending    = "pending"
	PayoutStatusProcessing = "processing"
	PayoutStatusProcessed  = "processed"
	PayoutStatusReversed   = "reversed"
	PayoutStatusFailed     = "failed"
)

// PaymentLink is a gateway-hosted checkout link
type PaymentLink struct {
	ID       string `json:"id"`
	ShortURL string `json:"short_url"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type orderRequest struct {
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency"`
	Receipt        string            `json:"receipt"`
	PaymentCapture int               `json:"payment_capture"`
	Notes          map[string]string `json:"notes,omitempty"`
}

type paymentListResponse struct {
	Count int       `json:"count"`
	Items []Payment `json:"items"`
}

// PayoutRequest describes a vendor payout submission
type PayoutRequest struct {
	AmountPaise       int64
	ReferenceID       string
	Narration         string
	AccountNumber     string
	IFSC              string
	AccountHolderName string
	ContactName       string
	ContactEmail      string
	ContactPhone      string
	Notes             map[string]string
}

type payoutRequestBody struct {
	AccountNumber     string            `json:"account_number"`
	Amount            int64             `json:"amount"`
	Currency          string            `json:"currency"`
	Mode              string            `json:"mode"`
	Purpose           string            `json:"purpose"`
	QueueIfLowBalance bool              `json:"queue_if_low_balance"`
	ReferenceID       string            `json:"reference_id"`
	Narration         string            `json:"narration,omitempty"`
	FundAccount       payoutFundAccount `json:"fund_account"`
	Notes             map[string]string `json:"notes,omitempty"`
}

type payoutFundAccount struct {
	AccountType string            `json:"account_type"`
	BankAccount payoutBankAccount `json:"bank_account"`
	Contact     payoutContact     `json:"contact"`
}

type payoutBankAccount struct {
	Name          string `json:"name"`
	IFSC          string `json:"ifsc"`
	AccountNumber string `json:"account_number"`
}

type payoutContact struct {
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Contact string `json:"contact,omitempty"`
	Type    string `json:"type"`
}

type paymentLinkRequest struct {
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	ReferenceID string            `json:"reference_id"`
	Description string            `json:"description,omitempty"`
	Notes       map[string]string `json:"notes,omitempty"`
}

type gatewayErrorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateOrder creates a payment order. The receipt carries the invoice
// number, which Razorpay rejects as a duplicate receipt on re-creation.
func (c *Client) CreateOrder(ctx context.Context, amountPaise int64, currency, receipt string, notes map[string]string) (*Order, error) {
	body := orderRequest{
		Amount:         amountPaise,
		Currency:       currency,
		Receipt:        receipt,
		PaymentCapture: 1,
		Notes:          notes,
	}
	var order Order
	if err := c.do(ctx, http.MethodPost, "/v1/orders", body, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// FetchOrderPayments lists payment attempts for an order, used by the
// reconciler and for webhook cross-checks.
func (c *Client) FetchOrderPayments(ctx context.Context, orderID string) ([]Payment, error) {
	var resp paymentListResponse
	path := fmt.Sprintf("/v1/orders/%s/payments", orderID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// CapturePayment captures an authorized payment. The capture endpoint
// takes the payment id, never the order id.
func (c *Client) CapturePayment(ctx context.Context, paymentID string, amountPaise int64, currency string) (*Payment, error) {
	body := map[string]interface{}{
		"amount":   amountPaise,
		"currency": currency,
	}
	var payment Payment
	path := fmt.Sprintf("/v1/payments/%s/capture", paymentID)
	if err := c.do(ctx, http.MethodPost, path, body, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

// CreatePayout submits an IMPS payout with the fund account inline
func (c *Client) CreatePayout(ctx context.Context, req PayoutRequest) (*Payout, error) {
	body := payoutRequestBody{
		AccountNumber:     c.accountNumber,
		Amount:            req.AmountPaise,
		Currency:          "INR",
		Mode:              "IMPS",
		Purpose:           "vendor_payout",
		QueueIfLowBalance: true,
		ReferenceID:       req.ReferenceID,
		Narration:         req.Narration,
		FundAccount: payoutFundAccount{
			AccountType: "bank_account",
			BankAccount: payoutBankAccount{
				Name:          req.AccountHolderName,
				IFSC:          req.IFSC,
				AccountNumber: req.AccountNumber,
			},
			Contact: payoutContact{
				Name:    req.ContactName,
				Email:   req.ContactEmail,
				Contact: req.ContactPhone,
				Type:    "vendor",
			},
		},
		Notes: req.Notes,
	}
	var payout Payout
	if err := c.do(ctx, http.MethodPost, "/v1/payouts", body, &payout); err != nil {
		return nil, err
	}
	return &payout, nil
}

// FetchPayout refreshes payout state from the gateway
func (c *Client) FetchPayout(ctx context.Context, payoutID string) (*Payout, error) {
	var payout Payout
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/payouts/%s", payoutID), nil, &payout); err != nil {
		return nil, err
	}
	return &payout, nil
}

// CreatePaymentLink creates a hosted checkout link for an invoice
func (c *Client) CreatePaymentLink(ctx context.Context, amountPaise int64, currency, referenceID, description string) (*PaymentLink, error) {
	body := paymentLinkRequest{
		Amount:      amountPaise,
		Currency:    currency,
		ReferenceID: referenceID,
		Description: description,
	}
	var link PaymentLink
	if err := c.do(ctx, http.MethodPost, "/v1/payment_links", body, &link); err != nil {
		return nil, err
	}
	return &link, nil
}

// CancelPaymentLink cancels an open link
func (c *Client) CancelPaymentLink(ctx context.Context, linkID string) (*PaymentLink, error) {
	var link PaymentLink
	path := fmt.Sprintf("/v1/payment_links/%s/cancel", linkID)
	if err := c.do(ctx, http.MethodPost, path, nil, &link); err != nil {
		return nil, err
	}
	return &link, nil
}

// VerifyWebhookSignature checks HMAC-SHA256 of the raw body against the
// signature header using a constant-time comparison.
func (c *Client) VerifyWebhookSignature(rawBody []byte, signature string) bool {
	if signature == "" || c.webhookSecret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errs.Wrap(err, errs.KindInternal, "GATEWAY_MARSHAL", "failed to marshal gateway request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errs.Wrap(err, errs.KindInternal, "GATEWAY_REQUEST", "failed to build gateway request")
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// network errors and deadline expiry are retryable
		return errs.Gateway("GATEWAY_UNREACHABLE", fmt.Sprintf("gateway request failed: %v", err), true, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Gateway("GATEWAY_READ", "failed to read gateway response", true, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return errs.Gateway("GATEWAY_BAD_RESPONSE", "failed to decode gateway response", false, err)
		}
		return nil
	}

	var gwErr gatewayErrorResponse
	_ = json.Unmarshal(respBody, &gwErr)
	code := gwErr.Error.Code
	if code == "" {
		code = fmt.Sprintf("HTTP_%d", resp.StatusCode)
	}
	message := gwErr.Error.Description
	if message == "" {
		message = fmt.Sprintf("gateway returned status %d", resp.StatusCode)
	}

	transient := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests

	c.logger.WithFields(logrus.Fields{
		"method":    method,
		"path":      path,
		"status":    resp.StatusCode,
		"code":      code,
		"transient": transient,
	}).Warn("Gateway request rejected")

	return errs.Gateway(code, message, transient, nil)
}
