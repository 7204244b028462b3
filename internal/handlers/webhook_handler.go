package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/treasuretrails/payments-backend/internal/gateway"
	"github.com/treasuretrails/payments-backend/internal/services"
	"github.com/treasuretrails/payments-backend/pkg/errs"
)

// SignatureHeader carries the gateway's HMAC over the raw body
const SignatureHeader = "X-Razorpay-Signature"

// WebhookHandler handles inbound gateway webhook callbacks
type WebhookHandler struct {
	orchestrator *services.PaymentOrchestrator
	payoutSvc    *services.PayoutService
	gateway      *gateway.Client
	logger       *logrus.Logger
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(
	orchestrator *services.PaymentOrchestrator,
	payoutSvc *services.PayoutService,
	gw *gateway.Client,
	logger *logrus.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		orchestrator: orchestrator,
		payoutSvc:    payoutSvc,
		gateway:      gw,
		logger:       logger,
	}
}

// webhookEvent is the gateway's event wrapper. Only the entities we act
// on are decoded; everything else stays raw.
type webhookEvent struct {
	Entity  string `json:"entity"`
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity *paymentEntity `json:"entity"`
		} `json:"payment"`
		PaymentLink struct {
			Entity *paymentLinkEntity `json:"entity"`
		} `json:"payment_link"`
		Payout struct {
			Entity *payoutEntity `json:"entity"`
		} `json:"payout"`
	} `json:"payload"`
	CreatedAt int64 `json:"created_at"`
}

type paymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Method           string `json:"method"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
}

type paymentLinkEntity struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type payoutEntity struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason"`
}

// ============================================================================
// PAYMENT WEBHOOK - POST /webhooks/razorpay
// ============================================================================

// PaymentWebhook handles payment and payment link gateway callbacks
// @Summary Payment gateway webhook
// @Description Called by the gateway on payment state changes. The HMAC signature is verified over the raw body before anything is parsed.
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param X-Razorpay-Signature header string true "HMAC-SHA256 of the raw body"
// @Success 200 {object} map[string]interface{} "Webhook processed"
// @Failure 401 {object} map[string]interface{} "Signature mismatch"
// @Router /webhooks/razorpay [post]
func (h *WebhookHandler) PaymentWebhook(c *gin.Context) {
	event, ok := h.verifiedEvent(c)
	if !ok {
		return
	}

	var err error
	switch event.Event {
	case "payment.authorized":
		p := event.Payload.Payment.Entity
		if p == nil {
			h.acknowledgeMalformed(c, event.Event)
			return
		}
		err = h.orchestrator.HandlePaymentAuthorized(c.Request.Context(), p.OrderID, p.ID, p.Method)
	case "payment.captured":
		p := event.Payload.Payment.Entity
		if p == nil {
			h.acknowledgeMalformed(c, event.Event)
			return
		}
		err = h.orchestrator.HandlePaymentSuccess(c.Request.Context(), p.OrderID, p.ID, p.Method)
	case "payment.failed":
		p := event.Payload.Payment.Entity
		if p == nil {
			h.acknowledgeMalformed(c, event.Event)
			return
		}
		err = h.orchestrator.HandlePaymentFailure(c.Request.Context(), p.OrderID, p.ID, p.ErrorCode, p.ErrorDescription)
	case "payment_link.paid":
		l := event.Payload.PaymentLink.Entity
		if l == nil {
			h.acknowledgeMalformed(c, event.Event)
			return
		}
		err = h.orchestrator.HandlePaymentLinkPaid(c.Request.Context(), l.ID)
	default:
		// events we do not act on are acknowledged so the gateway stops
		// resending them
		h.logger.WithField("event", event.Event).Debug("Ignoring unhandled webhook event")
		c.JSON(http.StatusOK, gin.H{"message": "webhook acknowledged", "handled": false})
		return
	}

	h.respond(c, event.Event, err)
}

// ============================================================================
// PAYOUT WEBHOOK - POST /webhooks/razorpayx
// ============================================================================

// PayoutWebhook handles payout gateway callbacks
// @Summary Payout gateway webhook
// @Description Called by the gateway on payout state changes
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param X-Razorpay-Signature header string true "HMAC-SHA256 of the raw body"
// @Success 200 {object} map[string]interface{} "Webhook processed"
// @Failure 401 {object} map[string]interface{} "Signature mismatch"
// @Router /webhooks/razorpayx [post]
func (h *WebhookHandler) PayoutWebhook(c *gin.Context) {
	event, ok := h.verifiedEvent(c)
	if !ok {
		return
	}

	p := event.Payload.Payout.Entity
	if p == nil {
		h.acknowledgeMalformed(c, event.Event)
		return
	}

	observedAt := time.Unix(event.CreatedAt, 0)
	if event.CreatedAt == 0 {
		observedAt = time.Now()
	}

	var err error
	switch event.Event {
	case "payout.processed":
		err = h.payoutSvc.HandlePayoutSuccess(c.Request.Context(), p.ID, observedAt)
	case "payout.failed", "payout.reversed", "payout.rejected":
		reason := p.FailureReason
		if reason == "" {
			reason = "payout " + p.Status + " at gateway"
		}
		err = h.payoutSvc.HandlePayoutFailure(c.Request.Context(), p.ID, "GATEWAY_"+p.Status, reason, observedAt)
	default:
		h.logger.WithField("event", event.Event).Debug("Ignoring unhandled payout webhook event")
		c.JSON(http.StatusOK, gin.H{"message": "webhook acknowledged", "handled": false})
		return
	}

	h.respond(c, event.Event, err)
}

// verifiedEvent reads the raw body, checks the HMAC signature against it
// and only then parses the JSON. Returns false when the response has
// already been written.
func (h *WebhookHandler) verifiedEvent(c *gin.Context) (*webhookEvent, bool) {
	body, err := c.GetRawData()
	if err != nil {
		h.logger.WithError(err).Error("Failed to read webhook body")
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return nil, false
	}

	signature := c.GetHeader(SignatureHeader)
	if !h.gateway.VerifyWebhookSignature(body, signature) {
		h.logger.WithFields(logrus.Fields{
			"path": c.Request.URL.Path,
			"ip":   c.ClientIP(),
		}).Warn("Webhook signature mismatch")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return nil, false
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.WithError(err).Warn("Failed to parse webhook payload")
		// parsing never heals on retry; acknowledge to stop the resends
		c.JSON(http.StatusOK, gin.H{"error": "invalid webhook payload", "acknowledged": true})
		return nil, false
	}

	return &event, true
}

// acknowledgeMalformed handles a verified event missing its entity
func (h *WebhookHandler) acknowledgeMalformed(c *gin.Context, eventType string) {
	h.logger.WithField("event", eventType).Warn("Webhook event missing entity payload")
	c.JSON(http.StatusOK, gin.H{"error": "missing entity", "acknowledged": true})
}

// respond maps the handler outcome to a status the gateway understands:
// 2xx only after the transition is durable, 5xx when a retry could heal.
func (h *WebhookHandler) respond(c *gin.Context, eventType string, err error) {
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"message": "webhook processed", "event": eventType})
		return
	}

	switch errs.KindOf(err) {
	case errs.KindNotFound:
		// duplicate or stale callback for state we never created
		h.logger.WithError(err).WithField("event", eventType).Warn("Webhook references unknown state")
		c.JSON(http.StatusOK, gin.H{"message": "webhook acknowledged", "note": "unknown reference"})
	case errs.KindInconsistentState:
		// retrying cannot resolve a state conflict; alert and acknowledge
		// so the gateway does not loop on the same delivery
		h.logger.WithError(err).WithField("event", eventType).Error("Webhook revealed state skew")
		c.JSON(http.StatusOK, gin.H{"message": "webhook acknowledged", "note": "state conflict logged"})
	default:
		h.logger.WithError(err).WithField("event", eventType).Error("Webhook processing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed, retry expected"})
	}
}
