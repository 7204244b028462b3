package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/treasuretrails/payments-backend/internal/database"
	"github.com/treasuretrails/payments-backend/internal/gateway"
	"github.com/treasuretrails/payments-backend/internal/models"
	"github.com/treasuretrails/payments-backend/internal/resilience"
)

// ReconcilerService heals state drift against the gateway: payouts stuck
// in PENDING and invoices with a gateway order but no webhook outcome.
// Missed webhooks are the usual cause; the reconciler replays the same
// transition paths the webhooks would have taken.
type ReconcilerService struct {
	invoices     *database.InvoiceRepository
	payouts      *database.PayoutRepository
	orchestrator *PaymentOrchestrator
	payoutSvc    *PayoutService
	gateway      *gateway.Client
	policy       *resilience.Policy
	logger       *logrus.Logger
}

// NewReconcilerService creates a new reconciler
func NewReconcilerService(
	invoices *database.InvoiceRepository,
	payouts *database.PayoutRepository,
	orchestrator *PaymentOrchestrator,
	payoutSvc *PayoutService,
	gw *gateway.Client,
	policy *resilience.Policy,
	logger *logrus.Logger,
) *ReconcilerService {
	return &ReconcilerService{
		invoices:     invoices,
		payouts:      payouts,
		orchestrator: orchestrator,
		payoutSvc:    payoutSvc,
		gateway:      gw,
		policy:       policy,
		logger:       logger,
	}
}

// ReconcileInvoices refreshes PENDING invoices that have had a gateway
// order for longer than the cutoff. A captured payment at the gateway
// drives the success path; a failed one the failure path.
func (r *ReconcilerService) ReconcileInvoices(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	invoices, err := r.invoices.ListStuckPending(ctx, olderThan, limit)
	if err != nil {
		return 0, err
	}

	healed := 0
	for _, invoice := range invoices {
		if invoice.GatewayOrderID == nil {
			continue
		}
		if err := r.reconcileInvoice(ctx, invoice); err != nil {
			r.logger.WithError(err).WithField("invoice_id", invoice.ID).Warn("Invoice reconciliation failed")
			continue
		}
		healed++
	}
	return healed, nil
}

func (r *ReconcilerService) reconcileInvoice(ctx context.Context, invoice *models.Invoice) error {
	var payments []gateway.Payment
	err := r.policy.Execute(ctx, func(ctx context.Context) error {
		var gwErr error
		payments, gwErr = r.gateway.FetchOrderPayments(ctx, *invoice.GatewayOrderID)
		return gwErr
	})
	if err != nil {
		return err
	}

	// prefer a captured attempt, then an authorized one, then failures
	var captured, authorized, failed *gateway.Payment
	for i := range payments {
		p := &payments[i]
		switch p.Status {
		case gateway.PaymentStatusCaptured:
			if captured == nil || p.CreatedAt > captured.CreatedAt {
				captured = p
			}
		case gateway.PaymentStatusAuthorized:
			if authorized == nil || p.CreatedAt > authorized.CreatedAt {
				authorized = p
			}
		case gateway.PaymentStatusFailed:
			if failed == nil || p.CreatedAt > failed.CreatedAt {
				failed = p
			}
		}
	}

	switch {
	case captured != nil:
		return r.orchestrator.HandlePaymentSuccess(ctx, *invoice.GatewayOrderID, captured.ID, captured.Method)
	case authorized != nil:
		return r.orchestrator.HandlePaymentAuthorized(ctx, *invoice.GatewayOrderID, authorized.ID, authorized.Method)
	case failed != nil:
		return r.orchestrator.HandlePaymentFailure(ctx, *invoice.GatewayOrderID, failed.ID, failed.ErrorCode, failed.ErrorDescription)
	default:
		// no attempts yet; leave the invoice for the next pass
		return nil
	}
}

// ReconcilePayouts refreshes PENDING payouts from the gateway
func (r *ReconcilerService) ReconcilePayouts(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	payouts, err := r.payouts.ListNonTerminal(ctx, olderThan, limit)
	if err != nil {
		return 0, err
	}

	healed := 0
	for _, payout := range payouts {
		if payout.GatewayPayoutID == nil {
			continue
		}
		if err := r.reconcilePayout(ctx, payout); err != nil {
			r.logger.WithError(err).WithField("payout_id", payout.ID).Warn("Payout reconciliation failed")
			continue
		}
		healed++
	}
	return healed, nil
}

func (r *ReconcilerService) reconcilePayout(ctx context.Context, payout *models.PayoutTransaction) error {
	var gwPayout *gateway.Payout
	err := r.policy.Execute(ctx, func(ctx context.Context) error {
		var gwErr error
		gwPayout, gwErr = r.gateway.FetchPayout(ctx, *payout.GatewayPayoutID)
		return gwErr
	})
	if err != nil {
		return err
	}

	switch gwPayout.Status {
	case gateway.PayoutStatusProcessed:
		return r.payoutSvc.HandlePayoutSuccess(ctx, gwPayout.ID, time.Now())
	case gateway.PayoutStatusFailed, gateway.PayoutStatusReversed:
		reason := gwPayout.FailureReason
		if reason == "" {
			reason = "payout " + gwPayout.Status + " at gateway"
		}
		return r.payoutSvc.HandlePayoutFailure(ctx, gwPayout.ID, "GATEWAY_"+gwPayout.Status, reason, time.Now())
	default:
		// queued, pending or processing: still in flight
		return nil
	}
}
