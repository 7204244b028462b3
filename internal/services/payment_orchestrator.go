package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/treasuretrails/payments-backend/internal/database"
	"github.com/treasuretrails/payments-backend/internal/gateway"
	"github.com/treasuretrails/payments-backend/internal/models"
	"github.com/treasuretrails/payments-backend/internal/resilience"
	"github.com/treasuretrails/payments-backend/pkg/errs"
)

// PaymentOrchestrator drives the invoice and payment transaction state
// machines: enrollment events become invoices and gateway orders, and
// gateway webhooks become terminal invoice states plus payout enqueues.
type PaymentOrchestrator struct {
	db             *sqlx.DB
	invoices       *database.InvoiceRepository
	payments       *database.PaymentRepository
	payouts        *database.PayoutRepository
	vendors        *database.VendorRepository
	links          *database.PaymentLinkRepository
	outbox         *database.OutboxRepository
	gateway        *gateway.Client
	ordersPolicy   *resilience.Policy
	paymentsPolicy *resilience.Policy
	logger         *logrus.Logger
}

// NewPaymentOrchestrator creates a new payment orchestrator
func NewPaymentOrchestrator(
	db *sqlx.DB,
	invoices *database.InvoiceRepository,
	payments *database.PaymentRepository,
	payouts *database.PayoutRepository,
	vendors *database.VendorRepository,
	links *database.PaymentLinkRepository,
	outbox *database.OutboxRepository,
	gw *gateway.Client,
	ordersPolicy, paymentsPolicy *resilience.Policy,
	logger *logrus.Logger,
) *PaymentOrchestrator {
	return &PaymentOrchestrator{
		db:             db,
		invoices:       invoices,
		payments:       payments,
		payouts:        payouts,
		vendors:        vendors,
		links:          links,
		outbox:         outbox,
		gateway:        gw,
		ordersPolicy:   ordersPolicy,
		paymentsPolicy: paymentsPolicy,
		logger:         logger,
	}
}

// ProcessEnrollment turns an enrollment event into an invoice and a
// gateway order. The registration id is the invoice number, so event
// re-delivery converges on the same invoice and the gateway's duplicate
// receipt check backstops order creation.
func (o *PaymentOrchestrator) ProcessEnrollment(ctx context.Context, event *models.EnrollmentCreated) (*models.Invoice, error) {
	if err := event.Validate(); err != nil {
		return nil, errs.Wrap(err, errs.KindValidation, "INVALID_ENROLLMENT", "enrollment event rejected")
	}

	invoice := &models.Invoice{
		InvoiceNumber:  event.RegistrationID,
		EnrollmentID:   event.EnrollmentID,
		RegistrationID: event.RegistrationID,
		UserID:         event.UserID,
		PlanID:         event.PlanID,
		PlanTitle:      event.PlanTitle,
		EnrollmentType: string(event.EnrollmentType),
		TeamName:       event.TeamName,
		VendorID:       event.VendorID,
		BaseAmount:     event.BaseAmount,
		DiscountAmount: event.DiscountAmount,
		TaxAmount:      event.TaxAmount,
		ConvenienceFee: event.ConvenienceFee,
		PlatformFee:    event.PlatformFee,
		TotalAmount:    event.TotalAmount,
		Currency:       event.Currency,
		BillingName:    event.BillingName,
		BillingEmail:   event.BillingEmail,
		BillingPhone:   event.BillingPhone,
		BillingAddress: event.BillingAddress,
		PaymentStatus:  models.PaymentStatusPending,
	}

	invoice, created, err := o.invoices.CreateIfAbsent(ctx, invoice)
	if err != nil {
		return nil, err
	}
	if !created && invoice.GatewayOrderID != nil {
		txn, err := o.payments.GetByGatewayOrderID(ctx, *invoice.GatewayOrderID)
		if err != nil {
			return nil, err
		}
		if txn != nil {
			// re-delivery after the full flow already completed
			return invoice, nil
		}
		// a crash landed between the order linkage and the transaction
		// commit; fall through and rebuild the transaction and its event
		o.logger.WithFields(logrus.Fields{
			"invoice_id":       invoice.ID,
			"gateway_order_id": *invoice.GatewayOrderID,
		}).Warn("Invoice has a gateway order but no payment transaction, recovering")
	}

	var orderID string
	if invoice.GatewayOrderID != nil {
		orderID = *invoice.GatewayOrderID
	} else {
		var order *gateway.Order
		err = o.ordersPolicy.Execute(ctx, func(ctx context.Context) error {
			var gwErr error
			order, gwErr = o.gateway.CreateOrder(ctx, invoice.TotalPaise(), invoice.Currency, invoice.InvoiceNumber, orderNotes(event))
			return gwErr
		})
		if err != nil {
			return nil, err
		}

		if err := o.invoices.SetGatewayOrder(ctx, invoice.ID, order.ID); err != nil {
			return nil, err
		}
		orderID = order.ID
		invoice.GatewayOrderID = &orderID
	}

	txn := &models.PaymentTransaction{
		InvoiceID:      invoice.ID,
		Amount:         invoice.TotalAmount,
		Currency:       invoice.Currency,
		Status:         models.TransactionStatusPending,
		GatewayOrderID: orderID,
		VendorID:       invoice.VendorID,
	}

	tx, err := o.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin order transaction: %w", err)
	}
	defer tx.Rollback()

	if err := o.payments.CreateTx(ctx, tx, txn); err != nil {
		return nil, err
	}
	if err := o.stage(ctx, tx, models.AggregateInvoice, invoice.ID.String(), models.EventPaymentOrderCreated, map[string]interface{}{
		"invoiceId":      invoice.ID.String(),
		"invoiceNumber":  invoice.InvoiceNumber,
		"gatewayOrderId": orderID,
		"amount":         invoice.TotalAmount.String(),
		"currency":       invoice.Currency,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit order transaction: %w", err)
	}

	o.logger.WithFields(logrus.Fields{
		"invoice_id":       invoice.ID,
		"invoice_number":   invoice.InvoiceNumber,
		"gateway_order_id": orderID,
	}).Info("Payment order created")

	return invoice, nil
}

// orderNotes carries the enrollment context onto the gateway order so
// operators can trace an order back without touching our database.
func orderNotes(event *models.EnrollmentCreated) map[string]string {
	notes := map[string]string{
		"enrollmentId":   event.EnrollmentID,
		"registrationId": event.RegistrationID,
		"planId":         event.PlanID,
		"enrollmentType": string(event.EnrollmentType),
	}
	if event.TeamName != nil && *event.TeamName != "" {
		notes["teamName"] = *event.TeamName
	}
	return notes
}

// HandlePaymentAuthorized captures an authorized payment. Capture takes
// the payment id; the order id only locates our transaction.
func (o *PaymentOrchestrator) HandlePaymentAuthorized(ctx context.Context, gatewayOrderID, gatewayPaymentID, method string) error {
	txn, err := o.payments.GetByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return err
	}
	if txn == nil {
		return errs.New(errs.KindNotFound, "TRANSACTION_NOT_FOUND", "no transaction for gateway order "+gatewayOrderID)
	}
	if txn.Status.Terminal() {
		return nil
	}

	if _, err := o.payments.MarkAuthorized(ctx, txn.ID, gatewayPaymentID, method); err != nil {
		return err
	}

	invoice, err := o.invoices.GetByID(ctx, txn.InvoiceID)
	if err != nil {
		return err
	}
	if invoice == nil {
		return errs.New(errs.KindInconsistentState, "INVOICE_MISSING", "transaction without invoice")
	}

	return o.paymentsPolicy.Execute(ctx, func(ctx context.Context) error {
		_, captureErr := o.gateway.CapturePayment(ctx, gatewayPaymentID, invoice.TotalPaise(), invoice.Currency)
		return captureErr
	})
}

// HandlePaymentSuccess finalizes a captured payment: the invoice goes
// PAID, the transaction CAPTURED, and when the invoice names a vendor a
// payout row is enqueued - all in one transaction with the events.
// Duplicate webhooks find the invoice already terminal and do nothing.
func (o *PaymentOrchestrator) HandlePaymentSuccess(ctx context.Context, gatewayOrderID, gatewayPaymentID, method string) error {
	invoice, err := o.invoices.GetByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return err
	}
	if invoice == nil {
		return errs.New(errs.KindNotFound, "INVOICE_NOT_FOUND", "no invoice for gateway order "+gatewayOrderID)
	}
	if invoice.PaymentStatus != models.PaymentStatusPending {
		o.logger.WithFields(logrus.Fields{
			"invoice_id": invoice.ID,
			"status":     invoice.PaymentStatus,
		}).Debug("Ignoring success webhook for terminal invoice")
		return nil
	}

	txn, err := o.payments.GetByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return err
	}
	if txn == nil {
		return errs.New(errs.KindInconsistentState, "TRANSACTION_MISSING", "invoice without payment transaction")
	}

	tx, err := o.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin success transaction: %w", err)
	}
	defer tx.Rollback()

	captured, err := o.payments.MarkCapturedTx(ctx, tx, txn.ID, gatewayPaymentID, method)
	if err != nil {
		return err
	}
	if !captured && txn.Status != models.TransactionStatusCaptured {
		return errs.New(errs.KindInconsistentState, "TRANSACTION_NOT_CAPTURABLE",
			fmt.Sprintf("transaction %s in status %s cannot be captured", txn.ID, txn.Status))
	}

	paid, err := o.invoices.MarkPaidTx(ctx, tx, invoice.ID, gatewayPaymentID, txn.ID, method)
	if err != nil {
		return err
	}
	if !paid {
		// lost the race with another webhook delivery
		return nil
	}

	if err := o.stage(ctx, tx, models.AggregateInvoice, invoice.ID.String(), models.EventPaymentSucceeded, map[string]interface{}{
		"invoiceId":        invoice.ID.String(),
		"invoiceNumber":    invoice.InvoiceNumber,
		"gatewayPaymentId": gatewayPaymentID,
		"amount":           invoice.TotalAmount.String(),
		"currency":         invoice.Currency,
		"method":           method,
	}); err != nil {
		return err
	}

	if invoice.VendorID != nil {
		if err := o.enqueuePayout(ctx, tx, invoice, txn); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit success transaction: %w", err)
	}

	o.logger.WithFields(logrus.Fields{
		"invoice_id":         invoice.ID,
		"gateway_payment_id": gatewayPaymentID,
	}).Info("Payment succeeded")

	return nil
}

// HandlePaymentFailure moves invoice and transaction to FAILED with the
// gateway's error. Terminal invoices ignore late failure webhooks.
func (o *PaymentOrchestrator) HandlePaymentFailure(ctx context.Context, gatewayOrderID, gatewayPaymentID, errorCode, errorMessage string) error {
	invoice, err := o.invoices.GetByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return err
	}
	if invoice == nil {
		return errs.New(errs.KindNotFound, "INVOICE_NOT_FOUND", "no invoice for gateway order "+gatewayOrderID)
	}
	if invoice.PaymentStatus != models.PaymentStatusPending {
		return nil
	}

	txn, err := o.payments.GetByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return err
	}
	if txn == nil {
		return errs.New(errs.KindInconsistentState, "TRANSACTION_MISSING", "invoice without payment transaction")
	}

	tx, err := o.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin failure transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := o.payments.MarkFailedTx(ctx, tx, txn.ID, errorCode, errorMessage); err != nil {
		return err
	}
	failed, err := o.invoices.MarkFailedTx(ctx, tx, invoice.ID)
	if err != nil {
		return err
	}
	if !failed {
		return nil
	}
	if err := o.stage(ctx, tx, models.AggregateInvoice, invoice.ID.String(), models.EventPaymentFailed, map[string]interface{}{
		"invoiceId":        invoice.ID.String(),
		"invoiceNumber":    invoice.InvoiceNumber,
		"gatewayPaymentId": gatewayPaymentID,
		"errorCode":        errorCode,
		"errorMessage":     errorMessage,
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit failure transaction: %w", err)
	}

	o.logger.WithFields(logrus.Fields{
		"invoice_id": invoice.ID,
		"error_code": errorCode,
	}).Warn("Payment failed")

	return nil
}

// RefundPayment is not supported; refunds are handled manually until a
// refund policy exists.
func (o *PaymentOrchestrator) RefundPayment(ctx context.Context, invoiceID uuid.UUID) error {
	return errs.New(errs.KindNotImplemented, "REFUNDS_NOT_SUPPORTED", "refunds are not implemented")
}

func (o *PaymentOrchestrator) enqueuePayout(ctx context.Context, tx *sqlx.Tx, invoice *models.Invoice, txn *models.PaymentTransaction) error {
	vendor, err := o.vendors.GetByVendorID(ctx, *invoice.VendorID)
	if err != nil {
		return err
	}
	if vendor == nil || !vendor.PayoutEligible() {
		o.logger.WithFields(logrus.Fields{
			"invoice_id": invoice.ID,
			"vendor_id":  *invoice.VendorID,
		}).Warn("Vendor not payout eligible, skipping payout enqueue")
		return nil
	}

	commission, net := models.SplitCommission(invoice.TotalAmount, vendor.CommissionRate)
	if !net.IsPositive() {
		// a commission rate at or above 100% leaves nothing to pay out;
		// never hand the gateway a zero or negative amount
		o.logger.WithFields(logrus.Fields{
			"invoice_id":      invoice.ID,
			"vendor_id":       vendor.VendorID,
			"commission_rate": vendor.CommissionRate.String(),
			"net_amount":      net.String(),
		}).Warn("Payout net amount not positive, skipping payout enqueue")
		return nil
	}
	payout := &models.PayoutTransaction{
		PaymentTransactionID: txn.ID,
		VendorID:             vendor.VendorID,
		GrossAmount:          invoice.TotalAmount,
		CommissionAmount:     commission,
		NetAmount:            net,
		Currency:             invoice.Currency,
		Status:               models.PayoutStatusInit,
	}

	created, err := o.payouts.CreateTx(ctx, tx, payout)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}

	return o.stage(ctx, tx, models.AggregatePayout, payout.ID.String(), models.EventPayoutInitiated, map[string]interface{}{
		"payoutId":         payout.ID.String(),
		"vendorId":         vendor.VendorID,
		"grossAmount":      payout.GrossAmount.String(),
		"commissionAmount": payout.CommissionAmount.String(),
		"netAmount":        payout.NetAmount.String(),
		"currency":         payout.Currency,
	})
}

func (o *PaymentOrchestrator) stage(ctx context.Context, tx *sqlx.Tx, aggregateType, aggregateID, eventType string, payload map[string]interface{}) error {
	return o.outbox.StageTx(ctx, tx, &models.OutboxEvent{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       models.JSONB(payload),
	})
}
