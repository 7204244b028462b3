package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/treasuretrails/payments-backend/internal/gateway"
	"github.com/treasuretrails/payments-backend/internal/models"
	"github.com/treasuretrails/payments-backend/pkg/errs"
)

// CreatePaymentLink issues a gateway-hosted link to re-collect an
// invoice that has not been paid. Only one open link exists per invoice.
func (o *PaymentOrchestrator) CreatePaymentLink(ctx context.Context, invoiceID uuid.UUID) (*models.PaymentLink, error) {
	invoice, err := o.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, errs.New(errs.KindNotFound, "INVOICE_NOT_FOUND", "invoice not found")
	}
	if invoice.PaymentStatus == models.PaymentStatusPaid {
		return nil, errs.New(errs.KindInconsistentState, "INVOICE_ALREADY_PAID", "cannot create a link for a paid invoice")
	}

	if existing, err := o.links.GetActiveByInvoice(ctx, invoiceID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	var gwLink *gateway.PaymentLink
	err = o.ordersPolicy.Execute(ctx, func(ctx context.Context) error {
		var gwErr error
		gwLink, gwErr = o.gateway.CreatePaymentLink(ctx, invoice.TotalPaise(), invoice.Currency,
			invoice.InvoiceNumber, "Payment for "+invoice.PlanTitle)
		return gwErr
	})
	if err != nil {
		return nil, err
	}

	link := &models.PaymentLink{
		InvoiceID:     invoice.ID,
		GatewayLinkID: gwLink.ID,
		ShortURL:      gwLink.ShortURL,
		Amount:        invoice.TotalAmount,
		Currency:      invoice.Currency,
		Status:        models.PaymentLinkStatusCreated,
	}
	if err := o.links.Create(ctx, link); err != nil {
		return nil, err
	}

	tx, err := o.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin link event transaction: %w", err)
	}
	defer tx.Rollback()

	if err := o.stage(ctx, tx, models.AggregatePaymentLink, link.ID.String(), models.EventPaymentLinkCreated, map[string]interface{}{
		"linkId":    link.ID.String(),
		"invoiceId": invoice.ID.String(),
		"shortUrl":  link.ShortURL,
		"amount":    link.Amount.String(),
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit link event: %w", err)
	}

	return link, nil
}

// CancelPaymentLink cancels an open link at the gateway and locally
func (o *PaymentOrchestrator) CancelPaymentLink(ctx context.Context, linkID uuid.UUID) error {
	link, err := o.links.GetByID(ctx, linkID)
	if err != nil {
		return err
	}
	if link == nil {
		return errs.New(errs.KindNotFound, "LINK_NOT_FOUND", "payment link not found")
	}
	if link.Status.Terminal() {
		return nil
	}

	err = o.ordersPolicy.Execute(ctx, func(ctx context.Context) error {
		_, gwErr := o.gateway.CancelPaymentLink(ctx, link.GatewayLinkID)
		return gwErr
	})
	if err != nil {
		return err
	}

	transitioned, err := o.links.UpdateStatus(ctx, linkID, models.PaymentLinkStatusCancelled)
	if err != nil {
		return err
	}
	if !transitioned {
		return nil
	}

	tx, err := o.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin cancel event transaction: %w", err)
	}
	defer tx.Rollback()

	if err := o.stage(ctx, tx, models.AggregatePaymentLink, link.ID.String(), models.EventPaymentLinkCancelled, map[string]interface{}{
		"linkId":    link.ID.String(),
		"invoiceId": link.InvoiceID.String(),
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// HandlePaymentLinkPaid marks a link PAID when the gateway reports a
// completed link payment. The invoice transition rides the regular
// payment success path.
func (o *PaymentOrchestrator) HandlePaymentLinkPaid(ctx context.Context, gatewayLinkID string) error {
	link, err := o.links.GetByGatewayLinkID(ctx, gatewayLinkID)
	if err != nil {
		return err
	}
	if link == nil {
		return errs.New(errs.KindNotFound, "LINK_NOT_FOUND", "no payment link for gateway id "+gatewayLinkID)
	}

	transitioned, err := o.links.UpdateStatus(ctx, link.ID, models.PaymentLinkStatusPaid)
	if err != nil {
		return err
	}
	if !transitioned {
		return nil
	}

	tx, err := o.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin link paid transaction: %w", err)
	}
	defer tx.Rollback()

	if err := o.stage(ctx, tx, models.AggregatePaymentLink, link.ID.String(), models.EventPaymentLinkStatusChanged, map[string]interface{}{
		"linkId":    link.ID.String(),
		"invoiceId": link.InvoiceID.String(),
		"status":    models.PaymentLinkStatusPaid,
	}); err != nil {
		return err
	}
	return tx.Commit()
}
