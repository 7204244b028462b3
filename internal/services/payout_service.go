package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/treasuretrails/payments-backend/internal/database"
	"github.com/treasuretrails/payments-backend/internal/gateway"
	"github.com/treasuretrails/payments-backend/internal/models"
	"github.com/treasuretrails/payments-backend/internal/resilience"
	"github.com/treasuretrails/payments-backend/pkg/errs"
)

// PayoutService submits enqueued payouts to the gateway and applies
// webhook-reported terminal states. Submission is asynchronous: payout
// rows are enqueued in INIT by the payment path and drained here.
type PayoutService struct {
	db      *sqlx.DB
	payouts *database.PayoutRepository
	vendors *database.VendorRepository
	outbox  *database.OutboxRepository
	gateway *gateway.Client
	policy  *resilience.Policy
	logger  *logrus.Logger
}

// NewPayoutService creates a new payout service
func NewPayoutService(
	db *sqlx.DB,
	payouts *database.PayoutRepository,
	vendors *database.VendorRepository,
	outbox *database.OutboxRepository,
	gw *gateway.Client,
	policy *resilience.Policy,
	logger *logrus.Logger,
) *PayoutService {
	return &PayoutService{
		db:      db,
		payouts: payouts,
		vendors: vendors,
		outbox:  outbox,
		gateway: gw,
		policy:  policy,
		logger:  logger,
	}
}

// SubmitPending drains a batch of INIT payouts. Each payout is claimed
// under a row lock, submitted, then transitioned to PENDING or FAILED.
// Returns how many payouts were processed.
func (s *PayoutService) SubmitPending(ctx context.Context, batchSize int) (int, error) {
	tx, err := s.payouts.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin claim transaction: %w", err)
	}

	claimed, err := s.payouts.ClaimInitBatch(ctx, tx, batchSize)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	// release the locks before the slow gateway calls; the INIT->PENDING
	// conditional update keeps double submission out even so
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit claim: %w", err)
	}

	for _, payout := range claimed {
		if err := s.submit(ctx, payout); err != nil {
			s.logger.WithError(err).WithField("payout_id", payout.ID).Error("Payout submission failed")
		}
	}
	return len(claimed), nil
}

func (s *PayoutService) submit(ctx context.Context, payout *models.PayoutTransaction) error {
	vendor, err := s.vendors.GetByVendorID(ctx, payout.VendorID)
	if err != nil {
		return err
	}
	if vendor == nil || !vendor.PayoutEligible() {
		return s.failPayout(ctx, payout, models.PayoutStatusInit,
			"VENDOR_INELIGIBLE", "vendor missing or not payout eligible")
	}

	var gwPayout *gateway.Payout
	err = s.policy.Execute(ctx, func(ctx context.Context) error {
		var gwErr error
		gwPayout, gwErr = s.gateway.CreatePayout(ctx, gateway.PayoutRequest{
			AmountPaise:       payout.NetPaise(),
			ReferenceID:       "PAYOUT_" + payout.ID.String(),
			Narration:         "Vendor payout",
			AccountNumber:     vendor.BankAccountNumber,
			IFSC:              vendor.IFSC,
			AccountHolderName: vendor.AccountHolderName,
			ContactName:       vendor.Name,
			ContactEmail:      vendor.Email,
			ContactPhone:      vendor.Phone,
			Notes: map[string]string{
				"vendorId":   vendor.VendorID,
				"vendorName": vendor.Name,
				"paymentId":  payout.PaymentTransactionID.String(),
			},
		})
		return gwErr
	})
	if err != nil {
		// INIT -> FAILED on submit error; the reconciler never resurrects
		// these because no gateway payout id exists
		code := "GATEWAY_ERROR"
		message := err.Error()
		var gwErr *errs.Error
		if errors.As(err, &gwErr) {
			code = gwErr.Code
			message = gwErr.Message
		}
		return s.failPayout(ctx, payout, models.PayoutStatusInit, code, message)
	}

	transitioned, err := s.payouts.MarkPending(ctx, payout.ID, gwPayout.ID)
	if err != nil {
		return err
	}
	if !transitioned {
		s.logger.WithField("payout_id", payout.ID).Warn("Payout no longer INIT after submission")
	}

	s.logger.WithFields(logrus.Fields{
		"payout_id":         payout.ID,
		"gateway_payout_id": gwPayout.ID,
		"net_paise":         payout.NetPaise(),
	}).Info("Payout submitted")

	return nil
}

// HandlePayoutSuccess applies a processed webhook. Replays of the same
// terminal state are no-ops. A success contradicting FAILED (or arriving
// before our submit bookkeeping) is a cross-transition: the gateway's
// answer is honored only when the event is newer than our last local
// transition, otherwise the skew is surfaced for an operator.
func (s *PayoutService) HandlePayoutSuccess(ctx context.Context, gatewayPayoutID string, observedAt time.Time) error {
	payout, err := s.payouts.GetByGatewayPayoutID(ctx, gatewayPayoutID)
	if err != nil {
		return err
	}
	if payout == nil {
		return errs.New(errs.KindNotFound, "PAYOUT_NOT_FOUND", "no payout for gateway id "+gatewayPayoutID)
	}
	if payout.Status == models.PayoutStatusSuccess {
		return nil
	}

	if payout.Status != models.PayoutStatusPending {
		if !observedAt.After(payout.UpdatedAt) {
			return errs.New(errs.KindInconsistentState, "PAYOUT_STATE_SKEW",
				fmt.Sprintf("payout %s reported succeeded at gateway while local status is %s", payout.ID, payout.Status))
		}
		s.logger.WithFields(logrus.Fields{
			"payout_id":         payout.ID,
			"gateway_payout_id": gatewayPayoutID,
			"local_status":      payout.Status,
		}).Warn("Honoring newer gateway success over conflicting local payout state")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin payout success transaction: %w", err)
	}
	defer tx.Rollback()

	transitioned, err := s.payouts.MarkSuccessTx(ctx, tx, payout.ID, payout.Status)
	if err != nil {
		return err
	}
	if !transitioned {
		// lost the race with another delivery
		return nil
	}
	if err := s.stagePayoutEventTx(ctx, tx, payout, models.EventPayoutSucceeded, map[string]interface{}{
		"payoutId":        payout.ID.String(),
		"vendorId":        payout.VendorID,
		"netAmount":       payout.NetAmount.String(),
		"gatewayPayoutId": gatewayPayoutID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// HandlePayoutFailure applies a failed/reversed webhook under the same
// cross-transition rule as HandlePayoutSuccess.
func (s *PayoutService) HandlePayoutFailure(ctx context.Context, gatewayPayoutID, errorCode, errorMessage string, observedAt time.Time) error {
	payout, err := s.payouts.GetByGatewayPayoutID(ctx, gatewayPayoutID)
	if err != nil {
		return err
	}
	if payout == nil {
		return errs.New(errs.KindNotFound, "PAYOUT_NOT_FOUND", "no payout for gateway id "+gatewayPayoutID)
	}
	if payout.Status == models.PayoutStatusFailed {
		return nil
	}

	if payout.Status == models.PayoutStatusSuccess {
		if !observedAt.After(payout.UpdatedAt) {
			return errs.New(errs.KindInconsistentState, "PAYOUT_STATE_SKEW",
				fmt.Sprintf("payout %s reported failed at gateway while local status is %s", payout.ID, payout.Status))
		}
		s.logger.WithFields(logrus.Fields{
			"payout_id":         payout.ID,
			"gateway_payout_id": gatewayPayoutID,
			"error_code":        errorCode,
		}).Warn("Honoring newer gateway failure over local SUCCESS")
	}

	return s.failPayout(ctx, payout, payout.Status, errorCode, errorMessage)
}

// failPayout runs the conditional transition to FAILED and stages the
// failure event in one transaction, so a crash between the two can
// never leave a terminal payout without its event.
func (s *PayoutService) failPayout(ctx context.Context, payout *models.PayoutTransaction, from models.PayoutStatus, errorCode, errorMessage string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin payout failure transaction: %w", err)
	}
	defer tx.Rollback()

	transitioned, err := s.payouts.MarkFailedTx(ctx, tx, payout.ID, from, errorCode, errorMessage)
	if err != nil {
		return err
	}
	if !transitioned {
		return nil
	}
	payload := map[string]interface{}{
		"payoutId":     payout.ID.String(),
		"vendorId":     payout.VendorID,
		"errorCode":    errorCode,
		"errorMessage": errorMessage,
	}
	if payout.GatewayPayoutID != nil {
		payload["gatewayPayoutId"] = *payout.GatewayPayoutID
	}
	if err := s.stagePayoutEventTx(ctx, tx, payout, models.EventPayoutFailed, payload); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PayoutService) stagePayoutEventTx(ctx context.Context, tx *sqlx.Tx, payout *models.PayoutTransaction, eventType string, payload map[string]interface{}) error {
	return s.outbox.StageTx(ctx, tx, &models.OutboxEvent{
		AggregateType: models.AggregatePayout,
		AggregateID:   payout.ID.String(),
		EventType:     eventType,
		Payload:       models.JSONB(payload),
	})
}
