package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treasuretrails/payments-backend/internal/config"
	"github.com/treasuretrails/payments-backend/internal/database"
	"github.com/treasuretrails/payments-backend/internal/gateway"
	"github.com/treasuretrails/payments-backend/internal/models"
	"github.com/treasuretrails/payments-backend/internal/resilience"
	"github.com/treasuretrails/payments-backend/pkg/errs"
)

func newPayoutServiceForTest(t *testing.T, gatewayURL string) (*PayoutService, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	db := sqlx.NewDb(mockDB, "postgres")
	gw := gateway.NewClient(config.GatewayConfig{
		BaseURL:       gatewayURL,
		KeyID:         "rzp_test",
		KeySecret:     "secret",
		AccountNumber: "2323230041626905",
		Timeout:       2 * time.Second,
	}, logger)
	policy := resilience.NewPolicy("test-payouts-"+uuid.NewString(), config.PolicyConfig{
		FailureRateThreshold: 0.5,
		SlidingWindowSize:    20,
		WaitDurationInOpen:   time.Second,
		RetryAttempts:        3,
		BackoffInitial:       time.Millisecond,
		BackoffMultiplier:    2,
	}, logger)

	svc := NewPayoutService(
		db,
		database.NewPayoutRepository(db, logger),
		database.NewVendorRepository(db, logger),
		database.NewOutboxRepository(db, logger),
		gw,
		policy,
		logger,
	)
	return svc, mock
}

func payoutRows(id uuid.UUID, status models.PayoutStatus, gatewayPayoutID *string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "payment_transaction_id", "vendor_id",
		"gross_amount", "commission_amount", "net_amount", "currency",
		"status", "gateway_payout_id", "created_at", "updated_at",
	}).AddRow(
		id, uuid.New(), "v1",
		decimal.NewFromInt(400), decimal.RequireFromString("40.00"), decimal.RequireFromString("360.00"), "INR",
		status, gatewayPayoutID, now.Add(-time.Minute), now.Add(-time.Minute),
	)
}

func TestHandlePayoutSuccessTransitionsPendingAndStagesEvent(t *testing.T) {
	svc, mock := newPayoutServiceForTest(t, "http://gateway.invalid")
	payoutID := uuid.New()
	gwID := "pout_X"

	mock.ExpectQuery(`SELECT \* FROM payout_transactions WHERE gateway_payout_id`).
		WithArgs(gwID).
		WillReturnRows(payoutRows(payoutID, models.PayoutStatusPending, &gwID))
	// the transition and the outbox insert share one transaction
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE payout_transactions SET status`).
		WithArgs(models.PayoutStatusSuccess, payoutID, models.PayoutStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO outbox_events`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := svc.HandlePayoutSuccess(context.Background(), gwID, time.Now())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandlePayoutSuccessRollsBackTransitionWhenStagingFails(t *testing.T) {
	svc, mock := newPayoutServiceForTest(t, "http://gateway.invalid")
	payoutID := uuid.New()
	gwID := "pout_X"

	// first delivery: the outbox insert fails, so the SUCCESS transition
	// must roll back with it
	mock.ExpectQuery(`SELECT \* FROM payout_transactions WHERE gateway_payout_id`).
		WithArgs(gwID).
		WillReturnRows(payoutRows(payoutID, models.PayoutStatusPending, &gwID))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE payout_transactions SET status`).
		WithArgs(models.PayoutStatusSuccess, payoutID, models.PayoutStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO outbox_events`).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := svc.HandlePayoutSuccess(context.Background(), gwID, time.Now())
	require.Error(t, err)

	// the gateway retries; the payout is still PENDING and the second
	// delivery publishes exactly one event
	mock.ExpectQuery(`SELECT \* FROM payout_transactions WHERE gateway_payout_id`).
		WithArgs(gwID).
		WillReturnRows(payoutRows(payoutID, models.PayoutStatusPending, &gwID))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE payout_transactions SET status`).
		WithArgs(models.PayoutStatusSuccess, payoutID, models.PayoutStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO outbox_events`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = svc.HandlePayoutSuccess(context.Background(), gwID, time.Now())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandlePayoutSuccessIsIdempotentOnTerminalState(t *testing.T) {
	svc, mock := newPayoutServiceForTest(t, "http://gateway.invalid")
	payoutID := uuid.New()
	gwID := "pout_X"

	// already SUCCESS: webhook replay ends here, no update, no event
	mock.ExpectQuery(`SELECT \* FROM payout_transactions WHERE gateway_payout_id`).
		WithArgs(gwID).
		WillReturnRows(payoutRows(payoutID, models.PayoutStatusSuccess, &gwID))

	err := svc.HandlePayoutSuccess(context.Background(), gwID, time.Now())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandlePayoutSuccessForUnknownPayout(t *testing.T) {
	svc, mock := newPayoutServiceForTest(t, "http://gateway.invalid")

	mock.ExpectQuery(`SELECT \* FROM payout_transactions WHERE gateway_payout_id`).
		WithArgs("pout_missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	err := svc.HandlePayoutSuccess(context.Background(), "pout_missing", time.Now())
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandlePayoutSuccessFlagsStaleConflictingEvent(t *testing.T) {
	svc, mock := newPayoutServiceForTest(t, "http://gateway.invalid")
	payoutID := uuid.New()
	gwID := "pout_X"

	// INIT row with a gateway id, and the webhook predates our last local
	// transition: the conflict goes to an operator, nothing changes
	mock.ExpectQuery(`SELECT \* FROM payout_transactions WHERE gateway_payout_id`).
		WithArgs(gwID).
		WillReturnRows(payoutRows(payoutID, models.PayoutStatusInit, &gwID))

	err := svc.HandlePayoutSuccess(context.Background(), gwID, time.Now().Add(-2*time.Minute))
	assert.True(t, errs.IsKind(err, errs.KindInconsistentState))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandlePayoutSuccessHonorsNewerConflictingEvent(t *testing.T) {
	svc, mock := newPayoutServiceForTest(t, "http://gateway.invalid")
	payoutID := uuid.New()
	gwID := "pout_X"

	// the gateway observed success after our last local transition, so
	// its answer wins even though the local row is not PENDING
	mock.ExpectQuery(`SELECT \* FROM payout_transactions WHERE gateway_payout_id`).
		WithArgs(gwID).
		WillReturnRows(payoutRows(payoutID, models.PayoutStatusInit, &gwID))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE payout_transactions SET status`).
		WithArgs(models.PayoutStatusSuccess, payoutID, models.PayoutStatusInit).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO outbox_events`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := svc.HandlePayoutSuccess(context.Background(), gwID, time.Now())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandlePayoutFailureTransitionsPendingAndStagesEvent(t *testing.T) {
	svc, mock := newPayoutServiceForTest(t, "http://gateway.invalid")
	payoutID := uuid.New()
	gwID := "pout_X"

	mock.ExpectQuery(`SELECT \* FROM payout_transactions WHERE gateway_payout_id`).
		WithArgs(gwID).
		WillReturnRows(payoutRows(payoutID, models.PayoutStatusPending, &gwID))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE payout_transactions SET status`).
		WithArgs(models.PayoutStatusFailed, "GATEWAY_failed", "insufficient balance", payoutID, models.PayoutStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO outbox_events`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := svc.HandlePayoutFailure(context.Background(), gwID, "GATEWAY_failed", "insufficient balance", time.Now())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandlePayoutFailureFlagsStaleEventOverSuccess(t *testing.T) {
	svc, mock := newPayoutServiceForTest(t, "http://gateway.invalid")
	payoutID := uuid.New()
	gwID := "pout_X"

	mock.ExpectQuery(`SELECT \* FROM payout_transactions WHERE gateway_payout_id`).
		WithArgs(gwID).
		WillReturnRows(payoutRows(payoutID, models.PayoutStatusSuccess, &gwID))

	err := svc.HandlePayoutFailure(context.Background(), gwID, "GATEWAY_reversed", "reversed", time.Now().Add(-2*time.Minute))
	assert.True(t, errs.IsKind(err, errs.KindInconsistentState))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandlePayoutFailureHonorsNewerReversalOverSuccess(t *testing.T) {
	svc, mock := newPayoutServiceForTest(t, "http://gateway.invalid")
	payoutID := uuid.New()
	gwID := "pout_X"

	// a reversal observed after our SUCCESS transition overrides it
	mock.ExpectQuery(`SELECT \* FROM payout_transactions WHERE gateway_payout_id`).
		WithArgs(gwID).
		WillReturnRows(payoutRows(payoutID, models.PayoutStatusSuccess, &gwID))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE payout_transactions SET status`).
		WithArgs(models.PayoutStatusFailed, "GATEWAY_reversed", "reversed", payoutID, models.PayoutStatusSuccess).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO outbox_events`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := svc.HandlePayoutFailure(context.Background(), gwID, "GATEWAY_reversed", "reversed", time.Now())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitMarksIneligibleVendorFailed(t *testing.T) {
	svc, mock := newPayoutServiceForTest(t, "http://gateway.invalid")
	payoutID := uuid.New()

	mock.ExpectQuery(`SELECT \* FROM vendor_profiles WHERE vendor_id`).
		WithArgs("v1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE payout_transactions SET status`).
		WithArgs(models.PayoutStatusFailed, "VENDOR_INELIGIBLE", sqlmock.AnyArg(), payoutID, models.PayoutStatusInit).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO outbox_events`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	payout := &models.PayoutTransaction{
		ID:          payoutID,
		VendorID:    "v1",
		GrossAmount: decimal.NewFromInt(400),
		NetAmount:   decimal.RequireFromString("360.00"),
		Currency:    "INR",
		Status:      models.PayoutStatusInit,
	}
	err := svc.submit(context.Background(), payout)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitRetriesTransientGatewayFailure(t *testing.T) {
	// gateway returns 503 twice, then accepts the payout
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"pout_X","status":"processing"}`))
	}))
	defer server.Close()

	svc, mock := newPayoutServiceForTest(t, server.URL)
	payoutID := uuid.New()

	mock.ExpectQuery(`SELECT \* FROM vendor_profiles WHERE vendor_id`).
		WithArgs("v1").
		WillReturnRows(vendorRows("v1"))
	mock.ExpectExec(`UPDATE payout_transactions SET`).
		WithArgs(models.PayoutStatusPending, "pout_X", payoutID, models.PayoutStatusInit).
		WillReturnResult(sqlmock.NewResult(0, 1))

	payout := &models.PayoutTransaction{
		ID:          payoutID,
		VendorID:    "v1",
		GrossAmount: decimal.NewFromInt(400),
		NetAmount:   decimal.RequireFromString("360.00"),
		Currency:    "INR",
		Status:      models.PayoutStatusInit,
	}
	err := svc.submit(context.Background(), payout)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func vendorRows(vendorID string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "vendor_id", "name", "email", "phone",
		"bank_account_number", "ifsc", "account_holder_name",
		"commission_rate", "active", "verified", "created_at", "updated_at",
	}).AddRow(
		uuid.New(), vendorID, "Heritage Hunts Pvt Ltd", "ops@heritagehunts.in", "9876501234",
		"50100123456789", "HDFC0001234", "Heritage Hunts Pvt Ltd",
		decimal.NewFromInt(10), true, true, now, now,
	)
}
