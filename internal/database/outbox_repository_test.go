package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treasuretrails/payments-backend/internal/models"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestStageTx(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutboxRepository(db, testLogger())

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO outbox_events`).
		WithArgs(sqlmock.AnyArg(), models.AggregatePayment, "pay-1", models.EventPaymentSucceeded,
			sqlmock.AnyArg(), models.OutboxStatusPending, sqlmock.AnyArg(), nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)

	correlationID := "corr-1"
	event := &models.OutboxEvent{
		AggregateType: models.AggregatePayment,
		AggregateID:   "pay-1",
		EventType:     models.EventPaymentSucceeded,
		Payload:       models.JSONB{"amount": "100.00"},
		CorrelationID: &correlationID,
	}
	require.NoError(t, repo.StageTx(context.Background(), tx, event))
	require.NoError(t, tx.Commit())

	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.Equal(t, models.OutboxStatusPending, event.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimBatch(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutboxRepository(db, testLogger())

	t.Run("Claims Pending Events", func(t *testing.T) {
		eventID := uuid.New()
		now := time.Now()

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT \* FROM outbox_events`).
			WithArgs(models.OutboxStatusPending, 10).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "aggregate_type", "aggregate_id", "event_type", "payload",
				"status", "retry_count", "created_at",
			}).AddRow(
				eventID, models.AggregatePayment, "pay-1", models.EventPaymentSucceeded, []byte(`{}`),
				models.OutboxStatusPending, 0, now,
			))
		mock.ExpectExec(`UPDATE outbox_events SET status`).
			WithArgs(models.OutboxStatusProcessing, eventID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		events, err := repo.ClaimBatch(context.Background(), 10)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, eventID, events[0].ID)
		assert.Equal(t, models.OutboxStatusProcessing, events[0].Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Empty Backlog", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT \* FROM outbox_events`).
			WithArgs(models.OutboxStatusPending, 10).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectCommit()

		events, err := repo.ClaimBatch(context.Background(), 10)
		require.NoError(t, err)
		assert.Empty(t, events)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestScheduleRetry(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutboxRepository(db, testLogger())
	eventID := uuid.New()

	mock.ExpectExec(`UPDATE outbox_events`).
		WithArgs(models.OutboxStatusPending, 2, sqlmock.AnyArg(), "publish failed", eventID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.ScheduleRetry(context.Background(), eventID, 2, time.Hour, "publish failed")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkPublished(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutboxRepository(db, testLogger())
	eventID := uuid.New()

	mock.ExpectExec(`UPDATE outbox_events`).
		WithArgs(models.OutboxStatusPublished, "pay-1", int64(42), eventID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkPublished(context.Background(), eventID, "pay-1", 42)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFailed(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutboxRepository(db, testLogger())
	eventID := uuid.New()

	mock.ExpectExec(`UPDATE outbox_events`).
		WithArgs(models.OutboxStatusFailed, "max attempts exceeded", eventID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkFailed(context.Background(), eventID, "max attempts exceeded")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepPublished(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutboxRepository(db, testLogger())

	mock.ExpectExec(`DELETE FROM outbox_events`).
		WithArgs(models.OutboxStatusPublished, fmt.Sprintf("%d seconds", 7*24*3600)).
		WillReturnResult(sqlmock.NewResult(0, 17))

	deleted, err := repo.SweepPublished(context.Background(), 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(17), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
