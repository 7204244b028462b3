package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treasuretrails/payments-backend/internal/config"
	"github.com/treasuretrails/payments-backend/internal/database"
	"github.com/treasuretrails/payments-backend/internal/models"
)

type fakePublisher struct {
	published []*models.EventEnvelope
	keys      []string
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, env *models.EventEnvelope, partitionKey string) (string, int64, error) {
	if f.err != nil {
		return "", 0, f.err
	}
	f.published = append(f.published, env)
	f.keys = append(f.keys, partitionKey)
	return "payment-events", int64(len(f.published)), nil
}

func newDispatcherForTest(t *testing.T, publisher EventPublisher) (*OutboxDispatcher, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	repo := database.NewOutboxRepository(sqlx.NewDb(mockDB, "postgres"), logger)
	cfg := config.OutboxConfig{
		PollInterval:  30 * time.Second,
		BatchSize:     100,
		MaxAttempts:   3,
		RetentionDays: 7,
	}
	return NewOutboxDispatcher(repo, publisher, cfg, logger), mock
}

func pendingEvent() *models.OutboxEvent {
	return &models.OutboxEvent{
		ID:            uuid.New(),
		AggregateType: models.AggregateInvoice,
		AggregateID:   "inv-1",
		EventType:     models.EventPaymentSucceeded,
		Payload:       models.JSONB{"invoiceId": "inv-1"},
		Status:        models.OutboxStatusProcessing,
		CreatedAt:     time.Now(),
	}
}

func TestDispatchPublishesAndMarksPublished(t *testing.T) {
	publisher := &fakePublisher{}
	dispatcher, mock := newDispatcherForTest(t, publisher)
	event := pendingEvent()

	mock.ExpectExec(`UPDATE outbox_events`).
		WithArgs(models.OutboxStatusPublished, "payment-events", int64(1), event.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := dispatcher.dispatch(context.Background(), event)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, publisher.published, 1)
	env := publisher.published[0]
	assert.Equal(t, event.ID.String(), env.EventID)
	assert.Equal(t, models.EventPaymentSucceeded, env.EventType)
	assert.Equal(t, "inv-1", publisher.keys[0])
	assert.NotEmpty(t, env.CorrelationID)
}

func TestDispatchSchedulesRetryOnPublishFailure(t *testing.T) {
	publisher := &fakePublisher{err: errors.New("bus unavailable")}
	dispatcher, mock := newDispatcherForTest(t, publisher)
	event := pendingEvent()

	mock.ExpectExec(`UPDATE outbox_events`).
		WithArgs(models.OutboxStatusPending, 1, sqlmock.AnyArg(), "bus unavailable", event.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := dispatcher.dispatch(context.Background(), event)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatchParksEventAfterMaxAttempts(t *testing.T) {
	publisher := &fakePublisher{err: errors.New("bus unavailable")}
	dispatcher, mock := newDispatcherForTest(t, publisher)
	event := pendingEvent()
	event.RetryCount = 2 // next failure is attempt 3 of 3

	mock.ExpectExec(`UPDATE outbox_events`).
		WithArgs(models.OutboxStatusFailed, "bus unavailable", event.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := dispatcher.dispatch(context.Background(), event)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatchParksUnmarshalablePayload(t *testing.T) {
	publisher := &fakePublisher{}
	dispatcher, mock := newDispatcherForTest(t, publisher)
	event := pendingEvent()
	event.Payload = models.JSONB{"bad": func() {}}

	mock.ExpectExec(`UPDATE outbox_events`).
		WithArgs(models.OutboxStatusFailed, sqlmock.AnyArg(), event.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := dispatcher.dispatch(context.Background(), event)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Empty(t, publisher.published)
}

func TestSweepUsesRetentionWindow(t *testing.T) {
	publisher := &fakePublisher{}
	dispatcher, mock := newDispatcherForTest(t, publisher)

	mock.ExpectExec(`DELETE FROM outbox_events`).
		WithArgs(models.OutboxStatusPublished, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 5))

	deleted, err := dispatcher.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
