package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/treasuretrails/payments-backend/internal/models"
)

// OutboxRepository handles staged event rows. Staging always happens in
// the same transaction as the state change the event describes.
type OutboxRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewOutboxRepository creates a new outbox repository
func NewOutboxRepository(db *sqlx.DB, logger *logrus.Logger) *OutboxRepository {
	return &OutboxRepository{
		db:     db,
		logger: logger,
	}
}

// StageTx inserts a PENDING event inside the caller's transaction
func (r *OutboxRepository) StageTx(ctx context.Context, tx *sqlx.Tx, event *models.OutboxEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	event.Status = models.OutboxStatusPending

	query := `
		INSERT INTO outbox_events (
			id, aggregate_type, aggregate_id, event_type, payload,
			status, retry_count, correlation_id, causation_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9)`

	_, err := tx.ExecContext(ctx, query,
		event.ID, event.AggregateType, event.AggregateID, event.EventType, event.Payload,
		event.Status, event.CorrelationID, event.CausationID, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to stage outbox event: %w", err)
	}
	return nil
}

// ClaimBatch atomically moves due PENDING events to PROCESSING and
// returns them. FOR UPDATE SKIP LOCKED keeps concurrent dispatchers from
// claiming the same rows.
func (r *OutboxRepository) ClaimBatch(ctx context.Context, batchSize int) ([]*models.OutboxEvent, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	var events []*models.OutboxEvent
	query := `
		SELECT * FROM outbox_events
		WHERE status = $1
		AND (next_retry_at IS NULL OR next_retry_at <= NOW())
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED`

	if err := tx.SelectContext(ctx, &events, query, models.OutboxStatusPending, batchSize); err != nil {
		return nil, fmt.Errorf("failed to select pending events: %w", err)
	}
	if len(events) == 0 {
		return nil, tx.Commit()
	}

	ids := make([]uuid.UUID, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}

	updateQuery, args, err := sqlx.In(
		`UPDATE outbox_events SET status = ?, processing_started_at = NOW() WHERE id IN (?)`,
		models.OutboxStatusProcessing, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build claim update: %w", err)
	}
	updateQuery = tx.Rebind(updateQuery)
	if _, err := tx.ExecContext(ctx, updateQuery, args...); err != nil {
		return nil, fmt.Errorf("failed to mark events processing: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	for _, e := range events {
		e.Status = models.OutboxStatusProcessing
	}
	return events, nil
}

// MarkPublished finalizes a delivered event with its bus coordinates
func (r *OutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID, partition string, offset int64) error {
	query := `
		UPDATE outbox_events SET
			status = $1, published_at = NOW(),
			bus_partition = $2, bus_offset = $3,
			last_error = NULL
		WHERE id = $4`

	_, err := r.db.ExecContext(ctx, query, models.OutboxStatusPublished, partition, offset, id)
	if err != nil {
		return fmt.Errorf("failed to mark event published: %w", err)
	}
	return nil
}

// ScheduleRetry returns a failed publish to PENDING with exponential
// backoff: 2^retryCount minutes, capped at maxBackoff.
func (r *OutboxRepository) ScheduleRetry(ctx context.Context, id uuid.UUID, retryCount int, maxBackoff time.Duration, lastError string) error {
	backoff := time.Duration(1<<uint(retryCount)) * time.Minute
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	nextRetry := time.Now().Add(backoff)

	query := `
		UPDATE outbox_events SET
			status = $1, retry_count = $2, next_retry_at = $3, last_error = $4
		WHERE id = $5`

	_, err := r.db.ExecContext(ctx, query,
		models.OutboxStatusPending, retryCount, nextRetry, lastError, id)
	if err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"event_id":    id,
		"retry_count": retryCount,
		"next_retry":  nextRetry,
	}).Warn("Outbox event scheduled for retry")

	return nil
}

// MarkFailed parks an event after exhausting its attempts
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	query := `UPDATE outbox_events SET status = $1, last_error = $2 WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, models.OutboxStatusFailed, lastError, id)
	if err != nil {
		return fmt.Errorf("failed to mark event failed: %w", err)
	}
	r.logger.WithFields(logrus.Fields{
		"event_id": id,
		"error":    lastError,
	}).Error("Outbox event permanently failed")
	return nil
}

// ReleaseStuck returns PROCESSING rows to PENDING after a dispatcher
// crash. Anything processing longer than the cutoff was abandoned.
func (r *OutboxRepository) ReleaseStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		UPDATE outbox_events SET status = $1, processing_started_at = NULL
		WHERE status = $2 AND processing_started_at < NOW() - $3::interval`

	interval := fmt.Sprintf("%d seconds", int(olderThan.Seconds()))
	result, err := r.db.ExecContext(ctx, query,
		models.OutboxStatusPending, models.OutboxStatusProcessing, interval)
	if err != nil {
		return 0, fmt.Errorf("failed to release stuck events: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}

// SweepPublished deletes PUBLISHED rows older than the retention window
func (r *OutboxRepository) SweepPublished(ctx context.Context, retention time.Duration) (int64, error) {
	query := `
		DELETE FROM outbox_events
		WHERE status = $1 AND published_at < NOW() - $2::interval`

	interval := fmt.Sprintf("%d seconds", int(retention.Seconds()))
	result, err := r.db.ExecContext(ctx, query, models.OutboxStatusPublished, interval)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep published events: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows > 0 {
		r.logger.WithField("deleted", rows).Info("Swept published outbox events")
	}
	return rows, nil
}

// CountByStatus reports queue depth for metrics
func (r *OutboxRepository) CountByStatus(ctx context.Context, status models.OutboxStatus) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM outbox_events WHERE status = $1`, status)
	if err != nil {
		return 0, fmt.Errorf("failed to count outbox events: %w", err)
	}
	return count, nil
}
