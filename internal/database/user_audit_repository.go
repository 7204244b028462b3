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

// UserAuditRepository handles identity audit operations
type UserAuditRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewUserAuditRepository creates a new user audit repository
func NewUserAuditRepository(db *sqlx.DB, logger *logrus.Logger) *UserAuditRepository {
	return &UserAuditRepository{
		db:     db,
		logger: logger,
	}
}

// Log creates a new identity audit entry
// This should NEVER fail silently - identity events must be logged
func (r *UserAuditRepository) Log(ctx context.Context, audit *models.UserAudit) error {
	if audit == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}
	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO user_audits (
			id, user_id, event_type, detail,
			actor_id, actor_role,
			correlation_id, session_id, ip_address, user_agent,
			created_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6,
			$7, $8, $9, $10,
			$11
		)`

	_, err := r.db.ExecContext(ctx, query,
		audit.ID, audit.UserID, audit.EventType, audit.Detail,
		audit.ActorID, audit.ActorRole,
		audit.CorrelationID, audit.SessionID, audit.IPAddress, audit.UserAgent,
		audit.CreatedAt,
	)
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"event_type": audit.EventType,
			"user_id":    audit.UserID,
		}).Error("CRITICAL: Failed to log user audit - THIS SHOULD NEVER HAPPEN")
		return fmt.Errorf("failed to log user audit: %w", err)
	}

	return nil
}

// GetByUserID retrieves audit entries for a user, newest first
func (r *UserAuditRepository) GetByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]*models.UserAudit, error) {
	var audits []*models.UserAudit
	query := `
		SELECT * FROM user_audits
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	if err := r.db.SelectContext(ctx, &audits, query, userID, limit); err != nil {
		return nil, fmt.Errorf("failed to get audits by user ID: %w", err)
	}
	return audits, nil
}

// GetRecentByEventType retrieves recent events of a specific type
func (r *UserAuditRepository) GetRecentByEventType(ctx context.Context, eventType models.UserAuditEventType, hours int, limit int) ([]*models.UserAudit, error) {
	var audits []*models.UserAudit
	query := `
		SELECT * FROM user_audits
		WHERE event_type = $1
		AND created_at > NOW() - INTERVAL '1 hour' * $2
		ORDER BY created_at DESC
		LIMIT $3`

	if err := r.db.SelectContext(ctx, &audits, query, eventType, hours, limit); err != nil {
		return nil, fmt.Errorf("failed to get recent events: %w", err)
	}
	return audits, nil
}
