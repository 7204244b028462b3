package models

import (
	"time"

	"github.com/google/uuid"
)

// UserAuditEventType represents the type of identity event being audited
type UserAuditEventType string

const (
	UserAuditCreated          UserAuditEventType = "USER_CREATED"
	UserAuditUpdated          UserAuditEventType = "USER_UPDATED"
	UserAuditArchived         UserAuditEventType = "USER_ARCHIVED"
	UserAuditReactivated      UserAuditEventType = "USER_REACTIVATED"
	UserAuditAnonymized       UserAuditEventType = "USER_ANONYMIZED"
	UserAuditPIIRead          UserAuditEventType = "PII_READ"
	UserAuditPIIReadRedacted  UserAuditEventType = "PII_READ_REDACTED"
	UserAuditAddressAdded     UserAuditEventType = "ADDRESS_ADDED"
	UserAuditAddressUpdated   UserAuditEventType = "ADDRESS_UPDATED"
	UserAuditAddressDeleted   UserAuditEventType = "ADDRESS_DELETED"
	UserAuditPrimaryChanged   UserAuditEventType = "PRIMARY_ADDRESS_CHANGED"
	UserAuditConsentGranted   UserAuditEventType = "CONSENT_GRANTED"
	UserAuditConsentWithdrawn UserAuditEventType = "CONSENT_WITHDRAWN"
	UserAuditDataExported     UserAuditEventType = "DATA_EXPORTED"
	UserAuditAccessDenied     UserAuditEventType = "ACCESS_DENIED"
)

// UserAudit is an append-only audit log entry for identity events.
// Rows are immutable after insert.
type UserAudit struct {
	ID            uuid.UUID          `json:"id" db:"id"`
	UserID        *uuid.UUID         `json:"user_id,omitempty" db:"user_id"`
	EventType     UserAuditEventType `json:"event_type" db:"event_type"`
	Detail        JSONB              `json:"detail,omitempty" db:"detail"`
	ActorID       *string            `json:"actor_id,omitempty" db:"actor_id"`
	ActorRole     *string            `json:"actor_role,omitempty" db:"actor_role"`
	CorrelationID *string            `json:"correlation_id,omitempty" db:"correlation_id"`
	SessionID     *string            `json:"session_id,omitempty" db:"session_id"`
	IPAddress     *string            `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent     *string            `json:"user_agent,omitempty" db:"user_agent"`
	CreatedAt     time.Time          `json:"created_at" db:"created_at"`
}

// NewUserAudit creates a new audit entry with required fields
func NewUserAudit(eventType UserAuditEventType) *UserAudit {
	return &UserAudit{
		ID:        uuid.New(),
		EventType: eventType,
		CreatedAt: time.Now(),
	}
}

// SetUser sets the subject user
func (ua *UserAudit) SetUser(userID uuid.UUID) *UserAudit {
	ua.UserID = &userID
	return ua
}

// SetActor records who performed the action
func (ua *UserAudit) SetActor(actorID, actorRole string) *UserAudit {
	if actorID != "" {
		ua.ActorID = &actorID
	}
	if actorRole != "" {
		ua.ActorRole = &actorRole
	}
	return ua
}

// SetDetail attaches the JSON detail map
func (ua *UserAudit) SetDetail(detail map[string]interface{}) *UserAudit {
	ua.Detail = JSONB(detail)
	return ua
}

// SetMetadata records request metadata
func (ua *UserAudit) SetMetadata(correlationID, sessionID, ip, userAgent string) *UserAudit {
	if correlationID != "" {
		ua.CorrelationID = &correlationID
	}
	if sessionID != "" {
		ua.SessionID = &sessionID
	}
	if ip != "" {
		ua.IPAddress = &ip
	}
	if userAgent != "" {
		ua.UserAgent = &userAgent
	}
	return ua
}
