package models

import (
	"time"

	"github.com/google/uuid"
)

// OutboxStatus is the dispatcher-owned state of a staged event
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "PENDING"
	OutboxStatusProcessing OutboxStatus = "PROCESSING"
	OutboxStatusPublished  OutboxStatus = "PUBLISHED"
	OutboxStatusFailed     OutboxStatus = "FAILED"
)

// OutboxEvent is staged in the same transaction as the state change it
// describes and published later by the dispatcher.
type OutboxEvent struct {
	ID                  uuid.UUID    `json:"id" db:"id"`
	AggregateType       string       `json:"aggregate_type" db:"aggregate_type"`
	AggregateID         string       `json:"aggregate_id" db:"aggregate_id"`
	EventType           string       `json:"event_type" db:"event_type"`
	Payload             JSONB        `json:"payload" db:"payload"`
	Status              OutboxStatus `json:"status" db:"status"`
	RetryCount          int          `json:"retry_count" db:"retry_count"`
	NextRetryAt         *time.Time   `json:"next_retry_at,omitempty" db:"next_retry_at"`
	LastError           *string      `json:"last_error,omitempty" db:"last_error"`
	CorrelationID       *string      `json:"correlation_id,omitempty" db:"correlation_id"`
	CausationID         *string      `json:"causation_id,omitempty" db:"causation_id"`
	ProcessingStartedAt *time.Time   `json:"processing_started_at,omitempty" db:"processing_started_at"`
	CreatedAt           time.Time    `json:"created_at" db:"created_at"`
	PublishedAt         *time.Time   `json:"published_at,omitempty" db:"published_at"`
	BusPartition        *string      `json:"bus_partition,omitempty" db:"bus_partition"`
	BusOffset           *int64       `json:"bus_offset,omitempty" db:"bus_offset"`
}

// PartitionKey is the bus partition key: aggregate id, falling back to
// the event id so ordering is still stable for keyless events.
func (e *OutboxEvent) PartitionKey() string {
	if e.AggregateID != "" {
		return e.AggregateID
	}
	return e.ID.String()
}
