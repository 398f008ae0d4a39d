package model

import (
	"time"

	"github.com/google/uuid"
)

// AggregateTypeProduct names the aggregate type used for topics and outbox rows.
const AggregateTypeProduct = "product"

// OutboxState is the delivery state of an outbox entry.
type OutboxState string

const (
	// OutboxStatePending marks an entry waiting for publication or retry.
	OutboxStatePending OutboxState = "PENDING"
	// OutboxStatePublished marks an acknowledged entry; it is never retried.
	OutboxStatePublished OutboxState = "PUBLISHED"
	// OutboxStateFailed marks an entry that exhausted its attempts or could not be decoded.
	OutboxStateFailed OutboxState = "FAILED"
)

// OutboxEntry represents an outbox event for reliable message delivery.
type OutboxEntry struct {
	SequenceID    int64       `json:"sequence_id"`
	AggregateID   uuid.UUID   `json:"aggregate_id"`
	AggregateType string      `json:"aggregate_type"`
	EventType     EventType   `json:"event_type"`
	Payload       []byte      `json:"payload"`
	State         OutboxState `json:"state"`
	Attempts      int         `json:"attempts"`
	LastError     string      `json:"last_error,omitempty"`
	NextAttemptAt time.Time   `json:"next_attempt_at"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	PublishedAt   *time.Time  `json:"published_at,omitempty"`
}

// CreateOutboxEntryParams represents parameters for creating a new outbox entry.
type CreateOutboxEntryParams struct {
	SequenceID    int64
	AggregateID   uuid.UUID
	AggregateType string
	EventType     EventType
	Payload       []byte
}

// OutboxFailure describes a failed publish attempt to persist.
type OutboxFailure struct {
	SequenceID    int64
	Error         string
	MaxAttempts   int
	NextAttemptAt time.Time
	// Terminal forces the FAILED state regardless of the attempt count.
	Terminal bool
}

// OutboxStats summarizes the outbox backlog for health probes and alerting.
type OutboxStats struct {
	PendingCount     int64         `json:"pending_count"`
	FailedCount      int64         `json:"failed_count"`
	OldestPendingAge time.Duration `json:"oldest_pending_age"`
}
