package model

import (
	"time"

	"github.com/google/uuid"
)

// IdempotencyRecord maps a client request key to the outcome of an accepted write.
type IdempotencyRecord struct {
	RequestKey    string
	RequestHash   string
	ResultID      uuid.UUID
	ResultVersion int64
	// Snapshot is the JSON encoded product returned by the original request.
	Snapshot  []byte
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the record may be treated as absent at now.
func (r *IdempotencyRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
