package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType represents the kind of lifecycle change an event announces.
type EventType string

const (
	// EventTypeCreated announces a new product.
	EventTypeCreated EventType = "CREATED"
	// EventTypeUpdated announces a changed product.
	EventTypeUpdated EventType = "UPDATED"
	// EventTypeDeleted announces a deleted product.
	EventTypeDeleted EventType = "DELETED"
)

// IsValid reports whether t is a known event type.
func (t EventType) IsValid() bool {
	switch t {
	case EventTypeCreated, EventTypeUpdated, EventTypeDeleted:
		return true
	default:
		return false
	}
}

// ProductSnapshot is the entity state carried by every product event.
type ProductSnapshot struct {
	ID          uuid.UUID       `json:"id"`
	Version     int64           `json:"version"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int64           `json:"stock"`
	Status      ProductStatus   `json:"status"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// SnapshotOf captures the event-visible state of a product.
func SnapshotOf(p *Product) ProductSnapshot {
	return ProductSnapshot{
		ID:          p.ID,
		Version:     p.Version,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price,
		Stock:       p.Stock,
		Status:      p.Status,
		UpdatedAt:   p.UpdatedAt,
	}
}

// Event is a domain event before envelope encoding.
type Event struct {
	EventType     EventType
	AggregateType string
	AggregateID   uuid.UUID
	SequenceID    int64
	OccurredAt    time.Time
	Payload       ProductSnapshot
}

// NewProductEvent builds the event for a committed product state.
func NewProductEvent(eventType EventType, sequenceID int64, p *Product) Event {
	return Event{
		EventType:     eventType,
		AggregateType: AggregateTypeProduct,
		AggregateID:   p.ID,
		SequenceID:    sequenceID,
		OccurredAt:    p.UpdatedAt,
		Payload:       SnapshotOf(p),
	}
}
