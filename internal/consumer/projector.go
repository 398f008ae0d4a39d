// Package consumer reads product events from the broker and maintains a read-side projection.
//
// Delivery is at-least-once, so every event is deduplicated on (aggregateId, sequenceId)
// before it is applied, and events carrying an older product version than the projection
// holds are ignored.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/jnst/product-lifecycle-service/internal/codec"
	"github.com/jnst/product-lifecycle-service/internal/model"
)

// Deduper remembers which events were already handled.
type Deduper interface {
	// FirstSeen marks the event as seen and reports whether it was new.
	FirstSeen(ctx context.Context, aggregateID uuid.UUID, sequenceID int64) (bool, error)
}

// Projector applies product events to an in-memory read model.
type Projector struct {
	dedupe Deduper

	mu       sync.RWMutex
	products map[uuid.UUID]model.ProductSnapshot
}

// NewProjector creates a projector using dedupe.
func NewProjector(dedupe Deduper) *Projector {
	return &Projector{dedupe: dedupe, products: make(map[uuid.UUID]model.ProductSnapshot)}
}

// Handle decodes and applies one envelope. Envelopes that can never be decoded return an
// error matching IsPoison so the source can drop them.
func (p *Projector) Handle(ctx context.Context, payload []byte) error {
	event, err := codec.Decode(payload)
	if err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}

	first, err := p.dedupe.FirstSeen(ctx, event.AggregateID, event.SequenceID)
	if err != nil {
		return fmt.Errorf("dedupe %s/%d: %w", event.AggregateID, event.SequenceID, err)
	}

	if !first {
		slog.DebugContext(ctx, "duplicate event skipped",
			slog.String("aggregate_id", event.AggregateID.String()),
			slog.Int64("sequence_id", event.SequenceID),
		)

		return nil
	}

	applied := p.apply(event)

	slog.InfoContext(ctx, "product event received",
		slog.String("event_type", string(event.EventType)),
		slog.String("aggregate_id", event.AggregateID.String()),
		slog.Int64("sequence_id", event.SequenceID),
		slog.Int64("version", event.Payload.Version),
		slog.Bool("applied", applied),
	)

	return nil
}

func (p *Projector) apply(event model.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if current, ok := p.products[event.AggregateID]; ok && current.Version >= event.Payload.Version {
		return false
	}

	p.products[event.AggregateID] = event.Payload

	return true
}

// Product returns the projected state of id.
func (p *Projector) Product(id uuid.UUID) (model.ProductSnapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snapshot, ok := p.products[id]

	return snapshot, ok
}

// IsPoison reports whether err means the message can never be handled.
func IsPoison(err error) bool {
	return errors.Is(err, model.ErrDecode) || errors.Is(err, model.ErrUnsupportedSchema)
}

type eventKey struct {
	aggregateID uuid.UUID
	sequenceID  int64
}

// MemoryDeduper keeps seen events in process memory.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[eventKey]struct{}
}

// NewMemoryDeduper creates an empty deduper.
func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[eventKey]struct{})}
}

// FirstSeen implements Deduper.
func (d *MemoryDeduper) FirstSeen(_ context.Context, aggregateID uuid.UUID, sequenceID int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	k := eventKey{aggregateID: aggregateID, sequenceID: sequenceID}
	if _, ok := d.seen[k]; ok {
		return false, nil
	}

	d.seen[k] = struct{}{}

	return true, nil
}
