// Package codec encodes product events into the versioned envelope published to the broker.
//
// Encoding is deterministic: the same logical event always produces byte-identical output,
// so payloads can be content-hashed and used as fixtures. Decoding is strict and rejects
// unknown schema versions instead of parsing them best-effort.
package codec

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jnst/product-lifecycle-service/internal/model"
)

// SchemaVersion is the envelope version written by this producer.
const SchemaVersion = 1

type envelope struct {
	SchemaVersion int             `json:"schemaVersion"`
	EventType     string          `json:"eventType"`
	AggregateType string          `json:"aggregateType"`
	AggregateID   string          `json:"aggregateId"`
	SequenceID    int64           `json:"sequenceId"`
	OccurredAt    string          `json:"occurredAt"`
	Payload       json.RawMessage `json:"payload"`
}

type productPayload struct {
	ID          string `json:"id"`
	Version     int64  `json:"version"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       string `json:"price"`
	Stock       int64  `json:"stock"`
	Status      string `json:"status"`
	UpdatedAt   string `json:"updatedAt"`
}

type versionProbe struct {
	SchemaVersion *int `json:"schemaVersion"`
}

// Encode serializes event into envelope bytes.
func Encode(event model.Event) ([]byte, error) {
	if !event.EventType.IsValid() {
		return nil, fmt.Errorf("encode envelope: unknown event type %q", event.EventType)
	}

	payload, err := json.Marshal(productPayload{
		ID:          event.Payload.ID.String(),
		Version:     event.Payload.Version,
		Name:        event.Payload.Name,
		Description: event.Payload.Description,
		Price:       event.Payload.Price.String(),
		Stock:       event.Payload.Stock,
		Status:      string(event.Payload.Status),
		UpdatedAt:   formatTime(event.Payload.UpdatedAt),
	})
	if err != nil {
		return nil, fmt.Errorf("encode envelope payload: %w", err)
	}

	data, err := json.Marshal(envelope{
		SchemaVersion: SchemaVersion,
		EventType:     string(event.EventType),
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID.String(),
		SequenceID:    event.SequenceID,
		OccurredAt:    formatTime(event.OccurredAt),
		Payload:       payload,
	})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}

	return data, nil
}

// Decode parses envelope bytes. Unknown schema versions fail with *model.UnsupportedSchemaError,
// malformed input with *model.DecodeError.
func Decode(data []byte) (model.Event, error) {
	var probe versionProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return model.Event{}, &model.DecodeError{Reason: "invalid json", Err: err}
	}

	if probe.SchemaVersion == nil {
		return model.Event{}, &model.DecodeError{Reason: "missing schemaVersion"}
	}

	if *probe.SchemaVersion != SchemaVersion {
		return model.Event{}, &model.UnsupportedSchemaError{Version: *probe.SchemaVersion}
	}

	var env envelope
	if err := strictUnmarshal(data, &env); err != nil {
		return model.Event{}, &model.DecodeError{Reason: "invalid envelope", Err: err}
	}

	eventType := model.EventType(env.EventType)
	if !eventType.IsValid() {
		return model.Event{}, &model.DecodeError{Reason: fmt.Sprintf("unknown eventType %q", env.EventType)}
	}

	if env.AggregateType == "" {
		return model.Event{}, &model.DecodeError{Reason: "missing aggregateType"}
	}

	aggregateID, err := uuid.Parse(env.AggregateID)
	if err != nil {
		return model.Event{}, &model.DecodeError{Reason: "invalid aggregateId", Err: err}
	}

	if env.SequenceID <= 0 {
		return model.Event{}, &model.DecodeError{Reason: "sequenceId must be positive"}
	}

	occurredAt, err := parseTime(env.OccurredAt)
	if err != nil {
		return model.Event{}, &model.DecodeError{Reason: "invalid occurredAt", Err: err}
	}

	if len(env.Payload) == 0 {
		return model.Event{}, &model.DecodeError{Reason: "missing payload"}
	}

	snapshot, err := decodePayload(env.Payload)
	if err != nil {
		return model.Event{}, err
	}

	return model.Event{
		EventType:     eventType,
		AggregateType: env.AggregateType,
		AggregateID:   aggregateID,
		SequenceID:    env.SequenceID,
		OccurredAt:    occurredAt,
		Payload:       snapshot,
	}, nil
}

// ContentHash returns the hex SHA-256 of encoded envelope bytes.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)

	return hex.EncodeToString(sum[:])
}

func decodePayload(raw json.RawMessage) (model.ProductSnapshot, error) {
	var p productPayload
	if err := strictUnmarshal(raw, &p); err != nil {
		return model.ProductSnapshot{}, &model.DecodeError{Reason: "invalid payload", Err: err}
	}

	id, err := uuid.Parse(p.ID)
	if err != nil {
		return model.ProductSnapshot{}, &model.DecodeError{Reason: "invalid payload id", Err: err}
	}

	price, err := decimal.NewFromString(p.Price)
	if err != nil {
		return model.ProductSnapshot{}, &model.DecodeError{Reason: "invalid payload price", Err: err}
	}

	status := model.ProductStatus(p.Status)
	if !status.IsValid() {
		return model.ProductSnapshot{}, &model.DecodeError{Reason: fmt.Sprintf("unknown payload status %q", p.Status)}
	}

	updatedAt, err := parseTime(p.UpdatedAt)
	if err != nil {
		return model.ProductSnapshot{}, &model.DecodeError{Reason: "invalid payload updatedAt", Err: err}
	}

	return model.ProductSnapshot{
		ID:          id,
		Version:     p.Version,
		Name:        p.Name,
		Description: p.Description,
		Price:       price,
		Stock:       p.Stock,
		Status:      status,
		UpdatedAt:   updatedAt,
	}, nil
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		return err
	}

	if dec.More() {
		return fmt.Errorf("trailing data after json value")
	}

	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}

	return t.UTC(), nil
}
