package codec

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/jnst/product-lifecycle-service/internal/model"
)

func sampleEvent() model.Event {
	id := uuid.MustParse("7d1b7f64-2f0e-4a57-9a43-4c1f0d1f9b10")
	at := time.Date(2024, 3, 1, 12, 30, 0, 123456000, time.UTC)

	return model.Event{
		EventType:     model.EventTypeCreated,
		AggregateType: model.AggregateTypeProduct,
		AggregateID:   id,
		SequenceID:    1,
		OccurredAt:    at,
		Payload: model.ProductSnapshot{
			ID:        id,
			Version:   0,
			Name:      "Widget",
			Price:     decimal.RequireFromString("9.99"),
			Stock:     10,
			Status:    model.ProductStatusActive,
			UpdatedAt: at,
		},
	}
}

func requireEventEqual(t require.TestingT, want, got model.Event) {
	require.Equal(t, want.EventType, got.EventType)
	require.Equal(t, want.AggregateType, got.AggregateType)
	require.Equal(t, want.AggregateID, got.AggregateID)
	require.Equal(t, want.SequenceID, got.SequenceID)
	require.True(t, want.OccurredAt.Equal(got.OccurredAt), "occurredAt %s != %s", want.OccurredAt, got.OccurredAt)
	require.Equal(t, want.Payload.ID, got.Payload.ID)
	require.Equal(t, want.Payload.Version, got.Payload.Version)
	require.Equal(t, want.Payload.Name, got.Payload.Name)
	require.Equal(t, want.Payload.Description, got.Payload.Description)
	require.True(t, want.Payload.Price.Equal(got.Payload.Price), "price %s != %s", want.Payload.Price, got.Payload.Price)
	require.Equal(t, want.Payload.Stock, got.Payload.Stock)
	require.Equal(t, want.Payload.Status, got.Payload.Status)
	require.True(t, want.Payload.UpdatedAt.Equal(got.Payload.UpdatedAt))
}

func TestEncode_GoldenBytes(t *testing.T) {
	data, err := Encode(sampleEvent())
	require.NoError(t, err)

	want := `{"schemaVersion":1,"eventType":"CREATED","aggregateType":"product",` +
		`"aggregateId":"7d1b7f64-2f0e-4a57-9a43-4c1f0d1f9b10","sequenceId":1,` +
		`"occurredAt":"2024-03-01T12:30:00.123456Z","payload":{"id":"7d1b7f64-2f0e-4a57-9a43-4c1f0d1f9b10",` +
		`"version":0,"name":"Widget","description":"","price":"9.99","stock":10,"status":"ACTIVE",` +
		`"updatedAt":"2024-03-01T12:30:00.123456Z"}}`
	assert.JSONEq(t, want, string(data))
	assert.Equal(t, want, string(data))
}

func TestEncode_IsDeterministic(t *testing.T) {
	event := sampleEvent()

	first, err := Encode(event)
	require.NoError(t, err)

	// Same instant in another zone and an equal decimal with a different exponent.
	event.OccurredAt = event.OccurredAt.In(time.FixedZone("UTC+9", 9*3600))
	event.Payload.Price = decimal.New(9990, -3)

	second, err := Encode(event)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, ContentHash(first), ContentHash(second))
}

func TestEncode_RejectsUnknownEventType(t *testing.T) {
	event := sampleEvent()
	event.EventType = "ARCHIVED"

	_, err := Encode(event)
	require.Error(t, err)
}

func TestDecode_UnsupportedSchemaVersion(t *testing.T) {
	data, err := Encode(sampleEvent())
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	raw["schemaVersion"] = SchemaVersion + 1

	bumped, err := json.Marshal(raw)
	require.NoError(t, err)

	_, err = Decode(bumped)
	require.ErrorIs(t, err, model.ErrUnsupportedSchema)

	var schemaErr *model.UnsupportedSchemaError
	require.True(t, errors.As(err, &schemaErr))
	require.Equal(t, SchemaVersion+1, schemaErr.Version)
}

func TestDecode_Malformed(t *testing.T) {
	valid, err := Encode(sampleEvent())
	require.NoError(t, err)

	tests := []struct {
		name  string
		input string
	}{
		{name: "not json", input: "{"},
		{name: "missing schema version", input: `{"eventType":"CREATED"}`},
		{name: "unknown field", input: string(valid[:len(valid)-1]) + `,"extra":true}`},
		{name: "bad event type", input: `{"schemaVersion":1,"eventType":"NOPE","aggregateType":"product","aggregateId":"7d1b7f64-2f0e-4a57-9a43-4c1f0d1f9b10","sequenceId":1,"occurredAt":"2024-03-01T12:30:00Z","payload":{}}`},
		{name: "bad sequence", input: `{"schemaVersion":1,"eventType":"CREATED","aggregateType":"product","aggregateId":"7d1b7f64-2f0e-4a57-9a43-4c1f0d1f9b10","sequenceId":0,"occurredAt":"2024-03-01T12:30:00Z","payload":{}}`},
		{name: "bad price", input: `{"schemaVersion":1,"eventType":"CREATED","aggregateType":"product","aggregateId":"7d1b7f64-2f0e-4a57-9a43-4c1f0d1f9b10","sequenceId":1,"occurredAt":"2024-03-01T12:30:00Z","payload":{"id":"7d1b7f64-2f0e-4a57-9a43-4c1f0d1f9b10","version":0,"name":"x","description":"","price":"abc","stock":1,"status":"ACTIVE","updatedAt":"2024-03-01T12:30:00Z"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.input))
			require.ErrorIs(t, err, model.ErrDecode)
		})
	}
}

func TestDecodeEncode_RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		idBytes := rapid.SliceOfN(rapid.Byte(), 16, 16).Draw(t, "id")
		id, err := uuid.FromBytes(idBytes)
		require.NoError(t, err)

		at := time.Unix(
			rapid.Int64Range(0, 4_000_000_000).Draw(t, "sec"),
			rapid.Int64Range(0, 999_999_999).Draw(t, "nsec"),
		)

		event := model.Event{
			EventType:     rapid.SampledFrom([]model.EventType{model.EventTypeCreated, model.EventTypeUpdated, model.EventTypeDeleted}).Draw(t, "type"),
			AggregateType: model.AggregateTypeProduct,
			AggregateID:   id,
			SequenceID:    rapid.Int64Range(1, 1<<50).Draw(t, "seq"),
			OccurredAt:    at,
			Payload: model.ProductSnapshot{
				ID:          id,
				Version:     rapid.Int64Range(0, 1<<40).Draw(t, "version"),
				Name:        rapid.StringMatching(`[A-Za-z0-9 <>&"]{1,40}`).Draw(t, "name"),
				Description: rapid.StringMatching(`[A-Za-z0-9 .,]{0,80}`).Draw(t, "description"),
				Price:       decimal.New(rapid.Int64Range(0, 1_000_000_000).Draw(t, "cents"), -2),
				Stock:       rapid.Int64Range(0, 1_000_000).Draw(t, "stock"),
				Status:      rapid.SampledFrom([]model.ProductStatus{model.ProductStatusActive, model.ProductStatusDiscontinued, model.ProductStatusDeleted}).Draw(t, "status"),
				UpdatedAt:   at,
			},
		}

		data, err := Encode(event)
		require.NoError(t, err)

		decoded, err := Decode(data)
		require.NoError(t, err)
		requireEventEqual(t, event, decoded)

		again, err := Encode(decoded)
		require.NoError(t, err)
		require.Equal(t, data, again)
	})
}
