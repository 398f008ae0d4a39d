// Package broker publishes outbox envelopes to a message broker.
package broker

import (
	"context"
	"sort"
)

// Header names carried alongside every envelope.
const (
	HeaderSequenceID    = "sequence_id"
	HeaderEventType     = "event_type"
	HeaderSchemaVersion = "schema_version"
	HeaderAggregateID   = "aggregate_id"
)

// Message is one envelope ready for the wire. Key is the aggregate id, so a partitioned
// broker keeps every event of one product on the same partition.
type Message struct {
	Key     string
	Value   []byte
	Headers map[string]string
}

// Publisher delivers messages to a broker. Publish returns only after the broker acknowledged.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// sortedHeaderKeys returns header names in a stable order.
func sortedHeaderKeys(headers map[string]string) []string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
