package broker

import (
	"context"
	"fmt"

	"github.com/redis/rueidis"
)

// Stream field names used by RedisStreamPublisher.
const (
	FieldKey     = "key"
	FieldPayload = "payload"
)

// RedisStreamPublisher appends messages to a Redis stream with XADD.
type RedisStreamPublisher struct {
	client rueidis.Client
	stream string
}

// NewRedisStreamPublisher creates a publisher for stream. The caller owns client.
func NewRedisStreamPublisher(client rueidis.Client, stream string) *RedisStreamPublisher {
	return &RedisStreamPublisher{client: client, stream: stream}
}

// Publish appends msg as one stream entry; headers become additional fields.
func (p *RedisStreamPublisher) Publish(ctx context.Context, msg Message) error {
	fields := p.client.B().Xadd().Key(p.stream).Id("*").FieldValue().
		FieldValue(FieldKey, msg.Key).
		FieldValue(FieldPayload, rueidis.BinaryString(msg.Value))

	for _, k := range sortedHeaderKeys(msg.Headers) {
		fields = fields.FieldValue(k, msg.Headers[k])
	}

	if err := p.client.Do(ctx, fields.Build()).Error(); err != nil {
		return fmt.Errorf("xadd to %s: %w", p.stream, err)
	}

	return nil
}

// Close is a no-op; the client is shared with other components.
func (*RedisStreamPublisher) Close() error {
	return nil
}
