package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/rueidis"

	"github.com/jnst/product-lifecycle-service/internal/broker"
)

const (
	redisBlockTimeout = 1000 // milliseconds
	redisReadCount    = 10
	dedupeKeyPrefix   = "products:dedupe:"
)

// RedisDeduper records seen events with SET NX so every consumer replica shares them.
type RedisDeduper struct {
	client rueidis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper whose marks expire after ttl.
func NewRedisDeduper(client rueidis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

// FirstSeen implements Deduper.
func (d *RedisDeduper) FirstSeen(ctx context.Context, aggregateID uuid.UUID, sequenceID int64) (bool, error) {
	key := fmt.Sprintf("%s%s:%d", dedupeKeyPrefix, aggregateID, sequenceID)
	cmd := d.client.B().Set().Key(key).Value("1").Nx().ExSeconds(int64(d.ttl.Seconds())).Build()

	err := d.client.Do(ctx, cmd).Error()
	if rueidis.IsRedisNil(err) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return true, nil
}

// RedisStreamSource reads envelopes from a Redis stream through a consumer group.
type RedisStreamSource struct {
	client   rueidis.Client
	stream   string
	group    string
	consumer string
}

// NewRedisStreamSource creates a source. The caller owns client.
func NewRedisStreamSource(client rueidis.Client, stream, group, consumer string) *RedisStreamSource {
	return &RedisStreamSource{client: client, stream: stream, group: group, consumer: consumer}
}

// Consume delivers messages to handle until ctx is cancelled. Messages are acknowledged
// after handle succeeds or fails permanently; others stay pending and are read again.
func (s *RedisStreamSource) Consume(ctx context.Context, handle func(ctx context.Context, payload []byte) error) error {
	s.createConsumerGroup(ctx)

	// Entries delivered to this consumer before a restart come first.
	nextID := "0"

	for {
		if ctx.Err() != nil {
			return nil
		}

		messages, err := s.readMessages(ctx, nextID)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			slog.Error("error consuming messages", slog.String("error", err.Error()))

			if err := sleepContext(ctx, errorRetryDelay); err != nil {
				return nil
			}

			continue
		}

		if nextID == "0" && len(messages) == 0 {
			nextID = ">"
		}

		failed := false

		for _, message := range messages {
			if !s.processMessage(ctx, message, handle) {
				failed = true
			}
		}

		// Retry this consumer's pending entries after a failure.
		if failed {
			nextID = "0"

			if err := sleepContext(ctx, errorRetryDelay); err != nil {
				return nil
			}
		}
	}
}

// Close is a no-op; the client is shared.
func (*RedisStreamSource) Close() error { return nil }

func (s *RedisStreamSource) createConsumerGroup(ctx context.Context) {
	cmd := s.client.B().XgroupCreate().Key(s.stream).Group(s.group).Id("0").Mkstream().Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		slog.Info("consumer group creation result (may already exist)", slog.String("error", err.Error()))
	}
}

func (s *RedisStreamSource) readMessages(ctx context.Context, id string) ([]rueidis.XRangeEntry, error) {
	cmd := s.client.B().Xreadgroup().Group(s.group, s.consumer).
		Count(redisReadCount).
		Block(redisBlockTimeout).
		Streams().
		Key(s.stream).
		Id(id).
		Build()

	streams, err := s.client.Do(ctx, cmd).AsXRead()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, nil
		}

		return nil, err
	}

	return streams[s.stream], nil
}

// processMessage reports false when the message must be retried.
func (s *RedisStreamSource) processMessage(
	ctx context.Context, message rueidis.XRangeEntry, handle func(context.Context, []byte) error,
) bool {
	payload, ok := message.FieldValues[broker.FieldPayload]
	if !ok {
		slog.Error("dropping message without payload", slog.String("message_id", message.ID))
		s.acknowledge(ctx, message.ID)

		return true
	}

	if err := handle(ctx, []byte(payload)); err != nil {
		if !IsPoison(err) {
			slog.Error("failed to process message",
				slog.String("message_id", message.ID),
				slog.String("error", err.Error()),
			)

			return false
		}

		slog.Error("dropping undecodable message",
			slog.String("message_id", message.ID),
			slog.String("error", err.Error()),
		)
	}

	s.acknowledge(ctx, message.ID)

	return true
}

func (s *RedisStreamSource) acknowledge(ctx context.Context, messageID string) {
	cmd := s.client.B().Xack().Key(s.stream).Group(s.group).Id(messageID).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		slog.Error("failed to ACK message",
			slog.String("message_id", messageID),
			slog.String("error", err.Error()),
		)

		return
	}

	slog.Debug("ACKed message", slog.String("message_id", messageID))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
