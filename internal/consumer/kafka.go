package consumer

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
)

const (
	errorRetryDelay = 1 * time.Second
	kafkaMaxBytes   = 10e6
	kafkaMaxBackoff = 30 * time.Second
)

// KafkaSource reads envelopes from a Kafka topic as part of a consumer group.
type KafkaSource struct {
	reader *kafka.Reader
}

// NewKafkaSource creates a source for topic.
func NewKafkaSource(brokers []string, topic, group string) *KafkaSource {
	return &KafkaSource{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  group,
			MinBytes: 1,
			MaxBytes: kafkaMaxBytes,
		}),
	}
}

// Consume delivers messages to handle until ctx is cancelled. A message that fails
// transiently is retried in place, so offsets are committed in order.
func (s *KafkaSource) Consume(ctx context.Context, handle func(ctx context.Context, payload []byte) error) error {
	for {
		message, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return err
		}

		if err := s.handleWithRetry(ctx, message, handle); err != nil {
			return nil
		}

		if err := s.reader.CommitMessages(ctx, message); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			slog.Error("failed to commit offset",
				slog.Int("partition", message.Partition),
				slog.Int64("offset", message.Offset),
				slog.String("error", err.Error()),
			)
		}
	}
}

// handleWithRetry returns an error only when ctx ends before handle succeeds.
func (*KafkaSource) handleWithRetry(
	ctx context.Context, message kafka.Message, handle func(context.Context, []byte) error,
) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = errorRetryDelay
	b.MaxInterval = kafkaMaxBackoff

	for {
		err := handle(ctx, message.Value)
		if err == nil {
			return nil
		}

		if IsPoison(err) {
			slog.Error("dropping undecodable message",
				slog.Int("partition", message.Partition),
				slog.Int64("offset", message.Offset),
				slog.String("error", err.Error()),
			)

			return nil
		}

		slog.Error("failed to process message",
			slog.Int("partition", message.Partition),
			slog.Int64("offset", message.Offset),
			slog.String("error", err.Error()),
		)

		if err := sleepContext(ctx, b.NextBackOff()); err != nil {
			return err
		}
	}
}

// Close leaves the consumer group.
func (s *KafkaSource) Close() error {
	return s.reader.Close()
}
