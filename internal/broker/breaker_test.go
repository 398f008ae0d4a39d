package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnst/product-lifecycle-service/internal/model"
)

type stubPublisher struct {
	err   error
	calls int
}

func (p *stubPublisher) Publish(context.Context, Message) error {
	p.calls++

	return p.err
}

func (*stubPublisher) Close() error { return nil }

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	next := &stubPublisher{err: errors.New("connection refused")}

	var transitions []string

	b := NewBreaker(next, BreakerSettings{
		Name:                "test",
		ConsecutiveFailures: 2,
		OpenTimeout:         time.Hour,
		OnStateChange: func(from, to string) {
			transitions = append(transitions, from+"->"+to)
		},
	})

	for range 2 {
		err := b.Publish(ctx, Message{Key: "k"})
		require.ErrorIs(t, err, model.ErrPublish)
		require.NotErrorIs(t, err, model.ErrBrokerUnavailable)
	}

	err := b.Publish(ctx, Message{Key: "k"})
	require.ErrorIs(t, err, model.ErrBrokerUnavailable)
	assert.Equal(t, 2, next.calls)
	assert.Equal(t, "open", b.State())
	assert.Equal(t, []string{"closed->open"}, transitions)
}

func TestBreaker_PassesThroughSuccess(t *testing.T) {
	next := &stubPublisher{}
	b := NewBreaker(next, DefaultBreakerSettings("test"))

	require.NoError(t, b.Publish(context.Background(), Message{Key: "k"}))
	assert.Equal(t, 1, next.calls)
	assert.Equal(t, "closed", b.State())
}

func TestBreaker_CancellationDoesNotTrip(t *testing.T) {
	next := &stubPublisher{err: context.Canceled}
	b := NewBreaker(next, BreakerSettings{Name: "test", ConsecutiveFailures: 1, OpenTimeout: time.Hour})

	for range 3 {
		require.Error(t, b.Publish(context.Background(), Message{}))
	}

	assert.Equal(t, 3, next.calls)
	assert.Equal(t, "closed", b.State())
}
