package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/jnst/product-lifecycle-service/internal/model"
)

// BreakerSettings tunes the circuit breaker around a publisher.
type BreakerSettings struct {
	Name                string
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenRequests    uint32
	OnStateChange       func(from, to string)
}

// DefaultBreakerSettings trips after five consecutive failures and probes again after 30s.
func DefaultBreakerSettings(name string) BreakerSettings {
	return BreakerSettings{
		Name:                name,
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    1,
	}
}

// Breaker guards a Publisher with a circuit breaker. While the circuit is open, Publish fails
// fast with model.ErrBrokerUnavailable without touching the broker; other failures are
// reported as model.ErrPublish.
type Breaker struct {
	next    Publisher
	breaker *gobreaker.CircuitBreaker
}

// NewBreaker wraps next.
func NewBreaker(next Publisher, settings BreakerSettings) *Breaker {
	threshold := settings.ConsecutiveFailures
	if threshold == 0 {
		threshold = 1
	}

	return &Breaker{
		next: next,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        settings.Name,
			MaxRequests: settings.HalfOpenRequests,
			Timeout:     settings.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			IsSuccessful: func(err error) bool {
				// A caller giving up is not a broker failure.
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(_ string, from, to gobreaker.State) {
				if settings.OnStateChange != nil {
					settings.OnStateChange(from.String(), to.String())
				}
			},
		}),
	}
}

// Publish forwards msg unless the circuit is open.
func (b *Breaker) Publish(ctx context.Context, msg Message) error {
	_, err := b.breaker.Execute(func() (any, error) {
		return nil, b.next.Publish(ctx, msg)
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: %w", model.ErrBrokerUnavailable, err)
	default:
		return fmt.Errorf("%w: %w", model.ErrPublish, err)
	}
}

// State reports the circuit state: "closed", "half-open" or "open".
func (b *Breaker) State() string {
	return b.breaker.State().String()
}

// Close closes the wrapped publisher.
func (b *Breaker) Close() error {
	return b.next.Close()
}
