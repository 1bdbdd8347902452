package feed

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy decides how long polling is held off after a cycle.
// err is the fetch or decode failure of the cycle, nil on success.
// A zero duration means the next scheduled tick runs normally.
type RetryPolicy interface {
	Next(err error) time.Duration
}

// EveryTick retries at the next tick, forever, without backoff
type EveryTick struct{}

func (EveryTick) Next(error) time.Duration { return 0 }

// ExponentialPolicy skips ticks after consecutive failures
type ExponentialPolicy struct {
	b *backoff.ExponentialBackOff
}

// NewExponentialPolicy holds off for initial after the first failure,
// growing up to max while failures continue
func NewExponentialPolicy(initial, max time.Duration) *ExponentialPolicy {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = max
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0
	b.Reset()
	return &ExponentialPolicy{b: b}
}

func (p *ExponentialPolicy) Next(err error) time.Duration {
	if err == nil {
		p.b.Reset()
		return 0
	}
	d := p.b.NextBackOff()
	if d == backoff.Stop {
		return p.b.MaxInterval
	}
	return d
}
