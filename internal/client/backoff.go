package client

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Backoff yields min(base*2^(n-1), max) for the n-th call since Reset.
type Backoff struct {
	b *backoff.ExponentialBackOff
}

func NewBackoff(base, max time.Duration) *Backoff {
	return &Backoff{b: &backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         max,
	}}
}

func (b *Backoff) Next() time.Duration { return b.b.NextBackOff() }

func (b *Backoff) Reset() { b.b.Reset() }
