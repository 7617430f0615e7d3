package mlatserver

import (
	"math"
	"time"
)

// Backoff computes exponentially growing reconnect delays
type Backoff struct {
	// InitialDelay is the delay after the first failure (default: 5 seconds)
	InitialDelay time.Duration

	// MaxDelay caps the delay (default: 5 minutes)
	MaxDelay time.Duration

	// Multiplier is the growth factor between attempts (default: 2.0)
	Multiplier float64

	attempt int
}

// DefaultBackoff returns the delays used when nothing is configured
func DefaultBackoff() *Backoff {
	return &Backoff{
		InitialDelay: 5 * time.Second,
		MaxDelay:     5 * time.Minute,
		Multiplier:   2.0,
	}
}

// Next returns the delay before the next attempt and advances the sequence.
// delay = min(InitialDelay * Multiplier^attempt, MaxDelay)
func (b *Backoff) Next() time.Duration {
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}

	delay := time.Duration(float64(b.InitialDelay) * math.Pow(mult, float64(b.attempt)))
	if delay > b.MaxDelay || delay <= 0 {
		delay = b.MaxDelay
	}
	b.attempt++
	return delay
}

// Reset restarts the sequence after a successful connection
func (b *Backoff) Reset() {
	b.attempt = 0
}
