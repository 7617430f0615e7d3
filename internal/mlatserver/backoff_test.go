package mlatserver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	b := &Backoff{
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}

	var got []time.Duration
	for i := 0; i < 6; i++ {
		got = append(got, b.Next())
	}
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second,
	}, got)

	b.Reset()
	assert.Equal(t, time.Second, b.Next())
}

func TestBackoffFlatMultiplier(t *testing.T) {
	b := &Backoff{InitialDelay: 3 * time.Second, MaxDelay: time.Minute}
	assert.Equal(t, 3*time.Second, b.Next())
	assert.Equal(t, 3*time.Second, b.Next())
}

func TestDefaultBackoff(t *testing.T) {
	b := DefaultBackoff()
	assert.Equal(t, 5*time.Second, b.Next())
	assert.Equal(t, 10*time.Second, b.Next())
}
