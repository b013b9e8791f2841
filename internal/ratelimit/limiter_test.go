// Copyright (c) 2024-2026 Sonara Labs
//
// Licensed under GPL-2.0 with Sonara Additional Terms.
// See LICENSE.md for commercial usage.

package internal_ratelimit

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests advance the limiter's view of time deterministically.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(rate, capacity float64) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	l := NewLimiter(rate, capacity)
	l.now = clock.now
	l.lastRefill = clock.t
	return l, clock
}

func TestLimiter_StartsFull(t *testing.T) {
	l, _ := newTestLimiter(5, 3)
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow(), "bucket should be empty after burst")
}

func TestLimiter_RefillsProportionally(t *testing.T) {
	l, clock := newTestLimiter(5, 25)

	for i := 0; i < 25; i++ {
		require.True(t, l.Allow())
	}
	require.False(t, l.Allow())

	// 5 tokens/sec: 400 ms buys back two tokens.
	clock.advance(400 * time.Millisecond)
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
}

func TestLimiter_RefillCappedAtCapacity(t *testing.T) {
	l, clock := newTestLimiter(5, 3)

	clock.advance(time.Hour)
	assert.InDelta(t, 3, l.Tokens(), 0.001, "refill must be capped at burst capacity")
}

func TestBackoff_RetryBudget(t *testing.T) {
	b := NewBackoff(3, nil)

	assert.True(t, b.Begin())
	assert.True(t, b.InBackoff())
	b.End()
	assert.False(t, b.InBackoff())

	assert.True(t, b.Begin())
	assert.True(t, b.Begin())
	assert.Equal(t, 3, b.Retries())

	// Fourth 429 in a session exceeds the default budget.
	assert.False(t, b.Begin())

	b.Reset()
	assert.True(t, b.Begin())
}

func TestBackoff_PhaseTable(t *testing.T) {
	b := NewBackoff(3, DefaultPhases())

	assert.Equal(t, 3*time.Second, b.DelayFor(30*time.Second))
	assert.Equal(t, 3*time.Second, b.DelayFor(5*time.Minute))
	assert.Equal(t, 9*time.Second, b.DelayFor(7*time.Minute))
	assert.Equal(t, 27*time.Second, b.DelayFor(2*time.Hour))
}

func TestBackoff_ResolveDelay_Priority(t *testing.T) {
	b := NewBackoff(3, DefaultPhases())

	// retryAfter parameter wins.
	headers := http.Header{}
	headers.Set("Retry-After", "7")
	assert.Equal(t, 2*time.Second, b.ResolveDelay("PT2S", headers, time.Minute))

	// Header next: plain seconds...
	assert.Equal(t, 7*time.Second, b.ResolveDelay("", headers, time.Minute))

	// ...or ISO-8601.
	headers.Set("Retry-After", "PT1M30S")
	assert.Equal(t, 90*time.Second, b.ResolveDelay("", headers, time.Minute))

	// Malformed parameter falls through to the header.
	headers.Set("Retry-After", "4")
	assert.Equal(t, 4*time.Second, b.ResolveDelay("not-a-duration", headers, time.Minute))

	// Nothing usable: phase table by session age.
	assert.Equal(t, 3*time.Second, b.ResolveDelay("", nil, time.Minute))
	assert.Equal(t, 27*time.Second, b.ResolveDelay("", nil, time.Hour))
}
