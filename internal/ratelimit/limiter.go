// Copyright (c) 2024-2026 Sonara Labs
//
// Licensed under GPL-2.0 with Sonara Additional Terms.
// See LICENSE.md for commercial usage.

// Package internal_ratelimit provides the token-bucket primitive used for
// carrier JSON and binary budgets, and the phase-table backoff applied when
// the carrier or the provider signals rate limiting.
package internal_ratelimit

import (
	"sync"
	"time"
)

// Limiter is a token bucket with a refill rate in tokens per second and a
// burst capacity. Buckets start full so a session can burst immediately
// after open.
type Limiter struct {
	mu         sync.Mutex
	rate       float64
	capacity   float64
	tokens     float64
	lastRefill time.Time
	now        func() time.Time
}

// NewLimiter creates a full bucket with the given rate (tokens/sec) and
// burst capacity.
func NewLimiter(rate float64, capacity float64) *Limiter {
	return &Limiter{
		rate:       rate,
		capacity:   capacity,
		tokens:     capacity,
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// Allow refills the bucket proportionally to elapsed wall time (capped at
// capacity) and consumes one token if available. It never blocks; callers
// that get false are expected to back off and retry.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillLocked()
	if l.tokens >= 1 {
		l.tokens--
		return true
	}
	return false
}

// Tokens reports the current token count after refill. Used in rate-limit
// warnings.
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillLocked()
	return l.tokens
}

func (l *Limiter) refillLocked() {
	now := l.now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed > 0 {
		l.tokens += elapsed * l.rate
		if l.tokens > l.capacity {
			l.tokens = l.capacity
		}
		l.lastRefill = now
	}
}
