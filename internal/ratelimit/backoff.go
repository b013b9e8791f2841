// Copyright (c) 2024-2026 Sonara Labs
//
// Licensed under GPL-2.0 with Sonara Additional Terms.
// See LICENSE.md for commercial usage.

package internal_ratelimit

import (
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/sonaralabs/audiobridge/pkg/utils"
)

// Phase maps a session-age window to a default backoff delay. A window of
// +Inf marks the terminal phase.
type Phase struct {
	Window time.Duration
	Delay  time.Duration
}

// DefaultPhases escalates the default delay as the session ages:
// 3 s for young sessions, 9 s up to ten minutes, 27 s beyond that.
func DefaultPhases() []Phase {
	return []Phase{
		{Window: 5 * time.Minute, Delay: 3 * time.Second},
		{Window: 10 * time.Minute, Delay: 9 * time.Second},
		{Window: time.Duration(math.MaxInt64), Delay: 27 * time.Second},
	}
}

// Backoff tracks rate-limit retries for one peer of a session. It is used
// twice per session: once for carrier-signaled 429s and once for the
// provider side.
type Backoff struct {
	mu            sync.Mutex
	maxRetries    int
	phases        []Phase
	retryCount    int
	lastRetryTime time.Time
	inBackoff     bool
}

// NewBackoff creates a backoff tracker. maxRetries bounds the number of 429s
// tolerated in one session; phases supplies default delays when the peer did
// not indicate one.
func NewBackoff(maxRetries int, phases []Phase) *Backoff {
	if len(phases) == 0 {
		phases = DefaultPhases()
	}
	return &Backoff{maxRetries: maxRetries, phases: phases}
}

// Begin records a new rate-limit event. It returns false when the retry
// budget is exhausted and the session must fail.
func (b *Backoff) Begin() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.retryCount++
	if b.retryCount > b.maxRetries {
		return false
	}
	b.inBackoff = true
	b.lastRetryTime = time.Now()
	return true
}

// End clears the in-backoff flag once the delay has elapsed.
func (b *Backoff) End() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inBackoff = false
}

// Reset zeroes the retry count, used when a full rate window has passed
// without further 429s.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.retryCount = 0
}

// InBackoff reports whether a backoff sleep is currently in progress.
func (b *Backoff) InBackoff() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inBackoff
}

// Retries returns the number of rate-limit events seen so far.
func (b *Backoff) Retries() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.retryCount
}

// DelayFor looks up the default delay for a session of the given age.
func (b *Backoff) DelayFor(sessionAge time.Duration) time.Duration {
	for _, phase := range b.phases {
		if sessionAge <= phase.Window {
			return phase.Delay
		}
	}
	return b.phases[len(b.phases)-1].Delay
}

// ResolveDelay determines the backoff delay for a carrier 429 in priority
// order: the retryAfter parameter (ISO-8601), the HTTP Retry-After header
// (seconds or ISO-8601), then the phase table by session age.
func (b *Backoff) ResolveDelay(retryAfterParam string, headers http.Header, sessionAge time.Duration) time.Duration {
	if retryAfterParam != "" {
		if secs, err := utils.ParseISO8601Duration(retryAfterParam); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	if headers != nil {
		if header := headers.Get("Retry-After"); header != "" {
			if secs, err := utils.ParseISO8601Duration(header); err == nil {
				return time.Duration(secs * float64(time.Second))
			}
		}
	}
	return b.DelayFor(sessionAge)
}
