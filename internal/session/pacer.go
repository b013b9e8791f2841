// Copyright (c) 2024-2026 Sonara Labs
//
// Licensed under GPL-2.0 with Sonara Additional Terms.
// See LICENSE.md for commercial usage.

package internal_session

import (
	"context"
	"sync"
	"time"

	internal_audio "github.com/sonaralabs/audiobridge/internal/audio"
	internal_ratelimit "github.com/sonaralabs/audiobridge/internal/ratelimit"
	"github.com/sonaralabs/audiobridge/pkg/commons"
)

// pacerTick is how often the pacer wakes to check whether a frame is due.
const pacerTick = 10 * time.Millisecond

// Pacer smooths downlink audio toward the carrier. Provider audio arrives in
// bursts; the carrier expects evenly spaced frames within its binary budget.
// Audio bytes accumulate into fixed-size µ-law frames in a bounded FIFO; when
// the queue is full the oldest frame is dropped so playback stays close to
// live speech.
type Pacer struct {
	logger     commons.Logger
	send       func(frame []byte) error
	limiter    *internal_ratelimit.Limiter
	paused     func() bool
	interval   time.Duration
	frameBytes int
	capacity   int

	mu       sync.Mutex
	frames   [][]byte
	partial  []byte
	lastSend time.Time
	sent     int
	dropped  int
	inflight int
}

// NewPacer creates a pacer that delivers one frame of frameBytes at most
// every interval through send, gated by the binary token bucket. While
// paused reports true no frames leave the queue; carrier rate-limit backoff
// suspends all outbound traffic, audio included.
func NewPacer(
	logger commons.Logger,
	send func(frame []byte) error,
	limiter *internal_ratelimit.Limiter,
	paused func() bool,
	interval time.Duration,
	frameBytes int,
	capacity int,
) *Pacer {
	return &Pacer{
		logger:     logger,
		send:       send,
		limiter:    limiter,
		paused:     paused,
		interval:   interval,
		frameBytes: frameBytes,
		capacity:   capacity,
	}
}

// Push appends downlink audio bytes. Complete frames are queued immediately;
// a trailing partial stays buffered until more audio arrives or Flush pads
// it out.
func (p *Pacer) Push(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.partial = append(p.partial, data...)
	for len(p.partial) >= p.frameBytes {
		frame := make([]byte, p.frameBytes)
		copy(frame, p.partial)
		p.partial = p.partial[p.frameBytes:]
		p.enqueueLocked(frame)
	}
}

// Flush pads any buffered partial with µ-law silence and queues it. Called
// before a disconnect so the tail of the farewell is not cut off.
func (p *Pacer) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.partial) == 0 {
		return
	}
	frame := internal_audio.PadMuLaw(p.partial, p.frameBytes)
	p.partial = nil
	p.enqueueLocked(frame)
}

// Interrupt discards all queued audio, partial included. Fired on barge-in:
// stale agent speech must not play over the caller.
func (p *Pacer) Interrupt() {
	p.mu.Lock()
	defer p.mu.Unlock()

	discarded := len(p.frames)
	p.frames = nil
	p.partial = nil
	if discarded > 0 {
		p.logger.Infof("Interrupted playback, discarded %d queued frames", discarded)
	}
}

// Drain blocks until every queued frame has been delivered, including one in
// flight, or the timeout expires. Called before a disconnect so the carrier
// hears the whole farewell before being asked to hang up. Returns false if
// frames were still pending when the bound hit.
func (p *Pacer) Drain(ctx context.Context, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pacerTick)
	defer ticker.Stop()

	for {
		p.mu.Lock()
		idle := len(p.frames) == 0 && p.inflight == 0
		p.mu.Unlock()
		if idle {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-ticker.C:
		}
	}
}

// Queued returns the number of complete frames waiting to be sent.
func (p *Pacer) Queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

// Sent returns the number of frames delivered so far.
func (p *Pacer) Sent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent
}

// Run drives the pacing loop until ctx is cancelled.
func (p *Pacer) Run(ctx context.Context) {
	ticker := time.NewTicker(pacerTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *Pacer) tick() {
	if p.paused != nil && p.paused() {
		return
	}

	p.mu.Lock()
	if len(p.frames) == 0 {
		p.mu.Unlock()
		return
	}
	if time.Since(p.lastSend) < p.interval {
		p.mu.Unlock()
		return
	}
	if !p.limiter.Allow() {
		p.mu.Unlock()
		return
	}
	frame := p.frames[0]
	p.frames = p.frames[1:]
	p.lastSend = time.Now()
	p.sent++
	p.inflight++
	sent := p.sent
	remaining := len(p.frames)
	p.mu.Unlock()

	err := p.send(frame)

	p.mu.Lock()
	p.inflight--
	p.mu.Unlock()

	if err != nil {
		p.logger.Warnf("Failed to send audio frame: %v", err)
		return
	}
	p.logger.Debugf("Sent audio frame #%d (%d bytes, %d queued)", sent, len(frame), remaining)
}

func (p *Pacer) enqueueLocked(frame []byte) {
	if len(p.frames) >= p.capacity {
		p.frames = p.frames[1:]
		p.dropped++
		p.logger.Warnf("Audio buffer full (%d frames), dropping oldest frame (%d dropped total)", p.capacity, p.dropped)
	}
	p.frames = append(p.frames, frame)
}
