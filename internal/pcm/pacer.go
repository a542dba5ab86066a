/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package pcm

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultMaxLag is how far a pacer may fall behind before it resets.
const DefaultMaxLag = 200 * time.Millisecond

// Pacer releases one caller per frame period so frames decoded faster
// than real time reach listeners at playback speed.
type Pacer struct {
	period time.Duration
	maxLag time.Duration
	now    func() time.Time

	mu   sync.Mutex
	next time.Time
}

// NewPacer creates a pacer with the given period and lag tolerance.
func NewPacer(period, maxLag time.Duration) *Pacer {
	if period <= 0 {
		period = FrameDuration
	}
	if maxLag <= 0 {
		maxLag = DefaultMaxLag
	}
	return &Pacer{period: period, maxLag: maxLag, now: time.Now}
}

// Wait blocks until the next slot is due or ctx is cancelled.
func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	now := p.now()
	if p.next.IsZero() || now.Sub(p.next) > p.maxLag {
		// First frame, or the producer stalled (pause, reconnect): restart the clock.
		p.next = now
	}
	due := p.next
	p.next = p.next.Add(p.period)
	p.mu.Unlock()

	delay := due.Sub(now)
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NullSink paces and discards frames. It stands in for the transport when
// WebRTC is disabled.
type NullSink struct {
	pacer  *Pacer
	frames atomic.Int64
}

// NewNullSink returns a discarding sink. A nil pacer disables pacing.
func NewNullSink(pacer *Pacer) *NullSink {
	return &NullSink{pacer: pacer}
}

// WriteFrame implements Sink.
func (s *NullSink) WriteFrame(ctx context.Context, frame []byte) error {
	if s.pacer != nil {
		if err := s.pacer.Wait(ctx); err != nil {
			return err
		}
	}
	s.frames.Add(1)
	return nil
}

// Frames returns the number of frames accepted.
func (s *NullSink) Frames() int64 {
	return s.frames.Load()
}
