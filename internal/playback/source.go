/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"
	"errors"

	"github.com/friendsincode/radiorelay/internal/decoder"
	"github.com/friendsincode/radiorelay/internal/events"
	"github.com/friendsincode/radiorelay/internal/metadata"
	"github.com/friendsincode/radiorelay/internal/telemetry"
)

// The helpers below require opMu.

func (e *Engine) playAmbient(reason string) {
	e.mu.Lock()
	st, ok := e.dir.Get(e.stationID)
	if !ok {
		// The directory was reloaded without this station.
		st = e.dir.Default()
		e.stationID = st.ID
	}
	e.mode = ModeAmbient
	e.current = nil
	e.nowPlaying = st.Name
	e.refreshLocked()
	e.mu.Unlock()

	e.logger.Info().Str("station", st.ID).Str("reason", reason).Msg("playing station")
	e.switchSource(st.URL, reason)
	e.attachPoller(st.URL)
	e.published(events.EventNowPlaying)
}

func (e *Engine) playNext(reason string) {
	e.mu.Lock()
	if len(e.queue) == 0 {
		e.mu.Unlock()
		e.playAmbient(reason)
		return
	}
	entry := e.queue[0]
	e.queue = append([]QueueEntry(nil), e.queue[1:]...)
	e.mode = ModeQueued
	e.current = &entry
	e.nowPlaying = entry.Title
	e.refreshLocked()
	e.mu.Unlock()

	e.logger.Info().
		Str("id", entry.ID).
		Str("title", entry.Title).
		Str("reason", reason).
		Msg("playing queued entry")
	e.switchSource(entry.URL, reason)
	e.published(events.EventNowPlaying)
}

// switchSource tears down the old source (poller first, then decoder via
// Spawn) and starts url. A spawn failure is handled like an exhausted
// source.
func (e *Engine) switchSource(url, reason string) {
	e.detachPoller()

	gen, err := e.dec.Spawn(url)
	telemetry.PlaybackTransitionsTotal.WithLabelValues(reason).Inc()
	if err != nil {
		e.logger.Error().Err(err).Str("url", url).Msg("failed to start source")
		go e.SourceExhausted(gen)
		return
	}

	e.mu.Lock()
	paused := e.paused
	e.mu.Unlock()
	if paused {
		e.applyPause(true)
	}
}

func (e *Engine) applyPause(paused bool) {
	var err error
	if paused {
		err = e.dec.Pause()
	} else {
		err = e.dec.Resume()
	}
	if err == nil {
		return
	}
	if errors.Is(err, decoder.ErrPauseUnsupported) {
		e.logger.Debug().Err(err).Msg("pause not applied to decoder")
		return
	}
	e.logger.Warn().Err(err).Bool("paused", paused).Msg("failed to signal decoder")
}

func (e *Engine) attachPoller(url string) {
	if e.prober == nil {
		return
	}

	e.mu.Lock()
	e.pollSeq++
	seq := e.pollSeq
	ctx, cancel := context.WithCancel(e.ctx)
	e.pollCancel = cancel
	e.mu.Unlock()

	p := metadata.NewPoller(e.prober, url, e.cfg.PollInterval, e.cfg.PollTimeout, func(title string) {
		e.applyTitle(seq, title)
	}, e.logger)
	go p.Run(ctx)
}

func (e *Engine) detachPoller() {
	e.mu.Lock()
	if e.pollCancel != nil {
		e.pollCancel()
		e.pollCancel = nil
	}
	e.pollSeq++
	e.mu.Unlock()
}

// applyTitle runs on a poller goroutine. Titles from a detached poller or
// arriving outside ambient mode are dropped.
func (e *Engine) applyTitle(seq uint64, title string) {
	e.mu.Lock()
	if seq != e.pollSeq || e.mode != ModeAmbient || e.closed {
		e.mu.Unlock()
		return
	}
	e.nowPlaying = title
	e.refreshLocked()
	e.mu.Unlock()

	e.publish(events.EventNowPlaying, events.Payload{"title": title})
}

// published refreshes the snapshot after a transition and announces it.
func (e *Engine) published(eventType events.EventType) {
	e.mu.Lock()
	e.refreshLocked()
	title := e.nowPlaying
	e.mu.Unlock()

	e.publish(eventType, events.Payload{"title": title})
	e.publish(events.EventStateChanged, nil)
}

// refreshLocked rebuilds the published snapshot. mu must be held.
func (e *Engine) refreshLocked() {
	st := State{
		Mode:       e.mode,
		Paused:     e.paused,
		Volume:     e.Volume(),
		NowPlaying: e.nowPlaying,
		Queue:      append([]QueueEntry{}, e.queue...),
		Generation: e.dec.Generation(),
	}
	if station, ok := e.dir.Get(e.stationID); ok {
		st.CurrentStation = &station
	}
	if e.current != nil {
		entry := *e.current
		st.CurrentTrack = &entry
	}
	e.snapshot.Store(&st)

	telemetry.PlaybackQueueLength.Set(float64(len(e.queue)))
	for _, m := range []Mode{ModeAmbient, ModeQueued} {
		v := 0.0
		if m == e.mode {
			v = 1
		}
		telemetry.PlaybackMode.WithLabelValues(string(m)).Set(v)
	}
}

func (e *Engine) publish(eventType events.EventType, payload events.Payload) {
	if e.bus == nil {
		return
	}
	if payload == nil {
		payload = events.Payload{}
	}
	e.bus.Publish(eventType, payload)
}
