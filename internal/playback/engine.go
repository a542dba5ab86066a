/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playback implements the state machine that owns the single
// active audio source: a station in ambient mode, or the head of the
// user queue in queued mode.
package playback

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/friendsincode/radiorelay/internal/events"
	"github.com/friendsincode/radiorelay/internal/metadata"
	"github.com/friendsincode/radiorelay/internal/pcm"
	"github.com/friendsincode/radiorelay/internal/stations"
	"github.com/friendsincode/radiorelay/internal/telemetry"
)

var (
	// ErrQueueFull is returned by Enqueue when the queue is at capacity.
	ErrQueueFull = errors.New("queue is full")
	// ErrClosed is returned by operations after Close.
	ErrClosed = errors.New("playback engine closed")
)

const (
	DefaultCooldown = 3 * time.Second
	DefaultVolume   = 80
	DefaultQueueCap = 50
)

// Decoder is the process supervisor the engine drives.
type Decoder interface {
	Spawn(url string) (uint64, error)
	Stop()
	Pause() error
	Resume() error
	Generation() uint64
	SetGain(fn func() int)
	OnExhausted(fn func(gen uint64))
}

// Directory resolves station ids.
type Directory interface {
	Get(id string) (stations.Station, bool)
	Default() stations.Station
}

// Config tunes engine behaviour.
type Config struct {
	Cooldown      time.Duration
	DefaultVolume int
	QueueCap      int
	// StationID overrides the directory default at startup.
	StationID    string
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// DefaultConfig returns the standard settings.
func DefaultConfig() Config {
	return Config{
		Cooldown:      DefaultCooldown,
		DefaultVolume: DefaultVolume,
		QueueCap:      DefaultQueueCap,
		PollInterval:  metadata.DefaultInterval,
		PollTimeout:   metadata.DefaultTimeout,
	}
}

// Engine is the playback state machine.
//
// Source-changing operations hold opMu for their whole duration, including
// decoder teardown. Plain state is guarded by mu, so State, Remove and
// SetVolume never wait on a teardown.
type Engine struct {
	cfg    Config
	dir    Directory
	dec    Decoder
	prober metadata.Prober
	bus    events.Publisher
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	opMu sync.Mutex

	mu         sync.Mutex
	closed     bool
	started    bool
	mode       Mode
	stationID  string
	current    *QueueEntry
	queue      []QueueEntry
	nowPlaying string
	paused     bool
	nextID     uint64
	pollSeq    uint64
	pollCancel context.CancelFunc

	volume   atomic.Int32
	snapshot atomic.Pointer[State]
}

// New creates an engine. prober and bus may be nil.
func New(cfg Config, dir Directory, dec Decoder, prober metadata.Prober, bus events.Publisher, logger zerolog.Logger) *Engine {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.QueueCap <= 0 {
		cfg.QueueCap = DefaultQueueCap
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:       cfg,
		dir:       dir,
		dec:       dec,
		prober:    prober,
		bus:       bus,
		logger:    logger.With().Str("component", "playback").Logger(),
		ctx:       ctx,
		cancel:    cancel,
		mode:      ModeAmbient,
		stationID: dir.Default().ID,
	}
	if cfg.StationID != "" {
		if _, ok := dir.Get(cfg.StationID); ok {
			e.stationID = cfg.StationID
		} else {
			e.logger.Warn().Str("station", cfg.StationID).Msg("configured station unknown, using default")
		}
	}
	e.volume.Store(int32(pcm.ClampVolume(cfg.DefaultVolume)))

	dec.SetGain(e.Volume)
	dec.OnExhausted(e.SourceExhausted)

	e.mu.Lock()
	e.refreshLocked()
	e.mu.Unlock()
	return e
}

// Start begins playback: anything queued before Start, otherwise the
// current station.
func (e *Engine) Start(ctx context.Context) error {
	_, span := telemetry.StartSpan(ctx, "playback.start")
	defer span.End()

	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.started = true
	e.mu.Unlock()

	e.playNext("start")
	return nil
}

// Close stops playback and background work. It is safe to call twice.
func (e *Engine) Close() error {
	e.cancel()

	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.detachPoller()
	e.dec.Stop()
	e.logger.Info().Msg("playback stopped")
	return nil
}

// State returns the latest snapshot without blocking on control operations.
func (e *Engine) State() State {
	return *e.snapshot.Load()
}

// Volume returns the current volume in [0,100].
func (e *Engine) Volume() int {
	return int(e.volume.Load())
}

// Enqueue appends an entry. While ambient, the engine switches to queued
// mode and starts the head of the queue. An empty title is derived from
// the URL.
func (e *Engine) Enqueue(ctx context.Context, url, title, addedBy string) (QueueEntry, error) {
	_, span := telemetry.StartSpan(ctx, "playback.enqueue", attribute.String("url", url))
	defer span.End()

	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return QueueEntry{}, ErrClosed
	}
	if len(e.queue) >= e.cfg.QueueCap {
		e.mu.Unlock()
		return QueueEntry{}, ErrQueueFull
	}
	if title == "" {
		title = TitleFromURL(url)
	}
	e.nextID++
	entry := QueueEntry{
		ID:      strconv.FormatUint(e.nextID, 10),
		URL:     url,
		Title:   title,
		AddedBy: addedBy,
	}
	e.queue = append(e.queue, entry)
	switchNow := e.mode == ModeAmbient && e.started
	e.refreshLocked()
	e.mu.Unlock()

	e.logger.Info().
		Str("id", entry.ID).
		Str("title", entry.Title).
		Str("added_by", entry.AddedBy).
		Msg("entry queued")
	e.publish(events.EventQueueChanged, events.Payload{"entry": entry})

	if switchNow {
		e.playNext("enqueue")
	}
	return entry, nil
}

// Remove drops a pending entry. The playing entry is not pending.
func (e *Engine) Remove(id string) bool {
	e.mu.Lock()
	removed := false
	for i, entry := range e.queue {
		if entry.ID == id {
			queue := make([]QueueEntry, 0, len(e.queue)-1)
			queue = append(queue, e.queue[:i]...)
			e.queue = append(queue, e.queue[i+1:]...)
			removed = true
			break
		}
	}
	if removed {
		e.refreshLocked()
	}
	e.mu.Unlock()

	if removed {
		e.publish(events.EventQueueChanged, events.Payload{"removed": id})
	}
	return removed
}

// Skip ends the playing entry. It does nothing in ambient mode.
func (e *Engine) Skip(ctx context.Context) {
	_, span := telemetry.StartSpan(ctx, "playback.skip")
	defer span.End()

	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	queued := e.mode == ModeQueued && !e.closed
	e.mu.Unlock()

	if queued {
		e.playNext("skip")
	}
}

// SetStation selects a station. In ambient mode playback switches
// immediately, otherwise the station resumes once the queue drains.
func (e *Engine) SetStation(ctx context.Context, id string) bool {
	_, span := telemetry.StartSpan(ctx, "playback.set_station", attribute.String("station", id))
	defer span.End()

	if _, ok := e.dir.Get(id); !ok {
		return false
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	e.stationID = id
	restart := e.mode == ModeAmbient && e.started && !e.closed
	e.refreshLocked()
	e.mu.Unlock()

	if restart {
		e.playAmbient("station")
	} else {
		e.publish(events.EventStateChanged, nil)
	}
	return true
}

// SetVolume clamps v to [0,100] and applies it from the next frame on.
func (e *Engine) SetVolume(v int) int {
	v = pcm.ClampVolume(v)
	e.volume.Store(int32(v))

	e.mu.Lock()
	e.refreshLocked()
	e.mu.Unlock()

	e.publish(events.EventStateChanged, events.Payload{"volume": v})
	return v
}

// TogglePause flips the paused flag and suspends or resumes the decoder
// in place. It returns the new flag.
func (e *Engine) TogglePause(ctx context.Context) bool {
	_, span := telemetry.StartSpan(ctx, "playback.toggle_pause")
	defer span.End()

	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	e.paused = !e.paused
	paused := e.paused
	e.refreshLocked()
	e.mu.Unlock()

	e.applyPause(paused)
	e.publish(events.EventStateChanged, events.Payload{"paused": paused})
	return paused
}

// SourceExhausted handles the end of the source running under gen. Stale
// generations are ignored.
func (e *Engine) SourceExhausted(gen uint64) {
	e.opMu.Lock()
	if !e.currentLocked(gen) {
		e.opMu.Unlock()
		return
	}

	e.mu.Lock()
	mode := e.mode
	e.mu.Unlock()
	e.publish(events.EventSourceExhausted, events.Payload{"generation": gen, "mode": string(mode)})

	if mode == ModeQueued {
		e.playNext("exhausted")
		e.opMu.Unlock()
		return
	}
	e.opMu.Unlock()

	e.logger.Warn().
		Uint64("generation", gen).
		Dur("cooldown", e.cfg.Cooldown).
		Msg("station stream ended, retrying after cooldown")

	timer := time.NewTimer(e.cfg.Cooldown)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-e.ctx.Done():
		return
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()
	if !e.currentLocked(gen) {
		return
	}
	e.mu.Lock()
	ambient := e.mode == ModeAmbient
	e.mu.Unlock()
	if ambient {
		e.playAmbient("retry")
	}
}

// currentLocked reports whether gen still identifies the live source.
// opMu must be held.
func (e *Engine) currentLocked(gen uint64) bool {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	return !closed && gen == e.dec.Generation()
}
