/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package webrtc delivers relay audio to browser listeners using Pion.
package webrtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/friendsincode/radiorelay/internal/events"
	"github.com/friendsincode/radiorelay/internal/pcm"
	"github.com/friendsincode/radiorelay/internal/telemetry"
)

const (
	opusPayloadType = 111
	fixedSSRC       = 0x52524c59
)

// Config holds broadcaster configuration.
type Config struct {
	STUNServer   string
	TURNServer   string
	TURNUsername string
	TURNPassword string
	Bitrate      int
}

// Broadcaster is the frame sink: it paces PCM frames, encodes them to Opus
// and writes RTP packets to a track shared by every connected peer.
type Broadcaster struct {
	mu     sync.RWMutex
	peers  map[string]*peerConnection
	track  *webrtc.TrackLocalStaticRTP
	api    *webrtc.API
	config Config
	bus    events.Publisher
	logger zerolog.Logger

	pacer *pcm.Pacer

	// encMu serializes encoder state and RTP header counters.
	encMu   sync.Mutex
	encoder frameEncoder
	out     []byte
	seqNum  uint16
	ts      uint32

	totalPeers   atomic.Int64
	frames       atomic.Int64
	framesIdle   atomic.Int64
	bytesEncoded atomic.Int64
}

type peerConnection struct {
	id       string
	identity string
	pc       *webrtc.PeerConnection
	done     chan struct{}
	once     sync.Once
}

func (p *peerConnection) finish() {
	p.once.Do(func() { close(p.done) })
}

// NewBroadcaster creates the broadcaster and its shared Opus track. bus
// may be nil.
func NewBroadcaster(cfg Config, bus events.Publisher, logger zerolog.Logger) (*Broadcaster, error) {
	enc, err := newOpusEncoder(cfg.Bitrate)
	if err != nil {
		return nil, err
	}
	return newBroadcaster(cfg, enc, bus, logger)
}

func newBroadcaster(cfg Config, enc frameEncoder, bus events.Publisher, logger zerolog.Logger) (*Broadcaster, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   pcm.SampleRate,
			Channels:    pcm.Channels,
			SDPFmtpLine: "minptime=10;useinbandfec=1;stereo=1",
		},
		PayloadType: opusPayloadType,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register opus codec: %w", err)
	}

	// RTCP reports and NACK handling for listeners.
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i))

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: pcm.SampleRate, Channels: pcm.Channels},
		"audio",
		"radiorelay",
	)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}

	return &Broadcaster{
		peers:   make(map[string]*peerConnection),
		track:   track,
		api:     api,
		config:  cfg,
		bus:     bus,
		pacer:   pcm.NewPacer(pcm.FrameDuration, pcm.DefaultMaxLag),
		encoder: enc,
		out:     make([]byte, maxOpusPacket),
		logger:  logger.With().Str("component", "webrtc-broadcaster").Logger(),
	}, nil
}

// WriteFrame implements pcm.Sink. It blocks until the frame's real-time
// slot; with no listeners the frame is dropped but timing still advances.
func (b *Broadcaster) WriteFrame(ctx context.Context, frame []byte) error {
	if err := b.pacer.Wait(ctx); err != nil {
		return err
	}
	b.frames.Add(1)

	b.encMu.Lock()
	defer b.encMu.Unlock()

	seq, ts := b.seqNum, b.ts
	b.seqNum++
	b.ts += pcm.SamplesPerFrame

	if b.PeerCount() == 0 {
		b.framesIdle.Add(1)
		return nil
	}

	n, err := b.encoder.Encode(pcm.Int16s(frame), b.out)
	if err != nil {
		telemetry.SinkErrorsTotal.WithLabelValues("encode").Inc()
		return fmt.Errorf("encode frame: %w", err)
	}

	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    opusPayloadType,
			SequenceNumber: seq,
			Timestamp:      ts,
			SSRC:           fixedSSRC,
		},
		Payload: b.out[:n],
	}
	if err := b.track.WriteRTP(packet); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		telemetry.SinkErrorsTotal.WithLabelValues("rtp").Inc()
		return fmt.Errorf("write rtp: %w", err)
	}

	b.bytesEncoded.Add(int64(n))
	telemetry.OpusBytesTotal.Add(float64(n))
	return nil
}

// Close disconnects every peer.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	peers := b.peers
	b.peers = make(map[string]*peerConnection)
	b.mu.Unlock()

	for _, peer := range peers {
		peer.pc.Close()
		peer.finish()
	}
	telemetry.WebRTCPeers.Set(0)

	b.logger.Info().Int("peers", len(peers)).Msg("broadcaster stopped")
	return nil
}

// PeerCount returns the number of connected peers.
func (b *Broadcaster) PeerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.peers)
}

// Stats returns broadcaster statistics.
func (b *Broadcaster) Stats() map[string]interface{} {
	return map[string]interface{}{
		"peers":         b.PeerCount(),
		"total_peers":   b.totalPeers.Load(),
		"frames":        b.frames.Load(),
		"frames_idle":   b.framesIdle.Load(),
		"bytes_encoded": b.bytesEncoded.Load(),
	}
}

// MarshalJSON implements json.Marshaler for the stats endpoint.
func (b *Broadcaster) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Stats())
}

func (b *Broadcaster) iceServers() []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if b.config.STUNServer != "" {
		servers = append(servers, webrtc.ICEServer{URLs: []string{b.config.STUNServer}})
	}
	if b.config.TURNServer != "" {
		turn := webrtc.ICEServer{URLs: []string{b.config.TURNServer}}
		if b.config.TURNUsername != "" {
			turn.Username = b.config.TURNUsername
			turn.Credential = b.config.TURNPassword
			turn.CredentialType = webrtc.ICECredentialTypePassword
		}
		servers = append(servers, turn)
	}
	return servers
}

func (b *Broadcaster) createPeerConnection() (*webrtc.PeerConnection, error) {
	pc, err := b.api.NewPeerConnection(webrtc.Configuration{ICEServers: b.iceServers()})
	if err != nil {
		return nil, err
	}

	sender, err := pc.AddTrack(b.track)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("add track: %w", err)
	}

	// Drain RTCP so interceptors keep running.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return pc, nil
}
