/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package webrtc

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/friendsincode/radiorelay/internal/auth"
	"github.com/friendsincode/radiorelay/internal/events"
	"github.com/friendsincode/radiorelay/internal/telemetry"
)

// SignalMessage is the WebSocket signaling message format.
type SignalMessage struct {
	Type      string                     `json:"type"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	Error     string                     `json:"error,omitempty"`
}

// HandleSignaling upgrades to a WebSocket, sends the server's offer and
// applies the listener's answer and any candidates it trickles. The peer lives
// until the socket closes or the connection fails.
func (b *Broadcaster) HandleSignaling(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		b.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	peerID := "peer-" + uuid.NewString()
	identity := ""
	if claims, ok := auth.ClaimsFromContext(ctx); ok {
		identity = claims.Identity
	}
	logger := b.logger.With().Str("peer_id", peerID).Str("identity", identity).Logger()

	pc, err := b.createPeerConnection()
	if err != nil {
		logger.Error().Err(err).Msg("failed to create peer connection")
		_ = wsjson.Write(ctx, conn, SignalMessage{Type: "error", Error: err.Error()})
		return
	}

	peer := &peerConnection{id: peerID, identity: identity, pc: pc, done: make(chan struct{})}
	b.addPeer(peer)
	defer b.removePeer(peer)

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		logger.Debug().Str("state", s.String()).Msg("connection state changed")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			peer.finish()
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		logger.Error().Err(err).Msg("failed to create offer")
		_ = wsjson.Write(ctx, conn, SignalMessage{Type: "error", Error: err.Error()})
		return
	}

	// The offer carries every local candidate, so the listener never sees a
	// candidate before the description it belongs to.
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		logger.Error().Err(err).Msg("failed to set local description")
		_ = wsjson.Write(ctx, conn, SignalMessage{Type: "error", Error: err.Error()})
		return
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return
	}

	if err := wsjson.Write(ctx, conn, SignalMessage{Type: "offer", SDP: pc.LocalDescription()}); err != nil {
		logger.Debug().Err(err).Msg("failed to send offer")
		return
	}

	reads := make(chan SignalMessage)
	go func() {
		defer close(reads)
		for {
			var msg SignalMessage
			if err := wsjson.Read(ctx, conn, &msg); err != nil {
				if websocket.CloseStatus(err) == -1 {
					logger.Debug().Err(err).Msg("websocket read error")
				}
				return
			}
			select {
			case reads <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-peer.done:
			return
		case msg, ok := <-reads:
			if !ok {
				return
			}
			b.applySignal(pc, msg, logger)
		}
	}
}

func (b *Broadcaster) applySignal(pc *webrtc.PeerConnection, msg SignalMessage, logger zerolog.Logger) {
	switch msg.Type {
	case "answer":
		if msg.SDP == nil {
			return
		}
		if err := pc.SetRemoteDescription(*msg.SDP); err != nil {
			logger.Error().Err(err).Msg("failed to set remote description")
		}
	case "candidate":
		if msg.Candidate == nil {
			return
		}
		if err := pc.AddICECandidate(*msg.Candidate); err != nil {
			logger.Error().Err(err).Msg("failed to add ICE candidate")
		}
	default:
		logger.Debug().Str("type", msg.Type).Msg("ignoring signal message")
	}
}

func (b *Broadcaster) addPeer(peer *peerConnection) {
	b.mu.Lock()
	b.peers[peer.id] = peer
	count := len(b.peers)
	b.mu.Unlock()

	b.totalPeers.Add(1)
	telemetry.WebRTCPeers.Set(float64(count))
	telemetry.WebRTCPeersTotal.Inc()
	b.logger.Info().Str("peer_id", peer.id).Int("total_peers", count).Msg("peer registered")
	b.publish(events.EventListenerJoined, peer, count)
}

func (b *Broadcaster) removePeer(peer *peerConnection) {
	b.mu.Lock()
	_, present := b.peers[peer.id]
	delete(b.peers, peer.id)
	count := len(b.peers)
	b.mu.Unlock()

	peer.pc.Close()
	peer.finish()
	if !present {
		return
	}
	telemetry.WebRTCPeers.Set(float64(count))
	b.logger.Info().Str("peer_id", peer.id).Int("total_peers", count).Msg("peer disconnected")
	b.publish(events.EventListenerLeft, peer, count)
}

func (b *Broadcaster) publish(eventType events.EventType, peer *peerConnection, count int) {
	if b.bus == nil {
		return
	}
	b.bus.Publish(eventType, events.Payload{
		"peer_id":  peer.id,
		"identity": peer.identity,
		"peers":    count,
	})
}
