/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package webrtc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/friendsincode/radiorelay/internal/events"
	"github.com/friendsincode/radiorelay/internal/pcm"
)

type stubEncoder struct {
	calls int
	err   error
}

func (s *stubEncoder) Encode(samples []int16, out []byte) (int, error) {
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	if len(samples) != pcm.SamplesPerFrame*pcm.Channels {
		return 0, errors.New("unexpected frame size")
	}
	out[0] = 0xFC
	return 1, nil
}

func newTestBroadcaster(t *testing.T, enc frameEncoder, bus events.Publisher) *Broadcaster {
	t.Helper()
	b, err := newBroadcaster(Config{}, enc, bus, zerolog.Nop())
	if err != nil {
		t.Fatalf("newBroadcaster: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestWriteFrameWithoutPeersAdvancesTimeline(t *testing.T) {
	enc := &stubEncoder{}
	b := newTestBroadcaster(t, enc, nil)
	frame := make([]byte, pcm.FrameBytes)

	for i := 0; i < 3; i++ {
		if err := b.WriteFrame(context.Background(), frame); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}

	if enc.calls != 0 {
		t.Fatalf("encoded %d frames with no listeners", enc.calls)
	}
	if b.seqNum != 3 || b.ts != 3*pcm.SamplesPerFrame {
		t.Fatalf("seq=%d ts=%d, want 3 and %d", b.seqNum, b.ts, 3*pcm.SamplesPerFrame)
	}
	stats := b.Stats()
	if stats["frames"].(int64) != 3 || stats["frames_idle"].(int64) != 3 {
		t.Fatalf("stats = %v", stats)
	}
}

func TestWriteFrameIsPaced(t *testing.T) {
	b := newTestBroadcaster(t, &stubEncoder{}, nil)
	frame := make([]byte, pcm.FrameBytes)

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := b.WriteFrame(context.Background(), frame); err != nil {
			t.Fatal(err)
		}
	}
	// Five frames occupy four full periods after the first.
	if elapsed := time.Since(start); elapsed < 4*pcm.FrameDuration-5*time.Millisecond {
		t.Fatalf("5 frames took %v, expected real-time pacing", elapsed)
	}
}

func TestWriteFrameHonorsCancel(t *testing.T) {
	b := newTestBroadcaster(t, &stubEncoder{}, nil)
	frame := make([]byte, pcm.FrameBytes)
	_ = b.WriteFrame(context.Background(), frame)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.WriteFrame(ctx, frame); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestICEServers(t *testing.T) {
	b := newTestBroadcaster(t, &stubEncoder{}, nil)
	if len(b.iceServers()) != 0 {
		t.Fatal("expected no ICE servers by default")
	}

	b.config = Config{
		STUNServer:   "stun:stun.example.com:3478",
		TURNServer:   "turn:turn.example.com:3478",
		TURNUsername: "u",
		TURNPassword: "p",
	}
	servers := b.iceServers()
	if len(servers) != 2 {
		t.Fatalf("got %d servers", len(servers))
	}
	if servers[1].Username != "u" || servers[1].Credential != "p" {
		t.Fatalf("turn server = %+v", servers[1])
	}
}

func TestSignalingHandshake(t *testing.T) {
	bus := events.NewBus()
	joined := bus.Subscribe(events.EventListenerJoined)
	left := bus.Subscribe(events.EventListenerLeft)

	enc := &stubEncoder{}
	b := newTestBroadcaster(t, enc, bus)
	srv := httptest.NewServer(http.HandlerFunc(b.HandleSignaling))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	var offer SignalMessage
	if err := wsjson.Read(ctx, conn, &offer); err != nil {
		t.Fatalf("read offer: %v", err)
	}
	if offer.Type != "offer" || offer.SDP == nil {
		t.Fatalf("first message = %+v", offer)
	}
	if !strings.Contains(offer.SDP.SDP, "opus/48000/2") {
		t.Fatalf("offer does not advertise stereo opus:\n%s", offer.SDP.SDP)
	}

	client, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	if err := client.SetRemoteDescription(*offer.SDP); err != nil {
		t.Fatalf("client SetRemoteDescription: %v", err)
	}
	answer, err := client.CreateAnswer(nil)
	if err != nil {
		t.Fatalf("CreateAnswer: %v", err)
	}
	gathered := webrtc.GatheringCompletePromise(client)
	if err := client.SetLocalDescription(answer); err != nil {
		t.Fatal(err)
	}
	<-gathered
	if err := wsjson.Write(ctx, conn, SignalMessage{Type: "answer", SDP: client.LocalDescription()}); err != nil {
		t.Fatalf("send answer: %v", err)
	}

	select {
	case p := <-joined:
		if p["peers"] != 1 {
			t.Fatalf("joined payload = %v", p)
		}
	case <-ctx.Done():
		t.Fatal("no listener_joined event")
	}
	if b.PeerCount() != 1 {
		t.Fatalf("PeerCount = %d, want 1", b.PeerCount())
	}

	if err := b.WriteFrame(ctx, make([]byte, pcm.FrameBytes)); err != nil {
		t.Fatalf("WriteFrame with a peer: %v", err)
	}
	if enc.calls != 1 {
		t.Fatalf("encoder calls = %d, want 1", enc.calls)
	}

	conn.Close(websocket.StatusNormalClosure, "bye")
	select {
	case <-left:
	case <-ctx.Done():
		t.Fatal("no listener_left event")
	}
	if b.PeerCount() != 0 {
		t.Fatalf("PeerCount = %d after disconnect", b.PeerCount())
	}
}
