/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package pcm holds the fixed relay audio format and the frame-level
// processing applied between the decoder and the sink.
package pcm

import (
	"context"
	"time"
)

const (
	// SampleRate is the decoder output rate in Hz.
	SampleRate = 48000
	// Channels is the interleaved channel count.
	Channels = 2
	// BytesPerSample is the width of one s16le sample.
	BytesPerSample = 2

	// FrameDurationMs is the duration of one frame handed to the sink.
	FrameDurationMs = 20
	// SamplesPerFrame is the per-channel sample count of one frame (960).
	SamplesPerFrame = SampleRate * FrameDurationMs / 1000
	// FrameBytes is the size of one frame in bytes (3840).
	FrameBytes = SamplesPerFrame * Channels * BytesPerSample

	// FrameDuration is FrameDurationMs as a time.Duration.
	FrameDuration = FrameDurationMs * time.Millisecond
)

// Sink consumes finished frames. WriteFrame may block (back-pressure) but
// must return once ctx is cancelled.
type Sink interface {
	WriteFrame(ctx context.Context, frame []byte) error
}
