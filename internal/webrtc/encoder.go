/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package webrtc

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"

	"github.com/friendsincode/radiorelay/internal/pcm"
)

// maxOpusPacket is the largest packet libopus produces.
const maxOpusPacket = 4000

// DefaultBitrate is the Opus bitrate used for the stereo relay stream.
const DefaultBitrate = 128000

// frameEncoder turns one PCM frame into one compressed packet.
type frameEncoder interface {
	Encode(samples []int16, out []byte) (int, error)
}

func newOpusEncoder(bitrate int) (*opus.Encoder, error) {
	enc, err := opus.NewEncoder(pcm.SampleRate, pcm.Channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	if bitrate <= 0 {
		bitrate = DefaultBitrate
	}
	if err := enc.SetBitrate(bitrate); err != nil {
		return nil, fmt.Errorf("set opus bitrate: %w", err)
	}
	return enc, nil
}
