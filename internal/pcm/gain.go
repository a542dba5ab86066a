/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package pcm

import (
	"encoding/binary"
	"math"
)

// MaxVolume is the unity-gain volume.
const MaxVolume = 100

// ClampVolume limits v to [0, MaxVolume].
func ClampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > MaxVolume {
		return MaxVolume
	}
	return v
}

// ApplyGain scales every s16le sample of frame by volume/100 in place and
// returns it. At volume >= 100 the frame is returned untouched.
func ApplyGain(frame []byte, volume int) []byte {
	if volume >= MaxVolume {
		return frame
	}
	if volume < 0 {
		volume = 0
	}

	gain := float64(volume) / MaxVolume
	for i := 0; i+1 < len(frame); i += BytesPerSample {
		sample := int16(binary.LittleEndian.Uint16(frame[i:]))
		scaled := math.Round(float64(sample) * gain)
		binary.LittleEndian.PutUint16(frame[i:], uint16(clampSample(scaled)))
	}
	return frame
}

func clampSample(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// Int16s decodes an s16le frame into interleaved samples.
func Int16s(frame []byte) []int16 {
	samples := make([]int16, len(frame)/BytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(frame[i*BytesPerSample:]))
	}
	return samples
}
