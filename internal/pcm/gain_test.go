/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package pcm

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func frameOf(samples ...int16) []byte {
	buf := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*BytesPerSample:], uint16(s))
	}
	return buf
}

func TestApplyGain_UnityIsIdentity(t *testing.T) {
	in := frameOf(1, -1, math.MaxInt16, math.MinInt16, 12345)
	orig := append([]byte(nil), in...)

	out := ApplyGain(in, 100)
	if !bytes.Equal(out, orig) {
		t.Fatalf("ApplyGain(100) modified frame: %v != %v", out, orig)
	}
}

func TestApplyGain_Scales(t *testing.T) {
	tests := []struct {
		name   string
		in     int16
		volume int
		want   int16
	}{
		{"half positive", 1000, 50, 500},
		{"half negative", -1000, 50, -500},
		{"mute", 32000, 0, 0},
		{"min sample", math.MinInt16, 50, -16384},
		{"rounding", 3, 50, 2},
		{"negative volume mutes", 500, -5, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Int16s(ApplyGain(frameOf(tt.in), tt.volume))[0]
			if got != tt.want {
				t.Errorf("ApplyGain(%d, %d) = %d, want %d", tt.in, tt.volume, got, tt.want)
			}
		})
	}
}

func TestApplyGain_Monotonic(t *testing.T) {
	samples := []int16{math.MaxInt16, math.MinInt16, 1, -1, 777, -20000}

	for _, s := range samples {
		prev := -1
		for v := 0; v <= 100; v++ {
			got := Int16s(ApplyGain(frameOf(s), v))[0]
			mag := int(got)
			if mag < 0 {
				mag = -mag
			}
			if mag < prev {
				t.Fatalf("sample %d: |gain(%d)| = %d < |gain(%d)| = %d", s, v, mag, v-1, prev)
			}
			prev = mag
		}
	}
}

func TestClampVolume(t *testing.T) {
	for in, want := range map[int]int{-3: 0, 0: 0, 55: 55, 100: 100, 150: 100} {
		if got := ClampVolume(in); got != want {
			t.Errorf("ClampVolume(%d) = %d, want %d", in, got, want)
		}
	}
}
