/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package pcm

// Slicer accumulates a byte stream and cuts it into fixed-size frames.
// It is not safe for concurrent use; each decode generation owns one.
type Slicer struct {
	size int
	buf  []byte
}

// NewSlicer returns a slicer producing frames of size bytes.
func NewSlicer(size int) *Slicer {
	if size <= 0 {
		size = FrameBytes
	}
	return &Slicer{size: size, buf: make([]byte, 0, size*4)}
}

// Write appends p to the buffer. It never fails.
func (s *Slicer) Write(p []byte) (int, error) {
	s.buf = append(s.buf, p...)
	return len(p), nil
}

// Next removes exactly one frame from the front of the buffer.
// It returns false while less than a full frame is buffered.
func (s *Slicer) Next() ([]byte, bool) {
	if len(s.buf) < s.size {
		return nil, false
	}

	frame := make([]byte, s.size)
	copy(frame, s.buf[:s.size])

	remaining := copy(s.buf, s.buf[s.size:])
	s.buf = s.buf[:remaining]

	return frame, true
}

// Buffered reports how many bytes are waiting for a full frame.
func (s *Slicer) Buffered() int {
	return len(s.buf)
}
