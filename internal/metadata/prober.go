/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package metadata discovers the "now playing" title of live streams.
package metadata

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Prober fetches the current title of a stream. An empty title with a nil
// error means the stream does not advertise one.
type Prober interface {
	Probe(ctx context.Context, url string) (string, error)
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, url string) (string, error)

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context, url string) (string, error) {
	return f(ctx, url)
}

// FFprobe reads StreamTitle through the ffprobe binary.
type FFprobe struct {
	Bin string
}

// NewFFprobe returns a prober running bin (default "ffprobe").
func NewFFprobe(bin string) *FFprobe {
	if bin == "" {
		bin = "ffprobe"
	}
	return &FFprobe{Bin: bin}
}

// Args returns the ffprobe arguments used for url.
func (f *FFprobe) Args(url string) []string {
	return []string{
		"-v", "quiet",
		"-show_entries", "format_tags=StreamTitle",
		"-of", "default=noprint_wrappers=1:nokey=1",
		url,
	}
}

// Probe runs ffprobe; ctx bounds the process lifetime.
func (f *FFprobe) Probe(ctx context.Context, url string) (string, error) {
	cmd := exec.CommandContext(ctx, f.Bin, f.Args(url)...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("ffprobe: %w", ctx.Err())
		}
		return "", fmt.Errorf("ffprobe: %w", err)
	}
	return strings.TrimSpace(stdout.String()), nil
}
