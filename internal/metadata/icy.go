/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package metadata

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// ErrNoMetaint is returned when the server does not interleave ICY metadata.
var ErrNoMetaint = errors.New("icy: server did not send icy-metaint")

// maxMetaint bounds how much audio is skipped before the first metadata block.
const maxMetaint = 1 << 20

// ICY reads in-band SHOUTcast/Icecast metadata over HTTP. It avoids a
// process spawn per poll and works where ffprobe is not installed.
type ICY struct {
	Client    *http.Client
	UserAgent string
}

// NewICY returns an ICY prober using client (http.DefaultClient when nil).
func NewICY(client *http.Client) *ICY {
	if client == nil {
		client = http.DefaultClient
	}
	return &ICY{Client: client, UserAgent: "radiorelay"}
}

// Probe requests the stream with Icy-MetaData, skips the first audio block
// and decodes the metadata block that follows.
func (p *ICY) Probe(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("icy request: %w", err)
	}
	req.Header.Set("Icy-MetaData", "1")
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("icy request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("icy request: unexpected status %d", resp.StatusCode)
	}

	metaint, err := strconv.Atoi(resp.Header.Get("icy-metaint"))
	if err != nil || metaint <= 0 {
		return "", ErrNoMetaint
	}
	if metaint > maxMetaint {
		return "", fmt.Errorf("icy: metaint %d too large", metaint)
	}

	block, err := ReadMetadataBlock(bufio.NewReader(resp.Body), metaint)
	if err != nil {
		return "", err
	}
	return ParseStreamTitle(block), nil
}

// ReadMetadataBlock discards metaint audio bytes from r and returns the
// metadata block that follows. The block length is the first byte times 16.
func ReadMetadataBlock(r io.Reader, metaint int) (string, error) {
	if _, err := io.CopyN(io.Discard, r, int64(metaint)); err != nil {
		return "", fmt.Errorf("icy: skip audio: %w", err)
	}

	var lenByte [1]byte
	if _, err := io.ReadFull(r, lenByte[:]); err != nil {
		return "", fmt.Errorf("icy: read block length: %w", err)
	}
	size := int(lenByte[0]) * 16
	if size == 0 {
		return "", nil
	}

	block := make([]byte, size)
	if _, err := io.ReadFull(r, block); err != nil {
		return "", fmt.Errorf("icy: read block: %w", err)
	}
	return strings.TrimRight(string(block), "\x00"), nil
}

// ParseStreamTitle extracts StreamTitle='...' from a metadata block.
func ParseStreamTitle(block string) string {
	const key = "StreamTitle='"
	start := strings.Index(block, key)
	if start < 0 {
		return ""
	}
	rest := block[start+len(key):]

	// Titles may contain quotes; the value ends at the "';" field separator.
	if end := strings.Index(rest, "';"); end >= 0 {
		return strings.TrimSpace(rest[:end])
	}
	return strings.TrimSpace(strings.TrimSuffix(rest, "'"))
}
