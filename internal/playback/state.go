/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"net/url"
	"path"
	"strings"

	"github.com/friendsincode/radiorelay/internal/stations"
)

// Mode is what the engine is playing.
type Mode string

const (
	// ModeAmbient plays the current station until something is queued.
	ModeAmbient Mode = "radio"
	// ModeQueued plays user-submitted entries in order.
	ModeQueued Mode = "queue"
)

// QueueEntry is one user-submitted track.
type QueueEntry struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Title   string `json:"title"`
	AddedBy string `json:"addedBy"`
}

// State is an immutable snapshot of the engine. Slices are never modified
// after the snapshot is published.
type State struct {
	Mode           Mode              `json:"mode"`
	Paused         bool              `json:"paused"`
	Volume         int               `json:"volume"`
	NowPlaying     string            `json:"nowPlaying"`
	CurrentStation *stations.Station `json:"currentStation"`
	CurrentTrack   *QueueEntry       `json:"currentTrack"`
	Queue          []QueueEntry      `json:"queue"`
	Generation     uint64            `json:"generation"`
}

// TitleFromURL derives a display title from the last path segment of
// rawURL with its extension removed, falling back to rawURL itself.
func TitleFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	escaped := u.EscapedPath()
	if escaped == "" || strings.HasSuffix(escaped, "/") {
		return rawURL
	}
	// Split before unescaping so %2F stays part of the name.
	name := escaped[strings.LastIndex(escaped, "/")+1:]
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	if ext := path.Ext(name); ext != "" && ext != name {
		name = strings.TrimSuffix(name, ext)
	}
	if name == "" {
		return rawURL
	}
	return name
}
