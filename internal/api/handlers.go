/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/friendsincode/radiorelay/internal/playback"
	"github.com/friendsincode/radiorelay/internal/stations"
)

type statusResponse struct {
	playback.State
	Stations []stations.Station `json:"stations"`
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		State:    a.engine.State(),
		Stations: a.dir.List(),
	})
}

func (a *API) handleStations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"stations": a.dir.List()})
}

type queueRequest struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	AddedBy string `json:"addedBy"`
}

func (a *API) handleQueue(w http.ResponseWriter, r *http.Request) {
	var req queueRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if msg := validateSourceURL(req.URL); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	queueFull := fmt.Sprintf("Queue is full (max %d)", a.queueCap)
	if len(a.engine.State().Queue) >= a.queueCap {
		writeError(w, http.StatusBadRequest, queueFull)
		return
	}
	if req.AddedBy == "" {
		req.AddedBy = defaultAddedBy
	}

	entry, err := a.engine.Enqueue(r.Context(), req.URL, strings.TrimSpace(req.Title), req.AddedBy)
	switch {
	case errors.Is(err, playback.ErrQueueFull):
		writeError(w, http.StatusBadRequest, queueFull)
		return
	case errors.Is(err, playback.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "shutting_down")
		return
	case err != nil:
		a.logger.Error().Err(err).Msg("enqueue failed")
		writeError(w, http.StatusInternalServerError, "enqueue_failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"entry": entry})
}

// validateSourceURL returns a client-facing message, or "" when raw is an
// acceptable http(s) URL.
func validateSourceURL(raw string) string {
	if raw == "" {
		return "url is required"
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return "url must be a valid HTTP(S) URL"
	}
	if len(raw) > maxURLLength {
		return "url too long"
	}
	if u, err := url.Parse(raw); err != nil || u.Host == "" {
		return "url must be a valid HTTP(S) URL"
	}
	return ""
}

func (a *API) handleRemove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID json.RawMessage `json:"id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	id := entryID(req.ID)
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": a.engine.Remove(id)})
}

// entryID accepts ids sent as strings or numbers.
func entryID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil && n != 0 {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return ""
}

func (a *API) handleSkip(w http.ResponseWriter, r *http.Request) {
	a.engine.Skip(r.Context())
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *API) handleStation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StationID string `json:"stationId"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if _, ok := a.dir.Get(req.StationID); req.StationID == "" || !ok {
		writeError(w, http.StatusBadRequest, "Invalid stationId")
		return
	}
	if !a.engine.SetStation(r.Context(), req.StationID) {
		writeError(w, http.StatusBadRequest, "Invalid stationId")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *API) handleVolume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Volume json.RawMessage `json:"volume"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	var v float64
	if len(req.Volume) == 0 || json.Unmarshal(req.Volume, &v) != nil || v < 0 || v > 100 {
		writeError(w, http.StatusBadRequest, "volume must be 0-100")
		return
	}
	a.engine.SetVolume(int(v))
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *API) handlePause(w http.ResponseWriter, r *http.Request) {
	paused := a.engine.TogglePause(r.Context())
	writeJSON(w, http.StatusOK, map[string]bool{"paused": paused})
}
