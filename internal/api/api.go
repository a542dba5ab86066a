/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api is the JSON control surface. It validates every request
// before it reaches the playback engine.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/radiorelay/internal/events"
	"github.com/friendsincode/radiorelay/internal/playback"
	"github.com/friendsincode/radiorelay/internal/stations"
)

const (
	maxURLLength   = 2048
	maxBodyBytes   = 64 << 10
	defaultAddedBy = "Unknown"
)

// Engine is the subset of the playback engine the control surface drives.
type Engine interface {
	State() playback.State
	Enqueue(ctx context.Context, url, title, addedBy string) (playback.QueueEntry, error)
	Remove(id string) bool
	Skip(ctx context.Context)
	SetStation(ctx context.Context, id string) bool
	SetVolume(v int) int
	TogglePause(ctx context.Context) bool
}

// Directory lists and resolves stations.
type Directory interface {
	List() []stations.Station
	Get(id string) (stations.Station, bool)
}

// API exposes HTTP handlers.
type API struct {
	engine   Engine
	dir      Directory
	bus      *events.Bus
	queueCap int
	logger   zerolog.Logger
}

// New creates the API. bus may be nil, which disables /events.
func New(engine Engine, dir Directory, bus *events.Bus, queueCap int, logger zerolog.Logger) *API {
	if queueCap <= 0 {
		queueCap = playback.DefaultQueueCap
	}
	return &API{
		engine:   engine,
		dir:      dir,
		bus:      bus,
		queueCap: queueCap,
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// Routes registers the control surface on r.
func (a *API) Routes(r chi.Router) {
	r.Get("/health", a.handleHealth)
	r.Get("/status", a.handleStatus)
	r.Get("/stations", a.handleStations)

	r.Post("/queue", a.handleQueue)
	r.Post("/remove", a.handleRemove)
	r.Post("/skip", a.handleSkip)
	r.Post("/station", a.handleStation)
	r.Post("/volume", a.handleVolume)
	r.Post("/pause", a.handlePause)

	if a.bus != nil {
		r.Get("/events", a.handleEvents)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// decodeBody reads a JSON object into dst, answering 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return false
	}
	return true
}
