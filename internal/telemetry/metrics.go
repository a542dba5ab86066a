/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "radiorelay"

// Control surface metrics.
var (
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_total",
		Help:      "Control surface requests by method, route and status.",
	}, []string{"method", "endpoint", "status"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "api_request_duration_seconds",
		Help:      "Control surface request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "api_active_connections",
		Help:      "In-flight control surface requests.",
	})
)

// Decoder metrics.
var (
	DecoderSpawnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decoder_spawns_total",
		Help:      "Decoder processes started, by result.",
	}, []string{"result"})

	DecoderForcedKillsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decoder_forced_kills_total",
		Help:      "Decoder processes killed after the termination timeout.",
	})

	DecoderExitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decoder_unexpected_exits_total",
		Help:      "Current decoder processes that ended on their own.",
	})

	FramesEmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_emitted_total",
		Help:      "Audio frames delivered to the sink.",
	})

	FramesDiscardedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_discarded_total",
		Help:      "Frames dropped because their generation was superseded.",
	})

	Generation = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "decoder_generation",
		Help:      "Current decode generation.",
	})
)

// Playback metrics.
var (
	PlaybackTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "playback_transitions_total",
		Help:      "Source changes by reason.",
	}, []string{"reason"})

	PlaybackQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "playback_queue_length",
		Help:      "Pending queue entries.",
	})

	PlaybackMode = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "playback_mode",
		Help:      "1 for the active playback mode.",
	}, []string{"mode"})

	MetadataProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "metadata_probes_total",
		Help:      "Stream title probes by outcome.",
	}, []string{"outcome"})
)

// Transport metrics.
var (
	WebRTCPeers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "webrtc_peers",
		Help:      "Connected WebRTC listeners.",
	})

	WebRTCPeersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webrtc_peers_total",
		Help:      "WebRTC listeners accepted since start.",
	})

	OpusBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "opus_bytes_total",
		Help:      "Encoded Opus payload bytes written to the shared track.",
	})

	SinkErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sink_errors_total",
		Help:      "Frame delivery failures by stage.",
	}, []string{"stage"})
)

// Event mirror metrics.
var (
	EventsMirroredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_mirrored_total",
		Help:      "Events forwarded to the external broker, by type.",
	}, []string{"event_type"})

	EventMirrorErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_mirror_errors_total",
		Help:      "Events the external broker did not accept.",
	})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
