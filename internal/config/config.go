/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ProberKind selects how station metadata is fetched.
type ProberKind string

const (
	ProberFFprobe ProberKind = "ffprobe"
	ProberICY     ProberKind = "icy"
)

// MirrorKind selects where bus events are republished.
type MirrorKind string

const (
	MirrorNone  MirrorKind = "none"
	MirrorRedis MirrorKind = "redis"
	MirrorNATS  MirrorKind = "nats"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	MetricsBind string

	// Decoder
	FFmpegBin   string
	StopTimeout time.Duration

	// Metadata
	FFprobeBin   string
	Prober       ProberKind
	PollInterval time.Duration
	PollTimeout  time.Duration

	// Playback
	Cooldown      time.Duration
	DefaultVolume int
	QueueCap      int
	StationID     string
	StationsFile  string

	// WebRTC sink
	WebRTCEnabled      bool
	WebRTCSTUNURL      string
	WebRTCTURNURL      string
	WebRTCTURNUsername string
	WebRTCTURNPassword string
	OpusBitrate        int

	// Listener tokens
	JWTSigningKey string
	RoomName      string

	// Event mirroring
	EventMirror   MirrorKind
	EventPrefix   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NATSURL       string
	NATSToken     string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// mDNS advertisement
	MDNSEnabled bool
	MDNSName    string

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"RELAY_ENV", "NODE_ENV"}, "development"),
		HTTPBind:    getEnvAny([]string{"RELAY_HTTP_BIND", "HOST"}, "0.0.0.0"),
		HTTPPort:    getEnvIntAny([]string{"RELAY_HTTP_PORT", "PORT"}, 3001),
		MetricsBind: getEnvAny([]string{"RELAY_METRICS_BIND"}, ""),

		FFmpegBin:   getEnvAny([]string{"RELAY_FFMPEG_BIN", "FFMPEG_PATH"}, "ffmpeg"),
		StopTimeout: getEnvDurationAny([]string{"RELAY_DECODER_STOP_TIMEOUT"}, 3*time.Second),

		FFprobeBin:   getEnvAny([]string{"RELAY_FFPROBE_BIN", "FFPROBE_PATH"}, "ffprobe"),
		Prober:       ProberKind(strings.ToLower(getEnvAny([]string{"RELAY_METADATA_PROBER"}, string(ProberFFprobe)))),
		PollInterval: getEnvDurationAny([]string{"RELAY_METADATA_INTERVAL"}, 15*time.Second),
		PollTimeout:  getEnvDurationAny([]string{"RELAY_METADATA_TIMEOUT"}, 10*time.Second),

		Cooldown:      getEnvDurationAny([]string{"RELAY_COOLDOWN"}, 3*time.Second),
		DefaultVolume: getEnvIntAny([]string{"RELAY_DEFAULT_VOLUME"}, 80),
		QueueCap:      getEnvIntAny([]string{"RELAY_QUEUE_CAP"}, 50),
		StationID:     getEnvAny([]string{"RELAY_STATION", "DEFAULT_STATION"}, ""),
		StationsFile:  getEnvAny([]string{"RELAY_STATIONS_FILE"}, ""),

		// WebRTC is the only sink that reaches listeners, so it defaults on.
		WebRTCEnabled:      getEnvBoolAny([]string{"RELAY_WEBRTC_ENABLED", "WEBRTC_ENABLED"}, true),
		WebRTCSTUNURL:      getEnvAny([]string{"RELAY_WEBRTC_STUN_URL", "WEBRTC_STUN_URL"}, "stun:stun.l.google.com:19302"),
		WebRTCTURNURL:      getEnvAny([]string{"RELAY_WEBRTC_TURN_URL", "WEBRTC_TURN_URL"}, ""),
		WebRTCTURNUsername: getEnvAny([]string{"RELAY_WEBRTC_TURN_USERNAME", "WEBRTC_TURN_USERNAME"}, ""),
		WebRTCTURNPassword: getEnvAny([]string{"RELAY_WEBRTC_TURN_PASSWORD", "WEBRTC_TURN_PASSWORD"}, ""),
		OpusBitrate:        getEnvIntAny([]string{"RELAY_OPUS_BITRATE"}, 128000),

		JWTSigningKey: getEnvAny([]string{"RELAY_JWT_SIGNING_KEY", "LIVEKIT_API_SECRET"}, ""),
		RoomName:      getEnvAny([]string{"RELAY_ROOM_NAME", "MUSIC_ROOM_NAME"}, "main"),

		EventMirror:   MirrorKind(strings.ToLower(getEnvAny([]string{"RELAY_EVENT_MIRROR"}, string(MirrorNone)))),
		EventPrefix:   getEnvAny([]string{"RELAY_EVENT_PREFIX"}, "radiorelay"),
		RedisAddr:     getEnvAny([]string{"RELAY_REDIS_ADDR", "REDIS_ADDR"}, "localhost:6379"),
		RedisPassword: getEnvAny([]string{"RELAY_REDIS_PASSWORD", "REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"RELAY_REDIS_DB", "REDIS_DB"}, 0),
		NATSURL:       getEnvAny([]string{"RELAY_NATS_URL", "NATS_URL"}, "nats://127.0.0.1:4222"),
		NATSToken:     getEnvAny([]string{"RELAY_NATS_TOKEN", "NATS_TOKEN"}, ""),

		TracingEnabled:    getEnvBoolAny([]string{"RELAY_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"RELAY_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"RELAY_TRACING_SAMPLE_RATE"}, 1.0),

		MDNSEnabled: getEnvBoolAny([]string{"RELAY_MDNS_ENABLED"}, false),
		MDNSName:    getEnvAny([]string{"RELAY_MDNS_NAME"}, ""),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("RELAY_HTTP_PORT out of range: %d", c.HTTPPort)
	}
	if c.Prober != ProberFFprobe && c.Prober != ProberICY {
		return fmt.Errorf("unsupported metadata prober %q", c.Prober)
	}
	if c.PollInterval <= 0 || c.PollTimeout <= 0 {
		return fmt.Errorf("RELAY_METADATA_INTERVAL and RELAY_METADATA_TIMEOUT must be positive")
	}
	if c.Cooldown < 0 || c.StopTimeout <= 0 {
		return fmt.Errorf("RELAY_COOLDOWN must not be negative and RELAY_DECODER_STOP_TIMEOUT must be positive")
	}
	if c.DefaultVolume < 0 || c.DefaultVolume > 100 {
		return fmt.Errorf("RELAY_DEFAULT_VOLUME must be 0-100, got %d", c.DefaultVolume)
	}
	if c.QueueCap <= 0 {
		return fmt.Errorf("RELAY_QUEUE_CAP must be positive, got %d", c.QueueCap)
	}
	if c.OpusBitrate < 6000 || c.OpusBitrate > 510000 {
		return fmt.Errorf("RELAY_OPUS_BITRATE must be between 6000 and 510000, got %d", c.OpusBitrate)
	}
	switch c.EventMirror {
	case MirrorNone, MirrorRedis, MirrorNATS:
	default:
		return fmt.Errorf("unsupported event mirror %q", c.EventMirror)
	}
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		return fmt.Errorf("RELAY_TRACING_SAMPLE_RATE must be between 0 and 1")
	}

	if strings.EqualFold(c.Environment, "production") {
		if c.WebRTCTURNURL != "" && (c.WebRTCTURNUsername == "" || c.WebRTCTURNPassword == "") {
			return fmt.Errorf("RELAY_WEBRTC_TURN_USERNAME and RELAY_WEBRTC_TURN_PASSWORD are required when TURN is enabled in production")
		}
		if c.WebRTCEnabled && c.JWTSigningKey == "" {
			return fmt.Errorf("RELAY_JWT_SIGNING_KEY must be provided in production")
		}
	}
	return nil
}

// Addr is the control surface listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"LIVEKIT_URL":        "listeners connect through /webrtc/signal; no external SFU is used",
		"LIVEKIT_API_KEY":    "only RELAY_JWT_SIGNING_KEY is needed to sign listener tokens",
		"LIVEKIT_API_SECRET": "use RELAY_JWT_SIGNING_KEY",
		"MUSIC_ROOM_NAME":    "use RELAY_ROOM_NAME",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvDurationAny accepts Go durations ("3s") or bare milliseconds ("3000").
func getEnvDurationAny(keys []string, def time.Duration) time.Duration {
	for _, k := range keys {
		v := strings.TrimSpace(os.Getenv(k))
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return def
}
