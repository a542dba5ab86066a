/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/friendsincode/radiorelay/internal/api"
	"github.com/friendsincode/radiorelay/internal/auth"
	"github.com/friendsincode/radiorelay/internal/config"
	"github.com/friendsincode/radiorelay/internal/decoder"
	"github.com/friendsincode/radiorelay/internal/discovery"
	"github.com/friendsincode/radiorelay/internal/eventbus"
	"github.com/friendsincode/radiorelay/internal/events"
	"github.com/friendsincode/radiorelay/internal/metadata"
	"github.com/friendsincode/radiorelay/internal/pcm"
	"github.com/friendsincode/radiorelay/internal/playback"
	"github.com/friendsincode/radiorelay/internal/stations"
	"github.com/friendsincode/radiorelay/internal/telemetry"
	"github.com/friendsincode/radiorelay/internal/version"
	"github.com/friendsincode/radiorelay/internal/webrtc"
)

const shutdownTimeout = 10 * time.Second

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	bus         *events.Bus
	dir         *stations.Directory
	decoder     *decoder.Supervisor
	broadcaster *webrtc.Broadcaster
	engine      *playback.Engine
	api         *api.API
	mirror      eventbus.Publisher
}

// New constructs the server and wires dependencies. Nothing plays and no
// socket is bound until Run.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("radiorelay-api"))
	router.Use(telemetry.MetricsMiddleware)
	// WebSocket routes are long-lived; everything else gets a deadline.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(30 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
		bus:    events.NewBus(),
	}

	if err := srv.initDependencies(ctx); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()

	srv.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// WriteTimeout stays 0 for websocket routes; the middleware
		// timeout covers plain requests.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

func (s *Server) initDependencies(ctx context.Context) error {
	dir := stations.NewBuiltinDirectory()
	if s.cfg.StationsFile != "" {
		loaded, err := stations.LoadFile(s.cfg.StationsFile)
		if err != nil {
			return fmt.Errorf("load stations: %w", err)
		}
		dir = loaded
	}
	s.dir = dir
	s.logger.Info().Int("stations", len(dir.List())).Str("default", dir.Default().ID).Msg("station directory ready")

	var sink pcm.Sink
	if s.cfg.WebRTCEnabled {
		b, err := webrtc.NewBroadcaster(webrtc.Config{
			STUNServer:   s.cfg.WebRTCSTUNURL,
			TURNServer:   s.cfg.WebRTCTURNURL,
			TURNUsername: s.cfg.WebRTCTURNUsername,
			TURNPassword: s.cfg.WebRTCTURNPassword,
			Bitrate:      s.cfg.OpusBitrate,
		}, s.bus, s.logger)
		if err != nil {
			return fmt.Errorf("create webrtc broadcaster: %w", err)
		}
		s.broadcaster = b
		s.DeferClose(b.Close)
		sink = b
		s.logger.Info().
			Int("bitrate", s.cfg.OpusBitrate).
			Bool("turn_enabled", s.cfg.WebRTCTURNURL != "").
			Bool("auth", s.cfg.JWTSigningKey != "").
			Msg("WebRTC broadcaster initialized")
	} else {
		s.logger.Warn().Msg("WebRTC disabled, decoded audio is paced and discarded")
		sink = pcm.NewNullSink(pcm.NewPacer(pcm.FrameDuration, pcm.DefaultMaxLag))
	}

	decCfg := decoder.DefaultConfig()
	decCfg.FFmpegBin = s.cfg.FFmpegBin
	decCfg.StopTimeout = s.cfg.StopTimeout
	s.decoder = decoder.NewSupervisor(decCfg, sink, s.logger)

	var prober metadata.Prober
	switch s.cfg.Prober {
	case config.ProberICY:
		icy := metadata.NewICY(&http.Client{Timeout: s.cfg.PollTimeout})
		icy.UserAgent = version.UserAgent()
		prober = icy
	default:
		prober = metadata.NewFFprobe(s.cfg.FFprobeBin)
	}

	s.engine = playback.New(playback.Config{
		Cooldown:      s.cfg.Cooldown,
		DefaultVolume: s.cfg.DefaultVolume,
		QueueCap:      s.cfg.QueueCap,
		StationID:     s.cfg.StationID,
		PollInterval:  s.cfg.PollInterval,
		PollTimeout:   s.cfg.PollTimeout,
	}, dir, s.decoder, prober, s.bus, s.logger)
	// Registered after the sink so the engine stops the decoder first.
	s.DeferClose(s.engine.Close)

	s.api = api.New(s.engine, dir, s.bus, s.cfg.QueueCap, s.logger)

	mirror, err := newMirror(ctx, s.cfg, s.logger)
	if err != nil {
		// The relay works without the mirror; listeners never see it.
		s.logger.Warn().Err(err).Str("mirror", string(s.cfg.EventMirror)).Msg("event mirror unavailable, continuing without it")
	}
	s.mirror = mirror

	return nil
}

func newMirror(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (eventbus.Publisher, error) {
	switch cfg.EventMirror {
	case config.MirrorRedis:
		redisCfg := eventbus.DefaultRedisConfig()
		redisCfg.Addr = cfg.RedisAddr
		redisCfg.Password = cfg.RedisPassword
		redisCfg.DB = cfg.RedisDB
		rp, err := eventbus.NewRedisPublisher(ctx, redisCfg, logger)
		if err != nil {
			return nil, err
		}
		return rp, nil
	case config.MirrorNATS:
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = cfg.NATSURL
		natsCfg.Token = cfg.NATSToken
		np, err := eventbus.NewNATSPublisher(natsCfg, logger)
		if err != nil {
			return nil, err
		}
		return np, nil
	default:
		return nil, nil
	}
}

func (s *Server) configureRoutes() {
	if s.cfg.MetricsBind == "" {
		s.router.Handle("/metrics", telemetry.Handler())
	}

	s.api.Routes(s.router)

	if s.broadcaster != nil {
		s.router.With(auth.Middleware([]byte(s.cfg.JWTSigningKey))).
			Get("/webrtc/signal", s.broadcaster.HandleSignaling)
		s.router.Get("/webrtc/stats", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			body, err := s.broadcaster.MarshalJSON()
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			_, _ = w.Write(body)
		})
	}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Engine exposes the playback engine.
func (s *Server) Engine() *playback.Engine {
	return s.engine
}

// Run starts playback and every background service, and serves HTTP until
// ctx is cancelled or a service fails. It shuts the HTTP servers down
// gracefully before returning.
func (s *Server) Run(ctx context.Context) error {
	if err := s.engine.Start(ctx); err != nil {
		return fmt.Errorf("start playback: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.httpServer.Addr, err)
	}

	g.Go(func() error {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("HTTP server listening")
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return shutdownHTTP(s.httpServer)
	})

	if s.cfg.MetricsBind != "" {
		metricsSrv := &http.Server{
			Addr:              s.cfg.MetricsBind,
			Handler:           telemetry.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			s.logger.Info().Str("addr", s.cfg.MetricsBind).Msg("metrics server listening")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return shutdownHTTP(metricsSrv)
		})
	}

	if s.cfg.StationsFile != "" {
		g.Go(func() error {
			err := s.dir.Watch(ctx, s.cfg.StationsFile, s.logger, func() {
				s.bus.Publish(events.EventStationsReloaded, events.Payload{"count": len(s.dir.List())})
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				// Hot reload is a convenience; the loaded list stays valid.
				s.logger.Error().Err(err).Msg("stations watcher stopped")
			}
			return nil
		})
	}

	if s.mirror != nil {
		bridge := eventbus.NewBridge(s.bus, s.mirror, s.cfg.EventPrefix, eventbus.NodeID(), s.logger)
		g.Go(func() error {
			if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("event mirror stopped")
			}
			return nil
		})
	}

	if s.cfg.MDNSEnabled {
		g.Go(func() error {
			err := discovery.Advertise(ctx, discovery.Config{
				Name: s.cfg.MDNSName,
				Port: s.cfg.HTTPPort,
				Room: s.cfg.RoomName,
			}, s.logger)
			if err != nil {
				s.logger.Warn().Err(err).Msg("mDNS advertisement failed")
			}
			return nil
		})
	}

	return g.Wait()
}

func shutdownHTTP(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown %s: %w", srv.Addr, err)
	}
	return nil
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

// requestLogger logs one line per request through zerolog.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	logger = logger.With().Str("component", "http").Logger()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			level := zerolog.DebugLevel
			if ww.Status() >= http.StatusInternalServerError {
				level = zerolog.WarnLevel
			}
			logger.WithLevel(level).
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}
