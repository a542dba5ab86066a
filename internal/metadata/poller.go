/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package metadata

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/radiorelay/internal/telemetry"
)

const (
	DefaultInterval = 15 * time.Second
	DefaultTimeout  = 10 * time.Second
)

// Poller periodically probes one stream URL for its title.
type Poller struct {
	prober   Prober
	url      string
	interval time.Duration
	timeout  time.Duration
	onTitle  func(title string)
	logger   zerolog.Logger

	last string
}

// NewPoller creates a poller for url. onTitle runs on the poller goroutine
// whenever a probe yields a new non-empty title.
func NewPoller(prober Prober, url string, interval, timeout time.Duration, onTitle func(string), logger zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Poller{
		prober:   prober,
		url:      url,
		interval: interval,
		timeout:  timeout,
		onTitle:  onTitle,
		logger:   logger.With().Str("component", "metadata").Str("url", url).Logger(),
	}
}

// Run probes immediately and then every interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Debug().Dur("interval", p.interval).Msg("metadata poller started")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Debug().Msg("metadata poller stopped")
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	title, err := p.prober.Probe(probeCtx, p.url)
	if ctx.Err() != nil {
		return
	}
	switch {
	case err != nil:
		telemetry.MetadataProbesTotal.WithLabelValues("error").Inc()
		p.logger.Debug().Err(err).Msg("metadata probe failed")
		return
	case title == "":
		telemetry.MetadataProbesTotal.WithLabelValues("empty").Inc()
		return
	}
	telemetry.MetadataProbesTotal.WithLabelValues("title").Inc()

	if title == p.last {
		return
	}
	p.last = title
	p.logger.Debug().Str("title", title).Msg("stream title changed")
	if p.onTitle != nil {
		p.onTitle(title)
	}
}
