/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/radiorelay/internal/events"
	"github.com/friendsincode/radiorelay/internal/telemetry"
)

var errCircuitOpen = errors.New("event mirror paused after repeated failures")

const publishTimeout = 2 * time.Second

// Bridge forwards every local bus event to a Publisher under
// "<prefix>.<event_type>".
type Bridge struct {
	bus    *events.Bus
	out    Publisher
	prefix string
	nodeID string
	logger zerolog.Logger
}

// NewBridge creates a bridge. prefix defaults to "radiorelay".
func NewBridge(bus *events.Bus, out Publisher, prefix, nodeID string, logger zerolog.Logger) *Bridge {
	if prefix == "" {
		prefix = "radiorelay"
	}
	return &Bridge{
		bus:    bus,
		out:    out,
		prefix: prefix,
		nodeID: nodeID,
		logger: logger.With().Str("component", "eventbus").Logger(),
	}
}

// Subject returns the broker subject for eventType.
func (b *Bridge) Subject(eventType events.EventType) string {
	return b.prefix + "." + string(eventType)
}

// Run forwards events until ctx is cancelled, then closes the publisher.
func (b *Bridge) Run(ctx context.Context) error {
	types := events.All()
	sub := b.bus.SubscribeMany(types...)
	defer b.bus.UnsubscribeMany(sub, types...)
	defer b.out.Close()

	b.logger.Info().Str("node_id", b.nodeID).Str("prefix", b.prefix).Msg("event mirror started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-sub:
			if !ok {
				return nil
			}
			b.forward(ctx, payload)
		}
	}
}

func (b *Bridge) forward(ctx context.Context, payload events.Payload) {
	eventType, _ := payload["type"].(string)
	data, err := marshalMessage(events.EventType(eventType), payload, b.nodeID)
	if err != nil {
		b.logger.Error().Err(err).Str("event_type", eventType).Msg("failed to encode event")
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := b.out.Publish(pubCtx, b.Subject(events.EventType(eventType)), data); err != nil {
		telemetry.EventMirrorErrorsTotal.Inc()
		if !errors.Is(err, errCircuitOpen) {
			b.logger.Warn().Err(err).Str("event_type", eventType).Msg("failed to mirror event")
		}
		return
	}
	telemetry.EventsMirroredTotal.WithLabelValues(eventType).Inc()
}
