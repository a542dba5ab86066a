/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"time"

	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/friendsincode/radiorelay/internal/events"
	"github.com/friendsincode/radiorelay/internal/playback"
)

const eventsPingInterval = 15 * time.Second

type eventMessage struct {
	Type  string          `json:"type"`
	Event events.Payload  `json:"event,omitempty"`
	State *playback.State `json:"state,omitempty"`
}

// handleEvents streams a state snapshot on connect and after every bus
// event, so dashboards never need to poll /status.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	// The client never sends; CloseRead handles control frames and
	// cancels ctx when the peer goes away.
	ctx = conn.CloseRead(ctx)

	types := events.All()
	sub := a.bus.SubscribeMany(types...)
	defer a.bus.UnsubscribeMany(sub, types...)

	state := a.engine.State()
	if err := wsjson.Write(ctx, conn, eventMessage{Type: "state", State: &state}); err != nil {
		return
	}

	ticker := time.NewTicker(eventsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "")
			return
		case <-ticker.C:
			if err := wsjson.Write(ctx, conn, eventMessage{Type: "ping"}); err != nil {
				return
			}
		case payload, ok := <-sub:
			if !ok {
				return
			}
			eventType, _ := payload["type"].(string)
			state := a.engine.State()
			if err := wsjson.Write(ctx, conn, eventMessage{Type: eventType, Event: payload, State: &state}); err != nil {
				a.logger.Debug().Err(err).Msg("events websocket write failed")
				return
			}
		}
	}
}
