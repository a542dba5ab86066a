/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	// EventNowPlaying fires when the displayed title changes.
	EventNowPlaying EventType = "now_playing"
	// EventStateChanged fires after every playback transition or control change.
	EventStateChanged EventType = "state_changed"
	// EventSourceExhausted fires when the current source ends on its own.
	EventSourceExhausted EventType = "source_exhausted"
	// EventQueueChanged fires when entries are added or removed.
	EventQueueChanged EventType = "queue_changed"
	// EventStationsReloaded fires after the station directory is replaced.
	EventStationsReloaded EventType = "stations_reloaded"
	// EventListenerJoined and EventListenerLeft track WebRTC peers.
	EventListenerJoined EventType = "listener_joined"
	EventListenerLeft   EventType = "listener_left"
)

// All lists every event type, for consumers that mirror the whole bus.
func All() []EventType {
	return []EventType{
		EventNowPlaying,
		EventStateChanged,
		EventSourceExhausted,
		EventQueueChanged,
		EventStationsReloaded,
		EventListenerJoined,
		EventListenerLeft,
	}
}

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Publisher is the publishing half of a bus.
type Publisher interface {
	Publish(eventType EventType, payload Payload)
}

// Bus implements a simple in-process pubsub. Slow subscribers miss events
// rather than block publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 8)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// SubscribeMany registers one subscriber for several event types.
// Release it with UnsubscribeMany using the same types.
func (b *Bus) SubscribeMany(types ...EventType) Subscriber {
	ch := make(Subscriber, 8*len(types))
	b.mu.Lock()
	for _, t := range types {
		b.subs[t] = append(b.subs[t], ch)
	}
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers. The event type is added to the
// payload under "type" so multi-type subscribers can tell events apart.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	if payload == nil {
		payload = Payload{}
	}
	payload["type"] = string(eventType)

	// Sends never block, so holding the read lock is cheap, and it keeps
	// Unsubscribe from closing a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[eventType] {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(eventType, sub)
	close(sub)
}

// UnsubscribeMany removes a subscriber created by SubscribeMany.
func (b *Bus) UnsubscribeMany(sub Subscriber, types ...EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range types {
		b.removeLocked(t, sub)
	}
	close(sub)
}

func (b *Bus) removeLocked(eventType EventType, sub Subscriber) {
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.subs[eventType] = subs
}
