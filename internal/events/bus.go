/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates the signals a pipeline stage, a Track or the
// Coordinator can publish. This replaces the "signal/slot observer web"
// pattern called out as needing re-architecture: components never hold
// direct references to each other, only to the Bus.
type EventType string

const (
	// Decoder / source stage.
	EventBufferReady     EventType = "buffer_ready"
	EventDecoderFinished EventType = "decoder_finished"
	EventDecoderError    EventType = "decoder_error"
	EventNetworkStarting EventType = "network_starting"
	EventNetworkReady    EventType = "network_ready"
	EventCastTitle       EventType = "cast_title"

	// Pre-DSP stage.
	EventRequestFadeIn                   EventType = "request_fade_in"
	EventRequestFadeInForNextTrack        EventType = "request_fade_in_for_next_track"
	EventRequestInterrupt                 EventType = "request_interrupt"
	EventRequestAboutToFinishSend          EventType = "request_about_to_finish_send"
	EventRequestAboutToFinishForPrevious   EventType = "request_about_to_finish_send_for_previous_track"
	EventReplayGainTarget                 EventType = "replaygain_target"
	EventFingerprintReady                 EventType = "fingerprint_ready"

	// DSP / output stage.
	EventBufferDone      EventType = "buffer_done"
	EventPositionChanged EventType = "position_changed"
	EventBufferUnderrun  EventType = "buffer_underrun"
	EventOutputError     EventType = "output_error"

	// Track lifecycle.
	EventAboutToFinish   EventType = "about_to_finish"
	EventFinished        EventType = "finished"
	EventTrackInfo       EventType = "track_info"
	EventFadeOutComplete EventType = "fade_out_complete"

	// Source plugin lifecycle (spec.md §6).
	EventSourceReady              EventType = "ready"
	EventSourceUnready            EventType = "unready"
	EventSourcePlaylist           EventType = "playlist"
	EventSourceReplacement        EventType = "replacement"
	EventSourceRequestRemoveTracks EventType = "request_remove_tracks"
	EventSourceUpdateTrackInfo    EventType = "update_track_info"

	// Non-fatal error surfacing (spec.md §7).
	EventEngineError EventType = "engine_error"
)

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Bus implements a simple in-process pubsub.
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

// Publish sends payload to subscribers.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs[eventType]...)
	b.mu.RUnlock()
	for _, sub := range subs {
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
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.subs[eventType] = subs
	close(sub)
}
