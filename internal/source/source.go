/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package source implements the Source plugin interface of spec.md §6:
// the component that decides which tracks play next and delivers their
// byte stream, stripping ICY metadata from radio streams along the way.
package source

import (
	"github.com/friendsincode/waver/internal/events"
	"github.com/friendsincode/waver/internal/track"
)

// Source is the Coordinator-facing plugin contract (spec.md §4.3, §6).
type Source interface {
	// GetPlaylist returns up to n upcoming tracks, used to keep the
	// Coordinator's queue above its low-queue threshold.
	GetPlaylist(n int) ([]track.TrackDescriptor, error)
	// GetReplacement returns a single track to substitute for one that
	// failed the replacement-eligibility rule (spec.md §4.1).
	GetReplacement() (*track.TrackDescriptor, error)
	// UnableToStart reports that the decoder never produced a first
	// buffer for descriptor, so the source can exclude it going forward.
	UnableToStart(descriptor track.TrackDescriptor)
	// CastFinishedEarly reports a live source dropping before its
	// expected end, with the duration actually played in whole seconds.
	CastFinishedEarly(descriptor track.TrackDescriptor, playedSeconds int64)
	// Done reports a track finished playing normally.
	Done(descriptor track.TrackDescriptor)
}

// publishReady/publishUnready emit the source lifecycle events from
// spec.md §6 that Source implementations share.
func publishReady(bus *events.Bus, sourceID string) {
	bus.Publish(events.EventSourceReady, events.Payload{"source_id": sourceID})
}

func publishUnready(bus *events.Bus, sourceID string, reason string) {
	bus.Publish(events.EventSourceUnready, events.Payload{"source_id": sourceID, "reason": reason})
}
