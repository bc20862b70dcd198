/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package coordinator implements the Playback Coordinator of spec.md §4.1:
// the single supervisory component that owns the playlist queue and the
// current/previous Track, decides when to build and tear down track
// pipelines, and arbitrates crossfade handover between them. It is the
// generalization of the teacher's playout.Director tick loop (a
// scheduled-entry execution loop) into a playlist-queue promotion loop.
package coordinator

import (
	"sync"

	"github.com/friendsincode/waver/internal/track"
)

// queuedTrack pairs a TrackDescriptor with the source it came from, so
// Coordinator can route feedback (UnableToStart, Done, CastFinishedEarly)
// back to the right plugin without the descriptor itself carrying a
// source reference.
type queuedTrack struct {
	descriptor track.TrackDescriptor
	sourceID   string
}

// PlaylistQueue is the ordered sequence of upcoming tracks described in
// spec.md §3: front is "next to play". Every method takes mu, since the
// queue is mutated both from the Coordinator's supervisory goroutine and
// from callers such as IPC sessions (Enqueue).
type PlaylistQueue struct {
	mu    sync.Mutex
	items []queuedTrack
}

func newPlaylistQueue() *PlaylistQueue {
	return &PlaylistQueue{}
}

// Len reports the number of queued tracks.
func (q *PlaylistQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// append adds tracks to the back of the queue (sources append; per
// spec.md §3's PlaylistQueue insertion semantics).
func (q *PlaylistQueue) append(sourceID string, descriptors []track.TrackDescriptor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, d := range descriptors {
		q.items = append(q.items, queuedTrack{descriptor: d, sourceID: sourceID})
	}
}

// prependAfterCurrentSource inserts one descriptor just after the run of
// entries from sourceID at the front of the queue, i.e. "just after any
// already-playing track from the same source" (spec.md §4.1 replacement
// rule).
func (q *PlaylistQueue) prependAfterCurrentSource(sourceID string, d track.TrackDescriptor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := 0
	for idx < len(q.items) && q.items[idx].sourceID == sourceID {
		idx++
	}
	q.items = append(q.items[:idx:idx], append([]queuedTrack{{descriptor: d, sourceID: sourceID}}, q.items[idx:]...)...)
}

// popFront removes and returns the front entry, or ok=false if empty.
func (q *PlaylistQueue) popFront() (queuedTrack, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return queuedTrack{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// removeMatching deletes every entry for which predicate returns true,
// returning how many were removed (spec.md §4.1 remove_tracks).
func (q *PlaylistQueue) removeMatching(predicate func(track.TrackDescriptor) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.items[:0:0]
	removed := 0
	for _, item := range q.items {
		if predicate(item.descriptor) {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	q.items = kept
	return removed
}
