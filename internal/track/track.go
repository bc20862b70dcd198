/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package track

import (
	"sync"

	"github.com/friendsincode/waver/internal/fade"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Status is the Track's lifecycle state (spec.md §4.2).
type Status int

const (
	Idle Status = iota
	Decoding
	Playing
	Paused
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Decoding:
		return "decoding"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// FadeRequest describes a requested fade, either for this track's own
// intro/outro or reassigned onto a neighboring track at promotion time.
type FadeRequest struct {
	Enabled  bool
	LengthMs int64
}

// Track is the aggregate of a TrackDescriptor plus pipeline handles and
// runtime state. It owns its pipeline stages by index (the arena+index
// model spec.md §9 calls for in place of cyclic object references) rather
// than holding back-pointers to them.
type Track struct {
	ID         string
	Descriptor TrackDescriptor

	mu     sync.Mutex
	status Status

	FadeInRequest           FadeRequest
	NextTrackFadeInRequest  FadeRequest
	InterruptPositionMs     int64 // 0 = never
	AboutToFinishPositionMs int64 // 0 = never
	aboutToFinishFired      bool

	DecodedDurationMs int64
	PlayedDurationMs  int64

	// CastPlaytimeRemainingMs is the synthetic total duration seeded for a
	// cast (live-stream) track at creation; a live stream has no real
	// duration, so the Coordinator's Snapshot derives the actual remaining
	// time from this total minus PlayedDurationMs (spec.md §3).
	CastPlaytimeRemainingMs int64
	Replaceable             bool
	SourcePluginID          string

	Fade *fade.State

	Pipeline *Pipeline

	Logger zerolog.Logger
}

// New creates a Track in the Idle state for the given descriptor.
func New(descriptor TrackDescriptor, sourcePluginID string, logger zerolog.Logger) *Track {
	id := uuid.New().String()
	return &Track{
		ID:             id,
		Descriptor:     descriptor,
		status:         Idle,
		Replaceable:    true,
		SourcePluginID: sourcePluginID,
		Fade:           &fade.State{},
		Logger:         logger.With().Str("component", "track").Str("track_id", id).Logger(),
	}
}

// Status returns the current lifecycle state.
func (t *Track) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// SetStatus transitions the track, per the state diagram in spec.md §4.2:
// Idle -> Decoding -> Playing <-> Paused. It only records and logs the
// new state and starts nothing: the Coordinator starts the Pipeline
// (decoder through output) before moving a track to Decoding and Playing,
// and no fade-in is set up here.
func (t *Track) SetStatus(next Status) {
	t.mu.Lock()
	prev := t.status
	t.status = next
	t.mu.Unlock()

	if prev != next {
		t.Logger.Debug().Str("from", prev.String()).Str("to", next.String()).Msg("status transition")
	}
}

// MarkAboutToFinish records that AboutToFinish has fired for this track.
// Returns false if it already fired — the invariant "at most once" from
// spec.md §3 is enforced here, not by the caller.
func (t *Track) MarkAboutToFinish() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.aboutToFinishFired {
		return false
	}
	t.aboutToFinishFired = true
	return true
}

// PlayedWithinTolerance reports whether the played/decoded invariant from
// spec.md §3 holds: played_ms <= decoded_ms + tolerance.
func (t *Track) PlayedWithinTolerance(toleranceMs int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.PlayedDurationMs <= t.DecodedDurationMs+toleranceMs
}

// ApplyFadeInRequest records a fade-in request, which FadeInEnabled then
// reports. It does not change Fade: only the fade the Coordinator sets on
// Fade when it promotes a track is rendered.
func (t *Track) ApplyFadeInRequest(req FadeRequest) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.FadeInRequest = req
}

// FadeInEnabled reports whether this track has a pending fade-in request,
// used by the Coordinator to decide whether TrackInfo emission should wait
// for the fade-in midpoint (spec.md §4.1 step 5).
func (t *Track) FadeInEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.FadeInRequest.Enabled
}

// NextFadeIn returns the fade-in request this track's transition analysis
// has assigned to whichever track follows it, for the Coordinator to
// reassign onto the new current at promotion time (spec.md §4.1 step 3).
func (t *Track) NextFadeIn() FadeRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.NextTrackFadeInRequest
}
