/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package fade implements the linear fade renderer described in spec.md
// §4.7: the per-track FadeState and the in-place render function applied
// by the output stage before writing to the device.
package fade

// Direction is the fade's target: None (no fade in progress), In (toward
// full volume) or Out (toward silence).
type Direction int

const (
	None Direction = iota
	In
	Out
)

// State is the mutable fade state carried on a Track, per spec.md §3.
// FrameCounter is carried across buffer boundaries rather than reset per
// buffer — the Open Question in spec.md §9 resolved in favor of
// consistent behavior for buffers smaller than frames_per_percent.
type State struct {
	Direction    Direction
	Percent      int // always in [0, 100]
	Seconds      float64
	FrameCounter float64
}

// framesPerPercent returns how many frames must be consumed before percent
// advances by one step, for the given sample rate.
func (s *State) framesPerPercent(sampleRate int) float64 {
	totalFrames := s.Seconds * float64(sampleRate)
	return totalFrames / 100
}

// CompletionFunc is called by Render once, when a fade-out reaches 0%;
// the caller (the output stage) schedules the actual Finished event after
// the ~50ms flush delay named in spec.md §4.7.
type CompletionFunc func()

// Render scales each frame (one slice holding that frame's sample for
// every channel) by percent/100, advancing the fade state by one frame per
// sample consumed divided by channelCount (so one animation step spans one
// frame across all channels, not one sample). When a fade-in reaches 100%,
// Direction resets to None and the remaining frames are left unscaled.
// When a fade-out reaches 0%, onFadeOutComplete fires once and every later
// frame is scaled by 0.
func Render(state *State, frames [][]float64, sampleRate, channelCount int, onFadeOutComplete CompletionFunc) {
	if state.Direction == None {
		return
	}
	if channelCount < 1 {
		channelCount = 1
	}
	framesPerPercent := state.framesPerPercent(sampleRate)
	if framesPerPercent <= 0 {
		framesPerPercent = 1
	}

	for _, frame := range frames {
		scale := float64(state.Percent) / 100
		for ch := range frame {
			frame[ch] *= scale
		}

		// 1/channel_count per sample, summed across channelCount samples
		// in this frame, is exactly 1 per frame.
		state.FrameCounter += 1.0
		if state.FrameCounter >= framesPerPercent {
			state.FrameCounter -= framesPerPercent
			wasPercent := state.Percent
			advancePercent(state)
			if state.Direction == None {
				break
			}
			if wasPercent > 0 && state.Percent == 0 && onFadeOutComplete != nil {
				onFadeOutComplete()
			}
		}
	}
}

func advancePercent(state *State) {
	switch state.Direction {
	case In:
		if state.Percent < 100 {
			state.Percent++
		}
		if state.Percent >= 100 {
			state.Percent = 100
			state.Direction = None
		}
	case Out:
		if state.Percent > 0 {
			state.Percent--
		}
	}
}
