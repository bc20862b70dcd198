/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package predsp implements the pre-DSP analyzer chain: the ReplayGain
// accumulator and the fade-out/transition detector described in spec.md
// §4.4. Both observe decoded PCM and emit typed requests; neither
// transforms the signal (beyond the ReplayGain filtering used only for
// analysis, discarded afterward).
package predsp

import (
	"math"

	"github.com/friendsincode/waver/internal/biquad"
)

const (
	// PinkNoiseReference is the calibration constant spec.md §4.4 fixes
	// the ReplayGain result against.
	PinkNoiseReference = 64.82
	// StepsPerDb is the histogram resolution: 100 slots per dB.
	StepsPerDb = 100
	// HistogramDb is the histogram span in dB.
	HistogramDb = 120
	// HistogramSlots is the total slot count (120 dB * 100 slots/dB).
	HistogramSlots = HistogramDb * StepsPerDb
	// windowMs is the RMS accumulation window.
	windowMs = 50
	// PublishInterval is how often a new target is published mid-decode.
	PublishIntervalMs = 4000
	// Percentile is the cumulative histogram percentile the result is read
	// off of.
	Percentile = 0.95
)

// ReplayGainAccumulator filters incoming PCM through a standard ReplayGain
// filter chain (Yule-Walk equal-loudness shelf + Butterworth high-pass),
// accumulates 50 ms RMS windows and bins them into a 120 dB x 100
// slots/dB histogram. It never rewinds: Accumulate only adds mass.
type ReplayGainAccumulator struct {
	sampleRate int
	channels   int

	yuleWalk   []biquad.Filter // one per channel
	butterwort []biquad.Filter // one per channel

	windowSamples   int
	windowFillCount int
	windowSumSq     float64

	histogram [HistogramSlots]uint64
	totalSamples uint64

	lastPublishedAtMs int64
	sampleIndex       int64
}

// NewReplayGainAccumulator builds an accumulator for the given format.
func NewReplayGainAccumulator(sampleRate, channels int) *ReplayGainAccumulator {
	if channels < 1 {
		channels = 1
	}
	r := &ReplayGainAccumulator{
		sampleRate:    sampleRate,
		channels:      channels,
		yuleWalk:      make([]biquad.Filter, channels),
		butterwort:    make([]biquad.Filter, channels),
		windowSamples: sampleRate * windowMs / 1000,
	}
	if r.windowSamples < 1 {
		r.windowSamples = 1
	}

	// The Yule-Walk stage approximates the equal-loudness response as a
	// high-shelf boost above ~2kHz; the Butterworth stage is a high-pass
	// that removes sub-bass energy the ear weights less. Both are
	// standard ReplayGain filter roles, realized here with the biquad
	// primitives rather than hand-tuned coefficient tables.
	yw := biquad.Design(biquad.HighShelf, 2000, 2000, sampleRate, 9.0)
	bw := biquad.Design(biquad.HighPass, 150, 150, sampleRate, 0)
	for ch := 0; ch < channels; ch++ {
		r.yuleWalk[ch].Coeffs = yw
		r.butterwort[ch].Coeffs = bw
	}
	return r
}

// Accumulate processes one deinterleaved frame (one sample per channel) of
// float-normalized PCM in [-1, 1].
func (r *ReplayGainAccumulator) Accumulate(frame []float64) {
	var sumSq float64
	for ch, s := range frame {
		if ch >= r.channels {
			break
		}
		f := r.yuleWalk[ch].ProcessSample(ch, s)
		f = r.butterwort[ch].ProcessSample(ch, f)
		sumSq += f * f
	}
	if r.channels > 0 {
		sumSq /= float64(len(frame))
	}

	r.windowSumSq += sumSq
	r.windowFillCount++
	r.sampleIndex++
	r.totalSamples++

	if r.windowFillCount >= r.windowSamples {
		rms := math.Sqrt(r.windowSumSq / float64(r.windowFillCount))
		r.binRMS(rms)
		r.windowSumSq = 0
		r.windowFillCount = 0
	}
}

func (r *ReplayGainAccumulator) binRMS(rms float64) {
	if rms <= 0 {
		return
	}
	db := 20 * math.Log10(rms)
	slot := int((db + HistogramDb) * StepsPerDb)
	if slot < 0 {
		slot = 0
	}
	if slot >= HistogramSlots {
		slot = HistogramSlots - 1
	}
	r.histogram[slot]++
}

// ShouldPublish reports whether enough time has elapsed (~4s, per
// spec.md §4.4) since the last publish to emit a new target.
func (r *ReplayGainAccumulator) ShouldPublish() bool {
	rate := r.sampleRate
	if rate < 1 {
		rate = 1
	}
	elapsedMs := r.sampleIndex * 1000 / int64(rate)
	if elapsedMs-r.lastPublishedAtMs >= PublishIntervalMs {
		r.lastPublishedAtMs = elapsedMs
		return true
	}
	return false
}

// TargetDb computes the current ReplayGain target in dB:
//
//	result_db = pink_noise_reference - (95th percentile histogram slot) / steps_per_db
func (r *ReplayGainAccumulator) TargetDb() float64 {
	var total uint64
	for _, c := range r.histogram {
		total += c
	}
	if total == 0 {
		return 0
	}

	threshold := uint64(math.Ceil(float64(total) * Percentile))
	var cumulative uint64
	slot := 0
	for i, c := range r.histogram {
		cumulative += c
		if cumulative >= threshold {
			slot = i
			break
		}
	}

	return PinkNoiseReference - float64(slot)/StepsPerDb
}
