/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package dsp implements the DSP chain: the ten-band shelving equalizer and
// the ReplayGain correction pre-filter described in spec.md §4.5.
package dsp

import (
	"math"

	"github.com/friendsincode/waver/internal/biquad"
	"github.com/friendsincode/waver/internal/pcm"
)

// BandCenters are the ten equalizer band centers, in Hz, per spec.md §4.5.
var BandCenters = [10]float64{31, 62, 125, 250, 500, 1000, 2500, 5000, 10000, 16000}

// Band is one equalizer band: its filter and the gain it was designed for.
type Band struct {
	Filter *biquad.Filter
	GainDb float64
}

// Equalizer is the ten-band shelving equalizer. Band 0 is a low-shelf, band
// 9 a high-shelf, the rest band-shelf (peaking) filters, with bandwidths
// computed so successive shelves meet at the geometric midpoints of
// adjacent centers.
type Equalizer struct {
	bands      [10]Band
	channels   int
	sampleRate int

	// ReplayGain correction state (spec.md §4.5).
	currentGainDb float64
	targetGainDb  float64
	preAmpDb      float64
}

// NewEqualizer builds an Equalizer for the given sample rate and channel
// count, with all band gains initialized to 0 dB (flat response).
func NewEqualizer(sampleRate, channels int) *Equalizer {
	eq := &Equalizer{channels: channels, sampleRate: sampleRate}
	eq.SetGains([10]float64{})
	return eq
}

// bandwidth computes the Hz span between the geometric midpoints a band
// shares with its lower and upper neighbors (half and double the center
// stand in for the missing neighbor at either end).
func bandwidth(idx int) float64 {
	center := BandCenters[idx]
	var lowMid, highMid float64
	if idx == 0 {
		lowMid = center / 2
	} else {
		lowMid = math.Sqrt(BandCenters[idx-1] * center)
	}
	if idx == len(BandCenters)-1 {
		highMid = center * 2
	} else {
		highMid = math.Sqrt(center * BandCenters[idx+1])
	}
	return highMid - lowMid
}

// SetGains redesigns every band's filter for the given gains (in dB).
func (eq *Equalizer) SetGains(gainsDb [10]float64) {
	for i, center := range BandCenters {
		bw := bandwidth(i)
		var kind biquad.Type
		switch {
		case i == 0:
			kind = biquad.LowShelf
		case i == len(BandCenters)-1:
			kind = biquad.HighShelf
		default:
			kind = biquad.BandShelf
		}
		coeffs := biquad.Design(kind, center, bw, eq.sampleRate, gainsDb[i])
		if eq.bands[i].Filter == nil {
			eq.bands[i].Filter = &biquad.Filter{}
		}
		eq.bands[i].Filter.Coeffs = coeffs
		eq.bands[i].GainDb = gainsDb[i]
	}
}

// SetReplayGainTarget updates the analyzer's latest target; the correction
// smoothing rule in ProcessInPlace steps toward it rather than jumping.
func (eq *Equalizer) SetReplayGainTarget(targetDb, preAmpDb float64) {
	eq.targetGainDb = targetDb
	eq.preAmpDb = preAmpDb
}

// stepReplayGain implements spec.md §4.5's per-frame smoothing:
//
//	if |target - current| < 0.05: current := target
//	else: current += sign(target - current) * min(3.0, |delta|) / sample_rate
func (eq *Equalizer) stepReplayGain() {
	delta := eq.targetGainDb - eq.currentGainDb
	if math.Abs(delta) < 0.05 {
		eq.currentGainDb = eq.targetGainDb
		return
	}
	step := math.Min(3.0, math.Abs(delta)) / float64(max1(eq.sampleRate))
	if delta < 0 {
		eq.currentGainDb -= step
	} else {
		eq.currentGainDb += step
	}
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// ProcessInPlace applies the ReplayGain correction pre-filter followed by
// every equalizer band, in place, to deinterleaved float samples for one
// channel, then saturates into the sample type's representable range.
func (eq *Equalizer) ProcessInPlace(channel int, samples []float64, sampleType pcm.SampleType) {
	for i, s := range samples {
		eq.stepReplayGain()
		gainLinear := math.Pow(10, (eq.currentGainDb+eq.preAmpDb)/20)
		v := s * gainLinear

		for b := range eq.bands {
			v = eq.bands[b].Filter.ProcessSample(channel, v)
		}

		samples[i] = saturate(v, sampleType)
	}
}

// saturate clamps a sample to [-1, 1], the normalized float domain DSP
// operates in regardless of the underlying wire sample type.
func saturate(v float64, _ pcm.SampleType) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
