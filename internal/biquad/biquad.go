/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package biquad implements direct-form-I biquad filtering, the leaf
// dependency of the equalizer and the ReplayGain analyzer. It carries no
// third-party dependency: the coefficient formulas are fully specified by
// the audio EQ cookbook's tangent-warped bilinear transform and the
// retrieval pack carries no dedicated DSP coefficient library to wire in
// its place.
package biquad

import "math"

// MaxOrder bounds the per-channel sample history kept by a Filter.
const MaxOrder = 12

// MaxChannels bounds the number of independent channel histories a Filter
// tracks.
const MaxChannels = 8

// Type selects the shelving/peaking shape used to derive coefficients.
type Type int

const (
	LowShelf Type = iota
	HighShelf
	BandShelf // peaking / band-boost filter
	LowPass
	HighPass
)

// Coefficients holds the five direct-form-I biquad coefficients:
//
//	y[n] = a0*x[n] + a1*x[n-1] + a2*x[n-2] - b1*y[n-1] - b2*y[n-2]
type Coefficients struct {
	A0, A1, A2 float64
	B1, B2     float64
}

// Design computes biquad coefficients for the given type, center frequency,
// bandwidth (in Hz; the equalizer passes the span between a band's two
// geometric-mean crossovers with its neighbors), sample rate and gain,
// using the tangent-warped bilinear transform.
func Design(kind Type, centerHz, bandwidthHz float64, sampleRate int, gainDb float64) Coefficients {
	fs := float64(sampleRate)
	if fs <= 0 {
		fs = 44100
	}
	w0 := 2 * math.Pi * centerHz / fs
	cosW0 := math.Cos(w0)
	sinW0 := math.Sin(w0)

	// The caller's bandwidth in Hz divided by the center frequency; this
	// ratio is used as the octave count in the alpha formula below.
	bwOctaves := bandwidthHz / centerHz
	if bwOctaves <= 0 {
		bwOctaves = 1
	}
	alpha := sinW0 * math.Sinh(math.Ln2/2*bwOctaves*w0/sinW0)

	A := math.Pow(10, gainDb/40)

	var b0, b1, b2, a0, a1, a2 float64

	switch kind {
	case LowShelf:
		sqrtA := math.Sqrt(A)
		b0 = A * ((A + 1) - (A-1)*cosW0 + 2*sqrtA*alpha)
		b1 = 2 * A * ((A - 1) - (A+1)*cosW0)
		b2 = A * ((A + 1) - (A-1)*cosW0 - 2*sqrtA*alpha)
		a0 = (A + 1) + (A-1)*cosW0 + 2*sqrtA*alpha
		a1 = -2 * ((A - 1) + (A+1)*cosW0)
		a2 = (A + 1) + (A-1)*cosW0 - 2*sqrtA*alpha
	case HighShelf:
		sqrtA := math.Sqrt(A)
		b0 = A * ((A + 1) + (A-1)*cosW0 + 2*sqrtA*alpha)
		b1 = -2 * A * ((A - 1) + (A+1)*cosW0)
		b2 = A * ((A + 1) + (A-1)*cosW0 - 2*sqrtA*alpha)
		a0 = (A + 1) - (A-1)*cosW0 + 2*sqrtA*alpha
		a1 = 2 * ((A - 1) - (A+1)*cosW0)
		a2 = (A + 1) - (A-1)*cosW0 - 2*sqrtA*alpha
	case LowPass:
		b0 = (1 - cosW0) / 2
		b1 = 1 - cosW0
		b2 = (1 - cosW0) / 2
		a0 = 1 + alpha
		a1 = -2 * cosW0
		a2 = 1 - alpha
	case HighPass:
		b0 = (1 + cosW0) / 2
		b1 = -(1 + cosW0)
		b2 = (1 + cosW0) / 2
		a0 = 1 + alpha
		a1 = -2 * cosW0
		a2 = 1 - alpha
	default: // BandShelf (peaking)
		b0 = 1 + alpha*A
		b1 = -2 * cosW0
		b2 = 1 - alpha*A
		a0 = 1 + alpha/A
		a1 = -2 * cosW0
		a2 = 1 - alpha/A
	}

	return Coefficients{
		A0: b0 / a0,
		A1: b1 / a0,
		A2: b2 / a0,
		B1: a1 / a0,
		B2: a2 / a0,
	}
}

// Filter applies a Coefficients set to up to MaxChannels independent
// channel histories of up to MaxOrder taps. Only the first two taps
// (direct-form-I, biquad = order 2) are populated and the remaining
// MaxOrder slots are never read. Higher-order responses, such as
// ReplayGain's shelf + high-pass pair, chain separate Filters.
type Filter struct {
	Coeffs   Coefficients
	x        [MaxChannels][MaxOrder]float64
	y        [MaxChannels][MaxOrder]float64
}

// Reset clears all channel history.
func (f *Filter) Reset() {
	f.x = [MaxChannels][MaxOrder]float64{}
	f.y = [MaxChannels][MaxOrder]float64{}
}

// ProcessSample filters one sample on the given channel and returns the
// output, shifting the per-channel history.
func (f *Filter) ProcessSample(channel int, in float64) float64 {
	if channel < 0 || channel >= MaxChannels {
		channel = 0
	}
	x := &f.x[channel]
	y := &f.y[channel]

	out := f.Coeffs.A0*in + f.Coeffs.A1*x[0] + f.Coeffs.A2*x[1] -
		f.Coeffs.B1*y[0] - f.Coeffs.B2*y[1]

	x[1] = x[0]
	x[0] = in
	y[1] = y[0]
	y[0] = out

	return out
}

// ProcessInPlace filters a deinterleaved channel slice in place.
func (f *Filter) ProcessInPlace(channel int, samples []float64) {
	for i, s := range samples {
		samples[i] = f.ProcessSample(channel, s)
	}
}
