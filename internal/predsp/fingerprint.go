/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package predsp

import (
	"encoding/base64"
	"math"

	"github.com/friendsincode/waver/internal/biquad"
)

// fingerprintWindowLimitUs is the decode-time window a fingerprint is
// computed over: the original chromaprint-based analyzer only feeds it the
// first two minutes of a track, since that's enough to identify it and
// keeps long tracks cheap to fingerprint.
const fingerprintWindowLimitUs = 120 * 1000 * 1000

// fingerprintBandCount is the number of log-spaced frequency bands the
// analyzer tracks energy in per frame; adjacent-band and adjacent-frame
// energy comparisons are what turn into fingerprint bits, the same shape
// Chromaprint's band-energy sign encoding uses.
const fingerprintBandCount = 13

// fingerprintFrameSize is the number of mono samples accumulated into one
// energy-comparison frame before a subfingerprint code is emitted.
const fingerprintFrameSize = 2048

// FingerprintAnalyzer computes a compact, reproducible acoustic fingerprint
// from the first two minutes of decoded audio. It is a from-scratch
// reimplementation of the band-energy-sign technique Chromaprint uses
// (no Chromaprint/libchromaprint binding exists anywhere in the retrieval
// pack, so there is nothing to wire a cgo dependency to): per frame, each
// band's energy is compared against the same band in the previous frame
// and against its neighboring band in the same frame; the sign of each
// comparison becomes one bit of a per-frame code, and the codes concatenate
// into the fingerprint.
type FingerprintAnalyzer struct {
	sampleRate int
	bands      [fingerprintBandCount]biquad.Filter

	frameBuf    []float64
	prevEnergy  [fingerprintBandCount]float64
	haveFirst   bool
	elapsedUs   int64
	codes       []uint32
	doneWindow  bool
}

// NewFingerprintAnalyzer builds an analyzer for the given sample rate. The
// bands are log-spaced between 80Hz and min(sampleRate/2-200, 8000Hz),
// mirroring Chromaprint's own default analysis range.
func NewFingerprintAnalyzer(sampleRate int) *FingerprintAnalyzer {
	f := &FingerprintAnalyzer{sampleRate: sampleRate}

	const lowHz = 80.0
	highHz := 8000.0
	if nyquist := float64(sampleRate)/2 - 200; nyquist < highHz {
		highHz = nyquist
	}
	if highHz <= lowHz {
		highHz = lowHz * 2
	}

	logLow := math.Log(lowHz)
	logHigh := math.Log(highHz)
	step := (logHigh - logLow) / float64(fingerprintBandCount-1)

	for i := 0; i < fingerprintBandCount; i++ {
		center := math.Exp(logLow + step*float64(i))
		bandwidth := center * 0.5
		f.bands[i].Coeffs = biquad.Design(biquad.BandShelf, center, bandwidth, sampleRate, 18)
	}

	return f
}

// Accumulate feeds one mono-reduced sample (already averaged across
// channels) at the given buffer-relative timestamp in microseconds.
// Samples after the two-minute window are ignored, matching the original
// analyzer's early exit.
func (f *FingerprintAnalyzer) Accumulate(sample float64, startTimeUs int64) {
	if startTimeUs >= fingerprintWindowLimitUs {
		f.doneWindow = true
		return
	}
	f.elapsedUs = startTimeUs

	f.frameBuf = append(f.frameBuf, sample)
	if len(f.frameBuf) < fingerprintFrameSize {
		return
	}
	f.emitFrame()
	f.frameBuf = f.frameBuf[:0]
}

func (f *FingerprintAnalyzer) emitFrame() {
	var energy [fingerprintBandCount]float64
	for b := range f.bands {
		var sum float64
		for _, s := range f.frameBuf {
			out := f.bands[b].ProcessSample(0, s)
			sum += out * out
		}
		energy[b] = sum / float64(len(f.frameBuf))
	}

	var code uint32
	if f.haveFirst {
		for b := 0; b < fingerprintBandCount; b++ {
			if energy[b] > f.prevEnergy[b] {
				code |= 1 << uint(b)
			}
		}
	}
	for b := 0; b < fingerprintBandCount-1; b++ {
		if energy[b] > energy[b+1] {
			code |= 1 << uint(fingerprintBandCount+b)
		}
	}

	f.codes = append(f.codes, code)
	f.prevEnergy = energy
	f.haveFirst = true
}

// Finish flushes any partial trailing frame and returns the base64-encoded
// fingerprint plus the elapsed microseconds it was computed over. Returns
// ("", 0) if too little audio was seen to produce a single code.
func (f *FingerprintAnalyzer) Finish() (string, int64) {
	if len(f.frameBuf) >= fingerprintBandCount {
		f.emitFrame()
		f.frameBuf = f.frameBuf[:0]
	}
	if len(f.codes) == 0 {
		return "", 0
	}

	raw := make([]byte, len(f.codes)*4)
	for i, c := range f.codes {
		raw[i*4] = byte(c >> 24)
		raw[i*4+1] = byte(c >> 16)
		raw[i*4+2] = byte(c >> 8)
		raw[i*4+3] = byte(c)
	}
	return base64.StdEncoding.EncodeToString(raw), f.elapsedUs
}
