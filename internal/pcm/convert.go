/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package pcm

import (
	"encoding/binary"
	"math"
)

// DecodeFrames converts buf into one float64 slice per frame (holding
// that frame's sample for each channel) in [-1, 1], the normalized domain
// DSP and pre-DSP analysis operate in.
func DecodeFrames(buf *Buffer) [][]float64 {
	channels := buf.Format.Channels
	if channels < 1 {
		channels = 1
	}
	frames := buf.Format.FrameCount(len(buf.Data))
	out := make([][]float64, frames)
	for i := range out {
		out[i] = make([]float64, channels)
	}

	switch buf.Format.SampleType {
	case Int16:
		for i := 0; i < frames; i++ {
			for ch := 0; ch < channels; ch++ {
				off := (i*channels + ch) * 2
				if off+2 > len(buf.Data) {
					continue
				}
				v := int16(binary.LittleEndian.Uint16(buf.Data[off:]))
				out[i][ch] = float64(v) / 32768.0
			}
		}
	case Float32:
		for i := 0; i < frames; i++ {
			for ch := 0; ch < channels; ch++ {
				off := (i*channels + ch) * 4
				if off+4 > len(buf.Data) {
					continue
				}
				bits := binary.LittleEndian.Uint32(buf.Data[off:])
				out[i][ch] = float64(math.Float32frombits(bits))
			}
		}
	case Uint8:
		for i := 0; i < frames; i++ {
			for ch := 0; ch < channels; ch++ {
				off := i*channels + ch
				if off >= len(buf.Data) {
					continue
				}
				out[i][ch] = (float64(buf.Data[off]) - 128) / 128.0
			}
		}
	default:
		// Int8/Uint16/Int32/Uint32 are accepted by the format model but
		// not produced by the bundled decoders; treat as silence rather
		// than guessing a byte layout.
	}

	return out
}

// EncodeFrames writes per-frame float64 samples (as DecodeFrames returns
// them) back into buf.Data in
// buf.Format's wire layout, saturating to the representable range.
func EncodeFrames(buf *Buffer, frames [][]float64) {
	channels := buf.Format.Channels
	if channels < 1 {
		channels = 1
	}

	switch buf.Format.SampleType {
	case Int16:
		for i, frame := range frames {
			for ch := 0; ch < channels && ch < len(frame); ch++ {
				off := (i*channels + ch) * 2
				if off+2 > len(buf.Data) {
					continue
				}
				v := clampInt16(frame[ch])
				binary.LittleEndian.PutUint16(buf.Data[off:], uint16(v))
			}
		}
	case Float32:
		for i, frame := range frames {
			for ch := 0; ch < channels && ch < len(frame); ch++ {
				off := (i*channels + ch) * 4
				if off+4 > len(buf.Data) {
					continue
				}
				bits := math.Float32bits(float32(frame[ch]))
				binary.LittleEndian.PutUint32(buf.Data[off:], bits)
			}
		}
	case Uint8:
		for i, frame := range frames {
			for ch := 0; ch < channels && ch < len(frame); ch++ {
				off := i*channels + ch
				if off >= len(buf.Data) {
					continue
				}
				v := frame[ch]*128 + 128
				if v > 255 {
					v = 255
				}
				if v < 0 {
					v = 0
				}
				buf.Data[off] = byte(v)
			}
		}
	default:
	}
}

func clampInt16(v float64) int16 {
	scaled := v * 32767
	if scaled > 32767 {
		return 32767
	}
	if scaled < -32768 {
		return -32768
	}
	return int16(scaled)
}
