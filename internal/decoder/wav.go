/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package decoder

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/friendsincode/waver/internal/pcm"
)

// wavChunkFrames is how many frames WAVDecoder reads per BufferReadyMsg;
// at 44.1kHz stereo 16-bit this is roughly 46ms per buffer.
const wavChunkFrames = 2048

// WAVDecoder reads an uncompressed PCM WAV container directly from disk.
// No third-party WAV parsing library appears anywhere in the retrieval
// pack (the drgolem/musictools decoders are referenced but not vendored
// into it), and the RIFF chunk format is a handful of fixed-width reads,
// so this is a deliberate stdlib-only leaf, mirroring internal/biquad's
// justification.
type WAVDecoder struct {
	url       string
	userAgent string
	events    chan Msg
}

// NewWAVDecoder creates a WAVDecoder with no URL set yet.
func NewWAVDecoder() *WAVDecoder {
	return &WAVDecoder{events: make(chan Msg, CacheChannelDepth)}
}

// CacheChannelDepth sizes the Events channel buffer so a slow consumer
// doesn't stall the decode goroutine across a handful of buffers.
const CacheChannelDepth = 8

func (d *WAVDecoder) SetURL(url string)       { d.url = url }
func (d *WAVDecoder) SetUserAgent(ua string)  { d.userAgent = ua }
func (d *WAVDecoder) Events() <-chan Msg      { return d.events }

// Start opens the file and begins streaming fixed-size PCM buffers on a
// background goroutine, until FinishedMsg or ErrorMsg.
func (d *WAVDecoder) Start(ctx context.Context) error {
	path := strings.TrimPrefix(d.url, "file://")
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("wav: open %s: %w", path, err)
	}

	format, dataSize, err := readWAVHeader(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("wav: %w", err)
	}

	go d.stream(ctx, f, format, dataSize)
	return nil
}

func (d *WAVDecoder) stream(ctx context.Context, f *os.File, format pcm.Format, dataSize int64) {
	defer f.Close()
	defer close(d.events)

	chunkBytes := format.FrameSize() * wavChunkFrames
	if chunkBytes <= 0 {
		chunkBytes = wavChunkFrames * 4
	}
	remaining := dataSize
	var bytesRead int64

	for remaining > 0 {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n := chunkBytes
		if int64(n) > remaining {
			n = int(remaining)
		}
		n -= n % format.FrameSize()
		if n <= 0 {
			break
		}

		buf := pcm.Acquire(format, n)
		if _, err := io.ReadFull(f, buf.Data); err != nil {
			buf.Release()
			d.events <- ErrorMsg{Err: fmt.Errorf("wav: read: %w", err)}
			return
		}
		buf.StartTimeUs = format.DurationUs(int(bytesRead))
		bytesRead += int64(n)
		remaining -= int64(n)

		select {
		case d.events <- BufferReadyMsg{Buffer: buf}:
		case <-ctx.Done():
			buf.Release()
			return
		}
	}

	d.events <- FinishedMsg{}
}

// fmtChunk mirrors the fixed-width WAVE "fmt " chunk layout; see
// the Multimedia Programming Interface and Data Specifications 1.0.
type fmtChunk struct {
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

func readWAVHeader(r io.Reader) (pcm.Format, int64, error) {
	var riffID [4]byte
	var riffSize uint32
	var waveID [4]byte
	if err := binary.Read(r, binary.LittleEndian, &riffID); err != nil {
		return pcm.Format{}, 0, err
	}
	if string(riffID[:]) != "RIFF" {
		return pcm.Format{}, 0, fmt.Errorf("not a RIFF file")
	}
	if err := binary.Read(r, binary.LittleEndian, &riffSize); err != nil {
		return pcm.Format{}, 0, err
	}
	if err := binary.Read(r, binary.LittleEndian, &waveID); err != nil {
		return pcm.Format{}, 0, err
	}
	if string(waveID[:]) != "WAVE" {
		return pcm.Format{}, 0, fmt.Errorf("not a WAVE file")
	}

	var fc fmtChunk
	var dataSize int64
	haveFmt := false

	for {
		var chunkID [4]byte
		var chunkSize uint32
		if err := binary.Read(r, binary.LittleEndian, &chunkID); err != nil {
			return pcm.Format{}, 0, err
		}
		if err := binary.Read(r, binary.LittleEndian, &chunkSize); err != nil {
			return pcm.Format{}, 0, err
		}

		switch string(chunkID[:]) {
		case "fmt ":
			if err := binary.Read(r, binary.LittleEndian, &fc); err != nil {
				return pcm.Format{}, 0, err
			}
			haveFmt = true
			if pad := int64(chunkSize) - 16; pad > 0 {
				if _, err := io.CopyN(io.Discard, r, pad); err != nil {
					return pcm.Format{}, 0, err
				}
			}
		case "data":
			dataSize = int64(chunkSize)
			if !haveFmt {
				return pcm.Format{}, 0, fmt.Errorf("data chunk before fmt chunk")
			}
			return fmtToFormat(fc), dataSize, nil
		default:
			if _, err := io.CopyN(io.Discard, r, int64(chunkSize)); err != nil {
				return pcm.Format{}, 0, err
			}
		}
	}
}

func fmtToFormat(fc fmtChunk) pcm.Format {
	sampleType := pcm.Int16
	switch fc.BitsPerSample {
	case 8:
		sampleType = pcm.Uint8
	case 16:
		sampleType = pcm.Int16
	case 32:
		if fc.AudioFormat == 3 {
			sampleType = pcm.Float32
		} else {
			sampleType = pcm.Int32
		}
	}
	return pcm.Format{
		SampleRate: int(fc.SampleRate),
		Channels:   int(fc.NumChannels),
		SampleType: sampleType,
	}
}
