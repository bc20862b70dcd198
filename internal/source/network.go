/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/friendsincode/waver/internal/events"
	"github.com/friendsincode/waver/internal/track"
	"github.com/rs/zerolog"
)

// Network timeouts and limits from spec.md §4.3.
const (
	ConnectTimeout    = 7500 * time.Millisecond
	PreCacheTimeout   = 15000 * time.Millisecond
	MaxRedirects      = 12
	UnderrunWaitCap   = 5 * time.Second
	PreCacheBigBytes  = 1 << 20 // 1 MiB
	PreCacheSmallBytes = 10 << 10 // 10 KiB, used when content-length is known and small
)

// NetworkSource serves a single live stream URL as a Cast track and
// delivers its audio bytes with ICY metadata stripped, grounded on the
// Icy-MetaData request header and HTTP health-check pattern in the
// teacher's internal/webstream/service.go (read for grounding, not kept
// in this tree since GStreamer shell-out does not generalize to an
// in-process reader).
type NetworkSource struct {
	id        string
	url       string
	userAgent string
	bus       *events.Bus
	logger    zerolog.Logger
	client    *http.Client
}

// NewNetworkSource creates a NetworkSource for one stream URL.
func NewNetworkSource(id, url string, bus *events.Bus, logger zerolog.Logger) *NetworkSource {
	s := &NetworkSource{
		id:        id,
		url:       url,
		userAgent: "Waver/1.0",
		bus:       bus,
		logger:    logger.With().Str("component", "source").Str("source_id", id).Logger(),
	}
	s.client = &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= MaxRedirects {
				return fmt.Errorf("source: too many redirects (%d)", len(via))
			}
			return nil
		},
	}
	publishReady(bus, id)
	return s
}

// GetPlaylist returns the single live-stream descriptor repeatedly; a
// radio source has no catalog to page through.
func (s *NetworkSource) GetPlaylist(n int) ([]track.TrackDescriptor, error) {
	if n < 1 {
		n = 1
	}
	out := make([]track.TrackDescriptor, n)
	for i := range out {
		out[i] = track.TrackDescriptor{URL: s.url, Cast: true, Title: s.url}
	}
	return out, nil
}

func (s *NetworkSource) GetReplacement() (*track.TrackDescriptor, error) {
	return &track.TrackDescriptor{URL: s.url, Cast: true, Title: s.url}, nil
}

func (s *NetworkSource) UnableToStart(descriptor track.TrackDescriptor) {
	s.logger.Error().Str("url", descriptor.URL).Msg("network source unable to start")
	publishUnready(s.bus, s.id, "unable to start")
}

func (s *NetworkSource) CastFinishedEarly(descriptor track.TrackDescriptor, playedSeconds int64) {
	s.logger.Warn().Str("url", descriptor.URL).Int64("played_s", playedSeconds).Msg("cast ended early")
}

func (s *NetworkSource) Done(descriptor track.TrackDescriptor) {
	s.logger.Debug().Str("url", descriptor.URL).Msg("cast track done")
}

// Open connects to the stream and returns a Reader that yields audio
// bytes with any ICY metadata interleave stripped, per spec.md §4.3's
// wire-level framing. It blocks until either the connection is
// established and pre-cache target reached, or ConnectTimeout /
// PreCacheTimeout elapses.
func (s *NetworkSource) Open(ctx context.Context) (io.ReadCloser, error) {
	s.bus.Publish(events.EventNetworkStarting, events.Payload{"source_id": s.id, "state": true})

	// The request context also governs reading the body, so it must
	// outlive Open; ConnectTimeout only bounds the wait for the response.
	connectCtx, cancel := context.WithCancel(ctx)
	connectTimer := time.AfterFunc(ConnectTimeout, cancel)

	req, err := http.NewRequestWithContext(connectCtx, http.MethodGet, s.url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("source: build request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Icy-MetaData", "1")

	resp, err := s.client.Do(req)
	connectTimer.Stop()
	if err != nil {
		cancel()
		s.bus.Publish(events.EventNetworkStarting, events.Payload{"source_id": s.id, "state": false})
		return nil, fmt.Errorf("source: connect: %w", err)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("source: HTTP %d", resp.StatusCode)
	}

	metaInt := 0
	if v := resp.Header.Get("icy-metaint"); v != "" {
		metaInt, _ = strconv.Atoi(v)
	}

	reader := &icyStrippingReader{
		r:       bufio.NewReaderSize(resp.Body, 64*1024),
		metaInt: metaInt,
		bus:     s.bus,
		sourceID: s.id,
	}

	preCacheTarget := PreCacheBigBytes
	if cl := resp.ContentLength; cl > 0 && cl < PreCacheSmallBytes {
		preCacheTarget = PreCacheSmallBytes
	}
	if err := s.waitForPreCache(ctx, reader, preCacheTarget); err != nil {
		resp.Body.Close()
		cancel()
		return nil, err
	}

	s.bus.Publish(events.EventNetworkReady, events.Payload{"source_id": s.id})
	return &readCloser{Reader: reader, closer: resp.Body}, nil
}

func (s *NetworkSource) waitForPreCache(ctx context.Context, r *icyStrippingReader, target int) error {
	deadline := time.Now().Add(PreCacheTimeout)
	for r.bufferedAudioBytes() < target {
		if time.Now().After(deadline) {
			return fmt.Errorf("source: pre-cache timeout after %s", PreCacheTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := r.fillOnce(); err != nil {
			if err == io.EOF {
				return nil // short stream; whatever arrived is all there is
			}
			return err
		}
	}
	return nil
}

// icyStrippingReader removes ICY metadata blocks interleaved every
// metaInt audio bytes (spec.md §4.3, §5's wire-level ICY description)
// and parses StreamTitle out of them, publishing update_track_info.
type icyStrippingReader struct {
	r        *bufio.Reader
	metaInt  int
	sinceMeta int
	bus      *events.Bus
	sourceID string

	mu         sync.Mutex
	pending    []byte
	totalAudio int64
}

func (r *icyStrippingReader) bufferedAudioBytes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// fillOnce reads one more chunk of audio (stripping any metadata block
// encountered) into the pending buffer, used only during pre-cache.
func (r *icyStrippingReader) fillOnce() error {
	chunk := make([]byte, 8192)
	n, err := r.readStripped(chunk)
	if n > 0 {
		r.mu.Lock()
		r.pending = append(r.pending, chunk[:n]...)
		r.mu.Unlock()
	}
	return err
}

func (r *icyStrippingReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	if len(r.pending) > 0 {
		n := copy(p, r.pending)
		r.pending = r.pending[n:]
		r.mu.Unlock()
		return n, nil
	}
	r.mu.Unlock()
	return r.readStripped(p)
}

// readStripped reads audio bytes directly off the wire, consuming and
// parsing any ICY metadata block encountered along the way.
func (r *icyStrippingReader) readStripped(p []byte) (int, error) {
	if r.metaInt <= 0 {
		n, err := r.r.Read(p)
		r.totalAudio += int64(n)
		return n, err
	}

	toRead := r.metaInt - r.sinceMeta
	if toRead > len(p) {
		toRead = len(p)
	}
	if toRead <= 0 {
		if err := r.consumeMetaBlock(); err != nil {
			return 0, err
		}
		r.sinceMeta = 0
		toRead = r.metaInt
		if toRead > len(p) {
			toRead = len(p)
		}
	}

	n, err := r.r.Read(p[:toRead])
	r.sinceMeta += n
	r.totalAudio += int64(n)
	return n, err
}

func (r *icyStrippingReader) consumeMetaBlock() error {
	lenByte, err := r.r.ReadByte()
	if err != nil {
		return err
	}
	blockLen := int(lenByte) * 16
	if blockLen == 0 {
		return nil
	}
	buf := make([]byte, blockLen)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return err
	}

	title := parseStreamTitle(buf)
	if title != "" {
		r.bus.Publish(events.EventCastTitle, events.Payload{"source_id": r.sourceID, "title": title, "offset": r.totalAudio})
		r.bus.Publish(events.EventSourceUpdateTrackInfo, events.Payload{"source_id": r.sourceID, "performer": title})
	}
	return nil
}

// parseStreamTitle extracts the value of StreamTitle='...'; from a raw
// ICY metadata block (spec.md §5).
func parseStreamTitle(block []byte) string {
	s := strings.TrimRight(string(block), "\x00")
	const key = "StreamTitle='"
	idx := strings.Index(s, key)
	if idx < 0 {
		return ""
	}
	rest := s[idx+len(key):]
	end := strings.Index(rest, "';")
	if end < 0 {
		return ""
	}
	return rest[:end]
}

type readCloser struct {
	io.Reader
	closer io.Closer
}

func (r *readCloser) Close() error { return r.closer.Close() }
