/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package decoder implements the Decoder plugin interface of spec.md §6:
// turning a track's URL into a stream of PCM buffers, plus the Registry
// that picks a decoder for a URL with priority-ordered fallback.
package decoder

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/friendsincode/waver/internal/pcm"
)

// Msg is the event type emitted on a Decoder's Events channel. Concrete
// types are BufferReadyMsg, FinishedMsg, ErrorMsg and CastTitleMsg.
type Msg interface{}

// BufferReadyMsg carries one decoded PCM buffer, ready for pre-DSP.
type BufferReadyMsg struct {
	Buffer *pcm.Buffer
}

// FinishedMsg signals clean end-of-stream; no further buffers follow.
type FinishedMsg struct{}

// ErrorMsg signals a decode failure. It ends the stream whether or not a
// BufferReadyMsg came before it: the pipeline publishes it as a decoder
// error and no other candidate decoder is tried.
type ErrorMsg struct {
	Err error
}

// CastTitleMsg carries an updated stream title read from container or
// protocol metadata (e.g. an ICY StreamTitle) after decoding has started.
type CastTitleMsg struct {
	Title string
}

// Decoder decodes one track's URL into a stream of PCM buffers.
type Decoder interface {
	SetURL(url string)
	SetUserAgent(ua string)
	// Start begins decoding; it returns once decoding has been kicked off,
	// with further progress delivered over Events. The context governs
	// the lifetime of the background decode goroutine.
	Start(ctx context.Context) error
	Events() <-chan Msg
}

// NetworkOpener is satisfied by a playlist Source capable of serving its
// own URL as a live byte stream (a cast/radio source). Defined here,
// structurally, rather than importing internal/source, so a Decoder can
// accept one without a package cycle.
type NetworkOpener interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// NetworkAware is implemented by decoders that can read from an injected
// NetworkOpener instead of opening a local file, for cast tracks whose URL
// has no on-disk representation (spec.md §4.3).
type NetworkAware interface {
	SetNetworkOpener(opener NetworkOpener)
}

// Factory builds a fresh Decoder instance for a Registry entry.
type Factory func() Decoder

// entry is one registered decoder candidate, tried in priority order.
type entry struct {
	name    string
	accepts func(url string) bool
	build   Factory
}

// Registry holds the priority-ordered list of decoder plugins and picks
// the first whose accepts predicate matches a URL, per spec.md §6. The
// Coordinator moves on to the next accepting candidate only when building
// or starting one fails; a decoder that errors after Start (even before
// its first BufferReadyMsg) is not replaced by another candidate.
type Registry struct {
	entries []entry
}

// NewRegistry creates an empty registry; register candidates with
// Register in priority order (highest priority first).
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a decoder candidate at the end of the priority list.
func (r *Registry) Register(name string, accepts func(url string) bool, build Factory) {
	r.entries = append(r.entries, entry{name: name, accepts: accepts, build: build})
}

// Candidates returns, in priority order, the names of every registered
// decoder that accepts url.
func (r *Registry) Candidates(url string) []string {
	var names []string
	for _, e := range r.entries {
		if e.accepts(url) {
			names = append(names, e.name)
		}
	}
	return names
}

// Build constructs the decoder registered under name, or an error if no
// such candidate is registered.
func (r *Registry) Build(name string) (Decoder, error) {
	for _, e := range r.entries {
		if e.name == name {
			return e.build(), nil
		}
	}
	return nil, fmt.Errorf("decoder: no candidate registered as %q", name)
}

// DefaultRegistry returns the Registry carrying the engine's bundled
// decoders, WAV before Opus: WAV by file extension only, Opus by file
// extension or any http(s) URL (a cast stream).
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("wav", hasSuffix(".wav"), func() Decoder { return NewWAVDecoder() })
	r.Register("opus", hasSuffixOrNetwork(".opus", ".ogg"), func() Decoder { return NewOpusDecoder() })
	return r
}

func hasSuffix(suffixes ...string) func(string) bool {
	return func(url string) bool {
		lower := strings.ToLower(url)
		for _, s := range suffixes {
			if strings.HasSuffix(lower, s) {
				return true
			}
		}
		return false
	}
}

// hasSuffixOrNetwork additionally accepts any http(s) URL: a live stream's
// URL rarely carries a meaningful file extension, and Opus (via
// gopkg.in/hraban/opus.v2) is the only codec in the bundled registry
// capable of demuxing an Ogg/Opus cast stream read through a NetworkOpener.
func hasSuffixOrNetwork(suffixes ...string) func(string) bool {
	bySuffix := hasSuffix(suffixes...)
	return func(url string) bool {
		lower := strings.ToLower(url)
		return bySuffix(url) || strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
	}
}
