/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package source

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dhowden/tag"
	"github.com/friendsincode/waver/internal/events"
	"github.com/friendsincode/waver/internal/track"
	"github.com/rs/zerolog"
)

// supportedExtensions mirrors the engine's bundled decoders
// (internal/decoder): WAV and Opus-in-Ogg containers.
var supportedExtensions = []string{".wav", ".opus", ".ogg"}

// LocalFileSource walks a media root directory and serves its files as a
// round-robin playlist, filling TrackDescriptor metadata from file tags
// the way arung-agamani-denpa-radio's playlist.Track does with
// dhowden/tag, adapted from a checksummed catalog entry into the
// engine's streaming TrackDescriptor.
type LocalFileSource struct {
	id     string
	root   string
	bus    *events.Bus
	logger zerolog.Logger

	mu     sync.Mutex
	files  []string
	cursor int
}

// NewLocalFileSource scans root for supported audio files. Returns an
// error if root cannot be walked.
func NewLocalFileSource(id, root string, bus *events.Bus, logger zerolog.Logger) (*LocalFileSource, error) {
	s := &LocalFileSource{
		id:     id,
		root:   root,
		bus:    bus,
		logger: logger.With().Str("component", "source").Str("source_id", id).Logger(),
	}
	if err := s.rescan(); err != nil {
		return nil, err
	}
	publishReady(bus, id)
	return s, nil
}

func (s *LocalFileSource) rescan() error {
	var files []string
	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if isSupportedExtension(filepath.Ext(path)) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("source: scan %s: %w", s.root, err)
	}
	sort.Strings(files)

	s.mu.Lock()
	s.files = files
	s.mu.Unlock()
	return nil
}

func isSupportedExtension(ext string) bool {
	lower := strings.ToLower(ext)
	for _, e := range supportedExtensions {
		if lower == e {
			return true
		}
	}
	return false
}

// GetPlaylist returns up to n tracks starting at the current cursor,
// wrapping around the catalog.
func (s *LocalFileSource) GetPlaylist(n int) ([]track.TrackDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.files) == 0 {
		return nil, fmt.Errorf("source: no files under %s", s.root)
	}

	out := make([]track.TrackDescriptor, 0, n)
	for i := 0; i < n; i++ {
		path := s.files[s.cursor%len(s.files)]
		s.cursor++
		out = append(out, descriptorFromFile(path))
	}
	return out, nil
}

// GetReplacement returns the single next track in rotation.
func (s *LocalFileSource) GetReplacement() (*track.TrackDescriptor, error) {
	descriptors, err := s.GetPlaylist(1)
	if err != nil {
		return nil, err
	}
	return &descriptors[0], nil
}

func (s *LocalFileSource) UnableToStart(descriptor track.TrackDescriptor) {
	s.logger.Warn().Str("url", descriptor.URL).Msg("decoder unable to start track")
	s.bus.Publish(events.EventSourceRequestRemoveTracks, events.Payload{"url": descriptor.URL})
}

// CastFinishedEarly never fires for a file source (Cast is always false);
// kept to satisfy the Source interface.
func (s *LocalFileSource) CastFinishedEarly(track.TrackDescriptor, int64) {}

func (s *LocalFileSource) Done(descriptor track.TrackDescriptor) {
	s.logger.Debug().Str("url", descriptor.URL).Msg("track finished")
}

func descriptorFromFile(path string) track.TrackDescriptor {
	d := track.TrackDescriptor{
		URL:   "file://" + path,
		Cast:  false,
		Title: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
	}

	f, err := os.Open(path)
	if err != nil {
		return d
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return d
	}
	if m.Title() != "" {
		d.Title = m.Title()
	}
	if m.Artist() != "" {
		d.Performer = m.Artist()
	}
	if m.Album() != "" {
		d.Album = m.Album()
	}
	if m.Year() != 0 {
		d.Year = m.Year()
	}
	if num, _ := m.Track(); num != 0 {
		d.TrackNum = num
	}
	if pic := m.Picture(); pic != nil {
		d.Pictures = []string{pic.MIMEType}
	}
	return d
}
