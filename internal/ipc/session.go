/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/friendsincode/waver/internal/events"
	"github.com/friendsincode/waver/internal/track"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// session is one connected UI client: a read loop parsing incoming wire
// messages and a write loop relaying subscribed bus events back out,
// mirroring the harbor server's per-connection goroutine pair.
type session struct {
	id     string
	conn   net.Conn
	srv    *Server
	logger zerolog.Logger

	writeMu sync.Mutex
}

func newSession(conn net.Conn, srv *Server, logger zerolog.Logger) *session {
	id := uuid.New().String()
	return &session{
		id:     id,
		conn:   conn,
		srv:    srv,
		logger: logger.With().Str("component", "ipc").Str("session_id", id).Logger(),
	}
}

// run drives the session until ctx is canceled or the connection closes.
func (s *session) run(ctx context.Context) {
	defer s.conn.Close()

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.relayEvents(subCtx)
	}()

	s.readLoop(subCtx)
	cancel()
	wg.Wait()
}

// readLoop parses incoming wire messages and dispatches them to the
// Coordinator, per the tag table in spec.md §6.
func (s *session) readLoop(ctx context.Context) {
	r := bufio.NewReader(s.conn)
	for {
		msg, err := readMessage(r)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug().Err(err).Msg("ipc read error")
			}
			return
		}
		if err := s.dispatch(ctx, msg); err != nil {
			s.logger.Warn().Err(err).Str("tag", msg.tag).Msg("ipc dispatch failed")
		}
		if msg.tag == "quit" {
			return
		}
	}
}

// dispatch implements the tag handlers of spec.md §6.
func (s *session) dispatch(ctx context.Context, msg message) error {
	switch msg.tag {
	case "are_you_alive":
		return s.send("im_alive", nil)
	case "pause":
		s.srv.coordinator.Pause()
	case "resume":
		s.srv.coordinator.Resume()
	case "next":
		s.srv.coordinator.SkipNext()
	case "playlist":
		var req struct {
			SourceID string `json:"source_id"`
			Count    int    `json:"count"`
		}
		if len(msg.body) > 0 {
			if err := json.Unmarshal(msg.body, &req); err != nil {
				return err
			}
		}
		if req.Count <= 0 {
			req.Count = 1
		}
		s.srv.coordinator.RequestPlaylistMore(ctx, req.Count)
	case "diagnostics":
		return s.send("diagnostics", s.srv.diagnosticsSnapshot())
	case "search", "collection_list", "plugin_ui", "plugin_ui_results", "track_action",
		"open_tracks", "open_tracks_selected", "track_info", "position", "quit":
		// Acknowledged with no Coordinator action ("quit" also ends this
		// session, in readLoop); the Coordinator and Source plugins cover
		// track enqueue and playback control, and the remaining surface
		// belongs to a UI process this module does not implement.
	default:
		// readMessage split the frame at its first ':', which for a URL
		// is the one after the scheme; rejoin it before parsing.
		raw := msg.tag
		if msg.body != nil {
			raw += ":" + string(msg.body)
		}
		if looksLikeURL(raw) {
			d := track.TrackDescriptor{URL: raw}
			s.srv.coordinator.Enqueue(ctx, externalSourceID, []track.TrackDescriptor{d})
		}
	}
	return nil
}

// relayEvents forwards TrackInfo and position updates to this client,
// since the Bus has no per-subscriber scoping and every session shares the
// same coordinator.
func (s *session) relayEvents(ctx context.Context) {
	trackInfo := s.srv.bus.Subscribe(events.EventTrackInfo)
	position := s.srv.bus.Subscribe(events.EventPositionChanged)
	engineErr := s.srv.bus.Subscribe(events.EventEngineError)
	defer s.srv.bus.Unsubscribe(events.EventTrackInfo, trackInfo)
	defer s.srv.bus.Unsubscribe(events.EventPositionChanged, position)
	defer s.srv.bus.Unsubscribe(events.EventEngineError, engineErr)

	for {
		select {
		case <-ctx.Done():
			return
		case p := <-trackInfo:
			_ = s.send("track_info", p)
		case p := <-position:
			_ = s.send("position", p)
		case p := <-engineErr:
			_ = s.send("diagnostics", p)
		}
	}
}

func (s *session) send(tag string, payload any) error {
	frame, err := encode(tag, payload)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err = s.conn.Write(frame)
	return err
}
