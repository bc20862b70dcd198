/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package ipc

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/friendsincode/waver/internal/coordinator"
	"github.com/friendsincode/waver/internal/errlog"
	"github.com/friendsincode/waver/internal/events"
	"github.com/friendsincode/waver/internal/source"
	"github.com/friendsincode/waver/internal/track"
	"github.com/rs/zerolog"
)

// externalSourceID is the synthetic Source identity tracks enqueued over
// the wire are attributed to (spec.md §6's "unknown tag that parses as a
// URL" enqueue path has no Source plugin of its own).
const externalSourceID = "ipc"

// coordinatorAPI is the subset of *coordinator.Coordinator the wire
// protocol drives, kept as an interface so session/server tests can fake
// it without spinning up pipelines.
type coordinatorAPI interface {
	Pause()
	Resume()
	SkipNext()
	Enqueue(ctx context.Context, sourceID string, descriptors []track.TrackDescriptor)
	RequestPlaylistMore(ctx context.Context, minCount int)
	Snapshot() coordinator.Snapshot
}

// externalSource is a no-op Source registered only so tracks enqueued by a
// UI over the wire protocol have somewhere to route UnableToStart/Done
// feedback; it never supplies its own playlist.
type externalSource struct{}

func (externalSource) GetPlaylist(n int) ([]track.TrackDescriptor, error) { return nil, nil }
func (externalSource) GetReplacement() (*track.TrackDescriptor, error)    { return nil, nil }
func (externalSource) UnableToStart(track.TrackDescriptor)                {}
func (externalSource) CastFinishedEarly(track.TrackDescriptor, int64)     {}
func (externalSource) Done(track.TrackDescriptor)                        {}

// Server owns the TCP wire-protocol listener described in spec.md §6.
type Server struct {
	bind        string
	port        int
	coordinator coordinatorAPI
	bus         *events.Bus
	errLog      *errlog.Log
	logger      zerolog.Logger

	listener net.Listener

	mu       sync.Mutex
	sessions map[string]*session
	wg       sync.WaitGroup
}

// NewServer builds a wire-protocol Server. Register ExternalSource() under
// ExternalSourceID() on the Coordinator before Start so enqueue-by-URL
// messages (spec.md §6's "unknown tag that parses as a URL") have a Source
// to route feedback to.
func NewServer(bind string, port int, coord coordinatorAPI, bus *events.Bus, errLog *errlog.Log, logger zerolog.Logger) *Server {
	return &Server{
		bind:        bind,
		port:        port,
		coordinator: coord,
		bus:         bus,
		errLog:      errLog,
		logger:      logger.With().Str("component", "ipc").Logger(),
		sessions:    make(map[string]*session),
	}
}

// ExternalSource returns the no-op Source plugin that should be registered
// on the Coordinator under externalSourceID before Start, so UI-enqueued
// tracks can route feedback somewhere.
func ExternalSource() source.Source { return externalSource{} }

// ExternalSourceID is the synthetic source id for UI enqueues.
func ExternalSourceID() string { return externalSourceID }

// ListenAndServe accepts connections until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.bind, s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("ipc listen: %w", err)
	}
	s.listener = ln
	s.logger.Info().Str("addr", addr).Msg("ipc server listening")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
				s.logger.Warn().Err(err).Msg("ipc accept error")
				return err
			}
		}

		sess := newSession(conn, s, s.logger)
		s.mu.Lock()
		s.sessions[sess.id] = sess
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.sessions, sess.id)
				s.mu.Unlock()
			}()
			sess.run(ctx)
		}()
	}
}

// ActiveSessions reports how many UI clients are currently connected.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// diagnosticsSnapshot builds the payload for the "diagnostics" tag and the
// HTTP /diagnostics route: recent engine errors, session count and the
// Coordinator's current playback snapshot.
func (s *Server) diagnosticsSnapshot() map[string]any {
	errs := s.errLog.Recent()
	messages := make([]string, len(errs))
	for i, e := range errs {
		messages[i] = e.Error()
	}
	return map[string]any{
		"sessions": s.ActiveSessions(),
		"errors":   messages,
		"playback": s.coordinator.Snapshot(),
	}
}
