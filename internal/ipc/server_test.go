/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package ipc

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/friendsincode/waver/internal/coordinator"
	"github.com/friendsincode/waver/internal/errlog"
	"github.com/friendsincode/waver/internal/events"
	"github.com/friendsincode/waver/internal/track"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCoordinator struct {
	paused    bool
	resumed   bool
	skipped   bool
	enqueued  []track.TrackDescriptor
	requested int
}

func (f *fakeCoordinator) Pause()   { f.paused = true }
func (f *fakeCoordinator) Resume()  { f.resumed = true }
func (f *fakeCoordinator) SkipNext() { f.skipped = true }
func (f *fakeCoordinator) Enqueue(_ context.Context, _ string, descriptors []track.TrackDescriptor) {
	f.enqueued = append(f.enqueued, descriptors...)
}
func (f *fakeCoordinator) RequestPlaylistMore(_ context.Context, minCount int) {
	f.requested = minCount
}
func (f *fakeCoordinator) Snapshot() coordinator.Snapshot {
	return coordinator.Snapshot{Paused: f.paused}
}

func startTestServer(t *testing.T) (*Server, *fakeCoordinator, net.Conn) {
	t.Helper()
	coord := &fakeCoordinator{}
	bus := events.NewBus()
	srv := NewServer("127.0.0.1", 0, coord, bus, errlog.New(0), zerolog.Nop())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv.listener = ln

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			sess := newSession(conn, srv, zerolog.Nop())
			srv.mu.Lock()
			srv.sessions[sess.id] = sess
			srv.mu.Unlock()
			go sess.run(ctx)
		}
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return srv, coord, conn
}

func TestSessionAreYouAliveRepliesImAlive(t *testing.T) {
	_, _, conn := startTestServer(t)

	_, err := conn.Write([]byte("are_you_alive\x1e"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := bufio.NewReader(conn).ReadString(0x1E)
	require.NoError(t, err)
	assert.Equal(t, "im_alive\x1e", reply)
}

func TestSessionPauseInvokesCoordinator(t *testing.T) {
	_, coord, conn := startTestServer(t)

	_, err := conn.Write([]byte("pause\x1e"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return coord.paused }, time.Second, 10*time.Millisecond)
}

func TestSessionUnknownURLTagEnqueues(t *testing.T) {
	_, coord, conn := startTestServer(t)

	_, err := conn.Write([]byte("http://example.com/stream.mp3\x1e"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(coord.enqueued) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "http://example.com/stream.mp3", coord.enqueued[0].URL)
}

func TestSessionPlaylistTagRequestsMore(t *testing.T) {
	_, coord, conn := startTestServer(t)

	_, err := conn.Write([]byte("playlist:{\"count\":5}\x1e"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return coord.requested == 5 }, time.Second, 10*time.Millisecond)
}
