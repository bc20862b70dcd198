/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package coordinator

import (
	"testing"

	"github.com/friendsincode/waver/internal/track"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func descriptor(url string) track.TrackDescriptor {
	return track.TrackDescriptor{URL: url}
}

func TestPlaylistQueueAppendPreservesOrder(t *testing.T) {
	q := newPlaylistQueue()
	q.append("src-a", []track.TrackDescriptor{descriptor("a1"), descriptor("a2")})
	q.append("src-b", []track.TrackDescriptor{descriptor("b1")})

	require.Equal(t, 3, q.Len())

	first, ok := q.popFront()
	require.True(t, ok)
	assert.Equal(t, "a1", first.descriptor.URL)

	second, ok := q.popFront()
	require.True(t, ok)
	assert.Equal(t, "a2", second.descriptor.URL)

	third, ok := q.popFront()
	require.True(t, ok)
	assert.Equal(t, "b1", third.descriptor.URL)

	_, ok = q.popFront()
	assert.False(t, ok)
}

func TestPlaylistQueuePrependAfterCurrentSourceInsertsAfterSourceRun(t *testing.T) {
	q := newPlaylistQueue()
	q.append("src-a", []track.TrackDescriptor{descriptor("a1"), descriptor("a2")})
	q.append("src-b", []track.TrackDescriptor{descriptor("b1")})

	q.prependAfterCurrentSource("src-a", descriptor("replacement"))

	q.mu.Lock()
	urls := make([]string, len(q.items))
	for i, item := range q.items {
		urls[i] = item.descriptor.URL
	}
	q.mu.Unlock()

	assert.Equal(t, []string{"a1", "a2", "replacement", "b1"}, urls)
}

func TestPlaylistQueueRemoveMatching(t *testing.T) {
	q := newPlaylistQueue()
	q.append("src-a", []track.TrackDescriptor{descriptor("a1"), descriptor("skip-me"), descriptor("a2")})

	removed := q.removeMatching(func(d track.TrackDescriptor) bool { return d.URL == "skip-me" })

	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, q.Len())
}
