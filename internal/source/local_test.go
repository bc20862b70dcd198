/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/friendsincode/waver/internal/events"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFixtureFiles(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("not real audio, just a fixture"), 0o600))
	}
	return dir
}

func TestLocalFileSourceGetPlaylistWrapsAroundCatalog(t *testing.T) {
	dir := writeFixtureFiles(t, "a.wav", "b.wav", "ignored.txt")
	bus := events.NewBus()

	src, err := NewLocalFileSource("local", dir, bus, zerolog.Nop())
	require.NoError(t, err)

	descriptors, err := src.GetPlaylist(3)
	require.NoError(t, err)
	require.Len(t, descriptors, 3)
	assert.False(t, descriptors[0].Cast)
	// 3 requested from a 2-file catalog wraps back to the first file.
	assert.Equal(t, descriptors[0].URL, descriptors[2].URL)
}

func TestLocalFileSourceErrorsOnEmptyCatalog(t *testing.T) {
	dir := writeFixtureFiles(t, "ignored.txt")
	bus := events.NewBus()

	src, err := NewLocalFileSource("local", dir, bus, zerolog.Nop())
	require.NoError(t, err)

	_, err = src.GetPlaylist(1)
	assert.Error(t, err)
}

func TestLocalFileSourceGetReplacementAdvancesCursor(t *testing.T) {
	dir := writeFixtureFiles(t, "a.wav", "b.wav")
	bus := events.NewBus()

	src, err := NewLocalFileSource("local", dir, bus, zerolog.Nop())
	require.NoError(t, err)

	first, err := src.GetReplacement()
	require.NoError(t, err)
	second, err := src.GetReplacement()
	require.NoError(t, err)
	assert.NotEqual(t, first.URL, second.URL)
}
