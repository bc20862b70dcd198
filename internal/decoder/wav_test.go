/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package decoder

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestWAV(t *testing.T, frames int, sampleRate, channels int) string {
	t.Helper()
	var buf bytes.Buffer

	dataSize := frames * channels * 2
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*channels*2))
	binary.Write(&buf, binary.LittleEndian, uint16(channels*2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	for i := 0; i < frames*channels; i++ {
		binary.Write(&buf, binary.LittleEndian, int16(i%1000))
	}

	path := filepath.Join(t.TempDir(), "fixture.wav")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func TestWAVDecoderStreamsAllFramesThenFinishes(t *testing.T) {
	path := writeTestWAV(t, wavChunkFrames*2+10, 44100, 2)

	d := NewWAVDecoder()
	d.SetURL("file://" + path)
	require.NoError(t, d.Start(context.Background()))

	var totalFrames int
	finished := false
	for msg := range d.Events() {
		switch m := msg.(type) {
		case BufferReadyMsg:
			totalFrames += m.Buffer.Frames()
			assert.Equal(t, 44100, m.Buffer.Format.SampleRate)
			assert.Equal(t, 2, m.Buffer.Format.Channels)
			m.Buffer.Release()
		case FinishedMsg:
			finished = true
		case ErrorMsg:
			t.Fatalf("unexpected error: %v", m.Err)
		}
	}

	assert.True(t, finished)
	assert.Equal(t, wavChunkFrames*2+10, totalFrames)
}

func TestWAVDecoderRejectsNonRIFFFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	require.NoError(t, os.WriteFile(path, []byte("not a wav file at all"), 0o600))

	d := NewWAVDecoder()
	d.SetURL("file://" + path)
	err := d.Start(context.Background())
	assert.Error(t, err)
}

func TestDefaultRegistryPicksWAVForWavExtension(t *testing.T) {
	r := DefaultRegistry()
	candidates := r.Candidates("https://example.com/track.wav")
	require.NotEmpty(t, candidates)
	assert.Equal(t, "wav", candidates[0])

	built, err := r.Build("wav")
	require.NoError(t, err)
	_, ok := built.(*WAVDecoder)
	assert.True(t, ok)
}

func TestRegistryBuildUnknownNameErrors(t *testing.T) {
	r := DefaultRegistry()
	_, err := r.Build("flac")
	assert.Error(t, err)
}
