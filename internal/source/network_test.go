/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package source

import (
	"bufio"
	"bytes"
	"io"
	"testing"

	"github.com/friendsincode/waver/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStreamTitleExtractsQuotedValue(t *testing.T) {
	block := []byte("StreamTitle='Artist - Song';StreamUrl='';\x00\x00\x00")
	assert.Equal(t, "Artist - Song", parseStreamTitle(block))
}

func TestParseStreamTitleReturnsEmptyWithoutKey(t *testing.T) {
	assert.Equal(t, "", parseStreamTitle([]byte("\x00\x00\x00\x00")))
}

func TestIcyStrippingReaderStripsInterleavedMetadata(t *testing.T) {
	audio1 := bytes.Repeat([]byte{0x11}, 8192)
	audio2 := bytes.Repeat([]byte{0x22}, 100)

	meta := []byte("StreamTitle='Artist - Song';")
	metaBlock := make([]byte, 16) // one 16-byte unit; grown below when meta is longer
	copy(metaBlock, meta)
	if len(meta) > 16 {
		// pad to the next 16-byte boundary so the length byte is exact
		units := (len(meta) + 15) / 16
		metaBlock = make([]byte, units*16)
		copy(metaBlock, meta)
	}
	lengthByte := byte(len(metaBlock) / 16)

	var wire bytes.Buffer
	wire.Write(audio1)
	wire.WriteByte(lengthByte)
	wire.Write(metaBlock)
	wire.Write(audio2)

	bus := events.NewBus()
	sub := bus.Subscribe(events.EventCastTitle)

	r := &icyStrippingReader{
		r:        bufio.NewReaderSize(bytes.NewReader(wire.Bytes()), 4096),
		metaInt:  8192,
		bus:      bus,
		sourceID: "test",
	}

	out, err := io.ReadAll(readerFunc(r.Read))
	require.NoError(t, err)
	assert.Equal(t, append(append([]byte{}, audio1...), audio2...), out)

	select {
	case payload := <-sub:
		assert.Equal(t, "Artist - Song", payload["title"])
	default:
		t.Fatal("expected a cast_title event")
	}
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }
