/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package output implements the Output stage described in spec.md §4.6:
// the device-facing sink that renders fades, writes PCM at real-time rate
// and publishes playback position.
package output

import (
	"github.com/friendsincode/waver/internal/pcm"
)

// Output is the contract every sink (device or otherwise) implements, per
// spec.md §6's Output plugin interface.
type Output interface {
	// BufferAvailable accepts ownership of one buffer reference; the sink
	// must call buf.Release() exactly once when it is done with it,
	// whether written successfully, dropped on pause, or discarded on
	// shutdown.
	BufferAvailable(buf *pcm.Buffer)
	IsMainOutput() bool
	Pause()
	Resume()
	// MainOutputPositionUs returns the authoritative position clock; only
	// meaningful when IsMainOutput() is true.
	MainOutputPositionUs() int64
	Close() error
}
