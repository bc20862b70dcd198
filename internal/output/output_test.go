/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package output

import (
	"testing"

	"github.com/friendsincode/waver/internal/fade"
	"github.com/friendsincode/waver/internal/pcm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaSampleFormatKnownTypes(t *testing.T) {
	fmt16, err := paSampleFormat(pcm.Int16)
	require.NoError(t, err)
	assert.NotZero(t, fmt16)

	fmt32, err := paSampleFormat(pcm.Int32)
	require.NoError(t, err)
	assert.NotEqual(t, fmt16, fmt32)
}

func TestFadeRenderKeepsSamplesInUnitRange(t *testing.T) {
	state := &fade.State{Direction: fade.In, Percent: 0, Seconds: 0.01}
	frames := [][]float64{{1, 1}, {1, 1}, {1, 1}}
	fade.Render(state, frames, 100, 2, nil)

	for _, f := range frames {
		for _, s := range f {
			assert.GreaterOrEqual(t, s, 0.0)
			assert.LessOrEqual(t, s, 1.0)
		}
	}
}
