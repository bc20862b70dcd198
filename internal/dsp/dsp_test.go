package dsp

import (
	"math"
	"testing"

	"github.com/friendsincode/waver/internal/pcm"
	"github.com/stretchr/testify/assert"
)

func TestFlatEqualizerIsLinear(t *testing.T) {
	eq := NewEqualizer(44100, 2)

	in := make([]float64, 64)
	for i := range in {
		in[i] = 0.2 * math.Sin(float64(i)*0.3)
	}
	out := append([]float64(nil), in...)
	eq.ProcessInPlace(0, out, pcm.Int16)

	eq2 := NewEqualizer(44100, 2)
	doubled := make([]float64, len(in))
	for i, s := range in {
		doubled[i] = s * 2
	}
	eq2.ProcessInPlace(0, doubled, pcm.Int16)

	for i := range out {
		assert.InDelta(t, out[i]*2, doubled[i], 1e-6)
	}
}

func TestReplayGainSmoothingSnapsWhenClose(t *testing.T) {
	eq := NewEqualizer(44100, 1)
	eq.SetReplayGainTarget(0.02, 0)
	eq.currentGainDb = 0
	eq.stepReplayGain()
	assert.Equal(t, 0.02, eq.currentGainDb)
}

func TestReplayGainSmoothingStepsGradually(t *testing.T) {
	eq := NewEqualizer(44100, 1)
	eq.SetReplayGainTarget(6.0, 0)
	eq.currentGainDb = 0

	eq.stepReplayGain()
	assert.Less(t, eq.currentGainDb, 6.0)
	assert.Greater(t, eq.currentGainDb, 0.0)
}

func TestSaturateClampsToUnitRange(t *testing.T) {
	assert.Equal(t, 1.0, saturate(4.2, pcm.Int16))
	assert.Equal(t, -1.0, saturate(-4.2, pcm.Int16))
	assert.Equal(t, 0.5, saturate(0.5, pcm.Int16))
}

func TestBandwidthMeetsGeometricMidpoints(t *testing.T) {
	bw := bandwidth(5) // center 1000, neighbors 500 and 2500
	lowMid := math.Sqrt(500 * 1000)
	highMid := math.Sqrt(1000 * 2500)
	assert.InDelta(t, highMid-lowMid, bw, 1e-9)
}
