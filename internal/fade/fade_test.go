package fade

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestFadePercentStaysBounded(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		state := &State{
			Direction: Direction(rapid.IntRange(1, 2).Draw(rt, "direction")),
			Percent:   rapid.IntRange(0, 100).Draw(rt, "percent"),
			Seconds:   rapid.Float64Range(0.01, 5).Draw(rt, "seconds"),
		}
		frameCount := rapid.IntRange(1, 2000).Draw(rt, "frames")
		frames := make([][]float64, frameCount)
		for i := range frames {
			frames[i] = []float64{1.0, 1.0}
		}

		Render(state, frames, 44100, 2, nil)

		assert.GreaterOrEqual(t, state.Percent, 0)
		assert.LessOrEqual(t, state.Percent, 100)
	})
}

func TestFadeOutReachesZeroSilencesSamples(t *testing.T) {
	state := &State{Direction: Out, Percent: 1, Seconds: 0.001}
	frames := [][]float64{{1.0, 1.0}, {1.0, 1.0}, {1.0, 1.0}}

	completed := false
	Render(state, frames, 44100, 2, func() { completed = true })

	assert.True(t, completed)
	assert.Equal(t, 0, state.Percent)
	assert.Equal(t, []float64{0, 0}, frames[1])
	assert.Equal(t, []float64{0, 0}, frames[2])
}

func TestFadeInReachesFullAndClearsDirection(t *testing.T) {
	state := &State{Direction: In, Percent: 99, Seconds: 0.001}
	frames := [][]float64{{1.0}, {1.0}, {1.0}}

	Render(state, frames, 44100, 1, nil)

	assert.Equal(t, 100, state.Percent)
	assert.Equal(t, None, state.Direction)
}

func TestFadeScalesSamplesByPercent(t *testing.T) {
	state := &State{Direction: Out, Percent: 50, Seconds: 1000}
	frames := [][]float64{{1.0, 1.0}}

	Render(state, frames, 44100, 2, nil)

	assert.InDelta(t, 0.5, frames[0][0], 1e-9)
}
