package predsp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReplayGainHistogramIsMonotonic(t *testing.T) {
	r := NewReplayGainAccumulator(44100, 2)

	var lastTotal uint64
	for i := 0; i < 44100*2; i++ {
		frame := []float64{0.3 * math.Sin(float64(i)), 0.3 * math.Sin(float64(i)+0.1)}
		r.Accumulate(frame)

		var total uint64
		for _, c := range r.histogram {
			total += c
		}
		assert.GreaterOrEqual(t, total, lastTotal)
		lastTotal = total
	}
}

func TestReplayGainTargetStableAfterEndOfDecode(t *testing.T) {
	r := NewReplayGainAccumulator(44100, 1)
	for i := 0; i < 44100; i++ {
		r.Accumulate([]float64{0.2 * math.Sin(float64(i)*0.05)})
	}

	first := r.TargetDb()
	second := r.TargetDb()
	assert.Equal(t, first, second)
}

func TestFadeOutDetectorGaplessTransition(t *testing.T) {
	// Silent lead-in, flat loud body, abrupt silence at the very end (no
	// decreasing ramp) — the archetypal gapless case.
	envelope := make([]float64, 35)
	for i := 6; i < 34; i++ {
		envelope[i] = 2000
	}
	envelope[34] = 0

	transition := Decide(envelope)
	assert.Equal(t, TransitionGapless, transition.Kind)
	assert.Equal(t, int64(33*1000-250), transition.AboutToFinishAtMs)
}

func TestFadeOutDetectorCrossfadeTransition(t *testing.T) {
	envelope := make([]float64, 40)
	for i := 5; i < 28; i++ {
		envelope[i] = 2000
	}
	// Ramp down over the last 11 active seconds (indices 28..38); index 39
	// drops below the non-silence threshold.
	for i := 0; i < 11; i++ {
		envelope[28+i] = 2000 * float64(12-i) / 12
	}

	transition := Decide(envelope)
	assert.Equal(t, TransitionCrossfade, transition.Kind)
	assert.Equal(t, int64(28000), transition.AboutToFinishAtMs)
	assert.Equal(t, int64(7500), transition.NextFadeInLenMs)
}

func TestFadeOutDetectorRequestsLeadInFadeWhenNoSilentStart(t *testing.T) {
	envelope := make([]float64, 10)
	for i := range envelope {
		envelope[i] = 2000
	}
	transition := Decide(envelope)
	assert.True(t, transition.RequestLeadInFadeIn)
}

func TestFingerprintAnalyzerIsDeterministicForTheSameAudio(t *testing.T) {
	build := func() (string, int64) {
		f := NewFingerprintAnalyzer(44100)
		for i := 0; i < 44100*3; i++ {
			sample := 10000 * math.Sin(float64(i)*0.05)
			f.Accumulate(sample, int64(i)*1000000/44100)
		}
		return f.Finish()
	}

	fp1, dur1 := build()
	fp2, dur2 := build()

	assert.NotEmpty(t, fp1)
	assert.Equal(t, fp1, fp2)
	assert.Equal(t, dur1, dur2)
}

func TestFingerprintAnalyzerStopsAtTwoMinuteWindow(t *testing.T) {
	f := NewFingerprintAnalyzer(44100)
	for i := 0; i < 44100*150; i++ {
		us := int64(i) * 1000000 / 44100
		f.Accumulate(10000*math.Sin(float64(i)*0.05), us)
	}
	_, durationUs := f.Finish()
	assert.LessOrEqual(t, durationUs, int64(fingerprintWindowLimitUs))
}

func TestFingerprintAnalyzerEmptyForTooLittleAudio(t *testing.T) {
	f := NewFingerprintAnalyzer(44100)
	fp, dur := f.Finish()
	assert.Empty(t, fp)
	assert.Zero(t, dur)
}
