/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package coordinator

import (
	"context"
	"testing"

	"github.com/friendsincode/waver/internal/config"
	"github.com/friendsincode/waver/internal/decoder"
	"github.com/friendsincode/waver/internal/errlog"
	"github.com/friendsincode/waver/internal/events"
	"github.com/friendsincode/waver/internal/fade"
	"github.com/friendsincode/waver/internal/track"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	playlist        []track.TrackDescriptor
	replacement     *track.TrackDescriptor
	unableToStarts  []track.TrackDescriptor
	castsFinished   []track.TrackDescriptor
	doneTracks      []track.TrackDescriptor
	replacementCall int
}

func (f *fakeSource) GetPlaylist(n int) ([]track.TrackDescriptor, error) {
	if n > len(f.playlist) {
		n = len(f.playlist)
	}
	return f.playlist[:n], nil
}

func (f *fakeSource) GetReplacement() (*track.TrackDescriptor, error) {
	f.replacementCall++
	return f.replacement, nil
}

func (f *fakeSource) UnableToStart(d track.TrackDescriptor) {
	f.unableToStarts = append(f.unableToStarts, d)
}

func (f *fakeSource) CastFinishedEarly(d track.TrackDescriptor, playedSeconds int64) {
	f.castsFinished = append(f.castsFinished, d)
}

func (f *fakeSource) Done(d track.TrackDescriptor) {
	f.doneTracks = append(f.doneTracks, d)
}

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	cfg := &config.EngineConfig{
		LowQueueThreshold:     2,
		GiveUpAfterN:          4,
		LocalSourcePreference: 0,
	}
	return New(cfg, events.NewBus(), errlog.New(0), decoder.NewRegistry(), zerolog.Nop())
}

func TestPickRoundRobinSourcePrefersLowerPriorityAmongReady(t *testing.T) {
	c := newTestCoordinator(t)
	c.RegisterSource("network", 10, &fakeSource{})
	c.RegisterSource("local", 0, &fakeSource{})
	c.markSourceReady("network", true)
	c.markSourceReady("local", true)

	picked := c.pickRoundRobinSource()
	require.NotNil(t, picked)
	assert.Equal(t, "local", picked.id)
}

func TestPickRoundRobinSourceSkipsUnready(t *testing.T) {
	c := newTestCoordinator(t)
	c.RegisterSource("local", 0, &fakeSource{})
	c.RegisterSource("network", 10, &fakeSource{})
	c.markSourceReady("network", true)

	picked := c.pickRoundRobinSource()
	require.NotNil(t, picked)
	assert.Equal(t, "network", picked.id)
}

func TestPickRoundRobinSourceReturnsNilWhenNoneReady(t *testing.T) {
	c := newTestCoordinator(t)
	c.RegisterSource("local", 0, &fakeSource{})
	assert.Nil(t, c.pickRoundRobinSource())
}

func TestApplyGiveUpRuleStopsAfterNConsecutiveZeroPlayed(t *testing.T) {
	c := newTestCoordinator(t)
	for i := 0; i < 3; i++ {
		c.applyGiveUpRule(0)
		assert.False(t, c.isGivenUp())
	}
	c.applyGiveUpRule(0)
	assert.True(t, c.isGivenUp())
}

func TestApplyGiveUpRuleResetsOnNonZeroPlayed(t *testing.T) {
	c := newTestCoordinator(t)
	c.applyGiveUpRule(0)
	c.applyGiveUpRule(0)
	c.applyGiveUpRule(5000)
	c.mu.Lock()
	count := c.consecutiveZeroPlayed
	c.mu.Unlock()
	assert.Equal(t, 0, count)
	assert.False(t, c.isGivenUp())
}

func TestEnqueueDoesNotResetGiveUpState(t *testing.T) {
	c := newTestCoordinator(t)
	c.applyGiveUpRule(0)
	c.applyGiveUpRule(0)
	c.applyGiveUpRule(0)
	c.applyGiveUpRule(0)
	require.True(t, c.isGivenUp())

	c.Enqueue(context.Background(), "local", nil)
	assert.True(t, c.isGivenUp())
}

func TestHandlePositionChangedResetsGiveUpStateForCurrentTrack(t *testing.T) {
	c := newTestCoordinator(t)
	cur := &liveTrack{t: track.New(track.TrackDescriptor{URL: "a.wav"}, "local", zerolog.Nop())}
	c.current = cur

	c.applyGiveUpRule(0)
	c.applyGiveUpRule(0)
	c.applyGiveUpRule(0)
	c.applyGiveUpRule(0)
	require.True(t, c.isGivenUp())

	c.handlePositionChanged(cur.t.ID)
	assert.False(t, c.isGivenUp())
}

func TestHandlePositionChangedIgnoresNonCurrentTrack(t *testing.T) {
	c := newTestCoordinator(t)
	cur := &liveTrack{t: track.New(track.TrackDescriptor{URL: "a.wav"}, "local", zerolog.Nop())}
	c.current = cur

	c.applyGiveUpRule(0)
	c.applyGiveUpRule(0)
	c.applyGiveUpRule(0)
	c.applyGiveUpRule(0)
	require.True(t, c.isGivenUp())

	c.handlePositionChanged("some-other-track-id")
	assert.True(t, c.isGivenUp())
}

func TestApplyReplacementRuleRequestsOneReplacementForShortFilePlay(t *testing.T) {
	c := newTestCoordinator(t)
	fs := &fakeSource{replacement: &track.TrackDescriptor{URL: "replacement"}}
	c.RegisterSource("local", 0, fs)

	lt := &liveTrack{t: track.New(track.TrackDescriptor{URL: "a.wav"}, "local", zerolog.Nop()), sourceID: "local"}
	lt.t.Replaceable = true

	c.applyReplacementRule(lt, 500)

	assert.Equal(t, 1, fs.replacementCall)
	assert.Equal(t, 1, c.queue.Len())
}

func TestApplyReplacementRuleSkipsNonReplaceableTrack(t *testing.T) {
	c := newTestCoordinator(t)
	fs := &fakeSource{replacement: &track.TrackDescriptor{URL: "replacement"}}
	c.RegisterSource("local", 0, fs)

	lt := &liveTrack{t: track.New(track.TrackDescriptor{URL: "a.wav"}, "local", zerolog.Nop()), sourceID: "local"}
	lt.t.Replaceable = false

	c.applyReplacementRule(lt, 500)

	assert.Equal(t, 0, fs.replacementCall)
}

func TestApplyReplacementRuleIgnoresCastTracks(t *testing.T) {
	c := newTestCoordinator(t)
	fs := &fakeSource{replacement: &track.TrackDescriptor{URL: "replacement"}}
	c.RegisterSource("radio", 0, fs)

	// Cast tracks are routed through ReportCastEndedEarly (see
	// TestReportCastEndedEarlyRequestsReplacementBelowThreshold), not the
	// file-oriented applyReplacementRule.
	lt := &liveTrack{t: track.New(track.TrackDescriptor{URL: "http://stream", Cast: true}, "radio", zerolog.Nop()), sourceID: "radio"}
	lt.t.Replaceable = true

	c.applyReplacementRule(lt, 90_000)
	assert.Equal(t, 0, fs.replacementCall)
}

func TestReportUnableToStartRelaysAndRequestsReplacement(t *testing.T) {
	c := newTestCoordinator(t)
	fs := &fakeSource{replacement: &track.TrackDescriptor{URL: "replacement"}}
	c.RegisterSource("local", 0, fs)

	c.ReportUnableToStart("local", track.TrackDescriptor{URL: "broken.wav"})

	require.Len(t, fs.unableToStarts, 1)
	assert.Equal(t, "broken.wav", fs.unableToStarts[0].URL)
	assert.Equal(t, 1, c.queue.Len())
}

func TestReportCastEndedEarlyRequestsReplacementBelowThreshold(t *testing.T) {
	c := newTestCoordinator(t)
	fs := &fakeSource{replacement: &track.TrackDescriptor{URL: "replacement"}}
	c.RegisterSource("radio", 0, fs)

	c.ReportCastEndedEarly("radio", track.TrackDescriptor{URL: "http://stream", Cast: true}, 90)

	require.Len(t, fs.castsFinished, 1)
	assert.Equal(t, 1, c.queue.Len())
}

func TestReportCastEndedEarlySkipsReplacementAboveThreshold(t *testing.T) {
	c := newTestCoordinator(t)
	fs := &fakeSource{replacement: &track.TrackDescriptor{URL: "replacement"}}
	c.RegisterSource("radio", 0, fs)

	c.ReportCastEndedEarly("radio", track.TrackDescriptor{URL: "http://stream", Cast: true}, 200)

	assert.Equal(t, 0, c.queue.Len())
}

func TestHandleFinishedRoutesCastTracksThroughReportCastEndedEarly(t *testing.T) {
	c := newTestCoordinator(t)
	fs := &fakeSource{replacement: &track.TrackDescriptor{URL: "replacement"}}
	c.RegisterSource("radio", 0, fs)

	tr := track.New(track.TrackDescriptor{URL: "http://stream", Cast: true}, "radio", zerolog.Nop())
	tr.Replaceable = true
	tr.Pipeline = track.NewPipeline(tr.ID, nil, nil, c.bus, true, zerolog.Nop())
	lt := &liveTrack{t: tr, sourceID: "radio", cancel: func() {}}
	// Parked as previous (not current) so handleFinished returns right
	// after teardown, without also driving maybeStartCurrent's own
	// replacement cascade through the test's decoder-less registry.
	c.previous = lt

	c.handleFinished(context.Background(), tr.ID, 90_000)

	require.Len(t, fs.castsFinished, 1)
	assert.Equal(t, 1, c.queue.Len())
}

func TestRemoveTracksInterruptsMatchingCurrent(t *testing.T) {
	c := newTestCoordinator(t)
	cur := &liveTrack{t: track.New(track.TrackDescriptor{URL: "a.wav"}, "local", zerolog.Nop())}
	c.current = cur

	c.queue.append("local", []track.TrackDescriptor{{URL: "a.wav"}, {URL: "b.wav"}})
	removed := c.RemoveTracks(func(d track.TrackDescriptor) bool { return d.URL == "a.wav" })

	assert.Equal(t, 1, removed)
	assert.Equal(t, fade.Out, cur.t.Fade.Direction)
}

func TestSnapshotReportsQueueLengthAndPauseStateWithNoCurrent(t *testing.T) {
	c := newTestCoordinator(t)
	c.queue.append("local", []track.TrackDescriptor{{URL: "a.wav"}, {URL: "b.wav"}})
	c.Pause()

	snap := c.Snapshot()

	assert.Equal(t, 2, snap.QueueLength)
	assert.True(t, snap.Paused)
	assert.Empty(t, snap.CurrentTrackID)
}
