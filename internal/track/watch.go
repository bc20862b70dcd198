/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package track

import (
	"context"
	"time"

	"github.com/friendsincode/waver/internal/errlog"
	"github.com/friendsincode/waver/internal/events"
	"github.com/friendsincode/waver/internal/fade"
)

// OutputBufferToleranceMs bounds the played_ms <= decoded_ms + tolerance
// invariant of spec.md §3/§8.
const OutputBufferToleranceMs = 1000

// underrunGraceDuration is the 5s wait spec.md §4.2's failure policy gives
// an output underrun before declaring it fatal.
const underrunGraceDuration = 5 * time.Second

// Run subscribes to the events a track's own pipeline (and, transitively,
// the pre-DSP transition decision) publishes about it, and turns them into
// the Track-state transitions and outward AboutToFinish/Finished events
// the Coordinator reacts to. One Run goroutine per live Track; it exits
// when ctx is canceled (Track destruction) or after Finished fires.
func (t *Track) Run(ctx context.Context, bus *events.Bus, errLog *errlog.Log) {
	fadeInSub := bus.Subscribe(events.EventRequestFadeIn)
	fadeInNextSub := bus.Subscribe(events.EventRequestFadeInForNextTrack)
	aboutToFinishSub := bus.Subscribe(events.EventRequestAboutToFinishSend)
	aboutToFinishPrevSub := bus.Subscribe(events.EventRequestAboutToFinishForPrevious)
	interruptSub := bus.Subscribe(events.EventRequestInterrupt)
	positionSub := bus.Subscribe(events.EventPositionChanged)
	decoderFinishedSub := bus.Subscribe(events.EventDecoderFinished)
	decoderErrorSub := bus.Subscribe(events.EventDecoderError)
	underrunSub := bus.Subscribe(events.EventBufferUnderrun)
	fadeOutDoneSub := bus.Subscribe(events.EventFadeOutComplete)
	defer func() {
		bus.Unsubscribe(events.EventRequestFadeIn, fadeInSub)
		bus.Unsubscribe(events.EventRequestFadeInForNextTrack, fadeInNextSub)
		bus.Unsubscribe(events.EventRequestAboutToFinishSend, aboutToFinishSub)
		bus.Unsubscribe(events.EventRequestAboutToFinishForPrevious, aboutToFinishPrevSub)
		bus.Unsubscribe(events.EventRequestInterrupt, interruptSub)
		bus.Unsubscribe(events.EventPositionChanged, positionSub)
		bus.Unsubscribe(events.EventDecoderFinished, decoderFinishedSub)
		bus.Unsubscribe(events.EventDecoderError, decoderErrorSub)
		bus.Unsubscribe(events.EventBufferUnderrun, underrunSub)
		bus.Unsubscribe(events.EventFadeOutComplete, fadeOutDoneSub)
	}()

	decoderDone := false
	finished := false
	underrunArmed := false
	underrunTimer := time.NewTimer(underrunGraceDuration)
	if !underrunTimer.Stop() {
		<-underrunTimer.C
	}
	defer underrunTimer.Stop()

	clearUnderrun := func() {
		if !underrunArmed {
			return
		}
		underrunArmed = false
		if !underrunTimer.Stop() {
			select {
			case <-underrunTimer.C:
			default:
			}
		}
	}

	emitFinished := func() {
		if finished {
			return
		}
		finished = true
		bus.Publish(events.EventFinished, events.Payload{"track_id": t.ID, "played_ms": t.PlayedDurationMs})
	}

	for {
		select {
		case <-ctx.Done():
			return

		case p := <-fadeInSub:
			if !t.belongsTo(p) {
				continue
			}
			t.ApplyFadeInRequest(FadeRequest{Enabled: true, LengthMs: int64toMs(p["length_ms"])})

		case p := <-fadeInNextSub:
			if !t.belongsTo(p) {
				continue
			}
			t.mu.Lock()
			t.NextTrackFadeInRequest = FadeRequest{Enabled: true, LengthMs: int64toMs(p["length_ms"])}
			t.mu.Unlock()

		case p := <-aboutToFinishSub:
			if !t.belongsTo(p) {
				continue
			}
			t.mu.Lock()
			t.AboutToFinishPositionMs = int64toMs(p["position_ms"])
			t.mu.Unlock()

		case p := <-aboutToFinishPrevSub:
			// Nothing in this module publishes this event (the Coordinator
			// forwards no request onto a promoted previous track); a
			// payload carrying this track's ID sets its about-to-finish
			// position just as aboutToFinishSub does.
			if !t.belongsTo(p) {
				continue
			}
			t.mu.Lock()
			t.AboutToFinishPositionMs = int64toMs(p["position_ms"])
			t.mu.Unlock()

		case p := <-interruptSub:
			if !t.belongsTo(p) {
				continue
			}
			t.mu.Lock()
			t.InterruptPositionMs = int64toMs(p["position_ms"])
			t.mu.Unlock()

		case p := <-decoderFinishedSub:
			if !t.belongsTo(p) {
				continue
			}
			decoderDone = true
			t.mu.Lock()
			if t.Pipeline != nil {
				t.DecodedDurationMs = t.Pipeline.DecodedDurationMs()
			}
			played, decoded := t.PlayedDurationMs, t.DecodedDurationMs
			t.mu.Unlock()
			if played >= decoded-OutputBufferToleranceMs {
				emitFinished()
			}

		case p := <-decoderErrorSub:
			if !t.belongsTo(p) {
				continue
			}
			t.mu.Lock()
			if t.Pipeline != nil {
				t.DecodedDurationMs = t.Pipeline.DecodedDurationMs()
			}
			played, decoded := t.PlayedDurationMs, t.DecodedDurationMs
			t.mu.Unlock()
			// Decoder error while playing, with >=1s of buffered audio
			// left: non-fatal, play out what's buffered (spec.md §4.2).
			if decoded-played >= OutputBufferToleranceMs {
				if errLog != nil {
					errLog.Record(errlog.EngineError{
						Kind: errlog.DecoderFormatUnsupported, Severity: errlog.SeverityNonFatal,
						Message: "decoder error, playing out buffered audio", TrackID: t.ID,
					})
				}
				bus.Publish(events.EventEngineError, events.Payload{"track_id": t.ID, "severity": "non_fatal", "message": "decoder error, playing out buffered audio"})
				decoderDone = true
				continue
			}
			// <1s left: fatal.
			if errLog != nil {
				errLog.Record(errlog.EngineError{
					Kind: errlog.DecoderFormatUnsupported, Severity: errlog.SeverityFatal,
					Message: "decoder error near end of track", TrackID: t.ID,
				})
			}
			emitFinished()

		case p := <-fadeOutDoneSub:
			// A fade-out driven to completion (interrupt, skip, or manual
			// remove) finishes the track directly rather than waiting on
			// the underrun grace window (spec.md §4.7, §5's Cancellation
			// rule).
			if !t.belongsTo(p) {
				continue
			}
			emitFinished()

		case p := <-underrunSub:
			if !t.belongsTo(p) {
				continue
			}
			t.mu.Lock()
			if t.Pipeline != nil {
				t.DecodedDurationMs = t.Pipeline.DecodedDurationMs()
			}
			played, decoded := t.PlayedDurationMs, t.DecodedDurationMs
			t.mu.Unlock()
			if decoderDone && played >= decoded-OutputBufferToleranceMs {
				emitFinished()
				continue
			}
			if !underrunArmed {
				underrunArmed = true
				underrunTimer.Reset(underrunGraceDuration)
			}

		case <-underrunTimer.C:
			// No progress for underrunGraceDuration since the last
			// BufferUnderrun: a real underrun stops position events too, so
			// this timer (not the positionSub case) is what actually fires
			// the fatal path (spec.md §4.2).
			underrunArmed = false
			if errLog != nil {
				errLog.Record(errlog.EngineError{
					Kind: errlog.OutputDeviceError, Severity: errlog.SeverityFatal,
					Message: "output underrun exceeded grace period", TrackID: t.ID,
				})
			}
			emitFinished()

		case p := <-positionSub:
			if !t.belongsTo(p) {
				continue
			}
			posUs, _ := p["position_us"].(int64)
			posMs := posUs / 1000

			t.mu.Lock()
			if posMs > t.PlayedDurationMs {
				t.PlayedDurationMs = posMs
				clearUnderrun()
			}
			aboutToFinishAt := t.AboutToFinishPositionMs
			interruptAt := t.InterruptPositionMs
			alreadyFired := t.aboutToFinishFired
			t.mu.Unlock()

			if aboutToFinishAt > 0 && posMs >= aboutToFinishAt && !alreadyFired {
				if t.MarkAboutToFinish() {
					bus.Publish(events.EventAboutToFinish, events.Payload{"track_id": t.ID})
				}
			}
			if interruptAt > 0 && posMs >= interruptAt {
				t.mu.Lock()
				t.InterruptPositionMs = 0 // fire once
				t.mu.Unlock()
				t.Interrupt(4000)
			}

			if decoderDone {
				t.mu.Lock()
				if t.Pipeline != nil {
					t.DecodedDurationMs = t.Pipeline.DecodedDurationMs()
				}
				played, decoded := t.PlayedDurationMs, t.DecodedDurationMs
				t.mu.Unlock()
				if played >= decoded-OutputBufferToleranceMs {
					emitFinished()
				}
			}
		}

		if finished {
			return
		}
	}
}

// Interrupt sets the track's fade state to fade-out over fadeMs and lets
// the output finish naturally; the 50ms-deferred fade-out-complete
// callback in internal/output (PortAudioSink.onFadeOutComplete) triggers
// Finished (spec.md §5's Cancellation rule).
func (t *Track) Interrupt(fadeMs int64) {
	t.mu.Lock()
	t.Fade.Direction = fade.Out
	t.Fade.Percent = 100
	t.Fade.Seconds = float64(fadeMs) / 1000.0
	t.Fade.FrameCounter = 0
	t.mu.Unlock()
}

func (t *Track) belongsTo(p events.Payload) bool {
	id, _ := p["track_id"].(string)
	return id == t.ID
}

func int64toMs(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}
