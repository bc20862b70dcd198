/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package track

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/friendsincode/waver/internal/decoder"
	"github.com/friendsincode/waver/internal/dsp"
	"github.com/friendsincode/waver/internal/events"
	"github.com/friendsincode/waver/internal/output"
	"github.com/friendsincode/waver/internal/pcm"
	"github.com/friendsincode/waver/internal/predsp"
	"github.com/rs/zerolog"
)

// CacheBufferCount is the initial prefill depth: up to this many buffers
// are routed directly to the DSP chain so playback can start promptly
// (spec.md §4.2 step 3).
const CacheBufferCount = 3

// StageRole tags a pipeline stage handle. The Pipeline owns its stages in
// an arena (the stages slice) and every handle refers to siblings by index
// rather than by pointer, per the arena+index model in spec.md §9.
type StageRole int

const (
	RoleDecoder StageRole = iota
	RolePreDSP
	RoleDSP
	RoleOutput
)

// StageHandle is an index into the Pipeline's stage arena.
type StageHandle struct {
	Role  StageRole
	Index int
}

// Pipeline owns a Track's decoder, pre-DSP analyzers, DSP chain and output
// sinks, and implements the per-buffer transport protocol of spec.md §4.2.
type Pipeline struct {
	stages []StageHandle // arena; referenced by index, never by pointer

	decoder      decoder.Decoder
	replayGain   *predsp.ReplayGainAccumulator
	fadeDetector *predsp.FadeOutDetector
	fingerprint  *predsp.FingerprintAnalyzer
	eq           *dsp.Equalizer
	outputs      []output.Output

	bus     *events.Bus
	trackID string
	cast    bool
	logger  zerolog.Logger

	format      pcm.Format
	formatSet   bool
	formatMu    sync.Mutex

	// Synchronizer queue state (spec.md §4.2 step 3): up to
	// CacheBufferCount buffers may be in flight between the decoder and
	// the main output before further decoding throttles on BufferDone.
	inFlight      atomic.Int32
	bufferDoneSub events.Subscriber

	decodedDurationMs atomic.Int64

	cancel context.CancelFunc
}

// NewPipeline wires a decoder, a fresh pre-DSP/DSP chain and a set of
// outputs for one track. cast marks a live-stream track: fingerprinting is
// skipped for cast tracks, matching the original analyzer (there is no
// fixed track to identify, and a live stream rarely offers a stable two
// minute window to fingerprint).
func NewPipeline(trackID string, dec decoder.Decoder, outputs []output.Output, bus *events.Bus, cast bool, logger zerolog.Logger) *Pipeline {
	p := &Pipeline{
		decoder: dec,
		outputs: outputs,
		bus:     bus,
		trackID: trackID,
		cast:    cast,
		logger:  logger.With().Str("component", "pipeline").Str("track_id", trackID).Logger(),
	}
	p.stages = []StageHandle{
		{Role: RoleDecoder, Index: 0},
		{Role: RolePreDSP, Index: 0},
		{Role: RoleDSP, Index: 0},
		{Role: RoleOutput, Index: 0},
	}
	return p
}

// Start launches the decoder and begins draining BufferReady events into
// the pre-DSP / DSP / output chain. Returns the error, if any, from
// starting the decoder; the pipeline's goroutines stop when ctx is
// canceled or Stop is called.
func (p *Pipeline) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.bufferDoneSub = p.bus.Subscribe(events.EventBufferDone)

	readyCh := make(chan *pcm.Buffer, CacheBufferCount+1)
	go p.runDecoder(ctx, readyCh)
	go p.runPipeline(ctx, readyCh)

	return p.decoder.Start(ctx)
}

// Stop requests shutdown of every goroutine spawned by Start, releasing
// handles on all exit paths per spec.md §9's RAII-equivalent drop
// semantics.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	if p.bufferDoneSub != nil {
		p.bus.Unsubscribe(events.EventBufferDone, p.bufferDoneSub)
	}
}

func (p *Pipeline) runDecoder(ctx context.Context, readyCh chan<- *pcm.Buffer) {
	defer close(readyCh)
	decoderEvents := p.decoder.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-decoderEvents:
			if !ok {
				return
			}
			switch m := msg.(type) {
			case decoder.BufferReadyMsg:
				p.bus.Publish(events.EventBufferReady, events.Payload{"track_id": p.trackID})
				select {
				case readyCh <- m.Buffer:
				case <-ctx.Done():
					m.Buffer.Release()
					return
				}
			case decoder.FinishedMsg:
				p.bus.Publish(events.EventDecoderFinished, events.Payload{"track_id": p.trackID})
				p.publishTransition()
				return
			case decoder.ErrorMsg:
				p.bus.Publish(events.EventDecoderError, events.Payload{"track_id": p.trackID, "error": m.Err.Error()})
				return
			case decoder.CastTitleMsg:
				p.bus.Publish(events.EventCastTitle, events.Payload{"track_id": p.trackID, "title": m.Title})
			}
		}
	}
}

// runPipeline implements the per-buffer protocol: pre-DSP analysis
// (observe-only), the CacheBufferCount prefill / synchronizer gate, DSP
// processing, and fan-out to every output with a shared refcount.
func (p *Pipeline) runPipeline(ctx context.Context, readyCh <-chan *pcm.Buffer) {
	prefilled := 0
	for {
		select {
		case <-ctx.Done():
			return
		case buf, ok := <-readyCh:
			if !ok {
				return
			}
			p.ensureFormat(buf.Format)
			p.analyze(buf)

			if prefilled < CacheBufferCount {
				prefilled++
			} else {
				p.waitForSynchronizerSlot(ctx)
			}
			p.inFlight.Add(1)

			p.decodedDurationMs.Add(buf.Format.DurationUs(len(buf.Data)) / 1000)

			p.dispatchToOutputs(buf)
		}
	}
}

// waitForSynchronizerSlot blocks until a BufferDone frees a slot, throttling
// decode-ahead to real time while keeping a small lookahead (spec.md §4.2
// step 3 / §5's ordering guarantee).
func (p *Pipeline) waitForSynchronizerSlot(ctx context.Context) {
	for p.inFlight.Load() >= CacheBufferCount {
		select {
		case <-ctx.Done():
			return
		case <-p.bufferDoneSub:
			p.inFlight.Add(-1)
			return
		}
	}
}

// dispatchToOutputs applies the DSP chain, then fans the buffer out to
// every output sink with a shared refcount, per spec.md §3's AudioBuffer
// invariant.
func (p *Pipeline) dispatchToOutputs(buf *pcm.Buffer) {
	if p.eq != nil {
		p.processDSP(buf)
	}

	for i := 1; i < len(p.outputs); i++ {
		buf.Retain()
	}
	for _, sink := range p.outputs {
		sink.BufferAvailable(buf)
	}
}

// processDSP deinterleaves the buffer, runs the equalizer and ReplayGain
// correction per channel, and re-encodes the result back into the wire
// format in place.
func (p *Pipeline) processDSP(buf *pcm.Buffer) {
	frames := pcm.DecodeFrames(buf)
	channels := buf.Format.Channels
	if channels < 1 {
		channels = 1
	}

	for ch := 0; ch < channels; ch++ {
		column := make([]float64, len(frames))
		for i, f := range frames {
			if ch < len(f) {
				column[i] = f[ch]
			}
		}
		p.eq.ProcessInPlace(ch, column, buf.Format.SampleType)
		for i := range frames {
			if ch < len(frames[i]) {
				frames[i][ch] = column[i]
			}
		}
	}

	pcm.EncodeFrames(buf, frames)
}

// analyze runs the pre-DSP chain (ReplayGain accumulation and fade-out
// envelope tracking) over the buffer. Pre-DSP observes PCM without
// transforming it, beyond the ReplayGain filter state which is discarded
// after analysis.
func (p *Pipeline) analyze(buf *pcm.Buffer) {
	if p.replayGain == nil {
		p.replayGain = predsp.NewReplayGainAccumulator(buf.Format.SampleRate, buf.Format.Channels)
	}
	if p.fadeDetector == nil {
		p.fadeDetector = predsp.NewFadeOutDetector(buf.Format.SampleRate)
	}
	if p.fingerprint == nil && !p.cast {
		p.fingerprint = predsp.NewFingerprintAnalyzer(buf.Format.SampleRate)
	}

	frames := pcm.DecodeFrames(buf)
	channels := buf.Format.Channels
	if channels < 1 {
		channels = 1
	}
	frameDurationUs := buf.Format.DurationUs(buf.Format.FrameSize())
	elapsedUs := buf.StartTimeUs
	for _, f := range frames {
		p.replayGain.Accumulate(f)

		var sum float64
		for _, s := range f {
			sum += s
		}
		mono := sum / float64(channels) * 32767
		p.fadeDetector.Accumulate(mono)
		if p.fingerprint != nil {
			p.fingerprint.Accumulate(mono, elapsedUs)
		}
		elapsedUs += frameDurationUs
	}

	if p.replayGain.ShouldPublish() && p.eq != nil {
		target := p.replayGain.TargetDb()
		p.eq.SetReplayGainTarget(target, 0)
		p.bus.Publish(events.EventReplayGainTarget, events.Payload{
			"track_id":   p.trackID,
			"target_db": target,
		})
	}
}

// publishTransition runs the fade-out detector's end-of-decode decision
// (spec.md §4.4) and publishes the resulting transition request as the
// typed pre-DSP events the Track's watcher (Track.Run) consumes to schedule promotion,
// fade-in and interruption. Runs once, at decoder end-of-stream.
func (p *Pipeline) publishTransition() {
	if p.fingerprint != nil {
		if fp, durationUs := p.fingerprint.Finish(); fp != "" {
			p.bus.Publish(events.EventFingerprintReady, events.Payload{
				"track_id":     p.trackID,
				"fingerprint":  fp,
				"duration_ms":  durationUs / 1000,
			})
		}
	}

	if p.fadeDetector == nil {
		return
	}
	envelope := p.fadeDetector.Finish()
	t := predsp.Decide(envelope)

	if t.RequestLeadInFadeIn {
		p.bus.Publish(events.EventRequestFadeIn, events.Payload{
			"track_id":  p.trackID,
			"length_ms": predsp.InterruptFadeMs,
		})
	}

	switch t.Kind {
	case predsp.TransitionCrossfade:
		p.bus.Publish(events.EventRequestAboutToFinishSend, events.Payload{
			"track_id": p.trackID, "position_ms": t.AboutToFinishAtMs,
		})
		p.bus.Publish(events.EventRequestFadeInForNextTrack, events.Payload{
			"track_id": p.trackID, "length_ms": t.NextFadeInLenMs,
		})
	case predsp.TransitionEarlyStart:
		p.bus.Publish(events.EventRequestAboutToFinishSend, events.Payload{
			"track_id": p.trackID, "position_ms": t.AboutToFinishAtMs,
		})
	case predsp.TransitionInterruptMedley:
		p.bus.Publish(events.EventRequestInterrupt, events.Payload{
			"track_id": p.trackID, "position_ms": t.InterruptAtMs, "with_fadeout": true,
		})
	case predsp.TransitionGapless:
		p.bus.Publish(events.EventRequestAboutToFinishSend, events.Payload{
			"track_id": p.trackID, "position_ms": t.AboutToFinishAtMs,
		})
	}
}

func (p *Pipeline) ensureFormat(f pcm.Format) {
	p.formatMu.Lock()
	defer p.formatMu.Unlock()
	if !p.formatSet {
		p.format = f
		p.formatSet = true
		p.eq = dsp.NewEqualizer(f.SampleRate, f.Channels)
	}
}

// DecodedDurationMs reports the cumulative decoded duration, used for the
// played/decoded tolerance invariant (spec.md §3, §8).
func (p *Pipeline) DecodedDurationMs() int64 {
	return p.decodedDurationMs.Load()
}

// PauseOutputs stops every output sink without tearing them down, per
// spec.md §4.1's pause operation.
func (p *Pipeline) PauseOutputs() {
	for _, o := range p.outputs {
		o.Pause()
	}
}

// ResumeOutputs restarts every output sink (spec.md §4.1's resume
// operation); each sink applies its own short fade-in per spec.md §4.6.
func (p *Pipeline) ResumeOutputs() {
	for _, o := range p.outputs {
		o.Resume()
	}
}

// CloseOutputs releases every output sink's device handle, the last step
// of tearing a track down (spec.md §9's RAII-equivalent drop semantics).
func (p *Pipeline) CloseOutputs() {
	for _, o := range p.outputs {
		if err := o.Close(); err != nil {
			p.logger.Warn().Err(err).Msg("close output")
		}
	}
}
