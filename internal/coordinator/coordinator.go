/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package coordinator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/friendsincode/waver/internal/config"
	"github.com/friendsincode/waver/internal/decoder"
	"github.com/friendsincode/waver/internal/errlog"
	"github.com/friendsincode/waver/internal/events"
	"github.com/friendsincode/waver/internal/fade"
	"github.com/friendsincode/waver/internal/output"
	"github.com/friendsincode/waver/internal/source"
	"github.com/friendsincode/waver/internal/track"
	"github.com/rs/zerolog"
)

// castReplaceableThresholdMs is the "cast finishes with played_ms < 180s"
// replacement-rule threshold of spec.md §4.1.
const castReplaceableThresholdMs = 180_000

// fileReplaceableThresholdMs is the "finishes with played_ms < 1000ms"
// replacement-rule threshold.
const fileReplaceableThresholdMs = 1000

// sourceEntry is one registered Source plugin plus its round-robin
// scheduling priority (spec.md §4.1 step 1: lower is higher precedence,
// ties broken by insertion order).
type sourceEntry struct {
	id       string
	priority int
	src      source.Source
	ready    bool
}

// liveTrack bundles a running Track with the context that governs its
// pipeline goroutines and its watcher goroutine, so Coordinator can tear
// either down independently of the other's lifetime.
type liveTrack struct {
	t        *track.Track
	sourceID string
	cancel   context.CancelFunc
}

// Coordinator is the Playback Coordinator of spec.md §4.1: it owns the
// playlist queue, the current and (during crossfade) previous Track, and
// sequences pipeline construction, promotion and teardown. Modeled on the
// teacher's playout.Director tick loop, generalized from scheduled-entry
// execution to playlist-queue promotion, with all cross-stage state
// exchanged as bus events rather than direct calls (spec.md §9's
// signal/slot -> typed-events-over-channels redesign).
type Coordinator struct {
	cfg      *config.EngineConfig
	bus      *events.Bus
	errLog   *errlog.Log
	decoders *decoder.Registry
	logger   zerolog.Logger

	queue *PlaylistQueue

	mu                    sync.Mutex
	sources               []*sourceEntry
	current               *liveTrack
	previous              *liveTrack
	paused                bool
	consecutiveZeroPlayed int
	giveUp                bool

	wg sync.WaitGroup
}

// New builds a Coordinator. decoders is the priority-ordered decoder
// Registry shared across every Track pipeline the Coordinator creates.
func New(cfg *config.EngineConfig, bus *events.Bus, errLog *errlog.Log, decoders *decoder.Registry, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		bus:      bus,
		errLog:   errLog,
		decoders: decoders,
		logger:   logger.With().Str("component", "coordinator").Logger(),
		queue:    newPlaylistQueue(),
	}
}

// RegisterSource adds a Source plugin at the given round-robin priority.
// Call before Start; the local-file source should be registered with the
// lowest priority number so the startup preference window in Start can
// find it.
func (c *Coordinator) RegisterSource(id string, priority int, src source.Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources = append(c.sources, &sourceEntry{id: id, priority: priority, src: src})
}

// markSourceReady flips a registered source's readiness, driven by its
// `ready`/`unready` bus events (spec.md §6).
func (c *Coordinator) markSourceReady(id string, ready bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.sources {
		if s.id == id {
			s.ready = ready
			return
		}
	}
}

// Start wires the Coordinator's bus subscriptions and performs the
// startup fetch: low-queue threshold check with the local-source
// preference window (spec.md §4.1 step 1), then whatever tracks that
// yields get the queue going (step 2).
func (c *Coordinator) Start(ctx context.Context) {
	ready := c.bus.Subscribe(events.EventSourceReady)
	unready := c.bus.Subscribe(events.EventSourceUnready)
	aboutToFinish := c.bus.Subscribe(events.EventAboutToFinish)
	finished := c.bus.Subscribe(events.EventFinished)
	removeTracks := c.bus.Subscribe(events.EventSourceRequestRemoveTracks)
	position := c.bus.Subscribe(events.EventPositionChanged)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.bus.Unsubscribe(events.EventSourceReady, ready)
		defer c.bus.Unsubscribe(events.EventSourceUnready, unready)
		defer c.bus.Unsubscribe(events.EventAboutToFinish, aboutToFinish)
		defer c.bus.Unsubscribe(events.EventFinished, finished)
		defer c.bus.Unsubscribe(events.EventSourceRequestRemoveTracks, removeTracks)
		defer c.bus.Unsubscribe(events.EventPositionChanged, position)

		for {
			select {
			case <-ctx.Done():
				return
			case p := <-ready:
				if id, ok := p["source_id"].(string); ok {
					c.markSourceReady(id, true)
				}
			case p := <-unready:
				if id, ok := p["source_id"].(string); ok {
					c.markSourceReady(id, false)
				}
			case p := <-aboutToFinish:
				if id, ok := p["track_id"].(string); ok {
					c.handleAboutToFinish(ctx, id)
				}
			case p := <-position:
				if id, ok := p["track_id"].(string); ok {
					c.handlePositionChanged(id)
				}
			case p := <-finished:
				if id, ok := p["track_id"].(string); ok {
					playedMs, _ := p["played_ms"].(int64)
					c.handleFinished(ctx, id, playedMs)
				}
			case p := <-removeTracks:
				if url, ok := p["url"].(string); ok {
					c.RemoveTracks(func(d track.TrackDescriptor) bool { return d.URL == url })
				}
			}
		}
	}()

	c.requestMoreWithStartupPreference(ctx)
	c.maybeStartCurrent(ctx)
}

// Wait blocks until the Coordinator's supervisory goroutine exits
// (Start's ctx is canceled).
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Enqueue appends descriptors from sourceID to the queue (spec.md §4.1
// enqueue). Does nothing to current playback; if the queue was short
// before, may trigger a prefetch and starts playback if nothing is
// current yet.
func (c *Coordinator) Enqueue(ctx context.Context, sourceID string, descriptors []track.TrackDescriptor) {
	wasShort := c.queue.Len() < c.cfg.LowQueueThreshold
	c.queue.append(sourceID, descriptors)
	if wasShort {
		c.requestMore(ctx)
	}
	c.maybeStartCurrent(ctx)
}

// SkipNext marks current non-replaceable and interrupts it with a 4 s
// fade-out. It does not start the queued track itself and leaves a
// crossfading previous track playing: the queued track starts through
// handleFinished once current's fade-out has completed.
func (c *Coordinator) SkipNext() {
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()
	if cur == nil {
		return
	}
	cur.t.Replaceable = false
	cur.t.Interrupt(4000)
}

// Pause toggles output off and cancels any in-progress crossfade,
// tearing down previous immediately (spec.md §4.1 pause).
func (c *Coordinator) Pause() {
	c.mu.Lock()
	c.paused = true
	cur, prev := c.current, c.previous
	c.previous = nil
	c.mu.Unlock()

	if cur != nil {
		cur.t.Pipeline.PauseOutputs()
	}
	if prev != nil {
		c.teardown(prev)
	}
}

// Resume toggles output back on (spec.md §4.1 resume).
func (c *Coordinator) Resume() {
	c.mu.Lock()
	c.paused = false
	cur := c.current
	c.mu.Unlock()
	if cur != nil {
		cur.t.Pipeline.ResumeOutputs()
	}
}

// RequestPlaylistMore asks the next ready source (round robin) for at
// least minCount more descriptors (spec.md §4.1 request_playlist_more).
func (c *Coordinator) RequestPlaylistMore(ctx context.Context, minCount int) {
	c.requestFrom(c.pickRoundRobinSource(), minCount)
}

// RemoveTracks deletes queue entries matching predicate; if current
// matches, interrupts it (spec.md §4.1 remove_tracks).
func (c *Coordinator) RemoveTracks(predicate func(track.TrackDescriptor) bool) int {
	removed := c.queue.removeMatching(predicate)

	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()
	if cur != nil && predicate(cur.t.Descriptor) {
		cur.t.Interrupt(4000)
	}
	return removed
}

// ReportUnableToStart relays decoder-start failure to the originating
// source and requests exactly one replacement (spec.md §4.1). No Track
// flag is consulted: a track that never started was never skipped, so it
// is still replaceable.
func (c *Coordinator) ReportUnableToStart(sourceID string, descriptor track.TrackDescriptor) {
	c.withSource(sourceID, func(s source.Source) { s.UnableToStart(descriptor) })
	c.requestReplacement(sourceID)
}

// ReportCastEndedEarly relays an early cast termination and requests a
// replacement when the cast fell short of the 180s threshold (spec.md
// §4.1).
func (c *Coordinator) ReportCastEndedEarly(sourceID string, descriptor track.TrackDescriptor, playedSeconds int64) {
	c.withSource(sourceID, func(s source.Source) { s.CastFinishedEarly(descriptor, playedSeconds) })
	if playedSeconds*1000 < castReplaceableThresholdMs {
		c.requestReplacement(sourceID)
	}
}

func (c *Coordinator) withSource(sourceID string, fn func(source.Source)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.sources {
		if s.id == sourceID {
			fn(s.src)
			return
		}
	}
}

func (c *Coordinator) requestReplacement(sourceID string) {
	c.mu.Lock()
	var entry *sourceEntry
	for _, s := range c.sources {
		if s.id == sourceID {
			entry = s
			break
		}
	}
	c.mu.Unlock()
	if entry == nil {
		return
	}
	d, err := entry.src.GetReplacement()
	if err != nil || d == nil {
		c.logger.Warn().Str("source_id", sourceID).Err(err).Msg("replacement request failed")
		return
	}
	c.queue.prependAfterCurrentSource(sourceID, *d)
}

func (c *Coordinator) resetGiveUp() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveZeroPlayed = 0
	c.giveUp = false
}

// handlePositionChanged resets the give-up state whenever the current
// track reports real playback progress: the original reset
// unableToStartCount on every position tick for the playing track, not on
// enqueue, so a run of failed starts only clears once something actually
// plays.
func (c *Coordinator) handlePositionChanged(trackID string) {
	c.mu.Lock()
	isCurrent := c.current != nil && c.current.t.ID == trackID
	c.mu.Unlock()
	if isCurrent {
		c.resetGiveUp()
	}
}

// requestMoreWithStartupPreference implements spec.md §4.1 step 1's
// startup window: prefer the local-file source for up to
// LocalSourcePreference before waking network sources.
func (c *Coordinator) requestMoreWithStartupPreference(ctx context.Context) {
	deadline := time.Now().Add(c.cfg.LocalSourcePreference)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		var local *sourceEntry
		for _, s := range c.sources {
			if local == nil || s.priority < local.priority {
				local = s
			}
		}
		localReady := local != nil && local.ready
		c.mu.Unlock()
		if localReady {
			c.requestFrom(local, c.cfg.LowQueueThreshold+1)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
	c.requestMore(ctx)
}

func (c *Coordinator) requestMore(ctx context.Context) {
	if c.isGivenUp() {
		return
	}
	c.requestFrom(c.pickRoundRobinSource(), c.cfg.LowQueueThreshold+1)
}

func (c *Coordinator) isGivenUp() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.giveUp
}

// pickRoundRobinSource returns the ready source with the lowest priority
// number, ties broken by registration order (spec.md §4.1 step 1).
func (c *Coordinator) pickRoundRobinSource() *sourceEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	candidates := make([]*sourceEntry, 0, len(c.sources))
	for _, s := range c.sources {
		if s.ready {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].priority < candidates[j].priority })
	return candidates[0]
}

func (c *Coordinator) requestFrom(entry *sourceEntry, n int) {
	if entry == nil || n <= 0 {
		return
	}
	descriptors, err := entry.src.GetPlaylist(n)
	if err != nil {
		c.logger.Warn().Str("source_id", entry.id).Err(err).Msg("playlist request failed")
		return
	}
	c.queue.append(entry.id, descriptors)
}

// maybeStartCurrent implements spec.md §4.1 step 2: when current is nil
// and the queue is non-empty, pop the front and start it.
func (c *Coordinator) maybeStartCurrent(ctx context.Context) {
	c.mu.Lock()
	hasCurrent := c.current != nil
	c.mu.Unlock()
	if hasCurrent {
		return
	}
	qt, ok := c.queue.popFront()
	if !ok {
		return
	}
	lt := c.startTrack(ctx, qt, true)
	if lt == nil {
		return
	}
	c.mu.Lock()
	c.current = lt
	c.mu.Unlock()
	c.emitTrackInfo(lt.t)
}

// handleAboutToFinish implements spec.md §4.1 step 3: promote current to
// previous and pop the queue front as the new current, carrying the
// promoted previous's next-track fade-in over to the new current. Nothing
// is carried the other way: the promoted previous's fade state is left as
// it is.
func (c *Coordinator) handleAboutToFinish(ctx context.Context, trackID string) {
	c.mu.Lock()
	cur := c.current
	if cur == nil || cur.t.ID != trackID {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	qt, ok := c.queue.popFront()
	if !ok {
		return
	}
	lt := c.startTrack(ctx, qt, false)
	if lt == nil {
		return
	}

	// The promoted previous's requested next-track fade-in applies to the
	// new current. No request from the new current is applied back onto
	// the promoted previous.
	nextFadeIn := cur.t.NextFadeIn()
	if nextFadeIn.Enabled {
		lt.t.ApplyFadeInRequest(nextFadeIn)
		lt.t.Fade.Direction = fade.In
		lt.t.Fade.Percent = 0
		lt.t.Fade.Seconds = float64(nextFadeIn.LengthMs) / 1000.0
	}

	c.mu.Lock()
	c.previous = cur
	c.current = lt
	c.mu.Unlock()

	c.emitTrackInfo(lt.t)
	c.requestMore(ctx)
}

// handleFinished implements spec.md §4.1 step 4 (destroy previous on
// Finished) plus the give-up and replacement rules.
func (c *Coordinator) handleFinished(ctx context.Context, trackID string, playedMs int64) {
	c.mu.Lock()
	var lt *liveTrack
	var wasPrevious bool
	switch {
	case c.previous != nil && c.previous.t.ID == trackID:
		lt = c.previous
		c.previous = nil
		wasPrevious = true
	case c.current != nil && c.current.t.ID == trackID:
		lt = c.current
		c.current = nil
	}
	c.mu.Unlock()
	if lt == nil {
		return
	}

	c.applyGiveUpRule(playedMs)
	if lt.t.Descriptor.Cast {
		if lt.t.Replaceable {
			c.ReportCastEndedEarly(lt.sourceID, lt.t.Descriptor, playedMs/1000)
		}
	} else {
		c.applyReplacementRule(lt, playedMs)
	}

	lt.t.Pipeline.Stop()
	c.teardown(lt)

	if wasPrevious {
		return
	}
	c.withSource(lt.sourceID, func(s source.Source) { s.Done(lt.t.Descriptor) })
	c.maybeStartCurrent(ctx)
}

// applyGiveUpRule implements spec.md §4.1's give-up rule: N (default 4)
// consecutive Finished tracks with played_ms==0 stop auto-requesting
// playlists until playback makes real progress again (resetGiveUp is only
// called from handlePositionChanged, on a position tick for the current
// track; Enqueue/SkipNext/RemoveTracks do not reset it themselves).
func (c *Coordinator) applyGiveUpRule(playedMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if playedMs == 0 {
		c.consecutiveZeroPlayed++
		if c.consecutiveZeroPlayed >= c.cfg.GiveUpAfterN {
			c.giveUp = true
		}
	} else {
		c.consecutiveZeroPlayed = 0
	}
}

// applyReplacementRule implements spec.md §4.1's replacement rule for file
// tracks: a file finishing with played_ms<1000ms that is still replaceable
// gets exactly one replacement request inserted just after any
// already-playing track from the same source. Cast tracks go through
// ReportCastEndedEarly instead, which also relays the early-termination
// feedback the originating source expects.
func (c *Coordinator) applyReplacementRule(lt *liveTrack, playedMs int64) {
	if !lt.t.Replaceable {
		return
	}
	if playedMs < fileReplaceableThresholdMs {
		c.requestReplacement(lt.sourceID)
	}
}

// emitTrackInfo implements spec.md §4.1 step 5: if the track's
// fade_in_request is set, TrackInfo is emitted only at the fade-in
// midpoint (50%) so the UI shows the previous track until it is no
// longer dominant; otherwise TrackInfo fires immediately.
func (c *Coordinator) emitTrackInfo(t *track.Track) {
	if !t.FadeInEnabled() {
		c.bus.Publish(events.EventTrackInfo, events.Payload{"track_id": t.ID, "url": t.Descriptor.URL})
		return
	}

	go func() {
		ticker := time.NewTicker(25 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			if t.Fade.Percent >= 50 || t.Fade.Direction == fade.None {
				c.bus.Publish(events.EventTrackInfo, events.Payload{"track_id": t.ID, "url": t.Descriptor.URL})
				return
			}
		}
	}()
}

// startTrack builds and starts a Track and its Pipeline for a queued
// descriptor, trying decoder candidates in priority order: a candidate
// whose Build or Pipeline.Start fails is dropped and the next one is
// tried. An ErrorMsg a decoder delivers after a successful Start does not
// lead back here; no other candidate is tried for it.
func (c *Coordinator) startTrack(ctx context.Context, qt queuedTrack, isMain bool) *liveTrack {
	candidates := c.decoders.Candidates(qt.descriptor.URL)
	if len(candidates) == 0 {
		c.ReportUnableToStart(qt.sourceID, qt.descriptor)
		return nil
	}

	t := track.New(qt.descriptor, qt.sourceID, c.logger)
	t.Replaceable = true
	if qt.descriptor.Cast {
		t.CastPlaytimeRemainingMs = c.cfg.CastSyntheticDurationMs
	}

	for _, name := range candidates {
		dec, err := c.decoders.Build(name)
		if err != nil {
			continue
		}
		dec.SetURL(qt.descriptor.URL)

		if qt.descriptor.Cast {
			if aware, ok := dec.(decoder.NetworkAware); ok {
				c.withSource(qt.sourceID, func(s source.Source) {
					if opener, ok := s.(decoder.NetworkOpener); ok {
						aware.SetNetworkOpener(opener)
					}
				})
			}
		}

		outputs := []output.Output{
			output.NewPortAudioSink(t.ID, c.outputDeviceIndex(), isMain, t.Fade, c.bus, c.logger),
		}
		pipeline := track.NewPipeline(t.ID, dec, outputs, c.bus, qt.descriptor.Cast, c.logger)
		t.Pipeline = pipeline

		runCtx, cancel := context.WithCancel(ctx)
		if err := pipeline.Start(runCtx); err != nil {
			cancel()
			for _, o := range outputs {
				o.Close()
			}
			c.logger.Warn().Str("decoder", name).Err(err).Msg("decoder failed to start, trying next candidate")
			continue
		}

		t.SetStatus(track.Decoding)
		t.SetStatus(track.Playing)

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			t.Run(runCtx, c.bus, c.errLog)
		}()

		return &liveTrack{t: t, sourceID: qt.sourceID, cancel: cancel}
	}

	c.ReportUnableToStart(qt.sourceID, qt.descriptor)
	return nil
}

func (c *Coordinator) outputDeviceIndex() int {
	return 0
}

// Snapshot is the per-pipeline telemetry exposed over the diagnostics
// HTTP surface and the "diagnostics" wire tag, modeled on the teacher's
// TelemetryCollector snapshot.
type Snapshot struct {
	CurrentTrackID          string `json:"current_track_id,omitempty"`
	PreviousTrackID         string `json:"previous_track_id,omitempty"`
	Paused                  bool   `json:"paused"`
	QueueLength             int    `json:"queue_length"`
	DecodedDurationMs       int64  `json:"decoded_duration_ms,omitempty"`
	PlayedDurationMs        int64  `json:"played_duration_ms,omitempty"`
	CastPlaytimeRemainingMs int64  `json:"cast_playtime_remaining_ms,omitempty"`
}

// Snapshot reports the Coordinator's current playback state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	cur, prev, paused := c.current, c.previous, c.paused
	c.mu.Unlock()

	snap := Snapshot{Paused: paused, QueueLength: c.queue.Len()}
	if cur != nil {
		snap.CurrentTrackID = cur.t.ID
		snap.DecodedDurationMs = cur.t.Pipeline.DecodedDurationMs()
		snap.PlayedDurationMs = cur.t.PlayedDurationMs
		if cur.t.Descriptor.Cast {
			snap.CastPlaytimeRemainingMs = cur.t.CastPlaytimeRemainingMs - cur.t.PlayedDurationMs
			if snap.CastPlaytimeRemainingMs < 0 {
				snap.CastPlaytimeRemainingMs = 0
			}
		}
	}
	if prev != nil {
		snap.PreviousTrackID = prev.t.ID
	}
	return snap
}

// teardown cancels a live track's pipeline and watcher goroutines and
// closes its outputs, releasing every handle on every exit path (spec.md
// §9's RAII-equivalent drop semantics).
func (c *Coordinator) teardown(lt *liveTrack) {
	lt.cancel()
	lt.t.Pipeline.CloseOutputs()
}
