/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package output

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/drgolem/go-portaudio/portaudio"
	"github.com/friendsincode/waver/internal/events"
	"github.com/friendsincode/waver/internal/fade"
	"github.com/friendsincode/waver/internal/metrics"
	"github.com/friendsincode/waver/internal/pcm"
	"github.com/rs/zerolog"
)

// paInitOnce guards the process-wide portaudio.Initialize call: PortAudio
// is a single global library handle shared by every sink, not a per-stream
// resource.
var (
	paInitOnce  sync.Once
	paInitErr   error
	paOpenSinks int64
)

func paAcquire() error {
	paInitOnce.Do(func() { paInitErr = portaudio.Initialize() })
	if paInitErr != nil {
		return paInitErr
	}
	atomic.AddInt64(&paOpenSinks, 1)
	return nil
}

func paRelease() {
	if atomic.AddInt64(&paOpenSinks, -1) == 0 {
		_ = portaudio.Terminate()
	}
}

// resumeFadeInMs is the fade applied when a paused output resumes, per
// spec.md §4.6.
const resumeFadeInMs = 2000

// positionNotifyInterval is how often PortAudioSink publishes
// events.EventPositionChanged while the main output is writing.
const positionNotifyInterval = 100 * time.Millisecond

// PortAudioSink is the device-facing Output implementation. It feeds
// buffers into PortAudio at real-time cadence from a dedicated goroutine,
// applying fades and publishing position/underrun telemetry.
type PortAudioSink struct {
	trackID     string
	deviceIndex int
	isMain      bool
	bus         *events.Bus
	logger      zerolog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*pcm.Buffer
	closed  bool
	paused  bool
	stream  *portaudio.PaStream
	format  pcm.Format
	opened  bool

	positionUs int64
	fade       *fade.State

	stopCh chan struct{}
	doneCh chan struct{}

	paAcquired bool
}

// NewPortAudioSink creates a sink bound to the PortAudio output device at
// deviceIndex. isMain marks this sink as the authoritative position clock
// and the only one whose Pause/Resume gate the decoder's synchronizer
// queue (spec.md §4.6). sharedFade is the Track's own FadeState: the
// Track's watcher mutates it directly (crossfade fade-in, interrupt
// fade-out) and the feeder renders whatever it currently holds, so the two
// never drift out of sync. A nil sharedFade gets a private state (used by
// non-main outputs and in tests).
func NewPortAudioSink(trackID string, deviceIndex int, isMain bool, sharedFade *fade.State, bus *events.Bus, logger zerolog.Logger) *PortAudioSink {
	if sharedFade == nil {
		sharedFade = &fade.State{}
	}
	s := &PortAudioSink{
		trackID:     trackID,
		deviceIndex: deviceIndex,
		isMain:      isMain,
		bus:         bus,
		logger:      logger.With().Str("component", "output").Str("track_id", trackID).Logger(),
		fade:        sharedFade,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.feed()
	return s
}

// BufferAvailable implements Output. It takes ownership of buf's reference
// and enqueues it for the feeder goroutine, which releases it once written.
func (s *PortAudioSink) BufferAvailable(buf *pcm.Buffer) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		buf.Release()
		return
	}
	s.queue = append(s.queue, buf)
	metrics.BufferRefcount.WithLabelValues(s.trackID).Set(float64(buf.Refs()))
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *PortAudioSink) IsMainOutput() bool { return s.isMain }

// Pause stops feeding buffers to the device without draining the queue;
// queued buffers remain owned until Resume or Close.
func (s *PortAudioSink) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume restarts feeding with a short fade-in (spec.md §4.6) so playback
// does not resume at a discontinuity.
func (s *PortAudioSink) Resume() {
	s.mu.Lock()
	s.paused = false
	s.fade.Direction = fade.In
	s.fade.Percent = 0
	s.fade.Seconds = resumeFadeInMs / 1000.0
	s.fade.FrameCounter = 0
	s.cond.Signal()
	s.mu.Unlock()
}

// MainOutputPositionUs reports the last written position, the
// authoritative playback clock when IsMainOutput is true.
func (s *PortAudioSink) MainOutputPositionUs() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positionUs
}

// Close stops the feeder goroutine and releases every queued buffer and
// the underlying PortAudio stream.
func (s *PortAudioSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pending := s.queue
	s.queue = nil
	s.cond.Broadcast()
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh

	for _, buf := range pending {
		buf.Release()
	}
	var closeErr error
	if s.stream != nil {
		_ = s.stream.StopStream()
		closeErr = s.stream.Close()
	}
	if s.paAcquired {
		paRelease()
	}
	return closeErr
}

func (s *PortAudioSink) feed() {
	defer close(s.doneCh)
	lastNotify := time.Now()

	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		buf := s.queue[0]
		s.queue = s.queue[1:]
		paused := s.paused
		s.mu.Unlock()

		select {
		case <-s.stopCh:
			buf.Release()
			return
		default:
		}

		if paused {
			// Hold the buffer until Resume; sleep briefly rather than
			// busy-spinning on the queue lock.
			s.mu.Lock()
			s.queue = append([]*pcm.Buffer{buf}, s.queue...)
			s.mu.Unlock()
			time.Sleep(50 * time.Millisecond)
			continue
		}

		if err := s.ensureStream(buf.Format); err != nil {
			s.logger.Error().Err(err).Msg("open portaudio stream")
			buf.Release()
			metrics.BufferUnderruns.WithLabelValues(s.trackID).Inc()
			s.bus.Publish(events.EventOutputError, events.Payload{"track_id": s.trackID, "error": err.Error()})
			time.Sleep(10 * time.Millisecond)
			continue
		}

		s.mu.Lock()
		fadeState := s.fade
		s.mu.Unlock()
		if fadeState.Direction != fade.None {
			frames := pcm.DecodeFrames(buf)
			fade.Render(fadeState, frames, buf.Format.SampleRate, buf.Format.Channels, s.onFadeOutComplete)
			pcm.EncodeFrames(buf, frames)
		}

		frameCount := buf.Format.FrameCount(len(buf.Data))
		writeStart := time.Now()
		if err := s.stream.Write(frameCount, buf.Data); err != nil {
			s.logger.Error().Err(err).Msg("write portaudio stream")
			metrics.BufferUnderruns.WithLabelValues(s.trackID).Inc()
			s.bus.Publish(events.EventBufferUnderrun, events.Payload{"track_id": s.trackID})
		}
		writeDuration := time.Since(writeStart)

		s.mu.Lock()
		s.positionUs += buf.Format.DurationUs(len(buf.Data))
		pos := s.positionUs
		s.mu.Unlock()

		if s.isMain {
			metrics.OutputPositionUs.WithLabelValues(s.trackID).Set(float64(pos))
			if time.Since(lastNotify) >= positionNotifyInterval {
				s.bus.Publish(events.EventPositionChanged, events.Payload{"track_id": s.trackID, "position_us": pos})
				lastNotify = time.Now()
			}
		}

		buf.Release()
		metrics.BufferRefcount.WithLabelValues(s.trackID).Set(0)
		if s.isMain {
			s.bus.Publish(events.EventBufferDone, events.Payload{"track_id": s.trackID})
		}

		// Pace writes: sleep a fraction of what was just rendered rather
		// than the full duration, so the queue drains under the write
		// cadence instead of lagging behind it when PortAudio's internal
		// buffering already absorbed some of the wait.
		budget := time.Duration(buf.Format.DurationUs(len(buf.Data))) * time.Microsecond * 3 / 4
		if budget > writeDuration {
			time.Sleep(budget - writeDuration)
		}
	}
}

// onFadeOutComplete is the fade package's CompletionFunc, fired once a
// fade-out render reaches 0%. It defers 50ms (spec.md §4.7) to let the
// current buffer flush cleanly before the Track's watcher turns this into
// a Finished event.
func (s *PortAudioSink) onFadeOutComplete() {
	trackID := s.trackID
	bus := s.bus
	time.AfterFunc(50*time.Millisecond, func() {
		bus.Publish(events.EventFadeOutComplete, events.Payload{"track_id": trackID})
	})
}

func (s *PortAudioSink) ensureStream(f pcm.Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened && s.format == f {
		return nil
	}
	if s.stream != nil {
		_ = s.stream.StopStream()
		_ = s.stream.Close()
	}

	if !s.paAcquired {
		if err := paAcquire(); err != nil {
			return err
		}
		s.paAcquired = true
	}

	sampleFormat, err := paSampleFormat(f.SampleType)
	if err != nil {
		return err
	}

	params := portaudio.PaStreamParameters{
		DeviceIndex:  s.deviceIndex,
		ChannelCount: f.Channels,
		SampleFormat: sampleFormat,
	}
	stream, err := portaudio.NewStream(params, float64(f.SampleRate))
	if err != nil {
		return err
	}
	if err := stream.Open(1024); err != nil {
		return err
	}
	if err := stream.StartStream(); err != nil {
		return err
	}

	s.stream = stream
	s.format = f
	s.opened = true
	return nil
}

func paSampleFormat(t pcm.SampleType) (portaudio.PaSampleFormat, error) {
	switch t {
	case pcm.Int16:
		return portaudio.SampleFmtInt16, nil
	case pcm.Int32:
		return portaudio.SampleFmtInt32, nil
	default:
		return portaudio.SampleFmtInt16, nil
	}
}
