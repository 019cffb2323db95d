// Package pipeline bridges a capture stream to a playback stream through a
// lock-free ring buffer so a user can hear their microphone live.
//
// The two stream callbacks run on threads owned by the audio backend and
// share nothing but the ring buffer. The goroutine calling Run owns the
// lifecycle: it starts playback, then capture, waits for cancellation or a
// stream failure, and tears both down.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petems/chemic/internal/audio"
	"github.com/petems/chemic/internal/ring"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultLatency is the buffering target used when Options.Latency is zero.
const DefaultLatency = 50 * time.Millisecond

// minBufferFrames is the smallest ring buffer, in frames, regardless of
// latency target.
const minBufferFrames = 256

// Options configures a pipeline run.
type Options struct {
	// Input and Output are the requested stream configs. Zero fields fall
	// back to the device defaults.
	Input  audio.StreamConfig
	Output audio.StreamConfig

	// Latency is how much audio the ring buffer holds. Defaults to
	// DefaultLatency.
	Latency time.Duration

	// Delay holds playback back until this much audio is buffered, so the
	// user hears themselves late instead of over their own voice.
	Delay time.Duration

	// StallTimeout treats a stream whose callback stops firing for this long
	// as failed. Zero disables the check.
	StallTimeout time.Duration

	// OnTransition is called on the goroutine running Run after every state
	// change and before anything is logged about it. On the move to
	// Stopping it runs before the stop cause is logged and the streams are
	// torn down.
	OnTransition func(from, to State)

	// OnRunning is called once both streams are started.
	OnRunning func(Info)
}

// Info describes a running pipeline.
type Info struct {
	RunID        string
	InputDevice  audio.Device
	OutputDevice audio.Device
	Input        audio.StreamConfig
	Output       audio.StreamConfig
	BufferFrames int
	Delay        time.Duration
}

// Stats is a point-in-time view of the pipeline counters.
type Stats struct {
	// Overflowed counts captured frames dropped because the buffer was full.
	Overflowed uint64
	// Underruns counts playback reads that found too little audio.
	Underruns uint64
	// SilentFrames counts output frames padded with silence.
	SilentFrames      uint64
	CaptureCallbacks  uint64
	PlaybackCallbacks uint64
	// Buffered is the number of frames waiting in the buffer.
	Buffered int
	Capacity int
}

// Pipeline runs one capture-to-playback bridge. It is single use: create a
// new one to run again.
type Pipeline struct {
	host audio.Host
	opts Options
	log  zerolog.Logger

	state atomic.Int32

	mu       sync.Mutex
	info     Info
	buf      *ring.Buffer
	capture  *Capture
	playback *Playback
	final    Stats
}

// New returns an idle pipeline.
func New(host audio.Host, opts Options, log zerolog.Logger) *Pipeline {
	if opts.Latency <= 0 {
		opts.Latency = DefaultLatency
	}
	return &Pipeline{
		host: host,
		opts: opts,
		log:  log,
	}
}

// State returns the current state.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Info returns the negotiated setup. It is zero until Run has negotiated
// both streams.
func (p *Pipeline) Info() Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info
}

// Stats returns the live counters, or the final counters once stopped.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.buf == nil {
		return p.final
	}
	return p.snapshotLocked()
}

// TakePeak returns the peak input level since the previous call, or zero
// when not running.
func (p *Pipeline) TakePeak() float32 {
	p.mu.Lock()
	capture := p.capture
	p.mu.Unlock()
	if capture == nil {
		return 0
	}
	return capture.TakePeak()
}

// Run bridges input to output until ctx is cancelled or a stream fails. It
// returns nil after a requested stop and the stream error otherwise; errors
// wrap audio.ErrDeviceUnavailable, audio.ErrUnsupportedConfig or
// audio.ErrStreamRuntime.
//
// A run that fails to start goes Idle, Stopping, Stopped without ever
// reaching Running, so whatever it opened is still torn down.
func (p *Pipeline) Run(ctx context.Context, input, output audio.Device) error {
	if p.State() != Idle {
		return fmt.Errorf("pipeline is %s: %w", p.State(), ErrInvalidState)
	}

	runID := xid.New().String()
	log := p.log.With().Str("run", runID).Logger()

	inCfg, err := audio.Negotiate(p.host, input, audio.Input, p.opts.Input)
	if err != nil {
		return p.abort(log, &audio.StreamError{Stage: "capture", Err: err})
	}
	outCfg, err := audio.Negotiate(p.host, output, audio.Output, p.opts.Output)
	if err != nil {
		return p.abort(log, &audio.StreamError{Stage: "playback", Err: err})
	}

	buf := ring.New(bufferFrames(inCfg, outCfg, p.opts), inCfg.Channels)
	playback := NewPlayback(p.host, buf, inCfg, p.opts.Delay, log)
	capture := NewCapture(p.host, buf, log)

	p.mu.Lock()
	p.buf, p.capture, p.playback = buf, capture, playback
	p.info = Info{
		RunID:        runID,
		InputDevice:  input,
		OutputDevice: output,
		Input:        inCfg,
		Output:       outCfg,
		BufferFrames: buf.Cap(),
		Delay:        p.opts.Delay,
	}
	p.mu.Unlock()

	// Playback first so the output is already emitting silence when the
	// first captured frames arrive.
	if err := playback.Start(output, outCfg); err != nil {
		return p.abort(log, err)
	}
	if err := capture.Start(input, inCfg); err != nil {
		return p.abort(log, err)
	}

	p.transition(log, Running)
	log.Info().
		Str("input", input.Name).Stringer("input_config", inCfg).
		Str("output", output.Name).Stringer("output_config", outCfg).
		Int("buffer_frames", buf.Cap()).
		Msg("Pipeline running")
	if p.opts.OnRunning != nil {
		p.opts.OnRunning(p.Info())
	}

	cause := p.wait(ctx, log, capture, playback)
	p.transition(log, Stopping)
	if cause != nil {
		log.Error().Err(cause).Msg("Stream failed")
	} else {
		log.Info().Msg("Stop requested")
	}
	p.teardown(log)
	p.transition(log, Stopped)
	return cause
}

func (p *Pipeline) wait(ctx context.Context, log zerolog.Logger, capture *Capture, playback *Playback) error {
	captureErr, playbackErr := capture.Err(), playback.Err()

	var tick <-chan time.Time
	wd := newWatchdog(p.opts.StallTimeout, time.Now(), &capture.stage, &playback.stage)
	if p.opts.StallTimeout > 0 {
		t := time.NewTicker(p.opts.StallTimeout / 4)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-captureErr:
			if !ok {
				captureErr = nil
				continue
			}
			return runtimeError("capture", err)
		case err, ok := <-playbackErr:
			if !ok {
				playbackErr = nil
				continue
			}
			return runtimeError("playback", err)
		case now := <-tick:
			if err := wd.check(now); err != nil {
				return err
			}
		}
	}
}

// abort tears down whatever start-up managed to open.
func (p *Pipeline) abort(log zerolog.Logger, err error) error {
	log.Error().Err(err).Msg("Pipeline failed to start")
	p.transition(log, Stopping)
	p.teardown(log)
	p.transition(log, Stopped)
	return err
}

// teardown stops both stages concurrently and releases the buffer. Stop
// errors are logged; they never replace the run's result.
func (p *Pipeline) teardown(log zerolog.Logger) {
	p.mu.Lock()
	capture, playback := p.capture, p.playback
	p.mu.Unlock()

	var g errgroup.Group
	if capture != nil {
		g.Go(capture.Stop)
	}
	if playback != nil {
		g.Go(playback.Stop)
	}
	if err := g.Wait(); err != nil {
		log.Warn().Err(err).Msg("Teardown finished with errors")
	}

	p.mu.Lock()
	if p.buf != nil {
		p.final = p.snapshotLocked()
	}
	p.buf, p.capture, p.playback = nil, nil, nil
	p.mu.Unlock()

	log.Info().
		Uint64("overflowed", p.final.Overflowed).
		Uint64("underruns", p.final.Underruns).
		Uint64("silent_frames", p.final.SilentFrames).
		Msg("Pipeline stopped")
}

func (p *Pipeline) snapshotLocked() Stats {
	s := Stats{
		Overflowed: p.buf.Overflowed(),
		Underruns:  p.buf.Underruns(),
		Buffered:   p.buf.Len(),
		Capacity:   p.buf.Cap(),
	}
	if p.capture != nil {
		s.CaptureCallbacks = p.capture.Callbacks()
	}
	if p.playback != nil {
		s.PlaybackCallbacks = p.playback.Callbacks()
		s.SilentFrames = p.playback.SilentFrames()
	}
	return s
}

func (p *Pipeline) transition(log zerolog.Logger, to State) {
	from := p.State()
	if !canTransition(from, to) || !p.state.CompareAndSwap(int32(from), int32(to)) {
		// Only Run changes state, so this is a programming error.
		panic(fmt.Sprintf("pipeline: %s -> %s: %v", from, to, ErrInvalidState))
	}
	if p.opts.OnTransition != nil {
		p.opts.OnTransition(from, to)
	}
	log.Debug().Stringer("from", from).Stringer("to", to).Msg("State changed")
}

// bufferFrames sizes the ring in input frames: the latency target plus any
// delay, and never less than two hardware buffers of either stream.
func bufferFrames(in, out audio.StreamConfig, opts Options) int {
	frames := in.FramesFor(opts.Latency + opts.Delay)

	floor := minBufferFrames
	floor = max(floor, 2*in.FramesPerBuffer)
	if out.SampleRate > 0 && out.FramesPerBuffer > 0 {
		outInInput := (out.FramesPerBuffer*in.SampleRate + out.SampleRate - 1) / out.SampleRate
		floor = max(floor, 2*outInInput)
	}
	return max(frames, floor)
}

func runtimeError(stage string, err error) error {
	return &audio.StreamError{Stage: stage, Err: fmt.Errorf("%w: %v", audio.ErrStreamRuntime, err)}
}

// watchdog notices streams whose callbacks stop firing, which is how a
// vanished device shows up on backends without error reporting.
type watchdog struct {
	timeout time.Duration
	stages  []*stage
	counts  []uint64
	seen    []time.Time
}

func newWatchdog(timeout time.Duration, now time.Time, stages ...*stage) *watchdog {
	w := &watchdog{
		timeout: timeout,
		stages:  stages,
		counts:  make([]uint64, len(stages)),
		seen:    make([]time.Time, len(stages)),
	}
	for i, s := range stages {
		w.counts[i] = s.Callbacks()
		w.seen[i] = now
	}
	return w
}

func (w *watchdog) check(now time.Time) error {
	for i, s := range w.stages {
		if n := s.Callbacks(); n != w.counts[i] {
			w.counts[i] = n
			w.seen[i] = now
			continue
		}
		if idle := now.Sub(w.seen[i]); idle >= w.timeout {
			return runtimeError(s.name, fmt.Errorf("no %s callback for %s", s.dir, idle.Round(time.Millisecond)))
		}
	}
	return nil
}
