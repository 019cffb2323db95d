package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/petems/chemic/internal/audio"
	"github.com/petems/chemic/internal/audio/mock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	mic     = audio.Device{ID: "1", Name: "Test Mic", MaxInputChannels: 2, DefaultSampleRate: 48000}
	speaker = audio.Device{ID: "2", Name: "Test Speaker", MaxOutputChannels: 2, DefaultSampleRate: 48000}
)

func newHost(cfg audio.StreamConfig) *mock.Host {
	return &mock.Host{
		InputDevices:  []audio.Device{mic},
		OutputDevices: []audio.Device{speaker},
		Default:       cfg,
	}
}

type run struct {
	p      *Pipeline
	cancel context.CancelFunc
	done   chan error

	mu          sync.Mutex
	transitions [][2]State
}

// start runs p in the background and waits for it to reach Running.
func start(t *testing.T, host audio.Host, opts Options) *run {
	t.Helper()
	r := &run{done: make(chan error, 1)}
	opts.OnTransition = func(from, to State) {
		r.mu.Lock()
		r.transitions = append(r.transitions, [2]State{from, to})
		r.mu.Unlock()
	}
	r.p = New(host, opts, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	t.Cleanup(cancel)
	go func() { r.done <- r.p.Run(ctx, mic, speaker) }()

	require.Eventually(t, func() bool { return r.p.State() == Running }, 2*time.Second, time.Millisecond)
	return r
}

func (r *run) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not stop within 2s")
		return nil
	}
}

func (r *run) seen() [][2]State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][2]State(nil), r.transitions...)
}

func TestPipeline_StopImmediately(t *testing.T) {
	host := newHost(audio.StreamConfig{SampleRate: 48000, Channels: 2, FramesPerBuffer: 256})
	r := start(t, host, Options{})

	r.cancel()
	require.NoError(t, r.wait(t))

	assert.Equal(t, Stopped, r.p.State())
	assert.Equal(t, [][2]State{{Idle, Running}, {Running, Stopping}, {Stopping, Stopped}}, r.seen())

	for _, s := range host.Streams {
		assert.False(t, s.Running(), "%s stream still running", s.Dir)
		assert.True(t, s.Closed(), "%s stream not closed", s.Dir)
	}
}

func TestPipeline_CancelledBeforeRun(t *testing.T) {
	host := newHost(audio.StreamConfig{SampleRate: 48000, Channels: 1})
	p := New(host, Options{}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	began := time.Now()
	require.NoError(t, p.Run(ctx, mic, speaker))
	assert.Less(t, time.Since(began), 2*time.Second)
	assert.Equal(t, Stopped, p.State())
}

func TestPipeline_RunTwice(t *testing.T) {
	host := newHost(audio.StreamConfig{SampleRate: 48000, Channels: 1})
	p := New(host, Options{}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, p.Run(ctx, mic, speaker))

	err := p.Run(ctx, mic, speaker)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Len(t, host.Streams, 2)
}

func TestPipeline_NegotiatesOnce(t *testing.T) {
	host := newHost(audio.StreamConfig{SampleRate: 48000, Channels: 2, FramesPerBuffer: 128})
	var mu sync.Mutex
	checks := map[audio.Direction]int{}
	host.SupportsFunc = func(_ audio.Device, dir audio.Direction, _ audio.StreamConfig) error {
		mu.Lock()
		defer mu.Unlock()
		checks[dir]++
		return nil
	}

	r := start(t, host, Options{})
	r.cancel()
	require.NoError(t, r.wait(t))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[audio.Direction]int{audio.Input: 1, audio.Output: 1}, checks)
	assert.Equal(t, r.p.Info().Input, host.Stream(audio.Input).Config)
	assert.Equal(t, r.p.Info().Output, host.Stream(audio.Output).Config)
}

func TestPipeline_CaptureFailure(t *testing.T) {
	host := newHost(audio.StreamConfig{SampleRate: 48000, Channels: 2})
	r := start(t, host, Options{})

	host.Stream(audio.Input).Fail(errors.New("device unplugged"))
	err := r.wait(t)

	require.Error(t, err)
	assert.ErrorIs(t, err, audio.ErrStreamRuntime)
	assert.Contains(t, err.Error(), "device unplugged")

	var serr *audio.StreamError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "capture", serr.Stage)

	out := host.Stream(audio.Output)
	assert.False(t, out.Running())
	assert.True(t, out.Closed())
	assert.Equal(t, Stopped, r.p.State())
}

func TestPipeline_PlaybackFailure(t *testing.T) {
	host := newHost(audio.StreamConfig{SampleRate: 48000, Channels: 2})
	r := start(t, host, Options{})

	host.Stream(audio.Output).Fail(errors.New("underflow storm"))
	err := r.wait(t)

	var serr *audio.StreamError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "playback", serr.Stage)
	assert.ErrorIs(t, err, audio.ErrStreamRuntime)
	assert.True(t, host.Stream(audio.Input).Closed())
}

func TestPipeline_StartFailures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*mock.Host)
		want    error
		streams int
	}{
		{
			name:  "unsupported everywhere",
			setup: func(h *mock.Host) { h.SupportsFunc = rejectAll },
			want:  audio.ErrUnsupportedConfig,
		},
		{
			name:  "no default config",
			setup: func(h *mock.Host) { h.DefaultConfigError = audio.ErrDeviceUnavailable },
			want:  audio.ErrDeviceUnavailable,
		},
		{
			name:    "output open fails",
			setup:   func(h *mock.Host) { h.OpenError = map[audio.Direction]error{audio.Output: errors.New("busy")} },
			want:    audio.ErrDeviceUnavailable,
			streams: 0,
		},
		{
			name:    "input open fails",
			setup:   func(h *mock.Host) { h.OpenError = map[audio.Direction]error{audio.Input: errors.New("busy")} },
			want:    audio.ErrDeviceUnavailable,
			streams: 1,
		},
		{
			name:    "input start fails",
			setup:   func(h *mock.Host) { h.StartError = map[audio.Direction]error{audio.Input: errors.New("denied")} },
			want:    audio.ErrDeviceUnavailable,
			streams: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := newHost(audio.StreamConfig{SampleRate: 48000, Channels: 2})
			tt.setup(host)

			var transitions [][2]State
			p := New(host, Options{OnTransition: func(from, to State) {
				transitions = append(transitions, [2]State{from, to})
			}}, zerolog.Nop())

			err := p.Run(context.Background(), mic, speaker)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, Stopped, p.State())
			assert.Equal(t, [][2]State{{Idle, Stopping}, {Stopping, Stopped}}, transitions)

			require.Len(t, host.Streams, tt.streams)
			for _, s := range host.Streams {
				assert.False(t, s.Running(), "%s stream left running", s.Dir)
				assert.True(t, s.Closed(), "%s stream left open", s.Dir)
			}
		})
	}
}

func TestPipeline_TeardownErrorIsNotReturned(t *testing.T) {
	host := newHost(audio.StreamConfig{SampleRate: 48000, Channels: 2})
	host.StopError = map[audio.Direction]error{audio.Output: errors.New("stuck")}
	r := start(t, host, Options{})

	r.cancel()
	require.NoError(t, r.wait(t))
	assert.True(t, host.Stream(audio.Output).Closed())
}

func TestPipeline_Passthrough(t *testing.T) {
	host := newHost(audio.StreamConfig{SampleRate: 48000, Channels: 2, FramesPerBuffer: 4})
	r := start(t, host, Options{})

	in := []float32{0.1, -0.1, 0.2, -0.2, 0.3, -0.3, 0.4, -0.4}
	require.NoError(t, host.Stream(audio.Input).Tick(audio.Buffer{F32: in}))

	out := make([]float32, len(in))
	require.NoError(t, host.Stream(audio.Output).Tick(audio.Buffer{F32: out}))
	assert.Equal(t, in, out)

	// Nothing left: the next callback is silence and counts an underrun.
	require.NoError(t, host.Stream(audio.Output).Tick(audio.Buffer{F32: out}))
	assert.Equal(t, make([]float32, len(in)), out)

	stats := r.p.Stats()
	assert.Equal(t, uint64(1), stats.Underruns)
	assert.Equal(t, uint64(4), stats.SilentFrames)
	assert.Equal(t, uint64(1), stats.CaptureCallbacks)
	assert.Equal(t, uint64(2), stats.PlaybackCallbacks)
	assert.InDelta(t, 0.4, r.p.TakePeak(), 1e-6)
	assert.Zero(t, r.p.TakePeak())

	r.cancel()
	require.NoError(t, r.wait(t))
	assert.Equal(t, stats.Underruns, r.p.Stats().Underruns, "final stats survive teardown")
}

func TestPipeline_Int16(t *testing.T) {
	host := newHost(audio.StreamConfig{SampleRate: 16000, Channels: 1, Format: audio.Int16, FramesPerBuffer: 4})
	r := start(t, host, Options{})

	in := []int16{16384, -16384, 0, 32767}
	require.NoError(t, host.Stream(audio.Input).Tick(audio.Buffer{I16: in}))

	out := make([]int16, len(in))
	require.NoError(t, host.Stream(audio.Output).Tick(audio.Buffer{I16: out}))
	for i := range in {
		assert.InDelta(t, in[i], out[i], 1, "sample %d", i)
	}

	r.cancel()
	require.NoError(t, r.wait(t))
}

func TestPipeline_MonoToStereo(t *testing.T) {
	host := newHost(audio.StreamConfig{SampleRate: 48000, Channels: 2})
	host.DefaultConfigs = map[string]audio.StreamConfig{
		mic.ID: {SampleRate: 48000, Channels: 1},
	}
	r := start(t, host, Options{})

	info := r.p.Info()
	assert.Equal(t, 1, info.Input.Channels)
	assert.Equal(t, 2, info.Output.Channels)
	assert.NotEmpty(t, info.RunID)

	require.NoError(t, host.Stream(audio.Input).Tick(audio.Buffer{F32: []float32{0.5, -0.25}}))
	out := make([]float32, 4)
	require.NoError(t, host.Stream(audio.Output).Tick(audio.Buffer{F32: out}))
	assert.Equal(t, []float32{0.5, 0.5, -0.25, -0.25}, out)

	r.cancel()
	require.NoError(t, r.wait(t))
}

func TestPipeline_Delay(t *testing.T) {
	host := newHost(audio.StreamConfig{SampleRate: 1000, Channels: 1})
	r := start(t, host, Options{Delay: 10 * time.Millisecond})
	in, out := host.Stream(audio.Input), host.Stream(audio.Output)

	require.NoError(t, in.Tick(audio.Buffer{F32: []float32{1, 2, 3, 4}}))
	buf := make([]float32, 4)
	require.NoError(t, out.Tick(audio.Buffer{F32: buf}))
	assert.Equal(t, []float32{0, 0, 0, 0}, buf, "held back until the delay is buffered")

	require.NoError(t, in.Tick(audio.Buffer{F32: []float32{5, 6, 7, 8, 9, 10}}))
	require.NoError(t, out.Tick(audio.Buffer{F32: buf}))
	assert.Equal(t, []float32{1, 2, 3, 4}, buf)
	assert.Equal(t, 6, r.p.Stats().Buffered)

	r.cancel()
	require.NoError(t, r.wait(t))
}

func TestPipeline_Overflow(t *testing.T) {
	host := newHost(audio.StreamConfig{SampleRate: 1000, Channels: 1})
	r := start(t, host, Options{Latency: 10 * time.Millisecond})

	stats := r.p.Stats()
	require.Equal(t, minBufferFrames, stats.Capacity)

	require.NoError(t, host.Stream(audio.Input).Tick(audio.Buffer{F32: make([]float32, minBufferFrames+44)}))
	stats = r.p.Stats()
	assert.Equal(t, uint64(44), stats.Overflowed)
	assert.Equal(t, minBufferFrames, stats.Buffered)

	r.cancel()
	require.NoError(t, r.wait(t))
}

func TestPipeline_StallWatchdog(t *testing.T) {
	host := newHost(audio.StreamConfig{SampleRate: 48000, Channels: 2})
	r := start(t, host, Options{StallTimeout: 40 * time.Millisecond})

	err := r.wait(t)
	assert.ErrorIs(t, err, audio.ErrStreamRuntime)
	assert.Contains(t, err.Error(), "no ")
}

func TestBufferFrames(t *testing.T) {
	in := audio.StreamConfig{SampleRate: 48000, Channels: 2, FramesPerBuffer: 512}

	assert.Equal(t, 2400, bufferFrames(in, in, Options{Latency: 50 * time.Millisecond}))
	assert.Equal(t, 2400+96000, bufferFrames(in, in, Options{Latency: 50 * time.Millisecond, Delay: 2 * time.Second}))
	assert.Equal(t, 1024, bufferFrames(in, in, Options{Latency: time.Millisecond}))

	out := audio.StreamConfig{SampleRate: 24000, Channels: 2, FramesPerBuffer: 2048}
	assert.Equal(t, 8192, bufferFrames(in, out, Options{Latency: time.Millisecond}))

	assert.Equal(t, minBufferFrames, bufferFrames(audio.StreamConfig{SampleRate: 8000}, audio.StreamConfig{}, Options{}))
}

func TestWatchdog(t *testing.T) {
	s := newStage("capture", audio.Input, nil, zerolog.Nop())
	t0 := time.Unix(0, 0)
	w := newWatchdog(time.Second, t0, &s)

	assert.NoError(t, w.check(t0.Add(500*time.Millisecond)))
	s.callbacks.Add(1)
	assert.NoError(t, w.check(t0.Add(900*time.Millisecond)))
	assert.NoError(t, w.check(t0.Add(1800*time.Millisecond)))

	err := w.check(t0.Add(1900 * time.Millisecond))
	assert.ErrorIs(t, err, audio.ErrStreamRuntime)
}

func rejectAll(audio.Device, audio.Direction, audio.StreamConfig) error {
	return errors.New("nope")
}
