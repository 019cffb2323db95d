// Package mock provides an in-memory audio.Host for tests. Streams never
// run on their own: tests drive the registered callback with Stream.Tick,
// standing in for the backend's real-time thread, and inject runtime
// failures with Stream.Fail.
//
// Typical usage:
//
//	host := &mock.Host{Default: audio.StreamConfig{SampleRate: 48000, Channels: 2}}
//	// ... start a pipeline against host ...
//	in := host.Stream(audio.Input)
//	in.Tick(audio.Buffer{F32: samples})
package mock

import (
	"errors"
	"sync"

	"github.com/petems/chemic/internal/audio"
)

// Host is a mock implementation of [audio.Host]. Set the exported fields
// before use; inspect Streams afterwards.
type Host struct {
	mu sync.Mutex

	// InputDevices and OutputDevices are returned by Devices.
	InputDevices  []audio.Device
	OutputDevices []audio.Device

	// Default is the config DefaultConfig reports for every device unless
	// DefaultConfigs has an entry for the device ID.
	Default        audio.StreamConfig
	DefaultConfigs map[string]audio.StreamConfig

	// SupportsFunc decides Supports. When nil every config is supported.
	SupportsFunc func(dev audio.Device, dir audio.Direction, cfg audio.StreamConfig) error

	// DevicesError, DefaultConfigError and OpenError make the matching
	// methods fail. OpenError is keyed by direction.
	DevicesError       error
	DefaultConfigError error
	OpenError          map[audio.Direction]error

	// StartError makes Stream.Start fail for the given direction.
	StartError map[audio.Direction]error

	// StopError makes Stream.Stop fail for the given direction.
	StopError map[audio.Direction]error

	// Streams records every opened stream in order.
	Streams []*Stream
}

func (h *Host) Devices(dir audio.Direction) ([]audio.Device, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.DevicesError != nil {
		return nil, h.DevicesError
	}
	if dir == audio.Output {
		return append([]audio.Device(nil), h.OutputDevices...), nil
	}
	return append([]audio.Device(nil), h.InputDevices...), nil
}

func (h *Host) DefaultDevice(dir audio.Direction) (audio.Device, error) {
	devices, err := h.Devices(dir)
	if err != nil {
		return audio.Device{}, err
	}
	for _, d := range devices {
		if d.Default {
			return d, nil
		}
	}
	if len(devices) > 0 {
		return devices[0], nil
	}
	return audio.Device{}, audio.ErrDeviceUnavailable
}

func (h *Host) DefaultConfig(dev audio.Device, dir audio.Direction) (audio.StreamConfig, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.DefaultConfigError != nil {
		return audio.StreamConfig{}, h.DefaultConfigError
	}
	if cfg, ok := h.DefaultConfigs[dev.ID]; ok {
		return cfg, nil
	}
	return h.Default, nil
}

func (h *Host) Supports(dev audio.Device, dir audio.Direction, cfg audio.StreamConfig) error {
	h.mu.Lock()
	fn := h.SupportsFunc
	h.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(dev, dir, cfg)
}

func (h *Host) Open(dev audio.Device, dir audio.Direction, cfg audio.StreamConfig, cb audio.Callback) (audio.Stream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.OpenError[dir]; err != nil {
		return nil, err
	}
	s := &Stream{
		Device:     dev,
		Dir:        dir,
		Config:     cfg,
		cb:         cb,
		errc:       make(chan error, 1),
		startError: h.StartError[dir],
		stopError:  h.StopError[dir],
	}
	h.Streams = append(h.Streams, s)
	return s, nil
}

// Stream returns the most recently opened stream for dir, or nil.
func (h *Host) Stream(dir audio.Direction) *Stream {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.Streams) - 1; i >= 0; i-- {
		if h.Streams[i].Dir == dir {
			return h.Streams[i]
		}
	}
	return nil
}

// ErrNotStarted is returned by Tick on a stream that is not running.
var ErrNotStarted = errors.New("mock stream not running")

// Stream is a mock implementation of [audio.Stream].
type Stream struct {
	Device audio.Device
	Dir    audio.Direction
	Config audio.StreamConfig

	mu         sync.Mutex
	cb         audio.Callback
	errc       chan error
	running    bool
	closed     bool
	starts     int
	stops      int
	startError error
	stopError  error
}

func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	if s.startError != nil {
		return s.startError
	}
	s.running = true
	return nil
}

func (s *Stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	s.running = false
	return s.stopError
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.closed = true
	return nil
}

func (s *Stream) Err() <-chan error {
	return s.errc
}

// Tick invokes the stream callback once with buf, as the backend would.
func (s *Stream) Tick(buf audio.Buffer) error {
	s.mu.Lock()
	running, cb := s.running, s.cb
	s.mu.Unlock()
	if !running {
		return ErrNotStarted
	}
	cb(buf)
	return nil
}

// Fail reports err as a runtime failure of the stream.
func (s *Stream) Fail(err error) {
	select {
	case s.errc <- err:
	default:
	}
}

// Running reports whether the stream is started and not stopped.
func (s *Stream) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Stops returns how many times Stop was called.
func (s *Stream) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}
