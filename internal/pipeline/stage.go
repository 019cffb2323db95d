package pipeline

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/petems/chemic/internal/audio"
	"github.com/rs/zerolog"
)

// scratchFrames sizes conversion buffers when the backend picks its own
// buffer size. Larger hardware buffers are converted in chunks.
const scratchFrames = 1024

// stage owns one hardware stream. Start, Stop and Err belong to the
// controlling goroutine; only the callback counter is touched by the
// backend's thread.
type stage struct {
	name string
	dir  audio.Direction
	host audio.Host
	log  zerolog.Logger

	stream    audio.Stream
	config    audio.StreamConfig
	callbacks atomic.Uint64
}

func newStage(name string, dir audio.Direction, host audio.Host, log zerolog.Logger) stage {
	return stage{
		name: name,
		dir:  dir,
		host: host,
		log:  log.With().Str("stage", name).Logger(),
	}
}

func (s *stage) open(dev audio.Device, cfg audio.StreamConfig, cb audio.Callback) error {
	stream, err := s.host.Open(dev, s.dir, cfg, cb)
	if err != nil {
		return s.wrap(asUnavailable(err))
	}
	if err := stream.Start(); err != nil {
		if cerr := stream.Close(); cerr != nil {
			s.log.Warn().Err(cerr).Msg("Failed to close stream after start error")
		}
		return s.wrap(asUnavailable(fmt.Errorf("start %s stream: %w", s.dir, err)))
	}
	s.stream = stream
	s.config = cfg
	s.log.Debug().Str("device", dev.Name).Stringer("config", cfg).Msg("Stream started")
	return nil
}

// Stop stops and closes the stream. It is a no-op when nothing is open, so
// it is safe after a failed Start or a stream error, and safe to repeat.
// Close runs even when Stop fails.
func (s *stage) Stop() error {
	stream := s.stream
	if stream == nil {
		return nil
	}
	s.stream = nil

	var errs []error
	if err := stream.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop %s stream: %w", s.dir, err))
	}
	if err := stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s stream: %w", s.dir, err))
	}
	if err := errors.Join(errs...); err != nil {
		s.log.Warn().Err(err).Msg("Stream teardown failed")
		return s.wrap(err)
	}
	s.log.Debug().Msg("Stream stopped")
	return nil
}

// Err delivers runtime errors from the running stream. It returns nil when
// no stream is open or the backend does not report errors.
func (s *stage) Err() <-chan error {
	if s.stream == nil {
		return nil
	}
	return s.stream.Err()
}

// Config returns the negotiated config of the running stream.
func (s *stage) Config() audio.StreamConfig {
	return s.config
}

// Callbacks returns how many times the backend has invoked the callback.
func (s *stage) Callbacks() uint64 {
	return s.callbacks.Load()
}

func (s *stage) wrap(err error) error {
	return &audio.StreamError{Stage: s.name, Err: err}
}

func asUnavailable(err error) error {
	if errors.Is(err, audio.ErrDeviceUnavailable) || errors.Is(err, audio.ErrUnsupportedConfig) {
		return err
	}
	return fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
}

func scratchSize(cfg audio.StreamConfig) int {
	frames := cfg.FramesPerBuffer
	if frames <= 0 {
		frames = scratchFrames
	}
	return frames * cfg.Channels
}
