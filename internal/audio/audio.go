package audio

import (
	"fmt"
	"time"

	goaudio "github.com/go-audio/audio"
)

// Direction selects the input or output side of a device.
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Output {
		return "output"
	}
	return "input"
}

// SampleFormat is the on-the-wire sample encoding of a stream.
type SampleFormat int

const (
	// Float32 samples in roughly [-1, 1].
	Float32 SampleFormat = iota
	// Int16 signed 16-bit samples.
	Int16
)

func (f SampleFormat) String() string {
	switch f {
	case Float32:
		return "f32"
	case Int16:
		return "i16"
	}
	return fmt.Sprintf("SampleFormat(%d)", int(f))
}

// ParseSampleFormat accepts "f32", "float32", "i16" and "int16".
func ParseSampleFormat(s string) (SampleFormat, error) {
	switch s {
	case "f32", "float32":
		return Float32, nil
	case "i16", "int16":
		return Int16, nil
	}
	return 0, fmt.Errorf("unknown sample format %q", s)
}

// Device describes an audio endpoint. The zero Device stands for the
// system default of whichever direction it is used for.
type Device struct {
	ID                string
	Name              string
	Default           bool
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
	LowLatency        time.Duration
	HighLatency       time.Duration

	// handle is owned by the Host that produced the Device.
	handle any
}

// IsDefaultSentinel reports whether d asks for the system default device.
func (d Device) IsDefaultSentinel() bool {
	return d.ID == "" && d.handle == nil
}

// MaxChannels returns the channel limit for dir.
func (d Device) MaxChannels(dir Direction) int {
	if dir == Output {
		return d.MaxOutputChannels
	}
	return d.MaxInputChannels
}

// WithHandle returns a copy of d carrying a backend handle. Backends outside
// this package (fakes in tests) use it to attach their own device state.
func (d Device) WithHandle(h any) Device {
	d.handle = h
	return d
}

// Handle returns the backend handle attached with WithHandle.
func (d Device) Handle() any {
	return d.handle
}

// StreamConfig is the format a stream runs with. Zero fields in a requested
// config mean "whatever the device prefers".
type StreamConfig struct {
	SampleRate      int
	Channels        int
	Format          SampleFormat
	FramesPerBuffer int
}

// AudioFormat returns the rate/channel layout as a go-audio Format.
func (c StreamConfig) AudioFormat() goaudio.Format {
	return goaudio.Format{NumChannels: c.Channels, SampleRate: c.SampleRate}
}

// FramesFor returns how many frames cover d at the config's sample rate,
// rounding up.
func (c StreamConfig) FramesFor(d time.Duration) int {
	if d <= 0 || c.SampleRate <= 0 {
		return 0
	}
	rate := int64(c.SampleRate)
	// Whole seconds and the remainder are scaled separately so long
	// durations cannot overflow.
	frames := int64(d/time.Second) * rate
	rem := int64(d%time.Second) * rate
	frames += rem / int64(time.Second)
	if rem%int64(time.Second) != 0 {
		frames++
	}
	return int(frames)
}

func (c StreamConfig) String() string {
	return fmt.Sprintf("%dHz %dch %s", c.SampleRate, c.Channels, c.Format)
}

// Buffer is one hardware buffer of interleaved samples. Exactly one of the
// slices is set, matching the stream's SampleFormat.
type Buffer struct {
	F32 []float32
	I16 []int16
}

// Len returns the number of samples in the buffer.
func (b Buffer) Len() int {
	if b.I16 != nil {
		return len(b.I16)
	}
	return len(b.F32)
}

// Callback is invoked by the backend on its own real-time thread. For input
// streams the buffer holds captured samples; for output streams it must be
// filled. Implementations must not block or allocate.
type Callback func(buf Buffer)

// Stream is an open hardware stream.
type Stream interface {
	Start() error
	Stop() error
	Close() error
	// Err delivers errors the backend reports after Start. It may be nil
	// when the backend never reports runtime errors.
	Err() <-chan error
}

// Host is the audio subsystem capability the pipeline depends on.
type Host interface {
	Devices(dir Direction) ([]Device, error)
	DefaultDevice(dir Direction) (Device, error)
	// DefaultConfig reports the format the device prefers for dir.
	DefaultConfig(dev Device, dir Direction) (StreamConfig, error)
	// Supports returns nil when the device can run cfg for dir.
	Supports(dev Device, dir Direction, cfg StreamConfig) error
	Open(dev Device, dir Direction, cfg StreamConfig, cb Callback) (Stream, error)
}
