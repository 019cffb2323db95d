package audio

import (
	"fmt"
	"strconv"

	"github.com/gordonklaus/portaudio"
)

// PortAudio implements Host over the PortAudio library.
//
// PortAudio has no error callback: a device that disappears mid-run simply
// stops invoking the stream callback. Streams opened here therefore return a
// nil Err channel and rely on the pipeline's stall watchdog.
type PortAudio struct{}

// NewPortAudio initializes PortAudio. Close must be called to release it.
func NewPortAudio() (*PortAudio, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &PortAudio{}, nil
}

func (p *PortAudio) Close() error {
	return portaudio.Terminate()
}

func (p *PortAudio) Devices(dir Direction) ([]Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	def, _ := defaultInfo(dir)

	result := make([]Device, 0, len(devices))
	for _, d := range devices {
		dev := fromInfo(d, dir)
		if dev.MaxChannels(dir) == 0 {
			continue
		}
		dev.Default = def != nil && d.Index == def.Index
		result = append(result, dev)
	}
	return result, nil
}

func (p *PortAudio) DefaultDevice(dir Direction) (Device, error) {
	info, err := defaultInfo(dir)
	if err != nil {
		return Device{}, fmt.Errorf("%w: no default %s device: %v", ErrDeviceUnavailable, dir, err)
	}
	dev := fromInfo(info, dir)
	dev.Default = true
	return dev, nil
}

func (p *PortAudio) DefaultConfig(dev Device, dir Direction) (StreamConfig, error) {
	info, err := p.resolve(dev, dir)
	if err != nil {
		return StreamConfig{}, err
	}
	channels := maxChannels(info, dir)
	if channels > 2 {
		channels = 2
	}
	if channels == 0 || info.DefaultSampleRate <= 0 {
		return StreamConfig{}, fmt.Errorf("%q has no %s channels", info.Name, dir)
	}
	return StreamConfig{
		SampleRate: int(info.DefaultSampleRate),
		Channels:   channels,
		Format:     Float32,
	}, nil
}

func (p *PortAudio) Supports(dev Device, dir Direction, cfg StreamConfig) error {
	info, err := p.resolve(dev, dir)
	if err != nil {
		return err
	}
	if cfg.Channels > maxChannels(info, dir) {
		return fmt.Errorf("%q supports at most %d %s channels", info.Name, maxChannels(info, dir), dir)
	}
	sample, err := sampleType(cfg.Format)
	if err != nil {
		return err
	}
	return portaudio.IsFormatSupported(params(info, dir, cfg), sample)
}

func (p *PortAudio) Open(dev Device, dir Direction, cfg StreamConfig, cb Callback) (Stream, error) {
	info, err := p.resolve(dev, dir)
	if err != nil {
		return nil, err
	}

	var fn any
	switch cfg.Format {
	case Float32:
		fn = func(buf []float32) { cb(Buffer{F32: buf}) }
	case Int16:
		fn = func(buf []int16) { cb(Buffer{I16: buf}) }
	default:
		return nil, fmt.Errorf("%w: sample format %s", ErrUnsupportedConfig, cfg.Format)
	}

	stream, err := portaudio.OpenStream(params(info, dir, cfg), fn)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s stream on %q: %v", ErrDeviceUnavailable, dir, info.Name, err)
	}
	return &paStream{stream: stream}, nil
}

// resolve maps a Device back to PortAudio's device info, looking the device
// up again so that a device removed since enumeration is reported as
// unavailable rather than crashing inside PortAudio.
func (p *PortAudio) resolve(dev Device, dir Direction) (*portaudio.DeviceInfo, error) {
	if dev.IsDefaultSentinel() {
		info, err := defaultInfo(dir)
		if err != nil {
			return nil, fmt.Errorf("%w: no default %s device: %v", ErrDeviceUnavailable, dir, err)
		}
		return info, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to enumerate devices: %v", ErrDeviceUnavailable, err)
	}
	for _, d := range devices {
		if strconv.Itoa(d.Index) == dev.ID && d.Name == dev.Name {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: device not found: %s", ErrDeviceUnavailable, dev.Name)
}

type paStream struct {
	stream *portaudio.Stream
}

func (s *paStream) Start() error { return s.stream.Start() }

// Stop aborts rather than drains: pending output is monitoring audio that
// nobody needs to hear after the user asked to stop.
func (s *paStream) Stop() error { return s.stream.Abort() }

func (s *paStream) Close() error { return s.stream.Close() }

func (s *paStream) Err() <-chan error { return nil }

func defaultInfo(dir Direction) (*portaudio.DeviceInfo, error) {
	if dir == Output {
		return portaudio.DefaultOutputDevice()
	}
	return portaudio.DefaultInputDevice()
}

func fromInfo(d *portaudio.DeviceInfo, dir Direction) Device {
	dev := Device{
		ID:                strconv.Itoa(d.Index),
		Name:              d.Name,
		MaxInputChannels:  d.MaxInputChannels,
		MaxOutputChannels: d.MaxOutputChannels,
		DefaultSampleRate: d.DefaultSampleRate,
		handle:            d,
	}
	if dir == Output {
		dev.LowLatency, dev.HighLatency = d.DefaultLowOutputLatency, d.DefaultHighOutputLatency
	} else {
		dev.LowLatency, dev.HighLatency = d.DefaultLowInputLatency, d.DefaultHighInputLatency
	}
	return dev
}

func maxChannels(d *portaudio.DeviceInfo, dir Direction) int {
	if dir == Output {
		return d.MaxOutputChannels
	}
	return d.MaxInputChannels
}

func params(d *portaudio.DeviceInfo, dir Direction, cfg StreamConfig) portaudio.StreamParameters {
	p := portaudio.StreamParameters{
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.FramesPerBuffer,
	}
	if dir == Output {
		p.Output = portaudio.StreamDeviceParameters{
			Device:   d,
			Channels: cfg.Channels,
			Latency:  d.DefaultLowOutputLatency,
		}
	} else {
		p.Input = portaudio.StreamDeviceParameters{
			Device:   d,
			Channels: cfg.Channels,
			Latency:  d.DefaultLowInputLatency,
		}
	}
	return p
}

func sampleType(f SampleFormat) (any, error) {
	switch f {
	case Float32:
		return []float32{}, nil
	case Int16:
		return []int16{}, nil
	}
	return nil, fmt.Errorf("%w: sample format %s", ErrUnsupportedConfig, f)
}
