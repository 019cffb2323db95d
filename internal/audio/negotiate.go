package audio

import (
	"errors"
	"fmt"
)

// Negotiate picks the config a stream will run with. The requested config,
// with zero fields filled from the device default, wins when the device
// supports it; otherwise the device default is used as is. When neither can
// run the error wraps ErrUnsupportedConfig.
func Negotiate(h Host, dev Device, dir Direction, want StreamConfig) (StreamConfig, error) {
	def, err := h.DefaultConfig(dev, dir)
	if err != nil {
		if errors.Is(err, ErrDeviceUnavailable) {
			return StreamConfig{}, err
		}
		return StreamConfig{}, fmt.Errorf("%w: no default %s config for %q: %v", ErrUnsupportedConfig, dir, dev.Name, err)
	}

	req := fill(want, def)
	if req != def {
		if err := h.Supports(dev, dir, req); err == nil {
			return req, nil
		}
	}
	if err := h.Supports(dev, dir, def); err != nil {
		return StreamConfig{}, fmt.Errorf("%w: %s %q rejects %s and its default %s: %v", ErrUnsupportedConfig, dir, dev.Name, req, def, err)
	}
	return def, nil
}

func fill(want, def StreamConfig) StreamConfig {
	if want.SampleRate <= 0 {
		want.SampleRate = def.SampleRate
	}
	if want.Channels <= 0 {
		want.Channels = def.Channels
	}
	if want.FramesPerBuffer <= 0 {
		want.FramesPerBuffer = def.FramesPerBuffer
	}
	return want
}
