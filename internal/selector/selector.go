// Package selector picks the input and output devices for a monitoring run.
package selector

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/petems/chemic/internal/audio"
)

// ErrCancelled is returned when the user backs out of a selection.
var ErrCancelled = errors.New("device selection cancelled")

// Selector chooses one input and one output device.
type Selector interface {
	Select(ctx context.Context, host audio.Host) (input, output audio.Device, err error)
}

// Defaults picks the system default device for both directions.
type Defaults struct{}

func (Defaults) Select(ctx context.Context, host audio.Host) (audio.Device, audio.Device, error) {
	if err := ctx.Err(); err != nil {
		return audio.Device{}, audio.Device{}, err
	}
	in, err := defaultDevice(host, audio.Input)
	if err != nil {
		return audio.Device{}, audio.Device{}, err
	}
	out, err := defaultDevice(host, audio.Output)
	if err != nil {
		return audio.Device{}, audio.Device{}, err
	}
	return in, out, nil
}

// Fixed returns the same pair every time.
type Fixed struct {
	Input  audio.Device
	Output audio.Device
}

func (f Fixed) Select(ctx context.Context, _ audio.Host) (audio.Device, audio.Device, error) {
	if err := ctx.Err(); err != nil {
		return audio.Device{}, audio.Device{}, err
	}
	return f.Input, f.Output, nil
}

// ByName picks devices by name. An empty name means the system default. A
// name matches a device exactly, ignoring case, or failing that as the only
// device whose name contains it.
type ByName struct {
	Input  string
	Output string
}

func (b ByName) Select(ctx context.Context, host audio.Host) (audio.Device, audio.Device, error) {
	if err := ctx.Err(); err != nil {
		return audio.Device{}, audio.Device{}, err
	}
	in, err := findDevice(host, audio.Input, b.Input)
	if err != nil {
		return audio.Device{}, audio.Device{}, err
	}
	out, err := findDevice(host, audio.Output, b.Output)
	if err != nil {
		return audio.Device{}, audio.Device{}, err
	}
	return in, out, nil
}

func defaultDevice(host audio.Host, dir audio.Direction) (audio.Device, error) {
	dev, err := host.DefaultDevice(dir)
	if err != nil {
		if errors.Is(err, audio.ErrDeviceUnavailable) {
			return audio.Device{}, err
		}
		return audio.Device{}, fmt.Errorf("%w: no default %s device: %v", audio.ErrDeviceUnavailable, dir, err)
	}
	return dev, nil
}

func findDevice(host audio.Host, dir audio.Direction, name string) (audio.Device, error) {
	if name == "" {
		return defaultDevice(host, dir)
	}

	devices, err := host.Devices(dir)
	if err != nil {
		return audio.Device{}, fmt.Errorf("%w: list %s devices: %v", audio.ErrDeviceUnavailable, dir, err)
	}

	var partial []audio.Device
	for _, d := range devices {
		if strings.EqualFold(d.Name, name) {
			return d, nil
		}
		if containsFold(d.Name, name) {
			partial = append(partial, d)
		}
	}

	switch len(partial) {
	case 1:
		return partial[0], nil
	case 0:
		return audio.Device{}, fmt.Errorf("%w: no %s device named %q", audio.ErrDeviceUnavailable, dir, name)
	}
	names := make([]string, len(partial))
	for i, d := range partial {
		names[i] = d.Name
	}
	return audio.Device{}, fmt.Errorf("%w: %s device %q is ambiguous: %s",
		audio.ErrDeviceUnavailable, dir, name, strings.Join(names, ", "))
}

// Label is how a device is shown to the user.
func Label(d audio.Device) string {
	if d.Default {
		return fmt.Sprintf("Default (%s)", d.Name)
	}
	return d.Name
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
