package audio

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceUnavailable means the device could not be found or opened.
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	// ErrUnsupportedConfig means neither the requested nor the default
	// config can run on the device.
	ErrUnsupportedConfig = errors.New("unsupported stream config")
	// ErrStreamRuntime means a running stream failed.
	ErrStreamRuntime = errors.New("stream runtime error")
)

// StreamError attaches the failing stage to an error.
type StreamError struct {
	Stage string
	Err   error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}
