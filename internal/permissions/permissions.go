// Package permissions checks that the process may use the microphone.
package permissions

import "errors"

// ErrMicrophoneDenied means the operating system refuses microphone access.
var ErrMicrophoneDenied = errors.New("microphone permission not granted")

// Status is the operating system's microphone authorization state.
type Status int

const (
	NotDetermined Status = iota
	Restricted
	Denied
	Authorized
)

func (s Status) String() string {
	switch s {
	case NotDetermined:
		return "not determined"
	case Restricted:
		return "restricted"
	case Denied:
		return "denied"
	case Authorized:
		return "authorized"
	}
	return "unknown"
}

// decide maps a status to the error returned by EnsureMicrophone and
// whether the system dialog should be shown.
func decide(s Status) (request bool, err error) {
	switch s {
	case Authorized:
		return false, nil
	case NotDetermined:
		return true, ErrMicrophoneDenied
	}
	return false, ErrMicrophoneDenied
}
