package pipeline

import (
	"errors"
	"fmt"
)

// ErrInvalidState is returned when a pipeline is asked to do something its
// current state does not allow, such as running twice.
var ErrInvalidState = errors.New("invalid state")

// State identifies where a pipeline is in its single run.
type State int32

const (
	// Idle means Run has not been called yet.
	Idle State = iota
	// Running means both streams are started and audio flows.
	Running
	// Stopping means the streams are being torn down.
	Stopping
	// Stopped means every stream is closed and the buffer released.
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// next lists the allowed transitions. Idle may go straight to Stopping when
// start-up fails: there is nothing running to leave, but whatever was opened
// still has to be torn down.
var next = map[State][]State{
	Idle:     {Running, Stopping},
	Running:  {Stopping},
	Stopping: {Stopped},
}

func canTransition(from, to State) bool {
	for _, s := range next[from] {
		if s == to {
			return true
		}
	}
	return false
}
