package replay

import "fmt"

// State is the scheduler's lifecycle state.
type State int

const (
	Idle State = iota
	Loaded
	Running
	Paused
	Stopped
)

var stateNames = [...]string{
	Idle:    "idle",
	Loaded:  "loaded",
	Running: "running",
	Paused:  "paused",
	Stopped: "stopped",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Kind names the type of source loaded into a scheduler.
type Kind string

const (
	KindNone   Kind = ""
	KindTrack  Kind = "track"
	KindEvents Kind = "events"
)
