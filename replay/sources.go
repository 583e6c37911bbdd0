package replay

import (
	"errors"
	"time"

	"github.com/Bucknalla/go-geomessage-simulator/geomessage"
	"github.com/Bucknalla/go-geomessage-simulator/gps"
)

// errNoData marks a pull from a source with nothing to replay.
var errNoData = errors.New("replay source has no data")

// unit is one pulled item, ready to send.
type unit struct {
	payload  []byte
	position *gps.PositionEvent
}

// source is a cyclic replay source. Only the scheduler calls it, with the
// scheduler lock held.
type source interface {
	kind() Kind
	len() int
	cursor() int
	rewind()
	// next pulls one unit. overrides is the override field snapshot for
	// the current tick.
	next(now time.Time, overrides []string) (unit, error)
	// delay is the wait before the next tick.
	delay(s Session) time.Duration
}

type trackSource struct {
	track       *gps.Track
	unit        geomessage.Unit
	lastHeading float64
	haveHeading bool
}

func (t *trackSource) kind() Kind  { return KindTrack }
func (t *trackSource) len() int    { return t.track.Len() }
func (t *trackSource) cursor() int { return t.track.Index() }

func (t *trackSource) rewind() {
	t.track.Rewind()
	t.haveHeading = false
}

func (t *trackSource) next(now time.Time, _ []string) (unit, error) {
	ev, err := t.track.Step()
	if errors.Is(err, gps.ErrNoTrackData) {
		return unit{}, errNoData
	}
	if err != nil {
		return unit{}, err
	}

	// Coincident points keep the last known heading.
	if ev.HasHeading {
		t.lastHeading, t.haveHeading = ev.Heading, true
	} else if t.haveHeading && t.track.Len() > 1 {
		ev.Heading, ev.HasHeading = t.lastHeading, true
	}

	payload, err := geomessage.Marshal(geomessage.NewPositionReport(t.unit, ev, now))
	if err != nil {
		return unit{}, err
	}
	return unit{payload: payload, position: &ev}, nil
}

// delay is the recorded gap between the unit just sent and the next one.
func (t *trackSource) delay(Session) time.Duration {
	return t.track.PendingDelay()
}

type eventSource struct {
	log    *geomessage.Log
	replay *geomessage.Replay
}

func newEventSource(log *geomessage.Log) *eventSource {
	return &eventSource{log: log, replay: geomessage.NewReplay(log)}
}

func (e *eventSource) kind() Kind  { return KindEvents }
func (e *eventSource) len() int    { return e.replay.Len() }
func (e *eventSource) cursor() int { return e.replay.Cursor() }
func (e *eventSource) rewind()     { e.replay.Rewind() }

func (e *eventSource) next(now time.Time, overrides []string) (unit, error) {
	rec, err := e.replay.Next()
	if errors.Is(err, geomessage.ErrEmptySource) {
		return unit{}, errNoData
	}
	if err != nil {
		return unit{}, err
	}

	payload, err := geomessage.Marshal(geomessage.ApplyOverrides(rec, overrides, now))
	if err != nil {
		return unit{}, err
	}
	return unit{payload: payload}, nil
}

func (e *eventSource) delay(s Session) time.Duration {
	return s.Interval()
}
