package gps

import (
	"cmp"
	"slices"
	"time"
)

const (
	// MinStepDelay is the shortest wait between two replayed points. It
	// applies to coincident timestamps and to the wrap from the last point
	// back to the first.
	MinStepDelay = 10 * time.Millisecond

	// SinglePointDelay is the step delay used when a track has fewer than
	// two points.
	SinglePointDelay = time.Second
)

// Track is a cyclic replay cursor over a time-ordered sequence of track
// points. A Track is not safe for concurrent use; the replay scheduler
// owns it.
type Track struct {
	points          []TrackPoint
	index           int
	speedMultiplier float64
}

// NewTrack returns a Track over points sorted ascending by time. Points
// with equal times keep their recorded order. The slice is copied.
func NewTrack(points []TrackPoint) *Track {
	sorted := slices.Clone(points)
	slices.SortStableFunc(sorted, func(a, b TrackPoint) int {
		return cmp.Compare(a.Time.UnixNano(), b.Time.UnixNano())
	})
	return &Track{points: sorted, speedMultiplier: 1.0}
}

// Len returns the number of points in the track.
func (t *Track) Len() int {
	return len(t.points)
}

// Index returns the cursor position.
func (t *Track) Index() int {
	return t.index
}

// Points returns a copy of the ordered track points.
func (t *Track) Points() []TrackPoint {
	return slices.Clone(t.points)
}

// relative returns the point offset from the cursor, wrapping in both
// directions.
func (t *Track) relative(offset int) TrackPoint {
	n := len(t.points)
	i := ((t.index+offset)%n + n) % n
	return t.points[i]
}

// Current returns the point at the cursor.
func (t *Track) Current() (TrackPoint, error) {
	if len(t.points) == 0 {
		return TrackPoint{}, ErrNoTrackData
	}
	return t.relative(0), nil
}

// Previous returns the point before the cursor; for the first point that
// is the last point of the track.
func (t *Track) Previous() (TrackPoint, error) {
	if len(t.points) == 0 {
		return TrackPoint{}, ErrNoTrackData
	}
	return t.relative(-1), nil
}

// Advance moves the cursor forward by one, wrapping after the last point.
func (t *Track) Advance() {
	if len(t.points) == 0 {
		return
	}
	t.index = (t.index + 1) % len(t.points)
}

// Rewind moves the cursor back to the first point.
func (t *Track) Rewind() {
	t.index = 0
}

// SpeedMultiplier returns the replay speed multiplier.
func (t *Track) SpeedMultiplier() float64 {
	return t.speedMultiplier
}

// SetSpeedMultiplier changes how fast recorded time elapses during replay.
func (t *Track) SetSpeedMultiplier(m float64) error {
	if m <= 0 {
		return ErrInvalidReplaySpeed
	}
	t.speedMultiplier = m
	return nil
}

// NextDelay returns the wait between the point at the cursor and the one
// after it, scaled by the speed multiplier.
func (t *Track) NextDelay() time.Duration {
	if len(t.points) <= 1 {
		return SinglePointDelay
	}
	return t.scaledGap(t.relative(0), t.relative(1))
}

// PendingDelay returns the wait before the point at the cursor is replayed:
// the recorded gap since the point before it, scaled by the speed
// multiplier. After Step this is the delay until the next Step.
func (t *Track) PendingDelay() time.Duration {
	if len(t.points) <= 1 {
		return SinglePointDelay
	}
	return t.scaledGap(t.relative(-1), t.relative(0))
}

func (t *Track) scaledGap(from, to TrackPoint) time.Duration {
	gap := to.Time.Sub(from.Time)
	delay := time.Duration(float64(gap) / t.speedMultiplier).Round(time.Millisecond)
	if delay < MinStepDelay {
		delay = MinStepDelay
	}
	return delay
}

// Step returns the position event for the point at the cursor and then
// advances. The heading is measured from the previous point; it is omitted
// for single-point tracks and for coincident points.
func (t *Track) Step() (PositionEvent, error) {
	current, err := t.Current()
	if err != nil {
		return PositionEvent{}, err
	}
	previous, _ := t.Previous()

	ev := PositionEvent{
		Location: current.Location,
		Previous: previous.Location,
		Speed:    current.Speed,
		Time:     current.Time,
	}
	if len(t.points) > 1 {
		ev.Heading, ev.HasHeading = Heading(previous.Location, current.Location)
	}

	t.Advance()
	return ev, nil
}
