// Package replay drives cyclic replay of a track or event log at a
// controllable cadence, broadcasting each serialized record and publishing
// track positions to in-process listeners.
package replay

import (
	"errors"
	"sync"
	"time"

	"github.com/Bucknalla/go-geomessage-simulator/broadcast"
	"github.com/Bucknalla/go-geomessage-simulator/geomessage"
	"github.com/Bucknalla/go-geomessage-simulator/gps"
	"github.com/Bucknalla/go-geomessage-simulator/log"
)

type timer interface {
	Stop() bool
}

func realAfterFunc(d time.Duration, f func()) timer {
	return time.AfterFunc(d, f)
}

// Status is a snapshot of the scheduler.
type Status struct {
	State      State         `json:"state"`
	Source     Kind          `json:"source"`
	Cursor     int           `json:"cursor"`
	Total      int           `json:"total"`
	Emitted    uint64        `json:"emitted"`
	Ticks      uint64        `json:"ticks"`
	EmptyTicks uint64        `json:"empty_ticks"`
	Delay      time.Duration `json:"delay"`
	Session    Session       `json:"session"`
	Overrides  []string      `json:"override_fields"`
}

// Scheduler owns the replay state machine and its single timer. Every
// tick runs with the scheduler lock held, so cursor and counters only
// change on one goroutine at a time.
type Scheduler struct {
	lg        *log.Logger
	registry  *broadcast.Registry
	positions *broadcast.Fanout[gps.PositionEvent]
	overrides *geomessage.FieldSet
	unit      geomessage.Unit
	now       func() time.Time
	loc       *time.Location
	afterFunc func(time.Duration, func()) timer

	mu         sync.Mutex
	state      State
	session    Session
	src        source
	timer      timer
	gen        uint64
	delay      time.Duration
	emitted    uint64
	ticks      uint64
	emptyTicks uint64
}

type Option func(*Scheduler)

// WithRegistry sends through r instead of the default registry.
func WithRegistry(r *broadcast.Registry) Option {
	return func(s *Scheduler) {
		s.registry = r
	}
}

// WithPositions publishes track positions to f.
func WithPositions(f *broadcast.Fanout[gps.PositionEvent]) Option {
	return func(s *Scheduler) {
		s.positions = f
	}
}

// WithOverrides shares an override field set with the caller.
func WithOverrides(fs *geomessage.FieldSet) Option {
	return func(s *Scheduler) {
		s.overrides = fs
	}
}

// WithUnit sets the identity used in track position reports.
func WithUnit(u geomessage.Unit) Option {
	return func(s *Scheduler) {
		s.unit = u
	}
}

// WithLocation stamps timestamps in loc instead of UTC.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		s.loc = loc
	}
}

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

func NewScheduler(lg *log.Logger, session Session, opts ...Option) (*Scheduler, error) {
	if err := session.Validate(); err != nil {
		return nil, err
	}

	s := &Scheduler{
		lg:        lg,
		session:   session,
		unit:      geomessage.NewUnit("Simulator", "vehicle", ""),
		now:       time.Now,
		loc:       time.UTC,
		afterFunc: realAfterFunc,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = broadcast.Default()
	}
	if s.positions == nil {
		s.positions = broadcast.NewFanout[gps.PositionEvent](lg, 0)
	}
	if s.overrides == nil {
		s.overrides = geomessage.NewFieldSet()
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	return s, nil
}

// Positions returns the fanout track positions are published to.
func (s *Scheduler) Positions() *broadcast.Fanout[gps.PositionEvent] {
	return s.positions
}

// Overrides returns the override field set. It may be changed at any time;
// each tick uses a snapshot.
func (s *Scheduler) Overrides() *geomessage.FieldSet {
	return s.overrides
}

// LoadTrack makes track the active source. A running replay is disarmed
// and the scheduler returns to Loaded.
func (s *Scheduler) LoadTrack(track *gps.Track) error {
	if track == nil {
		return ErrNoSource
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := track.SetSpeedMultiplier(s.session.SpeedMultiplier); err != nil {
		return err
	}
	s.load(&trackSource{track: track, unit: s.unit})
	s.lg.Info("loaded track", "points", track.Len())
	return nil
}

// LoadEvents makes log the active source. A running replay is disarmed and
// the scheduler returns to Loaded.
func (s *Scheduler) LoadEvents(l *geomessage.Log) error {
	if l == nil {
		return ErrNoSource
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.load(newEventSource(l))
	s.lg.Info("loaded event log", "records", l.Len(), "fields", len(l.FieldNames()))
	return nil
}

func (s *Scheduler) load(src source) {
	s.disarm()
	s.src = src
	s.src.rewind()
	s.emitted = 0
	s.state = Loaded
}

// Start begins replay from the first unit. Starting a running replay
// restarts it without disarming the timer; starting a paused replay
// resumes where it left off.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Idle:
		return ErrNoSource
	case Running:
		s.src.rewind()
		s.emitted = 0
		s.lg.Info("replay restarted")
		return nil
	case Paused:
		s.lg.Info("replay resumed")
	default:
		s.src.rewind()
		s.emitted = 0
		s.lg.Info("replay started", "source", s.src.kind(), "port", s.session.Port)
	}

	s.state = Running
	s.arm(0)
	return nil
}

// Pause disarms the timer and keeps the cursor.
func (s *Scheduler) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Running {
		return nil
	}
	s.disarm()
	s.state = Paused
	s.lg.Info("replay paused", "cursor", s.src.cursor())
	return nil
}

// Stop disarms the timer and resets the cursor and emitted count.
// Deliveries already handed to listeners are not waited for.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Idle {
		return nil
	}
	s.disarm()
	s.src.rewind()
	s.emitted = 0
	s.state = Stopped
	s.lg.Info("replay stopped")
	return nil
}

// Tick runs one tick if the scheduler is running and returns the number
// of units emitted. The timer calls it; tests may call it directly.
func (s *Scheduler) Tick() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick()
}

// tick counts toward Ticks only if the source had data; an empty tick
// only logs and bumps EmptyTicks.
func (s *Scheduler) tick() int {
	if s.state != Running || s.src == nil {
		return 0
	}

	now := s.now().In(s.loc)
	overrides := s.overrides.Names()
	endpoint := s.registry.EndpointFor(s.session.Port)

	n := 0
	pulled := false
	for i := 0; i < s.session.Throughput; i++ {
		u, err := s.src.next(now, overrides)
		if errors.Is(err, errNoData) {
			s.emptyTicks++
			s.lg.Warn("replay source has no data", "source", s.src.kind())
			break
		}
		pulled = true
		if err != nil {
			s.lg.Errorf("skipping unit: %v", err)
			continue
		}

		if u.position != nil {
			s.positions.Publish(*u.position)
		}
		// Transport errors are logged by the endpoint.
		_ = endpoint.Send(u.payload)
		s.emitted++
		n++
	}
	if pulled {
		s.ticks++
	}
	return n
}

// fire is the timer callback for generation gen.
func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || s.state != Running {
		return
	}
	s.tick()
	s.arm(s.src.delay(s.session))
}

func (s *Scheduler) arm(d time.Duration) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.delay = d
	s.timer = s.afterFunc(d, func() { s.fire(gen) })
}

func (s *Scheduler) disarm() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	s.delay = 0
}

// SetFrequency changes the event replay rate. A running event replay is
// re-armed with the new interval at once.
func (s *Scheduler) SetFrequency(hz int) error {
	if !validFrequency(hz) {
		return ErrInvalidFrequency
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.session.Frequency = hz
	if s.state == Running && s.src.kind() == KindEvents {
		s.arm(s.session.Interval())
	}
	return nil
}

// SetThroughput changes the number of units per tick from the next tick.
func (s *Scheduler) SetThroughput(n int) error {
	if !validThroughput(n) {
		return ErrInvalidThroughput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.Throughput = n
	return nil
}

// SetPort changes the destination port from the next tick.
func (s *Scheduler) SetPort(port int) error {
	if !validPort(port) {
		return ErrInvalidPort
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.Port = port
	return nil
}

// SetSpeedMultiplier scales track replay time. A running track replay is
// re-armed with the rescaled delay at once.
func (s *Scheduler) SetSpeedMultiplier(m float64) error {
	if !validSpeedMultiplier(m) {
		return ErrInvalidSpeedMultiplier
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.session.SpeedMultiplier = m
	ts, ok := s.src.(*trackSource)
	if !ok {
		return nil
	}
	if err := ts.track.SetSpeedMultiplier(m); err != nil {
		return err
	}
	if s.state == Running {
		s.arm(ts.delay(s.session))
	}
	return nil
}

// Configure applies every setting of session, or none of them if any is
// invalid.
func (s *Scheduler) Configure(session Session) error {
	if err := session.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	prev := s.session
	s.mu.Unlock()

	if session.Throughput != prev.Throughput {
		_ = s.SetThroughput(session.Throughput)
	}
	if session.Port != prev.Port {
		_ = s.SetPort(session.Port)
	}
	if session.Frequency != prev.Frequency {
		_ = s.SetFrequency(session.Frequency)
	}
	if session.SpeedMultiplier != prev.SpeedMultiplier {
		_ = s.SetSpeedMultiplier(session.SpeedMultiplier)
	}
	return nil
}

func (s *Scheduler) Session() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:      s.state,
		Source:     KindNone,
		Emitted:    s.emitted,
		Ticks:      s.ticks,
		EmptyTicks: s.emptyTicks,
		Delay:      s.delay,
		Session:    s.session,
		Overrides:  s.overrides.Names(),
	}
	if s.src != nil {
		st.Source = s.src.kind()
		st.Cursor = s.src.cursor()
		st.Total = s.src.len()
	}
	return st
}

// Close stops the replay and waits for in-flight listener deliveries.
func (s *Scheduler) Close() {
	_ = s.Stop()
	s.positions.Wait()
}
