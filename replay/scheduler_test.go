package replay

import (
	"bytes"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Bucknalla/go-geomessage-simulator/broadcast"
	"github.com/Bucknalla/go-geomessage-simulator/geomessage"
	"github.com/Bucknalla/go-geomessage-simulator/gps"
	"github.com/Bucknalla/go-geomessage-simulator/log"
)

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

// fakeTimers records armed timers and fires them on demand.
type fakeTimers struct {
	all []*fakeTimer
}

func (c *fakeTimers) afterFunc(d time.Duration, f func()) timer {
	t := &fakeTimer{d: d, f: f}
	c.all = append(c.all, t)
	return t
}

// armed returns the most recent timer if it is still pending.
func (c *fakeTimers) armed() *fakeTimer {
	if len(c.all) == 0 {
		return nil
	}
	t := c.all[len(c.all)-1]
	if t.stopped {
		return nil
	}
	return t
}

func (c *fakeTimers) fire(t *testing.T) {
	t.Helper()
	tm := c.armed()
	if tm == nil {
		t.Fatal("Expected an armed timer")
	}
	tm.stopped = true
	tm.f()
}

type harness struct {
	sched  *Scheduler
	timers *fakeTimers
	logs   *bytes.Buffer
	conn   *net.UDPConn
	clock  time.Time
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetReadBuffer(1 << 20)

	registry := broadcast.NewRegistry(log.NewWriter(&bytes.Buffer{}, "error"), broadcast.WithAddress(net.IPv4(127, 0, 0, 1)))
	t.Cleanup(func() { registry.Close() })

	h := &harness{
		timers: &fakeTimers{},
		logs:   &bytes.Buffer{},
		conn:   conn,
		clock:  time.Date(2012, 5, 1, 8, 30, 0, 0, time.UTC),
	}

	session := DefaultSession()
	session.Port = conn.LocalAddr().(*net.UDPAddr).Port

	opts = append([]Option{
		WithRegistry(registry),
		WithClock(func() time.Time { return h.clock }),
	}, opts...)
	sched, err := NewScheduler(log.NewWriter(h.logs, "debug"), session, opts...)
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}
	sched.afterFunc = h.timers.afterFunc
	h.sched = sched
	return h
}

func (h *harness) receive(t *testing.T) *geomessage.Record {
	t.Helper()
	buf := make([]byte, broadcast.MaxDatagramSize)
	_ = h.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := h.conn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("Failed to receive datagram: %v", err)
	}
	l, err := geomessage.Parse(bytes.NewReader(buf[:n]))
	if err != nil {
		t.Fatalf("Received invalid document: %v\n%s", err, buf[:n])
	}
	if l.Root != geomessage.RootElement || l.Len() != 1 {
		t.Fatalf("Expected one record in %s, got %d in %s", geomessage.RootElement, l.Len(), l.Root)
	}
	return l.Records[0]
}

const eventLog = `<geomessages>
  <geomessage v="1.0">
    <_type>position_report</_type>
    <_action>update</_action>
    <_id>one</_id>
    <datetimevalid>2011-11-11 11:11:11</datetimevalid>
    <uniquedesignation>Archer 1</uniquedesignation>
  </geomessage>
  <geomessage v="1.0">
    <_type>spotrep</_type>
    <_id>two</_id>
  </geomessage>
  <geomessage v="1.0">
    <_type>chemlight</_type>
    <_id>three</_id>
    <datetimevalid>2011-11-11 11:11:13</datetimevalid>
  </geomessage>
</geomessages>`

func loadEvents(t *testing.T, s *Scheduler) *geomessage.Log {
	t.Helper()
	l, err := geomessage.Parse(strings.NewReader(eventLog))
	if err != nil {
		t.Fatalf("Failed to parse event log: %v", err)
	}
	if err := s.LoadEvents(l); err != nil {
		t.Fatalf("LoadEvents failed: %v", err)
	}
	return l
}

func eastboundTrack() *gps.Track {
	start := time.Date(2012, 5, 1, 12, 0, 0, 0, time.UTC)
	var points []gps.TrackPoint
	for i, lon := range []float64{-117, -116.999, -116.998, -116.997} {
		points = append(points, gps.TrackPoint{
			Location: gps.Location{Lat: 34, Lon: lon},
			Time:     start.Add(time.Duration(i) * time.Second),
			Speed:    5,
		})
	}
	return gps.NewTrack(points)
}

type positionRecorder struct {
	mu     sync.Mutex
	events []gps.PositionEvent
}

func (r *positionRecorder) OnEvent(ev gps.PositionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *positionRecorder) snapshot() []gps.PositionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]gps.PositionEvent(nil), r.events...)
}

func TestNewSchedulerInvalidSession(t *testing.T) {
	session := DefaultSession()
	session.Frequency = 0
	if _, err := NewScheduler(nil, session); !errors.Is(err, ErrInvalidFrequency) {
		t.Errorf("Expected ErrInvalidFrequency, got %v", err)
	}
}

func TestStartWithoutSource(t *testing.T) {
	h := newHarness(t)
	if err := h.sched.Start(); !errors.Is(err, ErrNoSource) {
		t.Errorf("Expected ErrNoSource, got %v", err)
	}
	if h.sched.State() != Idle {
		t.Errorf("Expected idle, got %s", h.sched.State())
	}
	if err := h.sched.LoadEvents(nil); !errors.Is(err, ErrNoSource) {
		t.Errorf("Expected ErrNoSource for nil log, got %v", err)
	}
}

func TestEventReplayCyclicOrder(t *testing.T) {
	h := newHarness(t)
	loadEvents(t, h.sched)
	if h.sched.State() != Loaded {
		t.Fatalf("Expected loaded, got %s", h.sched.State())
	}
	if err := h.sched.SetThroughput(2); err != nil {
		t.Fatalf("SetThroughput failed: %v", err)
	}

	if err := h.sched.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if tm := h.timers.armed(); tm == nil || tm.d != 0 {
		t.Fatal("Expected the first tick to be armed immediately")
	}

	h.timers.fire(t)
	h.timers.fire(t)

	for i, want := range []string{"one", "two", "three", "one"} {
		if got := h.receive(t).ID(); got != want {
			t.Errorf("Datagram %d: expected %s, got %s", i, want, got)
		}
	}

	st := h.sched.Status()
	if st.Emitted != 4 || st.Cursor != 1 || st.Total != 3 || st.Ticks != 2 {
		t.Errorf("Unexpected status %+v", st)
	}
	if st.Source != KindEvents || st.State != Running {
		t.Errorf("Expected running event replay, got %s %s", st.Source, st.State)
	}
}

func TestSetFrequencyRearmsImmediately(t *testing.T) {
	h := newHarness(t)
	loadEvents(t, h.sched)
	if err := h.sched.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.timers.fire(t)

	before := h.timers.armed()
	if before == nil || before.d != time.Second {
		t.Fatalf("Expected 1s interval at 1 Hz")
	}

	if err := h.sched.SetFrequency(5); err != nil {
		t.Fatalf("SetFrequency failed: %v", err)
	}
	if !before.stopped {
		t.Error("Expected the previous timer to be disarmed")
	}
	after := h.timers.armed()
	if after == nil || after.d != 200*time.Millisecond {
		t.Fatalf("Expected timer re-armed with 200ms")
	}
	if d := h.sched.Status().Delay; d != 200*time.Millisecond {
		t.Errorf("Expected status delay 200ms, got %v", d)
	}

	// A stale callback from the replaced timer must not tick.
	ticks := h.sched.Status().Ticks
	before.f()
	if h.sched.Status().Ticks != ticks {
		t.Error("Stale timer callback ticked the scheduler")
	}
}

func TestOverrideStamping(t *testing.T) {
	h := newHarness(t)
	l := loadEvents(t, h.sched)
	h.sched.Overrides().Replace([]string{"datetimevalid", "not_in_log"})

	if err := h.sched.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.timers.fire(t)
	h.timers.fire(t)

	first := h.receive(t)
	if v, _ := first.Get("datetimevalid"); v != "2012-05-01 08:30:00" {
		t.Errorf("Expected stamped time, got %q", v)
	}
	if _, ok := first.Get("not_in_log"); ok {
		t.Error("Override must not add fields")
	}
	for _, name := range l.Records[0].Fields() {
		if name == "datetimevalid" {
			continue
		}
		want, _ := l.Records[0].Get(name)
		if got, _ := first.Get(name); got != want {
			t.Errorf("Field %s: expected %q, got %q", name, want, got)
		}
	}

	second := h.receive(t)
	if _, ok := second.Get("datetimevalid"); ok {
		t.Error("Record without the override field must not gain it")
	}
	if second.ID() != "two" {
		t.Errorf("Expected second record, got %s", second.ID())
	}
}

func TestStopResetsAndRestartsFromFirst(t *testing.T) {
	h := newHarness(t)
	loadEvents(t, h.sched)
	_ = h.sched.Start()
	h.timers.fire(t)
	h.timers.fire(t)
	h.receive(t)
	h.receive(t)

	if err := h.sched.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	st := h.sched.Status()
	if st.State != Stopped || st.Cursor != 0 || st.Emitted != 0 {
		t.Errorf("Expected stopped with cursor and count reset, got %+v", st)
	}
	if h.timers.armed() != nil {
		t.Error("Expected no armed timer after Stop")
	}
	if n := h.sched.Tick(); n != 0 {
		t.Errorf("Expected no emission while stopped, got %d", n)
	}

	if err := h.sched.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.timers.fire(t)
	if id := h.receive(t).ID(); id != "one" {
		t.Errorf("Expected replay to restart at the first record, got %s", id)
	}
}

func TestRestartWhileRunningKeepsTimer(t *testing.T) {
	h := newHarness(t)
	loadEvents(t, h.sched)
	_ = h.sched.Start()
	h.timers.fire(t)
	h.receive(t)

	armed := h.timers.armed()
	if err := h.sched.Start(); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if armed.stopped || h.timers.armed() != armed {
		t.Error("Expected restart to keep the armed timer")
	}
	st := h.sched.Status()
	if st.Cursor != 0 || st.Emitted != 0 || st.State != Running {
		t.Errorf("Expected running with cursor and count reset, got %+v", st)
	}

	h.timers.fire(t)
	if id := h.receive(t).ID(); id != "one" {
		t.Errorf("Expected first record after restart, got %s", id)
	}
}

func TestPauseAndResume(t *testing.T) {
	h := newHarness(t)
	loadEvents(t, h.sched)
	_ = h.sched.Start()
	h.timers.fire(t)
	h.receive(t)

	if err := h.sched.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if h.sched.State() != Paused {
		t.Fatalf("Expected paused, got %s", h.sched.State())
	}
	if h.timers.armed() != nil {
		t.Error("Expected timer disarmed while paused")
	}
	if n := h.sched.Tick(); n != 0 {
		t.Errorf("Expected no emission while paused, got %d", n)
	}

	if err := h.sched.Start(); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	st := h.sched.Status()
	if st.State != Running || st.Cursor != 1 || st.Emitted != 1 {
		t.Errorf("Expected resume to keep position, got %+v", st)
	}
	h.timers.fire(t)
	if id := h.receive(t).ID(); id != "two" {
		t.Errorf("Expected second record after resume, got %s", id)
	}
}

func TestEmptyLogTick(t *testing.T) {
	h := newHarness(t)
	if err := h.sched.LoadEvents(&geomessage.Log{Root: "geomessages"}); err != nil {
		t.Fatalf("LoadEvents failed: %v", err)
	}
	if err := h.sched.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if n := h.sched.Tick(); n != 0 {
			t.Errorf("Expected empty tick to emit nothing, got %d", n)
		}
	}

	st := h.sched.Status()
	if st.State != Running {
		t.Errorf("Empty ticks must not change state, got %s", st.State)
	}
	if st.Emitted != 0 || st.Ticks != 0 || st.Cursor != 0 || st.EmptyTicks != 3 {
		t.Errorf("Expected no counter but EmptyTicks to move, got %+v", st)
	}
	if n := strings.Count(h.logs.String(), "replay source has no data"); n != 3 {
		t.Errorf("Expected one diagnostic per empty tick, got %d", n)
	}
}

func TestInvalidSettingsKeepPreviousValues(t *testing.T) {
	h := newHarness(t)
	before := h.sched.Session()

	if err := h.sched.SetFrequency(11); !errors.Is(err, ErrInvalidFrequency) {
		t.Errorf("Expected ErrInvalidFrequency, got %v", err)
	}
	if err := h.sched.SetThroughput(0); !errors.Is(err, ErrInvalidThroughput) {
		t.Errorf("Expected ErrInvalidThroughput, got %v", err)
	}
	if err := h.sched.SetPort(100001); !errors.Is(err, ErrInvalidPort) {
		t.Errorf("Expected ErrInvalidPort, got %v", err)
	}
	if err := h.sched.SetSpeedMultiplier(0); !errors.Is(err, ErrInvalidSpeedMultiplier) {
		t.Errorf("Expected ErrInvalidSpeedMultiplier, got %v", err)
	}

	bad := before
	bad.Frequency = 4
	bad.Throughput = 42
	if err := h.sched.Configure(bad); !errors.Is(err, ErrInvalidThroughput) {
		t.Errorf("Expected ErrInvalidThroughput, got %v", err)
	}

	if got := h.sched.Session(); got != before {
		t.Errorf("Expected session %+v unchanged, got %+v", before, got)
	}
}

func TestConfigure(t *testing.T) {
	h := newHarness(t)
	next := h.sched.Session()
	next.Frequency = 4
	next.Throughput = 3
	next.SpeedMultiplier = 2

	if err := h.sched.Configure(next); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if got := h.sched.Session(); got != next {
		t.Errorf("Expected %+v, got %+v", next, got)
	}
}

func TestTrackReplay(t *testing.T) {
	positions := broadcast.NewFanout[gps.PositionEvent](nil, 0)
	recorder := &positionRecorder{}
	positions.Subscribe(recorder)

	unit := geomessage.Unit{ID: "vehicle-1", Designation: "Archer 1", Type: "HMMWV"}
	h := newHarness(t, WithPositions(positions), WithUnit(unit))

	if err := h.sched.LoadTrack(eastboundTrack()); err != nil {
		t.Fatalf("LoadTrack failed: %v", err)
	}
	_ = h.sched.Start()
	h.timers.fire(t)
	h.timers.fire(t)

	if tm := h.timers.armed(); tm == nil || tm.d != time.Second {
		t.Fatalf("Expected 1s delay between recorded points")
	}
	if err := h.sched.SetSpeedMultiplier(4); err != nil {
		t.Fatalf("SetSpeedMultiplier failed: %v", err)
	}
	if tm := h.timers.armed(); tm == nil || tm.d != 250*time.Millisecond {
		t.Fatalf("Expected delay rescaled to 250ms")
	}

	h.receive(t)
	report := h.receive(t)
	if report.ID() != "vehicle-1" || report.Type() != geomessage.ReportType {
		t.Errorf("Unexpected report identity %s %s", report.ID(), report.Type())
	}
	if v, _ := report.Get(geomessage.ControlPointsField); v != "-116.999,34" {
		t.Errorf("Expected second point control points, got %q", v)
	}
	if v, _ := report.Get(geomessage.DirectionField); v != "90" {
		t.Errorf("Expected eastbound direction, got %q", v)
	}

	positions.Wait()
	events := recorder.snapshot()
	if len(events) != 2 {
		t.Fatalf("Expected 2 position events, got %d", len(events))
	}
	var second gps.PositionEvent
	for _, ev := range events {
		if ev.Location.Lon == -116.999 {
			second = ev
		}
	}
	if !second.HasHeading || second.Heading != 90 {
		t.Errorf("Expected heading 90, got %v (%v)", second.Heading, second.HasHeading)
	}
	if h.sched.Status().Source != KindTrack {
		t.Errorf("Expected track source")
	}
}

func TestStampLocation(t *testing.T) {
	h := newHarness(t, WithLocation(time.FixedZone("EDT", -4*3600)))
	loadEvents(t, h.sched)
	h.sched.Overrides().Replace([]string{"datetimevalid"})

	_ = h.sched.Start()
	h.timers.fire(t)
	if v, _ := h.receive(t).Get("datetimevalid"); v != "2012-05-01 04:30:00" {
		t.Errorf("Expected stamp in EDT, got %q", v)
	}
}

func TestTrackReplayUnevenGaps(t *testing.T) {
	h := newHarness(t)
	start := time.Date(2012, 5, 1, 12, 0, 0, 0, time.UTC)
	track := gps.NewTrack([]gps.TrackPoint{
		{Location: gps.Location{Lat: 34, Lon: -117}, Time: start},
		{Location: gps.Location{Lat: 34, Lon: -116.999}, Time: start.Add(1 * time.Second)},
		{Location: gps.Location{Lat: 34, Lon: -116.998}, Time: start.Add(6 * time.Second)},
		{Location: gps.Location{Lat: 34, Lon: -116.997}, Time: start.Add(8 * time.Second)},
	})
	if err := h.sched.LoadTrack(track); err != nil {
		t.Fatalf("LoadTrack failed: %v", err)
	}
	_ = h.sched.Start()

	for i, want := range []time.Duration{time.Second, 5 * time.Second, 2 * time.Second, gps.MinStepDelay} {
		h.timers.fire(t)
		tm := h.timers.armed()
		if tm == nil {
			t.Fatalf("Point %d: expected an armed timer", i)
		}
		if tm.d != want {
			t.Errorf("Wait after point %d: expected %v, got %v", i, want, tm.d)
		}
		h.receive(t)
	}
}

func TestCoincidentPointsKeepHeading(t *testing.T) {
	start := time.Date(2012, 5, 1, 12, 0, 0, 0, time.UTC)
	track := gps.NewTrack([]gps.TrackPoint{
		{Location: gps.Location{Lat: 34, Lon: -117}, Time: start},
		{Location: gps.Location{Lat: 34, Lon: -116.999}, Time: start.Add(time.Second)},
		{Location: gps.Location{Lat: 34, Lon: -116.999}, Time: start.Add(2 * time.Second)},
	})
	src := &trackSource{track: track, unit: geomessage.Unit{ID: "x"}}

	var got []gps.PositionEvent
	for i := 0; i < 3; i++ {
		u, err := src.next(start, nil)
		if err != nil {
			t.Fatalf("next failed: %v", err)
		}
		got = append(got, *u.position)
	}
	if !got[1].HasHeading || got[1].Heading != 90 {
		t.Errorf("Expected eastbound heading, got %v", got[1].Heading)
	}
	if !got[2].HasHeading || got[2].Heading != 90 {
		t.Errorf("Expected coincident point to keep heading 90, got %v (%v)", got[2].Heading, got[2].HasHeading)
	}
}

func TestLoadWhileRunningReturnsToLoaded(t *testing.T) {
	h := newHarness(t)
	loadEvents(t, h.sched)
	_ = h.sched.Start()
	h.timers.fire(t)
	h.receive(t)

	if err := h.sched.LoadTrack(eastboundTrack()); err != nil {
		t.Fatalf("LoadTrack failed: %v", err)
	}
	if h.sched.State() != Loaded {
		t.Errorf("Expected loaded, got %s", h.sched.State())
	}
	if h.timers.armed() != nil {
		t.Error("Expected timer disarmed by load")
	}
}

func TestSchedulerRealTimer(t *testing.T) {
	h := newHarness(t)
	h.sched.afterFunc = realAfterFunc
	loadEvents(t, h.sched)
	if err := h.sched.SetFrequency(10); err != nil {
		t.Fatalf("SetFrequency failed: %v", err)
	}

	if err := h.sched.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for _, want := range []string{"one", "two", "three"} {
		if got := h.receive(t).ID(); got != want {
			t.Errorf("Expected %s, got %s", want, got)
		}
	}
	h.sched.Close()

	if h.sched.State() != Stopped {
		t.Errorf("Expected stopped after Close, got %s", h.sched.State())
	}
}
