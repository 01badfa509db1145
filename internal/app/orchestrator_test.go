package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"adhand/internal/dispatch"
	"adhand/internal/location"
	"adhand/internal/prayer"
	"adhand/internal/runloop"
	"adhand/internal/schedule"
	"adhand/internal/weather"
	"adhand/pkg/logx"
)

// ---- stubs ----

type stubLocations struct {
	mu  sync.Mutex
	loc prayer.Location
	err error

	remembered []prayer.Location
}

func (s *stubLocations) Resolve(context.Context) (prayer.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc, s.err
}

func (s *stubLocations) Remember(loc prayer.Location) {
	s.mu.Lock()
	s.remembered = append(s.remembered, loc)
	s.mu.Unlock()
}

type stubPrayers struct {
	mu  sync.Mutex
	day prayer.Day
	err error
}

func (s *stubPrayers) FetchDay(context.Context, prayer.Location, time.Time) (prayer.Day, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.day, s.err
}

func (s *stubPrayers) set(day prayer.Day, err error) {
	s.mu.Lock()
	s.day, s.err = day, err
	s.mu.Unlock()
}

type stubWeather struct {
	snap weather.Snapshot
	err  error
}

func (s *stubWeather) Fetch(context.Context, float64, float64) (weather.Snapshot, []weather.Forecast, error) {
	return s.snap, nil, s.err
}

type stubNotifier struct {
	ch chan prayer.Name
}

func (s *stubNotifier) Announce(name prayer.Name) bool {
	select {
	case s.ch <- name:
	default:
	}
	return true
}

// stubRenderer is loop-confined like the real one; outcome channels let tests
// wait for a cycle to settle.
type stubRenderer struct {
	statuses []string
	rendered chan struct{}
	failed   chan string
}

func newStubRenderer() *stubRenderer {
	return &stubRenderer{rendered: make(chan struct{}, 8), failed: make(chan string, 8)}
}

func (r *stubRenderer) Render(*prayer.Day, *weather.Snapshot, []weather.Forecast) {
	select {
	case r.rendered <- struct{}{}:
	default:
	}
}

func (r *stubRenderer) SetStatus(text string) {
	r.statuses = append(r.statuses, text)
	if text != "" && text != "Updating prayer times..." {
		select {
		case r.failed <- text:
		default:
		}
	}
}

type fakeClock struct {
	mu sync.Mutex
	at time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

func (c *fakeClock) Set(at time.Time) {
	c.mu.Lock()
	c.at = at
	c.mu.Unlock()
}

// ---- harness ----

type harness struct {
	loop     *runloop.Loop
	orch     *Orchestrator
	clock    *fakeClock
	locs     *stubLocations
	prayers  *stubPrayers
	wx       *stubWeather
	notifier *stubNotifier
	renderer *stubRenderer
}

func tangierLocation() prayer.Location {
	lat, lon := 35.7673, -5.7998
	return prayer.Location{
		City: "Tangier", Country: "Morocco",
		Latitude: &lat, Longitude: &lon,
		Timezone: "Africa/Casablanca",
	}
}

func dayFor(t *testing.T, tz string, date time.Time) prayer.Day {
	t.Helper()
	zone, err := time.LoadLocation(tz)
	if err != nil {
		t.Fatalf("load zone: %v", err)
	}
	at := func(h, m int) time.Time {
		return time.Date(date.Year(), date.Month(), date.Day(), h, m, 0, 0, zone)
	}
	loc := tangierLocation()
	loc.Timezone = tz
	return prayer.Day{
		Location:      loc,
		HijriDate:     "18 Jumada al-Awwal 1447 AH",
		GregorianDate: time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, zone),
		Prayers: []prayer.Info{
			{Name: prayer.Fajr, Time: at(5, 10)},
			{Name: prayer.Dhuhr, Time: at(12, 30)},
			{Name: prayer.Asr, Time: at(15, 45)},
			{Name: prayer.Maghrib, Time: at(18, 12)},
			{Name: prayer.Isha, Time: at(19, 30)},
		},
	}
}

func newHarness(t *testing.T, now time.Time) *harness {
	t.Helper()

	loop := runloop.New(32, logx.Nop())
	loop.Start(context.Background())
	disp := dispatch.New(dispatch.Config{Workers: 2}, loop, logx.Nop())
	disp.Start(context.Background())

	clock := &fakeClock{at: now}
	h := &harness{
		loop:     loop,
		clock:    clock,
		locs:     &stubLocations{loc: tangierLocation()},
		prayers:  &stubPrayers{},
		wx:       &stubWeather{},
		notifier: &stubNotifier{ch: make(chan prayer.Name, 8)},
		renderer: newStubRenderer(),
	}

	orch, err := NewOrchestrator("5 0 * * *", Deps{
		Loop:       loop,
		Dispatcher: disp,
		Locations:  h.locs,
		Prayers:    h.prayers,
		Weather:    h.wx,
		Notifier:   h.notifier,
		Renderer:   h.renderer,
		Log:        logx.Nop(),
	},
		WithClock(clock.Now),
		WithSchedulerOptions(schedule.WithClock(clock.Now)),
	)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	h.orch = orch

	t.Cleanup(func() {
		orch.Close()
		disp.Stop()
		loop.Stop()
		loop.Wait()
	})
	return h
}

// onLoop runs fn on the run loop and waits for it.
func (h *harness) onLoop(t *testing.T, fn func()) {
	t.Helper()
	done := make(chan struct{})
	if !h.loop.Post(func() {
		fn()
		close(done)
	}) {
		t.Fatal("loop rejected closure")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for loop")
	}
}

func (h *harness) waitRendered(t *testing.T) {
	t.Helper()
	select {
	case <-h.renderer.rendered:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for render")
	}
}

// ---- tests ----

func TestRefreshArmsFivePrayersAndNextRefresh(t *testing.T) {
	t.Parallel()

	date := time.Date(2025, time.November, 9, 0, 0, 0, 0, time.UTC)
	day := dayFor(t, "Africa/Casablanca", date)
	now := time.Date(2025, time.November, 9, 0, 10, 0, 0, day.Zone())

	h := newHarness(t, now)
	h.prayers.set(day, nil)

	h.orch.RequestRefresh()
	h.waitRendered(t)

	h.onLoop(t, func() {
		if h.orch.state != stateApplied {
			t.Errorf("state = %v, want applied", h.orch.state)
		}
		if got := h.orch.sched.ArmedPrayers(); got != 5 {
			t.Errorf("armed prayers = %d, want 5", got)
		}
		if !h.orch.sched.RefreshArmed() {
			t.Error("refresh job not armed")
		}
		want := time.Date(2025, time.November, 10, 0, 5, 0, 0, day.Zone())
		if got := h.orch.nextRefreshInstant(*h.orch.day); !got.Equal(want) {
			t.Errorf("next refresh = %v, want %v", got, want)
		}
	})

	h.locs.mu.Lock()
	remembered := len(h.locs.remembered)
	h.locs.mu.Unlock()
	if remembered != 1 {
		t.Fatalf("Remember called %d times, want 1", remembered)
	}
}

func TestFetchFailureLeavesArmedJobsUntouched(t *testing.T) {
	t.Parallel()

	date := time.Date(2025, time.November, 9, 0, 0, 0, 0, time.UTC)
	day := dayFor(t, "Africa/Casablanca", date)
	// 13:00: Fajr and Dhuhr already passed, 3 prayers remain.
	now := time.Date(2025, time.November, 9, 13, 0, 0, 0, day.Zone())

	h := newHarness(t, now)
	h.prayers.set(day, nil)
	h.orch.RequestRefresh()
	h.waitRendered(t)

	h.onLoop(t, func() {
		if got := h.orch.sched.ArmedPrayers(); got != 3 {
			t.Errorf("armed prayers after first cycle = %d, want 3", got)
		}
	})

	h.prayers.set(prayer.Day{}, errors.New("aladhan: unexpected status 502"))
	h.orch.RequestRefresh()

	select {
	case msg := <-h.renderer.failed:
		if msg != "Unable to fetch prayer times. Please try again." {
			t.Fatalf("status = %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for failure status")
	}

	h.onLoop(t, func() {
		if h.orch.state != stateFailed {
			t.Errorf("state = %v, want failed", h.orch.state)
		}
		if got := h.orch.sched.ArmedPrayers(); got != 3 {
			t.Errorf("armed prayers after failure = %d, want 3", got)
		}
	})
}

func TestNoLocationSurfacesSpecificStatus(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, time.November, 9, 0, 10, 0, 0, time.UTC)
	h := newHarness(t, now)
	h.locs.mu.Lock()
	h.locs.err = location.ErrNoLocation
	h.locs.mu.Unlock()

	h.orch.RequestRefresh()

	select {
	case msg := <-h.renderer.failed:
		if msg != "Unable to detect location. Please set it manually." {
			t.Fatalf("status = %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for failure status")
	}
}

func TestWeatherFailureDoesNotFailCycle(t *testing.T) {
	t.Parallel()

	date := time.Date(2025, time.November, 9, 0, 0, 0, 0, time.UTC)
	day := dayFor(t, "Africa/Casablanca", date)
	now := time.Date(2025, time.November, 9, 0, 10, 0, 0, day.Zone())

	h := newHarness(t, now)
	h.prayers.set(day, nil)
	h.wx.err = errors.New("open-meteo: unexpected status 503")

	h.orch.RequestRefresh()
	h.waitRendered(t)

	h.onLoop(t, func() {
		if h.orch.state != stateApplied {
			t.Errorf("state = %v, want applied", h.orch.state)
		}
		if h.orch.snapshot != nil {
			t.Error("snapshot should be nil after weather failure")
		}
		if got := h.orch.sched.ArmedPrayers(); got != 5 {
			t.Errorf("armed prayers = %d, want 5", got)
		}
	})
}

func TestTimezoneChangeRebuildsScheduler(t *testing.T) {
	t.Parallel()

	date := time.Date(2025, time.November, 9, 0, 0, 0, 0, time.UTC)
	day := dayFor(t, "Africa/Casablanca", date)
	now := time.Date(2025, time.November, 9, 0, 10, 0, 0, day.Zone())

	h := newHarness(t, now)
	h.prayers.set(day, nil)
	h.orch.RequestRefresh()
	h.waitRendered(t)

	var first *schedule.Scheduler
	h.onLoop(t, func() { first = h.orch.sched })

	// The user flies east: same date, new zone.
	h.prayers.set(dayFor(t, "Europe/Istanbul", date), nil)
	h.orch.RequestRefresh()
	h.waitRendered(t)

	h.onLoop(t, func() {
		if h.orch.sched == first {
			t.Error("scheduler not rebuilt on timezone change")
		}
		if got := h.orch.sched.Timezone().String(); got != "Europe/Istanbul" {
			t.Errorf("scheduler zone = %s", got)
		}
		if got := h.orch.sched.ArmedPrayers(); got != 5 {
			t.Errorf("armed prayers = %d, want 5", got)
		}
	})
	if first.ArmedPrayers() != 0 || first.RefreshArmed() {
		t.Fatal("old scheduler still holds armed jobs")
	}
}

func TestSameZoneReusesScheduler(t *testing.T) {
	t.Parallel()

	date := time.Date(2025, time.November, 9, 0, 0, 0, 0, time.UTC)
	day := dayFor(t, "Africa/Casablanca", date)
	now := time.Date(2025, time.November, 9, 0, 10, 0, 0, day.Zone())

	h := newHarness(t, now)
	h.prayers.set(day, nil)
	h.orch.RequestRefresh()
	h.waitRendered(t)

	var first *schedule.Scheduler
	h.onLoop(t, func() { first = h.orch.sched })

	h.orch.RequestRefresh()
	h.waitRendered(t)

	h.onLoop(t, func() {
		if h.orch.sched != first {
			t.Error("scheduler rebuilt although zone is unchanged")
		}
	})
}

func TestPrayerTriggerInvokesNotifier(t *testing.T) {
	t.Parallel()

	date := time.Date(2025, time.November, 9, 0, 0, 0, 0, time.UTC)
	day := dayFor(t, "Africa/Casablanca", date)
	now := time.Date(2025, time.November, 9, 0, 10, 0, 0, day.Zone())

	h := newHarness(t, now)
	h.prayers.set(day, nil)
	h.orch.RequestRefresh()
	h.waitRendered(t)

	// Fire the Fajr callback directly; timer plumbing is covered in the
	// schedule package.
	h.onLoop(t, func() { h.orch.onPrayer(prayer.Fajr) })

	select {
	case name := <-h.notifier.ch:
		if name != prayer.Fajr {
			t.Fatalf("announced %s, want Fajr", name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notifier never invoked")
	}
}
