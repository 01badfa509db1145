package schedule

import (
	"context"
	"testing"
	"time"

	"adhand/internal/prayer"
	"adhand/internal/runloop"
	"adhand/pkg/logx"
)

func newTestLoop(t *testing.T) *runloop.Loop {
	t.Helper()
	l := runloop.New(16, logx.Nop())
	l.Start(context.Background())
	t.Cleanup(func() {
		l.Stop()
		l.Wait()
	})
	return l
}

func fixedClock(at time.Time) Clock {
	return func() time.Time { return at }
}

func casablanca(t *testing.T) *time.Location {
	t.Helper()
	zone, err := time.LoadLocation("Africa/Casablanca")
	if err != nil {
		t.Fatalf("load zone: %v", err)
	}
	return zone
}

func dayPrayers(zone *time.Location) []prayer.Info {
	at := func(h, m int) time.Time {
		return time.Date(2025, time.November, 9, h, m, 0, 0, zone)
	}
	return []prayer.Info{
		{Name: prayer.Fajr, Time: at(5, 10)},
		{Name: prayer.Dhuhr, Time: at(12, 30)},
		{Name: prayer.Asr, Time: at(15, 45)},
		{Name: prayer.Maghrib, Time: at(18, 12)},
		{Name: prayer.Isha, Time: at(19, 30)},
	}
}

func TestArmPrayersSkipsPastEntries(t *testing.T) {
	t.Parallel()

	zone := casablanca(t)
	now := time.Date(2025, time.November, 9, 6, 0, 0, 0, zone)
	s := New(zone, newTestLoop(t), logx.Nop(), WithClock(fixedClock(now)))
	s.Start()
	defer s.Shutdown()

	armed := s.ArmPrayers(dayPrayers(zone), func(prayer.Name) {})
	if armed != 4 {
		t.Fatalf("armed = %d, want 4 (Fajr already passed)", armed)
	}
	if got := s.ArmedPrayers(); got != 4 {
		t.Fatalf("ArmedPrayers() = %d, want 4", got)
	}
}

func TestArmPrayersIsReplaceAll(t *testing.T) {
	t.Parallel()

	zone := casablanca(t)
	now := time.Date(2025, time.November, 9, 0, 10, 0, 0, zone)
	s := New(zone, newTestLoop(t), logx.Nop(), WithClock(fixedClock(now)))
	s.Start()
	defer s.Shutdown()

	if armed := s.ArmPrayers(dayPrayers(zone), func(prayer.Name) {}); armed != 5 {
		t.Fatalf("first arm = %d, want 5", armed)
	}

	// Second call with a shorter list: nothing from the first call survives.
	second := dayPrayers(zone)[3:]
	if armed := s.ArmPrayers(second, func(prayer.Name) {}); armed != 2 {
		t.Fatalf("second arm = %d, want 2", armed)
	}
	if got := s.ArmedPrayers(); got != 2 {
		t.Fatalf("ArmedPrayers() = %d, want 2", got)
	}
}

func TestArmRefreshReplacesPrevious(t *testing.T) {
	t.Parallel()

	zone := casablanca(t)
	now := time.Date(2025, time.November, 9, 0, 10, 0, 0, zone)
	s := New(zone, newTestLoop(t), logx.Nop(), WithClock(fixedClock(now)))
	s.Start()
	defer s.Shutdown()

	first := make(chan struct{}, 1)
	s.ArmRefresh(now.Add(time.Hour), func() { first <- struct{}{} })
	if !s.RefreshArmed() {
		t.Fatal("refresh not armed")
	}

	fired := make(chan struct{}, 1)
	s.ArmRefresh(now.Add(30*time.Millisecond), func() { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("replacement refresh never fired")
	}
	select {
	case <-first:
		t.Fatal("replaced refresh job fired")
	case <-time.After(100 * time.Millisecond):
	}
	if s.RefreshArmed() {
		t.Fatal("refresh still armed after firing")
	}
}

func TestPrayerJobFiresOnLoop(t *testing.T) {
	t.Parallel()

	zone := casablanca(t)
	loop := newTestLoop(t)
	s := New(zone, loop, logx.Nop())
	s.Start()
	defer s.Shutdown()

	fired := make(chan prayer.Name, 1)
	prayers := []prayer.Info{
		{Name: prayer.Fajr, Time: time.Now().In(zone).Add(30 * time.Millisecond)},
	}
	if armed := s.ArmPrayers(prayers, func(n prayer.Name) { fired <- n }); armed != 1 {
		t.Fatalf("armed = %d, want 1", armed)
	}

	select {
	case n := <-fired:
		if n != prayer.Fajr {
			t.Fatalf("fired %s, want Fajr", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("prayer job never fired")
	}
	if got := s.ArmedPrayers(); got != 0 {
		t.Fatalf("ArmedPrayers() = %d after firing", got)
	}
}

func TestShutdownCancelsEverything(t *testing.T) {
	t.Parallel()

	zone := casablanca(t)
	s := New(zone, newTestLoop(t), logx.Nop())
	s.Start()

	fired := make(chan struct{}, 8)
	prayers := []prayer.Info{
		{Name: prayer.Fajr, Time: time.Now().In(zone).Add(50 * time.Millisecond)},
		{Name: prayer.Dhuhr, Time: time.Now().In(zone).Add(60 * time.Millisecond)},
	}
	s.ArmPrayers(prayers, func(prayer.Name) { fired <- struct{}{} })
	s.ArmRefresh(time.Now().Add(50*time.Millisecond), func() { fired <- struct{}{} })

	s.Shutdown()
	s.Shutdown() // idempotent

	select {
	case <-fired:
		t.Fatal("job fired after shutdown")
	case <-time.After(150 * time.Millisecond):
	}
	if s.ArmedPrayers() != 0 || s.RefreshArmed() {
		t.Fatal("jobs survive shutdown")
	}
}

func TestArmOnStoppedSchedulerIsNoop(t *testing.T) {
	t.Parallel()

	zone := casablanca(t)
	s := New(zone, newTestLoop(t), logx.Nop())
	// Never started.
	if armed := s.ArmPrayers(dayPrayers(zone), func(prayer.Name) {}); armed != 0 {
		t.Fatalf("armed = %d on stopped scheduler", armed)
	}
	s.ArmRefresh(time.Now().Add(time.Hour), func() {})
	if s.RefreshArmed() {
		t.Fatal("refresh armed on stopped scheduler")
	}
}

func TestTimezone(t *testing.T) {
	t.Parallel()
	zone := casablanca(t)
	s := New(zone, newTestLoop(t), logx.Nop())
	if got := s.Timezone(); got.String() != "Africa/Casablanca" {
		t.Fatalf("Timezone() = %s", got)
	}
}
