// Package app wires the daemon together and runs the refresh cycle that keeps
// the prayer schedule correct across day, location, and timezone changes.
package app

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	"adhand/internal/dispatch"
	"adhand/internal/location"
	"adhand/internal/prayer"
	"adhand/internal/runloop"
	"adhand/internal/schedule"
	"adhand/internal/storage"
	"adhand/internal/weather"
	"adhand/pkg/logx"
)

// retryDelay is how long after a failed cycle the next attempt is armed.
const retryDelay = 15 * time.Minute

// Collaborator interfaces. The concrete implementations live in their own
// packages; the orchestrator only needs these narrow slices, which also keeps
// the refresh cycle testable with stubs.

type LocationSource interface {
	Resolve(ctx context.Context) (prayer.Location, error)
	Remember(loc prayer.Location)
}

type PrayerSource interface {
	FetchDay(ctx context.Context, loc prayer.Location, day time.Time) (prayer.Day, error)
}

type WeatherSource interface {
	Fetch(ctx context.Context, lat, lon float64) (weather.Snapshot, []weather.Forecast, error)
}

type Notifier interface {
	Announce(name prayer.Name) bool
}

// Renderer receives presentation updates. Both hooks are invoked only from
// the run loop.
type Renderer interface {
	Render(day *prayer.Day, snap *weather.Snapshot, forecast []weather.Forecast)
	SetStatus(text string)
}

type cycleState int

const (
	stateIdle cycleState = iota
	stateFetching
	stateApplied
	stateFailed
)

// Deps are the orchestrator's collaborators. Weather and Store may be nil
// (disabled); everything else is required.
type Deps struct {
	Loop       *runloop.Loop
	Dispatcher *dispatch.Dispatcher
	Locations  LocationSource
	Prayers    PrayerSource
	Weather    WeatherSource
	Notifier   Notifier
	Store      storage.Store
	Renderer   Renderer
	Log        logx.Logger
}

type OrchestratorOption func(*Orchestrator)

// WithClock overrides the orchestrator's time source.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithSchedulerOptions forwards options to every scheduler the orchestrator
// constructs (a new one is built per timezone change).
func WithSchedulerOptions(opts ...schedule.Option) OrchestratorOption {
	return func(o *Orchestrator) { o.schedOpts = opts }
}

// Orchestrator drives the Idle -> Fetching -> {Applied, Failed} refresh cycle.
//
// All mutable fields below the marker are confined to the run loop: they are
// touched only from closures posted onto it (dispatcher outcomes, timer
// firings, RequestRefresh), so no mutex is needed.
type Orchestrator struct {
	log  logx.Logger
	loop *runloop.Loop
	disp *dispatch.Dispatcher

	locations LocationSource
	source    PrayerSource
	weather   WeatherSource
	notifier  Notifier
	store     storage.Store
	renderer  Renderer

	refreshCron cron.Schedule
	now         func() time.Time
	schedOpts   []schedule.Option

	// loop-confined state
	state      cycleState
	day        *prayer.Day
	snapshot   *weather.Snapshot
	forecast   []weather.Forecast
	sched      *schedule.Scheduler
	retryTimer *time.Timer
}

// NewOrchestrator builds the orchestrator. refreshSpec is a standard 5-field
// cron expression naming the daily refresh time (e.g. "5 0 * * *").
func NewOrchestrator(refreshSpec string, deps Deps, opts ...OrchestratorOption) (*Orchestrator, error) {
	sched, err := cron.ParseStandard(refreshSpec)
	if err != nil {
		return nil, err
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	o := &Orchestrator{
		log:         log,
		loop:        deps.Loop,
		disp:        deps.Dispatcher,
		locations:   deps.Locations,
		source:      deps.Prayers,
		weather:     deps.Weather,
		notifier:    deps.Notifier,
		store:       deps.Store,
		renderer:    deps.Renderer,
		refreshCron: sched,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// RequestRefresh starts a refresh cycle. Safe from any goroutine; the cycle
// itself runs via the run loop.
func (o *Orchestrator) RequestRefresh() {
	o.loop.Post(o.refresh)
}

// Close cancels the armed jobs and any pending retry. The dispatcher and run
// loop are owned by the caller and shut down separately.
func (o *Orchestrator) Close() {
	posted := o.loop.Post(func() {
		o.stopRetryTimer()
		if o.sched != nil {
			o.sched.Shutdown()
		}
	})
	if !posted && o.sched != nil {
		// Loop already stopped; Scheduler.Shutdown is safe off-loop.
		o.sched.Shutdown()
	}
}

// cycleResult carries one successful fetch: the day, plus weather when the
// best-effort fetch succeeded.
type cycleResult struct {
	day      prayer.Day
	snapshot *weather.Snapshot
	forecast []weather.Forecast
}

// refresh runs on the loop. Concurrent requests while a cycle is in flight
// coalesce into it; if two cycles do overlap (a retry racing a manual
// request), the last result applied wins.
func (o *Orchestrator) refresh() {
	if o.state == stateFetching {
		o.log.Debug("refresh already in flight; coalescing")
		return
	}
	o.state = stateFetching
	o.stopRetryTimer()
	o.renderer.SetStatus("Updating prayer times...")

	started := o.now()
	dispatch.Submit(o.disp, "refresh",
		func(ctx context.Context) (cycleResult, error) { return o.fetchCycle(ctx, started) },
		o.applyResult,
		o.failResult,
	)
}

// fetchCycle runs on a dispatcher worker: resolve location, fetch the day,
// then attempt weather. Weather failure is logged and swallowed; it must
// never fail the cycle.
func (o *Orchestrator) fetchCycle(ctx context.Context, now time.Time) (cycleResult, error) {
	loc, err := o.locations.Resolve(ctx)
	if err != nil {
		return cycleResult{}, err
	}

	day := now
	if loc.Timezone != "" {
		if zone, zerr := time.LoadLocation(loc.Timezone); zerr == nil {
			day = now.In(zone)
		}
	}

	pd, err := o.source.FetchDay(ctx, loc, day)
	if err != nil {
		return cycleResult{}, err
	}

	res := cycleResult{day: pd}
	if o.weather != nil && pd.Location.HasCoordinates() {
		snap, fc, werr := o.weather.Fetch(ctx, *pd.Location.Latitude, *pd.Location.Longitude)
		if werr != nil {
			o.log.Warn("weather fetch failed; continuing without weather", logx.Err(werr))
		} else {
			res.snapshot = &snap
			res.forecast = fc
		}
	}
	return res, nil
}

// applyResult runs on the loop.
func (o *Orchestrator) applyResult(res cycleResult) {
	o.state = stateApplied
	day := res.day
	o.day = &day
	o.snapshot = res.snapshot
	o.forecast = res.forecast

	o.locations.Remember(day.Location)
	o.persistLocation(day.Location)
	o.recordRefresh(storage.RefreshRecord{
		At:        o.now(),
		City:      day.Location.City,
		Country:   day.Location.Country,
		Timezone:  day.Location.Timezone,
		HijriDate: day.HijriDate,
		Date:      day.GregorianDate.Format("2006-01-02"),
	})

	zone := day.Zone()
	if o.sched == nil || o.sched.Timezone().String() != zone.String() {
		if o.sched != nil {
			o.log.Info("timezone changed; rebuilding scheduler",
				logx.String("old", o.sched.Timezone().String()),
				logx.String("new", zone.String()))
			o.sched.Shutdown()
		}
		o.sched = schedule.New(zone, o.loop, o.log, o.schedOpts...)
		o.sched.Start()
	}

	armed := o.sched.ArmPrayers(day.Prayers, o.onPrayer)
	nextRun := o.nextRefreshInstant(day)
	o.sched.ArmRefresh(nextRun, o.onRefreshDue)

	o.renderer.SetStatus("")
	o.renderer.Render(o.day, o.snapshot, o.forecast)
	o.log.Info("prayer schedule applied",
		logx.String("location", day.Location.String()),
		logx.String("date", day.GregorianDate.Format("2006-01-02")),
		logx.String("hijri", day.HijriDate),
		logx.Int("armed", armed),
		logx.Time("next_refresh", nextRun))
}

// nextRefreshInstant is the refresh time on the calendar day following the
// first prayer's date, evaluated in the day's zone.
func (o *Orchestrator) nextRefreshInstant(day prayer.Day) time.Time {
	first := day.Prayers[0].Time
	anchor := time.Date(first.Year(), first.Month(), first.Day(), 23, 59, 59, 0, first.Location())
	return o.refreshCron.Next(anchor)
}

// failResult runs on the loop. Jobs armed by a prior successful cycle are
// deliberately left alone: a transient network failure must not silently
// cancel notifications already due today.
func (o *Orchestrator) failResult(err error) {
	o.state = stateFailed

	if errors.Is(err, location.ErrNoLocation) {
		o.renderer.SetStatus("Unable to detect location. Please set it manually.")
	} else {
		o.renderer.SetStatus("Unable to fetch prayer times. Please try again.")
	}
	o.log.Error("refresh cycle failed", logx.Err(err))

	o.recordRefresh(storage.RefreshRecord{At: o.now(), Error: err.Error()})

	o.stopRetryTimer()
	o.retryTimer = time.AfterFunc(retryDelay, o.RequestRefresh)
	o.log.Info("refresh retry armed", logx.Duration("in", retryDelay))
}

func (o *Orchestrator) stopRetryTimer() {
	if o.retryTimer != nil {
		o.retryTimer.Stop()
		o.retryTimer = nil
	}
}

// onPrayer runs on the loop when a prayer job fires.
func (o *Orchestrator) onPrayer(name prayer.Name) {
	started := o.notifier.Announce(name)
	o.log.Info("prayer time",
		logx.String("prayer", string(name)),
		logx.Bool("notified", started))
	// Re-render so the next-prayer line advances past the one that just fired.
	o.renderer.Render(o.day, o.snapshot, o.forecast)
}

// onRefreshDue runs on the loop when the daily refresh job fires.
func (o *Orchestrator) onRefreshDue() {
	o.log.Info("daily refresh due")
	o.refresh()
}

func (o *Orchestrator) persistLocation(loc prayer.Location) {
	if o.store == nil {
		return
	}
	dispatch.Submit(o.disp, "persist-location",
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, o.store.SaveLocation(ctx, loc)
		},
		nil,
		func(err error) { o.log.Warn("persisting location failed", logx.Err(err)) },
	)
}

func (o *Orchestrator) recordRefresh(rec storage.RefreshRecord) {
	if o.store == nil {
		return
	}
	dispatch.Submit(o.disp, "record-refresh",
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, o.store.AppendRefresh(ctx, rec)
		},
		nil,
		func(err error) { o.log.Warn("recording refresh failed", logx.Err(err)) },
	)
}
