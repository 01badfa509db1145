package app

import (
	"context"
	"fmt"
	"time"

	"adhand/internal/prayer"
	"adhand/internal/runloop"
	"adhand/internal/weather"
	"adhand/pkg/logx"
)

const countdownInterval = 30 * time.Second

// LogRenderer is the headless presentation hook: it writes the schedule,
// status line, and a periodic next-prayer countdown to the log. State is
// loop-confined; the ticker goroutine only posts closures.
type LogRenderer struct {
	log  logx.Logger
	loop *runloop.Loop
	now  func() time.Time

	// loop-confined
	day      *prayer.Day
	snapshot *weather.Snapshot
	status   string
}

func NewLogRenderer(loop *runloop.Loop, log logx.Logger, now func() time.Time) *LogRenderer {
	if log.IsZero() {
		log = logx.Nop()
	}
	if now == nil {
		now = time.Now
	}
	return &LogRenderer{log: log, loop: loop, now: now}
}

// Start launches the countdown ticker. It exits when ctx is cancelled.
func (r *LogRenderer) Start(ctx context.Context) {
	go func() {
		t := time.NewTicker(countdownInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if !r.loop.Post(r.tick) {
					return
				}
			}
		}
	}()
}

func (r *LogRenderer) Render(day *prayer.Day, snap *weather.Snapshot, forecast []weather.Forecast) {
	r.day = day
	r.snapshot = snap
	if day == nil {
		return
	}

	fields := []logx.Field{
		logx.String("location", day.Location.String()),
		logx.String("date", day.GregorianDate.Format("2006-01-02")),
		logx.String("hijri", day.HijriDate),
		logx.String("tz", day.Zone().String()),
	}
	for _, p := range day.Prayers {
		fields = append(fields, logx.String(string(p.Name), p.Time.Format("15:04")))
	}
	r.log.Info("prayer times", fields...)

	if snap != nil {
		r.log.Info("weather", weatherFields(*snap)...)
	}
	for _, f := range forecast {
		r.log.Debug("forecast",
			logx.String("date", f.Date.Format("2006-01-02")),
			logx.Float64("min_c", f.MinC),
			logx.Float64("max_c", f.MaxC),
			logx.String("conditions", f.Conditions))
	}
	r.tick()
}

func (r *LogRenderer) SetStatus(text string) {
	if text == r.status {
		return
	}
	r.status = text
	if text != "" {
		r.log.Info("status", logx.String("text", text))
	}
}

// tick logs the countdown to the next prayer. Runs on the loop.
func (r *LogRenderer) tick() {
	if r.day == nil {
		return
	}
	now := r.now().In(r.day.Zone())
	next, ok := r.day.NextPrayer(now)
	if !ok {
		r.log.Debug("all prayers passed; awaiting daily refresh")
		return
	}
	r.log.Debug("next prayer",
		logx.String("prayer", string(next.Name)),
		logx.String("at", next.Time.Format("15:04")),
		logx.String("in", formatCountdown(next.Time.Sub(now))))
}

func weatherFields(s weather.Snapshot) []logx.Field {
	fields := []logx.Field{
		logx.Float64("temp_c", s.TemperatureC),
		logx.String("conditions", s.Conditions),
	}
	if s.FeelsLikeC != nil {
		fields = append(fields, logx.Float64("feels_like_c", *s.FeelsLikeC))
	}
	if s.Humidity != nil {
		fields = append(fields, logx.Int("humidity", *s.Humidity))
	}
	if s.WindSpeedKMH != nil {
		fields = append(fields, logx.Float64("wind_kmh", *s.WindSpeedKMH))
	}
	return fields
}

// formatCountdown renders a duration as "HH:MM:SS".
func formatCountdown(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
