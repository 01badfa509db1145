package prayer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sixdouglas/suncalc"

	"adhand/pkg/logx"
)

// ErrNoCoordinates is returned when the solar source is asked to compute
// times for a location without latitude/longitude.
var ErrNoCoordinates = errors.New("solar source requires coordinates")

// ErrPolarDay marks dates/latitudes where the sun never crosses the twilight
// angles the computation needs.
var ErrPolarDay = errors.New("solar times undefined for this latitude and date")

// SolarSource computes approximate prayer instants locally from solar
// geometry, for use when the AlAdhan API is unreachable or disabled.
//
// Approximations: Fajr is taken at astronomical dawn and Isha at
// astronomical dusk (both ~18° solar depression, matching the Muslim World
// League convention), Dhuhr at solar noon, Maghrib at sunset, and Asr from
// the classical shadow-length rule (factor 1, or 2 for the Hanafi school).
type SolarSource struct {
	school int // 0 standard, 1 hanafi
	log    logx.Logger
}

func NewSolarSource(school int, log logx.Logger) *SolarSource {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &SolarSource{school: school, log: log}
}

// FetchDay implements the same contract as the AlAdhan client, without
// network access. ctx is accepted for interface parity; the computation is
// purely local.
func (s *SolarSource) FetchDay(_ context.Context, loc Location, day time.Time) (Day, error) {
	if !loc.HasCoordinates() {
		return Day{}, ErrNoCoordinates
	}
	zone := s.resolveZone(loc)
	lat, lon := *loc.Latitude, *loc.Longitude

	// Anchor at local noon so suncalc resolves events for the right civil day.
	anchor := time.Date(day.Year(), day.Month(), day.Day(), 12, 0, 0, 0, zone)
	times := suncalc.GetTimesWithObserver(anchor, suncalc.Observer{
		Latitude:  lat,
		Longitude: lon,
		Location:  zone,
	})

	fajr := times[suncalc.NightEnd].Value
	noon := times[suncalc.SolarNoon].Value
	sunset := times[suncalc.Sunset].Value
	isha := times[suncalc.Night].Value
	if fajr.IsZero() || noon.IsZero() || sunset.IsZero() || isha.IsZero() {
		return Day{}, ErrPolarDay
	}

	asr, err := s.asrInstant(lat, lon, noon, sunset)
	if err != nil {
		return Day{}, err
	}

	d := Day{
		Location:      locationWithZone(loc, zone),
		HijriDate:     hijriFromGregorian(anchor),
		GregorianDate: time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, zone),
		Prayers: []Info{
			{Name: Fajr, Time: fajr.In(zone).Truncate(time.Minute)},
			{Name: Dhuhr, Time: noon.In(zone).Truncate(time.Minute).Add(time.Minute)},
			{Name: Asr, Time: asr.In(zone).Truncate(time.Minute)},
			{Name: Maghrib, Time: sunset.In(zone).Truncate(time.Minute)},
			{Name: Isha, Time: isha.In(zone).Truncate(time.Minute)},
		},
	}
	if err := d.Validate(); err != nil {
		return Day{}, fmt.Errorf("solar: %w", err)
	}
	s.log.Debug("computed solar prayer day",
		logx.String("location", d.Location.String()),
		logx.String("date", d.GregorianDate.Format("2006-01-02")))
	return d, nil
}

// asrInstant finds the afternoon instant when the shadow of an object equals
// its noon shadow plus `factor` object lengths: cot(h) = factor + cot(h_noon).
// Solar altitude decreases monotonically between noon and sunset, so a
// bisection on time converges quickly.
func (s *SolarSource) asrInstant(lat, lon float64, noon, sunset time.Time) (time.Time, error) {
	factor := 1.0
	if s.school == 1 {
		factor = 2.0
	}

	noonAlt := suncalc.GetPosition(noon, lat, lon).Altitude
	if noonAlt <= 0 {
		return time.Time{}, ErrPolarDay
	}
	target := math.Atan(1.0 / (factor + 1.0/math.Tan(noonAlt)))

	lo, hi := noon, sunset
	for i := 0; i < 48 && hi.Sub(lo) > time.Second; i++ {
		mid := lo.Add(hi.Sub(lo) / 2)
		if suncalc.GetPosition(mid, lat, lon).Altitude > target {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo, nil
}

func (s *SolarSource) resolveZone(loc Location) *time.Location {
	if loc.Timezone == "" {
		return time.UTC
	}
	zone, err := time.LoadLocation(loc.Timezone)
	if err != nil {
		s.log.Warn("unknown timezone; falling back to UTC", logx.String("tz", loc.Timezone))
		return time.UTC
	}
	return zone
}

func locationWithZone(loc Location, zone *time.Location) Location {
	loc.Timezone = zone.String()
	return loc
}

// ---- tabular hijri calendar ----

var hijriMonths = [12]string{
	"Muharram", "Safar", "Rabi al-Awwal", "Rabi al-Thani",
	"Jumada al-Awwal", "Jumada al-Thani", "Rajab", "Shaban",
	"Ramadan", "Shawwal", "Dhu al-Qadah", "Dhu al-Hijjah",
}

// hijriFromGregorian converts a civil date to the tabular Islamic calendar
// (the arithmetic "Kuwaiti" scheme). It can be off by a day or two from
// sighting-based calendars, which is acceptable for a display fallback.
func hijriFromGregorian(t time.Time) string {
	y, m, d := t.Date()

	a := (14 - int(m)) / 12
	gy := y + 4800 - a
	gm := int(m) + 12*a - 3
	jdn := d + (153*gm+2)/5 + 365*gy + gy/4 - gy/100 + gy/400 - 32045

	l := jdn - 1948440 + 10632
	n := (l - 1) / 10631
	l = l - 10631*n + 354
	j := ((10985-l)/5316)*((50*l)/17719) + (l/5670)*((43*l)/15238)
	l = l - ((30-j)/15)*((17719*j)/50) - (j/16)*((15238*j)/43) + 29
	hm := (24 * l) / 709
	hd := l - (709*hm)/24
	hy := 30*n + j - 30

	if hm < 1 || hm > 12 {
		return ""
	}
	return fmt.Sprintf("%d %s %d AH", hd, hijriMonths[hm-1], hy)
}
