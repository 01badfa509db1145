// Package prayer holds the daily prayer value types and the sources that
// produce them.
package prayer

import (
	"fmt"
	"time"
)

// Name identifies one of the five fixed daily prayers.
type Name string

const (
	Fajr    Name = "Fajr"
	Dhuhr   Name = "Dhuhr"
	Asr     Name = "Asr"
	Maghrib Name = "Maghrib"
	Isha    Name = "Isha"
)

// Order is the canonical prayer order for one day.
var Order = [5]Name{Fajr, Dhuhr, Asr, Maghrib, Isha}

// Location describes where prayer times are computed for.
// Values are immutable snapshots; coordinates and timezone are optional.
type Location struct {
	City      string
	Country   string
	Latitude  *float64
	Longitude *float64
	Timezone  string
}

// HasCoordinates reports whether both latitude and longitude are present.
func (l Location) HasCoordinates() bool {
	return l.Latitude != nil && l.Longitude != nil
}

func (l Location) String() string {
	if l.City == "" && l.Country == "" {
		return "<unknown>"
	}
	return l.City + ", " + l.Country
}

// Info pairs one prayer name with its zoned instant.
type Info struct {
	Name Name
	Time time.Time
}

// Day is the resolved set of 5 prayer instants plus calendar metadata for
// one location and date. It is created whole per refresh cycle and never
// mutated in place.
type Day struct {
	Location      Location
	HijriDate     string
	GregorianDate time.Time
	Prayers       []Info
}

// Validate checks the Day invariant: exactly 5 entries in canonical order,
// strictly increasing in time, all sharing one timezone.
func (d *Day) Validate() error {
	if len(d.Prayers) != len(Order) {
		return fmt.Errorf("prayer day has %d entries, want %d", len(d.Prayers), len(Order))
	}
	zone := d.Prayers[0].Time.Location()
	for i, p := range d.Prayers {
		if p.Name != Order[i] {
			return fmt.Errorf("prayer %d is %q, want %q", i, p.Name, Order[i])
		}
		if p.Time.Location() != zone {
			return fmt.Errorf("prayer %s is in zone %s, want %s", p.Name, p.Time.Location(), zone)
		}
		if i > 0 && !d.Prayers[i-1].Time.Before(p.Time) {
			return fmt.Errorf("prayer times not strictly increasing at %s", p.Name)
		}
	}
	return nil
}

// Zone returns the timezone shared by the day's prayer instants.
func (d *Day) Zone() *time.Location {
	if len(d.Prayers) == 0 {
		return time.UTC
	}
	return d.Prayers[0].Time.Location()
}

// NextPrayer returns the first entry with time strictly greater than now.
// A prayer at exactly now counts as passed. ok is false once all five have
// passed.
func (d *Day) NextPrayer(now time.Time) (Info, bool) {
	for _, p := range d.Prayers {
		if p.Time.After(now) {
			return p, true
		}
	}
	return Info{}, false
}
